package compression

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/earthring/terrain/internal/mesh"
)

const (
	// Magic number for chunk mesh format
	GeometryMagic = "CHNK"
	// Current format version
	GeometryVersion = 2
	// Gzip compression level (balance between size and speed)
	DefaultGzipLevel = 6
)

// Quantization precision (in world units)
const (
	QuantizationX = 0.01  // 1cm horizontal precision
	QuantizationY = 0.001 // 1mm height precision
	QuantizationZ = 0.01  // 1cm horizontal precision

	// Normal components are stored as int8 in [-127, 127].
	normalScale = 127
)

// Format flags
const (
	flag32BitIndices = 0x01
	flagNormals      = 0x02
)

var (
	ErrInvalidMagic       = errors.New("invalid geometry magic")
	ErrUnsupportedVersion = errors.New("unsupported geometry version")
)

// GeometryHeader represents the binary format header
type GeometryHeader struct {
	Magic       [4]byte // "CHNK"
	Version     uint8
	FormatFlags uint8 // Bit 0 = 32-bit indices, bit 1 = normals present
	VertexCount uint32
	IndexCount  uint32
	BaseX       int64 // Quantized X of the first vertex; vertex X values are relative to it
	BaseZ       int64 // Quantized Z of the first vertex; vertex Z values are relative to it
}

// QuantizedVertex represents a quantized vertex
type QuantizedVertex struct {
	X, Y, Z int32
}

// CompressMesh encodes a mesh into the CHNK binary format and gzips it.
func CompressMesh(result *mesh.Result) ([]byte, error) {
	if result == nil {
		return nil, fmt.Errorf("mesh is nil")
	}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mesh: %w", err)
	}

	binaryData, err := encodeToBinary(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode to binary: %w", err)
	}

	compressed, err := gzipCompress(binaryData, DefaultGzipLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to compress with gzip: %w", err)
	}

	return compressed, nil
}

// DecompressMesh reverses CompressMesh. Positions come back within half a
// quantization step, normals renormalized.
func DecompressMesh(data []byte) (*mesh.Result, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}

	return decodeFromBinary(raw)
}

func quantize(v, step float64) int32 {
	return int32(math.Round(v / step))
}

// quantizeVertices quantizes positions relative to (baseX, baseZ) so chunks
// far from the origin do not overflow int32.
func quantizeVertices(vertices []mgl32.Vec3, baseX, baseZ int64) []QuantizedVertex {
	quantized := make([]QuantizedVertex, len(vertices))
	for i, v := range vertices {
		quantized[i] = QuantizedVertex{
			X: int32(int64(math.Round(float64(v[0])/QuantizationX)) - baseX),
			Y: quantize(float64(v[1]), QuantizationY),
			Z: int32(int64(math.Round(float64(v[2])/QuantizationZ)) - baseZ),
		}
	}
	return quantized
}

func quantizeNormal(n mgl32.Vec3) [3]int8 {
	var q [3]int8
	for i := range q {
		c := math.Max(-1, math.Min(1, float64(n[i])))
		q[i] = int8(math.Round(c * normalScale))
	}
	return q
}

// encodeToBinary writes the header, vertices, normals and indices.
func encodeToBinary(result *mesh.Result) ([]byte, error) {
	var buf bytes.Buffer

	var baseX, baseZ int64
	if len(result.Vertices) > 0 {
		baseX = int64(math.Round(float64(result.Vertices[0][0]) / QuantizationX))
		baseZ = int64(math.Round(float64(result.Vertices[0][2]) / QuantizationZ))
	}

	header := GeometryHeader{
		Version:     GeometryVersion,
		VertexCount: uint32(len(result.Vertices)),
		IndexCount:  uint32(len(result.Indices)),
		BaseX:       baseX,
		BaseZ:       baseZ,
	}
	copy(header.Magic[:], GeometryMagic)

	// 16-bit indices address up to 65535 vertices
	use32BitIndices := len(result.Vertices) > math.MaxUint16
	if use32BitIndices {
		header.FormatFlags |= flag32BitIndices
	}
	if len(result.Normals) > 0 {
		header.FormatFlags |= flagNormals
	}

	if err := binary.Write(&buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	if err := binary.Write(&buf, binary.LittleEndian, quantizeVertices(result.Vertices, baseX, baseZ)); err != nil {
		return nil, fmt.Errorf("failed to write vertices: %w", err)
	}

	if len(result.Normals) > 0 {
		normals := make([][3]int8, len(result.Normals))
		for i, n := range result.Normals {
			normals[i] = quantizeNormal(n)
		}
		if err := binary.Write(&buf, binary.LittleEndian, normals); err != nil {
			return nil, fmt.Errorf("failed to write normals: %w", err)
		}
	}

	if use32BitIndices {
		if err := binary.Write(&buf, binary.LittleEndian, result.Indices); err != nil {
			return nil, fmt.Errorf("failed to write 32-bit indices: %w", err)
		}
	} else {
		indices := make([]uint16, len(result.Indices))
		for i, idx := range result.Indices {
			indices[i] = uint16(idx)
		}
		if err := binary.Write(&buf, binary.LittleEndian, indices); err != nil {
			return nil, fmt.Errorf("failed to write 16-bit indices: %w", err)
		}
	}

	return buf.Bytes(), nil
}

func decodeFromBinary(data []byte) (*mesh.Result, error) {
	r := bytes.NewReader(data)

	var header GeometryHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if string(header.Magic[:]) != GeometryMagic {
		return nil, ErrInvalidMagic
	}
	if header.Version != GeometryVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, header.Version)
	}

	// Reject counts the payload cannot hold before allocating for them.
	if int64(header.VertexCount)*12 > int64(r.Len()) {
		return nil, fmt.Errorf("vertex count %d exceeds payload", header.VertexCount)
	}

	quantized := make([]QuantizedVertex, header.VertexCount)
	if err := binary.Read(r, binary.LittleEndian, quantized); err != nil {
		return nil, fmt.Errorf("failed to read vertices: %w", err)
	}

	result := &mesh.Result{
		Vertices: make([]mgl32.Vec3, len(quantized)),
	}
	for i, q := range quantized {
		result.Vertices[i] = mgl32.Vec3{
			float32(float64(header.BaseX+int64(q.X)) * QuantizationX),
			float32(float64(q.Y) * QuantizationY),
			float32(float64(header.BaseZ+int64(q.Z)) * QuantizationZ),
		}
	}

	if header.FormatFlags&flagNormals != 0 {
		normals := make([][3]int8, header.VertexCount)
		if err := binary.Read(r, binary.LittleEndian, normals); err != nil {
			return nil, fmt.Errorf("failed to read normals: %w", err)
		}
		result.Normals = make([]mgl32.Vec3, len(normals))
		for i, n := range normals {
			v := mgl32.Vec3{float32(n[0]), float32(n[1]), float32(n[2])}
			if v.Len() == 0 {
				result.Normals[i] = mesh.Up
				continue
			}
			result.Normals[i] = v.Normalize()
		}
	}

	indexSize := int64(2)
	if header.FormatFlags&flag32BitIndices != 0 {
		indexSize = 4
	}
	if int64(header.IndexCount)*indexSize > int64(r.Len()) {
		return nil, fmt.Errorf("index count %d exceeds payload", header.IndexCount)
	}

	if indexSize == 4 {
		result.Indices = make([]uint32, header.IndexCount)
		if err := binary.Read(r, binary.LittleEndian, result.Indices); err != nil {
			return nil, fmt.Errorf("failed to read 32-bit indices: %w", err)
		}
	} else {
		indices := make([]uint16, header.IndexCount)
		if err := binary.Read(r, binary.LittleEndian, indices); err != nil {
			return nil, fmt.Errorf("failed to read 16-bit indices: %w", err)
		}
		result.Indices = make([]uint32, len(indices))
		for i, idx := range indices {
			result.Indices[i] = uint32(idx)
		}
	}

	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("decoded mesh is invalid: %w", err)
	}
	return result, nil
}

// gzipCompress compresses data using gzip
func gzipCompress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer

	writer, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write to gzip: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}

	return buf.Bytes(), nil
}
