package compression

import (
	"encoding/base64"
	"fmt"

	"github.com/earthring/terrain/internal/mesh"
)

// FormatBinaryGzip names the CHNK binary + gzip encoding.
const FormatBinaryGzip = "binary_gzip"

// CompressedGeometry represents compressed mesh data ready for transmission
type CompressedGeometry struct {
	Format           string `json:"format"`            // "binary_gzip"
	Data             string `json:"data"`              // Base64-encoded compressed data
	Size             int    `json:"size"`              // Compressed size in bytes
	UncompressedSize int    `json:"uncompressed_size"` // Uncompressed size in bytes (for progress tracking)
}

// FormatCompressedGeometry formats compressed mesh data for JSON transmission
func FormatCompressedGeometry(compressedData []byte, uncompressedSize int) (*CompressedGeometry, error) {
	if len(compressedData) == 0 {
		return nil, fmt.Errorf("compressed data is empty")
	}

	return &CompressedGeometry{
		Format:           FormatBinaryGzip,
		Data:             base64.StdEncoding.EncodeToString(compressedData),
		Size:             len(compressedData),
		UncompressedSize: uncompressedSize,
	}, nil
}

// CompressAndFormatMesh compresses a mesh and formats it for transmission.
func CompressAndFormatMesh(result *mesh.Result) (*CompressedGeometry, error) {
	compressed, err := CompressMesh(result)
	if err != nil {
		return nil, err
	}
	return FormatCompressedGeometry(compressed, EstimateUncompressedSize(result))
}

// ParseCompressedGeometry decodes a transmitted payload back into a mesh.
func ParseCompressedGeometry(geometry *CompressedGeometry) (*mesh.Result, error) {
	if geometry == nil {
		return nil, fmt.Errorf("geometry is nil")
	}
	if geometry.Format != FormatBinaryGzip {
		return nil, fmt.Errorf("unsupported geometry format %q", geometry.Format)
	}

	data, err := base64.StdEncoding.DecodeString(geometry.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}
	return DecompressMesh(data)
}

// EstimateUncompressedSize returns the size of the mesh buffers as float32
// positions and normals plus uint32 indices.
func EstimateUncompressedSize(result *mesh.Result) int {
	if result == nil {
		return 0
	}

	vertexSize := len(result.Vertices) * 3 * 4
	normalSize := len(result.Normals) * 3 * 4
	indexSize := len(result.Indices) * 4

	return vertexSize + normalSize + indexSize
}
