package compression

import (
	"bytes"
	"compress/gzip"
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/earthring/terrain/internal/mesh"
	"github.com/earthring/terrain/internal/noise"
)

func testMesh(t *testing.T, layout mesh.Layout, detail int, center mgl32.Vec3) *mesh.Result {
	t.Helper()
	return mesh.Build(mesh.Params{
		Center: center,
		Size:   100,
		Detail: detail,
		Seam:   mesh.SeamNone,
		Layout: layout,
	}, mesh.Options{
		Field:     noise.NewPerlin(noise.DefaultConfig()),
		Amplitude: mesh.DefaultAmplitude,
	})
}

func TestCompressMeshRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		layout mesh.Layout
		detail int
		center mgl32.Vec3
	}{
		{"quad split at origin", mesh.LayoutQuadSplit, 3, mgl32.Vec3{}},
		{"quad split far away", mesh.LayoutQuadSplit, 2, mgl32.Vec3{2_000_000, 0, -1_500_000}},
		{"skirt", mesh.LayoutSkirt, 16, mgl32.Vec3{-300, 0, 700}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := testMesh(t, tt.layout, tt.detail, tt.center)

			compressed, err := CompressMesh(original)
			if err != nil {
				t.Fatalf("CompressMesh failed: %v", err)
			}
			if len(compressed) == 0 {
				t.Fatal("Compressed data is empty")
			}

			decoded, err := DecompressMesh(compressed)
			if err != nil {
				t.Fatalf("DecompressMesh failed: %v", err)
			}

			if len(decoded.Vertices) != len(original.Vertices) {
				t.Fatalf("Expected %d vertices, got %d", len(original.Vertices), len(decoded.Vertices))
			}
			for i := range original.Indices {
				if decoded.Indices[i] != original.Indices[i] {
					t.Fatalf("Index %d: expected %d, got %d", i, original.Indices[i], decoded.Indices[i])
				}
			}

			// Far-away float32 positions are only exact to a fraction of a unit.
			tolerance := 0.01
			if tt.center.Len() > 1e5 {
				tolerance = 0.25
			}
			for i, v := range original.Vertices {
				d := decoded.Vertices[i]
				for axis := 0; axis < 3; axis++ {
					if diff := math.Abs(float64(v[axis] - d[axis])); diff > tolerance {
						t.Fatalf("Vertex %d axis %d: expected %f, got %f", i, axis, v[axis], d[axis])
					}
				}
			}
			for i, n := range original.Normals {
				if n.Dot(decoded.Normals[i]) < 0.99 {
					t.Fatalf("Normal %d: expected %v, got %v", i, n, decoded.Normals[i])
				}
			}
		})
	}
}

func TestCompressMeshUses32BitIndices(t *testing.T) {
	// 9 * 4^7 vertices do not fit 16-bit indices.
	original := testMesh(t, mesh.LayoutQuadSplit, 7, mgl32.Vec3{})

	binaryData, err := encodeToBinary(original)
	if err != nil {
		t.Fatalf("encodeToBinary failed: %v", err)
	}
	if binaryData[5]&flag32BitIndices == 0 {
		t.Error("Expected 32-bit index flag")
	}

	compressed, err := CompressMesh(original)
	if err != nil {
		t.Fatalf("CompressMesh failed: %v", err)
	}
	decoded, err := DecompressMesh(compressed)
	if err != nil {
		t.Fatalf("DecompressMesh failed: %v", err)
	}
	last := len(original.Indices) - 1
	if decoded.Indices[last] != original.Indices[last] {
		t.Errorf("Expected last index %d, got %d", original.Indices[last], decoded.Indices[last])
	}
}

func TestCompressMeshEmpty(t *testing.T) {
	compressed, err := CompressMesh(&mesh.Result{})
	if err != nil {
		t.Fatalf("CompressMesh failed: %v", err)
	}
	decoded, err := DecompressMesh(compressed)
	if err != nil {
		t.Fatalf("DecompressMesh failed: %v", err)
	}
	if !decoded.Empty() {
		t.Error("Expected empty mesh")
	}
}

func TestCompressMeshErrors(t *testing.T) {
	if _, err := CompressMesh(nil); err == nil {
		t.Error("Expected error for nil mesh")
	}

	invalid := &mesh.Result{
		Vertices: []mgl32.Vec3{{}, {}, {}},
		Normals:  []mgl32.Vec3{mesh.Up, mesh.Up, mesh.Up},
		Indices:  []uint32{0, 1, 7},
	}
	if _, err := CompressMesh(invalid); err == nil {
		t.Error("Expected error for out of range index")
	}
}

func TestDecompressMeshErrors(t *testing.T) {
	gz := func(data []byte) []byte {
		compressed, err := gzipCompress(data, DefaultGzipLevel)
		if err != nil {
			t.Fatalf("gzipCompress failed: %v", err)
		}
		return compressed
	}

	if _, err := DecompressMesh([]byte("not gzip")); err == nil {
		t.Error("Expected error for non-gzip data")
	}

	if _, err := DecompressMesh(gz([]byte("XXXX\x02\x00"))); err == nil {
		t.Error("Expected error for truncated header")
	}

	bad := bytes.Repeat([]byte{0}, 30)
	copy(bad, "MESH")
	if _, err := DecompressMesh(gz(bad)); !errors.Is(err, ErrInvalidMagic) {
		t.Errorf("Expected ErrInvalidMagic, got %v", err)
	}

	old := bytes.Repeat([]byte{0}, 30)
	copy(old, GeometryMagic)
	old[4] = 1
	if _, err := DecompressMesh(gz(old)); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("Expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestDecompressMeshRejectsOversizedCounts(t *testing.T) {
	raw, err := encodeToBinary(testMesh(t, mesh.LayoutQuadSplit, 1, mgl32.Vec3{}))
	if err != nil {
		t.Fatalf("encodeToBinary failed: %v", err)
	}
	// VertexCount lives at bytes 6..9.
	raw[6], raw[7], raw[8], raw[9] = 0xff, 0xff, 0xff, 0x0f

	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	w.Write(raw)
	w.Close()

	if _, err := DecompressMesh(buf.Bytes()); err == nil {
		t.Error("Expected error for vertex count larger than payload")
	}
}

func TestQuantizeVertices(t *testing.T) {
	vertices := []mgl32.Vec3{
		{100.125, 20.456, 300.785},
		{1000, 40, 0},
	}
	baseX := int64(math.Round(float64(vertices[0][0]) / QuantizationX))
	baseZ := int64(math.Round(float64(vertices[0][2]) / QuantizationZ))

	quantized := quantizeVertices(vertices, baseX, baseZ)
	if len(quantized) != len(vertices) {
		t.Fatalf("Expected %d quantized vertices, got %d", len(vertices), len(quantized))
	}

	if quantized[0].X != 0 || quantized[0].Z != 0 {
		t.Errorf("Expected first vertex at the base, got %+v", quantized[0])
	}
	if quantized[0].Y != 20456 {
		t.Errorf("Expected Y=20456, got %d", quantized[0].Y)
	}
	if want := int32(100000 - baseX); quantized[1].X != want {
		t.Errorf("Expected X=%d, got %d", want, quantized[1].X)
	}
}

func TestQuantizeNormal(t *testing.T) {
	tests := []struct {
		in   mgl32.Vec3
		want [3]int8
	}{
		{mgl32.Vec3{0, 1, 0}, [3]int8{0, 127, 0}},
		{mgl32.Vec3{0, -1, 0}, [3]int8{0, -127, 0}},
		{mgl32.Vec3{0.5, 0, -0.5}, [3]int8{64, 0, -64}},
		{mgl32.Vec3{2, 0, 0}, [3]int8{127, 0, 0}},
	}

	for _, tt := range tests {
		if got := quantizeNormal(tt.in); got != tt.want {
			t.Errorf("quantizeNormal(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
