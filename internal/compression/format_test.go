package compression

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/earthring/terrain/internal/mesh"
)

func quadMesh() *mesh.Result {
	return &mesh.Result{
		Vertices: []mgl32.Vec3{
			{0, 0, 0},
			{100, 0, 0},
			{100, 0, 100},
			{0, 0, 100},
		},
		Normals: []mgl32.Vec3{mesh.Up, mesh.Up, mesh.Up, mesh.Up},
		Indices: []uint32{0, 2, 1, 0, 3, 2},
	}
}

func TestFormatCompressedGeometry(t *testing.T) {
	compressedData := []byte{1, 2, 3, 4, 5}
	uncompressedSize := 100

	formatted, err := FormatCompressedGeometry(compressedData, uncompressedSize)
	if err != nil {
		t.Fatalf("FormatCompressedGeometry failed: %v", err)
	}

	if formatted.Format != "binary_gzip" {
		t.Errorf("Expected format 'binary_gzip', got '%s'", formatted.Format)
	}

	if formatted.Size != len(compressedData) {
		t.Errorf("Expected size %d, got %d", len(compressedData), formatted.Size)
	}

	if formatted.UncompressedSize != uncompressedSize {
		t.Errorf("Expected uncompressed size %d, got %d", uncompressedSize, formatted.UncompressedSize)
	}

	if formatted.Data != "AQIDBAU=" {
		t.Errorf("Unexpected base64 data %q", formatted.Data)
	}
}

func TestFormatCompressedGeometry_Empty(t *testing.T) {
	if _, err := FormatCompressedGeometry(nil, 0); err == nil {
		t.Fatal("Expected error for empty data")
	}
}

func TestEstimateUncompressedSize(t *testing.T) {
	// 4 vertices + 4 normals * 12 bytes + 6 indices * 4 bytes
	if size := EstimateUncompressedSize(quadMesh()); size != 120 {
		t.Errorf("Expected 120 bytes, got %d", size)
	}
}

func TestEstimateUncompressedSize_Nil(t *testing.T) {
	size := EstimateUncompressedSize(nil)
	if size != 0 {
		t.Errorf("Expected size 0 for nil mesh, got %d", size)
	}
}

func TestCompressAndFormatRoundTrip(t *testing.T) {
	original := quadMesh()

	formatted, err := CompressAndFormatMesh(original)
	if err != nil {
		t.Fatalf("CompressAndFormatMesh failed: %v", err)
	}

	compressionRatio := float64(formatted.UncompressedSize) / float64(formatted.Size)
	t.Logf("Compression ratio: %.2f:1 (uncompressed: %d bytes, compressed: %d bytes)",
		compressionRatio, formatted.UncompressedSize, formatted.Size)

	decoded, err := ParseCompressedGeometry(formatted)
	if err != nil {
		t.Fatalf("ParseCompressedGeometry failed: %v", err)
	}
	for i, v := range original.Vertices {
		if !decoded.Vertices[i].ApproxEqualThreshold(v, 0.01) {
			t.Errorf("Vertex %d: expected %v, got %v", i, v, decoded.Vertices[i])
		}
	}
	if len(decoded.Indices) != len(original.Indices) {
		t.Errorf("Expected %d indices, got %d", len(original.Indices), len(decoded.Indices))
	}
}

func TestParseCompressedGeometryErrors(t *testing.T) {
	tests := []struct {
		name     string
		geometry *CompressedGeometry
	}{
		{"nil", nil},
		{"wrong format", &CompressedGeometry{Format: "json", Data: "AQID"}},
		{"bad base64", &CompressedGeometry{Format: FormatBinaryGzip, Data: "!!!"}},
		{"not gzip", &CompressedGeometry{Format: FormatBinaryGzip, Data: "AQIDBAU="}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCompressedGeometry(tt.geometry); err == nil {
				t.Error("Expected error")
			}
		})
	}
}
