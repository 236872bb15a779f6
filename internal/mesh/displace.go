package mesh

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/earthring/terrain/internal/noise"
)

// DefaultAmplitude scales noise samples into world height.
const DefaultAmplitude = 80.0

// Displacement writes noise heights into lattice vertices.
type Displacement struct {
	Field     noise.Field
	Amplitude float64
	// Offset is added to both world coordinates before sampling so chunks in
	// different rings read disjoint regions of the field.
	Offset float64
}

// Apply sets y = noise(x+offset, z+offset) * amplitude on every vertex.
func (d Displacement) Apply(vertices []mgl32.Vec3) {
	if d.Field == nil {
		return
	}
	for i := range vertices {
		x := float64(vertices[i][0]) + d.Offset
		z := float64(vertices[i][2]) + d.Offset
		vertices[i][1] = float32(d.Field.Sample(x, z) * d.Amplitude)
	}
}
