package mesh

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Up is the normal assigned to vertices whose accumulated normal has zero
// length, such as vertices only touched by degenerate triangles.
var Up = mgl32.Vec3{0, 1, 0}

// Below this length 1/len overflows float32 and normalizing yields NaN.
const minNormalLength = 1e-20

// ComputeNormals returns smooth per-vertex normals. Each triangle adds its
// face normal -(b-a)x(c-a) to its three vertices; the sums are normalized at
// the end. Degenerate triangles add a zero vector.
func ComputeNormals(vertices []mgl32.Vec3, indices []uint32) []mgl32.Vec3 {
	normals := make([]mgl32.Vec3, len(vertices))

	for i := 0; i+2 < len(indices); i += 3 {
		i1, i2, i3 := indices[i], indices[i+1], indices[i+2]
		a, b, c := vertices[i1], vertices[i2], vertices[i3]

		norm := b.Sub(a).Cross(c.Sub(a)).Mul(-1)
		normals[i1] = normals[i1].Add(norm)
		normals[i2] = normals[i2].Add(norm)
		normals[i3] = normals[i3].Add(norm)
	}

	for i, n := range normals {
		if n.Len() < minNormalLength {
			normals[i] = Up
			continue
		}
		normals[i] = n.Normalize()
	}
	return normals
}
