package mesh

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/earthring/terrain/internal/noise"
	"github.com/earthring/terrain/internal/performance"
)

// Options carries the inputs of a build that are not part of the chunk identity.
type Options struct {
	Field     noise.Field
	Amplitude float64
	Offset    float64
	Profiler  *performance.Profiler
}

// Build runs the full pipeline for one chunk: triangulate (with seam quads
// for the quad split layout), displace, compute normals and, for the skirt
// layout, lower the skirt ring. It touches only its own buffers and is safe
// to call from any goroutine. Identical inputs give bit-identical results.
func Build(p Params, opts Options) *Result {
	build := opts.Profiler.Start(performance.StageBuild)
	defer build.End()

	var lattice *Lattice
	opts.Profiler.Time(performance.StageTriangulate, func() {
		lattice = Triangulate(p)
	})
	if len(lattice.Vertices) == 0 {
		return &Result{}
	}

	opts.Profiler.Time(performance.StageDisplace, func() {
		Displacement{
			Field:     opts.Field,
			Amplitude: opts.Amplitude,
			Offset:    opts.Offset,
		}.Apply(lattice.Vertices)
	})

	var normals []mgl32.Vec3
	opts.Profiler.Time(performance.StageNormals, func() {
		normals = ComputeNormals(lattice.Vertices, lattice.Indices)
	})

	// Skirts hang below an already displaced and shaded surface.
	if p.Layout == LayoutSkirt {
		opts.Profiler.Time(performance.StageSkirts, func() {
			LowerSkirts(lattice.Vertices, p.Detail, SkirtDrop(p.Size, p.Detail))
		})
	}

	return &Result{
		Vertices: lattice.Vertices,
		Normals:  normals,
		Indices:  lattice.Indices,
	}
}
