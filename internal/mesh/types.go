package mesh

import (
	"fmt"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
)

// SeamSide identifies the single chunk edge that must blend with a
// neighbour of different detail. TOP is the min-z edge, BOTTOM the max-z
// edge, LEFT the min-x edge and RIGHT the max-x edge. The zero value is
// SeamNone.
type SeamSide int

const (
	SeamNone SeamSide = iota
	SeamTop
	SeamRight
	SeamBottom
	SeamLeft
)

func (s SeamSide) String() string {
	switch s {
	case SeamTop:
		return "top"
	case SeamRight:
		return "right"
	case SeamBottom:
		return "bottom"
	case SeamLeft:
		return "left"
	case SeamNone:
		return "none"
	default:
		return fmt.Sprintf("seam(%d)", int(s))
	}
}

// ParseSeamSide parses the names produced by SeamSide.String. An empty
// string is SeamNone.
func ParseSeamSide(name string) (SeamSide, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "top":
		return SeamTop, nil
	case "right":
		return SeamRight, nil
	case "bottom":
		return SeamBottom, nil
	case "left":
		return SeamLeft, nil
	case "none", "":
		return SeamNone, nil
	default:
		return SeamNone, fmt.Errorf("unknown seam side %q", name)
	}
}

// Layout selects the lattice a chunk is triangulated with.
type Layout int

const (
	// LayoutQuadSplit expands every quad into its own 9 vertex fan.
	LayoutQuadSplit Layout = iota
	// LayoutSkirt shares one grid across the chunk plus an outer skirt ring.
	LayoutSkirt
)

func (l Layout) String() string {
	switch l {
	case LayoutQuadSplit:
		return "quad_split"
	case LayoutSkirt:
		return "skirt"
	default:
		return fmt.Sprintf("layout(%d)", int(l))
	}
}

// ParseLayout parses the names produced by Layout.String.
func ParseLayout(name string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "quad_split", "quad", "":
		return LayoutQuadSplit, nil
	case "skirt":
		return LayoutSkirt, nil
	default:
		return LayoutQuadSplit, fmt.Errorf("unknown layout %q", name)
	}
}

// Params identifies one generation pass of a chunk.
type Params struct {
	Center mgl32.Vec3
	// Size is the chunk edge length for LayoutQuadSplit and the
	// center-to-edge distance for LayoutSkirt.
	Size   float32
	Detail int
	Seam   SeamSide
	Layout Layout
}

// Result is a finished mesh ready for a render/collision sink. It is never
// modified after Build returns it.
type Result struct {
	Vertices []mgl32.Vec3
	Normals  []mgl32.Vec3
	Indices  []uint32
}

// Empty reports whether the result carries no geometry.
func (r *Result) Empty() bool {
	return r == nil || len(r.Vertices) == 0
}

// TriangleCount returns the number of triangles in the index buffer.
func (r *Result) TriangleCount() int {
	if r == nil {
		return 0
	}
	return len(r.Indices) / 3
}

// Validate checks the buffer invariants.
func (r *Result) Validate() error {
	if r == nil {
		return fmt.Errorf("result is nil")
	}
	if len(r.Indices)%3 != 0 {
		return fmt.Errorf("index count %d is not a multiple of 3", len(r.Indices))
	}
	if len(r.Normals) != len(r.Vertices) {
		return fmt.Errorf("normal count %d does not match vertex count %d", len(r.Normals), len(r.Vertices))
	}
	for i, idx := range r.Indices {
		if int(idx) >= len(r.Vertices) {
			return fmt.Errorf("index %d at position %d out of range (%d vertices)", idx, i, len(r.Vertices))
		}
	}
	return nil
}

// Faces expands the index buffer into one position per triangle corner, the
// layout a concave collision shape consumes.
func (r *Result) Faces() []mgl32.Vec3 {
	if r == nil {
		return nil
	}
	faces := make([]mgl32.Vec3, len(r.Indices))
	for i, idx := range r.Indices {
		faces[i] = r.Vertices[idx]
	}
	return faces
}
