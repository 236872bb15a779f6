package mesh

import (
	"github.com/go-gl/mathgl/mgl32"
)

// EdgeQuads returns the ordered quad indices along the given seam side of a
// quadsInRow x quadsInRow chunk. SeamNone yields no quads.
func EdgeQuads(seam SeamSide, quadsInRow int) []int {
	if quadsInRow <= 0 {
		return nil
	}

	var start, end, step int
	switch seam {
	case SeamTop:
		start, end, step = 0, quadsInRow, 1
	case SeamRight:
		start, end, step = quadsInRow-1, quadsInRow*quadsInRow, quadsInRow
	case SeamBottom:
		start, end, step = quadsInRow*quadsInRow-quadsInRow, quadsInRow*quadsInRow, 1
	case SeamLeft:
		// Column 0 down to and including the bottom-left quad.
		start, end, step = 0, quadsInRow*quadsInRow-quadsInRow+1, quadsInRow
	default:
		return nil
	}

	quads := make([]int, 0, quadsInRow)
	for i := start; i < end; i += step {
		quads = append(quads, i)
	}
	return quads
}

// seamWeld maps a seam side to the fan vertex sitting in the middle of that
// edge and the corner it collapses onto.
var seamWeld = map[SeamSide]struct{ mid, corner int }{
	SeamTop:    {mid: 1, corner: 0},
	SeamRight:  {mid: 5, corner: 2},
	SeamBottom: {mid: 7, corner: 6},
	SeamLeft:   {mid: 3, corner: 0},
}

// coarsenSeamEdge collapses the seam edge midpoint of a 3x3 fan onto its
// corner so the edge only presents its two corners, matching a neighbour one
// detail level coarser. Vertex and index counts are unchanged; the fan
// triangle between the corner and the midpoint becomes degenerate.
func coarsenSeamEdge(fan []mgl32.Vec3, seam SeamSide) {
	weld, ok := seamWeld[seam]
	if !ok || len(fan) < 9 {
		return
	}
	fan[weld.mid] = fan[weld.corner]
}

// SkirtDrop is the vertical distance the skirt ring is lowered by.
func SkirtDrop(size float32, detail int) float32 {
	if detail <= 0 {
		return 0
	}
	return size / float32(detail)
}

// LowerSkirts drops every vertex of the outer ring of a skirt lattice by
// drop. The first pass strides a full row at a time and hits column 0 and the
// last column of every row; the second pass covers the rest of row 0 and the
// last row. Each ring vertex is lowered exactly once.
func LowerSkirts(vertices []mgl32.Vec3, detail int, drop float32) {
	if detail <= 0 {
		return
	}
	w := detail + 3
	if len(vertices) < w*w {
		return
	}

	for i := 0; i < w*w; i += w {
		vertices[i][1] -= drop
		vertices[i+w-1][1] -= drop
	}
	for i := 1; i < w-1; i++ {
		vertices[i][1] -= drop
		vertices[i+w*(w-1)][1] -= drop
	}
}

// IsSkirtVertex reports whether vertex index i lies on the outer ring of a
// skirt lattice with the given detail.
func IsSkirtVertex(i, detail int) bool {
	w := detail + 3
	x, z := i%w, i/w
	return x == 0 || z == 0 || x == w-1 || z == w-1
}
