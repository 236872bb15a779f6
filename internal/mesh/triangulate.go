package mesh

import (
	"github.com/go-gl/mathgl/mgl32"
)

// QuadGap scales a quad fan's half-extent relative to the quad pitch. Values
// just below 0.5 leave a sub-pixel gap between neighbouring fans inside a
// chunk so seam vertices can move without dragging their neighbours along.
const QuadGap = 0.499

// Lattice is the raw vertex/index grid of a chunk before displacement.
type Lattice struct {
	Layout   Layout
	Vertices []mgl32.Vec3
	Indices  []uint32
	// Side is quadsInRow for LayoutQuadSplit and vertices per row for LayoutSkirt.
	Side int
	// SeamQuads lists the quads coarsened for the active seam side.
	SeamQuads []int
}

// Triangulate builds the lattice for p. A non-positive detail (skirt) or
// quad count (quad split) produces an empty lattice.
func Triangulate(p Params) *Lattice {
	if p.Layout == LayoutSkirt {
		return triangulateSkirt(p)
	}
	return triangulateQuads(p)
}

// QuadsInRow returns 2^detail, or 0 for a negative detail.
func QuadsInRow(detail int) int {
	if detail < 0 || detail > 15 {
		return 0
	}
	return 1 << detail
}

// fanRing walks the eight outer vertices of a 3x3 fan counter-clockwise as
// seen from above, so -(b-a)x(c-a) of every fan triangle points up.
// Fan vertices are stored row-major: index = (dz+1)*3 + (dx+1).
var fanRing = [8]uint32{5, 8, 7, 6, 3, 0, 1, 2}

const fanCenter = 4

func triangulateQuads(p Params) *Lattice {
	q := QuadsInRow(p.Detail)
	lattice := &Lattice{Layout: LayoutQuadSplit, Side: q}
	if q <= 0 || p.Size <= 0 {
		return lattice
	}

	lattice.SeamQuads = EdgeQuads(p.Seam, q)
	tagged := make([]bool, q*q)
	for _, quad := range lattice.SeamQuads {
		tagged[quad] = true
	}

	half := p.Size / 2
	minX := p.Center.X() - half
	minZ := p.Center.Z() - half
	halfPitch := p.Size / float32(q) / 2
	inset := p.Size / float32(q) * QuadGap
	y := p.Center.Y()

	lattice.Vertices = make([]mgl32.Vec3, 0, q*q*9)
	lattice.Indices = make([]uint32, 0, q*q*8*3)

	for z := 0; z < q; z++ {
		for x := 0; x < q; x++ {
			quad := q*z + x
			base := uint32(len(lattice.Vertices))

			// Exact lattice coordinates are used on the chunk border so
			// neighbouring chunks meet without a gap; inside the chunk the
			// fan is inset by QuadGap.
			exactX := [3]float32{
				minX + float32(2*x)*halfPitch,
				minX + float32(2*x+1)*halfPitch,
				minX + float32(2*x+2)*halfPitch,
			}
			exactZ := [3]float32{
				minZ + float32(2*z)*halfPitch,
				minZ + float32(2*z+1)*halfPitch,
				minZ + float32(2*z+2)*halfPitch,
			}
			insetX := [3]float32{exactX[1] - inset, exactX[1], exactX[1] + inset}
			insetZ := [3]float32{exactZ[1] - inset, exactZ[1], exactZ[1] + inset}

			for dz := 0; dz < 3; dz++ {
				for dx := 0; dx < 3; dx++ {
					border := (dx == 0 && x == 0) || (dx == 2 && x == q-1) ||
						(dz == 0 && z == 0) || (dz == 2 && z == q-1)
					if border {
						lattice.Vertices = append(lattice.Vertices, mgl32.Vec3{exactX[dx], y, exactZ[dz]})
					} else {
						lattice.Vertices = append(lattice.Vertices, mgl32.Vec3{insetX[dx], y, insetZ[dz]})
					}
				}
			}

			if tagged[quad] {
				coarsenSeamEdge(lattice.Vertices[base:], p.Seam)
			}

			for i := range fanRing {
				lattice.Indices = append(lattice.Indices,
					base+fanCenter,
					base+fanRing[i],
					base+fanRing[(i+1)%len(fanRing)],
				)
			}
		}
	}

	return lattice
}

func triangulateSkirt(p Params) *Lattice {
	lattice := &Lattice{Layout: LayoutSkirt}
	if p.Detail <= 0 {
		return lattice
	}

	w := p.Detail + 3
	lattice.Side = w
	// Twice the half-extent plus one cell on each side for the skirt ring.
	sizeS := p.Size*2 + p.Size*2/float32(p.Detail)*2

	lattice.Vertices = make([]mgl32.Vec3, w*w)
	lattice.Indices = make([]uint32, 0, (w-1)*(w-1)*6)

	vInd := 0
	for z := 0; z < w; z++ {
		for x := 0; x < w; x++ {
			px := float32(x) / float32(w-1)
			pz := float32(z) / float32(w-1)
			lattice.Vertices[vInd] = mgl32.Vec3{
				p.Center.X() + (px-0.5)*sizeS,
				p.Center.Y(),
				p.Center.Z() + (pz-0.5)*sizeS,
			}

			if x < w-1 && z < w-1 {
				v := uint32(vInd)
				row := uint32(w)
				lattice.Indices = append(lattice.Indices,
					v, v+row+1, v+row,
					v, v+1, v+row+1,
				)
			}
			vInd++
		}
	}

	return lattice
}
