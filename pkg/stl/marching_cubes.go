// Package stl extracts isosurfaces from scalar volumes and reads and
// writes binary STL files.
package stl

import (
	"math"
)

// cornerOffsets gives the (x, y, z) offset of cube corner i, where
// i = x + 2y + 4z.
var cornerOffsets = [8][3]int{
	{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {1, 1, 0},
	{0, 0, 1}, {1, 0, 1}, {0, 1, 1}, {1, 1, 1},
}

// cubeTetrahedra splits a cube into six tetrahedra around the 0-7
// diagonal. Neighbouring cubes cut their shared faces along the same
// diagonal, so the surface is closed across cells.
var cubeTetrahedra = [6][4]int{
	{0, 1, 3, 7},
	{0, 3, 2, 7},
	{0, 2, 6, 7},
	{0, 6, 4, 7},
	{0, 4, 5, 7},
	{0, 5, 1, 7},
}

// MarchingCubes extracts the isosurface of a scalar field sampled on a
// regular grid. Each cell is cut into tetrahedra and polygonised
// independently; vertices on shared edges are emitted once.
//
// Values above the iso level are inside. Triangles wind so that their
// normals point from inside to outside.
type MarchingCubes struct {
	data          []float64
	width, height int
	depth         int
	isoLevel      float64
}

// NewMarchingCubes creates a surface extractor for data laid out with x
// varying fastest.
func NewMarchingCubes(data []float64, width, height, depth int, isoLevel float64) *MarchingCubes {
	return &MarchingCubes{
		data:     data,
		width:    width,
		height:   height,
		depth:    depth,
		isoLevel: isoLevel,
	}
}

// Surface is an indexed triangle surface produced by GenerateMesh
type Surface struct {
	Vertices [][3]float64
	Faces    [][3]int
}

// GenerateMesh polygonises the field and returns an indexed surface
func (mc *MarchingCubes) GenerateMesh() *Surface {
	s := &Surface{}
	if mc.width < 2 || mc.height < 2 || mc.depth < 2 || len(mc.data) < mc.width*mc.height*mc.depth {
		return s
	}

	edgeVertex := make(map[[2]int]int)
	vertexOn := func(a, b int) int {
		if a > b {
			a, b = b, a
		}
		key := [2]int{a, b}
		if idx, ok := edgeVertex[key]; ok {
			return idx
		}
		idx := len(s.Vertices)
		s.Vertices = append(s.Vertices, mc.interpolate(a, b))
		edgeVertex[key] = idx
		return idx
	}

	var corner [8]int
	for z := 0; z < mc.depth-1; z++ {
		for y := 0; y < mc.height-1; y++ {
			for x := 0; x < mc.width-1; x++ {
				for i, o := range cornerOffsets {
					corner[i] = mc.index(x+o[0], y+o[1], z+o[2])
				}
				for _, tet := range cubeTetrahedra {
					mc.polygonise(s, [4]int{corner[tet[0]], corner[tet[1]], corner[tet[2]], corner[tet[3]]}, vertexOn)
				}
			}
		}
	}
	return s
}

// polygonise emits the surface of one tetrahedron given by grid indices
func (mc *MarchingCubes) polygonise(s *Surface, tet [4]int, vertexOn func(a, b int) int) {
	var ins, outs []int
	for _, p := range tet {
		if mc.data[p] > mc.isoLevel {
			ins = append(ins, p)
		} else {
			outs = append(outs, p)
		}
	}
	if len(ins) == 0 || len(outs) == 0 {
		return
	}

	dir := mc.outward(ins, outs)
	switch len(ins) {
	case 1:
		mc.emit(s, dir, vertexOn(ins[0], outs[0]), vertexOn(ins[0], outs[1]), vertexOn(ins[0], outs[2]))
	case 3:
		mc.emit(s, dir, vertexOn(ins[0], outs[0]), vertexOn(ins[1], outs[0]), vertexOn(ins[2], outs[0]))
	case 2:
		q0 := vertexOn(ins[0], outs[0])
		q1 := vertexOn(ins[0], outs[1])
		q2 := vertexOn(ins[1], outs[1])
		q3 := vertexOn(ins[1], outs[0])
		mc.emit(s, dir, q0, q1, q2)
		mc.emit(s, dir, q0, q2, q3)
	}
}

// emit appends a triangle, flipping it when its normal opposes dir
func (mc *MarchingCubes) emit(s *Surface, dir [3]float64, a, b, c int) {
	n := faceNormal(s.Vertices[a], s.Vertices[b], s.Vertices[c])
	if n[0]*dir[0]+n[1]*dir[1]+n[2]*dir[2] < 0 {
		b, c = c, b
	}
	s.Faces = append(s.Faces, [3]int{a, b, c})
}

// outward is the direction from the inside corners towards the outside
// corners of a tetrahedron
func (mc *MarchingCubes) outward(ins, outs []int) [3]float64 {
	ci := mc.centroid(ins)
	co := mc.centroid(outs)
	return [3]float64{co[0] - ci[0], co[1] - ci[1], co[2] - ci[2]}
}

func (mc *MarchingCubes) centroid(points []int) [3]float64 {
	var c [3]float64
	for _, p := range points {
		pos := mc.position(p)
		c[0] += pos[0]
		c[1] += pos[1]
		c[2] += pos[2]
	}
	n := float64(len(points))
	return [3]float64{c[0] / n, c[1] / n, c[2] / n}
}

// interpolate finds the iso crossing between grid points a and b.
// Callers pass a < b so both cells sharing an edge compute identical
// positions.
func (mc *MarchingCubes) interpolate(a, b int) [3]float64 {
	pa, pb := mc.position(a), mc.position(b)
	va, vb := mc.data[a], mc.data[b]
	t := 0.5
	if d := vb - va; math.Abs(d) > 1e-12 {
		t = (mc.isoLevel - va) / d
	}
	return [3]float64{
		pa[0] + t*(pb[0]-pa[0]),
		pa[1] + t*(pb[1]-pa[1]),
		pa[2] + t*(pb[2]-pa[2]),
	}
}

// position returns the grid coordinates of an index
func (mc *MarchingCubes) position(idx int) [3]float64 {
	plane := mc.width * mc.height
	z := idx / plane
	y := (idx % plane) / mc.width
	x := idx % mc.width
	return [3]float64{float64(x), float64(y), float64(z)}
}

func (mc *MarchingCubes) index(x, y, z int) int {
	return z*mc.width*mc.height + y*mc.width + x
}

func faceNormal(a, b, c [3]float64) [3]float64 {
	u := [3]float64{b[0] - a[0], b[1] - a[1], b[2] - a[2]}
	v := [3]float64{c[0] - a[0], c[1] - a[1], c[2] - a[2]}
	return [3]float64{
		u[1]*v[2] - u[2]*v[1],
		u[2]*v[0] - u[0]*v[2],
		u[0]*v[1] - u[1]*v[0],
	}
}
