// Package mesh holds the indexed triangle surface produced for each label
// and the filter chain applied to it before export.
package mesh

import (
	"errors"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"dicom2glb/pkg/stl"
)

// ErrEmptyMesh is returned by filters that would leave no triangles
var ErrEmptyMesh = errors.New("mesh has no triangles")

// Mesh is an indexed triangle surface
type Mesh struct {
	Vertices []r3.Vec
	Faces    [][3]int
	// Normals holds one unit normal per vertex once ComputeNormals has run
	Normals []r3.Vec
}

// FromSurface converts a marching cubes surface
func FromSurface(s *stl.Surface) *Mesh {
	m := &Mesh{
		Vertices: make([]r3.Vec, len(s.Vertices)),
		Faces:    make([][3]int, len(s.Faces)),
	}
	for i, v := range s.Vertices {
		m.Vertices[i] = r3.Vec{X: v[0], Y: v[1], Z: v[2]}
	}
	copy(m.Faces, s.Faces)
	return m
}

// Empty reports whether the mesh has no faces
func (m *Mesh) Empty() bool {
	return len(m.Faces) == 0
}

// Clone returns a deep copy
func (m *Mesh) Clone() *Mesh {
	c := &Mesh{
		Vertices: append([]r3.Vec(nil), m.Vertices...),
		Faces:    append([][3]int(nil), m.Faces...),
	}
	if m.Normals != nil {
		c.Normals = append([]r3.Vec(nil), m.Normals...)
	}
	return c
}

// Transform applies a 4x4 homogeneous transform to every vertex.
// Normals are dropped and must be recomputed.
func (m *Mesh) Transform(t mat.Matrix) {
	p := mat.NewVecDense(4, nil)
	var q mat.VecDense
	for i, v := range m.Vertices {
		p.SetVec(0, v.X)
		p.SetVec(1, v.Y)
		p.SetVec(2, v.Z)
		p.SetVec(3, 1)
		q.MulVec(t, p)
		m.Vertices[i] = r3.Vec{X: q.AtVec(0), Y: q.AtVec(1), Z: q.AtVec(2)}
	}
	m.Normals = nil
}

// ComputeNormals sets area-weighted unit vertex normals
func (m *Mesh) ComputeNormals() {
	normals := make([]r3.Vec, len(m.Vertices))
	for _, f := range m.Faces {
		n := m.faceCross(f)
		for _, idx := range f {
			normals[idx] = r3.Add(normals[idx], n)
		}
	}
	for i, n := range normals {
		if r3.Norm(n) > 0 {
			normals[i] = r3.Unit(n)
		}
	}
	m.Normals = normals
}

// faceCross returns the cross product of the face edges; its length is
// twice the face area
func (m *Mesh) faceCross(f [3]int) r3.Vec {
	a, b, c := m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
	return r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
}

// Triangles flattens the mesh into STL triangles with face normals
func (m *Mesh) Triangles() []stl.Triangle {
	triangles := make([]stl.Triangle, 0, len(m.Faces))
	for _, f := range m.Faces {
		a, b, c := m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
		triangles = append(triangles, stl.NewTriangle(
			[3]float64{a.X, a.Y, a.Z},
			[3]float64{b.X, b.Y, b.Z},
			[3]float64{c.X, c.Y, c.Z},
		))
	}
	return triangles
}

// SaveSTL writes the mesh as a binary STL file
func (m *Mesh) SaveSTL(path string) error {
	return stl.SaveToSTL(path, m.Triangles())
}

// neighbors returns the vertex adjacency implied by the faces
func (m *Mesh) neighbors() [][]int {
	seen := make([]map[int]struct{}, len(m.Vertices))
	adj := make([][]int, len(m.Vertices))
	link := func(a, b int) {
		if seen[a] == nil {
			seen[a] = make(map[int]struct{})
		}
		if _, ok := seen[a][b]; ok {
			return
		}
		seen[a][b] = struct{}{}
		adj[a] = append(adj[a], b)
	}
	for _, f := range m.Faces {
		for i := 0; i < 3; i++ {
			a, b := f[i], f[(i+1)%3]
			link(a, b)
			link(b, a)
		}
	}
	return adj
}

// Flip reverses the winding of every face
func (m *Mesh) Flip() {
	for i, f := range m.Faces {
		m.Faces[i] = [3]int{f[0], f[2], f[1]}
	}
	if m.Normals != nil {
		for i, n := range m.Normals {
			m.Normals[i] = r3.Scale(-1, n)
		}
	}
}
