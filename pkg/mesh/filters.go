package mesh

import (
	"fmt"

	"github.com/fogleman/simplify"
	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
)

// Smooth relaxes every vertex towards the centroid of its neighbours:
// v += relaxation * (mean(neighbours) - v), repeated iterations times.
// This is plain Laplacian smoothing; positions are updated in lockstep.
func (m *Mesh) Smooth(iterations int, relaxation float64) {
	if iterations <= 0 || relaxation == 0 || m.Empty() {
		return
	}
	adj := m.neighbors()
	next := make([]r3.Vec, len(m.Vertices))
	for it := 0; it < iterations; it++ {
		for i, v := range m.Vertices {
			if len(adj[i]) == 0 {
				next[i] = v
				continue
			}
			var sum r3.Vec
			for _, j := range adj[i] {
				sum = r3.Add(sum, m.Vertices[j])
			}
			mean := r3.Scale(1/float64(len(adj[i])), sum)
			next[i] = r3.Add(v, r3.Scale(relaxation, r3.Sub(mean, v)))
		}
		m.Vertices, next = next, m.Vertices
	}
	m.Normals = nil
}

// Clean merges vertices closer than tolerance, drops degenerate and
// duplicate triangles and removes unreferenced vertices. A zero
// tolerance merges only coincident points.
func (m *Mesh) Clean(tolerance float64) (*Mesh, error) {
	if m.Empty() {
		return nil, ErrEmptyMesh
	}
	remap := weld(m.Vertices, tolerance)

	out := &Mesh{}
	used := make(map[int]int)
	faces := make(map[[3]int]struct{})
	for _, f := range m.Faces {
		a, b, c := remap[f[0]], remap[f[1]], remap[f[2]]
		if a == b || b == c || a == c {
			continue
		}
		if r3.Norm(r3.Cross(r3.Sub(m.Vertices[b], m.Vertices[a]), r3.Sub(m.Vertices[c], m.Vertices[a]))) == 0 {
			continue
		}
		key := canonicalFace(a, b, c)
		if _, dup := faces[key]; dup {
			continue
		}
		faces[key] = struct{}{}

		var nf [3]int
		for i, idx := range [3]int{a, b, c} {
			n, ok := used[idx]
			if !ok {
				n = len(out.Vertices)
				used[idx] = n
				out.Vertices = append(out.Vertices, m.Vertices[idx])
			}
			nf[i] = n
		}
		out.Faces = append(out.Faces, nf)
	}
	if out.Empty() {
		return nil, fmt.Errorf("clean removed all %d triangles: %w", len(m.Faces), ErrEmptyMesh)
	}
	return out, nil
}

// canonicalFace rotates a face so its smallest index comes first,
// keeping the winding
func canonicalFace(a, b, c int) [3]int {
	switch {
	case a <= b && a <= c:
		return [3]int{a, b, c}
	case b <= a && b <= c:
		return [3]int{b, c, a}
	default:
		return [3]int{c, a, b}
	}
}

// weldPoint is a vertex stored in the k-d tree used for welding
type weldPoint struct {
	r3.Vec
	index int
}

// Compare implements the kdtree.Comparable interface
func (p weldPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(weldPoint)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the k-d tree
func (p weldPoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between two points
func (p weldPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(weldPoint)
	d := r3.Sub(p.Vec, q.Vec)
	return r3.Dot(d, d)
}

// weldPoints is a collection of weldPoint that satisfies kdtree.Interface
type weldPoints []weldPoint

func (p weldPoints) Index(i int) kdtree.Comparable        { return p[i] }
func (p weldPoints) Len() int                             { return len(p) }
func (p weldPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p weldPoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(weldPlane{weldPoints: p, Dim: d}, kdtree.MedianOfRandoms(weldPlane{weldPoints: p, Dim: d}, 100))
}

// weldPlane implements sort.Interface and kdtree.SortSlicer for weldPoints
type weldPlane struct {
	weldPoints
	kdtree.Dim
}

func (p weldPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.weldPoints[i].X < p.weldPoints[j].X
	case 1:
		return p.weldPoints[i].Y < p.weldPoints[j].Y
	case 2:
		return p.weldPoints[i].Z < p.weldPoints[j].Z
	default:
		panic("illegal dimension")
	}
}

func (p weldPlane) Slice(start, end int) kdtree.SortSlicer {
	return weldPlane{weldPoints: p.weldPoints[start:end], Dim: p.Dim}
}

func (p weldPlane) Swap(i, j int) {
	p.weldPoints[i], p.weldPoints[j] = p.weldPoints[j], p.weldPoints[i]
}

// weld maps every vertex to the lowest-indexed vertex within tolerance
// of it. Vertices are visited in index order, so the mapping is stable.
func weld(vertices []r3.Vec, tolerance float64) []int {
	remap := make([]int, len(vertices))
	if tolerance <= 0 {
		first := make(map[r3.Vec]int, len(vertices))
		for i, v := range vertices {
			if j, ok := first[v]; ok {
				remap[i] = j
				continue
			}
			first[v] = i
			remap[i] = i
		}
		return remap
	}

	points := make(weldPoints, len(vertices))
	for i, v := range vertices {
		points[i] = weldPoint{Vec: v, index: i}
		remap[i] = -1
	}
	tree := kdtree.New(append(weldPoints(nil), points...), false)
	limit := tolerance * tolerance
	for i, p := range points {
		if remap[i] >= 0 {
			continue
		}
		remap[i] = i
		keeper := kdtree.NewDistKeeper(limit)
		tree.NearestSet(keeper, p)
		for _, item := range keeper.Heap {
			if item.Comparable == nil {
				continue
			}
			j := item.Comparable.(weldPoint).index
			if remap[j] < 0 {
				remap[j] = i
			}
		}
	}
	return remap
}

// Decimate reduces the triangle count by targetReduction (0.5 removes
// about half of the triangles) using quadric error simplification.
func (m *Mesh) Decimate(targetReduction float64) (*Mesh, error) {
	if m.Empty() {
		return nil, ErrEmptyMesh
	}
	if targetReduction <= 0 {
		return m.Clone(), nil
	}
	if targetReduction >= 1 {
		return nil, fmt.Errorf("target reduction %.2f leaves no triangles", targetReduction)
	}

	triangles := make([]*simplify.Triangle, len(m.Faces))
	for i, f := range m.Faces {
		triangles[i] = simplify.NewTriangle(toVector(m.Vertices[f[0]]), toVector(m.Vertices[f[1]]), toVector(m.Vertices[f[2]]))
	}
	simplified := simplify.NewMesh(triangles).Simplify(1 - targetReduction)

	out := &Mesh{}
	index := make(map[simplify.Vector]int)
	for _, t := range simplified.Triangles {
		var f [3]int
		for i, v := range [3]simplify.Vector{t.V1, t.V2, t.V3} {
			idx, ok := index[v]
			if !ok {
				idx = len(out.Vertices)
				index[v] = idx
				out.Vertices = append(out.Vertices, r3.Vec{X: v.X, Y: v.Y, Z: v.Z})
			}
			f[i] = idx
		}
		if f[0] == f[1] || f[1] == f[2] || f[0] == f[2] {
			continue
		}
		out.Faces = append(out.Faces, f)
	}
	if out.Empty() {
		return nil, fmt.Errorf("decimation removed all %d triangles: %w", len(m.Faces), ErrEmptyMesh)
	}
	return out, nil
}

func toVector(v r3.Vec) simplify.Vector {
	return simplify.Vector{X: v.X, Y: v.Y, Z: v.Z}
}
