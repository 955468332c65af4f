package mesh

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
)

// Statistics summarises a mesh surface
type Statistics struct {
	Triangles   int     `yaml:"triangles" json:"triangles"`
	Vertices    int     `yaml:"vertices" json:"vertices"`
	SurfaceArea float64 `yaml:"surfaceArea" json:"surfaceArea"`
	// Volume is the enclosed volume; it is only meaningful for closed surfaces
	Volume           float64 `yaml:"volume" json:"volume"`
	MeanTriangleArea float64 `yaml:"meanTriangleArea" json:"meanTriangleArea"`
	StdTriangleArea  float64 `yaml:"stdTriangleArea" json:"stdTriangleArea"`
}

// Stats computes surface statistics. Units follow the vertex coordinates
// (mm, mm^2 and mm^3 for world-space meshes).
func (m *Mesh) Stats() Statistics {
	s := Statistics{
		Triangles: len(m.Faces),
		Vertices:  len(m.Vertices),
	}
	if m.Empty() {
		return s
	}

	areas := make([]float64, len(m.Faces))
	signed := make([]float64, len(m.Faces))
	for i, f := range m.Faces {
		areas[i] = r3.Norm(m.faceCross(f)) / 2
		a, b, c := m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
		signed[i] = r3.Dot(a, r3.Cross(b, c)) / 6
	}
	s.SurfaceArea = floats.Sum(areas)
	s.Volume = math.Abs(floats.Sum(signed))
	if len(areas) > 1 {
		s.MeanTriangleArea, s.StdTriangleArea = stat.MeanStdDev(areas, nil)
	} else {
		s.MeanTriangleArea = areas[0]
	}
	return s
}
