package stl

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

const headerSize = 80

// Triangle represents an STL triangle
type Triangle struct {
	// Normal plus three vertex triplets: [3]float32{x,y,z}
	Normal, Vertex1, Vertex2, Vertex3 [3]float32
	// Attribute is the attribute byte count, normally zero
	Attribute uint16
}

// NewTriangle builds a triangle with a unit normal derived from the
// counter-clockwise winding of a, b, c
func NewTriangle(a, b, c [3]float64) Triangle {
	n := faceNormal(a, b, c)
	if l := math.Sqrt(n[0]*n[0] + n[1]*n[1] + n[2]*n[2]); l > 0 {
		n = [3]float64{n[0] / l, n[1] / l, n[2] / l}
	}
	return Triangle{
		Normal:  toFloat32(n),
		Vertex1: toFloat32(a),
		Vertex2: toFloat32(b),
		Vertex3: toFloat32(c),
	}
}

func toFloat32(v [3]float64) [3]float32 {
	return [3]float32{float32(v[0]), float32(v[1]), float32(v[2])}
}

// SaveToSTL writes triangles to a binary STL file
func SaveToSTL(filename string, triangles []Triangle) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := WriteSTL(f, triangles); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", filename, err)
	}
	return f.Close()
}

// WriteSTL encodes triangles in binary STL format
func WriteSTL(w io.Writer, triangles []Triangle) error {
	bw := bufio.NewWriter(w)
	header := struct {
		_     [headerSize]uint8
		Count uint32
	}{Count: uint32(len(triangles))}
	if err := binary.Write(bw, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("error writing header: %v", err)
	}
	for i := range triangles {
		if err := binary.Write(bw, binary.LittleEndian, &triangles[i]); err != nil {
			return fmt.Errorf("write triangle %d: %v", i, err)
		}
	}
	return bw.Flush()
}
