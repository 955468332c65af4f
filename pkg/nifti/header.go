// Package nifti reads and writes single-file NIfTI-1 volumes (.nii and .nii.gz).
package nifti

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// HeaderSize is the size of a NIfTI-1 header in bytes
const HeaderSize = 348

// Datatype is the NIfTI-1 datatype code of the voxel data
type Datatype int16

const (
	Uint8   Datatype = 2
	Int16   Datatype = 4
	Int32   Datatype = 8
	Float32 Datatype = 16
	Float64 Datatype = 64
	Int8    Datatype = 256
	Uint16  Datatype = 512
	Uint32  Datatype = 768
	Int64   Datatype = 1024
	Uint64  Datatype = 1280
)

// Size returns the number of bytes per voxel, or 0 for unsupported types
func (d Datatype) Size() int {
	switch d {
	case Uint8, Int8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	}
	return 0
}

func (d Datatype) String() string {
	switch d {
	case Uint8:
		return "uint8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int8:
		return "int8"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	case Int64:
		return "int64"
	case Uint64:
		return "uint64"
	}
	return fmt.Sprintf("datatype(%d)", int16(d))
}

// Header mirrors the on-disk NIfTI-1 header field by field
type Header struct {
	SizeofHdr     int32
	DataType      [10]byte
	DBName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      Datatype
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XYZTUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

// Spatial returns the three spatial dimensions. Dimensions beyond
// dim[0] count as 1.
func (h *Header) Spatial() (nx, ny, nz int) {
	dims := [3]int{1, 1, 1}
	for i := 0; i < 3 && i < int(h.Dim[0]); i++ {
		dims[i] = max(int(h.Dim[i+1]), 0)
	}
	return dims[0], dims[1], dims[2]
}

// spacing returns the voxel size, substituting 1 for unset entries
func (h *Header) spacing() (dx, dy, dz float64) {
	s := [3]float64{1, 1, 1}
	for i := range s {
		if p := math.Abs(float64(h.Pixdim[i+1])); p > 0 {
			s[i] = p
		}
	}
	return s[0], s[1], s[2]
}

// Affine builds the voxel-to-world matrix. The sform takes precedence
// over the qform; with neither set the voxel size alone is used.
func (h *Header) Affine() *mat.Dense {
	dx, dy, dz := h.spacing()
	switch {
	case h.SformCode > 0:
		return mat.NewDense(4, 4, []float64{
			float64(h.SrowX[0]), float64(h.SrowX[1]), float64(h.SrowX[2]), float64(h.SrowX[3]),
			float64(h.SrowY[0]), float64(h.SrowY[1]), float64(h.SrowY[2]), float64(h.SrowY[3]),
			float64(h.SrowZ[0]), float64(h.SrowZ[1]), float64(h.SrowZ[2]), float64(h.SrowZ[3]),
			0, 0, 0, 1,
		})
	case h.QformCode > 0:
		b, c, d := float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD)
		a := 1 - (b*b + c*c + d*d)
		if a < 1e-7 {
			// b, c, d describe a 180 degree rotation; renormalize
			n := 1 / math.Sqrt(b*b+c*c+d*d)
			b, c, d = b*n, c*n, d*n
			a = 0
		} else {
			a = math.Sqrt(a)
		}
		qfac := 1.0
		if h.Pixdim[0] < 0 {
			qfac = -1
		}
		rot := mat.NewDense(3, 3, []float64{
			a*a + b*b - c*c - d*d, 2*b*c - 2*a*d, 2*b*d + 2*a*c,
			2*b*c + 2*a*d, a*a + c*c - b*b - d*d, 2*c*d - 2*a*b,
			2*b*d - 2*a*c, 2*c*d + 2*a*b, a*a + d*d - c*c - b*b,
		})
		scale := mat.NewDiagDense(3, []float64{dx, dy, qfac * dz})
		var m mat.Dense
		m.Mul(rot, scale)
		affine := mat.NewDense(4, 4, nil)
		affine.Slice(0, 3, 0, 3).(*mat.Dense).Copy(&m)
		affine.Set(0, 3, float64(h.QoffsetX))
		affine.Set(1, 3, float64(h.QoffsetY))
		affine.Set(2, 3, float64(h.QoffsetZ))
		affine.Set(3, 3, 1)
		return affine
	default:
		return mat.NewDense(4, 4, []float64{
			dx, 0, 0, 0,
			0, dy, 0, 0,
			0, 0, dz, 0,
			0, 0, 0, 1,
		})
	}
}

// scaling reports the intensity slope and intercept to apply, if any
func (h *Header) scaling() (slope, inter float64, ok bool) {
	slope, inter = float64(h.SclSlope), float64(h.SclInter)
	if slope == 0 || math.IsNaN(slope) || math.IsInf(slope, 0) {
		return 1, 0, false
	}
	if slope == 1 && inter == 0 {
		return 1, 0, false
	}
	return slope, inter, true
}
