package models

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Volume represents a 3D scalar grid loaded from a medical image file
type Volume struct {
	// Data is the 3D volume data as a 1D array, x varying fastest
	Data []float64

	// Width is the width of the volume in voxels
	Width int

	// Height is the height of the volume in voxels
	Height int

	// Depth is the depth of the volume in voxels
	Depth int

	// VoxelSize is the physical size of each voxel in mm
	VoxelSize struct {
		X, Y, Z float64
	}

	// Affine maps homogeneous voxel indices (i, j, k, 1) to world
	// coordinates in mm. Nil means a pure VoxelSize scaling.
	Affine *mat.Dense
}

// NewVolume allocates a zero-filled volume with unit voxel size
func NewVolume(width, height, depth int) *Volume {
	v := &Volume{
		Data:   make([]float64, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
	v.VoxelSize.X, v.VoxelSize.Y, v.VoxelSize.Z = 1, 1, 1
	return v
}

// Index returns the flat index of voxel (x, y, z)
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// At returns the value at voxel (x, y, z)
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// Set stores a value at voxel (x, y, z)
func (v *Volume) Set(x, y, z int, value float64) {
	v.Data[v.Index(x, y, z)] = value
}

// Len returns the number of voxels
func (v *Volume) Len() int {
	return v.Width * v.Height * v.Depth
}

// ScalarRange returns the minimum and maximum voxel values.
// An empty volume reports (0, 0).
func (v *Volume) ScalarRange() (min, max float64) {
	if len(v.Data) == 0 {
		return 0, 0
	}
	min, max = math.Inf(1), math.Inf(-1)
	for _, value := range v.Data {
		if value < min {
			min = value
		}
		if value > max {
			max = value
		}
	}
	return min, max
}

// VoxelToWorld returns the voxel-to-world transform as a 4x4 matrix.
// When applyAffine is false or no affine is known, only the voxel
// size is applied and the origin sits at voxel (0, 0, 0).
func (v *Volume) VoxelToWorld(applyAffine bool) *mat.Dense {
	if applyAffine && v.Affine != nil {
		return mat.DenseCopyOf(v.Affine)
	}
	return mat.NewDense(4, 4, []float64{
		v.VoxelSize.X, 0, 0, 0,
		0, v.VoxelSize.Y, 0, 0,
		0, 0, v.VoxelSize.Z, 0,
		0, 0, 0, 1,
	})
}
