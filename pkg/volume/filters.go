// Package volume provides the image filters applied to label maps before
// surface extraction.
package volume

import (
	"math"
	"sort"

	"dicom2glb/internal/models"
)

// Labels returns the distinct non-zero integer labels of a label map in
// ascending order. Values are rounded to the nearest integer; label 0 is
// background and never reported.
func Labels(vol *models.Volume) []int {
	seen := make(map[int]struct{})
	for _, v := range vol.Data {
		label := int(math.Round(v))
		if label == 0 {
			continue
		}
		seen[label] = struct{}{}
	}
	labels := make([]int, 0, len(seen))
	for label := range seen {
		labels = append(labels, label)
	}
	sort.Ints(labels)
	return labels
}

// Mask returns a binary volume holding 1 where the voxel equals label and
// 0 elsewhere. Geometry is copied from the source.
func Mask(vol *models.Volume, label int) *models.Volume {
	out := withGeometry(vol, vol.Width, vol.Height, vol.Depth)
	for i, v := range vol.Data {
		if int(math.Round(v)) == label {
			out.Data[i] = 1
		}
	}
	return out
}

// Foreground returns a binary volume holding 1 for every non-zero voxel
func Foreground(vol *models.Volume) *models.Volume {
	out := withGeometry(vol, vol.Width, vol.Height, vol.Depth)
	for i, v := range vol.Data {
		if v != 0 {
			out.Data[i] = 1
		}
	}
	return out
}

// Pad grows the extent by n voxels on every side of every axis, filling
// the border with constant. Voxel (x, y, z) of the source becomes voxel
// (x+n, y+n, z+n) of the result.
func Pad(vol *models.Volume, n int, constant float64) *models.Volume {
	w, h, d := vol.Width+2*n, vol.Height+2*n, vol.Depth+2*n
	out := withGeometry(vol, w, h, d)
	if constant != 0 {
		for i := range out.Data {
			out.Data[i] = constant
		}
	}
	for z := 0; z < vol.Depth; z++ {
		for y := 0; y < vol.Height; y++ {
			src := vol.Index(0, y, z)
			dst := out.Index(n, y+n, z+n)
			copy(out.Data[dst:dst+vol.Width], vol.Data[src:src+vol.Width])
		}
	}
	return out
}

// IsEmpty reports whether the volume has no voxels or only zeros
func IsEmpty(vol *models.Volume) bool {
	if vol.Len() == 0 {
		return true
	}
	min, max := vol.ScalarRange()
	return min == 0 && max == 0
}

func withGeometry(vol *models.Volume, w, h, d int) *models.Volume {
	out := models.NewVolume(w, h, d)
	out.VoxelSize = vol.VoxelSize
	out.Affine = vol.Affine
	return out
}
