// Package visualization renders label map slices for quick inspection of
// segmentation output.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"strings"

	"dicom2glb/internal/models"
)

// Viewer extracts colorized slices from a label map
type Viewer struct {
	volume *models.Volume
}

// NewViewer creates a viewer over a label map
func NewViewer(vol *models.Volume) *Viewer {
	return &Viewer{volume: vol}
}

// LabelColor returns the preview color of a label. Background is black;
// other labels are spread around the hue circle by the golden angle so
// neighbouring labels stay distinguishable.
func LabelColor(label int) color.RGBA {
	if label <= 0 {
		return color.RGBA{A: 255}
	}
	hue := math.Mod(float64(label)*137.508, 360)
	return hsv(hue, 0.75, 0.95)
}

func hsv(h, s, v float64) color.RGBA {
	c := v * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - c
	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	to8 := func(f float64) uint8 { return uint8(math.Round((f + m) * 255)) }
	return color.RGBA{R: to8(r), G: to8(g), B: to8(b), A: 255}
}

// extent returns the number of slices along an axis
func (v *Viewer) extent(axis string) (int, error) {
	switch strings.ToLower(axis) {
	case "x":
		return v.volume.Width, nil
	case "y":
		return v.volume.Height, nil
	case "z":
		return v.volume.Depth, nil
	default:
		return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
}

// ExtractSlice extracts a 2D slice along the specified axis. X slices
// span (z, y), Y slices (x, z) and Z slices (x, y).
func (v *Viewer) ExtractSlice(axis string, position int) (*image.RGBA, error) {
	n, err := v.extent(axis)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= n {
		return nil, fmt.Errorf("position %d outside [0, %d) on axis %s", position, n, axis)
	}

	vol := v.volume
	label := func(x, y, z int) color.RGBA {
		return LabelColor(int(math.Round(vol.At(x, y, z))))
	}

	var img *image.RGBA
	switch strings.ToLower(axis) {
	case "x":
		img = image.NewRGBA(image.Rect(0, 0, vol.Depth, vol.Height))
		for y := 0; y < vol.Height; y++ {
			for z := 0; z < vol.Depth; z++ {
				img.SetRGBA(z, y, label(position, y, z))
			}
		}
	case "y":
		img = image.NewRGBA(image.Rect(0, 0, vol.Width, vol.Depth))
		for z := 0; z < vol.Depth; z++ {
			for x := 0; x < vol.Width; x++ {
				img.SetRGBA(x, z, label(x, position, z))
			}
		}
	default:
		img = image.NewRGBA(image.Rect(0, 0, vol.Width, vol.Height))
		for y := 0; y < vol.Height; y++ {
			for x := 0; x < vol.Width; x++ {
				img.SetRGBA(x, y, label(x, y, position))
			}
		}
	}
	return img, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(file, img, &jpeg.Options{Quality: 90}); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveMiddleSlices saves the middle slice of every axis as
// <prefix>_<axis>.jpg in outputDir and returns the written paths
func (v *Viewer) SaveMiddleSlices(outputDir, prefix string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}
	var files []string
	for _, axis := range []string{"x", "y", "z"} {
		n, _ := v.extent(axis)
		img, err := v.ExtractSlice(axis, n/2)
		if err != nil {
			return files, err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s.jpg", prefix, axis))
		if err := v.SaveSlice(img, filename); err != nil {
			return files, err
		}
		files = append(files, filename)
	}
	return files, nil
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	n, err := v.extent(axis)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < n; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
