package visualization

import (
	"fmt"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicom2glb/internal/models"
)

// labelVolume returns a volume whose label equals the z index
func labelVolume(width, height, depth int) *models.Volume {
	vol := models.NewVolume(width, height, depth)
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				vol.Set(x, y, z, float64(z))
			}
		}
	}
	return vol
}

func TestLabelColor(t *testing.T) {
	assert.Equal(t, color.RGBA{A: 255}, LabelColor(0))
	seen := make(map[color.RGBA]int)
	for label := 1; label <= 20; label++ {
		c := LabelColor(label)
		assert.Equal(t, uint8(255), c.A)
		if prev, ok := seen[c]; ok {
			t.Errorf("labels %d and %d share color %v", prev, label, c)
		}
		seen[c] = label
	}
}

// TestExtractSlice verifies slice orientation and colors
func TestExtractSlice(t *testing.T) {
	width, height, depth := 10, 8, 5
	viewer := NewViewer(labelVolume(width, height, depth))

	for z := 0; z < depth; z++ {
		img, err := viewer.ExtractSlice("z", z)
		require.NoError(t, err)
		assert.Equal(t, width, img.Bounds().Dx())
		assert.Equal(t, height, img.Bounds().Dy())
		assert.Equal(t, LabelColor(z), img.RGBAAt(width/2, height/2))
	}

	imgX, err := viewer.ExtractSlice("X", width/2)
	require.NoError(t, err)
	assert.Equal(t, depth, imgX.Bounds().Dx())
	assert.Equal(t, height, imgX.Bounds().Dy())
	assert.Equal(t, LabelColor(3), imgX.RGBAAt(3, 0))

	imgY, err := viewer.ExtractSlice("y", height/2)
	require.NoError(t, err)
	assert.Equal(t, width, imgY.Bounds().Dx())
	assert.Equal(t, depth, imgY.Bounds().Dy())
	assert.Equal(t, LabelColor(4), imgY.RGBAAt(0, 4))

	_, err = viewer.ExtractSlice("invalid", 0)
	assert.Error(t, err)
	_, err = viewer.ExtractSlice("z", depth)
	assert.Error(t, err)
	_, err = viewer.ExtractSlice("z", -1)
	assert.Error(t, err)
}

func TestSaveMiddleSlices(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "previews")
	files, err := NewViewer(labelVolume(6, 6, 4)).SaveMiddleSlices(dir, "total")
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dir, "total_x.jpg"),
		filepath.Join(dir, "total_y.jpg"),
		filepath.Join(dir, "total_z.jpg"),
	}, files)

	f, err := os.Open(files[2])
	require.NoError(t, err)
	defer f.Close()
	cfg, err := jpeg.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Width)
	assert.Equal(t, 6, cfg.Height)
}

// TestSaveSliceSequence verifies that a sequence of slices can be saved
func TestSaveSliceSequence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	depth := 3
	viewer := NewViewer(labelVolume(5, 5, depth))
	outputDir := filepath.Join(t.TempDir(), "slices")
	require.NoError(t, viewer.SaveSliceSequence("z", outputDir))

	for z := 0; z < depth; z++ {
		assert.FileExists(t, filepath.Join(outputDir, fmt.Sprintf("slice_z_%03d.jpg", z)))
	}

	assert.Error(t, viewer.SaveSliceSequence("invalid", outputDir))
}
