package extraction

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/fogleman/fauxgl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"dicom2glb/internal/models"
	"dicom2glb/pkg/classmap"
	"dicom2glb/pkg/nifti"
)

// blobVolume returns a 16^3 label map with a 6^3 block per label
func blobVolume(labels ...int) *models.Volume {
	vol := models.NewVolume(16, 16, 16)
	for i, label := range labels {
		off := 1 + i*8
		for z := 5; z < 11; z++ {
			for y := 5; y < 11; y++ {
				for x := off; x < off+6 && x < 16; x++ {
					vol.Set(x, y, z, float64(label))
				}
			}
		}
	}
	return vol
}

func writeVolume(t *testing.T, path string, vol *models.Volume) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, nifti.WriteFile(path, vol, nifti.Uint8))
	return path
}

func listSTL(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.stl"))
	require.NoError(t, err)
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = filepath.Base(m)
	}
	sort.Strings(names)
	return names
}

func fastOptions() Options {
	opts := DefaultOptions()
	opts.SmoothIterations = 5
	return opts
}

func TestTaskName(t *testing.T) {
	assert.Equal(t, "total", TaskName("/a/b/total.nii.gz"))
	assert.Equal(t, "lung_vessels", TaskName("lung_vessels.nii"))
	assert.Equal(t, "liver", TaskName("liver.NII.GZ"))
	assert.True(t, IsNIfTI("x.nii.gz"))
	assert.False(t, IsNIfTI("x.stl"))
}

func TestExtractLabelMapClassMap(t *testing.T) {
	dir := t.TempDir()
	path := writeVolume(t, filepath.Join(dir, "total.nii.gz"), blobVolume(1))
	out := filepath.Join(dir, "stls")

	e := NewExtractor(fastOptions(), classmap.ClassMap{"total": {1: "liver"}})
	result, err := e.ExtractLabelMap(path, out)
	require.NoError(t, err)

	assert.Equal(t, []string{"liver.stl"}, listSTL(t, out), "background label must not be meshed")
	require.Len(t, result.Structures, 1)
	assert.Equal(t, "total", result.Task)
	assert.Equal(t, 1, result.Structures[0].Label)
	assert.Equal(t, "liver", result.Structures[0].Name)
	assert.Greater(t, result.Structures[0].Stats.Triangles, 0)
	assert.Equal(t, []string{filepath.Join(out, "liver.stl")}, result.Files())
}

func TestExtractLabelMapFallbackNames(t *testing.T) {
	dir := t.TempDir()
	path := writeVolume(t, filepath.Join(dir, "custom.nii"), blobVolume(1, 3))
	out := filepath.Join(dir, "stls")

	e := NewExtractor(fastOptions(), classmap.ClassMap{"custom": {3: "spleen"}})
	result, err := e.ExtractLabelMap(path, out)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.stl", "spleen.stl"}, listSTL(t, out))
	assert.Equal(t, 1, result.Structures[0].Label)
	assert.Equal(t, 3, result.Structures[1].Label)
}

func TestExtractLabelMapGeometry(t *testing.T) {
	dir := t.TempDir()
	vol := blobVolume(1)
	vol.VoxelSize.X, vol.VoxelSize.Y, vol.VoxelSize.Z = 2, 1, 1
	path := writeVolume(t, filepath.Join(dir, "total.nii"), vol)

	opts := DefaultOptions()
	opts.SmoothIterations = 0
	result, err := NewExtractor(opts, nil).ExtractLabelMap(path, dir)
	require.NoError(t, err)
	require.Len(t, result.Structures, 1)

	loaded, err := fauxgl.LoadSTL(result.Structures[0].File)
	require.NoError(t, err)
	box := loaded.BoundingBox()
	// voxels 1..6 on x, surface half a voxel outside, 2mm spacing
	assert.InDelta(t, 1.0, box.Min.X, 1e-4)
	assert.InDelta(t, 13.0, box.Max.X, 1e-4)

	// a closed 6x6x6 voxel block with half-voxel cut corners
	stats := result.Structures[0].Stats
	assert.InDelta(t, 2*6*6*6, stats.Volume, 2*6*6*6*0.25)
}

func TestExtractLabelMapErrors(t *testing.T) {
	dir := t.TempDir()
	e := NewExtractor(fastOptions(), nil)

	empty := writeVolume(t, filepath.Join(dir, "empty.nii"), models.NewVolume(4, 4, 4))
	_, err := e.ExtractLabelMap(empty, filepath.Join(dir, "out"))
	assert.ErrorIs(t, err, ErrEmptyLabelMap)
	assert.NoDirExists(t, filepath.Join(dir, "out"))

	garbage := filepath.Join(dir, "garbage.nii")
	require.NoError(t, os.WriteFile(garbage, []byte("definitely not a volume"), 0644))
	_, err = e.ExtractLabelMap(garbage, dir)
	assert.ErrorIs(t, err, ErrUnreadableVolume)

	_, err = e.ExtractLabelMap(filepath.Join(dir, "missing.nii"), dir)
	assert.ErrorIs(t, err, ErrUnreadableVolume)

	corrupt := filepath.Join(dir, "corrupt.nii")
	raw, err := os.ReadFile(writeVolume(t, corrupt, blobVolume(1)))
	require.NoError(t, err)
	for _, off := range []int{42, 44, 46} {
		raw[off], raw[off+1] = 0xff, 0x7f
	}
	require.NoError(t, os.WriteFile(corrupt, raw, 0644))
	_, err = e.ExtractLabelMap(corrupt, dir)
	assert.ErrorIs(t, err, ErrUnreadableVolume)

	hollow := writeVolume(t, filepath.Join(dir, "hollow.nii"), models.NewVolume(0, 0, 0))
	_, err = e.ExtractLabelMap(hollow, dir)
	assert.ErrorIs(t, err, ErrNoScalarData)
}

func TestExtractStructures(t *testing.T) {
	dir := t.TempDir()
	masks := filepath.Join(dir, "total")
	writeVolume(t, filepath.Join(masks, "liver.nii.gz"), blobVolume(1))
	writeVolume(t, filepath.Join(masks, "spleen.nii.gz"), blobVolume(0, 7))
	writeVolume(t, filepath.Join(masks, "gallbladder.nii.gz"), models.NewVolume(8, 8, 8))
	require.NoError(t, os.WriteFile(filepath.Join(masks, "notes.txt"), []byte("x"), 0644))

	out := filepath.Join(dir, "stls")
	result, err := NewExtractor(fastOptions(), nil).ExtractStructures(masks, out)
	require.NoError(t, err)
	assert.Equal(t, "total", result.Task)
	assert.Equal(t, []string{"liver.stl", "spleen.stl"}, listSTL(t, out))
	assert.Equal(t, []string{"gallbladder"}, result.Skipped)

	_, err = NewExtractor(fastOptions(), nil).ExtractStructures(t.TempDir(), out)
	assert.ErrorIs(t, err, ErrEmptyLabelMap)
}

func TestStatisticsFile(t *testing.T) {
	dir := t.TempDir()
	path := writeVolume(t, filepath.Join(dir, "total.nii"), blobVolume(5))

	opts := fastOptions()
	opts.Statistics = true
	_, err := NewExtractor(opts, classmap.Default()).ExtractLabelMap(path, dir)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, StatisticsFile))
	require.NoError(t, err)
	var got Result
	require.NoError(t, yaml.Unmarshal(data, &got))
	require.Len(t, got.Structures, 1)
	assert.Equal(t, "liver", got.Structures[0].Name)
	assert.Greater(t, got.Structures[0].Stats.SurfaceArea, 0.0)
}

func TestDecimateOption(t *testing.T) {
	dir := t.TempDir()
	path := writeVolume(t, filepath.Join(dir, "total.nii"), blobVolume(1))

	full, err := NewExtractor(fastOptions(), nil).ExtractLabelMap(path, filepath.Join(dir, "full"))
	require.NoError(t, err)

	opts := fastOptions()
	opts.Decimate = true
	reduced, err := NewExtractor(opts, nil).ExtractLabelMap(path, filepath.Join(dir, "reduced"))
	require.NoError(t, err)
	assert.Less(t, reduced.Structures[0].Stats.Triangles, full.Structures[0].Stats.Triangles)
}
