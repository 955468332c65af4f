package batch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/qmuntal/gltf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"dicom2glb/internal/models"
	"dicom2glb/pkg/classmap"
	"dicom2glb/pkg/extraction"
	"dicom2glb/pkg/nifti"
	"dicom2glb/pkg/scene"
	"dicom2glb/pkg/segmentation"
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

func writeVolume(t *testing.T, path string, vol *models.Volume) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, nifti.WriteFile(path, vol, nifti.Uint8))
}

func writeDICOM(t *testing.T, path, modality string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	elements := make([]*dicom.Element, 0, 4)
	for _, e := range []struct {
		t tag.Tag
		v string
	}{
		{tag.MediaStorageSOPClassUID, "1.2.840.10008.5.1.4.1.1.4"},
		{tag.MediaStorageSOPInstanceUID, "1.2.3.4"},
		{tag.TransferSyntaxUID, "1.2.840.10008.1.2.1"},
		{tag.Modality, modality},
	} {
		elem, err := dicom.NewElement(e.t, []string{e.v})
		require.NoError(t, err)
		elements = append(elements, elem)
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, dicom.Write(f, dicom.Dataset{Elements: elements}))
}

// fakeSegmenter writes fixed label maps instead of running a model
type fakeSegmenter struct {
	labels map[string][]int
	fail   string
	calls  []string
}

func (f *fakeSegmenter) Segment(ctx context.Context, input, output string, opts segmentation.Options) error {
	f.calls = append(f.calls, opts.Task)
	if _, err := os.Stat(input); err != nil {
		return err
	}
	if f.fail != "" && strings.Contains(input, f.fail) {
		return &segmentation.ProcessError{ExitCode: 1, Command: []string{"fake"}}
	}
	labels := f.labels[opts.Task]
	if opts.Multilabel {
		return nifti.WriteFile(output, blobVolume(labels...), nifti.Uint8)
	}
	if err := os.MkdirAll(output, 0755); err != nil {
		return err
	}
	for _, label := range labels {
		name := classmap.Default().Lookup(opts.Task, label)
		if err := nifti.WriteFile(filepath.Join(output, name+".nii.gz"), blobVolume(1), nifti.Uint8); err != nil {
			return err
		}
	}
	return nil
}

func newDriver(t *testing.T, in string, seg segmentation.Segmenter, tasks ...string) *Driver {
	t.Helper()
	opts := extraction.DefaultOptions()
	opts.SmoothIterations = 5
	return &Driver{
		Options: Options{
			Input:      in,
			Output:     filepath.Join(t.TempDir(), "out"),
			Tasks:      tasks,
			Modality:   segmentation.CT,
			Speed:      segmentation.Fast,
			Multilabel: true,
		},
		Segmenter: seg,
		Extractor: extraction.NewExtractor(opts, classmap.Default()),
		Assembler: scene.NewAssembler(scene.DefaultOptions(), nil),
	}
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	writeVolume(t, filepath.Join(root, "a", "scan1.nii.gz"), blobVolume(1))
	writeVolume(t, filepath.Join(root, "b", "scan2.nii"), blobVolume(1))
	writeVolume(t, filepath.Join(root, "c", "scan1.nii"), blobVolume(1))
	writeDICOM(t, filepath.Join(root, "series", "IM0001"), "CT")
	writeDICOM(t, filepath.Join(root, "series", "nested", "IM0001"), "CT")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "named"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "named", "x.DCM"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hello"), 0644))
	writeVolume(t, filepath.Join(root, "out", "old.nii.gz"), blobVolume(1))

	inputs, err := Discover(root, filepath.Join(root, "out"))
	require.NoError(t, err)

	var got []string
	for _, in := range inputs {
		got = append(got, in.Name+":"+in.Kind.String())
	}
	assert.Equal(t, []string{
		"scan1:nifti",
		"scan2:nifti",
		"scan1_2:nifti",
		"named:dicom",
		"series:dicom",
	}, got)
}

func TestDiscoverMissingRoot(t *testing.T) {
	_, err := Discover(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestModality(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("not dicom"), 0644))
	writeDICOM(t, filepath.Join(dir, "IM0001"), "MR")

	m, err := Modality(dir)
	require.NoError(t, err)
	assert.Equal(t, "MR", m)

	_, err = Modality(t.TempDir())
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	in := t.TempDir()
	writeVolume(t, filepath.Join(in, "ct1.nii.gz"), blobVolume(1))
	writeVolume(t, filepath.Join(in, "ct2.nii"), blobVolume(1))

	seg := &fakeSegmenter{labels: map[string][]int{"total": {5, 1}}}
	d := newDriver(t, in, seg, "total")
	var progress bytes.Buffer
	d.Out = &progress

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Outcomes, 2)
	assert.Empty(t, summary.Failed())
	assert.Equal(t, []string{"total", "total"}, seg.calls)
	assert.Contains(t, progress.String(), "Step 2/2: processing ct2 (nifti)")

	out := d.Options.Output
	assert.FileExists(t, filepath.Join(out, "ct1", "ct1.nii"), "gzip inputs are decompressed")
	assert.FileExists(t, filepath.Join(out, "ct1", SegmentsDir, "total.nii.gz"))
	assert.FileExists(t, filepath.Join(out, "ct1", STLDir, "total", "liver.stl"))
	assert.FileExists(t, filepath.Join(out, "ct1", STLDir, "total", "spleen.stl"))
	assert.FileExists(t, filepath.Join(out, "ct2", GLBDir, "ct2_total.glb"))
	assert.Equal(t, []string{filepath.Join(out, "ct1", GLBDir, "ct1_total.glb")}, summary.Outcomes[0].Files)
}

func TestRunContinuesAfterFailure(t *testing.T) {
	in := t.TempDir()
	writeVolume(t, filepath.Join(in, "bad.nii"), blobVolume(1))
	writeVolume(t, filepath.Join(in, "good.nii"), blobVolume(1))

	seg := &fakeSegmenter{labels: map[string][]int{"total": {5}}, fail: "bad"}
	d := newDriver(t, in, seg, "total")

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	failed := summary.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "bad", failed[0].Input.Name)

	var pe *segmentation.ProcessError
	assert.ErrorAs(t, failed[0].Err, &pe)
	assert.FileExists(t, filepath.Join(d.Options.Output, "good", GLBDir, "good_total.glb"))

	var report bytes.Buffer
	summary.Print(&report)
	assert.Contains(t, report.String(), "FAILED bad")
	assert.Contains(t, report.String(), "OK good")
	assert.Contains(t, report.String(), "2 inputs, 1 succeeded, 1 failed")
}

func TestRunMerge(t *testing.T) {
	in := t.TempDir()
	writeVolume(t, filepath.Join(in, "ct.nii"), blobVolume(1))

	seg := &fakeSegmenter{labels: map[string][]int{
		"total":        {5},
		"lung_vessels": {1},
	}}
	d := newDriver(t, in, seg, "total", "lung_vessels")
	d.Options.Merge = true
	d.Assembler.Options.Recursive = false

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, summary.Failed())

	glbs := filepath.Join(d.Options.Output, "ct", GLBDir)
	assert.Equal(t, []string{filepath.Join(glbs, "ct.glb")}, summary.Outcomes[0].Files)
	assert.NoFileExists(t, filepath.Join(glbs, "ct_total.glb"))
	assert.False(t, d.Assembler.Options.Recursive, "merging must not change the shared assembler")
}

func TestRunStructureMasks(t *testing.T) {
	in := t.TempDir()
	writeVolume(t, filepath.Join(in, "ct.nii"), blobVolume(1))

	seg := &fakeSegmenter{labels: map[string][]int{"total": {5}}}
	d := newDriver(t, in, seg, "total")
	d.Options.Multilabel = false
	d.Options.Previews = true

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, summary.Failed())
	base := filepath.Join(d.Options.Output, "ct")
	assert.FileExists(t, filepath.Join(base, SegmentsDir, "total", "liver.nii.gz"))
	assert.FileExists(t, filepath.Join(base, STLDir, "total", "liver.stl"))
	assert.NoDirExists(t, filepath.Join(base, PreviewDir), "previews need a label map")
}

func TestRunPreviews(t *testing.T) {
	in := t.TempDir()
	writeVolume(t, filepath.Join(in, "ct.nii"), blobVolume(1))

	d := newDriver(t, in, &fakeSegmenter{labels: map[string][]int{"total": {5}}}, "total")
	d.Options.Previews = true

	_, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(d.Options.Output, "ct", PreviewDir, "total_z.jpg"))
}

func TestRunEmptySegmentation(t *testing.T) {
	in := t.TempDir()
	writeVolume(t, filepath.Join(in, "ct.nii"), blobVolume(1))

	d := newDriver(t, in, &fakeSegmenter{}, "total")
	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Outcomes, 1)
	assert.NoError(t, summary.Outcomes[0].Err)
	assert.Empty(t, summary.Outcomes[0].Files)
}

func TestRunDICOMInput(t *testing.T) {
	in := t.TempDir()
	writeDICOM(t, filepath.Join(in, "series", "IM0001"), "MR")

	seg := &fakeSegmenter{labels: map[string][]int{"total": {5}}}
	d := newDriver(t, in, seg, "total")

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Outcomes, 1)
	assert.NoError(t, summary.Outcomes[0].Err, "a modality mismatch is only a warning")
	assert.Equal(t, DICOM, summary.Outcomes[0].Input.Kind)
}

func TestRunSetupErrors(t *testing.T) {
	in := t.TempDir()
	seg := &fakeSegmenter{}

	_, err := newDriver(t, in, seg, "total_mr").Run(context.Background())
	assert.Error(t, err, "task does not match modality")

	_, err = newDriver(t, in, seg, "total").Run(context.Background())
	assert.Error(t, err, "no inputs")
	assert.Empty(t, seg.calls)
}

func TestRunCancelled(t *testing.T) {
	in := t.TempDir()
	writeVolume(t, filepath.Join(in, "ct.nii"), blobVolume(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := newDriver(t, in, &fakeSegmenter{}, "total").Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, summary)
	assert.Empty(t, summary.Outcomes)
}

func TestDecompress(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "vol.nii.gz")
	writeVolume(t, src, blobVolume(3))
	dst := filepath.Join(dir, "vol.nii")
	require.NoError(t, decompress(src, dst))

	vol, _, err := nifti.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, 3.0, vol.At(3, 7, 7))

	assert.Error(t, decompress(dst, filepath.Join(dir, "again.nii")), "plain input is not gzip")
	assert.True(t, isGzip(src))
	assert.False(t, isGzip(dst))
}

func TestRunReplacesEarlierMeshes(t *testing.T) {
	in := t.TempDir()
	writeVolume(t, filepath.Join(in, "ct.nii"), blobVolume(1))

	seg := &fakeSegmenter{labels: map[string][]int{"total": {5, 1}}}
	d := newDriver(t, in, seg, "total")
	_, err := d.Run(context.Background())
	require.NoError(t, err)

	seg.labels["total"] = []int{5}
	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, summary.Failed())

	stls := filepath.Join(d.Options.Output, "ct", STLDir, "total")
	assert.FileExists(t, filepath.Join(stls, "liver.stl"))
	assert.NoFileExists(t, filepath.Join(stls, "spleen.stl"))

	doc, err := gltf.Open(filepath.Join(d.Options.Output, "ct", GLBDir, "ct_total.glb"))
	require.NoError(t, err)
	require.Len(t, doc.Meshes, 1)
	assert.Equal(t, "liver", doc.Meshes[0].Name)
}

func TestRunReplacesEarlierMasks(t *testing.T) {
	in := t.TempDir()
	writeVolume(t, filepath.Join(in, "ct.nii"), blobVolume(1))

	seg := &fakeSegmenter{labels: map[string][]int{"total": {5, 1}}}
	d := newDriver(t, in, seg, "total")
	d.Options.Multilabel = false
	_, err := d.Run(context.Background())
	require.NoError(t, err)

	seg.labels["total"] = []int{5}
	_, err = d.Run(context.Background())
	require.NoError(t, err)

	base := filepath.Join(d.Options.Output, "ct")
	assert.NoFileExists(t, filepath.Join(base, SegmentsDir, "total", "spleen.nii.gz"))
	assert.NoFileExists(t, filepath.Join(base, STLDir, "total", "spleen.stl"))
}

func TestRunMergeWithoutMeshes(t *testing.T) {
	in := t.TempDir()
	writeVolume(t, filepath.Join(in, "ct.nii"), blobVolume(1))

	d := newDriver(t, in, &fakeSegmenter{}, "total", "lung_vessels")
	d.Options.Merge = true

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Outcomes, 1)
	assert.NoError(t, summary.Outcomes[0].Err)
	assert.Empty(t, summary.Outcomes[0].Files)
	assert.NoFileExists(t, filepath.Join(d.Options.Output, "ct", GLBDir, "ct.glb"))
}
