// Package batch drives every scan under an input directory through
// segmentation, mesh extraction, scene assembly and export.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dicom2glb/pkg/export"
	"dicom2glb/pkg/extraction"
	"dicom2glb/pkg/nifti"
	"dicom2glb/pkg/scene"
	"dicom2glb/pkg/segmentation"
	"dicom2glb/pkg/visualization"
)

// Output subdirectories created for every input
const (
	SegmentsDir = "segments"
	STLDir      = "stls"
	GLBDir      = "glbs"
	PreviewDir  = "previews"
)

// Options holds the batch parameters
type Options struct {
	Input  string
	Output string
	Tasks  []string

	Modality   segmentation.Modality
	Speed      segmentation.Speed
	Multilabel bool
	Statistics bool
	Device     string

	// Merge exports one GLB per input holding every task
	Merge bool
	// Previews saves middle slices of every label map
	Previews bool
}

// Driver runs the pipeline over a directory of scans
type Driver struct {
	Options   Options
	Segmenter segmentation.Segmenter
	Extractor *extraction.Extractor
	Assembler *scene.Assembler
	Logger    *slog.Logger
	// Out receives progress messages
	Out io.Writer
}

// Run processes every discovered input in order. A failing input is
// recorded in the summary and the batch moves on; Run itself fails only
// when the batch cannot start or ctx is cancelled.
func (d *Driver) Run(ctx context.Context) (*Summary, error) {
	opts := d.Options
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	out := d.Out
	if out == nil {
		out = io.Discard
	}

	if err := segmentation.ValidateTasks(opts.Modality, opts.Tasks); err != nil {
		return nil, err
	}
	if d.Segmenter == nil || d.Extractor == nil || d.Assembler == nil {
		return nil, errors.New("batch driver is missing a pipeline stage")
	}
	if err := os.MkdirAll(opts.Output, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	inputs, err := Discover(opts.Input, opts.Output)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no NIfTI files or DICOM directories found in %s", opts.Input)
	}
	log.Info("discovered inputs", "count", len(inputs), "dir", opts.Input)

	summary := &Summary{}
	start := time.Now()
	for i, in := range inputs {
		if err := ctx.Err(); err != nil {
			summary.Duration = time.Since(start)
			return summary, err
		}

		fmt.Fprintf(out, "Step %d/%d: processing %s (%s)\n", i+1, len(inputs), in.Name, in.Kind)
		began := time.Now()
		files, err := d.process(ctx, in, log.With("input", in.Name))
		outcome := Outcome{Input: in, Files: files, Duration: time.Since(began), Err: err}
		if err != nil {
			log.Error("input failed", "input", in.Name, "error", err)
		}
		summary.Outcomes = append(summary.Outcomes, outcome)
	}
	summary.Duration = time.Since(start)
	return summary, nil
}

// process runs every task on one input and returns the exported files
func (d *Driver) process(ctx context.Context, in Input, log *slog.Logger) ([]string, error) {
	opts := d.Options
	base := filepath.Join(opts.Output, in.Name)
	// meshes and scenes from an earlier run must not leak into this one
	for _, dir := range []string{STLDir, GLBDir} {
		if err := os.RemoveAll(filepath.Join(base, dir)); err != nil {
			return nil, fmt.Errorf("failed to clear output directory: %w", err)
		}
	}
	for _, dir := range []string{SegmentsDir, STLDir, GLBDir} {
		if err := os.MkdirAll(filepath.Join(base, dir), 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	src := in.Path
	switch in.Kind {
	case NIfTI:
		if isGzip(src) {
			dst := filepath.Join(base, in.Name+".nii")
			if err := decompress(src, dst); err != nil {
				return nil, err
			}
			log.Debug("decompressed input", "file", dst)
			src = dst
		}
	case DICOM:
		modality, err := Modality(in.Path)
		switch {
		case err != nil:
			log.Warn("could not read series modality", "error", err)
		case !strings.EqualFold(modality, string(opts.Modality)):
			log.Warn("series modality differs from requested modality", "series", modality, "requested", opts.Modality)
		}
	}

	var files []string
	meshes := 0
	for _, task := range opts.Tasks {
		glb, n, err := d.runTask(ctx, in, src, base, task, log.With("task", task))
		if err != nil {
			return files, fmt.Errorf("task %s: %w", task, err)
		}
		meshes += n
		if glb != "" {
			files = append(files, glb)
		}
	}

	if opts.Merge {
		if meshes == 0 {
			log.Warn("no task produced meshes, skipping merged scene")
			return files, nil
		}
		a := *d.Assembler
		a.Options.Recursive = true
		glb := filepath.Join(base, GLBDir, in.Name+".glb")
		if err := assembleAndExport(&a, filepath.Join(base, STLDir), glb); err != nil {
			return files, err
		}
		log.Info("exported merged scene", "file", glb)
		files = append(files, glb)
	}
	return files, nil
}

// runTask segments, extracts and, unless merging, exports one task.
// It returns the exported file, if any, and the number of meshes written.
func (d *Driver) runTask(ctx context.Context, in Input, src, base, task string, log *slog.Logger) (string, int, error) {
	opts := d.Options
	segOut := filepath.Join(base, SegmentsDir, task)
	if opts.Multilabel {
		segOut += ".nii.gz"
	}
	if err := os.RemoveAll(segOut); err != nil {
		return "", 0, fmt.Errorf("failed to clear segmentation output: %w", err)
	}
	err := d.Segmenter.Segment(ctx, src, segOut, segmentation.Options{
		Task:       task,
		Speed:      opts.Speed,
		Multilabel: opts.Multilabel,
		Statistics: opts.Statistics,
		Device:     opts.Device,
	})
	if err != nil {
		return "", 0, err
	}

	stlDir := filepath.Join(base, STLDir, task)
	var result *extraction.Result
	if opts.Multilabel {
		result, err = d.Extractor.ExtractLabelMap(segOut, stlDir)
	} else {
		result, err = d.Extractor.ExtractStructures(segOut, stlDir)
	}
	if errors.Is(err, extraction.ErrEmptyLabelMap) {
		log.Warn("segmentation found no structures")
		return "", 0, nil
	}
	if err != nil {
		return "", 0, err
	}
	n := len(result.Structures)
	log.Info("extracted meshes", "count", len(result.Structures), "skipped", len(result.Skipped))

	if opts.Previews && opts.Multilabel {
		if err := savePreviews(segOut, filepath.Join(base, PreviewDir), task); err != nil {
			log.Warn("failed to save previews", "error", err)
		}
	}

	if opts.Merge || n == 0 {
		return "", n, nil
	}
	glb := filepath.Join(base, GLBDir, in.Name+"_"+task+".glb")
	if err := assembleAndExport(d.Assembler, stlDir, glb); err != nil {
		return "", n, err
	}
	log.Info("exported scene", "file", glb)
	return glb, n, nil
}

func assembleAndExport(a *scene.Assembler, stlDir, glb string) error {
	s, err := a.Assemble(stlDir)
	if err != nil {
		return err
	}
	return export.WriteGLB(s, glb)
}

func savePreviews(labelMap, dir, task string) error {
	vol, _, err := nifti.ReadFile(labelMap)
	if err != nil {
		return err
	}
	_, err = visualization.NewViewer(vol).SaveMiddleSlices(dir, task)
	return err
}
