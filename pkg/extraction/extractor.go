// Package extraction turns segmentation label maps into one STL surface
// per anatomical structure.
package extraction

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"dicom2glb/internal/models"
	"dicom2glb/pkg/classmap"
	"dicom2glb/pkg/mesh"
	"dicom2glb/pkg/nifti"
	"dicom2glb/pkg/stl"
	"dicom2glb/pkg/volume"
)

var (
	// ErrUnreadableVolume is returned when a label map cannot be decoded
	ErrUnreadableVolume = errors.New("unreadable volume")

	// ErrNoScalarData is returned when a label map carries no voxels
	ErrNoScalarData = nifti.ErrNoScalarData

	// ErrEmptyLabelMap is returned when a label map holds only background
	ErrEmptyLabelMap = errors.New("label map has no labels")
)

// StatisticsFile is written next to the meshes when statistics are enabled
const StatisticsFile = "mesh_statistics.yaml"

// Options holds the surface extraction parameters
type Options struct {
	// IsoValue is the threshold applied to the binary label mask
	IsoValue float64

	// SmoothIterations and RelaxationFactor control Laplacian smoothing
	SmoothIterations int
	RelaxationFactor float64

	// MergeTolerance is the point merge distance of the clean step
	MergeTolerance float64

	// Decimate enables simplification by TargetReduction
	Decimate        bool
	TargetReduction float64

	// ApplyAffine maps vertices through the full voxel-to-world affine
	// instead of the voxel spacing only
	ApplyAffine bool

	// Statistics writes StatisticsFile into the output directory
	Statistics bool
}

// DefaultOptions returns the extraction defaults
func DefaultOptions() Options {
	return Options{
		IsoValue:         0.5,
		SmoothIterations: 70,
		RelaxationFactor: 0.1,
		MergeTolerance:   1e-4,
		TargetReduction:  0.5,
	}
}

// Structure is one mesh written by the extractor
type Structure struct {
	Label int             `yaml:"label"`
	Name  string          `yaml:"name"`
	File  string          `yaml:"file"`
	Stats mesh.Statistics `yaml:"statistics"`
}

// Result lists what an extraction produced
type Result struct {
	Task       string      `yaml:"task"`
	Source     string      `yaml:"source"`
	Structures []Structure `yaml:"structures"`
	// Skipped names the labels or files that yielded no surface
	Skipped []string `yaml:"skipped,omitempty"`
}

// Files returns the written STL paths in extraction order
func (r *Result) Files() []string {
	files := make([]string, len(r.Structures))
	for i, s := range r.Structures {
		files[i] = s.File
	}
	return files
}

// Extractor converts label maps to meshes
type Extractor struct {
	Options Options
	Classes classmap.ClassMap
	Logger  *slog.Logger
}

// NewExtractor creates an extractor. A nil class map names every
// structure by its label.
func NewExtractor(opts Options, classes classmap.ClassMap) *Extractor {
	return &Extractor{
		Options: opts,
		Classes: classes,
		Logger:  slog.Default(),
	}
}

func (e *Extractor) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// TaskName returns the task a label map belongs to, which is its file
// name without the NIfTI extension
func TaskName(path string) string {
	base := filepath.Base(path)
	for _, ext := range []string{".nii.gz", ".nii"} {
		if strings.HasSuffix(strings.ToLower(base), ext) {
			return base[:len(base)-len(ext)]
		}
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// IsNIfTI reports whether a path names a NIfTI file
func IsNIfTI(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".nii") || strings.HasSuffix(lower, ".nii.gz")
}

// load reads a label map and maps reader failures to the extractor errors
func load(path string) (*models.Volume, error) {
	vol, _, err := nifti.ReadFile(path)
	switch {
	case errors.Is(err, nifti.ErrNoScalarData):
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrUnreadableVolume, err)
	}
	return vol, nil
}

// ExtractLabelMap writes one STL per non-zero label of a multi-label map
func (e *Extractor) ExtractLabelMap(path, outDir string) (*Result, error) {
	task := TaskName(path)
	log := e.logger().With("task", task)

	vol, err := load(path)
	if err != nil {
		return nil, err
	}
	labels := volume.Labels(vol)
	if len(labels) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyLabelMap)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	log.Info("extracting label map", "file", path, "labels", len(labels),
		"dims", fmt.Sprintf("%dx%dx%d", vol.Width, vol.Height, vol.Depth))

	result := &Result{Task: task, Source: path}
	used := make(map[string]bool)
	for _, label := range labels {
		name := fileName(e.Classes.Lookup(task, label))
		if used[name] {
			name = name + "_" + strconv.Itoa(label)
		}
		used[name] = true

		s, err := e.extract(volume.Mask(vol, label), filepath.Join(outDir, name+".stl"), log.With("label", label, "name", name))
		if err != nil {
			if errors.Is(err, mesh.ErrEmptyMesh) {
				log.Warn("label produced no surface", "label", label, "name", name)
				result.Skipped = append(result.Skipped, name)
				continue
			}
			return result, err
		}
		s.Label = label
		s.Name = name
		result.Structures = append(result.Structures, *s)
	}

	if err := e.writeStatistics(result, outDir); err != nil {
		return result, err
	}
	return result, nil
}

// ExtractStructures converts a directory of per-structure masks, one STL
// per file named after the file
func (e *Extractor) ExtractStructures(dir, outDir string) (*Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read mask directory: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && IsNIfTI(entry.Name()) {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: no masks found: %w", dir, ErrEmptyLabelMap)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	result := &Result{Task: filepath.Base(dir), Source: dir}
	log := e.logger().With("task", result.Task)
	for _, file := range files {
		name := fileName(TaskName(file))
		vol, err := load(filepath.Join(dir, file))
		if err != nil {
			log.Warn("skipping mask", "file", file, "error", err)
			result.Skipped = append(result.Skipped, name)
			continue
		}
		if volume.IsEmpty(vol) {
			log.Debug("empty mask", "file", file)
			result.Skipped = append(result.Skipped, name)
			continue
		}

		s, err := e.extract(volume.Foreground(vol), filepath.Join(outDir, name+".stl"), log.With("name", name))
		if err != nil {
			if errors.Is(err, mesh.ErrEmptyMesh) {
				log.Warn("mask produced no surface", "file", file)
				result.Skipped = append(result.Skipped, name)
				continue
			}
			return result, err
		}
		s.Name = name
		result.Structures = append(result.Structures, *s)
	}

	if len(result.Structures) == 0 {
		return result, fmt.Errorf("%s: all masks are empty: %w", dir, ErrEmptyLabelMap)
	}
	if err := e.writeStatistics(result, outDir); err != nil {
		return result, err
	}
	return result, nil
}

// extract runs the surface pipeline on a binary mask and writes the STL
func (e *Extractor) extract(mask *models.Volume, path string, log *slog.Logger) (*Structure, error) {
	m, err := e.Surface(mask)
	if err != nil {
		return nil, err
	}
	if err := m.SaveSTL(path); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", path, err)
	}
	stats := m.Stats()
	log.Debug("wrote mesh", "file", path, "triangles", stats.Triangles, "area", stats.SurfaceArea)
	return &Structure{File: path, Stats: stats}, nil
}

// Surface extracts, smooths, cleans and optionally decimates the
// isosurface of a binary mask in world coordinates
func (e *Extractor) Surface(mask *models.Volume) (*mesh.Mesh, error) {
	opts := e.Options
	padded := volume.Pad(mask, 1, 0)
	mc := stl.NewMarchingCubes(padded.Data, padded.Width, padded.Height, padded.Depth, opts.IsoValue)
	m := mesh.FromSurface(mc.GenerateMesh())
	if m.Empty() {
		return nil, mesh.ErrEmptyMesh
	}

	// grid index of the padded volume -> voxel index -> world
	var world mat.Dense
	world.Mul(mask.VoxelToWorld(opts.ApplyAffine), translation(-1, -1, -1))
	m.Transform(&world)
	if mat.Det(world.Slice(0, 3, 0, 3)) < 0 {
		m.Flip()
	}

	m.Smooth(opts.SmoothIterations, opts.RelaxationFactor)

	if cleaned, err := m.Clean(opts.MergeTolerance); err != nil {
		e.logger().Warn("clean failed, keeping uncleaned mesh", "error", err)
	} else {
		m = cleaned
	}

	if opts.Decimate {
		decimated, err := m.Decimate(opts.TargetReduction)
		if err != nil {
			e.logger().Warn("decimation failed, keeping full mesh", "error", err)
		} else {
			m = decimated
		}
	}
	return m, nil
}

func (e *Extractor) writeStatistics(r *Result, outDir string) error {
	if !e.Options.Statistics {
		return nil
	}
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode mesh statistics: %w", err)
	}
	path := filepath.Join(outDir, StatisticsFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write mesh statistics: %w", err)
	}
	return nil
}

func translation(x, y, z float64) *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, x,
		0, 1, 0, y,
		0, 0, 1, z,
		0, 0, 0, 1,
	})
}

var unsafeNameChars = strings.NewReplacer("/", "_", "\\", "_", " ", "_")

// fileName makes a class name safe to use as a file stem
func fileName(name string) string {
	name = unsafeNameChars.Replace(strings.TrimSpace(name))
	if name == "" || name == "." || name == ".." {
		return "unnamed"
	}
	return name
}
