package scene

import (
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fogleman/fauxgl"
	"gonum.org/v1/gonum/spatial/r3"

	"dicom2glb/pkg/mesh"
)

// Options controls scene assembly
type Options struct {
	// Recursive imports STL files from subdirectories too
	Recursive bool
	// Rotate bakes a half turn about Z followed by a half turn about Y
	// into every object
	Rotate bool
	// Grouping reparents objects under the group tree
	Grouping bool
}

// DefaultOptions returns the assembly defaults
func DefaultOptions() Options {
	return Options{Recursive: true, Rotate: true}
}

// Assembler builds scenes from directories of STL files
type Assembler struct {
	Options Options
	Groups  *GroupDef
	Logger  *slog.Logger
}

// NewAssembler creates an assembler. A nil group tree selects the
// built-in one.
func NewAssembler(opts Options, groups *GroupDef) *Assembler {
	if groups == nil {
		groups = DefaultGroups()
	}
	return &Assembler{Options: opts, Groups: groups, Logger: slog.Default()}
}

// orientation maps the segmentation frame to the viewer frame
func orientation() fauxgl.Matrix {
	return fauxgl.Rotate(fauxgl.V(0, 1, 0), math.Pi).Mul(fauxgl.Rotate(fauxgl.V(0, 0, 1), math.Pi))
}

// Assemble imports every STL file of dir into a new scene
func (a *Assembler) Assemble(dir string) (*Scene, error) {
	log := a.Logger
	if log == nil {
		log = slog.Default()
	}

	files, err := a.findSTL(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no STL files in %s", dir)
	}

	s := New()
	for _, file := range files {
		fm, err := fauxgl.LoadSTL(file)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
		if a.Options.Rotate {
			fm.Transform(orientation())
		}
		m := fromFauxgl(fm)
		if m.Empty() {
			log.Warn("skipping empty mesh", "file", file)
			continue
		}
		name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		o := s.Add(name, file, m)
		log.Debug("imported mesh", "name", name, "bucket", o.Bucket, "triangles", len(o.Mesh.Faces))
	}
	if len(s.Objects) == 0 {
		return nil, fmt.Errorf("all STL files in %s are empty", dir)
	}

	if a.Options.Grouping {
		s.Group(a.Groups)
	}
	log.Info("assembled scene", "dir", dir, "objects", len(s.Objects),
		"materials", len(s.Materials()), "groups", len(s.Root.Groups))
	return s, nil
}

// findSTL lists the STL files of dir in lexical path order
func (a *Assembler) findSTL(dir string) ([]string, error) {
	var files []string
	if !a.Options.Recursive {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", dir, err)
		}
		for _, e := range entries {
			if !e.IsDir() && isSTL(e.Name()) {
				files = append(files, filepath.Join(dir, e.Name()))
			}
		}
		return files, nil
	}

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isSTL(d.Name()) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

func isSTL(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".stl")
}

// fromFauxgl converts a triangle soup into an indexed mesh, sharing
// coincident vertices
func fromFauxgl(fm *fauxgl.Mesh) *mesh.Mesh {
	m := &mesh.Mesh{Faces: make([][3]int, 0, len(fm.Triangles))}
	index := make(map[fauxgl.Vector]int)
	vertex := func(v fauxgl.Vector) int {
		if i, ok := index[v]; ok {
			return i
		}
		i := len(m.Vertices)
		index[v] = i
		m.Vertices = append(m.Vertices, r3.Vec{X: v.X, Y: v.Y, Z: v.Z})
		return i
	}
	for _, t := range fm.Triangles {
		a, b, c := vertex(t.V1.Position), vertex(t.V2.Position), vertex(t.V3.Position)
		if a == b || b == c || a == c {
			continue
		}
		m.Faces = append(m.Faces, [3]int{a, b, c})
	}
	m.ComputeNormals()
	return m
}
