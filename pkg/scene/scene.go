// Package scene assembles per-structure meshes into a classified and
// optionally grouped scene ready for export.
package scene

import (
	"path"
	"sort"
	"strings"

	"dicom2glb/pkg/mesh"
)

// Object is one imported mesh
type Object struct {
	Name     string
	Source   string
	Bucket   string
	Material *Material
	Mesh     *mesh.Mesh
}

// Group is a named node that parents objects and other groups
type Group struct {
	Name    string
	Groups  []*Group
	Objects []*Object
}

// Empty reports whether the group parents nothing
func (g *Group) Empty() bool {
	return len(g.Groups) == 0 && len(g.Objects) == 0
}

// Scene is the result of one assembly. Root is unnamed: its groups and
// objects are the top level of the exported hierarchy.
type Scene struct {
	Root    Group
	Objects []*Object
	Palette Palette
}

// New creates an empty scene with a fresh palette
func New() *Scene {
	return &Scene{Palette: NewPalette()}
}

// Add classifies an object and places it at the scene root
func (s *Scene) Add(name, source string, m *mesh.Mesh) *Object {
	bucket := Classify(name)
	o := &Object{
		Name:     name,
		Source:   source,
		Bucket:   bucket,
		Material: s.Palette.Get(bucket),
		Mesh:     m,
	}
	s.Objects = append(s.Objects, o)
	s.Root.Objects = append(s.Root.Objects, o)
	return o
}

// Materials returns the materials in use, in classification order
func (s *Scene) Materials() []*Material {
	used := make(map[*Material]bool)
	for _, o := range s.Objects {
		used[o.Material] = true
	}
	var out []*Material
	for _, a := range appearance {
		if m := s.Palette[a.Name]; used[m] {
			out = append(out, m)
		}
	}
	return out
}

// Group reparents root objects under the groups of def. Each object
// joins the first leaf matching its lower-cased name; unmatched objects
// stay at the root. Groups left without objects or children are removed.
func (s *Scene) Group(def *GroupDef) {
	if def == nil || def.IsLeaf() {
		return
	}
	nodes := make(map[*GroupDef]*Group)
	var build func(d *GroupDef) *Group
	build = func(d *GroupDef) *Group {
		g := &Group{Name: d.Name}
		nodes[d] = g
		for _, c := range d.Children {
			g.Groups = append(g.Groups, build(c))
		}
		return g
	}
	for _, d := range def.Children {
		s.Root.Groups = append(s.Root.Groups, build(d))
	}

	var ungrouped []*Object
	for _, o := range s.Root.Objects {
		trail := def.leafFor(strings.ToLower(o.Name))
		if trail == nil {
			ungrouped = append(ungrouped, o)
			continue
		}
		leaf := nodes[trail[len(trail)-1]]
		leaf.Objects = append(leaf.Objects, o)
	}
	s.Root.Objects = ungrouped
	prune(&s.Root)
}

// prune removes empty groups bottom-up
func prune(g *Group) {
	kept := g.Groups[:0]
	for _, child := range g.Groups {
		prune(child)
		if !child.Empty() {
			kept = append(kept, child)
		}
	}
	g.Groups = kept
}

// Outline lists every object as "group/path/name: bucket", sorted
func (s *Scene) Outline() []string {
	var lines []string
	var walk func(prefix string, g *Group)
	walk = func(prefix string, g *Group) {
		for _, o := range g.Objects {
			lines = append(lines, path.Join(prefix, o.Name)+": "+o.Bucket)
		}
		for _, c := range g.Groups {
			walk(path.Join(prefix, c.Name), c)
		}
	}
	walk("", &s.Root)
	sort.Strings(lines)
	return lines
}
