// Package export writes assembled scenes as binary glTF.
package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"dicom2glb/pkg/scene"
)

const (
	extClearcoat = "KHR_materials_clearcoat"
	extSpecular  = "KHR_materials_specular"
)

// ErrEmptyScene is returned when there is nothing to export
var ErrEmptyScene = errors.New("scene has no objects")

// WriteGLB writes the scene to path as a single binary glTF 2.0 file
func WriteGLB(s *scene.Scene, path string) error {
	doc, err := Build(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := gltf.SaveBinary(doc, path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Build converts a scene into a glTF document. Each used material
// bucket becomes one material, each object one mesh and node, and each
// group an empty node parenting its members.
func Build(s *scene.Scene) (*gltf.Document, error) {
	if len(s.Objects) == 0 {
		return nil, ErrEmptyScene
	}
	doc := gltf.NewDocument()
	doc.Asset.Generator = "dicom2glb"

	materials := make(map[*scene.Material]uint32)
	for _, m := range s.Materials() {
		materials[m] = uint32(len(doc.Materials))
		doc.Materials = append(doc.Materials, material(m))
	}
	if len(doc.Materials) > 0 {
		doc.ExtensionsUsed = append(doc.ExtensionsUsed, extClearcoat, extSpecular)
	}

	b := &builder{doc: doc, materials: materials}
	roots := b.group(&s.Root)
	doc.Scenes[0].Name = "dicom2glb"
	doc.Scenes[0].Nodes = roots
	return doc, nil
}

func material(m *scene.Material) *gltf.Material {
	var color [4]float32
	for i, c := range m.Color {
		color[i] = float32(c)
	}
	out := &gltf.Material{
		Name: m.Name,
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			BaseColorFactor: &color,
			MetallicFactor:  gltf.Float(float32(m.Metallic)),
			RoughnessFactor: gltf.Float(float32(m.Roughness)),
		},
		Extensions: gltf.Extensions{
			extClearcoat: map[string]any{
				"clearcoatFactor":          m.Clearcoat,
				"clearcoatRoughnessFactor": m.Roughness,
			},
			extSpecular: map[string]any{
				"specularFactor": m.Specular,
			},
		},
	}
	if color[3] < 1 {
		out.AlphaMode = gltf.AlphaBlend
	}
	return out
}

type builder struct {
	doc       *gltf.Document
	materials map[*scene.Material]uint32
}

// group adds the children of g and returns their node indices, groups
// first and objects after
func (b *builder) group(g *scene.Group) []uint32 {
	var nodes []uint32
	for _, child := range g.Groups {
		children := b.group(child)
		nodes = append(nodes, b.node(&gltf.Node{Name: child.Name, Children: children}))
	}
	for _, o := range g.Objects {
		nodes = append(nodes, b.object(o))
	}
	return nodes
}

func (b *builder) node(n *gltf.Node) uint32 {
	b.doc.Nodes = append(b.doc.Nodes, n)
	return uint32(len(b.doc.Nodes) - 1)
}

func (b *builder) object(o *scene.Object) uint32 {
	m := o.Mesh
	if len(m.Normals) != len(m.Vertices) {
		m.ComputeNormals()
	}
	positions := make([][3]float32, len(m.Vertices))
	normals := make([][3]float32, len(m.Vertices))
	for i, v := range m.Vertices {
		positions[i] = [3]float32{float32(v.X), float32(v.Y), float32(v.Z)}
		n := m.Normals[i]
		normals[i] = [3]float32{float32(n.X), float32(n.Y), float32(n.Z)}
	}
	indices := make([]uint32, 0, 3*len(m.Faces))
	for _, f := range m.Faces {
		indices = append(indices, uint32(f[0]), uint32(f[1]), uint32(f[2]))
	}

	primitive := &gltf.Primitive{
		Attributes: gltf.Attribute{
			gltf.POSITION: modeler.WritePosition(b.doc, positions),
			gltf.NORMAL:   modeler.WriteNormal(b.doc, normals),
		},
		Indices: gltf.Index(modeler.WriteIndices(b.doc, indices)),
	}
	if idx, ok := b.materials[o.Material]; ok {
		primitive.Material = gltf.Index(idx)
	}
	b.doc.Meshes = append(b.doc.Meshes, &gltf.Mesh{
		Name:       o.Name,
		Primitives: []*gltf.Primitive{primitive},
	})
	return b.node(&gltf.Node{Name: o.Name, Mesh: gltf.Index(uint32(len(b.doc.Meshes) - 1))})
}
