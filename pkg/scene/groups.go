package scene

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed groups.yaml
var defaultGroups []byte

// GroupDef is a node of the group definition tree: a leaf lists name
// substrings, a branch holds ordered named children.
type GroupDef struct {
	Name     string
	Match    []string
	Children []*GroupDef
}

// IsLeaf reports whether the node matches objects directly
func (g *GroupDef) IsLeaf() bool {
	return g.Children == nil
}

// UnmarshalYAML decodes a mapping as a branch and a sequence or a
// single string as a leaf
func (g *GroupDef) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.MappingNode:
		g.Children = []*GroupDef{}
		for i := 0; i+1 < len(value.Content); i += 2 {
			child := &GroupDef{}
			if err := value.Content[i+1].Decode(child); err != nil {
				return err
			}
			child.Name = value.Content[i].Value
			if child.Name == "" {
				return fmt.Errorf("line %d: group without a name", value.Content[i].Line)
			}
			g.Children = append(g.Children, child)
		}
	case yaml.SequenceNode:
		var match []string
		if err := value.Decode(&match); err != nil {
			return err
		}
		g.Match = lowerAll(match)
	case yaml.ScalarNode:
		g.Match = lowerAll([]string{value.Value})
	default:
		return fmt.Errorf("line %d: group must be a mapping or a list", value.Line)
	}
	return nil
}

func lowerAll(s []string) []string {
	out := make([]string, 0, len(s))
	for _, v := range s {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// ParseGroups decodes a group tree document
func ParseGroups(data []byte) (*GroupDef, error) {
	root := &GroupDef{}
	if err := yaml.Unmarshal(data, root); err != nil {
		return nil, err
	}
	if root.IsLeaf() {
		return nil, fmt.Errorf("group tree root must be a mapping")
	}
	return root, nil
}

// LoadGroups reads a group tree from a YAML or JSON file
func LoadGroups(path string) (*GroupDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read group tree: %w", err)
	}
	root, err := ParseGroups(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse group tree %s: %w", path, err)
	}
	return root, nil
}

// DefaultGroups returns the built-in group tree
func DefaultGroups() *GroupDef {
	root, err := ParseGroups(defaultGroups)
	if err != nil {
		panic(fmt.Sprintf("embedded group tree: %v", err))
	}
	return root
}

// leafFor returns the first leaf in depth-first definition order with a
// substring of name, and the path of group names leading to it
func (g *GroupDef) leafFor(name string) []*GroupDef {
	if g.IsLeaf() {
		if containsAny(name, g.Match) {
			return []*GroupDef{g}
		}
		return nil
	}
	for _, child := range g.Children {
		if path := child.leafFor(name); path != nil {
			return append([]*GroupDef{g}, path...)
		}
	}
	return nil
}
