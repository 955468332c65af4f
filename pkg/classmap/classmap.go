// Package classmap resolves segmentation labels to anatomical class names.
package classmap

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed classmap.yaml
var defaultClassMap []byte

// ClassMap maps task name -> label -> class name
type ClassMap map[string]map[int]string

// Default returns the class map of the built-in tasks
func Default() ClassMap {
	m, err := Parse(defaultClassMap)
	if err != nil {
		panic(fmt.Sprintf("embedded class map: %v", err))
	}
	return m
}

// Load reads a class map from a YAML or JSON file
func Load(path string) (ClassMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read class map: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse class map %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes a class map document. JSON documents are valid YAML and
// decode the same way; label keys may be quoted or bare integers.
func Parse(data []byte) (ClassMap, error) {
	var raw map[string]map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	m := make(ClassMap, len(raw))
	for task, labels := range raw {
		m[task] = make(map[int]string, len(labels))
		for key, name := range labels {
			label, err := strconv.Atoi(key)
			if err != nil {
				return nil, fmt.Errorf("task %s: label %q is not an integer", task, key)
			}
			if label <= 0 {
				return nil, fmt.Errorf("task %s: label %d is not a structure label", task, label)
			}
			if name == "" {
				return nil, fmt.Errorf("task %s: label %d has no name", task, label)
			}
			m[task][label] = name
		}
	}
	return m, nil
}

// Merge returns a copy of c with the entries of other layered on top
func (c ClassMap) Merge(other ClassMap) ClassMap {
	out := make(ClassMap, len(c)+len(other))
	for _, src := range []ClassMap{c, other} {
		for task, labels := range src {
			if out[task] == nil {
				out[task] = make(map[int]string, len(labels))
			}
			for label, name := range labels {
				out[task][label] = name
			}
		}
	}
	return out
}

// Lookup returns the class name of label in task, falling back to the
// decimal label
func (c ClassMap) Lookup(task string, label int) string {
	if name, ok := c[task][label]; ok {
		return name
	}
	return strconv.Itoa(label)
}

// Tasks lists the tasks with known labels in lexical order
func (c ClassMap) Tasks() []string {
	tasks := make([]string, 0, len(c))
	for task := range c {
		tasks = append(tasks, task)
	}
	sort.Strings(tasks)
	return tasks
}
