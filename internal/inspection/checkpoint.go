// Package inspection holds the checkpoint walk that drives a live vehicle
// inspection: the checklist tree, the engine that steps through it, the
// transcript classifier and the image label cursor.
package inspection

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrEmptyTree = errors.New("checkpoint tree is empty")

// Checkpoint is one inspection slot. It never changes once loaded.
type Checkpoint struct {
	Section  string   `json:"section"`
	Part     string   `json:"part"`
	Question string   `json:"question"`
	Issues   []string `json:"issues,omitempty"`
	Fixes    []string `json:"fixes,omitempty"`
}

type Part struct {
	Name     string   `yaml:"-"`
	Question string   `yaml:"question"`
	Issues   []string `yaml:"issues,omitempty"`
	Fixes    []string `yaml:"fixes,omitempty"`
}

type Section struct {
	Name  string
	Parts []Part
}

// Tree is the section -> part checklist in document order.
type Tree []Section

// Flatten lists every part, sections first then parts, both in tree order.
func (t Tree) Flatten() []Checkpoint {
	n := 0
	for _, s := range t {
		n += len(s.Parts)
	}
	out := make([]Checkpoint, 0, n)
	for _, s := range t {
		for _, p := range s.Parts {
			out = append(out, Checkpoint{
				Section:  s.Name,
				Part:     p.Name,
				Question: p.Question,
				Issues:   append([]string(nil), p.Issues...),
				Fixes:    append([]string(nil), p.Fixes...),
			})
		}
	}
	return out
}

// ParseTree reads a YAML or JSON mapping of section -> part -> {question,
// issues, fixes}. Key order is kept as written.
func ParseTree(data []byte) (Tree, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse checkpoint tree: %w", err)
	}
	doc := &root
	if doc.Kind == yaml.DocumentNode {
		if len(doc.Content) == 0 {
			return nil, ErrEmptyTree
		}
		doc = doc.Content[0]
	}
	if doc.Kind == 0 {
		return nil, ErrEmptyTree
	}
	if doc.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("checkpoint tree: line %d: expected a mapping of sections", doc.Line)
	}

	tree := make(Tree, 0, len(doc.Content)/2)
	for i := 0; i+1 < len(doc.Content); i += 2 {
		name, body := doc.Content[i].Value, doc.Content[i+1]
		if body.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("checkpoint tree: section %q: expected a mapping of parts", name)
		}
		section := Section{Name: name}
		for j := 0; j+1 < len(body.Content); j += 2 {
			part := Part{Name: body.Content[j].Value}
			if err := body.Content[j+1].Decode(&part); err != nil {
				return nil, fmt.Errorf("checkpoint tree: %s/%s: %w", name, part.Name, err)
			}
			part.Name = body.Content[j].Value
			if strings.TrimSpace(part.Question) == "" {
				return nil, fmt.Errorf("checkpoint tree: %s/%s: question is required", name, part.Name)
			}
			section.Parts = append(section.Parts, part)
		}
		tree = append(tree, section)
	}
	if len(tree.Flatten()) == 0 {
		return nil, ErrEmptyTree
	}
	return tree, nil
}

// LoadTree reads a checklist file, or returns DefaultTree when path is empty.
func LoadTree(path string) (Tree, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultTree(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint tree: %w", err)
	}
	return ParseTree(data)
}

// MarshalYAML writes the tree back as an ordered mapping.
func (t Tree) MarshalYAML() (any, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, s := range t {
		parts := &yaml.Node{Kind: yaml.MappingNode}
		for _, p := range s.Parts {
			var body yaml.Node
			if err := body.Encode(struct {
				Question string   `yaml:"question"`
				Issues   []string `yaml:"issues,omitempty"`
				Fixes    []string `yaml:"fixes,omitempty"`
			}{p.Question, p.Issues, p.Fixes}); err != nil {
				return nil, err
			}
			parts.Content = append(parts.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: p.Name}, &body)
		}
		root.Content = append(root.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: s.Name}, parts)
	}
	return root, nil
}

// DefaultTree is the built-in two-wheeler checklist.
func DefaultTree() Tree {
	tyreIssues := []string{"Low tread depth", "Cracks on sidewall", "Puncture"}
	tyreFixes := []string{"Replace tyre", "Repair puncture"}
	return Tree{
		{
			Name: "Exterior",
			Parts: []Part{
				{
					Name:     "Front Tyre",
					Question: "Please describe the condition of the front tyre tread and sidewall.",
					Issues:   tyreIssues,
					Fixes:    tyreFixes,
				},
				{
					Name:     "Rear Tyre",
					Question: "Please describe the condition of the rear tyre tread and sidewall.",
					Issues:   tyreIssues,
					Fixes:    tyreFixes,
				},
			},
		},
		{
			Name: "Interior",
			Parts: []Part{
				{
					Name:     "Dashboard",
					Question: "Are there any warning lights on the dashboard?",
					Issues:   []string{"Engine light on", "Oil pressure light on", "Brake warning light on"},
					Fixes:    []string{"Diagnose with OBD scanner", "Check oil level", "Inspect brake system"},
				},
			},
		},
	}
}
