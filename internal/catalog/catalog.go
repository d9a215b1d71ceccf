// Package catalog defines the ordered milestone catalog that every progress
// computation is measured against.
package catalog

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Milestone is one named checkpoint in the tracked process.
type Milestone struct {
	// Key is the stable identifier used in the status document.
	Key string `yaml:"key" json:"key"`
	// Label is the short display name.
	Label string `yaml:"label" json:"label"`
	// Detail is a one-line description shown under the label.
	Detail string `yaml:"detail" json:"detail"`
}

// Catalog is an immutable, ordered list of milestones. Order defines progress.
type Catalog struct {
	milestones []Milestone
	index      map[string]int
}

// ErrEmpty signals a catalog without milestones.
var ErrEmpty = errors.New("catalog has no milestones")

var defaultMilestones = []Milestone{
	{Key: "idea_locked", Label: "idea locked", Detail: "you know what you're building"},
	{Key: "first_screen", Label: "first screen", Detail: "something real on the page"},
	{Key: "features_added", Label: "features added", Detail: "it does things now"},
	{Key: "deployed", Label: "deployed", Detail: "live on the internet"},
	{Key: "shared", Label: "shared", Detail: "someone else has seen it"},
}

// Default returns the built-in five step catalog.
func Default() *Catalog {
	c, err := New(defaultMilestones...)
	if err != nil {
		panic(fmt.Sprintf("default catalog invalid: %v", err))
	}
	return c
}

// New validates and builds a Catalog. Keys must be non-empty and unique.
func New(milestones ...Milestone) (*Catalog, error) {
	if len(milestones) == 0 {
		return nil, ErrEmpty
	}
	c := &Catalog{
		milestones: make([]Milestone, 0, len(milestones)),
		index:      make(map[string]int, len(milestones)),
	}
	for i, m := range milestones {
		m.Key = strings.TrimSpace(m.Key)
		if m.Key == "" {
			return nil, fmt.Errorf("milestone %d: key is required", i)
		}
		if _, dup := c.index[m.Key]; dup {
			return nil, fmt.Errorf("milestone %d: duplicate key %q", i, m.Key)
		}
		if m.Label == "" {
			m.Label = m.Key
		}
		c.index[m.Key] = i
		c.milestones = append(c.milestones, m)
	}
	return c, nil
}

type fileFormat struct {
	Milestones []Milestone `yaml:"milestones"`
}

// LoadFile reads a YAML catalog of the form {milestones: [{key, label, detail}]}.
func LoadFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var doc fileFormat
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	c, err := New(doc.Milestones...)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Len reports the number of milestones.
func (c *Catalog) Len() int {
	return len(c.milestones)
}

// At returns the milestone at position i (0-based).
func (c *Catalog) At(i int) Milestone {
	return c.milestones[i]
}

// IndexOf returns the 0-based position of key, or -1.
func (c *Catalog) IndexOf(key string) int {
	if i, ok := c.index[key]; ok {
		return i
	}
	return -1
}

// Keys returns the milestone keys in catalog order.
func (c *Catalog) Keys() []string {
	keys := make([]string, len(c.milestones))
	for i, m := range c.milestones {
		keys[i] = m.Key
	}
	return keys
}

// All iterates milestones in catalog order.
func (c *Catalog) All() iter.Seq2[int, Milestone] {
	return func(yield func(int, Milestone) bool) {
		for i, m := range c.milestones {
			if !yield(i, m) {
				return
			}
		}
	}
}
