package category

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/goccy/go-yaml"
	"github.com/microcosm-cc/bluemonday"
)

//go:embed categories.yaml
var defaultDocument []byte

var (
	ErrEmptyID          = errors.New("category id must not be empty")
	ErrInvalidThreshold = errors.New("confidence threshold must be within [0, 1]")
	ErrInvalidClass     = errors.New("class id must not be negative")
	ErrNoCategories     = errors.New("document defines no categories")
)

// Category is a semantic content label that one or more model classes map onto.
type Category struct {
	ID                  string   `yaml:"-" json:"id"`
	Label               string   `yaml:"label" json:"label"`
	Description         string   `yaml:"description,omitempty" json:"description,omitempty"`
	ImagenetClasses     []int    `yaml:"imagenetClasses" json:"imagenetClasses"`
	EnabledByDefault    *bool    `yaml:"enabledByDefault,omitempty" json:"enabledByDefault,omitempty"`
	ConfidenceThreshold *float64 `yaml:"confidenceThreshold,omitempty" json:"confidenceThreshold,omitempty"`
}

// Profile is a named policy preset shipped with the category document.
type Profile struct {
	Name               string             `yaml:"-" json:"name"`
	Label              string             `yaml:"label" json:"label"`
	Categories         map[string]bool    `yaml:"categories" json:"categories"`
	CategoryThresholds map[string]float64 `yaml:"categoryThresholds" json:"categoryThresholds"`
	GlobalThreshold    *float64           `yaml:"globalThreshold,omitempty" json:"globalThreshold,omitempty"`
}

type document struct {
	Categories yaml.MapSlice      `yaml:"categories"`
	Profiles   map[string]Profile `yaml:"profiles"`
}

// Index maps raw model class ids to content categories. It is immutable
// once built and safe for concurrent readers.
type Index struct {
	order      []string
	categories map[string]Category
	byClass    map[int][]string
	profiles   map[string]Profile
}

// Default returns the index built from the embedded category document.
func Default() *Index {
	idx, err := Parse(defaultDocument)
	if err != nil {
		panic(fmt.Sprintf("category: embedded document is invalid: %v", err))
	}
	return idx
}

// Load reads and parses a category document from disk.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read category document: %w", err)
	}
	return Parse(data)
}

// Parse builds an index from a JSON or YAML category document. The order of
// the categories in the document becomes the match order for every class.
func Parse(data []byte) (*Index, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse category document: %w", err)
	}
	if len(doc.Categories) == 0 {
		return nil, ErrNoCategories
	}

	sanitizer := bluemonday.StrictPolicy()
	idx := &Index{
		order:      make([]string, 0, len(doc.Categories)),
		categories: make(map[string]Category, len(doc.Categories)),
		byClass:    make(map[int][]string),
		profiles:   make(map[string]Profile, len(doc.Profiles)),
	}

	for _, item := range doc.Categories {
		id := fmt.Sprint(item.Key)
		if id == "" {
			return nil, ErrEmptyID
		}

		// Values arrive as generic maps; round-trip them into the typed form.
		raw, err := yaml.Marshal(item.Value)
		if err != nil {
			return nil, fmt.Errorf("category %q: %w", id, err)
		}
		var cat Category
		if err := yaml.Unmarshal(raw, &cat); err != nil {
			return nil, fmt.Errorf("category %q: %w", id, err)
		}
		cat.ID = id
		cat.Label = sanitizer.Sanitize(cat.Label)
		cat.Description = sanitizer.Sanitize(cat.Description)
		if cat.Label == "" {
			cat.Label = id
		}
		if t := cat.ConfidenceThreshold; t != nil && (*t < 0 || *t > 1) {
			return nil, fmt.Errorf("category %q: %w", id, ErrInvalidThreshold)
		}

		if _, dup := idx.categories[id]; !dup {
			idx.order = append(idx.order, id)
		}
		idx.categories[id] = cat

		for _, class := range cat.ImagenetClasses {
			if class < 0 {
				return nil, fmt.Errorf("category %q: %w", id, ErrInvalidClass)
			}
			if !contains(idx.byClass[class], id) {
				idx.byClass[class] = append(idx.byClass[class], id)
			}
		}
	}

	for name, p := range doc.Profiles {
		p.Name = name
		p.Label = sanitizer.Sanitize(p.Label)
		idx.profiles[name] = p
	}

	return idx, nil
}

// Lookup returns the categories a class maps onto, in document order. The
// returned slice is a copy.
func (i *Index) Lookup(classID int) []string {
	matched := i.byClass[classID]
	if len(matched) == 0 {
		return nil
	}
	return append([]string(nil), matched...)
}

// Category returns the category with the given id.
func (i *Index) Category(id string) (Category, bool) {
	c, ok := i.categories[id]
	return c, ok
}

// Categories returns every category in document order.
func (i *Index) Categories() []Category {
	out := make([]Category, 0, len(i.order))
	for _, id := range i.order {
		out = append(out, i.categories[id])
	}
	return out
}

// IDs returns every category id in document order.
func (i *Index) IDs() []string {
	return append([]string(nil), i.order...)
}

// Profile returns a named preset.
func (i *Index) Profile(name string) (Profile, bool) {
	p, ok := i.profiles[name]
	return p, ok
}

// Profiles returns the preset names sorted alphabetically.
func (i *Index) Profiles() []string {
	names := make([]string, 0, len(i.profiles))
	for name := range i.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Classes returns the number of distinct class ids with at least one category.
func (i *Index) Classes() int {
	return len(i.byClass)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
