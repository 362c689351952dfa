package core

import (
	"errors"
	"fmt"
	"strings"
)

// Category is one L1 entry with its ordered L2 children.
type Category struct {
	Name     string
	Children []string
}

// Taxonomy is the ordered two-level category tree. Order is the
// configured order and is preserved in prompts and listings.
type Taxonomy struct {
	categories []Category
	index      map[string]int
}

// NewTaxonomy validates and builds a taxonomy from ordered entries.
func NewTaxonomy(categories []Category) (Taxonomy, error) {
	var problems []string
	index := make(map[string]int, len(categories))
	out := make([]Category, 0, len(categories))

	for i, c := range categories {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			problems = append(problems, fmt.Sprintf("category #%d has an empty name", i+1))
			continue
		}
		if _, dup := index[name]; dup {
			problems = append(problems, fmt.Sprintf("duplicate category %q", name))
			continue
		}

		seen := make(map[string]struct{}, len(c.Children))
		children := make([]string, 0, len(c.Children))
		for _, child := range c.Children {
			child = strings.TrimSpace(child)
			if child == "" {
				problems = append(problems, fmt.Sprintf("category %q has an empty sub-category", name))
				continue
			}
			if _, dup := seen[child]; dup {
				problems = append(problems, fmt.Sprintf("category %q lists %q twice", name, child))
				continue
			}
			seen[child] = struct{}{}
			children = append(children, child)
		}

		index[name] = len(out)
		out = append(out, Category{Name: name, Children: children})
	}

	if len(problems) > 0 {
		return Taxonomy{}, fmt.Errorf("%w: %s", ErrInvalidTaxonomy, strings.Join(problems, "; "))
	}
	return Taxonomy{categories: out, index: index}, nil
}

// ErrInvalidTaxonomy marks a taxonomy that failed load-time validation.
var ErrInvalidTaxonomy = errors.New("invalid taxonomy")

func (t Taxonomy) Len() int {
	return len(t.categories)
}

func (t Taxonomy) IsEmpty() bool {
	return len(t.categories) == 0
}

// Has reports whether l1 is a configured top-level category.
func (t Taxonomy) Has(l1 string) bool {
	_, ok := t.index[l1]
	return ok
}

// HasPair reports whether l2 is configured under l1.
func (t Taxonomy) HasPair(l1, l2 string) bool {
	i, ok := t.index[l1]
	if !ok {
		return false
	}
	for _, c := range t.categories[i].Children {
		if c == l2 {
			return true
		}
	}
	return false
}

// L1Names returns the top-level names in configured order.
func (t Taxonomy) L1Names() []string {
	names := make([]string, len(t.categories))
	for i, c := range t.categories {
		names[i] = c.Name
	}
	return names
}

// L2Names returns a copy of the children of l1, or nil if l1 is unknown.
func (t Taxonomy) L2Names(l1 string) []string {
	i, ok := t.index[l1]
	if !ok {
		return nil
	}
	return append([]string(nil), t.categories[i].Children...)
}

// Categories returns a deep copy of the ordered entries.
func (t Taxonomy) Categories() []Category {
	out := make([]Category, len(t.categories))
	for i, c := range t.categories {
		out[i] = Category{Name: c.Name, Children: append([]string(nil), c.Children...)}
	}
	return out
}

// Clone returns an independent copy.
func (t Taxonomy) Clone() Taxonomy {
	index := make(map[string]int, len(t.index))
	for k, v := range t.index {
		index[k] = v
	}
	return Taxonomy{categories: t.Categories(), index: index}
}
