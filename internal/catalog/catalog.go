// Package catalog holds the static label to content mapping shown next to
// a prediction.
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

// MaxItems is the number of entries kept per content kind.
const MaxItems = 3

// indexPrefix marks a key that refers to a vocabulary position ("#0").
const indexPrefix = "#"

//go:embed default.json
var defaultDocument []byte

var validate = validator.New()

// Entry is the curated content declared for one label.
type Entry struct {
	Texts  []string `json:"texts,omitempty"`
	Images []string `json:"images,omitempty"`
	Videos []string `json:"videos,omitempty"`
}

// Content is what a lookup returns: blank items dropped, at most MaxItems each.
type Content struct {
	Texts  []string `json:"texts"`
	Images []string `json:"images"`
	Videos []string `json:"videos"`
}

// Empty reports whether there is nothing to show for the label.
func (c Content) Empty() bool {
	return len(c.Texts) == 0 && len(c.Images) == 0 && len(c.Videos) == 0
}

func (c Content) clone() Content {
	return Content{
		Texts:  append([]string{}, c.Texts...),
		Images: append([]string{}, c.Images...),
		Videos: append([]string{}, c.Videos...),
	}
}

// Catalog is immutable once built.
type Catalog struct {
	content map[string]Content
}

func New(entries map[string]Entry) (*Catalog, error) {
	content := make(map[string]Content, len(entries))
	for key, entry := range entries {
		key = strings.TrimSpace(key)
		if err := validate.Var(key, "required,max=256"); err != nil {
			return nil, fmt.Errorf("invalid catalog label %q: %w", key, err)
		}
		if _, dup := content[key]; dup {
			return nil, fmt.Errorf("duplicate catalog label %q", key)
		}
		content[key] = Content{
			Texts:  pickTop(entry.Texts),
			Images: pickTop(entry.Images),
			Videos: pickTop(entry.Videos),
		}
	}
	return &Catalog{content: content}, nil
}

// Parse reads a JSON object mapping labels to entries.
func Parse(raw []byte) (*Catalog, error) {
	var entries map[string]Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return New(entries)
}

// Default returns the catalog bundled with the binary.
func Default() (*Catalog, error) {
	return Parse(defaultDocument)
}

// Load reads the catalog at path, or the bundled one when path is empty.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(raw)
}

// Bind resolves "#N" keys against the classifier vocabulary and returns a
// new catalog keyed by label names only.
func (c *Catalog) Bind(labels []string) (*Catalog, error) {
	bound := make(map[string]Content, len(c.content))
	for key, content := range c.content {
		label := key
		if strings.HasPrefix(key, indexPrefix) {
			idx, err := strconv.Atoi(strings.TrimPrefix(key, indexPrefix))
			if err != nil || idx < 0 || idx >= len(labels) {
				return nil, fmt.Errorf("catalog key %q does not match a label index (have %d labels)", key, len(labels))
			}
			label = labels[idx]
		}
		if _, dup := bound[label]; dup {
			return nil, fmt.Errorf("catalog declares label %q twice", label)
		}
		bound[label] = content
	}
	return &Catalog{content: bound}, nil
}

// Lookup returns the content for label. Unknown labels yield empty content.
func (c *Catalog) Lookup(label string) Content {
	content, ok := c.content[label]
	if !ok {
		return Content{Texts: []string{}, Images: []string{}, Videos: []string{}}
	}
	return content.clone()
}

// Labels lists the labels that have content, sorted.
func (c *Catalog) Labels() []string {
	labels := lo.Keys(c.content)
	sort.Strings(labels)
	return labels
}

func pickTop(items []string) []string {
	kept := lo.Filter(items, func(item string, _ int) bool {
		return strings.TrimSpace(item) != ""
	})
	return lo.Slice(kept, 0, MaxItems)
}
