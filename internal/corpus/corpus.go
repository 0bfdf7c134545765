// Package corpus enumerates the evaluation corpus: a directory of
// image/document files classified into categories, or a CSV question list.
package corpus

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hephlab/ragprobe/pkg/models"
)

// itemExtensions are the file types treated as corpus members.
var itemExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".pdf":  true,
}

// Rule maps a filename prefix to a category. Rules are tried in order;
// first match wins.
type Rule struct {
	Prefix   string
	Category string
}

// CatchAllCategory collects root-level files no rule matches.
const CatchAllCategory = "other"

// DefaultRules classify the flat document-page layout produced by the
// ingestion pipeline, where page images carry their manual's section prefix.
var DefaultRules = []Rule{
	{"1.0", "1.0_lvds_harness"},
	{"1.1", "1.1_cable_design"},
	{"1.2", "1.2_wire_harness_process"},
	{"1.3", "1.3_wh_harness"},
	{"1.4", "1.4_ffc_design"},
	{"2.0", "2.0_external_wiring"},
	{"2.1", "2.1_ec_process"},
	{"2.2", "2.2_external_wiring_apps"},
	{"3.0", "3.0_automotive_wire"},
	{"3.1", "3.1_at_cable_design"},
	{"QSA", "qsa_audit"},
	{"Wire", "wire_harness_intro"},
	{"cable", "cable_training"},
}

// Catalog is a stable, deterministic mapping from category to ordered items.
type Catalog struct {
	categories []string
	items      map[string][]models.TestItem
}

// Categories returns category names in sorted order.
func (c *Catalog) Categories() []string {
	return c.categories
}

// Items returns the members of a category, sorted lexicographically by ID.
func (c *Catalog) Items(category string) []models.TestItem {
	return c.items[category]
}

// Len returns the total item count across all categories.
func (c *Catalog) Len() int {
	n := 0
	for _, items := range c.items {
		n += len(items)
	}
	return n
}

// Filter returns a catalog restricted to the selected categories. Unknown
// names are ignored; an empty selection returns the catalog unchanged.
func (c *Catalog) Filter(selected []string) *Catalog {
	if len(selected) == 0 {
		return c
	}
	keep := make(map[string]bool, len(selected))
	for _, s := range selected {
		keep[s] = true
	}

	out := &Catalog{items: make(map[string][]models.TestItem)}
	for _, cat := range c.categories {
		if keep[cat] {
			out.categories = append(out.categories, cat)
			out.items[cat] = c.items[cat]
		}
	}
	return out
}

// Discover walks root and builds the catalog. Subdirectory names become
// categories with their direct files as members; root-level files are
// classified by prefix rules with a catch-all. An empty catalog is not an
// error; the caller decides whether that matters.
func Discover(root string, rules []Rule) (*Catalog, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus directory: %w", err)
	}

	items := make(map[string][]models.TestItem)

	for _, entry := range entries {
		if entry.IsDir() {
			category := entry.Name()
			members, err := directFiles(filepath.Join(root, category))
			if err != nil {
				return nil, err
			}
			for _, path := range members {
				items[category] = append(items[category], models.TestItem{
					ID:           path,
					Category:     category,
					ArtifactPath: path,
				})
			}
			continue
		}

		if !itemExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		category := classify(entry.Name(), rules)
		path := filepath.Join(root, entry.Name())
		items[category] = append(items[category], models.TestItem{
			ID:           path,
			Category:     category,
			ArtifactPath: path,
		})
	}

	return build(items), nil
}

// directFiles lists corpus files directly inside dir, without recursing.
func directFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read category directory: %w", err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if itemExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	return paths, nil
}

// classify applies the prefix rules in order, first match wins.
func classify(filename string, rules []Rule) string {
	for _, rule := range rules {
		if strings.HasPrefix(filename, rule.Prefix) {
			return rule.Category
		}
	}
	return CatchAllCategory
}

// build sorts categories and members so repeated discovery of an unchanged
// directory yields identical output.
func build(items map[string][]models.TestItem) *Catalog {
	c := &Catalog{items: items}
	for cat := range items {
		c.categories = append(c.categories, cat)
		sort.Slice(items[cat], func(i, j int) bool {
			return items[cat][i].ID < items[cat][j].ID
		})
	}
	sort.Strings(c.categories)
	return c
}
