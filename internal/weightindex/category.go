package weightindex

import (
	"sort"
	"strings"
)

// Category is a substring bucket. A name can fall into several categories.
type Category struct {
	Label string // matched against the lowercased parameter name
	Title string
	Limit int // 0 lists every match
}

// DefaultCategories is the fixed inspection order.
var DefaultCategories = []Category{
	{Label: "embed", Title: "Embedding"},
	{Label: "token", Title: "Token"},
	{Label: "norm", Title: "Norm", Limit: 10},
	{Label: "transformer", Title: "Transformer", Limit: 10},
}

// Categorize returns the sorted names whose lowercase form contains label.
func Categorize(weightMap map[string]string, label string) []string {
	out := []string{}
	for name := range weightMap {
		if strings.Contains(strings.ToLower(name), label) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// CategoryResult is one category of a Summary. Count is the full match count;
// Names is truncated to the category limit.
type CategoryResult struct {
	Category  Category `json:"-"`
	Label     string   `json:"label"`
	Count     int      `json:"count"`
	Names     []string `json:"names"`
	Truncated bool     `json:"truncated,omitempty"`
}

type Summary struct {
	Categories []CategoryResult `json:"categories"`
	Shards     map[string]int   `json:"shards,omitempty"`
	Total      int              `json:"total"`
}

// Summarize buckets every name of idx into cats.
func Summarize(idx *Index, cats []Category) Summary {
	s := Summary{
		Categories: make([]CategoryResult, 0, len(cats)),
		Total:      len(idx.WeightMap),
	}
	for _, c := range cats {
		names := Categorize(idx.WeightMap, c.Label)
		res := CategoryResult{Category: c, Label: c.Label, Count: len(names), Names: names}
		if c.Limit > 0 && len(names) > c.Limit {
			res.Names = names[:c.Limit]
			res.Truncated = true
		}
		s.Categories = append(s.Categories, res)
	}
	return s
}
