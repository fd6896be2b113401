// Package catalog maps research categories to display names and the seed
// keywords used to build research queries.
package catalog

import (
	"fmt"
	"strings"

	"github.com/TobiSchelling/cityresearch/internal/element"
)

// Category is one researchable kind of city element.
type Category struct {
	ID       element.Type
	Name     string
	Keywords []string
}

var categories = map[element.Type]Category{
	element.Slang: {
		ID:   element.Slang,
		Name: "Local Slang & Expressions",
		Keywords: []string{
			"local slang terms",
			"nicknames for the city and its neighborhoods",
			"regional expressions and sayings",
			"words locals use that outsiders don't",
			"pronunciation quirks",
		},
	},
	element.Landmark: {
		ID:   element.Landmark,
		Name: "Landmarks & Places",
		Keywords: []string{
			"famous landmarks",
			"historic buildings",
			"iconic neighborhoods",
			"parks and public spaces",
			"beloved local restaurants and bars",
		},
	},
	element.Sport: {
		ID:   element.Sport,
		Name: "Sports Teams & Affiliations",
		Keywords: []string{
			"professional sports teams",
			"college teams with local following",
			"stadiums and arenas",
			"sports rivalries",
			"legendary local athletes",
		},
	},
	element.Cultural: {
		ID:   element.Cultural,
		Name: "Culture & Traditions",
		Keywords: []string{
			"signature local foods",
			"music scenes and famous musicians",
			"annual festivals and events",
			"local traditions and customs",
			"city history and pride points",
		},
	},
}

// Lookup returns the category for id, case-insensitively.
func Lookup(id string) (Category, bool) {
	t, ok := element.ParseType(id)
	if !ok {
		return Category{}, false
	}
	c, ok := categories[t]
	return c, ok
}

// All returns every category in canonical order.
func All() []Category {
	out := make([]Category, 0, len(element.Types))
	for _, t := range element.Types {
		out = append(out, categories[t])
	}
	return out
}

// Resolve maps requested ids onto categories, dropping duplicates. Unknown
// ids are returned separately so the caller can warn about them. An empty
// request selects every category.
func Resolve(ids []string) (known []Category, unknown []string) {
	if len(ids) == 0 {
		return All(), nil
	}
	seen := make(map[element.Type]bool)
	for _, id := range ids {
		c, ok := Lookup(id)
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		known = append(known, c)
	}
	return known, unknown
}

// Query builds the natural-language research query for city.
func (c Category) Query(city string) string {
	return fmt.Sprintf(
		"Research %s for %s. Cover: %s. Give specific names, what each means or why it matters, and how locals refer to it.",
		strings.ToLower(c.Name), city, strings.Join(c.Keywords, ", "),
	)
}

// Render fills a caller-supplied query template. Supported placeholders are
// {city}, {category} and {keywords}.
func (c Category) Render(template, city string) string {
	r := strings.NewReplacer(
		"{city}", city,
		"{category}", c.Name,
		"{keywords}", strings.Join(c.Keywords, ", "),
	)
	return r.Replace(template)
}
