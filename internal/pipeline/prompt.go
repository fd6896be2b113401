package pipeline

import (
	"fmt"
	"strings"

	"github.com/TobiSchelling/cityresearch/internal/catalog"
	"github.com/TobiSchelling/cityresearch/internal/element"
)

const synthesisPrompt = `You are building a structured knowledge base about %s for a content-generation product.

Research gathered per category:

%s

Extract concrete, specific city elements from the research for these categories: %s.

Coverage targets:
%s

Rules for each element:
- element_type is one of: %s
- element_key is lowercase letters, digits and underscores only (e.g. "the_d"), unique within its element_type
- element_value is an object:
    slang: term, meaning, usage, popularity
    landmark: name, type, significance, year
    sport: team, league, sport, venue
    cultural: name, category, description
- status is "approved" when the research clearly supports the element, otherwise "pending"
- notes says briefly where the element comes from or how confident you are

Respond with ONLY this JSON:
{
    "elements": [
        {"element_type": "slang", "element_key": "the_d", "element_value": {"term": "The D", "meaning": "Detroit"}, "status": "approved", "notes": "common nickname"}
    ],
    "summary": "Two or three sentences on the city's character",
    "confidence_scores": {%s}
}`

const noResearch = "(No research text was available. Use only well-established, widely known facts and mark every element pending.)"

func buildSynthesisPrompt(city string, cats []catalog.Category, queries []Query, th element.Thresholds) string {
	names := make(map[element.Type]string, len(cats))
	ids := make([]string, len(cats))
	scores := make([]string, len(cats))
	var targets []string
	for i, c := range cats {
		names[c.ID] = c.Name
		ids[i] = string(c.ID)
		scores[i] = fmt.Sprintf(`"%s": 0.0`, c.ID)
		if n := minimumFor(c.ID, th); n > 0 {
			targets = append(targets, fmt.Sprintf("- at least %d %s elements", n, c.ID))
		} else {
			targets = append(targets, fmt.Sprintf("- %s elements where the research supports them", c.ID))
		}
	}

	var sections []string
	for _, q := range queries {
		if q.ResponseText == "" {
			continue
		}
		sections = append(sections, fmt.Sprintf("### %s\n%s", names[q.Category], q.ResponseText))
	}
	body := strings.Join(sections, "\n\n")
	if body == "" {
		body = noResearch
	}

	return fmt.Sprintf(synthesisPrompt,
		city,
		body,
		strings.Join(ids, ", "),
		strings.Join(targets, "\n"),
		strings.Join(ids, ", "),
		strings.Join(scores, ", "),
	)
}

func minimumFor(t element.Type, th element.Thresholds) int {
	switch t {
	case element.Slang:
		return th.Slang
	case element.Landmark:
		return th.Landmark
	case element.Sport:
		return th.Sport
	}
	return 0
}
