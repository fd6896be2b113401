package report

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/cityresearch/internal/element"
	"github.com/TobiSchelling/cityresearch/internal/pipeline"
)

func detroitResult() *pipeline.Result {
	elems := []element.Element{
		{Type: element.Slang, Key: "the_d", Value: &element.SlangValue{Term: "The D", Meaning: "Detroit"}, Status: element.Approved, Notes: "common"},
		{Type: element.Sport, Key: "pistons", Value: &element.SportValue{Team: "Pistons", League: "NBA"}, Status: element.Pending},
	}
	counts := element.CountAndValidate(elems)
	return &pipeline.Result{
		CityID:           "c1",
		CityName:         "Detroit",
		Elements:         elems,
		Synthesis:        "Detroit is the <Motor> City.",
		Timestamp:        "2026-05-01T12:00:00Z",
		ConfidenceScores: map[string]float64{"sport": 0.8, "slang": 0.9},
		Queries: []pipeline.Query{
			{Category: element.Slang, ResponseText: "Locals say the D.", Provider: "perplexity"},
			{Category: element.Sport, ResponseText: "The Pistons play downtown.", Provider: "gemini"},
			{Category: element.Landmark},
		},
		SynthesisBy: "openai",
		Stored:      2,
		Counts:      counts,
		Persisted:   counts,
		State:       pipeline.Completed,
	}
}

func TestMarkdown(t *testing.T) {
	out := Markdown(detroitResult())

	assert.True(t, strings.HasPrefix(out, "# City research: Detroit\n"))
	assert.Contains(t, out, "synthesis by openai")
	assert.Contains(t, out, "> Detroit is the <Motor> City.")
	assert.Contains(t, out, "| slang | 1 | 1 |")
	assert.Contains(t, out, "**Below minimums:** slang 1/5, landmark 0/5, sport 1/3.")
	assert.Contains(t, out, "## Local Slang & Expressions (1)")
	assert.Contains(t, out, "- **The D** `the_d` (approved): meaning: Detroit _common_")
	assert.Contains(t, out, "- **Pistons** `pistons` (pending): league: NBA")
	assert.NotContains(t, out, "Landmarks & Places", "empty types are omitted")
	assert.Less(t, strings.Index(out, "- slang: 0.90"), strings.Index(out, "- sport: 0.80"))
	assert.Contains(t, out, "- sport: gemini")
	assert.Contains(t, out, "- landmark: no text returned")
}

func TestMarkdownOtherTypes(t *testing.T) {
	res := detroitResult()
	res.Elements = append(res.Elements, element.Element{
		Type:   element.Type("cuisine"),
		Key:    "coney",
		Value:  &element.GenericValue{Kind: "cuisine", Extra: map[string]any{"name": "Coney dog"}},
		Status: element.Pending,
	})
	out := Markdown(res)
	assert.Contains(t, out, "## Other (1)")
	assert.Contains(t, out, "**Coney dog** `coney`")
}

func TestHTML(t *testing.T) {
	out, err := HTML(detroitResult())
	require.NoError(t, err)
	html := string(out)

	assert.Contains(t, html, "<title>City research: Detroit</title>")
	assert.Contains(t, html, "<h1>City research: Detroit</h1>")
	assert.Contains(t, html, "<table>")
	assert.Contains(t, html, "<strong>The D</strong>")
	assert.NotContains(t, html, "<Motor>", "raw HTML from model output is not passed through")
}
