// Package report renders a research result as Markdown or a standalone HTML
// page.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/TobiSchelling/cityresearch/internal/catalog"
	"github.com/TobiSchelling/cityresearch/internal/element"
	"github.com/TobiSchelling/cityresearch/internal/pipeline"
)

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

var page = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 52rem; margin: 2rem auto; padding: 0 1rem; line-height: 1.5; color: #222; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: .25rem .6rem; text-align: left; }
blockquote { border-left: 4px solid #ddd; margin-left: 0; padding-left: 1rem; color: #555; }
code { background: #f4f4f4; padding: 0 .2rem; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// Markdown renders res as a Markdown document: summary, coverage,
// confidence scores, then elements grouped by type.
func Markdown(res *pipeline.Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# City research: %s\n\n", res.CityName)
	meta := []string{"Generated " + res.Timestamp}
	if res.SynthesisBy != "" {
		meta = append(meta, "synthesis by "+res.SynthesisBy)
	}
	fmt.Fprintf(&b, "_%s_\n\n", strings.Join(meta, " · "))

	if res.Synthesis != "" {
		fmt.Fprintf(&b, "> %s\n\n", strings.ReplaceAll(res.Synthesis, "\n", "\n> "))
	}

	b.WriteString("## Coverage\n\n")
	b.WriteString("| Type | Synthesized | Stored |\n|---|---|---|\n")
	fmt.Fprintf(&b, "| slang | %d | %d |\n", res.Counts.Slang, res.Persisted.Slang)
	fmt.Fprintf(&b, "| landmark | %d | %d |\n", res.Counts.Landmark, res.Persisted.Landmark)
	fmt.Fprintf(&b, "| sport | %d | %d |\n", res.Counts.Sport, res.Persisted.Sport)
	fmt.Fprintf(&b, "| cultural | %d | %d |\n\n", res.Counts.Cultural, res.Persisted.Cultural)
	fmt.Fprintf(&b, "Stored %d of %d elements", res.Stored, len(res.Elements))
	if res.Failed > 0 {
		fmt.Fprintf(&b, " (%d failed)", res.Failed)
	}
	if res.Persisted.IsValid {
		b.WriteString(". Coverage minimums met.\n\n")
	} else {
		fmt.Fprintf(&b, ". **Below minimums:** %s.\n\n", strings.Join(res.Persisted.Shortfalls(), ", "))
	}

	if len(res.ConfidenceScores) > 0 {
		b.WriteString("## Confidence\n\n")
		keys := make([]string, 0, len(res.ConfidenceScores))
		for k := range res.ConfidenceScores {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %.2f\n", k, res.ConfidenceScores[k])
		}
		b.WriteString("\n")
	}

	var sections []string
	for _, t := range element.Types {
		sec := elementSection(t, res.Elements)
		if sec != "" {
			sections = append(sections, sec)
		}
	}
	if other := otherSection(res.Elements); other != "" {
		sections = append(sections, other)
	}
	b.WriteString(strings.Join(sections, "\n\n---\n\n"))

	if len(res.Queries) > 0 {
		b.WriteString("\n\n## Research sources\n\n")
		for _, q := range res.Queries {
			if q.ResponseText == "" {
				fmt.Fprintf(&b, "- %s: no text returned\n", q.Category)
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", q.Category, q.Provider)
		}
	}
	return b.String()
}

// HTML renders res as a standalone HTML page.
func HTML(res *pipeline.Result) ([]byte, error) {
	var body bytes.Buffer
	if err := md.Convert([]byte(Markdown(res)), &body); err != nil {
		return nil, fmt.Errorf("rendering markdown: %w", err)
	}

	var out bytes.Buffer
	err := page.Execute(&out, struct {
		Title string
		Body  template.HTML
	}{
		Title: "City research: " + res.CityName,
		Body:  template.HTML(body.String()), //nolint: gosec
	})
	if err != nil {
		return nil, fmt.Errorf("rendering page: %w", err)
	}
	return out.Bytes(), nil
}

func elementSection(t element.Type, elems []element.Element) string {
	var lines []string
	for _, e := range elems {
		if e.Type == t {
			lines = append(lines, elementLine(e))
		}
	}
	if len(lines) == 0 {
		return ""
	}
	title := string(t)
	if c, ok := catalog.Lookup(string(t)); ok {
		title = c.Name
	}
	return fmt.Sprintf("## %s (%d)\n\n%s", title, len(lines), strings.Join(lines, "\n"))
}

func otherSection(elems []element.Element) string {
	var lines []string
	for _, e := range elems {
		if _, ok := element.ParseType(string(e.Type)); !ok {
			lines = append(lines, elementLine(e))
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return fmt.Sprintf("## Other (%d)\n\n%s", len(lines), strings.Join(lines, "\n"))
}

func elementLine(e element.Element) string {
	key := e.Key
	if key == "" {
		key = "(no key)"
	}
	line := fmt.Sprintf("- **%s** `%s` (%s)", label(e), key, e.Status)
	if details := fieldsText(e.Value); details != "" {
		line += ": " + details
	}
	if e.Notes != "" {
		line += " _" + e.Notes + "_"
	}
	return line
}

func label(e element.Element) string {
	if e.Value != nil {
		if l := e.Value.Label(); l != "" {
			return l
		}
	}
	return e.Key
}

func fieldsText(v element.Value) string {
	if v == nil {
		return ""
	}
	fields := v.Fields()
	labelValue := v.Label()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		s := fmt.Sprint(fields[k])
		if s == labelValue {
			continue
		}
		parts = append(parts, k+": "+s)
	}
	return strings.Join(parts, "; ")
}
