package pipeline

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/TobiSchelling/cityresearch/internal/element"
	"github.com/TobiSchelling/cityresearch/internal/logger"
)

// synthesisPayload is the JSON object the synthesis prompt asks for.
// Elements are decoded one at a time so a malformed item does not discard
// the rest. Confidence scores may be numbers or strings.
type synthesisPayload struct {
	Elements         []json.RawMessage `json:"elements"`
	Summary          string            `json:"summary"`
	ConfidenceScores map[string]any    `json:"confidence_scores"`
}

type synthesis struct {
	Elements         []element.Element
	Summary          string
	ConfidenceScores map[string]float64
	// Undecodable counts items of the elements array that were not objects
	// of the expected shape.
	Undecodable int
}

// normalize decodes each element, resolves keys, applies the status
// downgrade rule and clamps confidence scores into [0, 1]. Elements that
// resolve to the same type and key are merged into the first one; a later
// duplicate only contributes its payload when the first has none.
func (sp synthesisPayload) normalize(cityID string, log *logger.Logger) *synthesis {
	s := &synthesis{
		Elements: make([]element.Element, 0, len(sp.Elements)),
		Summary:  strings.TrimSpace(sp.Summary),
	}
	index := make(map[string]int)
	for i, raw := range sp.Elements {
		var e element.Element
		if err := json.Unmarshal(raw, &e); err != nil {
			s.Undecodable++
			log.Warn("skipping undecodable element", "index", i, "error", err)
			continue
		}
		if e.Value == nil {
			e.Value, _ = element.DecodeValue(e.Type, nil)
		}
		e.CityID = cityID
		e.Key = element.ResolveKey(e)
		e.Status = element.EffectiveStatus(e.Status, e.Value)
		e.Notes = strings.TrimSpace(e.Notes)

		if e.Key != "" {
			id := string(e.Type) + "/" + e.Key
			if j, ok := index[id]; ok {
				first := &s.Elements[j]
				if first.Value.IsEmpty() && !e.Value.IsEmpty() {
					first.Value, first.Status, first.Notes = e.Value, e.Status, e.Notes
				}
				log.Warn("dropping duplicate element", "type", e.Type, "key", e.Key)
				continue
			}
			index[id] = len(s.Elements)
		}
		s.Elements = append(s.Elements, e)
	}

	if len(sp.ConfidenceScores) > 0 {
		s.ConfidenceScores = make(map[string]float64, len(sp.ConfidenceScores))
		for k, v := range sp.ConfidenceScores {
			f, ok := toFloat(v)
			if !ok {
				continue
			}
			s.ConfidenceScores[strings.ToLower(strings.TrimSpace(k))] = clamp01(f)
		}
	}
	return s
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
