package element

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Value is the type-specific payload of an element. Each variant exposes
// its known fields and keeps anything else in Extra.
type Value interface {
	Type() Type
	IsEmpty() bool
	// Fields returns the payload as a flat object, known fields and extras merged.
	Fields() map[string]any
	// Label is the payload's primary human-readable field.
	Label() string
}

type SlangValue struct {
	Term       string
	Meaning    string
	Usage      string
	Popularity string
	Extra      map[string]any
}

type LandmarkValue struct {
	Name         string
	Kind         string // "type" in the payload
	Significance string
	Year         string
	Extra        map[string]any
}

type SportValue struct {
	Team   string
	League string
	Sport  string
	Venue  string
	Extra  map[string]any
}

type CulturalValue struct {
	Name        string
	Category    string
	Description string
	Extra       map[string]any
}

// GenericValue holds payloads for element types without a dedicated variant.
type GenericValue struct {
	Kind  Type
	Extra map[string]any
}

func (v *SlangValue) Type() Type    { return Slang }
func (v *LandmarkValue) Type() Type { return Landmark }
func (v *SportValue) Type() Type    { return Sport }
func (v *CulturalValue) Type() Type { return Cultural }
func (v *GenericValue) Type() Type  { return v.Kind }

func (v *SlangValue) Label() string    { return v.Term }
func (v *LandmarkValue) Label() string { return v.Name }
func (v *SportValue) Label() string    { return v.Team }
func (v *CulturalValue) Label() string { return v.Name }
func (v *GenericValue) Label() string {
	for _, k := range []string{"name", "term", "title", "value"} {
		if s, ok := v.Extra[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func (v *SlangValue) Fields() map[string]any {
	return merge(v.Extra, "term", v.Term, "meaning", v.Meaning, "usage", v.Usage, "popularity", v.Popularity)
}

func (v *LandmarkValue) Fields() map[string]any {
	return merge(v.Extra, "name", v.Name, "type", v.Kind, "significance", v.Significance, "year", v.Year)
}

func (v *SportValue) Fields() map[string]any {
	return merge(v.Extra, "team", v.Team, "league", v.League, "sport", v.Sport, "venue", v.Venue)
}

func (v *CulturalValue) Fields() map[string]any {
	return merge(v.Extra, "name", v.Name, "category", v.Category, "description", v.Description)
}

func (v *GenericValue) Fields() map[string]any {
	return merge(v.Extra)
}

func (v *SlangValue) IsEmpty() bool    { return len(v.Fields()) == 0 }
func (v *LandmarkValue) IsEmpty() bool { return len(v.Fields()) == 0 }
func (v *SportValue) IsEmpty() bool    { return len(v.Fields()) == 0 }
func (v *CulturalValue) IsEmpty() bool { return len(v.Fields()) == 0 }
func (v *GenericValue) IsEmpty() bool  { return len(v.Fields()) == 0 }

// DecodeValue builds the variant for t from a raw JSON payload. Null or
// missing payloads decode to an empty variant; non-object payloads are kept
// under Extra["value"].
func DecodeValue(t Type, raw json.RawMessage) (Value, error) {
	m := map[string]any{}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if trimmed[0] == '{' {
			if err := json.Unmarshal(trimmed, &m); err != nil {
				return nil, fmt.Errorf("decoding element_value: %w", err)
			}
		} else {
			var scalar any
			if err := json.Unmarshal(trimmed, &scalar); err != nil {
				return nil, fmt.Errorf("decoding element_value: %w", err)
			}
			m["value"] = scalar
		}
	}
	return valueFromMap(t, m), nil
}

func valueFromMap(t Type, m map[string]any) Value {
	switch t {
	case Slang:
		return &SlangValue{
			Term:       take(m, "term"),
			Meaning:    take(m, "meaning"),
			Usage:      take(m, "usage"),
			Popularity: take(m, "popularity"),
			Extra:      m,
		}
	case Landmark:
		return &LandmarkValue{
			Name:         take(m, "name"),
			Kind:         take(m, "type"),
			Significance: take(m, "significance"),
			Year:         take(m, "year"),
			Extra:        m,
		}
	case Sport:
		return &SportValue{
			Team:   take(m, "team"),
			League: take(m, "league"),
			Sport:  take(m, "sport"),
			Venue:  take(m, "venue"),
			Extra:  m,
		}
	case Cultural:
		return &CulturalValue{
			Name:        take(m, "name"),
			Category:    take(m, "category"),
			Description: take(m, "description"),
			Extra:       m,
		}
	default:
		return &GenericValue{Kind: t, Extra: m}
	}
}

// take removes key from m and returns it as a string. Scalars are
// stringified; objects and arrays are left in m.
func take(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	var s string
	switch x := v.(type) {
	case nil:
		s = ""
	case string:
		s = x
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(x)
	default:
		return ""
	}
	delete(m, key)
	return s
}

// merge copies extra and overlays the non-empty known fields given as
// alternating key/value pairs. Blank strings and empty arrays or objects
// are dropped.
func merge(extra map[string]any, kv ...string) map[string]any {
	out := make(map[string]any, len(extra)+len(kv)/2)
	for k, v := range extra {
		if isBlank(v) {
			continue
		}
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		if strings.TrimSpace(kv[i+1]) != "" {
			out[kv[i]] = kv[i+1]
		}
	}
	return out
}

func isBlank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		for _, item := range x {
			if !isBlank(item) {
				return false
			}
		}
		return true
	case map[string]any:
		for _, item := range x {
			if !isBlank(item) {
				return false
			}
		}
		return true
	}
	return false
}
