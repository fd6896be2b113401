// Package element defines city elements: the typed facts the research
// pipeline extracts about a city, their payloads, keys and statuses.
package element

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Type identifies what kind of fact an element describes.
type Type string

const (
	Slang    Type = "slang"
	Landmark Type = "landmark"
	Sport    Type = "sport"
	Cultural Type = "cultural"
)

// Types lists the known element types in canonical order.
var Types = []Type{Slang, Landmark, Sport, Cultural}

// ParseType maps a raw identifier onto a known Type.
func ParseType(s string) (Type, bool) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Types {
		if t == known {
			return t, true
		}
	}
	return t, false
}

// Status is the review state of an element.
type Status string

const (
	Approved Status = "approved"
	Pending  Status = "pending"
	Rejected Status = "rejected"
)

// EffectiveStatus is the status an element is stored with. A model-reported
// approval only sticks when the element carries a payload.
func EffectiveStatus(reported Status, v Value) Status {
	if Status(strings.ToLower(string(reported))) == Approved && v != nil && !v.IsEmpty() {
		return Approved
	}
	return Pending
}

// Element is one atomic fact about a city.
type Element struct {
	ID        string
	CityID    string
	Type      Type
	Key       string
	Value     Value
	Status    Status
	Notes     string
	CreatedAt *string
	UpdatedAt *string
}

type elementJSON struct {
	ID        string          `json:"id,omitempty"`
	CityID    string          `json:"city_id,omitempty"`
	Type      Type            `json:"element_type"`
	Key       string          `json:"element_key"`
	Value     json.RawMessage `json:"element_value"`
	Status    Status          `json:"status"`
	Notes     string          `json:"notes"`
	CreatedAt *string         `json:"created_at,omitempty"`
	UpdatedAt *string         `json:"updated_at,omitempty"`
}

// MarshalJSON flattens the payload variant into a plain object.
func (e Element) MarshalJSON() ([]byte, error) {
	fields := map[string]any{}
	if e.Value != nil {
		fields = e.Value.Fields()
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return json.Marshal(elementJSON{
		ID:        e.ID,
		CityID:    e.CityID,
		Type:      e.Type,
		Key:       e.Key,
		Value:     raw,
		Status:    e.Status,
		Notes:     e.Notes,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	})
}

// UnmarshalJSON decodes element_value into the variant selected by
// element_type. Scalar fields given as numbers or booleans are stringified.
func (e *Element) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("element is null")
	}

	t, _ := ParseType(scalarString(raw["element_type"]))
	key := scalarString(raw["element_key"])
	v, err := DecodeValue(t, raw["element_value"])
	if err != nil {
		return fmt.Errorf("element %q: %w", key, err)
	}
	*e = Element{
		ID:        scalarString(raw["id"]),
		CityID:    scalarString(raw["city_id"]),
		Type:      t,
		Key:       key,
		Value:     v,
		Status:    Status(strings.ToLower(strings.TrimSpace(scalarString(raw["status"])))),
		Notes:     scalarString(raw["notes"]),
		CreatedAt: optionalString(raw["created_at"]),
		UpdatedAt: optionalString(raw["updated_at"]),
	}
	return nil
}

// scalarString renders a JSON string, number or boolean as text. Anything
// else, including null and missing fields, is empty.
func scalarString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return ""
}

func optionalString(raw json.RawMessage) *string {
	s := scalarString(raw)
	if s == "" {
		return nil
	}
	return &s
}
