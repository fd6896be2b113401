package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/TobiSchelling/cityresearch/internal/element"
)

// UpsertElement inserts an element or, when (city, type, key) already
// exists, overwrites its value, status, notes and updated_at.
func (db *DB) UpsertElement(ctx context.Context, cityID string, typ element.Type, key string, value element.Value, status element.Status, notes string) error {
	if !element.ValidKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	fields := map[string]any{}
	if value != nil {
		fields = value.Fields()
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encoding element value: %w", err)
	}

	now := db.timestamp()
	_, err = db.exec(ctx, `
INSERT INTO city_elements (id, city_id, element_type, element_key, element_value, status, notes, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (city_id, element_type, element_key) DO UPDATE SET
    element_value = excluded.element_value,
    status = excluded.status,
    notes = excluded.notes,
    updated_at = excluded.updated_at`,
		uuid.NewString(), cityID, string(typ), key, string(data), string(status), notes, now, now,
	)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("upserting %s/%s: %w: %s", typ, key, ErrCityNotFound, cityID)
	}
	if err != nil {
		return fmt.Errorf("upserting %s/%s: %w", typ, key, err)
	}
	return nil
}

// GetCityElements returns every stored element of a city ordered by type
// then key.
func (db *DB) GetCityElements(ctx context.Context, cityID string) ([]element.Element, error) {
	rows, err := db.query(ctx, `
SELECT id, city_id, element_type, element_key, element_value, status, notes, created_at, updated_at
FROM city_elements WHERE city_id = ?
ORDER BY element_type, element_key`, cityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var elems []element.Element
	for rows.Next() {
		var (
			e         element.Element
			typ, st   string
			raw       string
			createdAt string
			updatedAt string
		)
		if err := rows.Scan(&e.ID, &e.CityID, &typ, &e.Key, &raw, &st, &e.Notes, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		e.Type, _ = element.ParseType(typ)
		e.Status = element.Status(st)
		e.CreatedAt = &createdAt
		e.UpdatedAt = &updatedAt
		e.Value, err = element.DecodeValue(e.Type, json.RawMessage(raw))
		if err != nil {
			db.log.Warn("undecodable element value", "city_id", cityID, "key", e.Key, "error", err)
			e.Value, _ = element.DecodeValue(e.Type, nil)
		}
		elems = append(elems, e)
	}
	return elems, rows.Err()
}

// CountElementsByStatus returns a city's element count per status.
func (db *DB) CountElementsByStatus(ctx context.Context, cityID string) (map[element.Status]int, error) {
	rows, err := db.query(ctx,
		`SELECT status, COUNT(*) FROM city_elements WHERE city_id = ? GROUP BY status`, cityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[element.Status]int)
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[element.Status(st)] = n
	}
	return counts, rows.Err()
}
