package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// InsertCity creates a draft city and returns it.
func (db *DB) InsertCity(ctx context.Context, name string) (*City, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("city name is empty")
	}
	now := db.timestamp()
	c := &City{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    CityDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := db.exec(ctx,
		`INSERT INTO cities (id, name, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Name, string(c.Status), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting city: %w", err)
	}
	return c, nil
}

// GetCity returns a city by id.
func (db *DB) GetCity(ctx context.Context, id string) (*City, error) {
	row := db.queryRow(ctx,
		`SELECT id, name, status, created_at, updated_at FROM cities WHERE id = ?`, id)
	return scanCity(row)
}

// FindCityByName returns the oldest city whose name matches case-insensitively.
func (db *DB) FindCityByName(ctx context.Context, name string) (*City, error) {
	row := db.queryRow(ctx,
		`SELECT id, name, status, created_at, updated_at FROM cities
		 WHERE LOWER(name) = LOWER(?) ORDER BY created_at LIMIT 1`, strings.TrimSpace(name))
	return scanCity(row)
}

// ListCities returns all cities ordered by name.
func (db *DB) ListCities(ctx context.Context) ([]City, error) {
	rows, err := db.query(ctx,
		`SELECT id, name, status, created_at, updated_at FROM cities ORDER BY name, created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cities []City
	for rows.Next() {
		var c City
		var status string
		if err := rows.Scan(&c.ID, &c.Name, &status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.Status = CityStatus(status)
		cities = append(cities, c)
	}
	return cities, rows.Err()
}

// SetCityStatus updates a city's lifecycle status.
func (db *DB) SetCityStatus(ctx context.Context, id string, status CityStatus) error {
	switch status {
	case CityDraft, CityActive, CityArchived:
	default:
		return fmt.Errorf("unknown city status %q", status)
	}
	res, err := db.exec(ctx,
		`UPDATE cities SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), db.timestamp(), id,
	)
	if err != nil {
		return fmt.Errorf("updating city status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrCityNotFound, id)
	}
	return nil
}

func scanCity(row *sql.Row) (*City, error) {
	var c City
	var status string
	err := row.Scan(&c.ID, &c.Name, &status, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCityNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Status = CityStatus(status)
	return &c, nil
}
