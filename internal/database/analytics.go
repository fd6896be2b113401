package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// RecordAnalytics appends an analytics event. Missing id, date and
// created_at are filled in.
func (db *DB) RecordAnalytics(ctx context.Context, ev AnalyticsEvent) error {
	now := db.now().UTC()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Date == "" {
		ev.Date = now.Format("2006-01-02")
	}
	if ev.CreatedAt == "" {
		ev.CreatedAt = db.timestamp()
	}

	var meta *string
	if ev.Metadata != nil {
		data, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("encoding analytics metadata: %w", err)
		}
		s := string(data)
		meta = &s
	}

	var cityID *string
	if ev.CityID != "" {
		cityID = &ev.CityID
	}

	_, err := db.exec(ctx,
		`INSERT INTO analytics_events (id, date, metric_type, metric_value, city_id, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Date, ev.MetricType, ev.MetricValue, cityID, meta, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording analytics: %w", err)
	}
	return nil
}

// ListAnalytics returns a city's analytics events, newest first.
func (db *DB) ListAnalytics(ctx context.Context, cityID string) ([]AnalyticsEvent, error) {
	rows, err := db.query(ctx,
		`SELECT id, date, metric_type, metric_value, city_id, metadata, created_at
		 FROM analytics_events WHERE city_id = ? ORDER BY created_at DESC, id`, cityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []AnalyticsEvent
	for rows.Next() {
		var ev AnalyticsEvent
		var city, meta *string
		if err := rows.Scan(&ev.ID, &ev.Date, &ev.MetricType, &ev.MetricValue, &city, &meta, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if city != nil {
			ev.CityID = *city
		}
		if meta != nil {
			if err := json.Unmarshal([]byte(*meta), &ev.Metadata); err != nil {
				ev.Metadata = nil
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// GetStats returns aggregate counts across the store.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	s := &Stats{}

	rows, err := db.query(ctx, `SELECT status, COUNT(*) FROM cities GROUP BY status`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			rows.Close()
			return nil, err
		}
		s.Cities += n
		switch CityStatus(st) {
		case CityDraft:
			s.DraftCities = n
		case CityActive:
			s.ActiveCities = n
		case CityArchived:
			s.ArchivedCities = n
		}
	}
	rows.Close()

	rows, err = db.query(ctx, `SELECT status, COUNT(*) FROM city_elements GROUP BY status`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			rows.Close()
			return nil, err
		}
		s.Elements += n
		switch st {
		case "approved":
			s.Approved = n
		case "pending":
			s.Pending = n
		case "rejected":
			s.Rejected = n
		}
	}
	rows.Close()

	if err := db.queryRow(ctx, `SELECT COUNT(*) FROM analytics_events`).Scan(&s.AnalyticsEvents); err != nil {
		return nil, err
	}
	return s, nil
}
