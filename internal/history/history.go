// Package history records successful place searches in DuckDB.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Entry is one resolved search.
type Entry struct {
	ID        int64     `json:"id" doc:"Entry ID"`
	Query     string    `json:"query" doc:"Text the user searched for" example:"Москва"`
	Name      string    `json:"name" doc:"Name reported by the geocoder" example:"Russia, Moscow"`
	Lon       float64   `json:"lon" doc:"Longitude" example:"37.6"`
	Lat       float64   `json:"lat" doc:"Latitude" example:"55.7"`
	CreatedAt time.Time `json:"createdAt" doc:"When the search ran"`
}

// Store persists entries.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE SEQUENCE IF NOT EXISTS searches_id_seq;
CREATE TABLE IF NOT EXISTS searches (
	id BIGINT PRIMARY KEY DEFAULT nextval('searches_id_seq'),
	query VARCHAR NOT NULL,
	name VARCHAR NOT NULL,
	lon DOUBLE NOT NULL,
	lat DOUBLE NOT NULL,
	created_at TIMESTAMP NOT NULL
);`

// New creates the schema if needed and returns a store.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create searches table: %w", err)
	}
	return &Store{db: db}, nil
}

// Record appends e. A zero CreatedAt is set to now.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO searches (query, name, lon, lat, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.Query, e.Name, e.Lon, e.Lat, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert search: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, query, name, lon, lat, created_at FROM searches ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query searches: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Query, &e.Name, &e.Lon, &e.Lat, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan search: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
