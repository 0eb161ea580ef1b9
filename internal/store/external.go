package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ExternalData is a category-keyed JSON blob cached from an outside source,
// such as exchange rates or provider pricing tables.
type ExternalData struct {
	Category  string
	Data      string // JSON document
	UpdatedAt time.Time
}

// GetExternalData retrieves the cached blob for a category. Returns
// (nil, nil) when no row exists.
func (s *Store) GetExternalData(ctx context.Context, category string) (*ExternalData, error) {
	var (
		d         ExternalData
		updatedAt string
	)
	err := s.reader.QueryRowContext(ctx,
		"SELECT category, data, updated_at FROM external_data WHERE category = ?",
		category,
	).Scan(&d.Category, &d.Data, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get external data %s: %w", category, err)
	}
	d.UpdatedAt = parseTime(updatedAt)
	return &d, nil
}

// PutExternalData upserts the blob for a category, stamping updated_at.
func (s *Store) PutExternalData(ctx context.Context, category, data string) error {
	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO external_data (category, data, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(category) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at`,
		category, data, nowUTC(),
	)
	if err != nil {
		return fmt.Errorf("store: put external data %s: %w", category, err)
	}
	return nil
}
