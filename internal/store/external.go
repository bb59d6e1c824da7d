package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ExternalData is one row of the single-row-per-category key-value store
// used for exchange-rate and pricing metadata. Data is opaque JSON.
type ExternalData struct {
	Category  string
	Data      string
	UpdatedAt string
}

// GetExternalData returns the row for a category, or (nil, nil) when the
// category has never been stored.
func (s *Store) GetExternalData(ctx context.Context, category string) (*ExternalData, error) {
	d := &ExternalData{}
	err := s.reader.QueryRowContext(ctx,
		"SELECT category, data, updated_at FROM external_data WHERE category = ?", category,
	).Scan(&d.Category, &d.Data, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get external data %s: %w", category, err)
	}
	return d, nil
}

// SetExternalData inserts or replaces the row for a category, stamping
// updated_at with the current UTC time.
func (s *Store) SetExternalData(ctx context.Context, category, data string) error {
	now := nowUTC()
	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO external_data (category, data, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(category) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at`,
		category, data, now,
	)
	if err != nil {
		return fmt.Errorf("store: set external data %s: %w", category, err)
	}
	return nil
}
