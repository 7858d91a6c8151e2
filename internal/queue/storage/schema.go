package storage

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
)

//go:embed schema.sql
var schemaSQL string

// Migrate creates the queue and catalog tables if needed and seeds the
// default transcript folder.
func (s *Storage) Migrate(ctx context.Context, defaultFolder string) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	if defaultFolder == "" {
		return nil
	}

	query := s.db.Rebind(`
		INSERT INTO folders (id, name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (name) DO NOTHING
	`)
	if _, err := s.db.ExecContext(ctx, query, uuid.NewString(), defaultFolder, time.Now().UTC().UnixNano()); err != nil {
		return fmt.Errorf("failed to seed default folder: %w", err)
	}

	return nil
}
