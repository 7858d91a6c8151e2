package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Transcript is a catalog record
type Transcript struct {
	ID        string         `db:"id"`
	Filename  string         `db:"filename"`
	DataPath  string         `db:"data_path"`
	FolderID  sql.NullString `db:"folder_id"`
	CreatedAt int64          `db:"created_at"`
}

// Catalog records finished transcripts in the transcripts table
type Catalog struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewCatalog creates a catalog over db
func NewCatalog(db *sqlx.DB, logger *slog.Logger) *Catalog {
	return &Catalog{db: db, logger: logger}
}

// Create inserts a transcript record in the named folder and returns its id.
// A missing folder leaves the record unfiled.
func (c *Catalog) Create(ctx context.Context, filename, location, category string) (string, error) {
	folderID, err := c.folderID(ctx, category)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	query := c.db.Rebind(`
		INSERT INTO transcripts (id, filename, data_path, folder_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if _, err := c.db.ExecContext(ctx, query, id, filename, location, folderID, time.Now().UTC().UnixNano()); err != nil {
		return "", fmt.Errorf("failed to create transcript record: %w", err)
	}

	c.logger.Info("Transcript cataloged",
		slog.String("transcript_id", id),
		slog.String("filename", filename),
		slog.String("folder", category),
	)
	return id, nil
}

func (c *Catalog) folderID(ctx context.Context, name string) (sql.NullString, error) {
	var id string
	query := c.db.Rebind(`SELECT id FROM folders WHERE name = ?`)
	if err := c.db.GetContext(ctx, &id, query, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.logger.Warn("Folder not found, transcript left unfiled",
				slog.String("folder", name),
			)
			return sql.NullString{}, nil
		}
		return sql.NullString{}, fmt.Errorf("failed to look up folder: %w", err)
	}
	return sql.NullString{String: id, Valid: true}, nil
}

// Delete removes a transcript record
func (c *Catalog) Delete(ctx context.Context, id string) error {
	query := c.db.Rebind(`DELETE FROM transcripts WHERE id = ?`)
	if _, err := c.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete transcript record: %w", err)
	}

	c.logger.Info("Transcript record deleted", slog.String("transcript_id", id))
	return nil
}

// Get returns a transcript record by id
func (c *Catalog) Get(ctx context.Context, id string) (*Transcript, error) {
	var t Transcript
	query := c.db.Rebind(`SELECT id, filename, data_path, folder_id, created_at FROM transcripts WHERE id = ?`)
	if err := c.db.GetContext(ctx, &t, query, id); err != nil {
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}
	return &t, nil
}
