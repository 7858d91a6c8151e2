package session

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/cuongbtq/lecture-queue/internal/queue/domain"
)

// Artifacts writes session directories under a data root
type Artifacts struct {
	dataDir string
	logger  *slog.Logger
}

// NewArtifacts creates an artifact store rooted at dataDir
func NewArtifacts(dataDir string, logger *slog.Logger) *Artifacts {
	return &Artifacts{dataDir: dataDir, logger: logger}
}

// Write creates <dataDir>/<filename>_<8 hex> holding the transcript, the
// notes and an empty chat history, and returns the directory's absolute path.
// A partially written directory is removed.
func (a *Artifacts) Write(filename, transcript, notes string) (string, error) {
	root, err := filepath.Abs(a.dataDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve data dir: %w", err)
	}

	dir := filepath.Join(root, sessionDirName(filename))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create session dir: %w", err)
	}

	files := []struct {
		name    string
		content string
	}{
		{domain.TranscriptFile, transcript},
		{domain.NotesFile, notes},
		{domain.ChatHistoryFile, "[]"},
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f.name), []byte(f.content), 0o644); err != nil {
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				a.logger.Warn("Failed to remove partial session dir",
					slog.String("path", dir),
					slog.String("error", rmErr.Error()),
				)
			}
			return "", fmt.Errorf("failed to write %s: %w", f.name, err)
		}
	}

	a.logger.Debug("Session artifacts written", slog.String("path", dir))
	return dir, nil
}

// Remove deletes a session directory written by Write. Paths outside the
// data root are refused.
func (a *Artifacts) Remove(location string) error {
	root, err := filepath.Abs(a.dataDir)
	if err != nil {
		return fmt.Errorf("failed to resolve data dir: %w", err)
	}

	rel, err := filepath.Rel(root, location)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || strings.ContainsRune(rel, filepath.Separator) {
		return fmt.Errorf("refusing to remove %q: not a session dir under %q", location, root)
	}

	if err := os.RemoveAll(location); err != nil {
		return fmt.Errorf("failed to remove session dir: %w", err)
	}

	a.logger.Debug("Session artifacts removed", slog.String("path", location))
	return nil
}

// sessionDirName keeps the display name readable while staying inside the
// data root: path separators are replaced.
func sessionDirName(filename string) string {
	name := filepath.Base(filepath.Clean("/" + filename))
	if name == "/" || name == "." {
		name = domain.DefaultFilename
	}
	return name + "_" + uuid.NewString()[:8]
}
