// Package media optionally archives converted snapshots to disk. Archiving
// is best-effort: a write failure is logged by the caller and never fails
// the envelope.
package media

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/platewatch-systems/platewatch-relay/internal/models"
)

// Store writes converted snapshots under a base path, one file per envelope.
type Store struct {
	basePath string
}

// NewStore ensures the media directory exists.
func NewStore(basePath string) (*Store, error) {
	dir := filepath.Join(basePath, "snapshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media directory: %w", err)
	}
	return &Store{basePath: dir}, nil
}

// Save writes the envelope's converted snapshot and returns the file path.
func (s *Store) Save(env *models.Envelope) (string, error) {
	if len(env.ConvertedImage) == 0 {
		return "", fmt.Errorf("envelope %s has no converted image", env.ID)
	}

	name := fmt.Sprintf("%s_%s.png", env.CameraID, env.ID)
	path := filepath.Join(s.basePath, name)

	if err := os.WriteFile(path, env.ConvertedImage, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}
