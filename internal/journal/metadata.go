package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/thinksuit/thinksuit/internal/ids"
	"github.com/thinksuit/thinksuit/pkg/models"
)

// WriteMetadata persists the session metadata document, stamping UpdatedAt.
func WriteMetadata(paths ids.Paths, meta *models.SessionMetadata) error {
	path, err := paths.MetadataPath(meta.ID)
	if err != nil {
		return fmt.Errorf("resolve metadata path: %w", err)
	}
	if err := ids.EnsureDir(path); err != nil {
		return fmt.Errorf("create metadata dir: %w", err)
	}
	meta.UpdatedAt = time.Now().UTC()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = meta.UpdatedAt
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadMetadata loads the session metadata document.
func ReadMetadata(paths ids.Paths, sessionID string) (*models.SessionMetadata, error) {
	path, err := paths.MetadataPath(sessionID)
	if err != nil {
		return nil, fmt.Errorf("resolve metadata path: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var meta models.SessionMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	return &meta, nil
}
