package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileDestination writes audit exports to a local file, replacing the
// previous export atomically.
type FileDestination struct {
	path string
}

// NewFileDestination creates a destination writing to the given path. The
// parent directory is created when absent.
func NewFileDestination(path string) (*FileDestination, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}
	return &FileDestination{path: path}, nil
}

// Write replaces the export file via a rename so readers never observe a
// partial write.
func (d *FileDestination) Write(ctx context.Context, data []byte) error {
	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	if err := os.Rename(tmp, d.path); err != nil {
		return fmt.Errorf("replace export: %w", err)
	}
	return nil
}
