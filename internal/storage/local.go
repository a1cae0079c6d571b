package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Dir is the local backups directory. A directory that does not exist yet
// lists as empty rather than failing, since the first run creates it.
type Dir struct {
	path string
}

// NewDir returns a Location over the given directory.
func NewDir(path string) *Dir {
	return &Dir{path: path}
}

// Name implements Location.
func (d *Dir) Name() string {
	return "local"
}

// Path returns the directory path.
func (d *Dir) Path() string {
	return d.path
}

// List returns the regular files in the directory.
func (d *Dir) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// Remove deletes a single file from the directory.
func (d *Dir) Remove(_ context.Context, name string) error {
	if err := os.Remove(filepath.Join(d.path, name)); err != nil {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}
