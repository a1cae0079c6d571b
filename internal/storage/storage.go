// Package storage provides the locations backup artifacts live at: the
// local backups directory and the remote object stores they upload to.
package storage

import "context"

// Location is a flat namespace of artifact files that can be listed and
// pruned. Names are bare file names without any path component.
type Location interface {
	// Name identifies the location in logs and errors.
	Name() string
	// List returns the file names currently stored at the location.
	List(ctx context.Context) ([]string, error)
	// Remove deletes a single named file.
	Remove(ctx context.Context, name string) error
}

// Remote is a Location artifacts can be uploaded to.
type Remote interface {
	Location
	// Check verifies credentials and reachability before any transfer.
	Check(ctx context.Context) error
	// Upload copies the local file at path to the location under its base name.
	Upload(ctx context.Context, path string) error
}
