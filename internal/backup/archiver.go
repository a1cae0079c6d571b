package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/dirhaul/dirhaul/internal/command"
)

// ArchiveStats describes a created artifact.
type ArchiveStats struct {
	Path      string
	Name      string
	SizeBytes int64
	Duration  time.Duration
}

// Archiver compresses a source directory into tar.gz artifacts through the
// external tar binary.
type Archiver struct {
	runner command.Runner
	binary string
	logger zerolog.Logger
}

// NewArchiver creates an Archiver. An empty binary defaults to "tar".
func NewArchiver(runner command.Runner, binary string, logger zerolog.Logger) *Archiver {
	if binary == "" {
		binary = "tar"
	}
	return &Archiver{
		runner: runner,
		binary: binary,
		logger: logger.With().Str("component", "archiver").Logger(),
	}
}

// Create compresses the contents of sourceDir into backupDir/name. The
// backup directory is created if missing. A nonzero tar exit aborts the
// run; the error carries tar's stderr.
func (a *Archiver) Create(ctx context.Context, sourceDir, backupDir, name string) (*ArchiveStats, error) {
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	dest := filepath.Join(backupDir, name)
	a.logger.Info().
		Str("source", sourceDir).
		Str("artifact", dest).
		Msg("creating archive")

	res, err := a.runner.Run(ctx, command.Cmd{
		Name: a.binary,
		Args: []string{"-czf", dest, "-C", sourceDir, "."},
	})
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	stats := &ArchiveStats{
		Path:      dest,
		Name:      name,
		SizeBytes: info.Size(),
		Duration:  res.Duration,
	}

	a.logger.Info().
		Str("artifact", name).
		Int64("size_bytes", stats.SizeBytes).
		Dur("duration", stats.Duration).
		Msg("archive created")

	return stats, nil
}
