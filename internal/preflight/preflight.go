// Package preflight validates the host before a backup run starts: the
// source must be a readable directory, the external binaries must be
// installed, and the backup filesystem must have room for a new artifact.
package preflight

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/dirhaul/dirhaul/internal/config"
)

// Checker runs the environment checks for one job configuration.
type Checker struct {
	cfg    *config.Config
	logger zerolog.Logger

	// lookPath and usage are swapped out in tests.
	lookPath func(file string) (string, error)
	usage    func(ctx context.Context, path string) (*disk.UsageStat, error)
}

// New creates a Checker for cfg.
func New(cfg *config.Config, logger zerolog.Logger) *Checker {
	return &Checker{
		cfg:      cfg,
		logger:   logger.With().Str("component", "preflight").Logger(),
		lookPath: exec.LookPath,
		usage:    disk.UsageWithContext,
	}
}

// Check runs all validations and returns the first failure.
func (c *Checker) Check(ctx context.Context) error {
	if err := c.checkSource(); err != nil {
		return err
	}
	if err := c.checkBinaries(); err != nil {
		return err
	}
	if err := c.checkFreeSpace(ctx); err != nil {
		return err
	}
	c.logger.Debug().Msg("preflight checks passed")
	return nil
}

func (c *Checker) checkSource() error {
	info, err := os.Stat(c.cfg.Source)
	if err != nil {
		return fmt.Errorf("source %s: %w", c.cfg.Source, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source %s is not a directory", c.cfg.Source)
	}
	f, err := os.Open(c.cfg.Source)
	if err != nil {
		return fmt.Errorf("source %s is not readable: %w", c.cfg.Source, err)
	}
	return f.Close()
}

// checkBinaries verifies tar, plus rclone when the remote goes through it.
func (c *Checker) checkBinaries() error {
	binaries := []string{c.cfg.TarBinary}
	if c.cfg.RemoteType == config.RemoteB2 {
		binaries = append(binaries, c.cfg.RcloneBinary)
	}
	for _, bin := range binaries {
		if _, err := c.lookPath(bin); err != nil {
			return fmt.Errorf("%s is not installed: %w", bin, err)
		}
	}
	return nil
}

func (c *Checker) checkFreeSpace(ctx context.Context) error {
	if c.cfg.MinFreeMB <= 0 {
		return nil
	}
	// Create the backup dir up front so the probe measures the
	// filesystem the artifact actually lands on.
	if err := os.MkdirAll(c.cfg.BackupDir, 0755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	stat, err := c.usage(ctx, c.cfg.BackupDir)
	if err != nil {
		return fmt.Errorf("stat filesystem %s: %w", c.cfg.BackupDir, err)
	}
	freeMB := stat.Free / (1024 * 1024)
	if freeMB < uint64(c.cfg.MinFreeMB) {
		return fmt.Errorf("%d MB free under %s, need at least %d MB", freeMB, c.cfg.BackupDir, c.cfg.MinFreeMB)
	}
	c.logger.Debug().
		Uint64("free_mb", freeMB).
		Int("min_free_mb", c.cfg.MinFreeMB).
		Msg("free space check passed")
	return nil
}
