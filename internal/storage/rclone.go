package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dirhaul/dirhaul/internal/command"
)

// Rclone drives the rclone binary against a Backblaze B2 bucket using an
// on-the-fly remote, so no rclone config file is required. Credentials
// travel through the child process environment, never through argv.
type Rclone struct {
	runner  command.Runner
	binary  string
	bucket  string
	prefix  string
	account string
	key     string
	logger  zerolog.Logger
}

// RcloneConfig holds the settings for the rclone-driven B2 remote.
type RcloneConfig struct {
	Binary     string
	Bucket     string
	Prefix     string
	AccountID  string
	AccountKey string
}

// NewRclone creates the B2 remote.
func NewRclone(runner command.Runner, cfg RcloneConfig, logger zerolog.Logger) (*Rclone, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("b2 remote: bucket is required")
	}
	binary := cfg.Binary
	if binary == "" {
		binary = "rclone"
	}
	return &Rclone{
		runner:  runner,
		binary:  binary,
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		account: cfg.AccountID,
		key:     cfg.AccountKey,
		logger:  logger.With().Str("component", "rclone").Logger(),
	}, nil
}

// Name implements Location.
func (r *Rclone) Name() string {
	return strings.TrimPrefix(r.remote(), ":")
}

// Check verifies credentials by querying the bucket.
func (r *Rclone) Check(ctx context.Context) error {
	r.logger.Info().Str("remote", r.Name()).Msg("checking remote credentials")
	if _, err := r.run(ctx, "about", ":b2:"+r.bucket); err != nil {
		return fmt.Errorf("remote %s unreachable: %w", r.Name(), err)
	}
	r.logger.Info().Str("remote", r.Name()).Msg("remote credentials verified")
	return nil
}

// Upload copies the file at path into the remote prefix.
func (r *Rclone) Upload(ctx context.Context, path string) error {
	name := filepath.Base(path)
	r.logger.Info().Str("artifact", name).Str("remote", r.Name()).Msg("uploading artifact")

	res, err := r.run(ctx, "copy", path, r.remote())
	if err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}

	r.logger.Info().
		Str("artifact", name).
		Dur("duration", res.Duration).
		Msg("artifact uploaded")
	return nil
}

// List returns the file names under the remote prefix.
func (r *Rclone) List(ctx context.Context) ([]string, error) {
	res, err := r.run(ctx, "lsf", "--files-only", r.remote())
	if err != nil {
		return nil, fmt.Errorf("list remote %s: %w", r.Name(), err)
	}

	var names []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// Remove deletes a single remote file.
func (r *Rclone) Remove(ctx context.Context, name string) error {
	if _, err := r.run(ctx, "deletefile", r.remote()+"/"+name); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

// remote builds the on-the-fly rclone remote string, e.g. ":b2:bucket/prefix".
func (r *Rclone) remote() string {
	return strings.TrimRight(fmt.Sprintf(":b2:%s/%s", r.bucket, r.prefix), "/")
}

func (r *Rclone) run(ctx context.Context, args ...string) (command.Result, error) {
	return r.runner.Run(ctx, command.Cmd{
		Name: r.binary,
		Args: args,
		Env: map[string]string{
			"RCLONE_B2_ACCOUNT": r.account,
			"RCLONE_B2_KEY":     r.key,
		},
	})
}
