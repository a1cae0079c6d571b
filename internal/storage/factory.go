package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dirhaul/dirhaul/internal/command"
	"github.com/dirhaul/dirhaul/internal/config"
)

// ForConfig builds the Remote selected by cfg.RemoteType.
func ForConfig(ctx context.Context, cfg *config.Config, runner command.Runner, logger zerolog.Logger) (Remote, error) {
	switch cfg.RemoteType {
	case config.RemoteB2:
		return NewRclone(runner, RcloneConfig{
			Binary:     cfg.RcloneBinary,
			Bucket:     cfg.Bucket,
			Prefix:     cfg.RemotePath,
			AccountID:  cfg.AccountID,
			AccountKey: cfg.AccountKey,
		}, logger)

	case config.RemoteS3:
		return NewS3(ctx, S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.Bucket,
			Prefix:    cfg.RemotePath,
			AccessKey: cfg.AccountID,
			SecretKey: cfg.AccountKey,
			PathStyle: cfg.S3PathStyle,
		}, logger)

	case config.RemoteGCS:
		return NewGCS(ctx, GCSConfig{
			Bucket:          cfg.Bucket,
			Prefix:          cfg.RemotePath,
			CredentialsFile: cfg.GCSCredentialsFile,
		}, logger)

	default:
		return nil, fmt.Errorf("unsupported remote type: %s", cfg.RemoteType)
	}
}
