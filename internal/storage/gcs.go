package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCS uploads to a Google Cloud Storage bucket. Credentials come from a
// service account file when configured, application default otherwise.
type GCS struct {
	client *gcs.Client
	bucket string
	prefix string
	logger zerolog.Logger
}

// GCSConfig holds the settings for the GCS remote.
type GCSConfig struct {
	Bucket          string
	Prefix          string
	CredentialsFile string
}

// NewGCS creates the GCS remote. The caller owns Close.
func NewGCS(ctx context.Context, cfg GCSConfig, logger zerolog.Logger) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs remote: bucket is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}

	return &GCS{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger.With().Str("component", "gcs").Logger(),
	}, nil
}

// Name implements Location.
func (g *GCS) Name() string {
	return strings.TrimRight(fmt.Sprintf("gcs:%s/%s", g.bucket, g.prefix), "/")
}

// Check verifies the bucket is reachable with the resolved credentials.
func (g *GCS) Check(ctx context.Context) error {
	g.logger.Info().Str("remote", g.Name()).Msg("checking remote credentials")
	if _, err := g.client.Bucket(g.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("remote %s unreachable: %w", g.Name(), err)
	}
	g.logger.Info().Str("remote", g.Name()).Msg("remote credentials verified")
	return nil
}

// Upload streams the file at path to the bucket under its base name.
func (g *GCS) Upload(ctx context.Context, path string) error {
	name := filepath.Base(path)
	g.logger.Info().Str("artifact", name).Str("remote", g.Name()).Msg("uploading artifact")

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer file.Close()

	w := g.client.Bucket(g.bucket).Object(g.key(name)).NewWriter(ctx)
	if _, err := io.Copy(w, file); err != nil {
		w.Close()
		return fmt.Errorf("upload %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}

	g.logger.Info().Str("artifact", name).Msg("artifact uploaded")
	return nil
}

// List returns the object names directly under the configured prefix.
func (g *GCS) List(ctx context.Context) ([]string, error) {
	prefix := g.prefix
	if prefix != "" {
		prefix += "/"
	}

	var names []string
	it := g.client.Bucket(g.bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list remote %s: %w", g.Name(), err)
		}
		rel := strings.TrimPrefix(attrs.Name, prefix)
		// Skip anything nested below the prefix.
		if rel == "" || strings.Contains(rel, "/") {
			continue
		}
		names = append(names, rel)
	}
	return names, nil
}

// Remove deletes a single object under the prefix.
func (g *GCS) Remove(ctx context.Context, name string) error {
	if err := g.client.Bucket(g.bucket).Object(g.key(name)).Delete(ctx); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

// Close releases the underlying client.
func (g *GCS) Close() error {
	return g.client.Close()
}

// key returns the full object name for an artifact.
func (g *GCS) key(name string) string {
	if g.prefix == "" {
		return name
	}
	return g.prefix + "/" + name
}
