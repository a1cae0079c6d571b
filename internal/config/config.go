// Package config loads dirhaul job configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// RemoteType selects the remote storage implementation.
type RemoteType string

const (
	// RemoteB2 uploads through the rclone binary to Backblaze B2.
	RemoteB2 RemoteType = "b2"
	// RemoteS3 uploads through the AWS SDK to any S3-compatible endpoint.
	RemoteS3 RemoteType = "s3"
	// RemoteGCS uploads through the Google Cloud SDK.
	RemoteGCS RemoteType = "gcs"
)

const (
	// DefaultSource is where the container mounts the directory to back up.
	DefaultSource = "/backup_source"
	// DefaultDataDir is the root for backups, logs, and the run history.
	DefaultDataDir = "/usr/app/storage"
	// DefaultRetention is the artifact count kept locally and remotely.
	DefaultRetention = 30
)

// Config holds everything a run needs. It is loaded once and treated as
// immutable; no other component reads the environment.
type Config struct {
	JobName    string
	Source     string
	Bucket     string
	AccountID  string
	AccountKey string
	RemotePath string

	LocalRetention  int
	RemoteRetention int

	RemoteType         RemoteType
	S3Endpoint         string
	S3Region           string
	S3PathStyle        bool
	GCSCredentialsFile string

	DataDir   string
	BackupDir string
	LogDir    string

	MinFreeMB    int
	NotifyURL    string
	NotifySecret string
	MetricsDir   string
	Cron         string

	TarBinary    string
	RcloneBinary string
}

// fileConfig mirrors Config with YAML keys matching the lowercased
// environment variable names. Pointers distinguish absent from zero.
type fileConfig struct {
	JobName            string `yaml:"job_name,omitempty"`
	BackupSource       string `yaml:"backup_source,omitempty"`
	B2Bucket           string `yaml:"b2_bucket,omitempty"`
	B2AccountID        string `yaml:"b2_account_id,omitempty"`
	B2AccountKey       string `yaml:"b2_account_key,omitempty"`
	RemotePath         string `yaml:"remote_path,omitempty"`
	LocalRetention     *int   `yaml:"local_retention,omitempty"`
	RemoteRetention    *int   `yaml:"remote_retention,omitempty"`
	RemoteType         string `yaml:"remote_type,omitempty"`
	S3Endpoint         string `yaml:"s3_endpoint,omitempty"`
	S3Region           string `yaml:"s3_region,omitempty"`
	S3PathStyle        *bool  `yaml:"s3_path_style,omitempty"`
	GCSCredentialsFile string `yaml:"gcs_credentials_file,omitempty"`
	DataDir            string `yaml:"data_dir,omitempty"`
	BackupDir          string `yaml:"backup_dir,omitempty"`
	LogDir             string `yaml:"log_dir,omitempty"`
	MinFreeMB          *int   `yaml:"min_free_mb,omitempty"`
	NotifyURL          string `yaml:"notify_url,omitempty"`
	NotifySecret       string `yaml:"notify_secret,omitempty"`
	MetricsDir         string `yaml:"metrics_dir,omitempty"`
	BackupCron         string `yaml:"backup_cron,omitempty"`
	TarBinary          string `yaml:"tar_binary,omitempty"`
	RcloneBinary       string `yaml:"rclone_binary,omitempty"`
}

// LoadDotEnv loads KEY=VALUE pairs from a dotenv file into the process
// environment without overriding variables that are already set. An empty
// path means "./.env when present"; an explicit path must exist.
func LoadDotEnv(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load builds the configuration from the environment, optionally layered
// over a YAML file. Environment variables always win over file values.
// Validation failures abort before any backup work begins.
func Load(filePath string) (*Config, error) {
	var fc fileConfig
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg := &Config{
		JobName:            getString("JOB_NAME", fc.JobName, ""),
		Source:             getString("BACKUP_SOURCE", fc.BackupSource, DefaultSource),
		Bucket:             getString("B2_BUCKET", fc.B2Bucket, ""),
		AccountID:          getString("B2_ACCOUNT_ID", fc.B2AccountID, ""),
		AccountKey:         getString("B2_ACCOUNT_KEY", fc.B2AccountKey, ""),
		RemotePath:         getString("REMOTE_PATH", fc.RemotePath, ""),
		RemoteType:         RemoteType(getString("REMOTE_TYPE", fc.RemoteType, string(RemoteB2))),
		S3Endpoint:         getString("S3_ENDPOINT", fc.S3Endpoint, ""),
		S3Region:           getString("S3_REGION", fc.S3Region, "us-east-1"),
		S3PathStyle:        getBool("S3_PATH_STYLE", fc.S3PathStyle, false),
		GCSCredentialsFile: getString("GCS_CREDENTIALS_FILE", fc.GCSCredentialsFile, ""),
		DataDir:            getString("DATA_DIR", fc.DataDir, DefaultDataDir),
		NotifyURL:          getString("NOTIFY_URL", fc.NotifyURL, ""),
		NotifySecret:       getString("NOTIFY_SECRET", fc.NotifySecret, ""),
		MetricsDir:         getString("METRICS_DIR", fc.MetricsDir, ""),
		Cron:               getString("BACKUP_CRON", fc.BackupCron, ""),
		TarBinary:          getString("TAR_BINARY", fc.TarBinary, "tar"),
		RcloneBinary:       getString("RCLONE_BINARY", fc.RcloneBinary, "rclone"),
	}

	cfg.BackupDir = getString("BACKUP_DIR", fc.BackupDir, filepath.Join(cfg.DataDir, "backups"))
	cfg.LogDir = getString("LOG_DIR", fc.LogDir, filepath.Join(cfg.DataDir, "logs"))

	var err error
	if cfg.LocalRetention, err = getPositiveInt("LOCAL_RETENTION", fc.LocalRetention, DefaultRetention); err != nil {
		return nil, err
	}
	if cfg.RemoteRetention, err = getPositiveInt("REMOTE_RETENTION", fc.RemoteRetention, DefaultRetention); err != nil {
		return nil, err
	}
	if cfg.MinFreeMB, err = getNonNegativeInt("MIN_FREE_MB", fc.MinFreeMB, 0); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration has required fields for a run.
func (c *Config) Validate() error {
	if c.JobName == "" {
		return errors.New("JOB_NAME is required")
	}
	if c.Source == "" {
		return errors.New("BACKUP_SOURCE is required")
	}
	if c.Bucket == "" {
		return errors.New("B2_BUCKET is required")
	}
	if c.RemotePath == "" {
		return errors.New("REMOTE_PATH is required")
	}
	switch c.RemoteType {
	case RemoteB2, RemoteS3:
		if c.AccountID == "" {
			return errors.New("B2_ACCOUNT_ID is required")
		}
		if c.AccountKey == "" {
			return errors.New("B2_ACCOUNT_KEY is required")
		}
	case RemoteGCS:
		// credentials resolve via GCS_CREDENTIALS_FILE or application default
	default:
		return fmt.Errorf("REMOTE_TYPE must be one of b2, s3, gcs, got %q", c.RemoteType)
	}
	return nil
}

// LogPath returns the per-job log file path.
func (c *Config) LogPath() string {
	return filepath.Join(c.LogDir, c.JobName+".log")
}

// HistoryPath returns the run history database path.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// getString reads a string with env > file > default precedence.
func getString(key, fileVal, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if fileVal != "" {
		return fileVal
	}
	return defaultVal
}

// getBool reads a boolean, returning the default if unset or invalid.
func getBool(key string, fileVal *bool, defaultVal bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	if fileVal != nil {
		return *fileVal
	}
	return defaultVal
}

// getPositiveInt reads an integer that must be >= 1 when set. Unlike
// lenient lookups, an unparsable or non-positive value is a hard error:
// a malformed retention must never silently fall back to the default.
func getPositiveInt(key string, fileVal *int, defaultVal int) (int, error) {
	if raw := os.Getenv(key); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return 0, fmt.Errorf("%s must be a positive integer, got %q", key, raw)
		}
		return n, nil
	}
	if fileVal != nil {
		if *fileVal < 1 {
			return 0, fmt.Errorf("%s must be a positive integer, got %d", strings.ToLower(key), *fileVal)
		}
		return *fileVal, nil
	}
	return defaultVal, nil
}

// getNonNegativeInt reads an integer that must be >= 0 when set.
func getNonNegativeInt(key string, fileVal *int, defaultVal int) (int, error) {
	if raw := os.Getenv(key); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%s must be a non-negative integer, got %q", key, raw)
		}
		return n, nil
	}
	if fileVal != nil {
		if *fileVal < 0 {
			return 0, fmt.Errorf("%s must be a non-negative integer, got %d", strings.ToLower(key), *fileVal)
		}
		return *fileVal, nil
	}
	return defaultVal, nil
}
