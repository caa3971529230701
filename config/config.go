// Package config loads service configuration from a TOML file and the
// environment. Environment variables override file values.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Backend names a storage adapter.
type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendSQLite   Backend = "sqlite"
	BackendBadger   Backend = "badger"
	BackendMemory   Backend = "memory"
)

// Duration wraps time.Duration so TOML can decode "3m" strings.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

type Config struct {
	Backend     Backend `toml:"backend"`      // STRATA_BACKEND (default "postgres")
	DatabaseURL string  `toml:"database_url"` // STRATA_DATABASE_URL (required for postgres)
	SQLitePath  string  `toml:"sqlite_path"`  // STRATA_SQLITE_PATH (default "strata.db")
	BadgerPath  string  `toml:"badger_path"`  // STRATA_BADGER_PATH (empty = in-memory)

	Actor        string `toml:"actor"`         // STRATA_ACTOR (stamped into changed_by_id)
	DisableAudit bool   `toml:"disable_audit"` // STRATA_DISABLE_AUDIT ("true" disables mirroring)

	// Notification settings. Empty URLs disable the corresponding publisher.
	NATSURL     string `toml:"nats_url"`     // STRATA_NATS_URL
	SQSQueue    string `toml:"sqs_queue"`    // STRATA_SQS_QUEUE (queue name, enables SQS when set)
	SQSRegion   string `toml:"sqs_region"`   // STRATA_SQS_REGION (default "us-east-1")
	SQSEndpoint string `toml:"sqs_endpoint"` // STRATA_SQS_ENDPOINT (custom endpoint for localstack)

	// Archive settings.
	ArchiveInterval   Duration      `toml:"archive_interval"`    // STRATA_ARCHIVE_INTERVAL (default 0 = disabled)
	ArchiveTables     []string      `toml:"archive_tables"`      // tables whose audit history is exported
	ArchiveS3Bucket   string        `toml:"archive_s3_bucket"`   // STRATA_ARCHIVE_S3_BUCKET (enables S3 when set)
	ArchiveS3Prefix   string        `toml:"archive_s3_prefix"`   // STRATA_ARCHIVE_S3_PREFIX (default "strata")
	ArchiveS3Region   string        `toml:"archive_s3_region"`   // STRATA_ARCHIVE_S3_REGION (default "us-east-1")
	ArchiveS3Endpoint string        `toml:"archive_s3_endpoint"` // STRATA_ARCHIVE_S3_ENDPOINT (custom endpoint for MinIO)
	ArchiveFile       string        `toml:"archive_file"`        // STRATA_ARCHIVE_FILE (enables file export when set)
}

// Load reads configuration from the environment only.
func Load() (*Config, error) {
	return load(&Config{})
}

// LoadFile reads the TOML file at path, then applies environment
// overrides. A missing file is not an error; the environment alone must
// then provide everything required.
func LoadFile(path string) (*Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return load(&c)
}

func load(c *Config) (*Config, error) {
	setString((*string)(&c.Backend), "STRATA_BACKEND", string(BackendPostgres))
	setString(&c.DatabaseURL, "STRATA_DATABASE_URL", "")
	setString(&c.SQLitePath, "STRATA_SQLITE_PATH", "strata.db")
	setString(&c.BadgerPath, "STRATA_BADGER_PATH", "")
	setString(&c.Actor, "STRATA_ACTOR", "")
	setString(&c.NATSURL, "STRATA_NATS_URL", "")
	setString(&c.SQSQueue, "STRATA_SQS_QUEUE", "")
	setString(&c.SQSRegion, "STRATA_SQS_REGION", "us-east-1")
	setString(&c.SQSEndpoint, "STRATA_SQS_ENDPOINT", "")
	setString(&c.ArchiveS3Bucket, "STRATA_ARCHIVE_S3_BUCKET", "")
	setString(&c.ArchiveS3Prefix, "STRATA_ARCHIVE_S3_PREFIX", "strata")
	setString(&c.ArchiveS3Region, "STRATA_ARCHIVE_S3_REGION", "us-east-1")
	setString(&c.ArchiveS3Endpoint, "STRATA_ARCHIVE_S3_ENDPOINT", "")
	setString(&c.ArchiveFile, "STRATA_ARCHIVE_FILE", "")

	if v := os.Getenv("STRATA_DISABLE_AUDIT"); v != "" {
		c.DisableAudit = v == "true" || v == "1"
	}
	if v := os.Getenv("STRATA_ARCHIVE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("STRATA_ARCHIVE_INTERVAL: %w", err)
		}
		c.ArchiveInterval = Duration(d)
	}

	switch c.Backend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return nil, fmt.Errorf("STRATA_DATABASE_URL is required for the postgres backend")
		}
	case BackendSQLite, BackendBadger, BackendMemory:
	default:
		return nil, fmt.Errorf("unknown backend %q", c.Backend)
	}
	return c, nil
}

// setString applies the env override, then the default, in that order of
// preference over the file value.
func setString(dst *string, key, fallback string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
		return
	}
	if *dst == "" {
		*dst = fallback
	}
}
