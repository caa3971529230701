package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// strataEnvVars lists all env vars that must be cleared between tests.
var strataEnvVars = []string{
	"STRATA_BACKEND", "STRATA_DATABASE_URL", "STRATA_SQLITE_PATH", "STRATA_BADGER_PATH",
	"STRATA_ACTOR", "STRATA_DISABLE_AUDIT", "STRATA_NATS_URL",
	"STRATA_SQS_QUEUE", "STRATA_SQS_REGION", "STRATA_SQS_ENDPOINT",
	"STRATA_ARCHIVE_INTERVAL", "STRATA_ARCHIVE_S3_BUCKET", "STRATA_ARCHIVE_S3_PREFIX",
	"STRATA_ARCHIVE_S3_REGION", "STRATA_ARCHIVE_S3_ENDPOINT", "STRATA_ARCHIVE_FILE",
}

func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range strataEnvVars {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	for _, tc := range []struct {
		name        string
		env         map[string]string
		wantErr     bool
		wantBackend Backend
		wantNATSURL string
	}{
		{
			name:    "PostgresRequiresDatabaseURL",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name:        "Defaults",
			env:         map[string]string{"STRATA_DATABASE_URL": "postgres://localhost/strata"},
			wantBackend: BackendPostgres,
		},
		{
			name: "SQLiteBackend",
			env: map[string]string{
				"STRATA_BACKEND":  "sqlite",
				"STRATA_NATS_URL": "nats://localhost:4222",
			},
			wantBackend: BackendSQLite,
			wantNATSURL: "nats://localhost:4222",
		},
		{
			name:    "UnknownBackend",
			env:     map[string]string{"STRATA_BACKEND": "oracle"},
			wantErr: true,
		},
		{
			name: "BadArchiveInterval",
			env: map[string]string{
				"STRATA_BACKEND":          "memory",
				"STRATA_ARCHIVE_INTERVAL": "often",
			},
			wantErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			c, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c.Backend != tc.wantBackend {
				t.Errorf("Backend = %q, want %q", c.Backend, tc.wantBackend)
			}
			if c.NATSURL != tc.wantNATSURL {
				t.Errorf("NATSURL = %q, want %q", c.NATSURL, tc.wantNATSURL)
			}
		})
	}
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	clearAllEnv(t)

	path := filepath.Join(t.TempDir(), "strata.toml")
	content := `
backend = "badger"
badger_path = "/var/lib/strata"
actor = "svc-file"
archive_interval = "3m0s"
archive_tables = ["widgets", "orders"]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("STRATA_ACTOR", "svc-env")

	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if c.Backend != BackendBadger {
		t.Errorf("Backend = %q, want badger", c.Backend)
	}
	if c.BadgerPath != "/var/lib/strata" {
		t.Errorf("BadgerPath = %q", c.BadgerPath)
	}
	if c.Actor != "svc-env" {
		t.Errorf("Actor = %q, env must override the file", c.Actor)
	}
	if time.Duration(c.ArchiveInterval) != 3*time.Minute {
		t.Errorf("ArchiveInterval = %v, want 3m", c.ArchiveInterval)
	}
	if len(c.ArchiveTables) != 2 {
		t.Errorf("ArchiveTables = %v", c.ArchiveTables)
	}
}

func TestLoadFileMissingFallsBackToEnv(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("STRATA_BACKEND", "memory")

	c, err := LoadFile(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if c.Backend != BackendMemory {
		t.Errorf("Backend = %q, want memory", c.Backend)
	}
}
