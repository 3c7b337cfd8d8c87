package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.Store.Path != filepath.Join("./data/docrel", "docrel.db") {
		t.Errorf("unexpected store path %q", cfg.Store.Path)
	}
	if cfg.SegmentSize() != 64<<20 {
		t.Errorf("unexpected segment size %d", cfg.SegmentSize())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }, "data_dir"},
		{"bad journal mode", func(c *Config) { c.Store.JournalMode = "FAST" }, "journal_mode"},
		{"lowercase journal mode", func(c *Config) { c.Store.JournalMode = "wal" }, ""},
		{"no read conns", func(c *Config) { c.Store.MaxReadConns = 0 }, "max_read_conns"},
		{"tiny segments", func(c *Config) { c.Journal.SegmentSizeMB = 0 }, "segment_size_mb"},
		{"tiny segments without journal", func(c *Config) {
			c.Journal.Enabled = false
			c.Journal.SegmentSizeMB = 0
		}, ""},
		{"bad snapshot type", func(c *Config) { c.Snapshot.Type = "gcs" }, "snapshot type"},
		{"s3 without bucket", func(c *Config) { c.Snapshot.Type = "s3" }, "bucket"},
		{"s3 with bucket", func(c *Config) {
			c.Snapshot.Type = "s3"
			c.Snapshot.S3.Bucket = "snaps"
		}, ""},
		{"zero batch", func(c *Config) { c.Ingest.MaxBatchDocuments = 0 }, "max_batch_documents"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docrel.yaml")
	content := `data_dir: /var/lib/docrel
http:
  addr: ":9000"
store:
  busy_timeout: 2s
journal:
  segment_size_mb: 8
snapshot:
  type: s3
  s3:
    bucket: snaps
    use_path_style: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.DataDir != "/var/lib/docrel" || cfg.HTTP.Addr != ":9000" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.Store.BusyTimeout != 2*time.Second {
		t.Errorf("expected busy timeout 2s, got %v", cfg.Store.BusyTimeout)
	}
	if cfg.Journal.SegmentSizeMB != 8 || !cfg.Journal.Enabled {
		t.Errorf("unexpected journal config: %+v", cfg.Journal)
	}
	if cfg.Snapshot.S3.Bucket != "snaps" || !cfg.Snapshot.S3.UsePathStyle {
		t.Errorf("unexpected snapshot config: %+v", cfg.Snapshot)
	}
	if cfg.Store.JournalMode != "WAL" {
		t.Errorf("unset fields should keep defaults, got journal mode %q", cfg.Store.JournalMode)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docrel.json")
	if err := os.WriteFile(path, []byte(`{"data_dir":"/tmp/x","ingest":{"max_batch_documents":5}}`), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.DataDir != "/tmp/x" || cfg.Ingest.MaxBatchDocuments != 5 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if !cfg.Ingest.AssignIDs {
		t.Error("assign_ids should keep its default")
	}
}

func TestLoadFromFile_UnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docrel.toml")
	if err := os.WriteFile(path, []byte("x = 1"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DOCREL_DATA_DIR", "/srv/docrel")
	t.Setenv("DOCREL_HTTP_ADDR", ":7000")
	t.Setenv("DOCREL_STORE_BUSY_TIMEOUT", "250ms")
	t.Setenv("DOCREL_STORE_MAX_READ_CONNS", "3")
	t.Setenv("DOCREL_JOURNAL_ENABLED", "false")
	t.Setenv("DOCREL_SNAPSHOT_TYPE", "s3")
	t.Setenv("DOCREL_S3_BUCKET", "b")
	t.Setenv("DOCREL_INGEST_ASSIGN_IDS", "0")
	t.Setenv("DOCREL_INGEST_MAX_BATCH_DOCUMENTS", "not-a-number")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.DataDir != "/srv/docrel" || cfg.HTTP.Addr != ":7000" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.Store.BusyTimeout != 250*time.Millisecond || cfg.Store.MaxReadConns != 3 {
		t.Errorf("unexpected store config: %+v", cfg.Store)
	}
	if cfg.Journal.Enabled || cfg.Ingest.AssignIDs {
		t.Error("boolean overrides not applied")
	}
	if cfg.Snapshot.Type != "s3" || cfg.Snapshot.S3.Bucket != "b" {
		t.Errorf("unexpected snapshot config: %+v", cfg.Snapshot)
	}
	if cfg.Ingest.MaxBatchDocuments != 10000 {
		t.Errorf("unparsable override should be ignored, got %d", cfg.Ingest.MaxBatchDocuments)
	}
}

func TestEnsureDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Resolve()
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.DataDir, cfg.Journal.Dir, cfg.Snapshot.Path, cfg.Snapshot.DownloadDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("expected directory %s", dir)
		}
	}
}
