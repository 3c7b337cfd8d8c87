// Package config provides configuration for the docrel server and tools.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the configuration of a docrel engine and its HTTP server.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	HTTP     HTTPConfig     `json:"http" yaml:"http"`
	Store    StoreConfig    `json:"store" yaml:"store"`
	Journal  JournalConfig  `json:"journal" yaml:"journal"`
	Snapshot SnapshotConfig `json:"snapshot" yaml:"snapshot"`
	Ingest   IngestConfig   `json:"ingest" yaml:"ingest"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Addr         string        `json:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// StoreConfig holds the relational store configuration.
type StoreConfig struct {
	// Path is the SQLite database file; defaults to DataDir/docrel.db
	Path        string        `json:"path" yaml:"path"`
	BusyTimeout time.Duration `json:"busy_timeout" yaml:"busy_timeout"`
	// JournalMode is the SQLite journal mode (WAL, DELETE, ...)
	JournalMode  string `json:"journal_mode" yaml:"journal_mode"`
	MaxReadConns int    `json:"max_read_conns" yaml:"max_read_conns"`
}

// JournalConfig holds write-ahead journal configuration.
type JournalConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Dir     string `json:"dir" yaml:"dir"`
	// SegmentSizeMB is the size at which a journal segment is rotated
	SegmentSizeMB      int           `json:"segment_size_mb" yaml:"segment_size_mb"`
	CheckpointInterval time.Duration `json:"checkpoint_interval" yaml:"checkpoint_interval"`
}

// SnapshotConfig holds snapshot storage configuration.
type SnapshotConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`
	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`
	// Prefix is prepended to every snapshot object path
	Prefix string   `json:"prefix" yaml:"prefix"`
	S3     S3Config `json:"s3" yaml:"s3"`
	// DownloadDir receives snapshots fetched for import
	DownloadDir string `json:"download_dir" yaml:"download_dir"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	Bucket   string `json:"bucket" yaml:"bucket"`
	Region   string `json:"region" yaml:"region"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	// UsePathStyle is required by MinIO and most S3-compatible stores
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// IngestConfig holds ingest limits.
type IngestConfig struct {
	// MaxBatchDocuments caps the documents of one insert request
	MaxBatchDocuments int `json:"max_batch_documents" yaml:"max_batch_documents"`
	// AssignIDs adds an ObjectId _id to documents that lack one
	AssignIDs bool `json:"assign_ids" yaml:"assign_ids"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/docrel",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			BusyTimeout:  5 * time.Second,
			JournalMode:  "WAL",
			MaxReadConns: 8,
		},
		Journal: JournalConfig{
			Enabled:            true,
			SegmentSizeMB:      64,
			CheckpointInterval: time.Minute,
		},
		Snapshot: SnapshotConfig{
			Type:   "local",
			Prefix: "snapshots",
		},
		Ingest: IngestConfig{
			MaxBatchDocuments: 10000,
			AssignIDs:         true,
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/docrel"
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "docrel.db")
	}
	if c.Journal.Dir == "" {
		c.Journal.Dir = filepath.Join(c.DataDir, "journal")
	}
	if c.Snapshot.Path == "" {
		c.Snapshot.Path = filepath.Join(c.DataDir, "snapshots")
	}
	if c.Snapshot.DownloadDir == "" {
		c.Snapshot.DownloadDir = filepath.Join(c.DataDir, "downloads")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}

	switch strings.ToUpper(c.Store.JournalMode) {
	case "WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY", "OFF":
	default:
		return fmt.Errorf("invalid store.journal_mode: %s", c.Store.JournalMode)
	}
	if c.Store.BusyTimeout < 0 {
		return fmt.Errorf("store.busy_timeout must not be negative")
	}
	if c.Store.MaxReadConns < 1 {
		return fmt.Errorf("store.max_read_conns must be at least 1, got %d", c.Store.MaxReadConns)
	}

	if c.Journal.Enabled && (c.Journal.SegmentSizeMB < 1 || c.Journal.SegmentSizeMB > 1024) {
		return fmt.Errorf("journal.segment_size_mb must be between 1 and 1024, got %d", c.Journal.SegmentSizeMB)
	}

	if c.Snapshot.Type != "local" && c.Snapshot.Type != "s3" {
		return fmt.Errorf("invalid snapshot type: %s (must be local or s3)", c.Snapshot.Type)
	}
	if c.Snapshot.Type == "s3" && c.Snapshot.S3.Bucket == "" {
		return fmt.Errorf("snapshot.s3.bucket is required when snapshot type is s3")
	}

	if c.Ingest.MaxBatchDocuments < 1 {
		return fmt.Errorf("ingest.max_batch_documents must be positive, got %d", c.Ingest.MaxBatchDocuments)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file over the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv overrides cfg with environment variables. Variables use the
// DOCREL_ prefix; unparsable values are ignored.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("DOCREL_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// HTTP configuration
	if v := os.Getenv("DOCREL_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	envDuration("DOCREL_HTTP_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout)

	// Store configuration
	if v := os.Getenv("DOCREL_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	envDuration("DOCREL_STORE_BUSY_TIMEOUT", &cfg.Store.BusyTimeout)
	if v := os.Getenv("DOCREL_STORE_JOURNAL_MODE"); v != "" {
		cfg.Store.JournalMode = v
	}
	envInt("DOCREL_STORE_MAX_READ_CONNS", &cfg.Store.MaxReadConns)

	// Journal configuration
	if v := os.Getenv("DOCREL_JOURNAL_ENABLED"); v != "" {
		cfg.Journal.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("DOCREL_JOURNAL_DIR"); v != "" {
		cfg.Journal.Dir = v
	}
	envInt("DOCREL_JOURNAL_SEGMENT_SIZE_MB", &cfg.Journal.SegmentSizeMB)
	envDuration("DOCREL_JOURNAL_CHECKPOINT_INTERVAL", &cfg.Journal.CheckpointInterval)

	// Snapshot configuration
	if v := os.Getenv("DOCREL_SNAPSHOT_TYPE"); v != "" {
		cfg.Snapshot.Type = v
	}
	if v := os.Getenv("DOCREL_SNAPSHOT_PATH"); v != "" {
		cfg.Snapshot.Path = v
	}
	if v := os.Getenv("DOCREL_SNAPSHOT_PREFIX"); v != "" {
		cfg.Snapshot.Prefix = v
	}
	if v := os.Getenv("DOCREL_S3_BUCKET"); v != "" {
		cfg.Snapshot.S3.Bucket = v
	}
	if v := os.Getenv("DOCREL_S3_REGION"); v != "" {
		cfg.Snapshot.S3.Region = v
	}
	if v := os.Getenv("DOCREL_S3_ENDPOINT"); v != "" {
		cfg.Snapshot.S3.Endpoint = v
	}
	if v := os.Getenv("DOCREL_S3_USE_PATH_STYLE"); v != "" {
		cfg.Snapshot.S3.UsePathStyle = v == "true" || v == "1"
	}

	// Ingest configuration
	envInt("DOCREL_INGEST_MAX_BATCH_DOCUMENTS", &cfg.Ingest.MaxBatchDocuments)
	if v := os.Getenv("DOCREL_INGEST_ASSIGN_IDS"); v != "" {
		cfg.Ingest.AssignIDs = v == "true" || v == "1"
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		fmt.Sscanf(v, "%d", dst)
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// SegmentSize returns the journal segment size in bytes.
func (c *Config) SegmentSize() int64 {
	return int64(c.Journal.SegmentSizeMB) << 20
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, filepath.Dir(c.Store.Path)}
	if c.Journal.Enabled {
		dirs = append(dirs, c.Journal.Dir)
	}
	if c.Snapshot.Type == "local" {
		dirs = append(dirs, c.Snapshot.Path)
	}
	dirs = append(dirs, c.Snapshot.DownloadDir)

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Load builds the configuration used by the binaries: values from a .env
// file in the working directory are exported first, then file (or the
// defaults), then DOCREL_* variables, and dataDir last when set.
func Load(file, dataDir string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := DefaultConfig()
	if file != "" {
		var err error
		if cfg, err = LoadFromFile(file); err != nil {
			return nil, err
		}
	}
	LoadFromEnv(cfg)
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
