package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for db2pq.
type Config struct {
	DataDir        string `toml:"data_dir"`
	Timezone       string `toml:"tz"`              // zone of zoneless timestamp columns
	SourceTimezone string `toml:"source_timezone"` // zone of source wall-clock timestamps

	Database DatabaseConfig `toml:"database"`
	Archive  ArchiveConfig  `toml:"archive"`
	Journal  JournalConfig  `toml:"journal"`
	Remote   RemoteConfig   `toml:"remote"`
}

// DatabaseConfig holds the PostgreSQL connection settings. The password
// is never written to the config file; it comes from the environment or
// an interactive prompt.
type DatabaseConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode,omitempty"`
}

// ArchiveConfig represents configuration for the archive backend.
// This uses a tagged union pattern - the Type field determines which
// other fields are relevant.
type ArchiveConfig struct {
	Type string `toml:"type"` // "filesystem", "s3", or "memory"

	// Dir is the per-schema directory name archived snapshots go under.
	Dir string `toml:"dir,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem").
	// An empty root archives alongside the live snapshots in data_dir.
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"`
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`
}

// JournalConfig represents configuration for the sync-run journal.
type JournalConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path,omitempty"` // defaults to <data_dir>/db2pq.db
}

// RemoteConfig holds the SSH settings for the legacy contents-listing
// signal. Unused unless a command opts in with --use-remote.
type RemoteConfig struct {
	Host       string `toml:"host,omitempty"`
	Port       int    `toml:"port,omitempty"`
	User       string `toml:"user,omitempty"`
	KeyFile    string `toml:"key_file,omitempty"`
	KnownHosts string `toml:"known_hosts,omitempty"`
}

// NewConfig creates a new Config with the provided data directory and
// default settings.
func NewConfig(dataDir string) *Config {
	return &Config{
		DataDir:        dataDir,
		Timezone:       "UTC",
		SourceTimezone: "America/New_York",
		Database: DatabaseConfig{
			Port: 5432,
		},
		Archive: ArchiveConfig{
			Type: "filesystem",
		},
		Journal: JournalConfig{
			Enabled: true,
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
// This is an internal helper and should not be exported.
func writeToFile(path string, cfg *Config) error {
	// Ensure the directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	// Check if config already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
