package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/iangow/db2pq/internal/config"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - DB2PQ_CONFIG_PATH: config file location (default: ~/.config/db2pq.toml)
//   - DATA_DIR: snapshot data directory (default: ~/.local/share/db2pq)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	dataDir, err := getDataDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"data_dir":    dataDir,
		"log_dir":     filepath.Join(dataDir, "log"),
	}, nil
}

// getConfigPath returns the config file path, checking DB2PQ_CONFIG_PATH env var first,
// then falling back to the default ~/.config/db2pq.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("DB2PQ_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "db2pq.toml"), nil
}

// getDataDir returns the snapshot data directory, checking DATA_DIR env var first,
// then falling back to the XDG default ~/.local/share/db2pq.
func getDataDir() (string, error) {
	if path := os.Getenv("DATA_DIR"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "db2pq"), nil
}

// ApplyEnv overlays the conventional PostgreSQL client variables and the
// remote-user shortcut onto cfg. Values already set in the config file
// win; the environment only fills gaps, except PGPASSWORD, which is the
// sole source for the password.
func ApplyEnv(cfg *config.Config) {
	if cfg.Database.Host == "" {
		cfg.Database.Host = os.Getenv("PGHOST")
	}
	if cfg.Database.Port == 0 {
		if port, err := strconv.Atoi(os.Getenv("PGPORT")); err == nil {
			cfg.Database.Port = port
		}
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = os.Getenv("PGUSER")
	}
	if cfg.Database.Database == "" {
		cfg.Database.Database = os.Getenv("PGDATABASE")
	}
	if cfg.Remote.User == "" {
		cfg.Remote.User = os.Getenv("WRDS_ID")
	}
	if dir := os.Getenv("DATA_DIR"); cfg.DataDir == "" && dir != "" {
		cfg.DataDir = dir
	}
}
