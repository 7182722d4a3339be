package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/iangow/db2pq/internal/config"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv("DB2PQ_CONFIG_PATH", "/custom/config.toml")
		t.Setenv("DATA_DIR", "/custom/data")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		if defaults["config_path"] != "/custom/config.toml" {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], "/custom/config.toml")
		}
		if defaults["data_dir"] != "/custom/data" {
			t.Errorf("data_dir = %q, want %q", defaults["data_dir"], "/custom/data")
		}
		if defaults["log_dir"] != "/custom/data/log" {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], "/custom/data/log")
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv("DB2PQ_CONFIG_PATH", "")
		t.Setenv("DATA_DIR", "")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()

		wantConfig := filepath.Join(homeDir, ".config", "db2pq.toml")
		if defaults["config_path"] != wantConfig {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], wantConfig)
		}

		wantData := filepath.Join(homeDir, ".local", "share", "db2pq")
		if defaults["data_dir"] != wantData {
			t.Errorf("data_dir = %q, want %q", defaults["data_dir"], wantData)
		}

		wantLog := filepath.Join(wantData, "log")
		if defaults["log_dir"] != wantLog {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], wantLog)
		}
	})
}

func TestApplyEnv(t *testing.T) {
	t.Run("fills gaps from pg env vars", func(t *testing.T) {
		t.Setenv("PGHOST", "db.example.com")
		t.Setenv("PGPORT", "5433")
		t.Setenv("PGUSER", "analyst")
		t.Setenv("PGDATABASE", "research")
		t.Setenv("WRDS_ID", "analyst_remote")
		t.Setenv("DATA_DIR", "")

		cfg := &config.Config{}
		ApplyEnv(cfg)

		if cfg.Database.Host != "db.example.com" {
			t.Errorf("Host = %q, want %q", cfg.Database.Host, "db.example.com")
		}
		if cfg.Database.Port != 5433 {
			t.Errorf("Port = %d, want 5433", cfg.Database.Port)
		}
		if cfg.Database.User != "analyst" {
			t.Errorf("User = %q, want %q", cfg.Database.User, "analyst")
		}
		if cfg.Database.Database != "research" {
			t.Errorf("Database = %q, want %q", cfg.Database.Database, "research")
		}
		if cfg.Remote.User != "analyst_remote" {
			t.Errorf("Remote.User = %q, want %q", cfg.Remote.User, "analyst_remote")
		}
	})

	t.Run("port defaults when neither file nor env set it", func(t *testing.T) {
		t.Setenv("PGPORT", "")

		cfg := &config.Config{}
		ApplyEnv(cfg)

		if cfg.Database.Port != 5432 {
			t.Errorf("Port = %d, want 5432", cfg.Database.Port)
		}
	})

	t.Run("config file values win", func(t *testing.T) {
		t.Setenv("PGHOST", "env-host")
		t.Setenv("PGPORT", "9999")

		cfg := &config.Config{}
		cfg.Database.Host = "file-host"
		cfg.Database.Port = 5432
		ApplyEnv(cfg)

		if cfg.Database.Host != "file-host" {
			t.Errorf("Host = %q, want %q", cfg.Database.Host, "file-host")
		}
		if cfg.Database.Port != 5432 {
			t.Errorf("Port = %d, want 5432", cfg.Database.Port)
		}
	})
}
