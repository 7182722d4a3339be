// Package app is the application layer between the CLI and the sync
// service. It constructs all dependencies from config and manages their
// lifecycle on Close.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/iangow/db2pq/internal/archivestore"
	"github.com/iangow/db2pq/internal/config"
	"github.com/iangow/db2pq/internal/core"
	"github.com/iangow/db2pq/internal/journal"
	"github.com/iangow/db2pq/internal/parquet"
	"github.com/iangow/db2pq/internal/postgres"
	"github.com/iangow/db2pq/internal/remote"
)

// App wires the sync service to its configured backends.
type App struct {
	cfg     *config.Config
	querier *postgres.Querier
	journal *journal.SQLiteJournal
	service *core.SyncService
	logFile *os.File
}

// NewApp creates a fully wired App, including the database connection.
// password may be empty when the server authenticates without one.
// The caller must call Close when done.
func NewApp(ctx context.Context, cfg *config.Config, password string) (*App, error) {
	return newApp(ctx, cfg, password, true)
}

// NewLocalApp wires an App without a database connection, for commands
// that only touch local snapshots and archives.
func NewLocalApp(ctx context.Context, cfg *config.Config) (*App, error) {
	return newApp(ctx, cfg, "", false)
}

func newApp(ctx context.Context, cfg *config.Config, password string, withDB bool) (*App, error) {
	ApplyEnv(cfg)
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data directory not configured")
	}

	loc, err := loadZone(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", cfg.Timezone, err)
	}
	sourceLoc, err := loadZone(cfg.SourceTimezone)
	if err != nil {
		return nil, fmt.Errorf("loading source timezone %q: %w", cfg.SourceTimezone, err)
	}

	opID := uuid.New().String()
	logger, logFile, err := newLogger(filepath.Join(cfg.DataDir, "log"), opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	store, err := archivestore.NewStoreFromConfig(ctx, cfg.Archive, cfg.DataDir)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating archive store: %w", err)
	}
	archiver := core.NewArchiver(store, core.RealClock{}, cfg.Archive.Dir)

	var jnl *journal.SQLiteJournal
	if cfg.Journal.Enabled {
		path := cfg.Journal.Path
		if path == "" {
			path = filepath.Join(cfg.DataDir, "db2pq.db")
		}
		jnl, err = journal.Open(path)
		if err != nil {
			logFile.Close()
			return nil, fmt.Errorf("opening journal: %w", err)
		}
	}

	var querier *postgres.Querier
	if withDB {
		querier, err = postgres.Open(ctx, postgres.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: password,
			Database: cfg.Database.Database,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			if jnl != nil {
				jnl.Close()
			}
			logFile.Close()
			return nil, err
		}
	}

	var executor core.RemoteExecutor
	if cfg.Remote.Host != "" {
		exec, err := remote.NewExecutor(remote.Config{
			Host:       cfg.Remote.Host,
			Port:       cfg.Remote.Port,
			User:       cfg.Remote.User,
			KeyFile:    cfg.Remote.KeyFile,
			KnownHosts: cfg.Remote.KnownHosts,
		})
		if err != nil {
			logger.Warn("remote executor unavailable", "error", err)
		} else {
			executor = exec
		}
	}

	// A nil *postgres.Querier must not become a non-nil core.Querier.
	var coreQuerier core.Querier
	if querier != nil {
		coreQuerier = querier
	}
	var coreJournal core.Journal
	if jnl != nil {
		coreJournal = jnl
	}

	svc := core.NewSyncService(coreQuerier, parquet.NewStore(), archiver, executor, coreJournal,
		&slogAdapter{l: logger}, core.RealClock{}, core.UUIDGenerator{},
		core.ServiceOptions{
			DataDir:        cfg.DataDir,
			Location:       loc,
			SourceLocation: sourceLoc,
		})

	return &App{
		cfg:     cfg,
		querier: querier,
		journal: jnl,
		service: svc,
		logFile: logFile,
	}, nil
}

// loadZone resolves a zone name, with empty meaning UTC.
func loadZone(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// Service exposes the wired sync service.
func (a *App) Service() *core.SyncService { return a.service }

// History returns the most recent journal entries for a table, newest
// first.
func (a *App) History(ctx context.Context, ref core.TableRef, limit int) ([]core.SyncRecord, error) {
	if a.journal == nil {
		return nil, fmt.Errorf("journal not enabled")
	}
	return a.journal.List(ctx, ref, limit)
}

// Close releases all resources.
func (a *App) Close() error {
	var firstErr error

	if a.querier != nil {
		if err := a.querier.Close(); err != nil {
			firstErr = fmt.Errorf("closing database connection: %w", err)
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing journal: %w", err)
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
