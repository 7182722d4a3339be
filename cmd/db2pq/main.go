package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/iangow/db2pq/internal/app"
	"github.com/iangow/db2pq/internal/config"
	"github.com/iangow/db2pq/internal/core"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// readConfig loads the config file, falling back to built-in defaults
// when no file exists so that environment variables alone are enough to
// run.
func readConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return config.NewConfig(defaults["data_dir"]), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaults["data_dir"]
	}
	return cfg, nil
}

// newDBApp wires an App with a database connection. The caller must
// defer a.Close().
func newDBApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}
	password, err := resolvePassword()
	if err != nil {
		return nil, err
	}
	a, err := app.NewApp(cmd.Context(), cfg, password)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// newLocalApp wires an App without a database connection, for commands
// that only touch local snapshots.
func newLocalApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.NewLocalApp(cmd.Context(), cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// resolvePassword takes PGPASSWORD when set, otherwise prompts when
// stdin is a terminal. An empty password is passed through for servers
// that authenticate without one.
func resolvePassword() (string, error) {
	if pw := os.Getenv("PGPASSWORD"); pw != "" {
		return pw, nil
	}
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", nil
	}
	fmt.Fprint(os.Stderr, "Database password: ")
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}

// parseRef splits a SCHEMA.TABLE argument.
func parseRef(arg string) (core.TableRef, error) {
	schema, table, ok := strings.Cut(arg, ".")
	if !ok || schema == "" || table == "" {
		return core.TableRef{}, fmt.Errorf("expected SCHEMA.TABLE, got %q", arg)
	}
	return core.TableRef{Schema: schema, Table: table}, nil
}

// tableFlags declares the per-table export/update flags on cmd.
func tableFlags(cmd *cobra.Command) {
	cmd.Flags().StringArray("keep", nil, "Keep only columns matching this regex (repeatable)")
	cmd.Flags().StringArray("drop", nil, "Drop columns matching this regex (repeatable)")
	cmd.Flags().StringArray("col-type", nil, "Coerce a column, as NAME=TYPE (repeatable)")
	cmd.Flags().String("where", "", "SQL predicate restricting exported rows")
	cmd.Flags().Int("limit", 0, "Maximum number of rows to export (0 = all)")
	cmd.Flags().Bool("batched", false, "Stream rows in batches instead of one result set")
	cmd.Flags().Int("batch-size", 0, "Rows per batch when --batched (0 = default)")
	cmd.Flags().Bool("archive", false, "Archive the existing snapshot before overwriting")
	cmd.Flags().String("alt-name", "", "Write the snapshot under this basename")
}

// syncOptions builds SyncOptions from the flags tableFlags declared.
func syncOptions(cmd *cobra.Command) (core.SyncOptions, error) {
	keep, _ := cmd.Flags().GetStringArray("keep")
	drop, _ := cmd.Flags().GetStringArray("drop")
	colTypes, _ := cmd.Flags().GetStringArray("col-type")

	types := make(map[string]string)
	for _, spec := range colTypes {
		name, typeName, ok := strings.Cut(spec, "=")
		if !ok {
			return core.SyncOptions{}, fmt.Errorf("expected NAME=TYPE, got %q", spec)
		}
		types[name] = typeName
	}
	rules, err := core.CompileRules(drop, keep, types)
	if err != nil {
		return core.SyncOptions{}, err
	}

	var opts core.SyncOptions
	opts.Rules = rules
	opts.Where, _ = cmd.Flags().GetString("where")
	opts.Limit, _ = cmd.Flags().GetInt("limit")
	opts.Batched, _ = cmd.Flags().GetBool("batched")
	opts.BatchSize, _ = cmd.Flags().GetInt("batch-size")
	opts.Archive, _ = cmd.Flags().GetBool("archive")
	opts.AltName, _ = cmd.Flags().GetString("alt-name")
	return opts, nil
}

var rootCmd = &cobra.Command{
	Use:   "db2pq",
	Short: "Incremental database-to-parquet snapshot tool",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["data_dir"])
		app.ApplyEnv(cfg)

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Data Dir: %s\n", cfg.DataDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Data Dir:        %s\n", cfg.DataDir)
		fmt.Printf("Source Timezone: %s\n", cfg.SourceTimezone)
		fmt.Printf("Database:        %s@%s:%d/%s\n",
			cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
		fmt.Printf("Archive:         %s\n", cfg.Archive.Type)
		return nil
	},
}

// update command
var updateCmd = &cobra.Command{
	Use:   "update SCHEMA.TABLE",
	Short: "Refresh a snapshot if the source has newer data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := parseRef(args[0])
		if err != nil {
			return err
		}
		opts, err := syncOptions(cmd)
		if err != nil {
			return err
		}
		opts.Force, _ = cmd.Flags().GetBool("force")
		opts.UseRemote, _ = cmd.Flags().GetBool("use-remote")
		opts.RemoteCommand, _ = cmd.Flags().GetString("remote-command")

		a, err := newDBApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		refreshed, err := a.Service().Sync(cmd.Context(), ref, opts)
		if err != nil {
			return fmt.Errorf("updating %s: %w", ref, err)
		}
		if refreshed {
			fmt.Printf("Updated %s\n", ref)
		} else {
			fmt.Printf("%s is up to date\n", ref)
		}
		return nil
	},
}

// export command
var exportCmd = &cobra.Command{
	Use:   "export SCHEMA.TABLE",
	Short: "Export a table to a snapshot unconditionally",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := parseRef(args[0])
		if err != nil {
			return err
		}
		opts, err := syncOptions(cmd)
		if err != nil {
			return err
		}

		var lastModified time.Time
		if raw, _ := cmd.Flags().GetString("modified"); raw != "" {
			lastModified, err = time.Parse(time.RFC3339, raw)
			if err != nil {
				return fmt.Errorf("invalid --modified value %q: %w", raw, err)
			}
		}

		a, err := newDBApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		path, err := a.Service().Export(cmd.Context(), ref, lastModified, opts)
		if err != nil {
			return fmt.Errorf("exporting %s: %w", ref, err)
		}
		fmt.Printf("Exported %s to %s\n", ref, path)
		return nil
	},
}

// schema command
var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Operate on every table in a schema",
}

var schemaUpdateCmd = &cobra.Command{
	Use:   "update SCHEMA",
	Short: "Refresh every snapshot already present for a schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := syncOptions(cmd)
		if err != nil {
			return err
		}
		opts.Force, _ = cmd.Flags().GetBool("force")

		a, err := newDBApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.Service().SyncSchema(cmd.Context(), args[0], opts)
		if err != nil {
			return err
		}
		return printResults(results, "updated")
	},
}

var schemaExportCmd = &cobra.Command{
	Use:   "export SCHEMA",
	Short: "Export every table in a schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := syncOptions(cmd)
		if err != nil {
			return err
		}

		a, err := newDBApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.Service().ExportSchema(cmd.Context(), args[0], opts)
		if err != nil {
			return err
		}
		return printResults(results, "exported")
	},
}

// printResults summarizes a schema-level run, failing the command when
// any table failed.
func printResults(results []core.TableResult, verb string) error {
	if len(results) == 0 {
		fmt.Println("No tables found.")
		return nil
	}
	failed := 0
	for _, r := range results {
		switch {
		case r.Err != nil:
			failed++
			fmt.Printf("FAILED   %s: %v\n", r.Ref, r.Err)
		case r.Refreshed:
			fmt.Printf("%-8s %s\n", verb, r.Ref)
		default:
			fmt.Printf("current  %s\n", r.Ref)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tables failed", failed, len(results))
	}
	return nil
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore SCHEMA.TABLE",
	Short: "Restore an archived snapshot to the live path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := parseRef(args[0])
		if err != nil {
			return err
		}
		stamp, _ := cmd.Flags().GetString("stamp")

		a, err := newLocalApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		key, err := a.Service().RestoreSnapshot(cmd.Context(), ref, stamp)
		if err != nil {
			return err
		}
		fmt.Printf("Restored %s from %s\n", ref, key)
		return nil
	},
}

// archives command
var archivesCmd = &cobra.Command{
	Use:   "archives SCHEMA.TABLE",
	Short: "List archived snapshots for a table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := parseRef(args[0])
		if err != nil {
			return err
		}

		a, err := newLocalApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		keys, err := a.Service().ListArchives(cmd.Context(), ref)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Println("No archived snapshots.")
			return nil
		}
		for _, key := range keys {
			fmt.Println(key)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history SCHEMA.TABLE",
	Short: "View synchronization history for a table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := parseRef(args[0])
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newLocalApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		recs, err := a.History(cmd.Context(), ref, limit)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No synchronization runs recorded.")
			return nil
		}
		for _, rec := range recs {
			status := "skipped"
			if rec.Refreshed {
				status = "refreshed"
			}
			if rec.Error != "" {
				status = "failed"
			}
			duration := rec.FinishedAt.Sub(rec.StartedAt).Truncate(time.Millisecond)
			fmt.Printf("%s  %-9s  %s", rec.StartedAt.Format("2006-01-02 15:04:05"), status, duration)
			if rec.Error != "" {
				fmt.Printf("  %s", rec.Error)
			}
			fmt.Println()
		}
		return nil
	},
}

// rm command
var rmCmd = &cobra.Command{
	Use:   "rm SCHEMA.TABLE",
	Short: "Remove a live snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := parseRef(args[0])
		if err != nil {
			return err
		}

		a, err := newLocalApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Service().RemoveSnapshot(ref); err != nil {
			return err
		}
		fmt.Printf("Removed snapshot for %s\n", ref)
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// schema subcommands
	schemaCmd.AddCommand(schemaUpdateCmd)
	schemaCmd.AddCommand(schemaExportCmd)
	tableFlags(schemaUpdateCmd)
	schemaUpdateCmd.Flags().Bool("force", false, "Refresh even when snapshots look current")
	tableFlags(schemaExportCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(updateCmd)
	tableFlags(updateCmd)
	updateCmd.Flags().Bool("force", false, "Refresh even when the snapshot looks current")
	updateCmd.Flags().Bool("use-remote", false, "Read the source timestamp from the remote listing")
	updateCmd.Flags().String("remote-command", "", "Command producing the remote contents listing")
	rootCmd.AddCommand(exportCmd)
	tableFlags(exportCmd)
	exportCmd.Flags().String("modified", "", "Record this RFC-3339 timestamp as the source state")
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().String("stamp", "", "Archive stamp to restore (default: most recent)")
	rootCmd.AddCommand(archivesCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of runs to show")
	rootCmd.AddCommand(rmCmd)
}
