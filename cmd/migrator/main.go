package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/maloquacious/semver"
	"github.com/spf13/cobra"

	"github.com/maloquacious/migrator/internal/config"
	"github.com/maloquacious/migrator/internal/logger"
	"github.com/maloquacious/migrator/internal/migration"
	"github.com/maloquacious/migrator/internal/store"
	"github.com/maloquacious/migrator/internal/store/postgres"
	"github.com/maloquacious/migrator/internal/store/sqlite"
	"github.com/maloquacious/migrator/internal/typesgen"
)

var (
	version = semver.Version{Minor: 1, PreRelease: "alpha", Build: semver.Commit()}
)

// globals holds the persistent flags shared by every command.
type globals struct {
	configPath    string
	rootDir       string
	databaseURL   string
	migrationsDir string
	table         string
	schema        string
	verbose       bool
	noColor       bool

	stdout io.Writer
	log    logger.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	os.Exit(execute(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the command line and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	g := &globals{stdout: stdout, log: logger.New(stderr, false)}
	rootCmd := newRootCmd(g, stderr)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		g.log.Error("%v", err)
		return 1
	}
	return 0
}

func newRootCmd(g *globals, stderr io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "migrator",
		Short:         "Apply versioned SQL migrations to PostgreSQL or SQLite",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if g.noColor {
				color.NoColor = true
			}
			g.log = logger.New(stderr, g.verbose)
		},
	}

	// Global flags
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "path to the config file (default <root>/"+config.DefaultFile+")")
	pf.StringVar(&g.rootDir, "root", ".", "root directory for the config file and relative paths")
	pf.StringVar(&g.databaseURL, "database-url", "", "connection string, overrides the config file")
	pf.StringVar(&g.migrationsDir, "migrations-dir", "", "migrations directory, overrides the config file")
	pf.StringVar(&g.table, "table", "", "ledger table name, overrides the config file")
	pf.StringVar(&g.schema, "schema", "", "database schema, overrides the config file")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "log debug output")
	pf.BoolVar(&g.noColor, "no-color", false, "disable coloured output")

	upCmd := &cobra.Command{
		Use:   "up [steps]",
		Short: "Apply pending migrations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.runDirection(cmd.Context(), migration.Up, args)
		},
	}
	downCmd := &cobra.Command{
		Use:   "down [steps]",
		Short: "Revert applied migrations, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.runDirection(cmd.Context(), migration.Down, args)
		},
	}
	redoCmd := &cobra.Command{
		Use:   "redo [steps]",
		Short: "Revert then re-apply the most recent migrations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.runRedo(cmd.Context(), args)
		},
	}

	var details bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations without changing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.runStatus(cmd.Context(), details)
		},
	}
	statusCmd.Flags().BoolVar(&details, "details", false, "list file and ledger names")

	var yes bool
	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop every table in the schema, the ledger included",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("reset drops every table; re-run with --yes to confirm")
			}
			return g.runReset(cmd.Context())
		},
	}
	resetCmd.Flags().BoolVar(&yes, "yes", false, "confirm dropping every table")

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new migration file from the template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.runCreate(args[0])
		},
	}

	var force bool
	setupCmd := &cobra.Command{
		Use:   "setup",
		Short: "Create the root directory, config file and migrations directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.runSetup(force)
		},
	}
	setupCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(g.stdout, version.String())
		},
	}

	rootCmd.AddCommand(upCmd, downCmd, redoCmd, statusCmd, resetCmd, createCmd, setupCmd, versionCmd)
	return rootCmd
}

func (g *globals) loadConfig() (*config.Config, error) {
	return config.Load(g.configPath, g.rootDir, config.Overrides{
		DatabaseURL:   g.databaseURL,
		MigrationsDir: g.migrationsDir,
		Table:         g.table,
		Schema:        g.schema,
	})
}

// openStore picks the store for the configured connection and opens it.
func (g *globals) openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dsn := cfg.Connection.DSN()
	driver, err := store.DriverFor(dsn)
	if err != nil {
		return nil, err
	}

	var db store.Store
	switch driver {
	case store.DriverPostgres:
		db = postgres.New(dsn, cfg.Schema)
	default:
		db = sqlite.New(dsn)
	}

	g.log.Debug("opening %s database %s", driver, store.Redact(dsn))
	if err := db.Open(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// withEngine loads the config, opens the store and hands an engine to fn.
func (g *globals) withEngine(ctx context.Context, fn func(*config.Config, store.Store, *migration.Engine) error) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	db, err := g.openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	engine := migration.New(db, migration.Options{
		Dir:    cfg.MigrationsDir,
		Table:  cfg.Table,
		Logger: g.log,
	})
	return fn(cfg, db, engine)
}

func (g *globals) runDirection(ctx context.Context, d migration.Direction, args []string) error {
	steps, err := parseSteps(args)
	if err != nil {
		return err
	}

	return g.withEngine(ctx, func(cfg *config.Config, db store.Store, engine *migration.Engine) error {
		report := migration.NewReporter(g.stdout, false)

		var result migration.Result
		if d == migration.Down {
			result, err = engine.Down(ctx, steps)
		} else {
			result, err = engine.Up(ctx, steps)
		}
		if errors.Is(err, migration.ErrDownNotPossible) {
			report.Findings(result.Findings)
			report.DownNotPossible()
			return nil
		}
		if err != nil {
			report.Failure(err)
			return err
		}

		report.Result(result)
		return g.writeTypes(ctx, cfg, db)
	})
}

func (g *globals) runRedo(ctx context.Context, args []string) error {
	steps, err := parseSteps(args)
	if err != nil {
		return err
	}

	return g.withEngine(ctx, func(cfg *config.Config, db store.Store, engine *migration.Engine) error {
		report := migration.NewReporter(g.stdout, false)

		results, err := engine.Redo(ctx, steps)
		reportRedo(report, results)
		if err != nil {
			report.Failure(err)
			return err
		}
		return g.writeTypes(ctx, cfg, db)
	})
}

// reportRedo renders both halves of a redo. Both runs reconcile the same
// files, so the advisory findings are shown once, with the down half.
func reportRedo(report *migration.Reporter, results []migration.Result) {
	for i, result := range results {
		if i > 0 {
			result.Findings = nil
		}
		if i == 0 && errors.Is(result.Err, migration.ErrDownNotPossible) {
			report.Findings(result.Findings)
			report.DownNotPossible()
			continue
		}
		if result.State != migration.StateFailed {
			report.Result(result)
		}
	}
}

func (g *globals) runStatus(ctx context.Context, details bool) error {
	return g.withEngine(ctx, func(cfg *config.Config, db store.Store, engine *migration.Engine) error {
		summary, err := engine.Status(ctx)
		if err != nil {
			return err
		}
		migration.NewReporter(g.stdout, details).Summary(summary)
		return nil
	})
}

func (g *globals) runReset(ctx context.Context) error {
	return g.withEngine(ctx, func(cfg *config.Config, db store.Store, engine *migration.Engine) error {
		tables, err := engine.Reset(ctx)
		if err != nil {
			return err
		}
		migration.NewReporter(g.stdout, false).Reset(tables)
		return nil
	})
}

func (g *globals) runCreate(name string) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}

	path, err := migration.CreateFile(cfg.MigrationsDir, name, time.Now())
	if err != nil {
		return err
	}
	migration.NewReporter(g.stdout, false).Created(path)
	return nil
}

func (g *globals) runSetup(force bool) error {
	if err := os.MkdirAll(g.rootDir, 0755); err != nil {
		return fmt.Errorf("setup: %w", err)
	}

	path := g.configPath
	if path == "" {
		path = filepath.Join(g.rootDir, config.DefaultFile)
	}
	if err := config.WriteTemplate(path, config.Default(), force); err != nil {
		return err
	}
	g.log.Info("wrote config %s", path)

	dir := filepath.Join(g.rootDir, config.DefaultMigrationsDir)
	if g.migrationsDir != "" {
		dir = g.migrationsDir
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	g.log.Info("created migrations directory %s", dir)
	return nil
}

// writeTypes refreshes the types file when one is configured.
func (g *globals) writeTypes(ctx context.Context, cfg *config.Config, db store.Store) error {
	if cfg.TypesFile == "" {
		return nil
	}
	if err := typesgen.Generate(ctx, db, cfg.Table, cfg.TypesFile); err != nil {
		return err
	}
	g.log.Debug("wrote types file %s", cfg.TypesFile)
	return nil
}

func parseSteps(args []string) (int, error) {
	if len(args) == 0 {
		return 0, nil
	}
	steps, err := strconv.Atoi(args[0])
	if err != nil || steps < 0 {
		return 0, fmt.Errorf("steps must be a non-negative integer, got %q", args[0])
	}
	return steps, nil
}
