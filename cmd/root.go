package cmd

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sparkify/internal/config"
	"sparkify/internal/observability"
	"sparkify/internal/staging"
	"sparkify/internal/ui"
	"sparkify/internal/warehouse"
	"sparkify/pkg/errors"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	timeout   time.Duration

	v      *viper.Viper
	logger *slog.Logger

	rootCmd = &cobra.Command{
		Use:   "sparkify",
		Short: "Build the Sparkify play-history warehouse",
		Long: `sparkify loads raw song metadata and user activity logs into staging
tables and transforms them into a star schema of song plays, users, songs,
artists and time.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}
)

// Execute runs the root command and exits non-zero on failure
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.ShowError(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "configuration file (default $SPARKIFY_CONFIG or ./dwh.cfg)")
	flags.String("dialect", "", "warehouse dialect: "+fmt.Sprint(warehouse.DialectNames()))
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flags.StringVar(&logFormat, "log-format", string(observability.FormatText), "log format: text or json")
	flags.DurationVar(&timeout, "timeout", 0, "deadline for each statement collection, 0 for none")
}

func setup(cmd *cobra.Command, _ []string) error {
	level, err := observability.ParseLevel(logLevel)
	if err != nil {
		return errors.ConfigError(err.Error(), "log-level")
	}
	logger, err = observability.NewLogger(cmd.ErrOrStderr(), level, observability.LogFormat(logFormat))
	if err != nil {
		return errors.ConfigError(err.Error(), "log-format")
	}

	v = config.NewViper()
	return v.BindPFlag("warehouse.dialect", cmd.Root().PersistentFlags().Lookup("dialect"))
}

// loadConfig resolves the configuration. A missing default dwh.cfg is not an
// error, the environment may carry everything.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.Path()
		if _, err := os.Stat(path); stderrors.Is(err, os.ErrNotExist) && os.Getenv(config.EnvPrefix+"_CONFIG") == "" {
			logger.Debug("no configuration file, using environment", "path", path)
			path = ""
		}
	}
	return config.Load(v, path)
}

// session is an open warehouse connection with the pipeline built on it
type session struct {
	cfg      *config.Config
	db       *sql.DB
	dialect  warehouse.Dialect
	exec     *warehouse.Executor
	pipeline *warehouse.Pipeline
}

func (s *session) Close() error {
	return s.db.Close()
}

func openSession(cmd *cobra.Command, localLoad bool) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx := cmd.Context()
	db, dialect, err := warehouse.Open(ctx, cfg.ConnConfig(), logger)
	if err != nil {
		return nil, err
	}

	exec := warehouse.NewExecutor(db, logger, timeout)
	loader := staging.NewLoader(cfg.S3Options(), logger, staging.WithProgress(ui.NewLoadProgress(cmd.ErrOrStderr())))
	pipeline := warehouse.NewPipeline(dialect, exec, cfg.LoadConfig(), logger,
		warehouse.WithLoader(loader),
		warehouse.WithLocalLoad(localLoad || cfg.Warehouse.LocalLoad),
	)
	return &session{cfg: cfg, db: db, dialect: dialect, exec: exec, pipeline: pipeline}, nil
}

// report prints the statement results of a run, including a partial run
// that stopped on an error.
func report(cmd *cobra.Command, title string, result *warehouse.RunResult, started time.Time) {
	if result == nil || len(result.Statements) == 0 && result.Load == nil {
		return
	}
	out := cmd.OutOrStdout()
	ui.ShowHeader(out, title)
	ui.RenderResults(out, result.Statements)
	if result.Load != nil {
		fmt.Fprintf(out, "\nStaged %d events and %d songs from %d files\n",
			result.Load.Events, result.Load.Songs, result.Load.Files)
	}
	fmt.Fprintf(out, "\nFinished in %s\n", ui.FormatDuration(time.Since(started)))
}
