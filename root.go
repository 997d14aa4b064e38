package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/louhivuori/wcbatch/internal/config"
	"github.com/louhivuori/wcbatch/internal/credstore"
	"github.com/louhivuori/wcbatch/internal/worldcat"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagOutputDir  string
	flagVerbose    bool
	flagQuiet      bool
)

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "wcbatch",
		Short:   "WorldCat Metadata API batch client",
		Long:    "Bulk WorldCat operations driven by CSV files: check OCLC number currency,\nset and unset holdings, and search for OCLC numbers by alternate identifiers.",
		Version: version,
		// Silence Cobra's default error/usage printing; we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagOutputDir, "output-dir", "", "directory for result CSV files (overrides config)")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	// Register subcommands.
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newGetCurrentCmd())
	cmd.AddCommand(newSetHoldingCmd())
	cmd.AddCommand(newUnsetHoldingCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// runtime bundles the objects every API-facing command needs: the effective
// config, a run-scoped logger, and an authenticated Metadata API client.
type runtime struct {
	Config config.Config
	Logger *slog.Logger
	Tokens *worldcat.TokenManager
	Client *worldcat.Client
}

// newRuntime loads config and assembles the API client stack. Every run gets
// a fresh run_id so interleaved log files from concurrent invocations stay
// attributable.
func newRuntime() (*runtime, error) {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return nil, err
	}

	logger := buildLogger(cfg)

	store := credstore.New(config.DefaultCredentialsPath())
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout()}

	tokens, err := worldcat.NewTokenManager(
		cfg.API.Key, cfg.API.Secret, cfg.API.TokenURL,
		store, httpClient, logger,
	)
	if err != nil {
		return nil, err
	}

	txn := worldcat.TransactionIDBuilder{
		Enabled:           cfg.API.IncludeTransactionID,
		InstitutionSymbol: cfg.API.InstitutionSymbol,
		PrincipalID:       cfg.API.PrincipalID,
	}

	client := worldcat.NewClient(
		cfg.API.BaseURL, cfg.API.SearchBaseURL,
		httpClient, tokens, txn, logger,
	)

	return &runtime{Config: cfg, Logger: logger, Tokens: tokens, Client: client}, nil
}

// outputDir returns the effective result directory: flag wins over config.
func (rt *runtime) outputDir() string {
	if flagOutputDir != "" {
		return flagOutputDir
	}

	return rt.Config.Output.Dir
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win.
func buildLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo

	switch cfg.Logging.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})

	return slog.New(handler).With(slog.String("run_id", uuid.NewString()))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
