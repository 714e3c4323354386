// Package cli wires the termserve command line to the supervisor.
package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/f4ah6o/termserve/internal/banner"
	"github.com/f4ah6o/termserve/internal/config"
	"github.com/f4ah6o/termserve/internal/supervisor"
)

// Environment variables consulted when the matching flag is not set.
const (
	EnvConfig      = "TERMSERVE_CONFIG"
	EnvBaseDir     = "TERMSERVE_BASE_DIR"
	EnvMetricsAddr = "TERMSERVE_METRICS_ADDR"
	EnvLogLevel    = "TERMSERVE_LOG_LEVEL"
)

var version, commit, date = "dev", "none", "unknown"

// SetVersionInfo sets version information from ldflags
func SetVersionInfo(v, c, d string) {
	version, commit, date = v, c, d
}

type rootOptions struct {
	configPath      string
	baseDir         string
	metricsAddr     string
	logLevel        string
	shutdownTimeout time.Duration
	maxConns        int
	noColor         bool
}

// NewRootCmd builds the termserve command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&rootOptions{})
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "termserve",
		Short: "Serve the terminal chess clock variants, one port each",
		Long: `termserve starts one static file server per terminal variant
(ports 8005-8009 by default), prints a status block for each and runs
until interrupted. All directories must exist before anything starts.

A .env file in the working directory is loaded when present.`,
		Example: `  termserve                              # Serve the built-in table next to the binary
  termserve --base-dir ./dist            # Look for terminal-* directories in ./dist
  termserve --config termserve.toml      # Replace the table from a file
  termserve serve --dir ./site --port 9000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadDotEnv()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoot(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "TOML or YAML file replacing the built-in server table (env "+EnvConfig+")")
	cmd.Flags().StringVar(&opts.baseDir, "base-dir", "", "Directory holding the served directories (env "+EnvBaseDir+", default: next to the binary)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Address for /metrics and /healthz, disabled when empty (env "+EnvMetricsAddr+")")
	cmd.Flags().DurationVar(&opts.shutdownTimeout, "shutdown-timeout", config.DefaultShutdownTimeout, "How long in-flight requests may finish on shutdown")
	cmd.Flags().IntVar(&opts.maxConns, "max-conns", 0, "Maximum concurrent connections per server, 0 for unlimited")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: panic, fatal, error, warn, info, debug, trace (env "+EnvLogLevel+")")
	cmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	cmd.Version = version
	cmd.SetVersionTemplate(versionTemplate())
	cmd.CompletionOptions.HiddenDefaultCmd = true

	cmd.AddCommand(newServeCmd(opts))
	return cmd
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

func versionTemplate() string {
	if commit != "none" && commit != "" {
		return fmt.Sprintf("termserve %s\n  commit: %s\n  built:  %s\n", version, commit, date)
	}
	return fmt.Sprintf("termserve %s\n", version)
}

func runRoot(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, stop := supervisor.SignalContext(cmd.Context())
	defer stop()

	sup := supervisor.New(cfg, supervisor.Options{
		Logger:  logger,
		Printer: banner.New(cmd.OutOrStdout(), opts.noColor),
		Version: version,
	})
	return sup.Run(ctx)
}

// loadConfig builds the effective configuration: the file named by --config
// or the built-in table, then environment variables, then explicit flags.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := setting(cmd, "config", opts.configPath, EnvConfig); path != "" {
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}

	if v := setting(cmd, "base-dir", opts.baseDir, EnvBaseDir); v != "" {
		cfg.BaseDir = v
	}
	if v := setting(cmd, "metrics-addr", opts.metricsAddr, EnvMetricsAddr); v != "" {
		cfg.MetricsAddr = v
	}
	if v := setting(cmd, "log-level", opts.logLevel, EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if cmd.Flags().Changed("shutdown-timeout") {
		cfg.ShutdownTimeout = config.Duration{Duration: opts.shutdownTimeout}
	}
	if cmd.Flags().Changed("max-conns") {
		cfg.MaxConns = opts.maxConns
	}

	if cfg.BaseDir == "" {
		cfg.BaseDir, err = executableDir()
		if err != nil {
			return nil, err
		}
	}
	cfg.BaseDir, err = filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setting returns the flag value when the flag was given, else the
// environment variable, else the flag default.
func setting(cmd *cobra.Command, flag, value, env string) string {
	if cmd.Flags().Changed(flag) {
		return value
	}
	if v, ok := os.LookupEnv(env); ok {
		return v
	}
	return value
}

// executableDir returns the directory of the running binary with symlinks
// resolved.
func executableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

func newLogger(level string, out io.Writer) (*logrus.Logger, error) {
	if level == "" {
		level = config.DefaultLogLevel
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logger, nil
}
