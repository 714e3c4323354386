package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/f4ah6o/termserve/internal/config"
	"github.com/f4ah6o/termserve/internal/server"
	"github.com/f4ah6o/termserve/internal/supervisor"
)

type serveOptions struct {
	dir  string
	port int
	name string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a single directory for local testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.dir, "dir", ".", "Directory to serve")
	cmd.Flags().IntVar(&opts.port, "port", 8080, "Port to serve on")
	cmd.Flags().StringVar(&opts.name, "name", "", "Display name (default: directory name)")
	return cmd
}

func runServe(cmd *cobra.Command, root *rootOptions, opts *serveOptions) error {
	absDir, err := filepath.Abs(opts.dir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory: %w", err)
	}
	if info, err := os.Stat(absDir); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", config.ErrMissingDirs, absDir)
	}

	name := opts.name
	if name == "" {
		name = filepath.Base(absDir)
	}
	cfg := config.Default()
	cfg.Servers = []config.ServerSpec{{Name: name, Dir: absDir, Port: opts.port, Color: "green"}}
	if v := setting(cmd, "log-level", root.logLevel, EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	spec := cfg.Servers[0]
	srv := server.New(spec, absDir, server.Options{Logger: logger})
	if err := srv.Listen(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	highlight := color.New(spec.Attribute())
	if root.noColor {
		highlight.DisableColor()
	}
	fmt.Fprintf(out, "🌐 Serving %s at ", absDir)
	highlight.Fprintln(out, srv.URL())
	fmt.Fprintln(out, "Press Ctrl+C to stop")

	ctx, stop := supervisor.SignalContext(cmd.Context())
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve() }()

	select {
	case err := <-errc:
		srv.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("forced close after shutdown timeout")
	}
	return <-errc
}
