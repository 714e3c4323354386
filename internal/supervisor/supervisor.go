// Package supervisor starts every configured directory server, waits for
// them and shuts them all down together.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/f4ah6o/termserve/internal/banner"
	"github.com/f4ah6o/termserve/internal/config"
	"github.com/f4ah6o/termserve/internal/metrics"
	"github.com/f4ah6o/termserve/internal/server"
	"github.com/f4ah6o/termserve/internal/site"
)

// ErrAllStopped is returned by Run when every server stopped on its own.
var ErrAllStopped = errors.New("all servers stopped")

// Options carry the collaborators of a Supervisor. Zero values get
// defaults: the logrus standard logger, a stdout printer and fresh metrics.
type Options struct {
	Logger  logrus.FieldLogger
	Printer *banner.Printer
	Metrics *metrics.Metrics
	Version string
	// OnReady, when set, is called with the bound servers after every
	// worker has been started.
	OnReady func([]*server.Server)
	// Listen binds each server's listener. Defaults to net.Listen.
	Listen func(network, address string) (net.Listener, error)
}

// Supervisor owns the lifecycle of a set of directory servers.
type Supervisor struct {
	cfg     *config.Config
	log     logrus.FieldLogger
	printer *banner.Printer
	metrics *metrics.Metrics
	version string
	onReady func([]*server.Server)
	listen  func(network, address string) (net.Listener, error)
}

// New returns a Supervisor for cfg. cfg is expected to be validated; its
// BaseDir must already be resolved.
func New(cfg *config.Config, opts Options) *Supervisor {
	s := &Supervisor{
		cfg:     cfg,
		log:     opts.Logger,
		printer: opts.Printer,
		metrics: opts.Metrics,
		version: opts.Version,
		onReady: opts.OnReady,
		listen:  opts.Listen,
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	if s.printer == nil {
		s.printer = banner.New(os.Stdout, false)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	return s
}

// Run prints the banner, verifies every directory, binds every port, starts
// one worker per server and blocks until ctx is cancelled. Cancellation
// triggers a graceful shutdown bounded by the configured timeout and a nil
// return.
//
// Startup is all-or-nothing: a missing directory returns ErrMissingDirs
// before any port is bound, and a bind failure closes the listeners already
// bound.
func (s *Supervisor) Run(ctx context.Context) error {
	s.printer.Banner()

	if missing := config.MissingDirs(s.cfg.BaseDir, s.cfg.Servers); len(missing) > 0 {
		s.printer.Missing(missing)
		return fmt.Errorf("%w: %s", config.ErrMissingDirs, strings.Join(missing, ", "))
	}

	s.printer.Starting()

	servers, err := s.bind()
	if err != nil {
		return err
	}
	debug, debugLn, err := s.bindDebug()
	if err != nil {
		closeAll(servers)
		return err
	}

	var g errgroup.Group
	for _, srv := range servers {
		g.Go(func() error {
			s.work(srv)
			return nil
		})
	}
	var dg errgroup.Group
	if debug != nil {
		dg.Go(func() error {
			s.log.Infof("metrics available at http://%s/metrics", debugLn.Addr())
			if err := debug.Serve(debugLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.WithError(err).Error("debug server stopped")
			}
			return nil
		})
	}

	s.printer.Running()
	if s.onReady != nil {
		s.onReady(servers)
	}

	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		s.printer.ShuttingDown()
		s.shutdown(servers, debug)
		<-done
		dg.Wait()
		s.printer.Goodbye()
		return nil
	case <-done:
		s.shutdown(servers, debug)
		dg.Wait()
		return ErrAllStopped
	}
}

// bind creates and binds one server per spec in configuration order.
func (s *Supervisor) bind() ([]*server.Server, error) {
	servers := make([]*server.Server, 0, len(s.cfg.Servers))
	for _, spec := range s.cfg.Servers {
		srv := server.New(spec, spec.Root(s.cfg.BaseDir), server.Options{
			MaxConns: s.cfg.MaxConns,
			Logger:   s.log,
			Metrics:  s.metrics,
			Listen:   s.listen,
		})
		if err := srv.Listen(); err != nil {
			srv.Close()
			closeAll(servers)
			return nil, err
		}
		servers = append(servers, srv)
	}
	return servers, nil
}

func (s *Supervisor) bindDebug() (*http.Server, net.Listener, error) {
	if s.cfg.MetricsAddr == "" {
		return nil, nil, nil
	}
	ln, err := net.Listen("tcp", s.cfg.MetricsAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on metrics address %s: %w", s.cfg.MetricsAddr, err)
	}
	reg := metrics.NewRegistry(s.metrics, s.version)
	return metrics.NewDebugServer(s.cfg.MetricsAddr, reg), ln, nil
}

// work runs one server until it stops. A server that fails is reported and
// the others keep running.
func (s *Supervisor) work(srv *server.Server) {
	spec := srv.Spec()

	title, err := site.Title(srv.Root())
	if err != nil {
		s.log.WithError(err).WithField("server", spec.Name).Debug("failed to read index title")
	}
	s.printer.Server(spec.Name, srv.URL(), title, spec.Attribute())

	s.metrics.ServersUp.Inc()
	defer s.metrics.ServersUp.Dec()

	if err := srv.Serve(); err != nil {
		s.log.WithError(err).WithField("server", spec.Name).Error("server stopped")
		s.printer.Stopped(spec.Name, err)
	}
}

// shutdown stops every server concurrently, waiting at most the configured
// timeout for in-flight requests.
func (s *Supervisor) shutdown(servers []*server.Server, debug *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration)
	defer cancel()

	var g errgroup.Group
	for _, srv := range servers {
		g.Go(func() error {
			if err := srv.Shutdown(ctx); err != nil {
				s.log.WithError(err).WithField("server", srv.Spec().Name).Warn("forced close after shutdown timeout")
			}
			return nil
		})
	}
	if debug != nil {
		g.Go(func() error {
			if err := debug.Shutdown(ctx); err != nil {
				debug.Close()
			}
			return nil
		})
	}
	g.Wait()
}

func closeAll(servers []*server.Server) {
	for _, srv := range servers {
		srv.Close()
	}
}

// SignalContext returns a context cancelled on the first SIGINT or SIGTERM.
// Once it is done, further signals get the default behavior again.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()
	return ctx, stop
}
