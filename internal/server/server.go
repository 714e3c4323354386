// Package server implements a static directory server bound to one port.
//
// Each Server resolves files against its own root directory, so several
// servers can run in one process without sharing the working directory.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"

	"github.com/f4ah6o/termserve/internal/config"
	"github.com/f4ah6o/termserve/internal/metrics"
	"github.com/f4ah6o/termserve/internal/quietlog"
)

// ErrNotListening is returned by Serve when Listen has not succeeded.
var ErrNotListening = errors.New("server is not listening")

// Options tune a Server beyond its spec.
type Options struct {
	// MaxConns caps concurrently accepted connections. Zero means unlimited.
	MaxConns int
	// Logger receives request and server error logs. Defaults to the logrus
	// standard logger.
	Logger logrus.FieldLogger
	// Metrics, when set, counts requests under the server's name.
	Metrics *metrics.Metrics
	// Listen binds the listener. Defaults to net.Listen.
	Listen func(network, address string) (net.Listener, error)
}

// Server serves one directory tree over plain HTTP on one port.
type Server struct {
	spec     config.ServerSpec
	root     string
	maxConns int
	listen   func(network, address string) (net.Listener, error)
	log      *logrus.Entry
	errLog   *io.PipeWriter
	http     *http.Server

	mu sync.Mutex
	ln net.Listener
}

// New creates a server for spec serving files from root. A relative root is
// resolved against the working directory once, here; afterwards the
// working directory plays no part in serving.
func New(spec config.ServerSpec, root string, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	entry := logger.WithField("server", spec.Name)
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	listen := opts.Listen
	if listen == nil {
		listen = net.Listen
	}

	handler := fileHandler(root)
	if opts.Metrics != nil {
		handler = opts.Metrics.Middleware(spec.Name, handler)
	}
	handler = quietlog.Middleware(spec.Name, logger, handler)

	errLog := entry.WriterLevel(logrus.WarnLevel)
	return &Server{
		spec:     spec,
		root:     root,
		maxConns: opts.MaxConns,
		listen:   listen,
		log:      entry,
		errLog:   errLog,
		http: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          log.New(errLog, "", 0),
		},
	}
}

// Spec returns the spec the server was created from.
func (s *Server) Spec() config.ServerSpec { return s.spec }

// Root returns the served directory.
func (s *Server) Root() string { return s.root }

// Handler returns the request handler, quiet logging included.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Listen binds the TCP listener on all interfaces. It fails when the port is
// already in use.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ln != nil {
		return fmt.Errorf("%s: already listening on %s", s.spec.Name, s.ln.Addr())
	}
	ln, err := s.listen("tcp", ":"+strconv.Itoa(s.spec.Port))
	if err != nil {
		return fmt.Errorf("%s: failed to listen on port %d: %w", s.spec.Name, s.spec.Port, err)
	}
	if s.maxConns > 0 {
		ln = netutil.LimitListener(ln, s.maxConns)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Port returns the bound port, which differs from the spec's port only when
// the spec asks for port 0.
func (s *Server) Port() int {
	if tcp, ok := s.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return s.spec.Port
}

// URL returns the local URL the server is reachable at.
func (s *Server) URL() string {
	return fmt.Sprintf("http://localhost:%d", s.Port())
}

// Serve accepts connections until Shutdown or Close is called, returning nil
// in that case and the accept error otherwise.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return ErrNotListening
	}

	s.log.WithField("root", s.root).Debugf("serving on %s", ln.Addr())
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", s.spec.Name, err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx is done, then closes whatever remains.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	if err != nil {
		s.http.Close()
	}
	s.closeListener()
	s.errLog.Close()
	return err
}

// Close immediately closes the listener and every connection.
func (s *Server) Close() error {
	err := s.http.Close()
	s.closeListener()
	s.errLog.Close()
	return err
}

func (s *Server) closeListener() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		s.ln.Close()
	}
}
