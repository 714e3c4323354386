package supervisor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/f4ah6o/termserve/internal/banner"
	"github.com/f4ah6o/termserve/internal/config"
	"github.com/f4ah6o/termserve/internal/metrics"
	"github.com/f4ah6o/termserve/internal/server"
)

// terminals creates a base directory holding one directory per name, each
// with an index.html whose body is the directory name.
func terminals(t *testing.T, names ...string) string {
	t.Helper()
	base := t.TempDir()
	for _, n := range names {
		dir := filepath.Join(base, n)
		if err := os.Mkdir(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte(n), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return base
}

// freePort returns a port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func testConfig(base string, specs ...config.ServerSpec) *config.Config {
	return &config.Config{
		Servers:         specs,
		BaseDir:         base,
		ShutdownTimeout: config.Duration{Duration: time.Second},
		LogLevel:        "info",
	}
}

type runResult struct {
	err     error
	servers []*server.Server
	out     string
	hook    *test.Hook
}

// run starts a supervisor, calls fn once every server is up, then cancels
// and waits for Run to return.
func run(t *testing.T, cfg *config.Config, fn func([]*server.Server)) runResult {
	t.Helper()
	return runWith(t, cfg, Options{}, fn)
}

// runWith is run with extra supervisor options. Printer and OnReady are
// always replaced; Logger only when unset, in which case the result carries
// its hook.
func runWith(t *testing.T, cfg *config.Config, opts Options, fn func([]*server.Server)) runResult {
	t.Helper()
	var hook *test.Hook
	if opts.Logger == nil {
		opts.Logger, hook = test.NewNullLogger()
	}
	var out bytes.Buffer

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan []*server.Server, 1)
	opts.Printer = banner.New(&out, true)
	opts.OnReady = func(s []*server.Server) { ready <- s }
	sup := New(cfg, opts)

	errc := make(chan error, 1)
	go func() { errc <- sup.Run(ctx) }()

	res := runResult{hook: hook}
	select {
	case res.servers = <-ready:
		if fn != nil {
			fn(res.servers)
		}
		cancel()
		res.err = <-errc
	case res.err = <-errc:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not start")
	}
	res.out = out.String()
	return res
}

// client reports redirects instead of following them.
var client = &http.Client{
	CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
}

// listeners records every listener a supervisor binds, in bind order.
type listeners struct {
	mu  sync.Mutex
	lns []net.Listener
}

func (l *listeners) listen(network, address string) (net.Listener, error) {
	ln, err := net.Listen(network, address)
	if err == nil {
		l.mu.Lock()
		l.lns = append(l.lns, ln)
		l.mu.Unlock()
	}
	return ln, err
}

func (l *listeners) close(i int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lns[i].Close()
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestRunServesEveryDirectory(t *testing.T) {
	names := []string{"terminal-matrix", "terminal-neon-grid", "terminal-tactical", "terminal-hologram", "terminal-glitch"}
	base := terminals(t, names...)
	var specs []config.ServerSpec
	for _, s := range config.DefaultServers() {
		s.Port = 0
		specs = append(specs, s)
	}

	res := run(t, testConfig(base, specs...), func(servers []*server.Server) {
		if len(servers) != len(names) {
			t.Fatalf("got %d servers, want %d", len(servers), len(names))
		}
		for i, srv := range servers {
			if srv.Addr() == nil {
				t.Errorf("%s is not bound", srv.Spec().Name)
				continue
			}
			code, body := get(t, srv.URL()+"/index.html")
			if code != http.StatusOK || body != names[i] {
				t.Errorf("%s: GET /index.html = %d %q, want 200 %q", srv.Spec().Name, code, body, names[i])
			}
			if code, _ := get(t, srv.URL()+"/nope.html"); code != http.StatusNotFound {
				t.Errorf("%s: GET /nope.html = %d, want 404", srv.Spec().Name, code)
			}
		}
	})

	if res.err != nil {
		t.Fatalf("Run() error = %v", res.err)
	}
	for _, want := range []string{
		"TERMINAL HACKER CHESS CLOCK SERVERS",
		"Starting servers...",
		"✓ Matrix Rain Terminal",
		"✓ Glitch Terminal",
		"All servers running!",
		"Shutting down all servers...",
		"Goodbye!",
	} {
		if !strings.Contains(res.out, want) {
			t.Errorf("output missing %q\n---\n%s", want, res.out)
		}
	}
	if !strings.HasSuffix(strings.TrimSpace(res.out), "Goodbye!") {
		t.Errorf("farewell is not the last line:\n%s", res.out)
	}
}

func TestRunMissingDirectoryBindsNothing(t *testing.T) {
	base := terminals(t, "terminal-neon-grid")
	port := freePort(t)
	cfg := testConfig(base,
		config.ServerSpec{Name: "Matrix Rain Terminal", Dir: "terminal-matrix", Port: 0, Color: "green"},
		config.ServerSpec{Name: "Neon Grid Terminal", Dir: "terminal-neon-grid", Port: port, Color: "cyan"},
	)

	res := run(t, cfg, func([]*server.Server) {
		t.Error("servers started despite a missing directory")
	})

	if !errors.Is(res.err, config.ErrMissingDirs) {
		t.Fatalf("Run() error = %v, want ErrMissingDirs", res.err)
	}
	if !strings.Contains(res.out, "Error: Missing directories:\n  - terminal-matrix\n") {
		t.Errorf("output does not list terminal-matrix:\n%s", res.out)
	}
	if strings.Contains(res.out, "Starting servers") {
		t.Errorf("output announces startup:\n%s", res.out)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		t.Fatalf("port %d was bound: %v", port, err)
	}
	ln.Close()
}

func TestRunBindFailureIsAllOrNothing(t *testing.T) {
	busy, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()
	busyPort := busy.Addr().(*net.TCPAddr).Port

	base := terminals(t, "a", "b")
	res := run(t, testConfig(base,
		config.ServerSpec{Name: "a", Dir: "a", Color: "green"},
		config.ServerSpec{Name: "b", Dir: "b", Port: busyPort, Color: "cyan"},
	), nil)

	if res.err == nil {
		t.Fatal("Run() error = nil, want bind error")
	}
	if res.servers != nil {
		t.Error("supervisor reported ready after a bind failure")
	}
	if strings.Contains(res.out, "All servers running!") {
		t.Errorf("output claims servers are running:\n%s", res.out)
	}
}

func TestRunScenarioSingleTerminal(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "terminal-matrix")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("OK"), 0o644); err != nil {
		t.Fatal(err)
	}
	spec := config.ServerSpec{Name: "Matrix Rain Terminal", Dir: "terminal-matrix", Color: "green"}

	res := run(t, testConfig(base, spec), func(servers []*server.Server) {
		code, body := get(t, servers[0].URL()+"/index.html")
		if code != http.StatusOK || body != "OK" {
			t.Errorf("GET /index.html = %d %q, want 200 \"OK\"", code, body)
		}
	})
	if res.err != nil {
		t.Fatalf("Run() error = %v", res.err)
	}
	if n := len(res.hook.AllEntries()); n != 0 {
		t.Errorf("got %d log lines for a successful run, want none", n)
	}

	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	res = run(t, testConfig(base, spec), nil)
	if !errors.Is(res.err, config.ErrMissingDirs) {
		t.Fatalf("Run() error = %v, want ErrMissingDirs", res.err)
	}
	if !strings.Contains(res.out, "terminal-matrix") {
		t.Errorf("output does not name terminal-matrix:\n%s", res.out)
	}
}

func TestRunShutdownIsPrompt(t *testing.T) {
	base := terminals(t, "a")
	cfg := testConfig(base, config.ServerSpec{Name: "a", Dir: "a", Color: "green"})

	start := time.Now()
	res := run(t, cfg, nil)
	if res.err != nil {
		t.Fatalf("Run() error = %v", res.err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("shutdown took %v", elapsed)
	}
	for _, srv := range res.servers {
		if _, err := http.Get(srv.URL()); err == nil {
			t.Errorf("%s still accepts requests after shutdown", srv.Spec().Name)
		}
	}
}

func TestRunMetricsEndpoint(t *testing.T) {
	base := terminals(t, "a")
	cfg := testConfig(base, config.ServerSpec{Name: "a", Dir: "a", Color: "green"})
	metricsPort := freePort(t)
	cfg.MetricsAddr = net.JoinHostPort("127.0.0.1", strconv.Itoa(metricsPort))

	res := run(t, cfg, func(servers []*server.Server) {
		get(t, servers[0].URL()+"/")

		code, body := get(t, "http://"+cfg.MetricsAddr+"/metrics")
		if code != http.StatusOK {
			t.Fatalf("GET /metrics = %d", code)
		}
		if !strings.Contains(body, `termserve_http_requests_total{code="200",method="get",server="a"} 1`) {
			t.Errorf("metrics missing request counter:\n%s", body)
		}
	})
	if res.err != nil {
		t.Fatalf("Run() error = %v", res.err)
	}
}

// waitForEntry polls hook until an entry matching match appears.
func waitForEntry(t *testing.T, hook *test.Hook, match func(*logrus.Entry) bool) *logrus.Entry {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, e := range hook.AllEntries() {
			if match(e) {
				return e
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected log entry did not appear")
	return nil
}

func TestRunServerFailureLeavesOthersRunning(t *testing.T) {
	base := terminals(t, "a", "b")
	cfg := testConfig(base,
		config.ServerSpec{Name: "a", Dir: "a", Color: "green"},
		config.ServerSpec{Name: "b", Dir: "b", Color: "cyan"},
	)
	log, hook := test.NewNullLogger()
	var lns listeners

	var failed *logrus.Entry
	res := runWith(t, cfg, Options{Logger: log, Listen: lns.listen}, func(servers []*server.Server) {
		lns.close(0)
		failed = waitForEntry(t, hook, func(e *logrus.Entry) bool {
			return e.Level == logrus.ErrorLevel && e.Message == "server stopped"
		})

		code, body := get(t, servers[1].URL()+"/index.html")
		if code != http.StatusOK || body != "b" {
			t.Errorf("b: GET /index.html = %d %q, want 200 \"b\"", code, body)
		}
	})

	if res.err != nil {
		t.Fatalf("Run() error = %v", res.err)
	}
	if failed.Data["server"] != "a" {
		t.Errorf("server field = %v, want a", failed.Data["server"])
	}
	if failed.Data[logrus.ErrorKey] == nil {
		t.Error("server stopped entry carries no error")
	}
	if !strings.Contains(res.out, "✗ a stopped") {
		t.Errorf("output does not report a as stopped:\n%s", res.out)
	}
	if strings.Contains(res.out, "✗ b stopped") {
		t.Errorf("output reports b as stopped:\n%s", res.out)
	}
	if !strings.HasSuffix(strings.TrimSpace(res.out), "Goodbye!") {
		t.Errorf("interrupt did not end with the farewell:\n%s", res.out)
	}
}

func TestRunReturnsWhenEveryServerStops(t *testing.T) {
	base := terminals(t, "a", "b")
	cfg := testConfig(base,
		config.ServerSpec{Name: "a", Dir: "a", Color: "green"},
		config.ServerSpec{Name: "b", Dir: "b", Color: "cyan"},
	)
	log, hook := test.NewNullLogger()
	m := metrics.New()
	var out bytes.Buffer
	var lns listeners

	sup := New(cfg, Options{
		Logger:  log,
		Printer: banner.New(&out, true),
		Metrics: m,
		Listen:  lns.listen,
		OnReady: func([]*server.Server) {
			lns.close(0)
			lns.close(1)
		},
	})

	errc := make(chan error, 1)
	go func() { errc <- sup.Run(context.Background()) }()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrAllStopped) {
			t.Fatalf("Run() error = %v, want ErrAllStopped", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after every server stopped")
	}

	for _, name := range []string{"a", "b"} {
		if !strings.Contains(out.String(), "✗ "+name+" stopped") {
			t.Errorf("output does not report %s as stopped:\n%s", name, out.String())
		}
	}
	if strings.Contains(out.String(), "Goodbye!") {
		t.Errorf("farewell printed without an interrupt:\n%s", out.String())
	}
	stopped := 0
	for _, e := range hook.AllEntries() {
		if e.Message == "server stopped" {
			stopped++
		}
	}
	if stopped != 2 {
		t.Errorf("got %d server stopped entries, want 2", stopped)
	}
	if got := testutil.ToFloat64(m.ServersUp); got != 0 {
		t.Errorf("servers up = %v, want 0", got)
	}
}
