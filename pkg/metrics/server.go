package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheck reports the state of one daemon component. The detail is
// shown on /healthz; a non-nil error turns the answer into a 503.
type HealthCheck func() (detail string, err error)

// ServerConfig configures the metrics HTTP server.
type ServerConfig struct {
	// Address to listen on. Default: ":9090"
	Address string

	// ShutdownTimeout bounds the graceful shutdown. Default: 5s
	ShutdownTimeout time.Duration
}

func (c *ServerConfig) applyDefaults() {
	if c.Address == "" {
		c.Address = ":9090"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// Server exposes the daemon over HTTP:
//   - GET /metrics: Prometheus exposition of the global registry
//   - GET /healthz: result of every registered HealthCheck
//   - GET /: plain-text index of the tracker, enumerator and backend families
type Server struct {
	config  ServerConfig
	handler http.Handler

	mu       sync.Mutex
	checks   map[string]HealthCheck
	server   *http.Server
	listener net.Listener

	stopOnce sync.Once
	stopErr  error
}

// NewServer creates a stopped server. Call Start to serve.
func NewServer(config ServerConfig) *Server {
	config.applyDefaults()

	s := &Server{
		config: config,
		checks: make(map[string]HealthCheck),
	}

	mux := http.NewServeMux()
	if reg := GetRegistry(); reg != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	} else {
		mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics collection is disabled", http.StatusServiceUnavailable)
		})
	}
	mux.HandleFunc("GET /healthz", s.serveHealth)
	mux.HandleFunc("GET /{$}", s.serveIndex)
	s.handler = mux

	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// AddHealthCheck registers check under name, replacing any previous one.
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	checks := make([]HealthCheck, len(names))
	sort.Strings(names)
	for i, name := range names {
		checks[i] = s.checks[name]
	}
	s.mu.Unlock()

	status := http.StatusOK
	var body []string
	for i, check := range checks {
		detail, err := check()
		if err != nil {
			status = http.StatusServiceUnavailable
			body = append(body, fmt.Sprintf("%s: FAIL %v", names[i], err))
			continue
		}
		line := names[i] + ": ok"
		if detail != "" {
			line += " (" + detail + ")"
		}
		body = append(body, line)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	for _, line := range body {
		_, _ = fmt.Fprintln(w, line)
	}
}

func (s *Server) serveIndex(w http.ResponseWriter, _ *http.Request) {
	families, err := Families()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	writeIndex(w, families)
}

func writeIndex(w io.Writer, families []Family) {
	_, _ = fmt.Fprint(w, "DittoVFS mount daemon\n\n  /metrics  Prometheus exposition\n  /healthz  health checks\n")

	if !IsEnabled() {
		_, _ = fmt.Fprint(w, "\nmetrics collection is disabled\n")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, sub := range Subsystems {
		_, _ = fmt.Fprintf(tw, "\n%s\n", sub)
		n := 0
		for _, f := range families {
			if f.Subsystem != sub {
				continue
			}
			_, _ = fmt.Fprintf(tw, "  %s\t%s\t%d\t%s\n", f.Name, f.Type, f.Series, f.Help)
			n++
		}
		if n == 0 {
			_, _ = fmt.Fprintln(tw, "  no samples yet")
		}
	}
	_ = tw.Flush()
}

// Start listens on the configured address and serves until ctx is done,
// then shuts down gracefully. A listen error is returned immediately.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("metrics server failed to listen on %s: %w", s.config.Address, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	logger.Info("Metrics server listening on %s", ln.Addr())

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

// Stop shuts the server down. It is idempotent and a no-op before Start.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.stopOnce.Do(func() {
		if err := srv.Shutdown(ctx); err != nil {
			s.stopErr = fmt.Errorf("metrics server shutdown error: %w", err)
			logger.Error("Metrics server shutdown error: %v", err)
			return
		}
		logger.Info("Metrics server stopped")
	})
	return s.stopErr
}

// Addr returns the address the server listens on, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
