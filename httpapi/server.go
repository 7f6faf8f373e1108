// Package httpapi exposes the gateway's operational HTTP surface: liveness
// and readiness probes, a Prometheus scrape endpoint, and a JSON status
// summary of every pipeline component. It is itself a component.LifecycleComponent
// so it starts and stops under the same ComponentManager as everything it reports on.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/covgateway/gateway/component"
	"github.com/covgateway/gateway/config"
	"github.com/covgateway/gateway/errors"
	"github.com/covgateway/gateway/health"
	"github.com/covgateway/gateway/pipeline"
	"github.com/covgateway/gateway/pkg/tlsutil"
)

// PushHandler serves the push-style value-change websocket channel
// (covpush.Hub satisfies this via its ServeHTTP method); it is optional,
// so tests that don't exercise /ws/cov can pass nil.
type PushHandler interface {
	http.Handler
}

// StatusSource is the subset of *pipeline.ComponentManager the server reads
// on every request.
type StatusSource interface {
	Status() []pipeline.ComponentStatus
	Health() map[string]component.HealthStatus
}

// Server serves /health, /health/live, /health/ready, /metrics, and
// /status. Only GET is accepted on any route; every other method is
// rejected with 405.
type Server struct {
	cfg     config.HealthConfig
	manager StatusSource
	metrics http.Handler
	push    PushHandler
	limiter *rate.Limiter
	logger  *slog.Logger

	mu        sync.Mutex
	server    *http.Server
	doneCh    chan struct{}
	boundAddr string
}

// statusRateLimit bounds how often /status and /metrics can be scraped;
// well above any sane Prometheus interval, it exists to blunt a
// misconfigured scraper rather than to shape legitimate traffic.
const statusRateLimit = rate.Limit(20)

// NewServer constructs the HTTP surface. gatherer may be nil in tests that
// do not exercise /metrics; push may be nil if no push channel is wired
// (then /ws/cov is not registered); manager must not be nil.
func NewServer(cfg config.HealthConfig, manager StatusSource, gatherer prometheus.Gatherer, push PushHandler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	var metricsHandler http.Handler
	if gatherer != nil {
		metricsHandler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{EnableOpenMetrics: true})
	}
	return &Server{
		cfg:     cfg,
		manager: manager,
		metrics: metricsHandler,
		push:    push,
		limiter: rate.NewLimiter(statusRateLimit, 5),
		logger:  logger.With("component", "httpapi"),
	}
}

var _ component.LifecycleComponent = (*Server)(nil)

func (s *Server) Initialize() error { return nil }

// Start builds the mux and begins serving in a background goroutine; it
// returns once the listener is bound (or immediately on a bind failure),
// matching the pattern the rest of the pipeline uses for background loops.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/live", s.handleLive)
	mux.HandleFunc("/health/ready", s.handleReady)
	mux.Handle("/status", withRateLimit(s.limiter, http.HandlerFunc(s.handleStatus)))
	if s.metrics != nil {
		metricsHandler := s.metrics
		mux.Handle("/metrics", withRateLimit(s.limiter, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !requireGet(w, r) {
				return
			}
			metricsHandler.ServeHTTP(w, r)
		})))
	}
	if s.push != nil {
		mux.Handle("/ws/cov", s.push)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port)
	s.server = &http.Server{Addr: addr, Handler: withRequestID(mux)}

	useTLS := s.cfg.TLS.TLS.Server.Enabled
	if useTLS {
		tlsConfig, err := tlsutil.LoadServerTLSConfig(s.cfg.TLS.TLS.Server)
		if err != nil {
			return errors.WrapFatal(err, "httpapi.Server", "Start", "load TLS config")
		}
		s.server.TLSConfig = tlsConfig
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WrapFatal(err, "httpapi.Server", "Start", fmt.Sprintf("bind %s", addr))
	}
	s.boundAddr = ln.Addr().String()

	s.doneCh = make(chan struct{})
	go func() {
		defer close(s.doneCh)
		var serveErr error
		if useTLS {
			serveErr = s.server.ServeTLS(ln, "", "")
		} else {
			serveErr = s.server.Serve(ln)
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("http server exited", "error", serveErr)
		}
	}()

	s.logger.Info("http surface listening", "addr", addr, "tls", useTLS)
	return nil
}

// Stop gracefully shuts down the listener, waiting up to timeout for
// in-flight requests to finish.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	srv := s.server
	done := s.doneCh
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.WrapTransient(err, "httpapi.Server", "Stop", "graceful shutdown")
	}
	if done != nil {
		<-done
	}
	return nil
}

func (s *Server) Meta() component.Metadata {
	return component.Metadata{
		Name:        "http-api",
		Type:        "transport",
		Description: "Health, readiness, metrics, and status HTTP surface",
		Version:     "1.0.0",
	}
}

func (s *Server) ConfigSchema() component.ConfigSchema {
	return component.ConfigSchema{
		Properties: map[string]component.PropertySchema{
			"port":        {Type: "int", Description: "Listen port", Default: 8080},
			"bindAddress": {Type: "string", Description: "Listen address", Default: "0.0.0.0"},
		},
	}
}

// Addr returns the actual bound listener address, populated once Start
// has succeeded. Empty before Start or after a bind failure.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

func (s *Server) Health() component.HealthStatus {
	s.mu.Lock()
	running := s.server != nil
	s.mu.Unlock()
	return component.HealthStatus{Healthy: running, LastCheck: time.Now()}
}

func (s *Server) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{LastActivity: time.Now()}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	agg := s.aggregate()
	code := http.StatusOK
	if agg.IsUnhealthy() {
		code = http.StatusServiceUnavailable
		s.logger.Warn("health check reporting unhealthy", "request_id", requestID(r), "message", agg.Message)
	}
	writeJSON(w, code, agg)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, health.NewHealthy("http-api", "process is running"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	agg := s.aggregate()
	code := http.StatusOK
	if !agg.IsHealthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, agg)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, s.manager.Status())
}

func (s *Server) aggregate() health.Status {
	componentHealth := s.manager.Health()
	statuses := make([]health.Status, 0, len(componentHealth))
	for name, ch := range componentHealth {
		statuses = append(statuses, health.FromComponentHealth(name, ch))
	}
	return health.Aggregate("gateway", statuses)
}

func requireGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
