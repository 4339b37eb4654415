package lokivisor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/lokivisor/internal/auth"
	cfg "github.com/loykin/lokivisor/internal/config"
	"github.com/loykin/lokivisor/internal/cron"
	"github.com/loykin/lokivisor/internal/history"
	"github.com/loykin/lokivisor/internal/history/factory"
	"github.com/loykin/lokivisor/internal/logger"
	"github.com/loykin/lokivisor/internal/manager"
	"github.com/loykin/lokivisor/internal/metrics"
	"github.com/loykin/lokivisor/internal/process"
	iapi "github.com/loykin/lokivisor/internal/server"
	tlsutil "github.com/loykin/lokivisor/internal/tls"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = process.Spec

type Status = process.Status

type Driver = process.Driver

type Config = cfg.Config

type LogConfig = logger.Config

type ServerConfig = cfg.ServerConfig

type Snapshot = manager.Snapshot

type HistorySink = history.Sink

type HistoryEvent = history.Event

type ScheduleEntry = cron.Entry

type Scheduler = cron.Scheduler

const (
	StatusUnknown  = process.StatusUnknown
	StatusStarting = process.StatusStarting
	StatusRunning  = process.StatusRunning
	StatusStopping = process.StatusStopping
	StatusStopped  = process.StatusStopped
)

var (
	ErrAlreadyRunning        = process.ErrAlreadyRunning
	ErrNoProcess             = process.ErrNoProcess
	ErrNotRunning            = manager.ErrNotRunning
	ErrManagedStopInProgress = manager.ErrManagedStopInProgress
	ErrClosed                = manager.ErrClosed
)

// Manager supervises one lokinet process. Build it once at startup with New.
type Manager struct {
	inner  *manager.Manager
	driver process.Driver
	logger *slog.Logger
	auth   *auth.Middleware // nil when API auth is disabled
}

type options struct {
	logger *slog.Logger
	driver process.Driver
	sinks  []history.Sink
	clock  func() time.Time
}

// Option customises New.
type Option func(*options)

// WithLogger sets the logger used by every component. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithDriver replaces the platform driver, e.g. with a test double.
func WithDriver(d Driver) Option { return func(o *options) { o.driver = d } }

// WithHistorySinks adds sinks next to the ones built from Config.History.
func WithHistorySinks(s ...HistorySink) Option {
	return func(o *options) { o.sinks = append(o.sinks, s...) }
}

// WithClock replaces time.Now for status freshness bookkeeping.
func WithClock(now func() time.Time) Option { return func(o *options) { o.clock = now } }

// New builds the platform driver and the Manager from c.
func New(c Config, opts ...Option) (*Manager, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	driver := o.driver
	spec, err := c.Spec()
	if err != nil && driver == nil {
		return nil, err
	}
	if driver == nil {
		driver = process.NewPlatformDriver(spec, o.logger)
	}

	var authMW *auth.Middleware
	if c.Server.Auth.Enabled {
		svc, err := auth.NewService(c.Server.Auth)
		if err != nil {
			return nil, fmt.Errorf("server.auth: %w", err)
		}
		authMW = auth.NewMiddleware(svc)
	}

	sinks, err := factory.NewSinks(c.History.DSNs)
	if err != nil {
		return nil, err
	}
	sinks = append(sinks, o.sinks...)

	name := spec.Name
	if name == "" {
		name = c.Process.Name
	}
	inner := manager.New(driver, manager.Options{
		Name:            name,
		FreshnessWindow: c.Supervisor.FreshnessWindow,
		GraceWindow:     c.Supervisor.GraceWindow,
		StartTimeout:    c.Supervisor.StartTimeout,
		HistoryTimeout:  c.Supervisor.HistoryTimeout,
		Logger:          o.logger,
		HistorySinks:    sinks,
		Clock:           o.clock,
	})
	return &Manager{inner: inner, driver: driver, logger: o.logger, auth: authMW}, nil
}

func (m *Manager) Start() error       { return m.inner.Start() }
func (m *Manager) Stop() error        { return m.inner.Stop() }
func (m *Manager) ForceStop() error   { return m.inner.ForceStop() }
func (m *Manager) ManagedStop() error { return m.inner.ManagedStop() }
func (m *Manager) Status() Status     { return m.inner.Status() }
func (m *Manager) Describe() Snapshot { return m.inner.Describe() }

// Shutdown waits for an outstanding managed stop and closes the history sinks.
func (m *Manager) Shutdown(ctx context.Context) error { return m.inner.Shutdown(ctx) }

// Handler returns the HTTP API mounted under basePath, for embedding in another router.
func (m *Manager) Handler(basePath string) http.Handler {
	return m.router(basePath).Handler()
}

func (m *Manager) router(basePath string) *iapi.Router {
	r := iapi.NewRouter(m.inner, basePath, m.logger)
	if m.auth != nil {
		r.WithAuth(m.auth)
	}
	return r
}

// NewScheduler arms entries against m. Call Start on the result to begin
// firing and Stop before shutting m down.
func NewScheduler(entries []ScheduleEntry, m *Manager) (*Scheduler, error) {
	return cron.New(m, entries, m.logger)
}

func LoadConfig(path string) (*Config, error) {
	return cfg.Load(path)
}

// NewLogger builds the logger described by c. Close the returned io.Closer on exit.
func NewLogger(c LogConfig, console io.Writer) (*slog.Logger, io.Closer, error) {
	return logger.New(c, console)
}

// NewHTTPServer returns an HTTP server exposing the API for m. The caller starts it.
func NewHTTPServer(addr, basePath string, m *Manager) *http.Server {
	return iapi.NewServer(addr, m.router(basePath))
}

// NewTLSServer builds the API server from sc. With sc.TLS enabled the
// returned server carries a TLSConfig; serve it with ServeTLS(ln, "", "").
// Otherwise it is the same as NewHTTPServer.
func NewTLSServer(sc ServerConfig, m *Manager) (*http.Server, error) {
	tc, err := tlsutil.Setup(sc.TLS)
	if err != nil {
		return nil, err
	}
	srv := iapi.NewServer(sc.Listen, m.router(sc.BasePath))
	srv.TLSConfig = tc
	return srv, nil
}

// Metrics helpers (public facade)

// RegisterMetrics registers the lifecycle metrics and, when m is not nil, the
// resource usage collector of its process.
func RegisterMetrics(r prometheus.Registerer, m *Manager) error {
	if err := metrics.Register(r); err != nil {
		return err
	}
	if m == nil {
		return nil
	}
	return metrics.RegisterProcessCollector(r, m.driver.PID)
}

// NewMetricsServer returns a server exposing /metrics from the default gatherer.
func NewMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// IsConflict reports whether err is a state or contention rejection rather
// than a driver failure.
func IsConflict(err error) bool {
	return manager.IsConflict(err)
}
