package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/lokivisor/internal/history"
	"github.com/loykin/lokivisor/internal/metrics"
	"github.com/loykin/lokivisor/internal/process"
)

var (
	// ErrNotRunning is returned by Stop, ForceStop and ManagedStop when the process is not in a stoppable state.
	ErrNotRunning = errors.New("process is not running")
	// ErrManagedStopInProgress is returned by ManagedStop while another managed stop is outstanding.
	ErrManagedStopInProgress = errors.New("managed stop already in progress")
	// ErrClosed is returned by lifecycle operations after Shutdown.
	ErrClosed = errors.New("process manager shutting down")
)

// IsConflict reports whether err rejected an operation because of the
// current lifecycle state rather than a driver failure.
func IsConflict(err error) bool {
	return errors.Is(err, process.ErrAlreadyRunning) || errors.Is(err, ErrNotRunning) || errors.Is(err, ErrManagedStopInProgress)
}

const (
	// DefaultFreshnessWindow is how long a status observation is reused.
	DefaultFreshnessWindow = time.Second
	// DefaultGraceWindow is how long a managed stop waits before forcing.
	DefaultGraceWindow = 5 * time.Second
	// DefaultStartTimeout is how long a start without a visible pid reports Starting.
	DefaultStartTimeout = 10 * time.Second
	// DefaultHistoryTimeout bounds one history broadcast.
	DefaultHistoryTimeout = 3 * time.Second
)

// Options tune a Manager. Zero values select the defaults.
type Options struct {
	// Name labels logs and history records.
	Name string
	// FreshnessWindow is how long an observed status is served without asking the driver again.
	FreshnessWindow time.Duration
	// GraceWindow is how long a managed stop waits before forcing the process down.
	// It also bounds how long a requested stop is reported as Stopping.
	GraceWindow time.Duration
	// StartTimeout bounds how long a started process without a pid is reported as Starting.
	StartTimeout time.Duration
	// HistoryTimeout bounds each history broadcast.
	HistoryTimeout time.Duration

	Logger       *slog.Logger
	HistorySinks []history.Sink
	// Clock is used for freshness and transition bookkeeping. Defaults to time.Now.
	Clock func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = "lokinet"
	}
	if o.FreshnessWindow <= 0 {
		o.FreshnessWindow = DefaultFreshnessWindow
	}
	if o.GraceWindow <= 0 {
		o.GraceWindow = DefaultGraceWindow
	}
	if o.StartTimeout <= 0 {
		o.StartTimeout = DefaultStartTimeout
	}
	if o.HistoryTimeout <= 0 {
		o.HistoryTimeout = DefaultHistoryTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// intent is the last transition the manager itself requested.
type intent int

const (
	intentNone intent = iota
	intentStart
	intentStop
)

// Manager drives the lifecycle of a single process through a Driver.
// It is safe for concurrent use.
type Manager struct {
	driver  process.Driver
	opts    Options
	logger  *slog.Logger
	cache   *statusCache
	stopper *managedStopper
	sinks   []history.Sink

	mu       sync.Mutex
	intent   intent
	intentAt time.Time
	lastPID  int

	closed atomic.Bool
}

// New returns a Manager for driver. The driver is owned by the caller.
func New(driver process.Driver, opts Options) *Manager {
	opts = opts.withDefaults()
	m := &Manager{
		driver: driver,
		opts:   opts,
		logger: opts.Logger.With("component", "manager", "process", opts.Name),
		cache:  newStatusCache(opts.FreshnessWindow, opts.Clock),
		sinks:  append([]history.Sink(nil), opts.HistorySinks...),
	}
	m.stopper = newManagedStopper(m.logger.With("op", "managed_stop"), m.managedStopFinished)
	return m
}

// Status returns the cached process status, querying the driver when the
// cached value is older than the freshness window. It never fails; a failed
// query yields StatusUnknown.
func (m *Manager) Status() process.Status {
	return m.cache.get(m.queryStatus)
}

func (m *Manager) queryStatus() (process.Status, error) {
	pid, err := m.driver.PID()
	if err != nil {
		m.logger.Debug("status query failed", "error", err)
		return process.StatusUnknown, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.opts.Clock()
	if pid > 0 {
		m.lastPID = pid
		if m.intent == intentStop && now.Sub(m.intentAt) < m.opts.GraceWindow {
			return process.StatusStopping, nil
		}
		if m.intent == intentStart {
			m.intent = intentNone
		}
		return process.StatusRunning, nil
	}
	if m.intent == intentStart && now.Sub(m.intentAt) < m.opts.StartTimeout {
		return process.StatusStarting, nil
	}
	m.intent = intentNone
	return process.StatusStopped, nil
}

// Start spawns the process unless it is already Running or Starting.
func (m *Manager) Start() error {
	const op = "start"
	if err := m.checkOpen(op); err != nil {
		return err
	}
	if st := m.Status(); st == process.StatusRunning || st == process.StatusStarting {
		return m.reject(op, fmt.Errorf("%w: status is %s", process.ErrAlreadyRunning, st))
	}
	if err := m.driver.Start(); err != nil {
		return m.fail(op, history.EventStart, fmt.Errorf("start %s: %w", m.opts.Name, err))
	}
	m.setIntent(intentStart)
	m.cache.set(process.StatusStarting)
	m.succeed(op, history.EventStart, process.StatusStarting)
	return nil
}

// Stop asks a Running process to exit gracefully.
func (m *Manager) Stop() error {
	const op = "stop"
	if err := m.checkOpen(op); err != nil {
		return err
	}
	if st := m.Status(); st != process.StatusRunning {
		return m.reject(op, fmt.Errorf("%w: status is %s", ErrNotRunning, st))
	}
	if err := m.driver.Stop(); err != nil {
		return m.fail(op, history.EventStop, fmt.Errorf("stop %s: %w", m.opts.Name, err))
	}
	m.setIntent(intentStop)
	m.cache.set(process.StatusStopping)
	m.succeed(op, history.EventStop, process.StatusStopping)
	return nil
}

// ForceStop kills a Running or Stopping process.
func (m *Manager) ForceStop() error {
	const op = "force_stop"
	if err := m.checkOpen(op); err != nil {
		return err
	}
	if st := m.Status(); st != process.StatusRunning && st != process.StatusStopping {
		return m.reject(op, fmt.Errorf("%w: status is %s", ErrNotRunning, st))
	}
	if err := m.driver.ForceStop(); err != nil {
		return m.fail(op, history.EventForceStop, fmt.Errorf("force stop %s: %w", m.opts.Name, err))
	}
	m.setIntent(intentStop)
	m.cache.set(process.StatusStopping)
	m.succeed(op, history.EventForceStop, process.StatusStopping)
	return nil
}

// ManagedStop requests a graceful stop and returns. If the process is still
// alive after the grace window it is force stopped once in the background.
func (m *Manager) ManagedStop() error {
	const op = "managed_stop"
	if err := m.checkOpen(op); err != nil {
		return err
	}
	if m.stopper.inProgress() {
		return m.reject(op, ErrManagedStopInProgress)
	}
	if st := m.Status(); st != process.StatusRunning {
		return m.reject(op, fmt.Errorf("%w: status is %s", ErrNotRunning, st))
	}

	stop := func() error {
		if err := m.driver.Stop(); err != nil {
			return fmt.Errorf("stop %s: %w", m.opts.Name, err)
		}
		m.setIntent(intentStop)
		m.cache.set(process.StatusStopping)
		return nil
	}
	force := func() error {
		err := m.driver.ForceStop()
		m.record(history.EventEscalate, process.StatusStopping, err)
		return err
	}
	alive := func() (bool, error) {
		pid, err := m.driver.PID()
		return pid > 0, err
	}

	err := m.stopper.begin(stop, force, alive, m.opts.GraceWindow)
	switch {
	case errors.Is(err, ErrManagedStopInProgress), errors.Is(err, ErrClosed):
		return m.reject(op, err)
	case err != nil:
		return m.fail(op, history.EventManagedStop, err)
	}
	m.succeed(op, history.EventManagedStop, process.StatusStopping)
	return nil
}

// managedStopFinished makes the next Status call observe the process again
// instead of reporting the stop request.
func (m *Manager) managedStopFinished(outcome runState) {
	m.mu.Lock()
	if m.intent == intentStop {
		m.intent = intentNone
	}
	m.mu.Unlock()
	m.cache.invalidate()
	m.logger.Info("managed stop finished", "outcome", outcome.String())
}

// Shutdown waits for an outstanding managed stop and closes the history
// sinks. Lifecycle operations fail with ErrClosed afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	waitErr := m.stopper.shutdown(ctx)
	if waitErr != nil {
		m.logger.Warn("shutdown did not wait for managed stop", "error", waitErr)
	}
	return errors.Join(waitErr, history.CloseAll(m.sinks))
}

// Snapshot is an operator view of the manager. Unlike Status it includes the pid.
type Snapshot struct {
	Name              string                  `json:"name" yaml:"name"`
	Status            process.Status          `json:"status" yaml:"status"`
	ObservedAt        time.Time               `json:"observed_at" yaml:"observed_at"`
	PID               int                     `json:"pid" yaml:"pid"`
	LastPID           int                     `json:"last_pid,omitempty" yaml:"last_pid,omitempty"`
	ManagedStopActive bool                    `json:"managed_stop_active" yaml:"managed_stop_active"`
	ManagedStopState  string                  `json:"managed_stop_state" yaml:"managed_stop_state"`
	LastManagedStop   string                  `json:"last_managed_stop,omitempty" yaml:"last_managed_stop,omitempty"`
	Resources         *metrics.ProcessMetrics `json:"resources,omitempty" yaml:"resources,omitempty"`
	Error             string                  `json:"error,omitempty" yaml:"error,omitempty"`
}

// Describe reports the cached status together with a live pid lookup.
func (m *Manager) Describe() Snapshot {
	st := m.Status()
	snap, _ := m.cache.snapshot()
	current, last := m.stopper.status()

	out := Snapshot{
		Name:              m.opts.Name,
		Status:            st,
		ObservedAt:        snap.observedAt,
		ManagedStopActive: m.stopper.inProgress(),
		ManagedStopState:  current.String(),
	}
	if last != runIdle {
		out.LastManagedStop = last.String()
	}
	pid, err := m.driver.PID()
	if err != nil {
		out.Error = err.Error()
	}
	out.PID = pid
	if pid > 0 {
		if res, err := metrics.Sample(pid); err == nil {
			out.Resources = &res
		}
	}
	m.mu.Lock()
	out.LastPID = m.lastPID
	m.mu.Unlock()
	return out
}

func (m *Manager) setIntent(i intent) {
	m.mu.Lock()
	m.intent = i
	m.intentAt = m.opts.Clock()
	m.mu.Unlock()
}

func (m *Manager) checkOpen(op string) error {
	if m.closed.Load() {
		metrics.IncOperation(op, metrics.ResultRejected)
		return ErrClosed
	}
	return nil
}

func (m *Manager) reject(op string, err error) error {
	metrics.IncOperation(op, metrics.ResultRejected)
	m.logger.Debug("operation rejected", "op", op, "error", err)
	return err
}

func (m *Manager) fail(op string, ev history.EventType, err error) error {
	if IsConflict(err) {
		return m.reject(op, err)
	}
	metrics.IncOperation(op, metrics.ResultFailed)
	m.logger.Error("operation failed", "op", op, "error", err)
	snap, _ := m.cache.snapshot()
	m.record(ev, snap.status, err)
	return err
}

func (m *Manager) succeed(op string, ev history.EventType, st process.Status) {
	metrics.IncOperation(op, metrics.ResultOK)
	m.logger.Info("operation succeeded", "op", op, "status", st.String())
	m.record(ev, st, nil)
}

// record sends a history event to every sink. Sink failures are logged only.
func (m *Manager) record(ev history.EventType, st process.Status, opErr error) {
	if len(m.sinks) == 0 {
		return
	}
	rec := history.Record{Name: m.opts.Name, Status: st.String()}
	if pid, err := m.driver.PID(); err == nil && pid > 0 {
		rec.PID = pid
	} else {
		m.mu.Lock()
		rec.PID = m.lastPID
		m.mu.Unlock()
	}
	if opErr != nil {
		rec.Error = opErr.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.HistoryTimeout)
	defer cancel()
	e := history.Event{Type: ev, OccurredAt: m.opts.Clock().UTC(), Record: rec}
	if err := history.Broadcast(ctx, m.sinks, e); err != nil {
		m.logger.Warn("failed to record history event", "event", string(ev), "error", err)
	}
}
