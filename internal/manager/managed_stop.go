package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/lokivisor/internal/metrics"
)

// runState tracks one managed stop run:
//
//	idle -> stop requested -> {aborted | waiting} -> {completed gracefully | escalated | abandoned} -> idle
type runState int32

const (
	runIdle runState = iota
	runStopRequested
	runAborted
	runWaiting
	runCompletedGracefully
	runEscalated
	runAbandoned
)

func (s runState) String() string {
	switch s {
	case runStopRequested:
		return "stop_requested"
	case runAborted:
		return "aborted"
	case runWaiting:
		return "waiting"
	case runCompletedGracefully:
		return "completed"
	case runEscalated:
		return "escalated"
	case runAbandoned:
		return "abandoned"
	default:
		return "idle"
	}
}

// managedStopper runs at most one "stop, wait, then kill" sequence at a time.
type managedStopper struct {
	logger *slog.Logger
	// onFinish runs before the guard is released.
	onFinish func(outcome runState)

	active atomic.Bool

	mu     sync.Mutex
	state  runState
	last   runState      // outcome of the most recent finished run
	done   chan struct{} // closed when the in-flight run finishes; nil when idle
	closed bool          // set by shutdown; no run may begin afterwards
}

func newManagedStopper(logger *slog.Logger, onFinish func(runState)) *managedStopper {
	return &managedStopper{logger: logger, onFinish: onFinish}
}

// begin calls stop synchronously and, if it succeeds, checks alive after
// grace on a timer goroutine, calling force once if the process is still there.
// It returns ErrManagedStopInProgress when another run holds the guard and
// ErrClosed once shutdown has been called.
func (m *managedStopper) begin(stop, force func() error, alive func() (bool, error), grace time.Duration) error {
	if !m.active.CompareAndSwap(false, true) {
		return ErrManagedStopInProgress
	}
	done := make(chan struct{})
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.active.Store(false)
		return ErrClosed
	}
	m.done = done
	m.state = runStopRequested
	m.mu.Unlock()
	metrics.SetManagedStopActive(true)

	if err := stop(); err != nil {
		m.finish(runAborted, done)
		return fmt.Errorf("managed stop: %w", err)
	}

	m.setState(runWaiting)
	m.logger.Info("graceful stop requested, waiting", "grace", grace)
	time.AfterFunc(grace, func() { m.check(force, alive, done) })
	return nil
}

func (m *managedStopper) check(force func() error, alive func() (bool, error), done chan struct{}) {
	outcome := runAbandoned
	defer func() { m.finish(outcome, done) }()

	running, err := alive()
	switch {
	case err != nil:
		m.logger.Warn("managed stop abandoned: liveness check failed", "error", err)
	case !running:
		outcome = runCompletedGracefully
		m.logger.Info("process stopped within grace window")
	default:
		outcome = runEscalated
		m.logger.Warn("process still alive after grace window, forcing stop")
		if err := force(); err != nil {
			m.logger.Error("forced stop failed", "error", err)
		}
	}
}

// finish records outcome and releases the guard, even if onFinish panics.
func (m *managedStopper) finish(outcome runState, done chan struct{}) {
	defer func() {
		m.mu.Lock()
		m.state = runIdle
		m.last = outcome
		m.done = nil
		m.mu.Unlock()
		metrics.SetManagedStopActive(false)
		m.active.Store(false)
		close(done)
	}()

	m.setState(outcome)
	metrics.IncManagedStopRun(outcome.String())
	if m.onFinish != nil {
		m.onFinish(outcome)
	}
}

func (m *managedStopper) setState(s runState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// inProgress reports whether a run holds the guard.
func (m *managedStopper) inProgress() bool { return m.active.Load() }

// status returns the current run state and the outcome of the last finished run.
func (m *managedStopper) status() (current, last runState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.last
}

// shutdown refuses new runs and waits for the in-flight one, if any.
func (m *managedStopper) shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.wait(ctx)
}

// wait blocks until the in-flight run, if any, has finished.
func (m *managedStopper) wait(ctx context.Context) error {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
