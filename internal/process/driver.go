package process

import "errors"

var (
	// ErrNoProcess is returned by Stop and ForceStop when no process is tracked or detected.
	ErrNoProcess = errors.New("no process is running")
	// ErrAlreadyRunning is returned by Start when the tracked process is still alive.
	ErrAlreadyRunning = errors.New("process is already running")
)

// Driver performs the OS-level work for a single supervised process.
// Implementations must be safe for concurrent use.
type Driver interface {
	// Start spawns the process.
	Start() error
	// Stop asks the process to terminate gracefully.
	Stop() error
	// ForceStop terminates the process unconditionally.
	ForceStop() error
	// PID returns the pid of the process, or 0 with a nil error when none is running.
	// A non-nil error means the query itself failed.
	PID() (int, error)
}
