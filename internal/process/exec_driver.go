package process

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/loykin/lokivisor/internal/detector"
)

// platform is the OS-specific half of ExecDriver. Exactly one implementation
// is compiled in per target OS.
type platform interface {
	// configure sets process attributes (process group, creation flags) before Start.
	configure(cmd *exec.Cmd)
	// terminate requests a graceful exit. group is true for children we spawned ourselves.
	terminate(pid int, group bool) error
	// kill ends the process unconditionally.
	kill(pid int, group bool) error
	// alive reports whether pid refers to a running (non-zombie) process.
	alive(pid int) bool
	name() string
}

// ExecDriver implements Driver on top of os/exec.
//
// It tracks the child it spawned and reaps it in the background. When it is
// not tracking a child, PID falls back to the configured detectors so that a
// lokinet started by someone else (or by a previous supervisor run) can
// still be observed and stopped.
type ExecDriver struct {
	spec     Spec
	platform platform
	logger   *slog.Logger

	mu   sync.Mutex
	cmd  *exec.Cmd     // tracked child, nil once reaped
	done chan struct{} // closed when cmd has been reaped
}

// NewPlatformDriver returns the driver variant for the OS this binary was built for.
func NewPlatformDriver(spec Spec, logger *slog.Logger) *ExecDriver {
	if logger == nil {
		logger = slog.Default()
	}
	p := newPlatform()
	return &ExecDriver{
		spec:     spec,
		platform: p,
		logger:   logger.With("component", "driver", "platform", p.name(), "process", spec.Name),
	}
}

func (d *ExecDriver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cmd != nil && d.platform.alive(d.cmd.Process.Pid) {
		return ErrAlreadyRunning
	}
	if pid, err := d.detect(); err == nil && pid > 0 {
		return fmt.Errorf("%w (pid %d found by detector)", ErrAlreadyRunning, pid)
	}

	cmd := d.spec.BuildCommand()
	if d.spec.WorkDir != "" {
		cmd.Dir = d.spec.WorkDir
	}
	if len(d.spec.Env) > 0 {
		cmd.Env = append(os.Environ(), d.spec.Env...)
	}
	// Stdout and Stderr stay nil: os/exec connects them to the null device.
	d.platform.configure(cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", d.spec.Name, err)
	}

	pid := cmd.Process.Pid
	done := make(chan struct{})
	d.cmd = cmd
	d.done = done
	if d.spec.PIDFile != "" {
		if err := writePIDFile(d.spec.PIDFile, pid); err != nil {
			d.logger.Warn("failed to write pidfile", "path", d.spec.PIDFile, "error", err)
		}
	}
	go d.reap(cmd, done)

	d.logger.Info("process started", "pid", pid)
	return nil
}

// reap waits for cmd so it never lingers as a zombie, then forgets it.
func (d *ExecDriver) reap(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	d.mu.Lock()
	if d.cmd == cmd {
		d.cmd = nil
		d.done = nil
		if d.spec.PIDFile != "" {
			_ = os.Remove(d.spec.PIDFile)
		}
	}
	d.mu.Unlock()
	close(done)
	d.logger.Info("process exited", "pid", cmd.Process.Pid, "exit", exitDescription(err))
}

func (d *ExecDriver) Stop() error {
	pid, group, err := d.target()
	if err != nil {
		return err
	}
	if err := d.platform.terminate(pid, group); err != nil {
		return fmt.Errorf("terminate pid %d: %w", pid, err)
	}
	d.logger.Info("graceful stop requested", "pid", pid)
	return nil
}

func (d *ExecDriver) ForceStop() error {
	pid, group, err := d.target()
	if err != nil {
		return err
	}
	if err := d.platform.kill(pid, group); err != nil {
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}
	d.logger.Warn("process force stopped", "pid", pid)
	return nil
}

func (d *ExecDriver) PID() (int, error) {
	d.mu.Lock()
	cmd := d.cmd
	d.mu.Unlock()

	if cmd != nil {
		pid := cmd.Process.Pid
		if d.platform.alive(pid) {
			return pid, nil
		}
		// exited but not yet reaped
		return 0, nil
	}
	return d.detect()
}

// Done returns a channel closed when the tracked child has been reaped,
// or nil when no child is tracked.
func (d *ExecDriver) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done == nil {
		return nil
	}
	return d.done
}

// target resolves the pid to signal and whether it leads its own process group.
func (d *ExecDriver) target() (int, bool, error) {
	d.mu.Lock()
	cmd := d.cmd
	d.mu.Unlock()
	if cmd != nil {
		pid := cmd.Process.Pid
		if d.platform.alive(pid) {
			return pid, true, nil
		}
		return 0, false, ErrNoProcess
	}
	pid, err := d.detect()
	if err != nil {
		return 0, false, err
	}
	if pid == 0 {
		return 0, false, ErrNoProcess
	}
	return pid, false, nil
}

// detect walks the detector chain. It only fails when no detector found a
// process and at least one of them could not answer.
func (d *ExecDriver) detect() (int, error) {
	var errs []error
	for _, det := range d.spec.detectors() {
		pid, err := det.Lookup()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", det.Describe(), err))
			continue
		}
		if pid > 0 {
			d.logger.Debug("process detected", "pid", pid, "detector", det.Describe())
			return pid, nil
		}
	}
	return 0, errors.Join(errs...)
}

func writePIDFile(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return detector.WritePIDFile(path, pid)
}

func exitDescription(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}
