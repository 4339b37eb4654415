//go:build windows

package process

import (
	"fmt"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/loykin/lokivisor/internal/detector"
)

const createNewProcessGroup = 0x00000200

// windowsPlatform has no SIGTERM: a graceful stop is taskkill without /F,
// which posts WM_CLOSE (or a service stop) to the target.
type windowsPlatform struct{}

func newPlatform() platform { return windowsPlatform{} }

func (windowsPlatform) name() string { return "windows" }

func (windowsPlatform) configure(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
}

func (windowsPlatform) terminate(pid int, group bool) error {
	if pid <= 0 {
		return ErrNoProcess
	}
	args := []string{"/PID", strconv.Itoa(pid)}
	if group {
		args = append(args, "/T")
	}
	// #nosec G204
	out, err := exec.Command("taskkill", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("taskkill: %w: %s", err, out)
	}
	return nil
}

func (windowsPlatform) kill(pid int, group bool) error {
	if pid <= 0 {
		return ErrNoProcess
	}
	if group {
		// #nosec G204
		if err := exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(pid)).Run(); err == nil {
			return nil
		}
	}
	h, err := syscall.OpenProcess(syscall.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return ErrNoProcess
	}
	defer func() { _ = syscall.CloseHandle(h) }()
	return syscall.TerminateProcess(h, 1)
}

func (windowsPlatform) alive(pid int) bool { return detector.PIDAlive(pid) }

func shellCommand(script string) *exec.Cmd {
	// #nosec G204
	return exec.Command("cmd", "/c", script)
}

func trueCommand() *exec.Cmd {
	return exec.Command("cmd", "/c", "rem")
}
