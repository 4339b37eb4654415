//go:build !windows

package process

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"syscall"
)

// unixPlatform puts the child in its own process group so that signals reach
// any helpers lokinet forks.
type unixPlatform struct{}

func newPlatform() platform { return unixPlatform{} }

func (unixPlatform) name() string { return runtime.GOOS }

func (unixPlatform) configure(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func (p unixPlatform) terminate(pid int, group bool) error {
	return p.signal(pid, group, syscall.SIGTERM)
}

func (p unixPlatform) kill(pid int, group bool) error {
	return p.signal(pid, group, syscall.SIGKILL)
}

func (unixPlatform) signal(pid int, group bool, sig syscall.Signal) error {
	if pid <= 0 {
		return ErrNoProcess
	}
	target := pid
	if group {
		target = -pid
	}
	err := syscall.Kill(target, sig)
	if errors.Is(err, syscall.ESRCH) {
		return ErrNoProcess
	}
	return err
}

func (unixPlatform) alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	// A child that exited but has not been reaped yet still answers kill(0).
	if runtime.GOOS == "linux" && isZombieLinux(pid) {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

func isZombieLinux(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}

func shellCommand(script string) *exec.Cmd {
	// #nosec G204
	return exec.Command("/bin/sh", "-c", script)
}

func trueCommand() *exec.Cmd {
	return exec.Command("/bin/true")
}
