//go:build !windows

package detector

import (
	"errors"
	"syscall"
)

// PIDAlive reports whether a process with the given pid exists.
// EPERM counts as alive: the process exists but belongs to someone else.
func PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
