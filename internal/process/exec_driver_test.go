package process

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/lokivisor/internal/detector"
)

func waitUntil(timeout time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fn()
}

func waitReaped(t *testing.T, d *ExecDriver) {
	t.Helper()
	done := d.Done()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("child was not reaped in time")
	}
}

func TestExecDriver_StartStop(t *testing.T) {
	requireUnix(t)
	pidfile := filepath.Join(t.TempDir(), "run", "lokinet.pid")
	d := NewPlatformDriver(Spec{Name: "lokinet", Command: "sleep 5", PIDFile: pidfile}, nil)

	require.NoError(t, d.Start())
	t.Cleanup(func() { _ = d.ForceStop(); waitReaped(t, d) })

	pid, err := d.PID()
	require.NoError(t, err)
	assert.Greater(t, pid, 0)

	filePID, _, err := detector.ReadPIDFile(pidfile)
	require.NoError(t, err)
	assert.Equal(t, pid, filePID)

	assert.ErrorIs(t, d.Start(), ErrAlreadyRunning)

	require.NoError(t, d.Stop())
	waitReaped(t, d)

	pid, err = d.PID()
	require.NoError(t, err)
	assert.Equal(t, 0, pid)
	_, statErr := os.Stat(pidfile)
	assert.True(t, os.IsNotExist(statErr), "pidfile should be removed after exit")
}

func TestExecDriver_ForceStopWhenTermIgnored(t *testing.T) {
	requireUnix(t)
	ready := filepath.Join(t.TempDir(), "ready")
	d := NewPlatformDriver(Spec{Name: "stubborn", Command: `sh -c 'trap "" TERM; touch ` + ready + `; sleep 5'`}, nil)
	require.NoError(t, d.Start())
	t.Cleanup(func() { _ = d.ForceStop(); waitReaped(t, d) })

	// SIGTERM before the trap is installed would end the shell
	require.Eventually(t, func() bool {
		_, err := os.Stat(ready)
		return err == nil
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, d.Stop())
	time.Sleep(200 * time.Millisecond)
	pid, err := d.PID()
	require.NoError(t, err)
	require.Greater(t, pid, 0, "process should survive SIGTERM")

	require.NoError(t, d.ForceStop())
	waitReaped(t, d)
	pid, err = d.PID()
	require.NoError(t, err)
	assert.Equal(t, 0, pid)
}

func TestExecDriver_NothingToStop(t *testing.T) {
	d := NewPlatformDriver(Spec{Name: "idle", Command: "sleep 1"}, nil)
	assert.ErrorIs(t, d.Stop(), ErrNoProcess)
	assert.ErrorIs(t, d.ForceStop(), ErrNoProcess)
	pid, err := d.PID()
	assert.NoError(t, err)
	assert.Equal(t, 0, pid)
	assert.Nil(t, d.Done())
}

func TestExecDriver_StartFailure(t *testing.T) {
	requireUnix(t)
	d := NewPlatformDriver(Spec{Name: "missing", Command: "/nonexistent/lokinet-binary"}, nil)
	err := d.Start()
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrAlreadyRunning))
	pid, _ := d.PID()
	assert.Equal(t, 0, pid)
}

func TestExecDriver_ShortLivedChildIsReaped(t *testing.T) {
	requireUnix(t)
	d := NewPlatformDriver(Spec{Name: "blip", Command: "true"}, nil)
	require.NoError(t, d.Start())
	waitReaped(t, d)
	assert.True(t, waitUntil(time.Second, func() bool {
		pid, err := d.PID()
		return err == nil && pid == 0
	}))
	// once reaped a new start is allowed
	require.NoError(t, d.Start())
	waitReaped(t, d)
}

// A lokinet left running by an earlier supervisor is adopted through its pidfile.
func TestExecDriver_AdoptsViaPIDFile(t *testing.T) {
	requireUnix(t)
	// #nosec G204
	ext := exec.Command("sleep", "5")
	require.NoError(t, ext.Start())
	exited := make(chan struct{})
	go func() { _ = ext.Wait(); close(exited) }()
	t.Cleanup(func() { _ = ext.Process.Kill(); <-exited })

	pidfile := filepath.Join(t.TempDir(), "lokinet.pid")
	require.NoError(t, detector.WritePIDFile(pidfile, ext.Process.Pid))

	d := NewPlatformDriver(Spec{Name: "lokinet", Command: "sleep 5", PIDFile: pidfile}, nil)
	pid, err := d.PID()
	require.NoError(t, err)
	assert.Equal(t, ext.Process.Pid, pid)

	assert.ErrorIs(t, d.Start(), ErrAlreadyRunning)

	require.NoError(t, d.Stop())
	select {
	case <-exited:
	case <-time.After(3 * time.Second):
		t.Fatalf("adopted process did not exit on SIGTERM")
	}
}
