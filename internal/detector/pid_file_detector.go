package detector

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Meta is the optional JSON line stored after the pid in a pidfile.
type Meta struct {
	StartUnix int64 `json:"start_unix"`
}

// PIDFileDetector detects a process via a PID file.
// The first line holds the pid; any later line may carry Meta, which is used
// to reject a pid that has been reused by an unrelated process.
type PIDFileDetector struct {
	PIDFile string
}

func (d PIDFileDetector) Lookup() (int, error) {
	pid, meta, err := ReadPIDFile(d.PIDFile)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	if meta.StartUnix > 0 {
		if cur := StartUnix(pid); cur > 0 && cur != meta.StartUnix {
			return 0, nil
		}
	}
	if !PIDAlive(pid) {
		return 0, nil
	}
	return pid, nil
}

func (d PIDFileDetector) Describe() string { return "pidfile:" + d.PIDFile }

// ReadPIDFile parses a pidfile written by WritePIDFile.
func ReadPIDFile(path string) (int, Meta, error) {
	var meta Meta
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, meta, err
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, meta, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	if pid <= 0 {
		return 0, meta, fmt.Errorf("invalid pid in %s: %d", path, pid)
	}
	for _, l := range lines[1:] {
		var m Meta
		if err := json.Unmarshal([]byte(strings.TrimSpace(l)), &m); err == nil && m.StartUnix > 0 {
			meta = m
			break
		}
	}
	return pid, meta, nil
}

// WritePIDFile records pid and its start time so a later Lookup can detect pid reuse.
func WritePIDFile(path string, pid int) error {
	content := strconv.Itoa(pid) + "\n"
	if start := StartUnix(pid); start > 0 {
		b, _ := json.Marshal(Meta{StartUnix: start})
		content += string(b) + "\n"
	}
	return os.WriteFile(path, []byte(content), 0o600)
}

// PIDDetector detects by a provided PID number.
type PIDDetector struct{ PID int }

func (d PIDDetector) Lookup() (int, error) {
	if PIDAlive(d.PID) {
		return d.PID, nil
	}
	return 0, nil
}

func (d PIDDetector) Describe() string { return fmt.Sprintf("pid:%d", d.PID) }
