package process

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/loykin/lokivisor/internal/detector"
)

// Spec describes the lokinet process to supervise.
type Spec struct {
	Name        string   `json:"name" mapstructure:"name"`
	Command     string   `json:"command" mapstructure:"command"`           // command line used to spawn the process
	WorkDir     string   `json:"work_dir" mapstructure:"work_dir"`         // optional working dir
	Env         []string `json:"env" mapstructure:"env"`                   // optional extra env, KEY=VALUE
	PIDFile     string   `json:"pid_file" mapstructure:"pid_file"`         // optional; written on start and used to re-adopt
	ProcessName string   `json:"process_name" mapstructure:"process_name"` // optional executable name for process-table lookup

	Detectors []detector.Detector `json:"-" mapstructure:"-"` // extra detectors consulted after the pidfile
}

// Validate checks the fields needed to spawn the process.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("process name is required")
	}
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("process %q requires command", s.Name)
	}
	for i, kv := range s.Env {
		k, _, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return fmt.Errorf("process %q: env[%d] %q must be KEY=VALUE", s.Name, i, kv)
		}
	}
	return nil
}

// detectors returns the lookup chain used when no child is tracked:
// pidfile first, then explicit detectors, then the process table.
func (s Spec) detectors() []detector.Detector {
	dets := make([]detector.Detector, 0, len(s.Detectors)+2)
	if s.PIDFile != "" {
		dets = append(dets, detector.PIDFileDetector{PIDFile: s.PIDFile})
	}
	dets = append(dets, s.Detectors...)
	if s.ProcessName != "" {
		dets = append(dets, detector.ProcessNameDetector{Name: s.ProcessName})
	}
	return dets
}

// BuildCommand constructs an *exec.Cmd for s.Command.
// A shell is only used when the command asks for one explicitly or contains
// shell metacharacters.
func (s Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		return trueCommand()
	}
	if script, ok := explicitShellScript(cmdStr); ok {
		return shellCommand(script)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return shellCommand(cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// explicitShellScript recognises "sh -c <script>" style prefixes and returns
// the script with one pair of surrounding quotes removed.
func explicitShellScript(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		after, ok := strings.CutPrefix(trim, p)
		if !ok {
			continue
		}
		if n := len(after); n >= 2 {
			if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
				after = after[1 : n-1]
			}
		}
		return after, true
	}
	return "", false
}
