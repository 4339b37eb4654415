package process

import (
	"runtime"
	"strings"
	"testing"

	"github.com/loykin/lokivisor/internal/detector"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

// An explicit "sh -c" prefix must not be wrapped in a second shell.
func TestBuildCommand_ExplicitShellNoDoubleWrap(t *testing.T) {
	requireUnix(t)
	s := Spec{Name: "x", Command: "sh -c 'echo hi'"}
	cmd := s.BuildCommand()
	if len(cmd.Args) != 3 || cmd.Args[1] != "-c" {
		t.Fatalf("unexpected argv: %#v", cmd.Args)
	}
	if cmd.Args[2] != "echo hi" {
		t.Fatalf("expected quotes stripped from script, got %q", cmd.Args[2])
	}
	if strings.HasPrefix(cmd.Args[2], "sh -c ") {
		t.Fatalf("command was double-wrapped: %q", cmd.Args[2])
	}
}

func TestBuildCommand_MetacharTriggersShell(t *testing.T) {
	requireUnix(t)
	s := Spec{Name: "y", Command: "echo hi | wc -c"}
	cmd := s.BuildCommand()
	if len(cmd.Args) < 3 || cmd.Args[1] != "-c" {
		t.Fatalf("expected shell -c wrapping, got argv=%#v", cmd.Args)
	}
}

func TestBuildCommand_PlainArgv(t *testing.T) {
	s := Spec{Name: "lokinet", Command: "lokinet --config /etc/loki/lokinet.ini"}
	cmd := s.BuildCommand()
	want := []string{"lokinet", "--config", "/etc/loki/lokinet.ini"}
	if len(cmd.Args) != len(want) {
		t.Fatalf("argv: %#v", cmd.Args)
	}
	for i := range want {
		if cmd.Args[i] != want[i] {
			t.Fatalf("argv[%d]=%q want %q", i, cmd.Args[i], want[i])
		}
	}
}

func TestSpec_Validate(t *testing.T) {
	tests := []struct {
		name        string
		spec        Spec
		errContains string
	}{
		{name: "valid", spec: Spec{Name: "lokinet", Command: "lokinet"}},
		{name: "missing name", spec: Spec{Command: "lokinet"}, errContains: "name is required"},
		{name: "missing command", spec: Spec{Name: "lokinet"}, errContains: "requires command"},
		{name: "bad env", spec: Spec{Name: "lokinet", Command: "lokinet", Env: []string{"NOVALUE"}}, errContains: "KEY=VALUE"},
		{name: "empty env key", spec: Spec{Name: "lokinet", Command: "lokinet", Env: []string{"=v"}}, errContains: "KEY=VALUE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.errContains == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errContains) {
				t.Fatalf("expected error containing %q, got %v", tt.errContains, err)
			}
		})
	}
}

func TestSpec_DetectorOrder(t *testing.T) {
	s := Spec{
		PIDFile:     "/run/lokinet.pid",
		ProcessName: "lokinet",
		Detectors:   []detector.Detector{detector.PIDDetector{PID: 7}},
	}
	dets := s.detectors()
	got := make([]string, 0, len(dets))
	for _, d := range dets {
		got = append(got, d.Describe())
	}
	want := []string{"pidfile:/run/lokinet.pid", "pid:7", "name:lokinet"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("detector order %v, want %v", got, want)
	}
}
