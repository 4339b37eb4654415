package detector

import (
	"fmt"
	"os"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// ProcessNameDetector scans the OS process table for an executable name.
// Matching ignores case and a trailing ".exe" so one config works on every platform.
type ProcessNameDetector struct {
	Name string
}

func (d ProcessNameDetector) Lookup() (int, error) {
	want := normalizeName(d.Name)
	if want == "" {
		return 0, nil
	}
	procs, err := gopsproc.Processes()
	if err != nil {
		return 0, fmt.Errorf("list processes: %w", err)
	}
	self := int32(os.Getpid())
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		name, err := p.Name()
		if err != nil {
			// exited between listing and inspection, or not ours to read
			continue
		}
		if normalizeName(name) != want {
			continue
		}
		if st, err := p.Status(); err == nil && len(st) > 0 && st[0] == gopsproc.Zombie {
			continue
		}
		return int(p.Pid), nil
	}
	return 0, nil
}

func (d ProcessNameDetector) Describe() string { return "name:" + d.Name }

func normalizeName(n string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(n)), ".exe")
}
