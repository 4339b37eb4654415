package process

import "fmt"

// Status is the lifecycle phase of the supervised process as last observed.
// The zero value is StatusUnknown, which is also what a failed query reports.
type Status int32

const (
	StatusUnknown Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so Status renders as its name in JSON and YAML.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	st, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ParseStatus converts a status name back into a Status.
func ParseStatus(name string) (Status, error) {
	switch name {
	case "unknown", "":
		return StatusUnknown, nil
	case "starting":
		return StatusStarting, nil
	case "running":
		return StatusRunning, nil
	case "stopping":
		return StatusStopping, nil
	case "stopped":
		return StatusStopped, nil
	default:
		return StatusUnknown, fmt.Errorf("invalid process status %q", name)
	}
}
