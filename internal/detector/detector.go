package detector

// Detector is a strategy that locates the supervised process when the driver
// is not tracking a child of its own (for example after the supervisor was
// restarted while lokinet kept running).
// It must be safe for concurrent use.
type Detector interface {
	// Lookup returns the pid of a live matching process, or 0 when none is found.
	Lookup() (int, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}
