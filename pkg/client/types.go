package client

import "time"

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Status string `json:"status" yaml:"status"`
}

// OperationResponse is returned by the lifecycle endpoints on success.
type OperationResponse struct {
	OK     bool   `json:"ok" yaml:"ok"`
	Status string `json:"status" yaml:"status"`
}

// ProcessInfo is returned by GET /debug/process.
type ProcessInfo struct {
	Name              string     `json:"name" yaml:"name"`
	Status            string     `json:"status" yaml:"status"`
	ObservedAt        time.Time  `json:"observed_at" yaml:"observed_at"`
	PID               int        `json:"pid" yaml:"pid"`
	LastPID           int        `json:"last_pid,omitempty" yaml:"last_pid,omitempty"`
	ManagedStopActive bool       `json:"managed_stop_active" yaml:"managed_stop_active"`
	ManagedStopState  string     `json:"managed_stop_state" yaml:"managed_stop_state"`
	LastManagedStop   string     `json:"last_managed_stop,omitempty" yaml:"last_managed_stop,omitempty"`
	Resources         *Resources `json:"resources,omitempty" yaml:"resources,omitempty"`
	Error             string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// Resources is the resource usage sample of the supervised process.
type Resources struct {
	CPUSeconds float64 `json:"cpu_seconds" yaml:"cpu_seconds"`
	MemoryRSS  uint64  `json:"memory_rss" yaml:"memory_rss"`
	MemoryVMS  uint64  `json:"memory_vms" yaml:"memory_vms"`
	NumThreads int32   `json:"num_threads" yaml:"num_threads"`
	NumFDs     int32   `json:"num_fds,omitempty" yaml:"num_fds,omitempty"`
}

// Token is returned by POST /auth/login.
type Token struct {
	Type      string    `json:"type" yaml:"type"`
	Value     string    `json:"value" yaml:"value"`
	ExpiresAt time.Time `json:"expires_at" yaml:"expires_at"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
