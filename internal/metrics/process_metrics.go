package metrics

import (
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessMetrics holds CPU and memory usage of the supervised process.
type ProcessMetrics struct {
	PID        int32     `json:"pid" yaml:"pid"`
	CPUSeconds float64   `json:"cpu_seconds" yaml:"cpu_seconds"`
	MemoryRSS  uint64    `json:"memory_rss" yaml:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms" yaml:"memory_vms"`
	NumThreads int32     `json:"num_threads" yaml:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty" yaml:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
}

// Sample reads the current resource usage of pid.
func Sample(pid int) (ProcessMetrics, error) {
	proc, err := process.NewProcess(int32(pid)) // #nosec G115 -- pids fit in int32
	if err != nil {
		return ProcessMetrics{}, fmt.Errorf("failed to create process handle: %w", err)
	}

	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return ProcessMetrics{}, fmt.Errorf("failed to get memory info: %w", err)
	}

	m := ProcessMetrics{
		PID:       proc.Pid,
		MemoryRSS: memInfo.RSS,
		MemoryVMS: memInfo.VMS,
		Timestamp: time.Now(),
	}
	if times, err := proc.Times(); err == nil {
		m.CPUSeconds = times.User + times.System
	} else {
		slog.Debug("Failed to get CPU times", "pid", pid, "error", err)
	}
	if n, err := proc.NumThreads(); err == nil {
		m.NumThreads = n
	}
	if runtime.GOOS != "windows" {
		if n, err := proc.NumFDs(); err == nil {
			m.NumFDs = n
		}
	}
	return m, nil
}

// ProcessCollector exports the resource usage of the supervised process at
// scrape time. It reports nothing while no process is running.
type ProcessCollector struct {
	pid func() (int, error)

	cpu     *prometheus.Desc
	rss     *prometheus.Desc
	vms     *prometheus.Desc
	threads *prometheus.Desc
	fds     *prometheus.Desc
}

// NewProcessCollector returns a collector that resolves the pid with pid on each scrape.
func NewProcessCollector(pid func() (int, error)) *ProcessCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "managed_process", name), help, nil, nil)
	}
	return &ProcessCollector{
		pid:     pid,
		cpu:     desc("cpu_seconds_total", "User and system CPU time consumed by the process."),
		rss:     desc("resident_memory_bytes", "Resident memory size of the process."),
		vms:     desc("virtual_memory_bytes", "Virtual memory size of the process."),
		threads: desc("threads", "Number of OS threads of the process."),
		fds:     desc("open_fds", "Number of open file descriptors of the process."),
	}
}

func (c *ProcessCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cpu
	ch <- c.rss
	ch <- c.vms
	ch <- c.threads
	ch <- c.fds
}

func (c *ProcessCollector) Collect(ch chan<- prometheus.Metric) {
	pid, err := c.pid()
	if err != nil || pid <= 0 {
		return
	}
	m, err := Sample(pid)
	if err != nil {
		slog.Debug("Failed to sample process metrics", "pid", pid, "error", err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.cpu, prometheus.CounterValue, m.CPUSeconds)
	ch <- prometheus.MustNewConstMetric(c.rss, prometheus.GaugeValue, float64(m.MemoryRSS))
	ch <- prometheus.MustNewConstMetric(c.vms, prometheus.GaugeValue, float64(m.MemoryVMS))
	ch <- prometheus.MustNewConstMetric(c.threads, prometheus.GaugeValue, float64(m.NumThreads))
	if runtime.GOOS != "windows" {
		ch <- prometheus.MustNewConstMetric(c.fds, prometheus.GaugeValue, float64(m.NumFDs))
	}
}

// RegisterProcessCollector registers a ProcessCollector for pid with r.
func RegisterProcessCollector(r prometheus.Registerer, pid func() (int, error)) error {
	return register(r, NewProcessCollector(pid))
}
