package manager

import (
	"context"
	"sync"
	"time"

	"github.com/loykin/lokivisor/internal/history"
)

const fakePID = 4242

// fakeDriver simulates one process. Stop only makes it exit when exitOnStop is set.
type fakeDriver struct {
	mu sync.Mutex

	pid        int
	pidErr     error
	startErr   error
	stopErr    error
	forceErr   error
	exitOnStop bool
	pidGate    chan struct{} // when set, PID blocks until it is closed

	starts, stops, forces, pids int
}

func (d *fakeDriver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.starts++
	if d.startErr != nil {
		return d.startErr
	}
	d.pid = fakePID
	return nil
}

func (d *fakeDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	if d.stopErr != nil {
		return d.stopErr
	}
	if d.exitOnStop {
		d.pid = 0
	}
	return nil
}

func (d *fakeDriver) ForceStop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forces++
	if d.forceErr != nil {
		return d.forceErr
	}
	d.pid = 0
	return nil
}

func (d *fakeDriver) PID() (int, error) {
	d.mu.Lock()
	gate := d.pidGate
	d.pids++
	d.mu.Unlock()
	if gate != nil {
		<-gate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pid, d.pidErr
}

func (d *fakeDriver) set(fn func(d *fakeDriver)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d)
}

func (d *fakeDriver) counts() (starts, stops, forces, pids int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starts, d.stops, d.forces, d.pids
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingSink struct {
	mu     sync.Mutex
	events []history.Event
	closed bool
}

func (s *recordingSink) Send(_ context.Context, e history.Event) error {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) types() []history.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]history.EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}
