package cron

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/lokivisor/internal/manager"
)

type fakeOps struct {
	mu    sync.Mutex
	calls []Action
	errs  map[Action]error
}

func (f *fakeOps) record(a Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, a)
	return f.errs[a]
}

func (f *fakeOps) Start() error       { return f.record(ActionStart) }
func (f *fakeOps) Stop() error        { return f.record(ActionStop) }
func (f *fakeOps) ForceStop() error   { return f.record(ActionForceStop) }
func (f *fakeOps) ManagedStop() error { return f.record(ActionManagedStop) }

func (f *fakeOps) called() []Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Action(nil), f.calls...)
}

func TestEntryValidate(t *testing.T) {
	tests := []struct {
		name    string
		entry   Entry
		wantErr string
	}{
		{"five fields", Entry{Name: "nightly", Cron: "0 4 * * *", Action: ActionManagedStop}, ""},
		{"with seconds", Entry{Name: "s", Cron: "30 0 4 * * *", Action: ActionStart}, ""},
		{"descriptor", Entry{Name: "d", Cron: "@every 1h", Action: ActionStop}, ""},
		{"time zone", Entry{Name: "tz", Cron: "CRON_TZ=UTC 0 4 * * *", Action: ActionForceStop}, ""},
		{"no name", Entry{Cron: "@daily", Action: ActionStart}, "name is required"},
		{"no cron", Entry{Name: "x", Action: ActionStart}, "cron is required"},
		{"bad cron", Entry{Name: "x", Cron: "61 * * * *", Action: ActionStart}, "invalid cron"},
		{"bad action", Entry{Name: "x", Cron: "@daily", Action: "restart"}, "unknown action"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entry.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateRejectsDuplicates(t *testing.T) {
	err := Validate([]Entry{
		{Name: "a", Cron: "@daily", Action: ActionStart},
		{Name: "a", Cron: "@hourly", Action: ActionStop},
		{Name: "b", Cron: "nope", Action: ActionStop},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `schedule[1]: duplicate name "a"`)
	assert.Contains(t, err.Error(), "schedule[2]: invalid cron")

	_, err = New(&fakeOps{}, []Entry{{Name: "a", Cron: "@daily", Action: "bogus"}}, nil)
	require.Error(t, err)
}

func TestFireClassifiesResults(t *testing.T) {
	boom := errors.New("boom")
	ops := &fakeOps{errs: map[Action]error{
		ActionStop:      fmt.Errorf("stop: %w", manager.ErrNotRunning),
		ActionForceStop: boom,
	}}
	s, err := New(ops, nil, nil)
	require.NoError(t, err)

	assert.NoError(t, s.fire(Entry{Name: "up", Action: ActionStart}))
	err = s.fire(Entry{Name: "down", Action: ActionStop})
	assert.True(t, manager.IsConflict(err))
	assert.ErrorIs(t, s.fire(Entry{Name: "kill", Action: ActionForceStop}), boom)
	assert.NoError(t, s.fire(Entry{Name: "drain", Action: ActionManagedStop}))

	assert.Equal(t, []Action{ActionStart, ActionStop, ActionForceStop, ActionManagedStop}, ops.called())
}

func TestEntriesReportNext(t *testing.T) {
	s, err := New(&fakeOps{}, []Entry{{Name: "nightly", Cron: "0 4 * * *", Action: ActionManagedStop}}, nil)
	require.NoError(t, err)

	infos := s.Entries()
	require.Len(t, infos, 1)
	assert.Equal(t, "nightly", infos[0].Name)
	assert.Equal(t, 4, infos[0].Next.Hour())
	assert.Equal(t, 0, infos[0].Next.Minute())
	assert.True(t, infos[0].Next.After(time.Now()))
}

func TestSchedulerFiresOnSchedule(t *testing.T) {
	ops := &fakeOps{}
	s, err := New(ops, []Entry{{Name: "tick", Cron: "@every 1s", Action: ActionStart}}, nil)
	require.NoError(t, err)

	s.Start()
	assert.Eventually(t, func() bool { return len(ops.called()) > 0 }, 3*time.Second, 20*time.Millisecond)

	select {
	case <-s.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, ActionStart, ops.called()[0])
}
