package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/loykin/lokivisor/internal/manager"
	"github.com/loykin/lokivisor/internal/metrics"
)

// Action names the lifecycle operation an entry fires.
type Action string

const (
	ActionStart       Action = "start"
	ActionStop        Action = "stop"
	ActionForceStop   Action = "force_stop"
	ActionManagedStop Action = "managed_stop"
)

// parser accepts an optional seconds field and descriptors such as @daily or @every 1h.
var parser = robfig.NewParser(robfig.SecondOptional | robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow | robfig.Descriptor)

// Entry fires Action whenever Cron matches. Cron may carry a
// "CRON_TZ=<zone> " prefix to evaluate in a time zone other than local.
type Entry struct {
	Name   string `mapstructure:"name" json:"name" yaml:"name"`
	Cron   string `mapstructure:"cron" json:"cron" yaml:"cron"`
	Action Action `mapstructure:"action" json:"action" yaml:"action"`
}

// Validate checks a single entry.
func (e Entry) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return errors.New("name is required")
	}
	if strings.TrimSpace(e.Cron) == "" {
		return errors.New("cron is required")
	}
	if _, err := parser.Parse(e.Cron); err != nil {
		return fmt.Errorf("invalid cron %q: %w", e.Cron, err)
	}
	switch e.Action {
	case ActionStart, ActionStop, ActionForceStop, ActionManagedStop:
	default:
		return fmt.Errorf("unknown action %q (want start, stop, force_stop or managed_stop)", e.Action)
	}
	return nil
}

// Validate checks every entry and rejects duplicate names.
func Validate(entries []Entry) error {
	var errs []error
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		if err := e.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("schedule[%d]: %w", i, err))
			continue
		}
		if seen[e.Name] {
			errs = append(errs, fmt.Errorf("schedule[%d]: duplicate name %q", i, e.Name))
		}
		seen[e.Name] = true
	}
	return errors.Join(errs...)
}

// Operations is the lifecycle surface a Scheduler drives.
type Operations interface {
	Start() error
	Stop() error
	ForceStop() error
	ManagedStop() error
}

// Scheduler fires lifecycle actions on cron schedules. A tick is skipped
// while the previous run of the same entry is still in its operation call.
type Scheduler struct {
	cron    *robfig.Cron
	ops     Operations
	logger  *slog.Logger
	entries []Entry
	ids     []robfig.EntryID
}

// Info describes an armed entry.
type Info struct {
	Entry `yaml:",inline"`
	Next  time.Time `json:"next" yaml:"next"`
}

// New arms entries against ops. Nothing fires until Start.
func New(ops Operations, entries []Entry, logger *slog.Logger) (*Scheduler, error) {
	if err := Validate(entries); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")
	cl := cronLogger{logger}
	s := &Scheduler{
		cron: robfig.New(
			robfig.WithParser(parser),
			robfig.WithLogger(cl),
			robfig.WithChain(robfig.Recover(cl), robfig.SkipIfStillRunning(cl)),
		),
		ops:    ops,
		logger: logger,
	}
	for _, e := range entries {
		id, err := s.cron.AddFunc(e.Cron, func() { _ = s.fire(e) })
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", e.Name, err)
		}
		s.entries = append(s.entries, e)
		s.ids = append(s.ids, id)
	}
	return s, nil
}

// Start begins firing entries in the background.
func (s *Scheduler) Start() {
	for _, in := range s.Entries() {
		s.logger.Info("schedule armed", "name", in.Name, "action", in.Action, "next", in.Next)
	}
	s.cron.Start()
}

// Stop halts the schedule. The returned context is done once running
// actions have returned.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Entries lists the armed entries with their next activation after now.
func (s *Scheduler) Entries() []Info {
	now := time.Now()
	out := make([]Info, 0, len(s.entries))
	for i, e := range s.entries {
		out = append(out, Info{Entry: e, Next: s.cron.Entry(s.ids[i]).Schedule.Next(now)})
	}
	return out
}

// fire runs one entry. Rejections caused by the current lifecycle state are
// expected on a schedule and logged at info.
func (s *Scheduler) fire(e Entry) error {
	err := s.do(e.Action)
	switch {
	case err == nil:
		metrics.IncScheduleRun(e.Name, metrics.ResultOK)
		s.logger.Info("scheduled action fired", "name", e.Name, "action", e.Action)
	case manager.IsConflict(err) || errors.Is(err, manager.ErrClosed):
		metrics.IncScheduleRun(e.Name, metrics.ResultRejected)
		s.logger.Info("scheduled action skipped", "name", e.Name, "action", e.Action, "reason", err)
	default:
		metrics.IncScheduleRun(e.Name, metrics.ResultFailed)
		s.logger.Error("scheduled action failed", "name", e.Name, "action", e.Action, "error", err)
	}
	return err
}

func (s *Scheduler) do(a Action) error {
	switch a {
	case ActionStart:
		return s.ops.Start()
	case ActionStop:
		return s.ops.Stop()
	case ActionForceStop:
		return s.ops.ForceStop()
	case ActionManagedStop:
		return s.ops.ManagedStop()
	}
	return fmt.Errorf("unknown action %q", a)
}

// cronLogger routes robfig/cron logging into slog.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
