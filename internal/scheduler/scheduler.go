package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "signupboard/internal/log"
)

// ErrNoSchedule is returned for an empty cron expression.
var ErrNoSchedule = errors.New("scheduler: empty schedule")

// Job is run on every tick. ctx is cancelled when the scheduler stops.
type Job func(ctx context.Context)

// Scheduler runs a single job on a standard five-field cron schedule (or a
// descriptor such as "@every 1m"). Overlapping runs are skipped and a
// panicking run is logged without stopping later ticks.
type Scheduler struct {
	c      *cron.Cron
	id     cron.EntryID
	ctx    context.Context
	cancel context.CancelFunc
}

// New parses spec and prepares job. Nothing runs until Start.
func New(spec string, loc *time.Location, name string, job Job) (*Scheduler, error) {
	if spec == "" {
		return nil, ErrNoSchedule
	}
	if loc == nil {
		loc = time.Local
	}

	logger := cronLogger{name: name}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		// Recover must sit inside SkipIfStillRunning: a panic escaping the
		// latter leaks its run token and every later tick is skipped.
		cron.WithChain(cron.SkipIfStillRunning(logger), cron.Recover(logger)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{c: c, ctx: ctx, cancel: cancel}

	id, err := c.AddFunc(spec, func() {
		appLog.Debug("scheduled job starting", "job", name)
		job(s.ctx)
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("scheduler: parse %q: %w", spec, err)
	}
	s.id = id
	return s, nil
}

// Start begins ticking in the background.
func (s *Scheduler) Start() {
	s.c.Start()
}

// Next is the time of the upcoming run, zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.c.Entry(s.id).Next
}

// Stop halts future ticks, cancels the context handed to a running job and
// waits for it to return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.c.Stop()
	s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger routes cron's own logging into the application log.
type cronLogger struct {
	name string
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	appLog.Debug("cron: "+msg, append([]any{"job", l.name}, keysAndValues...)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	appLog.Error("cron: "+msg, err, append([]any{"job", l.name}, keysAndValues...)...)
}
