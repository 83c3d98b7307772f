// Package schedule runs periodic tasks on cron expressions for the lifetime
// of the application. Tasks start with the ready hook and stop with close.
//
//	app.Register(schedule.Plugin())
//	app.Register(arbor.NewPlugin("reports", func(ctx context.Context, s *arbor.Scope, _ arbor.PluginOptions) error {
//	    return schedule.Add(s, "nightly-report", "0 3 * * *", buildReport)
//	}))
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dmitrymomot/arbor"
)

var (
	ErrNoScheduler   = errors.New("schedule: no scheduler registered")
	ErrInvalidSpec   = errors.New("schedule: invalid cron expression")
	ErrDuplicateTask = errors.New("schedule: duplicate task name")
	ErrUnknownTask   = errors.New("schedule: unknown task")
)

// SchedulerKey holds the *Scheduler.
var SchedulerKey = arbor.NewKey[*Scheduler]("schedule.scheduler")

// Task is a scheduled unit of work. ctx is cancelled when the application closes.
type Task func(ctx context.Context) error

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler runs named tasks on cron schedules.
type Scheduler struct {
	cron   *cron.Cron
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	tasks  map[string]Task
	mu     sync.Mutex
}

// NewScheduler creates a stopped Scheduler. Overlapping runs of the same
// task are skipped.
func NewScheduler(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{log: log}
	return &Scheduler{
		cron:   cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cl)), cron.WithLogger(cl)),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]Task),
	}
}

// Add schedules task under name.
func (s *Scheduler) Add(name, spec string, task Task) error {
	sched, err := parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidSpec, spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, name)
	}
	s.tasks[name] = task
	s.cron.Schedule(sched, cron.FuncJob(func() { _ = s.run(name, task) }))
	return nil
}

// RunNow executes the named task synchronously outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	task, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return s.run(name, task)
}

// Start begins running scheduled tasks.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the schedule, cancels running tasks and waits for them to
// return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(name string, task Task) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("schedule: task %s panicked: %v", name, r)
		}
		if err != nil {
			s.log.ErrorContext(s.ctx, "scheduled task failed",
				slog.String("task", name),
				slog.Any("error", err),
			)
			return
		}
		s.log.DebugContext(s.ctx, "scheduled task completed",
			slog.String("task", name),
			slog.Duration("duration", time.Since(start)),
		)
	}()
	return task(s.ctx)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}

// Add schedules a task with the scheduler visible from s.
func Add(s *arbor.Scope, name, spec string, task Task) error {
	sched, ok := arbor.Lookup(s.Container(), SchedulerKey)
	if !ok || sched == nil {
		return ErrNoScheduler
	}
	return sched.Add(name, spec, task)
}

// Plugin returns an opaque plugin that provides a Scheduler, starts it when
// the application is ready and stops it on close.
func Plugin() arbor.Plugin {
	return arbor.NewPlugin("schedule", func(_ context.Context, s *arbor.Scope, _ arbor.PluginOptions) error {
		sched := NewScheduler(s.App().Logger())
		arbor.Provide(s.Container(), SchedulerKey, sched)

		s.OnReady(func(context.Context) error {
			sched.Start()
			return nil
		})
		s.OnClose(sched.Stop)
		return nil
	}).Opaque()
}
