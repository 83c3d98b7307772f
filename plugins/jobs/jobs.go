// Package jobs runs background tasks on a River queue stored in PostgreSQL.
//
// The plugin needs the pool provided by the postgres plugin. Tasks are
// registered during boot, the River client starts with the ready hook and
// stops on close.
//
//	app.Register(postgres.Plugin(pgCfg))
//	app.Register(jobs.Plugin(jobs.WithMigrate(), jobs.WithQueue("email", 5)))
//	app.Register(arbor.NewPlugin("mail", func(ctx context.Context, s *arbor.Scope, _ arbor.PluginOptions) error {
//	    if err := jobs.Handle(s, "send_welcome", sendWelcome); err != nil {
//	        return err
//	    }
//	    s.POST("/signup", func(c *arbor.Context) (any, error) {
//	        return nil, jobs.Enqueue(c, "send_welcome", WelcomePayload{Email: "a@b.c"}, jobs.InQueue("email"))
//	    })
//	    return nil
//	}))
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/robfig/cron/v3"

	"github.com/dmitrymomot/arbor"
	"github.com/dmitrymomot/arbor/plugins/postgres"
)

var (
	ErrNoManager      = errors.New("jobs: no manager registered")
	ErrPoolRequired   = errors.New("jobs: postgres pool is required")
	ErrUnknownTask    = errors.New("jobs: unknown task")
	ErrDuplicateTask  = errors.New("jobs: duplicate task name")
	ErrInvalidPayload = errors.New("jobs: invalid payload")
	ErrInvalidSpec    = errors.New("jobs: invalid cron expression")
	ErrAlreadyStarted = errors.New("jobs: already started")
	ErrNotStarted     = errors.New("jobs: not started")
)

// ManagerKey holds the *Manager.
var ManagerKey = arbor.NewKey[*Manager]("jobs.manager")

const defaultMaxWorkers = 100

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Handler processes one job with a decoded payload.
type Handler[P any] func(ctx context.Context, payload P) error

type executor func(ctx context.Context, raw json.RawMessage) error

// taskArgs is the single River job kind. Tasks are dispatched by name.
type taskArgs struct {
	Task    string          `json:"task"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (taskArgs) Kind() string { return "arbor:task" }

type worker struct {
	river.WorkerDefaults[taskArgs]
	m *Manager
}

func (w *worker) Work(ctx context.Context, job *river.Job[taskArgs]) error {
	err := w.m.Dispatch(ctx, job.Args.Task, job.Args.Payload)
	if errors.Is(err, ErrUnknownTask) || errors.Is(err, ErrInvalidPayload) {
		return river.JobCancel(err)
	}
	return err
}

// Config configures the job manager.
type Config struct {
	Queues     map[string]int `mapstructure:"queues"`
	MaxWorkers int            `mapstructure:"max_workers"`

	// Migrate applies River's schema migrations before starting.
	Migrate bool `mapstructure:"migrate"`
}

// Option configures Config.
type Option func(*Config)

// WithQueue adds a named queue processed by workers goroutines.
func WithQueue(name string, workers int) Option {
	return func(cfg *Config) {
		if workers <= 0 {
			return
		}
		if cfg.Queues == nil {
			cfg.Queues = make(map[string]int)
		}
		cfg.Queues[name] = workers
	}
}

// WithMaxWorkers sets the worker count of the default queue.
func WithMaxWorkers(n int) Option {
	return func(cfg *Config) {
		cfg.MaxWorkers = n
	}
}

// WithMigrate applies River's migrations when the manager starts.
func WithMigrate() Option {
	return func(cfg *Config) {
		cfg.Migrate = true
	}
}

// Manager registers tasks and owns the River client once started.
type Manager struct {
	log      *slog.Logger
	client   *river.Client[pgx.Tx]
	cancel   context.CancelFunc
	tasks    map[string]executor
	periodic []*river.PeriodicJob
	cfg      Config
	mu       sync.RWMutex
}

// NewManager creates a stopped Manager.
func NewManager(cfg Config, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = defaultMaxWorkers
	}
	return &Manager{
		log:   log,
		tasks: make(map[string]executor),
		cfg:   cfg,
	}
}

func (m *Manager) add(name string, exec executor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		return ErrAlreadyStarted
	}
	if _, ok := m.tasks[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, name)
	}
	m.tasks[name] = exec
	return nil
}

// Register adds a task decoding its payload as P.
func Register[P any](m *Manager, name string, h Handler[P]) error {
	return m.add(name, func(ctx context.Context, raw json.RawMessage) error {
		var payload P
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &payload); err != nil {
				return errors.Join(ErrInvalidPayload, err)
			}
		}
		return h(ctx, payload)
	})
}

// Periodic adds a task enqueued on a cron schedule.
func (m *Manager) Periodic(name, spec string, fn func(ctx context.Context) error) error {
	sched, err := parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidSpec, spec, err)
	}
	if err := m.add(name, func(ctx context.Context, _ json.RawMessage) error { return fn(ctx) }); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.periodic = append(m.periodic, river.NewPeriodicJob(
		sched,
		func() (river.JobArgs, *river.InsertOpts) {
			return taskArgs{Task: name}, nil
		},
		&river.PeriodicJobOpts{RunOnStart: false},
	))
	return nil
}

// Tasks returns the registered task names, sorted.
func (m *Manager) Tasks() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.tasks))
}

// Dispatch runs the task registered under name with a raw JSON payload.
func (m *Manager) Dispatch(ctx context.Context, name string, raw json.RawMessage) error {
	m.mu.RLock()
	exec, ok := m.tasks[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}

	start := time.Now()
	if err := exec(ctx, raw); err != nil {
		m.log.ErrorContext(ctx, "job failed",
			slog.String("task", name),
			slog.Any("error", err),
		)
		return err
	}
	m.log.DebugContext(ctx, "job completed",
		slog.String("task", name),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// Start migrates when configured, then starts working jobs from pool.
// Workers outlive ctx and stop with Stop.
func (m *Manager) Start(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return ErrPoolRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		return ErrAlreadyStarted
	}

	driver := riverpgxv5.New(pool)
	if m.cfg.Migrate {
		migrator, err := rivermigrate.New(driver, &rivermigrate.Config{Logger: m.log})
		if err != nil {
			return fmt.Errorf("jobs: create migrator: %w", err)
		}
		if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
			return fmt.Errorf("jobs: migrate: %w", err)
		}
	}

	queues := map[string]river.QueueConfig{
		river.QueueDefault: {MaxWorkers: m.cfg.MaxWorkers},
	}
	for name, n := range m.cfg.Queues {
		queues[name] = river.QueueConfig{MaxWorkers: n}
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &worker{m: m})

	client, err := river.NewClient(driver, &river.Config{
		Queues:       queues,
		Workers:      workers,
		PeriodicJobs: m.periodic,
		Logger:       m.log,
	})
	if err != nil {
		return fmt.Errorf("jobs: create client: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := client.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("jobs: start client: %w", err)
	}
	m.client = client
	m.cancel = cancel

	m.log.InfoContext(ctx, "job manager started", slog.Int("tasks", len(m.tasks)))
	return nil
}

// Stop waits for running jobs to finish or for ctx to expire. Stopping a
// manager that never started is a no-op.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	client, cancel := m.client, m.cancel
	m.mu.Unlock()
	if client == nil {
		return nil
	}
	defer cancel()

	if err := client.Stop(ctx); err != nil {
		return fmt.Errorf("jobs: stop client: %w", err)
	}
	return nil
}

func (m *Manager) prepare(name string, payload any, opts []EnqueueOption) (*river.Client[pgx.Tx], taskArgs, *river.InsertOpts, error) {
	m.mu.RLock()
	_, ok := m.tasks[name]
	client := m.client
	m.mu.RUnlock()
	if !ok {
		return nil, taskArgs{}, nil, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	if client == nil {
		return nil, taskArgs{}, nil, ErrNotStarted
	}

	args, insert, err := buildArgs(name, payload, opts)
	return client, args, insert, err
}

// Enqueue inserts a job for the task registered under name.
func (m *Manager) Enqueue(ctx context.Context, name string, payload any, opts ...EnqueueOption) error {
	client, args, insert, err := m.prepare(name, payload, opts)
	if err != nil {
		return err
	}
	if _, err := client.Insert(ctx, args, insert); err != nil {
		return fmt.Errorf("jobs: enqueue %s: %w", name, err)
	}
	return nil
}

// EnqueueTx inserts a job within tx. The job becomes visible when tx commits.
func (m *Manager) EnqueueTx(ctx context.Context, tx pgx.Tx, name string, payload any, opts ...EnqueueOption) error {
	client, args, insert, err := m.prepare(name, payload, opts)
	if err != nil {
		return err
	}
	if _, err := client.InsertTx(ctx, tx, args, insert); err != nil {
		return fmt.Errorf("jobs: enqueue %s: %w", name, err)
	}
	return nil
}

// Plugin returns an opaque plugin that provides a Manager, starts it on the
// pool provided by the postgres plugin once the application is ready and
// stops it on close.
func Plugin(opts ...Option) arbor.Plugin {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}

	return arbor.NewPlugin("jobs", func(_ context.Context, s *arbor.Scope, _ arbor.PluginOptions) error {
		m := NewManager(cfg, s.App().Logger())
		arbor.Provide(s.Container(), ManagerKey, m)

		s.OnReady(func(ctx context.Context) error {
			pool, ok := arbor.Lookup(s.Container(), postgres.PoolKey)
			if !ok {
				return ErrPoolRequired
			}
			return m.Start(ctx, pool)
		})
		s.OnClose(m.Stop)
		return nil
	}).Opaque()
}

func manager(s *arbor.Scope) (*Manager, error) {
	m, ok := arbor.Lookup(s.Container(), ManagerKey)
	if !ok || m == nil {
		return nil, ErrNoManager
	}
	return m, nil
}

// Handle registers a task with the manager visible from s.
func Handle[P any](s *arbor.Scope, name string, h Handler[P]) error {
	m, err := manager(s)
	if err != nil {
		return err
	}
	return Register(m, name, h)
}

// Schedule registers a periodic task with the manager visible from s.
func Schedule(s *arbor.Scope, name, spec string, fn func(ctx context.Context) error) error {
	m, err := manager(s)
	if err != nil {
		return err
	}
	return m.Periodic(name, spec, fn)
}

// Enqueue inserts a job using the manager visible from the request's scope.
func Enqueue(c *arbor.Context, name string, payload any, opts ...EnqueueOption) error {
	m, err := arbor.Resolve(c, ManagerKey)
	if err != nil {
		return errors.Join(ErrNoManager, err)
	}
	return m.Enqueue(c, name, payload, opts...)
}
