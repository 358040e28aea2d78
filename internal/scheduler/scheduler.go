// Package scheduler runs the pipeline for every active connection on a
// cron schedule, one goroutine per connection.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nhle/mailsort/internal/model"
	"github.com/nhle/mailsort/internal/processor"
)

// ErrBusy is returned when another run holds the connection's lock.
var ErrBusy = errors.New("connection is already being processed")

// RunState is the current state of a connection's runs.
type RunState int

const (
	RunIdle RunState = iota
	RunRunning
	RunError
)

func (s RunState) String() string {
	switch s {
	case RunRunning:
		return "running"
	case RunError:
		return "error"
	default:
		return "idle"
	}
}

// Status holds the run state for a single connection.
type Status struct {
	ConnectionID string
	State        RunState
	LastRun      time.Time
	LastResult   *processor.Result
	Error        error
}

// Runner processes one connection.
type Runner interface {
	Run(ctx context.Context, connectionID string, opts processor.Options) (*processor.Result, error)
}

// ConnectionLister lists connections by status.
type ConnectionLister interface {
	ListConnectionsByStatus(ctx context.Context, status model.ConnectionStatus) ([]model.Connection, error)
}

// Scheduler sweeps active connections on a schedule.
type Scheduler struct {
	runner     Runner
	conns      ConnectionLister
	locker     Locker
	schedule   string
	runTimeout time.Duration
	options    processor.Options
	logger     *slog.Logger

	mu       sync.Mutex
	statuses map[string]*Status
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSchedule sets the cron spec; descriptors such as "@every 10m" work.
func WithSchedule(spec string) Option {
	return func(s *Scheduler) { s.schedule = spec }
}

// WithRunTimeout bounds each connection run.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.runTimeout = d }
}

// WithRunOptions sets the options of scheduled runs.
func WithRunOptions(o processor.Options) Option {
	return func(s *Scheduler) { s.options = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New creates a Scheduler. A nil locker uses an in-process one.
func New(runner Runner, conns ConnectionLister, locker Locker, opts ...Option) *Scheduler {
	if locker == nil {
		locker = NewLocalLocker()
	}
	s := &Scheduler{
		runner:     runner,
		conns:      conns,
		locker:     locker,
		schedule:   "@every 10m",
		runTimeout: 5 * time.Minute,
		logger:     slog.Default(),
		statuses:   make(map[string]*Status),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(s.schedule)
	if err != nil {
		return fmt.Errorf("parsing schedule %q: %w", s.schedule, err)
	}

	c := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(schedule, cron.FuncJob(func() { s.Tick(ctx) }))
	c.Start()
	s.logger.Info("scheduler started", "schedule", s.schedule)

	s.Tick(ctx)

	<-ctx.Done()
	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(5 * time.Second):
		s.logger.Warn("timed out waiting for runs to finish")
	}
	return nil
}

// Tick runs every active connection concurrently and waits for them. It
// returns the number of connections that were run.
func (s *Scheduler) Tick(ctx context.Context) int {
	conns, err := s.conns.ListConnectionsByStatus(ctx, model.StatusActive)
	if err != nil {
		s.logger.Error("listing connections failed", "error", err)
		return 0
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ran int
	)
	for _, conn := range conns {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := s.RunConnection(ctx, id, s.options)
			if errors.Is(err, ErrBusy) {
				s.logger.Debug("skipping busy connection", "connection_id", id)
				return
			}
			mu.Lock()
			ran++
			mu.Unlock()
		}(conn.ID)
	}
	wg.Wait()
	return ran
}

// RunConnection runs one connection under its lock and the run timeout.
func (s *Scheduler) RunConnection(
	ctx context.Context,
	connectionID string,
	opts processor.Options,
) (*processor.Result, error) {
	lock := s.locker.Lock(connectionID)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBusy
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("releasing lock failed", "connection_id", connectionID, "error", err)
		}
	}()

	s.setStatus(connectionID, RunRunning, nil, nil)

	runCtx := ctx
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	result, err := s.runner.Run(runCtx, connectionID, opts)
	if err != nil {
		s.setStatus(connectionID, RunError, result, err)
		return result, err
	}
	s.setStatus(connectionID, RunIdle, result, nil)
	return result, nil
}

// Statuses returns the last known state of every connection that ran.
func (s *Scheduler) Statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.statuses))
	for _, st := range s.statuses {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out
}

func (s *Scheduler) setStatus(id string, state RunState, result *processor.Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.statuses[id]
	if !ok {
		st = &Status{ConnectionID: id}
		s.statuses[id] = st
	}
	st.State = state
	st.Error = err
	if state != RunRunning {
		st.LastRun = time.Now()
		st.LastResult = result
	}
}
