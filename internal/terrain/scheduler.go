package terrain

import (
	"context"
	"errors"
	"log"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/alitto/pond/v2"
)

// ErrSchedulerStopped is returned by Call after Stop.
var ErrSchedulerStopped = errors.New("scheduler stopped")

// SchedulerConfig sizes the worker pool and the owner commit queue.
type SchedulerConfig struct {
	Workers   int
	QueueSize int
	Debug     bool
}

// DefaultSchedulerConfig uses one worker per CPU.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Workers:   runtime.NumCPU(),
		QueueSize: 256,
	}
}

// CommitHook observes commits on the owner context.
type CommitHook func(CommitEvent)

// Scheduler runs mesh builds on a worker pool and marshals their commits
// back onto a single owner context. Jobs queued for the owner run only from
// Pump, Flush or Run, so everything they touch is owned by that goroutine.
type Scheduler struct {
	pool    pond.Pool
	jobs    chan func()
	quit    chan struct{}
	stopped atomic.Bool
	once    sync.Once

	// stopMu orders submissions before Stop so the pool never sees a task
	// after it has been stopped.
	stopMu sync.RWMutex

	// inflight counts submitted builds whose commit has not run yet.
	inflight atomic.Int64

	hooksMu sync.RWMutex
	hooks   []CommitHook

	debug bool
}

// NewScheduler starts the worker pool.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultSchedulerConfig().QueueSize
	}

	return &Scheduler{
		pool:  pond.NewPool(cfg.Workers),
		jobs:  make(chan func(), cfg.QueueSize),
		quit:  make(chan struct{}),
		debug: cfg.Debug,
	}
}

// OnCommit registers a hook called on the owner context after every commit.
func (s *Scheduler) OnCommit(hook CommitHook) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, hook)
}

func (s *Scheduler) notify(event CommitEvent) {
	s.hooksMu.RLock()
	hooks := append([]CommitHook(nil), s.hooks...)
	s.hooksMu.RUnlock()

	for _, hook := range hooks {
		hook(event)
	}
}

// submit runs work on the pool. The function work returns is queued for the
// owner context. It returns false once the scheduler is stopped.
func (s *Scheduler) submit(work func() func()) bool {
	s.stopMu.RLock()
	defer s.stopMu.RUnlock()
	if s.stopped.Load() {
		return false
	}

	s.inflight.Add(1)
	s.pool.Submit(func() {
		commit := work()
		job := func() {
			defer s.inflight.Add(-1)
			commit()
		}
		select {
		case s.jobs <- job:
		case <-s.quit:
			s.inflight.Add(-1)
			if s.debug {
				log.Printf("[Scheduler] Stopped, discarding commit")
			}
		}
	})
	return true
}

// Pending returns the number of builds that have not been committed yet.
func (s *Scheduler) Pending() int {
	return int(s.inflight.Load())
}

// Pump runs every job already queued for the owner without blocking and
// returns how many ran. Call it from the owner's frame or tick.
func (s *Scheduler) Pump() int {
	n := 0
	for {
		select {
		case job := <-s.jobs:
			job()
			n++
		default:
			return n
		}
	}
}

// Flush runs owner jobs until no build is in flight and the queue is empty.
func (s *Scheduler) Flush(ctx context.Context) error {
	for {
		s.Pump()
		if s.inflight.Load() == 0 && len(s.jobs) == 0 {
			return nil
		}

		select {
		case job := <-s.jobs:
			job()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Run makes the calling goroutine the owner context until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		select {
		case job := <-s.jobs:
			job()
		case <-ctx.Done():
			return ctx.Err()
		case <-s.quit:
			return ErrSchedulerStopped
		}
	}
}

// Call runs fn on the owner context and waits for it to finish. It must not
// be called from the owner context itself.
func (s *Scheduler) Call(ctx context.Context, fn func()) error {
	if s.stopped.Load() {
		return ErrSchedulerStopped
	}

	done := make(chan struct{})
	job := func() {
		defer close(done)
		fn()
	}

	select {
	case s.jobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.quit:
		return ErrSchedulerStopped
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.quit:
		return ErrSchedulerStopped
	}
}

// Stop refuses new work, lets running builds finish and discards their
// commits.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		s.stopMu.Lock()
		s.stopped.Store(true)
		s.stopMu.Unlock()
		close(s.quit)
		s.pool.StopAndWait()
		log.Printf("[Scheduler] Stopped with %d uncommitted builds", s.inflight.Load())
	})
}
