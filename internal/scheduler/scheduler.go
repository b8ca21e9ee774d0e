// Package scheduler runs one timer per owner. Each timer sleeps until its
// run time, executes the owner's task, and re-arms itself with the time the
// task returns.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hray3182/followup/internal/metrics"
)

var (
	ErrAlreadyScheduled = errors.New("owner already scheduled")
	ErrNotStarted       = errors.New("runner not started")
	ErrAlreadyStarted   = errors.New("runner already started")
)

// TaskFunc executes one cycle for an owner and returns when it should run
// next. A nil time means there is nothing left to do.
type TaskFunc func(ctx context.Context, ownerID string) (*time.Time, error)

type task struct {
	ownerID string
	ctx     context.Context
	cancel  context.CancelFunc
	wake    chan struct{}
	done    chan struct{}
	prev    *task

	runAt   time.Time
	running bool
	pending *time.Time
}

type Runner struct {
	fn      TaskFunc
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	ctx     context.Context
	stop    context.CancelFunc
	tasks   map[string]*task
	retired map[string]*task
	wg      sync.WaitGroup
}

func NewRunner(fn TaskFunc, log zerolog.Logger, m *metrics.Metrics) *Runner {
	return &Runner{
		fn:      fn,
		log:     log.With().Str("component", "runner").Logger(),
		metrics: m,
		tasks:   make(map[string]*task),
		retired: make(map[string]*task),
	}
}

func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx != nil {
		return ErrAlreadyStarted
	}
	r.ctx, r.stop = context.WithCancel(ctx)
	r.log.Info().Msg("runner started")
	return nil
}

// Stop cancels every timer and waits for in-flight tasks to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.ctx == nil {
		r.mu.Unlock()
		return
	}
	r.stop()
	r.ctx, r.stop = nil, nil
	r.tasks = make(map[string]*task)
	r.metrics.SetArmed(0)
	r.mu.Unlock()

	r.wg.Wait()
	r.log.Info().Msg("runner stopped")
}

// Schedule arms a timer for ownerID at runAt. It fails if one is already
// armed; callers must Cancel first.
func (r *Runner) Schedule(ownerID string, runAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx == nil {
		return ErrNotStarted
	}
	if _, ok := r.tasks[ownerID]; ok {
		return ErrAlreadyScheduled
	}
	r.spawnLocked(ownerID, runAt)
	return nil
}

// Ensure arms ownerID at runAt, or moves an armed timer earlier. If the task
// is executing, runAt is applied when it returns.
func (r *Runner) Ensure(ownerID string, runAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx == nil {
		return ErrNotStarted
	}
	t, ok := r.tasks[ownerID]
	if !ok {
		r.spawnLocked(ownerID, runAt)
		return nil
	}
	if t.running {
		if t.pending == nil || runAt.Before(*t.pending) {
			t.pending = &runAt
		}
		return nil
	}
	if runAt.Before(t.runAt) {
		t.runAt = runAt
		select {
		case t.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// Cancel stops ownerID's timer. A task already executing finishes but is not
// re-armed. Cancelling an unknown owner is a no-op.
func (r *Runner) Cancel(ownerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[ownerID]
	if !ok {
		return
	}
	t.cancel()
	delete(r.tasks, ownerID)
	if t.running {
		r.retired[ownerID] = t
	}
	r.metrics.SetArmed(len(r.tasks))
	r.log.Debug().Str("owner_id", ownerID).Msg("timer cancelled")
}

func (r *Runner) IsRunning(ownerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[ownerID]
	return ok
}

// NextRun returns when ownerID's timer fires next.
func (r *Runner) NextRun(ownerID string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[ownerID]
	if !ok {
		return time.Time{}, false
	}
	if t.running && t.pending != nil {
		return *t.pending, true
	}
	return t.runAt, true
}

func (r *Runner) spawnLocked(ownerID string, runAt time.Time) {
	ctx, cancel := context.WithCancel(r.ctx)
	t := &task{
		ownerID: ownerID,
		ctx:     ctx,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		prev:    r.retired[ownerID],
		runAt:   runAt,
	}
	r.tasks[ownerID] = t
	r.metrics.SetArmed(len(r.tasks))

	r.wg.Add(1)
	go r.loop(t)
}

func (r *Runner) loop(t *task) {
	defer r.wg.Done()
	defer close(t.done)
	log := r.log.With().Str("owner_id", t.ownerID).Logger()

	// A cancelled predecessor may still be executing for this owner.
	if t.prev != nil {
		select {
		case <-t.prev.done:
		case <-t.ctx.Done():
			return
		}
		t.prev = nil
	}

	for {
		r.mu.Lock()
		runAt := t.runAt
		r.mu.Unlock()

		timer := time.NewTimer(time.Until(runAt))
		select {
		case <-t.ctx.Done():
			timer.Stop()
			return
		case <-t.wake:
			timer.Stop()
			continue
		case <-timer.C:
		}

		r.mu.Lock()
		if t.ctx.Err() != nil {
			r.mu.Unlock()
			return
		}
		t.running = true
		r.mu.Unlock()

		next, err := r.fn(context.WithoutCancel(t.ctx), t.ownerID)

		r.mu.Lock()
		t.running = false
		if t.ctx.Err() != nil {
			if r.retired[t.ownerID] == t {
				delete(r.retired, t.ownerID)
			}
			r.mu.Unlock()
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("task failed, dropping timer")
			r.removeLocked(t)
			r.mu.Unlock()
			return
		}
		if t.pending != nil && (next == nil || t.pending.Before(*next)) {
			next = t.pending
		}
		t.pending = nil
		if next == nil {
			log.Debug().Msg("nothing left to run, dropping timer")
			r.removeLocked(t)
			r.mu.Unlock()
			return
		}
		t.runAt = *next
		r.mu.Unlock()
		log.Debug().Time("next_run", *next).Msg("timer re-armed")
	}
}

func (r *Runner) removeLocked(t *task) {
	t.cancel()
	if r.tasks[t.ownerID] == t {
		delete(r.tasks, t.ownerID)
		r.metrics.SetArmed(len(r.tasks))
	}
}
