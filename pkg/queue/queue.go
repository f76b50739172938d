// Package queue admits queued runs to the executor. Single node only:
// serialization comes from the database and from the executor's immediate
// running transition, not from any distributed lock.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qaops/testoor/pkg/store"
)

// DefaultTickInterval is how often the queue looks for admittable runs.
const DefaultTickInterval = 5 * time.Second

// Dispatcher executes a run without blocking the caller.
type Dispatcher interface {
	Dispatch(runID string)
}

// Queue is the background admission controller.
type Queue interface {
	Start(ctx context.Context) error
	Stop() error

	// Tick runs one admission pass; exposed for tests.
	Tick(ctx context.Context)
}

// Config for the queue.
type Config struct {
	MaxConcurrentRuns int
	TickInterval      time.Duration
}

// Compile-time interface check.
var _ Queue = (*queue)(nil)

type queue struct {
	log        logrus.FieldLogger
	cfg        *Config
	store      store.Store
	dispatcher Dispatcher
	ticking    atomic.Bool
	done       chan struct{}
	wg         sync.WaitGroup
}

// NewQueue creates a new queue.
func NewQueue(
	log logrus.FieldLogger,
	cfg *Config,
	s store.Store,
	d Dispatcher,
) Queue {
	if cfg.TickInterval == 0 {
		cfg.TickInterval = DefaultTickInterval
	}

	return &queue{
		log:        log.WithField("component", "queue"),
		cfg:        cfg,
		store:      s,
		dispatcher: d,
		done:       make(chan struct{}),
	}
}

// Start launches the tick loop.
func (q *queue) Start(ctx context.Context) error {
	q.wg.Add(1)

	go func() {
		defer q.wg.Done()

		ticker := time.NewTicker(q.cfg.TickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				q.Tick(ctx)
			case <-q.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	q.log.WithField("interval", q.cfg.TickInterval).Info("Queue started")

	return nil
}

// Stop terminates the tick loop.
func (q *queue) Stop() error {
	close(q.done)
	q.wg.Wait()

	return nil
}

// Tick admits at most one run: the oldest queued one, and only while the
// running count is below the concurrency limit. The guard prevents
// overlapping passes when a tick outlasts the interval.
func (q *queue) Tick(ctx context.Context) {
	if !q.ticking.CompareAndSwap(false, true) {
		return
	}
	defer q.ticking.Store(false)

	running, err := q.store.CountRunsByStatus(ctx, store.RunStatusRunning)
	if err != nil {
		q.log.WithError(err).Error("Failed to count running runs")

		return
	}

	if running >= int64(q.cfg.MaxConcurrentRuns) {
		return
	}

	run, err := q.store.OldestQueuedRun(ctx)
	if err != nil {
		q.log.WithError(err).Error("Failed to fetch queued run")

		return
	}

	if run == nil {
		return
	}

	q.log.WithField("run_id", run.ID).Info("Admitting run")

	// Fire and forget; the executor's running transition keeps later
	// ticks from re-selecting this row.
	q.dispatcher.Dispatch(run.ID)
}
