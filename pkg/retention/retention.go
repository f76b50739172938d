// Package retention prunes expired runs and their artifact trees, and
// reaps artifact directories no run row claims anymore.
package retention

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qaops/testoor/pkg/artifacts"
	"github.com/qaops/testoor/pkg/store"
)

const (
	// DefaultSweepInterval is how often the sweep runs.
	DefaultSweepInterval = time.Hour

	// DefaultInitialDelay postpones the first sweep past startup.
	DefaultInitialDelay = 60 * time.Second
)

// Config for the retention worker.
type Config struct {
	RetentionDays int
	SweepInterval time.Duration
	InitialDelay  time.Duration
}

// Retention is the background sweep loop.
type Retention interface {
	Start(ctx context.Context) error
	Stop() error

	// Sweep runs one retention pass; exposed for tests.
	Sweep(ctx context.Context)
}

// Compile-time interface check.
var _ Retention = (*retention)(nil)

type retention struct {
	log       logrus.FieldLogger
	cfg       *Config
	store     store.Store
	artifacts *artifacts.Manager
	done      chan struct{}
	wg        sync.WaitGroup
}

// New creates a retention worker.
func New(
	log logrus.FieldLogger,
	cfg *Config,
	s store.Store,
	am *artifacts.Manager,
) Retention {
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}

	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = DefaultInitialDelay
	}

	return &retention{
		log:       log.WithField("component", "retention"),
		cfg:       cfg,
		store:     s,
		artifacts: am,
		done:      make(chan struct{}),
	}
}

// Start launches the sweep loop after the initial delay.
func (r *retention) Start(ctx context.Context) error {
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()

		select {
		case <-time.After(r.cfg.InitialDelay):
		case <-r.done:
			return
		case <-ctx.Done():
			return
		}

		r.Sweep(ctx)

		ticker := time.NewTicker(r.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.Sweep(ctx)
			case <-r.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	r.log.WithField("retention_days", r.cfg.RetentionDays).
		Info("Retention worker started")

	return nil
}

// Stop terminates the sweep loop.
func (r *retention) Stop() error {
	close(r.done)
	r.wg.Wait()

	return nil
}

// Sweep deletes runs older than the retention window together with their
// artifact trees, then reaps orphaned artifact directories. Filesystem
// errors are logged; the database deletion still proceeds.
func (r *retention) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().
		AddDate(0, 0, -r.cfg.RetentionDays)

	ids, err := r.store.ListRunIDsOlderThan(ctx, cutoff)
	if err != nil {
		r.log.WithError(err).Error("Failed to list expired runs")

		return
	}

	for _, id := range ids {
		if err := r.artifacts.RemoveRunDir(id); err != nil {
			r.log.WithError(err).
				WithField("run_id", id).
				Warn("Failed to remove artifact dir")
		}

		if err := r.store.DeleteRun(ctx, id); err != nil {
			r.log.WithError(err).
				WithField("run_id", id).
				Error("Failed to delete run row")
		}
	}

	if len(ids) > 0 {
		r.log.WithField("count", len(ids)).Info("Pruned expired runs")
	}

	r.reapOrphans(ctx)
}

// reapOrphans removes UUID-named artifact directories whose run row no
// longer exists.
func (r *retention) reapOrphans(ctx context.Context) {
	orphans, err := r.artifacts.ListOrphanDirs(func(id string) bool {
		exists, err := r.store.RunExists(ctx, id)
		if err != nil {
			r.log.WithError(err).
				WithField("run_id", id).
				Warn("Failed to check run existence, keeping dir")

			return true
		}

		return exists
	})
	if err != nil {
		r.log.WithError(err).Error("Failed to list orphan dirs")

		return
	}

	for _, id := range orphans {
		if err := r.artifacts.RemoveRunDir(id); err != nil {
			r.log.WithError(err).
				WithField("run_id", id).
				Warn("Failed to remove orphan dir")
		}
	}

	if len(orphans) > 0 {
		r.log.WithField("count", len(orphans)).
			Info("Reaped orphaned artifact dirs")
	}
}
