// Package scheduler materializes cron-driven schedules into runs.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/qaops/testoor/pkg/store"
)

// DefaultTickInterval is how often schedules are evaluated.
const DefaultTickInterval = 30 * time.Second

// cronParser accepts standard 5-field expressions plus the extended
// 6-field (seconds) form. All expressions are evaluated in UTC.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour |
		cron.Dom | cron.Month | cron.Dow,
)

// ValidateCron checks that expr is a parseable 5- or 6-field expression.
func ValidateCron(expr string) error {
	fields := strings.Fields(expr)
	if len(fields) < 5 || len(fields) > 6 {
		return fmt.Errorf(
			"cron expression must have 5 or 6 fields, got %d", len(fields),
		)
	}

	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	return nil
}

// Scheduler is the background loop that fires due schedules.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop() error

	// Tick evaluates all enabled schedules once; exposed for tests.
	Tick(ctx context.Context)
}

// Config for the scheduler.
type Config struct {
	TickInterval time.Duration
}

// Compile-time interface check.
var _ Scheduler = (*scheduler)(nil)

type scheduler struct {
	log   logrus.FieldLogger
	cfg   *Config
	store store.Store
	now   func() time.Time
	done  chan struct{}
	wg    sync.WaitGroup
}

// NewScheduler creates a new scheduler.
func NewScheduler(
	log logrus.FieldLogger,
	cfg *Config,
	s store.Store,
) Scheduler {
	if cfg.TickInterval == 0 {
		cfg.TickInterval = DefaultTickInterval
	}

	return &scheduler{
		log:   log.WithField("component", "scheduler"),
		cfg:   cfg,
		store: s,
		now:   func() time.Time { return time.Now().UTC() },
		done:  make(chan struct{}),
	}
}

// Start launches the tick loop.
func (s *scheduler) Start(ctx context.Context) error {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Tick(ctx)
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	s.log.WithField("interval", s.cfg.TickInterval).
		Info("Scheduler started")

	return nil
}

// Stop terminates the tick loop.
func (s *scheduler) Stop() error {
	close(s.done)
	s.wg.Wait()

	return nil
}

// Tick fires every enabled, due schedule. Schedule-level defects are
// logged and never stop the pass.
func (s *scheduler) Tick(ctx context.Context) {
	schedules, err := s.store.ListEnabledSchedules(ctx)
	if err != nil {
		s.log.WithError(err).Error("Failed to list enabled schedules")

		return
	}

	now := s.now()

	for i := range schedules {
		if err := s.evaluate(ctx, &schedules[i], now); err != nil {
			s.log.WithError(err).
				WithField("schedule", schedules[i].Name).
				Error("Schedule evaluation failed")
		}
	}
}

// evaluate fires one schedule when it is due and no earlier run of the
// same schedule is still active.
func (s *scheduler) evaluate(
	ctx context.Context, sched *store.Schedule, now time.Time,
) error {
	spec, err := cronParser.Parse(sched.Cron)
	if err != nil {
		// The operator must fix the expression; the schedule stays
		// enabled so the error keeps surfacing.
		return fmt.Errorf("parsing cron %q: %w", sched.Cron, err)
	}

	ref := time.Unix(0, 0).UTC()
	if sched.LastTriggeredAt != nil {
		ref = sched.LastTriggeredAt.UTC()
	}

	if spec.Next(ref).After(now) {
		return nil
	}

	active, err := s.store.HasActiveRunForSchedule(ctx, sched.ID)
	if err != nil {
		return fmt.Errorf("checking overlap: %w", err)
	}

	if active {
		// Overlap suppression: drop this firing without advancing
		// lastTriggeredAt so the schedule fires again once clear.
		s.log.WithField("schedule", sched.Name).
			Debug("Prior run still active, suppressing firing")

		return nil
	}

	tests, err := s.store.ResolveSelector(ctx, sched.Selector.Data())
	if err != nil {
		return fmt.Errorf("resolving selector: %w", err)
	}

	seeds := make([]store.RunTestSeed, 0, len(tests))
	for _, td := range tests {
		seeds = append(seeds, store.RunTestSeed{
			TestID:  td.ID,
			TestKey: td.TestKey,
		})
	}

	run := &store.Run{
		TriggerType:  store.TriggerSchedule,
		Environment:  sched.Environment,
		ScheduleID:   &sched.ID,
		RunOverrides: sched.DefaultRunOverrides,
		Metadata: datatypes.JSONMap{
			"scheduleName": sched.Name,
			"selectorType": sched.Selector.Data().Type,
			"matchedTests": len(seeds),
		},
	}

	if err := s.store.CreateRun(ctx, run, seeds); err != nil {
		return fmt.Errorf("creating scheduled run: %w", err)
	}

	if err := s.store.SetScheduleLastTriggered(ctx, sched.ID, now); err != nil {
		return fmt.Errorf("stamping last triggered: %w", err)
	}

	s.log.WithField("schedule", sched.Name).
		WithField("run_id", run.ID).
		WithField("tests", len(seeds)).
		Info("Schedule fired")

	return nil
}
