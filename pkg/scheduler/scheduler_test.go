package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/qaops/testoor/pkg/scheduler"
	"github.com/qaops/testoor/pkg/store"
)

func setupScheduler(t *testing.T) (store.Store, scheduler.Scheduler) {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := store.NewStore(log, ":memory:")
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	sched := scheduler.NewScheduler(log, &scheduler.Config{}, s)

	return s, sched
}

func seedTest(t *testing.T, s store.Store, key, folder string, tags ...string) {
	t.Helper()

	td := &store.TestDefinition{
		TestKey:    key,
		FolderPath: folder,
		SpecPath:   folder + "/" + key + ".spec.js",
		Meta: datatypes.NewJSONType(store.TestMeta{
			TestKey: key, FriendlyName: key, Tags: tags,
		}),
	}
	require.NoError(t, s.UpsertTest(context.Background(), td))
}

func createSchedule(
	t *testing.T, s store.Store, cronExpr string, sel store.Selector,
) *store.Schedule {
	t.Helper()

	sched := &store.Schedule{
		Name:        "sched-" + cronExpr,
		Cron:        cronExpr,
		Enabled:     true,
		Environment: "SIT1",
		Selector:    datatypes.NewJSONType(sel),
	}
	require.NoError(t, s.CreateSchedule(context.Background(), sched))

	return sched
}

func TestValidateCron(t *testing.T) {
	assert.NoError(t, scheduler.ValidateCron("0 2 * * *"))
	assert.NoError(t, scheduler.ValidateCron("*/30 * * * * *"))

	assert.Error(t, scheduler.ValidateCron(""))
	assert.Error(t, scheduler.ValidateCron("* * *"))
	assert.Error(t, scheduler.ValidateCron("* * * * * * *"))
	assert.Error(t, scheduler.ValidateCron("99 * * * *"))
}

func TestTick_FiresDueSchedule(t *testing.T) {
	s, sched := setupScheduler(t)
	ctx := context.Background()

	seedTest(t, s, "a.one", "auth/one", "smoke")
	seedTest(t, s, "a.two", "auth/two", "smoke")
	seedTest(t, s, "c.one", "cart/one", "cart")

	created := createSchedule(t, s, "* * * * *", store.Selector{
		Type: store.SelectorTags, Tags: []string{"smoke"},
	})

	sched.Tick(ctx)

	runs, total, err := s.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)

	run, err := s.GetRunWithTests(ctx, runs[0].ID)
	require.NoError(t, err)

	assert.Equal(t, store.TriggerSchedule, run.TriggerType)
	require.NotNil(t, run.ScheduleID)
	assert.Equal(t, created.ID, *run.ScheduleID)
	assert.Len(t, run.Tests, 2)

	// lastTriggeredAt advances after a successful creation.
	after, err := s.GetSchedule(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, after.LastTriggeredAt)
}

func TestTick_NotDueSchedule(t *testing.T) {
	s, sched := setupScheduler(t)
	ctx := context.Background()

	created := createSchedule(t, s, "0 0 1 1 *", store.Selector{
		Type: store.SelectorExplicit, TestKeys: []string{"x"},
	})

	// Anchor the reference point at now; a yearly cron cannot be due.
	require.NoError(t, s.SetScheduleLastTriggered(
		ctx, created.ID, time.Now().UTC(),
	))

	sched.Tick(ctx)

	_, total, err := s.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestTick_OverlapSuppression(t *testing.T) {
	s, sched := setupScheduler(t)
	ctx := context.Background()

	seedTest(t, s, "a.one", "auth/one")

	created := createSchedule(t, s, "* * * * *", store.Selector{
		Type: store.SelectorFolder, FolderPrefix: "auth",
	})

	sched.Tick(ctx)

	_, total, err := s.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)

	// Backdate the reference point so the schedule is due again while
	// its run is still queued.
	backdated := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.SetScheduleLastTriggered(ctx, created.ID, backdated))

	sched.Tick(ctx)

	// The due firing is dropped and lastTriggeredAt stays put.
	_, total, err = s.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	after, err := s.GetSchedule(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, backdated.Unix(), after.LastTriggeredAt.Unix())

	// Once the run is terminal the next due tick fires again.
	runs, _, err := s.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	require.NoError(t, s.SetRunStatus(ctx, runs[0].ID, store.RunStatusPassed))

	sched.Tick(ctx)

	_, total, err = s.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestTick_EmptySelectorCreatesAuditRun(t *testing.T) {
	s, sched := setupScheduler(t)
	ctx := context.Background()

	created := createSchedule(t, s, "* * * * *", store.Selector{
		Type: store.SelectorTags, Tags: []string{"no-such-tag"},
	})

	sched.Tick(ctx)

	runs, total, err := s.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)

	run, err := s.GetRunWithTests(ctx, runs[0].ID)
	require.NoError(t, err)
	assert.Empty(t, run.Tests)

	after, err := s.GetSchedule(ctx, created.ID)
	require.NoError(t, err)
	assert.NotNil(t, after.LastTriggeredAt)
}

func TestTick_InvalidCronLoggedNotDisabled(t *testing.T) {
	s, sched := setupScheduler(t)
	ctx := context.Background()

	created := createSchedule(t, s, "not a cron", store.Selector{
		Type: store.SelectorTags, Tags: []string{"x"},
	})

	sched.Tick(ctx)

	// No run, and the schedule is still enabled for the operator to fix.
	_, total, err := s.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)

	after, err := s.GetSchedule(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, after.Enabled)
}

func TestTick_DisabledScheduleIgnored(t *testing.T) {
	s, sched := setupScheduler(t)
	ctx := context.Background()

	created := createSchedule(t, s, "* * * * *", store.Selector{
		Type: store.SelectorTags, Tags: []string{"x"},
	})
	created.Enabled = false
	require.NoError(t, s.UpdateSchedule(ctx, created))

	sched.Tick(ctx)

	_, total, err := s.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}
