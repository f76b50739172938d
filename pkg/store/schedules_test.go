package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/qaops/testoor/pkg/store"
)

func TestScheduleCRUD(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sched := &store.Schedule{
		Name:        "nightly-smoke",
		Cron:        "0 2 * * *",
		Enabled:     true,
		Environment: "SIT1",
		Selector: datatypes.NewJSONType(store.Selector{
			Type: store.SelectorTags,
			Tags: []string{"smoke"},
		}),
		CreatedBy: "qa@example.com",
	}
	require.NoError(t, s.CreateSchedule(ctx, sched))
	require.NotEmpty(t, sched.ID)

	got, err := s.GetSchedule(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, "nightly-smoke", got.Name)
	assert.Equal(t, store.SelectorTags, got.Selector.Data().Type)
	assert.Equal(t, []string{"smoke"}, got.Selector.Data().Tags)
	assert.Nil(t, got.LastTriggeredAt)

	got.Name = "nightly-smoke-v2"
	got.Enabled = false
	got.UpdatedBy = "lead@example.com"
	require.NoError(t, s.UpdateSchedule(ctx, got))

	got, err = s.GetSchedule(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, "nightly-smoke-v2", got.Name)
	assert.False(t, got.Enabled)
	assert.Equal(t, "lead@example.com", got.UpdatedBy)
	// Creator survives updates.
	assert.Equal(t, "qa@example.com", got.CreatedBy)

	require.NoError(t, s.DeleteSchedule(ctx, sched.ID))

	_, err = s.GetSchedule(ctx, sched.ID)
	assert.Error(t, err)
}

func TestListEnabledSchedules(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	on := &store.Schedule{Name: "on", Cron: "* * * * *", Enabled: true, Environment: "SIT1"}
	off := &store.Schedule{Name: "off", Cron: "* * * * *", Enabled: false, Environment: "SIT1"}
	require.NoError(t, s.CreateSchedule(ctx, on))
	require.NoError(t, s.CreateSchedule(ctx, off))

	enabled, err := s.ListEnabledSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "on", enabled[0].Name)

	all, err := s.ListSchedules(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSetScheduleLastTriggered(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sched := &store.Schedule{Name: "s", Cron: "* * * * *", Environment: "SIT1"}
	require.NoError(t, s.CreateSchedule(ctx, sched))

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetScheduleLastTriggered(ctx, sched.ID, at))

	got, err := s.GetSchedule(ctx, sched.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastTriggeredAt)
	assert.Equal(t, at.Unix(), got.LastTriggeredAt.Unix())
}

func TestDeleteSchedule_ClearsRunBackReference(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sched := &store.Schedule{Name: "s", Cron: "* * * * *", Environment: "SIT1"}
	require.NoError(t, s.CreateSchedule(ctx, sched))

	run := &store.Run{
		TriggerType: store.TriggerSchedule,
		Environment: "SIT1",
		ScheduleID:  &sched.ID,
	}
	require.NoError(t, s.CreateRun(ctx, run, nil))

	require.NoError(t, s.DeleteSchedule(ctx, sched.ID))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ScheduleID)
}
