package retention_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qaops/testoor/pkg/artifacts"
	"github.com/qaops/testoor/pkg/retention"
	"github.com/qaops/testoor/pkg/store"
)

func setupRetention(
	t *testing.T, retentionDays int,
) (store.Store, *artifacts.Manager, retention.Retention) {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := store.NewStore(log, ":memory:")
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	am := artifacts.NewManager(log, t.TempDir())

	r := retention.New(log, &retention.Config{
		RetentionDays: retentionDays,
	}, s, am)

	return s, am, r
}

func createRunWithArtifacts(
	t *testing.T, s store.Store, am *artifacts.Manager,
) *store.Run {
	t.Helper()

	run := &store.Run{
		TriggerType: store.TriggerManual,
		Environment: "SIT1",
	}
	require.NoError(t, s.CreateRun(context.Background(), run,
		[]store.RunTestSeed{{TestID: "d", TestKey: "t1"}}))

	_, err := am.EnsureTestDir(run.ID, "t1")
	require.NoError(t, err)
	require.NoError(t, am.SeedConsoleLog(run.ID, "t1", "SIT1"))

	return run
}

func TestSweep_KeepsFreshRuns(t *testing.T) {
	s, am, r := setupRetention(t, 30)
	ctx := context.Background()

	run := createRunWithArtifacts(t, s, am)

	r.Sweep(ctx)

	exists, err := s.RunExists(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	_, statErr := os.Stat(am.RunDir(run.ID))
	assert.NoError(t, statErr)
}

func TestSweep_ReapsOrphanDirs(t *testing.T) {
	s, am, r := setupRetention(t, 30)
	ctx := context.Background()

	kept := createRunWithArtifacts(t, s, am)

	// An artifact dir with no run row behind it.
	orphan := createRunWithArtifacts(t, s, am)
	require.NoError(t, s.DeleteRun(ctx, orphan.ID))

	r.Sweep(ctx)

	_, keptErr := os.Stat(am.RunDir(kept.ID))
	assert.NoError(t, keptErr)

	_, orphanErr := os.Stat(am.RunDir(orphan.ID))
	assert.True(t, os.IsNotExist(orphanErr))
}

func TestSweep_ZeroRetentionPrunesEverything(t *testing.T) {
	// Any run created before "now" ages out with a window of zero days,
	// standing in for an expired run without backdating rows.
	s, am, r := setupRetention(t, 0)
	ctx := context.Background()

	run := createRunWithArtifacts(t, s, am)

	time.Sleep(10 * time.Millisecond)

	r.Sweep(ctx)

	exists, err := s.RunExists(ctx, run.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	// Tests cascade away with the run.
	tests, err := s.ListRunTests(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, tests)

	_, statErr := os.Stat(am.RunDir(run.ID))
	assert.True(t, os.IsNotExist(statErr))
}

func TestStartStop(t *testing.T) {
	_, _, r := setupRetention(t, 30)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, r.Start(ctx))
	require.NoError(t, r.Stop())
}
