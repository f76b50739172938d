package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CreateRun inserts the run with status queued plus one pending RunTest row
// per seed, all in one transaction. An empty seed list is permitted and
// yields an audit-only run.
func (s *store) CreateRun(
	ctx context.Context, run *Run, tests []RunTestSeed,
) error {
	now := time.Now().UTC()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	run.Status = RunStatusQueued
	run.CreatedAt = now
	run.Summary = datatypes.NewJSONType(&RunSummary{
		TotalTests: len(tests),
	})

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Tests").Create(run).Error; err != nil {
			return fmt.Errorf("inserting run: %w", err)
		}

		for _, seed := range tests {
			rt := RunTest{
				ID:        uuid.NewString(),
				RunID:     run.ID,
				TestID:    seed.TestID,
				TestKey:   seed.TestKey,
				Status:    TestStatusPending,
				CreatedAt: now,
			}

			if err := tx.Create(&rt).Error; err != nil {
				return fmt.Errorf(
					"inserting run test %q: %w", seed.TestKey, err,
				)
			}
		}

		return nil
	})
}

// GetRun returns the run row without its tests.
func (s *store) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	if err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&run).Error; err != nil {
		return nil, fmt.Errorf("getting run: %w", err)
	}

	return &run, nil
}

// GetRunWithTests returns the run with its tests ordered by testKey.
func (s *store) GetRunWithTests(
	ctx context.Context, id string,
) (*Run, error) {
	var run Run
	if err := s.db.WithContext(ctx).
		Preload("Tests", func(db *gorm.DB) *gorm.DB {
			return db.Order("test_key ASC")
		}).
		Where("id = ?", id).
		First(&run).Error; err != nil {
		return nil, fmt.Errorf("getting run with tests: %w", err)
	}

	return &run, nil
}

// ListRuns returns runs matching the filter, newest first, plus the total
// row count before paging.
func (s *store) ListRuns(
	ctx context.Context, f RunFilter,
) ([]Run, int64, error) {
	q := s.db.WithContext(ctx).Model(&Run{})

	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	if f.Environment != "" {
		q = q.Where("environment = ?", f.Environment)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting runs: %w", err)
	}

	if f.PageSize > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}

		q = q.Offset((page - 1) * f.PageSize).Limit(f.PageSize)
	}

	var runs []Run
	if err := q.Order("created_at DESC").Find(&runs).Error; err != nil {
		return nil, 0, fmt.Errorf("listing runs: %w", err)
	}

	return runs, total, nil
}

// SetRunStatus transitions the run, stamping startedAt on the first
// running transition and finishedAt on any terminal transition.
func (s *store) SetRunStatus(ctx context.Context, id, status string) error {
	now := time.Now().UTC()

	updates := map[string]any{"status": status}

	switch status {
	case RunStatusRunning:
		updates["started_at"] = gorm.Expr("COALESCE(started_at, ?)", now)
	case RunStatusPassed, RunStatusFailed, RunStatusCancelled:
		updates["finished_at"] = gorm.Expr("COALESCE(finished_at, ?)", now)
	}

	result := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("setting run status: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}

// SetRunSummary persists the run's result summary.
func (s *store) SetRunSummary(
	ctx context.Context, id string, summary *RunSummary,
) error {
	if err := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("id = ?", id).
		Update("summary", datatypes.NewJSONType(summary)).Error; err != nil {
		return fmt.Errorf("setting run summary: %w", err)
	}

	return nil
}

// CancelRun flips a queued or running run to cancelled. Returns false with
// no error when the run is already terminal, making repeated calls no-ops.
func (s *store) CancelRun(ctx context.Context, id string) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("id = ? AND status IN ?", id,
			[]string{RunStatusQueued, RunStatusRunning}).
		Updates(map[string]any{
			"status":      RunStatusCancelled,
			"finished_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("cancelling run: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}

// CountRunsByStatus counts runs with the given status.
func (s *store) CountRunsByStatus(
	ctx context.Context, status string,
) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("status = ?", status).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting runs by status: %w", err)
	}

	return count, nil
}

// OldestQueuedRun returns the single oldest queued run, or nil when the
// queue is empty.
func (s *store) OldestQueuedRun(ctx context.Context) (*Run, error) {
	var run Run

	err := s.db.WithContext(ctx).
		Where("status = ?", RunStatusQueued).
		Order("created_at ASC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("getting oldest queued run: %w", err)
	}

	return &run, nil
}

// HasActiveRunForSchedule reports whether any run referencing the schedule
// is still queued or running.
func (s *store) HasActiveRunForSchedule(
	ctx context.Context, scheduleID string,
) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("schedule_id = ? AND status IN ?", scheduleID,
			[]string{RunStatusQueued, RunStatusRunning}).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking schedule runs: %w", err)
	}

	return count > 0, nil
}

// RunExists reports whether a run row with the given ID exists.
func (s *store) RunExists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("id = ?", id).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking run existence: %w", err)
	}

	return count > 0, nil
}

// ListRunIDsOlderThan returns IDs of runs created before the cutoff.
func (s *store) ListRunIDsOlderThan(
	ctx context.Context, cutoff time.Time,
) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("created_at < ?", cutoff).
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("listing expired runs: %w", err)
	}

	return ids, nil
}

// DeleteRun removes the run row; the FK cascade removes its tests.
func (s *store) DeleteRun(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).
		Delete(&Run{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("deleting run: %w", err)
	}

	return nil
}

// ListRunTests returns the run's tests ordered by testKey, the execution
// order the executor honors.
func (s *store) ListRunTests(
	ctx context.Context, runID string,
) ([]RunTest, error) {
	var tests []RunTest
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("test_key ASC").
		Find(&tests).Error; err != nil {
		return nil, fmt.Errorf("listing run tests: %w", err)
	}

	return tests, nil
}

// GetRunTest returns the per-test row for (runID, testKey).
func (s *store) GetRunTest(
	ctx context.Context, runID, testKey string,
) (*RunTest, error) {
	var rt RunTest
	if err := s.db.WithContext(ctx).
		Where("run_id = ? AND test_key = ?", runID, testKey).
		First(&rt).Error; err != nil {
		return nil, fmt.Errorf("getting run test: %w", err)
	}

	return &rt, nil
}

// SetRunTestRunning transitions the row to running and stamps startedAt.
func (s *store) SetRunTestRunning(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).
		Model(&RunTest{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     TestStatusRunning,
			"started_at": time.Now().UTC(),
		}).Error; err != nil {
		return fmt.Errorf("setting run test running: %w", err)
	}

	return nil
}

// FinishRunTest records the terminal state of one test execution.
func (s *store) FinishRunTest(
	ctx context.Context,
	id, status string,
	durationMs *int64,
	errorMessage string,
	artifacts *TestArtifacts,
) error {
	updates := map[string]any{
		"status":        status,
		"error_message": errorMessage,
		"finished_at":   time.Now().UTC(),
	}

	if durationMs != nil {
		updates["duration_ms"] = *durationMs
	}

	if artifacts != nil {
		updates["artifacts"] = datatypes.NewJSONType(artifacts)
	}

	if err := s.db.WithContext(ctx).
		Model(&RunTest{}).
		Where("id = ?", id).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("finishing run test: %w", err)
	}

	return nil
}

// SkipPendingTests bulk-promotes the run's remaining pending rows to
// skipped.
func (s *store) SkipPendingTests(
	ctx context.Context, runID string,
) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&RunTest{}).
		Where("run_id = ? AND status = ?", runID, TestStatusPending).
		Updates(map[string]any{
			"status":      TestStatusSkipped,
			"finished_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("skipping pending tests: %w", result.Error)
	}

	return result.RowsAffected, nil
}
