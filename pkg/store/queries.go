package store

import (
	"context"
	"fmt"
	"time"
)

// ActiveRunProgress returns (completed, total) test counts for every
// running run. Queued runs are excluded; they have no progress to report.
func (s *store) ActiveRunProgress(
	ctx context.Context,
) ([]RunProgress, error) {
	var progress []RunProgress

	err := s.db.WithContext(ctx).Raw(`
		SELECT r.id AS run_id,
		       COUNT(rt.id) AS total,
		       SUM(CASE WHEN rt.status IN ('passed', 'failed', 'skipped')
		                THEN 1 ELSE 0 END) AS completed
		FROM runs r
		LEFT JOIN run_tests rt ON rt.run_id = r.id
		WHERE r.status = 'running'
		GROUP BY r.id
		ORDER BY r.created_at ASC`).
		Scan(&progress).Error
	if err != nil {
		return nil, fmt.Errorf("querying run progress: %w", err)
	}

	return progress, nil
}

// ListTestOutcomesBetween returns pass/fail test rows whose run finished
// inside [from, to), most recent first.
func (s *store) ListTestOutcomesBetween(
	ctx context.Context, from, to time.Time,
) ([]TestOutcome, error) {
	var outcomes []TestOutcome

	err := s.db.WithContext(ctx).Raw(`
		SELECT rt.test_key, rt.status, rt.error_message, rt.duration_ms,
		       rt.finished_at, r.id AS run_id, r.environment
		FROM run_tests rt
		JOIN runs r ON r.id = rt.run_id
		WHERE rt.status IN ('passed', 'failed')
		  AND r.finished_at >= ? AND r.finished_at < ?
		ORDER BY rt.finished_at DESC`, from, to).
		Scan(&outcomes).Error
	if err != nil {
		return nil, fmt.Errorf("querying test outcomes: %w", err)
	}

	return outcomes, nil
}

// ListOutcomesForTestKey returns the pass/fail rows of one test whose run
// finished inside [from, to), most recent first.
func (s *store) ListOutcomesForTestKey(
	ctx context.Context, testKey string, from, to time.Time,
) ([]TestOutcome, error) {
	var outcomes []TestOutcome

	err := s.db.WithContext(ctx).Raw(`
		SELECT rt.test_key, rt.status, rt.error_message, rt.duration_ms,
		       rt.finished_at, r.id AS run_id, r.environment
		FROM run_tests rt
		JOIN runs r ON r.id = rt.run_id
		WHERE rt.test_key = ?
		  AND rt.status IN ('passed', 'failed')
		  AND r.finished_at >= ? AND r.finished_at < ?
		ORDER BY rt.finished_at DESC`, testKey, from, to).
		Scan(&outcomes).Error
	if err != nil {
		return nil, fmt.Errorf("querying outcomes for test: %w", err)
	}

	return outcomes, nil
}

// ListRunsCreatedBetween returns runs created inside [from, to).
func (s *store) ListRunsCreatedBetween(
	ctx context.Context, from, to time.Time,
) ([]Run, error) {
	var runs []Run
	if err := s.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from, to).
		Order("created_at DESC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs by creation window: %w", err)
	}

	return runs, nil
}

// ListFinishedRunsBetween returns terminal runs finished inside [from, to),
// most recently finished first.
func (s *store) ListFinishedRunsBetween(
	ctx context.Context, from, to time.Time,
) ([]Run, error) {
	var runs []Run
	if err := s.db.WithContext(ctx).
		Where("finished_at >= ? AND finished_at < ?", from, to).
		Order("finished_at DESC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing finished runs: %w", err)
	}

	return runs, nil
}
