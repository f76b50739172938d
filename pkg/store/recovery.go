package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// InterruptedMessage is recorded on tests orphaned by a restart.
const InterruptedMessage = "Test execution interrupted by server restart"

// RecoverInterruptedRuns marks every queued or running run, and its
// in-flight tests, as failed. Runs once before the workers start so that
// no run is left in a non-terminal state the current process did not
// create. Returns the number of recovered runs.
func (s *store) RecoverInterruptedRuns(ctx context.Context) (int64, error) {
	now := time.Now().UTC()

	var recovered int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&Run{}).
			Where("status IN ?",
				[]string{RunStatusQueued, RunStatusRunning}).
			Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("listing interrupted runs: %w", err)
		}

		if len(ids) == 0 {
			return nil
		}

		if err := tx.Model(&RunTest{}).
			Where("run_id IN ? AND status IN ?", ids,
				[]string{TestStatusPending, TestStatusRunning}).
			Updates(map[string]any{
				"status":        TestStatusFailed,
				"finished_at":   now,
				"error_message": InterruptedMessage,
			}).Error; err != nil {
			return fmt.Errorf("failing interrupted tests: %w", err)
		}

		result := tx.Model(&Run{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":      RunStatusFailed,
				"finished_at": now,
			})
		if result.Error != nil {
			return fmt.Errorf("failing interrupted runs: %w", result.Error)
		}

		recovered = result.RowsAffected

		return nil
	})
	if err != nil {
		return 0, err
	}

	if recovered > 0 {
		s.log.WithField("count", recovered).
			Warn("Recovered runs interrupted by restart")
	}

	return recovered, nil
}
