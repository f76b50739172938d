package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateSchedule inserts a new schedule.
func (s *store) CreateSchedule(ctx context.Context, sched *Schedule) error {
	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	sched.CreatedAt = now
	sched.UpdatedAt = now

	if err := s.db.WithContext(ctx).Create(sched).Error; err != nil {
		return fmt.Errorf("creating schedule: %w", err)
	}

	return nil
}

// GetSchedule returns the schedule with the given ID.
func (s *store) GetSchedule(
	ctx context.Context, id string,
) (*Schedule, error) {
	var sched Schedule
	if err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&sched).Error; err != nil {
		return nil, fmt.Errorf("getting schedule: %w", err)
	}

	return &sched, nil
}

// ListSchedules returns all schedules ordered by name.
func (s *store) ListSchedules(ctx context.Context) ([]Schedule, error) {
	var scheds []Schedule
	if err := s.db.WithContext(ctx).
		Order("name ASC").
		Find(&scheds).Error; err != nil {
		return nil, fmt.Errorf("listing schedules: %w", err)
	}

	return scheds, nil
}

// ListEnabledSchedules returns only schedules the scheduler should tick.
func (s *store) ListEnabledSchedules(
	ctx context.Context,
) ([]Schedule, error) {
	var scheds []Schedule
	if err := s.db.WithContext(ctx).
		Where("enabled = ?", true).
		Find(&scheds).Error; err != nil {
		return nil, fmt.Errorf("listing enabled schedules: %w", err)
	}

	return scheds, nil
}

// UpdateSchedule saves the full schedule row.
func (s *store) UpdateSchedule(ctx context.Context, sched *Schedule) error {
	sched.UpdatedAt = time.Now().UTC()

	result := s.db.WithContext(ctx).
		Model(&Schedule{}).
		Where("id = ?", sched.ID).
		Select("name", "cron", "enabled", "environment", "selector",
			"default_run_overrides", "updated_by", "updated_at").
		Updates(sched)
	if result.Error != nil {
		return fmt.Errorf("updating schedule: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}

// DeleteSchedule removes the schedule; runs referencing it keep their rows
// with the back-reference cleared by the FK's ON DELETE SET NULL.
func (s *store) DeleteSchedule(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&Schedule{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("deleting schedule: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}

// SetScheduleLastTriggered stamps lastTriggeredAt after a successful run
// creation.
func (s *store) SetScheduleLastTriggered(
	ctx context.Context, id string, t time.Time,
) error {
	if err := s.db.WithContext(ctx).
		Model(&Schedule{}).
		Where("id = ?", id).
		Update("last_triggered_at", t).Error; err != nil {
		return fmt.Errorf("setting schedule last triggered: %w", err)
	}

	return nil
}
