// Package aggregate computes the read models behind the dashboard. The
// store supplies windowed rows; everything else (rates, trends,
// classifications) is computed here.
package aggregate

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qaops/testoor/pkg/store"
)

// Defaults and bounds for the rolling windows.
const (
	DefaultWindowDays    = 30
	MinWindowDays        = 1
	MaxWindowDays        = 365
	DefaultMinExecutions = 5
)

// Flakiness thresholds; all boundaries are inclusive.
const (
	flakyMinFailureRate     = 10.0
	flakyMaxFailureRate     = 90.0
	criticalFlakinessScore  = 30.0
	recentOutcomesPerTest   = 10
	recentRunsPerTest       = 10
	trendStableBandPercent  = 5.0
)

// Source is the slice of the store the engine reads from.
type Source interface {
	CountRunsByStatus(ctx context.Context, status string) (int64, error)
	ActiveRunProgress(ctx context.Context) ([]store.RunProgress, error)
	ListTestOutcomesBetween(ctx context.Context, from, to time.Time) ([]store.TestOutcome, error)
	ListOutcomesForTestKey(ctx context.Context, testKey string, from, to time.Time) ([]store.TestOutcome, error)
	ListRunsCreatedBetween(ctx context.Context, from, to time.Time) ([]store.Run, error)
	ListFinishedRunsBetween(ctx context.Context, from, to time.Time) ([]store.Run, error)
}

// Engine evaluates dashboard queries.
type Engine struct {
	log    logrus.FieldLogger
	source Source
	now    func() time.Time
}

// NewEngine creates an aggregation engine over the given source.
func NewEngine(log logrus.FieldLogger, source Source) *Engine {
	return &Engine{
		log:    log.WithField("component", "aggregate"),
		source: source,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ClampDays bounds a caller-supplied window, substituting the default for
// non-positive input.
func ClampDays(days int) int {
	if days <= 0 {
		return DefaultWindowDays
	}

	if days < MinWindowDays {
		return MinWindowDays
	}

	if days > MaxWindowDays {
		return MaxWindowDays
	}

	return days
}

// window returns [from, to) for the current period and the immediately
// preceding period of the same width.
func (e *Engine) window(days int) (cur, prev [2]time.Time) {
	to := e.now()
	from := to.AddDate(0, 0, -days)
	prevFrom := from.AddDate(0, 0, -days)

	return [2]time.Time{from, to}, [2]time.Time{prevFrom, from}
}

// round1 rounds half-up to one decimal.
func round1(x float64) float64 {
	return math.Floor(x*10+0.5) / 10
}

// percentage computes passed/(passed+failed)*100 rounded to one decimal;
// an empty divisor yields zero.
func percentage(passed, failed int) float64 {
	total := passed + failed
	if total == 0 {
		return 0
	}

	return round1(float64(passed) / float64(total) * 100)
}
