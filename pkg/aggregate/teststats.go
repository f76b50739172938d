package aggregate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/qaops/testoor/pkg/store"
)

// Trend directions for per-test stats.
const (
	TrendUp     = "up"
	TrendDown   = "down"
	TrendStable = "stable"
)

// OutcomeRef is one completed execution of a test.
type OutcomeRef struct {
	RunID       string     `json:"runId"`
	Status      string     `json:"status"`
	Environment string     `json:"environment"`
	FinishedAt  *time.Time `json:"finishedAt"`
	DurationMs  *int64     `json:"durationMs"`
}

// TestEnvStats is the per-environment slice of a test's stats.
type TestEnvStats struct {
	Environment string      `json:"environment"`
	Total       int         `json:"total"`
	Passed      int         `json:"passed"`
	Failed      int         `json:"failed"`
	PassRate    float64     `json:"passRate"`
	LastRun     *OutcomeRef `json:"lastRun"`
}

// TestStats is the dashboard's per-test drill-down.
type TestStats struct {
	TestKey       string         `json:"testKey"`
	Total         int            `json:"total"`
	Passed        int            `json:"passed"`
	Failed        int            `json:"failed"`
	PassRate      float64        `json:"passRate"`
	AvgDurationMs int64          `json:"avgDurationMs"`
	Trend         string         `json:"trend"`
	ByEnvironment []TestEnvStats `json:"byEnvironment"`
	RecentRuns    []OutcomeRef   `json:"recentRuns"`
}

// GetTestStats aggregates one test's windowed executions: overall totals,
// a per-environment breakdown with last-run snapshots, the last 10
// completed runs, and the trend against the preceding window.
func (e *Engine) GetTestStats(
	ctx context.Context, testKey string, days int,
) (*TestStats, error) {
	cur, prev := e.window(days)

	rows, err := e.source.ListOutcomesForTestKey(ctx, testKey, cur[0], cur[1])
	if err != nil {
		return nil, fmt.Errorf("fetching outcomes: %w", err)
	}

	prevRows, err := e.source.ListOutcomesForTestKey(
		ctx, testKey, prev[0], prev[1],
	)
	if err != nil {
		return nil, fmt.Errorf("fetching previous outcomes: %w", err)
	}

	passed, failed := tallyOutcomes(rows)

	stats := &TestStats{
		TestKey:  testKey,
		Total:    passed + failed,
		Passed:   passed,
		Failed:   failed,
		PassRate: percentage(passed, failed),
	}

	var (
		durationSum   int64
		durationCount int64
	)

	byEnv := make(map[string]*TestEnvStats)

	for i := range rows {
		o := rows[i]

		if o.DurationMs != nil {
			durationSum += *o.DurationMs
			durationCount++
		}

		env := byEnv[o.Environment]
		if env == nil {
			env = &TestEnvStats{Environment: o.Environment}
			byEnv[o.Environment] = env
		}

		env.Total++

		switch o.Status {
		case store.TestStatusPassed:
			env.Passed++
		case store.TestStatusFailed:
			env.Failed++
		}

		// Rows are most recent first; the first row per env is its
		// latest execution.
		if env.LastRun == nil {
			env.LastRun = outcomeRef(o)
		}
	}

	if durationCount > 0 {
		stats.AvgDurationMs = durationSum / durationCount
	}

	for _, env := range byEnv {
		env.PassRate = percentage(env.Passed, env.Failed)
		stats.ByEnvironment = append(stats.ByEnvironment, *env)
	}

	sort.Slice(stats.ByEnvironment, func(i, j int) bool {
		return stats.ByEnvironment[i].Environment <
			stats.ByEnvironment[j].Environment
	})

	n := len(rows)
	if n > recentRunsPerTest {
		n = recentRunsPerTest
	}

	stats.RecentRuns = make([]OutcomeRef, 0, n)
	for _, o := range rows[:n] {
		stats.RecentRuns = append(stats.RecentRuns, *outcomeRef(o))
	}

	prevPassed, prevFailed := tallyOutcomes(prevRows)
	stats.Trend = classifyTrend(
		stats.PassRate, percentage(prevPassed, prevFailed),
	)

	return stats, nil
}

// classifyTrend compares two pass rates against the ±5 point band.
func classifyTrend(current, previous float64) string {
	delta := current - previous

	switch {
	case delta > trendStableBandPercent:
		return TrendUp
	case delta < -trendStableBandPercent:
		return TrendDown
	default:
		return TrendStable
	}
}

func outcomeRef(o store.TestOutcome) *OutcomeRef {
	return &OutcomeRef{
		RunID:       o.RunID,
		Status:      o.Status,
		Environment: o.Environment,
		FinishedAt:  o.FinishedAt,
		DurationMs:  o.DurationMs,
	}
}
