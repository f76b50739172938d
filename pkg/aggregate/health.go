package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/qaops/testoor/pkg/store"
)

// Health classifications.
const (
	HealthHealthy  = "healthy"
	HealthWarning  = "warning"
	HealthCritical = "critical"
)

// RunRef is a compact pointer to one run.
type RunRef struct {
	RunID      string     `json:"runId"`
	Status     string     `json:"status"`
	FinishedAt *time.Time `json:"finishedAt"`
}

// EnvironmentHealth summarizes one environment within the window.
type EnvironmentHealth struct {
	Environment   string  `json:"environment"`
	TotalRuns     int     `json:"totalRuns"`
	PassedRuns    int     `json:"passedRuns"`
	PassRate      float64 `json:"passRate"`
	AvgDurationMs int64   `json:"avgDurationMs"`
	RunsLast24h   int     `json:"runsLast24h"`
	LatestRun     *RunRef `json:"latestRun"`
	HealthStatus  string  `json:"healthStatus"`
}

// GetEnvironmentHealth summarizes finished runs per environment. Every
// known environment appears in the result, including ones with no runs,
// which classify as critical for having no recent activity.
func (e *Engine) GetEnvironmentHealth(
	ctx context.Context, days int, envCodes []string,
) ([]EnvironmentHealth, error) {
	cur, _ := e.window(days)

	runs, err := e.source.ListFinishedRunsBetween(ctx, cur[0], cur[1])
	if err != nil {
		return nil, fmt.Errorf("fetching finished runs: %w", err)
	}

	now := e.now()
	dayAgo := now.Add(-24 * time.Hour)

	byEnv := make(map[string][]store.Run)
	for _, r := range runs {
		byEnv[r.Environment] = append(byEnv[r.Environment], r)
	}

	health := make([]EnvironmentHealth, 0, len(envCodes))

	for _, code := range envCodes {
		envRuns := byEnv[code]

		h := EnvironmentHealth{Environment: code, TotalRuns: len(envRuns)}

		var (
			durationSum   int64
			durationCount int64
		)

		for _, r := range envRuns {
			if r.Status == store.RunStatusPassed {
				h.PassedRuns++
			}

			if r.FinishedAt != nil && r.FinishedAt.After(dayAgo) {
				h.RunsLast24h++
			}

			if r.StartedAt != nil && r.FinishedAt != nil {
				durationSum += r.FinishedAt.Sub(*r.StartedAt).Milliseconds()
				durationCount++
			}
		}

		// Rows come back most recently finished first.
		if len(envRuns) > 0 {
			latest := envRuns[0]
			h.LatestRun = &RunRef{
				RunID:      latest.ID,
				Status:     latest.Status,
				FinishedAt: latest.FinishedAt,
			}
		}

		if len(envRuns) > 0 {
			h.PassRate = round1(
				float64(h.PassedRuns) / float64(len(envRuns)) * 100,
			)
		}

		if durationCount > 0 {
			h.AvgDurationMs = durationSum / durationCount
		}

		h.HealthStatus = classifyHealth(h.PassRate, h.RunsLast24h)

		health = append(health, h)
	}

	return health, nil
}

// classifyHealth applies the dashboard's traffic-light thresholds.
func classifyHealth(passRate float64, last24h int) string {
	if passRate < 70 || last24h == 0 {
		return HealthCritical
	}

	if passRate < 90 || last24h < 2 {
		return HealthWarning
	}

	return HealthHealthy
}
