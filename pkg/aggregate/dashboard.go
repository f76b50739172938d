package aggregate

import (
	"context"
	"fmt"
	"sort"

	"github.com/qaops/testoor/pkg/store"
)

// ActiveRuns reports the live queue state plus per-running-run progress.
type ActiveRuns struct {
	Running  int64               `json:"running"`
	Queued   int64               `json:"queued"`
	Progress []store.RunProgress `json:"progress"`
}

// PassRate is the windowed pass percentage with its trend against the
// preceding window.
type PassRate struct {
	Percentage float64 `json:"percentage"`
	Passed     int     `json:"passed"`
	Failed     int     `json:"failed"`
	Trend      float64 `json:"trend"`
}

// EnvironmentExecutions is the windowed run count for one environment.
type EnvironmentExecutions struct {
	Environment string `json:"environment"`
	Total       int    `json:"total"`
}

// Executions is the windowed run count with per-environment breakdown.
type Executions struct {
	Total         int                     `json:"total"`
	Trend         int                     `json:"trend"`
	ByEnvironment []EnvironmentExecutions `json:"byEnvironment"`
}

// GetActiveRuns counts running and queued runs and attaches completion
// progress for the running ones.
func (e *Engine) GetActiveRuns(ctx context.Context) (*ActiveRuns, error) {
	running, err := e.source.CountRunsByStatus(ctx, store.RunStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("counting running runs: %w", err)
	}

	queued, err := e.source.CountRunsByStatus(ctx, store.RunStatusQueued)
	if err != nil {
		return nil, fmt.Errorf("counting queued runs: %w", err)
	}

	progress, err := e.source.ActiveRunProgress(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching run progress: %w", err)
	}

	if progress == nil {
		progress = []store.RunProgress{}
	}

	return &ActiveRuns{
		Running:  running,
		Queued:   queued,
		Progress: progress,
	}, nil
}

// GetPassRate computes the pass percentage over finished pass/fail test
// rows in the window, plus the delta against the preceding window.
func (e *Engine) GetPassRate(
	ctx context.Context, days int,
) (*PassRate, error) {
	cur, prev := e.window(days)

	curOutcomes, err := e.source.ListTestOutcomesBetween(ctx, cur[0], cur[1])
	if err != nil {
		return nil, fmt.Errorf("fetching current outcomes: %w", err)
	}

	prevOutcomes, err := e.source.ListTestOutcomesBetween(ctx, prev[0], prev[1])
	if err != nil {
		return nil, fmt.Errorf("fetching previous outcomes: %w", err)
	}

	curPassed, curFailed := tallyOutcomes(curOutcomes)
	prevPassed, prevFailed := tallyOutcomes(prevOutcomes)

	curPct := percentage(curPassed, curFailed)
	prevPct := percentage(prevPassed, prevFailed)

	return &PassRate{
		Percentage: curPct,
		Passed:     curPassed,
		Failed:     curFailed,
		Trend:      round1(curPct - prevPct),
	}, nil
}

// GetExecutions counts runs created in the window grouped by environment,
// with the total's delta against the preceding window.
func (e *Engine) GetExecutions(
	ctx context.Context, days int,
) (*Executions, error) {
	cur, prev := e.window(days)

	curRuns, err := e.source.ListRunsCreatedBetween(ctx, cur[0], cur[1])
	if err != nil {
		return nil, fmt.Errorf("fetching current runs: %w", err)
	}

	prevRuns, err := e.source.ListRunsCreatedBetween(ctx, prev[0], prev[1])
	if err != nil {
		return nil, fmt.Errorf("fetching previous runs: %w", err)
	}

	byEnv := make(map[string]int)
	for _, r := range curRuns {
		byEnv[r.Environment]++
	}

	envs := make([]EnvironmentExecutions, 0, len(byEnv))
	for env, total := range byEnv {
		envs = append(envs, EnvironmentExecutions{
			Environment: env,
			Total:       total,
		})
	}

	sort.Slice(envs, func(i, j int) bool {
		return envs[i].Environment < envs[j].Environment
	})

	return &Executions{
		Total:         len(curRuns),
		Trend:         len(curRuns) - len(prevRuns),
		ByEnvironment: envs,
	}, nil
}

// tallyOutcomes splits pass/fail rows into counts.
func tallyOutcomes(outcomes []store.TestOutcome) (passed, failed int) {
	for _, o := range outcomes {
		switch o.Status {
		case store.TestStatusPassed:
			passed++
		case store.TestStatusFailed:
			failed++
		}
	}

	return passed, failed
}
