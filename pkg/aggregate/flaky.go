package aggregate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/qaops/testoor/pkg/store"
)

// FailureRef points at one failed execution.
type FailureRef struct {
	RunID        string     `json:"runId"`
	Date         *time.Time `json:"date"`
	Environment  string     `json:"environment"`
	ErrorMessage string     `json:"errorMessage"`
}

// ExecutionCounts breaks a test's windowed executions down by outcome.
type ExecutionCounts struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// FlakyTest is one test classified as flaky within the window.
type FlakyTest struct {
	TestKey             string          `json:"testKey"`
	FlakinessScore      float64         `json:"flakinessScore"`
	Critical            bool            `json:"critical"`
	Executions          ExecutionCounts `json:"executions"`
	RecentOutcomes      []string        `json:"recentOutcomes"`
	FailingEnvironments []string        `json:"failingEnvironments"`
	LastFailure         *FailureRef     `json:"lastFailure"`
}

// GetFlakyTests classifies tests as flaky when, within the window, they
// ran at least minExecutions times, both passed and failed at least once,
// and their failure rate lies in [10%, 90%] inclusive. The flakiness
// score is the failure rate; scores of 30% and above are critical.
func (e *Engine) GetFlakyTests(
	ctx context.Context, days, minExecutions int,
) ([]FlakyTest, error) {
	if minExecutions <= 0 {
		minExecutions = DefaultMinExecutions
	}

	cur, _ := e.window(days)

	outcomes, err := e.source.ListTestOutcomesBetween(ctx, cur[0], cur[1])
	if err != nil {
		return nil, fmt.Errorf("fetching outcomes: %w", err)
	}

	// Outcomes arrive most recent first; preserve that order per key.
	byKey := make(map[string][]store.TestOutcome)
	for _, o := range outcomes {
		byKey[o.TestKey] = append(byKey[o.TestKey], o)
	}

	flaky := make([]FlakyTest, 0)

	for key, rows := range byKey {
		passed, failed := tallyOutcomes(rows)
		total := passed + failed

		if total < minExecutions || passed == 0 || failed == 0 {
			continue
		}

		failureRate := round1(float64(failed) / float64(total) * 100)
		if failureRate < flakyMinFailureRate ||
			failureRate > flakyMaxFailureRate {
			continue
		}

		flaky = append(flaky, FlakyTest{
			TestKey:        key,
			FlakinessScore: failureRate,
			Critical:       failureRate >= criticalFlakinessScore,
			Executions: ExecutionCounts{
				Total:  total,
				Passed: passed,
				Failed: failed,
			},
			RecentOutcomes:      recentOutcomes(rows),
			FailingEnvironments: failingEnvironments(rows),
			LastFailure:         lastFailure(rows),
		})
	}

	sort.Slice(flaky, func(i, j int) bool {
		if flaky[i].FlakinessScore != flaky[j].FlakinessScore {
			return flaky[i].FlakinessScore > flaky[j].FlakinessScore
		}

		return flaky[i].TestKey < flaky[j].TestKey
	})

	return flaky, nil
}

// recentOutcomes returns up to the last 10 statuses, most recent first.
func recentOutcomes(rows []store.TestOutcome) []string {
	n := len(rows)
	if n > recentOutcomesPerTest {
		n = recentOutcomesPerTest
	}

	statuses := make([]string, 0, n)
	for _, o := range rows[:n] {
		statuses = append(statuses, o.Status)
	}

	return statuses
}

// failingEnvironments returns the sorted set of environments with at
// least one failure.
func failingEnvironments(rows []store.TestOutcome) []string {
	seen := make(map[string]struct{})

	for _, o := range rows {
		if o.Status == store.TestStatusFailed {
			seen[o.Environment] = struct{}{}
		}
	}

	envs := make([]string, 0, len(seen))
	for env := range seen {
		envs = append(envs, env)
	}

	sort.Strings(envs)

	return envs
}

// lastFailure returns the most recent failed row.
func lastFailure(rows []store.TestOutcome) *FailureRef {
	for _, o := range rows {
		if o.Status == store.TestStatusFailed {
			return &FailureRef{
				RunID:        o.RunID,
				Date:         o.FinishedAt,
				Environment:  o.Environment,
				ErrorMessage: o.ErrorMessage,
			}
		}
	}

	return nil
}
