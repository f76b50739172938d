// Package executor runs one run end to end: it walks the run's tests in
// testKey order, spawns the external browser-test driver per test, tees
// the driver's output into the test's console.log and records results.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qaops/testoor/pkg/artifacts"
	"github.com/qaops/testoor/pkg/store"
)

// ConfigEnvVar carries the JSON-serialized effective config to the driver.
const ConfigEnvVar = "TESTOOR_CONFIG"

// OutputDirEnvVar tells the driver where to place its artifacts.
const OutputDirEnvVar = "TESTOOR_OUTPUT_DIR"

// errorTailBytes bounds how much driver output is kept for error messages.
const errorTailBytes = 2048

// Config for the executor.
type Config struct {
	// DeployRoot is the working directory the driver inherits.
	DeployRoot string

	// DriverCommand is the driver executable plus fixed leading arguments;
	// the spec path and output directory are appended per test.
	DriverCommand []string
}

// Executor executes runs. Dispatch is fire-and-forget for the queue;
// ExecuteRun blocks until the run reaches a terminal state.
type Executor interface {
	Start(ctx context.Context) error
	Stop() error

	Dispatch(runID string)
	ExecuteRun(ctx context.Context, runID string)
}

// Compile-time interface check.
var _ Executor = (*executor)(nil)

type executor struct {
	log       logrus.FieldLogger
	cfg       *Config
	store     store.Store
	artifacts *artifacts.Manager
	rootCtx   context.Context
	wg        sync.WaitGroup
}

// NewExecutor creates a new executor.
func NewExecutor(
	log logrus.FieldLogger,
	cfg *Config,
	s store.Store,
	am *artifacts.Manager,
) Executor {
	return &executor{
		log:       log.WithField("component", "executor"),
		cfg:       cfg,
		store:     s,
		artifacts: am,
	}
}

// Start retains the context dispatched runs execute under.
func (e *executor) Start(ctx context.Context) error {
	e.rootCtx = ctx

	return nil
}

// Stop waits for in-flight runs to finish.
func (e *executor) Stop() error {
	e.wg.Wait()

	return nil
}

// Dispatch executes the run in its own goroutine.
func (e *executor) Dispatch(runID string) {
	e.wg.Add(1)

	go func() {
		defer e.wg.Done()

		e.ExecuteRun(e.rootCtx, runID)
	}()
}

// ExecuteRun drives one run to a terminal state. Driver failures are
// per-test results, never run-level errors; anything else marks the run
// failed.
func (e *executor) ExecuteRun(ctx context.Context, runID string) {
	log := e.log.WithField("run_id", runID)

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		log.WithError(err).Error("Run vanished before execution")

		return
	}

	// A cancel that lands between queue admission and this point must not
	// be overwritten by the running transition.
	if run.Status == store.RunStatusCancelled {
		skipped, err := e.store.SkipPendingTests(ctx, runID)
		if err != nil {
			log.WithError(err).Warn("Failed to skip pending tests")
		}

		tests, err := e.store.ListRunTests(ctx, runID)
		if err != nil {
			log.WithError(err).Error("Failed to list run tests")

			return
		}

		e.finishRun(ctx, log, run, time.Now(), store.RunSummary{
			TotalTests: len(tests),
			Skipped:    int(skipped),
		}, false)

		return
	}

	if run.IsTerminal() {
		log.WithField("status", run.Status).
			Warn("Refusing to execute terminal run")

		return
	}

	if err := e.store.SetRunStatus(ctx, runID, store.RunStatusRunning); err != nil {
		log.WithError(err).Error("Failed to mark run running")

		return
	}

	started := time.Now()

	if err := e.artifacts.EnsureRunDir(runID); err != nil {
		log.WithError(err).Error("Failed to create run artifact dir")
		e.finishRun(ctx, log, run, started, store.RunSummary{}, true)

		return
	}

	tests, err := e.store.ListRunTests(ctx, runID)
	if err != nil {
		log.WithError(err).Error("Failed to list run tests")
		e.finishRun(ctx, log, run, started, store.RunSummary{}, true)

		return
	}

	summary := store.RunSummary{TotalTests: len(tests)}

	var loopErr error

	for _, rt := range tests {
		// Cancellation is observed between tests only; an in-flight
		// driver always completes.
		current, err := e.store.GetRun(ctx, runID)
		if err != nil {
			loopErr = fmt.Errorf("re-reading run: %w", err)

			break
		}

		if current.Status == store.RunStatusCancelled {
			skipped, err := e.store.SkipPendingTests(ctx, runID)
			if err != nil {
				log.WithError(err).Warn("Failed to skip pending tests")
			}

			summary.Skipped += int(skipped)

			log.WithField("skipped", skipped).
				Info("Run cancelled, remaining tests skipped")

			break
		}

		status := e.executeTest(ctx, log, run, &rt)

		switch status {
		case store.TestStatusPassed:
			summary.Passed++
		case store.TestStatusFailed:
			summary.Failed++
		case store.TestStatusSkipped:
			summary.Skipped++
		}

		testsCompleted.WithLabelValues(status).Inc()
	}

	e.finishRun(ctx, log, run, started, summary, loopErr != nil)

	if loopErr != nil {
		log.WithError(loopErr).Error("Run execution aborted")
	}
}

// executeTest runs a single test and returns its terminal status.
func (e *executor) executeTest(
	ctx context.Context,
	log logrus.FieldLogger,
	run *store.Run,
	rt *store.RunTest,
) string {
	log = log.WithField("test_key", rt.TestKey)

	td, err := e.store.GetTestByKey(ctx, rt.TestKey)
	if err != nil {
		log.Warn("Test definition not found, skipping")

		e.recordResult(ctx, log, rt.ID, store.TestStatusSkipped, nil,
			"Test definition not found", nil)

		return store.TestStatusSkipped
	}

	testDir, err := e.artifacts.EnsureTestDir(run.ID, rt.TestKey)
	if err != nil {
		e.recordResult(ctx, log, rt.ID, store.TestStatusFailed, nil,
			fmt.Sprintf("Failed to create artifact directory: %v", err), nil)

		return store.TestStatusFailed
	}

	if err := e.artifacts.SeedConsoleLog(run.ID, rt.TestKey, run.Environment); err != nil {
		log.WithError(err).Warn("Failed to seed console log")
	}

	if err := e.store.SetRunTestRunning(ctx, rt.ID); err != nil {
		log.WithError(err).Error("Failed to mark test running")
	}

	started := time.Now()

	runErr := e.runDriver(ctx, run, td, testDir)

	durationMs := time.Since(started).Milliseconds()

	// live.jpg is a transient preview; it does not outlive the test.
	defer e.artifacts.RemoveLiveScreenshot(run.ID, rt.TestKey)

	video, err := e.artifacts.LocateVideo(run.ID, rt.TestKey)
	if err != nil {
		log.WithError(err).Warn("Failed to locate video artifact")
	}

	arts := &store.TestArtifacts{
		ConsoleLog: artifacts.ConsoleLogName,
		Video:      video,
	}

	if runErr != nil {
		e.recordResult(ctx, log, rt.ID, store.TestStatusFailed,
			&durationMs, runErr.Error(), arts)

		log.WithField("duration_ms", durationMs).
			WithError(runErr).
			Info("Test failed")

		return store.TestStatusFailed
	}

	e.recordResult(ctx, log, rt.ID, store.TestStatusPassed,
		&durationMs, "", arts)

	log.WithField("duration_ms", durationMs).Info("Test passed")

	return store.TestStatusPassed
}

// runDriver spawns the driver subprocess for one test and waits for it.
// The returned error is the per-test failure message.
func (e *executor) runDriver(
	ctx context.Context,
	run *store.Run,
	td *store.TestDefinition,
	outputDir string,
) error {
	effective := EffectiveConfig(
		run.Environment,
		td.Constants.Data(),
		td.Overrides.Data(),
		run.RunOverrides,
	)

	configJSON, err := json.Marshal(effective)
	if err != nil {
		return fmt.Errorf("serializing effective config: %v", err)
	}

	name := e.cfg.DriverCommand[0]
	args := append([]string{}, e.cfg.DriverCommand[1:]...)
	args = append(args, td.SpecPath, "--output", outputDir)

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = e.cfg.DeployRoot
	cmd.Env = append(os.Environ(),
		ConfigEnvVar+"="+string(configJSON),
		OutputDirEnvVar+"="+outputDir,
	)

	logWriter, err := e.artifacts.AppendWriter(run.ID, td.TestKey)
	if err != nil {
		return fmt.Errorf("opening console log: %v", err)
	}
	defer logWriter.Close()

	stdoutTail := newTailBuffer(errorTailBytes)
	stderrTail := newTailBuffer(errorTailBytes)

	cmd.Stdout = io.MultiWriter(logWriter, stdoutTail)
	cmd.Stderr = io.MultiWriter(logWriter, stderrTail)

	if err := cmd.Run(); err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return fmt.Errorf("spawning driver: %v", err)
		}

		if msg := stderrTail.String(); msg != "" {
			return fmt.Errorf("%s", msg)
		}

		if msg := stdoutTail.String(); msg != "" {
			return fmt.Errorf("%s", msg)
		}

		return fmt.Errorf("driver exited with code %d", exitErr.ExitCode())
	}

	return nil
}

// recordResult persists a test's terminal state, logging rather than
// propagating storage errors so one write failure cannot wedge the run.
func (e *executor) recordResult(
	ctx context.Context,
	log logrus.FieldLogger,
	id, status string,
	durationMs *int64,
	errorMessage string,
	arts *store.TestArtifacts,
) {
	if err := e.store.FinishRunTest(
		ctx, id, status, durationMs, errorMessage, arts,
	); err != nil {
		log.WithError(err).Error("Failed to record test result")
	}
}

// finishRun persists the summary and the final run status. A cancelled
// run keeps its status; otherwise any failed test (or an execution
// defect) fails the run and everything else passes, skips included.
func (e *executor) finishRun(
	ctx context.Context,
	log logrus.FieldLogger,
	run *store.Run,
	started time.Time,
	summary store.RunSummary,
	aborted bool,
) {
	summary.DurationMs = time.Since(started).Milliseconds()

	if err := e.store.SetRunSummary(ctx, run.ID, &summary); err != nil {
		log.WithError(err).Error("Failed to persist run summary")
	}

	current, err := e.store.GetRun(ctx, run.ID)
	if err != nil {
		log.WithError(err).Error("Failed to re-read run for final status")

		return
	}

	final := store.RunStatusPassed

	switch {
	case current.Status == store.RunStatusCancelled:
		final = store.RunStatusCancelled
	case aborted || summary.Failed > 0:
		final = store.RunStatusFailed
	}

	if final != current.Status {
		if err := e.store.SetRunStatus(ctx, run.ID, final); err != nil {
			log.WithError(err).Error("Failed to set final run status")

			return
		}
	}

	runsCompleted.WithLabelValues(final).Inc()

	log.WithFields(logrus.Fields{
		"status":      final,
		"passed":      summary.Passed,
		"failed":      summary.Failed,
		"skipped":     summary.Skipped,
		"duration_ms": summary.DurationMs,
	}).Info("Run finished")
}

// tailBuffer keeps the last capacity bytes written to it.
type tailBuffer struct {
	capacity int
	buf      []byte
}

func newTailBuffer(capacity int) *tailBuffer {
	return &tailBuffer{capacity: capacity}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)

	if len(t.buf) > t.capacity {
		t.buf = t.buf[len(t.buf)-t.capacity:]
	}

	return len(p), nil
}

func (t *tailBuffer) String() string {
	return strings.TrimSpace(string(t.buf))
}
