package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RunTestSeed identifies one test to attach to a run at creation time.
type RunTestSeed struct {
	TestID  string
	TestKey string
}

// RunFilter narrows and pages run listings.
type RunFilter struct {
	Status      string
	Environment string
	Page        int
	PageSize    int
}

// RunProgress is the per-running-run completion count.
type RunProgress struct {
	RunID     string `json:"runId"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// TestOutcome is one finished pass/fail row joined to its run, used by the
// aggregation engine.
type TestOutcome struct {
	TestKey      string
	Status       string
	ErrorMessage string
	DurationMs   *int64
	FinishedAt   *time.Time
	RunID        string
	Environment  string
}

// Store provides persistence for the orchestrator.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Catalog.
	UpsertTest(ctx context.Context, td *TestDefinition) error
	GetTestByKey(ctx context.Context, testKey string) (*TestDefinition, error)
	ListTests(ctx context.Context, prefix string, tags []string) ([]TestDefinition, error)
	ListActiveTestsByKeys(ctx context.Context, keys []string) ([]TestDefinition, error)
	ResolveSelector(ctx context.Context, sel Selector) ([]TestDefinition, error)
	SetTestOverrides(ctx context.Context, testKey string, overrides *ConfigSet) error
	DeactivateTestsNotIn(ctx context.Context, seenKeys []string) (int64, error)
	ListTags(ctx context.Context) ([]string, error)
	ListFolders(ctx context.Context) ([]string, error)

	// Runs.
	CreateRun(ctx context.Context, run *Run, tests []RunTestSeed) error
	GetRun(ctx context.Context, id string) (*Run, error)
	GetRunWithTests(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, f RunFilter) ([]Run, int64, error)
	SetRunStatus(ctx context.Context, id, status string) error
	SetRunSummary(ctx context.Context, id string, summary *RunSummary) error
	CancelRun(ctx context.Context, id string) (bool, error)
	CountRunsByStatus(ctx context.Context, status string) (int64, error)
	OldestQueuedRun(ctx context.Context) (*Run, error)
	HasActiveRunForSchedule(ctx context.Context, scheduleID string) (bool, error)
	RunExists(ctx context.Context, id string) (bool, error)
	ListRunIDsOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
	DeleteRun(ctx context.Context, id string) error

	// Per-test rows.
	ListRunTests(ctx context.Context, runID string) ([]RunTest, error)
	GetRunTest(ctx context.Context, runID, testKey string) (*RunTest, error)
	SetRunTestRunning(ctx context.Context, id string) error
	FinishRunTest(
		ctx context.Context,
		id, status string,
		durationMs *int64,
		errorMessage string,
		artifacts *TestArtifacts,
	) error
	SkipPendingTests(ctx context.Context, runID string) (int64, error)

	// Schedules.
	CreateSchedule(ctx context.Context, sched *Schedule) error
	GetSchedule(ctx context.Context, id string) (*Schedule, error)
	ListSchedules(ctx context.Context) ([]Schedule, error)
	ListEnabledSchedules(ctx context.Context) ([]Schedule, error)
	UpdateSchedule(ctx context.Context, sched *Schedule) error
	DeleteSchedule(ctx context.Context, id string) error
	SetScheduleLastTriggered(ctx context.Context, id string, t time.Time) error

	// Startup recovery.
	RecoverInterruptedRuns(ctx context.Context) (int64, error)

	// Aggregation helpers.
	ActiveRunProgress(ctx context.Context) ([]RunProgress, error)
	ListTestOutcomesBetween(ctx context.Context, from, to time.Time) ([]TestOutcome, error)
	ListOutcomesForTestKey(ctx context.Context, testKey string, from, to time.Time) ([]TestOutcome, error)
	ListRunsCreatedBetween(ctx context.Context, from, to time.Time) ([]Run, error)
	ListFinishedRunsBetween(ctx context.Context, from, to time.Time) ([]Run, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log  logrus.FieldLogger
	path string
	db   *gorm.DB
}

// NewStore creates a new Store backed by the SQLite file at path.
func NewStore(log logrus.FieldLogger, path string) Store {
	return &store{
		log:  log.WithField("component", "store"),
		path: path,
	}
}

// sqliteDSN builds the DSN with foreign-key enforcement and WAL journaling.
func sqliteDSN(path string) string {
	base := "file:" + path
	if path == ":memory:" {
		base = "file::memory:"
	}

	return base +
		"?_pragma=foreign_keys(1)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)"
}

// Start opens the database connection and runs migrations. Any migration
// error aborts startup.
func (s *store) Start(ctx context.Context) error {
	db, err := gorm.Open(sqlite.Open(sqliteDSN(s.path)), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = db

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	// A single connection keeps in-memory databases coherent and avoids
	// SQLITE_BUSY contention between the workers' short transactions.
	sqlDB.SetMaxOpenConns(1)

	if err := s.migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("path", s.path).Info("Database connected")

	return nil
}

// migrate applies pending embedded migrations. Goose records each applied
// version in its ledger table and runs every migration in its own
// transaction, so a half-applied version is rolled back.
func (s *store) migrate(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("scoping migrations fs: %w", err)
	}

	provider, err := goose.NewProvider(
		goose.DialectSQLite3, sqlDB, fsys,
	)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	for _, r := range results {
		s.log.WithField("version", r.Source.Version).
			Debug("Applied migration")
	}

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}
