package store

import (
	"time"

	"gorm.io/datatypes"
)

// Run statuses.
const (
	RunStatusQueued    = "queued"
	RunStatusRunning   = "running"
	RunStatusPassed    = "passed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// Per-test statuses.
const (
	TestStatusPending = "pending"
	TestStatusRunning = "running"
	TestStatusPassed  = "passed"
	TestStatusFailed  = "failed"
	TestStatusSkipped = "skipped"
)

// Run trigger types.
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
)

// Selector variants.
const (
	SelectorFolder   = "folder"
	SelectorTags     = "tags"
	SelectorExplicit = "explicit"
)

// TerminalRunStatuses are run statuses that will not change.
var TerminalRunStatuses = []string{
	RunStatusPassed, RunStatusFailed, RunStatusCancelled,
}

// CompletedTestStatuses are per-test statuses counted as completed.
var CompletedTestStatuses = []string{
	TestStatusPassed, TestStatusFailed, TestStatusSkipped,
}

// TestMeta is the friendly metadata carried by a test definition, parsed
// from the test folder's meta.json.
type TestMeta struct {
	TestKey      string   `json:"testKey"`
	FriendlyName string   `json:"friendlyName"`
	Description  string   `json:"description,omitempty"`
	Tags         []string `json:"tags,omitempty"`
}

// ConfigSet holds a shared key/value map plus per-environment maps. Both
// test constants and test overrides use this shape.
type ConfigSet struct {
	Shared       map[string]any            `json:"shared,omitempty"`
	Environments map[string]map[string]any `json:"environments,omitempty"`
}

// RunSummary is the denormalized result total stored on a run.
type RunSummary struct {
	TotalTests int   `json:"totalTests"`
	Passed     int   `json:"passed"`
	Failed     int   `json:"failed"`
	Skipped    int   `json:"skipped"`
	DurationMs int64 `json:"durationMs"`
}

// TestArtifacts names the files a test produced under its artifact dir.
type TestArtifacts struct {
	ConsoleLog string  `json:"consoleLog"`
	Video      *string `json:"video"`
	Trace      *string `json:"trace,omitempty"`
}

// Selector is the tagged variant describing which active tests a schedule
// materializes into its runs. Type determines which other field is set.
type Selector struct {
	Type         string   `json:"type"`
	FolderPrefix string   `json:"folderPrefix,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	TestKeys     []string `json:"testKeys,omitempty"`
}

// TestDefinition is a catalog entry for one spec file, keyed by its
// natural testKey. Discovery owns every column except overrides.
type TestDefinition struct {
	ID         string                         `gorm:"type:text;primaryKey" json:"id"`
	TestKey    string                         `gorm:"uniqueIndex;not null" json:"testKey"`
	FolderPath string                         `gorm:"not null" json:"folderPath"`
	SpecPath   string                         `gorm:"not null" json:"specPath"`
	Meta       datatypes.JSONType[TestMeta]   `json:"meta"`
	Constants  datatypes.JSONType[ConfigSet]  `json:"constants"`
	Overrides  datatypes.JSONType[*ConfigSet] `json:"overrides"`
	Active     bool                           `gorm:"not null" json:"active"`
	CreatedAt  time.Time                      `json:"createdAt"`
	UpdatedAt  time.Time                      `json:"updatedAt"`
}

// Run is one orchestrated execution against one environment.
type Run struct {
	ID           string                           `gorm:"type:text;primaryKey" json:"id"`
	Status       string                           `gorm:"index;not null" json:"status"`
	TriggerType  string                           `gorm:"not null" json:"triggerType"`
	Environment  string                           `gorm:"index;not null" json:"environment"`
	ScheduleID   *string                          `gorm:"type:text;index" json:"scheduleId"`
	TriggeredBy  string                           `json:"triggeredBy"`
	RunOverrides datatypes.JSONMap                `json:"runOverrides"`
	Metadata     datatypes.JSONMap                `json:"metadata"`
	Summary      datatypes.JSONType[*RunSummary]  `json:"summary"`
	CreatedAt    time.Time                        `gorm:"index" json:"createdAt"`
	StartedAt    *time.Time                       `json:"startedAt"`
	FinishedAt   *time.Time                       `json:"finishedAt"`
	Tests        []RunTest                        `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"tests,omitempty"`
}

// RunTest is one spec's execution within a run.
type RunTest struct {
	ID           string                             `gorm:"type:text;primaryKey" json:"id"`
	RunID        string                             `gorm:"index;not null" json:"runId"`
	TestID       string                             `gorm:"type:text;not null" json:"testId"`
	TestKey      string                             `gorm:"not null" json:"testKey"`
	Status       string                             `gorm:"index;not null" json:"status"`
	DurationMs   *int64                             `json:"durationMs"`
	ErrorMessage string                             `json:"errorMessage,omitempty"`
	Artifacts    datatypes.JSONType[*TestArtifacts] `json:"artifacts"`
	StartedAt    *time.Time                         `json:"startedAt"`
	FinishedAt   *time.Time                         `json:"finishedAt"`
	CreatedAt    time.Time                          `json:"createdAt"`
}

// Schedule is a recurring run template driven by a cron expression.
type Schedule struct {
	ID                  string                        `gorm:"type:text;primaryKey" json:"id"`
	Name                string                        `gorm:"not null" json:"name"`
	Cron                string                        `gorm:"not null" json:"cron"`
	Enabled             bool                          `gorm:"index;not null" json:"enabled"`
	Environment         string                        `gorm:"not null" json:"environment"`
	LastTriggeredAt     *time.Time                    `json:"lastTriggeredAt"`
	Selector            datatypes.JSONType[Selector]  `json:"selector"`
	DefaultRunOverrides datatypes.JSONMap             `json:"defaultRunOverrides"`
	CreatedBy           string                        `json:"createdBy"`
	UpdatedBy           string                        `json:"updatedBy"`
	CreatedAt           time.Time                     `json:"createdAt"`
	UpdatedAt           time.Time                     `json:"updatedAt"`
}

// IsTerminal reports whether the run has reached a terminal status.
func (r *Run) IsTerminal() bool {
	switch r.Status {
	case RunStatusPassed, RunStatusFailed, RunStatusCancelled:
		return true
	}

	return false
}
