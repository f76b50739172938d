// Package artifacts owns the on-disk artifact tree:
//
//	<root>/<runId>/<testKey>/{console.log, live.jpg, video.webm, ...}
//
// Directories are partitioned by run and test so concurrent executors
// never write the same file. Retention deletes run directories in
// lockstep with their database rows.
package artifacts

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Well-known artifact filenames.
const (
	ConsoleLogName     = "console.log"
	LiveScreenshotName = "live.jpg"
	VideoName          = "video.webm"
)

// Manager resolves and maintains paths inside the artifact root.
type Manager struct {
	log  logrus.FieldLogger
	root string
}

// NewManager creates a Manager rooted at root.
func NewManager(log logrus.FieldLogger, root string) *Manager {
	return &Manager{
		log:  log.WithField("component", "artifacts"),
		root: filepath.Clean(root),
	}
}

// Root returns the artifact root directory.
func (m *Manager) Root() string {
	return m.root
}

// RunDir returns the directory owned by a run.
func (m *Manager) RunDir(runID string) string {
	return filepath.Join(m.root, runID)
}

// TestDir returns the directory owned by one test within a run.
func (m *Manager) TestDir(runID, testKey string) string {
	return filepath.Join(m.root, runID, testKey)
}

// EnsureRunDir creates the run's directory.
func (m *Manager) EnsureRunDir(runID string) error {
	if err := os.MkdirAll(m.RunDir(runID), 0755); err != nil {
		return fmt.Errorf("creating run dir: %w", err)
	}

	return nil
}

// EnsureTestDir creates the test's directory and returns its path.
func (m *Manager) EnsureTestDir(runID, testKey string) (string, error) {
	dir := m.TestDir(runID, testKey)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating test dir: %w", err)
	}

	return dir, nil
}

// SeedConsoleLog creates the test's console.log with a timestamp header
// and the environment code. Later writes append; the file is never
// truncated after this.
func (m *Manager) SeedConsoleLog(runID, testKey, envCode string) error {
	header := fmt.Sprintf("[%s] Starting test %s (environment: %s)\n",
		time.Now().UTC().Format(time.RFC3339), testKey, envCode)

	path := filepath.Join(m.TestDir(runID, testKey), ConsoleLogName)
	if err := os.WriteFile(path, []byte(header), 0644); err != nil {
		return fmt.Errorf("seeding console log: %w", err)
	}

	return nil
}

// AppendWriter opens the test's console.log for appending.
func (m *Manager) AppendWriter(runID, testKey string) (io.WriteCloser, error) {
	path := filepath.Join(m.TestDir(runID, testKey), ConsoleLogName)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening console log: %w", err)
	}

	return f, nil
}

// ReadLogAt returns the console.log bytes from offset onward plus the new
// total length. A missing file yields empty content and the caller's
// offset, so pollers started before the first write see a consistent
// contract.
func (m *Manager) ReadLogAt(
	runID, testKey string, offset int64,
) ([]byte, int64, error) {
	path := filepath.Join(m.TestDir(runID, testKey), ConsoleLogName)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, offset, nil
		}

		return nil, 0, fmt.Errorf("opening console log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("statting console log: %w", err)
	}

	size := info.Size()

	if offset < 0 {
		offset = 0
	}

	if offset >= size {
		return nil, size, nil
	}

	content := make([]byte, size-offset)
	if _, err := f.ReadAt(content, offset); err != nil && err != io.EOF {
		return nil, 0, fmt.Errorf("reading console log: %w", err)
	}

	return content, size, nil
}

// LiveScreenshotPath returns where the driver drops its live preview.
func (m *Manager) LiveScreenshotPath(runID, testKey string) string {
	return filepath.Join(m.TestDir(runID, testKey), LiveScreenshotName)
}

// RemoveLiveScreenshot deletes the live preview after a test ends.
func (m *Manager) RemoveLiveScreenshot(runID, testKey string) {
	err := os.Remove(m.LiveScreenshotPath(runID, testKey))
	if err != nil && !os.IsNotExist(err) {
		m.log.WithError(err).
			WithField("run_id", runID).
			WithField("test_key", testKey).
			Warn("Failed to remove live screenshot")
	}
}

// LocateVideo finds the first *.webm or *.mp4 the driver produced under
// the test's directory. A video found in a subdirectory is moved to the
// directory root as video.webm. Returns the filename relative to the test
// directory, or nil when no video exists.
func (m *Manager) LocateVideo(runID, testKey string) (*string, error) {
	dir := m.TestDir(runID, testKey)

	var found string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || found != "" {
			return nil
		}

		switch strings.ToLower(filepath.Ext(d.Name())) {
		case ".webm", ".mp4":
			found = path
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("searching for video: %w", err)
	}

	if found == "" {
		return nil, nil
	}

	if filepath.Dir(found) == dir {
		name := filepath.Base(found)

		return &name, nil
	}

	target := filepath.Join(dir, VideoName)
	if err := os.Rename(found, target); err != nil {
		return nil, fmt.Errorf("moving video to test dir: %w", err)
	}

	name := VideoName

	return &name, nil
}

// RemoveRunDir deletes a run's whole artifact tree.
func (m *Manager) RemoveRunDir(runID string) error {
	if err := os.RemoveAll(m.RunDir(runID)); err != nil {
		return fmt.Errorf("removing run dir: %w", err)
	}

	return nil
}

// ListOrphanDirs returns UUID-named children of the root for which known
// reports false. Non-UUID names are left alone; they were not created by
// the executor.
func (m *Manager) ListOrphanDirs(known func(id string) bool) ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading artifact root: %w", err)
	}

	var orphans []string

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		if _, err := uuid.Parse(e.Name()); err != nil {
			continue
		}

		if !known(e.Name()) {
			orphans = append(orphans, e.Name())
		}
	}

	return orphans, nil
}

// SafeName reports whether name is a plain filename with no traversal or
// separator characters.
func SafeName(name string) bool {
	if name == "" || name == "." {
		return false
	}

	if strings.Contains(name, "..") {
		return false
	}

	return !strings.ContainsAny(name, `/\`)
}

// FilePath resolves an artifact filename inside a test directory,
// rejecting unsafe path components.
func (m *Manager) FilePath(runID, testKey, name string) (string, error) {
	if !SafeName(runID) || !SafeName(testKey) || !SafeName(name) {
		return "", fmt.Errorf("unsafe artifact path component")
	}

	return filepath.Join(m.TestDir(runID, testKey), name), nil
}
