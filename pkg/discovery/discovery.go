// Package discovery reconciles the deployed test tree against the
// persistent catalog at startup.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/qaops/testoor/pkg/store"
)

// MetaFileName marks a directory as a candidate test folder.
const MetaFileName = "meta.json"

// ConstantsFileName is the optional per-test constants file.
const ConstantsFileName = "constants.json"

// Result summarizes one discovery pass.
type Result struct {
	Found       int
	Deactivated int64
}

// Discovery synchronizes the on-disk test tree with the catalog.
type Discovery interface {
	DiscoverAndSync(ctx context.Context) (*Result, error)
}

// Compile-time interface check.
var _ Discovery = (*discovery)(nil)

type discovery struct {
	log      logrus.FieldLogger
	store    store.Store
	testRoot string
}

// New creates a Discovery over the given test root.
func New(log logrus.FieldLogger, s store.Store, testRoot string) Discovery {
	return &discovery{
		log:      log.WithField("component", "discovery"),
		store:    s,
		testRoot: testRoot,
	}
}

// DiscoverAndSync walks the test root, upserts every valid test folder and
// deactivates catalog rows whose source vanished. An empty or missing
// tree leaves the catalog untouched so a misconfigured root cannot
// deactivate everything. Folder-level defects are logged and skipped;
// the pass never aborts wholesale.
func (d *discovery) DiscoverAndSync(ctx context.Context) (*Result, error) {
	if _, err := os.Stat(d.testRoot); os.IsNotExist(err) {
		d.log.WithField("test_root", d.testRoot).
			Warn("Test root does not exist, skipping discovery")

		return &Result{}, nil
	}

	seen := make([]string, 0, 64)

	err := filepath.WalkDir(d.testRoot,
		func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				d.log.WithError(err).WithField("path", path).
					Warn("Skipping unreadable path")

				return fs.SkipDir
			}

			if !entry.IsDir() {
				return nil
			}

			specPath, ok, folderErr := d.inspectFolder(path)
			if folderErr != nil {
				d.log.WithError(folderErr).WithField("path", path).
					Warn("Skipping test folder")

				return nil
			}

			if !ok {
				return nil
			}

			testKey, upsertErr := d.syncFolder(ctx, path, specPath)
			if upsertErr != nil {
				d.log.WithError(upsertErr).WithField("path", path).
					Warn("Skipping test folder")

				return nil
			}

			seen = append(seen, testKey)

			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("walking test root: %w", err)
	}

	result := &Result{Found: len(seen)}

	if len(seen) == 0 {
		d.log.Warn("Discovery found no tests, leaving catalog untouched")

		return result, nil
	}

	deactivated, err := d.store.DeactivateTestsNotIn(ctx, seen)
	if err != nil {
		return nil, fmt.Errorf("deactivating vanished tests: %w", err)
	}

	result.Deactivated = deactivated

	d.log.WithField("found", result.Found).
		WithField("deactivated", deactivated).
		Info("Discovery complete")

	return result, nil
}

// inspectFolder reports whether dir is a test folder: it must contain a
// meta.json and exactly one *.spec.js file. Returns the spec filename.
func (d *discovery) inspectFolder(dir string) (string, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false, fmt.Errorf("reading folder: %w", err)
	}

	var (
		hasMeta bool
		specs   []string
	)

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		if e.Name() == MetaFileName {
			hasMeta = true
		}

		if strings.HasSuffix(e.Name(), ".spec.js") {
			specs = append(specs, e.Name())
		}
	}

	if !hasMeta {
		return "", false, nil
	}

	if len(specs) != 1 {
		return "", false, fmt.Errorf(
			"expected exactly one spec file, found %d", len(specs),
		)
	}

	return specs[0], true, nil
}

// syncFolder parses the folder's payload files and upserts the catalog
// row. Returns the testKey on success.
func (d *discovery) syncFolder(
	ctx context.Context, dir, specFile string,
) (string, error) {
	metaData, err := os.ReadFile(filepath.Join(dir, MetaFileName))
	if err != nil {
		return "", fmt.Errorf("reading meta.json: %w", err)
	}

	var meta store.TestMeta
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return "", fmt.Errorf("parsing meta.json: %w", err)
	}

	if meta.TestKey == "" {
		return "", fmt.Errorf("meta.json is missing testKey")
	}

	if meta.FriendlyName == "" {
		return "", fmt.Errorf("meta.json is missing friendlyName")
	}

	constants := store.ConfigSet{}

	constData, err := os.ReadFile(filepath.Join(dir, ConstantsFileName))
	if err == nil {
		if err := json.Unmarshal(constData, &constants); err != nil {
			return "", fmt.Errorf("parsing constants.json: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("reading constants.json: %w", err)
	}

	relFolder, err := filepath.Rel(d.testRoot, dir)
	if err != nil {
		return "", fmt.Errorf("resolving folder path: %w", err)
	}

	td := &store.TestDefinition{
		TestKey:    meta.TestKey,
		FolderPath: filepath.ToSlash(relFolder),
		SpecPath:   filepath.ToSlash(filepath.Join(relFolder, specFile)),
		Meta:       datatypes.NewJSONType(meta),
		Constants:  datatypes.NewJSONType(constants),
	}

	if err := d.store.UpsertTest(ctx, td); err != nil {
		return "", fmt.Errorf("upserting test %q: %w", meta.TestKey, err)
	}

	return meta.TestKey, nil
}
