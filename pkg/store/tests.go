package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// UpsertTest inserts or updates a catalog row keyed by testKey. Updates
// replace location, meta and constants and reactivate the row; overrides
// are never touched here.
func (s *store) UpsertTest(ctx context.Context, td *TestDefinition) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing TestDefinition

		err := tx.Where("test_key = ?", td.TestKey).First(&existing).Error

		switch {
		case err == nil:
			updates := map[string]any{
				"folder_path": td.FolderPath,
				"spec_path":   td.SpecPath,
				"meta":        td.Meta,
				"constants":   td.Constants,
				"active":      true,
				"updated_at":  time.Now().UTC(),
			}

			if err := tx.Model(&TestDefinition{}).
				Where("id = ?", existing.ID).
				Updates(updates).Error; err != nil {
				return fmt.Errorf("updating test %q: %w", td.TestKey, err)
			}

			td.ID = existing.ID

			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			if td.ID == "" {
				td.ID = uuid.NewString()
			}

			td.Active = true

			now := time.Now().UTC()
			td.CreatedAt = now
			td.UpdatedAt = now

			if err := tx.Create(td).Error; err != nil {
				return fmt.Errorf("inserting test %q: %w", td.TestKey, err)
			}

			return nil
		default:
			return fmt.Errorf("looking up test %q: %w", td.TestKey, err)
		}
	})
}

// GetTestByKey returns the catalog row for testKey.
func (s *store) GetTestByKey(
	ctx context.Context, testKey string,
) (*TestDefinition, error) {
	var td TestDefinition
	if err := s.db.WithContext(ctx).
		Where("test_key = ?", testKey).
		First(&td).Error; err != nil {
		return nil, fmt.Errorf("getting test by key: %w", err)
	}

	return &td, nil
}

// ListTests returns active catalog rows, optionally filtered by folder
// prefix or by overlap with any of the given tags.
func (s *store) ListTests(
	ctx context.Context, prefix string, tags []string,
) ([]TestDefinition, error) {
	var tests []TestDefinition

	q := s.db.WithContext(ctx).Where("active = ?", true)

	if prefix != "" {
		q = q.Where("folder_path LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%")
	}

	if err := q.Order("test_key ASC").Find(&tests).Error; err != nil {
		return nil, fmt.Errorf("listing tests: %w", err)
	}

	if len(tags) == 0 {
		return tests, nil
	}

	// Tags live inside the JSON meta column; filter after the fetch.
	filtered := tests[:0]

	for _, td := range tests {
		if anyTagOverlap(td.Meta.Data().Tags, tags) {
			filtered = append(filtered, td)
		}
	}

	return filtered, nil
}

// ListActiveTestsByKeys returns the active rows whose testKey is in keys.
func (s *store) ListActiveTestsByKeys(
	ctx context.Context, keys []string,
) ([]TestDefinition, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	var tests []TestDefinition
	if err := s.db.WithContext(ctx).
		Where("active = ? AND test_key IN ?", true, keys).
		Order("test_key ASC").
		Find(&tests).Error; err != nil {
		return nil, fmt.Errorf("listing tests by keys: %w", err)
	}

	return tests, nil
}

// ResolveSelector materializes a schedule selector to the concrete set of
// active tests it matches.
func (s *store) ResolveSelector(
	ctx context.Context, sel Selector,
) ([]TestDefinition, error) {
	switch sel.Type {
	case SelectorFolder:
		return s.ListTests(ctx, sel.FolderPrefix, nil)
	case SelectorTags:
		return s.ListTests(ctx, "", sel.Tags)
	case SelectorExplicit:
		return s.ListActiveTestsByKeys(ctx, sel.TestKeys)
	default:
		return nil, fmt.Errorf("unknown selector type %q", sel.Type)
	}
}

// SetTestOverrides atomically replaces the overrides payload for testKey.
func (s *store) SetTestOverrides(
	ctx context.Context, testKey string, overrides *ConfigSet,
) error {
	result := s.db.WithContext(ctx).
		Model(&TestDefinition{}).
		Where("test_key = ?", testKey).
		Updates(map[string]any{
			"overrides":  datatypes.NewJSONType(overrides),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("setting overrides: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}

// DeactivateTestsNotIn marks every catalog row whose testKey is not in
// seenKeys as inactive. Callers must not invoke this with an empty set.
func (s *store) DeactivateTestsNotIn(
	ctx context.Context, seenKeys []string,
) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&TestDefinition{}).
		Where("active = ? AND test_key NOT IN ?", true, seenKeys).
		Updates(map[string]any{
			"active":     false,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("deactivating tests: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// ListTags returns the sorted distinct union of tags across active tests.
func (s *store) ListTags(ctx context.Context) ([]string, error) {
	tests, err := s.ListTests(ctx, "", nil)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})

	for _, td := range tests {
		for _, tag := range td.Meta.Data().Tags {
			seen[tag] = struct{}{}
		}
	}

	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}

	sort.Strings(tags)

	return tags, nil
}

// ListFolders returns the sorted distinct folder paths of active tests.
func (s *store) ListFolders(ctx context.Context) ([]string, error) {
	var folders []string
	if err := s.db.WithContext(ctx).
		Model(&TestDefinition{}).
		Where("active = ?", true).
		Distinct("folder_path").
		Order("folder_path ASC").
		Pluck("folder_path", &folders).Error; err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}

	return folders, nil
}

// anyTagOverlap reports whether have and want share at least one tag.
func anyTagOverlap(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}

	return false
}

// escapeLike escapes SQL LIKE wildcards in a literal prefix.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)

	return strings.ReplaceAll(s, "_", `\_`)
}
