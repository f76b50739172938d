package store_test

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/qaops/testoor/pkg/store"
)

func setupTestStore(t *testing.T) store.Store {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := store.NewStore(log, ":memory:")
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func testDef(key, folder string, tags ...string) *store.TestDefinition {
	return &store.TestDefinition{
		TestKey:    key,
		FolderPath: folder,
		SpecPath:   folder + "/" + key + ".spec.js",
		Meta: datatypes.NewJSONType(store.TestMeta{
			TestKey:      key,
			FriendlyName: "Test " + key,
			Tags:         tags,
		}),
		Constants: datatypes.NewJSONType(store.ConfigSet{
			Shared: map[string]any{"baseUrl": "https://example.test"},
		}),
	}
}

func TestUpsertTest_InsertThenUpdate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	td := testDef("auth.basic-login", "auth/basic-login", "auth")
	require.NoError(t, s.UpsertTest(ctx, td))
	require.NotEmpty(t, td.ID)

	got, err := s.GetTestByKey(ctx, "auth.basic-login")
	require.NoError(t, err)
	assert.Equal(t, td.ID, got.ID)
	assert.True(t, got.Active)
	assert.Equal(t, "Test auth.basic-login", got.Meta.Data().FriendlyName)
	assert.Equal(t,
		map[string]any{"baseUrl": "https://example.test"},
		got.Constants.Data().Shared,
	)

	// Re-discovery mutates the existing row rather than inserting.
	updated := testDef("auth.basic-login", "auth/login-v2", "auth", "smoke")
	require.NoError(t, s.UpsertTest(ctx, updated))
	assert.Equal(t, td.ID, updated.ID)

	got, err = s.GetTestByKey(ctx, "auth.basic-login")
	require.NoError(t, err)
	assert.Equal(t, "auth/login-v2", got.FolderPath)
	assert.Equal(t, []string{"auth", "smoke"}, got.Meta.Data().Tags)
}

func TestUpsertTest_PreservesOverrides(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertTest(ctx, testDef("t1", "f1")))

	overrides := &store.ConfigSet{
		Shared: map[string]any{"timeout": float64(5000)},
	}
	require.NoError(t, s.SetTestOverrides(ctx, "t1", overrides))

	// A later discovery pass must not touch overrides.
	require.NoError(t, s.UpsertTest(ctx, testDef("t1", "f1-moved")))

	got, err := s.GetTestByKey(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got.Overrides.Data())
	assert.Equal(t,
		map[string]any{"timeout": float64(5000)},
		got.Overrides.Data().Shared,
	)
	assert.Equal(t, "f1-moved", got.FolderPath)
}

func TestListTests_Filters(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertTest(ctx, testDef("a.one", "auth/one", "auth")))
	require.NoError(t, s.UpsertTest(ctx, testDef("a.two", "auth/two", "auth", "smoke")))
	require.NoError(t, s.UpsertTest(ctx, testDef("c.one", "cart/one", "cart")))

	all, err := s.ListTests(ctx, "", nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byPrefix, err := s.ListTests(ctx, "auth/", nil)
	require.NoError(t, err)
	assert.Len(t, byPrefix, 2)

	byTags, err := s.ListTests(ctx, "", []string{"smoke", "cart"})
	require.NoError(t, err)
	require.Len(t, byTags, 2)
	assert.Equal(t, "a.two", byTags[0].TestKey)
	assert.Equal(t, "c.one", byTags[1].TestKey)
}

func TestDeactivateTestsNotIn(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertTest(ctx, testDef("keep", "a")))
	require.NoError(t, s.UpsertTest(ctx, testDef("drop", "b")))

	n, err := s.DeactivateTestsNotIn(ctx, []string{"keep"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	dropped, err := s.GetTestByKey(ctx, "drop")
	require.NoError(t, err)
	assert.False(t, dropped.Active)

	active, err := s.ListTests(ctx, "", nil)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "keep", active[0].TestKey)
}

func TestResolveSelector(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertTest(ctx, testDef("a.one", "auth/one", "auth")))
	require.NoError(t, s.UpsertTest(ctx, testDef("c.one", "cart/one", "cart")))

	folder, err := s.ResolveSelector(ctx, store.Selector{
		Type: store.SelectorFolder, FolderPrefix: "cart",
	})
	require.NoError(t, err)
	require.Len(t, folder, 1)
	assert.Equal(t, "c.one", folder[0].TestKey)

	tags, err := s.ResolveSelector(ctx, store.Selector{
		Type: store.SelectorTags, Tags: []string{"auth"},
	})
	require.NoError(t, err)
	require.Len(t, tags, 1)

	explicit, err := s.ResolveSelector(ctx, store.Selector{
		Type:     store.SelectorExplicit,
		TestKeys: []string{"a.one", "missing"},
	})
	require.NoError(t, err)
	require.Len(t, explicit, 1)

	_, err = s.ResolveSelector(ctx, store.Selector{Type: "bogus"})
	assert.Error(t, err)
}

func TestListTagsAndFolders(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertTest(ctx, testDef("a", "auth", "auth", "smoke")))
	require.NoError(t, s.UpsertTest(ctx, testDef("b", "cart", "cart", "smoke")))

	tags, err := s.ListTags(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"auth", "cart", "smoke"}, tags)

	folders, err := s.ListFolders(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"auth", "cart"}, folders)
}
