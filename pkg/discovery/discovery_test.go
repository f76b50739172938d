package discovery_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qaops/testoor/pkg/discovery"
	"github.com/qaops/testoor/pkg/store"
)

func setupStore(t *testing.T) store.Store {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := store.NewStore(log, ":memory:")
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func writeTestFolder(
	t *testing.T, root, folder, testKey string, constants string,
) {
	t.Helper()

	dir := filepath.Join(root, filepath.FromSlash(folder))
	require.NoError(t, os.MkdirAll(dir, 0755))

	meta := `{"testKey":"` + testKey + `","friendlyName":"` + testKey +
		`","tags":["ui"]}`
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "meta.json"), []byte(meta), 0644,
	))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, testKey+".spec.js"), []byte("// spec"), 0644,
	))

	if constants != "" {
		require.NoError(t, os.WriteFile(
			filepath.Join(dir, "constants.json"), []byte(constants), 0644,
		))
	}
}

func TestDiscoverAndSync_UpsertsTests(t *testing.T) {
	s := setupStore(t)
	root := t.TempDir()

	writeTestFolder(t, root, "auth/login", "auth.login",
		`{"shared":{"baseUrl":"https://x"},"environments":{"SIT1":{"user":"u1"}}}`)
	writeTestFolder(t, root, "cart/checkout", "cart.checkout", "")

	d := discovery.New(quietLog(), s, root)

	result, err := d.DiscoverAndSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Found)
	assert.Equal(t, int64(0), result.Deactivated)

	td, err := s.GetTestByKey(context.Background(), "auth.login")
	require.NoError(t, err)
	assert.Equal(t, "auth/login", td.FolderPath)
	assert.Equal(t, "auth/login/auth.login.spec.js", td.SpecPath)
	assert.Equal(t,
		map[string]any{"baseUrl": "https://x"},
		td.Constants.Data().Shared,
	)
	assert.Equal(t,
		map[string]any{"user": "u1"},
		td.Constants.Data().Environments["SIT1"],
	)
}

func TestDiscoverAndSync_DeactivatesVanished(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	root := t.TempDir()

	writeTestFolder(t, root, "a", "a.test", "")
	writeTestFolder(t, root, "b", "b.test", "")

	d := discovery.New(quietLog(), s, root)

	_, err := d.DiscoverAndSync(ctx)
	require.NoError(t, err)

	// Remove one folder and re-run.
	require.NoError(t, os.RemoveAll(filepath.Join(root, "b")))

	result, err := d.DiscoverAndSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Found)
	assert.Equal(t, int64(1), result.Deactivated)

	gone, err := s.GetTestByKey(ctx, "b.test")
	require.NoError(t, err)
	assert.False(t, gone.Active)
}

func TestDiscoverAndSync_EmptyTreeLeavesCatalog(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	populated := t.TempDir()
	writeTestFolder(t, populated, "a", "a.test", "")

	_, err := discovery.New(quietLog(), s, populated).DiscoverAndSync(ctx)
	require.NoError(t, err)

	// Pointing at an empty root must not mass-deactivate.
	empty := t.TempDir()

	result, err := discovery.New(quietLog(), s, empty).DiscoverAndSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Found)

	td, err := s.GetTestByKey(ctx, "a.test")
	require.NoError(t, err)
	assert.True(t, td.Active)
}

func TestDiscoverAndSync_MissingRoot(t *testing.T) {
	s := setupStore(t)

	d := discovery.New(quietLog(), s, filepath.Join(t.TempDir(), "nope"))

	result, err := d.DiscoverAndSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Found)
}

func TestDiscoverAndSync_SkipsDefectiveFolders(t *testing.T) {
	s := setupStore(t)
	root := t.TempDir()

	writeTestFolder(t, root, "good", "good.test", "")

	// Folder with two spec files is skipped.
	two := filepath.Join(root, "two-specs")
	require.NoError(t, os.MkdirAll(two, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(two, "meta.json"),
		[]byte(`{"testKey":"two","friendlyName":"two"}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(two, "a.spec.js"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(two, "b.spec.js"), nil, 0644))

	// Folder with unparseable meta is skipped.
	bad := filepath.Join(root, "bad-meta")
	require.NoError(t, os.MkdirAll(bad, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(bad, "meta.json"),
		[]byte("{not json"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(bad, "c.spec.js"), nil, 0644))

	// Folder missing friendlyName is skipped.
	anon := filepath.Join(root, "anon")
	require.NoError(t, os.MkdirAll(anon, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(anon, "meta.json"),
		[]byte(`{"testKey":"anon"}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(anon, "d.spec.js"), nil, 0644))

	result, err := discovery.New(quietLog(), s, root).
		DiscoverAndSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Found)

	_, err = s.GetTestByKey(context.Background(), "two")
	assert.Error(t, err)
}

func TestDiscoverAndSync_Rerun_Stable(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	root := t.TempDir()

	writeTestFolder(t, root, "a", "a.test", "")

	d := discovery.New(quietLog(), s, root)

	_, err := d.DiscoverAndSync(ctx)
	require.NoError(t, err)

	before, err := s.GetTestByKey(ctx, "a.test")
	require.NoError(t, err)

	_, err = d.DiscoverAndSync(ctx)
	require.NoError(t, err)

	after, err := s.GetTestByKey(ctx, "a.test")
	require.NoError(t, err)

	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, before.FolderPath, after.FolderPath)
	assert.True(t, after.Active)
}
