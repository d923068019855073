package recording

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/driverbench/internal/driver"
)

func TestFixture_SaveLoadRoundtrip(t *testing.T) {
	store := NewStore(driver.ProviderSQLite)
	require.NoError(t, store.putQuery(KeyFor("SELECT id FROM users"), &driver.ResultSet{
		ColumnNames: []string{"id"},
		ColumnTypes: []driver.ColumnType{driver.ColumnTypeInt64},
		Rows:        [][]any{{float64(9007199254740993)}},
	}))
	require.NoError(t, store.putExec(KeyFor("DELETE FROM users"), 3))

	dir := filepath.Join(t.TempDir(), "fixture")
	require.NoError(t, store.Save(dir))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, driver.ProviderSQLite, loaded.Provider())
	assert.Equal(t, 2, loaded.Len())

	rs, ok := loaded.getQuery(KeyFor("SELECT id FROM users"))
	require.True(t, ok)
	assert.Equal(t, []string{"id"}, rs.ColumnNames)

	n, ok := loaded.getExec(KeyFor("DELETE FROM users"))
	require.True(t, ok)
	assert.Equal(t, int64(3), n)
}

func TestFixture_LoadRejectsUnknownProvider(t *testing.T) {
	dir := t.TempDir()
	writeFixtureFiles(t, dir,
		"version: 1\nprovider: oracle\nentries: 0\n",
		"")

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid fixture manifest")
}

func TestFixture_LoadRejectsVersionMismatch(t *testing.T) {
	dir := t.TempDir()
	writeFixtureFiles(t, dir,
		"version: 99\nprovider: sqlite\nentries: 0\n",
		"")

	_, err := Load(dir)
	require.Error(t, err)
}

func TestFixture_LoadRejectsEntryCountMismatch(t *testing.T) {
	dir := t.TempDir()
	writeFixtureFiles(t, dir,
		"version: 1\nprovider: sqlite\nentries: 5\n",
		`{"kind":"execute","key":"DELETE FROM t","rowsAffected":1}`+"\n")

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entries")
}

func TestFixture_LoadRejectsDuplicateKeys(t *testing.T) {
	dir := t.TempDir()
	line := `{"kind":"execute","key":"DELETE FROM t","rowsAffected":1}` + "\n"
	writeFixtureFiles(t, dir,
		"version: 1\nprovider: sqlite\nentries: 2\n",
		line+line)

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestFixture_LoadMissingManifest(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
}

func writeFixtureFiles(t *testing.T, dir, manifest, workload string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifestFile), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, workloadFile), []byte(workload), 0o644))
}
