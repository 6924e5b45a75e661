package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractVersion(t *testing.T) {
	assert.Equal(t, "000001", extractVersion("000001_event_log.up.sql"))
	assert.Equal(t, "000002", extractVersion("000002_projections.down.sql"))
	assert.Equal(t, "noversion.sql", extractVersion("noversion.sql"))
}

func TestListMigrationFiles_SortedBySuffix(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"000002_b.up.sql", "000001_a.up.sql", "000001_a.down.sql", "README.md",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "000003_dir.up.sql"), 0o755))

	up, err := listMigrationFiles(dir, ".up.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_a.up.sql", "000002_b.up.sql"}, up)

	down, err := listMigrationFiles(dir, ".down.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_a.down.sql"}, down)
}

func TestMigrator_ReadFileChecksumTracksContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000001_a.up.sql")
	require.NoError(t, os.WriteFile(path, []byte("CREATE TABLE a (id INT);"), 0o644))

	m := NewMigrator(nil, dir, zerolog.Nop())
	body, sum1, err := m.readFile("000001_a.up.sql")
	require.NoError(t, err)
	assert.Equal(t, "CREATE TABLE a (id INT);", body)
	assert.Len(t, sum1, 64)

	require.NoError(t, os.WriteFile(path, []byte("CREATE TABLE a (id BIGINT);"), 0o644))
	_, sum2, err := m.readFile("000001_a.up.sql")
	require.NoError(t, err)
	assert.NotEqual(t, sum1, sum2)

	_, _, err = m.readFile("missing.up.sql")
	assert.Error(t, err)
}

func TestRepoMigrationsPair(t *testing.T) {
	dir := filepath.Join("..", "..", "migrations")
	up, err := listMigrationFiles(dir, ".up.sql")
	require.NoError(t, err)
	down, err := listMigrationFiles(dir, ".down.sql")
	require.NoError(t, err)
	require.Len(t, down, len(up))
	for i := range up {
		assert.Equal(t, extractVersion(up[i]), extractVersion(down[i]))
	}
}
