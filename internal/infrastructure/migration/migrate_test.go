package migration

import (
	"io"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListMigrations(t *testing.T) {
	list, err := ListMigrations()
	require.NoError(t, err)
	require.Len(t, list, 3)

	assert.Equal(t, Available{Version: 1, Name: "create_sync_tables"}, list[0])
	assert.Equal(t, Available{Version: 2, Name: "create_sync_runs"}, list[1])
	assert.Equal(t, Available{Version: 3, Name: "add_checkpoint_window"}, list[2])
}

func TestEmbeddedSource(t *testing.T) {
	src, err := iofs.New(migrationFS, migrationDir)
	require.NoError(t, err)
	defer src.Close()

	first, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), first)

	versions := []uint{first}
	for v := first; ; {
		next, err := src.Next(v)
		if err != nil {
			break
		}
		versions = append(versions, next)
		v = next
	}
	assert.Equal(t, []uint{1, 2, 3}, versions)

	for _, version := range versions {
		up, _, err := src.ReadUp(version)
		require.NoError(t, err)
		body, err := io.ReadAll(up)
		require.NoError(t, err)
		_ = up.Close()
		assert.Contains(t, string(body), "sync_")

		down, _, err := src.ReadDown(version)
		require.NoError(t, err)
		_ = down.Close()
	}
}
