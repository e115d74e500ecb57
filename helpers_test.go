package tempest_test

import (
	"testing"

	tempest "github.com/cashapp/tempest-sub001"
	"github.com/cashapp/tempest-sub001/dynamock"
	"github.com/cashapp/tempest-sub001/internal/musiclibrary"
	"github.com/stretchr/testify/require"
)

// newMusicLibrary returns an in-memory music table with every view bound.
func newMusicLibrary(t *testing.T, opts ...tempest.Option) (*dynamock.MemoryClient, *tempest.DB, *musiclibrary.MusicTable) {
	t.Helper()
	mem := dynamock.NewMemoryClient()
	require.NoError(t, mem.CreateTable(musiclibrary.TableName, musiclibrary.Shape()))

	db := tempest.New(mem, opts...)
	table, err := musiclibrary.NewMusicTable(db)
	require.NoError(t, err)
	return mem, db, table
}
