package tempest_test

import (
	"context"
	"testing"

	tempest "github.com/cashapp/tempest-sub001"
	"github.com/cashapp/tempest-sub001/dynamock"
	"github.com/cashapp/tempest-sub001/internal/musiclibrary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIntegration_MusicLibrary runs against DynamoDB Local and is skipped
// when it is not running.
func TestIntegration_MusicLibrary(t *testing.T) {
	dynamock.RunIntegrationTest(t, nil, musiclibrary.Shape(), func(local *dynamock.LocalDynamoDB, tableName string) {
		ctx := context.Background()
		db := tempest.New(local.Client, tempest.WithTableNameResolver(func(string) string { return tableName }))
		music, err := musiclibrary.NewMusicTable(db)
		require.NoError(t, err)
		require.NoError(t, musiclibrary.GivenAlbums(ctx, db, musiclibrary.TheWall, musiclibrary.AfterHoursEP))

		album, err := music.AlbumInfo.Load(ctx, musiclibrary.TheWall.Info.Key(), tempest.WithConsistentRead())
		require.NoError(t, err)
		assert.Equal(t, musiclibrary.TheWall.Info, album)

		page, err := music.AlbumTracks.Query(ctx, tempest.Between[musiclibrary.AlbumTrackKey]{
			Start: musiclibrary.NewAlbumTrackKey(album.AlbumToken, 1),
			End:   musiclibrary.NewAlbumTrackKey(album.AlbumToken, 3),
		}, func(o *tempest.QueryOptions[musiclibrary.AlbumTrackKey]) { o.ConsistentRead = true })
		require.NoError(t, err)
		assert.Equal(t, musiclibrary.TheWall.AlbumTracks()[:3], page.Contents)

		playlist := musiclibrary.PlaylistInfo{PlaylistToken: "PL_integration", PlaylistName: "Mix", PlaylistVersion: 1}
		require.NoError(t, music.PlaylistInfo.Save(ctx, playlist))
		tracks := make([]musiclibrary.AlbumTrackKey, 0, 12)
		for _, track := range musiclibrary.TheWall.AlbumTracks()[:12] {
			tracks = append(tracks, track.Key())
		}
		n, err := musiclibrary.AppendTracks(ctx, db, music, playlist.PlaylistToken, tracks, 5)
		require.NoError(t, err)
		assert.Equal(t, 12, n)

		got, err := music.PlaylistInfo.Load(ctx, playlist.Key(), tempest.WithConsistentRead())
		require.NoError(t, err)
		assert.Equal(t, tracks, got.PlaylistTracks)
		assert.Equal(t, int64(4), got.PlaylistVersion)
	})
}
