package musiclibrary

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	tempest "github.com/cashapp/tempest-sub001"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackToken(t *testing.T) {
	assert.Equal(t, "000000000000000a", TrackToken(10))
	assert.Equal(t, int64(10), NewAlbumTrackKey("ALBUM_1", 10).TrackNumber())
	assert.Equal(t, int64(0), AlbumTrackKey{AlbumToken: "ALBUM_1"}.TrackNumber())
	assert.Less(t, TrackToken(9), TrackToken(10), "tokens sort by track number")
}

func TestAlbum_AlbumTracks(t *testing.T) {
	tracks := AfterHoursEP.AlbumTracks()

	require.Len(t, tracks, 5)
	for i, track := range tracks {
		assert.Equal(t, AfterHoursEP.Info.AlbumToken, track.AlbumToken)
		assert.Equal(t, int64(i+1), track.TrackNumber())
		assert.Equal(t, NewAlbumTrackKey(AfterHoursEP.Info.AlbumToken, int64(i+1)), track.Key())
	}
	assert.Equal(t, "heat", tracks[4].TrackTitle)
}

func TestMusicTable_Codecs(t *testing.T) {
	table, err := NewMusicTable(tempest.New(nil))
	require.NoError(t, err)

	row, err := table.AlbumTracks.ItemCodec().ToPhysical(TheWall.AlbumTracks()[0])
	require.NoError(t, err)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "TRACK_0000000000000001"}, row["sort_key"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "T_In the Flesh?"}, row["track_title"])

	track, err := table.AlbumTracks.ItemCodec().ToApplication(row)
	require.NoError(t, err)
	assert.Equal(t, TheWall.AlbumTracks()[0], track)
}

func TestNewMusicTable_ShapeConflict(t *testing.T) {
	db := tempest.New(nil)
	_, err := db.Table(TableName, tempest.Shape{HashKey: "id"})
	require.NoError(t, err)

	_, err = NewMusicTable(db)
	assert.ErrorContains(t, err, "already bound to a different shape")
}
