package musiclibrary

import (
	"fmt"

	tempest "github.com/cashapp/tempest-sub001"
)

// TableName is the logical name of the music table.
const TableName = "music_items"

// Secondary indexes of the music table.
const (
	GenreAlbumIndex      = "genre_album_index"
	ArtistAlbumIndex     = "artist_album_index"
	LabelAlbumIndex      = "label_album_index"
	AlbumTrackTitleIndex = "album_track_title_index"
)

// Shape returns the physical shape of the music table.
func Shape() tempest.Shape {
	return tempest.Shape{
		HashKey:  "partition_key",
		RangeKey: "sort_key",
		Attributes: []string{
			"album_title",
			"artist_name",
			"release_date",
			"genre_name",
			"label_name",
			"track_title",
			"run_length",
			"playlist_name",
			"playlist_tracks",
			"playlist_version",
		},
		Indexes: []tempest.IndexShape{
			{Name: GenreAlbumIndex, Kind: tempest.GlobalIndex, HashKey: "genre_name", RangeKey: "partition_key"},
			{Name: ArtistAlbumIndex, Kind: tempest.GlobalIndex, HashKey: "artist_name", RangeKey: "partition_key"},
			{Name: LabelAlbumIndex, Kind: tempest.GlobalIndex, HashKey: "label_name", RangeKey: "partition_key"},
			{Name: AlbumTrackTitleIndex, Kind: tempest.LocalIndex, RangeKey: "track_title"},
		},
	}
}

// MusicTable holds the views of the music table.
type MusicTable struct {
	*tempest.Table

	AlbumInfo    *tempest.InlineView[AlbumInfoKey, AlbumInfo]
	AlbumTracks  *tempest.InlineView[AlbumTrackKey, AlbumTrack]
	PlaylistInfo *tempest.InlineView[PlaylistInfoKey, PlaylistInfo]

	AlbumInfoByGenre  *tempest.SecondaryIndex[GenreIndexOffset, AlbumInfo]
	AlbumInfoByArtist *tempest.SecondaryIndex[ArtistIndexOffset, AlbumInfo]
	AlbumInfoByLabel  *tempest.SecondaryIndex[LabelIndexOffset, AlbumInfo]

	AlbumTracksByTitle *tempest.SecondaryIndex[TitleIndexOffset, AlbumTrack]
}

// NewMusicTable binds the music table and every view of it on db.
func NewMusicTable(db *tempest.DB) (*MusicTable, error) {
	table, err := db.Table(TableName, Shape())
	if err != nil {
		return nil, err
	}
	m := &MusicTable{Table: table}

	if m.AlbumInfo, err = tempest.NewInlineView(table, albumInfoKeyMapping, albumInfoMapping); err != nil {
		return nil, fmt.Errorf("album info: %w", err)
	}
	if m.AlbumTracks, err = tempest.NewInlineView(table, albumTrackKeyMapping, albumTrackMapping); err != nil {
		return nil, fmt.Errorf("album tracks: %w", err)
	}
	if m.PlaylistInfo, err = tempest.NewInlineView(table, playlistInfoKeyMapping, playlistInfoMapping); err != nil {
		return nil, fmt.Errorf("playlist info: %w", err)
	}
	if m.AlbumInfoByGenre, err = tempest.NewSecondaryIndex(table, genreIndexOffsetMapping, albumInfoMapping); err != nil {
		return nil, fmt.Errorf("album info by genre: %w", err)
	}
	if m.AlbumInfoByArtist, err = tempest.NewSecondaryIndex(table, artistIndexOffsetMapping, albumInfoMapping); err != nil {
		return nil, fmt.Errorf("album info by artist: %w", err)
	}
	if m.AlbumInfoByLabel, err = tempest.NewSecondaryIndex(table, labelIndexOffsetMapping, albumInfoMapping); err != nil {
		return nil, fmt.Errorf("album info by label: %w", err)
	}
	if m.AlbumTracksByTitle, err = tempest.NewSecondaryIndex(table, titleIndexOffsetMapping, albumTrackMapping); err != nil {
		return nil, fmt.Errorf("album tracks by title: %w", err)
	}
	return m, nil
}
