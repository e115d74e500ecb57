// Package musiclibrary is a sample single-table model: albums, their tracks
// and playlists stored in one DynamoDB table.
package musiclibrary

import (
	"fmt"
	"strconv"
	"time"

	tempest "github.com/cashapp/tempest-sub001"
)

// AlbumInfo is the info row of an album.
type AlbumInfo struct {
	AlbumToken  string
	AlbumTitle  string
	ArtistName  string
	ReleaseDate string // yyyy-mm-dd
	GenreName   string
	LabelName   *string
}

// Key returns the primary key of the album.
func (a AlbumInfo) Key() AlbumInfoKey {
	return AlbumInfoKey{AlbumToken: a.AlbumToken}
}

// AlbumInfoKey addresses an AlbumInfo.
type AlbumInfoKey struct {
	AlbumToken string
}

// GenreIndexOffset pages through albums of a genre.
type GenreIndexOffset struct {
	GenreName  string
	AlbumToken string
}

// ArtistIndexOffset pages through albums of an artist.
type ArtistIndexOffset struct {
	ArtistName string
	AlbumToken string
}

// LabelIndexOffset pages through albums of a record label.
type LabelIndexOffset struct {
	LabelName  string
	AlbumToken string
}

// AlbumTrack is one track of an album. TrackToken is the hex encoded track
// number, so tracks sort by number.
type AlbumTrack struct {
	AlbumToken string
	TrackToken string
	TrackTitle string
	RunLength  time.Duration
}

// NewAlbumTrack returns track number n of an album.
func NewAlbumTrack(albumToken string, n int64, title string, runLength time.Duration) AlbumTrack {
	return AlbumTrack{
		AlbumToken: albumToken,
		TrackToken: TrackToken(n),
		TrackTitle: title,
		RunLength:  runLength,
	}
}

// Key returns the primary key of the track.
func (t AlbumTrack) Key() AlbumTrackKey {
	return AlbumTrackKey{AlbumToken: t.AlbumToken, TrackToken: t.TrackToken}
}

// TrackNumber decodes the track number from its token.
func (t AlbumTrack) TrackNumber() int64 {
	return trackNumber(t.TrackToken)
}

// AlbumTrackKey addresses an AlbumTrack. An empty TrackToken matches every
// track of the album in queries.
type AlbumTrackKey struct {
	AlbumToken string
	TrackToken string
}

// NewAlbumTrackKey returns the key of track number n.
func NewAlbumTrackKey(albumToken string, n int64) AlbumTrackKey {
	return AlbumTrackKey{AlbumToken: albumToken, TrackToken: TrackToken(n)}
}

// TrackNumber decodes the track number from its token, or 0 if unset.
func (k AlbumTrackKey) TrackNumber() int64 {
	return trackNumber(k.TrackToken)
}

// TitleIndexOffset pages through the tracks of an album by title.
type TitleIndexOffset struct {
	AlbumToken string
	TrackTitle string
	TrackToken string
}

// PlaylistInfo is a playlist with the keys of its tracks. PlaylistVersion is
// bumped on every update.
type PlaylistInfo struct {
	PlaylistToken   string
	PlaylistName    string
	PlaylistTracks  []AlbumTrackKey
	PlaylistVersion int64
}

// Key returns the primary key of the playlist.
func (p PlaylistInfo) Key() PlaylistInfoKey {
	return PlaylistInfoKey{PlaylistToken: p.PlaylistToken}
}

// PlaylistInfoKey addresses a PlaylistInfo.
type PlaylistInfoKey struct {
	PlaylistToken string
}

// TrackToken encodes a track number.
func TrackToken(n int64) string {
	return fmt.Sprintf("%016x", n)
}

func trackNumber(token string) int64 {
	if token == "" {
		return 0
	}
	n, _ := strconv.ParseInt(token, 16, 64)
	return n
}

var albumInfoMapping = tempest.Map(
	tempest.Bind("album_token", func(a *AlbumInfo) *string { return &a.AlbumToken }, tempest.Name("partition_key")),
	tempest.Constant[AlbumInfo]("sort_key", "", tempest.Prefix("INFO_")),
	tempest.Bind("album_title", func(a *AlbumInfo) *string { return &a.AlbumTitle }),
	tempest.Bind("artist_name", func(a *AlbumInfo) *string { return &a.ArtistName }),
	tempest.Bind("release_date", func(a *AlbumInfo) *string { return &a.ReleaseDate }),
	tempest.Bind("genre_name", func(a *AlbumInfo) *string { return &a.GenreName }),
	tempest.Bind("label_name", func(a *AlbumInfo) **string { return &a.LabelName }, tempest.Prefix("L_"), tempest.AllowEmpty()),
)

var albumInfoKeyMapping = tempest.Map(
	tempest.Bind("album_token", func(k *AlbumInfoKey) *string { return &k.AlbumToken }),
	tempest.Constant[AlbumInfoKey]("sort_key", ""),
)

var genreIndexOffsetMapping = tempest.Map(
	tempest.Bind("genre_name", func(o *GenreIndexOffset) *string { return &o.GenreName }),
	tempest.Bind("album_token", func(o *GenreIndexOffset) *string { return &o.AlbumToken }),
	tempest.Constant[GenreIndexOffset]("sort_key", ""),
).ForIndex(GenreAlbumIndex)

var artistIndexOffsetMapping = tempest.Map(
	tempest.Bind("artist_name", func(o *ArtistIndexOffset) *string { return &o.ArtistName }),
	tempest.Bind("album_token", func(o *ArtistIndexOffset) *string { return &o.AlbumToken }),
	tempest.Constant[ArtistIndexOffset]("sort_key", ""),
).ForIndex(ArtistAlbumIndex)

var labelIndexOffsetMapping = tempest.Map(
	tempest.Bind("label_name", func(o *LabelIndexOffset) *string { return &o.LabelName }),
	tempest.Bind("album_token", func(o *LabelIndexOffset) *string { return &o.AlbumToken }),
	tempest.Constant[LabelIndexOffset]("sort_key", ""),
).ForIndex(LabelAlbumIndex)

var albumTrackMapping = tempest.Map(
	tempest.Bind("album_token", func(t *AlbumTrack) *string { return &t.AlbumToken }, tempest.Name("partition_key")),
	tempest.Bind("track_token", func(t *AlbumTrack) *string { return &t.TrackToken }, tempest.Name("sort_key"), tempest.Prefix("TRACK_")),
	tempest.Bind("track_title", func(t *AlbumTrack) *string { return &t.TrackTitle }, tempest.Prefix("T_")),
	tempest.Bind("run_length", func(t *AlbumTrack) *time.Duration { return &t.RunLength }),
)

var albumTrackKeyMapping = tempest.Map(
	tempest.Bind("album_token", func(k *AlbumTrackKey) *string { return &k.AlbumToken }),
	tempest.Bind("track_token", func(k *AlbumTrackKey) *string { return &k.TrackToken }),
)

var titleIndexOffsetMapping = tempest.Map(
	tempest.Bind("album_token", func(o *TitleIndexOffset) *string { return &o.AlbumToken }),
	tempest.Bind("track_title", func(o *TitleIndexOffset) *string { return &o.TrackTitle }),
	tempest.Bind("track_token", func(o *TitleIndexOffset) *string { return &o.TrackToken }),
).ForIndex(AlbumTrackTitleIndex)

var playlistInfoMapping = tempest.Map(
	tempest.Bind("playlist_token", func(p *PlaylistInfo) *string { return &p.PlaylistToken }, tempest.Name("partition_key")),
	tempest.Constant[PlaylistInfo]("sort_key", "", tempest.Prefix("PLAYLIST_")),
	tempest.Bind("playlist_name", func(p *PlaylistInfo) *string { return &p.PlaylistName }),
	tempest.Bind("playlist_tracks", func(p *PlaylistInfo) *[]AlbumTrackKey { return &p.PlaylistTracks }),
	tempest.Bind("playlist_version", func(p *PlaylistInfo) *int64 { return &p.PlaylistVersion }, tempest.Required()),
)

var playlistInfoKeyMapping = tempest.Map(
	tempest.Bind("playlist_token", func(k *PlaylistInfoKey) *string { return &k.PlaylistToken }),
	tempest.Constant[PlaylistInfoKey]("sort_key", ""),
)
