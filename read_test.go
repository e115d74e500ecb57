package tempest_test

import (
	"context"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	tempest "github.com/cashapp/tempest-sub001"
	"github.com/cashapp/tempest-sub001/internal/musiclibrary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func givenLibrary(t *testing.T) (*tempest.DB, *musiclibrary.MusicTable) {
	t.Helper()
	_, db, music := newMusicLibrary(t)
	require.NoError(t, musiclibrary.GivenAlbums(context.Background(), db,
		musiclibrary.TheDarkSideOfTheMoon,
		musiclibrary.TheWall,
		musiclibrary.WhatYouDoToMeSingle,
		musiclibrary.AfterHoursEP,
	))
	return db, music
}

func trackTitles(tracks []musiclibrary.AlbumTrack) []string {
	titles := make([]string, len(tracks))
	for i, track := range tracks {
		titles[i] = track.TrackTitle
	}
	return titles
}

func albumTitles(albums []musiclibrary.AlbumInfo) []string {
	titles := make([]string, len(albums))
	for i, album := range albums {
		titles[i] = album.AlbumTitle
	}
	return titles
}

func TestQuery_AlbumTracks(t *testing.T) {
	ctx := context.Background()
	_, music := givenLibrary(t)
	album := musiclibrary.TheDarkSideOfTheMoon

	page, err := music.AlbumTracks.Query(ctx, tempest.BeginsWith[musiclibrary.AlbumTrackKey]{
		Prefix: musiclibrary.AlbumTrackKey{AlbumToken: album.Info.AlbumToken},
	})
	require.NoError(t, err)
	assert.Equal(t, album.AlbumTracks(), page.Contents)
	assert.False(t, page.HasMore())
	assert.Nil(t, page.Offset)
}

func TestQuery_Between(t *testing.T) {
	ctx := context.Background()
	_, music := givenLibrary(t)
	token := musiclibrary.TheWall.Info.AlbumToken
	between := tempest.Between[musiclibrary.AlbumTrackKey]{
		Start: musiclibrary.NewAlbumTrackKey(token, 5),
		End:   musiclibrary.NewAlbumTrackKey(token, 9),
	}

	page, err := music.AlbumTracks.Query(ctx, between)
	require.NoError(t, err)
	require.Len(t, page.Contents, 5)
	assert.Equal(t, int64(5), page.Contents[0].TrackNumber())
	assert.Equal(t, "Young Lust", page.Contents[4].TrackTitle)

	page, err = music.AlbumTracks.Query(ctx, between, func(o *tempest.QueryOptions[musiclibrary.AlbumTrackKey]) {
		o.Descending = true
	})
	require.NoError(t, err)
	require.Len(t, page.Contents, 5)
	assert.Equal(t, int64(9), page.Contents[0].TrackNumber())
}

func TestQuery_Pages(t *testing.T) {
	ctx := context.Background()
	_, music := givenLibrary(t)
	token := musiclibrary.TheWall.Info.AlbumToken
	cond := tempest.BeginsWith[musiclibrary.AlbumTrackKey]{Prefix: musiclibrary.AlbumTrackKey{AlbumToken: token}}
	pageSize := func(o *tempest.QueryOptions[musiclibrary.AlbumTrackKey]) { o.PageSize = 10 }

	first, err := music.AlbumTracks.Query(ctx, cond, pageSize)
	require.NoError(t, err)
	require.Len(t, first.Contents, 10)
	require.NotNil(t, first.Offset)
	assert.Equal(t, musiclibrary.NewAlbumTrackKey(token, 10), first.Offset.Key)

	second, err := music.AlbumTracks.Query(ctx, cond, pageSize, func(o *tempest.QueryOptions[musiclibrary.AlbumTrackKey]) {
		o.Offset = first.Offset
	})
	require.NoError(t, err)
	require.Len(t, second.Contents, 10)
	assert.Equal(t, int64(11), second.Contents[0].TrackNumber())

	var sizes []int
	var all []musiclibrary.AlbumTrack
	for page, err := range music.AlbumTracks.QueryAll(ctx, cond, pageSize) {
		require.NoError(t, err)
		sizes = append(sizes, len(page.Contents))
		all = append(all, page.Contents...)
	}
	assert.Equal(t, []int{10, 10, 6}, sizes)
	assert.Equal(t, musiclibrary.TheWall.AlbumTracks(), all)
}

func TestQuery_QueryAllStopsEarly(t *testing.T) {
	ctx := context.Background()
	_, music := givenLibrary(t)
	cond := tempest.BeginsWith[musiclibrary.AlbumTrackKey]{
		Prefix: musiclibrary.AlbumTrackKey{AlbumToken: musiclibrary.TheWall.Info.AlbumToken},
	}

	pages := 0
	for _, err := range music.AlbumTracks.QueryAll(ctx, cond, func(o *tempest.QueryOptions[musiclibrary.AlbumTrackKey]) { o.PageSize = 5 }) {
		require.NoError(t, err)
		pages++
		if pages == 2 {
			break
		}
	}
	assert.Equal(t, 2, pages)
}

func TestQuery_Filter(t *testing.T) {
	ctx := context.Background()
	_, music := givenLibrary(t)

	page, err := music.AlbumTracks.Query(ctx, tempest.BeginsWith[musiclibrary.AlbumTrackKey]{
		Prefix: musiclibrary.AlbumTrackKey{AlbumToken: musiclibrary.TheWall.Info.AlbumToken},
	}, func(o *tempest.QueryOptions[musiclibrary.AlbumTrackKey]) {
		o.Filter = expression.Name("track_title").BeginsWith("T_Another Brick")
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Another Brick in the Wall, Part 1",
		"Another Brick in the Wall, Part 2",
		"Another Brick in the Wall, Part 3",
	}, trackTitles(page.Contents))
}

func TestQuery_GenreIndex(t *testing.T) {
	ctx := context.Background()
	_, music := givenLibrary(t)

	page, err := music.AlbumInfoByGenre.Query(ctx, tempest.BeginsWith[musiclibrary.GenreIndexOffset]{
		Prefix: musiclibrary.GenreIndexOffset{GenreName: "Progressive rock"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"The Dark Side of the Moon", "The Wall"}, albumTitles(page.Contents))
}

func TestQuery_ArtistIndex(t *testing.T) {
	ctx := context.Background()
	_, music := givenLibrary(t)

	page, err := music.AlbumInfoByArtist.Query(ctx, tempest.BeginsWith[musiclibrary.ArtistIndexOffset]{
		Prefix: musiclibrary.ArtistIndexOffset{ArtistName: "53 Theives"},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"after hours - EP", "what you do to me - Single"}, albumTitles(page.Contents))
}

func TestQuery_LabelIndexIsSparse(t *testing.T) {
	ctx := context.Background()
	_, music := givenLibrary(t)

	page, err := music.AlbumInfoByLabel.Query(ctx, tempest.BeginsWith[musiclibrary.LabelIndexOffset]{
		Prefix: musiclibrary.LabelIndexOffset{LabelName: "Harvest"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"The Dark Side of the Moon", "The Wall"}, albumTitles(page.Contents))

	var labelled int
	for album, err := range music.AlbumInfoByLabel.ScanAllContents(ctx) {
		require.NoError(t, err)
		require.NotNil(t, album.LabelName)
		labelled++
	}
	assert.Equal(t, 2, labelled, "albums without a label are not in the index")
}

func TestQuery_TitleIndex(t *testing.T) {
	ctx := context.Background()
	_, music := givenLibrary(t)
	token := musiclibrary.AfterHoursEP.Info.AlbumToken

	page, err := music.AlbumTracksByTitle.Query(ctx, tempest.BeginsWith[musiclibrary.TitleIndexOffset]{
		Prefix: musiclibrary.TitleIndexOffset{AlbumToken: token},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"dreamin'", "heat", "three a.m.", "too slow", "what you do to me"}, trackTitles(page.Contents))

	page, err = music.AlbumTracksByTitle.Query(ctx, tempest.BeginsWith[musiclibrary.TitleIndexOffset]{
		Prefix: musiclibrary.TitleIndexOffset{AlbumToken: token, TrackTitle: "t"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"three a.m.", "too slow"}, trackTitles(page.Contents))
}

func TestQuery_TitleIndexPages(t *testing.T) {
	ctx := context.Background()
	_, music := givenLibrary(t)
	token := musiclibrary.AfterHoursEP.Info.AlbumToken
	cond := tempest.BeginsWith[musiclibrary.TitleIndexOffset]{Prefix: musiclibrary.TitleIndexOffset{AlbumToken: token}}

	first, err := music.AlbumTracksByTitle.Query(ctx, cond, func(o *tempest.QueryOptions[musiclibrary.TitleIndexOffset]) {
		o.PageSize = 2
	})
	require.NoError(t, err)
	require.NotNil(t, first.Offset)
	assert.Equal(t, musiclibrary.TitleIndexOffset{
		AlbumToken: token,
		TrackTitle: "heat",
		TrackToken: musiclibrary.TrackToken(5),
	}, first.Offset.Key)

	var titles []string
	for page, err := range music.AlbumTracksByTitle.QueryAll(ctx, cond, func(o *tempest.QueryOptions[musiclibrary.TitleIndexOffset]) {
		o.PageSize = 2
	}) {
		require.NoError(t, err)
		titles = append(titles, trackTitles(page.Contents)...)
	}
	assert.Len(t, titles, 5)
}

func TestScan_RecordType(t *testing.T) {
	ctx := context.Background()
	_, music := givenLibrary(t)

	var albums []musiclibrary.AlbumInfo
	for album, err := range music.AlbumInfo.ScanAllContents(ctx) {
		require.NoError(t, err)
		albums = append(albums, album)
	}
	assert.Len(t, albums, 4, "track rows are filtered out by the range key prefix")

	var tracks int
	for page, err := range music.AlbumTracks.ScanAll(ctx, func(o *tempest.ScanOptions[musiclibrary.AlbumTrackKey]) { o.PageSize = 7 }) {
		require.NoError(t, err)
		tracks += len(page.Contents)
	}
	assert.Equal(t, 10+26+1+5, tracks)
}

func TestScan_Segments(t *testing.T) {
	ctx := context.Background()
	_, music := givenLibrary(t)

	var mu sync.Mutex
	seen := make(map[string]int)
	err := music.AlbumTracks.ScanSegments(ctx, 3, func(_ context.Context, segment int, page *tempest.Page[musiclibrary.AlbumTrackKey, musiclibrary.AlbumTrack]) error {
		mu.Lock()
		defer mu.Unlock()
		for _, track := range page.Contents {
			seen[track.AlbumToken+"/"+track.TrackToken]++
		}
		return nil
	}, func(o *tempest.ScanOptions[musiclibrary.AlbumTrackKey]) { o.PageSize = 4 })
	require.NoError(t, err)

	assert.Len(t, seen, 42)
	for key, n := range seen {
		assert.Equal(t, 1, n, key)
	}
}

func TestScan_SegmentsStopOnError(t *testing.T) {
	ctx := context.Background()
	_, music := givenLibrary(t)
	boom := assert.AnError

	err := music.AlbumTracks.ScanSegments(ctx, 2, func(context.Context, int, *tempest.Page[musiclibrary.AlbumTrackKey, musiclibrary.AlbumTrack]) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}
