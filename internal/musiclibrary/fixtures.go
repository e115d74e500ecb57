package musiclibrary

import (
	"context"
	"time"

	tempest "github.com/cashapp/tempest-sub001"
)

// Album is a fixture: an album with its tracks in order.
type Album struct {
	Info   AlbumInfo
	Tracks []Track
}

// Track is a fixture track.
type Track struct {
	Title     string
	RunLength time.Duration
}

// AlbumTracks returns the records of a's tracks, numbered from 1.
func (a Album) AlbumTracks() []AlbumTrack {
	tracks := make([]AlbumTrack, len(a.Tracks))
	for i, t := range a.Tracks {
		tracks[i] = NewAlbumTrack(a.Info.AlbumToken, int64(i+1), t.Title, t.RunLength)
	}
	return tracks
}

func minutes(m, s int) time.Duration {
	return time.Duration(m)*time.Minute + time.Duration(s)*time.Second
}

func label(name string) *string { return &name }

var TheDarkSideOfTheMoon = Album{
	Info: AlbumInfo{
		AlbumToken:  "ALBUM_cafcf892",
		AlbumTitle:  "The Dark Side of the Moon",
		ArtistName:  "Pink Floyd",
		ReleaseDate: "1973-03-01",
		GenreName:   "Progressive rock",
		LabelName:   label("Harvest"),
	},
	Tracks: []Track{
		{"Speak to Me", minutes(1, 13)},
		{"Breathe", minutes(2, 43)},
		{"On the Run", minutes(3, 36)},
		{"Time", minutes(6, 53)},
		{"The Great Gig in the Sky", minutes(4, 36)},
		{"Money", minutes(6, 23)},
		{"Us and Them", minutes(7, 49)},
		{"Any Colour You Like", minutes(3, 26)},
		{"Brain Damage", minutes(3, 49)},
		{"Eclipse", minutes(2, 3)},
	},
}

var TheWall = Album{
	Info: AlbumInfo{
		AlbumToken:  "ALBUM_ef17ab2c",
		AlbumTitle:  "The Wall",
		ArtistName:  "Pink Floyd",
		ReleaseDate: "1979-11-30",
		GenreName:   "Progressive rock",
		LabelName:   label("Harvest"),
	},
	Tracks: []Track{
		{"In the Flesh?", minutes(3, 16)},
		{"The Thin Ice", minutes(2, 27)},
		{"Another Brick in the Wall, Part 1", minutes(3, 11)},
		{"The Happiest Days of Our Lives", minutes(1, 46)},
		{"Another Brick in the Wall, Part 2", minutes(3, 59)},
		{"Mother", minutes(5, 32)},
		{"Goodbye Blue Sky", minutes(2, 45)},
		{"Empty Spaces", minutes(2, 10)},
		{"Young Lust", minutes(3, 25)},
		{"One of My Turns", minutes(3, 41)},
		{"Don't Leave Me Now", minutes(4, 8)},
		{"Another Brick in the Wall, Part 3", minutes(1, 18)},
		{"Goodbye Cruel World", minutes(1, 16)},
		{"Hey You", minutes(4, 40)},
		{"Is There Anybody Out There?", minutes(2, 44)},
		{"Nobody Home", minutes(3, 26)},
		{"Vera", minutes(1, 35)},
		{"Bring the Boys Back Home", minutes(1, 21)},
		{"Comfortably Numb", minutes(6, 23)},
		{"The Show Must Go On", minutes(1, 36)},
		{"In the Flesh", minutes(4, 15)},
		{"Run Like Hell", minutes(4, 20)},
		{"Waiting for the Worms", minutes(4, 4)},
		{"Stop", minutes(0, 30)},
		{"The Trial", minutes(5, 13)},
		{"Outside the Wall", minutes(1, 41)},
	},
}

var WhatYouDoToMeSingle = Album{
	Info: AlbumInfo{
		AlbumToken:  "ALBUM_f464260d",
		AlbumTitle:  "what you do to me - Single",
		ArtistName:  "53 Theives",
		ReleaseDate: "2019-08-28",
		GenreName:   "Contemporary R&B",
	},
	Tracks: []Track{
		{"what you do to me", minutes(3, 23)},
	},
}

var AfterHoursEP = Album{
	Info: AlbumInfo{
		AlbumToken:  "ALBUM_ba0fc195",
		AlbumTitle:  "after hours - EP",
		ArtistName:  "53 Theives",
		ReleaseDate: "2020-02-21",
		GenreName:   "Contemporary R&B",
	},
	Tracks: []Track{
		{"dreamin'", minutes(3, 28)},
		{"what you do to me", minutes(3, 23)},
		{"too slow", minutes(2, 36)},
		{"three a.m.", minutes(2, 40)},
		{"heat", minutes(3, 13)},
	},
}

// GivenAlbums writes the info and track rows of albums with batch writes.
func GivenAlbums(ctx context.Context, db *tempest.DB, albums ...Album) error {
	builder := tempest.NewBatchWriteSetBuilder()
	for _, album := range albums {
		builder.Clobber(album.Info)
		for _, track := range album.AlbumTracks() {
			builder.Clobber(track)
		}
	}
	set, err := builder.Build()
	if err != nil {
		return err
	}
	_, err = db.BatchWrite(ctx, set)
	return err
}
