package musiclibrary

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	tempest "github.com/cashapp/tempest-sub001"
)

// PlaylistTrackAppender appends tracks to a playlist, one transaction per
// page. Every page checks that its tracks exist and saves the playlist with
// an optimistic version check, reserving one operation of each transaction
// for that save.
type PlaylistTrackAppender struct {
	table         *MusicTable
	playlistToken string

	current PlaylistInfo
	page    []AlbumTrackKey
}

var _ tempest.PagerHandler[AlbumTrackKey] = (*PlaylistTrackAppender)(nil)

// NewPlaylistTrackAppender returns a pager handler for the playlist.
func NewPlaylistTrackAppender(table *MusicTable, playlistToken string) *PlaylistTrackAppender {
	return &PlaylistTrackAppender{table: table, playlistToken: playlistToken}
}

func (h *PlaylistTrackAppender) EachPage(ctx context.Context, proceed func(context.Context) error) error {
	return proceed(ctx)
}

func (h *PlaylistTrackAppender) BeforePage(ctx context.Context, remaining []AlbumTrackKey, maxTransactionItems int) (int, error) {
	playlist, err := h.table.PlaylistInfo.Load(ctx, PlaylistInfoKey{PlaylistToken: h.playlistToken}, tempest.WithConsistentRead())
	if err != nil {
		return 0, fmt.Errorf("failed to load playlist: %w", err)
	}
	h.current = playlist
	n := min(len(remaining), maxTransactionItems-1)
	h.page = remaining[:n]
	return n, nil
}

func (h *PlaylistTrackAppender) Item(_ context.Context, builder *tempest.TransactionWriteSetBuilder, key AlbumTrackKey) error {
	builder.CheckCondition(key, tempest.WithCondition(
		expression.AttributeExists(expression.Name("track_title"))))
	return builder.Err()
}

func (h *PlaylistTrackAppender) FinishPage(_ context.Context, builder *tempest.TransactionWriteSetBuilder) error {
	updated := h.current
	updated.PlaylistTracks = append(append([]AlbumTrackKey(nil), h.current.PlaylistTracks...), h.page...)
	updated.PlaylistVersion = h.current.PlaylistVersion + 1
	builder.Save(updated, tempest.WithCondition(
		expression.Name("playlist_version").Equal(expression.Value(h.current.PlaylistVersion))))
	return builder.Err()
}

func (h *PlaylistTrackAppender) PageWritten(context.Context, tempest.TransactionWriteSet) error {
	return nil
}

// AppendTracks appends tracks to the playlist in pages of at most
// maxTransactionItems operations.
func AppendTracks(ctx context.Context, db *tempest.DB, table *MusicTable, playlistToken string, tracks []AlbumTrackKey, maxTransactionItems int) (int, error) {
	pager := tempest.NewWritingPager[AlbumTrackKey](db, tracks, NewPlaylistTrackAppender(table, playlistToken),
		func(o *tempest.PagerOptions) { o.MaxTransactionItems = maxTransactionItems })
	err := pager.Execute(ctx)
	return pager.UpdatedCount(), err
}
