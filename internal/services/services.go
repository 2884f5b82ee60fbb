// package services talks to the remote library provider: paginated reads
// normalized into catalog rows, and the mutation surface the pipeline and
// reconciler apply changes through.
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/desertthunder/spx/internal/models"
)

// Collection names a paginated remote collection. Playlist membership
// collections embed the playlist id after a colon.
type Collection string

const (
	CollectionPlaylists      Collection = "playlists"
	CollectionLikedSongs     Collection = "liked_songs"
	CollectionRecentlyPlayed Collection = "recently_played"

	playlistTracksPrefix = "playlist_tracks:"
)

// PlaylistTracksCollection returns the membership collection for one playlist.
func PlaylistTracksCollection(playlistID string) Collection {
	return Collection(playlistTracksPrefix + playlistID)
}

// PlaylistID extracts the playlist id from a membership collection.
func (c Collection) PlaylistID() (string, bool) {
	return strings.CutPrefix(string(c), playlistTracksPrefix)
}

// Page is one normalized page of a remote collection. Cursor is the opaque
// token resuming after this page, empty on the terminal page. Rows are
// ordered so that referenced entities precede the rows referencing them.
type Page struct {
	Rows   []models.Row
	Cursor string
}

// StreamError reports a failure mid-stream together with the last cursor
// that yielded a complete page, so a checkpointed caller can resume without
// re-fetching finished pages.
type StreamError struct {
	Collection Collection
	Cursor     string
	Err        error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("streaming %s: %v", e.Collection, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// Pager fetches one page of a collection. An empty cursor requests the first
// page; any other value must be a cursor a previous page returned.
type Pager interface {
	Page(ctx context.Context, collection Collection, cursor string) (*Page, error)
}

// Service is the full remote surface: paginated reads plus the playlist
// mutations the pipeline applies.
type Service interface {
	Pager

	// CurrentUser returns the authenticated user's id.
	CurrentUser(ctx context.Context) (string, error)

	// Artists fetches full artist rows (with genres) for up to 50 ids.
	Artists(ctx context.Context, ids []string) ([]models.Artist, error)

	// Membership freshly lists a playlist's complete current membership,
	// bypassing any response cache.
	Membership(ctx context.Context, playlistID string) ([]models.PlaylistTrack, error)

	// CreatePlaylist creates a private playlist owned by userID.
	CreatePlaylist(ctx context.Context, userID, name string) (*models.Playlist, error)

	// RenamePlaylist changes a playlist's display name.
	RenamePlaylist(ctx context.Context, playlistID, name string) error

	// SetDescription replaces a playlist's description text.
	SetDescription(ctx context.Context, playlistID, description string) error

	// AddTracks appends up to the provider batch maximum of tracks.
	AddTracks(ctx context.Context, playlistID string, trackIDs []string) error

	// RemoveTracks removes every occurrence of the given tracks.
	RemoveTracks(ctx context.Context, playlistID string, trackIDs []string) error

	// UnfollowPlaylist removes the playlist from the user's library.
	UnfollowPlaylist(ctx context.Context, playlistID string) error
}

// Stream walks a collection page by page. It is lazy (each Next fetches one
// page) and restartable: construct it with the cursor a prior run persisted
// and it continues exactly where that run stopped.
type Stream struct {
	pager      Pager
	collection Collection
	cursor     string
	done       bool
}

// NewStream prepares a stream over collection, resuming from resumeCursor
// when non-empty.
func NewStream(pager Pager, collection Collection, resumeCursor string) *Stream {
	return &Stream{
		pager:      pager,
		collection: collection,
		cursor:     resumeCursor,
	}
}

// More reports whether another page remains to be fetched.
func (s *Stream) More() bool { return !s.done }

// Cursor returns the token of the last complete page, suitable for resuming.
func (s *Stream) Cursor() string { return s.cursor }

// Next fetches the next page. Failures come back as a [*StreamError]
// carrying the last successful cursor; the stream stays resumable from it.
func (s *Stream) Next(ctx context.Context) (*Page, error) {
	if s.done {
		return nil, &StreamError{Collection: s.collection, Cursor: s.cursor, Err: fmt.Errorf("stream exhausted")}
	}

	page, err := s.pager.Page(ctx, s.collection, s.cursor)
	if err != nil {
		return nil, &StreamError{Collection: s.collection, Cursor: s.cursor, Err: err}
	}

	s.cursor = page.Cursor
	if page.Cursor == "" {
		s.done = true
	}
	return page, nil
}
