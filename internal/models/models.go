// package models defines the data model for the library sync service
package models

import (
	"time"
)

// LikedSongsID is the pseudo-playlist id under which liked-song membership
// rows are cached. The provider exposes liked songs as a bare collection, not
// a playlist, so the catalog synthesizes one.
const LikedSongsID = "__liked_songs__"

// Kind identifies an entity table in the catalog.
type Kind int

const (
	KindPlaylist Kind = iota
	KindTrack
	KindArtist
	KindPlaylistTrack
	KindTrackArtist
	KindStreamingEvent
)

// String returns the table name for the kind.
func (k Kind) String() string {
	switch k {
	case KindPlaylist:
		return "playlists"
	case KindTrack:
		return "tracks"
	case KindArtist:
		return "artists"
	case KindPlaylistTrack:
		return "playlist_tracks"
	case KindTrackArtist:
		return "track_artists"
	case KindStreamingEvent:
		return "streaming_events"
	default:
		return "unknown"
	}
}

// Kinds returns every entity kind in stable table order.
func Kinds() []Kind {
	return []Kind{KindPlaylist, KindTrack, KindArtist, KindPlaylistTrack, KindTrackArtist, KindStreamingEvent}
}

// Row is implemented by every catalog row type.
type Row interface {
	Key() string // Key returns the unique merge key for this row within its table
}

// Playlist represents one remote playlist as cached locally.
// Rows are never deleted once cached; a playlist missing from a fresh full
// listing is marked stale instead.
type Playlist struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	OwnerID         string `json:"owner_id"`
	SnapshotVersion string `json:"snapshot_version"` // opaque provider token, changes when membership changes
	TrackCount      int    `json:"track_count"`
	IsArchive       bool   `json:"is_archive"` // name matches the archive naming scheme
	Stale           bool   `json:"stale"`
}

func (p Playlist) Key() string { return p.ID }

// Track represents one remote track as cached locally.
type Track struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DurationMS  int    `json:"duration_ms"`
	Popularity  int    `json:"popularity"`
	ReleaseYear int    `json:"release_year"` // 0 when the provider payload carried no release date
	Stale       bool   `json:"stale"`
}

func (t Track) Key() string { return t.ID }

// Artist represents one remote artist as cached locally.
type Artist struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Genres []string `json:"genres"`
	Stale  bool     `json:"stale"`
}

func (a Artist) Key() string { return a.ID }

// PlaylistTrack represents current playlist membership. Liked songs are
// membership rows of [LikedSongsID].
type PlaylistTrack struct {
	PlaylistID string    `json:"playlist_id"`
	TrackID    string    `json:"track_id"`
	AddedAt    time.Time `json:"added_at"`
	Stale      bool      `json:"stale"`
}

func (pt PlaylistTrack) Key() string { return pt.PlaylistID + ":" + pt.TrackID }

// TrackArtist credits an artist on a track. Position 0 is the primary artist.
type TrackArtist struct {
	TrackID  string `json:"track_id"`
	ArtistID string `json:"artist_id"`
	Position int    `json:"position"`
	Stale    bool   `json:"stale"`
}

func (ta TrackArtist) Key() string { return ta.TrackID + ":" + ta.ArtistID }

// StreamingEvent is one listen from the user's streaming history. The table
// is append-only and deduplicated by (played_at, track_id).
type StreamingEvent struct {
	PlayedAt time.Time `json:"played_at"`
	TrackID  string    `json:"track_id"`
	MSPlayed int       `json:"ms_played"`
	Stale    bool      `json:"stale"`
}

func (se StreamingEvent) Key() string {
	return se.PlayedAt.UTC().Format(time.RFC3339) + ":" + se.TrackID
}

// Year reports the calendar year of the listen in UTC.
func (se StreamingEvent) Year() int { return se.PlayedAt.UTC().Year() }
