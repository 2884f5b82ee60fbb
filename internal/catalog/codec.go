package catalog

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/spx/internal/models"
	"github.com/desertthunder/spx/internal/shared"
)

// genreSeparator joins an artist's genre set into one CSV column.
const genreSeparator = "|"

// headers maps each entity kind to its fixed CSV header. A published table
// whose first record differs from this is treated as corrupt.
var headers = map[models.Kind][]string{
	models.KindPlaylist:       {"id", "name", "owner_id", "snapshot_version", "track_count", "is_archive", "stale"},
	models.KindTrack:          {"id", "name", "duration_ms", "popularity", "release_year", "stale"},
	models.KindArtist:         {"id", "name", "genres", "stale"},
	models.KindPlaylistTrack:  {"playlist_id", "track_id", "added_at", "stale"},
	models.KindTrackArtist:    {"track_id", "artist_id", "position", "stale"},
	models.KindStreamingEvent: {"played_at", "track_id", "ms_played", "stale"},
}

// Header returns the CSV header for an entity kind.
func Header(kind models.Kind) []string {
	return headers[kind]
}

func encodeRow(row models.Row) []string {
	switch r := row.(type) {
	case models.Playlist:
		return []string{r.ID, r.Name, r.OwnerID, r.SnapshotVersion, strconv.Itoa(r.TrackCount), strconv.FormatBool(r.IsArchive), strconv.FormatBool(r.Stale)}
	case models.Track:
		return []string{r.ID, r.Name, strconv.Itoa(r.DurationMS), strconv.Itoa(r.Popularity), strconv.Itoa(r.ReleaseYear), strconv.FormatBool(r.Stale)}
	case models.Artist:
		return []string{r.ID, r.Name, strings.Join(r.Genres, genreSeparator), strconv.FormatBool(r.Stale)}
	case models.PlaylistTrack:
		return []string{r.PlaylistID, r.TrackID, r.AddedAt.UTC().Format(time.RFC3339), strconv.FormatBool(r.Stale)}
	case models.TrackArtist:
		return []string{r.TrackID, r.ArtistID, strconv.Itoa(r.Position), strconv.FormatBool(r.Stale)}
	case models.StreamingEvent:
		return []string{r.PlayedAt.UTC().Format(time.RFC3339), r.TrackID, strconv.Itoa(r.MSPlayed), strconv.FormatBool(r.Stale)}
	default:
		return nil
	}
}

func decodeRow(kind models.Kind, record []string) (models.Row, error) {
	if want := len(headers[kind]); len(record) != want {
		return nil, fmt.Errorf("%w: %s row has %d columns, want %d", shared.ErrCacheCorrupt, kind, len(record), want)
	}

	fail := func(column string, err error) (models.Row, error) {
		return nil, fmt.Errorf("%w: %s column %s: %v", shared.ErrCacheCorrupt, kind, column, err)
	}

	switch kind {
	case models.KindPlaylist:
		count, err := strconv.Atoi(record[4])
		if err != nil {
			return fail("track_count", err)
		}
		isArchive, err := strconv.ParseBool(record[5])
		if err != nil {
			return fail("is_archive", err)
		}
		stale, err := strconv.ParseBool(record[6])
		if err != nil {
			return fail("stale", err)
		}
		return models.Playlist{ID: record[0], Name: record[1], OwnerID: record[2], SnapshotVersion: record[3], TrackCount: count, IsArchive: isArchive, Stale: stale}, nil

	case models.KindTrack:
		duration, err := strconv.Atoi(record[2])
		if err != nil {
			return fail("duration_ms", err)
		}
		popularity, err := strconv.Atoi(record[3])
		if err != nil {
			return fail("popularity", err)
		}
		year, err := strconv.Atoi(record[4])
		if err != nil {
			return fail("release_year", err)
		}
		stale, err := strconv.ParseBool(record[5])
		if err != nil {
			return fail("stale", err)
		}
		return models.Track{ID: record[0], Name: record[1], DurationMS: duration, Popularity: popularity, ReleaseYear: year, Stale: stale}, nil

	case models.KindArtist:
		stale, err := strconv.ParseBool(record[3])
		if err != nil {
			return fail("stale", err)
		}
		var genres []string
		if record[2] != "" {
			genres = strings.Split(record[2], genreSeparator)
		}
		return models.Artist{ID: record[0], Name: record[1], Genres: genres, Stale: stale}, nil

	case models.KindPlaylistTrack:
		addedAt, err := time.Parse(time.RFC3339, record[2])
		if err != nil {
			return fail("added_at", err)
		}
		stale, err := strconv.ParseBool(record[3])
		if err != nil {
			return fail("stale", err)
		}
		return models.PlaylistTrack{PlaylistID: record[0], TrackID: record[1], AddedAt: addedAt, Stale: stale}, nil

	case models.KindTrackArtist:
		position, err := strconv.Atoi(record[2])
		if err != nil {
			return fail("position", err)
		}
		stale, err := strconv.ParseBool(record[3])
		if err != nil {
			return fail("stale", err)
		}
		return models.TrackArtist{TrackID: record[0], ArtistID: record[1], Position: position, Stale: stale}, nil

	case models.KindStreamingEvent:
		playedAt, err := time.Parse(time.RFC3339, record[0])
		if err != nil {
			return fail("played_at", err)
		}
		msPlayed, err := strconv.Atoi(record[2])
		if err != nil {
			return fail("ms_played", err)
		}
		stale, err := strconv.ParseBool(record[3])
		if err != nil {
			return fail("stale", err)
		}
		return models.StreamingEvent{PlayedAt: playedAt, TrackID: record[1], MSPlayed: msPlayed, Stale: stale}, nil

	default:
		return nil, fmt.Errorf("%w: unknown entity kind %d", shared.ErrCacheCorrupt, kind)
	}
}
