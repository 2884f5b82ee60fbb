// Package exporter publishes the catalog into a SQLite snapshot for
// analysis tooling. The snapshot is a plain copy of the entity tables,
// rebuilt whole on every export; the CSV catalog stays the source of truth.
package exporter

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spx/internal/catalog"
	"github.com/desertthunder/spx/internal/models"
	"github.com/desertthunder/spx/internal/shared"
)

const schema = `
CREATE TABLE playlists (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	snapshot_version TEXT NOT NULL,
	track_count INTEGER NOT NULL,
	is_archive INTEGER NOT NULL,
	stale INTEGER NOT NULL
);

CREATE TABLE tracks (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	popularity INTEGER NOT NULL,
	release_year INTEGER NOT NULL,
	stale INTEGER NOT NULL
);

CREATE TABLE artists (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	genres TEXT NOT NULL,
	stale INTEGER NOT NULL
);

CREATE TABLE playlist_tracks (
	playlist_id TEXT NOT NULL,
	track_id TEXT NOT NULL,
	added_at TEXT NOT NULL,
	stale INTEGER NOT NULL,
	PRIMARY KEY (playlist_id, track_id)
);

CREATE TABLE track_artists (
	track_id TEXT NOT NULL,
	artist_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	stale INTEGER NOT NULL,
	PRIMARY KEY (track_id, artist_id)
);

CREATE TABLE streaming_events (
	played_at TEXT NOT NULL,
	track_id TEXT NOT NULL,
	ms_played INTEGER NOT NULL,
	stale INTEGER NOT NULL,
	PRIMARY KEY (played_at, track_id)
);
`

// ExportReport summarizes one export: where the snapshot landed and how
// many rows each table carries.
type ExportReport struct {
	Path string         `json:"path"`
	Rows map[string]int `json:"rows"`
}

// Exporter copies the catalog into a SQLite database.
type Exporter struct {
	cat    *catalog.Catalog
	logger *log.Logger
}

// NewExporter wires an exporter over the catalog.
func NewExporter(cat *catalog.Catalog, logger *log.Logger) *Exporter {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Exporter{cat: cat, logger: logger}
}

// Export rebuilds the snapshot at path from the current catalog. An existing
// snapshot is replaced.
func (e *Exporter) Export(path string) (*ExportReport, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to replace previous snapshot: %w", err)
	}

	db, err := shared.NewDatabase(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin export transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to create snapshot schema: %w", err)
		}
	}

	report := &ExportReport{Path: path, Rows: map[string]int{}}
	for _, kind := range models.Kinds() {
		count, err := e.exportTable(tx, kind)
		if err != nil {
			return nil, err
		}
		report.Rows[kind.String()] = count
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit snapshot: %w", err)
	}
	e.logger.Info("exported catalog snapshot", "path", path)
	return report, nil
}

func (e *Exporter) exportTable(tx *sql.Tx, kind models.Kind) (int, error) {
	table, err := e.cat.Read(kind)
	if err != nil {
		return 0, err
	}

	stmt, err := tx.Prepare(insertStatement(kind))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare %s insert: %w", kind, err)
	}
	defer stmt.Close()

	for _, row := range table.Rows {
		if _, err := stmt.Exec(rowArgs(row)...); err != nil {
			return 0, fmt.Errorf("failed to insert %s row %s: %w", kind, row.Key(), err)
		}
	}
	return table.Len(), nil
}

func insertStatement(kind models.Kind) string {
	switch kind {
	case models.KindPlaylist:
		return "INSERT INTO playlists (id, name, owner_id, snapshot_version, track_count, is_archive, stale) VALUES (?, ?, ?, ?, ?, ?, ?)"
	case models.KindTrack:
		return "INSERT INTO tracks (id, name, duration_ms, popularity, release_year, stale) VALUES (?, ?, ?, ?, ?, ?)"
	case models.KindArtist:
		return "INSERT INTO artists (id, name, genres, stale) VALUES (?, ?, ?, ?)"
	case models.KindPlaylistTrack:
		return "INSERT INTO playlist_tracks (playlist_id, track_id, added_at, stale) VALUES (?, ?, ?, ?)"
	case models.KindTrackArtist:
		return "INSERT INTO track_artists (track_id, artist_id, position, stale) VALUES (?, ?, ?, ?)"
	default:
		return "INSERT INTO streaming_events (played_at, track_id, ms_played, stale) VALUES (?, ?, ?, ?)"
	}
}

func rowArgs(row models.Row) []any {
	switch r := row.(type) {
	case models.Playlist:
		return []any{r.ID, r.Name, r.OwnerID, r.SnapshotVersion, r.TrackCount, r.IsArchive, r.Stale}
	case models.Track:
		return []any{r.ID, r.Name, r.DurationMS, r.Popularity, r.ReleaseYear, r.Stale}
	case models.Artist:
		return []any{r.ID, r.Name, strings.Join(r.Genres, "|"), r.Stale}
	case models.PlaylistTrack:
		return []any{r.PlaylistID, r.TrackID, r.AddedAt.UTC().Format(time.RFC3339), r.Stale}
	case models.TrackArtist:
		return []any{r.TrackID, r.ArtistID, r.Position, r.Stale}
	case models.StreamingEvent:
		return []any{r.PlayedAt.UTC().Format(time.RFC3339), r.TrackID, r.MSPlayed, r.Stale}
	default:
		return nil
	}
}
