package catalog

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spx/internal/models"
	"github.com/desertthunder/spx/internal/shared"
	"github.com/google/renameio/v2"
)

// Table is one entity kind's row set in first-seen insertion order.
type Table struct {
	Kind models.Kind
	Rows []models.Row

	index map[string]int
}

func newTable(kind models.Kind) *Table {
	return &Table{Kind: kind, index: map[string]int{}}
}

// Len reports how many rows the table holds, stale rows included.
func (t *Table) Len() int { return len(t.Rows) }

// Get returns the row for a key if present.
func (t *Table) Get(key string) (models.Row, bool) {
	i, ok := t.index[key]
	if !ok {
		return nil, false
	}
	return t.Rows[i], true
}

// StaleCount reports how many rows are flagged stale.
func (t *Table) StaleCount() int {
	count := 0
	for _, row := range t.Rows {
		if isStale(row) {
			count++
		}
	}
	return count
}

// Catalog is the on-disk library cache: one CSV table per entity kind,
// published atomically on every write.
type Catalog struct {
	dir    string
	logger *log.Logger
}

// Open prepares a catalog rooted at dir, creating the directory if needed.
func Open(dir string, logger *log.Logger) (*Catalog, error) {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}
	return &Catalog{dir: dir, logger: logger}, nil
}

// Dir returns the catalog root directory.
func (c *Catalog) Dir() string { return c.dir }

func (c *Catalog) tablePath(kind models.Kind) string {
	return filepath.Join(c.dir, kind.String()+".csv")
}

// Read loads the published table for an entity kind. A missing file is an
// empty table; a file that fails validation is ErrCacheCorrupt.
func (c *Catalog) Read(kind models.Kind) (*Table, error) {
	table := newTable(kind)

	data, err := os.ReadFile(c.tablePath(kind))
	if errors.Is(err, fs.ErrNotExist) {
		return table, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s table: %w", kind, err)
	}

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", shared.ErrCacheCorrupt, kind, err)
	}
	if len(records) == 0 || !slices.Equal(records[0], Header(kind)) {
		return nil, fmt.Errorf("%w: %s has an unexpected header", shared.ErrCacheCorrupt, kind)
	}

	for _, record := range records[1:] {
		row, err := decodeRow(kind, record)
		if err != nil {
			return nil, err
		}
		key := row.Key()
		if _, dup := table.index[key]; dup {
			return nil, fmt.Errorf("%w: %s has duplicate key %s", shared.ErrCacheCorrupt, kind, key)
		}
		table.index[key] = len(table.Rows)
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

// Merge upserts rows into an entity table and atomically republishes it.
// Existing keys are replaced in place (keeping their original position),
// new keys append in arrival order, and a merged row always clears stale.
// Partial-refresh fields keep the cached value when the fresh row carries
// none: a track's release year and an artist's genre set.
func (c *Catalog) Merge(kind models.Kind, rows []models.Row) error {
	if len(rows) == 0 {
		return nil
	}

	table, err := c.Read(kind)
	if err != nil {
		return err
	}

	for _, row := range rows {
		key := row.Key()
		if i, ok := table.index[key]; ok {
			table.Rows[i] = mergeRow(table.Rows[i], row)
		} else {
			table.index[key] = len(table.Rows)
			table.Rows = append(table.Rows, clearStale(row))
		}
	}

	if err := c.publish(table); err != nil {
		return err
	}
	c.logger.Debug("merged rows", "kind", kind.String(), "incoming", len(rows), "total", table.Len())
	return nil
}

// MarkAbsent flags stale every cached row whose key is not in knownIDs and
// reports how many rows it flagged. Rows are never removed; the flag is the
// only difference between "not yet fetched" and "confirmed gone upstream".
// Callers must have completed a full listing of the collection first.
func (c *Catalog) MarkAbsent(kind models.Kind, knownIDs []string) (int, error) {
	table, err := c.Read(kind)
	if err != nil {
		return 0, err
	}

	known := make(map[string]struct{}, len(knownIDs))
	for _, id := range knownIDs {
		known[id] = struct{}{}
	}

	flagged := 0
	for i, row := range table.Rows {
		if _, ok := known[row.Key()]; ok || isStale(row) {
			continue
		}
		table.Rows[i] = setStale(row)
		flagged++
	}

	if flagged == 0 {
		return 0, nil
	}
	if err := c.publish(table); err != nil {
		return 0, err
	}
	c.logger.Debug("marked absent rows stale", "kind", kind.String(), "flagged", flagged)
	return flagged, nil
}

// MarkStale flags the given keys stale and republishes the table. Unknown
// keys are ignored; a call that changes nothing does not republish.
func (c *Catalog) MarkStale(kind models.Kind, keys ...string) error {
	table, err := c.Read(kind)
	if err != nil {
		return err
	}

	changed := false
	for _, key := range keys {
		if i, ok := table.index[key]; ok && !isStale(table.Rows[i]) {
			table.Rows[i] = setStale(table.Rows[i])
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return c.publish(table)
}

// publish writes the whole table to a temporary file and atomically replaces
// the published one, so a crash mid-write leaves the previous version intact.
func (c *Catalog) publish(table *Table) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(Header(table.Kind)); err != nil {
		return fmt.Errorf("failed to write %s header: %w", table.Kind, err)
	}
	for _, row := range table.Rows {
		if err := w.Write(encodeRow(row)); err != nil {
			return fmt.Errorf("failed to write %s row: %w", table.Kind, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to encode %s table: %w", table.Kind, err)
	}

	if err := renameio.WriteFile(c.tablePath(table.Kind), buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to publish %s table: %w", table.Kind, err)
	}
	return nil
}

// Playlists returns the playlist table as typed rows.
func (c *Catalog) Playlists() ([]models.Playlist, error) {
	return readTyped[models.Playlist](c, models.KindPlaylist)
}

// Tracks returns the track table as typed rows.
func (c *Catalog) Tracks() ([]models.Track, error) {
	return readTyped[models.Track](c, models.KindTrack)
}

// Artists returns the artist table as typed rows.
func (c *Catalog) Artists() ([]models.Artist, error) {
	return readTyped[models.Artist](c, models.KindArtist)
}

// PlaylistTracks returns the membership table as typed rows.
func (c *Catalog) PlaylistTracks() ([]models.PlaylistTrack, error) {
	return readTyped[models.PlaylistTrack](c, models.KindPlaylistTrack)
}

// TrackArtists returns the credit table as typed rows.
func (c *Catalog) TrackArtists() ([]models.TrackArtist, error) {
	return readTyped[models.TrackArtist](c, models.KindTrackArtist)
}

// StreamingEvents returns the listening-history table as typed rows.
func (c *Catalog) StreamingEvents() ([]models.StreamingEvent, error) {
	return readTyped[models.StreamingEvent](c, models.KindStreamingEvent)
}

func readTyped[T models.Row](c *Catalog, kind models.Kind) ([]T, error) {
	table, err := c.Read(kind)
	if err != nil {
		return nil, err
	}

	rows := make([]T, 0, table.Len())
	for _, row := range table.Rows {
		typed, ok := row.(T)
		if !ok {
			return nil, fmt.Errorf("%w: %s holds a %T row", shared.ErrCacheCorrupt, kind, row)
		}
		rows = append(rows, typed)
	}
	return rows, nil
}

// mergeRow replaces an existing row with its refreshed version, retaining
// cached values for partial-refresh fields the fresh row omits.
func mergeRow(existing, fresh models.Row) models.Row {
	switch next := fresh.(type) {
	case models.Track:
		if prev, ok := existing.(models.Track); ok && next.ReleaseYear == 0 {
			next.ReleaseYear = prev.ReleaseYear
		}
		next.Stale = false
		return next
	case models.Artist:
		if prev, ok := existing.(models.Artist); ok && len(next.Genres) == 0 {
			next.Genres = prev.Genres
		}
		next.Stale = false
		return next
	default:
		return clearStale(fresh)
	}
}

func isStale(row models.Row) bool {
	switch r := row.(type) {
	case models.Playlist:
		return r.Stale
	case models.Track:
		return r.Stale
	case models.Artist:
		return r.Stale
	case models.PlaylistTrack:
		return r.Stale
	case models.TrackArtist:
		return r.Stale
	case models.StreamingEvent:
		return r.Stale
	default:
		return false
	}
}

func setStale(row models.Row) models.Row {
	switch r := row.(type) {
	case models.Playlist:
		r.Stale = true
		return r
	case models.Track:
		r.Stale = true
		return r
	case models.Artist:
		r.Stale = true
		return r
	case models.PlaylistTrack:
		r.Stale = true
		return r
	case models.TrackArtist:
		r.Stale = true
		return r
	case models.StreamingEvent:
		r.Stale = true
		return r
	default:
		return row
	}
}

func clearStale(row models.Row) models.Row {
	switch r := row.(type) {
	case models.Playlist:
		r.Stale = false
		return r
	case models.Track:
		r.Stale = false
		return r
	case models.Artist:
		r.Stale = false
		return r
	case models.PlaylistTrack:
		r.Stale = false
		return r
	case models.TrackArtist:
		r.Stale = false
		return r
	case models.StreamingEvent:
		r.Stale = false
		return r
	default:
		return row
	}
}
