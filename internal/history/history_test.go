package history

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/desertthunder/spx/internal/catalog"
	"github.com/desertthunder/spx/internal/models"
	"github.com/desertthunder/spx/internal/shared"
)

func testConfig(t *testing.T) *shared.Config {
	t.Helper()
	cfg := &shared.Config{}
	cfg.General.DataDir = t.TempDir()
	return cfg
}

func testImporter(t *testing.T, cfg *shared.Config) (*Importer, *catalog.Catalog) {
	t.Helper()
	cat, err := catalog.Open(cfg.CatalogDir(), shared.NewLogger(io.Discard))
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	return NewImporter(cat, cfg, shared.NewLogger(io.Discard)), cat
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// seedTrack caches a track with a named primary artist, so account-form rows
// can resolve against it.
func seedTrack(t *testing.T, cat *catalog.Catalog, trackID, trackName, artistID, artistName string) {
	t.Helper()
	if err := cat.Merge(models.KindTrack, []models.Row{models.Track{ID: trackID, Name: trackName}}); err != nil {
		t.Fatalf("seed track: %v", err)
	}
	if err := cat.Merge(models.KindArtist, []models.Row{models.Artist{ID: artistID, Name: artistName}}); err != nil {
		t.Fatalf("seed artist: %v", err)
	}
	if err := cat.Merge(models.KindTrackArtist, []models.Row{models.TrackArtist{TrackID: trackID, ArtistID: artistID}}); err != nil {
		t.Fatalf("seed credit: %v", err)
	}
}

func eventsByKey(t *testing.T, cat *catalog.Catalog) map[string]models.StreamingEvent {
	t.Helper()
	events, err := cat.StreamingEvents()
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	byKey := map[string]models.StreamingEvent{}
	for _, event := range events {
		byKey[event.Key()] = event
	}
	return byKey
}

func TestImportExtendedForm(t *testing.T) {
	cfg := testConfig(t)
	im, cat := testImporter(t, cfg)

	path := writeFile(t, t.TempDir(), "endsong.json", `[
		{"ts": "2024-03-01T20:15:00Z", "ms_played": 201000, "spotify_track_uri": "spotify:track:t1"},
		{"ts": "2024-03-01T20:19:00Z", "ms_played": 5000, "spotify_track_uri": "spotify:track:t2"},
		{"ts": "2024-03-01T20:25:00Z", "ms_played": 80000, "spotify_track_uri": null}
	]`)

	report, err := im.Import(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.Imported != 1 || report.Skipped != 1 || report.Unmatched != 1 {
		t.Errorf("report = %+v, want 1 imported, 1 short skip, 1 uri-less row", report)
	}

	events := eventsByKey(t, cat)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	event := events["2024-03-01T20:15:00Z:t1"]
	if event.TrackID != "t1" || event.MSPlayed != 201000 {
		t.Errorf("event = %+v", event)
	}
}

func TestImportAccountForm(t *testing.T) {
	cfg := testConfig(t)
	im, cat := testImporter(t, cfg)
	seedTrack(t, cat, "t1", "Opener", "a1", "The Band")
	seedTrack(t, cat, "t7", "Closer", "a2", "Other Act")

	path := writeFile(t, t.TempDir(), "StreamingHistory0.json", `[
		{"endTime": "2024-03-01 20:15", "artistName": "The Band", "trackName": "Opener", "msPlayed": 201000},
		{"endTime": "2024-03-01 20:20", "artistName": "the band", "trackName": "closer", "msPlayed": 90000},
		{"endTime": "2024-03-01 20:25", "artistName": "Unknown", "trackName": "Never Cached", "msPlayed": 120000}
	]`)

	report, err := im.Import(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.Imported != 2 || report.Unmatched != 1 {
		t.Errorf("report = %+v, want 2 imported and 1 unmatched", report)
	}

	events := eventsByKey(t, cat)
	if _, ok := events["2024-03-01T20:15:00Z:t1"]; !ok {
		t.Error("exact artist and track match should import")
	}
	// wrong artist, but the track name is unique in the catalog
	if _, ok := events["2024-03-01T20:20:00Z:t7"]; !ok {
		t.Error("unique track-name fallback should import")
	}
}

func TestImportParallelFilesAndReimport(t *testing.T) {
	cfg := testConfig(t)
	im, cat := testImporter(t, cfg)
	dir := t.TempDir()

	first := writeFile(t, dir, "a.json", `[{"ts": "2024-01-01T10:00:00Z", "ms_played": 200000, "spotify_track_uri": "spotify:track:t1"}]`)
	second := writeFile(t, dir, "b.json", `[{"ts": "2024-01-02T10:00:00Z", "ms_played": 200000, "spotify_track_uri": "spotify:track:t2"}]`)

	if _, err := im.Import(context.Background(), []string{first, second}); err != nil {
		t.Fatalf("import: %v", err)
	}
	if events := eventsByKey(t, cat); len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}

	// same files again: merge dedupes by played_at and track id
	if _, err := im.Import(context.Background(), []string{first, second}); err != nil {
		t.Fatalf("reimport: %v", err)
	}
	if events := eventsByKey(t, cat); len(events) != 2 {
		t.Errorf("events after reimport = %d, want still 2", len(events))
	}
}

func TestImportRejectsMalformedFile(t *testing.T) {
	cfg := testConfig(t)
	im, _ := testImporter(t, cfg)

	path := writeFile(t, t.TempDir(), "notes.json", `{"hello": "world"}`)
	if _, err := im.Import(context.Background(), []string{path}); !errors.Is(err, shared.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestImportHoldsRunLock(t *testing.T) {
	cfg := testConfig(t)
	im, _ := testImporter(t, cfg)

	lock, err := catalog.AcquireLock(cfg.LockPath())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer lock.Release()

	path := writeFile(t, t.TempDir(), "a.json", `[]`)
	if _, err := im.Import(context.Background(), []string{path}); !errors.Is(err, shared.ErrSyncRunning) {
		t.Fatalf("err = %v, want ErrSyncRunning", err)
	}
}

func TestImportMinPlayOverride(t *testing.T) {
	cfg := testConfig(t)
	im, cat := testImporter(t, cfg)
	im.SetMinPlay(0)

	path := writeFile(t, t.TempDir(), "a.json", `[{"ts": "2024-01-01T10:00:00Z", "ms_played": 1000, "spotify_track_uri": "spotify:track:t1"}]`)
	report, err := im.Import(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.Imported != 1 || report.Skipped != 0 {
		t.Errorf("report = %+v, want the short play kept", report)
	}

	if events := eventsByKey(t, cat); len(events) != 1 {
		t.Errorf("events = %d, want 1", len(events))
	}
}
