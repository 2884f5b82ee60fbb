// Package history imports Spotify streaming-history export files into the
// catalog's listening-history table.
//
// Two file shapes exist in the wild: the extended export (one object per
// play, RFC 3339 timestamp and a spotify_track_uri) and the older
// account-data export (endTime plus artist and track display names, no id).
// Extended rows carry their track id directly; account rows are matched
// against the catalog by artist and track name. Files parse concurrently;
// merging is sequential and holds the same run lock as the sync pipeline.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spx/internal/catalog"
	"github.com/desertthunder/spx/internal/models"
	"github.com/desertthunder/spx/internal/shared"
	"golang.org/x/sync/errgroup"
)

// DefaultMinPlay drops skips: plays shorter than this never count as listens.
const DefaultMinPlay = 30 * time.Second

// accountTimeLayout is the timestamp format of the account-data export.
const accountTimeLayout = "2006-01-02 15:04"

// ImportReport summarizes one import: how many files were read and how the
// rows in them were disposed of.
type ImportReport struct {
	Files     int `json:"files"`
	Imported  int `json:"imported"`
	Skipped   int `json:"skipped"`   // below the minimum play duration
	Unmatched int `json:"unmatched"` // account-form rows with no catalog match
}

// Importer parses streaming-history files and merges their plays.
type Importer struct {
	cat     *catalog.Catalog
	config  *shared.Config
	logger  *log.Logger
	minPlay time.Duration
}

// NewImporter wires an importer over the catalog.
func NewImporter(cat *catalog.Catalog, config *shared.Config, logger *log.Logger) *Importer {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Importer{cat: cat, config: config, logger: logger, minPlay: DefaultMinPlay}
}

// SetMinPlay overrides the minimum play duration. Zero keeps every row.
func (im *Importer) SetMinPlay(d time.Duration) { im.minPlay = d }

// Import parses every file concurrently and merges the resulting plays into
// the listening-history table. Already-imported plays dedupe on merge, so
// re-importing a file is harmless.
func (im *Importer) Import(ctx context.Context, paths []string) (*ImportReport, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no history files given", shared.ErrMissingArgument)
	}

	lock, err := catalog.AcquireLock(im.config.LockPath())
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	index, err := im.nameIndex()
	if err != nil {
		return nil, err
	}

	results := make([]fileResult, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			result, err := parseFile(path, index, im.minPlay)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &ImportReport{Files: len(paths)}
	for i, result := range results {
		report.Skipped += result.skipped
		report.Unmatched += result.unmatched

		rows := make([]models.Row, len(result.events))
		for j, event := range result.events {
			rows[j] = event
		}
		if err := im.cat.Merge(models.KindStreamingEvent, rows); err != nil {
			return nil, err
		}
		report.Imported += len(rows)
		im.logger.Info("imported history file", "path", paths[i], "plays", len(rows),
			"skipped", result.skipped, "unmatched", result.unmatched)
	}
	return report, nil
}

type fileResult struct {
	events    []models.StreamingEvent
	skipped   int
	unmatched int
}

// historyEntry covers both export shapes; each row carries one or the other
// set of fields.
type historyEntry struct {
	// extended export
	TS       string `json:"ts"`
	MSPlayed *int   `json:"ms_played"`
	TrackURI string `json:"spotify_track_uri"`

	// account-data export
	EndTime    string `json:"endTime"`
	ArtistName string `json:"artistName"`
	TrackName  string `json:"trackName"`
	MsPlayed   *int   `json:"msPlayed"`
}

func parseFile(path string, index *nameIndex, minPlay time.Duration) (fileResult, error) {
	var result fileResult

	data, err := os.ReadFile(path)
	if err != nil {
		return result, err
	}

	var entries []historyEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return result, fmt.Errorf("%w: not a streaming-history file: %v", shared.ErrInvalidInput, err)
	}

	for _, entry := range entries {
		event, ok, err := normalizeEntry(entry, index)
		if err != nil {
			return result, err
		}
		if !ok {
			result.unmatched++
			continue
		}
		if time.Duration(event.MSPlayed)*time.Millisecond < minPlay {
			result.skipped++
			continue
		}
		result.events = append(result.events, event)
	}
	return result, nil
}

func normalizeEntry(entry historyEntry, index *nameIndex) (models.StreamingEvent, bool, error) {
	switch {
	case entry.TS != "":
		playedAt, err := time.Parse(time.RFC3339, entry.TS)
		if err != nil {
			return models.StreamingEvent{}, false, fmt.Errorf("%w: timestamp %q: %v", shared.ErrInvalidInput, entry.TS, err)
		}
		trackID, ok := strings.CutPrefix(entry.TrackURI, "spotify:track:")
		if !ok || trackID == "" {
			// podcast episodes and local files carry no track uri
			return models.StreamingEvent{}, false, nil
		}
		return models.StreamingEvent{PlayedAt: playedAt.UTC(), TrackID: trackID, MSPlayed: intValue(entry.MSPlayed)}, true, nil

	case entry.EndTime != "":
		playedAt, err := time.Parse(accountTimeLayout, entry.EndTime)
		if err != nil {
			return models.StreamingEvent{}, false, fmt.Errorf("%w: timestamp %q: %v", shared.ErrInvalidInput, entry.EndTime, err)
		}
		trackID, ok := index.lookup(entry.ArtistName, entry.TrackName)
		if !ok {
			return models.StreamingEvent{}, false, nil
		}
		return models.StreamingEvent{PlayedAt: playedAt.UTC(), TrackID: trackID, MSPlayed: intValue(entry.MsPlayed)}, true, nil

	default:
		return models.StreamingEvent{}, false, fmt.Errorf("%w: row carries neither ts nor endTime", shared.ErrInvalidInput)
	}
}

func intValue(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

// nameIndex resolves account-form rows to track ids: first by primary artist
// plus track name, then by track name alone when the library holds exactly
// one track with that name.
type nameIndex struct {
	byArtistTrack map[string]string
	byTrack       map[string]string
}

func (im *Importer) nameIndex() (*nameIndex, error) {
	tracks, err := im.cat.Tracks()
	if err != nil {
		return nil, err
	}
	credits, err := im.cat.TrackArtists()
	if err != nil {
		return nil, err
	}
	artists, err := im.cat.Artists()
	if err != nil {
		return nil, err
	}

	artistNames := make(map[string]string, len(artists))
	for _, artist := range artists {
		artistNames[artist.ID] = artist.Name
	}
	primary := make(map[string]string, len(credits))
	for _, credit := range credits {
		if credit.Position == 0 {
			primary[credit.TrackID] = credit.ArtistID
		}
	}

	index := &nameIndex{byArtistTrack: map[string]string{}, byTrack: map[string]string{}}
	ambiguous := map[string]bool{}
	for _, track := range tracks {
		trackKey := strings.ToLower(track.Name)
		if _, dup := index.byTrack[trackKey]; dup {
			ambiguous[trackKey] = true
		} else {
			index.byTrack[trackKey] = track.ID
		}

		if artist, ok := artistNames[primary[track.ID]]; ok {
			index.byArtistTrack[pairKey(artist, track.Name)] = track.ID
		}
	}
	for key := range ambiguous {
		delete(index.byTrack, key)
	}
	return index, nil
}

func (idx *nameIndex) lookup(artist, track string) (string, bool) {
	if id, ok := idx.byArtistTrack[pairKey(artist, track)]; ok {
		return id, true
	}
	id, ok := idx.byTrack[strings.ToLower(track)]
	return id, ok
}

func pairKey(artist, track string) string {
	return strings.ToLower(artist) + "\x00" + strings.ToLower(track)
}
