package tasks

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spx/internal/catalog"
	"github.com/desertthunder/spx/internal/models"
	"github.com/desertthunder/spx/internal/services"
	"github.com/desertthunder/spx/internal/shared"
)

// DiffResult reports one reconciliation: the minimal add/remove diff between
// the desired and actual sets, how much of it was applied, and the backup
// written before the first destructive call.
type DiffResult struct {
	Kind           ArchiveKind `json:"kind"`
	Year           int         `json:"year"`
	PlaylistID     string      `json:"playlist_id"`
	Added          []string    `json:"added"`
	Removed        []string    `json:"removed"`
	BackupPath     string      `json:"backup_path,omitempty"`
	AppliedAdds    int         `json:"applied_adds"`
	AppliedRemoves int         `json:"applied_removes"`
	DryRun         bool        `json:"dry_run,omitempty"`
}

// InSync reports whether the playlist already matched the desired set.
func (d *DiffResult) InSync() bool { return len(d.Added) == 0 && len(d.Removed) == 0 }

// Reconciler converges one archive playlist's remote membership toward the
// desired set computed from the catalog.
type Reconciler struct {
	service services.Service
	cat     *catalog.Catalog
	backups *catalog.BackupStore
	config  *shared.Config
	logger  *log.Logger
	now     func() time.Time
}

// NewReconciler wires a reconciler over the catalog and remote service.
func NewReconciler(service services.Service, cat *catalog.Catalog, backups *catalog.BackupStore, config *shared.Config, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Reconciler{
		service: service,
		cat:     cat,
		backups: backups,
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// DesiredSet computes the track ids an archive playlist should contain, in
// the kind's deterministic order. Stale catalog rows never contribute.
func (r *Reconciler) DesiredSet(kind ArchiveKind, year int) ([]string, error) {
	switch kind {
	case ArchiveFinds:
		return r.findsSet(year)
	case ArchiveTop:
		return r.topSet(year)
	case ArchiveDiscovery:
		return r.discoverySet(year)
	default:
		return nil, fmt.Errorf("%w: unknown archive kind %q", shared.ErrInvalidInput, kind)
	}
}

// findsSet is the liked songs added in the year, by added_at ascending.
func (r *Reconciler) findsSet(year int) ([]string, error) {
	memberships, err := r.cat.PlaylistTracks()
	if err != nil {
		return nil, err
	}

	var liked []models.PlaylistTrack
	seen := map[string]bool{}
	for _, row := range memberships {
		if row.Stale || row.PlaylistID != models.LikedSongsID || row.AddedAt.UTC().Year() != year {
			continue
		}
		if seen[row.TrackID] {
			continue
		}
		seen[row.TrackID] = true
		liked = append(liked, row)
	}

	sort.SliceStable(liked, func(i, j int) bool {
		if !liked[i].AddedAt.Equal(liked[j].AddedAt) {
			return liked[i].AddedAt.Before(liked[j].AddedAt)
		}
		return liked[i].TrackID < liked[j].TrackID
	})

	ids := make([]string, len(liked))
	for i, row := range liked {
		ids[i] = row.TrackID
	}
	return ids, nil
}

// topSet is the N most-played tracks first heard in the year, by play count
// descending then track id ascending.
func (r *Reconciler) topSet(year int) ([]string, error) {
	plays, firstPlay, err := r.playStats()
	if err != nil {
		return nil, err
	}

	type ranked struct {
		id    string
		count int
	}
	var candidates []ranked
	for id, first := range firstPlay {
		if first.Year() == year {
			candidates = append(candidates, ranked{id: id, count: plays[id]})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].count != candidates[j].count {
			return candidates[i].count > candidates[j].count
		}
		return candidates[i].id < candidates[j].id
	})

	limit := r.config.Archive.TopLimit
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
	}
	return ids, nil
}

// discoverySet is the tracks first heard in the year that the listener did
// not already know from recent prior years, by first-play ascending. The
// consulted history horizon is configurable; zero consults everything.
func (r *Reconciler) discoverySet(year int) ([]string, error) {
	plays, firstPlay, err := r.playStats()
	if err != nil {
		return nil, err
	}
	_ = plays

	known, err := r.knownBefore(year)
	if err != nil {
		return nil, err
	}

	type discovered struct {
		id    string
		first time.Time
	}
	var candidates []discovered
	for id, first := range firstPlay {
		if first.Year() != year || known[id] {
			continue
		}
		candidates = append(candidates, discovered{id: id, first: first})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].first.Equal(candidates[j].first) {
			return candidates[i].first.Before(candidates[j].first)
		}
		return candidates[i].id < candidates[j].id
	})

	limit := r.config.Archive.DiscoveryLimit
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
	}
	return ids, nil
}

// playStats aggregates the streaming history into per-track play counts and
// earliest-play timestamps.
func (r *Reconciler) playStats() (map[string]int, map[string]time.Time, error) {
	events, err := r.cat.StreamingEvents()
	if err != nil {
		return nil, nil, err
	}

	plays := map[string]int{}
	firstPlay := map[string]time.Time{}
	for _, event := range events {
		if event.Stale || event.TrackID == "" {
			continue
		}
		plays[event.TrackID]++
		at := event.PlayedAt.UTC()
		if first, ok := firstPlay[event.TrackID]; !ok || at.Before(first) {
			firstPlay[event.TrackID] = at
		}
	}
	return plays, firstPlay, nil
}

// knownBefore collects track ids the listener already knew entering the
// year: liked songs saved in the consulted prior years.
func (r *Reconciler) knownBefore(year int) (map[string]bool, error) {
	memberships, err := r.cat.PlaylistTracks()
	if err != nil {
		return nil, err
	}

	horizon := r.config.Archive.DiscoveryHorizonYears
	earliest := year - horizon
	known := map[string]bool{}
	for _, row := range memberships {
		if row.Stale || row.PlaylistID != models.LikedSongsID {
			continue
		}
		liked := row.AddedAt.UTC().Year()
		if liked >= year {
			continue
		}
		if horizon > 0 && liked < earliest {
			continue
		}
		known[row.TrackID] = true
	}
	return known, nil
}

// Reconcile freshly lists the playlist, diffs it against the desired set,
// and applies the minimal change: removals first, then additions, batched to
// the provider maximum. The pre-mutation membership is backed up before the
// first destructive call. A batch failure stops the apply and surfaces
// ErrReconcileIncomplete with the partial counts; the next run re-diffs and
// finishes the job.
func (r *Reconciler) Reconcile(ctx context.Context, kind ArchiveKind, year int, playlistID string, dryRun bool) (*DiffResult, error) {
	desired, err := r.DesiredSet(kind, year)
	if err != nil {
		return nil, err
	}

	actualRows, err := r.service.Membership(ctx, playlistID)
	if err != nil {
		return nil, err
	}

	result := &DiffResult{Kind: kind, Year: year, PlaylistID: playlistID, DryRun: dryRun}
	result.Added, result.Removed = diff(desired, actualRows)

	if result.InSync() || dryRun {
		return result, nil
	}

	backupPath, err := r.backups.Write(string(kind)+"-"+yearToken(year), playlistID, r.now(), actualRows)
	if err != nil {
		return nil, fmt.Errorf("refusing to mutate without a backup: %w", err)
	}
	result.BackupPath = backupPath

	batchSize := r.config.Sync.BatchSize
	for _, batch := range shared.Chunk(result.Removed, batchSize) {
		if err := r.service.RemoveTracks(ctx, playlistID, batch); err != nil {
			return result, fmt.Errorf("%w: %s %d after %d/%d removals: %w",
				shared.ErrReconcileIncomplete, kind, year, result.AppliedRemoves, len(result.Removed), err)
		}
		result.AppliedRemoves += len(batch)
	}

	for _, batch := range shared.Chunk(result.Added, batchSize) {
		if err := r.service.AddTracks(ctx, playlistID, batch); err != nil {
			return result, fmt.Errorf("%w: %s %d after %d/%d additions: %w",
				shared.ErrReconcileIncomplete, kind, year, result.AppliedAdds, len(result.Added), err)
		}
		result.AppliedAdds += len(batch)
	}

	r.logger.Info("reconciled archive playlist",
		"kind", kind, "year", year, "added", len(result.Added), "removed", len(result.Removed))
	return result, nil
}

// diff computes added = desired − actual in desired order and removed =
// actual − desired in playlist order.
func diff(desired []string, actual []models.PlaylistTrack) (added, removed []string) {
	actualSet := make(map[string]bool, len(actual))
	for _, row := range actual {
		actualSet[row.TrackID] = true
	}
	desiredSet := make(map[string]bool, len(desired))
	for _, id := range desired {
		desiredSet[id] = true
	}

	for _, id := range desired {
		if !actualSet[id] {
			added = append(added, id)
		}
	}

	seen := map[string]bool{}
	for _, row := range actual {
		if !desiredSet[row.TrackID] && !seen[row.TrackID] {
			removed = append(removed, row.TrackID)
			seen[row.TrackID] = true
		}
	}
	return added, removed
}
