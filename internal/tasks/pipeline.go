package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spx/internal/catalog"
	"github.com/desertthunder/spx/internal/models"
	"github.com/desertthunder/spx/internal/services"
	"github.com/desertthunder/spx/internal/shared"
)

// Pipeline step names, in execution order.
const (
	StepFetchLibrary      = "fetch_library"
	StepRename            = "rename"
	StepCleanup           = "cleanup"
	StepConsolidateYearly = "consolidate_yearly"
	StepUpdateCurrentYear = "update_current_year"
	StepDescriptions      = "descriptions"
)

// Steps returns every pipeline step in its fixed execution order.
func Steps() []string {
	return []string{
		StepFetchLibrary,
		StepRename,
		StepCleanup,
		StepConsolidateYearly,
		StepUpdateCurrentYear,
		StepDescriptions,
	}
}

// genre lookups batch up to the provider's several-artists maximum
const genreBatchMax = 50

// Options selects what a pipeline run does.
//
// Steps restricts the run to the named steps; empty runs all of them. Resume
// picks up a persisted checkpoint instead of starting clean. Full re-fetches
// every playlist's membership regardless of snapshot versions. DryRun
// computes and reports every remote mutation without applying it; local
// catalog refreshes still happen, since fetching is read-only upstream.
type Options struct {
	Steps    []string
	Resume   bool
	Full     bool
	DryRun   bool
	Progress func(step string)
}

// Pipeline runs the sync steps in order under the run lock, checkpointing
// after every page and every completed step so an interrupted run resumes
// where it stopped.
type Pipeline struct {
	service     services.Service
	cat         *catalog.Catalog
	checkpoints *catalog.CheckpointStore
	backups     *catalog.BackupStore
	config      *shared.Config
	namer       *Namer
	reconciler  *Reconciler
	logger      *log.Logger
	now         func() time.Time

	// per-run state
	dryRun  bool
	full    bool
	user    string
	touched map[string]bool // playlists whose membership this run changed
}

// NewPipeline wires a pipeline over the catalog and remote service.
func NewPipeline(service services.Service, cat *catalog.Catalog, checkpoints *catalog.CheckpointStore, backups *catalog.BackupStore, config *shared.Config, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Pipeline{
		service:     service,
		cat:         cat,
		checkpoints: checkpoints,
		backups:     backups,
		config:      config,
		namer:       NewNamer(config.Archive),
		reconciler:  NewReconciler(service, cat, backups, config, logger),
		logger:      logger,
		now:         time.Now,
	}
}

// Run executes the selected steps and reports per-step outcomes. The run
// lock rejects concurrent invocations. A step failure stops the run, leaves
// the checkpoint on disk for resume, and comes back as the returned error
// alongside the partial report. The checkpoint is cleared only when every
// selected step completed.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*models.RunReport, error) {
	selected, err := selectSteps(opts.Steps)
	if err != nil {
		return nil, err
	}

	lock, err := catalog.AcquireLock(p.config.LockPath())
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	var cp *models.Checkpoint
	resumed := false
	if opts.Resume {
		loaded, err := p.checkpoints.Load()
		switch {
		case err == nil:
			cp = loaded
			cp.Failure = ""
			resumed = true
		case !errors.Is(err, shared.ErrCheckpointNotFound):
			return nil, err
		}
	}

	start := p.now()
	if cp == nil {
		cp = models.NewCheckpoint(shared.GenerateID(), start)
	}

	p.dryRun = opts.DryRun
	p.full = opts.Full
	p.user = ""
	p.touched = map[string]bool{}

	report := &models.RunReport{RunID: cp.RunID, StartedAt: start, Resumed: resumed, DryRun: opts.DryRun}
	p.logger.Info("starting run", "run_id", cp.RunID, "resumed", resumed, "dry_run", opts.DryRun)

	failed := false
	var runErr error
	for _, step := range Steps() {
		sr := models.StepReport{Name: step}
		begin := p.now()

		switch {
		case !selected[step]:
			sr.Status = models.StepSkipped
			sr.Reason = "not requested"
		case failed:
			sr.Status = models.StepSkipped
			sr.Reason = "earlier step failed"
		case resumed && stepDone(cp.LastCompletedStep, step):
			sr.Status = models.StepSkipped
			sr.Reason = "completed before interruption"
		default:
			if opts.Progress != nil {
				opts.Progress(step)
			}
			err := p.runStep(ctx, step, cp, &sr)
			sr.Duration = p.now().Sub(begin)
			if err != nil && step == StepDescriptions {
				// descriptions are cosmetic; a failure never fails the run
				sr.Status = models.StepFailed
				sr.Reason = err.Error()
				p.logger.Warn("descriptions step failed", "error", err)
			} else if err != nil {
				sr.Status = models.StepFailed
				sr.Reason = err.Error()
				cp.Failure = err.Error()
				if saveErr := p.checkpoints.Save(cp); saveErr != nil {
					p.logger.Error("failed to persist checkpoint after step failure", "error", saveErr)
				}
				failed = true
				runErr = err
			} else {
				sr.Status = models.StepCompleted
				cp.LastCompletedStep = step
				if saveErr := p.checkpoints.Save(cp); saveErr != nil {
					p.logger.Error("failed to persist checkpoint", "error", saveErr)
				}
			}
		}
		report.Steps = append(report.Steps, sr)
	}

	report.Duration = p.now().Sub(start)
	if !failed {
		if err := p.checkpoints.Clear(); err != nil {
			p.logger.Warn("failed to clear checkpoint", "error", err)
		}
	}
	return report, runErr
}

func (p *Pipeline) runStep(ctx context.Context, step string, cp *models.Checkpoint, report *models.StepReport) error {
	switch step {
	case StepFetchLibrary:
		return p.stepFetchLibrary(ctx, cp, report)
	case StepRename:
		return p.stepRename(ctx, report)
	case StepCleanup:
		return p.stepCleanup(ctx, report)
	case StepConsolidateYearly:
		return p.stepConsolidateYearly(ctx, report)
	case StepUpdateCurrentYear:
		return p.stepUpdateCurrentYear(ctx, report)
	case StepDescriptions:
		return p.stepDescriptions(ctx, report)
	default:
		return fmt.Errorf("%w: unknown step %q", shared.ErrInvalidInput, step)
	}
}

func selectSteps(names []string) (map[string]bool, error) {
	selected := map[string]bool{}
	if len(names) == 0 {
		for _, step := range Steps() {
			selected[step] = true
		}
		return selected, nil
	}

	known := map[string]bool{}
	for _, step := range Steps() {
		known[step] = true
	}
	for _, name := range names {
		if !known[name] {
			return nil, fmt.Errorf("%w: unknown step %q", shared.ErrInvalidInput, name)
		}
		selected[name] = true
	}
	return selected, nil
}

// stepDone reports whether step completed at or before lastCompleted in the
// fixed step order.
func stepDone(lastCompleted, step string) bool {
	if lastCompleted == "" {
		return false
	}
	for _, s := range Steps() {
		if s == step {
			return true
		}
		if s == lastCompleted {
			return false
		}
	}
	return false
}

// stepFetchLibrary walks every remote collection page by page, merging each
// page into the catalog and checkpointing the cursor behind it. Completed
// collections are swept for stale rows; playlists whose snapshot version
// changed queue a membership re-fetch. Finishes with a genre backfill for
// artists the item payloads left genreless.
func (p *Pipeline) stepFetchLibrary(ctx context.Context, cp *models.Checkpoint, report *models.StepReport) error {
	prior, err := p.cat.Playlists()
	if err != nil {
		return err
	}
	priorSnapshots := make(map[string]string, len(prior))
	for _, pl := range prior {
		priorSnapshots[pl.ID] = pl.SnapshotVersion
	}

	if !cp.IsComplete(string(services.CollectionPlaylists)) {
		if err := p.fetchPlaylists(ctx, cp, priorSnapshots, report); err != nil {
			return err
		}
	}

	liked := string(services.CollectionLikedSongs)
	if !cp.IsComplete(liked) {
		if err := p.fetchCollection(ctx, cp, services.CollectionLikedSongs, true, report); err != nil {
			return err
		}
		flagged, err := p.sweepMembership(models.LikedSongsID, cp.SeenKeys(liked))
		if err != nil {
			return err
		}
		report.Count("memberships_stale", flagged)

		// liked songs are a bare collection upstream; the catalog carries
		// them under a synthesized pseudo-playlist row
		user, err := p.currentUser(ctx)
		if err != nil {
			return err
		}
		pseudo := models.Playlist{
			ID:         models.LikedSongsID,
			Name:       "Liked Songs",
			OwnerID:    user,
			TrackCount: len(cp.SeenKeys(liked)),
		}
		if err := p.cat.Merge(models.KindPlaylist, []models.Row{pseudo}); err != nil {
			return err
		}
	}

	if !cp.IsComplete(string(services.CollectionRecentlyPlayed)) {
		// history is append-only, nothing to sweep
		if err := p.fetchCollection(ctx, cp, services.CollectionRecentlyPlayed, false, report); err != nil {
			return err
		}
	}

	pending := append([]string(nil), cp.Pending...)
	sort.Strings(pending)
	for _, playlistID := range pending {
		collection := services.PlaylistTracksCollection(playlistID)
		if cp.IsComplete(string(collection)) {
			continue
		}
		if err := p.fetchCollection(ctx, cp, collection, true, report); err != nil {
			return err
		}
		flagged, err := p.sweepMembership(playlistID, cp.SeenKeys(string(collection)))
		if err != nil {
			return err
		}
		report.Count("memberships_stale", flagged)
	}

	return p.backfillGenres(ctx, report)
}

// fetchPlaylists streams the playlist listing, stamping the archive flag and
// queueing membership refreshes for playlists whose snapshot version moved.
func (p *Pipeline) fetchPlaylists(ctx context.Context, cp *models.Checkpoint, priorSnapshots map[string]string, report *models.StepReport) error {
	collection := string(services.CollectionPlaylists)
	pending := make(map[string]bool, len(cp.Pending))
	for _, id := range cp.Pending {
		pending[id] = true
	}

	stream := services.NewStream(p.service, services.CollectionPlaylists, cp.Cursor(collection))
	for stream.More() {
		page, err := stream.Next(ctx)
		if err != nil {
			return err
		}

		keys := make([]string, 0, len(page.Rows))
		for i, row := range page.Rows {
			pl, ok := row.(models.Playlist)
			if !ok {
				continue
			}
			pl.IsArchive = p.namer.IsArchive(pl.Name)
			page.Rows[i] = pl
			keys = append(keys, pl.ID)

			if (p.full || priorSnapshots[pl.ID] != pl.SnapshotVersion) && !pending[pl.ID] {
				pending[pl.ID] = true
				cp.Pending = append(cp.Pending, pl.ID)
			}
		}

		if err := p.mergePage(page.Rows, report); err != nil {
			return err
		}
		cp.AddSeen(collection, keys...)
		cp.SetCursor(collection, page.Cursor)
		if err := p.checkpoints.Save(cp); err != nil {
			return err
		}
	}

	cp.MarkComplete(collection)
	if err := p.checkpoints.Save(cp); err != nil {
		return err
	}

	// the liked-songs pseudo playlist never appears in the remote listing
	known := append(cp.SeenKeys(collection), models.LikedSongsID)
	flagged, err := p.cat.MarkAbsent(models.KindPlaylist, known)
	if err != nil {
		return err
	}
	report.Count("playlists_stale", flagged)
	return nil
}

// fetchCollection streams one collection from its checkpointed cursor,
// merging every page. When trackSeen is set, membership row keys accumulate
// in the checkpoint so the caller can sweep after the terminal page.
func (p *Pipeline) fetchCollection(ctx context.Context, cp *models.Checkpoint, collection services.Collection, trackSeen bool, report *models.StepReport) error {
	name := string(collection)
	stream := services.NewStream(p.service, collection, cp.Cursor(name))
	for stream.More() {
		page, err := stream.Next(ctx)
		if err != nil {
			return err
		}

		if err := p.mergePage(page.Rows, report); err != nil {
			return err
		}
		if trackSeen {
			var keys []string
			for _, row := range page.Rows {
				if pt, ok := row.(models.PlaylistTrack); ok {
					keys = append(keys, pt.Key())
				}
			}
			cp.AddSeen(name, keys...)
		}
		cp.SetCursor(name, page.Cursor)
		if err := p.checkpoints.Save(cp); err != nil {
			return err
		}
	}

	cp.MarkComplete(name)
	return p.checkpoints.Save(cp)
}

// mergePage groups a page's rows by kind and merges them in table order, so
// referenced entities land before the rows referencing them.
func (p *Pipeline) mergePage(rows []models.Row, report *models.StepReport) error {
	groups := map[models.Kind][]models.Row{}
	for _, row := range rows {
		kind := kindOf(row)
		groups[kind] = append(groups[kind], row)
	}

	for _, kind := range models.Kinds() {
		if len(groups[kind]) == 0 {
			continue
		}
		if err := p.cat.Merge(kind, groups[kind]); err != nil {
			return err
		}
		report.Count(kind.String(), len(groups[kind]))
	}
	return nil
}

// sweepMembership flags stale the membership rows of one playlist that a
// completed fresh listing did not yield. Rows of every other playlist are
// passed through as known so the sweep never touches them.
func (p *Pipeline) sweepMembership(playlistID string, seen []string) (int, error) {
	cached, err := p.cat.PlaylistTracks()
	if err != nil {
		return 0, err
	}

	known := append([]string(nil), seen...)
	for _, row := range cached {
		if row.PlaylistID != playlistID {
			known = append(known, row.Key())
		}
	}
	return p.cat.MarkAbsent(models.KindPlaylistTrack, known)
}

// backfillGenres fetches full artist records for cached artists whose item
// payloads carried no genres.
func (p *Pipeline) backfillGenres(ctx context.Context, report *models.StepReport) error {
	artists, err := p.cat.Artists()
	if err != nil {
		return err
	}

	var missing []string
	for _, artist := range artists {
		if !artist.Stale && len(artist.Genres) == 0 {
			missing = append(missing, artist.ID)
		}
	}

	for _, batch := range shared.Chunk(missing, genreBatchMax) {
		full, err := p.service.Artists(ctx, batch)
		if err != nil {
			return err
		}
		rows := make([]models.Row, len(full))
		for i, artist := range full {
			rows[i] = artist
		}
		if err := p.cat.Merge(models.KindArtist, rows); err != nil {
			return err
		}
		report.Count("genres_backfilled", len(full))
	}
	return nil
}

// stepRename moves owned archive playlists still carrying a legacy or
// misformatted name onto the canonical scheme. Monthly names are left alone;
// cleanup folds those away.
func (p *Pipeline) stepRename(ctx context.Context, report *models.StepReport) error {
	user, err := p.currentUser(ctx)
	if err != nil {
		return err
	}
	playlists, err := p.cat.Playlists()
	if err != nil {
		return err
	}

	for _, pl := range playlists {
		if pl.Stale || pl.OwnerID != user {
			continue
		}
		parsed, ok := p.namer.Parse(pl.Name)
		if !ok || !parsed.Yearly() {
			continue
		}
		canonical := p.namer.Name(parsed.Kind, parsed.Year)
		if pl.Name == canonical {
			continue
		}
		if p.dryRun {
			p.logger.Info("would rename", "playlist", pl.Name, "to", canonical)
			report.Count("would_rename", 1)
			continue
		}
		if err := p.service.RenamePlaylist(ctx, pl.ID, canonical); err != nil {
			return err
		}
		pl.Name = canonical
		pl.IsArchive = true
		if err := p.cat.Merge(models.KindPlaylist, []models.Row{pl}); err != nil {
			return err
		}
		report.Count("renamed", 1)
	}
	return nil
}

// stepCleanup retires redundant archive playlists: duplicate yearly archives
// whose tracks the kept playlist already contains, and legacy monthly
// playlists old enough to fold into their yearly archive. Every retired
// playlist is backed up before it is unfollowed.
func (p *Pipeline) stepCleanup(ctx context.Context, report *models.StepReport) error {
	user, err := p.currentUser(ctx)
	if err != nil {
		return err
	}
	playlists, err := p.cat.Playlists()
	if err != nil {
		return err
	}

	type slot struct {
		kind ArchiveKind
		year int
	}
	yearly := map[slot][]models.Playlist{}
	type monthlyPlaylist struct {
		pl   models.Playlist
		name ArchiveName
	}
	var monthly []monthlyPlaylist

	for _, pl := range playlists {
		if pl.Stale || pl.OwnerID != user {
			continue
		}
		parsed, ok := p.namer.Parse(pl.Name)
		if !ok {
			continue
		}
		if parsed.Yearly() {
			key := slot{kind: parsed.Kind, year: parsed.Year}
			yearly[key] = append(yearly[key], pl)
		} else {
			monthly = append(monthly, monthlyPlaylist{pl: pl, name: parsed})
		}
	}

	slots := make([]slot, 0, len(yearly))
	for key := range yearly {
		slots = append(slots, key)
	}
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].year != slots[j].year {
			return slots[i].year < slots[j].year
		}
		return slots[i].kind < slots[j].kind
	})

	for _, key := range slots {
		group := yearly[key]
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			if group[i].Name != group[j].Name {
				return group[i].Name < group[j].Name
			}
			return group[i].ID < group[j].ID
		})
		if err := p.retireDuplicates(ctx, group[0], group[1:], report); err != nil {
			return err
		}
	}

	keep := p.config.Sync.KeepMonths
	now := p.now().UTC()
	for _, m := range monthly {
		if monthsAgo(now, m.name.Year, m.name.Month) < keep {
			continue
		}
		if err := p.foldMonthly(ctx, m.pl, m.name, report); err != nil {
			p.logger.Warn("could not fold monthly playlist", "playlist", m.pl.Name, "error", err)
			report.Count("fold_failed", 1)
		}
	}
	return nil
}

// retireDuplicates unfollows duplicate yearly archives whose fresh track set
// the keeper already contains. A duplicate holding tracks the keeper lacks
// is left in place and flagged for the operator.
func (p *Pipeline) retireDuplicates(ctx context.Context, keeper models.Playlist, duplicates []models.Playlist, report *models.StepReport) error {
	keeperSet, err := p.membershipSet(ctx, keeper.ID)
	if err != nil {
		return err
	}

	for _, dup := range duplicates {
		rows, err := p.service.Membership(ctx, dup.ID)
		if err != nil {
			return err
		}

		contained := true
		for _, row := range rows {
			if !keeperSet[row.TrackID] {
				contained = false
				break
			}
		}
		if !contained {
			p.logger.Warn("duplicate archive holds tracks the keeper lacks, leaving it",
				"keeper", keeper.Name, "duplicate", dup.Name)
			report.Count("duplicates_kept", 1)
			continue
		}

		if p.dryRun {
			p.logger.Info("would unfollow duplicate archive", "playlist", dup.Name)
			report.Count("would_unfollow", 1)
			continue
		}

		backupPath, err := p.backups.Write(dup.Name, dup.ID, p.now(), rows)
		if err != nil {
			return err
		}
		report.Backups = append(report.Backups, backupPath)

		if err := p.service.UnfollowPlaylist(ctx, dup.ID); err != nil {
			return err
		}
		if err := p.cat.MarkStale(models.KindPlaylist, dup.ID); err != nil {
			return err
		}
		if _, err := p.sweepMembership(dup.ID, nil); err != nil {
			return err
		}
		report.Count("duplicates_unfollowed", 1)
	}
	return nil
}

// foldMonthly merges a legacy monthly playlist into its yearly archive and
// unfollows it, but only after re-listing the yearly archive proves every
// monthly track actually landed.
func (p *Pipeline) foldMonthly(ctx context.Context, pl models.Playlist, name ArchiveName, report *models.StepReport) error {
	if p.dryRun {
		p.logger.Info("would fold monthly playlist", "playlist", pl.Name)
		report.Count("would_fold", 1)
		return nil
	}

	rows, err := p.service.Membership(ctx, pl.ID)
	if err != nil {
		return err
	}

	yearlyID, ok, err := p.findArchive(name.Kind, name.Year)
	if err != nil {
		return err
	}
	if !ok {
		yearlyID, err = p.createArchive(ctx, name.Kind, name.Year)
		if err != nil {
			return err
		}
	}

	yearlySet, err := p.membershipSet(ctx, yearlyID)
	if err != nil {
		return err
	}
	var missing []string
	queued := map[string]bool{}
	for _, row := range rows {
		if !yearlySet[row.TrackID] && !queued[row.TrackID] {
			queued[row.TrackID] = true
			missing = append(missing, row.TrackID)
		}
	}

	backupPath, err := p.backups.Write(pl.Name, pl.ID, p.now(), rows)
	if err != nil {
		return err
	}
	report.Backups = append(report.Backups, backupPath)

	for _, batch := range shared.Chunk(missing, p.config.Sync.BatchSize) {
		if err := p.service.AddTracks(ctx, yearlyID, batch); err != nil {
			return err
		}
	}

	verifySet, err := p.membershipSet(ctx, yearlyID)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if !verifySet[row.TrackID] {
			return fmt.Errorf("track %s did not land in the yearly archive, keeping %s", row.TrackID, pl.Name)
		}
	}

	if err := p.service.UnfollowPlaylist(ctx, pl.ID); err != nil {
		return err
	}
	if err := p.cat.MarkStale(models.KindPlaylist, pl.ID); err != nil {
		return err
	}
	if _, err := p.sweepMembership(pl.ID, nil); err != nil {
		return err
	}
	p.touched[yearlyID] = true
	report.Count("folded", 1)
	return nil
}

// stepConsolidateYearly reconciles every past year that has liked songs or
// listening history, creating missing archive playlists along the way.
func (p *Pipeline) stepConsolidateYearly(ctx context.Context, report *models.StepReport) error {
	current := p.now().UTC().Year()
	years, err := p.archiveYears(current)
	if err != nil {
		return err
	}

	for _, year := range years {
		for _, kind := range ArchiveKinds() {
			if err := p.reconcileSlot(ctx, kind, year, report); err != nil {
				return err
			}
		}
	}
	return nil
}

// stepUpdateCurrentYear reconciles the running year's archives.
func (p *Pipeline) stepUpdateCurrentYear(ctx context.Context, report *models.StepReport) error {
	year := p.now().UTC().Year()
	for _, kind := range ArchiveKinds() {
		if err := p.reconcileSlot(ctx, kind, year, report); err != nil {
			return err
		}
	}
	return nil
}

// archiveYears lists the past years with catalog data, ascending.
func (p *Pipeline) archiveYears(current int) ([]int, error) {
	seen := map[int]bool{}

	memberships, err := p.cat.PlaylistTracks()
	if err != nil {
		return nil, err
	}
	for _, row := range memberships {
		if !row.Stale && row.PlaylistID == models.LikedSongsID {
			seen[row.AddedAt.UTC().Year()] = true
		}
	}

	events, err := p.cat.StreamingEvents()
	if err != nil {
		return nil, err
	}
	for _, event := range events {
		if !event.Stale {
			seen[event.Year()] = true
		}
	}

	var years []int
	for year := range seen {
		if year < current {
			years = append(years, year)
		}
	}
	sort.Ints(years)
	return years, nil
}

// reconcileSlot converges one kind and year, creating the archive playlist
// first when it does not exist and the desired set is non-empty.
func (p *Pipeline) reconcileSlot(ctx context.Context, kind ArchiveKind, year int, report *models.StepReport) error {
	desired, err := p.reconciler.DesiredSet(kind, year)
	if err != nil {
		return err
	}

	id, ok, err := p.findArchive(kind, year)
	if err != nil {
		return err
	}
	if !ok {
		if len(desired) == 0 {
			return nil
		}
		if p.dryRun {
			p.logger.Info("would create archive playlist", "name", p.namer.Name(kind, year), "tracks", len(desired))
			report.Count("would_create", 1)
			report.Count("would_add", len(desired))
			return nil
		}
		id, err = p.createArchive(ctx, kind, year)
		if err != nil {
			return err
		}
	}

	result, err := p.reconciler.Reconcile(ctx, kind, year, id, p.dryRun)
	if result != nil {
		if result.BackupPath != "" {
			report.Backups = append(report.Backups, result.BackupPath)
		}
		report.Count("added", result.AppliedAdds)
		report.Count("removed", result.AppliedRemoves)
		if p.dryRun {
			report.Count("would_add", len(result.Added))
			report.Count("would_remove", len(result.Removed))
		}
		if !p.dryRun && !result.InSync() {
			p.touched[id] = true
		}
	}
	return err
}

// findArchive looks up the cached yearly archive playlist for a kind and year.
func (p *Pipeline) findArchive(kind ArchiveKind, year int) (string, bool, error) {
	playlists, err := p.cat.Playlists()
	if err != nil {
		return "", false, err
	}
	for _, pl := range playlists {
		if pl.Stale {
			continue
		}
		parsed, ok := p.namer.Parse(pl.Name)
		if ok && parsed.Yearly() && parsed.Kind == kind && parsed.Year == year {
			return pl.ID, true, nil
		}
	}
	return "", false, nil
}

// createArchive creates the canonical yearly archive playlist and caches it.
func (p *Pipeline) createArchive(ctx context.Context, kind ArchiveKind, year int) (string, error) {
	user, err := p.currentUser(ctx)
	if err != nil {
		return "", err
	}

	name := p.namer.Name(kind, year)
	created, err := p.service.CreatePlaylist(ctx, user, name)
	if err != nil {
		return "", err
	}

	created.IsArchive = true
	if err := p.cat.Merge(models.KindPlaylist, []models.Row{*created}); err != nil {
		return "", err
	}
	p.logger.Info("created archive playlist", "name", name, "id", created.ID)
	return created.ID, nil
}

func (p *Pipeline) currentUser(ctx context.Context) (string, error) {
	if p.user != "" {
		return p.user, nil
	}
	user, err := p.service.CurrentUser(ctx)
	if err != nil {
		return "", err
	}
	p.user = user
	return user, nil
}

func (p *Pipeline) membershipSet(ctx context.Context, playlistID string) (map[string]bool, error) {
	rows, err := p.service.Membership(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(rows))
	for _, row := range rows {
		set[row.TrackID] = true
	}
	return set, nil
}

func monthsAgo(now time.Time, year, month int) int {
	return (now.Year()-year)*12 + int(now.Month()) - month
}

func kindOf(row models.Row) models.Kind {
	switch row.(type) {
	case models.Playlist:
		return models.KindPlaylist
	case models.Track:
		return models.KindTrack
	case models.Artist:
		return models.KindArtist
	case models.PlaylistTrack:
		return models.KindPlaylistTrack
	case models.TrackArtist:
		return models.KindTrackArtist
	default:
		return models.KindStreamingEvent
	}
}
