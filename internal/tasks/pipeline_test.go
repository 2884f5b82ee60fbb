package tasks

import (
	"context"
	"errors"
	"io"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/spx/internal/catalog"
	"github.com/desertthunder/spx/internal/models"
	"github.com/desertthunder/spx/internal/services"
	"github.com/desertthunder/spx/internal/shared"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeService is an in-memory provider: playlists, liked songs, and history
// served in pages of two, with every mutation recorded for assertions.
type fakeService struct {
	user   string
	order  []string
	lists  map[string]*fakePlaylist
	liked  []likedEntry
	events []models.StreamingEvent
	genres map[string][]string

	pageSize     int
	created      int
	mutations    []string
	descriptions map[string]string
	failures     map[string]error
}

type fakePlaylist struct {
	name     string
	owner    string
	snapshot int
	tracks   []models.PlaylistTrack
}

type likedEntry struct {
	track    models.Track
	artistID string
	addedAt  time.Time
}

var _ services.Service = (*fakeService)(nil)

func newFakeService(user string) *fakeService {
	return &fakeService{
		user:         user,
		lists:        map[string]*fakePlaylist{},
		genres:       map[string][]string{},
		descriptions: map[string]string{},
		failures:     map[string]error{},
		pageSize:     2,
	}
}

func (f *fakeService) addPlaylist(id, name string, tracks ...models.PlaylistTrack) {
	f.order = append(f.order, id)
	f.lists[id] = &fakePlaylist{name: name, owner: f.user, snapshot: 1, tracks: tracks}
}

func (f *fakeService) playlistRow(id string) models.Playlist {
	pl := f.lists[id]
	return models.Playlist{
		ID:              id,
		Name:            pl.name,
		OwnerID:         pl.owner,
		SnapshotVersion: "s" + strconv.Itoa(pl.snapshot),
		TrackCount:      len(pl.tracks),
	}
}

func member(playlistID, trackID string, addedAt time.Time) models.PlaylistTrack {
	return models.PlaylistTrack{PlaylistID: playlistID, TrackID: trackID, AddedAt: addedAt}
}

func window[T any](items []T, offset, size int) []T {
	if offset >= len(items) {
		return nil
	}
	return items[offset:min(offset+size, len(items))]
}

func (f *fakeService) Page(_ context.Context, collection services.Collection, cursor string) (*services.Page, error) {
	if err := f.failures["Page"]; err != nil {
		return nil, err
	}
	offset := 0
	if cursor != "" {
		offset, _ = strconv.Atoi(cursor)
	}

	var rows []models.Row
	total := 0
	switch collection {
	case services.CollectionPlaylists:
		total = len(f.order)
		for _, id := range window(f.order, offset, f.pageSize) {
			rows = append(rows, f.playlistRow(id))
		}
	case services.CollectionLikedSongs:
		total = len(f.liked)
		for _, entry := range window(f.liked, offset, f.pageSize) {
			rows = append(rows,
				entry.track,
				models.Artist{ID: entry.artistID, Name: "Artist " + entry.artistID},
				models.TrackArtist{TrackID: entry.track.ID, ArtistID: entry.artistID},
				member(models.LikedSongsID, entry.track.ID, entry.addedAt),
			)
		}
	case services.CollectionRecentlyPlayed:
		total = len(f.events)
		for _, event := range window(f.events, offset, f.pageSize) {
			rows = append(rows, event)
		}
	default:
		id, ok := collection.PlaylistID()
		if !ok {
			return nil, shared.ErrInvalidInput
		}
		pl, found := f.lists[id]
		if !found {
			return nil, shared.ErrPlaylistNotFound
		}
		total = len(pl.tracks)
		for _, row := range window(pl.tracks, offset, f.pageSize) {
			rows = append(rows, row)
		}
	}

	next := ""
	if offset+f.pageSize < total {
		next = strconv.Itoa(offset + f.pageSize)
	}
	return &services.Page{Rows: rows, Cursor: next}, nil
}

func (f *fakeService) CurrentUser(context.Context) (string, error) {
	if err := f.failures["CurrentUser"]; err != nil {
		return "", err
	}
	return f.user, nil
}

func (f *fakeService) Artists(_ context.Context, ids []string) ([]models.Artist, error) {
	if err := f.failures["Artists"]; err != nil {
		return nil, err
	}
	artists := make([]models.Artist, len(ids))
	for i, id := range ids {
		artists[i] = models.Artist{ID: id, Name: "Artist " + id, Genres: f.genres[id]}
	}
	return artists, nil
}

func (f *fakeService) Membership(_ context.Context, playlistID string) ([]models.PlaylistTrack, error) {
	if err := f.failures["Membership"]; err != nil {
		return nil, err
	}
	if playlistID == models.LikedSongsID {
		rows := make([]models.PlaylistTrack, len(f.liked))
		for i, entry := range f.liked {
			rows[i] = member(models.LikedSongsID, entry.track.ID, entry.addedAt)
		}
		return rows, nil
	}
	pl, ok := f.lists[playlistID]
	if !ok {
		return nil, shared.ErrPlaylistNotFound
	}
	return append([]models.PlaylistTrack(nil), pl.tracks...), nil
}

func (f *fakeService) CreatePlaylist(_ context.Context, userID, name string) (*models.Playlist, error) {
	if err := f.failures["CreatePlaylist"]; err != nil {
		return nil, err
	}
	f.created++
	id := "gen" + strconv.Itoa(f.created)
	f.order = append(f.order, id)
	f.lists[id] = &fakePlaylist{name: name, owner: userID, snapshot: 1}
	f.mutations = append(f.mutations, "create:"+name)
	pl := f.playlistRow(id)
	return &pl, nil
}

func (f *fakeService) RenamePlaylist(_ context.Context, playlistID, name string) error {
	if err := f.failures["RenamePlaylist"]; err != nil {
		return err
	}
	pl, ok := f.lists[playlistID]
	if !ok {
		return shared.ErrPlaylistNotFound
	}
	pl.name = name
	f.mutations = append(f.mutations, "rename:"+playlistID)
	return nil
}

func (f *fakeService) SetDescription(_ context.Context, playlistID, description string) error {
	if err := f.failures["SetDescription"]; err != nil {
		return err
	}
	if _, ok := f.lists[playlistID]; !ok {
		return shared.ErrPlaylistNotFound
	}
	f.descriptions[playlistID] = description
	f.mutations = append(f.mutations, "describe:"+playlistID)
	return nil
}

func (f *fakeService) AddTracks(_ context.Context, playlistID string, trackIDs []string) error {
	if err := f.failures["AddTracks"]; err != nil {
		return err
	}
	pl, ok := f.lists[playlistID]
	if !ok {
		return shared.ErrPlaylistNotFound
	}
	for _, id := range trackIDs {
		pl.tracks = append(pl.tracks, member(playlistID, id, fixedNow))
	}
	pl.snapshot++
	f.mutations = append(f.mutations, "add:"+playlistID+":"+strconv.Itoa(len(trackIDs)))
	return nil
}

func (f *fakeService) RemoveTracks(_ context.Context, playlistID string, trackIDs []string) error {
	if err := f.failures["RemoveTracks"]; err != nil {
		return err
	}
	pl, ok := f.lists[playlistID]
	if !ok {
		return shared.ErrPlaylistNotFound
	}
	drop := map[string]bool{}
	for _, id := range trackIDs {
		drop[id] = true
	}
	pl.tracks = slices.DeleteFunc(pl.tracks, func(row models.PlaylistTrack) bool {
		return drop[row.TrackID]
	})
	pl.snapshot++
	f.mutations = append(f.mutations, "remove:"+playlistID+":"+strconv.Itoa(len(trackIDs)))
	return nil
}

func (f *fakeService) UnfollowPlaylist(_ context.Context, playlistID string) error {
	if err := f.failures["UnfollowPlaylist"]; err != nil {
		return err
	}
	delete(f.lists, playlistID)
	f.order = slices.DeleteFunc(f.order, func(id string) bool { return id == playlistID })
	f.mutations = append(f.mutations, "unfollow:"+playlistID)
	return nil
}

// trackSet is the distinct track ids a fake playlist currently holds.
func (f *fakeService) trackSet(playlistID string) map[string]bool {
	set := map[string]bool{}
	if pl, ok := f.lists[playlistID]; ok {
		for _, row := range pl.tracks {
			set[row.TrackID] = true
		}
	}
	return set
}

func (f *fakeService) findByName(name string) (string, bool) {
	for _, id := range f.order {
		if f.lists[id].name == name {
			return id, true
		}
	}
	return "", false
}

func testConfig(t *testing.T) *shared.Config {
	t.Helper()
	cfg := &shared.Config{}
	cfg.General.DataDir = t.TempDir()
	cfg.Sync = shared.SyncConfig{PageSize: 2, BatchSize: 2, KeepMonths: 3}
	cfg.Archive = shared.ArchiveConfig{
		Owner:                 "AJ",
		PrefixFinds:           "Finds",
		PrefixTop:             "Top",
		PrefixDiscovery:       "Discovery",
		DateFormat:            "short",
		SeparatorPrefix:       "none",
		SeparatorMonth:        "none",
		Capitalization:        "preserve",
		TopLimit:              100,
		DiscoveryLimit:        100,
		DiscoveryHorizonYears: 3,
		LegacyPrefixes:        []string{"Monthly"},
	}
	return cfg
}

func openCatalog(t *testing.T, cfg *shared.Config) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Open(cfg.CatalogDir(), shared.NewLogger(io.Discard))
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	return cat
}

func newTestPipeline(t *testing.T, cfg *shared.Config, fake *fakeService) *Pipeline {
	t.Helper()
	pipe := NewPipeline(
		fake,
		openCatalog(t, cfg),
		catalog.NewCheckpointStore(cfg.CheckpointPath()),
		catalog.NewBackupStore(cfg.BackupsDir()),
		cfg,
		shared.NewLogger(io.Discard),
	)
	pipe.now = func() time.Time { return fixedNow }
	return pipe
}

// libraryFixture is a small library with two past-and-present listening
// years: liked songs in 2024 and 2025, plays of t1 (2025) and t4 (2024), a
// regular playlist, and a misnamed finds archive for 2025.
func libraryFixture() *fakeService {
	fake := newFakeService("aj")
	fake.liked = []likedEntry{
		{track: models.Track{ID: "t1", Name: "One", DurationMS: 201000}, artistID: "a1", addedAt: time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC)},
		{track: models.Track{ID: "t2", Name: "Two", DurationMS: 185000}, artistID: "a1", addedAt: time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)},
		{track: models.Track{ID: "t3", Name: "Three", DurationMS: 240000}, artistID: "a2", addedAt: time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)},
	}
	fake.genres = map[string][]string{"a1": {"indie"}, "a2": {"jazz"}}
	fake.events = []models.StreamingEvent{
		{PlayedAt: time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC), TrackID: "t1", MSPlayed: 201000},
		{PlayedAt: time.Date(2025, 3, 2, 21, 0, 0, 0, time.UTC), TrackID: "t1", MSPlayed: 201000},
		{PlayedAt: time.Date(2024, 7, 4, 18, 0, 0, 0, time.UTC), TrackID: "t4", MSPlayed: 150000},
	}
	fake.addPlaylist("p1", "Daily Mix", member("p1", "t5", time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)))
	fake.addPlaylist("arch25", "ajfinds25",
		member("arch25", "t2", time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC)),
		member("arch25", "t9", time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)))
	return fake
}

func TestPipelineFullRun(t *testing.T) {
	cfg := testConfig(t)
	fake := libraryFixture()
	pipe := newTestPipeline(t, cfg, fake)
	ctx := context.Background()

	report, err := pipe.Run(ctx, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Failed() {
		t.Fatalf("report has failed steps: %+v", report.Steps)
	}

	t.Run("misnamed archive renamed to canonical", func(t *testing.T) {
		if name := fake.lists["arch25"].name; name != "AJFinds25" {
			t.Errorf("name = %q, want AJFinds25", name)
		}
	})

	t.Run("current year finds reconciled", func(t *testing.T) {
		set := fake.trackSet("arch25")
		if len(set) != 2 || !set["t1"] || !set["t2"] {
			t.Errorf("AJFinds25 tracks = %v, want {t1 t2}", set)
		}
	})

	t.Run("past year archives created and filled", func(t *testing.T) {
		for name, track := range map[string]string{
			"AJFinds24":     "t3",
			"AJTop24":       "t4",
			"AJDiscovery24": "t4",
		} {
			id, ok := fake.findByName(name)
			if !ok {
				t.Fatalf("archive %s was not created", name)
			}
			if set := fake.trackSet(id); len(set) != 1 || !set[track] {
				t.Errorf("%s tracks = %v, want {%s}", name, set, track)
			}
		}
	})

	t.Run("current year top and discovery created", func(t *testing.T) {
		for _, name := range []string{"AJTop25", "AJDiscovery25"} {
			id, ok := fake.findByName(name)
			if !ok {
				t.Fatalf("archive %s was not created", name)
			}
			if set := fake.trackSet(id); len(set) != 1 || !set["t1"] {
				t.Errorf("%s tracks = %v, want {t1}", name, set)
			}
		}
	})

	t.Run("genres backfilled into the catalog", func(t *testing.T) {
		artists, err := pipe.cat.Artists()
		if err != nil {
			t.Fatalf("artists: %v", err)
		}
		genres := map[string][]string{}
		for _, artist := range artists {
			genres[artist.ID] = artist.Genres
		}
		if len(genres["a1"]) != 1 || genres["a1"][0] != "indie" {
			t.Errorf("a1 genres = %v, want [indie]", genres["a1"])
		}
	})

	t.Run("descriptions written from the template", func(t *testing.T) {
		want := "2 tracks · updated 2025-06-01"
		if got := fake.descriptions["arch25"]; got != want {
			t.Errorf("description = %q, want %q", got, want)
		}
	})

	t.Run("checkpoint cleared after success", func(t *testing.T) {
		_, err := pipe.checkpoints.Load()
		if !errors.Is(err, shared.ErrCheckpointNotFound) {
			t.Errorf("load after run = %v, want ErrCheckpointNotFound", err)
		}
	})

	t.Run("second run is structurally idempotent", func(t *testing.T) {
		before := len(fake.mutations)
		second, err := pipe.Run(ctx, Options{})
		if err != nil {
			t.Fatalf("second run: %v", err)
		}
		if second.Failed() {
			t.Fatalf("second report has failed steps: %+v", second.Steps)
		}
		for _, m := range fake.mutations[before:] {
			if !strings.HasPrefix(m, "describe:") {
				t.Errorf("second run mutated the library: %s", m)
			}
		}
	})
}

func TestPipelineDryRun(t *testing.T) {
	cfg := testConfig(t)
	fake := libraryFixture()
	pipe := newTestPipeline(t, cfg, fake)

	report, err := pipe.Run(context.Background(), Options{DryRun: true})
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if len(fake.mutations) != 0 {
		t.Errorf("dry run mutated the library: %v", fake.mutations)
	}

	planned := 0
	for _, step := range report.Steps {
		for name, n := range step.Counts {
			if strings.HasPrefix(name, "would_") {
				planned += n
			}
		}
	}
	if planned == 0 {
		t.Error("dry run reported no planned mutations")
	}

	// fetching is read-only upstream, so the local catalog still refreshes
	playlists, err := pipe.cat.Playlists()
	if err != nil {
		t.Fatalf("playlists: %v", err)
	}
	if len(playlists) == 0 {
		t.Error("dry run should still populate the catalog")
	}
}

func TestPipelineLock(t *testing.T) {
	cfg := testConfig(t)
	pipe := newTestPipeline(t, cfg, libraryFixture())

	lock, err := catalog.AcquireLock(cfg.LockPath())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if _, err := pipe.Run(context.Background(), Options{}); !errors.Is(err, shared.ErrSyncRunning) {
		t.Fatalf("run under held lock = %v, want ErrSyncRunning", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := pipe.Run(context.Background(), Options{}); err != nil {
		t.Fatalf("run after release: %v", err)
	}
}

func TestPipelineStepSelection(t *testing.T) {
	cfg := testConfig(t)
	pipe := newTestPipeline(t, cfg, libraryFixture())

	report, err := pipe.Run(context.Background(), Options{Steps: []string{StepRename}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, step := range report.Steps {
		want := models.StepSkipped
		if step.Name == StepRename {
			want = models.StepCompleted
		}
		if step.Status != want {
			t.Errorf("step %s = %s, want %s", step.Name, step.Status, want)
		}
	}

	if _, err := pipe.Run(context.Background(), Options{Steps: []string{"bogus"}}); !errors.Is(err, shared.ErrInvalidInput) {
		t.Fatalf("unknown step = %v, want ErrInvalidInput", err)
	}
}

func TestPipelineFailureAndResume(t *testing.T) {
	cfg := testConfig(t)
	fake := libraryFixture()
	pipe := newTestPipeline(t, cfg, fake)
	ctx := context.Background()

	boom := errors.New("provider down")
	fake.failures["CreatePlaylist"] = boom

	report, err := pipe.Run(ctx, Options{})
	if !errors.Is(err, boom) {
		t.Fatalf("run = %v, want the injected failure", err)
	}
	if !report.Failed() {
		t.Fatal("report should record the failed step")
	}

	cp, err := pipe.checkpoints.Load()
	if err != nil {
		t.Fatalf("checkpoint after failure: %v", err)
	}
	if cp.LastCompletedStep != StepCleanup {
		t.Errorf("last completed step = %q, want %q", cp.LastCompletedStep, StepCleanup)
	}
	if cp.Failure == "" {
		t.Error("checkpoint should record the failure")
	}

	delete(fake.failures, "CreatePlaylist")

	resumed, err := pipe.Run(ctx, Options{Resume: true})
	if err != nil {
		t.Fatalf("resumed run: %v", err)
	}
	if !resumed.Resumed {
		t.Error("report should be marked resumed")
	}
	for _, step := range resumed.Steps {
		switch step.Name {
		case StepFetchLibrary, StepRename, StepCleanup:
			if step.Status != models.StepSkipped {
				t.Errorf("step %s = %s, want skipped on resume", step.Name, step.Status)
			}
		default:
			if step.Status != models.StepCompleted {
				t.Errorf("step %s = %s, want completed", step.Name, step.Status)
			}
		}
	}

	if _, ok := fake.findByName("AJFinds24"); !ok {
		t.Error("resumed run should finish creating the past-year archives")
	}
	if _, err := pipe.checkpoints.Load(); !errors.Is(err, shared.ErrCheckpointNotFound) {
		t.Error("checkpoint should be cleared after the resumed run succeeds")
	}
}

func TestPipelineCleanup(t *testing.T) {
	cfg := testConfig(t)
	fake := newFakeService("aj")
	fake.liked = []likedEntry{
		{track: models.Track{ID: "t1", Name: "One"}, artistID: "a1", addedAt: time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)},
		{track: models.Track{ID: "t2", Name: "Two"}, artistID: "a1", addedAt: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)},
	}
	fake.genres = map[string][]string{"a1": {"indie"}}
	fake.addPlaylist("arch25", "AJFinds25",
		member("arch25", "t2", time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC)),
		member("arch25", "t9", time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)))
	fake.addPlaylist("arch25b", "AJ Finds 25", member("arch25b", "t2", time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC)))
	fake.addPlaylist("jan25", "AJFindsJan25", member("jan25", "t1", time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)))

	pipe := newTestPipeline(t, cfg, fake)

	report, err := pipe.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Failed() {
		t.Fatalf("report has failed steps: %+v", report.Steps)
	}

	if _, ok := fake.lists["arch25b"]; ok {
		t.Error("duplicate archive should be unfollowed")
	}
	if _, ok := fake.lists["jan25"]; ok {
		t.Error("legacy monthly playlist should be folded away")
	}

	set := fake.trackSet("arch25")
	if len(set) != 2 || !set["t1"] || !set["t2"] {
		t.Errorf("AJFinds25 tracks = %v, want {t1 t2}", set)
	}

	if len(report.Backups()) < 2 {
		t.Errorf("backups = %v, want one per retired playlist", report.Backups())
	}

	playlists, err := pipe.cat.Playlists()
	if err != nil {
		t.Fatalf("playlists: %v", err)
	}
	for _, pl := range playlists {
		if (pl.ID == "arch25b" || pl.ID == "jan25") && !pl.Stale {
			t.Errorf("retired playlist %s should be stale in the catalog", pl.ID)
		}
	}
}

func TestPipelineRecentMonthlyKept(t *testing.T) {
	cfg := testConfig(t)
	fake := newFakeService("aj")
	fake.addPlaylist("may25", "AJFindsMay25", member("may25", "t1", time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)))

	pipe := newTestPipeline(t, cfg, fake)

	// May 2025 is one month before the pinned clock, inside keep_months
	if _, err := pipe.Run(context.Background(), Options{Steps: []string{StepFetchLibrary, StepCleanup}}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, ok := fake.lists["may25"]; !ok {
		t.Error("recent monthly playlist should be kept")
	}
}

func TestPipelineVanishedPlaylistMarkedStale(t *testing.T) {
	cfg := testConfig(t)
	fake := libraryFixture()
	pipe := newTestPipeline(t, cfg, fake)
	ctx := context.Background()

	if _, err := pipe.Run(ctx, Options{Steps: []string{StepFetchLibrary}}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	if err := fake.UnfollowPlaylist(ctx, "p1"); err != nil {
		t.Fatalf("unfollow: %v", err)
	}

	if _, err := pipe.Run(ctx, Options{Steps: []string{StepFetchLibrary}}); err != nil {
		t.Fatalf("second run: %v", err)
	}

	playlists, err := pipe.cat.Playlists()
	if err != nil {
		t.Fatalf("playlists: %v", err)
	}
	found := false
	for _, pl := range playlists {
		if pl.ID == "p1" {
			found = true
			if !pl.Stale {
				t.Error("vanished playlist should be flagged stale, not removed")
			}
		}
	}
	if !found {
		t.Error("vanished playlist should stay in the catalog")
	}
}
