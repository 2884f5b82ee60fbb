package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/desertthunder/spx/internal/models"
	"github.com/desertthunder/spx/internal/shared"
)

// trackJSON builds a membership item payload for the fake API.
func trackJSON(id, name, addedAt, artistID string) map[string]any {
	return map[string]any{
		"added_at": addedAt,
		"track": map[string]any{
			"id":          id,
			"name":        name,
			"duration_ms": 201000,
			"popularity":  44,
			"album":       map[string]any{"id": "al1", "name": "LP", "release_date": "2024-03-01"},
			"artists":     []map[string]any{{"id": artistID, "name": "Band"}},
		},
	}
}

func testService(t *testing.T, handler http.Handler) (*SpotifyService, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	svc := NewSpotifyService(SpotifyOpts{
		BaseURL: server.URL,
		Client:  server.Client(),
		Logger:  shared.NewLogger(io.Discard),
	})
	return svc, server
}

func TestSpotifyPagination(t *testing.T) {
	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/me/playlists", func(w http.ResponseWriter, r *http.Request) {
		page := map[string]any{
			"items": []map[string]any{
				{"id": "p1", "name": "AJFinds25", "owner": map[string]any{"id": "aj"}, "snapshot_id": "s1", "tracks": map[string]any{"total": 12}},
			},
			"next": server.URL + "/me/playlists?offset=50",
		}
		if r.URL.Query().Get("offset") == "50" {
			page = map[string]any{
				"items": []map[string]any{
					{"id": "p2", "name": "Daily Mix", "owner": map[string]any{"id": "aj"}, "snapshot_id": "s9", "tracks": map[string]any{"total": 30}},
				},
				"next": nil,
			}
		}
		json.NewEncoder(w).Encode(page)
	})

	svc, s := testService(t, mux)
	server = s
	ctx := context.Background()

	t.Run("stream walks every page", func(t *testing.T) {
		stream := NewStream(svc, CollectionPlaylists, "")

		var ids []string
		for stream.More() {
			page, err := stream.Next(ctx)
			if err != nil {
				t.Fatalf("next page: %v", err)
			}
			for _, row := range page.Rows {
				ids = append(ids, row.Key())
			}
		}
		if len(ids) != 2 || ids[0] != "p1" || ids[1] != "p2" {
			t.Errorf("ids = %v, want [p1 p2]", ids)
		}
	})

	t.Run("resuming from a cursor skips completed pages", func(t *testing.T) {
		first := NewStream(svc, CollectionPlaylists, "")
		page, err := first.Next(ctx)
		if err != nil {
			t.Fatalf("first page: %v", err)
		}
		if page.Cursor == "" {
			t.Fatal("expected a continuation cursor after page 1")
		}

		resumed := NewStream(svc, CollectionPlaylists, page.Cursor)
		second, err := resumed.Next(ctx)
		if err != nil {
			t.Fatalf("resumed page: %v", err)
		}
		if len(second.Rows) != 1 || second.Rows[0].Key() != "p2" {
			t.Errorf("resumed rows = %v, want just p2", second.Rows)
		}
		if resumed.More() {
			t.Error("stream should be exhausted after the terminal page")
		}
	})

	t.Run("playlist rows carry the snapshot version", func(t *testing.T) {
		page, err := svc.Page(ctx, CollectionPlaylists, "")
		if err != nil {
			t.Fatalf("page: %v", err)
		}
		playlist := page.Rows[0].(models.Playlist)
		if playlist.SnapshotVersion != "s1" || playlist.OwnerID != "aj" || playlist.TrackCount != 12 {
			t.Errorf("playlist = %+v", playlist)
		}
	})
}

func TestSpotifyMembershipNormalization(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me/tracks", func(w http.ResponseWriter, r *http.Request) {
		local := trackJSON("", "Home Recording", "2025-02-01T00:00:00Z", "a9")
		local["track"].(map[string]any)["is_local"] = true
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				trackJSON("t1", "Opener", "2025-01-05T10:00:00Z", "a1"),
				local,
			},
			"next": nil,
		})
	})

	svc, _ := testService(t, mux)

	page, err := svc.Page(context.Background(), CollectionLikedSongs, "")
	if err != nil {
		t.Fatalf("page: %v", err)
	}

	// One valid item expands to track, artist, credit, then membership.
	if len(page.Rows) != 4 {
		t.Fatalf("rows = %d, want 4 (local/id-less tracks skipped)", len(page.Rows))
	}

	track, ok := page.Rows[0].(models.Track)
	if !ok || track.ID != "t1" || track.ReleaseYear != 2024 {
		t.Errorf("row 0 = %+v, want track t1 released 2024", page.Rows[0])
	}
	if _, ok := page.Rows[1].(models.Artist); !ok {
		t.Errorf("row 1 = %T, want artist before membership", page.Rows[1])
	}
	credit, ok := page.Rows[2].(models.TrackArtist)
	if !ok || credit.Position != 0 {
		t.Errorf("row 2 = %+v, want primary credit", page.Rows[2])
	}

	membership, ok := page.Rows[3].(models.PlaylistTrack)
	if !ok {
		t.Fatalf("row 3 = %T, want membership", page.Rows[3])
	}
	if membership.PlaylistID != models.LikedSongsID {
		t.Errorf("playlist id = %s, want liked-songs pseudo playlist", membership.PlaylistID)
	}
	if !membership.AddedAt.Equal(time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("added at = %v", membership.AddedAt)
	}
}

func TestSpotifyHistoryNormalization(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me/player/recently-played", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{
					"played_at": "2025-05-02T21:14:08.120Z",
					"track":     trackJSON("t7", "Late One", "", "a2")["track"],
				},
			},
			"next": nil,
		})
	})

	svc, _ := testService(t, mux)

	page, err := svc.Page(context.Background(), CollectionRecentlyPlayed, "")
	if err != nil {
		t.Fatalf("page: %v", err)
	}

	event, ok := page.Rows[len(page.Rows)-1].(models.StreamingEvent)
	if !ok {
		t.Fatalf("last row = %T, want streaming event", page.Rows[len(page.Rows)-1])
	}
	if event.TrackID != "t7" || event.MSPlayed != 201000 {
		t.Errorf("event = %+v", event)
	}
	if event.Year() != 2025 {
		t.Errorf("year = %d, want 2025", event.Year())
	}
}

func TestSpotifyMutations(t *testing.T) {
	type call struct {
		method string
		path   string
		body   map[string]any
	}
	var calls []call

	mux := http.NewServeMux()
	record := func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if r.Body != nil {
			json.NewDecoder(r.Body).Decode(&body)
		}
		calls = append(calls, call{method: r.Method, path: r.URL.Path, body: body})
		fmt.Fprint(w, `{"id":"p9","name":"AJTop25","owner":{"id":"aj"},"snapshot_id":"s1","tracks":{"total":0}}`)
	}
	mux.HandleFunc("/playlists/p1", record)
	mux.HandleFunc("/playlists/p1/tracks", record)
	mux.HandleFunc("/playlists/p1/followers", record)
	mux.HandleFunc("/users/aj/playlists", record)

	svc, _ := testService(t, mux)
	ctx := context.Background()

	if err := svc.RenamePlaylist(ctx, "p1", "AJFinds25"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := svc.SetDescription(ctx, "p1", "87 tracks · synced 2025-06-01"); err != nil {
		t.Fatalf("set description: %v", err)
	}
	if err := svc.AddTracks(ctx, "p1", []string{"t1", "t3"}); err != nil {
		t.Fatalf("add tracks: %v", err)
	}
	if err := svc.RemoveTracks(ctx, "p1", []string{"t4"}); err != nil {
		t.Fatalf("remove tracks: %v", err)
	}
	if err := svc.UnfollowPlaylist(ctx, "p1"); err != nil {
		t.Fatalf("unfollow: %v", err)
	}
	if _, err := svc.CreatePlaylist(ctx, "aj", "AJTop25"); err != nil {
		t.Fatalf("create: %v", err)
	}

	want := []struct {
		method string
		path   string
	}{
		{http.MethodPut, "/playlists/p1"},
		{http.MethodPut, "/playlists/p1"},
		{http.MethodPost, "/playlists/p1/tracks"},
		{http.MethodDelete, "/playlists/p1/tracks"},
		{http.MethodDelete, "/playlists/p1/followers"},
		{http.MethodPost, "/users/aj/playlists"},
	}
	if len(calls) != len(want) {
		t.Fatalf("calls = %d, want %d", len(calls), len(want))
	}
	for i, w := range want {
		if calls[i].method != w.method || calls[i].path != w.path {
			t.Errorf("call %d = %s %s, want %s %s", i, calls[i].method, calls[i].path, w.method, w.path)
		}
	}

	uris, _ := calls[2].body["uris"].([]any)
	if len(uris) != 2 || uris[0] != "spotify:track:t1" || uris[1] != "spotify:track:t3" {
		t.Errorf("add body uris = %v", uris)
	}
	tracks, _ := calls[3].body["tracks"].([]any)
	if len(tracks) != 1 {
		t.Fatalf("remove body tracks = %v", tracks)
	}
	if ref, _ := tracks[0].(map[string]any); ref["uri"] != "spotify:track:t4" {
		t.Errorf("remove body = %v", tracks[0])
	}
	if calls[1].body["description"] != "87 tracks · synced 2025-06-01" {
		t.Errorf("description body = %v", calls[1].body)
	}
}

func TestStreamErrorCarriesCursor(t *testing.T) {
	var server *httptest.Server
	failing := false

	mux := http.NewServeMux()
	mux.HandleFunc("/me/tracks", func(w http.ResponseWriter, r *http.Request) {
		if failing {
			http.Error(w, "boom", http.StatusBadRequest)
			return
		}
		failing = true
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{trackJSON("t1", "One", "2025-01-01T00:00:00Z", "a1")},
			"next":  server.URL + "/me/tracks?offset=50",
		})
	})

	svc, s := testService(t, mux)
	server = s

	stream := NewStream(svc, CollectionLikedSongs, "")
	first, err := stream.Next(context.Background())
	if err != nil {
		t.Fatalf("first page: %v", err)
	}

	_, err = stream.Next(context.Background())
	if err == nil {
		t.Fatal("expected second page to fail")
	}

	var streamErr *StreamError
	if !errors.As(err, &streamErr) {
		t.Fatalf("expected *StreamError, got %T", err)
	}
	if streamErr.Cursor != first.Cursor {
		t.Errorf("stream error cursor = %q, want the last successful cursor %q", streamErr.Cursor, first.Cursor)
	}
}

func TestReleaseYear(t *testing.T) {
	tc := []struct {
		date string
		want int
	}{
		{"2024-03-01", 2024},
		{"1999-07", 1999},
		{"2012", 2012},
		{"", 0},
		{"??", 0},
	}
	for _, tt := range tc {
		if got := releaseYear(tt.date); got != tt.want {
			t.Errorf("releaseYear(%q) = %d, want %d", tt.date, got, tt.want)
		}
	}
}
