// Spotify Web API implementation of [Service].
//
// Response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spx/internal/models"
	"github.com/desertthunder/spx/internal/ratelimit"
	"github.com/desertthunder/spx/internal/shared"
	"github.com/desertthunder/spx/internal/webcache"
	"golang.org/x/oauth2"
)

const (
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"

	// artistBatchMax is the provider ceiling for one /artists?ids= lookup.
	artistBatchMax = 50
)

type spotifyUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type spotifyArtist struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Genres []string `json:"genres"`
}

type spotifyAlbum struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ReleaseDate string `json:"release_date"`
}

type spotifyTrack struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Artists    []spotifyArtist `json:"artists"`
	Album      spotifyAlbum    `json:"album"`
	DurationMS int             `json:"duration_ms"`
	Popularity int             `json:"popularity"`
	IsLocal    bool            `json:"is_local"`
}

type spotifyOwner struct {
	ID string `json:"id"`
}

type spotifyTracksRef struct {
	Total int `json:"total"`
}

type spotifySimplePlaylist struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Owner      spotifyOwner     `json:"owner"`
	SnapshotID string           `json:"snapshot_id"`
	Tracks     spotifyTracksRef `json:"tracks"`
}

type spotifyPlaylistPage struct {
	Items []spotifySimplePlaylist `json:"items"`
	Next  *string                 `json:"next"`
}

type spotifyPlaylistTrack struct {
	AddedAt string       `json:"added_at"`
	Track   spotifyTrack `json:"track"`
}

type spotifyTrackPage struct {
	Items []spotifyPlaylistTrack `json:"items"`
	Next  *string                `json:"next"`
}

type spotifyPlayHistory struct {
	PlayedAt string       `json:"played_at"`
	Track    spotifyTrack `json:"track"`
}

type spotifyHistoryPage struct {
	Items []spotifyPlayHistory `json:"items"`
	Next  *string              `json:"next"`
}

// SpotifyService implements [Service] against the Spotify Web API. Every
// request flows through the shared transport chain: bearer auth, the GET
// response cache, and the rate limiter.
type SpotifyService struct {
	baseURL  string
	client   *http.Client
	pageSize int
	logger   *log.Logger
}

// SpotifyOpts configures a [SpotifyService].
type SpotifyOpts struct {
	BaseURL  string       // defaults to the public API
	Client   *http.Client // pre-built transport chain; nil uses http.DefaultClient
	PageSize int          // page size for listings, provider max 50
	Logger   *log.Logger
}

// NewSpotifyService creates a service using the provided HTTP client.
func NewSpotifyService(opts SpotifyOpts) *SpotifyService {
	if opts.BaseURL == "" {
		opts.BaseURL = spotifyBaseURL
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.PageSize <= 0 || opts.PageSize > 50 {
		opts.PageSize = 50
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	return &SpotifyService{
		baseURL:  opts.BaseURL,
		client:   opts.Client,
		pageSize: opts.PageSize,
		logger:   opts.Logger,
	}
}

// NewHTTPClient assembles the transport chain for remote calls: bearer
// tokens refreshed through the token endpoint, the GET response cache, and
// innermost the rate limiter, so a cache hit spends no request budget.
func NewHTTPClient(config *shared.Config, cache *webcache.Cache, logger *log.Logger) (*http.Client, error) {
	credentials := config.Credentials.Spotify
	if credentials.ClientID == "" || credentials.ClientSecret == "" {
		return nil, fmt.Errorf("%w: credentials.spotify.client_id and client_secret are required", shared.ErrMissingCredentials)
	}
	if credentials.RefreshToken == "" && credentials.AccessToken == "" {
		return nil, fmt.Errorf("%w: credentials.spotify needs a refresh_token or access_token", shared.ErrMissingCredentials)
	}

	var transport http.RoundTripper = ratelimit.New(nil, ratelimit.Options{
		RateLimit:      config.Sync.RateLimit,
		Burst:          config.Sync.Burst,
		MaxAttempts:    config.Sync.MaxAttempts,
		InitialBackoff: config.Sync.InitialBackoff.Duration,
		BackoffFactor:  config.Sync.BackoffFactor,
		Logger:         logger,
	})
	transport = webcache.NewTransport(transport, cache)

	oauthConfig := &oauth2.Config{
		ClientID:     credentials.ClientID,
		ClientSecret: credentials.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: spotifyTokenURL},
	}
	token := &oauth2.Token{
		AccessToken:  credentials.AccessToken,
		RefreshToken: credentials.RefreshToken,
	}
	if token.AccessToken == "" {
		// Force an immediate refresh through the token endpoint.
		token.Expiry = time.Unix(1, 0)
	}

	source := oauthConfig.TokenSource(context.Background(), token)
	return &http.Client{
		Transport: &oauth2.Transport{Source: oauth2.ReuseTokenSource(nil, source), Base: transport},
	}, nil
}

// do performs one API request, decoding a JSON response into result when
// non-nil. Bodies are marshaled to JSON with a rewindable reader so the rate
// limiter can replay them on retry.
func (s *SpotifyService) do(ctx context.Context, method, endpoint string, body, result any, fresh bool) error {
	target := endpoint
	if !strings.HasPrefix(endpoint, "http") {
		target = s.baseURL + endpoint
	}

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	var req *http.Request
	var err error
	if reader != nil {
		req, err = http.NewRequestWithContext(ctx, method, target, reader)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, target, nil)
	}
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if fresh {
		req.Header.Set(webcache.FreshHeader, "1")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// CurrentUser returns the authenticated user's id.
func (s *SpotifyService) CurrentUser(ctx context.Context) (string, error) {
	var user spotifyUser
	if err := s.do(ctx, http.MethodGet, "/me", nil, &user, false); err != nil {
		return "", err
	}
	return user.ID, nil
}

// firstPageURL builds the initial page request for a collection.
func (s *SpotifyService) firstPageURL(collection Collection) (string, error) {
	limit := strconv.Itoa(s.pageSize)
	switch collection {
	case CollectionPlaylists:
		return s.baseURL + "/me/playlists?limit=" + limit, nil
	case CollectionLikedSongs:
		return s.baseURL + "/me/tracks?limit=" + limit, nil
	case CollectionRecentlyPlayed:
		return s.baseURL + "/me/player/recently-played?limit=" + limit, nil
	}
	if playlistID, ok := collection.PlaylistID(); ok {
		return s.baseURL + "/playlists/" + url.PathEscape(playlistID) + "/tracks?limit=" + limit, nil
	}
	return "", fmt.Errorf("%w: unknown collection %q", shared.ErrInvalidInput, collection)
}

// Page fetches and normalizes one page of a collection. Collection pages
// always bypass the response cache: sync decisions need live listings.
func (s *SpotifyService) Page(ctx context.Context, collection Collection, cursor string) (*Page, error) {
	target := cursor
	if target == "" {
		first, err := s.firstPageURL(collection)
		if err != nil {
			return nil, err
		}
		target = first
	}

	switch {
	case collection == CollectionPlaylists:
		var payload spotifyPlaylistPage
		if err := s.do(ctx, http.MethodGet, target, nil, &payload, true); err != nil {
			return nil, err
		}
		return normalizePlaylistPage(&payload), nil

	case collection == CollectionLikedSongs:
		var payload spotifyTrackPage
		if err := s.do(ctx, http.MethodGet, target, nil, &payload, true); err != nil {
			return nil, err
		}
		return normalizeTrackPage(models.LikedSongsID, &payload), nil

	case collection == CollectionRecentlyPlayed:
		var payload spotifyHistoryPage
		if err := s.do(ctx, http.MethodGet, target, nil, &payload, true); err != nil {
			return nil, err
		}
		return normalizeHistoryPage(&payload), nil

	default:
		playlistID, ok := collection.PlaylistID()
		if !ok {
			return nil, fmt.Errorf("%w: unknown collection %q", shared.ErrInvalidInput, collection)
		}
		var payload spotifyTrackPage
		if err := s.do(ctx, http.MethodGet, target, nil, &payload, true); err != nil {
			return nil, err
		}
		return normalizeTrackPage(playlistID, &payload), nil
	}
}

// Artists fetches full artist rows for up to 50 ids in one batched lookup.
// These lookups are cacheable: genre sets drift slowly, and serving repeats
// from the response cache spends no rate budget.
func (s *SpotifyService) Artists(ctx context.Context, ids []string) ([]models.Artist, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > artistBatchMax {
		return nil, fmt.Errorf("%w: at most %d artist ids per lookup", shared.ErrInvalidInput, artistBatchMax)
	}

	var payload struct {
		Artists []spotifyArtist `json:"artists"`
	}
	endpoint := "/artists?ids=" + url.QueryEscape(strings.Join(ids, ","))
	if err := s.do(ctx, http.MethodGet, endpoint, nil, &payload, false); err != nil {
		return nil, err
	}

	artists := make([]models.Artist, 0, len(payload.Artists))
	for _, a := range payload.Artists {
		if a.ID == "" {
			continue
		}
		artists = append(artists, models.Artist{ID: a.ID, Name: a.Name, Genres: a.Genres})
	}
	return artists, nil
}

// Membership freshly lists a playlist's complete current membership. Used
// wherever acting on stale data would be destructive.
func (s *SpotifyService) Membership(ctx context.Context, playlistID string) ([]models.PlaylistTrack, error) {
	var rows []models.PlaylistTrack

	stream := NewStream(s, PlaylistTracksCollection(playlistID), "")
	for stream.More() {
		page, err := stream.Next(ctx)
		if err != nil {
			return nil, err
		}
		for _, row := range page.Rows {
			if membership, ok := row.(models.PlaylistTrack); ok {
				rows = append(rows, membership)
			}
		}
	}
	return rows, nil
}

// CreatePlaylist creates a private playlist owned by userID.
func (s *SpotifyService) CreatePlaylist(ctx context.Context, userID, name string) (*models.Playlist, error) {
	body := map[string]any{"name": name, "public": false}

	var created spotifySimplePlaylist
	endpoint := "/users/" + url.PathEscape(userID) + "/playlists"
	if err := s.do(ctx, http.MethodPost, endpoint, body, &created, false); err != nil {
		return nil, err
	}

	playlist := normalizePlaylist(created)
	return &playlist, nil
}

// RenamePlaylist changes a playlist's display name.
func (s *SpotifyService) RenamePlaylist(ctx context.Context, playlistID, name string) error {
	body := map[string]any{"name": name}
	return s.do(ctx, http.MethodPut, "/playlists/"+url.PathEscape(playlistID), body, nil, false)
}

// SetDescription replaces a playlist's description text.
func (s *SpotifyService) SetDescription(ctx context.Context, playlistID, description string) error {
	body := map[string]any{"description": description}
	return s.do(ctx, http.MethodPut, "/playlists/"+url.PathEscape(playlistID), body, nil, false)
}

// AddTracks appends tracks to a playlist in listing order.
func (s *SpotifyService) AddTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	if len(trackIDs) == 0 {
		return nil
	}
	uris := make([]string, len(trackIDs))
	for i, id := range trackIDs {
		uris[i] = trackURI(id)
	}
	body := map[string]any{"uris": uris}
	return s.do(ctx, http.MethodPost, "/playlists/"+url.PathEscape(playlistID)+"/tracks", body, nil, false)
}

// RemoveTracks removes every occurrence of the given tracks.
func (s *SpotifyService) RemoveTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	if len(trackIDs) == 0 {
		return nil
	}
	refs := make([]map[string]string, len(trackIDs))
	for i, id := range trackIDs {
		refs[i] = map[string]string{"uri": trackURI(id)}
	}
	body := map[string]any{"tracks": refs}
	return s.do(ctx, http.MethodDelete, "/playlists/"+url.PathEscape(playlistID)+"/tracks", body, nil, false)
}

// UnfollowPlaylist removes the playlist from the user's library. Spotify has
// no playlist deletion; unfollowing an owned playlist is the same operation.
func (s *SpotifyService) UnfollowPlaylist(ctx context.Context, playlistID string) error {
	return s.do(ctx, http.MethodDelete, "/playlists/"+url.PathEscape(playlistID)+"/followers", nil, nil, false)
}

func trackURI(id string) string { return "spotify:track:" + id }

func normalizePlaylist(sp spotifySimplePlaylist) models.Playlist {
	return models.Playlist{
		ID:              sp.ID,
		Name:            sp.Name,
		OwnerID:         sp.Owner.ID,
		SnapshotVersion: sp.SnapshotID,
		TrackCount:      sp.Tracks.Total,
	}
}

func normalizePlaylistPage(payload *spotifyPlaylistPage) *Page {
	page := &Page{Cursor: derefCursor(payload.Next)}
	for _, item := range payload.Items {
		if item.ID == "" {
			continue
		}
		page.Rows = append(page.Rows, normalizePlaylist(item))
	}
	return page
}

// normalizeTrackPage flattens a membership page into Track, Artist,
// TrackArtist and PlaylistTrack rows. Referenced entities precede the
// membership rows so a page can be merged in row order. Embedded artists
// carry no genres; the cached genre set survives their merge.
func normalizeTrackPage(playlistID string, payload *spotifyTrackPage) *Page {
	page := &Page{Cursor: derefCursor(payload.Next)}
	for _, item := range payload.Items {
		if item.Track.ID == "" || item.Track.IsLocal {
			continue
		}
		page.Rows = append(page.Rows, normalizeTrackRows(item.Track)...)
		page.Rows = append(page.Rows, models.PlaylistTrack{
			PlaylistID: playlistID,
			TrackID:    item.Track.ID,
			AddedAt:    parseTime(item.AddedAt),
		})
	}
	return page
}

func normalizeHistoryPage(payload *spotifyHistoryPage) *Page {
	page := &Page{Cursor: derefCursor(payload.Next)}
	for _, item := range payload.Items {
		if item.Track.ID == "" {
			continue
		}
		page.Rows = append(page.Rows, normalizeTrackRows(item.Track)...)
		page.Rows = append(page.Rows, models.StreamingEvent{
			PlayedAt: parseTime(item.PlayedAt),
			TrackID:  item.Track.ID,
			MSPlayed: item.Track.DurationMS,
		})
	}
	return page
}

func normalizeTrackRows(track spotifyTrack) []models.Row {
	rows := []models.Row{models.Track{
		ID:          track.ID,
		Name:        track.Name,
		DurationMS:  track.DurationMS,
		Popularity:  track.Popularity,
		ReleaseYear: releaseYear(track.Album.ReleaseDate),
	}}

	for position, artist := range track.Artists {
		if artist.ID == "" {
			continue
		}
		rows = append(rows,
			models.Artist{ID: artist.ID, Name: artist.Name, Genres: artist.Genres},
			models.TrackArtist{TrackID: track.ID, ArtistID: artist.ID, Position: position},
		)
	}
	return rows
}

// releaseYear extracts the year from a release date, which the provider
// truncates to "2006", "2006-01" or "2006-01-02" depending on precision.
func releaseYear(releaseDate string) int {
	if len(releaseDate) < 4 {
		return 0
	}
	year, err := strconv.Atoi(releaseDate[:4])
	if err != nil {
		return 0
	}
	return year
}

func parseTime(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}

func derefCursor(next *string) string {
	if next == nil {
		return ""
	}
	return *next
}
