package player

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ankleBowl/LucyServer/internal/capability"
)

const (
	spotifyAPIBase      = "https://api.spotify.com/v1"
	spotifyAccountsBase = "https://accounts.spotify.com"

	oauthScope = "user-read-playback-state user-modify-playback-state " +
		"user-read-currently-playing user-library-read user-library-modify"

	// refreshMargin is how close to expiry a token may get before a
	// call refreshes it first.
	refreshMargin = 60 * time.Second
)

// tokenSet is the persisted OAuth token state.
type tokenSet struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	// ExpiresAt is a unix timestamp.
	ExpiresAt int64 `json:"expires_at"`
}

func (t tokenSet) valid() bool {
	return t.AccessToken != "" && t.RefreshToken != ""
}

// spotifyClient is a minimal Spotify Web API client. It owns the token
// lifecycle; callers never see raw credentials.
type spotifyClient struct {
	log          *slog.Logger
	httpClient   *http.Client
	clientID     string
	clientSecret string
	redirectURL  string

	// Endpoint overrides for tests.
	apiBase      string
	accountsBase string

	// save persists refreshed tokens so restarts stay logged in.
	save func(tokenSet) error
	now  func() time.Time

	mu     sync.Mutex
	tokens tokenSet
}

func (c *spotifyClient) configured() bool {
	return c.clientID != "" && c.clientSecret != ""
}

// LoggedIn reports whether the client holds a usable token pair.
func (c *spotifyClient) LoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens.valid()
}

// AuthorizeURL builds the Spotify consent page URL for one pending
// authorization.
func (c *spotifyClient) AuthorizeURL(state string) string {
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {c.clientID},
		"scope":         {oauthScope},
		"redirect_uri":  {c.redirectURL},
		"state":         {state},
	}
	return c.accountsBase + "/authorize?" + params.Encode()
}

// Exchange redeems an authorization code for a token pair.
func (c *spotifyClient) Exchange(ctx context.Context, code string) error {
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {c.redirectURL},
	}
	tokens, err := c.tokenRequest(ctx, form)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.setTokensLocked(tokens)
	return nil
}

// token returns a current access token, refreshing first when the one
// on hand is within the refresh margin of expiry.
func (c *spotifyClient) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.tokens.valid() {
		return "", capability.Errf(capability.KindNotAuthenticated,
			"not logged in to Spotify")
	}

	if c.tokens.ExpiresAt < c.now().Add(refreshMargin).Unix() {
		form := url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {c.tokens.RefreshToken},
			"client_id":     {c.clientID},
		}
		tokens, err := c.tokenRequest(ctx, form)
		if err != nil {
			return "", capability.Errf(capability.KindNotAuthenticated,
				"refreshing Spotify tokens failed: %v", err)
		}
		// Spotify does not always return a new refresh token.
		if tokens.RefreshToken == "" {
			tokens.RefreshToken = c.tokens.RefreshToken
		}
		c.setTokensLocked(tokens)
	}

	return c.tokens.AccessToken, nil
}

// setTokensLocked installs and persists a token pair.
func (c *spotifyClient) setTokensLocked(tokens tokenSet) {
	c.tokens = tokens
	if c.save != nil {
		if err := c.save(tokens); err != nil {
			c.log.Warn("failed to persist spotify tokens", "error", err)
		}
	}
}

// tokenRequest performs one call against the accounts token endpoint.
func (c *spotifyClient) tokenRequest(ctx context.Context, form url.Values) (tokenSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.accountsBase+"/api/token", strings.NewReader(form.Encode()))
	if err != nil {
		return tokenSet{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.clientID, c.clientSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return tokenSet{}, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return tokenSet{}, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return tokenSet{}, fmt.Errorf("decode token response: %w", err)
	}

	return tokenSet{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		ExpiresAt:    c.now().Unix() + payload.ExpiresIn,
	}, nil
}

// apiError is Spotify's error envelope.
type apiError struct {
	Error struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
		Reason  string `json:"reason"`
	} `json:"error"`
}

// call performs one authenticated Web API request. A nil body sends no
// payload. NO_ACTIVE_DEVICE failures come back as a no-active-player
// kind so the activation policy can react.
func (c *spotifyClient) call(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := c.apiBase + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("spotify request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}

	var ae apiError
	if json.Unmarshal(data, &ae) == nil && ae.Error.Reason == "NO_ACTIVE_DEVICE" {
		return nil, capability.Errf(capability.KindNoActivePlayer,
			"no active Spotify device")
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, capability.Errf(capability.KindNotAuthenticated,
			"spotify rejected the access token")
	}
	if ae.Error.Message != "" {
		return nil, fmt.Errorf("spotify returned %d: %s", resp.StatusCode, ae.Error.Message)
	}
	return nil, fmt.Errorf("spotify returned %d for %s %s", resp.StatusCode, method, path)
}

// get decodes a GET response into out.
func (c *spotifyClient) get(ctx context.Context, path string, query url.Values, out any) error {
	data, err := c.call(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// Catalog object shapes, trimmed to the fields the module reads.

type artist struct {
	Name string `json:"name"`
}

type track struct {
	ID      string   `json:"id"`
	URI     string   `json:"uri"`
	Name    string   `json:"name"`
	Artists []artist `json:"artists"`
}

func (t track) primaryArtist() string {
	if len(t.Artists) == 0 {
		return ""
	}
	return t.Artists[0].Name
}

type album struct {
	ID      string   `json:"id"`
	URI     string   `json:"uri"`
	Name    string   `json:"name"`
	Artists []artist `json:"artists"`
}

type catalogArtist struct {
	ID   string `json:"id"`
	URI  string `json:"uri"`
	Name string `json:"name"`
}

type playlist struct {
	ID          string `json:"id"`
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Owner       struct {
		DisplayName string `json:"display_name"`
	} `json:"owner"`
	Tracks struct {
		Total int `json:"total"`
	} `json:"tracks"`
}

type playbackState struct {
	IsPlaying    bool   `json:"is_playing"`
	ShuffleState bool   `json:"shuffle_state"`
	ProgressMS   int    `json:"progress_ms"`
	Item         *struct {
		ID         string   `json:"id"`
		Name       string   `json:"name"`
		DurationMS int      `json:"duration_ms"`
		Artists    []artist `json:"artists"`
		Album      struct {
			Name string `json:"name"`
		} `json:"album"`
	} `json:"item"`
	Device struct {
		VolumePercent int `json:"volume_percent"`
	} `json:"device"`
}

// currentPlayback fetches the player state. A 204 means nothing is
// playing and returns nil.
func (c *spotifyClient) currentPlayback(ctx context.Context) (*playbackState, error) {
	data, err := c.call(ctx, http.MethodGet, "/me/player", nil, nil)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var state playbackState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode playback state: %w", err)
	}
	return &state, nil
}

type searchResults struct {
	Tracks struct {
		Items []track `json:"items"`
	} `json:"tracks"`
	Albums struct {
		Items []album `json:"items"`
	} `json:"albums"`
	Artists struct {
		Items []catalogArtist `json:"items"`
	} `json:"artists"`
}

func (c *spotifyClient) search(ctx context.Context, query string, limit int) (*searchResults, error) {
	var results searchResults
	err := c.get(ctx, "/search", url.Values{
		"q":     {query},
		"type":  {"track,album,artist"},
		"limit": {fmt.Sprint(limit)},
	}, &results)
	if err != nil {
		return nil, err
	}
	return &results, nil
}

func (c *spotifyClient) albumTracks(ctx context.Context, albumID string) ([]track, error) {
	var page struct {
		Items []track `json:"items"`
	}
	err := c.get(ctx, "/albums/"+albumID+"/tracks", url.Values{"limit": {"50"}}, &page)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (c *spotifyClient) artistTopTracks(ctx context.Context, artistID string) ([]track, error) {
	var payload struct {
		Tracks []track `json:"tracks"`
	}
	err := c.get(ctx, "/artists/"+artistID+"/top-tracks", url.Values{"market": {"from_token"}}, &payload)
	if err != nil {
		return nil, err
	}
	return payload.Tracks, nil
}

// startPlayback starts playing either a list of track URIs or a context
// (album or playlist) URI.
func (c *spotifyClient) startPlayback(ctx context.Context, uris []string, contextURI string) error {
	body := map[string]any{}
	if len(uris) > 0 {
		body["uris"] = uris
	}
	if contextURI != "" {
		body["context_uri"] = contextURI
	}
	var payload any
	if len(body) > 0 {
		payload = body
	}
	_, err := c.call(ctx, http.MethodPut, "/me/player/play", nil, payload)
	return err
}

func (c *spotifyClient) addToQueue(ctx context.Context, uri string) error {
	_, err := c.call(ctx, http.MethodPost, "/me/player/queue", url.Values{"uri": {uri}}, nil)
	return err
}

func (c *spotifyClient) pausePlayback(ctx context.Context) error {
	_, err := c.call(ctx, http.MethodPut, "/me/player/pause", nil, nil)
	return err
}

func (c *spotifyClient) nextTrack(ctx context.Context) error {
	_, err := c.call(ctx, http.MethodPost, "/me/player/next", nil, nil)
	return err
}

func (c *spotifyClient) previousTrack(ctx context.Context) error {
	_, err := c.call(ctx, http.MethodPost, "/me/player/previous", nil, nil)
	return err
}

func (c *spotifyClient) setShuffle(ctx context.Context, state bool) error {
	_, err := c.call(ctx, http.MethodPut, "/me/player/shuffle",
		url.Values{"state": {fmt.Sprint(state)}}, nil)
	return err
}

func (c *spotifyClient) setVolume(ctx context.Context, percent int) error {
	_, err := c.call(ctx, http.MethodPut, "/me/player/volume",
		url.Values{"volume_percent": {fmt.Sprint(percent)}}, nil)
	return err
}

func (c *spotifyClient) saveTracks(ctx context.Context, ids []string) error {
	_, err := c.call(ctx, http.MethodPut, "/me/tracks",
		url.Values{"ids": {strings.Join(ids, ",")}}, nil)
	return err
}

// savedTracksPage reads one page of the user's liked songs.
func (c *spotifyClient) savedTracksPage(ctx context.Context, limit, offset int) ([]track, error) {
	var page struct {
		Items []struct {
			Track track `json:"track"`
		} `json:"items"`
	}
	err := c.get(ctx, "/me/tracks", url.Values{
		"limit":  {fmt.Sprint(limit)},
		"offset": {fmt.Sprint(offset)},
	}, &page)
	if err != nil {
		return nil, err
	}
	tracks := make([]track, 0, len(page.Items))
	for _, item := range page.Items {
		tracks = append(tracks, item.Track)
	}
	return tracks, nil
}

// playlistsPage reads one page of the user's playlists.
func (c *spotifyClient) playlistsPage(ctx context.Context, limit, offset int) ([]playlist, error) {
	var page struct {
		Items []playlist `json:"items"`
	}
	err := c.get(ctx, "/me/playlists", url.Values{
		"limit":  {fmt.Sprint(limit)},
		"offset": {fmt.Sprint(offset)},
	}, &page)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (c *spotifyClient) playlistTracks(ctx context.Context, playlistID string, limit int) ([]track, error) {
	var page struct {
		Items []struct {
			Track *track `json:"track"`
		} `json:"items"`
	}
	err := c.get(ctx, "/playlists/"+playlistID+"/tracks",
		url.Values{"limit": {fmt.Sprint(limit)}}, &page)
	if err != nil {
		return nil, err
	}
	tracks := make([]track, 0, len(page.Items))
	for _, item := range page.Items {
		if item.Track == nil {
			continue
		}
		tracks = append(tracks, *item.Track)
	}
	return tracks, nil
}
