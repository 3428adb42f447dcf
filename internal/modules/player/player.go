// Package player drives Spotify playback for a session.
//
// Playback calls run under the activation policy: when Spotify reports
// no active device, the module asks the client to bring up its
// streaming surface and retries once after the client confirms. The
// module also serves the OAuth authorize and callback web previews and
// ducks playback volume while the wake-word window is open.
package player

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ankleBowl/LucyServer/internal/activation"
	"github.com/ankleBowl/LucyServer/internal/capability"
	"github.com/ankleBowl/LucyServer/internal/message"
)

const (
	defaultRedirectURL = "http://127.0.0.1:8741/v1/module/player/callback"

	initStreamingMessage      = "INIT_SPOTIFY_STREAMING"
	streamingInitiatedMessage = "SPOTIFY_STREAMING_INITIATED"

	// duckVolumePercent is the playback volume held while the wake-word
	// window is open.
	duckVolumePercent = 20

	searchLimit = 10
	// likedShuffleLimit caps how many liked songs a shuffle request
	// hands to the player at once.
	likedShuffleLimit = 100
)

// credentials is the per-user Spotify application configuration.
type credentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURL  string `json:"redirect_url"`
}

// Module implements the player capability.
type Module struct {
	ctx  *capability.Context
	api  *spotifyClient
	lib  *library
	gate *activation.Gate

	// Policy overrides for tests; zero takes the defaults.
	activationTimeout time.Duration
	activationSettle  time.Duration

	// duckedFrom is the volume to restore when the wake-word window
	// closes, or -1 when not ducked.
	volMu      sync.Mutex
	duckedFrom int
}

// New constructs the module.
func New() capability.Module {
	return &Module{duckedFrom: -1}
}

func (m *Module) Name() string { return "player" }

func (m *Module) Setup(c *capability.Context) error {
	m.ctx = c
	m.gate = activation.NewGate()

	var creds credentials
	def := credentials{RedirectURL: defaultRedirectURL}
	if err := c.Settings.Load("spotify_api", def, &creds); err != nil {
		return fmt.Errorf("load spotify credentials: %w", err)
	}

	var tokens tokenSet
	if err := c.Settings.Load("tokens", tokenSet{}, &tokens); err != nil {
		return fmt.Errorf("load spotify tokens: %w", err)
	}

	m.api = &spotifyClient{
		log:          c.Log,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		clientID:     creds.ClientID,
		clientSecret: creds.ClientSecret,
		redirectURL:  creds.RedirectURL,
		apiBase:      spotifyAPIBase,
		accountsBase: spotifyAccountsBase,
		now:          time.Now,
		tokens:       tokens,
		save: func(t tokenSet) error {
			return c.Settings.Save("tokens", t)
		},
	}

	// The library loads from its persisted caches here; fresh catalog
	// pulls happen after login and after a song is liked.
	m.lib = newLibrary(m.api, c.Settings, c.Log)
	return m.lib.load()
}

func (m *Module) Functions() []capability.Function {
	return []capability.Function{
		{
			Name:        "play",
			Description: "Plays a song, album, or artist on Spotify based on a search query. This takes natural language input. For example, 'wildfire', 'the song wildfire', and 'the song wildfire by Jeremy Zucker' are all valid inputs. This will play tracks, albums, or artists. It will not play playlists. Set should_queue to true to add to the queue instead of playing immediately.",
			Args:        []string{"string_query", "should_queue"},
			Handler:     m.handlePlay,
		},
		{
			Name:        "play_playlist",
			Description: "Plays a Spotify playlist based on a fuzzy search of the playlist name. To play liked songs, use the query 'liked-tracks'.",
			Args:        []string{"playlist_name"},
			Handler:     m.handlePlayPlaylist,
		},
		{
			Name:        "get_playlist_details",
			Description: "Retrieves details about a Spotify playlist, including its name, description, owner, number of tracks, and the first 20 tracks. To get information about liked songs, use the query 'liked-tracks'.",
			Args:        []string{"playlist_name"},
			Handler:     m.handlePlaylistDetails,
		},
		{
			Name:        "get_current_playback",
			Description: "Retrieves information about the currently playing track on Spotify, or 'what song is currently playing'.",
			Handler:     m.handleCurrentPlayback,
		},
		{
			Name:        "control_playback",
			Description: "Controls playback on Spotify. Action can be one of the following: 'play', 'pause', 'next', 'previous', 'shuffle', 'noshuffle'.",
			Args:        []string{"action"},
			Handler:     m.handleControlPlayback,
		},
		{
			Name:        "like_current_song",
			Description: "Likes the currently playing song on Spotify.",
			Handler:     m.handleLikeCurrentSong,
		},
		{
			Name:    "handle_message",
			Hidden:  true,
			Handler: m.handleClientMessage,
		},
	}
}

// withActivation runs a playback call under the delegated-activation
// policy: a no-active-device failure asks the client to start its
// streaming surface and retries once after the client reports ready.
func (m *Module) withActivation(ctx context.Context, call func(context.Context) error) error {
	policy := &activation.Policy{
		Ready:   m.gate,
		Timeout: m.activationTimeout,
		Settle:  m.activationSettle,
		Activate: func(ctx context.Context) error {
			return m.ctx.Notify.SendToolMessage(m.Name(),
				map[string]any{"message": initStreamingMessage})
		},
	}
	_, err := policy.Do(ctx, func(ctx context.Context) (any, error) {
		return nil, call(ctx)
	})
	return err
}

// playOrQueue starts the given tracks or appends them to the queue.
func (m *Module) playOrQueue(ctx context.Context, uris []string, queue bool) error {
	return m.withActivation(ctx, func(ctx context.Context) error {
		if !queue {
			return m.api.startPlayback(ctx, uris, "")
		}
		for _, uri := range uris {
			if err := m.api.addToQueue(ctx, uri); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *Module) handlePlay(ctx context.Context, args map[string]any) (any, error) {
	query, ok := capability.StringArg(args, "string_query")
	if !ok || query == "" {
		return map[string]string{"error": "string_query is required."}, nil
	}
	shouldQueue, _ := args["should_queue"].(bool)

	// Liked songs win outright on an exact name match; no search call.
	if t, found := m.lib.likedByName(query); found {
		if err := m.playOrQueue(ctx, []string{t.URI}, shouldQueue); err != nil {
			return nil, err
		}
		return map[string]string{
			"status": "playing",
			"item":   fmt.Sprintf("%s (track) by %s", t.Name, t.primaryArtist()),
		}, nil
	}

	results, err := m.api.search(ctx, query, searchLimit)
	if err != nil {
		return nil, err
	}

	best, score := rankCandidates(query, collectCandidates(results), m.lib.isLiked)
	if score < minMatchScore {
		return map[string]string{"error": fmt.Sprintf("No results found for '%s'", query)}, nil
	}
	best = narrowTies(best)

	if len(best) > 1 {
		options := make([]string, 0, len(best))
		for _, c := range best {
			options = append(options, c.natural())
		}
		return []any{
			map[string]any{
				"error":   fmt.Sprintf("Multiple results found for '%s'", query),
				"options": options,
			},
			message.New(message.KindAssistant, ambiguityResponse(best)),
			message.New(message.KindEnd, ""),
		}, nil
	}

	chosen := best[0]
	uris, err := m.resolveURIs(ctx, chosen)
	if err != nil {
		return nil, err
	}
	if err := m.playOrQueue(ctx, uris, shouldQueue); err != nil {
		return nil, err
	}

	item := fmt.Sprintf("%s (%s)", chosen.name, chosen.kind)
	if chosen.kind != "artist" {
		item += " by " + chosen.artist
	}
	return map[string]string{"status": "playing", "item": item}, nil
}

// resolveURIs expands a candidate into the track URIs to play.
func (m *Module) resolveURIs(ctx context.Context, c candidate) ([]string, error) {
	switch c.kind {
	case "track":
		return []string{c.uri}, nil
	case "album":
		tracks, err := m.api.albumTracks(ctx, c.id)
		if err != nil {
			return nil, err
		}
		return trackURIs(tracks), nil
	case "artist":
		tracks, err := m.api.artistTopTracks(ctx, c.id)
		if err != nil {
			return nil, err
		}
		return trackURIs(tracks), nil
	}
	return nil, fmt.Errorf("unknown candidate kind %q", c.kind)
}

func trackURIs(tracks []track) []string {
	uris := make([]string, 0, len(tracks))
	for _, t := range tracks {
		uris = append(uris, t.URI)
	}
	return uris
}

func (m *Module) handlePlayPlaylist(ctx context.Context, args map[string]any) (any, error) {
	name, ok := capability.StringArg(args, "playlist_name")
	if !ok || name == "" {
		return map[string]string{"error": "playlist_name is required."}, nil
	}

	if name == "liked-tracks" {
		uris := m.lib.likedURIs()
		if len(uris) == 0 {
			return map[string]string{"error": "No liked songs found."}, nil
		}
		rand.Shuffle(len(uris), func(i, j int) { uris[i], uris[j] = uris[j], uris[i] })
		if len(uris) > likedShuffleLimit {
			uris = uris[:likedShuffleLimit]
		}
		if err := m.playOrQueue(ctx, uris, false); err != nil {
			return nil, err
		}
		return map[string]string{"status": "playing", "item": "liked-tracks"}, nil
	}

	best, found := m.lib.bestPlaylist(name)
	if !found {
		return map[string]string{"error": fmt.Sprintf("No playlists found matching '%s'", name)}, nil
	}
	err := m.withActivation(ctx, func(ctx context.Context) error {
		return m.api.startPlayback(ctx, nil, best.URI)
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"status": "playing",
		"item":   fmt.Sprintf("playlist '%s'", best.Name),
	}, nil
}

func (m *Module) handlePlaylistDetails(ctx context.Context, args map[string]any) (any, error) {
	name, ok := capability.StringArg(args, "playlist_name")
	if !ok || name == "" {
		return map[string]string{"error": "playlist_name is required."}, nil
	}

	type trackSummary struct {
		Name   string `json:"name"`
		Artist string `json:"artist"`
	}

	if name == "liked-tracks" {
		tracks := make([]trackSummary, 0, 20)
		for _, t := range m.lib.likedTracks(20) {
			tracks = append(tracks, trackSummary{Name: t.Name, Artist: t.primaryArtist()})
		}
		return map[string]any{
			"name":            "Liked Songs",
			"description":     "Your liked songs on Spotify",
			"owner":           "You",
			"num_tracks":      m.lib.likedCount(),
			"first_20_tracks": tracks,
		}, nil
	}

	best, found := m.lib.bestPlaylist(name)
	if !found {
		return map[string]string{"error": fmt.Sprintf("No playlists found matching '%s'", name)}, nil
	}
	items, err := m.api.playlistTracks(ctx, best.ID, 20)
	if err != nil {
		return nil, err
	}
	tracks := make([]trackSummary, 0, len(items))
	for _, t := range items {
		tracks = append(tracks, trackSummary{Name: t.Name, Artist: t.primaryArtist()})
	}
	return map[string]any{
		"name":            best.Name,
		"description":     best.Description,
		"owner":           best.Owner.DisplayName,
		"num_tracks":      best.Tracks.Total,
		"first_20_tracks": tracks,
	}, nil
}

func (m *Module) handleCurrentPlayback(ctx context.Context, args map[string]any) (any, error) {
	state, err := m.api.currentPlayback(ctx)
	if err != nil {
		return nil, err
	}
	if state == nil || state.Item == nil {
		return map[string]string{"status": "no_song_playing"}, nil
	}

	completion := 0.0
	if state.Item.DurationMS > 0 {
		completion = float64(state.ProgressMS) / float64(state.Item.DurationMS)
	}
	artistName := ""
	if len(state.Item.Artists) > 0 {
		artistName = state.Item.Artists[0].Name
	}
	return map[string]any{
		"track_name":        state.Item.Name,
		"artist_name":       artistName,
		"album_name":        state.Item.Album.Name,
		"is_paused":         !state.IsPlaying,
		"is_shuffling":      state.ShuffleState,
		"completion_amount": completion,
	}, nil
}

func (m *Module) handleControlPlayback(ctx context.Context, args map[string]any) (any, error) {
	action, _ := capability.StringArg(args, "action")

	var call func(context.Context) error
	switch action {
	case "play":
		call = func(ctx context.Context) error { return m.api.startPlayback(ctx, nil, "") }
	case "pause":
		call = m.api.pausePlayback
	case "next":
		call = m.api.nextTrack
	case "previous":
		call = m.api.previousTrack
	case "shuffle":
		call = func(ctx context.Context) error { return m.api.setShuffle(ctx, true) }
	case "noshuffle":
		call = func(ctx context.Context) error { return m.api.setShuffle(ctx, false) }
	default:
		return map[string]string{
			"error": fmt.Sprintf("Unknown action '%s'. Valid actions: play, pause, next, previous, shuffle, noshuffle.", action),
		}, nil
	}

	if err := m.withActivation(ctx, call); err != nil {
		return nil, err
	}
	return map[string]string{"status": "success"}, nil
}

func (m *Module) handleLikeCurrentSong(ctx context.Context, args map[string]any) (any, error) {
	state, err := m.api.currentPlayback(ctx)
	if err != nil {
		return nil, err
	}
	if state == nil || state.Item == nil {
		return map[string]string{"error": "No song is currently playing"}, nil
	}

	if err := m.api.saveTracks(ctx, []string{state.Item.ID}); err != nil {
		return nil, err
	}
	if err := m.lib.refreshLiked(ctx); err != nil {
		m.ctx.Log.Warn("failed to refresh liked songs cache", "error", err)
	}

	artistName := ""
	if len(state.Item.Artists) > 0 {
		artistName = state.Item.Artists[0].Name
	}
	return map[string]string{
		"status": "liked",
		"item":   fmt.Sprintf("%s by %s", state.Item.Name, artistName),
	}, nil
}

// handleClientMessage receives transport messages routed to this
// module. The streaming-initiated report releases any playback call
// waiting on the activation gate.
func (m *Module) handleClientMessage(ctx context.Context, args map[string]any) (any, error) {
	payload, _ := args["message"].(map[string]any)
	msg, _ := payload["message"].(string)
	if msg == streamingInitiatedMessage {
		m.gate.Signal()
	}
	return nil, nil
}

// WakeWordDetected ducks playback volume while the session listens for
// a command.
func (m *Module) WakeWordDetected(ctx context.Context) {
	if !m.api.LoggedIn() {
		return
	}

	m.volMu.Lock()
	defer m.volMu.Unlock()
	if m.duckedFrom >= 0 {
		return
	}

	state, err := m.api.currentPlayback(ctx)
	if err != nil || state == nil || !state.IsPlaying {
		return
	}
	if err := m.api.setVolume(ctx, duckVolumePercent); err != nil {
		m.ctx.Log.Warn("failed to duck playback volume", "error", err)
		return
	}
	m.duckedFrom = state.Device.VolumePercent
}

// WakeWordCleared restores the pre-wake playback volume.
func (m *Module) WakeWordCleared(ctx context.Context) {
	m.volMu.Lock()
	defer m.volMu.Unlock()
	if m.duckedFrom < 0 {
		return
	}
	if err := m.api.setVolume(ctx, m.duckedFrom); err != nil {
		m.ctx.Log.Warn("failed to restore playback volume", "error", err)
	}
	m.duckedFrom = -1
}

// WebPreview serves the OAuth pages. "authorize" registers a pending
// authorization and redirects to the Spotify consent page; "callback"
// redeems the returned code for tokens.
func (m *Module) WebPreview(path string, args url.Values) capability.Preview {
	switch path {
	case "authorize":
		if !m.api.configured() {
			return capability.Preview{
				Type:    "html",
				Content: "<h1>Spotify client credentials are not configured.</h1>",
			}
		}
		state := uuid.NewString()
		m.ctx.Auth.Put(state, m.ctx.UserID, m.Name())
		return capability.Preview{Type: "redirect", Content: m.api.AuthorizeURL(state)}

	case "callback":
		code := args.Get("code")
		if code == "" {
			return capability.Preview{
				Type:    "html",
				Content: "<h1>Missing authorization code. Please try logging in again.</h1>",
			}
		}
		if err := m.api.Exchange(context.Background(), code); err != nil {
			m.ctx.Log.Warn("spotify code exchange failed", "error", err)
			return capability.Preview{
				Type:    "html",
				Content: "<h1>Error getting tokens. Please try logging in again.</h1>",
			}
		}
		m.lib.refresh(context.Background())
		return capability.Preview{
			Type: "html",
			Content: "<h1>Successfully logged in to Spotify! You can now close this window.</h1>" +
				"<script>setTimeout(() => { window.close(); }, 2000);</script>",
		}
	}

	return capability.Preview{
		Type:    "html",
		Content: fmt.Sprintf("<h1>Invalid path: %s</h1>", path),
	}
}
