package player

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ankleBowl/LucyServer/internal/capability"
	"github.com/ankleBowl/LucyServer/internal/message"
	"github.com/ankleBowl/LucyServer/internal/oauthstate"
	settingsstore "github.com/ankleBowl/LucyServer/internal/settings"
)

// fakeSpotify serves both the accounts and Web API surfaces.
type fakeSpotify struct {
	mu          sync.Mutex
	playBodies  []map[string]any
	queueURIs   []string
	volumeSets  []string
	savedTracks []string
	tokenGrants []string

	// noDeviceRemaining makes that many playback calls fail with
	// NO_ACTIVE_DEVICE before succeeding.
	noDeviceRemaining int

	searchJSON   string
	playbackJSON string
	wantToken    string
}

func (f *fakeSpotify) handler(t *testing.T) http.Handler {
	checkAuth := func(r *http.Request) {
		f.mu.Lock()
		want := "Bearer " + f.wantToken
		f.mu.Unlock()
		if got := r.Header.Get("Authorization"); got != want {
			t.Errorf("Authorization = %q, want %q", got, want)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		f.mu.Lock()
		f.tokenGrants = append(f.tokenGrants, r.FormValue("grant_type"))
		f.mu.Unlock()
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-id" || pass != "client-secret" {
			t.Errorf("basic auth = %q/%q", user, pass)
		}
		fmt.Fprint(w, `{"access_token":"fresh-token","refresh_token":"fresh-refresh","expires_in":3600}`)
	})
	mux.HandleFunc("GET /search", func(w http.ResponseWriter, r *http.Request) {
		checkAuth(r)
		fmt.Fprint(w, f.searchJSON)
	})
	mux.HandleFunc("PUT /me/player/play", func(w http.ResponseWriter, r *http.Request) {
		checkAuth(r)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.noDeviceRemaining > 0 {
			f.noDeviceRemaining--
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"status":404,"message":"Player command failed: No active device found","reason":"NO_ACTIVE_DEVICE"}}`)
			return
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.playBodies = append(f.playBodies, body)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /me/player/queue", func(w http.ResponseWriter, r *http.Request) {
		checkAuth(r)
		f.mu.Lock()
		f.queueURIs = append(f.queueURIs, r.URL.Query().Get("uri"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /me/player", func(w http.ResponseWriter, r *http.Request) {
		checkAuth(r)
		if f.playbackJSON == "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		fmt.Fprint(w, f.playbackJSON)
	})
	mux.HandleFunc("PUT /me/player/volume", func(w http.ResponseWriter, r *http.Request) {
		checkAuth(r)
		f.mu.Lock()
		f.volumeSets = append(f.volumeSets, r.URL.Query().Get("volume_percent"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("PUT /me/tracks", func(w http.ResponseWriter, r *http.Request) {
		checkAuth(r)
		f.mu.Lock()
		f.savedTracks = append(f.savedTracks, r.URL.Query().Get("ids"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /me/tracks", func(w http.ResponseWriter, r *http.Request) {
		checkAuth(r)
		fmt.Fprint(w, `{"items":[]}`)
	})
	mux.HandleFunc("GET /me/playlists", func(w http.ResponseWriter, r *http.Request) {
		checkAuth(r)
		fmt.Fprint(w, `{"items":[]}`)
	})
	return mux
}

// toolNotifier records tool messages and optionally answers activation
// requests by signaling the gate, standing in for a connected client.
type toolNotifier struct {
	gate *activationGateRef

	mu       sync.Mutex
	messages []map[string]any
}

// activationGateRef defers the gate lookup until the module is built.
type activationGateRef struct {
	m *Module
}

func (n *toolNotifier) SendToolMessage(module string, data map[string]any) error {
	n.mu.Lock()
	n.messages = append(n.messages, data)
	n.mu.Unlock()
	if n.gate != nil && data["message"] == initStreamingMessage {
		n.gate.m.gate.Signal()
	}
	return nil
}

func validTokens() tokenSet {
	return tokenSet{
		AccessToken:  "valid-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
	}
}

type testEnv struct {
	module   *Module
	store    *settingsstore.Store
	notifier *toolNotifier
	auth     *oauthstate.Store
}

func newTestEnv(t *testing.T, fake *fakeSpotify, tokens tokenSet, seed func(store *settingsstore.Store)) *testEnv {
	t.Helper()

	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	store, err := settingsstore.Open(filepath.Join(t.TempDir(), "settings.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	err = store.Save("u1", "player", "spotify_api", credentials{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://127.0.0.1:8741/v1/module/player/callback",
	})
	if err != nil {
		t.Fatal(err)
	}
	if tokens.valid() {
		if err := store.Save("u1", "player", "tokens", tokens); err != nil {
			t.Fatal(err)
		}
	}
	if seed != nil {
		seed(store)
	}

	notifier := &toolNotifier{}
	auth := oauthstate.New(0)

	m := New().(*Module)
	err = m.Setup(&capability.Context{
		UserID:   "u1",
		Log:      slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
		Notify:   notifier,
		Settings: store.Scope("u1", "player"),
		Auth:     auth,
	})
	if err != nil {
		t.Fatal(err)
	}

	m.api.apiBase = srv.URL
	m.api.accountsBase = srv.URL
	m.activationTimeout = time.Second
	m.activationSettle = time.Millisecond
	notifier.gate = &activationGateRef{m: m}

	if fake.wantToken == "" {
		fake.wantToken = tokens.AccessToken
	}
	return &testEnv{module: m, store: store, notifier: notifier, auth: auth}
}

func wildfireSearch() string {
	return `{"tracks":{"items":[
		{"id":"t1","uri":"spotify:track:t1","name":"Wildfire","artists":[{"name":"Jeremy Zucker"}]}
	]},"albums":{"items":[
		{"id":"a1","uri":"spotify:album:a1","name":"Completely Unrelated","artists":[{"name":"Someone"}]}
	]},"artists":{"items":[]}}`
}

func TestPlayStartsBestMatch(t *testing.T) {
	fake := &fakeSpotify{searchJSON: wildfireSearch()}
	env := newTestEnv(t, fake, validTokens(), nil)

	got, err := env.module.handlePlay(context.Background(), map[string]any{"string_query": "wildfire"})
	if err != nil {
		t.Fatal(err)
	}
	res := got.(map[string]string)
	if res["status"] != "playing" || res["item"] != "Wildfire (track) by Jeremy Zucker" {
		t.Errorf("got %v", res)
	}
	if len(fake.playBodies) != 1 {
		t.Fatalf("play calls = %d", len(fake.playBodies))
	}
	uris := fake.playBodies[0]["uris"].([]any)
	if len(uris) != 1 || uris[0] != "spotify:track:t1" {
		t.Errorf("uris = %v", uris)
	}
}

func TestPlayQueuesWhenAsked(t *testing.T) {
	fake := &fakeSpotify{searchJSON: wildfireSearch()}
	env := newTestEnv(t, fake, validTokens(), nil)

	_, err := env.module.handlePlay(context.Background(), map[string]any{
		"string_query": "wildfire",
		"should_queue": true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(fake.queueURIs) != 1 || fake.queueURIs[0] != "spotify:track:t1" {
		t.Errorf("queued = %v", fake.queueURIs)
	}
	if len(fake.playBodies) != 0 {
		t.Errorf("unexpected play calls: %v", fake.playBodies)
	}
}

func TestPlayLikedShortcutSkipsSearch(t *testing.T) {
	fake := &fakeSpotify{}
	env := newTestEnv(t, fake, validTokens(), func(store *settingsstore.Store) {
		err := store.Save("u1", "player", likedCacheKey, map[string]track{
			"spotify:track:liked1": {
				ID: "liked1", URI: "spotify:track:liked1",
				Name: "Comethru", Artists: []artist{{Name: "Jeremy Zucker"}},
			},
		})
		if err != nil {
			t.Fatal(err)
		}
	})

	got, err := env.module.handlePlay(context.Background(), map[string]any{"string_query": "comethru"})
	if err != nil {
		t.Fatal(err)
	}
	if got.(map[string]string)["item"] != "Comethru (track) by Jeremy Zucker" {
		t.Errorf("got %v", got)
	}
	if len(fake.playBodies) != 1 {
		t.Fatalf("play calls = %d", len(fake.playBodies))
	}
}

func TestPlayAmbiguousReturnsSequence(t *testing.T) {
	fake := &fakeSpotify{searchJSON: `{"tracks":{"items":[
		{"id":"t1","uri":"spotify:track:t1","name":"Wildfire","artists":[{"name":"Jeremy Zucker"}]},
		{"id":"t2","uri":"spotify:track:t2","name":"Wildfire","artists":[{"name":"Cautious Clay"}]}
	]},"albums":{"items":[]},"artists":{"items":[]}}`}
	env := newTestEnv(t, fake, validTokens(), nil)

	got, err := env.module.handlePlay(context.Background(), map[string]any{"string_query": "wildfire"})
	if err != nil {
		t.Fatal(err)
	}
	seq, ok := got.([]any)
	if !ok || len(seq) != 3 {
		t.Fatalf("got %T %v", got, got)
	}

	head := seq[0].(map[string]any)
	if !strings.Contains(head["error"].(string), "Multiple results") {
		t.Errorf("head = %v", head)
	}
	if len(head["options"].([]string)) != 2 {
		t.Errorf("options = %v", head["options"])
	}

	spoken := seq[1].(message.Message)
	if spoken.Kind != message.KindAssistant || !strings.Contains(spoken.Content, "multiple options") {
		t.Errorf("assistant = %+v", spoken)
	}
	if end := seq[2].(message.Message); end.Kind != message.KindEnd {
		t.Errorf("end = %+v", end)
	}
	if len(fake.playBodies) != 0 {
		t.Errorf("playback started despite ambiguity: %v", fake.playBodies)
	}
}

func TestPlayNoResults(t *testing.T) {
	fake := &fakeSpotify{searchJSON: `{"tracks":{"items":[
		{"id":"t1","uri":"spotify:track:t1","name":"Something Else Entirely","artists":[{"name":"Nobody"}]}
	]},"albums":{"items":[]},"artists":{"items":[]}}`}
	env := newTestEnv(t, fake, validTokens(), nil)

	got, err := env.module.handlePlay(context.Background(), map[string]any{"string_query": "zzzz"})
	if err != nil {
		t.Fatal(err)
	}
	if res := got.(map[string]string); !strings.Contains(res["error"], "No results found") {
		t.Errorf("got %v", got)
	}
}

func TestPlayActivatesMissingDevice(t *testing.T) {
	fake := &fakeSpotify{searchJSON: wildfireSearch(), noDeviceRemaining: 1}
	env := newTestEnv(t, fake, validTokens(), nil)

	got, err := env.module.handlePlay(context.Background(), map[string]any{"string_query": "wildfire"})
	if err != nil {
		t.Fatal(err)
	}
	if got.(map[string]string)["status"] != "playing" {
		t.Errorf("got %v", got)
	}
	if len(fake.playBodies) != 1 {
		t.Errorf("successful play calls = %d", len(fake.playBodies))
	}
	if len(env.notifier.messages) != 1 || env.notifier.messages[0]["message"] != initStreamingMessage {
		t.Errorf("tool messages = %v", env.notifier.messages)
	}
}

func TestPlayActivationTimeout(t *testing.T) {
	fake := &fakeSpotify{searchJSON: wildfireSearch(), noDeviceRemaining: 2}
	env := newTestEnv(t, fake, validTokens(), nil)
	env.notifier.gate = nil
	env.module.activationTimeout = 20 * time.Millisecond

	_, err := env.module.handlePlay(context.Background(), map[string]any{"string_query": "wildfire"})
	if capability.KindOf(err) != capability.KindActivationTimeout {
		t.Errorf("err = %v", err)
	}
}

func TestTokenRefreshNearExpiry(t *testing.T) {
	fake := &fakeSpotify{searchJSON: wildfireSearch(), wantToken: "fresh-token"}
	expiring := tokenSet{
		AccessToken:  "stale-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().Add(10 * time.Second).Unix(),
	}
	env := newTestEnv(t, fake, expiring, nil)

	_, err := env.module.handlePlay(context.Background(), map[string]any{"string_query": "wildfire"})
	if err != nil {
		t.Fatal(err)
	}
	if len(fake.tokenGrants) != 1 || fake.tokenGrants[0] != "refresh_token" {
		t.Errorf("token grants = %v", fake.tokenGrants)
	}

	// The refreshed pair must be durable.
	var saved tokenSet
	err = env.store.Load("u1", "player", "tokens", tokenSet{}, &saved)
	if err != nil {
		t.Fatal(err)
	}
	if saved.AccessToken != "fresh-token" || saved.RefreshToken != "fresh-refresh" {
		t.Errorf("saved tokens = %+v", saved)
	}
}

func TestNotLoggedIn(t *testing.T) {
	fake := &fakeSpotify{searchJSON: wildfireSearch()}
	env := newTestEnv(t, fake, tokenSet{}, nil)

	_, err := env.module.handlePlay(context.Background(), map[string]any{"string_query": "wildfire"})
	if capability.KindOf(err) != capability.KindNotAuthenticated {
		t.Errorf("err = %v", err)
	}
}

func TestCurrentPlaybackNothingPlaying(t *testing.T) {
	fake := &fakeSpotify{}
	env := newTestEnv(t, fake, validTokens(), nil)

	got, err := env.module.handleCurrentPlayback(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.(map[string]string)["status"] != "no_song_playing" {
		t.Errorf("got %v", got)
	}
}

func TestCurrentPlayback(t *testing.T) {
	fake := &fakeSpotify{playbackJSON: `{
		"is_playing": true, "shuffle_state": false, "progress_ms": 30000,
		"item": {"id":"t1","name":"Wildfire","duration_ms":120000,
			"artists":[{"name":"Jeremy Zucker"}],"album":{"name":"love is not dying"}},
		"device": {"volume_percent": 80}
	}`}
	env := newTestEnv(t, fake, validTokens(), nil)

	got, err := env.module.handleCurrentPlayback(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	res := got.(map[string]any)
	if res["track_name"] != "Wildfire" || res["album_name"] != "love is not dying" {
		t.Errorf("got %v", res)
	}
	if res["is_paused"] != false || res["completion_amount"] != 0.25 {
		t.Errorf("got %v", res)
	}
}

func TestControlPlaybackUnknownAction(t *testing.T) {
	fake := &fakeSpotify{}
	env := newTestEnv(t, fake, validTokens(), nil)

	got, err := env.module.handleControlPlayback(context.Background(), map[string]any{"action": "louder"})
	if err != nil {
		t.Fatal(err)
	}
	if res := got.(map[string]string); !strings.Contains(res["error"], "louder") {
		t.Errorf("got %v", got)
	}
}

func TestLikeCurrentSong(t *testing.T) {
	fake := &fakeSpotify{playbackJSON: `{
		"is_playing": true,
		"item": {"id":"t1","name":"Wildfire","duration_ms":120000,
			"artists":[{"name":"Jeremy Zucker"}],"album":{"name":"x"}}
	}`}
	env := newTestEnv(t, fake, validTokens(), nil)

	got, err := env.module.handleLikeCurrentSong(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	res := got.(map[string]string)
	if res["status"] != "liked" || res["item"] != "Wildfire by Jeremy Zucker" {
		t.Errorf("got %v", res)
	}
	if len(fake.savedTracks) != 1 || fake.savedTracks[0] != "t1" {
		t.Errorf("saved = %v", fake.savedTracks)
	}
}

func TestWakeWordDucksAndRestoresVolume(t *testing.T) {
	fake := &fakeSpotify{playbackJSON: `{
		"is_playing": true,
		"item": {"id":"t1","name":"Wildfire","duration_ms":120000,
			"artists":[{"name":"Jeremy Zucker"}],"album":{"name":"x"}},
		"device": {"volume_percent": 80}
	}`}
	env := newTestEnv(t, fake, validTokens(), nil)

	env.module.WakeWordDetected(context.Background())
	env.module.WakeWordCleared(context.Background())

	if len(fake.volumeSets) != 2 || fake.volumeSets[0] != "20" || fake.volumeSets[1] != "80" {
		t.Errorf("volume sets = %v", fake.volumeSets)
	}
}

func TestWakeWordNoDuckWhenPaused(t *testing.T) {
	fake := &fakeSpotify{playbackJSON: `{"is_playing": false, "device": {"volume_percent": 80}}`}
	env := newTestEnv(t, fake, validTokens(), nil)

	env.module.WakeWordDetected(context.Background())
	env.module.WakeWordCleared(context.Background())

	if len(fake.volumeSets) != 0 {
		t.Errorf("volume sets = %v", fake.volumeSets)
	}
}

func TestClientMessageSignalsGate(t *testing.T) {
	fake := &fakeSpotify{}
	env := newTestEnv(t, fake, validTokens(), nil)
	env.module.gate.Reset()

	_, err := env.module.handleClientMessage(context.Background(), map[string]any{
		"message": map[string]any{"message": streamingInitiatedMessage},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !env.module.gate.Wait(context.Background(), 50*time.Millisecond) {
		t.Error("gate was not signaled")
	}
}

func TestWebPreviewAuthorize(t *testing.T) {
	fake := &fakeSpotify{}
	env := newTestEnv(t, fake, tokenSet{}, nil)

	preview := env.module.WebPreview("authorize", nil)
	if preview.Type != "redirect" {
		t.Fatalf("preview = %+v", preview)
	}
	if !strings.Contains(preview.Content, "client_id=client-id") {
		t.Errorf("url = %q", preview.Content)
	}

	// The state parameter must be redeemable for this user.
	u, err := url.Parse(preview.Content)
	if err != nil {
		t.Fatal(err)
	}
	state := u.Query().Get("state")
	user, module, ok := env.auth.Consume(state)
	if !ok || user != "u1" || module != "player" {
		t.Errorf("consume(%q) = %q %q %v", state, user, module, ok)
	}
}

func TestWebPreviewCallbackExchangesCode(t *testing.T) {
	fake := &fakeSpotify{}
	env := newTestEnv(t, fake, tokenSet{}, nil)

	preview := env.module.WebPreview("callback", url.Values{"code": {"auth-code"}})
	if preview.Type != "html" || !strings.Contains(preview.Content, "Successfully logged in") {
		t.Fatalf("preview = %+v", preview)
	}
	if len(fake.tokenGrants) != 1 || fake.tokenGrants[0] != "authorization_code" {
		t.Errorf("token grants = %v", fake.tokenGrants)
	}
	if !env.module.api.LoggedIn() {
		t.Error("client not logged in after callback")
	}
}

func TestWebPreviewUnknownPath(t *testing.T) {
	fake := &fakeSpotify{}
	env := newTestEnv(t, fake, tokenSet{}, nil)

	preview := env.module.WebPreview("web_player", nil)
	if preview.Type != "html" || !strings.Contains(preview.Content, "Invalid path") {
		t.Errorf("preview = %+v", preview)
	}
}
