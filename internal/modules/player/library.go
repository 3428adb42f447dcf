package player

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ankleBowl/LucyServer/internal/settings"
)

const (
	likedCacheKey    = "liked_songs_cache"
	playlistCacheKey = "user_playlists_cache"

	libraryPageSize = 50
)

// library caches the user's liked songs and playlists so play requests
// never page through the catalog on the hot path. Caches persist across
// restarts; liked-song refreshes are incremental, stopping at the first
// already-cached track.
type library struct {
	api      *spotifyClient
	settings *settings.Scope
	log      *slog.Logger

	mu        sync.Mutex
	liked     map[string]track
	playlists map[string]playlist
}

func newLibrary(api *spotifyClient, scope *settings.Scope, log *slog.Logger) *library {
	return &library{
		api:       api,
		settings:  scope,
		log:       log,
		liked:     make(map[string]track),
		playlists: make(map[string]playlist),
	}
}

// load restores both caches from the settings store.
func (l *library) load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.settings.Load(likedCacheKey, map[string]track{}, &l.liked); err != nil {
		return fmt.Errorf("load liked songs cache: %w", err)
	}
	if err := l.settings.Load(playlistCacheKey, map[string]playlist{}, &l.playlists); err != nil {
		return fmt.Errorf("load playlist cache: %w", err)
	}
	return nil
}

// refreshLiked pulls liked songs newest-first until it reaches a track
// already in the cache.
func (l *library) refreshLiked(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	offset := 0
	for {
		page, err := l.api.savedTracksPage(ctx, libraryPageSize, offset)
		if err != nil {
			return err
		}

		caughtUp := false
		for _, t := range page {
			if _, ok := l.liked[t.URI]; ok {
				caughtUp = true
				break
			}
			l.liked[t.URI] = t
		}
		if caughtUp || len(page) < libraryPageSize {
			break
		}
		offset += libraryPageSize
	}

	return l.settings.Save(likedCacheKey, l.liked)
}

// refreshPlaylists replaces the playlist cache with the current set.
func (l *library) refreshPlaylists(ctx context.Context) error {
	playlists := make(map[string]playlist)
	offset := 0
	for {
		page, err := l.api.playlistsPage(ctx, libraryPageSize, offset)
		if err != nil {
			return err
		}
		for _, p := range page {
			playlists[p.ID] = p
		}
		if len(page) < libraryPageSize {
			break
		}
		offset += libraryPageSize
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.playlists = playlists
	return l.settings.Save(playlistCacheKey, l.playlists)
}

// refresh updates both caches, logging rather than failing so a flaky
// catalog call never blocks login.
func (l *library) refresh(ctx context.Context) {
	if err := l.refreshLiked(ctx); err != nil {
		l.log.Warn("failed to refresh liked songs cache", "error", err)
	}
	if err := l.refreshPlaylists(ctx); err != nil {
		l.log.Warn("failed to refresh playlist cache", "error", err)
	}
}

// likedByName finds a liked song by exact (case-insensitive) name.
func (l *library) likedByName(name string) (track, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.liked {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return track{}, false
}

// isLiked reports whether a track URI is in the liked songs cache.
func (l *library) isLiked(uri string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.liked[uri]
	return ok
}

// likedURIs returns every cached liked-song URI.
func (l *library) likedURIs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	uris := make([]string, 0, len(l.liked))
	for uri := range l.liked {
		uris = append(uris, uri)
	}
	return uris
}

// likedTracks returns up to limit cached liked songs.
func (l *library) likedTracks(limit int) []track {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]track, 0, limit)
	for _, t := range l.liked {
		if len(out) >= limit {
			break
		}
		out = append(out, t)
	}
	return out
}

// likedCount returns the cache size.
func (l *library) likedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.liked)
}

// bestPlaylist fuzzy-matches a playlist by name.
func (l *library) bestPlaylist(query string) (playlist, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var best playlist
	bestScore := -1
	for _, p := range l.playlists {
		if score := similarity(query, p.Name); score > bestScore {
			bestScore = score
			best = p
		}
	}
	return best, bestScore >= 0
}
