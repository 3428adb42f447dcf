package session

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/ankleBowl/LucyServer/internal/capability"
	"github.com/ankleBowl/LucyServer/internal/llm"
	"github.com/ankleBowl/LucyServer/internal/oauthstate"
	"github.com/ankleBowl/LucyServer/internal/settings"
)

// Store is the process-wide registry of active sessions, keyed by user.
// Entries are created on authentication, replaced on re-authentication,
// and removed (with the transcript persisted) on clear or disconnect.
type Store struct {
	log       *slog.Logger
	chat      llm.Chatter
	factories map[string]capability.Factory
	settings  *settings.Store
	auth      *oauthstate.Store
	dataDir   string

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore wires the shared infrastructure every session draws from.
func NewStore(log *slog.Logger, chat llm.Chatter, factories map[string]capability.Factory,
	st *settings.Store, auth *oauthstate.Store, dataDir string) *Store {
	return &Store{
		log:       log,
		chat:      chat,
		factories: factories,
		settings:  st,
		auth:      auth,
		dataDir:   dataDir,
		sessions:  make(map[string]*Session),
	}
}

// cacheDir is where closed-session transcripts land.
func (st *Store) cacheDir() string {
	return filepath.Join(st.dataDir, "session_cache")
}

// Auth establishes a session for user, discarding any previous one
// under the same identity, and confirms to the client.
func (st *Store) Auth(user string, client Client) *Session {
	s := New(user, st.log, client, st.chat, st.factories, st.settings, st.auth)

	st.mu.Lock()
	st.sessions[user] = s
	st.mu.Unlock()

	if err := client.Authenticated(); err != nil {
		st.log.Warn("auth confirmation failed", "user", user, "error", err)
	}
	st.log.Info("session established", "user", user)
	return s
}

// Get returns the active session for user.
func (st *Store) Get(user string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[user]
	return s, ok
}

// Clear persists and discards the session, then confirms to the client.
// Persistence waits for any in-flight run, so a clear never races the
// transcript.
func (st *Store) Clear(user string) {
	s := st.remove(user)
	if s == nil {
		return
	}
	if err := s.Persist(st.cacheDir()); err != nil {
		st.log.Error("transcript persist failed", "user", user, "error", err)
	}
	if err := s.client.SessionCleared(); err != nil {
		st.log.Warn("clear confirmation failed", "user", user, "error", err)
	}
	st.log.Info("session cleared", "user", user)
}

// Disconnect tears a session down after the transport dropped. Best
// effort: the transcript is persisted but no confirmation is sent.
func (st *Store) Disconnect(user string) {
	s := st.remove(user)
	if s == nil {
		return
	}
	if err := s.Persist(st.cacheDir()); err != nil {
		st.log.Error("transcript persist failed", "user", user, "error", err)
	}
	st.log.Info("session closed on disconnect", "user", user)
}

func (st *Store) remove(user string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := st.sessions[user]
	delete(st.sessions, user)
	return s
}
