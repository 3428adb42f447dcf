// Package session implements the per-user orchestrator: the run loop
// that drives the model, interprets parsed actions, dispatches tool
// calls, and emits outbound notifications in causal order.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ankleBowl/LucyServer/internal/capability"
	"github.com/ankleBowl/LucyServer/internal/llm"
	"github.com/ankleBowl/LucyServer/internal/message"
	"github.com/ankleBowl/LucyServer/internal/oauthstate"
	"github.com/ankleBowl/LucyServer/internal/prompts"
	"github.com/ankleBowl/LucyServer/internal/settings"
	"github.com/ankleBowl/LucyServer/internal/tagparse"
)

// Client is the outbound side of the transport for one session. The
// orchestrator emits these notifications in the same order the run loop
// produces them; implementations must be safe for concurrent use.
type Client interface {
	// Authenticated confirms session establishment.
	Authenticated() error
	// ToolPending announces a tool call before it executes.
	ToolPending(module, function string, args map[string]any) error
	// Assistant delivers spoken/text content.
	Assistant(content string) error
	// End signals that a run terminated.
	End() error
	// ToolMessage delivers a module-initiated payload as
	// {type: tool_message, tool, data}.
	ToolMessage(module string, data map[string]any) error
	// SessionCleared confirms a clear.
	SessionCleared() error
}

// Session owns one user's transcript, registry, and run-lock. All
// transcript writes happen inside Run while the lock is held, so the
// transcript is a strictly serialized append log.
type Session struct {
	userID   string
	log      *slog.Logger
	client   Client
	chat     llm.Chatter
	registry *capability.Registry

	// run serializes runs and guards the transcript. Clear takes it
	// too, so a clear never races an in-flight run.
	run        sync.Mutex
	transcript []message.Message

	wakeMu     sync.Mutex
	wakeActive bool
}

// New creates a session for userID, loads every module in factories,
// and seeds the transcript with the system prompt.
func New(userID string, log *slog.Logger, client Client, chat llm.Chatter,
	factories map[string]capability.Factory, store *settings.Store, auth *oauthstate.Store) *Session {

	s := &Session{
		userID: userID,
		log:    log.With("user", userID),
		client: client,
		chat:   chat,
	}

	base := capability.Context{
		UserID: userID,
		Notify: notifier{s},
		Runner: s,
		Chat:   chat,
		Auth:   auth,
	}
	s.registry = capability.NewRegistry(s.log, factories, base, store)
	s.registry.LoadAll()

	s.transcript = []message.Message{
		message.New(message.KindSystem, prompts.System(s.internalDocs())),
	}
	return s
}

// internalDocs renders the builtin module's documentation for the
// system prompt.
func (s *Session) internalDocs() string {
	docs, err := s.registry.Docs(capability.InternalModuleName)
	if err != nil {
		s.log.Error("builtin docs unavailable", "error", err)
		return "{}"
	}
	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Registry exposes the session's registry to the transport (web
// previews, readiness routing).
func (s *Session) Registry() *capability.Registry {
	return s.registry
}

// toolCall is the structured content of a tool action.
type toolCall struct {
	Module   string         `json:"module"`
	Function string         `json:"function"`
	Args     map[string]any `json:"args"`
}

// Run executes one lock-guarded run: seed messages are consumed in
// order, then the model drives until it emits end. Every step is
// appended to the transcript, including seeds.
func (s *Session) Run(ctx context.Context, seeds []message.Message) {
	s.run.Lock()
	defer s.run.Unlock()

	s.clearWakeWord(ctx)

	queue := append([]message.Message(nil), seeds...)

	for {
		var msg message.Message
		if len(queue) > 0 {
			msg = queue[0]
			queue = queue[1:]
		} else {
			msg = s.nextAction(ctx)
		}

		s.transcript = append(s.transcript, msg)
		s.log.Debug("turn", "kind", msg.Kind, "content", msg.Content)

		switch msg.Kind {
		case message.KindTool:
			if s.runTool(ctx, msg.Content) {
				s.notifyEnd()
				return
			}
		case message.KindEnd:
			s.notifyEnd()
			return
		case message.KindAssistant:
			if err := s.client.Assistant(msg.Content); err != nil {
				s.log.Warn("assistant notification failed", "error", err)
			}
		case message.KindUser:
			// Seed replay; the client already knows what it said.
		}
	}
}

// runTool handles one tool action: announce, dispatch, append the
// results. Reports whether the run should terminate because the tool
// returned a follow-up end message.
func (s *Session) runTool(ctx context.Context, content string) (terminal bool) {
	var call toolCall
	if err := json.Unmarshal([]byte(content), &call); err != nil {
		s.log.Warn("malformed tool call", "error", err)
		s.transcript = append(s.transcript,
			message.New(message.KindError, "Tool call was not valid JSON: "+err.Error()))
		return false
	}

	// The pending notice goes out before the call runs so the client
	// can show activity for slow tools.
	if err := s.client.ToolPending(call.Module, call.Function, call.Args); err != nil {
		s.log.Warn("tool notification failed", "error", err)
	}

	resp, extras := s.registry.Dispatch(ctx, call.Module, call.Function, call.Args)

	// Extras precede the tool's own response. An assistant extra is
	// spoken immediately; an end extra terminates the run once the
	// response has been appended.
	for _, ex := range extras {
		s.transcript = append(s.transcript, ex)
		switch ex.Kind {
		case message.KindAssistant:
			if err := s.client.Assistant(ex.Content); err != nil {
				s.log.Warn("assistant notification failed", "error", err)
			}
		case message.KindEnd:
			terminal = true
		}
	}

	s.transcript = append(s.transcript, resp)
	return terminal
}

// nextAction asks the model for the next step and parses it into one
// Message. A model failure terminates the run gracefully rather than
// leaving the client hanging.
func (s *Session) nextAction(ctx context.Context) message.Message {
	raw, err := s.chat.Chat(ctx, message.ToWireAll(s.transcript))
	if err != nil {
		s.log.Error("model call failed", "error", err)
		return message.New(message.KindEnd, "")
	}

	actions := tagparse.Parse(raw)
	if len(actions) > 1 {
		s.log.Warn("model emitted multiple actions, keeping the first",
			"count", len(actions), "dropped", actions[1].Tag)
	}
	act := actions[0]
	return message.New(act.Tag, act.Content)
}

func (s *Session) notifyEnd() {
	if err := s.client.End(); err != nil {
		s.log.Warn("end notification failed", "error", err)
	}
}

// RequestRun is the lock-guarded entry point modules use to push a new
// run when an asynchronous event completes. It blocks until any
// in-flight run finishes.
func (s *Session) RequestRun(ctx context.Context, seeds []message.Message) {
	s.Run(ctx, seeds)
}

// WakeWordDetected opens the listening window and broadcasts the hook
// to loaded modules.
func (s *Session) WakeWordDetected(ctx context.Context) {
	s.wakeMu.Lock()
	s.wakeActive = true
	s.wakeMu.Unlock()
	s.registry.WakeWordDetected(ctx)
}

// clearWakeWord closes the listening window at run start.
func (s *Session) clearWakeWord(ctx context.Context) {
	s.wakeMu.Lock()
	active := s.wakeActive
	s.wakeActive = false
	s.wakeMu.Unlock()
	if active {
		s.registry.WakeWordCleared(ctx)
	}
}

// HandleToolMessage routes a client-originated {tool, data} payload to
// the module's transport hook. It runs outside the run-lock on purpose:
// readiness reports must reach a module while a run is blocked waiting
// for them.
func (s *Session) HandleToolMessage(ctx context.Context, module string, data map[string]any) {
	args := map[string]any{"message": data}
	if _, _, err := s.registry.Invoke(ctx, module, "handle_message", args); err != nil {
		s.log.Warn("tool message rejected", "module", module, "error", err)
	}
}

// Transcript returns a copy of the transcript. It waits for any
// in-flight run to finish.
func (s *Session) Transcript() []message.Message {
	s.run.Lock()
	defer s.run.Unlock()
	return append([]message.Message(nil), s.transcript...)
}

// Persist writes the transcript to one JSON file under dir, named by
// wall-clock time plus a short random suffix. Sessions that never grew
// past the system message are not worth keeping.
func (s *Session) Persist(dir string) error {
	s.run.Lock()
	defer s.run.Unlock()
	return s.persistLocked(dir)
}

func (s *Session) persistLocked(dir string) error {
	if len(s.transcript) <= 1 {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	suffix := uuid.NewString()[:4]
	name := time.Now().Format("2006-01-02 15:04:05") + " [" + suffix + "].json"

	data, err := json.MarshalIndent(s.transcript, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), data, 0644)
}

// notifier adapts the session's client to the capability contract.
type notifier struct {
	s *Session
}

func (n notifier) SendToolMessage(module string, data map[string]any) error {
	return n.s.client.ToolMessage(module, data)
}
