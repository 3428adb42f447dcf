package capability

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/ankleBowl/LucyServer/internal/llm"
	"github.com/ankleBowl/LucyServer/internal/message"
	"github.com/ankleBowl/LucyServer/internal/oauthstate"
	"github.com/ankleBowl/LucyServer/internal/settings"
)

// HandlerFunc executes one capability function. Arguments are bound by
// name from the model's call JSON. The returned value is serialized by
// the registry; a returned error is classified and folded into the
// transcript at the dispatch boundary, never propagated to the run.
type HandlerFunc func(ctx context.Context, args map[string]any) (any, error)

// Function is one entry in a module's static capability table. Tables
// are declared at registration time; there is no reflection-based
// discovery.
type Function struct {
	Name        string
	Description string
	// Args lists parameter names in declaration order. They document
	// the call shape for the model; binding is still by name.
	Args []string
	// Hidden functions are dispatchable but not advertised to the
	// model. Used for transport message handlers and for functions a
	// module advertises conditionally (e.g. per device type).
	Hidden  bool
	Handler HandlerFunc
}

// Descriptor documents one model-invocable function. The descriptor set
// is injected into the system prompt and returned from add_tool so the
// model learns what it may call.
type Descriptor struct {
	Module      string   `json:"module"`
	Function    string   `json:"function"`
	Args        []string `json:"args"`
	Description string   `json:"description"`
}

// Documentation is the full descriptor set for a module.
type Documentation struct {
	Functions []Descriptor `json:"functions"`
}

// Notifier delivers module-initiated payloads to the session's client,
// wrapped as {type: tool_message, tool, data}.
type Notifier interface {
	SendToolMessage(module string, data map[string]any) error
}

// Runner is the lock-guarded entry point a module uses to push a new
// run when an asynchronous event completes (a timer firing, a device
// coming online). It is a non-owning handle: modules never hold the
// session itself, keeping lifetimes acyclic.
type Runner interface {
	RequestRun(ctx context.Context, seeds []message.Message)
}

// Context is the wiring a module receives at setup: its non-owning view
// of the owning session plus shared infrastructure.
type Context struct {
	UserID   string
	Log      *slog.Logger
	Notify   Notifier
	Runner   Runner
	Settings *settings.Scope
	Chat     llm.Chatter
	// Auth is the process-wide pending-authorization store for modules
	// that run OAuth flows through the transport's callback route.
	Auth *oauthstate.Store
}

// Module is the contract every capability module implements.
type Module interface {
	// Name returns the stable module name used in tool calls.
	Name() string
	// Setup runs once when the module is loaded into a session.
	Setup(c *Context) error
	// Functions returns the module's static capability table.
	Functions() []Function
}

// WakeListener is implemented by modules that react to the session's
// wake-word window opening and closing.
type WakeListener interface {
	WakeWordDetected(ctx context.Context)
	WakeWordCleared(ctx context.Context)
}

// Preview is the result of a module web preview request.
type Preview struct {
	// Type is "html" or "redirect".
	Type string
	// Content is the HTML body or the redirect target.
	Content string
}

// WebPreviewer is implemented by modules that serve per-user web pages
// through the transport (OAuth authorization, embedded players).
type WebPreviewer interface {
	WebPreview(path string, args url.Values) Preview
}

// Factory constructs a fresh module instance. The registry owns the
// factory table; modules are instantiated at most once per session.
type Factory func() Module

// DescribeFunction builds the descriptor for a single function. Used
// for ad-hoc introspection when a module advertises a subset of its
// table conditionally.
func DescribeFunction(module string, f Function) Descriptor {
	args := f.Args
	if args == nil {
		args = []string{}
	}
	return Descriptor{
		Module:      module,
		Function:    f.Name,
		Args:        args,
		Description: f.Description,
	}
}

// Describe builds the documentation for a module from its table,
// skipping hidden functions.
func Describe(m Module) Documentation {
	doc := Documentation{Functions: []Descriptor{}}
	for _, f := range m.Functions() {
		if f.Hidden {
			continue
		}
		doc.Functions = append(doc.Functions, DescribeFunction(m.Name(), f))
	}
	return doc
}
