package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/ankleBowl/LucyServer/internal/message"
	"github.com/ankleBowl/LucyServer/internal/settings"
)

// InternalModuleName is the builtin module that manages the registry
// itself. It is always loaded and imported.
const InternalModuleName = "internal"

// Registry is the per-session table of capability modules. Loading a
// module instantiates it and runs its setup once; importing it is the
// separate step that makes it callable by the model.
type Registry struct {
	logger    *slog.Logger
	factories map[string]Factory
	base      Context
	store     *settings.Store

	mu       sync.Mutex
	entries  map[string]*entry
	imported map[string]struct{}
}

// entry pairs a live module instance with its function table indexed
// by name.
type entry struct {
	module Module
	funcs  map[string]Function
}

// NewRegistry creates a registry for one session. base carries the
// session wiring (user, notifier, runner, chat client); the settings
// scope is derived per module. The builtin internal module is loaded
// and imported immediately.
func NewRegistry(logger *slog.Logger, factories map[string]Factory, base Context, store *settings.Store) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		logger:    logger,
		factories: factories,
		base:      base,
		store:     store,
		entries:   make(map[string]*entry),
		imported:  make(map[string]struct{}),
	}

	in := &internalModule{reg: r}
	r.entries[InternalModuleName] = &entry{module: in, funcs: indexFunctions(in.Functions())}
	r.imported[InternalModuleName] = struct{}{}

	return r
}

// indexFunctions builds the name index for a function table.
func indexFunctions(funcs []Function) map[string]Function {
	m := make(map[string]Function, len(funcs))
	for _, f := range funcs {
		m[f.Name] = f
	}
	return m
}

// LoadAll loads every module in the factory table. Called at session
// start so modules can receive lifecycle hooks before being imported.
func (r *Registry) LoadAll() {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := r.Load(name); err != nil {
			r.logger.Error("module load failed", "module", name, "error", err)
		}
	}
}

// Load instantiates a module, wires its context, and runs its setup.
// Idempotent: loading an already-loaded module returns the existing
// instance.
func (r *Registry) Load(name string) (Module, error) {
	r.mu.Lock()
	if e, ok := r.entries[name]; ok {
		r.mu.Unlock()
		return e.module, nil
	}
	factory, ok := r.factories[name]
	r.mu.Unlock()

	if !ok {
		return nil, Errf(KindExecutionFailure, "module %q is not available (available: %s)",
			name, strings.Join(r.available(), ", "))
	}

	mod := factory()
	mctx := r.base
	mctx.Log = r.logger.With("module", name)
	if r.store != nil {
		mctx.Settings = r.store.Scope(r.base.UserID, name)
	}
	if err := mod.Setup(&mctx); err != nil {
		return nil, fmt.Errorf("setup module %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another goroutine may have loaded it while setup ran; the first
	// instance wins to keep one instance per name.
	if e, ok := r.entries[name]; ok {
		return e.module, nil
	}
	r.entries[name] = &entry{module: mod, funcs: indexFunctions(mod.Functions())}
	r.logger.Debug("module loaded", "module", name)
	return mod, nil
}

// available lists the factory table names, sorted.
func (r *Registry) available() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Import makes a module callable by the model, loading it first if
// needed, and returns its documentation so the model can be told what
// just became available.
func (r *Registry) Import(name string) (Documentation, error) {
	mod, err := r.Load(name)
	if err != nil {
		return Documentation{}, err
	}

	r.mu.Lock()
	r.imported[name] = struct{}{}
	r.mu.Unlock()

	return Describe(mod), nil
}

// IsImported reports whether the model may call the module.
func (r *Registry) IsImported(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.imported[name]
	return ok
}

// Module returns a loaded module instance.
func (r *Registry) Module(name string) (Module, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.module, true
}

// Docs returns the documentation for a loaded module.
func (r *Registry) Docs(name string) (Documentation, error) {
	mod, ok := r.Module(name)
	if !ok {
		return Documentation{}, Errf(KindExecutionFailure, "module %q is not loaded", name)
	}
	return Describe(mod), nil
}

// Invoke runs a declared function with the given named arguments and
// returns the raw result plus any extra follow-up Messages. All
// failures come back as *Error values for the dispatch boundary to
// classify.
func (r *Registry) Invoke(ctx context.Context, module, function string, args map[string]any) (any, []message.Message, error) {
	r.mu.Lock()
	e, loaded := r.entries[module]
	_, imported := r.imported[module]
	r.mu.Unlock()

	if !loaded || !imported {
		return nil, nil, &Error{
			Kind:   KindModuleNotImported,
			Module: module,
			Msg:    "not imported",
		}
	}

	f, ok := e.funcs[function]
	if !ok {
		return nil, nil, &Error{
			Kind:     KindFunctionNotFound,
			Module:   module,
			Function: function,
			Msg:      "no such function",
		}
	}

	result, err := f.Handler(ctx, args)
	if err != nil {
		return nil, nil, r.classify(module, function, err)
	}

	head, extras, err := splitSequence(result)
	if err != nil {
		return nil, nil, r.classify(module, function, err)
	}
	return head, extras, nil
}

// classify wraps a handler error into *Error, preserving an existing
// kind and filling in the call site.
func (r *Registry) classify(module, function string, err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		if ce.Module == "" {
			ce.Module = module
		}
		if ce.Function == "" {
			ce.Function = function
		}
		return ce
	}
	return &Error{
		Kind:     KindExecutionFailure,
		Module:   module,
		Function: function,
		Msg:      err.Error(),
	}
}

// Dispatch is the single recovery boundary of §tool execution: it
// invokes a function and converts both results and failures into
// transcript Messages. The returned extras precede the response in the
// transcript.
func (r *Registry) Dispatch(ctx context.Context, module, function string, args map[string]any) (message.Message, []message.Message) {
	result, extras, err := r.Invoke(ctx, module, function, args)
	if err != nil {
		r.logger.Warn("tool dispatch failed",
			"module", module,
			"function", function,
			"kind", string(KindOf(err)),
			"error", err,
		)
		return message.New(message.KindError, dispatchErrorText(module, function, err)), nil
	}

	s, serr := Serialize(result)
	if serr != nil {
		return message.New(message.KindError, dispatchErrorText(module, function, serr)), nil
	}
	return message.New(message.KindToolResponse, s), extras
}

// dispatchErrorText renders a failure for the model's benefit.
func dispatchErrorText(module, function string, err error) string {
	switch KindOf(err) {
	case KindModuleNotImported:
		return fmt.Sprintf("Module '%s' not imported.", module)
	case KindFunctionNotFound:
		return fmt.Sprintf("Function '%s' not found in module '%s'.", function, module)
	default:
		var ce *Error
		if errors.As(err, &ce) {
			return fmt.Sprintf("Module '%s' function '%s' failed (%s): %s", module, function, ce.Kind, ce.Msg)
		}
		return fmt.Sprintf("Module '%s' function '%s' failed: %s", module, function, err)
	}
}

// WakeWordDetected broadcasts the wake-word hook to every loaded
// module except the builtin internal one.
func (r *Registry) WakeWordDetected(ctx context.Context) {
	for _, wl := range r.wakeListeners() {
		wl.WakeWordDetected(ctx)
	}
}

// WakeWordCleared broadcasts the end of the listening window.
func (r *Registry) WakeWordCleared(ctx context.Context) {
	for _, wl := range r.wakeListeners() {
		wl.WakeWordCleared(ctx)
	}
}

// wakeListeners snapshots the loaded wake listeners under the lock.
func (r *Registry) wakeListeners() []WakeListener {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []WakeListener
	for name, e := range r.entries {
		if name == InternalModuleName {
			continue
		}
		if wl, ok := e.module.(WakeListener); ok {
			out = append(out, wl)
		}
	}
	return out
}

// Names returns the loaded module names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Preview routes a web preview request to a loaded module.
func (r *Registry) Preview(module, path string, args url.Values) (Preview, error) {
	mod, ok := r.Module(module)
	if !ok {
		return Preview{}, Errf(KindExecutionFailure, "module %q is not loaded", module)
	}
	wp, ok := mod.(WebPreviewer)
	if !ok {
		return Preview{}, Errf(KindExecutionFailure, "module %q has no web preview", module)
	}
	return wp.WebPreview(path, args), nil
}

// internalModule is the builtin registry-management module. Its
// documentation is injected into the system prompt so the model can
// pull in further capabilities on demand.
type internalModule struct {
	reg *Registry
}

func (m *internalModule) Name() string { return InternalModuleName }

func (m *internalModule) Setup(c *Context) error { return nil }

func (m *internalModule) Functions() []Function {
	return []Function{
		{
			Name:        "add_tool",
			Description: "Imports a tool module so its functions become callable. Returns the module's documentation.",
			Args:        []string{"name"},
			Handler:     m.handleAddTool,
		},
	}
}

func (m *internalModule) handleAddTool(ctx context.Context, args map[string]any) (any, error) {
	name, _ := args["name"].(string)
	if name == "" {
		return nil, Errf(KindExecutionFailure, "name is required")
	}
	docs, err := m.reg.Import(name)
	if err != nil {
		return nil, err
	}
	return docs, nil
}
