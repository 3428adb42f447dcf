// Package capability provides the capability module contract and the
// per-session tool registry.
//
// This file defines the structured error type used across the dispatch
// boundary. Tool failures are values, not panics: a handler returns an
// error, the registry classifies it by kind exactly once, and the
// orchestrator folds it into the transcript so the model can react.
package capability

import (
	"errors"
	"fmt"
)

// Kind classifies a dispatch or tool failure.
type Kind string

const (
	// KindModuleNotImported means the target module is loaded or known
	// but has not been made usable by the model.
	KindModuleNotImported Kind = "module_not_imported"
	// KindFunctionNotFound means the module has no declared function by
	// that name.
	KindFunctionNotFound Kind = "function_not_found"
	// KindExecutionFailure covers any error raised inside a tool body
	// that carries no more specific kind.
	KindExecutionFailure Kind = "execution_failure"
	// KindNotAuthenticated means an integration's credentials are
	// missing or could not be refreshed.
	KindNotAuthenticated Kind = "not_authenticated"
	// KindNoActivePlayer means a playback call failed because no
	// downstream playback surface is active. The activation policy
	// retries this kind once after triggering an activation.
	KindNoActivePlayer Kind = "no_active_player"
	// KindActivationTimeout means the activation policy exhausted its
	// single retry without the downstream surface coming up.
	KindActivationTimeout Kind = "activation_timeout"
	// KindAmbiguous means a tool could not disambiguate and returned
	// multiple candidate continuations.
	KindAmbiguous Kind = "ambiguous"
)

// Error is a structured tool failure.
type Error struct {
	Kind     Kind
	Module   string
	Function string
	Msg      string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Module != "" && e.Function != "" {
		return fmt.Sprintf("%s: module %q function %q: %s", e.Kind, e.Module, e.Function, e.Msg)
	}
	if e.Module != "" {
		return fmt.Sprintf("%s: module %q: %s", e.Kind, e.Module, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Errf builds an Error with a formatted message.
func Errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from an error chain. Errors that are not
// *Error classify as execution failures.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindExecutionFailure
}
