// Package corerr provides the single error taxonomy surfaced by the core
// to its embedding shell as serialisable {kind, message} pairs.
package corerr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for shell-side handling and serialisation.
type Kind string

const (
	KindDatabase      Kind = "database"
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindIO            Kind = "io"
	KindProcessSpawn  Kind = "process_spawn"
	KindExecution     Kind = "execution"
	KindAuth          Kind = "auth"
	KindNetworkOffline Kind = "network_offline"
	KindCloud         Kind = "cloud"
	KindGitlab        Kind = "gitlab"
	KindSerde         Kind = "serde"
	KindInternal      Kind = "internal"
)

// Error is the taxonomy type. It wraps an optional cause for errors.Is/As
// chains while always exposing a stable Kind and a human message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, corerr.NotFound("")) style checks, or
// more commonly use the Is* helpers below.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func new_(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Database(message string, cause error) *Error     { return new_(KindDatabase, message, cause) }
func Validation(message string) *Error                { return new_(KindValidation, message, nil) }
func NotFound(message string) *Error                   { return new_(KindNotFound, message, nil) }
func IO(message string, cause error) *Error            { return new_(KindIO, message, cause) }
func ProcessSpawn(message string, cause error) *Error  { return new_(KindProcessSpawn, message, cause) }
func Execution(message string) *Error                  { return new_(KindExecution, message, nil) }
func Auth(message string, cause error) *Error          { return new_(KindAuth, message, cause) }
func NetworkOffline(message string, cause error) *Error {
	return new_(KindNetworkOffline, message, cause)
}
func Cloud(message string, cause error) *Error  { return new_(KindCloud, message, cause) }
func Gitlab(message string, cause error) *Error { return new_(KindGitlab, message, cause) }
func Serde(message string, cause error) *Error  { return new_(KindSerde, message, cause) }
func Internal(message string, cause error) *Error { return new_(KindInternal, message, cause) }

// KindOf extracts the Kind from err, returning KindInternal for unrecognised
// errors so every error can still be serialised to the shell.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err's Kind equals kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
