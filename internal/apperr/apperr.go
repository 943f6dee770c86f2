// Package apperr defines the error taxonomy shared by the pipeline stages.
//
// Every failure that crosses a package boundary is an *Error carrying a Kind.
// Callers branch on the Kind (errors.Is(err, apperr.SynthesisUnavailable)) and
// the transport layer maps it to a response code.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind string

const (
	// ClassificationAmbiguous is never surfaced; the classifier resolves it to a default.
	ClassificationAmbiguous Kind = "ClassificationAmbiguous"
	// SynthesisUnavailable means the synthesis provider failed on every attempt.
	SynthesisUnavailable Kind = "SynthesisUnavailable"
	// IncompleteArtifact is a warning flag, carried on artifacts rather than returned.
	IncompleteArtifact Kind = "IncompleteArtifact"
	// IntegrationFailed means no bundle could be written.
	IntegrationFailed Kind = "IntegrationFailed"
	// PortConflictUnresolved means a target port was still bound after reconciliation.
	PortConflictUnresolved Kind = "PortConflictUnresolved"
	// ProcessCrashedOnStartup means a service exited within the readiness grace period.
	ProcessCrashedOnStartup Kind = "ProcessCrashedOnStartup"

	BadRequest Kind = "BadRequest"
	NotFound   Kind = "NotFound"
	Timeout    Kind = "Timeout"
	Internal   Kind = "Internal"
)

// Error implements errors.Is against a bare Kind, so a Kind is its own sentinel.
func (k Kind) Error() string { return string(k) }

// Error is a classified failure from operation Op.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New creates an *Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf creates an *Error with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is this error's Kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// KindOf extracts the Kind of err. Deadline and cancellation errors map to
// Timeout; anything unclassified is Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Timeout
	}
	return Internal
}

// ResponseCode maps a Kind to the externally visible response code.
func ResponseCode(kind Kind) string {
	switch kind {
	case "":
		return "success"
	case BadRequest:
		return "bad-request"
	case NotFound:
		return "not-found"
	case SynthesisUnavailable:
		return "upstream-error"
	case Timeout:
		return "timeout"
	default:
		return "internal-error"
	}
}

// HTTPStatus maps a Kind to an HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case "":
		return http.StatusOK
	case BadRequest:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case SynthesisUnavailable:
		return http.StatusBadGateway
	case Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
