// Package failure defines the error taxonomy shared by ingestion, scoring,
// persistence and querying. Errors carry a Kind so that the HTTP layer and
// the campaign lifecycle can decide how to react without string matching.
package failure

import (
	"errors"
	"net/http"

	"github.com/rotisserie/eris"
)

// Kind classifies an error.
type Kind string

const (
	KindUnknown          Kind = ""
	KindValidation       Kind = "validation"
	KindScoringTransport Kind = "scoring_transport"
	KindScoringContract  Kind = "scoring_contract"
	KindReconciliation   Kind = "reconciliation"
	KindPersistence      Kind = "persistence"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindUnauthorized     Kind = "unauthorized"
)

// Error is a classified error with an optional JSON-serializable payload
// for diagnostics (missing columns, row counts and the like).
type Error struct {
	Kind    Kind
	Msg     string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Msg != "" {
		return e.Msg + ": " + e.Err.Error()
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error without a cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap classifies err. The cause is wrapped with eris so a stack is kept.
func Wrap(kind Kind, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: eris.Wrap(err, string(kind))}
}

// Validation reports bad input shape, size or columns.
func Validation(msg string, details any) *Error {
	return &Error{Kind: KindValidation, Msg: msg, Details: details}
}

// ScoringTransport reports an unreachable scorer or a non-2xx response.
func ScoringTransport(err error, msg string) *Error {
	return Wrap(KindScoringTransport, err, msg)
}

// ScoringContract reports a reachable scorer whose response breaks the
// expected contract.
func ScoringContract(msg string) *Error {
	return New(KindScoringContract, msg)
}

// Reconciliation reports predictions that cannot be joined to input rows.
func Reconciliation(msg string) *Error {
	return New(KindReconciliation, msg)
}

// Persistence reports a failed durable write.
func Persistence(err error, msg string) *Error {
	return Wrap(KindPersistence, err, msg)
}

// NotFound reports a missing campaign or lead.
func NotFound(msg string) *Error {
	return New(KindNotFound, msg)
}

// Conflict reports a write against an entity in the wrong state.
func Conflict(msg string) *Error {
	return New(KindConflict, msg)
}

// Unauthorized reports a missing caller identity.
func Unauthorized(msg string) *Error {
	return New(KindUnauthorized, msg)
}

// KindOf returns the Kind of the first classified error in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is reports whether err's chain contains a classified error of kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// DetailsOf returns the diagnostic payload of the first classified error in
// err's chain.
func DetailsOf(err error) any {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Details
	}
	return nil
}

// Message returns the human-readable message of the first classified error,
// falling back to err.Error().
func Message(err error) string {
	var fe *Error
	if errors.As(err, &fe) && fe.Msg != "" {
		return fe.Msg
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// HTTPStatus maps an error to the status code the API responds with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Scoring reports whether err belongs to the class of failures that drive
// an open campaign to failed.
func Scoring(err error) bool {
	switch KindOf(err) {
	case KindScoringTransport, KindScoringContract, KindReconciliation, KindPersistence:
		return true
	}
	return false
}
