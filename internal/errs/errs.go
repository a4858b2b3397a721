// Package errs defines the error taxonomy shared by the archive, ledger and
// evaluation packages. Every error carries the submission id, the status the
// contribution was in and the attempted operation so callers can decide
// whether to retry, abandon or escalate.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindDuplicateID             Kind = "duplicate_id"
	KindNotFound                Kind = "not_found"
	KindIllegalTransition       Kind = "illegal_transition"
	KindInvalidState            Kind = "invalid_state"
	KindAlreadyEvaluated        Kind = "already_evaluated"
	KindTierUnavailable         Kind = "tier_unavailable"
	KindInsufficientBalance     Kind = "insufficient_balance"
	KindNoEligibleEpoch         Kind = "no_eligible_epoch"
	KindCollaboratorUnavailable Kind = "collaborator_unavailable"
	KindParse                   Kind = "parse"
	KindInvalidInput            Kind = "invalid_input"
	KindStorage                 Kind = "storage"
)

// Sentinels for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrDuplicateID             = &Error{Kind: KindDuplicateID}
	ErrNotFound                = &Error{Kind: KindNotFound}
	ErrIllegalTransition       = &Error{Kind: KindIllegalTransition}
	ErrInvalidState            = &Error{Kind: KindInvalidState}
	ErrAlreadyEvaluated        = &Error{Kind: KindAlreadyEvaluated}
	ErrTierUnavailable         = &Error{Kind: KindTierUnavailable}
	ErrInsufficientBalance     = &Error{Kind: KindInsufficientBalance}
	ErrNoEligibleEpoch         = &Error{Kind: KindNoEligibleEpoch}
	ErrCollaboratorUnavailable = &Error{Kind: KindCollaboratorUnavailable}
	ErrParse                   = &Error{Kind: KindParse}
	ErrInvalidInput            = &Error{Kind: KindInvalidInput}
	ErrStorage                 = &Error{Kind: KindStorage}
)

type Error struct {
	Kind         Kind           `json:"kind"`
	Op           string         `json:"op,omitempty"`
	SubmissionID string         `json:"submission_id,omitempty"`
	Status       string         `json:"status,omitempty"`
	Detail       string         `json:"detail,omitempty"`
	Fields       map[string]any `json:"fields,omitempty"`
	Err          error          `json:"-"`
}

func New(kind Kind, op, submissionID, status, detail string) *Error {
	return &Error{Kind: kind, Op: op, SubmissionID: submissionID, Status: status, Detail: detail}
}

func Wrap(kind Kind, op, submissionID string, err error) *Error {
	return &Error{Kind: kind, Op: op, SubmissionID: submissionID, Err: err}
}

func (e *Error) Error() string {
	parts := make([]string, 0, 5)
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	parts = append(parts, string(e.Kind))
	if e.SubmissionID != "" {
		parts = append(parts, "submission="+e.SubmissionID)
	}
	if e.Status != "" {
		parts = append(parts, "status="+e.Status)
	}
	if e.Detail != "" {
		parts = append(parts, e.Detail)
	}
	msg := strings.Join(parts, ": ")
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind, so errors.Is(err, ErrNotFound)
// works regardless of the populated detail fields.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func (e *Error) With(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = map[string]any{}
	}
	e.Fields[key] = value
	return e
}

// KindOf returns the Kind of the first *Error in the chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether the failure is transient. Collaborator failures
// and unparseable collaborator replies leave the contribution in EVALUATING
// and may be retried. Everything else is surfaced as final.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindCollaboratorUnavailable, KindParse, KindStorage:
		return true
	default:
		return false
	}
}
