package types

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and transport mapping.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindAuthorization     Kind = "authorization"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindInconsistentState Kind = "inconsistent_state"
	KindUnavailable       Kind = "unavailable"
	KindInternal          Kind = "internal"
)

// Error carries a stable kind next to the human message.
type Error struct {
	Kind    Kind
	Msg     string
	Details any
}

func (e *Error) Error() string { return e.Msg }

// Is matches on kind and message so that sentinels work with errors.Is even
// when a copy carries details.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Msg == t.Msg
}

func newErr(kind Kind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

// WithDetails returns a copy of a sentinel carrying details for the caller.
func WithDetails(err *Error, details any) *Error {
	return &Error{Kind: err.Kind, Msg: err.Msg, Details: details}
}

// Errorf builds an ad-hoc error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind of err, defaulting to internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

var (
	ErrInvalidChoice     = newErr(KindValidation, "choice must be one of yes, no, abstain")
	ErrInvalidStatus     = newErr(KindValidation, "status must be implemented or archived")
	ErrInvalidSignature  = newErr(KindValidation, "signed metadata does not verify")
	ErrNotMember         = newErr(KindAuthorization, "caller is not a member of this community")
	ErrRegionMismatch    = newErr(KindAuthorization, "caller region does not match")
	ErrNotAdmin          = newErr(KindAuthorization, "admin access required")
	ErrProposalNotFound  = newErr(KindNotFound, "proposal not found")
	ErrCommunityNotFound = newErr(KindNotFound, "community not found")
	ErrVoteNotFound      = newErr(KindNotFound, "no vote found to undo")
	ErrDuplicate         = newErr(KindConflict, "similar proposals already exist")
	ErrConflict          = newErr(KindConflict, "conflicting write")
	ErrNotVoting         = newErr(KindInconsistentState, "proposal is not in voting status")
	ErrDeadlinePassed    = newErr(KindInconsistentState, "voting deadline has passed")
	ErrAlreadyFinalized  = newErr(KindInconsistentState, "proposal has already been finalized")
	ErrUnavailable       = newErr(KindUnavailable, "dependency unavailable")
)
