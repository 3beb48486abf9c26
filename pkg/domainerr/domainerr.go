// Package domainerr defines the error taxonomy shared by the back office core.
//
// Errors carry a stable Code that callers can switch on without parsing
// messages. Policy and invariant failures are returned as *Error values; store
// and transport failures are wrapped with CodeInternal.
package domainerr

import "errors"

// Code is a transport-independent error category.
type Code string

const (
	// Authorization
	CodeForbidden             Code = "forbidden"
	CodeSelfChangeForbidden   Code = "self_change_forbidden"
	CodeCrossTenantForbidden  Code = "cross_tenant_forbidden"
	CodePlatformAdminShielded Code = "platform_admin_shielded"
	CodeReauthRequired        Code = "reauth_required"

	// Invariants
	CodeLastOwnerViolation Code = "last_owner_violation"
	CodeScopeMismatch      Code = "scope_mismatch"
	CodeSeatLimitReached   Code = "seat_limit_reached"
	CodeTenantInactive     Code = "tenant_inactive"

	// Lifecycle
	CodeInvalidOrExpired  Code = "invalid_or_expired"
	CodeAlreadyAccepted   Code = "already_accepted"
	CodeCooldownActive    Code = "cooldown_active"
	CodeEmailAlreadyInUse Code = "email_already_in_use"
	CodeDuplicatePending  Code = "duplicate_pending"
	CodeNoOp              Code = "no_op"

	// General
	CodeNotFound     Code = "not_found"
	CodeInvalidInput Code = "invalid_input"
	CodeInternal     Code = "internal_error"
)

// Error wraps a failure with a stable code and a message suitable for display.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates an error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to err. If err already carries a code, that
// code is kept.
func Wrap(err error, code Code, msg string) error {
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Code: existing.Code, Message: msg, Err: err}
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code of the first coded error in the chain. Errors without
// a code are reported as CodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var coder interface{ ErrorCode() Code }
	if errors.As(err, &coder) {
		return coder.ErrorCode()
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Sentinel returns a bare *Error usable as an errors.Is target.
func Sentinel(code Code) error {
	return &Error{Code: code}
}
