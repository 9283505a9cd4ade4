package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error kinds. Every error returned by a service operation wraps exactly one
// of these, so callers can switch on errors.Is.
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrValidation       = errors.New("validation failed")
	ErrRemoteFailure    = errors.New("remote failure")
)

// Storage-level errors. Stores return these; services translate them.
var (
	ErrAlreadyExists      = errors.New("already exists")
	ErrVersionMismatch    = errors.New("version mismatch")
	ErrAlreadyApplied     = errors.New("delta already applied")
	ErrInvalidInput       = errors.New("invalid input")
	ErrPreconditionFailed = errors.New("precondition failed")
)

// Reason narrows an error kind to the specific rule or record involved.
type Reason string

const (
	// NotAuthenticated
	ReasonSignedOut     Reason = "signed_out"
	ReasonWrongPasscode Reason = "wrong_passcode"
	ReasonBadCredential Reason = "bad_credential"

	// NotFound
	ReasonGroup         Reason = "group"
	ReasonActiveSession Reason = "active_session"
	ReasonSession       Reason = "session"
	ReasonMembership    Reason = "membership"
	ReasonUser          Reason = "user"
	ReasonAPIKey        Reason = "api_key"

	// Conflict
	ReasonGroupNameExists     Reason = "group_name_exists"
	ReasonAlreadyMember       Reason = "already_member"
	ReasonActiveSessionExists Reason = "active_session_exists"
	ReasonSessionEnded        Reason = "session_ended"
	ReasonSessionActive       Reason = "session_active"
	ReasonUsernameTaken       Reason = "username_taken"

	// Validation
	ReasonEmptyField       Reason = "empty_field"
	ReasonSameWinnerLoser  Reason = "same_winner_loser"
	ReasonPasscodeTooShort Reason = "passcode_too_short"
	ReasonInvalidEnumValue Reason = "invalid_enum_value"
	ReasonNegativeAmount   Reason = "negative_amount"
	ReasonInvalidAmount    Reason = "invalid_amount"
	ReasonTooLong          Reason = "too_long"
	ReasonDuplicate        Reason = "duplicate"

	// RemoteFailure
	ReasonContention  Reason = "contention"
	ReasonUnavailable Reason = "unavailable"
)

// Error is the error type returned by the ledger services. It records the
// operation, the kind from the taxonomy above, and the identifiers needed to
// retry precisely.
type Error struct {
	Op        string
	Kind      error
	Reason    Reason
	Keys      map[string]string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.Reason != "" {
		fmt.Fprintf(&b, " (%s)", e.Reason)
	}
	if len(e.Keys) > 0 {
		keys := make([]string, 0, len(e.Keys))
		for k := range e.Keys {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%q", k, e.Keys[k])
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func keyMap(kv []string) map[string]string {
	if len(kv) == 0 {
		return nil
	}
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return m
}

// NotAuthenticated builds a NotAuthenticated error.
func NotAuthenticated(op string, reason Reason) *Error {
	return &Error{Op: op, Kind: ErrNotAuthenticated, Reason: reason}
}

// NotFound builds a NotFound error. kv are alternating key/value identifiers.
func NotFound(op string, reason Reason, kv ...string) *Error {
	return &Error{Op: op, Kind: ErrNotFound, Reason: reason, Keys: keyMap(kv)}
}

// Conflict builds a Conflict error.
func Conflict(op string, reason Reason, kv ...string) *Error {
	return &Error{Op: op, Kind: ErrConflict, Reason: reason, Keys: keyMap(kv)}
}

// Invalid builds a Validation error wrapping the field-level cause.
func Invalid(op string, reason Reason, cause error) *Error {
	return &Error{Op: op, Kind: ErrValidation, Reason: reason, Err: cause}
}

// RemoteFailure builds a RemoteFailure error. Transient failures are safe to
// retry as-is.
func RemoteFailure(op string, cause error, transient bool, kv ...string) *Error {
	reason := ReasonUnavailable
	if transient {
		reason = ReasonContention
	}
	return &Error{Op: op, Kind: ErrRemoteFailure, Reason: reason, Keys: keyMap(kv), Transient: transient, Err: cause}
}

// ReasonOf returns the reason carried by err, if any.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// IsTransient reports whether err is a RemoteFailure worth retrying.
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Transient
}

// Error codes for standardized API error responses.
const (
	ErrCodeNotAuthenticated   = "NOT_AUTHENTICATED"
	ErrCodeResourceNotFound   = "RESOURCE_NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeValidationError    = "VALIDATION_ERROR"
	ErrCodeRemoteFailure      = "REMOTE_FAILURE"
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodePreconditionFailed = "PRECONDITION_FAILED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeInternalError      = "INTERNAL_ERROR"
)

// StandardError represents a standardized error response from the API.
type StandardError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Reason    Reason         `json:"reason,omitempty"`
	Transient bool           `json:"transient,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// StandardErrorResponse wraps a StandardError for JSON responses.
type StandardErrorResponse struct {
	Error StandardError `json:"error"`
}
