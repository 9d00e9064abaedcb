// Package failure classifies the errors surfaced by the tutor and payment flows.
package failure

import (
	"errors"
	"fmt"
)

// Kind is the recovery class of a failure
type Kind int

const (
	Unknown Kind = iota
	Authentication
	DeviceUnavailable
	Connection
	VerificationRejected
	TransientService
)

func (k Kind) String() string {
	switch k {
	case Authentication:
		return "authentication"
	case DeviceUnavailable:
		return "device_unavailable"
	case Connection:
		return "connection"
	case VerificationRejected:
		return "verification_rejected"
	case TransientService:
		return "transient_service"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching by kind
var (
	ErrAuthentication       = &Error{Kind: Authentication}
	ErrDeviceUnavailable    = &Error{Kind: DeviceUnavailable}
	ErrConnection           = &Error{Kind: Connection}
	ErrVerificationRejected = &Error{Kind: VerificationRejected}
	ErrTransientService     = &Error{Kind: TransientService}
)

// ErrMissingCredential is the cause attached when no API key is configured
var ErrMissingCredential = errors.New("gemini API key is not configured")

// Error is a classified failure
type Error struct {
	Kind   Kind
	Op     string // operation that failed, e.g. "tutor.dial"
	Reason string // user-facing explanation, if any
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports a match when target is a *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New wraps err as a failure of the given kind
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a failure with a formatted reason and no cause
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Reason: fmt.Sprintf(format, args...)}
}

// Rejected builds a VerificationRejected failure carrying the oracle's reason
func Rejected(op, reason string) *Error {
	return &Error{Kind: VerificationRejected, Op: op, Reason: reason}
}

// KindOf returns the kind of the first classified error in the chain
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// ReasonOf returns the user-facing reason carried by err, if any
func ReasonOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return ""
}

// Code maps a kind to a wire error code
func Code(k Kind) string {
	switch k {
	case Authentication:
		return "AUTHENTICATION_ERROR"
	case DeviceUnavailable:
		return "DEVICE_UNAVAILABLE"
	case Connection:
		return "CONNECTION_ERROR"
	case VerificationRejected:
		return "VERIFICATION_REJECTED"
	case TransientService:
		return "SERVICE_UNAVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}
