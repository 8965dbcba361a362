// Package errs defines the error kinds surfaced by the profile flows.
//
// Absence is never an error: a missing profile record or avatar is reported as
// an empty result. Callers branch on kind with errors.Is against ErrAuth,
// ErrTransport or ErrPrecondition.
package errs

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

// Kind classifies a failure.
type Kind string

const (
	// KindAuth covers token exchange failures and backend rejections of a login.
	KindAuth Kind = "AUTH"
	// KindTransport covers network and backend I/O failures on store or blob calls.
	KindTransport Kind = "TRANSPORT"
	// KindPrecondition covers caller contract violations.
	KindPrecondition Kind = "PRECONDITION"
)

// Sentinels matched by (*Error).Is.
var (
	ErrAuth         = &Error{Kind: KindAuth}
	ErrTransport    = &Error{Kind: KindTransport}
	ErrPrecondition = &Error{Kind: KindPrecondition}
)

// Error carries a kind, the operation that failed and an optional cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	default:
		return string(e.Kind)
	}
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. A target with an
// empty Op only compares kinds, which is how the sentinels match.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Op == "" || t.Op == e.Op)
}

// Auth wraps err as an authentication failure.
func Auth(op string, err error) error {
	return &Error{Kind: KindAuth, Op: op, Err: err}
}

// Authf builds an authentication failure without a cause.
func Authf(op, format string, args ...any) error {
	return &Error{Kind: KindAuth, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Transport wraps err as a transport failure.
func Transport(op string, err error) error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// Precondition builds a contract violation.
func Precondition(op, format string, args ...any) error {
	return &Error{Kind: KindPrecondition, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// APICode returns the AWS error code carried by err, or "" when err did not
// come from an AWS API response.
func APICode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// IsClientFault reports whether the AWS API blamed the request rather than
// the service.
func IsClientFault(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorFault() == smithy.FaultClient
	}
	return false
}
