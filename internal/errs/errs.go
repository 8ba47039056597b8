// Package errs classifies errors into the kinds spec.md §7 names, so
// call sites can decide by errors.As whether an error terminates a
// session, becomes a downstream NOTICE, or resets the login state
// machine, without string-matching messages.
package errs

import "fmt"

// Kind is one of spec.md §7's error kinds.
type Kind int

const (
	Transport Kind = iota
	Protocol
	Auth
	UpstreamErr
	Dialog
	Invariant
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Protocol:
		return "protocol"
	case Auth:
		return "authentication"
	case UpstreamErr:
		return "upstream"
	case Dialog:
		return "dialog"
	case Invariant:
		return "internal invariant violation"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind and a short message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func IsKind(err error, kind Kind) bool {
	var e *Error
	if As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// As walks err's single-error Unwrap chain and reports the first *Error
// found, storing it in target. Errors that unwrap to several errors
// (Unwrap() []error) are not searched.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
