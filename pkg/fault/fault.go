// Package fault defines the error taxonomy shared by the card security stack.
//
// Every failure surfaced by the library belongs to one Kind. Callers test the
// kind with errors.Is against the sentinels of this package:
//
//	if errors.Is(err, fault.ErrSecurity) {
//	    // access denied, PIN operation refused or untrusted credential
//	}
//
// A DENY outcome is a security error, never a transport error, so callers can
// tell "not allowed" apart from "could not ask the card".
package fault

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error.
type Kind int

const (
	// KindFormat is a malformed TLV tag, length or structure.
	KindFormat Kind = iota + 1
	// KindPolicy is a malformed access control policy file.
	KindPolicy
	// KindProtocol is an unexpected tag, status word or structure in a card
	// response. The connection must be re-opened.
	KindProtocol
	// KindRemote is an exception thrown by the card-side method.
	KindRemote
	// KindTransport is an I/O failure, an unavailable channel or a removed card.
	KindTransport
	// KindSecurity is an access denial, a refused PIN operation or an
	// untrusted credential.
	KindSecurity
)

func (k Kind) String() string {
	switch k {
	case KindFormat:
		return "format error"
	case KindPolicy:
		return "policy error"
	case KindProtocol:
		return "protocol error"
	case KindRemote:
		return "remote exception"
	case KindTransport:
		return "transport error"
	case KindSecurity:
		return "security error"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Sentinels matching any error of the corresponding kind.
var (
	ErrFormat    = &Error{Kind: KindFormat}
	ErrPolicy    = &Error{Kind: KindPolicy}
	ErrProtocol  = &Error{Kind: KindProtocol}
	ErrRemote    = &Error{Kind: KindRemote}
	ErrTransport = &Error{Kind: KindTransport}
	ErrSecurity  = &Error{Kind: KindSecurity}
)

// Error is a classified error.
type Error struct {
	Kind Kind
	// Op names the operation that failed (e.g. "tlv.Parse").
	Op  string
	Err error
}

// New creates an Error of the given kind with a formatted message.
// The message carries a stack trace through github.com/pkg/errors.
func New(kind Kind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: errors.Errorf(format, args...)}
}

// Wrap classifies err. It returns nil when err is nil. An error that is already
// classified keeps its kind and only gains the operation context.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		kind = fe.Kind
	}
	return &Error{Kind: kind, Op: op, Err: errors.WithStack(err)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return e.Kind.String()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel of e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Err == nil && t.Op == "" && t.Kind == e.Kind
}

// KindOf returns the kind of the first classified error in err's chain, or 0.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	var k interface{ FaultKind() Kind }
	if errors.As(err, &k) {
		return k.FaultKind()
	}
	return 0
}
