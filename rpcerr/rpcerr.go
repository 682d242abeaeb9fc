// Package rpcerr defines the error shape callers see at the proxy boundary.
//
// Every failed proxied call returns an *Error, whether the failure came from
// the remote method itself or from the channel underneath it. Callers tell
// the two apart by Kind only:
//
//	UnknownMethod          the exposed interface has no such method
//	RemoteInvocationError  the remote method returned an error (or panicked)
//	ChannelClosed          the channel was torn down before a response arrived
//	TransportError         the transport failed to deliver the request
package rpcerr

import (
	"errors"
	"fmt"
)

// Kind classifies a call failure.
type Kind string

const (
	KindUnknownMethod    Kind = "UnknownMethod"
	KindRemoteInvocation Kind = "RemoteInvocationError"
	KindChannelClosed    Kind = "ChannelClosed"
	KindTransport        Kind = "TransportError"
)

// DefaultRemoteKind is reported for remote errors that carry no kind of their own.
const DefaultRemoteKind = "Error"

// Sentinels for errors.Is. Matching is by Kind, so a ChannelClosed error with
// a specific message still matches ErrChannelClosed.
var (
	ErrUnknownMethod    = &Error{Kind: KindUnknownMethod, Message: "unknown method"}
	ErrRemoteInvocation = &Error{Kind: KindRemoteInvocation, Message: "remote invocation failed"}
	ErrChannelClosed    = &Error{Kind: KindChannelClosed, Message: "channel closed"}
	ErrTransport        = &Error{Kind: KindTransport, Message: "transport error"}
)

// Error is the error returned by proxied calls.
type Error struct {
	Kind    Kind
	Message string
	// RemoteKind is the kind reported by the remote side, e.g. "TypeError"
	// or the ErrorKind of a Go error. Empty for boundary failures.
	RemoteKind string
	// Err is the local cause for boundary failures (transport errors).
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.RemoteKind != "" && e.RemoteKind != string(e.Kind):
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.RemoteKind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Kinded is implemented by errors that know their stable kind name. The
// exposer reports ErrorKind in the failure envelope.
type Kinded interface {
	ErrorKind() string
}

// KindOf returns the stable kind name of err for a failure envelope.
func KindOf(err error) string {
	var k Kinded
	if errors.As(err, &k) {
		if name := k.ErrorKind(); name != "" {
			return name
		}
	}
	var e *Error
	if errors.As(err, &e) {
		if e.RemoteKind != "" {
			return e.RemoteKind
		}
		return string(e.Kind)
	}
	return DefaultRemoteKind
}

// FromFailure rebuilds the caller-side error for a failure envelope.
func FromFailure(message, kind string) *Error {
	switch Kind(kind) {
	case KindUnknownMethod, KindChannelClosed:
		return &Error{Kind: Kind(kind), Message: message, RemoteKind: kind}
	}
	if kind == "" {
		kind = DefaultRemoteKind
	}
	return &Error{Kind: KindRemoteInvocation, Message: message, RemoteKind: kind}
}

// ChannelClosed builds a ChannelClosed error with a reason.
func ChannelClosed(reason string) *Error {
	if reason == "" {
		reason = ErrChannelClosed.Message
	}
	return &Error{Kind: KindChannelClosed, Message: reason}
}

// Transport wraps a transport failure.
func Transport(err error) *Error {
	return &Error{Kind: KindTransport, Message: "failed to deliver request", Err: err}
}

// Named is a plain error with an explicit kind, for exposed methods that
// want a specific kind on the wire.
type Named struct {
	Name string
	Msg  string
}

func (n *Named) Error() string     { return n.Msg }
func (n *Named) ErrorKind() string { return n.Name }

// New returns an error reported remotely with the given kind.
func New(kind, msg string) error {
	return &Named{Name: kind, Msg: msg}
}
