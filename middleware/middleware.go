// Package middleware wraps exposer dispatch in an onion of handlers.
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
//	A.before → B.before → C.before → handler → C.after → B.after → A.after
//
// A handler turns one request envelope into exactly one response envelope.
package middleware

import (
	"context"

	"worker-rpc/envelope"
)

// KindPanic is the failure kind reported when a handler panics.
const KindPanic = "Panic"

type HandlerFunc func(ctx context.Context, req *envelope.Envelope) *envelope.Envelope

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares; the first one is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
