package middleware

import (
	"context"
	"fmt"
	"time"

	"worker-rpc/envelope"
)

// KindTimeout is the failure kind reported when dispatch exceeds its budget.
const KindTimeout = "Timeout"

// TimeOutMiddleware answers with a Timeout failure if the handler has not
// produced a response within timeout. The handler keeps running with a
// cancelled context; its late response is discarded. A panic in the handler
// goroutine is answered with a Panic failure.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *envelope.Envelope) *envelope.Envelope {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *envelope.Envelope, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						done <- envelope.Fail(req.ID, fmt.Sprint(r), KindPanic)
					}
				}()
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return envelope.Fail(req.ID, "request timed out", KindTimeout)
			}
		}
	}
}
