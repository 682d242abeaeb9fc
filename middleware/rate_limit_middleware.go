package middleware

import (
	"context"

	"golang.org/x/time/rate"
	"worker-rpc/envelope"
)

// KindRateLimited is the failure kind reported for rejected calls.
const KindRateLimited = "RateLimited"

// RateLimitMiddleware rejects calls beyond a token bucket of r calls per
// second with the given burst.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *envelope.Envelope) *envelope.Envelope {
			if !limiter.Allow() {
				return envelope.Fail(req.ID, "rate limit exceeded", KindRateLimited)
			}
			return next(ctx, req)
		}
	}
}
