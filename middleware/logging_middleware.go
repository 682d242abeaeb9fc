package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"
	"worker-rpc/envelope"
)

// LoggingMiddleware logs every dispatched call with its duration and, for
// failures, the reported kind.
func LoggingMiddleware(log *zap.SugaredLogger) Middleware {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = log.Named("dispatch")
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *envelope.Envelope) *envelope.Envelope {
			start := time.Now()
			resp := next(ctx, req)
			duration := time.Since(start)
			if resp != nil && resp.Error != nil {
				log.Infow("call failed",
					"method", req.Method, "id", req.ID, "duration", duration,
					"kind", resp.Error.Kind, "error", resp.Error.Message)
				return resp
			}
			log.Debugw("call served", "method", req.Method, "id", req.ID, "duration", duration)
			return resp
		}
	}
}
