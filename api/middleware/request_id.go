package middleware

import (
	"net/http"

	"github.com/google/uuid"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

const requestIDHeader = "X-Request-Id"

// RequestID propagates or mints X-Request-Id and tags the log context with
// it, plus the trace id when a span is recording.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(requestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, reqID)

			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
				if sc := oteltrace.SpanContextFromContext(ctx); sc.HasTraceID() {
					ctx = logg.WithField(ctx, "trace_id", sc.TraceID().String())
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
