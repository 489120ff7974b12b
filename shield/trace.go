package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sunterra/fieldrecord/idgen"
	"github.com/sunterra/fieldrecord/kit"
)

// TraceID assigns each request a trace id and injects it into the context,
// the X-Trace-ID response header and a per-request logger derived from
// base. Client address and User-Agent are recorded in the context too.
func TraceID(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := idgen.Trace()
			w.Header().Set("X-Trace-ID", traceID)

			ctx := kit.WithTraceID(r.Context(), traceID)
			ctx = kit.WithRemoteAddr(ctx, r.RemoteAddr)
			ctx = kit.WithUserAgent(ctx, r.UserAgent())

			logger := base.With(
				"trace_id", traceID,
				"method", r.Method,
				"path", r.URL.Path,
			)
			ctx = context.WithValue(ctx, LoggerKey, logger)
			logger.Debug("request", "remote_addr", r.RemoteAddr)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
