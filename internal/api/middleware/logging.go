package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Logger returns a request logging middleware using zerolog. Server errors
// log at error level, client errors at warn, and scrapes or static files at
// debug. A hijacked WebSocket request is logged when its session ends.
func Logger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				status := ww.Status()
				msg := "request completed"
				if status == 0 && isUpgrade(r) {
					status = http.StatusSwitchingProtocols
					msg = "websocket session ended"
				}

				logger.WithLevel(levelFor(r.URL.Path, status)).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", status).
					Int("bytes", ww.BytesWritten()).
					Dur("latency", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("remote_addr", RealIP(r)).
					Msg(msg)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func levelFor(path string, status int) zerolog.Level {
	switch {
	case status >= 500:
		return zerolog.ErrorLevel
	case status >= 400:
		return zerolog.WarnLevel
	case path == "/metrics" || path == "/health",
		strings.HasPrefix(path, "/previews/"), strings.HasPrefix(path, "/projects/"):
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
