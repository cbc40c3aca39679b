package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// responseMeter records what a handler wrote.
type responseMeter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (m *responseMeter) WriteHeader(code int) {
	if m.status == 0 {
		m.status = code
	}
	m.ResponseWriter.WriteHeader(code)
}

func (m *responseMeter) Write(p []byte) (int, error) {
	if m.status == 0 {
		m.status = http.StatusOK
	}
	n, err := m.ResponseWriter.Write(p)
	m.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach Hijack for websocket upgrades.
func (m *responseMeter) Unwrap() http.ResponseWriter {
	return m.ResponseWriter
}

// RequestLogger logs one line per request. 5xx responses log at error and
// 4xx at warn. Upgraded websocket connections log when they close.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			meter := &responseMeter{ResponseWriter: w}

			next.ServeHTTP(meter, r)

			status := meter.status
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}
			logger.LogAttrs(r.Context(), level, "request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("route", r.Pattern),
				slog.Int("status", status),
				slog.Int("bytes", meter.bytes),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote", RemoteIP(r)),
			)
		})
	}
}
