package slogx

import (
	"log/slog"
	"net/http"
	"time"
)

// Transport logs every outbound request made through it. The request's
// context logger is used when present so tab ids end up on the line.
type Transport struct {
	Base   http.RoundTripper
	Logger *slog.Logger
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, logger *slog.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, Logger: logger}
}

func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	logger := t.Logger
	if l, ok := r.Context().Value(ctxKey{}).(*slog.Logger); ok {
		logger = l
	}
	if logger == nil {
		logger = slog.Default()
	}

	start := time.Now()
	resp, err := t.Base.RoundTrip(r)
	duration := time.Since(start).Milliseconds()

	// Never log headers, they carry bearer tokens.
	if err != nil {
		logger.Warn("http_client_request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", duration,
			"error", err,
		)
		return nil, err
	}

	logger.Debug("http_client_request",
		"method", r.Method,
		"path", r.URL.Path,
		"status", resp.StatusCode,
		"duration_ms", duration,
	)
	return resp, nil
}
