package slogx

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

func FromContext(ctx context.Context) *slog.Logger {
	l, ok := ctx.Value(ctxKey{}).(*slog.Logger)
	if !ok {
		return slog.Default()
	}
	return l
}

// WithTab tags the context logger with the tab the work belongs to.
func WithTab(ctx context.Context, base *slog.Logger, tabID string) context.Context {
	return WithContext(ctx, base.With("tab_id", tabID))
}
