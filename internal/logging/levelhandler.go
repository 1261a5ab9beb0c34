package logging

import (
	"context"
	"log/slog"
)

// LevelHandler は内側のハンドラにminLevelより低いレベルのレコードを渡しません。
// OTelブリッジのように自前でレベルを持たないハンドラに使います。
type LevelHandler struct {
	inner    slog.Handler
	minLevel slog.Leveler
}

func NewLevelHandler(inner slog.Handler, minLevel slog.Leveler) *LevelHandler {
	return &LevelHandler{inner: inner, minLevel: minLevel}
}

func (h *LevelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.minLevel.Level() && h.inner.Enabled(ctx, level)
}

func (h *LevelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.inner.Handle(ctx, r)
}

func (h *LevelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LevelHandler{inner: h.inner.WithAttrs(attrs), minLevel: h.minLevel}
}

func (h *LevelHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &LevelHandler{inner: h.inner.WithGroup(name), minLevel: h.minLevel}
}
