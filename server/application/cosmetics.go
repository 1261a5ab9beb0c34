package application

import (
	"context"
	"log/slog"

	"multiplayer/server/domain"
)

// Cosmetics は見た目だけの副作用 (モンタージュ再生・2Dサウンド) の出力先です。
// ゲーム状態を変更してはいけません。
type Cosmetics interface {
	PlayMontage(actor domain.ActorID, montage string)
	PlaySound2D(sound string)
}

// LogCosmetics は再生要求をログに出すだけのCosmeticsです。
type LogCosmetics struct {
	ctx    context.Context
	logger *slog.Logger
}

func NewLogCosmetics(ctx context.Context, logger *slog.Logger) *LogCosmetics {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogCosmetics{ctx: ctx, logger: logger}
}

func (c *LogCosmetics) PlayMontage(actor domain.ActorID, montage string) {
	c.logger.DebugContext(c.ctx, "play montage", "actorID", actor, "montage", montage)
}

func (c *LogCosmetics) PlaySound2D(sound string) {
	c.logger.DebugContext(c.ctx, "play sound 2d", "sound", sound)
}
