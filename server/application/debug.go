package application

import (
	"context"
	"fmt"
	"log/slog"

	"multiplayer/server/domain"
)

// DebugSink はデバッグ描画の出力先です。
type DebugSink interface {
	DrawString(actor domain.ActorID, at Vector3, text string)
	DrawSphere(actor domain.ActorID, center Vector3, radius float32)
}

type debugSphere struct {
	actor  domain.ActorID
	center Vector3
	radius float32
}

// DebugOverlay は1フレーム分のデバッグ描画を蓄積します。
type DebugOverlay struct {
	labels  []domain.DebugLabel
	spheres []debugSphere
}

func NewDebugOverlay() *DebugOverlay {
	return &DebugOverlay{}
}

func (o *DebugOverlay) DrawString(actor domain.ActorID, at Vector3, text string) {
	o.labels = append(o.labels, domain.DebugLabel{ActorID: actor, Text: text})
}

func (o *DebugOverlay) DrawSphere(actor domain.ActorID, center Vector3, radius float32) {
	o.spheres = append(o.spheres, debugSphere{actor: actor, center: center, radius: radius})
}

// Labels はこのフレームで描画された文字列を返します。
func (o *DebugOverlay) Labels() []domain.DebugLabel { return o.labels }

// Label は指定アクターの最後のラベルを返します。
func (o *DebugOverlay) Label(actor domain.ActorID) (string, bool) {
	for i := len(o.labels) - 1; i >= 0; i-- {
		if o.labels[i].ActorID == actor {
			return o.labels[i].Text, true
		}
	}
	return "", false
}

// Payload はラベルとスフィアをワイヤ形式にまとめます。スフィアは文字列ラベルとして送ります。
func (o *DebugOverlay) Payload() *domain.DebugPayload {
	labels := make([]domain.DebugLabel, 0, len(o.labels)+len(o.spheres))
	labels = append(labels, o.labels...)
	for _, s := range o.spheres {
		labels = append(labels, domain.DebugLabel{
			ActorID: s.actor,
			Text:    fmt.Sprintf("sphere r=%.0f at (%.0f, %.0f, %.0f)", s.radius, s.center.X, s.center.Y, s.center.Z),
		})
	}
	return &domain.DebugPayload{Labels: labels}
}

// Log はデバッグレベルでフレーム内容を出力します。
func (o *DebugOverlay) Log(ctx context.Context) {
	for _, l := range o.labels {
		slog.DebugContext(ctx, "debug label", "actorID", l.ActorID, "text", l.Text)
	}
}

func (o *DebugOverlay) Reset() {
	o.labels = o.labels[:0]
	o.spheres = o.spheres[:0]
}

type discardDebug struct{}

func (discardDebug) DrawString(domain.ActorID, Vector3, string)  {}
func (discardDebug) DrawSphere(domain.ActorID, Vector3, float32) {}
