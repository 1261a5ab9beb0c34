package application

import (
	"context"
	"log/slog"

	"multiplayer/server/domain"
)

// AxisName は軸入力のバインディング名です。
type AxisName string

const (
	AxisMoveForward AxisName = "MoveForward"
	AxisMoveRight   AxisName = "MoveRight"
	AxisTurn        AxisName = "Turn"
	AxisTurnRate    AxisName = "TurnRate"
	AxisLookUp      AxisName = "LookUp"
	AxisLookUpRate  AxisName = "LookUpRate"
)

// ActionName はボタン入力のバインディング名です。
type ActionName string

const (
	InputActionFire ActionName = "Fire"
)

type AxisHandler func(f *Frame, value float32)
type ActionHandler func(f *Frame)

// InputBindings は入力名からハンドラへの対応表です。
type InputBindings struct {
	axes    map[AxisName]AxisHandler
	actions map[ActionName]ActionHandler
}

func NewInputBindings() *InputBindings {
	return &InputBindings{
		axes:    make(map[AxisName]AxisHandler),
		actions: make(map[ActionName]ActionHandler),
	}
}

func (b *InputBindings) BindAxis(name AxisName, h AxisHandler)       { b.axes[name] = h }
func (b *InputBindings) BindAction(name ActionName, h ActionHandler) { b.actions[name] = h }

// DispatchAxis はバインドされていれば呼び出してtrueを返します。
func (b *InputBindings) DispatchAxis(f *Frame, name AxisName, value float32) bool {
	h, ok := b.axes[name]
	if !ok {
		return false
	}
	h(f, value)
	return true
}

func (b *InputBindings) DispatchAction(f *Frame, name ActionName) bool {
	h, ok := b.actions[name]
	if !ok {
		return false
	}
	h(f)
	return true
}

// AxisValue は1軸分の入力値です。
type AxisValue struct {
	Name  AxisName
	Value float32
}

// AxesFromPayload はワイヤ上の入力を固定順の軸入力に展開します。
func AxesFromPayload(p *domain.InputPayload) []AxisValue {
	return []AxisValue{
		{AxisMoveForward, p.MoveForward},
		{AxisMoveRight, p.MoveRight},
		{AxisTurn, p.Turn},
		{AxisTurnRate, p.TurnRate},
		{AxisLookUp, p.LookUp},
		{AxisLookUpRate, p.LookUpRate},
	}
}

// DispatchPayload は全軸をバインディングに流します。
func (b *InputBindings) DispatchPayload(ctx context.Context, f *Frame, p *domain.InputPayload) {
	for _, axis := range AxesFromPayload(p) {
		if !b.DispatchAxis(f, axis.Name, axis.Value) {
			slog.DebugContext(ctx, "unbound axis", "axis", axis.Name)
		}
	}
}
