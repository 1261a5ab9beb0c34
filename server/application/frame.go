package application

import "time"

// Frame は1ステップ分の更新に渡される明示的なコンテキストです。
// ワールド・タイマー・デバッグ描画などをグローバルに引かず、ここから参照します。
type Frame struct {
	Delta     time.Duration
	World     *World
	Timers    *Timers
	Debug     DebugSink
	RPC       RPCSink
	Cosmetics Cosmetics
}

// DeltaSeconds は経過時間を秒で返します。
func (f *Frame) DeltaSeconds() float32 {
	return float32(f.Delta.Seconds())
}

func (f *Frame) debug() DebugSink {
	if f.Debug == nil {
		return discardDebug{}
	}
	return f.Debug
}
