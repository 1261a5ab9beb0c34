package application

import (
	"time"

	"multiplayer/server/domain"
)

// Clock はシミュレーション時刻を提供します。
type Clock interface {
	Now() time.Duration
}

// SimClock は固定ステップで進むシミュレーション時計です。
// 壁時計には依存しないため、テストではそのまま偽の時計として使えます。
type SimClock struct {
	now   time.Duration
	delta time.Duration
}

func NewSimClock(delta time.Duration) *SimClock {
	return &SimClock{delta: delta}
}

func (c *SimClock) Now() time.Duration   { return c.now }
func (c *SimClock) Delta() time.Duration { return c.delta }

// Advance は1ステップ進めて新しい時刻を返します。
func (c *SimClock) Advance() time.Duration {
	c.now += c.delta
	return c.now
}

// AdvanceBy は任意の時間だけ進めます。
func (c *SimClock) AdvanceBy(d time.Duration) time.Duration {
	c.now += d
	return c.now
}

// TimerKey はアクターごとのタイマー名です。
type TimerKey struct {
	Actor domain.ActorID
	Name  string
}

// Timers は期限の登録と判定だけを行うタイマーレジストリです。
// コールバックやキャンセルは持たず、期限切れのエントリは参照時に削除されます。
type Timers struct {
	clock     Clock
	deadlines map[TimerKey]time.Duration
}

func NewTimers(clock Clock) *Timers {
	return &Timers{
		clock:     clock,
		deadlines: make(map[TimerKey]time.Duration),
	}
}

// Set は現在時刻からdだけ後を期限として登録します。既存の期限は上書きされます。
func (t *Timers) Set(key TimerKey, d time.Duration) {
	t.deadlines[key] = t.clock.Now() + d
}

func (t *Timers) IsActive(key TimerKey) bool {
	deadline, ok := t.deadlines[key]
	if !ok {
		return false
	}
	if t.clock.Now() < deadline {
		return true
	}
	delete(t.deadlines, key)
	return false
}

// Remaining は期限までの残り時間を返します。非アクティブなら0です。
func (t *Timers) Remaining(key TimerKey) time.Duration {
	if !t.IsActive(key) {
		return 0
	}
	return t.deadlines[key] - t.clock.Now()
}

// ClearActor はアクターに紐づくタイマーをすべて破棄します (despawn時)。
func (t *Timers) ClearActor(actor domain.ActorID) {
	for key := range t.deadlines {
		if key.Actor == actor {
			delete(t.deadlines, key)
		}
	}
}
