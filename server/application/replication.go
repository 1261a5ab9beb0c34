package application

import (
	"math"
	"slices"

	"multiplayer/server/domain"
)

// Visibility はレプリケーションフィールドの公開範囲です。
type Visibility uint8

const (
	VisibilityAll       Visibility = iota // 全ての観測者
	VisibilityOwnerOnly                   // オーナーのクライアントのみ
)

// FieldKind はフィールド値の解釈です。ワイヤ上は常に32bitです。
type FieldKind uint8

const (
	FieldInt32 FieldKind = iota
	FieldFloat32
	FieldActorRef
)

// FieldDescriptor はレプリケーション対象フィールドのメタデータです。
type FieldDescriptor struct {
	ID         uint8
	Name       string
	Visibility Visibility
	Kind       FieldKind
}

// FieldValue はフィールド定義と現在値の組です。
type FieldValue struct {
	FieldDescriptor
	Bits uint32
}

func Int32Value(d FieldDescriptor, v int32) FieldValue {
	return FieldValue{FieldDescriptor: d, Bits: uint32(v)}
}

func Float32Value(d FieldDescriptor, v float32) FieldValue {
	return FieldValue{FieldDescriptor: d, Bits: math.Float32bits(v)}
}

func ActorRefValue(d FieldDescriptor, v domain.ActorID) FieldValue {
	return FieldValue{FieldDescriptor: d, Bits: uint32(v)}
}

func (v FieldValue) Int32() int32             { return int32(v.Bits) }
func (v FieldValue) Float32() float32         { return math.Float32frombits(v.Bits) }
func (v FieldValue) ActorRef() domain.ActorID { return domain.ActorID(v.Bits) }

// 共通の位置フィールド
var (
	FieldLocationX = FieldDescriptor{ID: 5, Name: "LocationX", Visibility: VisibilityAll, Kind: FieldFloat32}
	FieldLocationY = FieldDescriptor{ID: 6, Name: "LocationY", Visibility: VisibilityAll, Kind: FieldFloat32}
	FieldLocationZ = FieldDescriptor{ID: 7, Name: "LocationZ", Visibility: VisibilityAll, Kind: FieldFloat32}
)

// Replicated はレプリケーション対象のアクターです。
type Replicated interface {
	Actor
	Class() domain.ActorClass
	ReplicatedFields() []FieldValue
	// OwningSession はオーナー限定フィールドを受け取れるセッションを返します。無ければ空です。
	OwningSession(w *World) domain.SessionID
}

// ReplicaActor はレプリケーションを受けて状態を更新するreplica側のアクターです。
type ReplicaActor interface {
	Actor
	ApplyReplicatedField(v FieldValue) bool
}

// Schema はクラスごとのフィールド定義を返します。
func Schema(class domain.ActorClass) []FieldDescriptor {
	switch class {
	case domain.ActorClassCharacter:
		return characterSchema
	case domain.ActorClassProximityOwner:
		return proximityOwnerSchema
	default:
		return nil
	}
}

func lookupField(class domain.ActorClass, id uint8) (FieldDescriptor, bool) {
	for _, d := range Schema(class) {
		if d.ID == id {
			return d, true
		}
	}
	return FieldDescriptor{}, false
}

// ObserverPayload は1観測者向けのレプリケーションです。
// Fullのとき受信側は含まれないアクターを破棄します。
type ObserverPayload struct {
	Observer domain.SessionID
	Payload  *domain.ReplicationPayload
	Full     bool
}

// SubType はpayloadを運ぶレプリケーションメッセージのサブタイプです。
func (p ObserverPayload) SubType() uint8 {
	if p.Full {
		return domain.ReplicationSubTypeFull
	}
	return domain.ReplicationSubTypeSnapshot
}

type observerState struct {
	// actorごとに最後に送ったフィールド値
	known map[domain.ActorID]map[uint8]uint32
	owned map[domain.ActorID]bool
	full  bool
}

func newObserverState() *observerState {
	return &observerState{
		known: make(map[domain.ActorID]map[uint8]uint32),
		owned: make(map[domain.ActorID]bool),
		full:  true,
	}
}

// Replicator は観測者ごとに送信済みの値を覚え、差分だけを送ります。
type Replicator struct {
	observers map[domain.SessionID]*observerState
}

func NewReplicator() *Replicator {
	return &Replicator{observers: make(map[domain.SessionID]*observerState)}
}

// AddObserver は観測者を登録します。次のBuildで全アクターのspawnが送られます。
func (r *Replicator) AddObserver(id domain.SessionID) {
	if _, ok := r.observers[id]; ok {
		return
	}
	r.observers[id] = newObserverState()
}

// ResetObserver は送信済みの記録を捨て、次のBuildで全量を送らせます。
// 送信が破棄された観測者の再同期に使います。未登録ならfalseを返します。
func (r *Replicator) ResetObserver(id domain.SessionID) bool {
	if _, ok := r.observers[id]; !ok {
		return false
	}
	r.observers[id] = newObserverState()
	return true
}

func (r *Replicator) RemoveObserver(id domain.SessionID) {
	delete(r.observers, id)
}

func (r *Replicator) ObserverCount() int { return len(r.observers) }

// Build は全観測者分の差分を作ります。変更が無い観測者は含まれません。
func (r *Replicator) Build(w *World) []ObserverPayload {
	ids := make([]domain.SessionID, 0, len(r.observers))
	for id := range r.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	actors := w.Actors()
	out := make([]ObserverPayload, 0, len(ids))
	for _, id := range ids {
		state := r.observers[id]
		full := state.full
		state.full = false
		payload := r.buildFor(id, state, w, actors)
		// 全量は空でも送る (受信側の残骸を消すため)
		if len(payload.Entries) == 0 && !full {
			continue
		}
		out = append(out, ObserverPayload{Observer: id, Payload: payload, Full: full})
	}
	return out
}

func (r *Replicator) buildFor(observer domain.SessionID, state *observerState, w *World, actors []Actor) *domain.ReplicationPayload {
	payload := &domain.ReplicationPayload{}
	alive := make(map[domain.ActorID]struct{}, len(actors))

	for _, actor := range actors {
		rep, ok := actor.(Replicated)
		if !ok {
			continue
		}
		alive[rep.ID()] = struct{}{}
		owned := rep.OwningSession(w) == observer

		var flags uint8
		if owned {
			flags |= domain.ReplicationFlagOwned
		}

		known, seen := state.known[rep.ID()]
		if !seen {
			known = make(map[uint8]uint32)
			state.known[rep.ID()] = known
		}

		var fields []domain.FieldUpdate
		for _, v := range rep.ReplicatedFields() {
			if v.Visibility == VisibilityOwnerOnly && !owned {
				continue
			}
			if last, ok := known[v.ID]; ok && last == v.Bits {
				continue
			}
			known[v.ID] = v.Bits
			fields = append(fields, domain.FieldUpdate{ID: v.ID, Bits: v.Bits})
		}

		switch {
		case !seen:
			payload.Entries = append(payload.Entries, domain.ReplicationEntry{
				ActorID: rep.ID(),
				Class:   rep.Class(),
				Op:      domain.ReplicationOpSpawn,
				Flags:   flags,
				Fields:  fields,
			})
		case len(fields) > 0 || state.owned[rep.ID()] != owned:
			payload.Entries = append(payload.Entries, domain.ReplicationEntry{
				ActorID: rep.ID(),
				Class:   rep.Class(),
				Op:      domain.ReplicationOpUpdate,
				Flags:   flags,
				Fields:  fields,
			})
		}
		state.owned[rep.ID()] = owned
	}

	despawned := make([]domain.ActorID, 0)
	for id := range state.known {
		if _, ok := alive[id]; !ok {
			despawned = append(despawned, id)
		}
	}
	slices.Sort(despawned)
	for _, id := range despawned {
		delete(state.known, id)
		delete(state.owned, id)
		payload.Entries = append(payload.Entries, domain.ReplicationEntry{
			ActorID: id,
			Op:      domain.ReplicationOpDespawn,
		})
	}
	return payload
}
