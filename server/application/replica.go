package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"multiplayer/server/domain"
)

var ErrUnknownActorClass = errors.New("unknown actor class")

type roleSetter interface {
	SetRole(role NetRole)
}

// ReplicaWorld はクライアント側でサーバーのレプリケーションを受けて保持するワールドです。
// 中のアクターはauthorityを持たないため、発射やオーナー計算は何もしません。
type ReplicaWorld struct {
	session domain.SessionID
	world   *World
	clock   *SimClock
	timers  *Timers
	cfg     CharacterConfig
	logger  *slog.Logger

	bound    *Character
	bindings *InputBindings

	// 未知アクターへの更新を受けたら全量を要求し、全量が届くまで再要求しない
	resyncNeeded bool
	awaitingFull bool
}

type classed interface {
	Class() domain.ActorClass
}

func NewReplicaWorld(session domain.SessionID, delta time.Duration, cfg CharacterConfig, logger *slog.Logger) *ReplicaWorld {
	if logger == nil {
		logger = slog.Default()
	}
	clock := NewSimClock(delta)
	return &ReplicaWorld{
		session: session,
		world:   NewWorld(),
		clock:   clock,
		timers:  NewTimers(clock),
		cfg:     cfg,
		logger:  logger,
	}
}

func (r *ReplicaWorld) World() *World                 { return r.world }
func (r *ReplicaWorld) Session() domain.SessionID     { return r.session }
func (r *ReplicaWorld) SetSession(s domain.SessionID) { r.session = s }

// LocalCharacter は自分が操作しているキャラクターを返します。
func (r *ReplicaWorld) LocalCharacter() (*Character, bool) {
	for _, c := range r.world.Characters() {
		if c.Role() == RoleAutonomousProxy {
			return c, true
		}
	}
	return nil, false
}

// LocalInput は自分のキャラクターに結び付いた入力バインディングを返します。
func (r *ReplicaWorld) LocalInput() (*Character, *InputBindings, bool) {
	c, ok := r.LocalCharacter()
	if !ok {
		r.bound, r.bindings = nil, nil
		return nil, nil, false
	}
	if c != r.bound {
		r.bound = c
		r.bindings = NewInputBindings()
		c.SetupInput(r.bindings)
	}
	return c, r.bindings, true
}

// ApplyMessage はレプリケーションメッセージのペイロードをサブタイプに従って反映します。
func (r *ReplicaWorld) ApplyMessage(ctx context.Context, subType uint8, data []byte) error {
	p, err := domain.ParseReplicationPayload(data)
	if err != nil {
		return err
	}
	if subType == domain.ReplicationSubTypeFull {
		return r.ApplyFull(ctx, p)
	}
	return r.Apply(ctx, p)
}

// ApplyFull は全量のレプリケーションを反映します。payloadでspawnされないアクターと、
// クラスが変わったアクターは先に破棄されます。
func (r *ReplicaWorld) ApplyFull(ctx context.Context, p *domain.ReplicationPayload) error {
	keep := make(map[domain.ActorID]domain.ActorClass, len(p.Entries))
	for _, entry := range p.Entries {
		if entry.Op == domain.ReplicationOpSpawn {
			keep[entry.ActorID] = entry.Class
		}
	}
	for _, actor := range r.world.Actors() {
		class, ok := keep[actor.ID()]
		if ok {
			if c, isClassed := actor.(classed); !isClassed || c.Class() == class {
				continue
			}
		}
		r.world.Remove(actor.ID())
		r.timers.ClearActor(actor.ID())
		r.logger.DebugContext(ctx, "replica: dropped on full sync", "actorID", actor.ID())
	}
	r.resyncNeeded = false
	r.awaitingFull = false
	return r.Apply(ctx, p)
}

// TakeResyncRequest はサーバーへ再同期を要求すべきならtrueを返します。
// 一度trueを返すと、全量を受け取るまではfalseを返します。
func (r *ReplicaWorld) TakeResyncRequest() bool {
	if !r.resyncNeeded || r.awaitingFull {
		return false
	}
	r.resyncNeeded = false
	r.awaitingFull = true
	return true
}

// Apply はレプリケーションを反映します。未知のクラスのspawnはエラーになりますが、
// 残りのエントリは処理されます。
func (r *ReplicaWorld) Apply(ctx context.Context, p *domain.ReplicationPayload) error {
	var errs []error
	for i := range p.Entries {
		entry := &p.Entries[i]
		switch entry.Op {
		case domain.ReplicationOpSpawn:
			if err := r.spawn(ctx, entry); err != nil {
				errs = append(errs, err)
			}
		case domain.ReplicationOpUpdate:
			r.update(ctx, entry)
		case domain.ReplicationOpDespawn:
			if r.world.Remove(entry.ActorID) {
				r.timers.ClearActor(entry.ActorID)
				r.logger.DebugContext(ctx, "replica: despawn", "actorID", entry.ActorID)
			}
		default:
			r.logger.WarnContext(ctx, "replica: unknown op", "op", entry.Op, "actorID", entry.ActorID)
		}
	}
	return errors.Join(errs...)
}

func (r *ReplicaWorld) spawn(ctx context.Context, entry *domain.ReplicationEntry) error {
	if _, ok := r.world.Actor(entry.ActorID); ok {
		r.update(ctx, entry)
		return nil
	}

	role := r.roleFor(entry)
	var actor ReplicaActor
	switch entry.Class {
	case domain.ActorClassCharacter:
		c := NewCharacter(entry.ActorID, role, Vector3{}, r.cfg)
		if entry.Owned() {
			c.Possess(r.session)
		}
		c.OnRepB = func(b int32) {
			r.logger.InfoContext(ctx, fmt.Sprintf("B was changed by the server and is now %d", b), "actorID", c.ID())
		}
		actor = c
	case domain.ActorClassProximityOwner:
		actor = NewProximityOwner(entry.ActorID, role, Vector3{}, 0)
	default:
		return fmt.Errorf("spawn actor %d class %d: %w", entry.ActorID, entry.Class, ErrUnknownActorClass)
	}

	r.applyFields(ctx, entry.Class, actor, entry.Fields)
	if err := r.world.Add(actor); err != nil {
		return err
	}
	r.logger.DebugContext(ctx, "replica: spawn", "actorID", entry.ActorID, "class", entry.Class, "role", role)
	return nil
}

func (r *ReplicaWorld) update(ctx context.Context, entry *domain.ReplicationEntry) {
	actor, ok := r.world.Actor(entry.ActorID)
	if !ok {
		r.logger.WarnContext(ctx, "replica: update for unknown actor", "actorID", entry.ActorID)
		r.resyncNeeded = true
		return
	}
	role := r.roleFor(entry)
	if actor.Role() != role {
		if s, ok := actor.(roleSetter); ok {
			s.SetRole(role)
		}
		if c, ok := actor.(*Character); ok {
			if entry.Owned() {
				c.Possess(r.session)
			} else {
				c.UnPossess()
			}
		}
	}
	if rep, ok := actor.(ReplicaActor); ok {
		r.applyFields(ctx, entry.Class, rep, entry.Fields)
	}
}

func (r *ReplicaWorld) applyFields(ctx context.Context, class domain.ActorClass, actor ReplicaActor, fields []domain.FieldUpdate) {
	for _, f := range fields {
		d, ok := lookupField(class, f.ID)
		if !ok {
			r.logger.DebugContext(ctx, "replica: unknown field", "actorID", actor.ID(), "fieldID", f.ID)
			continue
		}
		actor.ApplyReplicatedField(FieldValue{FieldDescriptor: d, Bits: f.Bits})
	}
}

func (r *ReplicaWorld) roleFor(entry *domain.ReplicationEntry) NetRole {
	if entry.Class == domain.ActorClassCharacter && entry.Owned() {
		return RoleAutonomousProxy
	}
	return RoleSimulatedProxy
}

// Frame はreplica用の1ステップ分のコンテキストを作ります。
func (r *ReplicaWorld) Frame(debug DebugSink, rpc RPCSink, cosmetics Cosmetics) *Frame {
	return &Frame{
		Delta:     r.clock.Delta(),
		World:     r.world,
		Timers:    r.timers,
		Debug:     debug,
		RPC:       rpc,
		Cosmetics: cosmetics,
	}
}

// Step は時計を進めてreplicaの全アクターをTickします。
func (r *ReplicaWorld) Step(debug DebugSink, rpc RPCSink, cosmetics Cosmetics) *Frame {
	r.clock.Advance()
	f := r.Frame(debug, rpc, cosmetics)
	r.world.Step(f)
	return f
}

// HandleRPC はサーバーからのBroadcast/Directedを該当アクターで再生します。
func (r *ReplicaWorld) HandleRPC(ctx context.Context, f *Frame, subType domain.RPCSubType, data []byte) error {
	switch subType {
	case domain.RPCSubTypeBroadcast:
		b, err := domain.ParseRPCBroadcast(data)
		if err != nil {
			return err
		}
		c, ok := r.world.Character(b.ActorID)
		if !ok {
			r.logger.DebugContext(ctx, "replica: broadcast for unknown actor", "actorID", b.ActorID)
			return nil
		}
		if Event(b.Event) == EventPlayFireAnimation {
			c.PlayFireAnimation(f)
		}
	case domain.RPCSubTypeDirected:
		d, err := domain.ParseRPCDirected(data)
		if err != nil {
			return err
		}
		c, ok := r.world.Character(d.ActorID)
		if !ok {
			r.logger.DebugContext(ctx, "replica: directed rpc for unknown actor", "actorID", d.ActorID)
			return nil
		}
		if Event(d.Event) == EventPlayNoAmmoCue {
			c.PlayNoAmmoCue(f, d.Arg)
		}
	default:
		r.logger.WarnContext(ctx, "replica: unexpected rpc subtype", "subType", subType)
	}
	return nil
}
