package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"multiplayer/server/domain"
	"multiplayer/utils"
)

var ErrNonFiniteInput = errors.New("non-finite input axis")

// Config はMultiplayerApplicationの設定です。
type Config struct {
	TickInterval    time.Duration
	Character       CharacterConfig
	SpawnPoints     []Vector3 // 参加順に巡回して使う。空なら原点
	ProximityActors []Vector3
	OwnershipRadius float32
	DebugOverlay    bool // trueならデバッグラベルをクライアントへ送る
}

func DefaultConfig() Config {
	return Config{
		TickInterval:    domain.DefaultTickInterval,
		Character:       DefaultCharacterConfig(),
		OwnershipRadius: DefaultOwnershipRadius,
	}
}

// InputEvent は1つの入力イベントを表す
type InputEvent struct {
	SessionID domain.SessionID
	Header    *domain.Header
	Input     *domain.InputPayload
}

// RequestEvent はクライアントからのRPC要求です。
type RequestEvent struct {
	SessionID domain.SessionID
	Request   Request
}

// MultiplayerApplication はルームのゲームロジックです。
// 入力とRPC要求はHandleMessageでキューし、Tickでまとめて適用します。
type MultiplayerApplication struct {
	cfg        Config
	clock      *SimClock
	timers     *Timers
	world      *World
	replicator *Replicator
	rpc        *RPCOutbox
	debug      *DebugOverlay
	cosmetics  Cosmetics

	possessed map[domain.SessionID]domain.ActorID
	bindings  map[domain.ActorID]*InputBindings

	// セッションごとの最新の入力。置き換えられるまで毎tick1回適用する
	inputs          map[domain.SessionID]InputEvent
	pendingRequests []RequestEvent

	seq   uint16
	spawn int
}

func NewMultiplayerApplication(ctx context.Context, cfg Config) *MultiplayerApplication {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = domain.DefaultTickInterval
	}
	clock := NewSimClock(cfg.TickInterval)
	app := &MultiplayerApplication{
		cfg:             cfg,
		clock:           clock,
		timers:          NewTimers(clock),
		world:           NewWorld(),
		replicator:      NewReplicator(),
		rpc:             &RPCOutbox{},
		debug:           NewDebugOverlay(),
		cosmetics:       NewLogCosmetics(ctx, slog.Default()),
		possessed:       make(map[domain.SessionID]domain.ActorID),
		bindings:        make(map[domain.ActorID]*InputBindings),
		inputs:          make(map[domain.SessionID]InputEvent),
		pendingRequests: make([]RequestEvent, 0),
	}
	for _, loc := range cfg.ProximityActors {
		app.SpawnProximityOwner(loc, cfg.OwnershipRadius)
	}
	return app
}

func (app *MultiplayerApplication) World() *World   { return app.world }
func (app *MultiplayerApplication) Timers() *Timers { return app.timers }
func (app *MultiplayerApplication) Clock() *SimClock {
	return app.clock
}

// Possessed はセッションが操作しているキャラクターのIDを返します。
func (app *MultiplayerApplication) Possessed(sessionID domain.SessionID) (domain.ActorID, bool) {
	id, ok := app.possessed[sessionID]
	return id, ok
}

// SpawnProximityOwner はauthorityのProximityOwnerを配置します。
func (app *MultiplayerApplication) SpawnProximityOwner(location Vector3, radius float32) *ProximityOwner {
	p := NewProximityOwner(app.world.AllocateID(), RoleAuthority, location, radius)
	// AllocateIDで払い出したIDは未使用
	_ = app.world.Add(p)
	return p
}

func (app *MultiplayerApplication) HandleMessage(ctx context.Context, sessionID domain.SessionID, data []byte) error {
	packet, err := domain.ParsePacket(data)
	if err != nil {
		return err
	}

	switch packet.PayloadHeader.DataType {
	case domain.DataTypeInput:
		return app.handleInput(ctx, sessionID, packet.Header, packet.Payload)
	case domain.DataTypeRPC:
		return app.handleRPC(ctx, sessionID, packet.PayloadHeader.SubType, packet.Payload)
	case domain.DataTypeControl:
		return app.handleControl(ctx, sessionID, packet.PayloadHeader.SubType)
	default:
		slog.WarnContext(ctx, "unknown data type", "dataType", packet.PayloadHeader.DataType)
		return nil
	}
}

func (app *MultiplayerApplication) handleInput(ctx context.Context, sessionID domain.SessionID, header *domain.Header, data []byte) error {
	input, err := domain.ParseInputPayload(data)
	if err != nil {
		return err
	}
	if !utils.FiniteInput(input) {
		return ErrNonFiniteInput
	}

	slog.DebugContext(ctx, "handleInput",
		"sessionID", sessionID,
		"seq", header.Seq,
	)

	app.inputs[sessionID] = InputEvent{
		SessionID: sessionID,
		Header:    header,
		Input:     input,
	}
	return nil
}

func (app *MultiplayerApplication) handleRPC(ctx context.Context, sessionID domain.SessionID, subType uint8, data []byte) error {
	switch domain.RPCSubType(subType) {
	case domain.RPCSubTypeRequest:
		req, err := domain.ParseRPCRequest(data)
		if err != nil {
			return err
		}
		app.pendingRequests = append(app.pendingRequests, RequestEvent{
			SessionID: sessionID,
			Request:   Request{Actor: req.ActorID, Action: Action(req.Action)},
		})
	case domain.RPCSubTypeBroadcast, domain.RPCSubTypeDirected:
		// サーバー発のRPCをクライアントから受け付けない
		slog.WarnContext(ctx, "handleRPC: client sent server rpc", "sessionID", sessionID, "subType", subType)
	default:
		slog.WarnContext(ctx, "unknown rpc subtype", "subType", subType)
	}
	return nil
}

func (app *MultiplayerApplication) handleControl(ctx context.Context, sessionID domain.SessionID, subType uint8) error {
	switch domain.ControlSubType(subType) {
	case domain.ControlSubTypeJoin:
		slog.DebugContext(ctx, "handleControl:join", "sessionID", sessionID)
		app.join(ctx, sessionID)
	case domain.ControlSubTypeLeave:
		slog.DebugContext(ctx, "handleControl:leave", "sessionID", sessionID)
		app.leave(ctx, sessionID)
	case domain.ControlSubTypeResync:
		if app.replicator.ResetObserver(sessionID) {
			slog.InfoContext(ctx, "handleControl:resync", "sessionID", sessionID)
		}
	default:
		slog.DebugContext(ctx, "handleControl: ignored", "sessionID", sessionID, "subType", subType)
	}
	return nil
}

// join は参加したセッションにキャラクターを生成して操作権を与えます。
func (app *MultiplayerApplication) join(ctx context.Context, sessionID domain.SessionID) {
	if _, ok := app.possessed[sessionID]; ok {
		return
	}
	c := NewCharacter(app.world.AllocateID(), RoleAuthority, app.nextSpawnPoint(), app.cfg.Character)
	c.Possess(sessionID)
	_ = app.world.Add(c)

	bindings := NewInputBindings()
	c.SetupInput(bindings)
	app.bindings[c.ID()] = bindings
	app.possessed[sessionID] = c.ID()
	app.replicator.AddObserver(sessionID)

	slog.InfoContext(ctx, "character spawned", "sessionID", sessionID, "actorID", c.ID(), "location", c.Location())
}

func (app *MultiplayerApplication) leave(ctx context.Context, sessionID domain.SessionID) {
	app.replicator.RemoveObserver(sessionID)
	id, ok := app.possessed[sessionID]
	if !ok {
		return
	}
	delete(app.possessed, sessionID)
	delete(app.bindings, id)
	delete(app.inputs, sessionID)
	app.world.Remove(id)
	app.timers.ClearActor(id)

	slog.InfoContext(ctx, "character despawned", "sessionID", sessionID, "actorID", id)
}

func (app *MultiplayerApplication) nextSpawnPoint() Vector3 {
	if len(app.cfg.SpawnPoints) == 0 {
		return Vector3{}
	}
	p := app.cfg.SpawnPoints[app.spawn%len(app.cfg.SpawnPoints)]
	app.spawn++
	return p
}

func (app *MultiplayerApplication) nextSeq() uint16 {
	app.seq++
	return app.seq
}

func (app *MultiplayerApplication) frame() *Frame {
	return &Frame{
		Delta:     app.clock.Delta(),
		World:     app.world,
		Timers:    app.timers,
		Debug:     app.debug,
		RPC:       app.rpc,
		Cosmetics: app.cosmetics,
	}
}

// Tick は1ステップ分シミュレーションを進め、送信データを返します。
func (app *MultiplayerApplication) Tick(ctx context.Context) []domain.Envelope {
	app.clock.Advance()
	app.debug.Reset()
	app.rpc.Reset()
	f := app.frame()

	for sessionID, ev := range app.inputs {
		id, ok := app.possessed[sessionID]
		if !ok {
			delete(app.inputs, sessionID)
			continue
		}
		app.bindings[id].DispatchPayload(ctx, f, ev.Input)
	}

	for _, ev := range app.pendingRequests {
		app.executeRequest(ctx, f, ev)
	}
	app.pendingRequests = app.pendingRequests[:0]

	app.world.Step(f)

	envelopes := app.rpc.ServerEnvelopes(app.nextSeq)
	for _, op := range app.replicator.Build(app.world) {
		data, err := domain.EncodeDataMessage(op.Observer, app.nextSeq(), domain.DataTypeReplication, op.SubType(), op.Payload.Encode())
		if err != nil {
			// 送れなかった差分は全量で送り直す
			slog.ErrorContext(ctx, "replication dropped", "sessionID", op.Observer, "entries", len(op.Payload.Entries), "err", err)
			app.replicator.ResetObserver(op.Observer)
			continue
		}
		envelopes = append(envelopes, domain.Envelope{Target: op.Observer, Data: data})
	}

	app.debug.Log(ctx)
	if app.cfg.DebugOverlay && app.replicator.ObserverCount() > 0 {
		data, err := domain.EncodeDataMessage("", app.nextSeq(), domain.DataTypeDebug, domain.DebugSubTypeOverlay, app.debug.Payload().Encode())
		if err != nil {
			slog.WarnContext(ctx, "debug overlay dropped", "labels", len(app.debug.Labels()), "err", err)
		} else {
			envelopes = append(envelopes, domain.Envelope{Data: data})
		}
	}
	return envelopes
}

// executeRequest は要求元が操作しているアクターに対してのみ実行します。
func (app *MultiplayerApplication) executeRequest(ctx context.Context, f *Frame, ev RequestEvent) {
	c, ok := app.world.Character(ev.Request.Actor)
	if !ok || !c.IsPossessedBy(ev.SessionID) {
		slog.WarnContext(ctx, "rpc request for actor not controlled by sender",
			"sessionID", ev.SessionID,
			"actorID", ev.Request.Actor,
		)
		return
	}
	switch ev.Request.Action {
	case ActionFire:
		result := c.ExecuteFire(f)
		slog.DebugContext(ctx, "executeFire", "actorID", c.ID(), "result", result, "ammo", c.Ammo())
	default:
		slog.WarnContext(ctx, "unknown rpc action", "action", ev.Request.Action)
	}
}
