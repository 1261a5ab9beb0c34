package domain

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"
)

var ErrRoomBusy = errors.New("room control channel is full")

const DefaultTickInterval = time.Second / 60

type roomSendKind uint8

const (
	roomSendBroadcast roomSendKind = iota + 1
	roomSendTo
)

type roomSend struct {
	kind      roomSendKind
	sessionID SessionID
	data      []byte
}

type Room struct {
	ID       RoomID
	sessions map[SessionID]struct{}
	// sessionsの件数。ヘルスチェックなど他のgoroutineから読むために別に持つ
	sessionCount atomic.Int64

	pubsub      PubSub
	application Application // 外部からアプリケーションロジックを注入できる

	sendCh chan roomSend
	// このstepで送信が破棄されたセッション。次のTickの前に再同期を要求する
	dropped map[SessionID]struct{}

	tickInterval time.Duration
}

func NewRoom(id RoomID, pubsub PubSub, application Application, tickInterval time.Duration) *Room {
	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}
	return &Room{
		ID:           id,
		sessions:     make(map[SessionID]struct{}),
		pubsub:       pubsub,
		application:  application,
		sendCh:       make(chan roomSend, 1024),
		dropped:      make(map[SessionID]struct{}),
		tickInterval: tickInterval,
	}
}

func (r *Room) Broadcast(ctx context.Context, data []byte) {
	for sessionID := range r.sessions {
		r.publish(ctx, sessionID, data)
	}
}

func (r *Room) SendTo(ctx context.Context, sessionID SessionID, data []byte) {
	if _, ok := r.sessions[sessionID]; !ok {
		slog.DebugContext(ctx, "room: send to session not in room", "roomID", r.ID, "sessionID", sessionID)
		return
	}
	r.publish(ctx, sessionID, data)
}

func (r *Room) publish(ctx context.Context, sessionID SessionID, data []byte) {
	if err := r.pubsub.Publish(ctx, SessionTopic(sessionID), Message{Data: data}); err != nil {
		r.dropped[sessionID] = struct{}{}
	}
}

func (r *Room) EnqueueBroadcast(ctx context.Context, data []byte) error {
	return r.enqueueSend(ctx, roomSend{kind: roomSendBroadcast, data: data})
}

func (r *Room) EnqueueSendTo(ctx context.Context, sessionID SessionID, data []byte) error {
	return r.enqueueSend(ctx, roomSend{kind: roomSendTo, sessionID: sessionID, data: data})
}

func (r *Room) enqueueSend(ctx context.Context, msg roomSend) error {
	select {
	case <-ctx.Done():
		return nil
	case r.sendCh <- msg:
		return nil
	default:
		return ErrRoomBusy
	}
}

// SessionCount はルームに参加中のセッション数を返します。
func (r *Room) SessionCount() int { return int(r.sessionCount.Load()) }

func (r *Room) Run(ctx context.Context) error {
	// room宛のメッセージを購読
	roomTopic := RoomTopic(r.ID)
	msgCh := r.pubsub.Subscribe(roomTopic)
	defer r.pubsub.Unsubscribe(roomTopic, msgCh)

	// room制御用トピックを購読（切断時のleave）
	ctrlTopic := RoomCtrlTopic(r.ID)
	ctrlCh := r.pubsub.Subscribe(ctrlTopic)
	defer r.pubsub.Unsubscribe(ctrlTopic, ctrlCh)

	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "room started", "roomID", r.ID, "tickInterval", r.tickInterval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.step(ctx, ctrlCh, msgCh)
		}
	}
}

// step は1tick分の処理を行います。
func (r *Room) step(ctx context.Context, ctrlCh, msgCh <-chan Message) {
	// 制御メッセージを処理
CTRL_LOOP:
	for {
		select {
		case msg, ok := <-ctrlCh:
			if !ok {
				break CTRL_LOOP
			}
			r.handleMessage(ctx, msg)
		default:
			break CTRL_LOOP
		}
	}
	// 受信メッセージを処理
RECEIVE_LOOP:
	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				break RECEIVE_LOOP
			}
			r.handleMessage(ctx, msg)
		default:
			break RECEIVE_LOOP
		}
	}
	// 前のtickでキューされた送信データを送る
SEND_LOOP:
	for {
		select {
		case msg := <-r.sendCh:
			r.handleSendMessage(ctx, msg)
		default:
			break SEND_LOOP
		}
	}
	if r.application == nil {
		return
	}
	r.resyncDropped(ctx)

	// Tickの結果は次のstepで送る
	for _, env := range r.application.Tick(ctx) {
		if env.Target.IsEmpty() {
			if err := r.EnqueueBroadcast(ctx, env.Data); err != nil {
				slog.WarnContext(ctx, "room: broadcast dropped", "roomID", r.ID, "err", err)
				for sessionID := range r.sessions {
					r.dropped[sessionID] = struct{}{}
				}
			}
			continue
		}
		if err := r.EnqueueSendTo(ctx, env.Target, env.Data); err != nil {
			slog.WarnContext(ctx, "room: send dropped", "roomID", r.ID, "sessionID", env.Target, "err", err)
			r.dropped[env.Target] = struct{}{}
		}
	}
	r.resyncDropped(ctx)
}

// resyncDropped は送信が欠けたセッションの再同期をアプリケーションに要求します。
func (r *Room) resyncDropped(ctx context.Context) {
	if len(r.dropped) == 0 {
		return
	}
	ids := make([]SessionID, 0, len(r.dropped))
	for sessionID := range r.dropped {
		ids = append(ids, sessionID)
	}
	clear(r.dropped)
	slices.Sort(ids)

	for _, sessionID := range ids {
		if _, ok := r.sessions[sessionID]; !ok {
			continue
		}
		slog.WarnContext(ctx, "room: delivery dropped, requesting resync", "roomID", r.ID, "sessionID", sessionID)
		if err := r.application.HandleMessage(ctx, sessionID, EncodeResyncMessage(sessionID)); err != nil {
			slog.WarnContext(ctx, "room: resync failed", "err", err, "sessionID", sessionID)
		}
	}
}

// handleMessage はjoin/leaveでsessionsを更新した上でアプリケーションに渡します。
func (r *Room) handleMessage(ctx context.Context, msg Message) {
	if payloadHeader, err := ParsePayloadHeader(msg.Data[min(HeaderSize, len(msg.Data)):]); err == nil &&
		payloadHeader.DataType == DataTypeControl {
		switch ControlSubType(payloadHeader.SubType) {
		case ControlSubTypeJoin:
			r.sessions[msg.SessionID] = struct{}{}
			r.sessionCount.Store(int64(len(r.sessions)))
			slog.DebugContext(ctx, "room: session joined", "roomID", r.ID, "sessionID", msg.SessionID)
		case ControlSubTypeLeave:
			if _, ok := r.sessions[msg.SessionID]; !ok {
				return
			}
			delete(r.sessions, msg.SessionID)
			r.sessionCount.Store(int64(len(r.sessions)))
			slog.DebugContext(ctx, "room: session left", "roomID", r.ID, "sessionID", msg.SessionID)
		}
	}
	if r.application == nil {
		return
	}
	if err := r.application.HandleMessage(ctx, msg.SessionID, msg.Data); err != nil {
		slog.WarnContext(ctx, "room handle message failed", "err", err, "sessionID", msg.SessionID)
	}
}

func (r *Room) handleSendMessage(ctx context.Context, msg roomSend) {
	switch msg.kind {
	case roomSendBroadcast:
		r.Broadcast(ctx, msg.data)
	case roomSendTo:
		r.SendTo(ctx, msg.sessionID, msg.data)
	default:
	}
}
