package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrBackpressure は書き込みチャネルが満杯の場合に返されるエラーです。
	ErrBackpressure = errors.New("write channel is full, apply backpressure")
	// ErrInitializationFailed はセッションエンドポイントの初期化に失敗した場合に返されるエラーです。
	ErrInitializationFailed = errors.New("failed to initialize session endpoint")
	// ErrSessionIdle はセッションが一定時間無通信だった場合の終了理由です。
	ErrSessionIdle = errors.New("session idle")
)

// EndpointOptions はSessionEndpointの動作パラメータです。
type EndpointOptions struct {
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
}

func DefaultEndpointOptions() EndpointOptions {
	return EndpointOptions{
		HeartbeatInterval: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
}

type SessionEndpoint struct {
	ctx    context.Context
	cancel context.CancelFunc

	session     *Session
	connection  *Connection
	pubsub      PubSub
	roomManager RoomManager
	options     EndpointOptions

	roomMu sync.Mutex
	roomID RoomID // joinで決定される

	ctrlCh  chan endpointEvent // 制御用チャネル
	writeCh chan []byte        // 書き込み用チャネル

	// lifecycle
	closed atomic.Bool
}

func NewSessionEndpoint(session *Session, connection *Connection, pubsub PubSub, roomManager RoomManager, options EndpointOptions) (*SessionEndpoint, error) {
	if session == nil || connection == nil || pubsub == nil || roomManager == nil {
		return nil, ErrInitializationFailed
	}
	ctx, cancel := context.WithCancel(context.Background())
	se := &SessionEndpoint{
		ctx:         ctx,
		cancel:      cancel,
		session:     session,
		connection:  connection,
		pubsub:      pubsub,
		roomManager: roomManager,
		options:     options,
		ctrlCh:      make(chan endpointEvent, 16),
		writeCh:     make(chan []byte, 1024),
	}
	return se, nil
}

func (se *SessionEndpoint) Run() error {
	// 自分宛のメッセージを購読
	sessionTopic := SessionTopic(se.session.ID())
	msgCh := se.pubsub.Subscribe(sessionTopic)
	defer se.pubsub.Unsubscribe(sessionTopic, msgCh)

	heartbeat := NewHeartbeatService(se.options.HeartbeatInterval, se.session, se.writeCh)

	eg, ctx := errgroup.WithContext(se.ctx)
	eg.Go(func() error {
		se.ownerLoop(ctx)
		return nil
	})
	eg.Go(func() error {
		se.readLoop(ctx)
		return nil
	})
	eg.Go(func() error {
		se.writeLoop(ctx)
		return nil
	})
	eg.Go(func() error {
		se.subscribeLoop(ctx, msgCh)
		return nil
	})
	eg.Go(func() error {
		heartbeat.Run(ctx)
		return nil
	})

	// セッションID通知を送信
	if err := se.Send(EncodeAssignMessage(se.session.ID())); err != nil {
		se.close(CloseGoingAway, "backpressure")
		_ = eg.Wait()
		return fmt.Errorf("send assign: %w", err)
	}

	return eg.Wait()
}

func (se *SessionEndpoint) Send(data []byte) error {
	select {
	case se.writeCh <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (se *SessionEndpoint) Close(ctx context.Context) {
	se.sendCtrlEvent(ctx, endpointEvent{kind: evClose})
}

func (se *SessionEndpoint) ForceClose() {
	se.close(CloseNormal, "")
}

// RoomID は参加中のルームIDを返します。未参加の場合はゼロ値です。
func (se *SessionEndpoint) RoomID() RoomID {
	se.roomMu.Lock()
	defer se.roomMu.Unlock()
	return se.roomID
}

func (se *SessionEndpoint) setRoomID(roomID RoomID) {
	se.roomMu.Lock()
	se.roomID = roomID
	se.roomMu.Unlock()
}

// ownerLoop は論理セッションの状態を監視し、必要に応じて接続の管理を行います。
func (se *SessionEndpoint) ownerLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-se.ctrlCh:
			se.handleControlEvent(ctx, ev)
		case <-ticker.C:
			ok, reason := se.session.IsIdle(se.options.IdleTimeout)
			if ok {
				se.handleControlEvent(ctx, endpointEvent{
					kind: evClose,
					err:  fmt.Errorf("%w: %s", ErrSessionIdle, reason),
				})
			}
		}
	}
}

func (se *SessionEndpoint) readLoop(ctx context.Context) {
	for {
		data, err := se.connection.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				se.sendCtrlEvent(ctx, endpointEvent{kind: evReadError, err: err})
			}
			return
		}
		se.handleData(ctx, data)
	}
}

func (se *SessionEndpoint) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-se.writeCh:
			if err := se.connection.Write(ctx, data); err != nil {
				if ctx.Err() == nil {
					se.sendCtrlEvent(ctx, endpointEvent{kind: evWriteError, err: err})
				}
				return
			}
		}
	}
}

// subscribeLoop はpubsubからのメッセージをwriteChに転送します。
// 破棄が起きたら、破棄が続いている間に1回だけルームへ再同期を要求します。
func (se *SessionEndpoint) subscribeLoop(ctx context.Context, msgCh <-chan Message) {
	dropping := false
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			select {
			case se.writeCh <- msg.Data:
				dropping = false
			default:
				slog.WarnContext(ctx, "subscribeLoop: writeCh full, message dropped", "sessionID", se.session.ID())
				if !dropping {
					se.requestResync(ctx)
				}
				dropping = true
			}
		}
	}
}

// requestResync は参加中のルームにレプリケーションの再同期を要求します。
func (se *SessionEndpoint) requestResync(ctx context.Context) {
	roomID := se.RoomID()
	if roomID.IsEmpty() {
		return
	}
	if err := se.pubsub.Publish(ctx, RoomCtrlTopic(roomID), Message{
		SessionID: se.session.ID(),
		Data:      EncodeResyncMessage(se.session.ID()),
	}); err != nil {
		slog.WarnContext(ctx, "resync request dropped", "sessionID", se.session.ID(), "err", err)
	}
}

func (se *SessionEndpoint) close(code int32, reason string) {
	if !se.closed.CompareAndSwap(false, true) {
		return
	}
	// ルーム参加中ならleaveを通知する（異常切断でもキャラクターが残らないように）
	if roomID := se.RoomID(); !roomID.IsEmpty() {
		if err := se.pubsub.Publish(se.ctx, RoomCtrlTopic(roomID), Message{
			SessionID: se.session.ID(),
			Data:      EncodeLeaveMessage(se.session.ID()),
		}); err != nil {
			slog.WarnContext(se.ctx, "leave notification dropped", "sessionID", se.session.ID(), "roomID", roomID, "err", err)
		}
		se.setRoomID(RoomID{})
	}
	se.roomManager.Release(se.session.ID())
	se.cancel()
	se.session.Close()
	se.connection.Close(code, reason)
}

func (se *SessionEndpoint) handleData(ctx context.Context, data []byte) {
	packet, err := ParsePacket(data)
	if err != nil {
		slog.WarnContext(ctx, "failed to parse packet", "err", err)
		return
	}
	if packet.Header.SessionID != se.session.ID().Bytes() {
		slog.WarnContext(ctx, "session ID mismatch", "expected", se.session.ID(), "got", SessionIDFromBytes(packet.Header.SessionID))
		return
	}

	switch packet.PayloadHeader.DataType {
	case DataTypeControl:
		se.handleControlMessage(ctx, ControlSubType(packet.PayloadHeader.SubType), packet, data)
	case DataTypeInput, DataTypeRPC:
		// データメッセージをroom topicに転送
		roomID := se.RoomID()
		if roomID.IsEmpty() {
			slog.WarnContext(ctx, "received data message before joining a room", "sessionID", se.session.ID())
			return
		}
		if err := se.pubsub.Publish(ctx, RoomTopic(roomID), Message{
			SessionID: se.session.ID(),
			Data:      data,
		}); err != nil {
			slog.DebugContext(ctx, "data message dropped", "sessionID", se.session.ID(), "err", err)
		}
	default:
		// replication/debug はサーバーからのみ送信される
		slog.WarnContext(ctx, "unexpected data type from client", "dataType", packet.PayloadHeader.DataType, "sessionID", se.session.ID())
	}
}

func (se *SessionEndpoint) handleControlMessage(ctx context.Context, subType ControlSubType, packet *Packet, data []byte) {
	switch subType {
	case ControlSubTypeJoin:
		if !se.RoomID().IsEmpty() {
			slog.WarnContext(ctx, "session already in a room", "sessionID", se.session.ID(), "roomID", se.RoomID())
			return
		}
		payload, err := ParseJoinPayload(packet.Payload)
		if err != nil {
			slog.WarnContext(ctx, "failed to parse join message", "err", err)
			return
		}
		roomID := payload.RoomID
		// RoomIDが空の場合、RoomManagerからデフォルトルームを取得
		if roomID.IsEmpty() {
			defaultRoomID, err := se.roomManager.GetRoom(ctx, se.session.ID())
			if err != nil {
				slog.ErrorContext(ctx, "failed to get default room", "err", err)
				return
			}
			roomID = defaultRoomID
			slog.DebugContext(ctx, "auto-assigned room", "sessionID", se.session.ID(), "roomID", roomID)
		}
		if err := se.pubsub.Publish(ctx, RoomTopic(roomID), Message{SessionID: se.session.ID(), Data: data}); err != nil {
			slog.ErrorContext(ctx, "failed to deliver join", "sessionID", se.session.ID(), "roomID", roomID, "err", err)
			return
		}
		se.setRoomID(roomID)
		slog.InfoContext(ctx, "session joined room", "sessionID", se.session.ID(), "roomID", roomID)
	case ControlSubTypeLeave:
		roomID := se.RoomID()
		if roomID.IsEmpty() {
			slog.WarnContext(ctx, "session not in any room, cannot leave", "sessionID", se.session.ID())
			return
		}
		if err := se.pubsub.Publish(ctx, RoomTopic(roomID), Message{SessionID: se.session.ID(), Data: data}); err != nil {
			slog.WarnContext(ctx, "leave dropped", "sessionID", se.session.ID(), "roomID", roomID, "err", err)
		}
		slog.InfoContext(ctx, "session left room", "sessionID", se.session.ID(), "roomID", roomID)
		se.setRoomID(RoomID{})
	case ControlSubTypeResync:
		se.requestResync(ctx)
	case ControlSubTypePong:
		se.sendCtrlEvent(ctx, endpointEvent{kind: evPong})
	default:
		slog.WarnContext(ctx, "unexpected control subtype from client", "subType", subType)
	}
}

// handleControlEvent は制御チャネルからのイベントを処理し論理セッションの状態を更新する唯一の関数です。
func (se *SessionEndpoint) handleControlEvent(ctx context.Context, ev endpointEvent) {
	switch ev.kind {
	case evClose:
		if ev.err != nil {
			slog.InfoContext(ctx, "closing session", "sessionID", se.session.ID(), "reason", ev.err)
			se.close(CloseGoingAway, ev.err.Error())
			return
		}
		se.close(CloseNormal, "")
	case evPong:
		se.session.TouchPong()
	case evReadError, evWriteError:
		slog.DebugContext(ctx, "connection error", "sessionID", se.session.ID(), "kind", ev.kind, "err", ev.err)
		se.close(CloseGoingAway, ev.kind.String())
	default:
		slog.WarnContext(ctx, "unknown endpoint event kind", "kind", ev.kind)
	}
}

func (se *SessionEndpoint) sendCtrlEvent(ctx context.Context, ev endpointEvent) {
	select {
	case se.ctrlCh <- ev:
	case <-ctx.Done():
	}
}
