package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"multiplayer/internal/config"
	"multiplayer/internal/logging"
	"multiplayer/server/application"
	"multiplayer/server/domain"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadBot()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "err", err)
		os.Exit(1)
	}
	logger, shutdownLogging, err := logging.New(ctx, logging.Options{
		ServiceName: "multiplayer-bot",
		Level:       cfg.LogLevel,
		Writer:      os.Stdout,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to set up logging", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)
	defer shutdownLogging(context.Background())

	slog.Info("starting bots", "count", cfg.BotCount, "server", cfg.URL())

	var wg sync.WaitGroup
	for i := range cfg.BotCount {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runBot(ctx, cfg, id)
		}(i)
	}

	wg.Wait()
	slog.Info("all bots stopped")
}

func runBot(ctx context.Context, cfg config.Bot, id int) {
	logger := slog.With("botID", id)

	for {
		if ctx.Err() != nil {
			return
		}
		err := botSession(ctx, cfg, logger)
		if err != nil && ctx.Err() == nil {
			logger.Warn("bot session ended, reconnecting", "err", err)
			time.Sleep(2 * time.Second)
		}
	}
}

// bot は1接続分のボットの状態です。replicaへのアクセスはmuで保護します。
type bot struct {
	conn       *websocket.Conn
	logger     *slog.Logger
	controller *application.RuleBotController
	cosmetics  application.Cosmetics

	mu      sync.Mutex
	replica *application.ReplicaWorld
	joined  bool

	seq atomic.Uint32
}

func (b *bot) nextSeq() uint16 { return uint16(b.seq.Add(1)) }

func (b *bot) session() domain.SessionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.replica.Session()
}

func botSession(ctx context.Context, cfg config.Bot, logger *slog.Logger) error {
	conn, _, err := websocket.Dial(ctx, cfg.URL(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()

	logger.Info("connected")

	b := &bot{
		conn:       conn,
		logger:     logger,
		controller: application.NewRuleBotController(cfg.FireChance),
		cosmetics:  application.NewLogCosmetics(ctx, logger),
		replica:    application.NewReplicaWorld("", cfg.TickInterval(), application.DefaultCharacterConfig(), logger),
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return b.receiveLoop(ctx) })
	eg.Go(func() error { return b.decideLoop(ctx, cfg.TickInterval()) })
	err = eg.Wait()
	if errors.Is(err, context.Canceled) {
		conn.Close(websocket.StatusNormalClosure, "shutdown")
		return nil
	}
	return err
}

// receiveLoop はサーバーからのメッセージをreplicaに反映します。
func (b *bot) receiveLoop(ctx context.Context) error {
	for {
		_, data, err := b.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}

		packet, err := domain.ParsePacket(data)
		if err != nil {
			b.logger.Debug("dropping malformed packet", "err", err)
			continue
		}
		if err := b.handlePacket(ctx, packet); err != nil {
			return err
		}
	}
}

func (b *bot) handlePacket(ctx context.Context, packet *domain.Packet) error {
	switch packet.PayloadHeader.DataType {
	case domain.DataTypeControl:
		return b.handleControl(ctx, packet)
	case domain.DataTypeReplication:
		b.mu.Lock()
		err := b.replica.ApplyMessage(ctx, packet.PayloadHeader.SubType, packet.Payload)
		resync := b.replica.TakeResyncRequest()
		sessionID := b.replica.Session()
		b.mu.Unlock()
		if err != nil {
			b.logger.Warn("replication apply failed", "err", err)
		}
		if resync {
			b.logger.Info("requesting full replication")
			if err := b.write(ctx, domain.EncodeResyncMessage(sessionID)); err != nil {
				return fmt.Errorf("send resync: %w", err)
			}
		}
	case domain.DataTypeRPC:
		b.mu.Lock()
		f := b.replica.Frame(nil, nil, b.cosmetics)
		err := b.replica.HandleRPC(ctx, f, domain.RPCSubType(packet.PayloadHeader.SubType), packet.Payload)
		b.mu.Unlock()
		if err != nil {
			b.logger.Warn("invalid rpc payload", "err", err)
		}
	case domain.DataTypeDebug:
		overlay, err := domain.ParseDebugPayload(packet.Payload)
		if err != nil {
			return nil
		}
		for _, l := range overlay.Labels {
			b.logger.Debug("debug label", "actorID", l.ActorID, "text", l.Text)
		}
	}
	return nil
}

func (b *bot) handleControl(ctx context.Context, packet *domain.Packet) error {
	switch domain.ControlSubType(packet.PayloadHeader.SubType) {
	case domain.ControlSubTypeAssign:
		sessionID := domain.SessionIDFromBytes(packet.Header.SessionID)
		b.mu.Lock()
		b.replica.SetSession(sessionID)
		b.mu.Unlock()
		b.logger.Info("session assigned", "sessionID", sessionID)

		// Join送信 (ルームIDはゼロ値でサーバー側の自動割り当て)
		if err := b.write(ctx, domain.EncodeJoinMessage(sessionID, b.nextSeq(), domain.RoomID{})); err != nil {
			return fmt.Errorf("send join: %w", err)
		}
		b.mu.Lock()
		b.joined = true
		b.mu.Unlock()
		b.logger.Info("joined room")
	case domain.ControlSubTypePing:
		if err := b.write(ctx, domain.EncodePongMessage(b.session(), b.nextSeq())); err != nil {
			return fmt.Errorf("send pong: %w", err)
		}
	case domain.ControlSubTypeKick:
		return errors.New("kicked by server")
	}
	return nil
}

// decideLoop は一定間隔でreplicaを進め、入力と発射要求を送ります。
func (b *bot) decideLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	outbox := &application.RPCOutbox{}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		b.mu.Lock()
		if !b.joined {
			b.mu.Unlock()
			continue
		}
		sessionID := b.replica.Session()
		outbox.Reset()
		f := b.replica.Step(nil, outbox, b.cosmetics)
		self, bindings, ok := b.replica.LocalInput()
		var action application.BotAction
		if ok {
			action = b.controller.Decide(self, b.replica.World())
			if action.Fire {
				bindings.DispatchAction(f, application.InputActionFire)
			}
		}
		requests := outbox.ClientMessages(sessionID, b.nextSeq)
		b.mu.Unlock()

		if !ok {
			continue
		}
		// サーバーは最新の入力を保持し続けるので、ゼロ入力も毎回送る
		msg := domain.EncodeMessage(sessionID, b.nextSeq(), domain.DataTypeInput, 0, action.Input.Encode())
		if err := b.write(ctx, msg); err != nil {
			return fmt.Errorf("write input: %w", err)
		}
		for _, msg := range requests {
			if err := b.write(ctx, msg); err != nil {
				return fmt.Errorf("write rpc: %w", err)
			}
		}
	}
}

func (b *bot) write(ctx context.Context, data []byte) error {
	return b.conn.Write(ctx, websocket.MessageBinary, data)
}
