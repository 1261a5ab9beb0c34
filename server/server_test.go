package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"multiplayer/server"
	"multiplayer/server/application"
	"multiplayer/server/domain"
)

func startServer(t *testing.T) (*httptest.Server, *domain.Room) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	pubsub := domain.NewSimplePubSub()
	defaultRoomID := domain.RoomIDFromName("default")
	roomManager := domain.NewSimpleRoomManager(defaultRoomID)

	cfg := application.DefaultConfig()
	cfg.TickInterval = 10 * time.Millisecond
	cfg.ProximityActors = []application.Vector3{{}}
	cfg.SpawnPoints = []application.Vector3{{X: 100}}
	app := application.NewMultiplayerApplication(ctx, cfg)
	room := domain.NewRoom(defaultRoomID, pubsub, app, cfg.TickInterval)
	go func() {
		_ = room.Run(ctx)
	}()
	// roomの購読開始を待つ
	time.Sleep(50 * time.Millisecond)

	srv := httptest.NewServer(server.Route(pubsub, roomManager, domain.DefaultEndpointOptions(), room))
	t.Cleanup(srv.Close)
	return srv, room
}

// readUntil は条件を満たすパケットが届くまで読み続けます。
func readUntil(ctx context.Context, t *testing.T, conn *websocket.Conn, match func(*domain.Packet) bool) *domain.Packet {
	t.Helper()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		packet, err := domain.ParsePacket(data)
		if err != nil {
			t.Fatalf("ParsePacket failed: %v", err)
		}
		if match(packet) {
			return packet
		}
	}
}

func isType(dataType domain.DataType, subType uint8) func(*domain.Packet) bool {
	return func(p *domain.Packet) bool {
		return p.PayloadHeader.DataType == dataType && p.PayloadHeader.SubType == subType
	}
}

func isReplication(p *domain.Packet) bool {
	return p.PayloadHeader.DataType == domain.DataTypeReplication
}

func TestServer_JoinReplicateFire(t *testing.T) {
	srv, room := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	assign := readUntil(ctx, t, conn, isType(domain.DataTypeControl, uint8(domain.ControlSubTypeAssign)))
	sessionID := domain.SessionIDFromBytes(assign.Header.SessionID)
	if sessionID.IsEmpty() {
		t.Fatal("assigned session id is empty")
	}

	if err := conn.Write(ctx, websocket.MessageBinary, domain.EncodeJoinMessage(sessionID, 1, domain.RoomID{})); err != nil {
		t.Fatalf("write join failed: %v", err)
	}

	// 自分のキャラクターがownedとしてspawnされ、近くのProximityOwnerもownedになる
	replica := application.NewReplicaWorld(sessionID, 10*time.Millisecond, application.DefaultCharacterConfig(), nil)
	var self *application.Character
	for self == nil {
		packet := readUntil(ctx, t, conn, isReplication)
		if err := replica.ApplyMessage(ctx, packet.PayloadHeader.SubType, packet.Payload); err != nil {
			t.Fatalf("ApplyMessage failed: %v", err)
		}
		self, _ = replica.LocalCharacter()
	}
	if self.Ammo() != application.DefaultInitialAmmo {
		t.Errorf("Ammo = %d, want %d", self.Ammo(), application.DefaultInitialAmmo)
	}

	// 発射要求は入力バインディングからRPCとして送る
	outbox := &application.RPCOutbox{}
	_, bindings, _ := replica.LocalInput()
	if !bindings.DispatchAction(replica.Frame(nil, outbox, nil), application.InputActionFire) {
		t.Fatal("Fire action is not bound")
	}
	var seq uint16 = 1
	for _, msg := range outbox.ClientMessages(sessionID, func() uint16 { seq++; return seq }) {
		if err := conn.Write(ctx, websocket.MessageBinary, msg); err != nil {
			t.Fatalf("write rpc failed: %v", err)
		}
	}

	packet := readUntil(ctx, t, conn, isType(domain.DataTypeRPC, uint8(domain.RPCSubTypeBroadcast)))
	b, err := domain.ParseRPCBroadcast(packet.Payload)
	if err != nil {
		t.Fatalf("ParseRPCBroadcast failed: %v", err)
	}
	if b.ActorID != self.ID() || application.Event(b.Event) != application.EventPlayFireAnimation {
		t.Errorf("broadcast = %+v", b)
	}

	// サーバーで減ったAmmoがレプリケーションされる
	for self.Ammo() != application.DefaultInitialAmmo-1 {
		packet := readUntil(ctx, t, conn, isReplication)
		_ = replica.ApplyMessage(ctx, packet.PayloadHeader.SubType, packet.Payload)
	}

	if room.SessionCount() != 1 {
		t.Errorf("SessionCount = %d, want 1", room.SessionCount())
	}
}

func TestServer_Healthz(t *testing.T) {
	srv, _ := startServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Status != "ok" || body.Sessions != 0 {
		t.Errorf("body = %+v", body)
	}
}
