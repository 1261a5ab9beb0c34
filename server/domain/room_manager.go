package domain

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

//go:generate go tool mockgen -destination=./mocks/room_manager_mock.go -package=mocks . RoomManager

// RoomID はルームを識別する16バイトのID (UUID) です。ゼロ値は「未指定」を表します。
type RoomID [16]byte

// RoomIDFromName は名前から決定的なRoomIDを生成します。
func RoomIDFromName(name string) RoomID {
	return RoomID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)))
}

func (r RoomID) String() string { return uuid.UUID(r).String() }

func (r RoomID) IsEmpty() bool { return r == RoomID{} }

var ErrNoRoomAvailable = errors.New("no room available")

// RoomManager はセッションの参加先ルームを決定します。
type RoomManager interface {
	GetRoom(ctx context.Context, sessionID SessionID) (RoomID, error)
	// Release はセッション終了時に割り当てを解除します。
	Release(sessionID SessionID)
}

// SimpleRoomManager は全セッションをデフォルトルームに割り当てます。
type SimpleRoomManager struct {
	mu          sync.Mutex
	defaultRoom RoomID
	assigned    map[SessionID]RoomID
}

func NewSimpleRoomManager(defaultRoom RoomID) *SimpleRoomManager {
	return &SimpleRoomManager{
		defaultRoom: defaultRoom,
		assigned:    make(map[SessionID]RoomID),
	}
}

func (m *SimpleRoomManager) GetRoom(ctx context.Context, sessionID SessionID) (RoomID, error) {
	if m.defaultRoom.IsEmpty() {
		return RoomID{}, ErrNoRoomAvailable
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if roomID, ok := m.assigned[sessionID]; ok {
		return roomID, nil
	}
	m.assigned[sessionID] = m.defaultRoom
	return m.defaultRoom, nil
}

// Release はセッションの割り当てを解除します。
func (m *SimpleRoomManager) Release(sessionID SessionID) {
	m.mu.Lock()
	delete(m.assigned, sessionID)
	m.mu.Unlock()
}
