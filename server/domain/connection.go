package domain

import (
	"context"
	"sync/atomic"
)

type ConnectionID string

// Connection は物理的な接続を表します。
// 読み書きの成功はセッションのアクティビティとして記録されます。
type Connection struct {
	SessionID    SessionID
	ConnectionID ConnectionID
	session      *Session
	transport    Transport
	closed       atomic.Bool
}

func NewConnection(session *Session, transport Transport) *Connection {
	return &Connection{
		SessionID:    session.ID(),
		ConnectionID: ConnectionID(session.ID()),
		session:      session,
		transport:    transport,
	}
}

func (c *Connection) Write(ctx context.Context, data []byte) error {
	if err := c.transport.Write(ctx, data); err != nil {
		return err
	}
	c.session.TouchWrite()
	return nil
}

func (c *Connection) Read(ctx context.Context) ([]byte, error) {
	data, err := c.transport.Read(ctx)
	if err != nil {
		return nil, err
	}
	c.session.TouchRead()
	return data, nil
}

// Close は一度だけtransportを閉じます。
func (c *Connection) Close(code int32, reason string) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	_ = c.transport.Close(code, reason)
}
