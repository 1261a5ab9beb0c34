package domain

import "context"

// Envelope はアプリケーションが1tickで生成した送信データです。
// Targetが空の場合はルーム全体へブロードキャストされます。
type Envelope struct {
	Target SessionID
	Data   []byte
}

// Application はルームに注入されるゲームロジックです。
// HandleMessage と Tick はルームのgoroutineからのみ呼ばれます。
type Application interface {
	HandleMessage(ctx context.Context, sessionID SessionID, data []byte) error
	Tick(ctx context.Context) []Envelope
}
