package domain

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

//go:generate go tool mockgen -destination=./mocks/pubsub_mock.go -package=mocks . PubSub

// Topic はpubsubの宛先です。
type Topic string

func SessionTopic(id SessionID) Topic { return Topic("session:" + id.String()) }
func RoomTopic(id RoomID) Topic       { return Topic("room:" + id.String()) }
func RoomCtrlTopic(id RoomID) Topic   { return Topic("room:" + id.String() + ":ctrl") }

// ErrSubscriberFull は購読者のバッファが満杯でメッセージが破棄されたことを表します。
var ErrSubscriberFull = errors.New("pubsub: subscriber buffer is full")

// Message はpubsubで運ばれるデータです。
type Message struct {
	SessionID SessionID
	Data      []byte
}

// PubSub はセッションとルームをつなぐプロセス内メッセージバスです。
type PubSub interface {
	Subscribe(topic Topic) <-chan Message
	Unsubscribe(topic Topic, ch <-chan Message)
	// Publish はブロックしません。1つでも購読者に届かなければErrSubscriberFullを返します。
	Publish(ctx context.Context, topic Topic, msg Message) error
}

const subscriberBufferSize = 256

// SimplePubSub はチャネルベースのPubSub実装です。
// Publishはブロックせず、購読者のバッファが満杯の場合はメッセージを破棄します。
type SimplePubSub struct {
	mu     sync.RWMutex
	topics map[Topic][]chan Message
}

func NewSimplePubSub() *SimplePubSub {
	return &SimplePubSub{
		topics: make(map[Topic][]chan Message),
	}
}

func (p *SimplePubSub) Subscribe(topic Topic) <-chan Message {
	ch := make(chan Message, subscriberBufferSize)
	p.mu.Lock()
	p.topics[topic] = append(p.topics[topic], ch)
	p.mu.Unlock()
	return ch
}

func (p *SimplePubSub) Unsubscribe(topic Topic, ch <-chan Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	subs := p.topics[topic]
	for i, sub := range subs {
		if sub == ch {
			close(sub)
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(p.topics, topic)
		return
	}
	p.topics[topic] = subs
}

func (p *SimplePubSub) Publish(ctx context.Context, topic Topic, msg Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var err error
	for _, sub := range p.topics[topic] {
		select {
		case sub <- msg:
		default:
			slog.WarnContext(ctx, "pubsub: subscriber full, message dropped", "topic", topic)
			err = ErrSubscriberFull
		}
	}
	return err
}
