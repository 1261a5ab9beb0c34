package domain

import (
	"context"
	"testing"
)

func TestSimplePubSub_PublishSubscribe(t *testing.T) {
	ps := NewSimplePubSub()
	topic := Topic("t")
	ch1 := ps.Subscribe(topic)
	ch2 := ps.Subscribe(topic)

	if err := ps.Publish(context.Background(), topic, Message{Data: []byte("x")}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if got := string((<-ch1).Data); got != "x" {
		t.Errorf("ch1 = %q", got)
	}
	if got := string((<-ch2).Data); got != "x" {
		t.Errorf("ch2 = %q", got)
	}
}

func TestSimplePubSub_UnsubscribeClosesChannel(t *testing.T) {
	ps := NewSimplePubSub()
	topic := Topic("t")
	ch := ps.Subscribe(topic)

	ps.Unsubscribe(topic, ch)

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	// 購読者がいなくてもPublishはブロックしない
	ps.Publish(context.Background(), topic, Message{Data: []byte("x")})
}

func TestSimplePubSub_DropsWhenFull(t *testing.T) {
	ps := NewSimplePubSub()
	topic := Topic("t")
	ch := ps.Subscribe(topic)

	for i := 0; i < subscriberBufferSize; i++ {
		if err := ps.Publish(context.Background(), topic, Message{}); err != nil {
			t.Fatalf("Publish %d failed: %v", i, err)
		}
	}
	// 満杯になった後の破棄は呼び出し側に伝わる
	if err := ps.Publish(context.Background(), topic, Message{}); err != ErrSubscriberFull {
		t.Errorf("Publish on full buffer = %v, want ErrSubscriberFull", err)
	}
	if len(ch) != subscriberBufferSize {
		t.Errorf("buffered = %d, want %d", len(ch), subscriberBufferSize)
	}
}
