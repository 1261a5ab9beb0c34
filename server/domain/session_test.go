package domain

import (
	"testing"
	"time"
)

func TestNewSession_InitializesTimestamps(t *testing.T) {
	s := NewSession()

	if s.lastRead.Load() == 0 {
		t.Errorf("lastRead is not initialized")
	}
	if s.lastWrite.Load() == 0 {
		t.Errorf("lastWrite is not initialized")
	}
	if s.lastPong.Load() == 0 {
		t.Errorf("lastPong is not initialized")
	}
	if s.ID().IsEmpty() {
		t.Errorf("session ID is empty")
	}
}

func TestSessionID_BytesRoundTrip(t *testing.T) {
	id := NewSessionID()
	if got := SessionIDFromBytes(id.Bytes()); got != id {
		t.Errorf("SessionIDFromBytes(Bytes()) = %s, want %s", got, id)
	}
	if SessionID("not-a-uuid").Bytes() != ([16]byte{}) {
		t.Errorf("invalid id should encode to zero bytes")
	}
}

func TestSession_IsIdle(t *testing.T) {
	s := NewSession()

	if ok, reason := s.IsIdle(0); ok || reason != IdleDisabled {
		t.Errorf("IsIdle(0) = %v, %s; want false, disabled", ok, reason)
	}
	if ok, _ := s.IsIdle(time.Hour); ok {
		t.Errorf("fresh session should not be idle")
	}

	past := time.Now().Add(-time.Minute).UnixNano()
	s.lastRead.Store(past)
	s.lastPong.Store(past)
	ok, reason := s.IsIdle(time.Second)
	if !ok {
		t.Fatal("session should be idle")
	}
	if !reason.Has(IdleRead) || !reason.Has(IdlePong) || reason.Has(IdleWrite) {
		t.Errorf("reason = %s, want read|pong", reason)
	}
	if reason.String() != "read|pong" {
		t.Errorf("reason.String() = %q, want %q", reason.String(), "read|pong")
	}
}

func TestSession_CloseOnce(t *testing.T) {
	s := NewSession()
	if !s.Close() {
		t.Fatal("first Close should return true")
	}
	if s.Close() {
		t.Error("second Close should return false")
	}
	if !s.IsClosed() {
		t.Error("session should be closed")
	}
}
