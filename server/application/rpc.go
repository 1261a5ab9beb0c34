package application

import (
	"multiplayer/server/domain"
)

// Action はクライアントがサーバーに要求する操作です。
type Action uint8

const (
	ActionFire Action = 1
)

func (a Action) String() string {
	switch a {
	case ActionFire:
		return "Fire"
	default:
		return "Unknown"
	}
}

// Event はサーバーがクライアントに通知する演出イベントです。
type Event uint8

const (
	EventPlayFireAnimation Event = 1
	EventPlayNoAmmoCue     Event = 2
)

func (e Event) String() string {
	switch e {
	case EventPlayFireAnimation:
		return "PlayFireAnimation"
	case EventPlayNoAmmoCue:
		return "PlayNoAmmoCue"
	default:
		return "Unknown"
	}
}

// Request は client -> server のRPCです。
type Request struct {
	Actor  domain.ActorID
	Action Action
}

// Broadcast は server -> 全クライアント のRPCです。
type Broadcast struct {
	Actor domain.ActorID
	Event Event
}

// Directed は server -> 1クライアント のRPCです。
type Directed struct {
	Client domain.SessionID
	Actor  domain.ActorID
	Event  Event
	Arg    string
}

// RPCSink はRPCの送出先です。Broadcast と Directed はauthorityのみが送出します。
type RPCSink interface {
	Request(r Request)
	Broadcast(b Broadcast)
	Directed(d Directed)
}

// RPCOutbox は1tick分のRPCを溜めるRPCSinkです。
type RPCOutbox struct {
	Requests   []Request
	Broadcasts []Broadcast
	Directs    []Directed
}

func (o *RPCOutbox) Request(r Request)     { o.Requests = append(o.Requests, r) }
func (o *RPCOutbox) Broadcast(b Broadcast) { o.Broadcasts = append(o.Broadcasts, b) }
func (o *RPCOutbox) Directed(d Directed)   { o.Directs = append(o.Directs, d) }

func (o *RPCOutbox) Len() int {
	return len(o.Requests) + len(o.Broadcasts) + len(o.Directs)
}

func (o *RPCOutbox) Reset() {
	o.Requests = o.Requests[:0]
	o.Broadcasts = o.Broadcasts[:0]
	o.Directs = o.Directs[:0]
}

// ServerEnvelopes はBroadcastとDirectedをワイヤ形式に変換します。
func (o *RPCOutbox) ServerEnvelopes(nextSeq func() uint16) []domain.Envelope {
	envelopes := make([]domain.Envelope, 0, len(o.Broadcasts)+len(o.Directs))
	for _, b := range o.Broadcasts {
		payload := domain.RPCBroadcast{ActorID: b.Actor, Event: uint8(b.Event)}
		envelopes = append(envelopes, domain.Envelope{
			Data: domain.EncodeMessage("", nextSeq(), domain.DataTypeRPC, uint8(domain.RPCSubTypeBroadcast), payload.Encode()),
		})
	}
	for _, d := range o.Directs {
		payload := domain.RPCDirected{ActorID: d.Actor, Event: uint8(d.Event), Arg: d.Arg}
		envelopes = append(envelopes, domain.Envelope{
			Target: d.Client,
			Data:   domain.EncodeMessage(d.Client, nextSeq(), domain.DataTypeRPC, uint8(domain.RPCSubTypeDirected), payload.Encode()),
		})
	}
	return envelopes
}

// ClientMessages はRequestをワイヤ形式に変換します。
func (o *RPCOutbox) ClientMessages(sessionID domain.SessionID, nextSeq func() uint16) [][]byte {
	out := make([][]byte, 0, len(o.Requests))
	for _, r := range o.Requests {
		payload := domain.RPCRequest{ActorID: r.Actor, Action: uint8(r.Action)}
		out = append(out, domain.EncodeMessage(sessionID, nextSeq(), domain.DataTypeRPC, uint8(domain.RPCSubTypeRequest), payload.Encode()))
	}
	return out
}
