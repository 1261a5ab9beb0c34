package domain

import (
	"errors"
	"math"
)

// ActorID はワールド内のアクターを識別するIDです。0は「アクターなし」を表します。
type ActorID uint32

const NoActor ActorID = 0

// サイズ定数
const (
	InputPayloadSize       = 24 // 6 * float32
	RPCRequestSize         = 5  // actor u32 + action u8
	RPCBroadcastSize       = 5  // actor u32 + event u8
	RPCDirectedMinSize     = 6  // actor u32 + event u8 + argLen u8
	replicationEntryHeader = 8  // actor u32 + class u8 + op u8 + flags u8 + fieldCount u8
	FieldUpdateSize        = 5  // id u8 + bits u32
	debugLabelHeader       = 6  // actor u32 + textLen u16
	maxDirectedArgLen      = math.MaxUint8
)

var (
	ErrInvalidInputPayloadSize       = errors.New("invalid input payload size")
	ErrInvalidRPCPayloadSize         = errors.New("invalid rpc payload size")
	ErrInvalidReplicationPayloadSize = errors.New("invalid replication payload size")
	ErrInvalidDebugPayloadSize       = errors.New("invalid debug payload size")
)

// InputPayload は1フレーム分の軸入力 (24バイト)
//
//	moveForward, moveRight float32 (8)
//	turn, turnRate         float32 (8)
//	lookUp, lookUpRate     float32 (8)
type InputPayload struct {
	MoveForward float32
	MoveRight   float32
	Turn        float32
	TurnRate    float32
	LookUp      float32
	LookUpRate  float32
}

// ParseInputPayload はバイト列からInputPayloadをパースする
func ParseInputPayload(data []byte) (*InputPayload, error) {
	if len(data) < InputPayloadSize {
		return nil, ErrInvalidInputPayloadSize
	}
	f := func(off int) float32 { return math.Float32frombits(byteOrder.Uint32(data[off : off+4])) }
	return &InputPayload{
		MoveForward: f(0),
		MoveRight:   f(4),
		Turn:        f(8),
		TurnRate:    f(12),
		LookUp:      f(16),
		LookUpRate:  f(20),
	}, nil
}

// Encode はInputPayloadをバイト列にエンコードする
func (i *InputPayload) Encode() []byte {
	data := make([]byte, InputPayloadSize)
	byteOrder.PutUint32(data[0:4], math.Float32bits(i.MoveForward))
	byteOrder.PutUint32(data[4:8], math.Float32bits(i.MoveRight))
	byteOrder.PutUint32(data[8:12], math.Float32bits(i.Turn))
	byteOrder.PutUint32(data[12:16], math.Float32bits(i.TurnRate))
	byteOrder.PutUint32(data[16:20], math.Float32bits(i.LookUp))
	byteOrder.PutUint32(data[20:24], math.Float32bits(i.LookUpRate))
	return data
}

// RPCRequest はクライアントからサーバーへのアクション要求 (5バイト)
type RPCRequest struct {
	ActorID ActorID
	Action  uint8
}

func ParseRPCRequest(data []byte) (*RPCRequest, error) {
	if len(data) < RPCRequestSize {
		return nil, ErrInvalidRPCPayloadSize
	}
	return &RPCRequest{
		ActorID: ActorID(byteOrder.Uint32(data[0:4])),
		Action:  data[4],
	}, nil
}

func (r *RPCRequest) Encode() []byte {
	data := make([]byte, RPCRequestSize)
	byteOrder.PutUint32(data[0:4], uint32(r.ActorID))
	data[4] = r.Action
	return data
}

// RPCBroadcast はサーバーから全クライアントへのイベント通知 (5バイト)
type RPCBroadcast struct {
	ActorID ActorID
	Event   uint8
}

func ParseRPCBroadcast(data []byte) (*RPCBroadcast, error) {
	if len(data) < RPCBroadcastSize {
		return nil, ErrInvalidRPCPayloadSize
	}
	return &RPCBroadcast{
		ActorID: ActorID(byteOrder.Uint32(data[0:4])),
		Event:   data[4],
	}, nil
}

func (b *RPCBroadcast) Encode() []byte {
	data := make([]byte, RPCBroadcastSize)
	byteOrder.PutUint32(data[0:4], uint32(b.ActorID))
	data[4] = b.Event
	return data
}

// RPCDirected はサーバーから特定クライアントへのイベント通知 (可変長)
//
//	actorID u32
//	event   u8
//	argLen  u8
//	arg     []byte (argLen)
type RPCDirected struct {
	ActorID ActorID
	Event   uint8
	Arg     string
}

func ParseRPCDirected(data []byte) (*RPCDirected, error) {
	if len(data) < RPCDirectedMinSize {
		return nil, ErrInvalidRPCPayloadSize
	}
	argLen := int(data[5])
	if len(data) < RPCDirectedMinSize+argLen {
		return nil, ErrInvalidRPCPayloadSize
	}
	return &RPCDirected{
		ActorID: ActorID(byteOrder.Uint32(data[0:4])),
		Event:   data[4],
		Arg:     string(data[RPCDirectedMinSize : RPCDirectedMinSize+argLen]),
	}, nil
}

// Encode はRPCDirectedをエンコードする。255バイトを超える引数は切り詰める。
func (d *RPCDirected) Encode() []byte {
	arg := d.Arg
	if len(arg) > maxDirectedArgLen {
		arg = arg[:maxDirectedArgLen]
	}
	data := make([]byte, RPCDirectedMinSize+len(arg))
	byteOrder.PutUint32(data[0:4], uint32(d.ActorID))
	data[4] = d.Event
	data[5] = uint8(len(arg))
	copy(data[RPCDirectedMinSize:], arg)
	return data
}

// ReplicationOp はレプリケーションエントリの操作種別
type ReplicationOp uint8

const (
	ReplicationOpSpawn   ReplicationOp = 1
	ReplicationOpUpdate  ReplicationOp = 2
	ReplicationOpDespawn ReplicationOp = 3
)

// ActorClass はレプリケーション対象アクターのクラス
type ActorClass uint8

const (
	ActorClassCharacter      ActorClass = 1
	ActorClassProximityOwner ActorClass = 2
)

// ReplicationFlagOwned は受信者がそのアクターのオーナーであることを示す
const ReplicationFlagOwned uint8 = 0x01

// FieldUpdate は1フィールド分の値 (5バイト)。値の解釈はフィールド定義に従う。
type FieldUpdate struct {
	ID   uint8
	Bits uint32
}

// ReplicationEntry は1アクター分のレプリケーション差分
type ReplicationEntry struct {
	ActorID ActorID
	Class   ActorClass
	Op      ReplicationOp
	Flags   uint8
	Fields  []FieldUpdate
}

func (e *ReplicationEntry) Owned() bool { return e.Flags&ReplicationFlagOwned != 0 }

// ReplicationPayload は1受信者向けの1tick分のレプリケーション
//
//	count u16
//	entries: actor u32, class u8, op u8, flags u8, fieldCount u8, fields (id u8, bits u32)...
type ReplicationPayload struct {
	Entries []ReplicationEntry
}

func ParseReplicationPayload(data []byte) (*ReplicationPayload, error) {
	if len(data) < 2 {
		return nil, ErrInvalidReplicationPayloadSize
	}
	count := int(byteOrder.Uint16(data[0:2]))
	entries := make([]ReplicationEntry, 0, count)
	offset := 2
	for i := 0; i < count; i++ {
		if offset+replicationEntryHeader > len(data) {
			return nil, ErrInvalidReplicationPayloadSize
		}
		entry := ReplicationEntry{
			ActorID: ActorID(byteOrder.Uint32(data[offset : offset+4])),
			Class:   ActorClass(data[offset+4]),
			Op:      ReplicationOp(data[offset+5]),
			Flags:   data[offset+6],
		}
		fieldCount := int(data[offset+7])
		offset += replicationEntryHeader
		if offset+fieldCount*FieldUpdateSize > len(data) {
			return nil, ErrInvalidReplicationPayloadSize
		}
		entry.Fields = make([]FieldUpdate, fieldCount)
		for j := range fieldCount {
			entry.Fields[j] = FieldUpdate{
				ID:   data[offset],
				Bits: byteOrder.Uint32(data[offset+1 : offset+5]),
			}
			offset += FieldUpdateSize
		}
		entries = append(entries, entry)
	}
	return &ReplicationPayload{Entries: entries}, nil
}

func (p *ReplicationPayload) Encode() []byte {
	size := 2
	for _, e := range p.Entries {
		size += replicationEntryHeader + len(e.Fields)*FieldUpdateSize
	}
	data := make([]byte, size)
	byteOrder.PutUint16(data[0:2], uint16(len(p.Entries)))
	offset := 2
	for _, e := range p.Entries {
		byteOrder.PutUint32(data[offset:offset+4], uint32(e.ActorID))
		data[offset+4] = uint8(e.Class)
		data[offset+5] = uint8(e.Op)
		data[offset+6] = e.Flags
		data[offset+7] = uint8(len(e.Fields))
		offset += replicationEntryHeader
		for _, f := range e.Fields {
			data[offset] = f.ID
			byteOrder.PutUint32(data[offset+1:offset+5], f.Bits)
			offset += FieldUpdateSize
		}
	}
	return data
}

// DebugLabel はアクター位置に表示するデバッグ文字列
type DebugLabel struct {
	ActorID ActorID
	Text    string
}

// DebugPayload はデバッグオーバーレイ
//
//	count u16
//	labels: actor u32, textLen u16, text
type DebugPayload struct {
	Labels []DebugLabel
}

func ParseDebugPayload(data []byte) (*DebugPayload, error) {
	if len(data) < 2 {
		return nil, ErrInvalidDebugPayloadSize
	}
	count := int(byteOrder.Uint16(data[0:2]))
	labels := make([]DebugLabel, 0, count)
	offset := 2
	for i := 0; i < count; i++ {
		if offset+debugLabelHeader > len(data) {
			return nil, ErrInvalidDebugPayloadSize
		}
		actorID := ActorID(byteOrder.Uint32(data[offset : offset+4]))
		textLen := int(byteOrder.Uint16(data[offset+4 : offset+6]))
		offset += debugLabelHeader
		if offset+textLen > len(data) {
			return nil, ErrInvalidDebugPayloadSize
		}
		labels = append(labels, DebugLabel{ActorID: actorID, Text: string(data[offset : offset+textLen])})
		offset += textLen
	}
	return &DebugPayload{Labels: labels}, nil
}

func (p *DebugPayload) Encode() []byte {
	size := 2
	for _, l := range p.Labels {
		size += debugLabelHeader + len(l.Text)
	}
	data := make([]byte, size)
	byteOrder.PutUint16(data[0:2], uint16(len(p.Labels)))
	offset := 2
	for _, l := range p.Labels {
		byteOrder.PutUint32(data[offset:offset+4], uint32(l.ActorID))
		byteOrder.PutUint16(data[offset+4:offset+6], uint16(len(l.Text)))
		offset += debugLabelHeader
		copy(data[offset:], l.Text)
		offset += len(l.Text)
	}
	return data
}
