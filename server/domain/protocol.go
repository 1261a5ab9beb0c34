package domain

import (
	"encoding/binary"
	"errors"
	"math"
	"time"
)

// バイトオーダー: リトルエンディアン
var byteOrder = binary.LittleEndian

const (
	ProtocolVersion   = 1
	HeaderSize        = 25
	PayloadHeaderSize = 2
	JoinPayloadSize   = 16
	// MaxPayloadSize はlength(u16)に収まるペイロード本体の最大長
	MaxPayloadSize = math.MaxUint16 - PayloadHeaderSize
)

// Header はメッセージヘッダー (25バイト)
//
//	version    u8      (1)
//	sessionID  [16]byte (16)
//	seq        u16     (2)
//	length     u16     (2)  - ペイロード長 (PayloadHeaderを含む)
//	timestamp  u32     (4)
type Header struct {
	Version   uint8
	SessionID [16]byte
	Seq       uint16
	Length    uint16
	Timestamp uint32
}

// DataType はメッセージの種別
type DataType uint8

const (
	DataTypeInput       DataType = 1
	DataTypeReplication DataType = 2
	DataTypeRPC         DataType = 3
	DataTypeControl     DataType = 4
	DataTypeDebug       DataType = 5
)

// ControlSubType はcontrolメッセージのサブタイプ
type ControlSubType uint8

const (
	ControlSubTypeJoin   ControlSubType = 1
	ControlSubTypeLeave  ControlSubType = 2
	ControlSubTypeKick   ControlSubType = 3
	ControlSubTypePing   ControlSubType = 4
	ControlSubTypePong   ControlSubType = 5
	ControlSubTypeError  ControlSubType = 6
	ControlSubTypeAssign ControlSubType = 7
	ControlSubTypeResync ControlSubType = 8 // 観測者のレプリケーションを全量から送り直す
)

// RPCSubType はRPCメッセージのサブタイプ
type RPCSubType uint8

const (
	RPCSubTypeRequest   RPCSubType = 1 // client -> server
	RPCSubTypeBroadcast RPCSubType = 2 // server -> 全クライアント
	RPCSubTypeDirected  RPCSubType = 3 // server -> 1クライアント
)

const (
	ReplicationSubTypeSnapshot uint8 = 1 // 前回からの差分
	ReplicationSubTypeFull     uint8 = 2 // 全量。受信側は含まれないアクターを破棄する
	DebugSubTypeOverlay        uint8 = 1
)

// PayloadHeader はペイロードヘッダー (2バイト)
//
//	datatype  u8 (1)
//	subtype   u8 (1)
type PayloadHeader struct {
	DataType DataType
	SubType  uint8
}

var (
	ErrInvalidHeaderSize      = errors.New("invalid header size")
	ErrInvalidPayloadSize     = errors.New("invalid payload size")
	ErrInvalidJoinPayloadSize = errors.New("invalid join payload size")
	ErrPayloadTooLarge        = errors.New("payload too large")
)

// ParseHeader はバイト列からHeaderをパースする
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, ErrInvalidHeaderSize
	}

	var sessionID [16]byte
	copy(sessionID[:], data[1:17])

	return &Header{
		Version:   data[0],
		SessionID: sessionID,
		Seq:       byteOrder.Uint16(data[17:19]),
		Length:    byteOrder.Uint16(data[19:21]),
		Timestamp: byteOrder.Uint32(data[21:25]),
	}, nil
}

// Encode はHeaderをバイト列にエンコードする
func (h *Header) Encode() []byte {
	data := make([]byte, HeaderSize)
	data[0] = h.Version
	copy(data[1:17], h.SessionID[:])
	byteOrder.PutUint16(data[17:19], h.Seq)
	byteOrder.PutUint16(data[19:21], h.Length)
	byteOrder.PutUint32(data[21:25], h.Timestamp)
	return data
}

// ParsePayloadHeader はバイト列からPayloadHeaderをパースする
func ParsePayloadHeader(data []byte) (*PayloadHeader, error) {
	if len(data) < PayloadHeaderSize {
		return nil, ErrInvalidPayloadSize
	}

	return &PayloadHeader{
		DataType: DataType(data[0]),
		SubType:  data[1],
	}, nil
}

// Encode はPayloadHeaderをバイト列にエンコードする
func (p *PayloadHeader) Encode() []byte {
	data := make([]byte, PayloadHeaderSize)
	data[0] = byte(p.DataType)
	data[1] = p.SubType
	return data
}

// Packet はパース済みの1メッセージです。Payloadはヘッダーを除いた本体を指します。
type Packet struct {
	Header        *Header
	PayloadHeader *PayloadHeader
	Payload       []byte
}

// ParsePacket はヘッダー・ペイロードヘッダー・本体に分解する
func ParsePacket(data []byte) (*Packet, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	payloadHeader, err := ParsePayloadHeader(data[HeaderSize:])
	if err != nil {
		return nil, err
	}
	return &Packet{
		Header:        header,
		PayloadHeader: payloadHeader,
		Payload:       data[HeaderSize+PayloadHeaderSize:],
	}, nil
}

// EncodeMessage はヘッダーを付与した1メッセージを組み立てる
// 長さが固定または上限の決まったペイロード用。可変長のペイロードはEncodeDataMessageを使う
func EncodeMessage(sessionID SessionID, seq uint16, dataType DataType, subType uint8, payload []byte) []byte {
	data, err := EncodeDataMessage(sessionID, seq, dataType, subType, payload)
	if err != nil {
		panic(err)
	}
	return data
}

// EncodeDataMessage はEncodeMessageと同じだが、lengthに収まらないペイロードを
// ErrPayloadTooLargeで拒否する
func EncodeDataMessage(sessionID SessionID, seq uint16, dataType DataType, subType uint8, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	length := PayloadHeaderSize + len(payload)
	header := Header{
		Version:   ProtocolVersion,
		SessionID: sessionID.Bytes(),
		Seq:       seq,
		Length:    uint16(length),
		Timestamp: uint32(time.Now().UnixMilli() & 0xFFFFFFFF),
	}
	payloadHeader := PayloadHeader{
		DataType: dataType,
		SubType:  subType,
	}

	data := make([]byte, HeaderSize+length)
	copy(data[:HeaderSize], header.Encode())
	copy(data[HeaderSize:], payloadHeader.Encode())
	copy(data[HeaderSize+PayloadHeaderSize:], payload)
	return data, nil
}

func encodeControlMessage(sessionID SessionID, subType ControlSubType) []byte {
	return EncodeMessage(sessionID, 0, DataTypeControl, uint8(subType), nil)
}

// EncodeAssignMessage はセッションID通知メッセージをエンコードする
// クライアントに自分のセッションIDを通知するために使用
func EncodeAssignMessage(sessionID SessionID) []byte {
	return encodeControlMessage(sessionID, ControlSubTypeAssign)
}

// EncodeLeaveMessage はルーム離脱メッセージをエンコードする
// 異常切断時にclose()からRoom離脱を通知するために使用
func EncodeLeaveMessage(sessionID SessionID) []byte {
	return encodeControlMessage(sessionID, ControlSubTypeLeave)
}

// EncodeResyncMessage はレプリケーションの再同期要求をエンコードする
// クライアントからの要求と、サーバー内で送信の破棄を検知した場合の両方で使用
func EncodeResyncMessage(sessionID SessionID) []byte {
	return encodeControlMessage(sessionID, ControlSubTypeResync)
}

// EncodePingMessage はPingメッセージをエンコードする
func EncodePingMessage(sessionID SessionID) []byte {
	return encodeControlMessage(sessionID, ControlSubTypePing)
}

// EncodePongMessage はPongメッセージをエンコードする
func EncodePongMessage(sessionID SessionID, seq uint16) []byte {
	return EncodeMessage(sessionID, seq, DataTypeControl, uint8(ControlSubTypePong), nil)
}

// EncodeJoinMessage はルーム参加メッセージをエンコードする
// roomIDがゼロ値の場合はサーバー側で自動割り当てされる
func EncodeJoinMessage(sessionID SessionID, seq uint16, roomID RoomID) []byte {
	join := JoinPayload{RoomID: roomID}
	return EncodeMessage(sessionID, seq, DataTypeControl, uint8(ControlSubTypeJoin), join.Encode())
}

// JoinPayload はルーム参加メッセージのペイロード (16バイト)
//
//	roomID  [16]byte  - ルームID (UUID)
type JoinPayload struct {
	RoomID RoomID
}

// ParseJoinPayload はバイト列からJoinPayloadをパースする
func ParseJoinPayload(data []byte) (*JoinPayload, error) {
	if len(data) < JoinPayloadSize {
		return nil, ErrInvalidJoinPayloadSize
	}

	var roomID RoomID
	copy(roomID[:], data[:JoinPayloadSize])

	return &JoinPayload{
		RoomID: roomID,
	}, nil
}

// Encode はJoinPayloadをバイト列にエンコードする
func (j *JoinPayload) Encode() []byte {
	out := make([]byte, JoinPayloadSize)
	copy(out, j.RoomID[:])
	return out
}
