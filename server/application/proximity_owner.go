package application

import (
	"fmt"

	"multiplayer/server/domain"
)

const DefaultOwnershipRadius float32 = 400

var (
	FieldOwner  = FieldDescriptor{ID: 1, Name: "Owner", Visibility: VisibilityAll, Kind: FieldActorRef}
	FieldRadius = FieldDescriptor{ID: 2, Name: "Radius", Visibility: VisibilityAll, Kind: FieldFloat32}

	proximityOwnerSchema = []FieldDescriptor{FieldOwner, FieldRadius, FieldLocationX, FieldLocationY, FieldLocationZ}
)

// ProximityOwner は半径内で最も近いキャラクターをオーナーにするアクターです。
// オーナーは関連付けを表すだけの弱参照 (ActorID) で、寿命は管理しません。
type ProximityOwner struct {
	id       domain.ActorID
	role     NetRole
	location Vector3
	radius   float32
	owner    domain.ActorID

	// ownerの書き込み回数
	revision uint64
}

func NewProximityOwner(id domain.ActorID, role NetRole, location Vector3, radius float32) *ProximityOwner {
	return &ProximityOwner{
		id:       id,
		role:     role,
		location: location,
		radius:   radius,
	}
}

func (p *ProximityOwner) ID() domain.ActorID       { return p.id }
func (p *ProximityOwner) Role() NetRole            { return p.role }
func (p *ProximityOwner) SetRole(role NetRole)     { p.role = role }
func (p *ProximityOwner) Location() Vector3        { return p.location }
func (p *ProximityOwner) Radius() float32          { return p.radius }
func (p *ProximityOwner) Owner() domain.ActorID    { return p.owner }
func (p *ProximityOwner) Revision() uint64         { return p.revision }
func (p *ProximityOwner) Class() domain.ActorClass { return domain.ActorClassProximityOwner }

// SetOwner はオーナーを書き換えます。同じ値なら何もしません。
func (p *ProximityOwner) SetOwner(id domain.ActorID) bool {
	if p.owner == id {
		return false
	}
	p.owner = id
	p.revision++
	return true
}

// NearestCharacter は半径より厳密に近いキャラクターのうち最も近いものを返します。
// 同距離の場合はID昇順で先に列挙されたものが選ばれます。
func (p *ProximityOwner) NearestCharacter(w *World) domain.ActorID {
	next := domain.NoActor
	best := p.radius
	for _, c := range w.Characters() {
		d := p.location.DistanceTo(c.Location())
		if d < best {
			best = d
			next = c.ID()
		}
	}
	return next
}

// UpdateOwnership はauthority上でのみオーナーを再計算します。変更があればtrueを返します。
func (p *ProximityOwner) UpdateOwnership(w *World) bool {
	if p.role != RoleAuthority {
		return false
	}
	return p.SetOwner(p.NearestCharacter(w))
}

func (p *ProximityOwner) Tick(f *Frame) {
	f.debug().DrawSphere(p.id, p.location, p.radius)
	p.UpdateOwnership(f.World)
	p.drawDebugInfo(f)
}

func (p *ProximityOwner) drawDebugInfo(f *Frame) {
	owner := "No Owner"
	connection := "Invalid Connection"
	if p.owner != domain.NoActor {
		owner = fmt.Sprintf("Character_%d", p.owner)
		if c, ok := f.World.Character(p.owner); ok && c.Controller() != nil {
			connection = "Valid Connection"
		}
	}
	text := fmt.Sprintf("LocalRole = %s\nRemoteRole = %s\nOwner = %s\nConnection = %s",
		p.role, p.role.Remote(), owner, connection)
	f.debug().DrawString(p.id, p.location, text)
}

func (p *ProximityOwner) ReplicatedFields() []FieldValue {
	return []FieldValue{
		ActorRefValue(FieldOwner, p.owner),
		Float32Value(FieldRadius, p.radius),
		Float32Value(FieldLocationX, p.location.X),
		Float32Value(FieldLocationY, p.location.Y),
		Float32Value(FieldLocationZ, p.location.Z),
	}
}

// OwningSession はオーナーのキャラクターを操作しているセッションです。
func (p *ProximityOwner) OwningSession(w *World) domain.SessionID {
	c, ok := w.Character(p.owner)
	if !ok {
		return ""
	}
	return c.OwningSession(w)
}

// ApplyReplicatedField はレプリケーションされた値をそのまま反映します。
// replicaでは選択処理を行わないため、オーナーはこの経路でのみ変わります。
func (p *ProximityOwner) ApplyReplicatedField(v FieldValue) bool {
	switch v.ID {
	case FieldOwner.ID:
		p.owner = v.ActorRef()
	case FieldRadius.ID:
		p.radius = v.Float32()
	case FieldLocationX.ID:
		p.location.X = v.Float32()
	case FieldLocationY.ID:
		p.location.Y = v.Float32()
	case FieldLocationZ.ID:
		p.location.Z = v.Float32()
	default:
		return false
	}
	return true
}
