package application

import (
	"fmt"
	"time"

	"multiplayer/server/domain"
)

// キャラクターの既定値
const (
	DefaultInitialAmmo    int32   = 10
	DefaultFireCooldown           = 1500 * time.Millisecond
	DefaultBaseTurnRate   float32 = 45
	DefaultBaseLookUpRate float32 = 45
	DefaultWalkSpeed      float32 = 600
	DefaultHealth         float32 = 100

	fireTimerName = "fire"
)

// キャラクターのレプリケーションフィールド
var (
	FieldA      = FieldDescriptor{ID: 1, Name: "A", Visibility: VisibilityAll, Kind: FieldInt32}
	FieldB      = FieldDescriptor{ID: 2, Name: "B", Visibility: VisibilityOwnerOnly, Kind: FieldInt32}
	FieldAmmo   = FieldDescriptor{ID: 3, Name: "Ammo", Visibility: VisibilityAll, Kind: FieldInt32}
	FieldHealth = FieldDescriptor{ID: 4, Name: "Health", Visibility: VisibilityAll, Kind: FieldFloat32}
	FieldYaw    = FieldDescriptor{ID: 8, Name: "Yaw", Visibility: VisibilityAll, Kind: FieldFloat32}

	characterSchema = []FieldDescriptor{FieldA, FieldB, FieldAmmo, FieldHealth, FieldLocationX, FieldLocationY, FieldLocationZ, FieldYaw}
)

// CharacterConfig はキャラクターの調整値です。
type CharacterConfig struct {
	InitialAmmo    int32
	FireCooldown   time.Duration
	BaseTurnRate   float32 // 度/秒
	BaseLookUpRate float32 // 度/秒
	WalkSpeed      float32 // 単位/秒
	InitialHealth  float32
	FireMontage    string // 空なら発射アニメーションは再生しない
	NoAmmoSound    string
}

func DefaultCharacterConfig() CharacterConfig {
	return CharacterConfig{
		InitialAmmo:    DefaultInitialAmmo,
		FireCooldown:   DefaultFireCooldown,
		BaseTurnRate:   DefaultBaseTurnRate,
		BaseLookUpRate: DefaultBaseLookUpRate,
		WalkSpeed:      DefaultWalkSpeed,
		InitialHealth:  DefaultHealth,
		FireMontage:    "FireMontage",
		NoAmmoSound:    "NoAmmo",
	}
}

// Controller はキャラクターを操作しているセッションです。
type Controller struct {
	Session  domain.SessionID
	Rotation Rotator
}

// FireResult はExecuteFireの結果です。拒否はエラーではなく単に破棄されます。
type FireResult uint8

const (
	FireIgnored     FireResult = iota // authorityではない
	FireCoolingDown                   // クールダウン中
	FireNoAmmo                        // 弾切れ
	FireFired
)

func (r FireResult) String() string {
	switch r {
	case FireCoolingDown:
		return "CoolingDown"
	case FireNoAmmo:
		return "NoAmmo"
	case FireFired:
		return "Fired"
	default:
		return "Ignored"
	}
}

// Character はプレイヤーが操作するキャラクターです。
// Ammo・A・B はauthorityだけが変更し、replicaはレプリケーションで受け取ります。
type Character struct {
	id         domain.ActorID
	role       NetRole
	cfg        CharacterConfig
	location   Vector3
	rotation   Rotator
	controller *Controller

	ammo   int32
	a      int32
	b      int32
	health float32

	pendingMove Vector3

	// OnRepB はreplicaでBの値が変わったときに呼ばれます。
	OnRepB func(b int32)
}

func NewCharacter(id domain.ActorID, role NetRole, location Vector3, cfg CharacterConfig) *Character {
	return &Character{
		id:       id,
		role:     role,
		cfg:      cfg,
		location: location,
		ammo:     cfg.InitialAmmo,
		health:   cfg.InitialHealth,
	}
}

func (c *Character) ID() domain.ActorID       { return c.id }
func (c *Character) Role() NetRole            { return c.role }
func (c *Character) SetRole(role NetRole)     { c.role = role }
func (c *Character) Location() Vector3        { return c.location }
func (c *Character) SetLocation(v Vector3)    { c.location = v }
func (c *Character) Controller() *Controller  { return c.controller }
func (c *Character) Ammo() int32              { return c.ammo }
func (c *Character) A() int32                 { return c.a }
func (c *Character) B() int32                 { return c.b }
func (c *Character) Health() float32          { return c.health }
func (c *Character) Class() domain.ActorClass { return domain.ActorClassCharacter }
func (c *Character) HasAuthority() bool       { return c.role == RoleAuthority }
func (c *Character) fireTimerKey() TimerKey   { return TimerKey{Actor: c.id, Name: fireTimerName} }
func (c *Character) IsPossessedBy(s domain.SessionID) bool {
	return c.controller != nil && c.controller.Session == s
}

// Rotation はコントローラーがあればその回転を返します。
func (c *Character) Rotation() Rotator {
	if c.controller != nil {
		return c.controller.Rotation
	}
	return c.rotation
}

// Possess はセッションにキャラクターの操作権を与えます。
func (c *Character) Possess(session domain.SessionID) {
	c.controller = &Controller{Session: session, Rotation: c.rotation}
}

func (c *Character) UnPossess() {
	if c.controller != nil {
		c.rotation = c.controller.Rotation
	}
	c.controller = nil
	c.pendingMove = Vector3{}
}

// SetupInput は入力名とハンドラを結び付けます。
func (c *Character) SetupInput(b *InputBindings) {
	b.BindAxis(AxisMoveForward, func(_ *Frame, v float32) { c.MoveForward(v) })
	b.BindAxis(AxisMoveRight, func(_ *Frame, v float32) { c.MoveRight(v) })
	b.BindAxis(AxisTurn, func(_ *Frame, v float32) { c.Turn(v) })
	b.BindAxis(AxisTurnRate, c.TurnAtRate)
	b.BindAxis(AxisLookUp, func(_ *Frame, v float32) { c.LookUp(v) })
	b.BindAxis(AxisLookUpRate, c.LookUpAtRate)
	b.BindAction(InputActionFire, c.RequestFire)
}

// RequestFire は発射の意思表示です。authorityでは直接実行し、
// 自分が操作するreplicaではサーバーへRequestを送ります。
func (c *Character) RequestFire(f *Frame) {
	switch c.role {
	case RoleAuthority:
		c.ExecuteFire(f)
	case RoleAutonomousProxy:
		if f.RPC != nil {
			f.RPC.Request(Request{Actor: c.id, Action: ActionFire})
		}
	}
}

// ExecuteFire はauthority上でのみ発射を処理します。
func (c *Character) ExecuteFire(f *Frame) FireResult {
	if !c.HasAuthority() {
		return FireIgnored
	}
	if f.Timers.IsActive(c.fireTimerKey()) {
		return FireCoolingDown
	}
	if c.ammo == 0 {
		if c.controller != nil && f.RPC != nil {
			f.RPC.Directed(Directed{
				Client: c.controller.Session,
				Actor:  c.id,
				Event:  EventPlayNoAmmoCue,
				Arg:    c.cfg.NoAmmoSound,
			})
		}
		return FireNoAmmo
	}

	c.ammo--
	f.Timers.Set(c.fireTimerKey(), c.cfg.FireCooldown)
	if f.RPC != nil {
		f.RPC.Broadcast(Broadcast{Actor: c.id, Event: EventPlayFireAnimation})
	}
	// ブロードキャストはauthority自身にも届く
	c.PlayFireAnimation(f)
	return FireFired
}

// PlayFireAnimation は見た目の再生のみで、状態は変えません。
func (c *Character) PlayFireAnimation(f *Frame) {
	if c.cfg.FireMontage == "" || f.Cosmetics == nil {
		return
	}
	f.Cosmetics.PlayMontage(c.id, c.cfg.FireMontage)
}

func (c *Character) PlayNoAmmoCue(f *Frame, sound string) {
	if sound == "" || f.Cosmetics == nil {
		return
	}
	f.Cosmetics.PlaySound2D(sound)
}

func (c *Character) MoveForward(value float32) {
	if c.controller == nil || value == 0 {
		return
	}
	yaw := Rotator{Yaw: c.controller.Rotation.Yaw}
	c.pendingMove = c.pendingMove.Add(yaw.Forward().Scale(value))
}

func (c *Character) MoveRight(value float32) {
	if c.controller == nil || value == 0 {
		return
	}
	yaw := Rotator{Yaw: c.controller.Rotation.Yaw}
	c.pendingMove = c.pendingMove.Add(yaw.Right().Scale(value))
}

// TurnAtRate はレート入力 (-1..1) をこのフレームのYaw変化量に変換します。
func (c *Character) TurnAtRate(f *Frame, rate float32) {
	if c.controller == nil || rate == 0 {
		return
	}
	c.controller.Rotation.AddYaw(rate * c.cfg.BaseTurnRate * f.DeltaSeconds())
}

func (c *Character) LookUpAtRate(f *Frame, rate float32) {
	if c.controller == nil || rate == 0 {
		return
	}
	c.controller.Rotation.AddPitch(rate * c.cfg.BaseLookUpRate * f.DeltaSeconds())
}

// Turn はマウスのような絶対量 (度) の入力です。
func (c *Character) Turn(value float32) {
	if c.controller == nil || value == 0 {
		return
	}
	c.controller.Rotation.AddYaw(value)
}

func (c *Character) LookUp(value float32) {
	if c.controller == nil || value == 0 {
		return
	}
	c.controller.Rotation.AddPitch(value)
}

func (c *Character) ModifyHealth(delta float32) {
	if !c.HasAuthority() {
		return
	}
	c.health += delta
}

func (c *Character) Tick(f *Frame) {
	if c.HasAuthority() {
		c.a++
		c.b++
		move := c.pendingMove.ClampLength(1)
		c.location = c.location.Add(move.Scale(c.cfg.WalkSpeed * f.DeltaSeconds()))
	}
	c.pendingMove = Vector3{}

	f.debug().DrawString(c.id, c.location, fmt.Sprintf("Ammo = %d", c.ammo))
}

func (c *Character) ReplicatedFields() []FieldValue {
	rot := c.Rotation()
	return []FieldValue{
		Int32Value(FieldA, c.a),
		Int32Value(FieldB, c.b),
		Int32Value(FieldAmmo, c.ammo),
		Float32Value(FieldHealth, c.health),
		Float32Value(FieldLocationX, c.location.X),
		Float32Value(FieldLocationY, c.location.Y),
		Float32Value(FieldLocationZ, c.location.Z),
		Float32Value(FieldYaw, rot.Yaw),
	}
}

func (c *Character) OwningSession(_ *World) domain.SessionID {
	if c.controller == nil {
		return ""
	}
	return c.controller.Session
}

// ApplyReplicatedField はreplicaにサーバーの値を反映します。未知のフィールドならfalseです。
func (c *Character) ApplyReplicatedField(v FieldValue) bool {
	switch v.ID {
	case FieldA.ID:
		c.a = v.Int32()
	case FieldB.ID:
		changed := c.b != v.Int32()
		c.b = v.Int32()
		if changed && c.OnRepB != nil {
			c.OnRepB(c.b)
		}
	case FieldAmmo.ID:
		c.ammo = v.Int32()
	case FieldHealth.ID:
		c.health = v.Float32()
	case FieldLocationX.ID:
		c.location.X = v.Float32()
	case FieldLocationY.ID:
		c.location.Y = v.Float32()
	case FieldLocationZ.ID:
		c.location.Z = v.Float32()
	case FieldYaw.ID:
		if c.controller != nil {
			c.controller.Rotation.Yaw = v.Float32()
		}
		c.rotation.Yaw = v.Float32()
	default:
		return false
	}
	return true
}
