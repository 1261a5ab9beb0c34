package application

import (
	"math"
	"math/rand/v2"

	"multiplayer/server/domain"
)

const (
	botNoiseAngle  float64 = 0.52 // ±30度 (π/6 ≈ 0.52 rad)
	wanderChance   float64 = 0.02 // 毎tick 2% の確率で目標を無視して徘徊
	botArriveRatio float32 = 0.5  // 半径のこの割合まで近づいたら周回する
)

// BotAction はボットの1tick分の行動です。
type BotAction struct {
	Input domain.InputPayload
	Fire  bool
}

// RuleBotController はルールベースのボットAIです。
// オーナー判定用アクターに近づいて周回し、一定確率で発射します。
type RuleBotController struct {
	FireChance   float64 // 毎tickの発射確率
	WanderChance float64 // 目標を無視して徘徊する確率
	OrbitRatio   float32 // 周回を始める距離 (半径比)
	StrafeSign   float32 // +1: 反時計回り, -1: 時計回り
}

// NewRuleBotController はランダムな個性を持つボットAIを生成します。
func NewRuleBotController(fireChance float64) *RuleBotController {
	strafeSign := float32(1.0)
	if rand.Float64() < 0.5 {
		strafeSign = -1.0
	}
	return &RuleBotController{
		FireChance:   fireChance,
		WanderChance: wanderChance,
		OrbitRatio:   botArriveRatio + rand.Float32()*0.4, // 0.5〜0.9
		StrafeSign:   strafeSign,
	}
}

// Decide はreplicaのワールドから次の入力を決めます。
func (r *RuleBotController) Decide(self *Character, w *World) BotAction {
	action := BotAction{Fire: self.Ammo() > 0 && rand.Float64() < r.FireChance}

	target := r.findNearestTarget(self, w)
	if target == nil {
		return action
	}

	delta := target.Location().Sub(self.Location())
	delta.Z = 0
	dist := delta.Length()
	if dist < 0.001 {
		return action
	}
	n := delta.Scale(1 / dist)

	var dir Vector3
	switch {
	case rand.Float64() < r.WanderChance:
		dir = Vector3{X: n.Y, Y: -n.X}
	case dist < target.Radius()*r.OrbitRatio:
		// 半径内: 横移動で周回（方向はボットごとに異なる）
		dir = Vector3{X: -n.Y * r.StrafeSign, Y: n.X * r.StrafeSign}
	default:
		// 遠距離: 接近
		dir = n
	}
	dir = addNoise(dir)

	rot := self.Rotation()
	action.Input.MoveForward = dot2(dir, rot.Forward())
	action.Input.MoveRight = dot2(dir, rot.Right())
	return action
}

// findNearestTarget は最寄りのProximityOwnerを探します。
func (r *RuleBotController) findNearestTarget(self *Character, w *World) *ProximityOwner {
	var nearest *ProximityOwner
	var nearestDist float32 = math.MaxFloat32

	for _, p := range w.ProximityOwners() {
		d := p.Location().DistanceTo(self.Location())
		if d < nearestDist {
			nearestDist = d
			nearest = p
		}
	}
	return nearest
}

func dot2(a, b Vector3) float32 {
	return a.X*b.X + a.Y*b.Y
}

// addNoise は移動方向に ±30度 のランダムノイズを加えます。
func addNoise(dir Vector3) Vector3 {
	noise := (rand.Float64()*2 - 1) * botNoiseAngle
	cos := float32(math.Cos(noise))
	sin := float32(math.Sin(noise))
	return Vector3{
		X: dir.X*cos - dir.Y*sin,
		Y: dir.X*sin + dir.Y*cos,
	}
}
