package application

import "math"

// Vector3 はワールド座標 (X: 前, Y: 右, Z: 上) です。
type Vector3 struct {
	X, Y, Z float32
}

func (v Vector3) Add(o Vector3) Vector3 { return Vector3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vector3) Sub(o Vector3) Vector3 { return Vector3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vector3) Scale(s float32) Vector3 {
	return Vector3{v.X * s, v.Y * s, v.Z * s}
}

func (v Vector3) Length() float32 {
	return float32(math.Sqrt(float64(v.X*v.X + v.Y*v.Y + v.Z*v.Z)))
}

// DistanceTo は2点間のユークリッド距離を返します。
func (v Vector3) DistanceTo(o Vector3) float32 { return v.Sub(o).Length() }

// ClampLength は長さがmaxを超える場合に正規化してmaxに揃えます。
func (v Vector3) ClampLength(max float32) Vector3 {
	l := v.Length()
	if l <= max || l == 0 {
		return v
	}
	return v.Scale(max / l)
}

// Rotator は度数法の回転です。移動方向の計算にはYawのみを使います。
type Rotator struct {
	Pitch, Yaw float32
}

const (
	minPitch float32 = -89
	maxPitch float32 = 89
)

// AddYaw はYawを加算し[0, 360)に正規化します。
func (r *Rotator) AddYaw(delta float32) {
	yaw := math.Mod(float64(r.Yaw+delta), 360)
	if yaw < 0 {
		yaw += 360
	}
	r.Yaw = float32(yaw)
}

// AddPitch はPitchを加算し上下±89度にクランプします。
func (r *Rotator) AddPitch(delta float32) {
	r.Pitch = clamp(r.Pitch+delta, minPitch, maxPitch)
}

// Forward はYaw平面上の前方単位ベクトルです。
func (r Rotator) Forward() Vector3 {
	rad := float64(r.Yaw) * math.Pi / 180
	return Vector3{X: float32(math.Cos(rad)), Y: float32(math.Sin(rad))}
}

// Right はYaw平面上の右方向単位ベクトルです。
func (r Rotator) Right() Vector3 {
	rad := float64(r.Yaw) * math.Pi / 180
	return Vector3{X: float32(-math.Sin(rad)), Y: float32(math.Cos(rad))}
}

func clamp(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
