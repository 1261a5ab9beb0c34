package utils

import (
	"math"

	"multiplayer/server/domain"
)

// FiniteInput は全軸がNaN/Infを含まないかを返します。
func FiniteInput(p *domain.InputPayload) bool {
	return isFinite(p.MoveForward) && isFinite(p.MoveRight) &&
		isFinite(p.Turn) && isFinite(p.TurnRate) &&
		isFinite(p.LookUp) && isFinite(p.LookUpRate)
}

func isFinite(f float32) bool {
	v := float64(f)
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
