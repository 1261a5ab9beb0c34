package utils

import (
	"math"
	"testing"

	"multiplayer/server/domain"
)

func TestFiniteInput(t *testing.T) {
	ok := &domain.InputPayload{MoveForward: 1, MoveRight: -1, Turn: 0.5, TurnRate: 45, LookUp: -0.5, LookUpRate: 45}
	if !FiniteInput(ok) {
		t.Errorf("FiniteInput(%+v) = false, want true", ok)
	}

	nan := &domain.InputPayload{Turn: float32(math.NaN())}
	if FiniteInput(nan) {
		t.Error("FiniteInput(NaN) = true, want false")
	}

	inf := &domain.InputPayload{LookUpRate: float32(math.Inf(-1))}
	if FiniteInput(inf) {
		t.Error("FiniteInput(-Inf) = true, want false")
	}
}
