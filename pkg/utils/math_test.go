package utils

import (
	"math"
	"testing"
)

func TestNormalizeL2(t *testing.T) {
	v := []float32{3, 4}
	norm := NormalizeL2(v)
	if math.Abs(norm-5) > 1e-9 {
		t.Errorf("norm = %v, want 5", norm)
	}
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("normalized = %v", v)
	}

	zero := []float32{0, 0, 0}
	if NormalizeL2(zero) != 0 || !IsZeroVector(zero) {
		t.Errorf("zero vector should stay zero, got %v", zero)
	}
}
