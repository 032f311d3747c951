package util

import (
	"math"
	"testing"
)

func TestRound(t *testing.T) {
	cases := []struct {
		in     float64
		places int32
		want   float64
	}{
		{99.93, 2, 99.93},
		{100.092, 2, 100.09},
		{0.0140000001, 4, 0.014},
		{2.0 / 3.0, 3, 0.667},
		{0.125, 2, 0.12},
		{-1.005, 1, -1.0},
		// tie on the decimal form; the binary value sits just below 2.675
		{2.675, 2, 2.68},
	}
	for _, c := range cases {
		if got := Round(c.in, c.places); got != c.want {
			t.Fatalf("Round(%v, %d) = %v, want %v", c.in, c.places, got, c.want)
		}
	}
}

func TestRoundNonFinite(t *testing.T) {
	if got := Round(math.NaN(), 2); !math.IsNaN(got) {
		t.Fatalf("expected NaN, got %v", got)
	}
	if got := Round(math.Inf(1), 2); !math.IsInf(got, 1) {
		t.Fatalf("expected +Inf, got %v", got)
	}
}

func TestClamp(t *testing.T) {
	if Clamp(2, 0.5, 1.5) != 1.5 || Clamp(0.1, 0.5, 1.5) != 0.5 || Clamp(1, 0.5, 1.5) != 1 {
		t.Fatalf("clamp bounds not applied")
	}
}
