package vmath

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestDirection(t *testing.T) {
	tests := []struct {
		name    string
		base    r3.Vec
		tip     r3.Vec
		wantOK  bool
		wantDir r3.Vec
		wantLen float64
	}{
		{"along Y", r3.Vec{}, r3.Vec{Y: 4}, true, r3.Vec{Y: 1}, 4},
		{"along -X", r3.Vec{X: 2}, r3.Vec{X: -1}, true, r3.Vec{X: -1}, 3},
		{"coincident", r3.Vec{X: 1, Y: 1, Z: 1}, r3.Vec{X: 1, Y: 1, Z: 1}, false, r3.Vec{}, 0},
		{"below epsilon", r3.Vec{}, r3.Vec{Z: 0.0005}, false, r3.Vec{}, 0.0005},
		{"non-finite", r3.Vec{}, r3.Vec{X: math.Inf(1)}, false, r3.Vec{}, math.Inf(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, length, ok := Direction(tt.base, tt.tip, DefaultDirectionEpsilon)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !WithinVec(dir, tt.wantDir, 1e-9) {
				t.Errorf("dir = %v, want %v", dir, tt.wantDir)
			}
			if !math.IsInf(tt.wantLen, 0) && !Within(length, tt.wantLen, 1e-9) {
				t.Errorf("length = %v, want %v", length, tt.wantLen)
			}
		})
	}
}

func TestDepthSign(t *testing.T) {
	dir := r3.Vec{Y: 1}
	target := r3.Vec{Y: 10}

	if d := Depth(r3.Vec{Y: 12}, target, dir); !Within(d, 2, 1e-9) {
		t.Errorf("beyond target depth = %v, want 2", d)
	}
	if d := Depth(r3.Vec{Y: 7, X: 5}, target, dir); !Within(d, -3, 1e-9) {
		t.Errorf("short of target depth = %v, want -3", d)
	}
}

func TestOffset(t *testing.T) {
	got := Offset(Zero, AxisY, 0.4)
	if !WithinVec(got, r3.Vec{Y: -0.4}, 1e-12) {
		t.Errorf("Offset = %v, want {0 -0.4 0}", got)
	}
}

func TestFinite(t *testing.T) {
	if !Finite(r3.Vec{X: 1, Y: -2, Z: 3}) {
		t.Error("finite vector reported non-finite")
	}
	if Finite(r3.Vec{Y: math.NaN()}) {
		t.Error("NaN vector reported finite")
	}
}
