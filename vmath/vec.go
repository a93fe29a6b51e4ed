// Package vmath holds the vector helpers used for probe chain measurement
// All vectors are gonum r3.Vec in world or bone-local space
package vmath

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultDirectionEpsilon is the minimum base-to-tip distance for a usable probe direction
const DefaultDirectionEpsilon = 0.001

// AxisY is the bone-local reference axis translation offsets are applied along
var AxisY = r3.Vec{Y: 1}

// Zero is the canonical rest translation
var Zero = r3.Vec{}

// Direction returns the normalized base->tip vector and the base-tip distance
// ok is false when the distance is below eps or not finite, dir is zero in that case
func Direction(base, tip r3.Vec, eps float64) (dir r3.Vec, length float64, ok bool) {
	d := r3.Sub(tip, base)
	length = r3.Norm(d)
	if math.IsNaN(length) || math.IsInf(length, 0) || length < eps {
		return r3.Vec{}, length, false
	}
	return r3.Scale(1/length, d), length, true
}

// Depth is the scalar projection of (point - target) onto dir
// Positive when point lies beyond target along dir
func Depth(point, target, dir r3.Vec) float64 {
	return r3.Dot(r3.Sub(point, target), dir)
}

// Offset returns rest moved back along axis by amount
func Offset(rest, axis r3.Vec, amount float64) r3.Vec {
	return r3.Sub(rest, r3.Scale(amount, axis))
}

// Finite reports whether every component is a finite number
func Finite(v r3.Vec) bool {
	return IsFinite(v.X) && IsFinite(v.Y) && IsFinite(v.Z)
}

// IsFinite reports whether f is neither NaN nor infinite
func IsFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Within reports whether a and b differ by less than tol
func Within(a, b, tol float64) bool {
	return math.Abs(a-b) < tol
}

// WithinVec reports whether the distance between a and b is less than tol
func WithinVec(a, b r3.Vec, tol float64) bool {
	return r3.Norm(r3.Sub(a, b)) < tol
}
