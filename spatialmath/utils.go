package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
)

// Clamp bounds a value to [min, max].
func Clamp(v, min, max float64) float64 {
	return math.Max(min, math.Min(v, max))
}

// ClampToLength scales a vector down to the given maximum length, preserving
// direction.
func ClampToLength(v r3.Vector, maxLength float64) r3.Vector {
	length := v.Norm()
	if length > maxLength && length > 0 {
		return v.Mul(maxLength / length)
	}
	return v
}

// Sign returns -1, 0 or 1 matching the sign of v.
func Sign(v float64) float64 {
	if v > 0 {
		return 1
	}
	if v < 0 {
		return -1
	}
	return 0
}

// Mod returns the positive remainder of a/b.
func Mod(a, b int) int {
	return ((a % b) + b) % b
}

// RoundToInt rounds to the nearest integer.
func RoundToInt(v float64) int {
	return int(math.Round(v))
}

// RoundToEvenInt rounds to the nearest even integer.
func RoundToEvenInt(v float64) int {
	return int(math.Round(v/2.0)) * 2
}

// SolveQuadratic returns the maximum real root of ax^2 + bx + c = 0, or zero
// when no real root exists.
func SolveQuadratic(a, b, c float64) float64 {
	discriminant := b*b - 4*a*c
	if discriminant < 0 {
		return 0
	}
	sqrtDisc := math.Sqrt(discriminant)
	return math.Max((-b+sqrtDisc)/(2*a), (-b-sqrtDisc)/(2*a))
}

// Square is faster than math.Pow(x, 2).
func Square(n float64) float64 {
	return n * n
}
