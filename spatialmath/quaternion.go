package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Norm returns the imaginary norm of the quaternion, i.e. the sqrt of the sum
// of the squares of the imaginary parts.
func Norm(q quat.Number) float64 {
	return math.Sqrt(q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
}

// Normalize scales a quaternion to unit length.
func Normalize(q quat.Number) quat.Number {
	length := math.Sqrt(q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	if math.Abs(length-1.0) < 1e-10 {
		return q
	}
	if length == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/length, q)
}

// Flip multiplies a quaternion by -1, returning a quaternion representing the
// same orientation but in the opposing octant.
func Flip(q quat.Number) quat.Number {
	return quat.Number{Real: -q.Real, Imag: -q.Imag, Jmag: -q.Jmag, Kmag: -q.Kmag}
}

// QuatDot returns the 4d dot product of two quaternions. Negative means the
// two lie in opposing octants of the double cover.
func QuatDot(q, o quat.Number) float64 {
	return q.Real*o.Real + q.Imag*o.Imag + q.Jmag*o.Jmag + q.Kmag*o.Kmag
}

// RotateVector rotates a vector by a unit quaternion.
func RotateVector(q quat.Number, v r3.Vector) r3.Vector {
	rotated := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vector{X: rotated.Imag, Y: rotated.Jmag, Z: rotated.Kmag}
}

// EulerToQuat converts roll/pitch/yaw angles (radians, ZYX convention) to a
// rotation quaternion.
func EulerToQuat(rpy r3.Vector) quat.Number {
	cr, sr := math.Cos(rpy.X/2), math.Sin(rpy.X/2)
	cp, sp := math.Cos(rpy.Y/2), math.Sin(rpy.Y/2)
	cy, sy := math.Cos(rpy.Z/2), math.Sin(rpy.Z/2)
	return quat.Number{
		Real: cy*cp*cr + sy*sp*sr,
		Imag: cy*cp*sr - sy*sp*cr,
		Jmag: cy*sp*cr + sy*cp*sr,
		Kmag: sy*cp*cr - cy*sp*sr,
	}
}

// QuatToEuler converts a rotation quaternion to roll/pitch/yaw angles in
// radians. Inverse of EulerToQuat away from the pitch poles.
func QuatToEuler(q quat.Number) r3.Vector {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	sinp := 2 * (w*y - x*z)
	var pitch float64
	if math.Abs(sinp) >= 1 {
		pitch = math.Copysign(math.Pi/2, sinp)
	} else {
		pitch = math.Asin(sinp)
	}
	return r3.Vector{
		X: math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y)),
		Y: pitch,
		Z: math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z)),
	}
}

// Slerp spherically interpolates between two unit quaternions. t of 0 returns
// q1, t of 1 returns q2; the shorter arc is always taken.
func Slerp(q1, q2 quat.Number, t float64) quat.Number {
	dot := QuatDot(q1, q2)
	if dot < 0 {
		q2 = Flip(q2)
		dot = -dot
	}
	if dot > 0.9995 {
		// Nearly parallel, fall back to normalised lerp.
		return Normalize(quat.Add(quat.Scale(1-t, q1), quat.Scale(t, q2)))
	}
	theta0 := math.Acos(dot)
	theta := theta0 * t
	s1 := math.Cos(theta) - dot*math.Sin(theta)/math.Sin(theta0)
	s2 := math.Sin(theta) / math.Sin(theta0)
	return Normalize(quat.Add(quat.Scale(s1, q1), quat.Scale(s2, q2)))
}

// QuatAlmostEqual reports whether two quaternions represent nearly the same
// orientation within tol, treating the double cover as equal.
func QuatAlmostEqual(q, o quat.Number, tol float64) bool {
	if QuatDot(q, o) < 0 {
		o = Flip(o)
	}
	return math.Abs(q.Real-o.Real) <= tol &&
		math.Abs(q.Imag-o.Imag) <= tol &&
		math.Abs(q.Jmag-o.Jmag) <= tol &&
		math.Abs(q.Kmag-o.Kmag) <= tol
}
