package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
	"go.viam.com/test"
)

func TestPoseAddRemove(t *testing.T) {
	base := NewPoseFromEuler(r3.Vector{X: 0.1, Y: -0.2, Z: 0.3}, r3.Vector{X: 0.2, Y: 0.1, Z: -0.4})
	delta := NewPoseFromEuler(r3.Vector{X: -0.05, Y: 0.3, Z: 0.01}, r3.Vector{X: -0.1, Y: 0.25, Z: 0.15})

	roundTrip := base.Add(delta).Remove(delta)
	test.That(t, roundTrip.AlmostEqual(base, 1e-9), test.ShouldBeTrue)

	// Removing a pose added to identity yields identity.
	identity := NewZeroPose()
	test.That(t, identity.Add(delta).Remove(delta).AlmostEqual(identity, 1e-9), test.ShouldBeTrue)
}

func TestPoseTransformRoundTrip(t *testing.T) {
	pose := NewPoseFromEuler(r3.Vector{X: 1, Y: 2, Z: 3}, r3.Vector{X: 0.3, Y: -0.2, Z: 0.7})
	v := r3.Vector{X: -0.4, Y: 0.9, Z: 0.1}

	out := pose.InverseTransformVector(pose.TransformVector(v))
	test.That(t, out.X, test.ShouldAlmostEqual, v.X, 1e-12)
	test.That(t, out.Y, test.ShouldAlmostEqual, v.Y, 1e-12)
	test.That(t, out.Z, test.ShouldAlmostEqual, v.Z, 1e-12)
}

func TestPoseInvert(t *testing.T) {
	pose := NewPoseFromEuler(r3.Vector{X: 0.5, Y: -1, Z: 2}, r3.Vector{X: 0.1, Y: 0.2, Z: 0.3})
	composed := pose.Compose(pose.Invert())
	test.That(t, composed.AlmostEqual(NewZeroPose(), 1e-12), test.ShouldBeTrue)
}

func TestSlerpEndpoints(t *testing.T) {
	identity := quat.Number{Real: 1}
	target := EulerToQuat(r3.Vector{X: 0.4, Y: -0.3, Z: 1.1})

	test.That(t, QuatAlmostEqual(Slerp(identity, target, 0), identity, 1e-12), test.ShouldBeTrue)
	test.That(t, QuatAlmostEqual(Slerp(identity, target, 1), target, 1e-12), test.ShouldBeTrue)

	// Midpoint rotates by half the angle.
	half := Slerp(identity, target, 0.5)
	test.That(t, QuatAlmostEqual(quat.Mul(half, half), target, 1e-9), test.ShouldBeTrue)
}

func TestEulerQuatRoundTrip(t *testing.T) {
	for _, rpy := range []r3.Vector{
		{X: 0.3},
		{Y: -0.5},
		{Z: 1.2},
		{X: 0.2, Y: 0.4, Z: -0.6},
		{X: -1.1, Y: 0.9, Z: 0.1},
	} {
		out := QuatToEuler(EulerToQuat(rpy))
		test.That(t, out.X, test.ShouldAlmostEqual, rpy.X, 1e-9)
		test.That(t, out.Y, test.ShouldAlmostEqual, rpy.Y, 1e-9)
		test.That(t, out.Z, test.ShouldAlmostEqual, rpy.Z, 1e-9)
	}
}

func TestRotateVector(t *testing.T) {
	// Quarter turn about z maps +x onto +y.
	q := EulerToQuat(r3.Vector{Z: math.Pi / 2})
	out := RotateVector(q, r3.Vector{X: 1})
	test.That(t, out.X, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, out.Y, test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, out.Z, test.ShouldAlmostEqual, 0, 1e-12)
}

func TestNormalize(t *testing.T) {
	q := quat.Number{Real: 2, Imag: 0, Jmag: 0, Kmag: 0}
	n := Normalize(q)
	test.That(t, n.Real, test.ShouldAlmostEqual, 1, 1e-12)

	// Zero quaternion falls back to identity rather than NaN.
	z := Normalize(quat.Number{})
	test.That(t, z.Real, test.ShouldEqual, 1.0)
}
