// Package spatialmath defines the rigid transform and quaternion math used by
// the locomotion engines.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid transform: a translation paired with a unit rotation
// quaternion. The rotation is kept unit-norm; every operation that multiplies
// quaternions renormalises the result.
type Pose struct {
	Position r3.Vector
	Rotation quat.Number
}

// NewZeroPose returns the identity transform.
// The zero value of Pose has a zero rotation quaternion and is not a valid
// transform, so this should be used instead of Pose{}.
func NewZeroPose() Pose {
	return Pose{Rotation: quat.Number{Real: 1}}
}

// NewPose returns a pose from a translation and a rotation.
func NewPose(position r3.Vector, rotation quat.Number) Pose {
	return Pose{Position: position, Rotation: Normalize(rotation)}
}

// NewPoseFromEuler returns a pose from a translation and roll/pitch/yaw angles.
func NewPoseFromEuler(position, rpy r3.Vector) Pose {
	return Pose{Position: position, Rotation: EulerToQuat(rpy)}
}

// Add combines two poses: positions add and rotations multiply.
func (p Pose) Add(other Pose) Pose {
	return Pose{
		Position: p.Position.Add(other.Position),
		Rotation: Normalize(quat.Mul(p.Rotation, other.Rotation)),
	}
}

// Remove is the inverse of Add.
func (p Pose) Remove(other Pose) Pose {
	return Pose{
		Position: p.Position.Sub(other.Position),
		Rotation: Normalize(quat.Mul(p.Rotation, quat.Conj(other.Rotation))),
	}
}

// Invert returns the pose q such that p.Compose(q) is the identity.
func (p Pose) Invert() Pose {
	inv := quat.Conj(p.Rotation)
	return Pose{
		Position: RotateVector(inv, p.Position).Mul(-1),
		Rotation: inv,
	}
}

// Compose treats other as a transform in p's frame and returns the combined
// transform in the parent frame.
func (p Pose) Compose(other Pose) Pose {
	return Pose{
		Position: p.Position.Add(RotateVector(p.Rotation, other.Position)),
		Rotation: Normalize(quat.Mul(p.Rotation, other.Rotation)),
	}
}

// TransformVector maps a vector from p's frame into the parent frame.
func (p Pose) TransformVector(v r3.Vector) r3.Vector {
	return RotateVector(p.Rotation, v).Add(p.Position)
}

// InverseTransformVector maps a vector from the parent frame into p's frame.
func (p Pose) InverseTransformVector(v r3.Vector) r3.Vector {
	return RotateVector(quat.Conj(p.Rotation), v.Sub(p.Position))
}

// Interpolate scales the pose toward p from identity: the position linearly
// and the rotation by spherical linear interpolation. t is in [0,1].
func (p Pose) Interpolate(t float64) Pose {
	return Pose{
		Position: p.Position.Mul(t),
		Rotation: Slerp(quat.Number{Real: 1}, p.Rotation, t),
	}
}

// AlmostEqual reports whether two poses are within tol per component. The two
// quaternion double covers compare as equal.
func (p Pose) AlmostEqual(other Pose, tol float64) bool {
	d := p.Position.Sub(other.Position)
	if math.Abs(d.X) > tol || math.Abs(d.Y) > tol || math.Abs(d.Z) > tol {
		return false
	}
	return QuatAlmostEqual(p.Rotation, other.Rotation, tol)
}
