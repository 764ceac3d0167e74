// Package model defines the interfaces through which the locomotion core
// reads and drives the external robot model, along with the state enums
// shared by the walking and posing engines. The kinematic model itself, the
// IK solver and the actuator drivers live behind these interfaces.
package model

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// ImuData is one sample from the inertial measurement unit. The core reads
// the latest sample each tick and tolerates one tick of staleness.
type ImuData struct {
	Orientation        quat.Number
	LinearAcceleration r3.Vector
	AngularVelocity    r3.Vector
}

// NewImuData returns a sample with an identity orientation.
func NewImuData() ImuData {
	return ImuData{Orientation: quat.Number{Real: 1}}
}

// LegGeometry describes the reachable envelope of one leg, used to derive the
// walking workspace. Angles are radians, lengths metres.
type LegGeometry struct {
	HipLength   float64
	FemurLength float64
	TibiaLength float64

	MinHipLift  float64 // negative: maximum hip drop
	MaxHipLift  float64
	MinKneeBend float64
	MaxKneeBend float64

	YawLimit   float64 // half-width of the reachable yaw sector about StanceYaw
	StanceYaw  float64
	RootOffset r3.Vector
	MirrorDir  float64 // -1 mirrors the stance position across the body x axis
}

// MinLegLength is the shortest hip-to-tip distance the leg can reach.
func (g LegGeometry) MinLegLength() float64 {
	minKnee := math.Max(0, g.MinKneeBend)
	return math.Sqrt(g.FemurLength*g.FemurLength + g.TibiaLength*g.TibiaLength -
		2*g.FemurLength*g.TibiaLength*math.Cos(math.Pi-g.MaxKneeBend+minKnee))
}

// MaxLegLength is the longest hip-to-tip distance the leg can reach.
func (g LegGeometry) MaxLegLength() float64 {
	minKnee := math.Max(0, g.MinKneeBend)
	return math.Sqrt(g.FemurLength*g.FemurLength + g.TibiaLength*g.TibiaLength -
		2*g.FemurLength*g.TibiaLength*math.Cos(math.Pi-minKnee))
}

// Leg is one leg of the external robot model. The core reads its state and
// writes desired tip positions; the model owns IK/FK and the actuators.
type Leg interface {
	// ID is a stable index; leg 0 is the walk reference leg.
	ID() int
	Name() string

	// Group is the tripod group (0 or 1) used for coordinated stepping.
	Group() int

	State() LegState
	SetState(state LegState)

	// DeltaZ is the per-tick vertical offset requested by the impedance
	// controller for this leg.
	DeltaZ() float64

	Geometry() LegGeometry

	CurrentTipPosition() r3.Vector

	JointCount() int
	JointPositions() []float64
	PackedJointPositions() []float64
	UnpackedJointPositions() []float64
	SetDesiredJointPositions(positions []float64)

	// SetDesiredTipPosition stages a tip target for the next ApplyIK call.
	SetDesiredTipPosition(tip r3.Vector)

	// ApplyIK solves for the staged tip target and returns the limit
	// proximity: 1 at the workspace centre falling to 0 at the reachability
	// limit.
	ApplyIK() (float64, error)

	// ApplyFK updates the tip position from the desired joint positions.
	ApplyFK()
}

// Model is the external robot model collaborator.
type Model interface {
	Legs() []Leg
	LegCount() int

	// LegsBearingLoad reports whether the legs currently support the body,
	// which forces transition sequences to step in tripod groups.
	LegsBearingLoad() bool
}
