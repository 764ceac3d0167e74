// Package fake provides an in-memory hexapod model for tests and bring-up.
// IK is approximated by a reachability check on leg extension; FK places the
// tip with a planar three-joint chain.
package fake

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"

	"github.com/openlegged/locomotion/model"
)

// Leg is a fake model leg. It records desired tips and joints and reports a
// limit proximity derived from leg extension.
type Leg struct {
	id       int
	name     string
	group    int
	state    model.LegState
	geometry model.LegGeometry

	tip            r3.Vector
	desiredTip     r3.Vector
	joints         []float64
	desiredJoints  []float64
	packedJoints   []float64
	unpackedJoints []float64

	deltaZ float64

	// ProximityOverride, when non-negative, is returned by ApplyIK verbatim.
	ProximityOverride float64
}

// Hexapod is a fake six-legged model.
type Hexapod struct {
	legs        []model.Leg
	bearingLoad bool
}

// NewHexapod builds a six-legged fake model with legs spread at equal yaw
// spacing, alternating tripod groups, standing at the given body height.
func NewHexapod(bodyHeight float64) *Hexapod {
	geometryFor := func(stanceYaw float64, mirror float64) model.LegGeometry {
		return model.LegGeometry{
			HipLength:   0.05,
			FemurLength: 0.2,
			TibiaLength: 0.2,
			MinHipLift:  -math.Pi / 3,
			MaxHipLift:  math.Pi / 4,
			MinKneeBend: 0.1,
			MaxKneeBend: 2.8,
			YawLimit:    math.Pi / 6,
			StanceYaw:   stanceYaw,
			RootOffset:  r3.Vector{X: 0.12 * math.Cos(stanceYaw), Y: 0.12 * math.Sin(stanceYaw)},
			MirrorDir:   mirror,
		}
	}

	h := &Hexapod{bearingLoad: true}
	yaws := []float64{0.77, 0, -0.77}
	for l := 0; l < 3; l++ {
		for side := 0; side < 2; side++ {
			mirror := 1.0
			if side == 1 {
				mirror = -1.0
			}
			id := 2*l + side
			geom := geometryFor(yaws[l]*mirror, mirror)
			reach := geom.HipLength + geom.FemurLength + geom.TibiaLength*0.5
			tip := geom.RootOffset.Add(r3.Vector{
				X: reach * math.Cos(geom.StanceYaw),
				Y: reach * math.Sin(geom.StanceYaw),
				Z: -bodyHeight,
			})
			tip.X *= geom.MirrorDir
			leg := &Leg{
				id:                id,
				name:              fmt.Sprintf("leg_%d_%d", l, side),
				group:             id % 2,
				state:             model.Walking,
				geometry:          geom,
				tip:               tip,
				joints:            make([]float64, 3),
				packedJoints:      []float64{0, math.Pi / 2, 2.5},
				unpackedJoints:    []float64{0, 0.3, 1.2},
				ProximityOverride: -1,
			}
			h.legs = append(h.legs, leg)
		}
	}
	return h
}

// Legs returns the model legs ordered by ID.
func (h *Hexapod) Legs() []model.Leg { return h.legs }

// LegCount returns the number of legs.
func (h *Hexapod) LegCount() int { return len(h.legs) }

// LegsBearingLoad reports whether the legs support the body.
func (h *Hexapod) LegsBearingLoad() bool { return h.bearingLoad }

// SetBearingLoad toggles load bearing, which switches transition sequences
// between tripod-group and direct stepping.
func (h *Hexapod) SetBearingLoad(bearing bool) { h.bearingLoad = bearing }

// FakeLeg downcasts a model leg for test-side mutation.
func (h *Hexapod) FakeLeg(i int) *Leg { return h.legs[i].(*Leg) }

// ID implements model.Leg.
func (l *Leg) ID() int { return l.id }

// Name implements model.Leg.
func (l *Leg) Name() string { return l.name }

// Group implements model.Leg.
func (l *Leg) Group() int { return l.group }

// State implements model.Leg.
func (l *Leg) State() model.LegState { return l.state }

// SetState implements model.Leg.
func (l *Leg) SetState(state model.LegState) { l.state = state }

// DeltaZ implements model.Leg.
func (l *Leg) DeltaZ() float64 { return l.deltaZ }

// SetDeltaZ sets the impedance vertical offset read by the core.
func (l *Leg) SetDeltaZ(deltaZ float64) { l.deltaZ = deltaZ }

// Geometry implements model.Leg.
func (l *Leg) Geometry() model.LegGeometry { return l.geometry }

// SetGeometry replaces the leg geometry for tests.
func (l *Leg) SetGeometry(geom model.LegGeometry) { l.geometry = geom }

// CurrentTipPosition implements model.Leg.
func (l *Leg) CurrentTipPosition() r3.Vector { return l.tip }

// SetTipPosition force-places the tip, bypassing IK.
func (l *Leg) SetTipPosition(tip r3.Vector) { l.tip = tip }

// JointCount implements model.Leg.
func (l *Leg) JointCount() int { return len(l.joints) }

// JointPositions implements model.Leg.
func (l *Leg) JointPositions() []float64 {
	out := make([]float64, len(l.joints))
	copy(out, l.joints)
	return out
}

// PackedJointPositions implements model.Leg.
func (l *Leg) PackedJointPositions() []float64 { return l.packedJoints }

// UnpackedJointPositions implements model.Leg.
func (l *Leg) UnpackedJointPositions() []float64 { return l.unpackedJoints }

// SetDesiredJointPositions implements model.Leg.
func (l *Leg) SetDesiredJointPositions(positions []float64) {
	l.desiredJoints = make([]float64, len(positions))
	copy(l.desiredJoints, positions)
}

// SetDesiredTipPosition implements model.Leg.
func (l *Leg) SetDesiredTipPosition(tip r3.Vector) { l.desiredTip = tip }

// ApplyIK accepts the staged tip target and reports limit proximity: 1 at
// mid-extension falling linearly to 0 at either reachability limit.
func (l *Leg) ApplyIK() (float64, error) {
	l.tip = l.desiredTip
	if l.ProximityOverride >= 0 {
		return l.ProximityOverride, nil
	}
	geom := l.geometry
	root := geom.RootOffset
	root.X *= geom.MirrorDir
	length := l.tip.Sub(root).Norm()
	min := geom.MinLegLength()
	max := geom.MaxLegLength() + geom.HipLength
	mid := (min + max) / 2
	halfRange := (max - min) / 2
	if halfRange <= 0 {
		return 0, nil
	}
	proximity := 1 - math.Abs(length-mid)/halfRange
	return math.Max(0, math.Min(1, proximity)), nil
}

// ApplyFK places the tip with a planar hip-femur-tibia chain driven by the
// desired joint positions.
func (l *Leg) ApplyFK() {
	if len(l.desiredJoints) < 3 {
		return
	}
	copy(l.joints, l.desiredJoints)
	geom := l.geometry
	yaw := geom.StanceYaw + l.joints[0]
	lift := l.joints[1]
	knee := l.joints[2]
	horizontal := geom.HipLength + geom.FemurLength*math.Cos(lift) + geom.TibiaLength*math.Cos(lift+knee)
	vertical := -geom.FemurLength*math.Sin(lift) - geom.TibiaLength*math.Sin(lift+knee)
	root := geom.RootOffset
	root.X *= geom.MirrorDir
	l.tip = root.Add(r3.Vector{
		X: horizontal * math.Cos(yaw) * geom.MirrorDir,
		Y: horizontal * math.Sin(yaw),
		Z: vertical,
	})
}
