// Package walk implements the walk cycle: a global state machine
// coordinating all legs through starting, moving and stopping, and a per-leg
// step cycle engine generating C2-continuous tip trajectories.
package walk

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/openlegged/locomotion/gait"
	"github.com/openlegged/locomotion/model"
	"github.com/openlegged/locomotion/params"
	"github.com/openlegged/locomotion/spatialmath"
)

// ErrGeometryInfeasible is returned by Init when the configured step
// clearance or body clearance cannot be met by the leg geometry. Fatal.
var ErrGeometryInfeasible = errors.New("walk geometry infeasible")

// The step cycle exceeds the ground footprint in order to maintain velocity.
const footprintDownscale = 0.8

// Controller owns the walk cycle state machine and the per-leg steppers. It
// transforms desired body velocities into per-leg stride vectors and drives
// each stepper through the step cycle.
type Controller struct {
	logger golog.Logger
	p      params.Parameters
	g      gait.Gait
	mdl    model.Model

	timing Timing
	state  model.WalkState

	stepClearance     float64
	stepDepth         float64
	bodyClearance     float64
	maximumBodyHeight float64

	workspaceRadius     float64
	stanceRadius        float64
	footSpreadDistances []float64

	desiredLinearVelocity  r3.Vector
	desiredAngularVelocity float64

	maxLinearSpeed         float64
	maxAngularSpeed        float64
	maxLinearAcceleration  float64
	maxAngularAcceleration float64

	legsAtCorrectPhase     int
	legsCompletedFirstStep int

	steppers []*LegStepper
}

// NewController builds and initialises a walk controller for the given model
// and gait.
func NewController(logger golog.Logger, p params.Parameters, g gait.Gait, mdl model.Model) (*Controller, error) {
	c := &Controller{
		logger:        logger,
		p:             p,
		g:             g,
		mdl:           mdl,
		state:         model.Stopped,
		stepClearance: p.StepClearance,
		stepDepth:     p.StepDepth,
		bodyClearance: p.BodyClearance,
	}
	if err := c.init(); err != nil {
		return nil, err
	}
	return c, nil
}

// init derives the gait timing, the per-leg default stance positions and the
// velocity/acceleration limits from the leg geometry.
func (c *Controller) init() error {
	c.setGaitTiming()

	legs := c.mdl.Legs()
	geom := legs[0].Geometry()

	minKnee := math.Max(0.0, geom.MinKneeBend)
	maxHipDrop := math.Min(-geom.MinHipLift, math.Pi/2.0-
		math.Atan2(geom.TibiaLength*math.Sin(minKnee),
			geom.FemurLength+geom.TibiaLength*math.Cos(minKnee)))

	c.maximumBodyHeight = geom.FemurLength*math.Sin(maxHipDrop) + geom.TibiaLength*
		math.Sin(maxHipDrop+spatialmath.Clamp(math.Pi/2.0-maxHipDrop, minKnee, geom.MaxKneeBend))

	if c.stepClearance*c.maximumBodyHeight > 2.0*geom.FemurLength {
		return errors.Wrapf(ErrGeometryInfeasible,
			"step clearance %.3f exceeds reachable lift for femur %.3f", c.stepClearance, geom.FemurLength)
	}

	// Without an explicit body clearance, pick the value which maximises the
	// circular footprint for the configured step clearance.
	if c.bodyClearance == -1 {
		c.bodyClearance = geom.MinLegLength()/c.maximumBodyHeight +
			c.p.StepCurvatureAllowance*c.stepClearance
	}

	c.footSpreadDistances = make([]float64, len(legs))
	c.workspaceRadius = math.Inf(1)

	identityTips := make([]r3.Vector, len(legs))
	for i, leg := range legs {
		lg := leg.Geometry()
		bodyHeight := c.bodyClearance * c.maximumBodyHeight

		// Largest circle footprint inside the pie segment defined by the body
		// clearance and the yaw limits.
		legDrop := math.Asin(bodyHeight / lg.MaxLegLength())
		horizontalRange := 0.0
		rad := math.Inf(1)

		if legDrop > -lg.MinHipLift {
			// Leg can't be straight and touching the ground at this height.
			extraHeight := bodyHeight - lg.FemurLength*math.Sin(-lg.MinHipLift)
			rad = math.Sqrt(spatialmath.Square(lg.TibiaLength) - spatialmath.Square(extraHeight))
			horizontalRange = lg.FemurLength*math.Cos(-lg.MinHipLift) + rad
		} else {
			horizontalRange = math.Sqrt(spatialmath.Square(lg.MaxLegLength()) - spatialmath.Square(bodyHeight))
		}
		horizontalRange *= c.p.LegSpanScale

		cotanTheta := math.Tan(0.5*math.Pi - lg.YawLimit)
		rad = math.Min(rad, spatialmath.SolveQuadratic(
			spatialmath.Square(cotanTheta), 2.0*horizontalRange, -spatialmath.Square(horizontalRange)))
		if rad <= 0.0 {
			return errors.Wrapf(ErrGeometryInfeasible, "leg %s footprint radius not positive", leg.Name())
		}

		// The step clearance must not lift the tip beyond the leg's reach.
		legTipBodyClearance := math.Max(0.0, c.bodyClearance-c.p.StepCurvatureAllowance*c.stepClearance) *
			c.maximumBodyHeight
		if legTipBodyClearance < lg.MinLegLength() {
			rad = math.Min(rad,
				(horizontalRange-math.Sqrt(spatialmath.Square(lg.MinLegLength())-spatialmath.Square(legTipBodyClearance)))/2.0)
		}
		if rad <= 0.0 {
			return errors.Wrapf(ErrGeometryInfeasible,
				"leg %s step clearance too high to allow any footprint", leg.Name())
		}

		c.footSpreadDistances[i] = lg.HipLength + horizontalRange - rad
		c.workspaceRadius = math.Min(c.workspaceRadius, rad*footprintDownscale)

		tip := lg.RootOffset.Add(r3.Vector{
			X: c.footSpreadDistances[i] * math.Cos(lg.StanceYaw),
			Y: c.footSpreadDistances[i] * math.Sin(lg.StanceYaw),
			Z: -bodyHeight,
		})
		tip.X *= lg.MirrorDir
		identityTips[i] = tip
	}

	// Shrink overlapping footprints between neighbouring legs.
	minGap := math.Inf(1)
	for i := range identityTips {
		for j := i + 1; j < len(identityTips); j++ {
			diff := identityTips[i].Sub(identityTips[j])
			diff.Z = 0.0
			minGap = math.Min(minGap, diff.Norm()-2.0*c.workspaceRadius)
		}
	}
	if minGap < 0.0 {
		c.workspaceRadius += minGap * 0.5
	}
	if c.workspaceRadius <= 0.0 {
		return errors.Wrap(ErrGeometryInfeasible, "stance footprints fully overlap")
	}

	// Turning on the spot still has a meaningful speed argument: speed refers
	// to the outer leg, so the stance radius is the mean horizontal tip reach.
	total := 0.0
	for _, tip := range identityTips {
		total += math.Hypot(tip.X, tip.Y)
	}
	c.stanceRadius = total / float64(len(identityTips))

	onGroundRatio := c.timing.OnGroundRatio()
	c.maxLinearSpeed = 2.0 * c.workspaceRadius * c.timing.StepFrequency / onGroundRatio
	c.maxAngularSpeed = c.maxLinearSpeed / c.stanceRadius

	c.maxLinearAcceleration = c.p.MaxLinearAcceleration
	if c.maxLinearAcceleration == -1 {
		// The tip of the last leg to make its first swing must not move more
		// than one footprint radius before that swing starts (s = a*t^2/2).
		t := (float64(c.timing.PhaseLength) - float64(c.timing.SwingLength())*0.5) * c.timing.TimeDelta
		c.maxLinearAcceleration = 2.0 * c.workspaceRadius / spatialmath.Square(t)
	}
	c.maxAngularAcceleration = c.maxLinearAcceleration / c.stanceRadius

	swingHeight := c.stepClearance * c.maximumBodyHeight
	stanceDepth := c.stepDepth * c.maximumBodyHeight

	c.steppers = make([]*LegStepper, len(legs))
	normaliser := float64(c.timing.PhaseLength) / float64(c.g.BasePhaseLength())
	for i, leg := range legs {
		stepper := NewLegStepper(c.logger, leg.ID(), c.timing, identityTips[i], swingHeight, stanceDepth)
		multiplier := 0
		if leg.ID() < len(c.g.OffsetMultiplier) {
			multiplier = c.g.OffsetMultiplier[leg.ID()]
		}
		offset := spatialmath.RoundToInt(float64(c.g.PhaseOffset*multiplier) * normaliser)
		stepper.SetPhaseOffset(spatialmath.Mod(offset, c.timing.PhaseLength))
		c.steppers[i] = stepper
	}

	c.logger.Infof(
		"walk controller ready: phase_length=%d swing=[%d,%d) workspace_radius=%.4f max_speed=%.4f",
		c.timing.PhaseLength, c.timing.SwingStart, c.timing.SwingEnd, c.workspaceRadius, c.maxLinearSpeed)
	return nil
}

// setGaitTiming normalises the base gait so a full step cycle spans
// approximately 1/step_frequency of wall time in whole ticks, then recomputes
// the step frequency from the rounded phase length.
func (c *Controller) setGaitTiming() {
	raw := 1.0 / (c.p.StepFrequency * c.p.TimeDelta)
	phaseLength := spatialmath.RoundToEvenInt(raw)
	swingLength := spatialmath.RoundToInt(float64(phaseLength) * c.g.SwingRatio())

	c.timing = Timing{
		PhaseLength:   phaseLength,
		SwingStart:    phaseLength - swingLength,
		SwingEnd:      phaseLength,
		StanceStart:   phaseLength,
		StanceEnd:     phaseLength - swingLength,
		StepFrequency: 1.0 / (float64(phaseLength) * c.p.TimeDelta),
		TimeDelta:     c.p.TimeDelta,
	}
}

// Timing returns the immutable walk cycle timing snapshot.
func (c *Controller) Timing() Timing { return c.timing }

// State returns the current walk cycle state.
func (c *Controller) State() model.WalkState { return c.state }

// WorkspaceRadius is the minimum per-leg footprint radius.
func (c *Controller) WorkspaceRadius() float64 { return c.workspaceRadius }

// BodyHeight is the resolved body clearance above the default tip plane.
func (c *Controller) BodyHeight() float64 { return c.bodyClearance * c.maximumBodyHeight }

// MaximumBodyHeight is the tallest stance the leg geometry can reach.
func (c *Controller) MaximumBodyHeight() float64 { return c.maximumBodyHeight }

// DesiredLinearVelocity is the slew-limited commanded linear velocity.
func (c *Controller) DesiredLinearVelocity() r3.Vector { return c.desiredLinearVelocity }

// DesiredAngularVelocity is the slew-limited commanded angular velocity.
func (c *Controller) DesiredAngularVelocity() float64 { return c.desiredAngularVelocity }

// Stepper returns the step cycle engine for leg index i.
func (c *Controller) Stepper(i int) *LegStepper { return c.steppers[i] }

// Steppers returns all step cycle engines ordered like the model legs.
func (c *Controller) Steppers() []*LegStepper { return c.steppers }

// Update advances the walk cycle one tick. Inputs are normalised desired body
// velocities (magnitudes at most 1; larger inputs are clamped silently).
func (c *Controller) Update(linearInput r3.Vector, angularInput float64) {
	onGroundRatio := c.timing.OnGroundRatio()

	linearInput.Z = 0
	linearInput = spatialmath.ClampToLength(linearInput, params.ThrottleThreshold)
	angularInput = spatialmath.Clamp(angularInput, -params.ThrottleThreshold, params.ThrottleThreshold)

	// While stopping, the commanded velocity is pinned at zero so the legs
	// can land their final steps.
	var commandedLinear r3.Vector
	var commandedAngular float64
	if c.state != model.Stopping {
		commandedLinear = linearInput.Mul(2.0 * c.workspaceRadius * c.timing.StepFrequency / onGroundRatio)
		commandedAngular = angularInput * c.maxAngularSpeed
	}
	commandedLinear = spatialmath.ClampToLength(commandedLinear, c.maxLinearSpeed)
	commandedAngular = spatialmath.Clamp(commandedAngular, -c.maxAngularSpeed, c.maxAngularSpeed)

	// Slew-rate limit both velocities.
	linearDiff := commandedLinear.Sub(c.desiredLinearVelocity)
	if norm := linearDiff.Norm(); norm > 0 {
		c.desiredLinearVelocity = c.desiredLinearVelocity.Add(
			linearDiff.Mul(math.Min(1.0, c.maxLinearAcceleration*c.timing.TimeDelta/norm)))
	}
	angularDiff := commandedAngular - c.desiredAngularVelocity
	if diff := math.Abs(angularDiff); diff > 0 {
		c.desiredAngularVelocity += angularDiff * math.Min(1.0, c.maxAngularAcceleration*c.timing.TimeDelta/diff)
	}

	hasCommand := commandedLinear.Norm() > 0 || commandedAngular != 0

	c.updateWalkState(hasCommand)
	c.updateLegPhases()
	c.updateStepStates()
	c.updateTipPositions()
}

// updateWalkState runs the walk cycle state machine once per tick, before any
// leg phase advances, so every leg sees the same state for the whole tick.
func (c *Controller) updateWalkState(hasCommand bool) {
	legCount := c.mdl.LegCount()
	switch {
	case c.state == model.Stopped && hasCommand:
		c.state = model.Starting
		for _, stepper := range c.steppers {
			stepper.SetPhase(stepper.PhaseOffset() - 1)
		}
		c.logger.Debug("walk state: stopped -> starting")

	case c.state == model.Starting &&
		c.legsAtCorrectPhase == legCount && c.legsCompletedFirstStep == legCount:
		c.legsAtCorrectPhase = 0
		c.legsCompletedFirstStep = 0
		c.state = model.Moving
		c.logger.Debug("walk state: starting -> moving")

	case c.state == model.Moving && !hasCommand:
		c.state = model.Stopping
		c.logger.Debug("walk state: moving -> stopping")

	case c.state == model.Stopping && c.legsAtCorrectPhase == legCount:
		c.legsAtCorrectPhase = 0
		c.state = model.Stopped
		c.logger.Debug("walk state: stopping -> stopped")
	}
}

// updateLegPhases computes stride vectors and advances each leg's phase with
// the bookkeeping its walk state demands.
func (c *Controller) updateLegPhases() {
	legCount := c.mdl.LegCount()
	swingEndWrapped := spatialmath.Mod(c.timing.SwingEnd, c.timing.PhaseLength)

	for i := range c.steppers {
		stepper := c.steppers[i]

		// Stride in the walk frame: linear motion plus the tangential
		// component of body rotation at this tip.
		tip := stepper.CurrentTipPosition()
		stride := c.desiredLinearVelocity.Add(
			r3.Vector{X: tip.Y, Y: -tip.X}.Mul(c.desiredAngularVelocity))
		stride = stride.Mul(c.timing.OnGroundRatio() / c.timing.StepFrequency)
		stepper.UpdateStride(stride)

		switch c.state {
		case model.Starting:
			stepper.IteratePhase()

			// Check for completed first steps only once every leg reached its
			// correct phase.
			if c.legsAtCorrectPhase == legCount {
				if stepper.Phase() == swingEndWrapped && !stepper.CompletedFirstStep() {
					stepper.SetCompletedFirstStep(true)
					c.legsCompletedFirstStep++
				}
			}

			// A leg whose offset lands inside the swing window holds stance
			// until the cycle carries it to the swing end.
			if !stepper.AtCorrectPhase() {
				offset := stepper.PhaseOffset()
				if offset > c.timing.SwingStart && offset < c.timing.SwingEnd {
					if stepper.Phase() == swingEndWrapped {
						stepper.SetAtCorrectPhase(true)
						c.legsAtCorrectPhase++
					} else {
						stepper.SetStepState(model.ForceStance)
					}
				} else {
					stepper.SetAtCorrectPhase(true)
					c.legsAtCorrectPhase++
				}
			}

		case model.Stopping:
			if !stepper.AtCorrectPhase() {
				stepper.IteratePhase()

				// The reference leg only meets target after completing its
				// extra step and returning to zero phase.
				if stepper.legID == 0 && stepper.StepState() == model.ForceStop && stepper.Phase() == 0 {
					stepper.SetAtCorrectPhase(true)
					c.legsAtCorrectPhase++
					stepper.SetStepState(model.Stance)
				}
			}

			// Every other leg makes one extra step after the stopping signal,
			// landing at the swing end with a zero stride.
			if stepper.StrideVector().Norm() == 0 && stepper.Phase() == swingEndWrapped {
				stepper.SetStepState(model.ForceStop)
				if stepper.legID != 0 && !stepper.AtCorrectPhase() {
					stepper.SetAtCorrectPhase(true)
					c.legsAtCorrectPhase++
				}
			}

		case model.Moving:
			stepper.IteratePhase()
			stepper.SetAtCorrectPhase(false)

		case model.Stopped:
			stepper.SetAtCorrectPhase(false)
			stepper.SetCompletedFirstStep(false)
			stepper.SetPhase(0)
			stepper.SetStepState(model.Stance)
		}
	}
}

// updateStepStates selects each leg's step sub-state from its phase, leaving
// forced states in place.
func (c *Controller) updateStepStates() {
	for _, stepper := range c.steppers {
		switch stepper.StepState() {
		case model.ForceStance:
			// A forced stance lasts one tick; the walk state machine reapplies
			// it for as long as the leg is out of phase.
			stepper.SetStepState(model.Stance)
		case model.ForceStop:
			// Holds until the walk state machine clears it.
		default:
			if stepper.Phase() >= c.timing.SwingStart && stepper.Phase() < c.timing.SwingEnd {
				stepper.SetStepState(model.Swing)
			} else {
				stepper.SetStepState(model.Stance)
			}
		}
	}
}

// updateTipPositions advances the trajectory of every walking leg.
func (c *Controller) updateTipPositions() {
	if c.state == model.Stopped {
		return
	}
	for i, leg := range c.mdl.Legs() {
		if leg.State() != model.Walking {
			continue
		}
		c.steppers[i].UpdatePosition()
	}
}

// UpdateManual drives the tips of manually controlled legs directly from
// velocity inputs, keeping each tip within its workspace sphere about the
// default position.
func (c *Controller) UpdateManual(legIndex int, tipVelocity r3.Vector) {
	if legIndex < 0 || legIndex >= len(c.steppers) {
		return
	}
	leg := c.mdl.Legs()[legIndex]
	if leg.State() != model.Manual {
		return
	}
	stepper := c.steppers[legIndex]
	next := stepper.CurrentTipPosition().Add(tipVelocity.Mul(c.timing.TimeDelta))
	offset := next.Sub(stepper.DefaultTipPosition())
	if offset.Norm() > c.workspaceRadius {
		offset = spatialmath.ClampToLength(offset, c.workspaceRadius)
		next = stepper.DefaultTipPosition().Add(offset)
	}
	stepper.SetCurrentTipPosition(next)
}
