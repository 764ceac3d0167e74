package walk

import (
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"

	"github.com/openlegged/locomotion/bezier"
	"github.com/openlegged/locomotion/model"
	"github.com/openlegged/locomotion/spatialmath"
)

// Timing is an immutable snapshot of the walk cycle scalars a leg stepper
// needs. It is computed once at init and copied into each stepper, so
// steppers never hold a reference back to the controller.
type Timing struct {
	PhaseLength   int
	SwingStart    int
	SwingEnd      int
	StanceStart   int
	StanceEnd     int
	StepFrequency float64
	TimeDelta     float64
}

// SwingLength is the number of ticks in the swing period.
func (t Timing) SwingLength() int { return t.SwingEnd - t.SwingStart }

// StanceLength is the number of ticks in the steady-state stance period.
func (t Timing) StanceLength() int {
	return spatialmath.Mod(t.StanceEnd-t.StanceStart, t.PhaseLength)
}

// OnGroundRatio is the fraction of the step cycle a leg spends grounded.
func (t Timing) OnGroundRatio() float64 {
	return float64(t.PhaseLength-t.SwingLength()) / float64(t.PhaseLength)
}

// LegStepper drives one leg's tip through the step cycle. The tip trajectory
// is the concatenation of three quartic Bezier curves (primary swing,
// secondary swing, stance) whose control nodes are derived so that position,
// velocity and acceleration are continuous across both seams. The stepper
// integrates curve derivatives each tick rather than resampling positions,
// which keeps the emitted tip velocity well defined.
type LegStepper struct {
	logger golog.Logger
	timing Timing
	legID  int

	phase       int
	phaseOffset int
	stepState   model.StepState

	atCorrectPhase     bool
	completedFirstStep bool

	strideVector r3.Vector
	swingHeight  float64
	stanceDepth  float64

	swingDeltaT  float64
	stanceDeltaT float64

	defaultTipPosition      r3.Vector
	currentTipPosition      r3.Vector
	currentTipVelocity      r3.Vector
	swingOriginTipPosition  r3.Vector
	stanceOriginTipPosition r3.Vector

	swing1Nodes [5]r3.Vector
	swing2Nodes [5]r3.Vector
	stanceNodes [5]r3.Vector
}

// NewLegStepper returns a stepper for the given leg based at the identity
// (default stance) tip position.
func NewLegStepper(logger golog.Logger, legID int, timing Timing, identityTip r3.Vector, swingHeight, stanceDepth float64) *LegStepper {
	return &LegStepper{
		logger:             logger,
		timing:             timing,
		legID:              legID,
		stepState:          model.Stance,
		swingHeight:        swingHeight,
		stanceDepth:        stanceDepth,
		defaultTipPosition: identityTip,
		currentTipPosition: identityTip,
	}
}

// Phase returns the current step cycle phase.
func (s *LegStepper) Phase() int { return s.phase }

// SetPhase overrides the step cycle phase.
func (s *LegStepper) SetPhase(phase int) { s.phase = phase }

// PhaseOffset returns the gait phase offset assigned at init.
func (s *LegStepper) PhaseOffset() int { return s.phaseOffset }

// SetPhaseOffset assigns the gait phase offset.
func (s *LegStepper) SetPhaseOffset(offset int) { s.phaseOffset = offset }

// StepState returns the current step cycle sub-state.
func (s *LegStepper) StepState() model.StepState { return s.stepState }

// SetStepState overrides the step cycle sub-state.
func (s *LegStepper) SetStepState(state model.StepState) { s.stepState = state }

// AtCorrectPhase reports whether the leg satisfies the walk state's phase
// requirement.
func (s *LegStepper) AtCorrectPhase() bool { return s.atCorrectPhase }

// SetAtCorrectPhase sets the phase requirement flag.
func (s *LegStepper) SetAtCorrectPhase(ok bool) { s.atCorrectPhase = ok }

// CompletedFirstStep reports whether the leg finished its first swing since
// the walker started.
func (s *LegStepper) CompletedFirstStep() bool { return s.completedFirstStep }

// SetCompletedFirstStep sets the first step flag.
func (s *LegStepper) SetCompletedFirstStep(done bool) { s.completedFirstStep = done }

// StrideVector returns the current stride vector.
func (s *LegStepper) StrideVector() r3.Vector { return s.strideVector }

// UpdateStride sets the stride vector, zeroing any vertical component.
func (s *LegStepper) UpdateStride(stride r3.Vector) {
	s.strideVector = r3.Vector{X: stride.X, Y: stride.Y}
}

// SwingHeight is the tip apex height above the swing origin.
func (s *LegStepper) SwingHeight() float64 { return s.swingHeight }

// DefaultTipPosition is the nominal stance centre for this leg.
func (s *LegStepper) DefaultTipPosition() r3.Vector { return s.defaultTipPosition }

// SetDefaultTipPosition moves the nominal stance centre; the pose composer
// edits this when the stance changes.
func (s *LegStepper) SetDefaultTipPosition(tip r3.Vector) { s.defaultTipPosition = tip }

// CurrentTipPosition is the tip position in the walk frame as of the last
// update.
func (s *LegStepper) CurrentTipPosition() r3.Vector { return s.currentTipPosition }

// SetCurrentTipPosition overrides the tip position in the walk frame.
func (s *LegStepper) SetCurrentTipPosition(tip r3.Vector) { s.currentTipPosition = tip }

// CurrentTipVelocity is the tip velocity emitted by the last update.
func (s *LegStepper) CurrentTipVelocity() r3.Vector { return s.currentTipVelocity }

// Swing1Node returns control node i of the primary swing curve.
func (s *LegStepper) Swing1Node(i int) r3.Vector { return s.swing1Nodes[i] }

// Swing2Node returns control node i of the secondary swing curve.
func (s *LegStepper) Swing2Node(i int) r3.Vector { return s.swing2Nodes[i] }

// StanceNode returns control node i of the stance curve.
func (s *LegStepper) StanceNode(i int) r3.Vector { return s.stanceNodes[i] }

// IteratePhase advances the phase one tick, wrapping at the phase length.
func (s *LegStepper) IteratePhase() {
	s.phase = spatialmath.Mod(s.phase+1, s.timing.PhaseLength)
}

// calculateDeltaT returns the bezier time step for a sub-phase of the given
// tick length. The iteration count is forced even so the swing splits cleanly
// across its two curves.
func (s *LegStepper) calculateDeltaT(state model.StepState, length int) float64 {
	t := s.timing
	numIterations := 2 * spatialmath.RoundToInt(
		(float64(length)/float64(t.PhaseLength))/(t.StepFrequency*t.TimeDelta)/2.0)
	if numIterations < 2 {
		numIterations = 2
	}
	if state == model.Swing {
		return 2.0 / float64(numIterations)
	}
	return 1.0 / float64(numIterations)
}

// generateStanceControlNodes populates the stance curve nodes for the given
// stride. Horizontal nodes give approximately constant velocity; vertical
// nodes hold acceleration continuity at both stance seams.
func (s *LegStepper) generateStanceControlNodes(stride r3.Vector) {
	origin := s.stanceOriginTipPosition

	s.stanceNodes[0] = origin
	s.stanceNodes[4] = origin.Sub(stride)
	span := s.stanceNodes[0].Sub(s.stanceNodes[4])
	s.stanceNodes[1] = s.stanceNodes[4].Add(span.Mul(0.75))
	s.stanceNodes[2] = s.stanceNodes[4].Add(span.Mul(0.5))
	s.stanceNodes[3] = s.stanceNodes[4].Add(span.Mul(0.25))

	s.stanceNodes[0].Z = origin.Z
	s.stanceNodes[4].Z = s.defaultTipPosition.Z
	s.stanceNodes[2].Z = origin.Z - s.stanceDepth
	s.stanceNodes[1].Z = (s.stanceNodes[0].Z + s.stanceNodes[2].Z) / 2.0
	s.stanceNodes[3].Z = (s.stanceNodes[4].Z + s.stanceNodes[2].Z) / 2.0
}

// generateSwingControlNodes populates both swing curves. The stance nodes
// must describe the adjacent stance curves: on entry to swing they are the
// previous stance, for the second half they are regenerated as a forecast of
// the next stance. bezierScaler carries derivatives across the differing
// stance/swing time scales.
func (s *LegStepper) generateSwingControlNodes() {
	bezierScaler := s.stanceDeltaT / s.swingDeltaT

	stanceExitVel := s.stanceNodes[4].Sub(s.stanceNodes[3])
	stanceEntryVel := s.stanceNodes[0].Sub(s.stanceNodes[1])

	s.swing1Nodes[0] = s.swingOriginTipPosition
	s.swing1Nodes[1] = s.swing1Nodes[0].Add(stanceExitVel.Mul(bezierScaler))
	s.swing1Nodes[2] = s.swing1Nodes[1].Add(s.swing1Nodes[1].Sub(s.swing1Nodes[0]))
	s.swing1Nodes[4] = s.defaultTipPosition
	s.swing1Nodes[3] = s.swing1Nodes[2].Add(s.swing1Nodes[4].Sub(s.swing1Nodes[2]).Mul(0.5))

	s.swing2Nodes[0] = s.swing1Nodes[4]
	s.swing2Nodes[1] = s.swing2Nodes[0].Add(s.swing2Nodes[0].Sub(s.swing1Nodes[3]))
	s.swing2Nodes[3] = s.stanceNodes[0].Add(stanceEntryVel.Mul(bezierScaler))
	s.swing2Nodes[2] = s.swing2Nodes[3].Add(s.swing2Nodes[3].Sub(s.stanceNodes[0]))
	s.swing2Nodes[4] = s.stanceNodes[0]

	s.swing1Nodes[0].Z = s.swingOriginTipPosition.Z
	s.swing1Nodes[1].Z = s.swing1Nodes[0].Z + bezierScaler*(s.stanceNodes[4].Z-s.stanceNodes[3].Z)
	s.swing1Nodes[4].Z = s.swingOriginTipPosition.Z + s.swingHeight
	s.swing1Nodes[2].Z = s.swing1Nodes[0].Z + 2.0*bezierScaler*(s.stanceNodes[4].Z-s.stanceNodes[3].Z)
	s.swing1Nodes[3].Z = s.swing1Nodes[4].Z

	s.swing2Nodes[0].Z = s.swing1Nodes[4].Z
	s.swing2Nodes[1].Z = s.swing2Nodes[0].Z
	s.swing2Nodes[2].Z = s.stanceNodes[0].Z + 2.0*bezierScaler*(s.stanceNodes[0].Z-s.stanceNodes[1].Z)
	s.swing2Nodes[3].Z = s.stanceNodes[0].Z + bezierScaler*(s.stanceNodes[0].Z-s.stanceNodes[1].Z)
	s.swing2Nodes[4].Z = s.stanceNodes[0].Z
}

// UpdatePosition advances the tip one tick along the step cycle trajectory.
// ForceStance and ForceStop legs hold their trajectory state: ForceStance
// runs the stance curve, ForceStop holds still.
func (s *LegStepper) UpdatePosition() {
	switch {
	case s.stepState == model.Swing:
		s.updateSwingPosition()
	case s.stepState == model.Stance || s.stepState == model.ForceStance:
		s.updateStancePosition()
	default:
		s.currentTipVelocity = r3.Vector{}
	}
}

func (s *LegStepper) updateSwingPosition() {
	t := s.timing
	iteration := s.phase - t.SwingStart + 1
	swingLength := t.SwingLength()
	s.swingDeltaT = s.calculateDeltaT(model.Swing, swingLength)
	numIterations := spatialmath.RoundToInt(2.0 / s.swingDeltaT)

	if iteration == 1 {
		s.swingOriginTipPosition = s.currentTipPosition
	}

	stride := r3.Vector{X: s.strideVector.X, Y: s.strideVector.Y}

	var deltaPos r3.Vector
	var t1, t2 float64
	if iteration <= numIterations/2 {
		s.generateSwingControlNodes()
		t1 = float64(iteration) * s.swingDeltaT
		deltaPos = bezier.QuarticDot(&s.swing1Nodes, t1).Mul(s.swingDeltaT)
	} else {
		// Forecast the next stance curve so the secondary swing nodes meet it
		// with matching velocity and acceleration.
		stanceLength := t.StanceLength()
		s.stanceDeltaT = s.calculateDeltaT(model.Stance, stanceLength)
		s.stanceOriginTipPosition = s.defaultTipPosition.Add(stride.Mul(0.5))
		s.generateStanceControlNodes(stride)

		s.generateSwingControlNodes()
		t2 = float64(iteration-numIterations/2) * s.swingDeltaT
		deltaPos = bezier.QuarticDot(&s.swing2Nodes, t2).Mul(s.swingDeltaT)
	}

	s.currentTipPosition = s.currentTipPosition.Add(deltaPos)
	s.currentTipVelocity = deltaPos.Mul(1.0 / t.TimeDelta)

	// The clamp below affects the log line only, not the trajectory.
	if t1 < s.swingDeltaT {
		t1 = 0.0
	}
	if t2 < s.swingDeltaT {
		t2 = 0.0
	}
	if s.legID == 0 {
		s.logger.Debugf(
			"swing trajectory: iteration=%d time=%f:%f origin=%v pos=%v target=%v",
			iteration, t1, t2, s.swingOriginTipPosition, s.currentTipPosition, s.swing2Nodes[4])
	}
}

func (s *LegStepper) updateStancePosition() {
	t := s.timing
	stanceStart := t.SwingEnd
	if !s.completedFirstStep {
		stanceStart = s.phaseOffset
	}
	stanceLength := spatialmath.Mod(t.SwingStart-stanceStart, t.PhaseLength)
	if stanceLength == 0 {
		// A first stance of zero length (phase offset at the swing start) has
		// no stance curve to follow; the tip holds position until the leg
		// completes its first step.
		s.currentTipVelocity = r3.Vector{}
		return
	}
	s.stanceDeltaT = s.calculateDeltaT(model.Stance, stanceLength)

	iteration := spatialmath.Mod(s.phase+(t.PhaseLength-stanceStart), t.PhaseLength) + 1
	if iteration == 1 {
		s.stanceOriginTipPosition = s.currentTipPosition
	}

	// A shortened first stance still traverses toward the same final node, so
	// the stride is scaled by the length ratio.
	stride := r3.Vector{X: s.strideVector.X, Y: s.strideVector.Y}
	stride = stride.Mul(float64(stanceLength) / float64(t.StanceLength()))

	s.generateStanceControlNodes(stride)
	tIn := float64(iteration) * s.stanceDeltaT
	deltaPos := bezier.QuarticDot(&s.stanceNodes, tIn).Mul(s.stanceDeltaT)

	s.currentTipPosition = s.currentTipPosition.Add(deltaPos)
	s.currentTipVelocity = deltaPos.Mul(1.0 / t.TimeDelta)

	if tIn < s.stanceDeltaT {
		tIn = 0.0
	}
	if s.legID == 0 {
		s.logger.Debugf(
			"stance trajectory: iteration=%d time=%f origin=%v pos=%v target=%v",
			iteration, tIn, s.stanceOriginTipPosition, s.currentTipPosition, s.stanceNodes[4])
	}
}
