package posing

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"

	"github.com/openlegged/locomotion/bezier"
	"github.com/openlegged/locomotion/model"
	"github.com/openlegged/locomotion/params"
	"github.com/openlegged/locomotion/spatialmath"
)

// LegPoser executes timed single-leg maneuvers (joint-space moves and tip
// steps) and holds the leg-specific auto pose and cached transition
// positions.
type LegPoser struct {
	logger golog.Logger
	p      params.Parameters
	leg    model.Leg

	firstIteration       bool
	masterIterationCount int

	originJointPositions []float64
	originTipPosition    r3.Vector
	currentTipPosition   r3.Vector
	targetTipPosition    r3.Vector

	autoPose               spatialmath.Pose
	poseNegationPhaseStart int
	poseNegationPhaseEnd   int
	stopNegation           bool

	legCompletedStep    bool
	transitionPositions []r3.Vector
}

// NewLegPoser builds a leg poser for the given model leg.
func NewLegPoser(logger golog.Logger, p params.Parameters, leg model.Leg) *LegPoser {
	return &LegPoser{
		logger:         logger,
		p:              p,
		leg:            leg,
		firstIteration: true,
		autoPose:       spatialmath.NewZeroPose(),
	}
}

// CurrentTipPosition is the posed tip position for this leg.
func (lp *LegPoser) CurrentTipPosition() r3.Vector { return lp.currentTipPosition }

// SetCurrentTipPosition stores the posed tip position for this leg.
func (lp *LegPoser) SetCurrentTipPosition(tip r3.Vector) { lp.currentTipPosition = tip }

// TargetTipPosition is the staged target for the current transition step.
func (lp *LegPoser) TargetTipPosition() r3.Vector { return lp.targetTipPosition }

// SetTargetTipPosition stages a target for the current transition step.
func (lp *LegPoser) SetTargetTipPosition(tip r3.Vector) { lp.targetTipPosition = tip }

// AutoPose is the leg-specific auto pose, equal to the global auto pose with
// this leg's negation subtracted during its negation window.
func (lp *LegPoser) AutoPose() spatialmath.Pose { return lp.autoPose }

// SetNegationWindow configures the phase window during which this leg
// negates the global auto pose.
func (lp *LegPoser) SetNegationWindow(start, end int) {
	lp.poseNegationPhaseStart = start
	lp.poseNegationPhaseEnd = end
}

// LegCompletedStep reports whether this leg finished its current transition
// step.
func (lp *LegPoser) LegCompletedStep() bool { return lp.legCompletedStep }

// SetLegCompletedStep marks this leg's transition step progress.
func (lp *LegPoser) SetLegCompletedStep(done bool) { lp.legCompletedStep = done }

// HasTransitionPosition reports whether a cached position exists for the
// given transition step.
func (lp *LegPoser) HasTransitionPosition(step int) bool {
	return step >= 0 && step < len(lp.transitionPositions)
}

// TransitionPosition returns the cached position for the given step.
func (lp *LegPoser) TransitionPosition(step int) r3.Vector {
	return lp.transitionPositions[step]
}

// AddTransitionPosition appends a discovered transition position.
func (lp *LegPoser) AddTransitionPosition(tip r3.Vector) {
	lp.transitionPositions = append(lp.transitionPositions, tip)
}

// ResetTransitionSequence clears the cached transition positions.
func (lp *LegPoser) ResetTransitionSequence() {
	lp.transitionPositions = lp.transitionPositions[:0]
}

// MoveToJointPosition drives every joint of the leg along a cubic bezier from
// its position at the first call to the target, completing in timeToMove.
// Returns progress 0..100.
func (lp *LegPoser) MoveToJointPosition(targetJointPositions []float64, timeToMove float64) int {
	if lp.firstIteration {
		current := lp.leg.JointPositions()
		allAtTarget := true
		lp.originJointPositions = lp.originJointPositions[:0]
		for i, target := range targetJointPositions {
			allAtTarget = allAtTarget && math.Abs(target-current[i]) < params.JointTolerance
			lp.originJointPositions = append(lp.originJointPositions, current[i])
		}
		if allAtTarget {
			return params.ProgressComplete
		}
		lp.firstIteration = false
		lp.masterIterationCount = 0
	}

	numIterations := maxInt(1, spatialmath.RoundToInt(timeToMove/lp.p.TimeDelta))
	deltaT := 1.0 / float64(numIterations)

	lp.masterIterationCount++

	newJointPositions := make([]float64, len(targetJointPositions))
	for i, target := range targetJointPositions {
		nodes := [4]float64{
			lp.originJointPositions[i],
			lp.originJointPositions[i],
			target,
			target,
		}
		newJointPositions[i] = bezier.Cubic(&nodes, float64(lp.masterIterationCount)*deltaT)
	}
	lp.leg.SetDesiredJointPositions(newJointPositions)
	lp.leg.ApplyFK()

	if lp.leg.ID() == 0 {
		lp.logger.Debugf("move to joint position: iteration=%d/%d time=%f",
			lp.masterIterationCount, numIterations, float64(lp.masterIterationCount)*deltaT)
	}

	progress := int(float64(lp.masterIterationCount-1) / float64(numIterations) * params.ProgressComplete)
	if lp.masterIterationCount >= numIterations {
		lp.firstIteration = true
		return params.ProgressComplete
	}
	return progress
}

// StepToPosition steps the leg tip from its position at the first call to the
// target along dual quartic bezier curves lifted by liftHeight, applying the
// given pose progressively over the maneuver. Returns progress 0..100.
func (lp *LegPoser) StepToPosition(
	target r3.Vector, targetPose spatialmath.Pose, liftHeight, timeToStep float64, applyDeltaZ bool,
) int {
	targetTipPosition := target

	if lp.firstIteration {
		lp.originTipPosition = lp.leg.CurrentTipPosition()

		// Complete early when already at the target.
		if math.Abs(lp.originTipPosition.X-targetTipPosition.X) < params.TipTolerance &&
			math.Abs(lp.originTipPosition.Y-targetTipPosition.Y) < params.TipTolerance &&
			math.Abs(lp.originTipPosition.Z-targetTipPosition.Z) < params.TipTolerance {
			lp.currentTipPosition = targetTipPosition
			return params.ProgressComplete
		}
		lp.currentTipPosition = lp.originTipPosition
		lp.masterIterationCount = 0
		lp.firstIteration = false
	}

	// The impedance offset only applies when transitioning into a state
	// which uses impedance control.
	manuallyManipulated := lp.leg.State() == model.Manual || lp.leg.State() == model.WalkingToManual
	if applyDeltaZ && !manuallyManipulated {
		targetTipPosition.Z += lp.leg.DeltaZ()
	}

	lp.masterIterationCount++

	numIterations := maxInt(1, spatialmath.RoundToInt(timeToStep/lp.p.TimeDelta))
	deltaT := 1.0 / float64(numIterations)
	completionRatio := float64(lp.masterIterationCount-1) / float64(numIterations)

	// The required pose arrives gradually over the course of the maneuver.
	appliedPose := targetPose.Interpolate(completionRatio)

	halfSwingIteration := numIterations / 2

	span := lp.originTipPosition.Sub(targetTipPosition)
	var primary, secondary [5]r3.Vector
	primary[0] = lp.originTipPosition
	primary[1] = lp.originTipPosition
	primary[2] = lp.originTipPosition
	primary[3] = targetTipPosition.Add(span.Mul(0.75))
	primary[4] = targetTipPosition.Add(span.Mul(0.5))
	primary[2].Z += liftHeight
	primary[3].Z += liftHeight
	primary[4].Z += liftHeight

	secondary[0] = targetTipPosition.Add(span.Mul(0.5))
	secondary[1] = targetTipPosition.Add(span.Mul(0.25))
	secondary[2] = targetTipPosition
	secondary[3] = targetTipPosition
	secondary[4] = targetTipPosition
	secondary[0].Z += liftHeight
	secondary[1].Z += liftHeight
	secondary[2].Z += liftHeight

	swingIterationCount := (lp.masterIterationCount+(numIterations-1))%numIterations + 1

	var newTipPosition r3.Vector
	var timeInput float64
	if swingIterationCount <= halfSwingIteration {
		timeInput = float64(swingIterationCount) * deltaT * 2.0
		newTipPosition = bezier.Quartic(&primary, timeInput)
	} else {
		timeInput = float64(swingIterationCount-halfSwingIteration) * deltaT * 2.0
		newTipPosition = bezier.Quartic(&secondary, timeInput)
	}

	if lp.leg.ID() == 0 {
		lp.logger.Debugf(
			"step to position: iteration=%d time=%f ratio=%f origin=%v current=%v target=%v",
			lp.masterIterationCount, timeInput, completionRatio,
			lp.originTipPosition, newTipPosition, targetTipPosition)
	}

	if lp.leg.State() != model.Manual {
		lp.currentTipPosition = appliedPose.InverseTransformVector(newTipPosition)
	}

	if lp.masterIterationCount >= numIterations {
		lp.firstIteration = true
		return params.ProgressComplete
	}
	return int(completionRatio * params.ProgressComplete)
}

// ResetStepToPosition abandons the running maneuver and reports completion.
func (lp *LegPoser) ResetStepToPosition() int {
	lp.firstIteration = true
	return params.ProgressComplete
}

// UpdateAutoPose sets the leg-specific auto pose: equal to the global auto
// pose, minus a bezier-shaped negation during this leg's negation window.
func (lp *LegPoser) UpdateAutoPose(
	phase int, globalAutoPose spatialmath.Pose, state model.PosingState,
	phaseLength, normaliser int, poseFrequency float64,
) {
	startPhase := lp.poseNegationPhaseStart * normaliser
	endPhase := lp.poseNegationPhaseEnd * normaliser
	negationPhase := phase

	if startPhase == 0 {
		startPhase = phaseLength
	}
	if endPhase == 0 {
		endPhase = phaseLength
	}

	if startPhase > endPhase {
		endPhase += phaseLength
		if negationPhase < startPhase {
			negationPhase += phaseLength
		}
	}

	if negationPhase >= startPhase && negationPhase < endPhase && !lp.stopNegation {
		iteration := negationPhase - startPhase + 1
		numIterations := endPhase - startPhase

		positionAmplitude := globalAutoPose.Position
		rotationAmplitude := spatialmath.QuatToEuler(globalAutoPose.Rotation)
		var positionNodes, rotationNodes [5]r3.Vector

		firstHalf := iteration <= numIterations/2
		if firstHalf {
			positionNodes[2] = positionAmplitude
			positionNodes[3] = positionAmplitude
			positionNodes[4] = positionAmplitude
			rotationNodes[2] = rotationAmplitude
			rotationNodes[3] = rotationAmplitude
			rotationNodes[4] = rotationAmplitude
		} else {
			positionNodes[0] = positionAmplitude
			positionNodes[1] = positionAmplitude
			positionNodes[2] = positionAmplitude
			rotationNodes[0] = rotationAmplitude
			rotationNodes[1] = rotationAmplitude
			rotationNodes[2] = rotationAmplitude
		}

		deltaT := 1.0 / (float64(numIterations) / 2.0)
		offset := 0
		if !firstHalf {
			offset = numIterations / 2
		}
		timeInput := float64(iteration-offset) * deltaT

		position := bezier.Quartic(&positionNodes, timeInput)
		rotation := bezier.Quartic(&rotationNodes, timeInput)

		lp.autoPose = globalAutoPose.Remove(spatialmath.NewPoseFromEuler(position, rotation))
	} else {
		lp.stopNegation = poseFrequency == -1.0 && state == model.StopPosing
		lp.autoPose = globalAutoPose
	}
}

func maxInt(a, b int) int {
	if a < b {
		return b
	}
	return a
}
