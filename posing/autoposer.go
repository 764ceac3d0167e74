package posing

import (
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"

	"github.com/openlegged/locomotion/bezier"
	"github.com/openlegged/locomotion/model"
	"github.com/openlegged/locomotion/params"
	"github.com/openlegged/locomotion/spatialmath"
)

// AutoPoser contributes one time-scheduled body pose oscillation: a full
// quartic bezier cycle of translation and rotation between a start and end
// phase, rising to the configured amplitudes and falling back with zero value
// and derivative at both window ends.
type AutoPoser struct {
	logger golog.Logger
	id     int

	startPhase int
	endPhase   int

	xAmplitude     float64
	yAmplitude     float64
	zAmplitude     float64
	rollAmplitude  float64
	pitchAmplitude float64
	yawAmplitude   float64

	// One-shot cycle edges keeping posing synchronised to the step cycle.
	startCheck     bool
	endCheckFirst  bool
	endCheckSecond bool
	allowPosing    bool
}

// NewAutoPoser builds the auto poser with index id from the parameter lists.
func NewAutoPoser(logger golog.Logger, p params.Parameters, id int) *AutoPoser {
	poser := &AutoPoser{logger: logger, id: id}
	poser.startPhase = p.PosePhaseStarts[id]
	poser.endPhase = p.PosePhaseEnds[id]
	if id < len(p.XAmplitudes) {
		poser.xAmplitude = p.XAmplitudes[id]
	}
	if id < len(p.YAmplitudes) {
		poser.yAmplitude = p.YAmplitudes[id]
	}
	if id < len(p.ZAmplitudes) {
		poser.zAmplitude = p.ZAmplitudes[id]
	}
	if id < len(p.RollAmplitudes) {
		poser.rollAmplitude = p.RollAmplitudes[id]
	}
	if id < len(p.PitchAmplitudes) {
		poser.pitchAmplitude = p.PitchAmplitudes[id]
	}
	if id < len(p.YawAmplitudes) {
		poser.yawAmplitude = p.YawAmplitudes[id]
	}
	return poser
}

// IsPosing reports whether the poser is inside an allowed posing cycle.
func (a *AutoPoser) IsPosing() bool { return a.allowPosing }

// ResetChecks clears the one-shot cycle edge state.
func (a *AutoPoser) ResetChecks() {
	a.startCheck = false
	a.endCheckFirst = false
	a.endCheckSecond = false
	a.allowPosing = false
}

// UpdatePose returns this poser's contribution for the given master phase.
// Posing only starts at the window start and only ends once a full cycle
// completes while the posing state requests a stop.
func (a *AutoPoser) UpdatePose(
	phase int, state model.PosingState, phaseLength, normaliser int, poseFrequency float64,
) spatialmath.Pose {
	returnPose := spatialmath.NewZeroPose()

	startPhase := a.startPhase * normaliser
	endPhase := a.endPhase * normaliser

	// A zero start or end is equivalent to the full phase length.
	if startPhase == 0 {
		startPhase = phaseLength
	}
	if endPhase == 0 {
		endPhase = phaseLength
	}

	// Handle windows overlapping the master phase wrap.
	if startPhase > endPhase {
		endPhase += phaseLength
		if phase < startPhase {
			phase += phaseLength
		}
	}

	syncWithStepCycle := poseFrequency == -1.0

	// Coordinate the start/stop edges of the posing period.
	a.startCheck = !syncWithStepCycle || (!a.startCheck && state == model.Posing && phase == startPhase)
	a.endCheckFirst = a.endCheckFirst || (state == model.StopPosing && phase == startPhase)
	a.endCheckSecond = a.endCheckSecond || (state == model.StopPosing && phase == endPhase && a.endCheckFirst)

	if !a.allowPosing && a.startCheck {
		a.allowPosing = true
		a.endCheckFirst = false
		a.endCheckSecond = false
	} else if a.allowPosing && syncWithStepCycle && a.endCheckFirst && a.endCheckSecond {
		a.allowPosing = false
		a.startCheck = false
	}

	if phase >= startPhase && phase < endPhase && a.allowPosing {
		iteration := phase - startPhase + 1
		numIterations := endPhase - startPhase

		var positionNodes, rotationNodes [5]r3.Vector
		positionAmplitude := r3.Vector{X: a.xAmplitude, Y: a.yAmplitude, Z: a.zAmplitude}
		rotationAmplitude := r3.Vector{X: a.rollAmplitude, Y: a.pitchAmplitude, Z: a.yawAmplitude}

		firstHalf := iteration <= numIterations/2
		if firstHalf {
			positionNodes[3] = positionAmplitude
			positionNodes[4] = positionAmplitude
			rotationNodes[3] = rotationAmplitude
			rotationNodes[4] = rotationAmplitude
		} else {
			positionNodes[0] = positionAmplitude
			positionNodes[1] = positionAmplitude
			rotationNodes[0] = rotationAmplitude
			rotationNodes[1] = rotationAmplitude
		}

		deltaT := 1.0 / (float64(numIterations) / 2.0)
		offset := 0
		if !firstHalf {
			offset = numIterations / 2
		}
		timeInput := float64(iteration-offset) * deltaT

		position := bezier.Quartic(&positionNodes, timeInput)
		rotation := bezier.Quartic(&rotationNodes, timeInput)
		returnPose = spatialmath.NewPoseFromEuler(position, rotation)
	}

	return returnPose
}
