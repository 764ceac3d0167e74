package posing

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/openlegged/locomotion/model"
	"github.com/openlegged/locomotion/params"
	"github.com/openlegged/locomotion/spatialmath"
)

// ErrTransitionBudget is returned when a transition sequence exceeds the step
// threshold. Fatal.
var ErrTransitionBudget = errors.New("transition sequence exceeded step threshold")

// sequencerState is the bookkeeping of the startup/shutdown transition
// sequencer. The first StartUp discovers intermediate stances under workspace
// limits; later runs replay the per-leg cached positions.
type sequencerState struct {
	transitionStep      int
	transitionStepCount int

	horizontalComplete      bool
	verticalComplete        bool
	firstSequenceExecution  bool
	setTarget               bool
	proximityAlert          bool
	resetTransitionSequence bool

	currentGroup      int
	legsCompletedStep int
}

func (s *sequencerState) reset() {
	s.transitionStep = 0
	s.transitionStepCount = 0
	s.horizontalComplete = false
	s.verticalComplete = false
	s.firstSequenceExecution = true
	s.setTarget = true
	s.proximityAlert = false
	s.resetTransitionSequence = true
	s.currentGroup = 0
	s.legsCompletedStep = 0
}

// ProximityAlert reports whether the horizontal transition step in progress
// has frozen a leg near its reachability limit. It clears when that step
// completes; vertical steps do not set it.
func (c *Controller) ProximityAlert() bool { return c.sequencer.proximityAlert }

// HorizontalTransitionComplete reports whether the last horizontal transition
// completed without a proximity alert.
func (c *Controller) HorizontalTransitionComplete() bool { return c.sequencer.horizontalComplete }

// TransitionStep returns the current transition step index.
func (c *Controller) TransitionStep() int { return c.sequencer.transitionStep }

// InvalidateTransitionSequence forces the next StartUp to rediscover the
// transition positions, e.g. after a stance change.
func (c *Controller) InvalidateTransitionSequence() { c.sequencer.resetTransitionSequence = true }

// ExecuteSequence advances the startup or shutdown sequence by one tick,
// stepping legs between the packed and walking stances through alternating
// horizontal and vertical transitions. Returns progress in [-1,100]: -1 while
// the first execution is discovering the sequence, 100 on completion.
func (c *Controller) ExecuteSequence(sequence model.SequenceDirection) (int, error) {
	seq := &c.sequencer

	// Initialise or reset any saved transition sequence.
	if seq.resetTransitionSequence && sequence == model.StartUp {
		seq.resetTransitionSequence = false
		seq.firstSequenceExecution = true
		seq.transitionStep = 0
		for i, leg := range c.mdl.Legs() {
			c.legPosers[i].ResetTransitionSequence()
			c.legPosers[i].AddTransitionPosition(leg.CurrentTipPosition())
		}
	}

	progress := 0
	normalisedProgress := 0

	var executeHorizontal, executeVertical bool
	var nextTransitionStep, transitionStepTarget, totalProgress int
	if sequence == model.StartUp {
		executeHorizontal = seq.transitionStep%2 == 0
		executeVertical = seq.transitionStep%2 == 1
		nextTransitionStep = seq.transitionStep + 1
		transitionStepTarget = seq.transitionStepCount
		totalProgress = seq.transitionStep * 100 / maxInt(seq.transitionStepCount, 1)
	} else {
		executeHorizontal = seq.transitionStep%2 == 1
		executeVertical = seq.transitionStep%2 == 0
		nextTransitionStep = seq.transitionStep - 1
		transitionStepTarget = 0
		totalProgress = 100 - seq.transitionStep*100/maxInt(seq.transitionStepCount, 1)
	}

	var finalTransition bool
	if seq.firstSequenceExecution {
		finalTransition = seq.horizontalComplete || seq.verticalComplete
	} else {
		finalTransition = nextTransitionStep == transitionStepTarget
	}
	sequenceComplete := false

	// The safety margin shrinks for each successive discovered transition.
	safetyFactor := 0.0
	if seq.firstSequenceExecution {
		safetyFactor = params.SafetyFactor / float64(seq.transitionStep+1)
	}

	if executeHorizontal {
		if seq.setTarget {
			seq.setTarget = false
			c.logger.Debugf("transition step %d (horizontal, %s)", seq.transitionStep, sequence)
			for i := range c.mdl.Legs() {
				legPoser := c.legPosers[i]
				legPoser.SetLegCompletedStep(false)

				target := c.horizontalTransitionTarget(i, nextTransitionStep)
				legPoser.SetTargetTipPosition(target)
			}
		}

		directStep := !c.mdl.LegsBearingLoad()
		for i, leg := range c.mdl.Legs() {
			legPoser := c.legPosers[i]
			if legPoser.LegCompletedStep() {
				continue
			}
			if leg.Group() != seq.currentGroup && !directStep {
				seq.legsCompletedStep++
				legPoser.SetLegCompletedStep(true)
				continue
			}

			target := legPoser.TargetTipPosition()
			applyDeltaZ := sequence == model.StartUp && finalTransition
			pose := spatialmath.NewZeroPose()
			if applyDeltaZ {
				pose = c.currentPose
			}
			stepHeight := 0.0
			if !directStep {
				stepHeight = c.walker.Stepper(i).SwingHeight()
			}
			timeToStep := params.HorizontalTransitionTime / c.walker.Timing().StepFrequency
			if seq.firstSequenceExecution {
				timeToStep *= 2.0
			}
			progress = legPoser.StepToPosition(target, pose, stepHeight, timeToStep, applyDeltaZ)
			leg.SetDesiredTipPosition(legPoser.CurrentTipPosition())
			limitProximity, err := leg.ApplyIK()
			if err != nil {
				return progress, err
			}
			exceededWorkspace := limitProximity < safetyFactor

			// The leg tried to move beyond its safe workspace: freeze it and
			// finish this transition early.
			if seq.firstSequenceExecution && exceededWorkspace {
				c.logger.Warnf("leg %s exceeded safety factor %.3f during transition %d",
					leg.Name(), safetyFactor, seq.transitionStep)
				legPoser.SetTargetTipPosition(legPoser.CurrentTipPosition())
				progress = legPoser.ResetStepToPosition()
				seq.proximityAlert = true
			}

			if progress == params.ProgressComplete {
				legPoser.SetLegCompletedStep(true)
				seq.legsCompletedStep++
				if seq.firstSequenceExecution {
					transitionPosition := legPoser.TargetTipPosition()
					if exceededWorkspace {
						transitionPosition = legPoser.CurrentTipPosition()
					}
					legPoser.AddTransitionPosition(transitionPosition)
					c.logger.Debugf("added transition position %d for leg %s", nextTransitionStep, leg.Name())
				}
			}
		}

		if directStep {
			normalisedProgress = progress / maxInt(seq.transitionStepCount, 1)
		} else {
			groupOffset := 0
			if seq.currentGroup != 0 {
				groupOffset = 50
			}
			normalisedProgress = (progress/2 + groupOffset) / maxInt(seq.transitionStepCount, 1)
		}

		if seq.legsCompletedStep == c.mdl.LegCount() {
			seq.setTarget = true
			seq.legsCompletedStep = 0
			if seq.currentGroup == 1 || directStep {
				seq.currentGroup = 0
				seq.transitionStep = nextTransitionStep
				seq.horizontalComplete = !seq.proximityAlert
				sequenceComplete = finalTransition
				seq.proximityAlert = false
			} else {
				seq.currentGroup = 1
			}
		}
	}

	if executeVertical {
		if seq.setTarget {
			seq.setTarget = false
			c.logger.Debugf("transition step %d (vertical, %s)", seq.transitionStep, sequence)
			for i, leg := range c.mdl.Legs() {
				legPoser := c.legPosers[i]
				target := c.verticalTransitionTarget(i, nextTransitionStep)
				target.X = leg.CurrentTipPosition().X
				target.Y = leg.CurrentTipPosition().Y
				legPoser.SetTargetTipPosition(target)
			}
		}

		allLegsWithinWorkspace := true
		for i, leg := range c.mdl.Legs() {
			legPoser := c.legPosers[i]
			target := legPoser.TargetTipPosition()
			applyDeltaZ := sequence == model.StartUp && finalTransition
			pose := spatialmath.NewZeroPose()
			if applyDeltaZ {
				pose = c.currentPose
			}
			timeToStep := params.VerticalTransitionTime / c.walker.Timing().StepFrequency
			if seq.firstSequenceExecution {
				timeToStep *= 2.0
			}
			progress = legPoser.StepToPosition(target, pose, 0.0, timeToStep, applyDeltaZ)
			leg.SetDesiredTipPosition(legPoser.CurrentTipPosition())
			limitProximity, err := leg.ApplyIK()
			if err != nil {
				return progress, err
			}
			if limitProximity < safetyFactor {
				allLegsWithinWorkspace = false
				c.logger.Warnf("leg %s exceeded safety factor %.3f during vertical transition %d",
					leg.Name(), safetyFactor, seq.transitionStep)
			}
		}

		if (!allLegsWithinWorkspace && seq.firstSequenceExecution) || progress == params.ProgressComplete {
			for i := range c.mdl.Legs() {
				legPoser := c.legPosers[i]
				progress = legPoser.ResetStepToPosition()
				if seq.firstSequenceExecution {
					transitionPosition := legPoser.CurrentTipPosition()
					if allLegsWithinWorkspace {
						transitionPosition = legPoser.TargetTipPosition()
					}
					legPoser.AddTransitionPosition(transitionPosition)
				}
			}
			seq.verticalComplete = allLegsWithinWorkspace
			seq.transitionStep = nextTransitionStep
			sequenceComplete = finalTransition
			seq.setTarget = true
		}

		normalisedProgress = progress / maxInt(seq.transitionStepCount, 1)
	}

	// The step count grows as the first sequence discovers its steps.
	if seq.firstSequenceExecution {
		seq.transitionStepCount = seq.transitionStep
	}

	if seq.transitionStep > params.TransitionStepThreshold {
		return progress, errors.Wrapf(ErrTransitionBudget,
			"step %d exceeds threshold %d", seq.transitionStep, params.TransitionStepThreshold)
	}

	if sequenceComplete {
		seq.setTarget = true
		seq.verticalComplete = false
		seq.horizontalComplete = false
		seq.firstSequenceExecution = false
		return params.ProgressComplete, nil
	}

	if seq.firstSequenceExecution {
		return -1, nil
	}
	return minInt(totalProgress+normalisedProgress, params.ProgressComplete-1), nil
}

// horizontalTransitionTarget picks the cached transition position for the
// step if one exists, else the walker default, preserving the current height.
func (c *Controller) horizontalTransitionTarget(legIndex, step int) r3.Vector {
	legPoser := c.legPosers[legIndex]
	leg := c.mdl.Legs()[legIndex]
	var target r3.Vector
	if legPoser.HasTransitionPosition(step) {
		target = legPoser.TransitionPosition(step)
	} else {
		target = c.walker.Stepper(legIndex).DefaultTipPosition()
	}
	target.Z = leg.CurrentTipPosition().Z
	return target
}

// verticalTransitionTarget picks the cached transition position for the step
// if one exists, else the walker default.
func (c *Controller) verticalTransitionTarget(legIndex, step int) r3.Vector {
	legPoser := c.legPosers[legIndex]
	if legPoser.HasTransitionPosition(step) {
		return legPoser.TransitionPosition(step)
	}
	return c.walker.Stepper(legIndex).DefaultTipPosition()
}

// DirectStartup moves all legs simultaneously in a linear trajectory from
// their current tip positions to the walker defaults over time_to_start.
func (c *Controller) DirectStartup() (int, error) {
	progress := 0
	for i, leg := range c.mdl.Legs() {
		legPoser := c.legPosers[i]
		defaultTip := c.walker.Stepper(i).DefaultTipPosition()
		progress = legPoser.StepToPosition(defaultTip, c.currentPose, 0.0, c.p.TimeToStart, false)
		leg.SetDesiredTipPosition(legPoser.CurrentTipPosition())
		if _, err := leg.ApplyIK(); err != nil {
			return progress, err
		}
	}
	return progress, nil
}

// StepToNewStance steps legs to the walker defaults in tripod groups. Marks
// the transition cache for rediscovery since the stance changed.
func (c *Controller) StepToNewStance() (int, error) {
	progress := 0
	legCount := c.mdl.LegCount()
	seq := &c.sequencer
	for i, leg := range c.mdl.Legs() {
		if leg.Group() != seq.currentGroup {
			continue
		}
		stepper := c.walker.Stepper(i)
		legPoser := c.legPosers[i]
		stepHeight := stepper.SwingHeight()
		stepTime := 1.0 / c.walker.Timing().StepFrequency
		progress = legPoser.StepToPosition(stepper.DefaultTipPosition(), c.currentPose, stepHeight, stepTime, false)
		leg.SetDesiredTipPosition(legPoser.CurrentTipPosition())
		if _, err := leg.ApplyIK(); err != nil {
			return progress, err
		}
		if progress == params.ProgressComplete {
			seq.legsCompletedStep++
		}
	}

	progress = progress/2 + seq.currentGroup*50
	seq.currentGroup = seq.legsCompletedStep / (legCount / 2)

	if seq.legsCompletedStep == legCount {
		seq.legsCompletedStep = 0
		seq.currentGroup = 0
	}

	seq.resetTransitionSequence = true
	return progress, nil
}

// PoseForLegManipulation poses the body to shift its weight off manually
// manipulated legs, stepping all legs to the generated pose.
func (c *Controller) PoseForLegManipulation() (int, error) {
	progress := 0
	for i, leg := range c.mdl.Legs() {
		stepper := c.walker.Stepper(i)
		legPoser := c.legPosers[i]
		stepHeight := stepper.SwingHeight()
		stepTime := 1.0 / c.walker.Timing().StepFrequency

		targetPose := spatialmath.NewZeroPose()
		if leg.State() == model.WalkingToManual {
			// Pose the lifted leg at step height to begin manipulation.
			targetPose.Position = targetPose.Position.Add(c.inclinationPose.Position)
			targetPose.Position.Z -= stepHeight
		} else {
			targetPose = c.currentPose
			targetPose.Position = targetPose.Position.Sub(c.manualPose.Position)
			targetPose.Position = targetPose.Position.Add(c.defaultPose.Position)
		}

		targetTip := targetPose.InverseTransformVector(stepper.DefaultTipPosition())

		switch leg.State() {
		case model.WalkingToManual:
			stepper.SetCurrentTipPosition(targetTip)
		case model.ManualToWalking:
			stepper.SetCurrentTipPosition(stepper.DefaultTipPosition())
		}

		progress = legPoser.StepToPosition(targetTip, spatialmath.NewZeroPose(), stepHeight, stepTime, false)
		leg.SetDesiredTipPosition(legPoser.CurrentTipPosition())
		if _, err := leg.ApplyIK(); err != nil {
			return progress, err
		}
	}
	return progress, nil
}

// PackLegs moves all joints simultaneously into the packed configuration.
func (c *Controller) PackLegs(timeToPack float64) int {
	progress := 0
	c.sequencer.transitionStep = 0
	for i, leg := range c.mdl.Legs() {
		progress = c.legPosers[i].MoveToJointPosition(leg.PackedJointPositions(), timeToPack)
	}
	return progress
}

// UnpackLegs moves all joints simultaneously into the unpacked configuration.
func (c *Controller) UnpackLegs(timeToUnpack float64) int {
	progress := 0
	for i, leg := range c.mdl.Legs() {
		progress = c.legPosers[i].MoveToJointPosition(leg.UnpackedJointPositions(), timeToUnpack)
	}
	return progress
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
