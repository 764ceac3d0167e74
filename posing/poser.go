// Package posing composes the robot body pose from its contributors (manual,
// inclination, impedance, IMU feedback and auto posing), applies it to the
// walk-generated tip positions, and runs the timed maneuvers which move legs
// outside the walk cycle: per-leg poser primitives and the startup/shutdown
// transition sequencer.
package posing

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/openlegged/locomotion/model"
	"github.com/openlegged/locomotion/params"
	"github.com/openlegged/locomotion/spatialmath"
	"github.com/openlegged/locomotion/walk"
)

// ErrPidInstability is returned when the IMU rotation correction exceeds the
// stability threshold. Fatal.
var ErrPidInstability = errors.New("imu rotation compensation unstable")

// imuVelocitySmoothing is the first-order low-pass factor applied to IMU
// angular velocity before the derivative term.
const imuVelocitySmoothing = 0.15

// Controller composes the body pose and poses the walk output each tick.
type Controller struct {
	logger golog.Logger
	p      params.Parameters
	mdl    model.Model
	walker *walk.Controller

	manualPose      spatialmath.Pose
	inclinationPose spatialmath.Pose
	impedancePose   spatialmath.Pose
	imuPose         spatialmath.Pose
	autoPose        spatialmath.Pose
	defaultPose     spatialmath.Pose
	currentPose     spatialmath.Pose

	translationVelocityInput r3.Vector
	rotationVelocityInput    r3.Vector
	poseResetMode            model.PoseResetMode

	imuData model.ImuData

	rotationAbsementError r3.Vector
	rotationPositionError r3.Vector
	rotationVelocityError r3.Vector

	posingState          model.PosingState
	posePhase            int
	posePhaseLength      int
	normaliser           int
	poseFrequency        float64
	autoPosers           []*AutoPoser
	autoPoseReferenceLeg int

	legPosers []*LegPoser

	recalculateDefaultPose bool

	sequencer sequencerState
}

// NewController builds the pose controller and one leg poser per model leg.
func NewController(logger golog.Logger, p params.Parameters, mdl model.Model, walker *walk.Controller) *Controller {
	c := &Controller{
		logger:          logger,
		p:               p,
		mdl:             mdl,
		walker:          walker,
		manualPose:      spatialmath.NewZeroPose(),
		inclinationPose: spatialmath.NewZeroPose(),
		impedancePose:   spatialmath.NewZeroPose(),
		imuPose:         spatialmath.NewZeroPose(),
		autoPose:        spatialmath.NewZeroPose(),
		defaultPose:     spatialmath.NewZeroPose(),
		currentPose:     spatialmath.NewZeroPose(),
		imuData:         model.NewImuData(),
		posingState:     model.PosingComplete,
	}
	for _, leg := range mdl.Legs() {
		c.legPosers = append(c.legPosers, NewLegPoser(logger, p, leg))
	}
	c.setAutoPoseParams()
	c.sequencer.reset()
	return c
}

// setAutoPoseParams derives the posing phase length and normaliser from the
// gait or pose cycle parameters and populates the auto poser list.
func (c *Controller) setAutoPoseParams() {
	c.poseFrequency = c.p.PoseFrequency

	var basePhaseLength int
	if c.poseFrequency == -1.0 {
		// Sync with the step cycle: the posing master phase is the reference
		// leg's walk phase, so the pose cycle spans exactly one step cycle.
		basePhaseLength = c.p.StancePhase + c.p.SwingPhase
		c.posePhaseLength = c.walker.Timing().PhaseLength
	} else {
		basePhaseLength = c.p.PosePhaseLength
		rawPhaseLength := (1.0 / c.poseFrequency) / c.p.TimeDelta
		c.posePhaseLength = spatialmath.RoundToEvenInt(rawPhaseLength/float64(basePhaseLength)) * basePhaseLength
	}
	if c.posePhaseLength <= 0 {
		c.posePhaseLength = basePhaseLength
	}
	c.normaliser = c.posePhaseLength / basePhaseLength

	for i, leg := range c.mdl.Legs() {
		if id := leg.ID(); id < len(c.p.PoseNegationPhaseStarts) {
			c.legPosers[i].SetNegationWindow(
				c.p.PoseNegationPhaseStarts[id], c.p.PoseNegationPhaseEnds[id])
		}
		// The auto posing reference leg is the one with zero phase offset.
		if id := leg.ID(); id < len(c.p.OffsetMultiplier) && c.p.OffsetMultiplier[id] == 0 {
			c.autoPoseReferenceLeg = i
		}
	}

	c.autoPosers = c.autoPosers[:0]
	for i := 0; i < c.p.AutoPoserCount(); i++ {
		c.autoPosers = append(c.autoPosers, NewAutoPoser(c.logger, c.p, i))
	}
}

// SetImuData stores the latest IMU sample for this tick.
func (c *Controller) SetImuData(data model.ImuData) { c.imuData = data }

// SetVelocityInputs stores the joystick posing velocities for this tick.
func (c *Controller) SetVelocityInputs(translation, rotation r3.Vector) {
	c.translationVelocityInput = translation
	c.rotationVelocityInput = rotation
}

// SetPoseResetMode selects which manual pose axes drive back to defaults.
func (c *Controller) SetPoseResetMode(mode model.PoseResetMode) { c.poseResetMode = mode }

// CurrentPose is the composed body pose of the current tick.
func (c *Controller) CurrentPose() spatialmath.Pose { return c.currentPose }

// ManualPose is the joystick-integrated pose contribution.
func (c *Controller) ManualPose() spatialmath.Pose { return c.manualPose }

// ImuPose is the IMU PID pose contribution.
func (c *Controller) ImuPose() spatialmath.Pose { return c.imuPose }

// AutoPose is the combined cyclic auto pose contribution.
func (c *Controller) AutoPose() spatialmath.Pose { return c.autoPose }

// LegPoser returns the per-leg poser for leg index i.
func (c *Controller) LegPoser(i int) *LegPoser { return c.legPosers[i] }

// PosingState reports the auto posing lifecycle state.
func (c *Controller) PosingState() model.PosingState { return c.posingState }

// UpdateCurrentPose rebuilds the composed body pose from the enabled
// contributors, in order: manual, inclination, impedance, then IMU feedback
// or auto posing (mutually exclusive).
func (c *Controller) UpdateCurrentPose(bodyHeight float64) error {
	newPose := spatialmath.NewZeroPose()

	if c.p.ManualPosing {
		c.updateManualPose()
		newPose = newPose.Add(c.manualPose)
	}

	if c.p.InclinationPosing {
		c.updateInclinationPose(bodyHeight)
		newPose = newPose.Add(c.inclinationPose)
	}

	if c.p.ImpedanceControl {
		c.updateImpedancePose()
		newPose = newPose.Add(c.impedancePose)
	}

	if c.p.IMUPosing {
		if err := c.updateIMUPose(); err != nil {
			return err
		}
		newPose = newPose.Add(c.imuPose)
	} else if c.p.AutoPosing {
		c.updateAutoPose()
		newPose = newPose.Add(c.autoPose)
	}

	c.currentPose = newPose
	return nil
}

// UpdateStance applies the composed pose inversely to every walking leg's
// walk-frame tip, subtracting the per-leg impedance offset, and leaves the
// result in each leg poser. Manually manipulated legs pass through unposed.
func (c *Controller) UpdateStance() {
	for i, leg := range c.mdl.Legs() {
		stepper := c.walker.Stepper(i)
		legPoser := c.legPosers[i]

		switch leg.State() {
		case model.Walking, model.ManualToWalking:
			// Replace the global auto pose contribution with the leg specific
			// one, which negates posing during this leg's swing.
			pose := c.currentPose.Remove(c.autoPose).Add(legPoser.AutoPose())
			tip := pose.InverseTransformVector(stepper.CurrentTipPosition())
			tip.Z -= leg.DeltaZ()
			legPoser.SetCurrentTipPosition(tip)
		default:
			legPoser.SetCurrentTipPosition(stepper.CurrentTipPosition())
		}
	}
}

// updateManualPose integrates the joystick posing velocities, clamped per
// axis, honouring the selected reset mode.
// Known quirk kept from the source controller: integrating pitch and roll
// together accumulates a yaw component because the Euler composition order is
// ambiguous.
func (c *Controller) updateManualPose() {
	translationPosition := c.manualPose.Position
	rotationPosition := c.manualPose.Rotation

	defaultTranslation := c.defaultPose.Position
	defaultRotation := spatialmath.QuatToEuler(c.defaultPose.Rotation)

	maxTranslation := [3]float64{c.p.MaxTranslation.X, c.p.MaxTranslation.Y, c.p.MaxTranslation.Z}
	maxRotation := [3]float64{c.p.MaxRotation.Roll, c.p.MaxRotation.Pitch, c.p.MaxRotation.Yaw}

	var resetTranslation, resetRotation [3]bool
	switch c.poseResetMode {
	case model.ZAndYawReset:
		resetTranslation[2] = true
		resetRotation[2] = true
	case model.XYReset:
		resetTranslation[0] = true
		resetTranslation[1] = true
	case model.PitchRollReset:
		resetRotation[0] = true
		resetRotation[1] = true
	case model.AllReset:
		for i := 0; i < 3; i++ {
			resetTranslation[i] = true
			resetRotation[i] = true
		}
	case model.ImmediateAllReset:
		c.manualPose = c.defaultPose
		return
	}

	translationInput := [3]float64{
		c.translationVelocityInput.X, c.translationVelocityInput.Y, c.translationVelocityInput.Z,
	}
	rotationInput := [3]float64{
		c.rotationVelocityInput.X, c.rotationVelocityInput.Y, c.rotationVelocityInput.Z,
	}
	translationArr := [3]float64{translationPosition.X, translationPosition.Y, translationPosition.Z}
	rotationEuler := spatialmath.QuatToEuler(rotationPosition)
	rotationArr := [3]float64{rotationEuler.X, rotationEuler.Y, rotationEuler.Z}
	defaultRotationArr := [3]float64{defaultRotation.X, defaultRotation.Y, defaultRotation.Z}
	defaultTranslationArr := [3]float64{defaultTranslation.X, defaultTranslation.Y, defaultTranslation.Z}

	// Reset modes synthesise a velocity toward the default pose on the
	// selected axes.
	for i := 0; i < 3; i++ {
		if resetTranslation[i] {
			if translationArr[i] < defaultTranslationArr[i] {
				translationInput[i] = 1.0
			} else if translationArr[i] > defaultTranslationArr[i] {
				translationInput[i] = -1.0
			}
		}
		if resetRotation[i] {
			if rotationArr[i] < defaultRotationArr[i] {
				rotationInput[i] = 1.0
			} else if rotationArr[i] > defaultRotationArr[i] {
				rotationInput[i] = -1.0
			}
		}
	}

	translationVelocity := spatialmath.ClampToLength(
		r3.Vector{X: translationInput[0], Y: translationInput[1], Z: translationInput[2]}, 1.0,
	).Mul(c.p.MaxTranslationVelocity)
	rotationVelocity := spatialmath.ClampToLength(
		r3.Vector{X: rotationInput[0], Y: rotationInput[1], Z: rotationInput[2]}, 1.0,
	).Mul(c.p.MaxRotationVelocity)

	translationVelocityArr := [3]float64{translationVelocity.X, translationVelocity.Y, translationVelocity.Z}
	rotationVelocityArr := [3]float64{rotationVelocity.X, rotationVelocity.Y, rotationVelocity.Z}

	newTranslation := [3]float64{}
	newRotationEuler := spatialmath.QuatToEuler(spatialmath.Normalize(
		quat.Mul(rotationPosition, spatialmath.EulerToQuat(rotationVelocity.Mul(c.p.TimeDelta)))))
	newRotationArr := [3]float64{newRotationEuler.X, newRotationEuler.Y, newRotationEuler.Z}
	for i := 0; i < 3; i++ {
		newTranslation[i] = translationArr[i] + translationVelocityArr[i]*c.p.TimeDelta
	}

	// Zero each axis velocity as its position limit is reached.
	for i := 0; i < 3; i++ {
		translationLimit := spatialmath.Sign(translationVelocityArr[i]) * maxTranslation[i]
		if resetTranslation[i] &&
			defaultTranslationArr[i] < maxTranslation[i] && defaultTranslationArr[i] > -maxTranslation[i] {
			translationLimit = defaultTranslationArr[i]
		}
		positiveVel := spatialmath.Sign(translationVelocityArr[i]) > 0
		exceedsPositive := positiveVel && newTranslation[i] > translationLimit
		exceedsNegative := !positiveVel && newTranslation[i] < translationLimit
		if exceedsPositive || exceedsNegative {
			translationVelocityArr[i] = (translationLimit - translationArr[i]) / c.p.TimeDelta
		}

		rotationLimit := spatialmath.Sign(rotationVelocityArr[i]) * maxRotation[i]
		if resetRotation[i] &&
			defaultRotationArr[i] < maxRotation[i] && defaultRotationArr[i] > -maxRotation[i] {
			rotationLimit = defaultRotationArr[i]
		}
		positiveVel = spatialmath.Sign(rotationVelocityArr[i]) > 0
		exceedsPositive = positiveVel && newRotationArr[i] > rotationLimit
		exceedsNegative = !positiveVel && newRotationArr[i] < rotationLimit
		if exceedsPositive || exceedsNegative {
			rotationVelocityArr[i] = (rotationLimit - rotationArr[i]) / c.p.TimeDelta
		}
	}

	c.manualPose.Position = r3.Vector{
		X: translationArr[0] + translationVelocityArr[0]*c.p.TimeDelta,
		Y: translationArr[1] + translationVelocityArr[1]*c.p.TimeDelta,
		Z: translationArr[2] + translationVelocityArr[2]*c.p.TimeDelta,
	}
	c.manualPose.Rotation = spatialmath.Normalize(quat.Mul(rotationPosition,
		spatialmath.EulerToQuat(r3.Vector{
			X: rotationVelocityArr[0] * c.p.TimeDelta,
			Y: rotationVelocityArr[1] * c.p.TimeDelta,
			Z: rotationVelocityArr[2] * c.p.TimeDelta,
		})))
}

// updateInclinationPose translates the body so its centre of gravity stays
// over the support polygon on inclined terrain. Translation only.
func (c *Controller) updateInclinationPose(bodyHeight float64) {
	compensationCombined := spatialmath.Normalize(
		quat.Mul(c.manualPose.Rotation, c.autoPose.Rotation))
	compensationRemoved := spatialmath.Normalize(
		quat.Mul(c.imuData.Orientation, quat.Conj(compensationCombined)))
	euler := spatialmath.QuatToEuler(compensationRemoved)

	lateralCorrection := bodyHeight * math.Tan(euler.X)
	longitudinalCorrection := -bodyHeight * math.Tan(euler.Y)

	longitudinalCorrection = spatialmath.Clamp(longitudinalCorrection, -c.p.MaxTranslation.X, c.p.MaxTranslation.X)
	lateralCorrection = spatialmath.Clamp(lateralCorrection, -c.p.MaxTranslation.Y, c.p.MaxTranslation.Y)

	c.inclinationPose.Position.X = longitudinalCorrection
	c.inclinationPose.Position.Y = lateralCorrection
}

// updateImpedancePose lifts the body by the average impedance offset.
// Known quirk kept from the source controller: the average divides by the
// total leg count rather than the number of loaded legs.
func (c *Controller) updateImpedancePose() {
	loadedLegs := c.mdl.LegCount()
	averageDeltaZ := 0.0
	for _, leg := range c.mdl.Legs() {
		averageDeltaZ += leg.DeltaZ()
	}
	averageDeltaZ /= float64(loadedLegs)

	c.impedancePose.Position.Z = spatialmath.Clamp(
		math.Abs(averageDeltaZ), -c.p.MaxTranslation.Z, c.p.MaxTranslation.Z)
}

// updateIMUPose runs a PID on the difference between the IMU orientation and
// the manual target rotation. Yaw is forced to the target; pitch and roll are
// corrected. A correction norm beyond the stability threshold is fatal.
func (c *Controller) updateIMUPose() error {
	targetRotation := c.manualPose.Rotation

	// Two orientations per quaternion; take the smaller difference.
	if spatialmath.QuatDot(targetRotation, quat.Conj(c.imuData.Orientation)) < 0 {
		targetRotation = spatialmath.Flip(targetRotation)
	}

	kp := c.p.RotationPIDGains.P
	ki := c.p.RotationPIDGains.I
	kd := c.p.RotationPIDGains.D

	c.rotationPositionError = spatialmath.QuatToEuler(c.imuData.Orientation).
		Sub(spatialmath.QuatToEuler(targetRotation))

	// Integration of the angle position error (absement).
	c.rotationAbsementError = c.rotationAbsementError.Add(c.rotationPositionError.Mul(c.p.TimeDelta))

	// Low pass filter of the IMU angular velocity.
	c.rotationVelocityError = c.imuData.AngularVelocity.Mul(imuVelocitySmoothing).
		Add(c.rotationVelocityError.Mul(1 - imuVelocitySmoothing))

	rotationCorrection := c.rotationVelocityError.Mul(kd).
		Add(c.rotationPositionError.Mul(kp)).
		Add(c.rotationAbsementError.Mul(ki)).
		Mul(-1)
	rotationCorrection.Z = spatialmath.QuatToEuler(targetRotation).Z // no yaw compensation

	if rotationCorrection.Norm() > params.StabilityThreshold {
		return errors.Wrapf(ErrPidInstability,
			"correction norm %.4f exceeds threshold %.4f; adjust PID gains",
			rotationCorrection.Norm(), params.StabilityThreshold)
	}

	c.imuPose.Rotation = spatialmath.EulerToQuat(rotationCorrection)
	return nil
}

// updateAutoPose feeds the master phase to every auto poser and combines
// their contributions, then refreshes each leg's negation pose.
func (c *Controller) updateAutoPose() {
	refStepper := c.walker.Stepper(c.autoPoseReferenceLeg)
	c.autoPose = spatialmath.NewZeroPose()

	zeroBodyVelocity := refStepper.StrideVector().Norm() == 0
	switch {
	case c.walker.State() == model.Starting || c.walker.State() == model.Moving:
		c.posingState = model.Posing
	case (zeroBodyVelocity && c.walker.State() == model.Stopping) || c.walker.State() == model.Stopped:
		c.posingState = model.StopPosing
	}

	var masterPhase int
	if c.poseFrequency == -1.0 {
		// Sync to the step cycle; corrected for posing before the walk phase
		// iterates.
		masterPhase = refStepper.Phase() + 1
	} else {
		masterPhase = c.posePhase
		c.posePhase = (c.posePhase + 1) % c.posePhaseLength
	}

	autoPosersComplete := 0
	for _, poser := range c.autoPosers {
		updated := poser.UpdatePose(masterPhase, c.posingState, c.posePhaseLength, c.normaliser, c.poseFrequency)
		if !poser.IsPosing() {
			autoPosersComplete++
		}
		c.autoPose = c.autoPose.Add(updated)
	}

	if autoPosersComplete == len(c.autoPosers) {
		c.posingState = model.PosingComplete
	}

	for _, legPoser := range c.legPosers {
		legPoser.UpdateAutoPose(masterPhase, c.autoPose, c.posingState, c.posePhaseLength, c.normaliser, c.poseFrequency)
	}
}

// CalculateDefaultPose shifts the default pose toward the zero moment offset
// of the load bearing legs whenever legs transition to or from manual state.
func (c *Controller) CalculateDefaultPose() {
	legsLoaded := 0
	legsTransitioning := 0

	if c.mdl.LegCount() == 1 {
		return
	}

	for _, leg := range c.mdl.Legs() {
		switch leg.State() {
		case model.Walking, model.ManualToWalking:
			legsLoaded++
		}
		switch leg.State() {
		case model.ManualToWalking, model.WalkingToManual:
			legsTransitioning++
		}
	}

	if legsTransitioning != 0 {
		if c.recalculateDefaultPose {
			var zeroMomentOffset r3.Vector
			for i, leg := range c.mdl.Legs() {
				switch leg.State() {
				case model.Walking, model.ManualToWalking:
					tip := c.walker.Stepper(i).DefaultTipPosition()
					zeroMomentOffset.X += tip.X
					zeroMomentOffset.Y += tip.Y
				}
			}
			zeroMomentOffset = zeroMomentOffset.Mul(1.0 / float64(legsLoaded))
			zeroMomentOffset.X = spatialmath.Clamp(zeroMomentOffset.X, -c.p.MaxTranslation.X, c.p.MaxTranslation.X)
			zeroMomentOffset.Y = spatialmath.Clamp(zeroMomentOffset.Y, -c.p.MaxTranslation.Y, c.p.MaxTranslation.Y)

			c.defaultPose.Position.X = zeroMomentOffset.X
			c.defaultPose.Position.Y = zeroMomentOffset.Y
			c.recalculateDefaultPose = false
		}
	} else {
		c.recalculateDefaultPose = true
	}
}
