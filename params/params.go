// Package params holds the parameter surface of the locomotion controller.
// Parameters are loaded once at startup and are read-only afterwards.
package params

import (
	"encoding/json"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Progress constants shared by every timed maneuver.
const (
	// ProgressComplete marks a finished maneuver; progress values run 0->100,
	// with -1 meaning "first execution, progress undefined".
	ProgressComplete = 100

	// JointTolerance is the epsilon for early exit in joint-space moves (rad).
	JointTolerance = 0.01

	// TipTolerance is the epsilon for early exit in tip-space steps (m).
	TipTolerance = 0.001

	// SafetyFactor scales the IK limit-proximity threshold during the first
	// execution of a transition sequence.
	SafetyFactor = 0.15

	// TransitionStepThreshold bounds the number of discovered transition
	// steps; exceeding it is fatal.
	TransitionStepThreshold = 10

	// StabilityThreshold bounds the IMU PID rotation correction norm (rad);
	// exceeding it is fatal.
	StabilityThreshold = 0.5

	// HorizontalTransitionTime scales the duration of horizontal transition
	// steps relative to the step period.
	HorizontalTransitionTime = 1.0

	// VerticalTransitionTime scales the duration of vertical transition steps
	// relative to the step period.
	VerticalTransitionTime = 3.0

	// ThrottleThreshold is the maximum magnitude of normalised velocity input.
	ThrottleThreshold = 1.0
)

// Vector3 is a plain xyz triple used for per-axis limits.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// RPY is a plain roll/pitch/yaw triple used for per-axis rotation limits.
type RPY struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// PIDGains holds proportional, integral and derivative gains.
type PIDGains struct {
	P float64 `json:"p"`
	I float64 `json:"i"`
	D float64 `json:"d"`
}

// JointParams describes the configured positions and limits of one joint.
type JointParams struct {
	Name           string  `json:"name"`
	PackedPosition float64 `json:"packed_position"`
	UnpackedPos    float64 `json:"unpacked_position"`
	MinPosition    float64 `json:"min_position"`
	MaxPosition    float64 `json:"max_position"`
}

// Parameters is the full parameter surface of the controller, loaded once.
// Fields are numeric apart from the posing enable flags and joint names.
type Parameters struct {
	TimeDelta              float64 `json:"time_delta"`
	StepFrequency          float64 `json:"step_frequency"`
	StepClearance          float64 `json:"step_clearance"`
	StepDepth              float64 `json:"step_depth"`
	BodyClearance          float64 `json:"body_clearance"`
	StepCurvatureAllowance float64 `json:"step_curvature_allowance"`
	LegSpanScale           float64 `json:"leg_span_scale"`

	MaxTranslation         Vector3 `json:"max_translation"`
	MaxRotation            RPY     `json:"max_rotation"`
	MaxTranslationVelocity float64 `json:"max_translation_velocity"`
	MaxRotationVelocity    float64 `json:"max_rotation_velocity"`

	// MaxLinearAcceleration of -1 derives a value from the workspace such
	// that the last leg to swing stays within one footprint radius.
	MaxLinearAcceleration float64 `json:"max_linear_acceleration"`
	MaxCurvatureSpeed     float64 `json:"max_curvature_speed"`

	RotationPIDGains PIDGains `json:"rotation_pid_gains"`

	StancePhase      int   `json:"stance_phase"`
	SwingPhase       int   `json:"swing_phase"`
	PhaseOffset      int   `json:"phase_offset"`
	OffsetMultiplier []int `json:"offset_multiplier"`

	// PoseFrequency of -1 syncs auto posing to the step cycle.
	PoseFrequency   float64   `json:"pose_frequency"`
	PosePhaseLength int       `json:"pose_phase_length"`
	PosePhaseStarts []int     `json:"pose_phase_starts"`
	PosePhaseEnds   []int     `json:"pose_phase_ends"`
	XAmplitudes     []float64 `json:"x_amplitudes"`
	YAmplitudes     []float64 `json:"y_amplitudes"`
	ZAmplitudes     []float64 `json:"z_amplitudes"`
	RollAmplitudes  []float64 `json:"roll_amplitudes"`
	PitchAmplitudes []float64 `json:"pitch_amplitudes"`
	YawAmplitudes   []float64 `json:"yaw_amplitudes"`

	PoseNegationPhaseStarts []int `json:"pose_negation_phase_starts"`
	PoseNegationPhaseEnds   []int `json:"pose_negation_phase_ends"`

	TimeToStart float64 `json:"time_to_start"`

	Joints []JointParams `json:"joints"`

	ManualPosing      bool `json:"manual_posing"`
	InclinationPosing bool `json:"inclination_posing"`
	ImpedanceControl  bool `json:"impedance_control"`
	IMUPosing         bool `json:"imu_posing"`
	AutoPosing        bool `json:"auto_posing"`
}

// Default returns a parameter set for a standard hexapod tripod gait. Callers
// typically load a file over the top of it.
func Default() Parameters {
	return Parameters{
		TimeDelta:              0.02,
		StepFrequency:          1.0,
		StepClearance:          0.1,
		StepDepth:              0.0,
		BodyClearance:          -1,
		StepCurvatureAllowance: 0.7,
		LegSpanScale:           1.0,
		MaxTranslation:         Vector3{X: 0.05, Y: 0.05, Z: 0.05},
		MaxRotation:            RPY{Roll: 0.2, Pitch: 0.2, Yaw: 0.2},
		MaxTranslationVelocity: 0.05,
		MaxRotationVelocity:    0.2,
		MaxLinearAcceleration:  -1,
		MaxCurvatureSpeed:      0.4,
		RotationPIDGains:       PIDGains{P: 2.0, I: 0.0, D: 0.1},
		StancePhase:            2,
		SwingPhase:             2,
		PhaseOffset:            2,
		OffsetMultiplier:       []int{0, 1, 0, 1, 0, 1},
		PoseFrequency:          -1,
		PosePhaseLength:        4,
		TimeToStart:            6.0,
	}
}

// Read loads parameters from a JSON file, substituting ${ENV} references,
// over the top of the defaults.
func Read(path string) (Parameters, error) {
	p := Default()
	data, err := envsubst.ReadFile(path)
	if err != nil {
		return p, errors.Wrapf(err, "cannot read parameter file %q", path)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, errors.Wrapf(err, "cannot parse parameter file %q", path)
	}
	return p, p.Validate(path)
}

// Validate ensures all parts of the parameter set are consistent.
func (p *Parameters) Validate(path string) error {
	var err error
	if p.TimeDelta <= 0 {
		err = multierr.Append(err, fieldError(path, "time_delta", "must be positive"))
	}
	if p.StepFrequency <= 0 {
		err = multierr.Append(err, fieldError(path, "step_frequency", "must be positive"))
	}
	if p.StepClearance < 0 || p.StepClearance >= 1 {
		err = multierr.Append(err, fieldError(path, "step_clearance", "must be in [0,1)"))
	}
	if p.BodyClearance != -1 && (p.BodyClearance < 0 || p.BodyClearance >= 1) {
		err = multierr.Append(err, fieldError(path, "body_clearance", "must be -1 or in [0,1)"))
	}
	if p.StancePhase <= 0 || p.SwingPhase <= 0 {
		err = multierr.Append(err, fieldError(path, "stance_phase/swing_phase", "must be positive"))
	}
	if len(p.OffsetMultiplier) == 0 {
		err = multierr.Append(err, fieldError(path, "offset_multiplier", "requires one entry per leg"))
	}
	if p.PoseFrequency != -1 && p.PoseFrequency <= 0 {
		err = multierr.Append(err, fieldError(path, "pose_frequency", "must be -1 or positive"))
	}
	if len(p.PosePhaseStarts) != len(p.PosePhaseEnds) {
		err = multierr.Append(err, fieldError(path, "pose_phase_starts", "must pair with pose_phase_ends"))
	}
	for _, amps := range [][]float64{
		p.XAmplitudes, p.YAmplitudes, p.ZAmplitudes,
		p.RollAmplitudes, p.PitchAmplitudes, p.YawAmplitudes,
	} {
		if len(amps) != 0 && len(amps) != len(p.PosePhaseStarts) {
			err = multierr.Append(err, fieldError(path, "amplitudes", "must pair with pose_phase_starts"))
			break
		}
	}
	return err
}

// AutoPoserCount returns the number of configured auto-pose oscillators.
func (p *Parameters) AutoPoserCount() int {
	return len(p.PosePhaseStarts)
}

func fieldError(path, field, reason string) error {
	return errors.Errorf("%s: field %q %s", path, field, reason)
}
