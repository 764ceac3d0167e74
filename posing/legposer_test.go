package posing

import (
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/openlegged/locomotion/model/fake"
	"github.com/openlegged/locomotion/params"
	"github.com/openlegged/locomotion/spatialmath"
)

func newTestLegPoser(t *testing.T) (*LegPoser, *fake.Leg) {
	t.Helper()
	p := params.Default()
	mdl := fake.NewHexapod(0.15)
	leg := mdl.FakeLeg(0)
	return NewLegPoser(golog.NewTestLogger(t), p, leg), leg
}

func TestMoveToJointPositionCompletes(t *testing.T) {
	lp, leg := newTestLegPoser(t)
	target := []float64{0.2, 0.5, 1.0}

	// One second at 20ms ticks: 50 iterations.
	progress := 0
	iterations := 0
	for progress != params.ProgressComplete {
		progress = lp.MoveToJointPosition(target, 1.0)
		iterations++
		test.That(t, iterations, test.ShouldBeLessThan, 60)
	}
	test.That(t, iterations, test.ShouldEqual, 50)

	joints := leg.JointPositions()
	for i, want := range target {
		test.That(t, joints[i], test.ShouldAlmostEqual, want, 1e-9)
	}
}

func TestMoveToJointPositionEarlyExit(t *testing.T) {
	lp, leg := newTestLegPoser(t)

	// Already at target within tolerance: complete on the first call.
	progress := lp.MoveToJointPosition(leg.JointPositions(), 1.0)
	test.That(t, progress, test.ShouldEqual, params.ProgressComplete)
}

func TestMoveToJointPositionProgressMonotone(t *testing.T) {
	lp, _ := newTestLegPoser(t)
	target := []float64{0.3, 0.4, 0.9}

	last := -1
	for i := 0; i < 50; i++ {
		progress := lp.MoveToJointPosition(target, 1.0)
		test.That(t, progress, test.ShouldBeGreaterThanOrEqualTo, last)
		test.That(t, progress, test.ShouldBeLessThanOrEqualTo, params.ProgressComplete)
		last = progress
	}
	test.That(t, last, test.ShouldEqual, params.ProgressComplete)
}

func TestStepToPositionReachesTarget(t *testing.T) {
	lp, leg := newTestLegPoser(t)
	origin := leg.CurrentTipPosition()
	target := origin.Add(r3.Vector{X: 0.05, Y: -0.02})

	liftHeight := 0.03
	maxZ := origin.Z
	progress := 0
	for progress != params.ProgressComplete {
		progress = lp.StepToPosition(target, spatialmath.NewZeroPose(), liftHeight, 1.0, false)
		if lp.CurrentTipPosition().Z > maxZ {
			maxZ = lp.CurrentTipPosition().Z
		}
	}

	tip := lp.CurrentTipPosition()
	test.That(t, tip.X, test.ShouldAlmostEqual, target.X, 1e-9)
	test.That(t, tip.Y, test.ShouldAlmostEqual, target.Y, 1e-9)
	test.That(t, tip.Z, test.ShouldAlmostEqual, target.Z, 1e-9)

	// The maneuver lifted the tip on its way over.
	test.That(t, maxZ, test.ShouldBeGreaterThan, origin.Z+0.5*liftHeight)
}

func TestStepToPositionEarlyExit(t *testing.T) {
	lp, leg := newTestLegPoser(t)

	progress := lp.StepToPosition(leg.CurrentTipPosition(), spatialmath.NewZeroPose(), 0.0, 1.0, false)
	test.That(t, progress, test.ShouldEqual, params.ProgressComplete)
}

func TestStepToPositionAppliesPoseProgressively(t *testing.T) {
	lp, leg := newTestLegPoser(t)
	origin := leg.CurrentTipPosition()
	target := origin.Add(r3.Vector{X: 0.04})

	pose := spatialmath.NewPoseFromEuler(r3.Vector{Z: 0.02}, r3.Vector{})

	progress := 0
	for progress != params.ProgressComplete {
		progress = lp.StepToPosition(target, pose, 0.0, 1.0, false)
	}

	// At completion the pose has been applied inversely at the last
	// iteration's completion ratio, 49 of 50.
	want := pose.Interpolate(float64(49) / 50).InverseTransformVector(target)
	tip := lp.CurrentTipPosition()
	test.That(t, tip.Z, test.ShouldAlmostEqual, want.Z, 1e-9)
}

func TestTransitionPositionCache(t *testing.T) {
	lp, _ := newTestLegPoser(t)

	test.That(t, lp.HasTransitionPosition(0), test.ShouldBeFalse)
	lp.AddTransitionPosition(r3.Vector{X: 1})
	lp.AddTransitionPosition(r3.Vector{X: 2})
	test.That(t, lp.HasTransitionPosition(1), test.ShouldBeTrue)
	test.That(t, lp.TransitionPosition(1).X, test.ShouldEqual, 2.0)

	lp.ResetTransitionSequence()
	test.That(t, lp.HasTransitionPosition(0), test.ShouldBeFalse)
}
