package walk

import (
	"math"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/openlegged/locomotion/model"
)

func testTiming() Timing {
	// phase length 40 at 25ms ticks: swing and stance each span 20 ticks and
	// the bezier iteration counts line up exactly with the tick counts.
	return Timing{
		PhaseLength:   40,
		SwingStart:    20,
		SwingEnd:      40,
		StanceStart:   40,
		StanceEnd:     20,
		StepFrequency: 1.0,
		TimeDelta:     0.025,
	}
}

func newTestStepper(t *testing.T) *LegStepper {
	t.Helper()
	logger := golog.NewTestLogger(t)
	identity := r3.Vector{X: 0.3, Y: 0.1, Z: -0.1}
	return NewLegStepper(logger, 0, testTiming(), identity, 0.04, 0.0)
}

func TestStanceControlNodes(t *testing.T) {
	s := newTestStepper(t)
	stride := r3.Vector{X: 0.05}
	s.stanceOriginTipPosition = s.defaultTipPosition.Add(stride.Mul(0.5))
	s.generateStanceControlNodes(stride)

	origin := s.stanceOriginTipPosition
	target := origin.Sub(stride)

	test.That(t, s.StanceNode(0).X, test.ShouldAlmostEqual, origin.X, 1e-12)
	test.That(t, s.StanceNode(4).X, test.ShouldAlmostEqual, target.X, 1e-12)
	test.That(t, s.StanceNode(4).Z, test.ShouldAlmostEqual, s.defaultTipPosition.Z, 1e-12)

	// Interior nodes are evenly spaced for constant horizontal velocity.
	test.That(t, s.StanceNode(1).X, test.ShouldAlmostEqual, target.X+0.75*stride.X, 1e-12)
	test.That(t, s.StanceNode(2).X, test.ShouldAlmostEqual, target.X+0.5*stride.X, 1e-12)
	test.That(t, s.StanceNode(3).X, test.ShouldAlmostEqual, target.X+0.25*stride.X, 1e-12)

	// Vertical mid node sets the stance depth; neighbours average for C2.
	test.That(t, s.StanceNode(2).Z, test.ShouldAlmostEqual, origin.Z-s.stanceDepth, 1e-12)
	test.That(t, s.StanceNode(1).Z, test.ShouldAlmostEqual, (s.StanceNode(0).Z+s.StanceNode(2).Z)/2, 1e-12)
	test.That(t, s.StanceNode(3).Z, test.ShouldAlmostEqual, (s.StanceNode(4).Z+s.StanceNode(2).Z)/2, 1e-12)
}

func TestSwingControlNodeContinuity(t *testing.T) {
	s := newTestStepper(t)
	stride := r3.Vector{X: 0.05, Y: 0.01}

	// Stand up a stance curve to swing away from.
	s.stanceDeltaT = s.calculateDeltaT(model.Stance, testTiming().StanceLength())
	s.swingDeltaT = s.calculateDeltaT(model.Swing, testTiming().SwingLength())
	s.stanceOriginTipPosition = s.defaultTipPosition.Add(stride.Mul(0.5))
	s.generateStanceControlNodes(stride)
	s.swingOriginTipPosition = s.stanceNodes[4]
	s.generateSwingControlNodes()

	scaler := s.stanceDeltaT / s.swingDeltaT

	// C0 at the stance exit seam.
	test.That(t, s.Swing1Node(0), test.ShouldResemble, s.swingOriginTipPosition)

	// C1: first node difference carries the stance exit velocity through the
	// time rescaling.
	wantVel := s.StanceNode(4).Sub(s.StanceNode(3)).Mul(scaler)
	test.That(t, s.Swing1Node(1).X-s.Swing1Node(0).X, test.ShouldAlmostEqual, wantVel.X, 1e-12)
	test.That(t, s.Swing1Node(1).Y-s.Swing1Node(0).Y, test.ShouldAlmostEqual, wantVel.Y, 1e-12)

	// C2: second node difference equals the first.
	d1 := s.Swing1Node(1).Sub(s.Swing1Node(0))
	d2 := s.Swing1Node(2).Sub(s.Swing1Node(1))
	test.That(t, d2.X, test.ShouldAlmostEqual, d1.X, 1e-12)
	test.That(t, d2.Y, test.ShouldAlmostEqual, d1.Y, 1e-12)

	// C0 within the swing: apex node shared between the curves.
	test.That(t, s.Swing2Node(0), test.ShouldResemble, s.Swing1Node(4))

	// C0 into the next stance.
	test.That(t, s.Swing2Node(4), test.ShouldResemble, s.StanceNode(0))

	// C1 into the next stance.
	entryVel := s.StanceNode(0).Sub(s.StanceNode(1)).Mul(scaler)
	test.That(t, s.Swing2Node(4).X-s.Swing2Node(3).X, test.ShouldAlmostEqual, -entryVel.X, 1e-12)

	// The apex sits one swing height above the swing origin.
	test.That(t, s.Swing1Node(4).Z, test.ShouldAlmostEqual, s.swingOriginTipPosition.Z+s.swingHeight, 1e-12)
	test.That(t, s.Swing1Node(3).Z, test.ShouldAlmostEqual, s.Swing1Node(4).Z, 1e-12)
}

func TestCalculateDeltaT(t *testing.T) {
	s := newTestStepper(t)

	// Swing of 20 ticks at these rates yields 20 iterations, deltaT 0.1.
	test.That(t, s.calculateDeltaT(model.Swing, 20), test.ShouldAlmostEqual, 0.1, 1e-12)
	// Stance parameterises the same iterations over [0,1].
	test.That(t, s.calculateDeltaT(model.Stance, 20), test.ShouldAlmostEqual, 0.05, 1e-12)
	// Degenerate lengths never divide by zero.
	test.That(t, s.calculateDeltaT(model.Stance, 0), test.ShouldAlmostEqual, 0.5, 1e-12)
}

func TestSwingApexPlacement(t *testing.T) {
	s := newTestStepper(t)
	stride := r3.Vector{X: 0.05}
	s.UpdateStride(stride)

	// Run a full stance first so the swing sees realistic exit derivatives.
	s.completedFirstStep = true
	s.stepState = model.Stance
	for phase := 0; phase < 20; phase++ {
		s.phase = phase
		s.updateStancePosition()
	}
	s.stepState = model.Swing

	swingOriginZ := s.currentTipPosition.Z
	maxZ := math.Inf(-1)
	maxIteration := 0
	for phase := 20; phase < 40; phase++ {
		s.phase = phase
		s.updateSwingPosition()
		if s.currentTipPosition.Z >= maxZ {
			maxZ = s.currentTipPosition.Z
			maxIteration = phase - 20 + 1
		}
	}

	// The vertical maximum lands at the half-swing iteration and one swing
	// height above the origin, to within the integration quantisation.
	test.That(t, maxIteration, test.ShouldEqual, 10)
	test.That(t, maxZ, test.ShouldAlmostEqual, swingOriginZ+s.swingHeight, 1e-3)
}
