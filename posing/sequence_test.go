package posing

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/openlegged/locomotion/model"
	"github.com/openlegged/locomotion/params"
)

// runSequence advances the sequence until completion or the tick budget runs
// out, returning the tick count.
func runSequence(t *testing.T, c *Controller, dir model.SequenceDirection, budget int) int {
	t.Helper()
	for ticks := 1; ticks <= budget; ticks++ {
		progress, err := c.ExecuteSequence(dir)
		test.That(t, err, test.ShouldBeNil)
		if progress == params.ProgressComplete {
			return ticks
		}
	}
	t.Fatalf("sequence %v did not complete within %d ticks", dir, budget)
	return budget
}

func TestStartUpDiscoversSequence(t *testing.T) {
	c, walker, mdl := newTestPoser(t, nil)

	// First execution reports undefined progress while discovering.
	progress, err := c.ExecuteSequence(model.StartUp)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, progress, test.ShouldEqual, -1)

	runSequence(t, c, model.StartUp, 2000)

	// Every leg cached its initial position plus one per transition step.
	for i := 0; i < mdl.LegCount(); i++ {
		test.That(t, c.LegPoser(i).HasTransitionPosition(c.TransitionStep()), test.ShouldBeTrue)
	}

	// Legs landed on the walker defaults.
	for i := 0; i < mdl.LegCount(); i++ {
		tip := mdl.Legs()[i].CurrentTipPosition()
		want := walker.Stepper(i).DefaultTipPosition()
		test.That(t, tip.X, test.ShouldAlmostEqual, want.X, 1e-9)
		test.That(t, tip.Y, test.ShouldAlmostEqual, want.Y, 1e-9)
		test.That(t, tip.Z, test.ShouldAlmostEqual, want.Z, 1e-9)
	}
}

func TestSequencerReplayMatchesDiscovery(t *testing.T) {
	// S5: after a discovered StartUp, ShutDown then StartUp replay the cached
	// positions exactly.
	c, _, mdl := newTestPoser(t, nil)

	initial := make([]r3.Vector, mdl.LegCount())
	for i, leg := range mdl.Legs() {
		initial[i] = leg.CurrentTipPosition()
	}

	runSequence(t, c, model.StartUp, 2000)

	cached := make([][]r3.Vector, mdl.LegCount())
	stepCount := c.TransitionStep()
	for i := 0; i < mdl.LegCount(); i++ {
		for step := 0; step <= stepCount; step++ {
			cached[i] = append(cached[i], c.LegPoser(i).TransitionPosition(step))
		}
	}

	// Shut down: legs return to their initial positions.
	runSequence(t, c, model.ShutDown, 2000)
	for i, leg := range mdl.Legs() {
		tip := leg.CurrentTipPosition()
		test.That(t, tip.X, test.ShouldAlmostEqual, initial[i].X, 1e-9)
		test.That(t, tip.Y, test.ShouldAlmostEqual, initial[i].Y, 1e-9)
		test.That(t, tip.Z, test.ShouldAlmostEqual, initial[i].Z, 1e-9)
	}

	// Start up again: the replay lands every leg on the cached final
	// positions, and the cache itself is unchanged.
	runSequence(t, c, model.StartUp, 2000)
	for i, leg := range mdl.Legs() {
		tip := leg.CurrentTipPosition()
		final := cached[i][stepCount]
		test.That(t, tip.X, test.ShouldAlmostEqual, final.X, 1e-9)
		test.That(t, tip.Y, test.ShouldAlmostEqual, final.Y, 1e-9)
		test.That(t, tip.Z, test.ShouldAlmostEqual, final.Z, 1e-9)
		for step := 0; step <= stepCount; step++ {
			test.That(t, c.LegPoser(i).TransitionPosition(step), test.ShouldResemble, cached[i][step])
		}
	}
}

func TestSequencerProximityAlert(t *testing.T) {
	// S6: when IK reports zero limit proximity everywhere, every horizontal
	// transition raises an alert (vertical transitions log the violation but
	// do not set the alert), horizontal transitions never complete, and the
	// step budget eventually aborts the sequence.
	c, _, mdl := newTestPoser(t, nil)
	for i := 0; i < mdl.LegCount(); i++ {
		mdl.FakeLeg(i).ProximityOverride = 0
	}

	sawAlert := false
	var finalErr error
	for ticks := 0; ticks < 500; ticks++ {
		_, err := c.ExecuteSequence(model.StartUp)
		if c.ProximityAlert() {
			sawAlert = true
		}
		test.That(t, c.HorizontalTransitionComplete(), test.ShouldBeFalse)
		if err != nil {
			finalErr = err
			break
		}
	}

	test.That(t, sawAlert, test.ShouldBeTrue)
	test.That(t, finalErr, test.ShouldNotBeNil)
	test.That(t, errors.Is(finalErr, ErrTransitionBudget), test.ShouldBeTrue)
}

func TestInvalidateTransitionSequence(t *testing.T) {
	c, _, _ := newTestPoser(t, nil)
	runSequence(t, c, model.StartUp, 2000)
	stepCount := c.TransitionStep()
	test.That(t, stepCount, test.ShouldBeGreaterThan, 0)

	// Invalidation forces the next StartUp to rediscover from scratch.
	c.InvalidateTransitionSequence()
	progress, err := c.ExecuteSequence(model.StartUp)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, progress, test.ShouldEqual, -1)
	test.That(t, c.TransitionStep(), test.ShouldBeLessThanOrEqualTo, 1)
}

func TestDirectStartup(t *testing.T) {
	c, walker, mdl := newTestPoser(t, func(p *params.Parameters) {
		p.TimeToStart = 1.0
	})

	progress := 0
	var err error
	for ticks := 0; ticks < 60; ticks++ {
		progress, err = c.DirectStartup()
		test.That(t, err, test.ShouldBeNil)
		if progress == params.ProgressComplete {
			break
		}
	}
	test.That(t, progress, test.ShouldEqual, params.ProgressComplete)

	for i, leg := range mdl.Legs() {
		tip := leg.CurrentTipPosition()
		want := walker.Stepper(i).DefaultTipPosition()
		test.That(t, tip.X, test.ShouldAlmostEqual, want.X, 1e-9)
		test.That(t, tip.Z, test.ShouldAlmostEqual, want.Z, 1e-9)
	}
}

func TestPackAndUnpackLegs(t *testing.T) {
	c, _, mdl := newTestPoser(t, nil)

	progress := 0
	for ticks := 0; ticks < 120; ticks++ {
		progress = c.PackLegs(2.0)
		if progress == params.ProgressComplete {
			break
		}
	}
	test.That(t, progress, test.ShouldEqual, params.ProgressComplete)
	for i := 0; i < mdl.LegCount(); i++ {
		joints := mdl.Legs()[i].JointPositions()
		packed := mdl.Legs()[i].PackedJointPositions()
		for j := range joints {
			test.That(t, joints[j], test.ShouldAlmostEqual, packed[j], 1e-9)
		}
	}

	for ticks := 0; ticks < 120; ticks++ {
		progress = c.UnpackLegs(2.0)
		if progress == params.ProgressComplete {
			break
		}
	}
	test.That(t, progress, test.ShouldEqual, params.ProgressComplete)
	for i := 0; i < mdl.LegCount(); i++ {
		joints := mdl.Legs()[i].JointPositions()
		unpacked := mdl.Legs()[i].UnpackedJointPositions()
		for j := range joints {
			test.That(t, joints[j], test.ShouldAlmostEqual, unpacked[j], 1e-9)
		}
	}
}

func TestStepToNewStanceMarksCacheForReset(t *testing.T) {
	c, _, _ := newTestPoser(t, nil)
	runSequence(t, c, model.StartUp, 2000)

	c.sequencer.resetTransitionSequence = false
	_, err := c.StepToNewStance()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c.sequencer.resetTransitionSequence, test.ShouldBeTrue)
}
