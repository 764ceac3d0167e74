package gait

import (
	"testing"

	"go.viam.com/test"

	"github.com/openlegged/locomotion/params"
)

func TestGaitRatios(t *testing.T) {
	for _, tc := range []struct {
		g          Gait
		base       int
		swingRatio float64
	}{
		{Tripod(), 4, 0.5},
		{Wave(), 12, 1.0 / 6.0},
		{Ripple(), 6, 1.0 / 3.0},
	} {
		t.Run(tc.g.Name, func(t *testing.T) {
			test.That(t, tc.g.BasePhaseLength(), test.ShouldEqual, tc.base)
			test.That(t, tc.g.SwingRatio(), test.ShouldAlmostEqual, tc.swingRatio, 1e-12)
			test.That(t, len(tc.g.OffsetMultiplier), test.ShouldEqual, 6)
		})
	}
}

func TestFromParameters(t *testing.T) {
	p := params.Default()
	p.StancePhase = 4
	p.SwingPhase = 2
	g := FromParameters(&p)
	test.That(t, g.BasePhaseLength(), test.ShouldEqual, 6)
	test.That(t, g.OffsetMultiplier, test.ShouldResemble, p.OffsetMultiplier)
}
