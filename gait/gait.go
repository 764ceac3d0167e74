// Package gait defines the step cycle tables which phase-offset the legs into
// a walking pattern. A gait is loaded once at startup; the walk controller
// normalises it against the tick rate.
package gait

import "github.com/openlegged/locomotion/params"

// Gait describes one step cycle pattern in base (unnormalised) phase units.
type Gait struct {
	Name        string
	StancePhase int
	SwingPhase  int
	PhaseOffset int

	// OffsetMultiplier holds one entry per leg, indexed by leg ID. Legs with
	// multiplier zero have no phase offset; the walk reference leg is leg ID 0
	// whatever its multiplier.
	OffsetMultiplier []int
}

// BasePhaseLength is the length of one base step cycle.
func (g Gait) BasePhaseLength() int {
	return g.StancePhase + g.SwingPhase
}

// SwingRatio is the fraction of the base cycle spent in swing.
func (g Gait) SwingRatio() float64 {
	return float64(g.SwingPhase) / float64(g.BasePhaseLength())
}

// Tripod keeps three legs grounded at all times, alternating two groups.
func Tripod() Gait {
	return Gait{
		Name:             "tripod",
		StancePhase:      2,
		SwingPhase:       2,
		PhaseOffset:      2,
		OffsetMultiplier: []int{0, 1, 1, 0, 0, 1},
	}
}

// Wave swings one leg at a time for maximum stability.
func Wave() Gait {
	return Gait{
		Name:             "wave",
		StancePhase:      10,
		SwingPhase:       2,
		PhaseOffset:      2,
		OffsetMultiplier: []int{2, 5, 1, 4, 0, 3},
	}
}

// Ripple overlaps swings such that two legs may be airborne.
func Ripple() Gait {
	return Gait{
		Name:             "ripple",
		StancePhase:      4,
		SwingPhase:       2,
		PhaseOffset:      1,
		OffsetMultiplier: []int{2, 0, 4, 1, 3, 5},
	}
}

// FromParameters builds a gait from the loaded parameter set.
func FromParameters(p *params.Parameters) Gait {
	return Gait{
		Name:             "configured",
		StancePhase:      p.StancePhase,
		SwingPhase:       p.SwingPhase,
		PhaseOffset:      p.PhaseOffset,
		OffsetMultiplier: p.OffsetMultiplier,
	}
}
