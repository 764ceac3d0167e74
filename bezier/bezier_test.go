package bezier

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestQuarticEndpoints(t *testing.T) {
	nodes := [5]r3.Vector{
		{X: 0, Y: 0, Z: 0},
		{X: 1, Y: 0.5, Z: 0},
		{X: 2, Y: 1, Z: 0.5},
		{X: 3, Y: 0.5, Z: 0},
		{X: 4, Y: 0, Z: 0},
	}

	start := Quartic(&nodes, 0)
	end := Quartic(&nodes, 1)
	test.That(t, start, test.ShouldResemble, nodes[0])
	test.That(t, end, test.ShouldResemble, nodes[4])
}

func TestQuarticDotMatchesFiniteDifference(t *testing.T) {
	nodes := [5]r3.Vector{
		{X: 0, Z: -0.3},
		{X: 0.2, Y: 0.1, Z: -0.2},
		{X: 0.5, Y: 0.3, Z: 0.1},
		{X: 0.8, Y: 0.1, Z: -0.2},
		{X: 1, Z: -0.3},
	}

	const h = 1e-7
	for _, tv := range []float64{0.1, 0.25, 0.5, 0.75, 0.9} {
		analytic := QuarticDot(&nodes, tv)
		numeric := Quartic(&nodes, tv+h).Sub(Quartic(&nodes, tv-h)).Mul(1 / (2 * h))
		test.That(t, analytic.X, test.ShouldAlmostEqual, numeric.X, 1e-6)
		test.That(t, analytic.Y, test.ShouldAlmostEqual, numeric.Y, 1e-6)
		test.That(t, analytic.Z, test.ShouldAlmostEqual, numeric.Z, 1e-6)
	}
}

func TestQuarticDerivativeIntegratesToEndpoint(t *testing.T) {
	// The step cycle advances a tip by summing deltaT*QuarticDot; the sum must
	// land on the final node to within quantisation error.
	nodes := [5]r3.Vector{
		{X: 0.1, Y: 0.2, Z: -0.4},
		{X: 0.15, Y: 0.25, Z: -0.35},
		{X: 0.3, Y: 0.3, Z: -0.3},
		{X: 0.45, Y: 0.25, Z: -0.35},
		{X: 0.5, Y: 0.2, Z: -0.4},
	}

	const iterations = 1000
	deltaT := 1.0 / iterations
	pos := nodes[0]
	for i := 1; i <= iterations; i++ {
		pos = pos.Add(QuarticDot(&nodes, float64(i)*deltaT).Mul(deltaT))
	}
	test.That(t, pos.X, test.ShouldAlmostEqual, nodes[4].X, 1e-3)
	test.That(t, pos.Y, test.ShouldAlmostEqual, nodes[4].Y, 1e-3)
	test.That(t, pos.Z, test.ShouldAlmostEqual, nodes[4].Z, 1e-3)
}

func TestCubicEndpointsAndFlatness(t *testing.T) {
	nodes := [4]float64{1.0, 1.0, 2.5, 2.5}

	test.That(t, Cubic(&nodes, 0), test.ShouldAlmostEqual, 1.0, 1e-12)
	test.That(t, Cubic(&nodes, 1), test.ShouldAlmostEqual, 2.5, 1e-12)

	// Doubled end nodes give zero derivative at both ends.
	test.That(t, CubicDot(&nodes, 0), test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, CubicDot(&nodes, 1), test.ShouldAlmostEqual, 0, 1e-12)
}
