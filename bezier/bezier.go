// Package bezier evaluates the cubic and quartic Bezier curves which generate
// all tip and joint trajectories in the locomotion controller. The step cycle
// integrates curve derivatives rather than resampling positions, so the
// quartic derivative is the hot path.
package bezier

import "github.com/golang/geo/r3"

// Quartic evaluates a degree-4 Bezier curve defined by five control nodes at
// parameter t in [0,1].
func Quartic(nodes *[5]r3.Vector, t float64) r3.Vector {
	s := 1.0 - t
	b0 := s * s * s * s
	b1 := 4 * s * s * s * t
	b2 := 6 * s * s * t * t
	b3 := 4 * s * t * t * t
	b4 := t * t * t * t
	return nodes[0].Mul(b0).
		Add(nodes[1].Mul(b1)).
		Add(nodes[2].Mul(b2)).
		Add(nodes[3].Mul(b3)).
		Add(nodes[4].Mul(b4))
}

// QuarticDot evaluates the first derivative of a degree-4 Bezier curve at
// parameter t in [0,1].
func QuarticDot(nodes *[5]r3.Vector, t float64) r3.Vector {
	s := 1.0 - t
	d0 := 4 * s * s * s
	d1 := 12 * s * s * t
	d2 := 12 * s * t * t
	d3 := 4 * t * t * t
	return nodes[1].Sub(nodes[0]).Mul(d0).
		Add(nodes[2].Sub(nodes[1]).Mul(d1)).
		Add(nodes[3].Sub(nodes[2]).Mul(d2)).
		Add(nodes[4].Sub(nodes[3]).Mul(d3))
}

// Cubic evaluates a degree-3 Bezier curve defined by four scalar control
// nodes at parameter t in [0,1]. Used for single joint trajectories.
func Cubic(nodes *[4]float64, t float64) float64 {
	s := 1.0 - t
	return nodes[0]*s*s*s +
		nodes[1]*3*s*s*t +
		nodes[2]*3*s*t*t +
		nodes[3]*t*t*t
}

// CubicDot evaluates the first derivative of a degree-3 Bezier curve at
// parameter t in [0,1].
func CubicDot(nodes *[4]float64, t float64) float64 {
	s := 1.0 - t
	return 3*s*s*(nodes[1]-nodes[0]) +
		6*s*t*(nodes[2]-nodes[1]) +
		3*t*t*(nodes[3]-nodes[2])
}
