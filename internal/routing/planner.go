package routing

import (
	"math"

	"github.com/gridline/gridline/engine-go/internal/geometry"
)

const (
	// DefaultJetty is the clearance a route keeps from a node boundary
	// before its first turn.
	DefaultJetty = 20.0

	// minBoxSize replaces non-positive node dimensions so routing stays
	// defined for malformed geometry.
	minBoxSize = 1.0
)

// Planner computes default orthogonal routes between two anchors.
// Pure: no state beyond configuration, no side effects.
type Planner struct {
	Jetty float64
}

// NewPlanner creates a planner with the given jetty clearance.
// Non-positive jetty falls back to the default.
func NewPlanner(jetty float64) *Planner {
	if jetty <= 0 {
		jetty = DefaultJetty
	}
	return &Planner{Jetty: jetty}
}

// Route returns an ordered, axis-aligned path of 2-4 points from the source
// anchor to the target anchor. Horizontal-first routing is chosen when the
// anchors are separated at least as far on the x axis as on the y axis.
func (p *Planner) Route(src, dst geometry.Anchor) []geometry.Point {
	srcBox := src.Box.Clamped(minBoxSize)
	dstBox := dst.Box.Clamped(minBoxSize)

	a := srcBox.AnchorPoint(src.Side)
	b := dstBox.AnchorPoint(dst.Side)

	dx := b.X - a.X
	dy := b.Y - a.Y

	// Anchors aligned on one axis collapse to a straight segment.
	if math.Abs(dx) < geometry.Epsilon || math.Abs(dy) < geometry.Epsilon {
		return []geometry.Point{a, b}
	}

	var path []geometry.Point
	if math.Abs(dx) >= math.Abs(dy) {
		bx := p.clearedMid(a.X, b.X, srcBox.X, srcBox.MaxX(), dstBox.X, dstBox.MaxX())
		path = []geometry.Point{a, {X: bx, Y: a.Y}, {X: bx, Y: b.Y}, b}
	} else {
		by := p.clearedMid(a.Y, b.Y, srcBox.Y, srcBox.MaxY(), dstBox.Y, dstBox.MaxY())
		path = []geometry.Point{a, {X: a.X, Y: by}, {X: b.X, Y: by}, b}
	}

	return SimplifyPath(path)
}

// clearedMid picks the coordinate of the middle leg: halfway between the
// anchors, pushed out so the first and last legs clear both boxes by the
// jetty distance whenever the gap allows it.
func (p *Planner) clearedMid(from, to, srcMin, srcMax, dstMin, dstMax float64) float64 {
	mid := (from + to) / 2

	if to > from {
		lo := srcMax + p.Jetty
		hi := dstMin - p.Jetty
		if lo <= hi {
			return math.Min(math.Max(mid, lo), hi)
		}
		// Boxes too close for full clearance on both sides; prefer
		// clearing the source so the path visibly leaves the shape.
		return math.Max(mid, lo)
	}

	lo := dstMax + p.Jetty
	hi := srcMin - p.Jetty
	if lo <= hi {
		return math.Min(math.Max(mid, lo), hi)
	}
	return math.Min(mid, hi)
}

// SimplifyPath drops consecutive duplicate points and merges collinear
// runs of segments into one.
func SimplifyPath(points []geometry.Point) []geometry.Point {
	if len(points) < 2 {
		return points
	}

	out := make([]geometry.Point, 0, len(points))
	out = append(out, points[0])
	for _, p := range points[1:] {
		if !p.Equals(out[len(out)-1]) {
			out = append(out, p)
		}
	}

	// Merge collinear consecutive segments.
	simplified := out[:1]
	for i := 1; i < len(out)-1; i++ {
		prev := geometry.Segment{A: simplified[len(simplified)-1], B: out[i]}
		next := geometry.Segment{A: out[i], B: out[i+1]}
		po, no := prev.Orientation(), next.Orientation()
		if po == no && po != geometry.OrientDiagonal {
			continue
		}
		simplified = append(simplified, out[i])
	}
	simplified = append(simplified, out[len(out)-1])

	return simplified
}
