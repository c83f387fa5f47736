package geometry

import "math"

// Orientation classifies a segment's direction.
type Orientation int

const (
	OrientDegenerate Orientation = iota // zero length
	OrientHorizontal
	OrientVertical
	OrientDiagonal
)

func (o Orientation) String() string {
	switch o {
	case OrientHorizontal:
		return "horizontal"
	case OrientVertical:
		return "vertical"
	case OrientDiagonal:
		return "diagonal"
	default:
		return "degenerate"
	}
}

// Segment is a straight line between two consecutive path points.
// Derived state, never stored.
type Segment struct {
	A Point `json:"a"`
	B Point `json:"b"`
}

// Orientation returns the segment's direction class.
func (s Segment) Orientation() Orientation {
	dx := math.Abs(s.B.X - s.A.X)
	dy := math.Abs(s.B.Y - s.A.Y)
	switch {
	case dx < Epsilon && dy < Epsilon:
		return OrientDegenerate
	case dy < Epsilon:
		return OrientHorizontal
	case dx < Epsilon:
		return OrientVertical
	default:
		return OrientDiagonal
	}
}

// IsAxisAligned reports whether the segment is horizontal or vertical.
// Degenerate segments count as aligned.
func (s Segment) IsAxisAligned() bool {
	return s.Orientation() != OrientDiagonal
}

// Length returns the segment's euclidean length.
func (s Segment) Length() float64 {
	return s.A.Distance(s.B)
}

// Cross returns the crossing point of two perpendicular axis-aligned
// segments, if any. Parallel or diagonal segments never cross; shared
// endpoints do not count as a crossing.
func (s Segment) Cross(other Segment) (Point, bool) {
	var h, v Segment
	switch {
	case s.Orientation() == OrientHorizontal && other.Orientation() == OrientVertical:
		h, v = s, other
	case s.Orientation() == OrientVertical && other.Orientation() == OrientHorizontal:
		h, v = other, s
	default:
		return Point{}, false
	}

	x := v.A.X
	y := h.A.Y

	if x < min(h.A.X, h.B.X)-Epsilon || x > max(h.A.X, h.B.X)+Epsilon {
		return Point{}, false
	}
	if y < min(v.A.Y, v.B.Y)-Epsilon || y > max(v.A.Y, v.B.Y)+Epsilon {
		return Point{}, false
	}

	p := Point{X: x, Y: y}
	if p.Equals(s.A) || p.Equals(s.B) || p.Equals(other.A) || p.Equals(other.B) {
		return Point{}, false
	}
	return p, true
}

// PathSegments derives the segment list from an ordered point list.
func PathSegments(points []Point) []Segment {
	if len(points) < 2 {
		return nil
	}
	segments := make([]Segment, 0, len(points)-1)
	for i := 0; i < len(points)-1; i++ {
		segments = append(segments, Segment{A: points[i], B: points[i+1]})
	}
	return segments
}
