package geometry

import "math"

// Point is a position on the diagram plane. Immutable value type.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns the point translated by (dx, dy).
func (p Point) Add(dx, dy float64) Point {
	return Point{X: p.X + dx, Y: p.Y + dy}
}

// Equals compares two points within epsilon.
func (p Point) Equals(other Point) bool {
	return math.Abs(p.X-other.X) < Epsilon && math.Abs(p.Y-other.Y) < Epsilon
}

// Distance returns the euclidean distance to another point.
func (p Point) Distance(other Point) float64 {
	return math.Hypot(other.X-p.X, other.Y-p.Y)
}

// ManhattanDistance returns |dx| + |dy| to another point.
func (p Point) ManhattanDistance(other Point) float64 {
	return math.Abs(other.X-p.X) + math.Abs(other.Y-p.Y)
}

// Epsilon is the tolerance used for coordinate comparisons.
const Epsilon = 1e-9

// Side identifies the side of a node box an edge anchors to.
type Side int

const (
	SideTop Side = iota
	SideRight
	SideBottom
	SideLeft
)

var sideNames = map[Side]string{
	SideTop:    "top",
	SideRight:  "right",
	SideBottom: "bottom",
	SideLeft:   "left",
}

func (s Side) String() string {
	if name, ok := sideNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseSide maps a side name to a Side. Unknown names default to SideRight.
func ParseSide(name string) Side {
	for s, n := range sideNames {
		if n == name {
			return s
		}
	}
	return SideRight
}

// Normal returns the outward unit direction of the side.
func (s Side) Normal() Point {
	switch s {
	case SideTop:
		return Point{X: 0, Y: -1}
	case SideRight:
		return Point{X: 1, Y: 0}
	case SideBottom:
		return Point{X: 0, Y: 1}
	default:
		return Point{X: -1, Y: 0}
	}
}

// IsHorizontal reports whether the side's normal points along the x axis.
func (s Side) IsHorizontal() bool {
	return s == SideLeft || s == SideRight
}
