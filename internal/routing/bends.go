package routing

import "github.com/gridline/gridline/engine-go/internal/geometry"

// Bend is a computed turning point inserted to keep a path orthogonal after
// an endpoint or waypoint moved. Bends are derived on every recompute and are
// never stored alongside user waypoints; the separate type enforces that.
type Bend struct {
	Position     geometry.Point `json:"position"`
	SegmentIndex int            `json:"segmentIndex"`
}

// VirtualBends walks consecutive point pairs and synthesizes one bend for
// every diagonal pair. The corner is placed at (p1.X, p2.Y) or (p2.X, p1.Y);
// both candidates add the same Manhattan length, so the choice follows the
// previous segment's orientation to avoid zig-zag, horizontal-first when
// there is no momentum.
func VirtualBends(path []geometry.Point) []Bend {
	if len(path) < 2 {
		return nil
	}

	var bends []Bend
	prevOrient := geometry.OrientDegenerate

	for i := 0; i < len(path)-1; i++ {
		p1, p2 := path[i], path[i+1]
		seg := geometry.Segment{A: p1, B: p2}
		orient := seg.Orientation()

		if orient != geometry.OrientDiagonal {
			if orient != geometry.OrientDegenerate {
				prevOrient = orient
			}
			continue
		}

		vertFirst := geometry.Point{X: p1.X, Y: p2.Y} // vertical leg, then horizontal
		horizFirst := geometry.Point{X: p2.X, Y: p1.Y}

		corner := chooseCorner(vertFirst, horizFirst, prevOrient)
		bends = append(bends, Bend{Position: corner, SegmentIndex: i})

		// The inserted corner makes the pair's second leg the new
		// previous orientation.
		if corner == vertFirst {
			prevOrient = geometry.OrientHorizontal
		} else {
			prevOrient = geometry.OrientVertical
		}
	}

	return bends
}

func chooseCorner(vertFirst, horizFirst geometry.Point, prevOrient geometry.Orientation) geometry.Point {
	// Keep going vertically before turning when there is vertical momentum.
	if prevOrient == geometry.OrientVertical {
		return vertFirst
	}
	return horizFirst
}

// InsertBends folds bend positions into the path, producing the fully
// orthogonal point list used for rendering and hit-testing.
func InsertBends(path []geometry.Point, bends []Bend) []geometry.Point {
	if len(bends) == 0 {
		out := make([]geometry.Point, len(path))
		copy(out, path)
		return out
	}

	bySegment := make(map[int]geometry.Point, len(bends))
	for _, b := range bends {
		bySegment[b.SegmentIndex] = b.Position
	}

	out := make([]geometry.Point, 0, len(path)+len(bends))
	for i, p := range path {
		out = append(out, p)
		if corner, ok := bySegment[i]; ok {
			out = append(out, corner)
		}
	}
	return out
}
