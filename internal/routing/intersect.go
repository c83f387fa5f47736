package routing

import (
	"sort"

	"github.com/gridline/gridline/engine-go/internal/geometry"
)

// Intersection is a detected crossing between a segment of one edge and a
// segment of another. Advisory output for rendering crossing markers;
// recomputed on demand, never persisted.
type Intersection struct {
	Point             geometry.Point `json:"point"`
	SegmentIndex      int            `json:"segmentIndex"`
	OtherEdgeID       string         `json:"otherEdgeId"`
	OtherSegmentIndex int            `json:"otherSegmentIndex"`
}

// DetectIntersections reports every crossing between the edge's resolved path
// and the resolved paths of the given working set. The caller decides which
// other edges are candidates (viewport culling lives upstream); correctness
// is only promised for the pairs given. Output order is deterministic.
func DetectIntersections(edgeID string, path []geometry.Point, others map[string][]geometry.Point) []Intersection {
	segments := geometry.PathSegments(path)
	if len(segments) == 0 || len(others) == 0 {
		return nil
	}

	otherIDs := make([]string, 0, len(others))
	for id := range others {
		if id == edgeID {
			continue
		}
		otherIDs = append(otherIDs, id)
	}
	sort.Strings(otherIDs)

	var crossings []Intersection
	for _, otherID := range otherIDs {
		otherSegs := geometry.PathSegments(others[otherID])
		for i, seg := range segments {
			for j, other := range otherSegs {
				if p, ok := seg.Cross(other); ok {
					crossings = append(crossings, Intersection{
						Point:             p,
						SegmentIndex:      i,
						OtherEdgeID:       otherID,
						OtherSegmentIndex: j,
					})
				}
			}
		}
	}

	return crossings
}
