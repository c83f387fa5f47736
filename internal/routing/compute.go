package routing

import (
	"fmt"

	"github.com/gridline/gridline/engine-go/internal/geometry"
)

// Operation names one routing computation. The values are shared with the
// worker protocol and the HTTP surface.
type Operation string

const (
	OpOptimizeWaypoints     Operation = "optimizeWaypoints"
	OpCalculateVirtualBends Operation = "calculateVirtualBends"
	OpDetectIntersections   Operation = "detectIntersections"
)

// Valid reports whether the operation is one the engine understands.
func (op Operation) Valid() bool {
	switch op {
	case OpOptimizeWaypoints, OpCalculateVirtualBends, OpDetectIntersections:
		return true
	}
	return false
}

// EdgeSnapshot is the immutable routing input for one edge. The worker only
// ever sees snapshots; shared state is mutated on the caller's side.
type EdgeSnapshot struct {
	EdgeID    string           `json:"edgeId"`
	Source    geometry.Anchor  `json:"source"`
	Target    geometry.Anchor  `json:"target"`
	Waypoints []geometry.Point `json:"waypoints,omitempty"`

	// Others carries the resolved paths of the working set for
	// intersection detection, keyed by edge id.
	Others map[string][]geometry.Point `json:"others,omitempty"`

	// Jetty overrides the default clearance distance; zero means default.
	Jetty float64 `json:"jetty,omitempty"`

	// NoVirtualBends suppresses bend synthesis; the resolved path may
	// then contain diagonal segments after endpoint moves.
	NoVirtualBends bool `json:"noVirtualBends,omitempty"`
}

// Fingerprint derives the cache key for the snapshot's routing inputs.
func (s EdgeSnapshot) Fingerprint() geometry.Fingerprint {
	return geometry.FingerprintOf(s.Source, s.Target, s.Waypoints)
}

// Result is the outcome of one routing computation for one edge.
type Result struct {
	EdgeID      string               `json:"edgeId"`
	Operation   Operation            `json:"operation"`
	Fingerprint geometry.Fingerprint `json:"fingerprint"`

	// Path is the fully resolved, axis-aligned point list: anchors,
	// user waypoints and virtual bends in order.
	Path []geometry.Point `json:"path"`

	// Bends are the derived turning points folded into Path, reported
	// separately so the consumer can distinguish them from waypoints.
	Bends []Bend `json:"bends,omitempty"`

	Intersections []Intersection `json:"intersections,omitempty"`

	// Degraded marks a fallback result (default route after repeated
	// compute failures); still a valid path to draw.
	Degraded bool `json:"degraded,omitempty"`
}

// Compute evaluates one operation against a snapshot. Pure function of the
// snapshot; the same code backs the background worker and the synchronous
// fallback path.
func Compute(op Operation, snap EdgeSnapshot) (*Result, error) {
	if snap.EdgeID == "" {
		return nil, fmt.Errorf("snapshot missing edge id")
	}
	if !op.Valid() {
		return nil, fmt.Errorf("unknown operation %q", op)
	}

	planner := NewPlanner(snap.Jetty)
	base := ResolveBasePath(planner, snap)

	var bends []Bend
	full := base
	if !snap.NoVirtualBends {
		bends = VirtualBends(base)
		full = InsertBends(base, bends)
	}

	result := &Result{
		EdgeID:      snap.EdgeID,
		Operation:   op,
		Fingerprint: snap.Fingerprint(),
		Path:        full,
		Bends:       bends,
	}

	if op == OpDetectIntersections {
		result.Intersections = DetectIntersections(snap.EdgeID, full, snap.Others)
	}

	return result, nil
}

// ResolveBasePath returns the pre-bend point list: the planner's default
// route when the edge has no waypoints, otherwise anchors plus waypoints.
// The first and last point are always the two anchor points.
func ResolveBasePath(planner *Planner, snap EdgeSnapshot) []geometry.Point {
	if len(snap.Waypoints) == 0 {
		return planner.Route(snap.Source, snap.Target)
	}

	path := make([]geometry.Point, 0, len(snap.Waypoints)+2)
	path = append(path, snap.Source.Box.Clamped(minBoxSize).AnchorPoint(snap.Source.Side))
	path = append(path, snap.Waypoints...)
	path = append(path, snap.Target.Box.Clamped(minBoxSize).AnchorPoint(snap.Target.Side))
	return path
}
