package routing

import (
	"errors"
	"math"
	"sync"

	"github.com/gridline/gridline/engine-go/internal/geometry"
)

var (
	ErrWaypointIndex   = errors.New("waypoint index out of range")
	ErrSegmentIndex    = errors.New("segment index out of range")
	ErrDiagonalSegment = errors.New("segment is not axis-aligned")
)

// snapTolerance is how far an inserted waypoint may sit from its segment's
// axis before snapping stops applying.
const snapTolerance = 8.0

// WaypointStore owns the authoritative, user-editable point list per edge.
// Virtual bends never enter the store. Mutated from the interactive side
// only; every mutation bumps the edge's revision and fires the invalidation
// hook so the registry can mark the edge dirty.
type WaypointStore struct {
	mu        sync.RWMutex
	lists     map[string][]geometry.Point
	revisions map[string]uint64
	onChange  func(edgeID string)
}

func NewWaypointStore() *WaypointStore {
	return &WaypointStore{
		lists:     make(map[string][]geometry.Point),
		revisions: make(map[string]uint64),
	}
}

// SetOnChange installs the invalidation hook. Called outside the store lock.
func (ws *WaypointStore) SetOnChange(fn func(edgeID string)) {
	ws.mu.Lock()
	ws.onChange = fn
	ws.mu.Unlock()
}

// Get returns a copy of the edge's waypoints.
func (ws *WaypointStore) Get(edgeID string) []geometry.Point {
	ws.mu.RLock()
	defer ws.mu.RUnlock()

	list := ws.lists[edgeID]
	if len(list) == 0 {
		return nil
	}
	out := make([]geometry.Point, len(list))
	copy(out, list)
	return out
}

// Revision returns the mutation counter for an edge.
func (ws *WaypointStore) Revision(edgeID string) uint64 {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.revisions[edgeID]
}

// Replace installs a full waypoint list, used when loading a persisted edge.
func (ws *WaypointStore) Replace(edgeID string, points []geometry.Point) {
	ws.mu.Lock()
	list := make([]geometry.Point, len(points))
	copy(list, points)
	ws.lists[edgeID] = list
	ws.revisions[edgeID]++
	fn := ws.onChange
	ws.mu.Unlock()

	if fn != nil {
		fn(edgeID)
	}
}

// Add inserts a waypoint after the given segment of the resolved path.
// The position snaps onto the segment's axis when it is close enough, so a
// slightly-off click still produces an orthogonal-friendly point. Anchor
// endpoints are never affected.
func (ws *WaypointStore) Add(edgeID string, pos geometry.Point, segmentIndex int, resolved []geometry.Point) error {
	if segmentIndex < 0 || segmentIndex >= len(resolved)-1 {
		return ErrSegmentIndex
	}

	seg := geometry.Segment{A: resolved[segmentIndex], B: resolved[segmentIndex+1]}
	switch seg.Orientation() {
	case geometry.OrientHorizontal:
		if math.Abs(pos.Y-seg.A.Y) <= snapTolerance {
			pos.Y = seg.A.Y
		}
	case geometry.OrientVertical:
		if math.Abs(pos.X-seg.A.X) <= snapTolerance {
			pos.X = seg.A.X
		}
	}

	ws.mu.Lock()
	list := ws.lists[edgeID]
	idx := segmentIndex
	if idx > len(list) {
		idx = len(list)
	}
	list = append(list, geometry.Point{})
	copy(list[idx+1:], list[idx:])
	list[idx] = pos
	ws.lists[edgeID] = list
	ws.revisions[edgeID]++
	fn := ws.onChange
	ws.mu.Unlock()

	if fn != nil {
		fn(edgeID)
	}
	return nil
}

// Move updates one waypoint's position without changing ordering.
func (ws *WaypointStore) Move(edgeID string, index int, pos geometry.Point) error {
	ws.mu.Lock()
	list := ws.lists[edgeID]
	if index < 0 || index >= len(list) {
		ws.mu.Unlock()
		return ErrWaypointIndex
	}
	list[index] = pos
	ws.revisions[edgeID]++
	fn := ws.onChange
	ws.mu.Unlock()

	if fn != nil {
		fn(edgeID)
	}
	return nil
}

// Remove deletes one waypoint. Removing the last waypoint reverts the edge
// to the planner's default route on the next recompute.
func (ws *WaypointStore) Remove(edgeID string, index int) error {
	ws.mu.Lock()
	list := ws.lists[edgeID]
	if index < 0 || index >= len(list) {
		ws.mu.Unlock()
		return ErrWaypointIndex
	}
	list = append(list[:index], list[index+1:]...)
	if len(list) == 0 {
		delete(ws.lists, edgeID)
	} else {
		ws.lists[edgeID] = list
	}
	ws.revisions[edgeID]++
	fn := ws.onChange
	ws.mu.Unlock()

	if fn != nil {
		fn(edgeID)
	}
	return nil
}

// MoveSegment translates both endpoints of a resolved segment along its
// perpendicular axis ("drag the whole wall"). Only one coordinate changes,
// keeping the segment orthogonal. An endpoint that is an anchor cannot move,
// so a waypoint is materialized next to it instead.
func (ws *WaypointStore) MoveSegment(edgeID string, segmentIndex int, delta geometry.Point, resolved []geometry.Point) error {
	if segmentIndex < 0 || segmentIndex >= len(resolved)-1 {
		return ErrSegmentIndex
	}

	seg := geometry.Segment{A: resolved[segmentIndex], B: resolved[segmentIndex+1]}
	var moved func(geometry.Point) geometry.Point
	switch seg.Orientation() {
	case geometry.OrientHorizontal:
		moved = func(p geometry.Point) geometry.Point { return geometry.Point{X: p.X, Y: p.Y + delta.Y} }
	case geometry.OrientVertical:
		moved = func(p geometry.Point) geometry.Point { return geometry.Point{X: p.X + delta.X, Y: p.Y} }
	default:
		return ErrDiagonalSegment
	}

	// Resolved index j maps to waypoint j-1; index 0 and len-1 are anchors.
	lastResolved := len(resolved) - 1

	ws.mu.Lock()
	list := ws.lists[edgeID]
	if len(list) != len(resolved)-2 {
		// The resolved path doesn't map onto the stored waypoints
		// (e.g. it still contains planner-made interior points the
		// caller must materialize first).
		ws.mu.Unlock()
		return ErrSegmentIndex
	}

	newA := moved(resolved[segmentIndex])
	newB := moved(resolved[segmentIndex+1])

	// Update or materialize the trailing endpoint first so the leading
	// insert does not shift its index.
	if segmentIndex+1 == lastResolved {
		list = append(list, newB)
	} else {
		list[segmentIndex] = newB
	}
	if segmentIndex == 0 {
		list = append([]geometry.Point{newA}, list...)
	} else {
		list[segmentIndex-1] = newA
	}

	ws.lists[edgeID] = list
	ws.revisions[edgeID]++
	fn := ws.onChange
	ws.mu.Unlock()

	if fn != nil {
		fn(edgeID)
	}
	return nil
}

// Drop discards all stored state for an edge without firing the hook.
// Used on unregister.
func (ws *WaypointStore) Drop(edgeID string) {
	ws.mu.Lock()
	delete(ws.lists, edgeID)
	delete(ws.revisions, edgeID)
	ws.mu.Unlock()
}
