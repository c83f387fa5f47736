package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"hash/fnv"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/gridline/gridline/engine-go/internal/dispatch"
	"github.com/gridline/gridline/engine-go/internal/geometry"
	"github.com/gridline/gridline/engine-go/internal/routing"
)

// ErrNotRegistered signals an operation on an edge id the registry has never
// seen. Surfaced to the caller (unlike recoverable engine errors) because it
// indicates caller misuse.
var ErrNotRegistered = errors.New("edge not registered")

// State is the lifecycle of a registered edge's geometry.
type State int

const (
	StateRegistered State = iota
	StateDirty
	StateRecomputing
	StateClean
)

func (s State) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateDirty:
		return "dirty"
	case StateRecomputing:
		return "recomputing"
	case StateClean:
		return "clean"
	default:
		return "unknown"
	}
}

// EntryStats are per-edge bookkeeping counters.
type EntryStats struct {
	Recomputes     int       `json:"recomputes"`
	Failures       int       `json:"failures"`
	LastComputedAt time.Time `json:"lastComputedAt"`
}

// EdgeInfo is the externally visible view of a registry entry.
type EdgeInfo struct {
	EdgeID    string           `json:"edgeId"`
	State     string           `json:"state"`
	Result    *routing.Result  `json:"result,omitempty"`
	Waypoints []geometry.Point `json:"waypoints,omitempty"`
	Stats     EntryStats       `json:"stats"`
}

type entry struct {
	edgeID string
	source geometry.Anchor
	target geometry.Anchor

	state      State
	lastResult *routing.Result
	attempts   int
	gen        uint64 // bumped on every dirty mark; stale recomputes check it
	debounce   *time.Timer
	stats      EntryStats
}

// cacheKey captures everything a memoized result depends on: the edge's own
// geometry fingerprint, the operation, and (for intersection runs) the
// working set's geometry.
type cacheKey struct {
	fp     geometry.Fingerprint
	op     routing.Operation
	others uint64
}

// Processor runs routing tasks for the registry. Satisfied by
// dispatch.Dispatcher; tests substitute failure-injecting implementations.
type Processor interface {
	Process(ctx context.Context, op routing.Operation, snap routing.EdgeSnapshot) (*routing.Result, error)
	ProcessBatch(ctx context.Context, op routing.Operation, snaps []routing.EdgeSnapshot) (dispatch.BatchResult, error)
}

// Registry maps edge identity to cached geometry. It debounces recompute
// triggers from drag events, drives the dispatcher, and owns the
// fingerprint cache with explicit invalidation. Single writer: all
// mutations come from the interactive side; the worker only ever sees
// snapshots.
type Registry struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]*entry
	cache   map[cacheKey]*routing.Result

	cacheHits   int64
	cacheMisses int64

	dispatcher Processor
	waypoints  *routing.WaypointStore
	monitor    *Monitor
	listener   func(edgeID string, result *routing.Result)
	closed     bool
}

func NewRegistry(cfg Config, dispatcher Processor, waypoints *routing.WaypointStore, monitor *Monitor) *Registry {
	return &Registry{
		cfg:        cfg,
		entries:    make(map[string]*entry),
		cache:      make(map[cacheKey]*routing.Result),
		dispatcher: dispatcher,
		waypoints:  waypoints,
		monitor:    monitor,
	}
}

// SetListener installs the callback invoked (outside the registry lock)
// whenever an edge's geometry settles into a new result.
func (r *Registry) SetListener(fn func(edgeID string, result *routing.Result)) {
	r.mu.Lock()
	r.listener = fn
	r.mu.Unlock()
}

// SetConfig swaps the configuration. Takes effect on the next recompute.
func (r *Registry) SetConfig(cfg Config) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

// Register begins tracking an edge and runs its first route computation.
func (r *Registry) Register(ctx context.Context, edgeID string, src, dst geometry.Anchor, waypoints []geometry.Point) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.New("registry destroyed")
	}
	if _, exists := r.entries[edgeID]; exists {
		r.mu.Unlock()
		return errors.New("edge already registered")
	}
	r.entries[edgeID] = &entry{
		edgeID: edgeID,
		source: src,
		target: dst,
		state:  StateRegistered,
	}
	r.mu.Unlock()

	if len(waypoints) > 0 {
		r.waypoints.Replace(edgeID, waypoints)
	}

	_, err := r.Process(ctx, edgeID, r.defaultOperation())
	return err
}

// Unregister stops tracking an edge and drops its waypoints.
func (r *Registry) Unregister(edgeID string) {
	r.mu.Lock()
	e, ok := r.entries[edgeID]
	if ok {
		if e.debounce != nil {
			e.debounce.Stop()
		}
		delete(r.entries, edgeID)
	}
	r.mu.Unlock()

	if ok {
		r.waypoints.Drop(edgeID)
	}
}

// UpdateAnchors replaces an edge's anchor geometry (a node moved or resized)
// and marks it dirty.
func (r *Registry) UpdateAnchors(edgeID string, src, dst geometry.Anchor) error {
	r.mu.Lock()
	e, ok := r.entries[edgeID]
	if !ok {
		r.mu.Unlock()
		return ErrNotRegistered
	}
	e.source = src
	e.target = dst
	r.mu.Unlock()

	r.MarkDirty(edgeID)
	return nil
}

// MarkDirty flags an edge for recompute. Rapid calls within the debounce
// window coalesce into a single recompute.
func (r *Registry) MarkDirty(edgeID string) {
	r.mu.Lock()
	e, ok := r.entries[edgeID]
	if !ok || r.closed {
		r.mu.Unlock()
		return
	}

	e.state = StateDirty
	e.gen++
	gen := e.gen

	if e.debounce != nil {
		e.debounce.Stop()
	}
	e.debounce = time.AfterFunc(r.cfg.DebounceTime, func() {
		r.recompute(edgeID, gen)
	})
	r.mu.Unlock()
}

// Process runs one operation for one registered edge, consulting the cache
// first. Equal cache keys return the identical cached result.
func (r *Registry) Process(ctx context.Context, edgeID string, op routing.Operation) (*routing.Result, error) {
	r.mu.Lock()
	e, ok := r.entries[edgeID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrNotRegistered
	}
	snap := r.snapshotLocked(e)
	key := r.cacheKeyLocked(snap, op)
	if cached, hit := r.cache[key]; hit {
		r.cacheHits++
		e.lastResult = cached
		e.state = StateClean
		r.mu.Unlock()
		return cached, nil
	}
	r.cacheMisses++
	e.state = StateRecomputing
	r.mu.Unlock()

	start := time.Now()
	result, err := r.dispatcher.Process(ctx, op, snap)
	r.monitor.Record(string(op), time.Since(start))

	if err != nil {
		r.mu.Lock()
		if e, ok := r.entries[edgeID]; ok {
			e.state = StateDirty
			e.stats.Failures++
		}
		r.mu.Unlock()
		return nil, err
	}

	r.applyResult(edgeID, key, result)
	return result, nil
}

// ProcessBatch runs one operation for several edges in a single worker task.
// Unregistered ids get an error entry; the batch itself never fails on one
// edge.
func (r *Registry) ProcessBatch(ctx context.Context, edgeIDs []string, op routing.Operation) (dispatch.BatchResult, error) {
	snaps := make([]routing.EdgeSnapshot, 0, len(edgeIDs))
	missing := make([]string, 0)

	// Cache keys are captured at the same instant as the snapshots. A
	// mutation landing while the batch is in flight must not bind the stale
	// result to the new geometry's key.
	keys := make(map[string]cacheKey, len(edgeIDs))

	r.mu.Lock()
	for _, id := range edgeIDs {
		e, ok := r.entries[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		snap := r.snapshotLocked(e)
		keys[id] = r.cacheKeyLocked(snap, op)
		snaps = append(snaps, snap)
	}
	r.mu.Unlock()

	var batch dispatch.BatchResult
	if len(snaps) > 0 {
		start := time.Now()
		var err error
		batch, err = r.dispatcher.ProcessBatch(ctx, op, snaps)
		r.monitor.Record("batch:"+string(op), time.Since(start))
		if err != nil {
			return nil, err
		}
	} else {
		batch = make(dispatch.BatchResult)
	}

	for _, id := range missing {
		batch[id] = dispatch.BatchEntry{Error: ErrNotRegistered.Error()}
	}

	// Fold successful results back into the entries and cache, under the
	// keys captured with the snapshots.
	for id, be := range batch {
		if be.Result == nil {
			continue
		}
		if key, ok := keys[id]; ok {
			r.applyResult(id, key, be.Result)
		}
	}

	return batch, nil
}

// Info returns the current view of an edge, or nil if unregistered.
func (r *Registry) Info(edgeID string) *EdgeInfo {
	r.mu.Lock()
	e, ok := r.entries[edgeID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	info := &EdgeInfo{
		EdgeID: e.edgeID,
		State:  e.state.String(),
		Result: e.lastResult,
		Stats:  e.stats,
	}
	r.mu.Unlock()

	info.Waypoints = r.waypoints.Get(edgeID)
	return info
}

// Anchors returns the registered anchor pair for an edge.
func (r *Registry) Anchors(edgeID string) (src, dst geometry.Anchor, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[edgeID]
	if !ok {
		return geometry.Anchor{}, geometry.Anchor{}, ErrNotRegistered
	}
	return e.source, e.target, nil
}

// ActiveEdges returns the number of registered edges.
func (r *Registry) ActiveEdges() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// CacheCounters returns cache hit/miss totals.
func (r *Registry) CacheCounters() (hits, misses int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cacheHits, r.cacheMisses
}

// Close stops all pending debounce timers. Idempotent.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for _, e := range r.entries {
		if e.debounce != nil {
			e.debounce.Stop()
		}
	}
	r.entries = make(map[string]*entry)
	r.cache = make(map[cacheKey]*routing.Result)
	r.mu.Unlock()
}

// recompute is the debounced background path: dirty -> recomputing ->
// clean, with bounded retries and a degraded fallback so the edge is never
// left unrouted.
func (r *Registry) recompute(edgeID string, gen uint64) {
	r.mu.Lock()
	e, ok := r.entries[edgeID]
	if !ok || r.closed || e.gen != gen {
		r.mu.Unlock()
		return
	}
	e.state = StateRecomputing
	op := r.defaultOperationLocked()
	snap := r.snapshotLocked(e)
	key := r.cacheKeyLocked(snap, op)
	if cached, hit := r.cache[key]; hit {
		r.cacheHits++
		e.lastResult = cached
		e.state = StateClean
		e.stats.Recomputes++
		e.stats.LastComputedAt = time.Now()
		listener := r.listener
		r.mu.Unlock()
		if listener != nil {
			listener(edgeID, cached)
		}
		return
	}
	r.cacheMisses++
	cfg := r.cfg
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.TaskTimeout*time.Duration(cfg.MaxRetryAttempts+2))
	defer cancel()

	start := time.Now()
	result, err := r.dispatcher.Process(ctx, op, snap)
	r.monitor.Record(string(op), time.Since(start))

	if errors.Is(err, dispatch.ErrSuperseded) {
		// A newer recompute for this edge owns the outcome.
		return
	}

	if err != nil {
		r.mu.Lock()
		e, ok := r.entries[edgeID]
		if !ok || r.closed || e.gen != gen {
			r.mu.Unlock()
			return
		}
		e.stats.Failures++
		e.attempts++
		attempts := e.attempts
		e.state = StateDirty
		r.mu.Unlock()

		if attempts <= cfg.MaxRetryAttempts {
			backoff := cfg.RetryBackoff * time.Duration(math.Pow(2, float64(attempts-1)))
			slog.Debug("recompute failed, retrying", "edge", edgeID, "attempt", attempts, "error", err)
			time.AfterFunc(backoff, func() { r.recompute(edgeID, gen) })
			return
		}

		slog.Warn("recompute exhausted retries, degrading to default route", "edge", edgeID, "error", err)
		r.applyDegraded(edgeID, gen, snap, op)
		return
	}

	r.mu.Lock()
	if e, ok := r.entries[edgeID]; ok && e.gen == gen {
		e.attempts = 0
	}
	r.mu.Unlock()

	r.applyResultGen(edgeID, gen, key, result)
}

// applyDegraded installs the last-known-good result, or a fresh default
// route when none exists, so the consumer always has something to draw.
func (r *Registry) applyDegraded(edgeID string, gen uint64, snap routing.EdgeSnapshot, op routing.Operation) {
	r.mu.Lock()
	e, ok := r.entries[edgeID]
	if !ok || r.closed || e.gen != gen {
		r.mu.Unlock()
		return
	}

	result := e.lastResult
	r.mu.Unlock()

	if result == nil {
		fallback := snap
		fallback.Waypoints = nil
		fallback.Others = nil
		computed, err := routing.Compute(routing.OpOptimizeWaypoints, fallback)
		if err != nil {
			slog.Error("degraded route computation failed", "edge", edgeID, "error", err)
			return
		}
		computed.Degraded = true
		result = computed
	} else {
		degraded := *result
		degraded.Degraded = true
		result = &degraded
	}

	r.mu.Lock()
	e, ok = r.entries[edgeID]
	if !ok || r.closed || e.gen != gen {
		r.mu.Unlock()
		return
	}
	e.lastResult = result
	e.state = StateClean
	e.attempts = 0
	e.stats.Recomputes++
	e.stats.LastComputedAt = time.Now()
	listener := r.listener
	r.mu.Unlock()

	if listener != nil {
		listener(edgeID, result)
	}
}

func (r *Registry) applyResult(edgeID string, key cacheKey, result *routing.Result) {
	r.mu.Lock()
	e, ok := r.entries[edgeID]
	if !ok || r.closed {
		r.mu.Unlock()
		return
	}
	r.storeCacheLocked(key, result)
	// Geometry may have moved while the task was in flight. The result is
	// still cached under its own key, but a stale fingerprint must never
	// become the edge's current route; the pending recompute owns that.
	if r.currentFingerprintLocked(e) != result.Fingerprint {
		r.mu.Unlock()
		return
	}
	e.lastResult = result
	e.state = StateClean
	e.stats.Recomputes++
	e.stats.LastComputedAt = time.Now()
	listener := r.listener
	r.mu.Unlock()

	if listener != nil {
		listener(edgeID, result)
	}
}

func (r *Registry) applyResultGen(edgeID string, gen uint64, key cacheKey, result *routing.Result) {
	r.mu.Lock()
	e, ok := r.entries[edgeID]
	if !ok || r.closed || e.gen != gen {
		r.mu.Unlock()
		return
	}
	r.storeCacheLocked(key, result)
	e.lastResult = result
	e.state = StateClean
	e.stats.Recomputes++
	e.stats.LastComputedAt = time.Now()
	listener := r.listener
	r.mu.Unlock()

	if listener != nil {
		listener(edgeID, result)
	}
}

func (r *Registry) storeCacheLocked(key cacheKey, result *routing.Result) {
	if len(r.cache) >= r.cfg.MaxCacheSize && r.cfg.MaxCacheSize > 0 {
		for k := range r.cache {
			delete(r.cache, k)
			break
		}
	}
	r.cache[key] = result
}

// snapshotLocked builds the immutable task payload for an edge from current
// state. Caller holds r.mu.
func (r *Registry) snapshotLocked(e *entry) routing.EdgeSnapshot {
	snap := routing.EdgeSnapshot{
		EdgeID:         e.edgeID,
		Source:         e.source,
		Target:         e.target,
		Waypoints:      r.waypoints.Get(e.edgeID),
		Jetty:          r.cfg.Jetty,
		NoVirtualBends: !r.cfg.VirtualBendsEnabled,
	}

	if r.cfg.IntersectionDetectionEnabled {
		others := make(map[string][]geometry.Point)
		for id, other := range r.entries {
			if id == e.edgeID || other.lastResult == nil {
				continue
			}
			others[id] = other.lastResult.Path
		}
		if len(others) > 0 {
			snap.Others = others
		}
	}

	return snap
}

func (r *Registry) defaultOperation() routing.Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defaultOperationLocked()
}

func (r *Registry) defaultOperationLocked() routing.Operation {
	if r.cfg.IntersectionDetectionEnabled {
		return routing.OpDetectIntersections
	}
	return routing.OpOptimizeWaypoints
}

// currentFingerprintLocked hashes the edge's geometry as it stands right
// now. Caller holds r.mu.
func (r *Registry) currentFingerprintLocked(e *entry) geometry.Fingerprint {
	return geometry.FingerprintOf(e.source, e.target, r.waypoints.Get(e.edgeID))
}

func (r *Registry) cacheKeyLocked(snap routing.EdgeSnapshot, op routing.Operation) cacheKey {
	return cacheKey{
		fp:     snap.Fingerprint(),
		op:     op,
		others: hashOthers(snap.Others),
	}
}

// hashOthers folds the working set's geometry into the cache key so
// intersection results stay sound when neighbours move.
func hashOthers(others map[string][]geometry.Point) uint64 {
	if len(others) == 0 {
		return 0
	}

	ids := make([]string, 0, len(others))
	for id := range others {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	h := fnv.New64a()
	buf := make([]byte, 8)
	for _, id := range ids {
		h.Write([]byte(id))
		for _, p := range others[id] {
			binary.LittleEndian.PutUint64(buf, math.Float64bits(p.X))
			h.Write(buf)
			binary.LittleEndian.PutUint64(buf, math.Float64bits(p.Y))
			h.Write(buf)
		}
	}
	return h.Sum64()
}
