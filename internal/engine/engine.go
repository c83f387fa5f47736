package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gridline/gridline/engine-go/internal/dispatch"
	"github.com/gridline/gridline/engine-go/internal/geometry"
	"github.com/gridline/gridline/engine-go/internal/routing"
)

// Engine is the routing engine facade consumed by the session layer, the
// HTTP surface and the wasm build. It owns the waypoint store, the
// background dispatcher, the edge registry and the performance monitor.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	waypoints  *routing.WaypointStore
	dispatcher *dispatch.Dispatcher
	registry   *Registry
	monitor    *Monitor

	destroyed atomic.Bool
}

// New wires up an engine and starts its background worker.
func New(cfg Config) *Engine {
	monitor := NewMonitor(cfg.EnablePerformanceMonitoring)
	dispatcher := dispatch.NewDispatcher(dispatch.Options{
		TaskTimeout:  cfg.TaskTimeout,
		ReadyTimeout: cfg.WorkerReadyTimeout,
	})
	waypoints := routing.NewWaypointStore()
	registry := NewRegistry(cfg, dispatcher, waypoints, monitor)

	// Every waypoint mutation invalidates the edge and schedules a
	// debounced recompute.
	waypoints.SetOnChange(registry.MarkDirty)

	dispatcher.Start()

	return &Engine{
		cfg:        cfg,
		waypoints:  waypoints,
		dispatcher: dispatcher,
		registry:   registry,
		monitor:    monitor,
	}
}

// SetRouteListener installs the callback fired whenever an edge settles
// into a new routing result.
func (e *Engine) SetRouteListener(fn func(edgeID string, result *routing.Result)) {
	e.registry.SetListener(fn)
}

// RegisterEdge begins tracking an edge and computes its initial route.
func (e *Engine) RegisterEdge(ctx context.Context, edgeID string, src, dst geometry.Anchor, waypoints []geometry.Point) error {
	return e.registry.Register(ctx, edgeID, src, dst, waypoints)
}

// UnregisterEdge stops tracking an edge.
func (e *Engine) UnregisterEdge(edgeID string) {
	e.registry.Unregister(edgeID)
}

// UpdateAnchors replaces an edge's anchors after a node move/resize and
// schedules a debounced recompute.
func (e *Engine) UpdateAnchors(edgeID string, src, dst geometry.Anchor) error {
	return e.registry.UpdateAnchors(edgeID, src, dst)
}

// ProcessEdge runs one operation for one edge. Returns ErrNotRegistered for
// unknown ids; an unchanged fingerprint returns the identical cached result.
func (e *Engine) ProcessEdge(ctx context.Context, edgeID string, op routing.Operation) (*routing.Result, error) {
	return e.registry.Process(ctx, edgeID, op)
}

// BatchProcessEdges runs one operation for several edges. The result has an
// entry for every requested id, failed ones carrying an error marker.
func (e *Engine) BatchProcessEdges(ctx context.Context, edgeIDs []string, op routing.Operation) (dispatch.BatchResult, error) {
	e.mu.Lock()
	batching := e.cfg.EnableBatchProcessing
	e.mu.Unlock()

	if batching {
		return e.registry.ProcessBatch(ctx, edgeIDs, op)
	}

	// Batching disabled: process sequentially with the same partial
	// failure semantics.
	batch := make(dispatch.BatchResult, len(edgeIDs))
	for _, id := range edgeIDs {
		result, err := e.registry.Process(ctx, id, op)
		if err != nil {
			batch[id] = dispatch.BatchEntry{Error: err.Error()}
			continue
		}
		batch[id] = dispatch.BatchEntry{Result: result}
	}
	return batch, nil
}

// AddWaypoint inserts a user waypoint after the given segment of the edge's
// resolved base path.
func (e *Engine) AddWaypoint(edgeID string, pos geometry.Point, segmentIndex int) error {
	resolved, err := e.basePath(edgeID)
	if err != nil {
		return err
	}
	return e.waypoints.Add(edgeID, pos, segmentIndex, resolved)
}

// MoveWaypoint repositions one waypoint.
func (e *Engine) MoveWaypoint(edgeID string, index int, pos geometry.Point) error {
	if _, _, err := e.registry.Anchors(edgeID); err != nil {
		return err
	}
	return e.waypoints.Move(edgeID, index, pos)
}

// RemoveWaypoint deletes one waypoint; removing the last reverts the edge to
// the default route.
func (e *Engine) RemoveWaypoint(edgeID string, index int) error {
	if _, _, err := e.registry.Anchors(edgeID); err != nil {
		return err
	}
	return e.waypoints.Remove(edgeID, index)
}

// MoveSegment drags a whole wall of the path perpendicular to itself.
// Dragging a segment of a default route first materializes the route's
// interior points as waypoints so they survive the edit.
func (e *Engine) MoveSegment(edgeID string, segmentIndex int, delta geometry.Point) error {
	resolved, err := e.basePath(edgeID)
	if err != nil {
		return err
	}

	if len(e.waypoints.Get(edgeID)) != len(resolved)-2 && len(resolved) > 2 {
		e.waypoints.Replace(edgeID, resolved[1:len(resolved)-1])
	}

	return e.waypoints.MoveSegment(edgeID, segmentIndex, delta, resolved)
}

// Waypoints returns a copy of the edge's current user waypoints.
func (e *Engine) Waypoints(edgeID string) []geometry.Point {
	return e.waypoints.Get(edgeID)
}

// GetEdgeInfo returns the cached geometry for an edge, or nil if the id was
// never registered.
func (e *Engine) GetEdgeInfo(edgeID string) *EdgeInfo {
	return e.registry.Info(edgeID)
}

// Statistics are the engine's aggregate observability counters.
type Statistics struct {
	TotalProcessed          int64              `json:"totalProcessed"`
	ActiveEdges             int                `json:"activeEdges"`
	AverageProcessingTimeMs float64            `json:"averageProcessingTime"`
	MaxProcessingTimeMs     float64            `json:"maxProcessingTime"`
	CacheHits               int64              `json:"cacheHits"`
	CacheMisses             int64              `json:"cacheMisses"`
	Operations              map[string]OpStats `json:"operations"`
}

// GetStatistics returns current aggregates. Cheap enough to poll.
func (e *Engine) GetStatistics() Statistics {
	total, avg, maxMs, perOp := e.monitor.Snapshot()
	hits, misses := e.registry.CacheCounters()
	return Statistics{
		TotalProcessed:          total,
		ActiveEdges:             e.registry.ActiveEdges(),
		AverageProcessingTimeMs: avg,
		MaxProcessingTimeMs:     maxMs,
		CacheHits:               hits,
		CacheMisses:             misses,
		Operations:              perOp,
	}
}

// UpdateConfig applies a partial configuration change. Every option takes
// effect on the next recompute.
func (e *Engine) UpdateConfig(update ConfigUpdate) Config {
	e.mu.Lock()
	e.cfg = e.cfg.apply(update)
	cfg := e.cfg
	e.mu.Unlock()

	e.registry.SetConfig(cfg)
	e.monitor.SetEnabled(cfg.EnablePerformanceMonitoring)
	return cfg
}

// Config returns a copy of the current configuration.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Destroy releases the background worker and all registry state. Idempotent.
func (e *Engine) Destroy() {
	if !e.destroyed.CompareAndSwap(false, true) {
		return
	}
	e.registry.Close()
	e.dispatcher.Close()
}

// basePath resolves anchors + waypoints (no virtual bends), the coordinate
// system waypoint edits are expressed in.
func (e *Engine) basePath(edgeID string) ([]geometry.Point, error) {
	src, dst, err := e.registry.Anchors(edgeID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	jetty := e.cfg.Jetty
	e.mu.Unlock()

	snap := routing.EdgeSnapshot{
		EdgeID:    edgeID,
		Source:    src,
		Target:    dst,
		Waypoints: e.waypoints.Get(edgeID),
		Jetty:     jetty,
	}
	return routing.ResolveBasePath(routing.NewPlanner(jetty), snap), nil
}
