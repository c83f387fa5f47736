package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gridline/gridline/engine-go/internal/geometry"
	"github.com/gridline/gridline/engine-go/internal/routing"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DebounceTime = 5 * time.Millisecond
	cfg.TaskTimeout = 2 * time.Second
	cfg.WorkerReadyTimeout = 2 * time.Second
	cfg.RetryBackoff = 5 * time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(testConfig())
	t.Cleanup(e.Destroy)
	return e
}

func testAnchors() (src, dst geometry.Anchor) {
	src = geometry.Anchor{Box: geometry.Rect{X: 0, Y: 0, Width: 150, Height: 60}, Side: geometry.SideRight}
	dst = geometry.Anchor{Box: geometry.Rect{X: 200, Y: 200, Width: 150, Height: 60}, Side: geometry.SideLeft}
	return src, dst
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// routeRecorder collects route listener callbacks for assertions.
type routeRecorder struct {
	mu      sync.Mutex
	results []*routing.Result
}

func (rr *routeRecorder) record(edgeID string, result *routing.Result) {
	rr.mu.Lock()
	rr.results = append(rr.results, result)
	rr.mu.Unlock()
}

func (rr *routeRecorder) count() int {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return len(rr.results)
}

func (rr *routeRecorder) last() *routing.Result {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	if len(rr.results) == 0 {
		return nil
	}
	return rr.results[len(rr.results)-1]
}

func TestRegisterComputesInitialRoute(t *testing.T) {
	e := newTestEngine(t)
	src, dst := testAnchors()

	if err := e.RegisterEdge(context.Background(), "edge_a", src, dst, nil); err != nil {
		t.Fatalf("RegisterEdge: %v", err)
	}

	info := e.GetEdgeInfo("edge_a")
	if info == nil {
		t.Fatalf("no info for a registered edge")
	}
	if info.State != "clean" {
		t.Errorf("state = %q, want clean", info.State)
	}
	if info.Result == nil || len(info.Result.Path) < 2 {
		t.Fatalf("registration did not produce an initial route")
	}
	for i, seg := range geometry.PathSegments(info.Result.Path) {
		if !seg.IsAxisAligned() {
			t.Errorf("segment %d of the initial route is not axis-aligned", i)
		}
	}
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	e := newTestEngine(t)
	src, dst := testAnchors()

	if err := e.RegisterEdge(context.Background(), "edge_a", src, dst, nil); err != nil {
		t.Fatalf("RegisterEdge: %v", err)
	}
	if err := e.RegisterEdge(context.Background(), "edge_a", src, dst, nil); err == nil {
		t.Errorf("duplicate registration accepted")
	}
}

func TestProcessEdgeNotRegistered(t *testing.T) {
	e := newTestEngine(t)

	if _, err := e.ProcessEdge(context.Background(), "ghost", routing.OpOptimizeWaypoints); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("got %v, want ErrNotRegistered", err)
	}
	if info := e.GetEdgeInfo("ghost"); info != nil {
		t.Errorf("info for an unregistered edge: %+v", info)
	}
}

func TestProcessEdgeCacheHit(t *testing.T) {
	e := newTestEngine(t)
	src, dst := testAnchors()
	if err := e.RegisterEdge(context.Background(), "edge_a", src, dst, nil); err != nil {
		t.Fatalf("RegisterEdge: %v", err)
	}

	first, err := e.ProcessEdge(context.Background(), "edge_a", routing.OpOptimizeWaypoints)
	if err != nil {
		t.Fatalf("first ProcessEdge: %v", err)
	}
	_, misses := e.registry.CacheCounters()

	second, err := e.ProcessEdge(context.Background(), "edge_a", routing.OpOptimizeWaypoints)
	if err != nil {
		t.Fatalf("second ProcessEdge: %v", err)
	}

	if second != first {
		t.Errorf("unchanged geometry did not return the cached result")
	}
	if _, missesAfter := e.registry.CacheCounters(); missesAfter != misses {
		t.Errorf("cache missed on identical input: %d -> %d", misses, missesAfter)
	}
}

func TestUnregisterDropsState(t *testing.T) {
	e := newTestEngine(t)
	src, dst := testAnchors()
	if err := e.RegisterEdge(context.Background(), "edge_a", src, dst, []geometry.Point{{X: 175, Y: 100}}); err != nil {
		t.Fatalf("RegisterEdge: %v", err)
	}

	e.UnregisterEdge("edge_a")

	if info := e.GetEdgeInfo("edge_a"); info != nil {
		t.Errorf("info survived unregister")
	}
	if wp := e.Waypoints("edge_a"); wp != nil {
		t.Errorf("waypoints survived unregister: %v", wp)
	}
	if e.GetStatistics().ActiveEdges != 0 {
		t.Errorf("active edge count not zero after unregister")
	}
}

func TestAnchorMovesCoalesceIntoOneRecompute(t *testing.T) {
	e := newTestEngine(t)
	src, dst := testAnchors()
	if err := e.RegisterEdge(context.Background(), "edge_a", src, dst, nil); err != nil {
		t.Fatalf("RegisterEdge: %v", err)
	}

	rec := &routeRecorder{}
	e.SetRouteListener(rec.record)

	// A burst of drag events within the debounce window.
	moved := dst
	moved.Box.X += 80
	for i := 0; i < 10; i++ {
		if err := e.UpdateAnchors("edge_a", src, moved); err != nil {
			t.Fatalf("UpdateAnchors: %v", err)
		}
	}

	waitFor(t, "debounced recompute", func() bool { return rec.count() >= 1 })
	time.Sleep(50 * time.Millisecond)

	if got := rec.count(); got != 1 {
		t.Errorf("burst produced %d recomputes, want 1", got)
	}

	last := rec.last()
	wantEnd := moved.Box.AnchorPoint(geometry.SideLeft)
	if !last.Path[len(last.Path)-1].Equals(wantEnd) {
		t.Errorf("recomputed route does not end at the moved anchor")
	}
}

func TestWaypointEditSchedulesRecompute(t *testing.T) {
	e := newTestEngine(t)
	src, dst := testAnchors()
	if err := e.RegisterEdge(context.Background(), "edge_a", src, dst, nil); err != nil {
		t.Fatalf("RegisterEdge: %v", err)
	}

	rec := &routeRecorder{}
	e.SetRouteListener(rec.record)

	wp := geometry.Point{X: 175, Y: 130}
	if err := e.AddWaypoint("edge_a", wp, 1); err != nil {
		t.Fatalf("AddWaypoint: %v", err)
	}

	waitFor(t, "route through new waypoint", func() bool {
		last := rec.last()
		if last == nil {
			return false
		}
		for _, p := range last.Path {
			if p.Equals(wp) {
				return true
			}
		}
		return false
	})
}

func TestRemoveLastWaypointRevertsToDefaultRoute(t *testing.T) {
	e := newTestEngine(t)
	src, dst := testAnchors()
	if err := e.RegisterEdge(context.Background(), "edge_a", src, dst, []geometry.Point{{X: 175, Y: 130}}); err != nil {
		t.Fatalf("RegisterEdge: %v", err)
	}

	rec := &routeRecorder{}
	e.SetRouteListener(rec.record)

	if err := e.RemoveWaypoint("edge_a", 0); err != nil {
		t.Fatalf("RemoveWaypoint: %v", err)
	}

	want, err := routing.Compute(routing.OpOptimizeWaypoints, routing.EdgeSnapshot{
		EdgeID: "edge_a", Source: src, Target: dst, Jetty: testConfig().Jetty,
	})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	waitFor(t, "default route restored", func() bool {
		last := rec.last()
		return last != nil && last.Fingerprint == want.Fingerprint
	})
}

func TestMoveSegmentMaterializesDefaultRoute(t *testing.T) {
	e := newTestEngine(t)
	src, dst := testAnchors()
	if err := e.RegisterEdge(context.Background(), "edge_a", src, dst, nil); err != nil {
		t.Fatalf("RegisterEdge: %v", err)
	}

	// No stored waypoints yet: dragging a default-route segment first
	// materializes the route's interior points.
	if err := e.MoveSegment("edge_a", 1, geometry.Point{Y: 15}); err != nil {
		t.Fatalf("MoveSegment: %v", err)
	}

	wps := e.Waypoints("edge_a")
	if len(wps) == 0 {
		t.Fatalf("segment drag left no waypoints behind")
	}
}

func TestBatchIncludesUnregisteredIDs(t *testing.T) {
	e := newTestEngine(t)
	src, dst := testAnchors()
	if err := e.RegisterEdge(context.Background(), "edge_a", src, dst, nil); err != nil {
		t.Fatalf("RegisterEdge: %v", err)
	}

	batch, err := e.BatchProcessEdges(context.Background(), []string{"edge_a", "ghost"}, routing.OpOptimizeWaypoints)
	if err != nil {
		t.Fatalf("BatchProcessEdges: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("got %d entries, want 2", len(batch))
	}
	if batch["edge_a"].Result == nil {
		t.Errorf("registered edge has no result: %+v", batch["edge_a"])
	}
	if batch["ghost"].Error == "" {
		t.Errorf("unregistered edge has no error marker")
	}
}

func TestBatchWithBatchingDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.EnableBatchProcessing = false
	e := New(cfg)
	defer e.Destroy()

	src, dst := testAnchors()
	if err := e.RegisterEdge(context.Background(), "edge_a", src, dst, nil); err != nil {
		t.Fatalf("RegisterEdge: %v", err)
	}

	batch, err := e.BatchProcessEdges(context.Background(), []string{"edge_a", "ghost"}, routing.OpOptimizeWaypoints)
	if err != nil {
		t.Fatalf("BatchProcessEdges: %v", err)
	}
	if batch["edge_a"].Result == nil || batch["ghost"].Error == "" {
		t.Errorf("sequential batch lost partial-failure semantics: %+v", batch)
	}
}

func TestUpdateConfigPartial(t *testing.T) {
	e := newTestEngine(t)
	before := e.Config()

	jetty := 35.0
	bends := false
	got := e.UpdateConfig(ConfigUpdate{Jetty: &jetty, VirtualBendsEnabled: &bends})

	if got.Jetty != 35 {
		t.Errorf("jetty = %.1f, want 35", got.Jetty)
	}
	if got.VirtualBendsEnabled {
		t.Errorf("virtual bends still enabled")
	}
	if got.DebounceTime != before.DebounceTime {
		t.Errorf("unrelated option changed: debounce %v -> %v", before.DebounceTime, got.DebounceTime)
	}

	// Invalid values are ignored.
	bad := -1.0
	if got := e.UpdateConfig(ConfigUpdate{Jetty: &bad}); got.Jetty != 35 {
		t.Errorf("negative jetty accepted: %.1f", got.Jetty)
	}
}

func TestStatisticsAggregates(t *testing.T) {
	e := newTestEngine(t)
	src, dst := testAnchors()
	if err := e.RegisterEdge(context.Background(), "edge_a", src, dst, nil); err != nil {
		t.Fatalf("RegisterEdge: %v", err)
	}
	if _, err := e.ProcessEdge(context.Background(), "edge_a", routing.OpCalculateVirtualBends); err != nil {
		t.Fatalf("ProcessEdge: %v", err)
	}

	stats := e.GetStatistics()
	if stats.TotalProcessed == 0 {
		t.Errorf("no operations recorded")
	}
	if stats.ActiveEdges != 1 {
		t.Errorf("active edges = %d, want 1", stats.ActiveEdges)
	}
	if len(stats.Operations) == 0 {
		t.Errorf("no per-operation breakdown")
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	e := New(testConfig())
	src, dst := testAnchors()
	if err := e.RegisterEdge(context.Background(), "edge_a", src, dst, nil); err != nil {
		t.Fatalf("RegisterEdge: %v", err)
	}

	e.Destroy()
	e.Destroy()

	if err := e.RegisterEdge(context.Background(), "edge_b", src, dst, nil); err == nil {
		t.Errorf("registration accepted after destroy")
	}
}
