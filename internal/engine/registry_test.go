package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gridline/gridline/engine-go/internal/dispatch"
	"github.com/gridline/gridline/engine-go/internal/geometry"
	"github.com/gridline/gridline/engine-go/internal/routing"
)

// directProcessor computes in-process, bypassing the worker machinery.
type directProcessor struct{}

func (directProcessor) Process(_ context.Context, op routing.Operation, snap routing.EdgeSnapshot) (*routing.Result, error) {
	return routing.Compute(op, snap)
}

func (directProcessor) ProcessBatch(_ context.Context, op routing.Operation, snaps []routing.EdgeSnapshot) (dispatch.BatchResult, error) {
	return dispatch.ComputeBatch(op, snaps), nil
}

// gatedProcessor holds every batch until released, so a test can mutate
// geometry while the batch is in flight.
type gatedProcessor struct {
	directProcessor
	entered chan struct{}
	release chan struct{}
}

func (g *gatedProcessor) ProcessBatch(ctx context.Context, op routing.Operation, snaps []routing.EdgeSnapshot) (dispatch.BatchResult, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.directProcessor.ProcessBatch(ctx, op, snaps)
}

// flakyProcessor fails the next N Process calls, then computes normally.
type flakyProcessor struct {
	directProcessor
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyProcessor) setFailures(n int) {
	f.mu.Lock()
	f.failures = n
	f.mu.Unlock()
}

func (f *flakyProcessor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *flakyProcessor) Process(ctx context.Context, op routing.Operation, snap routing.EdgeSnapshot) (*routing.Result, error) {
	f.mu.Lock()
	f.calls++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()

	if fail {
		return nil, errors.New("worker unavailable")
	}
	return f.directProcessor.Process(ctx, op, snap)
}

func newTestRegistry(t *testing.T, cfg Config, proc Processor) (*Registry, *routing.WaypointStore) {
	t.Helper()
	ws := routing.NewWaypointStore()
	r := NewRegistry(cfg, proc, ws, NewMonitor(false))
	ws.SetOnChange(r.MarkDirty)
	t.Cleanup(r.Close)
	return r, ws
}

func samePath(a, b []geometry.Point) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equals(b[i]) {
			return false
		}
	}
	return true
}

func TestBatchResultNeverBindsToNewerGeometry(t *testing.T) {
	cfg := testConfig()
	cfg.DebounceTime = time.Hour // keep the debounced recompute out of the way
	proc := &gatedProcessor{entered: make(chan struct{}, 1), release: make(chan struct{})}
	r, ws := newTestRegistry(t, cfg, proc)

	src, dst := testAnchors()
	if err := r.Register(context.Background(), "edge_a", src, dst, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := r.ProcessBatch(context.Background(), []string{"edge_a"}, routing.OpOptimizeWaypoints)
		done <- err
	}()

	// Move the edge's geometry while the batch is computing against the
	// old snapshot.
	<-proc.entered
	moved := geometry.Point{X: 175, Y: 500}
	ws.Replace("edge_a", []geometry.Point{moved})
	close(proc.release)
	if err := <-done; err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	// The new geometry must get a fresh computation, not the batch's stale
	// result replayed from cache.
	result, err := r.Process(context.Background(), "edge_a", routing.OpOptimizeWaypoints)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	want := geometry.FingerprintOf(src, dst, []geometry.Point{moved})
	if result.Fingerprint != want {
		t.Fatalf("fingerprint = %v, want %v (stale batch result served)", result.Fingerprint, want)
	}
	threaded := false
	for _, p := range result.Path {
		if p.Equals(moved) {
			threaded = true
		}
	}
	if !threaded {
		t.Errorf("path %v ignores the waypoint %v", result.Path, moved)
	}
}

func TestRecomputeRetriesThenDegradesToLastKnownGood(t *testing.T) {
	cfg := testConfig()
	cfg.DebounceTime = time.Millisecond
	cfg.MaxRetryAttempts = 2
	cfg.RetryBackoff = time.Millisecond
	proc := &flakyProcessor{}
	r, ws := newTestRegistry(t, cfg, proc)

	rec := &routeRecorder{}
	r.SetListener(rec.record)

	src, dst := testAnchors()
	if err := r.Register(context.Background(), "edge_a", src, dst, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	goodPath := r.Info("edge_a").Result.Path

	// A real geometry change, so the recompute cannot be served from cache.
	proc.setFailures(100)
	ws.Replace("edge_a", []geometry.Point{{X: 175, Y: 115}})

	waitFor(t, "degraded result", func() bool {
		last := rec.last()
		return last != nil && last.Degraded
	})

	last := rec.last()
	if !samePath(last.Path, goodPath) {
		t.Errorf("degraded path %v, want last known good %v", last.Path, goodPath)
	}

	// One successful registration compute, then the initial attempt plus
	// MaxRetryAttempts retries, all failing.
	wantCalls := 1 + cfg.MaxRetryAttempts + 1
	if got := proc.callCount(); got != wantCalls {
		t.Errorf("processor calls = %d, want %d", got, wantCalls)
	}

	info := r.Info("edge_a")
	if info.State != "clean" {
		t.Errorf("state = %s, want clean after degradation", info.State)
	}
	if info.Stats.Failures != cfg.MaxRetryAttempts+1 {
		t.Errorf("failures = %d, want %d", info.Stats.Failures, cfg.MaxRetryAttempts+1)
	}
}

func TestRecomputeRetrySucceedsBeforeExhaustion(t *testing.T) {
	cfg := testConfig()
	cfg.DebounceTime = time.Millisecond
	cfg.MaxRetryAttempts = 3
	cfg.RetryBackoff = time.Millisecond
	proc := &flakyProcessor{}
	r, ws := newTestRegistry(t, cfg, proc)

	rec := &routeRecorder{}
	r.SetListener(rec.record)

	src, dst := testAnchors()
	if err := r.Register(context.Background(), "edge_a", src, dst, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	baseline := rec.count()

	proc.setFailures(2)
	ws.Replace("edge_a", []geometry.Point{{X: 175, Y: 115}})

	waitFor(t, "settled recompute", func() bool { return rec.count() > baseline })

	last := rec.last()
	if last.Degraded {
		t.Errorf("result degraded despite a successful retry")
	}

	// Registration, two failed attempts, one success.
	if got := proc.callCount(); got != 4 {
		t.Errorf("processor calls = %d, want 4", got)
	}

	info := r.Info("edge_a")
	if info.Stats.Failures != 2 {
		t.Errorf("failures = %d, want 2", info.Stats.Failures)
	}
	if info.State != "clean" {
		t.Errorf("state = %s, want clean", info.State)
	}
}

func TestDegradedFallsBackToDefaultRouteWithoutHistory(t *testing.T) {
	cfg := testConfig()
	cfg.DebounceTime = time.Millisecond
	cfg.MaxRetryAttempts = 1
	cfg.RetryBackoff = time.Millisecond
	proc := &flakyProcessor{}
	proc.setFailures(100)
	r, _ := newTestRegistry(t, cfg, proc)

	rec := &routeRecorder{}
	r.SetListener(rec.record)

	src, dst := testAnchors()
	// The initial compute fails, leaving the edge registered but unrouted.
	if err := r.Register(context.Background(), "edge_a", src, dst, nil); err == nil {
		t.Fatalf("Register succeeded with a failing processor")
	}

	r.MarkDirty("edge_a")

	waitFor(t, "degraded default route", func() bool {
		last := rec.last()
		return last != nil && last.Degraded
	})

	last := rec.last()
	if len(last.Path) < 2 {
		t.Fatalf("degraded path too short: %v", last.Path)
	}
	if !last.Path[0].Equals(src.Point()) || !last.Path[len(last.Path)-1].Equals(dst.Point()) {
		t.Errorf("degraded path %v does not span the anchors", last.Path)
	}
	for i := 0; i < len(last.Path)-1; i++ {
		seg := geometry.Segment{A: last.Path[i], B: last.Path[i+1]}
		if !seg.IsAxisAligned() {
			t.Errorf("degraded path has diagonal segment %v -> %v", seg.A, seg.B)
		}
	}
}

func TestIntersectionWorkingSetIndependentOfLayoutAwareRouting(t *testing.T) {
	cfg := testConfig()
	cfg.EnableLayoutAwareRouting = false
	cfg.IntersectionDetectionEnabled = true
	r, _ := newTestRegistry(t, cfg, directProcessor{})

	// A straight horizontal edge at y=125 and a straight vertical edge at
	// x=175, crossing at (175,125).
	horizSrc := geometry.Anchor{Box: geometry.Rect{X: 0, Y: 100, Width: 50, Height: 50}, Side: geometry.SideRight}
	horizDst := geometry.Anchor{Box: geometry.Rect{X: 300, Y: 100, Width: 50, Height: 50}, Side: geometry.SideLeft}
	vertSrc := geometry.Anchor{Box: geometry.Rect{X: 150, Y: 0, Width: 50, Height: 50}, Side: geometry.SideBottom}
	vertDst := geometry.Anchor{Box: geometry.Rect{X: 150, Y: 300, Width: 50, Height: 50}, Side: geometry.SideTop}

	ctx := context.Background()
	if err := r.Register(ctx, "edge_h", horizSrc, horizDst, nil); err != nil {
		t.Fatalf("Register edge_h: %v", err)
	}
	if err := r.Register(ctx, "edge_v", vertSrc, vertDst, nil); err != nil {
		t.Fatalf("Register edge_v: %v", err)
	}

	result, err := r.Process(ctx, "edge_h", routing.OpDetectIntersections)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(result.Intersections) == 0 {
		t.Fatalf("no intersections reported with layout-aware routing disabled")
	}
	hit := result.Intersections[0]
	if hit.OtherEdgeID != "edge_v" {
		t.Errorf("intersection against %q, want edge_v", hit.OtherEdgeID)
	}
	if !hit.Point.Equals(geometry.Point{X: 175, Y: 125}) {
		t.Errorf("intersection at %v, want (175,125)", hit.Point)
	}
}
