package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gridline/gridline/engine-go/internal/routing"
)

func startedDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d := NewDispatcher(Options{TaskTimeout: 2 * time.Second, ReadyTimeout: 2 * time.Second})
	d.Start()
	t.Cleanup(d.Close)
	return d
}

func TestDispatcherProcessRoundTrip(t *testing.T) {
	d := startedDispatcher(t)
	snap := testEdgeSnapshot("edge_a")

	result, err := d.Process(context.Background(), routing.OpOptimizeWaypoints, snap)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	want, err := routing.Compute(routing.OpOptimizeWaypoints, snap)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if result.Fingerprint != want.Fingerprint {
		t.Errorf("dispatched result fingerprint differs from in-process computation")
	}
	if len(result.Path) != len(want.Path) {
		t.Errorf("path lengths differ: %d vs %d", len(result.Path), len(want.Path))
	}
}

func TestDispatcherFallsBackWithoutWorker(t *testing.T) {
	// Never call Start: the worker misses its init window and the
	// computation must still succeed synchronously.
	d := NewDispatcher(Options{ReadyTimeout: 10 * time.Millisecond})
	defer d.Close()

	snap := testEdgeSnapshot("edge_a")
	result, err := d.Process(context.Background(), routing.OpOptimizeWaypoints, snap)
	if err != nil {
		t.Fatalf("Process without worker: %v", err)
	}
	if len(result.Path) < 2 {
		t.Errorf("fallback returned a degenerate path: %v", result.Path)
	}
	if !d.fallback.Load() {
		t.Errorf("fallback flag not set after missed init window")
	}

	// Subsequent calls skip the wait entirely.
	start := time.Now()
	if _, err := d.Process(context.Background(), routing.OpOptimizeWaypoints, snap); err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Errorf("fallback path still waiting for the worker")
	}
}

func TestDispatcherSupersedesSameEdge(t *testing.T) {
	d := NewDispatcher(Options{})
	defer d.Close()

	first := d.register("task_1", "edge_a")
	_ = d.register("task_2", "edge_a")

	select {
	case resp := <-first.ch:
		if resp.Type != TypeError || resp.Error != errSuperseded {
			t.Errorf("old waiter got %q/%q, want ERROR/superseded", resp.Type, resp.Error)
		}
	default:
		t.Fatalf("old waiter was not released on supersede")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pending["task_1"]; ok {
		t.Errorf("superseded task still pending")
	}
	if d.byEdge["edge_a"] != "task_2" {
		t.Errorf("edge not owned by the newer task")
	}
}

func TestDispatcherAwaitMapsSupersededError(t *testing.T) {
	d := NewDispatcher(Options{TaskTimeout: time.Second})
	defer d.Close()

	task := d.register("task_1", "edge_a")
	task.ch <- Response{Type: TypeError, TaskID: "task_1", Error: errSuperseded}

	if _, err := d.await(context.Background(), "task_1", task); !errors.Is(err, ErrSuperseded) {
		t.Errorf("got %v, want ErrSuperseded", err)
	}
}

func TestDispatcherProcessBatchCompleteness(t *testing.T) {
	d := startedDispatcher(t)
	snaps := []routing.EdgeSnapshot{testEdgeSnapshot("edge_a"), testEdgeSnapshot("edge_b")}

	batch, err := d.ProcessBatch(context.Background(), routing.OpCalculateVirtualBends, snaps)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("got %d entries, want 2", len(batch))
	}
	for _, id := range []string{"edge_a", "edge_b"} {
		entry, ok := batch[id]
		if !ok {
			t.Fatalf("no entry for %s", id)
		}
		if entry.Result == nil || entry.Error != "" {
			t.Errorf("%s: %+v, want a result", id, entry)
		}
	}
}

func TestDispatcherCloseIsIdempotent(t *testing.T) {
	d := startedDispatcher(t)
	d.Close()
	d.Close()

	// A dispatcher that is shut down still answers, synchronously.
	result, err := d.Process(context.Background(), routing.OpOptimizeWaypoints, testEdgeSnapshot("edge_a"))
	if err != nil {
		t.Fatalf("Process after Close: %v", err)
	}
	if len(result.Path) < 2 {
		t.Errorf("degenerate path after close: %v", result.Path)
	}
}

func TestDispatcherHonoursContextCancellation(t *testing.T) {
	d := NewDispatcher(Options{ReadyTimeout: 5 * time.Second})
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// No worker and a cancelled context: waitReady gives up immediately
	// and the synchronous path still serves the caller.
	start := time.Now()
	if _, err := d.Process(ctx, routing.OpOptimizeWaypoints, testEdgeSnapshot("edge_a")); err != nil {
		t.Fatalf("Process with cancelled context: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("cancelled context still waited for the worker")
	}
}
