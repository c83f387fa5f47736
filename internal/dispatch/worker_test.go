package dispatch

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gridline/gridline/engine-go/internal/geometry"
	"github.com/gridline/gridline/engine-go/internal/routing"
)

func testEdgeSnapshot(id string) routing.EdgeSnapshot {
	return routing.EdgeSnapshot{
		EdgeID: id,
		Source: geometry.Anchor{Box: geometry.Rect{X: 0, Y: 0, Width: 150, Height: 60}, Side: geometry.SideRight},
		Target: geometry.Anchor{Box: geometry.Rect{X: 200, Y: 200, Width: 150, Height: 60}, Side: geometry.SideLeft},
	}
}

func recvResponse(t *testing.T, ch <-chan Response) Response {
	t.Helper()
	select {
	case resp := <-ch:
		return resp
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for worker response")
		return Response{}
	}
}

func TestWorkerAnnouncesReady(t *testing.T) {
	requests := make(chan Request, 1)
	responses := make(chan Response, 1)
	done := make(chan struct{})
	defer close(done)

	go NewWorker(requests, responses, done).Run()

	if resp := recvResponse(t, responses); resp.Type != TypeWorkerReady {
		t.Errorf("first response type = %q, want WORKER_READY", resp.Type)
	}
}

func TestWorkerProcessEdgeRoundTrip(t *testing.T) {
	requests := make(chan Request, 1)
	responses := make(chan Response, 2)
	done := make(chan struct{})
	defer close(done)

	go NewWorker(requests, responses, done).Run()
	recvResponse(t, responses) // WORKER_READY

	snap := testEdgeSnapshot("edge_a")
	data, err := json.Marshal(ProcessEdgePayload{Operation: routing.OpOptimizeWaypoints, Edge: snap})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	requests <- Request{Type: TypeProcessEdge, TaskID: "task_1", Data: data}

	resp := recvResponse(t, responses)
	if resp.Type != TypeSuccess || resp.TaskID != "task_1" {
		t.Fatalf("got %q/%q, want SUCCESS/task_1 (error: %s)", resp.Type, resp.TaskID, resp.Error)
	}

	var result routing.Result
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}

	want, err := routing.Compute(routing.OpOptimizeWaypoints, snap)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if result.Fingerprint != want.Fingerprint || len(result.Path) != len(want.Path) {
		t.Errorf("worker result differs from in-process computation")
	}
}

func TestWorkerRejectsUnknownRequestType(t *testing.T) {
	requests := make(chan Request, 1)
	responses := make(chan Response, 2)
	done := make(chan struct{})
	defer close(done)

	go NewWorker(requests, responses, done).Run()
	recvResponse(t, responses) // WORKER_READY

	requests <- Request{Type: "EXPLODE", TaskID: "task_1"}

	resp := recvResponse(t, responses)
	if resp.Type != TypeError || resp.Error == "" {
		t.Errorf("got %q (%q), want ERROR with a message", resp.Type, resp.Error)
	}
}

func TestComputeBatchIsolatesFailures(t *testing.T) {
	snaps := []routing.EdgeSnapshot{
		testEdgeSnapshot("edge_a"),
		{EdgeID: ""}, // invalid: missing edge id
		testEdgeSnapshot("edge_b"),
	}

	batch := ComputeBatch(routing.OpOptimizeWaypoints, snaps)
	if len(batch) != 3 {
		t.Fatalf("got %d entries, want 3", len(batch))
	}
	if batch["edge_a"].Result == nil || batch["edge_a"].Error != "" {
		t.Errorf("edge_a should have succeeded: %+v", batch["edge_a"])
	}
	if batch["edge_b"].Result == nil {
		t.Errorf("edge_b should have succeeded")
	}
	if batch[""].Error == "" || batch[""].Result != nil {
		t.Errorf("invalid snapshot should carry an error marker: %+v", batch[""])
	}
}
