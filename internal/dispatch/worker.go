package dispatch

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gridline/gridline/engine-go/internal/routing"
)

// Worker is the background computation goroutine. It consumes requests,
// evaluates them against the immutable snapshots in their payloads and
// replies on the response channel. It never touches shared state.
type Worker struct {
	requests  <-chan Request
	responses chan<- Response
	done      <-chan struct{}
}

func NewWorker(requests <-chan Request, responses chan<- Response, done <-chan struct{}) *Worker {
	return &Worker{requests: requests, responses: responses, done: done}
}

// Run announces readiness, then processes requests until shut down.
func (w *Worker) Run() {
	if !w.send(Response{Type: TypeWorkerReady}) {
		return
	}

	for {
		select {
		case req := <-w.requests:
			if !w.send(w.handle(req)) {
				return
			}
		case <-w.done:
			return
		}
	}
}

func (w *Worker) send(resp Response) bool {
	select {
	case w.responses <- resp:
		return true
	case <-w.done:
		return false
	}
}

func (w *Worker) handle(req Request) Response {
	switch req.Type {
	case TypeProcessEdge:
		var payload ProcessEdgePayload
		if err := json.Unmarshal(req.Data, &payload); err != nil {
			return errorResponse(req.TaskID, fmt.Errorf("decode payload: %w", err))
		}

		result, err := routing.Compute(payload.Operation, payload.Edge)
		if err != nil {
			return errorResponse(req.TaskID, err)
		}
		return successResponse(req.TaskID, result)

	case TypeProcessBatch:
		var payload ProcessBatchPayload
		if err := json.Unmarshal(req.Data, &payload); err != nil {
			return errorResponse(req.TaskID, fmt.Errorf("decode payload: %w", err))
		}
		return successResponse(req.TaskID, ComputeBatch(payload.Operation, payload.Edges))

	default:
		slog.Warn("unknown request type", "type", req.Type, "task", req.TaskID)
		return errorResponse(req.TaskID, fmt.Errorf("unknown request type %q", req.Type))
	}
}

// ComputeBatch evaluates one operation for every snapshot, isolating
// per-edge failures. Shared by the worker and the synchronous fallback.
func ComputeBatch(op routing.Operation, edges []routing.EdgeSnapshot) BatchResult {
	batch := make(BatchResult, len(edges))
	for _, snap := range edges {
		result, err := routing.Compute(op, snap)
		if err != nil {
			batch[snap.EdgeID] = BatchEntry{Error: err.Error()}
			continue
		}
		batch[snap.EdgeID] = BatchEntry{Result: result}
	}
	return batch
}

func successResponse(taskID string, result any) Response {
	data, err := json.Marshal(result)
	if err != nil {
		return errorResponse(taskID, fmt.Errorf("encode result: %w", err))
	}
	return Response{Type: TypeSuccess, TaskID: taskID, Result: data}
}

func errorResponse(taskID string, err error) Response {
	return Response{Type: TypeError, TaskID: taskID, Error: err.Error()}
}
