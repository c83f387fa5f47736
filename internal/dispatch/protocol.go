package dispatch

import (
	"encoding/json"

	"github.com/gridline/gridline/engine-go/internal/routing"
)

// Request is a task handed to the background computation worker.
type Request struct {
	Type   string          `json:"type"`
	TaskID string          `json:"taskId"`
	Data   json.RawMessage `json:"data"`
}

// Response correlates back to a request by task id. Responses may arrive
// out of order; the dispatcher matches them against its pending table.
type Response struct {
	Type   string          `json:"type"`
	TaskID string          `json:"taskId,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

const (
	TypeProcessEdge  = "PROCESS_EDGE"
	TypeProcessBatch = "PROCESS_BATCH"
	TypeSuccess      = "SUCCESS"
	TypeError        = "ERROR"
	TypeWorkerReady  = "WORKER_READY"
)

// errSuperseded marks the response delivered to a waiter whose task was
// replaced by a newer request for the same edge.
const errSuperseded = "superseded"

// ProcessEdgePayload is the data of a PROCESS_EDGE request.
type ProcessEdgePayload struct {
	Operation routing.Operation    `json:"operation"`
	Edge      routing.EdgeSnapshot `json:"edge"`
}

// ProcessBatchPayload is the data of a PROCESS_BATCH request.
type ProcessBatchPayload struct {
	Operation routing.Operation      `json:"operation"`
	Edges     []routing.EdgeSnapshot `json:"edges"`
}

// BatchEntry is the per-edge outcome of a batch. A failed edge carries an
// error marker instead of aborting the whole batch.
type BatchEntry struct {
	Result *routing.Result `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// BatchResult maps edge id to outcome. Every requested edge id has an entry.
type BatchResult map[string]BatchEntry
