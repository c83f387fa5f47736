package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gridline/gridline/engine-go/internal/routing"
	"github.com/gridline/gridline/engine-go/internal/typeid"
)

// ErrSuperseded is returned to a caller whose in-flight task was replaced by
// a newer request for the same edge. The newer request owns the result.
var ErrSuperseded = errors.New("task superseded by a newer request")

const (
	defaultTaskTimeout  = 250 * time.Millisecond
	defaultReadyTimeout = 1 * time.Second
	defaultQueueSize    = 64
)

// Options tunes the dispatcher. Zero values pick defaults.
type Options struct {
	TaskTimeout  time.Duration
	ReadyTimeout time.Duration
	QueueSize    int
}

// Dispatcher translates routing requests into correlated tasks for the
// background worker. It guarantees availability: if the worker never becomes
// ready, or a task times out, the same computation runs synchronously
// in-process instead.
type Dispatcher struct {
	mu      sync.Mutex
	pending map[string]*pendingTask // taskID -> waiter
	byEdge  map[string]string       // edgeID -> in-flight taskID

	requests  chan Request
	responses chan Response
	ready     chan struct{}
	done      chan struct{}

	taskTimeout  time.Duration
	readyTimeout time.Duration

	fallback atomic.Bool // worker missed its init window
	closed   bool
}

type pendingTask struct {
	edgeID string
	ch     chan Response
}

func NewDispatcher(opts Options) *Dispatcher {
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = defaultTaskTimeout
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = defaultReadyTimeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}

	return &Dispatcher{
		pending:      make(map[string]*pendingTask),
		byEdge:       make(map[string]string),
		requests:     make(chan Request, opts.QueueSize),
		responses:    make(chan Response, opts.QueueSize),
		ready:        make(chan struct{}),
		done:         make(chan struct{}),
		taskTimeout:  opts.TaskTimeout,
		readyTimeout: opts.ReadyTimeout,
	}
}

// Start launches the background worker and the response correlator.
func (d *Dispatcher) Start() {
	worker := NewWorker(d.requests, d.responses, d.done)
	go worker.Run()
	go d.correlate()
}

// correlate routes worker responses back to their waiters by task id.
// Responses for superseded or timed-out tasks are dropped, never applied.
func (d *Dispatcher) correlate() {
	for {
		select {
		case resp := <-d.responses:
			if resp.Type == TypeWorkerReady {
				select {
				case <-d.ready:
				default:
					close(d.ready)
					slog.Debug("routing worker ready")
				}
				continue
			}

			d.mu.Lock()
			task, ok := d.pending[resp.TaskID]
			if ok {
				delete(d.pending, resp.TaskID)
				if task.edgeID != "" && d.byEdge[task.edgeID] == resp.TaskID {
					delete(d.byEdge, task.edgeID)
				}
			}
			d.mu.Unlock()

			if !ok {
				slog.Debug("dropping uncorrelated response", "task", resp.TaskID)
				continue
			}
			task.ch <- resp

		case <-d.done:
			return
		}
	}
}

// Process runs one operation for one edge through the worker, falling back
// to an in-process computation on init failure or task timeout.
func (d *Dispatcher) Process(ctx context.Context, op routing.Operation, snap routing.EdgeSnapshot) (*routing.Result, error) {
	if !d.waitReady(ctx) {
		return routing.Compute(op, snap)
	}

	data, err := json.Marshal(ProcessEdgePayload{Operation: op, Edge: snap})
	if err != nil {
		return nil, fmt.Errorf("encode task payload: %w", err)
	}

	taskID := typeid.NewTaskID()
	task := d.register(taskID, snap.EdgeID)
	req := Request{Type: TypeProcessEdge, TaskID: taskID, Data: data}

	if !d.enqueue(ctx, req) {
		d.unregister(taskID)
		return routing.Compute(op, snap)
	}

	resp, err := d.await(ctx, taskID, task)
	if err != nil {
		if errors.Is(err, errTimeout) {
			slog.Warn("routing task timed out, computing synchronously", "task", taskID, "edge", snap.EdgeID)
			return routing.Compute(op, snap)
		}
		return nil, err
	}

	var result routing.Result
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("decode task result: %w", err)
	}
	return &result, nil
}

// ProcessBatch runs one operation for a set of edges in a single task.
// Every requested edge id gets an entry; individual failures are isolated.
func (d *Dispatcher) ProcessBatch(ctx context.Context, op routing.Operation, snaps []routing.EdgeSnapshot) (BatchResult, error) {
	if !d.waitReady(ctx) {
		return ComputeBatch(op, snaps), nil
	}

	data, err := json.Marshal(ProcessBatchPayload{Operation: op, Edges: snaps})
	if err != nil {
		return nil, fmt.Errorf("encode batch payload: %w", err)
	}

	taskID := typeid.NewTaskID()
	task := d.register(taskID, "")
	req := Request{Type: TypeProcessBatch, TaskID: taskID, Data: data}

	if !d.enqueue(ctx, req) {
		d.unregister(taskID)
		return ComputeBatch(op, snaps), nil
	}

	resp, err := d.await(ctx, taskID, task)
	if err != nil {
		if errors.Is(err, errTimeout) {
			slog.Warn("batch task timed out, computing synchronously", "task", taskID, "edges", len(snaps))
			return ComputeBatch(op, snaps), nil
		}
		return nil, err
	}

	var batch BatchResult
	if err := json.Unmarshal(resp.Result, &batch); err != nil {
		return nil, fmt.Errorf("decode batch result: %w", err)
	}
	return batch, nil
}

// Close shuts the dispatcher down. Idempotent; outstanding waiters fall back
// to synchronous computation via their timeout paths.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	close(d.done)
}

// waitReady blocks until the worker has signalled readiness or the init
// window elapses. A missed window flips to synchronous fallback, but a
// worker that comes up late is still adopted on subsequent calls.
func (d *Dispatcher) waitReady(ctx context.Context) bool {
	select {
	case <-d.ready:
		return true
	default:
	}

	if d.fallback.Load() {
		return false
	}

	timer := time.NewTimer(d.readyTimeout)
	defer timer.Stop()

	select {
	case <-d.ready:
		return true
	case <-timer.C:
		d.fallback.Store(true)
		slog.Warn("routing worker not ready, switching to synchronous fallback")
		return false
	case <-ctx.Done():
		return false
	case <-d.done:
		return false
	}
}

// register adds a waiter. A still-pending task for the same edge id is
// superseded: its waiter is released with an error and the worker's eventual
// response for it will be dropped.
func (d *Dispatcher) register(taskID, edgeID string) *pendingTask {
	d.mu.Lock()
	defer d.mu.Unlock()

	if edgeID != "" {
		if oldID, ok := d.byEdge[edgeID]; ok {
			if old, ok := d.pending[oldID]; ok {
				delete(d.pending, oldID)
				old.ch <- Response{Type: TypeError, TaskID: oldID, Error: errSuperseded}
			}
		}
		d.byEdge[edgeID] = taskID
	}

	task := &pendingTask{edgeID: edgeID, ch: make(chan Response, 1)}
	d.pending[taskID] = task
	return task
}

func (d *Dispatcher) unregister(taskID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, ok := d.pending[taskID]
	if !ok {
		return
	}
	delete(d.pending, taskID)
	if task.edgeID != "" && d.byEdge[task.edgeID] == taskID {
		delete(d.byEdge, task.edgeID)
	}
}

// enqueue offers the request to the bounded queue, giving up after the task
// timeout so a stalled worker cannot block the interactive side.
func (d *Dispatcher) enqueue(ctx context.Context, req Request) bool {
	timer := time.NewTimer(d.taskTimeout)
	defer timer.Stop()

	select {
	case d.requests <- req:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	case <-d.done:
		return false
	}
}

var errTimeout = errors.New("task timed out")

func (d *Dispatcher) await(ctx context.Context, taskID string, task *pendingTask) (Response, error) {
	timer := time.NewTimer(d.taskTimeout)
	defer timer.Stop()

	select {
	case resp := <-task.ch:
		if resp.Type == TypeError {
			if resp.Error == errSuperseded {
				return Response{}, ErrSuperseded
			}
			return Response{}, fmt.Errorf("task failed: %s", resp.Error)
		}
		return resp, nil
	case <-timer.C:
		d.unregister(taskID)
		return Response{}, errTimeout
	case <-ctx.Done():
		d.unregister(taskID)
		return Response{}, ctx.Err()
	case <-d.done:
		d.unregister(taskID)
		return Response{}, errTimeout
	}
}
