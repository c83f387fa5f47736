package engine

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gridline/gridline/engine-go/internal/routing"
)

// Resolver locates the engine serving a diagram. A room only has an engine
// while a session is open, so lookups can miss.
type Resolver interface {
	Engine(diagramID string) (*Engine, bool)
}

// Handler exposes a room's engine over HTTP for tooling: explicit edge
// processing, batch runs, statistics and runtime configuration.
type Handler struct {
	resolver Resolver
}

func NewHandler(resolver Resolver) *Handler {
	return &Handler{resolver: resolver}
}

func (h *Handler) engine(w http.ResponseWriter, r *http.Request) (*Engine, bool) {
	eng, ok := h.resolver.Engine(mux.Vars(r)["diagramId"])
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "diagram not open"})
		return nil, false
	}
	return eng, true
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.engine(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, eng.GetStatistics())
}

func (h *Handler) EdgeInfo(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.engine(w, r)
	if !ok {
		return
	}
	info := eng.GetEdgeInfo(mux.Vars(r)["edgeId"])
	if info == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "edge not tracked"})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type processRequest struct {
	Operation routing.Operation `json:"operation"`
}

func (h *Handler) ProcessEdge(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.engine(w, r)
	if !ok {
		return
	}

	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	op := req.Operation
	if op == "" {
		op = routing.OpOptimizeWaypoints
	}
	if !op.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown operation"})
		return
	}

	result, err := eng.ProcessEdge(r.Context(), mux.Vars(r)["edgeId"], op)
	if errors.Is(err, ErrNotRegistered) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "edge not registered"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type batchRequest struct {
	EdgeIDs   []string          `json:"edgeIds"`
	Operation routing.Operation `json:"operation"`
}

func (h *Handler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.engine(w, r)
	if !ok {
		return
	}

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(req.EdgeIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "edgeIds is required"})
		return
	}
	op := req.Operation
	if op == "" {
		op = routing.OpOptimizeWaypoints
	}
	if !op.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown operation"})
		return
	}

	batch, err := eng.BatchProcessEdges(r.Context(), req.EdgeIDs, op)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.engine(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, eng.Config().View())
}

func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.engine(w, r)
	if !ok {
		return
	}

	var update ConfigUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	applied := eng.UpdateConfig(update)
	writeJSON(w, http.StatusOK, applied.View())
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
