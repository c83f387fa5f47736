package session

import (
	"encoding/json"

	"github.com/gridline/gridline/engine-go/internal/diagram"
	"github.com/gridline/gridline/engine-go/internal/engine"
	"github.com/gridline/gridline/engine-go/internal/geometry"
	"github.com/gridline/gridline/engine-go/internal/routing"
)

type Message struct {
	Type      string          `json:"type"`
	DiagramID string          `json:"diagramId,omitempty"`
	ClientID  string          `json:"clientId,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	Seq       int64           `json:"seq,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

const (
	// Connection
	TypeWelcome      = "welcome"
	TypeDiagramState = "diagram.state"
	TypeError        = "error"

	// Interactive edits (client -> server, rebroadcast to peers)
	TypeNodeMove       = "node.move"
	TypeWaypointAdd    = "waypoint.add"
	TypeWaypointMove   = "waypoint.move"
	TypeWaypointRemove = "waypoint.remove"
	TypeSegmentDrag    = "segment.drag"

	// Routing (server -> client)
	TypeEdgeRouted = "edge.routed"

	// Explicit engine requests
	TypeEdgeProcess  = "edge.process"
	TypeEdgeBatch    = "edge.batch"
	TypeConfigUpdate = "config.update"
	TypeConfigState  = "config.state"

	// Presence
	TypePresenceUpdate = "presence.update"
	TypePresenceState  = "presence.state"
	TypePresenceJoin   = "presence.join"
	TypePresenceLeave  = "presence.leave"
)

type WelcomePayload struct {
	ClientID    string `json:"clientId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

type DiagramStatePayload struct {
	Diagram *diagram.Diagram `json:"diagram"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type NodeMovePayload struct {
	NodeID string  `json:"nodeId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type WaypointAddPayload struct {
	EdgeID       string         `json:"edgeId"`
	Position     geometry.Point `json:"position"`
	SegmentIndex int            `json:"segmentIndex"`
}

type WaypointMovePayload struct {
	EdgeID   string         `json:"edgeId"`
	Index    int            `json:"index"`
	Position geometry.Point `json:"position"`
}

type WaypointRemovePayload struct {
	EdgeID string `json:"edgeId"`
	Index  int    `json:"index"`
}

type SegmentDragPayload struct {
	EdgeID       string         `json:"edgeId"`
	SegmentIndex int            `json:"segmentIndex"`
	Delta        geometry.Point `json:"delta"`
}

// EdgeRoutedPayload carries a settled routing result. Waypoints are the
// user's editable points; the result's path additionally includes derived
// virtual bends.
type EdgeRoutedPayload struct {
	EdgeID    string           `json:"edgeId"`
	Result    *routing.Result  `json:"result"`
	Waypoints []geometry.Point `json:"waypoints,omitempty"`
}

type EdgeProcessPayload struct {
	EdgeIDs   []string          `json:"edgeIds"`
	Operation routing.Operation `json:"operation"`
}

type EdgeBatchPayload struct {
	Results map[string]EdgeBatchEntry `json:"results"`
}

type EdgeBatchEntry struct {
	Result *routing.Result `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type ConfigUpdatePayload = engine.ConfigUpdate

// DragState marks the edge segment a user is currently dragging so peers
// can render a live ghost. Set by the hub from segment.drag traffic, cleared
// when the user's next edit lands elsewhere.
type DragState struct {
	EdgeID       string `json:"edgeId"`
	SegmentIndex int    `json:"segmentIndex"`
}

type PresencePayload struct {
	Cursor      *CursorPos `json:"cursor,omitempty"`
	Selection   []string   `json:"selection,omitempty"`
	Drag        *DragState `json:"drag,omitempty"`
	DisplayName string     `json:"displayName,omitempty"`
}

type CursorPos struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type PresenceStatePayload struct {
	Presences map[string]*PresencePayload `json:"presences"`
}

type PresenceJoinPayload struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

type PresenceLeavePayload struct {
	UserID string `json:"userId"`
}
