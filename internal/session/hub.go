package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gridline/gridline/engine-go/internal/diagram"
	"github.com/gridline/gridline/engine-go/internal/engine"
	"github.com/gridline/gridline/engine-go/internal/geometry"
	"github.com/gridline/gridline/engine-go/internal/routing"
)

// LoadFunc loads a diagram for a newly opened room.
type LoadFunc func(diagramID string) (*diagram.Diagram, error)

// SaveNodeFunc persists one node's geometry after an interactive move.
type SaveNodeFunc func(diagramID string, n diagram.Node) error

// SaveWaypointsFunc persists an edge's user waypoints. Virtual bends are
// never passed through here.
type SaveWaypointsFunc func(diagramID, edgeID string, waypoints []geometry.Point) error

// Room is one open diagram: its connected clients, presence, the mutable
// node/edge model, and the routing engine that keeps edge geometry current.
type Room struct {
	diagramID string
	clients   map[string]*Client // clientID -> client
	presence  *PresenceManager

	mu    sync.Mutex
	doc   *diagram.Diagram
	nodes map[string]diagram.Node
	edges map[string]diagram.Edge

	engine *engine.Engine
}

// Hub owns the rooms and routes messages between clients and each room's
// engine.
type Hub struct {
	mu         sync.RWMutex
	rooms      map[string]*Room // diagramID -> room
	register   chan *Client
	unregister chan *Client

	engineCfg     engine.Config
	loadDiagram   LoadFunc
	saveNode      SaveNodeFunc
	saveWaypoints SaveWaypointsFunc
}

func NewHub(engineCfg engine.Config, load LoadFunc, saveNode SaveNodeFunc, saveWaypoints SaveWaypointsFunc) *Hub {
	return &Hub{
		rooms:         make(map[string]*Room),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		engineCfg:     engineCfg,
		loadDiagram:   load,
		saveNode:      saveNode,
		saveWaypoints: saveWaypoints,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Stop destroys every room's engine. Waypoints are persisted as they change,
// so no final save pass is needed.
func (h *Hub) Stop() {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]*Room)
	h.mu.Unlock()

	for _, room := range rooms {
		room.engine.Destroy()
	}
}

// Engine exposes a room's engine to the HTTP surface. Misses while nobody
// has the diagram open.
func (h *Hub) Engine(diagramID string) (*engine.Engine, bool) {
	h.mu.RLock()
	room, ok := h.rooms[diagramID]
	h.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return room.engine, true
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	room, ok := h.rooms[client.DiagramID]
	h.mu.Unlock()

	if !ok {
		var err error
		room, err = h.openRoom(client.DiagramID)
		if err != nil {
			slog.Error("open room", "diagram", client.DiagramID, "error", err)
			client.sendError("diagram could not be loaded")
			return
		}
		h.mu.Lock()
		// Another client may have raced us here; keep the first room.
		if existing, ok := h.rooms[client.DiagramID]; ok {
			room.engine.Destroy()
			room = existing
		} else {
			h.rooms[client.DiagramID] = room
		}
		h.mu.Unlock()
	}

	room.mu.Lock()
	room.clients[client.ClientID] = client
	doc := room.doc
	room.mu.Unlock()

	welcome, _ := json.Marshal(WelcomePayload{
		ClientID:    client.ClientID,
		UserID:      client.UserID,
		DisplayName: client.DisplayName,
	})
	client.Send(&Message{Type: TypeWelcome, Payload: welcome})

	state, err := json.Marshal(DiagramStatePayload{Diagram: doc})
	if err == nil {
		client.Send(&Message{Type: TypeDiagramState, Payload: state})
	}

	if stateMsg := room.presence.StateMessage(); stateMsg != nil {
		client.Send(stateMsg)
	}

	joinPayload, _ := json.Marshal(PresenceJoinPayload{
		UserID:      client.UserID,
		DisplayName: client.DisplayName,
	})
	h.broadcastToRoom(client.DiagramID, &Message{
		Type:    TypePresenceJoin,
		UserID:  client.UserID,
		Payload: joinPayload,
	}, client.ClientID)

	slog.Info("client joined", "user", client.UserID, "diagram", client.DiagramID)
}

// openRoom loads the diagram, builds its engine and registers every edge so
// initial routes exist before the first client message.
func (h *Hub) openRoom(diagramID string) (*Room, error) {
	doc, err := h.loadDiagram(diagramID)
	if err != nil {
		return nil, err
	}

	room := &Room{
		diagramID: diagramID,
		clients:   make(map[string]*Client),
		presence:  NewPresenceManager(),
		doc:       doc,
		nodes:     doc.NodeIndex(),
		edges:     make(map[string]diagram.Edge, len(doc.Edges)),
		engine:    engine.New(h.engineCfg),
	}
	for _, e := range doc.Edges {
		room.edges[e.ID] = e
	}

	room.engine.SetRouteListener(func(edgeID string, result *routing.Result) {
		h.broadcastRouted(room, edgeID, result)
	})

	ctx := context.Background()
	for _, e := range doc.Edges {
		src, dst, err := e.Anchors(room.nodes)
		if err != nil {
			slog.Warn("skipping edge with dangling endpoint", "edge", e.ID, "error", err)
			continue
		}
		if err := room.engine.RegisterEdge(ctx, e.ID, src, dst, e.Waypoints); err != nil {
			slog.Warn("register edge", "edge", e.ID, "error", err)
		}
	}

	return room, nil
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	room, ok := h.rooms[client.DiagramID]
	if !ok {
		h.mu.Unlock()
		return
	}

	room.mu.Lock()
	_, present := room.clients[client.ClientID]
	delete(room.clients, client.ClientID)
	empty := len(room.clients) == 0
	room.mu.Unlock()

	if present {
		close(client.send)
	}
	room.presence.Remove(client.UserID)

	if empty {
		delete(h.rooms, client.DiagramID)
	}
	h.mu.Unlock()

	if empty {
		room.engine.Destroy()
	}

	leavePayload, _ := json.Marshal(PresenceLeavePayload{UserID: client.UserID})
	h.broadcastToRoom(client.DiagramID, &Message{
		Type:    TypePresenceLeave,
		UserID:  client.UserID,
		Payload: leavePayload,
	}, "")

	slog.Info("client left", "user", client.UserID, "diagram", client.DiagramID)
}

func (h *Hub) handleMessage(sender *Client, msg *Message) {
	h.mu.RLock()
	room, ok := h.rooms[sender.DiagramID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	switch msg.Type {
	case TypePresenceUpdate:
		h.handlePresenceUpdate(room, sender, msg)
	case TypeNodeMove:
		h.handleNodeMove(room, sender, msg)
	case TypeWaypointAdd:
		h.handleWaypointAdd(room, sender, msg)
	case TypeWaypointMove:
		h.handleWaypointMove(room, sender, msg)
	case TypeWaypointRemove:
		h.handleWaypointRemove(room, sender, msg)
	case TypeSegmentDrag:
		h.handleSegmentDrag(room, sender, msg)
	case TypeEdgeProcess:
		h.handleEdgeProcess(room, sender, msg)
	case TypeConfigUpdate:
		h.handleConfigUpdate(room, sender, msg)
	default:
		slog.Warn("unknown message type", "type", msg.Type, "user", sender.UserID)
	}
}

func (h *Hub) handlePresenceUpdate(room *Room, sender *Client, msg *Message) {
	var presence PresencePayload
	if err := json.Unmarshal(msg.Payload, &presence); err != nil {
		slog.Warn("invalid presence payload", "error", err)
		return
	}

	presence.DisplayName = sender.DisplayName
	room.presence.Update(sender.UserID, &presence)

	outPayload, _ := json.Marshal(presence)
	h.broadcastToRoom(sender.DiagramID, &Message{
		Type:    TypePresenceUpdate,
		UserID:  sender.UserID,
		Payload: outPayload,
	}, sender.ClientID)
}

// handleNodeMove updates the node, re-anchors every edge touching it (the
// engine debounces the recompute burst), persists the node and rebroadcasts.
func (h *Hub) handleNodeMove(room *Room, sender *Client, msg *Message) {
	var p NodeMovePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		sender.sendError("invalid node.move payload")
		return
	}

	room.mu.Lock()
	node, ok := room.nodes[p.NodeID]
	if !ok {
		room.mu.Unlock()
		sender.sendError("unknown node")
		return
	}
	node.X, node.Y = p.X, p.Y
	if p.Width > 0 {
		node.Width = p.Width
	}
	if p.Height > 0 {
		node.Height = p.Height
	}
	room.nodes[p.NodeID] = node

	type reanchor struct {
		edgeID   string
		src, dst geometry.Anchor
	}
	var touched []reanchor
	for _, e := range room.edges {
		if e.SourceID != p.NodeID && e.TargetID != p.NodeID {
			continue
		}
		src, dst, err := e.Anchors(room.nodes)
		if err != nil {
			continue
		}
		touched = append(touched, reanchor{edgeID: e.ID, src: src, dst: dst})
	}
	room.mu.Unlock()

	for _, t := range touched {
		if err := room.engine.UpdateAnchors(t.edgeID, t.src, t.dst); err != nil {
			slog.Warn("update anchors", "edge", t.edgeID, "error", err)
		}
	}

	if err := h.saveNode(room.diagramID, node); err != nil {
		slog.Error("save node", "node", p.NodeID, "error", err)
	}

	h.broadcastToRoom(sender.DiagramID, msg, sender.ClientID)
}

func (h *Hub) handleWaypointAdd(room *Room, sender *Client, msg *Message) {
	var p WaypointAddPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		sender.sendError("invalid waypoint.add payload")
		return
	}

	if err := room.engine.AddWaypoint(p.EdgeID, p.Position, p.SegmentIndex); err != nil {
		sender.sendError(err.Error())
		return
	}

	room.presence.ClearDrag(sender.UserID)
	h.persistWaypoints(room, p.EdgeID)
	h.broadcastToRoom(sender.DiagramID, msg, sender.ClientID)
}

func (h *Hub) handleWaypointMove(room *Room, sender *Client, msg *Message) {
	var p WaypointMovePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		sender.sendError("invalid waypoint.move payload")
		return
	}

	if err := room.engine.MoveWaypoint(p.EdgeID, p.Index, p.Position); err != nil {
		sender.sendError(err.Error())
		return
	}

	room.presence.ClearDrag(sender.UserID)
	h.persistWaypoints(room, p.EdgeID)
	h.broadcastToRoom(sender.DiagramID, msg, sender.ClientID)
}

func (h *Hub) handleWaypointRemove(room *Room, sender *Client, msg *Message) {
	var p WaypointRemovePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		sender.sendError("invalid waypoint.remove payload")
		return
	}

	if err := room.engine.RemoveWaypoint(p.EdgeID, p.Index); err != nil {
		sender.sendError(err.Error())
		return
	}

	room.presence.ClearDrag(sender.UserID)
	h.persistWaypoints(room, p.EdgeID)
	h.broadcastToRoom(sender.DiagramID, msg, sender.ClientID)
}

func (h *Hub) handleSegmentDrag(room *Room, sender *Client, msg *Message) {
	var p SegmentDragPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		sender.sendError("invalid segment.drag payload")
		return
	}

	if err := room.engine.MoveSegment(p.EdgeID, p.SegmentIndex, p.Delta); err != nil {
		sender.sendError(err.Error())
		return
	}

	// Peers render a live drag ghost for this user until their next edit.
	room.presence.SetDrag(sender.UserID, sender.DisplayName, p.EdgeID, p.SegmentIndex)
	h.persistWaypoints(room, p.EdgeID)
	h.broadcastToRoom(sender.DiagramID, msg, sender.ClientID)
}

func (h *Hub) handleEdgeProcess(room *Room, sender *Client, msg *Message) {
	var p EdgeProcessPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		sender.sendError("invalid edge.process payload")
		return
	}

	op := p.Operation
	if op == "" {
		op = routing.OpOptimizeWaypoints
	}

	batch, err := room.engine.BatchProcessEdges(context.Background(), p.EdgeIDs, op)
	if err != nil {
		sender.sendError(err.Error())
		return
	}

	out := EdgeBatchPayload{Results: make(map[string]EdgeBatchEntry, len(batch))}
	for id, entry := range batch {
		out.Results[id] = EdgeBatchEntry{Result: entry.Result, Error: entry.Error}
	}

	payload, err := json.Marshal(out)
	if err != nil {
		slog.Error("marshal batch payload", "error", err)
		return
	}
	sender.Send(&Message{Type: TypeEdgeBatch, Payload: payload})
}

func (h *Hub) handleConfigUpdate(room *Room, sender *Client, msg *Message) {
	var p ConfigUpdatePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		sender.sendError("invalid config.update payload")
		return
	}

	applied := room.engine.UpdateConfig(p)

	payload, _ := json.Marshal(applied.View())
	h.broadcastToRoom(sender.DiagramID, &Message{Type: TypeConfigState, Payload: payload}, "")
}

// broadcastRouted pushes a settled routing result to everyone in the room.
func (h *Hub) broadcastRouted(room *Room, edgeID string, result *routing.Result) {
	payload, err := json.Marshal(EdgeRoutedPayload{
		EdgeID:    edgeID,
		Result:    result,
		Waypoints: room.engine.Waypoints(edgeID),
	})
	if err != nil {
		slog.Error("marshal routed payload", "error", err)
		return
	}
	h.broadcastToRoom(room.diagramID, &Message{Type: TypeEdgeRouted, Payload: payload}, "")
}

func (h *Hub) persistWaypoints(room *Room, edgeID string) {
	if err := h.saveWaypoints(room.diagramID, edgeID, room.engine.Waypoints(edgeID)); err != nil {
		slog.Error("save waypoints", "edge", edgeID, "error", err)
	}
}

func (h *Hub) broadcastToRoom(diagramID string, msg *Message, excludeClientID string) {
	h.mu.RLock()
	room, ok := h.rooms[diagramID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	room.mu.Lock()
	clients := make([]*Client, 0, len(room.clients))
	for _, c := range room.clients {
		if c.ClientID != excludeClientID {
			clients = append(clients, c)
		}
	}
	room.mu.Unlock()

	for _, c := range clients {
		c.Send(msg)
	}
}
