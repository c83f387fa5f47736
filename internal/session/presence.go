package session

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// PresenceManager tracks who is in a room and what they are doing: cursor,
// selection, and the edge segment they are mid-drag on. Client-sent updates
// carry cursor and selection; drag state is owned by the hub, derived from
// the edit traffic it routes, so a client cannot claim a drag it never
// started.
type PresenceManager struct {
	mu        sync.RWMutex
	presences map[string]*PresencePayload // userID -> presence
}

func NewPresenceManager() *PresenceManager {
	return &PresenceManager{
		presences: make(map[string]*PresencePayload),
	}
}

// Update applies a client-sent presence payload. The server-owned drag state
// survives the update; everything else is replaced.
func (pm *PresenceManager) Update(userID string, p *PresencePayload) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if prev, ok := pm.presences[userID]; ok && p.Drag == nil {
		p.Drag = prev.Drag
	}
	pm.presences[userID] = p
}

// SetDrag records that a user is dragging a segment. Creates the presence
// entry if the user has never sent a cursor update.
func (pm *PresenceManager) SetDrag(userID, displayName, edgeID string, segmentIndex int) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	p := pm.cloneLocked(userID)
	if p == nil {
		p = &PresencePayload{DisplayName: displayName}
	}
	p.Drag = &DragState{EdgeID: edgeID, SegmentIndex: segmentIndex}
	pm.presences[userID] = p
}

// ClearDrag drops a user's drag marker, if any.
func (pm *PresenceManager) ClearDrag(userID string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	p := pm.cloneLocked(userID)
	if p == nil || p.Drag == nil {
		return
	}
	p.Drag = nil
	pm.presences[userID] = p
}

// cloneLocked copies the stored payload so marshals of earlier GetAll
// results never observe an in-place mutation. Caller holds pm.mu.
func (pm *PresenceManager) cloneLocked(userID string) *PresencePayload {
	prev, ok := pm.presences[userID]
	if !ok {
		return nil
	}
	p := *prev
	return &p
}

func (pm *PresenceManager) Remove(userID string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.presences, userID)
}

func (pm *PresenceManager) GetAll() map[string]*PresencePayload {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	result := make(map[string]*PresencePayload, len(pm.presences))
	for k, v := range pm.presences {
		result[k] = v
	}
	return result
}

func (pm *PresenceManager) StateMessage() *Message {
	all := pm.GetAll()
	payload, err := json.Marshal(PresenceStatePayload{Presences: all})
	if err != nil {
		slog.Error("marshal presence state", "error", err)
		return nil
	}
	return &Message{
		Type:    TypePresenceState,
		Payload: payload,
	}
}
