package ws

import (
	"encoding/json"
	"log"
	"sync"
)

// CameraLister enumerates registered camera ids. The hub queries it at
// join-all time so dashboards always see newly registered cameras.
type CameraLister interface {
	ListIDs() []string
}

// Hub routes events between connections grouped into camera rooms.
// Membership is per-connection and ephemeral; a disconnect purges the
// connection from every room.
type Hub struct {
	// rooms maps camera_id -> set of member clients
	rooms   map[string]map[*Client]bool
	mu      sync.RWMutex
	cameras CameraLister
}

// NewHub creates a new hub
func NewHub(cameras CameraLister) *Hub {
	return &Hub{
		rooms:   make(map[string]map[*Client]bool),
		cameras: cameras,
	}
}

// Join adds a client to a camera room
func (h *Hub) Join(c *Client, cameraID string) {
	if cameraID == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[cameraID] == nil {
		h.rooms[cameraID] = make(map[*Client]bool)
	}
	h.rooms[cameraID][c] = true
	c.rooms[cameraID] = true
	log.Printf("[Hub] Client %s joined room %s (members: %d)", c.id, cameraID, len(h.rooms[cameraID]))
}

// JoinAll subscribes a client to every registered camera room. The
// camera set is enumerated now, not cached, so cameras registered after
// the hub started are included.
func (h *Hub) JoinAll(c *Client) {
	for _, cameraID := range h.cameras.ListIDs() {
		h.Join(c, cameraID)
	}
}

// Leave removes a client from a camera room
func (h *Hub) Leave(c *Client, cameraID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, cameraID)
}

func (h *Hub) leaveLocked(c *Client, cameraID string) {
	if members, ok := h.rooms[cameraID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, cameraID)
		}
	}
	delete(c.rooms, cameraID)
}

// Disconnect removes a client from all rooms and closes its send queue.
// Pending sends for the client are dropped; work the client triggered
// elsewhere is left to finish.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	for cameraID := range c.rooms {
		h.leaveLocked(c, cameraID)
	}
	h.mu.Unlock()

	c.close()
	log.Printf("[Hub] Client %s disconnected", c.id)
}

// Broadcast sends a named event to every member of a camera room except
// the sender. A room with no members is a no-op. Slow members whose
// send queues are full drop the event instead of blocking the producer.
func (h *Hub) Broadcast(cameraID, event string, payload interface{}, except *Client) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[Hub] Error marshaling %s payload: %v", event, err)
		return
	}
	h.BroadcastRaw(cameraID, event, data, except)
}

// BroadcastRaw sends a named event with an already-serialized payload
func (h *Hub) BroadcastRaw(cameraID, event string, data json.RawMessage, except *Client) {
	msg, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		log.Printf("[Hub] Error marshaling %s envelope: %v", event, err)
		return
	}

	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[cameraID]))
	for m := range h.rooms[cameraID] {
		if m != except {
			members = append(members, m)
		}
	}
	h.mu.RUnlock()

	for _, m := range members {
		if !m.enqueue(msg) {
			log.Printf("[Hub] Dropped %s for client %s (queue full)", event, m.id)
		}
	}
}

// RoomSize returns the number of members in a camera room
func (h *Hub) RoomSize(cameraID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[cameraID])
}

// ClientCount returns the total number of room memberships held
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, members := range h.rooms {
		count += len(members)
	}
	return count
}
