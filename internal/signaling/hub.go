// Package signaling is the websocket control plane: it upgrades a client
// connection, authenticates it, and translates its JSON-envelope messages
// into internal/mediagraph operations (join, transport/producer/consumer
// creation, pause/resume, recording start/stop), pushing the graph's own
// events back out to every other member of the same room.
package signaling

import (
	"sync"

	"go.uber.org/zap"
)

// Hub tracks which *Client is serving which room member, so a mediagraph
// event (new producer, member muted, producer paused) can be pushed to every
// other connection in the same room without each Client needing to know
// about its siblings directly.
type Hub struct {
	log *zap.Logger

	mu       sync.Mutex
	byMember map[uint64]*Client            // member id -> its connection
	byRoom   map[uint64]map[uint64]*Client // room id -> member id -> connection
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:      log,
		byMember: make(map[uint64]*Client),
		byRoom:   make(map[uint64]map[uint64]*Client),
	}
}

// Register associates a connected client with its room membership.
func (h *Hub) Register(roomID, memberID uint64, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byMember[memberID] = c
	if h.byRoom[roomID] == nil {
		h.byRoom[roomID] = make(map[uint64]*Client)
	}
	h.byRoom[roomID][memberID] = c
}

// Unregister drops a member's connection, e.g. on disconnect or leave.
func (h *Hub) Unregister(roomID, memberID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.byMember, memberID)
	if members, ok := h.byRoom[roomID]; ok {
		delete(members, memberID)
		if len(members) == 0 {
			delete(h.byRoom, roomID)
		}
	}
}

// SendToMember pushes event/payload to one member's connection, if it still
// has one registered.
func (h *Hub) SendToMember(memberID uint64, event string, payload interface{}) {
	h.mu.Lock()
	c, ok := h.byMember[memberID]
	h.mu.Unlock()
	if !ok {
		return
	}
	c.send(event, payload)
}

// BroadcastToRoom pushes event/payload to every member of roomID except
// exceptMemberID (0 to exclude none).
func (h *Hub) BroadcastToRoom(roomID uint64, event string, payload interface{}, exceptMemberID uint64) {
	h.mu.Lock()
	members := make([]*Client, 0, len(h.byRoom[roomID]))
	for memberID, c := range h.byRoom[roomID] {
		if memberID == exceptMemberID {
			continue
		}
		members = append(members, c)
	}
	h.mu.Unlock()
	for _, c := range members {
		c.send(event, payload)
	}
}
