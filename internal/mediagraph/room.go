package mediagraph

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/wirow-io/wirow-server-sub001/internal/registry"
	"github.com/wirow-io/wirow-server-sub001/internal/rpc"
	"github.com/wirow-io/wirow-server-sub001/internal/rtpcaps"
)

// Room exists independently of any media session; a Router is attached
// lazily the first time a member actually publishes or consumes. Its
// members hold weak references to producer/consumer resources, resolved
// through the registry at the point of use rather than a strong ref the
// room would otherwise need to release on every producer/consumer close.
type Room struct {
	Base *registry.Base
	CID  string // durable external room identity, independent of Base.UUID

	mu                   sync.Mutex
	router               *Router
	members              map[uint64]*Member
	hasStartedRecording  bool
	numRecordingSessions int
}

func (r *Room) onClose() {}

// CreateRoom registers a room with no attached router; AttachRouter runs
// the first time media actually starts.
func (g *Graph) CreateRoom(cid string) *Room {
	id := g.reg.NextID()
	u := uuid.New()
	base := &registry.Base{ID: id, UUID: u, Kind: registry.KindRoom, Refs: 1}
	room := &Room{Base: base, CID: cid, members: make(map[uint64]*Member)}
	g.reg.Register(base, room)

	g.mu.Lock()
	g.rooms[id] = room
	g.roomsByCID[cid] = room
	g.mu.Unlock()

	g.bus.Dispatch(rpc.Notification{Kind: rpc.EventRoomCreated, TargetID: id})
	return room
}

// RoomByCID looks up a room by its durable external identity.
func (g *Graph) RoomByCID(cid string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.roomsByCID[cid]
	return room, ok
}

// RoomByID looks up a room by its in-process numeric id, e.g. to recover a
// room's CID from a bare rpc.Notification.TargetID.
func (g *Graph) RoomByID(id uint64) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[id]
	return room, ok
}

// FindOrCreateRoom returns the existing room for cid, creating one if none
// exists yet. Signaling handlers call this on a client's first join rather
// than tracking room existence themselves. roomCreateMu serializes the
// check-then-create across concurrent joins to a room that doesn't exist
// yet, so two simultaneous first-joiners can't each mint their own Room.
func (g *Graph) FindOrCreateRoom(cid string) *Room {
	g.roomCreateMu.Lock()
	defer g.roomCreateMu.Unlock()
	if room, ok := g.RoomByCID(cid); ok {
		return room
	}
	return g.CreateRoom(cid)
}

// AttachRouter lazily creates the room's router on first media session.
func (g *Graph) AttachRouter(ctx context.Context, room *Room, mediaCodecs []rtpcaps.Codec) (*Router, error) {
	room.mu.Lock()
	if room.router != nil {
		router := room.router
		room.mu.Unlock()
		return router, nil
	}
	room.mu.Unlock()

	router, err := g.CreateRouter(ctx, mediaCodecs)
	if err != nil {
		return nil, err
	}

	room.mu.Lock()
	room.router = router
	room.mu.Unlock()
	return router, nil
}

func (room *Room) Router() *Router {
	room.mu.Lock()
	defer room.mu.Unlock()
	return room.router
}

// AddMember registers member under room.
func (room *Room) addMember(m *Member) {
	room.mu.Lock()
	room.members[m.Base.ID] = m
	room.mu.Unlock()
}

func (room *Room) removeMember(id uint64) {
	room.mu.Lock()
	delete(room.members, id)
	room.mu.Unlock()
}

// Members returns a snapshot of the room's current members.
func (room *Room) Members() []*Member {
	room.mu.Lock()
	defer room.mu.Unlock()
	out := make([]*Member, 0, len(room.members))
	for _, m := range room.members {
		out = append(out, m)
	}
	return out
}

// SetRecording flips the room's recording bookkeeping; SetRecording(true) bumps
// num_recording_sessions and sets has_started_recording, matching a
// recording controller's start/stop accounting.
func (room *Room) SetRecording(on bool) {
	room.mu.Lock()
	defer room.mu.Unlock()
	if on {
		room.hasStartedRecording = true
		room.numRecordingSessions++
	} else {
		room.hasStartedRecording = false
	}
}

func (room *Room) HasStartedRecording() bool {
	room.mu.Lock()
	defer room.mu.Unlock()
	return room.hasStartedRecording
}

func (room *Room) NumRecordingSessions() int {
	room.mu.Lock()
	defer room.mu.Unlock()
	return room.numRecordingSessions
}

func (g *Graph) closeRoom(id uint64) {
	g.mu.Lock()
	room, ok := g.rooms[id]
	g.mu.Unlock()
	if !ok {
		return
	}

	g.reg.Close(id)

	room.mu.Lock()
	memberIDs := make([]uint64, 0, len(room.members))
	for mid := range room.members {
		memberIDs = append(memberIDs, mid)
	}
	router := room.router
	room.mu.Unlock()

	for _, mid := range memberIDs {
		g.Close(mid)
	}
	if router != nil {
		g.Close(router.Base.ID)
	}

	handle := registry.Handle{Base: room.Base}
	g.reg.Release(handle)

	g.mu.Lock()
	delete(g.rooms, id)
	delete(g.roomsByCID, room.CID)
	g.mu.Unlock()

	g.bus.Dispatch(rpc.Notification{Kind: rpc.EventRoomClosed, TargetID: id})
}
