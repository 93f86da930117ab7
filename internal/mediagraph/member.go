package mediagraph

import (
	"sync"

	"github.com/google/uuid"

	"github.com/wirow-io/wirow-server-sub001/internal/registry"
	"github.com/wirow-io/wirow-server-sub001/internal/rpc"
)

// Member is a room participant. Its producer/consumer references are weak:
// the ids are tracked here but the registry is the source of truth for
// whether the underlying resource is still alive, so a lookup through
// ResolveProducer/ResolveConsumer may legitimately return "gone" once a
// producer/consumer has closed out from under the member.
type Member struct {
	Base   *registry.Base
	Room   *Room
	UserID string

	mu          sync.Mutex
	producerIDs map[uint64]struct{}
	consumerIDs map[uint64]struct{}
	muted       bool
}

func (m *Member) onClose() {}

// JoinRoom registers a new member in room. Membership is independent of
// any transport/producer/consumer the member later creates.
func (g *Graph) JoinRoom(room *Room, userID string) *Member {
	id := g.reg.NextID()
	u := uuid.New()
	base := &registry.Base{ID: id, UUID: u, Kind: registry.KindRoomMember, Refs: 1}
	member := &Member{
		Base:        base,
		Room:        room,
		UserID:      userID,
		producerIDs: make(map[uint64]struct{}),
		consumerIDs: make(map[uint64]struct{}),
	}
	g.reg.Register(base, member)
	room.addMember(member)

	g.mu.Lock()
	g.members[id] = member
	g.mu.Unlock()

	g.bus.Dispatch(rpc.Notification{Kind: rpc.EventRoomMemberJoin, TargetID: id})
	return member
}

// AttachProducer records a weak reference from member to a producer it
// owns, for recording enumeration and membership bookkeeping. It does not
// take a structural reference: closing the producer does not require the
// member to be notified synchronously.
func (m *Member) AttachProducer(producerID uint64) {
	m.mu.Lock()
	m.producerIDs[producerID] = struct{}{}
	m.mu.Unlock()
}

func (m *Member) DetachProducer(producerID uint64) {
	m.mu.Lock()
	delete(m.producerIDs, producerID)
	m.mu.Unlock()
}

func (m *Member) AttachConsumer(consumerID uint64) {
	m.mu.Lock()
	m.consumerIDs[consumerID] = struct{}{}
	m.mu.Unlock()
}

func (m *Member) DetachConsumer(consumerID uint64) {
	m.mu.Lock()
	delete(m.consumerIDs, consumerID)
	m.mu.Unlock()
}

// ProducerIDs returns a snapshot of this member's weakly-held producer ids.
func (m *Member) ProducerIDs() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint64, 0, len(m.producerIDs))
	for id := range m.producerIDs {
		ids = append(ids, id)
	}
	return ids
}

func (m *Member) SetMuted(muted bool) {
	m.mu.Lock()
	m.muted = muted
	m.mu.Unlock()
}

func (m *Member) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

// ResolveProducer resolves one of member's weak producer refs through the
// registry, returning ok=false if it has since closed.
func (g *Graph) ResolveProducer(producerID uint64) (*Producer, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.producers[producerID]
	if !ok {
		return nil, false
	}
	if p.Base.Closed {
		return nil, false
	}
	return p, true
}

// ResolveConsumer resolves one of member's weak consumer refs through the
// registry, returning ok=false if it has since closed.
func (g *Graph) ResolveConsumer(consumerID uint64) (*Consumer, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.consumers[consumerID]
	if !ok {
		return nil, false
	}
	if c.Base.Closed {
		return nil, false
	}
	return c, true
}

func (g *Graph) closeMember(id uint64) {
	g.mu.Lock()
	member, ok := g.members[id]
	g.mu.Unlock()
	if !ok {
		return
	}

	g.reg.Close(id)
	member.Room.removeMember(id)

	handle := registry.Handle{Base: member.Base}
	g.reg.Release(handle)

	g.mu.Lock()
	delete(g.members, id)
	g.mu.Unlock()

	g.bus.Dispatch(rpc.Notification{Kind: rpc.EventRoomMemberLeft, TargetID: id})
}
