package signaling

import (
	"sync"

	"github.com/wirow-io/wirow-server-sub001/internal/rpc"
)

// entityIndex remembers which room (and, where relevant, which member) owns
// a producer or consumer, so a bare rpc.Notification — which only carries a
// numeric resource id — can be routed to the right websocket connections.
// mediagraph itself has no such index: a producer only knows its transport's
// router, never the room a signaling session attached that router to.
type entityIndex struct {
	mu             sync.Mutex
	producerRoom   map[uint64]uint64
	producerMember map[uint64]uint64
	consumerRoom   map[uint64]uint64
	consumerMember map[uint64]uint64
	memberRoom     map[uint64]uint64
}

func newEntityIndex() *entityIndex {
	return &entityIndex{
		producerRoom:   make(map[uint64]uint64),
		producerMember: make(map[uint64]uint64),
		consumerRoom:   make(map[uint64]uint64),
		consumerMember: make(map[uint64]uint64),
		memberRoom:     make(map[uint64]uint64),
	}
}

func (idx *entityIndex) trackProducer(producerID, roomID, memberID uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.producerRoom[producerID] = roomID
	idx.producerMember[producerID] = memberID
}

func (idx *entityIndex) trackConsumer(consumerID, roomID, memberID uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.consumerRoom[consumerID] = roomID
	idx.consumerMember[consumerID] = memberID
}

func (idx *entityIndex) trackMember(memberID, roomID uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.memberRoom[memberID] = roomID
}

func (idx *entityIndex) untrackMember(memberID uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.memberRoom, memberID)
}

func (idx *entityIndex) memberRoomOf(memberID uint64) (uint64, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	roomID, ok := idx.memberRoom[memberID]
	return roomID, ok
}

func (idx *entityIndex) untrackProducer(producerID uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.producerRoom, producerID)
	delete(idx.producerMember, producerID)
}

func (idx *entityIndex) untrackConsumer(consumerID uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.consumerRoom, consumerID)
	delete(idx.consumerMember, consumerID)
}

func (idx *entityIndex) producer(id uint64) (room uint64, member uint64, ok bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	room, ok = idx.producerRoom[id]
	member = idx.producerMember[id]
	return
}

func (idx *entityIndex) consumer(id uint64) (room uint64, member uint64, ok bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	room, ok = idx.consumerRoom[id]
	member = idx.consumerMember[id]
	return
}

// Dispatcher subscribes to the media graph's event bus and turns the worker
// notifications relevant to a live signaling session into websocket pushes
// through Hub, using the entityIndex to recover which room/member a bare
// producer or consumer id belongs to.
type Dispatcher struct {
	hub *Hub
	idx *entityIndex
}

// NewDispatcher subscribes immediately; call order relative to
// mediagraph.NewGraph's own bus.Subscribe does not matter, since dispatch
// order only matters between the graph's own close cascade and this
// read-only forwarding.
func NewDispatcher(hub *Hub, bus *rpc.EventBus) *Dispatcher {
	d := &Dispatcher{hub: hub, idx: newEntityIndex()}
	bus.Subscribe(d.handle)
	return d
}

// TrackMember, TrackProducer and TrackConsumer record the room/member
// ownership a signaling handler establishes at join/produce/consume time,
// so later bus notifications for these ids can be routed.
func (d *Dispatcher) TrackMember(memberID, roomID uint64) {
	d.idx.trackMember(memberID, roomID)
}

func (d *Dispatcher) TrackProducer(producerID, roomID, memberID uint64) {
	d.idx.trackProducer(producerID, roomID, memberID)
}

func (d *Dispatcher) TrackConsumer(consumerID, roomID, memberID uint64) {
	d.idx.trackConsumer(consumerID, roomID, memberID)
}

func (d *Dispatcher) handle(n rpc.Notification) {
	switch n.Kind {
	case rpc.EventProducerPause, rpc.EventProducerResume:
		roomID, memberID, ok := d.idx.producer(n.TargetID)
		if !ok {
			return
		}
		event := "producer_resumed"
		if n.Kind == rpc.EventProducerPause {
			event = "producer_paused"
		}
		d.hub.BroadcastToRoom(roomID, event, producerEventPayload{ProducerID: wireID32(n.TargetID)}, memberID)
	case rpc.EventProducerClosed:
		roomID, memberID, ok := d.idx.producer(n.TargetID)
		if !ok {
			return
		}
		d.hub.BroadcastToRoom(roomID, "producer_closed", producerEventPayload{ProducerID: wireID32(n.TargetID)}, memberID)
		d.idx.untrackProducer(n.TargetID)
	case rpc.EventConsumerProducerPause, rpc.EventConsumerProducerResume:
		_, memberID, ok := d.idx.consumer(n.TargetID)
		if !ok {
			return
		}
		event := "consumer_resumed"
		if n.Kind == rpc.EventConsumerProducerPause {
			event = "consumer_paused"
		}
		d.hub.SendToMember(memberID, event, consumerEventPayload{ConsumerID: wireID32(n.TargetID)})
	case rpc.EventConsumerClosed:
		_, memberID, ok := d.idx.consumer(n.TargetID)
		if !ok {
			return
		}
		d.hub.SendToMember(memberID, "consumer_closed", consumerEventPayload{ConsumerID: wireID32(n.TargetID)})
		d.idx.untrackConsumer(n.TargetID)
	case rpc.EventRoomMemberLeft:
		roomID, ok := d.idx.memberRoomOf(n.TargetID)
		if !ok {
			return
		}
		d.hub.BroadcastToRoom(roomID, "member_left", memberEventPayload{MemberID: wireID32(n.TargetID)}, 0)
		d.idx.untrackMember(n.TargetID)
	}
}

type producerEventPayload struct {
	ProducerID uint32 `json:"producerId"`
}

type consumerEventPayload struct {
	ConsumerID uint32 `json:"consumerId"`
}

type memberEventPayload struct {
	MemberID uint32 `json:"memberId"`
}

func wireID32(id uint64) uint32 {
	return uint32(id) & 0x7fffffff
}
