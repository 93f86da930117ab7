// Package registry implements the reference-counted resource graph shared by
// every router, transport, producer, consumer, observer, room and export in
// the conferencing core. It is the single source of truth for resource
// lifetime: callers never hold a *Resource across a lock boundary, they hold
// a Handle obtained under lock and release it explicitly.
package registry

import "github.com/google/uuid"

// Kind is the closed enumeration of resource types.
type Kind int

const (
	KindRouter Kind = iota
	KindTransportWebRTC
	KindTransportPlain
	KindTransportDirect
	KindTransportPipe
	KindProducer
	KindProducerData
	KindConsumer
	KindConsumerData
	KindObserverAudioLevel
	KindObserverActiveSpeaker
	KindRoom
	KindRoomMember
	KindProducerExport
	KindWorkerAdapter
)

func (k Kind) String() string {
	switch k {
	case KindRouter:
		return "router"
	case KindTransportWebRTC:
		return "transport-webrtc"
	case KindTransportPlain:
		return "transport-plain"
	case KindTransportDirect:
		return "transport-direct"
	case KindTransportPipe:
		return "transport-pipe"
	case KindProducer:
		return "producer"
	case KindProducerData:
		return "producer-data"
	case KindConsumer:
		return "consumer"
	case KindConsumerData:
		return "consumer-data"
	case KindObserverAudioLevel:
		return "observer-audio-level"
	case KindObserverActiveSpeaker:
		return "observer-active-speaker"
	case KindRoom:
		return "room"
	case KindRoomMember:
		return "room-member"
	case KindProducerExport:
		return "producer-export"
	case KindWorkerAdapter:
		return "worker-adapter"
	default:
		return "unknown"
	}
}

// KindMask is a bitset over Kind used by lookup calls that accept more than
// one acceptable type (e.g. "producer or producer-data").
type KindMask uint32

func MaskOf(kinds ...Kind) KindMask {
	var m KindMask
	for _, k := range kinds {
		m |= 1 << uint(k)
	}
	return m
}

func (m KindMask) Has(k Kind) bool {
	return m&(1<<uint(k)) != 0
}

// AnyKind matches every resource kind.
const AnyKind KindMask = ^KindMask(0)

// Identity is the opaque routing key embedded in worker commands. Which
// fields are populated depends on the owning resource's kind.
type Identity struct {
	RouterID       uint64 `json:"routerId,omitempty"`
	TransportID    uint64 `json:"transportId,omitempty"`
	ProducerID     uint64 `json:"producerId,omitempty"`
	ConsumerID     uint64 `json:"consumerId,omitempty"`
	RTPObserverID  uint64 `json:"rtpObserverId,omitempty"`
}

// Closer is implemented by every resource kind's controller so the registry
// can dispatch disposal polymorphically.
type Closer interface {
	// onClose runs while the registry lock is still held.
	// It must not call back into the registry.
	onClose()
}

// Base is held by every resource struct (as its Base *registry.Base field)
// and carries the fields common to all resources.
type Base struct {
	ID       uint64 // low 31 bits are the wire-visible id; see SPEC_FULL.md open-question decision
	UUID     uuid.UUID
	Kind     Kind
	Refs     int
	WorkerID uint64
	Closed   bool
	Identity Identity

	closer Closer
}

// WireID returns the 31-bit id exposed to workers and clients.
func (b *Base) WireID() uint32 {
	return uint32(b.ID) & 0x7fffffff
}

// Snapshot is the value returned by Probe: a copy of Base with no pointers
// back into registry storage.
type Snapshot struct {
	ID       uint64
	UUID     uuid.UUID
	Kind     Kind
	Refs     int
	WorkerID uint64
	Closed   bool
	Identity Identity
}
