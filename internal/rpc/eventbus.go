package rpc

import (
	"encoding/json"
	"sync"
)

// EventKind is the stable set of worker notification kinds.
type EventKind string

const (
	EventRouterCreated EventKind = "router-created"
	EventRouterClosed  EventKind = "router-closed"

	EventTransportCreated   EventKind = "transport-created"
	EventTransportUpdated   EventKind = "transport-updated"
	EventTransportClosed    EventKind = "transport-closed"
	EventTransportICE       EventKind = "transport-ice-state-change"
	EventTransportDTLS      EventKind = "transport-dtls-state-change"
	EventTransportSCTP      EventKind = "transport-sctp-state-change"
	EventTransportTuple     EventKind = "transport-tuple-change"

	EventProducerCreated        EventKind = "producer-created"
	EventProducerClosed         EventKind = "producer-closed"
	EventProducerPause          EventKind = "producer-pause"
	EventProducerResume         EventKind = "producer-resume"
	EventProducerVideoOrient    EventKind = "producer-video-orientation"
	EventProducerScore          EventKind = "producer-score"

	EventConsumerCreated       EventKind = "consumer-created"
	EventConsumerClosed        EventKind = "consumer-closed"
	EventConsumerPause         EventKind = "consumer-pause"
	EventConsumerResume        EventKind = "consumer-resume"
	EventConsumerLayersChange  EventKind = "consumer-layers-change"
	EventConsumerProducerPause EventKind = "consumer-producer-pause"
	EventConsumerProducerResume EventKind = "consumer-producer-resume"

	EventObserverPaused   EventKind = "observer-paused"
	EventObserverResumed  EventKind = "observer-resumed"
	EventObserverSilence  EventKind = "observer-silence"
	EventObserverVolumes  EventKind = "observer-volumes"
	EventActiveSpeaker    EventKind = "active-speaker"

	EventRoomCreated        EventKind = "room-created"
	EventRoomClosed         EventKind = "room-closed"
	EventRoomMemberJoin     EventKind = "room-member-join"
	EventRoomMemberLeft     EventKind = "room-member-left"
	EventRoomMemberMute     EventKind = "room-member-mute"
	EventRoomMemberMsg      EventKind = "room-member-msg"
	EventRoomRecordingOn    EventKind = "room-recording-on"
	EventRoomRecordingOff   EventKind = "room-recording-off"
	EventRoomPostprocessed  EventKind = "room-postprocessed"

	// EventWorkerShutdown is a process-internal event (not worker-sourced):
	// fired before any of the worker's owned resources are closed.
	EventWorkerShutdown EventKind = "worker-shutdown"
)

// Notification is one dispatched event.
type Notification struct {
	Kind     EventKind
	WorkerID uint64
	TargetID uint64 // resolved numeric resource id, 0 if unresolved
	Data     json.RawMessage
}

// Handler receives dispatched notifications in registration order.
type Handler func(Notification)

// EventBus keeps a stable ordered list of handlers and dispatches every
// notification to each in turn. The registry/mediagraph close-cascade
// handler must be appended last so application observers see the final
// pre-close state first.
type EventBus struct {
	mu       sync.Mutex
	handlers []Handler
}

func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe appends a handler. Order of Subscribe calls is the dispatch
// order; callers must subscribe the registry-close handler last.
func (b *EventBus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Dispatch invokes every handler in registration order.
func (b *EventBus) Dispatch(n Notification) {
	b.mu.Lock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	for _, h := range handlers {
		h(n)
	}
}
