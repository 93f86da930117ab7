package mediagraph

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/wirow-io/wirow-server-sub001/internal/registry"
	"github.com/wirow-io/wirow-server-sub001/internal/rpc"
	"github.com/wirow-io/wirow-server-sub001/internal/rtpcaps"
)

// ProducerType is derived from the worker's create-producer response.
type ProducerType string

const (
	ProducerSimple    ProducerType = "simple"
	ProducerSimulcast ProducerType = "simulcast"
	ProducerSVC       ProducerType = "svc"
)

// TraceEvent is one bit of the enable-trace-events bitset.
type TraceEvent int

const (
	TraceRTP TraceEvent = 1 << iota
	TraceKeyframe
	TraceNACK
	TracePLI
	TraceFIR
)

// Producer is a transport's media source. Its consumable_rtp_parameters are
// computed exactly once at creation and never mutated afterward.
type Producer struct {
	Base      *registry.Base
	Transport *Transport
	Kind      rtpcaps.Kind
	Type      ProducerType

	RTPParameters   rtpcaps.RTPParameters
	Consumable      rtpcaps.ConsumableRTPParameters

	bus          *rpc.EventBus
	mu           sync.Mutex
	paused       bool
	trace        TraceEvent
	export       *Export
	consumers    map[uint64]struct{}
	closePending bool
}

func (p *Producer) onClose() {
	p.Transport.Router.Worker.Client.Notify(p.Base.Identity, "worker.closeProducer", nil)
}

type createProducerResponse struct {
	Type string `json:"type"`
}

// CreateProducer validates the offered rtp_parameters, derives the
// transport-wide cname, synthesizes consumable parameters against the
// router's capabilities, and asks the worker to create the producer.
func (g *Graph) CreateProducer(ctx context.Context, transport *Transport, kind rtpcaps.Kind, params rtpcaps.RTPParameters) (*Producer, error) {
	if err := rtpcaps.Validate(&params); err != nil {
		return nil, err
	}

	cname := transport.cnameForProducer(params.RTCP.CNAME)
	params.RTCP.CNAME = cname

	mapping, err := rtpcaps.GetProducerRTPParametersMapping(&params, &transport.Router.Caps)
	if err != nil {
		return nil, err
	}
	consumable, err := rtpcaps.GetConsumableRTPParameters(&params, &transport.Router.Caps, mapping, kind)
	if err != nil {
		return nil, err
	}

	id := g.reg.NextID()
	u := uuid.New()
	identity := registry.Identity{RouterID: transport.Router.Base.ID, TransportID: transport.Base.ID, ProducerID: id}

	reqBody, _ := json.Marshal(struct {
		Kind          rtpcaps.Kind             `json:"kind"`
		RTPParameters rtpcaps.RTPParameters    `json:"rtpParameters"`
		RTPMapping    rtpcaps.RTPMapping       `json:"rtpMapping"`
	}{Kind: kind, RTPParameters: params, RTPMapping: mapping})

	resp, err := transport.Router.Worker.Client.Call(ctx, identity, "transport.produce", json.RawMessage(reqBody))
	if err != nil {
		return nil, fmt.Errorf("worker create producer: %w", err)
	}
	var parsed createProducerResponse
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return nil, fmt.Errorf("worker protocol failure: malformed producer response: %w", err)
	}
	var producerType ProducerType
	switch parsed.Type {
	case string(ProducerSimple), string(ProducerSimulcast), string(ProducerSVC):
		producerType = ProducerType(parsed.Type)
	default:
		return nil, fmt.Errorf("worker protocol failure: unknown producer type %q", parsed.Type)
	}

	base := &registry.Base{ID: id, UUID: u, Kind: registry.KindProducer, Refs: 1, WorkerID: transport.Router.Worker.ID, Identity: identity}
	producer := &Producer{
		Base:          base,
		Transport:     transport,
		Kind:          kind,
		Type:          producerType,
		RTPParameters: params,
		Consumable:    consumable,
		bus:           g.bus,
		consumers:     make(map[uint64]struct{}),
	}
	g.reg.Register(base, producer)

	transportHandle := registry.Handle{Base: transport.Base}
	g.reg.Ref(transportHandle, 1)
	transport.addProducer(id)

	g.mu.Lock()
	g.producers[id] = producer
	g.mu.Unlock()

	g.bus.Dispatch(rpc.Notification{Kind: rpc.EventProducerCreated, WorkerID: transport.Router.Worker.ID, TargetID: id})
	return producer, nil
}

// Paused reports the producer's locally cached pause state, read under p.mu.
func (p *Producer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Producer) Pause(ctx context.Context) error {
	if _, err := p.Transport.Router.Worker.Client.Call(ctx, p.Base.Identity, "producer.pause", nil); err != nil {
		return err
	}
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
	p.bus.Dispatch(rpc.Notification{Kind: rpc.EventProducerPause, WorkerID: p.Transport.Router.Worker.ID, TargetID: p.Base.ID})
	return nil
}

func (p *Producer) Resume(ctx context.Context) error {
	if _, err := p.Transport.Router.Worker.Client.Call(ctx, p.Base.Identity, "producer.resume", nil); err != nil {
		return err
	}
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	p.bus.Dispatch(rpc.Notification{Kind: rpc.EventProducerResume, WorkerID: p.Transport.Router.Worker.ID, TargetID: p.Base.ID})
	return nil
}

// EnableTraceEvents asks the worker to start emitting trace frames for the
// given bitset of event types.
func (p *Producer) EnableTraceEvents(ctx context.Context, events TraceEvent) error {
	var types []string
	if events&TraceRTP != 0 {
		types = append(types, "rtp")
	}
	if events&TraceKeyframe != 0 {
		types = append(types, "keyframe")
	}
	if events&TraceNACK != 0 {
		types = append(types, "nack")
	}
	if events&TracePLI != 0 {
		types = append(types, "pli")
	}
	if events&TraceFIR != 0 {
		types = append(types, "fir")
	}
	data, _ := json.Marshal(struct {
		Types []string `json:"types"`
	}{Types: types})
	_, err := p.Transport.Router.Worker.Client.Call(ctx, p.Base.Identity, "producer.enableTraceEvent", json.RawMessage(data))
	if err == nil {
		p.mu.Lock()
		p.trace = events
		p.mu.Unlock()
	}
	return err
}

func (p *Producer) setExport(e *Export) {
	p.mu.Lock()
	p.export = e
	p.mu.Unlock()
}

func (p *Producer) getExport() *Export {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.export
}

func (p *Producer) addConsumer(id uint64) {
	p.mu.Lock()
	p.consumers[id] = struct{}{}
	p.mu.Unlock()
}

func (p *Producer) removeConsumer(id uint64) {
	p.mu.Lock()
	delete(p.consumers, id)
	p.mu.Unlock()
}

func (p *Producer) childIDs() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]uint64, 0, len(p.consumers))
	for id := range p.consumers {
		ids = append(ids, id)
	}
	return ids
}

func (g *Graph) closeProducer(id uint64) {
	g.mu.Lock()
	producer, ok := g.producers[id]
	g.mu.Unlock()
	if !ok {
		return
	}

	producer.mu.Lock()
	if producer.closePending {
		producer.mu.Unlock()
		return
	}
	producer.closePending = true
	export := producer.export
	producer.mu.Unlock()

	g.reg.Close(id)

	for _, childID := range producer.childIDs() {
		g.Close(childID)
	}
	if export != nil {
		g.closeExport(export.Base.ID)
	}

	producer.Transport.removeProducer(id)
	transportHandle := registry.Handle{Base: producer.Transport.Base}
	g.reg.Release(transportHandle)

	handle := registry.Handle{Base: producer.Base}
	g.reg.Release(handle)

	g.mu.Lock()
	delete(g.producers, id)
	g.mu.Unlock()

	g.bus.Dispatch(rpc.Notification{Kind: rpc.EventProducerClosed, WorkerID: producer.Transport.Router.Worker.ID, TargetID: id})
}
