package mediagraph

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/wirow-io/wirow-server-sub001/internal/registry"
	"github.com/wirow-io/wirow-server-sub001/internal/rpc"
)

// TransportType selects which worker command and spec object a transport's
// creation call uses.
type TransportType int

const (
	TransportWebRTC TransportType = iota
	TransportPlain
	TransportDirect
	TransportPipe
)

func (t TransportType) kind() registry.Kind {
	switch t {
	case TransportWebRTC:
		return registry.KindTransportWebRTC
	case TransportPlain:
		return registry.KindTransportPlain
	case TransportDirect:
		return registry.KindTransportDirect
	default:
		return registry.KindTransportPipe
	}
}

// ListenIP is one entry in a WebRTC transport's ordered listening-IP list.
type ListenIP struct {
	IP          string `json:"ip"`
	AnnouncedIP string `json:"announcedIp,omitempty"`
}

// WebRTCFlags is the bitset of transport-level feature toggles.
type WebRTCFlags struct {
	EnableUDP         bool `json:"enableUdp"`
	PreferUDP         bool `json:"preferUdp"`
	EnableTCP         bool `json:"enableTcp"`
	PreferTCP         bool `json:"preferTcp"`
	EnableSCTP        bool `json:"enableSctp"`
	EnableDataChannel bool `json:"enableDataChannel"`
}

// SCTPParameters describes a transport's SCTP association limits.
type SCTPParameters struct {
	MaxMessageSize int `json:"maxMessageSize"`
	StreamsOS      int `json:"os"`
	StreamsMIS     int `json:"mis"`
}

// WebRTCSpec is the creation spec for a WebRTC transport.
type WebRTCSpec struct {
	ListenIPs           []ListenIP     `json:"listenIps"`
	Flags               WebRTCFlags    `json:"flags"`
	InitialOutgoingBitrate int         `json:"initialAvailableOutgoingBitrate,omitempty"`
	SCTP                SCTPParameters `json:"sctpParameters,omitempty"`
}

// PlainSpec is the creation spec for a Plain transport.
type PlainSpec struct {
	ListenIP         ListenIP `json:"listenIp"`
	NoMux            bool     `json:"noMux,omitempty"`
	Comedia          bool     `json:"comedia,omitempty"`
	EnableSCTP       bool     `json:"enableSctp,omitempty"`
	EnableSRTP       bool     `json:"enableSrtp,omitempty"`
	SRTPCryptoSuite  string   `json:"srtpCryptoSuite,omitempty"`
}

// Transport is a router's child connection endpoint. It holds a strong ref
// on its Router for its entire lifetime and is the parent of every producer
// and consumer created on it.
type Transport struct {
	Base   *registry.Base
	Router *Router
	Type   TransportType

	mu                sync.Mutex
	producers         map[uint64]struct{}
	consumers         map[uint64]struct{}
	cnameForProducers string
	closePending      bool
}

func (t *Transport) onClose() {
	t.Router.Worker.Client.Notify(t.Base.Identity, "worker.closeTransport", nil)
}

// CreateTransport chooses the worker command for the given type and spec,
// registers the resulting transport as a child of router, and takes the
// router's structural reference. The worker's response (ICE/DTLS/SCTP
// parameters the caller relays to the far end) is returned verbatim.
func (g *Graph) CreateTransport(ctx context.Context, router *Router, typ TransportType, spec interface{}) (*Transport, json.RawMessage, error) {
	id := g.reg.NextID()
	u := uuid.New()
	identity := registry.Identity{RouterID: router.Base.ID, TransportID: id}

	method, err := transportCreateMethod(typ)
	if err != nil {
		return nil, nil, err
	}

	data, err := json.Marshal(spec)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal transport spec: %w", err)
	}
	result, err := router.Worker.Client.Call(ctx, identity, method, json.RawMessage(data))
	if err != nil {
		return nil, nil, fmt.Errorf("worker create transport: %w", err)
	}

	base := &registry.Base{ID: id, UUID: u, Kind: typ.kind(), Refs: 1, WorkerID: router.Worker.ID, Identity: identity}
	transport := &Transport{
		Base:      base,
		Router:    router,
		Type:      typ,
		producers: make(map[uint64]struct{}),
		consumers: make(map[uint64]struct{}),
	}
	g.reg.Register(base, transport)

	routerHandle := registry.Handle{Base: router.Base}
	g.reg.Ref(routerHandle, 1)
	router.addTransport(id)

	g.mu.Lock()
	g.transports[id] = transport
	g.mu.Unlock()

	g.bus.Dispatch(rpc.Notification{Kind: rpc.EventTransportCreated, WorkerID: router.Worker.ID, TargetID: id})
	return transport, result, nil
}

func transportCreateMethod(typ TransportType) (string, error) {
	switch typ {
	case TransportWebRTC:
		return "worker.createWebRtcTransport", nil
	case TransportPlain:
		return "worker.createPlainTransport", nil
	case TransportDirect:
		return "worker.createDirectTransport", nil
	case TransportPipe:
		return "worker.createPipeTransport", nil
	default:
		return "", fmt.Errorf("unknown transport type %d", typ)
	}
}

// Connect sends the transport's remote connection parameters (DTLS params
// for WebRTC, ip+port for plain) to the worker.
func (t *Transport) Connect(ctx context.Context, params interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	_, err = t.Router.Worker.Client.Call(ctx, t.Base.Identity, "transport.connect", json.RawMessage(data))
	return err
}

// cnameForProducer returns the transport-wide cname, taking it from the
// first producer to supply one and minting a fresh UUID otherwise.
func (t *Transport) cnameForProducer(fromParams string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cnameForProducers != "" {
		return t.cnameForProducers
	}
	if fromParams != "" {
		t.cnameForProducers = fromParams
		return t.cnameForProducers
	}
	t.cnameForProducers = uuid.New().String()
	return t.cnameForProducers
}

func (t *Transport) addProducer(id uint64) {
	t.mu.Lock()
	t.producers[id] = struct{}{}
	t.mu.Unlock()
}

func (t *Transport) removeProducer(id uint64) {
	t.mu.Lock()
	delete(t.producers, id)
	t.mu.Unlock()
}

func (t *Transport) addConsumer(id uint64) {
	t.mu.Lock()
	t.consumers[id] = struct{}{}
	t.mu.Unlock()
}

func (t *Transport) removeConsumer(id uint64) {
	t.mu.Lock()
	delete(t.consumers, id)
	t.mu.Unlock()
}

func (t *Transport) childIDs() []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]uint64, 0, len(t.producers)+len(t.consumers))
	for id := range t.producers {
		ids = append(ids, id)
	}
	for id := range t.consumers {
		ids = append(ids, id)
	}
	return ids
}

func (g *Graph) closeTransport(id uint64) {
	g.mu.Lock()
	transport, ok := g.transports[id]
	g.mu.Unlock()
	if !ok {
		return
	}

	transport.mu.Lock()
	if transport.closePending {
		transport.mu.Unlock()
		return
	}
	transport.closePending = true
	transport.mu.Unlock()

	g.reg.Close(id)

	for _, childID := range transport.childIDs() {
		g.Close(childID)
	}

	transport.Router.removeTransport(id)
	routerHandle := registry.Handle{Base: transport.Router.Base}
	g.reg.Release(routerHandle)

	handle := registry.Handle{Base: transport.Base}
	g.reg.Release(handle)

	g.mu.Lock()
	delete(g.transports, id)
	g.mu.Unlock()

	g.bus.Dispatch(rpc.Notification{Kind: rpc.EventTransportClosed, WorkerID: transport.Router.Worker.ID, TargetID: id})
}
