package mediagraph

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/wirow-io/wirow-server-sub001/internal/registry"
	"github.com/wirow-io/wirow-server-sub001/internal/rtpcaps"
)

// ExportHooks are the callbacks a recording controller (internal/recording)
// supplies for an export's lifecycle. mediagraph calls all four: OnStart
// from CreateExport once the export is wired, OnPause/OnResume from
// propagateProducerPause when the producer pauses or resumes, and OnClose
// from closeExport. What each hook does (subprocess start, keyframe
// requests, close-on-pause, etc.) is up to the controller.
type ExportHooks struct {
	OnStart  func(e *Export)
	OnPause  func(e *Export)
	OnResume func(e *Export)
	OnClose  func(e *Export)
}

// Export is the auxiliary plain transport + paused consumer pair a
// recording session attaches to one producer: `rct_producer_export`.
type Export struct {
	Base      *registry.Base
	Producer  *Producer
	Transport *Transport
	Consumer  *Consumer
	Port      int

	mu           sync.Mutex
	closeOnPause bool
	hooks        ExportHooks
	closePending bool
}

func (e *Export) onClose() {}

// CreateExport allocates an auxiliary plain transport on producer's
// router, connects it to itself on an ephemeral loopback port, and creates
// a paused consumer from the producer's first non-RTX consumable codec.
// The caller supplies hooks; CreateExport fires OnStart once everything is
// wired.
func (g *Graph) CreateExport(ctx context.Context, producer *Producer, port int, closeOnPause bool, hooks ExportHooks) (*Export, error) {
	router := producer.Transport.Router

	plainSpec := PlainSpec{
		ListenIP: ListenIP{IP: "127.0.0.1"},
		NoMux:    false,
		Comedia:  false,
	}
	transport, _, err := g.CreateTransport(ctx, router, TransportPlain, plainSpec)
	if err != nil {
		return nil, fmt.Errorf("create export transport: %w", err)
	}
	if err := transport.Connect(ctx, struct {
		IP   string `json:"ip"`
		Port int    `json:"port"`
	}{IP: "127.0.0.1", Port: port}); err != nil {
		return nil, fmt.Errorf("connect export transport to self: %w", err)
	}

	exportCaps, err := firstNonRTXCapabilities(producer)
	if err != nil {
		return nil, err
	}
	consumer, err := g.CreateConsumer(ctx, transport, producer, exportCaps, true)
	if err != nil {
		return nil, fmt.Errorf("create export consumer: %w", err)
	}

	id := g.reg.NextID()
	u := uuid.New()
	base := &registry.Base{ID: id, UUID: u, Kind: registry.KindProducerExport, Refs: 1, WorkerID: router.Worker.ID}
	export := &Export{
		Base:         base,
		Producer:     producer,
		Transport:    transport,
		Consumer:     consumer,
		Port:         port,
		closeOnPause: closeOnPause,
		hooks:        hooks,
	}
	g.reg.Register(base, export)
	producer.setExport(export)

	g.mu.Lock()
	g.exports[id] = export
	g.mu.Unlock()

	if hooks.OnStart != nil {
		hooks.OnStart(export)
	}
	return export, nil
}

// firstNonRTXCapabilities builds a single-codec capability set from the
// producer's first non-RTX consumable codec, so CreateExport can reuse the
// normal consumer codec-negotiation path (selectConsumerCodec matches the
// producer's consumable codecs against this set, strictly for H.264 and
// non-strictly otherwise).
func firstNonRTXCapabilities(producer *Producer) (rtpcaps.RTPCapabilities, error) {
	for _, c := range producer.Consumable.Codecs {
		if !c.IsRTX() {
			return rtpcaps.RTPCapabilities{Codecs: []rtpcaps.Codec{c}}, nil
		}
	}
	return rtpcaps.RTPCapabilities{}, fmt.Errorf("producer has no non-rtx codec to export")
}

func (e *Export) CloseOnPause() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeOnPause
}

// Hooks returns the export's registered lifecycle hooks, for callers outside
// CreateExport/closeExport (e.g. producer-pause propagation) that need to
// fire OnPause/OnResume without duplicating the hook storage.
func (e *Export) Hooks() ExportHooks {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hooks
}

func (g *Graph) closeExport(id uint64) {
	g.mu.Lock()
	export, ok := g.exports[id]
	g.mu.Unlock()
	if !ok {
		return
	}

	export.mu.Lock()
	if export.closePending {
		export.mu.Unlock()
		return
	}
	export.closePending = true
	hooks := export.hooks
	export.mu.Unlock()

	g.reg.Close(id)

	if hooks.OnClose != nil {
		hooks.OnClose(export)
	}

	export.Producer.setExport(nil)
	g.Close(export.Transport.Base.ID)

	handle := registry.Handle{Base: export.Base}
	g.reg.Release(handle)

	g.mu.Lock()
	delete(g.exports, id)
	g.mu.Unlock()
}
