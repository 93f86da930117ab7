// Package mediagraph implements the entity protocols every conferencing
// session is built from: routers, transports, producers, consumers,
// observers, rooms and members. It is the aggregate that wires
// internal/registry (resource lifetime), internal/rpc (worker commands and
// events) and internal/rtpcaps (codec negotiation) into the operations a
// signaling layer actually calls.
package mediagraph

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/wirow-io/wirow-server-sub001/internal/registry"
	"github.com/wirow-io/wirow-server-sub001/internal/rpc"
)

// Worker bundles one subprocess connection's RPC client with its running
// load score. The load score itself lives on the registry (incremented via
// the LoadScoreFunc callback); Worker only needs to read it back to pick
// the least-loaded worker at router-creation time.
type Worker struct {
	ID     uint64
	Client *rpc.Client
	Caps   RTPCapabilitiesProbe

	mu   sync.Mutex
	load int
}

// RTPCapabilitiesProbe is the worker's raw advertised codec/header-extension
// set, reported once at worker startup and used to compute each router's
// filtered capabilities.
type RTPCapabilitiesProbe struct {
	Codecs           []map[string]interface{}
	HeaderExtensions []map[string]interface{}
}

func (w *Worker) adjustLoad(delta int) {
	w.mu.Lock()
	w.load += delta
	w.mu.Unlock()
}

func (w *Worker) loadScore() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.load
}

// Graph is the aggregate root: one registry, one worker pool, one event
// bus. Its methods are the entry points a signaling handler calls; internal
// cascade/close logic lives on each entity type in this package.
type Graph struct {
	reg *registry.Registry
	bus *rpc.EventBus
	log *zap.Logger

	mu      sync.Mutex
	workers map[uint64]*Worker

	roomCreateMu sync.Mutex

	routers    map[uint64]*Router
	transports map[uint64]*Transport
	producers  map[uint64]*Producer
	consumers  map[uint64]*Consumer
	observers  map[uint64]*Observer
	rooms      map[uint64]*Room
	roomsByCID map[string]*Room
	members    map[uint64]*Member
	exports    map[uint64]*Export
}

func NewGraph(reg *registry.Registry, bus *rpc.EventBus, log *zap.Logger) *Graph {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Graph{
		reg:        reg,
		bus:        bus,
		log:        log,
		workers:    make(map[uint64]*Worker),
		routers:    make(map[uint64]*Router),
		transports: make(map[uint64]*Transport),
		producers:  make(map[uint64]*Producer),
		consumers:  make(map[uint64]*Consumer),
		observers:  make(map[uint64]*Observer),
		rooms:      make(map[uint64]*Room),
		roomsByCID: make(map[string]*Room),
		members:    make(map[uint64]*Member),
		exports:    make(map[uint64]*Export),
	}
	reg.SetLoadScoreFunc(g.adjustWorkerLoad)
	bus.Subscribe(g.handleEvent)
	return g
}

func (g *Graph) adjustWorkerLoad(workerID uint64, delta int) {
	g.mu.Lock()
	w := g.workers[workerID]
	g.mu.Unlock()
	if w != nil {
		w.adjustLoad(delta)
	}
}

// AddWorker registers a live worker connection in the pool so future
// resource placement can pick it.
func (g *Graph) AddWorker(w *Worker) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.workers[w.ID] = w
}

// RemoveWorker drops a worker from the pool, e.g. after it has exited. It
// does not close the worker's resources; that cascade is driven by the
// worker adapter's closed-handler calling CloseWorkerResources.
func (g *Graph) RemoveWorker(id uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.workers, id)
}

// CloseWorkerResources runs the close cascade for every router still owned
// by a worker that has gone away: each Close(routerID) tears down its full
// transport/producer/consumer/observer subtree the same way an explicit
// room-close would, since the subprocess that owned them can no longer be
// asked to do it itself. Call this before RemoveWorker so in-flight lookups
// still resolve the worker while its resources are being torn down.
func (g *Graph) CloseWorkerResources(workerID uint64) {
	g.bus.Dispatch(rpc.Notification{Kind: rpc.EventWorkerShutdown, WorkerID: workerID})
	for _, id := range g.reg.RouterIDsByWorker(workerID) {
		g.Close(id)
	}
	g.RemoveWorker(workerID)
}

// pickWorker selects the pool's least-loaded worker. Supplemented beyond
// the original load-score bookkeeping (which only tracked the number so an
// operator dashboard could display it): this is the one place that number
// is actually consulted to make a placement decision, across every worker
// currently registered rather than a fixed shard.
func (g *Graph) pickWorker() (*Worker, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var best *Worker
	bestLoad := 0
	for _, w := range g.workers {
		l := w.loadScore()
		if best == nil || l < bestLoad {
			best = w
			bestLoad = l
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no workers available")
	}
	return best, nil
}

func (g *Graph) workerByID(id uint64) (*Worker, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.workers[id]
	return w, ok
}

// Bus returns the event bus, for callers (e.g. a recording controller) that
// need to observe notifications alongside the graph's own close cascade.
func (g *Graph) Bus() *rpc.EventBus { return g.bus }

// propagateProducerPause mirrors a producer's pause/resume transition onto
// every consumer created with resumeByProducer=true, republishes it as a
// consumer-scoped event for bus observers (internal/signaling forwards it
// to the consumer's member), and calls the producer's export
// OnPause/OnResume hook directly.
func (g *Graph) propagateProducerPause(producerID uint64, paused bool) {
	g.mu.Lock()
	producer, ok := g.producers[producerID]
	g.mu.Unlock()
	if !ok {
		return
	}
	kind := rpc.EventConsumerProducerResume
	if paused {
		kind = rpc.EventConsumerProducerPause
	}
	for _, cid := range producer.childIDs() {
		g.mu.Lock()
		consumer, ok := g.consumers[cid]
		g.mu.Unlock()
		if !ok {
			continue
		}
		consumer.onProducerPauseResume(paused)
		g.bus.Dispatch(rpc.Notification{Kind: kind, WorkerID: consumer.Transport.Router.Worker.ID, TargetID: cid})
	}

	if export := producer.getExport(); export != nil {
		hooks := export.Hooks()
		if paused {
			if hooks.OnPause != nil {
				hooks.OnPause(export)
			}
		} else if hooks.OnResume != nil {
			hooks.OnResume(export)
		}
	}
}

// handleEvent is the registry-close handler subscribed last on the event
// bus (installed by NewGraph's call to bus.Subscribe, which must run after
// every application-level Subscribe call a caller makes). Event kinds that
// map to resource disposal trigger Close on the numeric id the resolver
// attached to the notification.
func (g *Graph) handleEvent(n rpc.Notification) {
	switch n.Kind {
	case rpc.EventRouterClosed, rpc.EventTransportClosed, rpc.EventProducerClosed, rpc.EventConsumerClosed:
		if n.TargetID != 0 {
			g.Close(n.TargetID)
		}
	case rpc.EventProducerPause, rpc.EventProducerResume:
		if n.TargetID != 0 {
			g.propagateProducerPause(n.TargetID, n.Kind == rpc.EventProducerPause)
		}
	}
}

// Close closes a resource by numeric id, running its type-specific close
// cascade before releasing the registry's structural reference.
func (g *Graph) Close(id uint64) {
	snap, ok := g.reg.Probe(id)
	if !ok || snap.Closed {
		return
	}
	switch snap.Kind {
	case registry.KindRouter:
		g.closeRouter(id)
	case registry.KindTransportWebRTC, registry.KindTransportPlain, registry.KindTransportDirect, registry.KindTransportPipe:
		g.closeTransport(id)
	case registry.KindProducer, registry.KindProducerData:
		g.closeProducer(id)
	case registry.KindConsumer, registry.KindConsumerData:
		g.closeConsumer(id)
	case registry.KindObserverAudioLevel, registry.KindObserverActiveSpeaker:
		g.closeObserver(id)
	case registry.KindRoom:
		g.closeRoom(id)
	case registry.KindRoomMember:
		g.closeMember(id)
	case registry.KindProducerExport:
		g.closeExport(id)
	}
}

var backgroundCtx = context.Background()
