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

// Router owns a worker-side mediasoup-style router: the capability set
// every producer/consumer on it negotiates against, and the parent of every
// transport and observer created on it.
type Router struct {
	Base   *registry.Base
	Worker *Worker
	Caps   rtpcaps.RTPCapabilities

	mu           sync.Mutex
	transports   map[uint64]struct{}
	observers    map[uint64]struct{}
	closePending bool
}

// onClose fires while the registry lock is held, once the router's
// refcount (self plus every child) has reached zero. It tells the worker
// the router is gone; by this point every child has already sent its own
// close command, so the worker side is torn down bottom-up.
func (r *Router) onClose() {
	r.Worker.Client.Notify(registry.Identity{RouterID: r.Base.ID}, "worker.closeRouter", nil)
}

// CreateRouter picks the least-loaded worker, asks it to create a router,
// and builds the router's capabilities from mediaCodecs via
// filterWorkerCapabilities.
func (g *Graph) CreateRouter(ctx context.Context, mediaCodecs []rtpcaps.Codec) (*Router, error) {
	w, err := g.pickWorker()
	if err != nil {
		return nil, err
	}

	caps, err := filterWorkerCapabilities(w, mediaCodecs)
	if err != nil {
		return nil, err
	}

	id := g.reg.NextID()
	u := uuid.New()
	identity := registry.Identity{RouterID: id}

	payload, _ := json.Marshal(struct {
		RouterID string `json:"routerId"`
	}{RouterID: u.String()})
	if _, err := w.Client.Call(ctx, identity, "worker.createRouter", json.RawMessage(payload)); err != nil {
		return nil, fmt.Errorf("worker create router: %w", err)
	}

	base := &registry.Base{ID: id, UUID: u, Kind: registry.KindRouter, Refs: 1, WorkerID: w.ID, Identity: identity}
	router := &Router{
		Base:       base,
		Worker:     w,
		Caps:       caps,
		transports: make(map[uint64]struct{}),
		observers:  make(map[uint64]struct{}),
	}
	g.reg.Register(base, router)

	g.mu.Lock()
	g.routers[id] = router
	g.mu.Unlock()

	g.bus.Dispatch(rpc.Notification{Kind: rpc.EventRouterCreated, WorkerID: w.ID, TargetID: id})
	return router, nil
}

// filterWorkerCapabilities builds a router capability set from the
// caller-supplied media codec preference list alone: each codec gets the
// next dynamic payload type starting at 100, each video codec is followed
// by a video/rtx entry whose apt points at it, and the header extensions
// are a fixed list. w is not read: worker-advertised codecs are not
// consulted, so a codec the worker does not support is not filtered out.
func filterWorkerCapabilities(w *Worker, mediaCodecs []rtpcaps.Codec) (rtpcaps.RTPCapabilities, error) {
	caps := rtpcaps.RTPCapabilities{}
	nextPT := 100
	for _, mc := range mediaCodecs {
		c := mc
		c.PreferredPayloadType = nextPT
		nextPT++
		caps.Codecs = append(caps.Codecs, c)
		if c.Kind() == rtpcaps.KindVideo {
			rtx := rtpcaps.Codec{
				MimeType:             "video/rtx",
				ClockRate:            c.ClockRate,
				PreferredPayloadType: nextPT,
				Parameters:           map[string]interface{}{"apt": c.PreferredPayloadType},
			}
			nextPT++
			caps.Codecs = append(caps.Codecs, rtx)
		}
	}
	caps.HeaderExtensions = []rtpcaps.HeaderExtension{
		{URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1, Kind: rtpcaps.KindAudio, Direction: rtpcaps.DirSendRecv},
		{URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1, Kind: rtpcaps.KindVideo, Direction: rtpcaps.DirSendRecv},
		{URI: "urn:3gpp:video-orientation", PreferredID: 4, Kind: rtpcaps.KindVideo, Direction: rtpcaps.DirSendRecv},
	}
	return caps, nil
}

// addTransport/addObserver/removeTransport/removeObserver track a router's
// children so close can cascade to exactly the set still open.
func (r *Router) addTransport(id uint64) {
	r.mu.Lock()
	r.transports[id] = struct{}{}
	r.mu.Unlock()
}

func (r *Router) removeTransport(id uint64) {
	r.mu.Lock()
	delete(r.transports, id)
	r.mu.Unlock()
}

func (r *Router) addObserver(id uint64) {
	r.mu.Lock()
	r.observers[id] = struct{}{}
	r.mu.Unlock()
}

func (r *Router) removeObserver(id uint64) {
	r.mu.Lock()
	delete(r.observers, id)
	r.mu.Unlock()
}

func (r *Router) childIDs() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uint64, 0, len(r.transports)+len(r.observers))
	for id := range r.transports {
		ids = append(ids, id)
	}
	for id := range r.observers {
		ids = append(ids, id)
	}
	return ids
}

// closeRouter cascades close to every transport and observer, guarded by
// closePending so a re-entrant close triggered by one of its own children
// (which release a ref back onto the router) doesn't re-run the cascade.
func (g *Graph) closeRouter(id uint64) {
	g.mu.Lock()
	router, ok := g.routers[id]
	g.mu.Unlock()
	if !ok {
		return
	}

	router.mu.Lock()
	if router.closePending {
		router.mu.Unlock()
		return
	}
	router.closePending = true
	router.mu.Unlock()

	g.reg.Close(id)

	for _, childID := range router.childIDs() {
		g.Close(childID)
	}

	handle := registry.Handle{Base: router.Base}
	g.reg.Release(handle)

	g.mu.Lock()
	delete(g.routers, id)
	g.mu.Unlock()

	g.bus.Dispatch(rpc.Notification{Kind: rpc.EventRouterClosed, WorkerID: router.Worker.ID, TargetID: id})
}
