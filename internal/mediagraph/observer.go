package mediagraph

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/wirow-io/wirow-server-sub001/internal/registry"
)

// ObserverKind selects between the two RTP observer flavors that share one
// lifecycle: audio-level (silence/volumes events) and active-speaker.
type ObserverKind int

const (
	ObserverAudioLevel ObserverKind = iota
	ObserverActiveSpeaker
)

func (k ObserverKind) registryKind() registry.Kind {
	if k == ObserverActiveSpeaker {
		return registry.KindObserverActiveSpeaker
	}
	return registry.KindObserverAudioLevel
}

const defaultObserverIntervalMs = 300

// Observer is a router-level RTP observer.
type Observer struct {
	Base   *registry.Base
	Router *Router
	Kind   ObserverKind

	mu           sync.Mutex
	paused       bool
	closePending bool
}

func (o *Observer) onClose() {
	method := "worker.closeAudioLevelObserver"
	if o.Kind == ObserverActiveSpeaker {
		method = "worker.closeActiveSpeakerObserver"
	}
	o.Router.Worker.Client.Notify(o.Base.Identity, method, nil)
}

// CreateObserver creates an audio-level or active-speaker observer on
// router. intervalMs of 0 takes the 300ms default.
func (g *Graph) CreateObserver(ctx context.Context, router *Router, kind ObserverKind, intervalMs int) (*Observer, error) {
	if intervalMs == 0 {
		intervalMs = defaultObserverIntervalMs
	}

	id := g.reg.NextID()
	u := uuid.New()
	identity := registry.Identity{RouterID: router.Base.ID, RTPObserverID: id}

	method, err := observerCreateMethod(kind)
	if err != nil {
		return nil, err
	}
	data, _ := json.Marshal(struct {
		Interval int `json:"interval"`
	}{Interval: intervalMs})
	if _, err := router.Worker.Client.Call(ctx, identity, method, json.RawMessage(data)); err != nil {
		return nil, fmt.Errorf("worker create observer: %w", err)
	}

	base := &registry.Base{ID: id, UUID: u, Kind: kind.registryKind(), Refs: 1, WorkerID: router.Worker.ID, Identity: identity}
	observer := &Observer{Base: base, Router: router, Kind: kind}
	g.reg.Register(base, observer)

	routerHandle := registry.Handle{Base: router.Base}
	g.reg.Ref(routerHandle, 1)
	router.addObserver(id)

	g.mu.Lock()
	g.observers[id] = observer
	g.mu.Unlock()

	return observer, nil
}

func observerCreateMethod(kind ObserverKind) (string, error) {
	switch kind {
	case ObserverAudioLevel:
		return "worker.createAudioLevelObserver", nil
	case ObserverActiveSpeaker:
		return "worker.createActiveSpeakerObserver", nil
	default:
		return "", fmt.Errorf("unknown observer kind %d", kind)
	}
}

func (o *Observer) Pause(ctx context.Context) error {
	method := "audioLevelObserver.pause"
	if o.Kind == ObserverActiveSpeaker {
		method = "activeSpeakerObserver.pause"
	}
	if _, err := o.Router.Worker.Client.Call(ctx, o.Base.Identity, method, nil); err != nil {
		return err
	}
	o.mu.Lock()
	o.paused = true
	o.mu.Unlock()
	return nil
}

func (o *Observer) Resume(ctx context.Context) error {
	method := "audioLevelObserver.resume"
	if o.Kind == ObserverActiveSpeaker {
		method = "activeSpeakerObserver.resume"
	}
	if _, err := o.Router.Worker.Client.Call(ctx, o.Base.Identity, method, nil); err != nil {
		return err
	}
	o.mu.Lock()
	o.paused = false
	o.mu.Unlock()
	return nil
}

func (g *Graph) closeObserver(id uint64) {
	g.mu.Lock()
	observer, ok := g.observers[id]
	g.mu.Unlock()
	if !ok {
		return
	}

	observer.mu.Lock()
	if observer.closePending {
		observer.mu.Unlock()
		return
	}
	observer.closePending = true
	observer.mu.Unlock()

	g.reg.Close(id)

	observer.Router.removeObserver(id)
	routerHandle := registry.Handle{Base: observer.Router.Base}
	g.reg.Release(routerHandle)

	handle := registry.Handle{Base: observer.Base}
	g.reg.Release(handle)

	g.mu.Lock()
	delete(g.observers, id)
	g.mu.Unlock()
}
