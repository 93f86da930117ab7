// Package workerpool is the glue between internal/ipc (subprocess framing)
// and internal/mediagraph (the resource graph): it spawns the configured
// number of media worker subprocesses, wires each one's pipes to an
// rpc.Client, and registers the resulting mediagraph.Worker so routers can
// be placed on it.
package workerpool

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/wirow-io/wirow-server-sub001/internal/ipc"
	"github.com/wirow-io/wirow-server-sub001/internal/mediagraph"
	"github.com/wirow-io/wirow-server-sub001/internal/rpc"
)

// Config describes the subprocess pool to spawn.
type Config struct {
	Size         int
	BinaryPath   string
	LogLevel     string
	RTCMinPort   int
	RTCMaxPort   int
	DTLSCertFile string
	DTLSKeyFile  string
}

// Pool owns every spawned worker subprocess for the lifetime of the process.
type Pool struct {
	graph    *mediagraph.Graph
	bus      *rpc.EventBus
	resolver *rpc.UUIDResolver
	log      *zap.Logger

	mu       sync.Mutex
	adapters map[uint64]*ipc.Adapter
}

// Spawn launches cfg.Size worker subprocesses and registers each as a
// mediagraph.Worker in g. If any subprocess fails to start, every subprocess
// already spawned is killed and the first error is returned.
func Spawn(cfg Config, g *mediagraph.Graph, bus *rpc.EventBus, resolver *rpc.UUIDResolver, log *zap.Logger) (*Pool, error) {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pool{
		graph:    g,
		bus:      bus,
		resolver: resolver,
		log:      log,
		adapters: make(map[uint64]*ipc.Adapter),
	}

	for i := 0; i < cfg.Size; i++ {
		workerID := uint64(i + 1)
		if err := p.spawnOne(workerID, cfg); err != nil {
			p.KillAll()
			return nil, fmt.Errorf("spawn worker %d: %w", workerID, err)
		}
	}
	return p, nil
}

// spawnOne starts one subprocess and its rpc.Client. ipc.Spawn starts the
// adapter's read goroutines before it returns, and the client can only be
// built from the adapter it returns, so onMsg and onClosed first wait on
// ready, which is closed once client is built and the worker registered.
func (p *Pool) spawnOne(workerID uint64, cfg Config) error {
	var client *rpc.Client
	ready := make(chan struct{})

	onMsg := func(frame []byte) {
		<-ready
		client.HandleMsgFrame(frame)
	}
	onPayload := func(frame []byte) {
		// No mediagraph consumer of raw payload-channel bytes exists yet
		// (direct-transport data producers are unimplemented); drop.
		p.log.Debug("payload frame dropped, no consumer registered", zap.Uint64("worker_id", workerID), zap.Int("len", len(frame)))
	}
	onClosed := func(err error) {
		<-ready
		p.log.Warn("worker subprocess exited", zap.Uint64("worker_id", workerID), zap.Error(err))
		client.WorkerGone()
		p.graph.CloseWorkerResources(workerID)
		p.mu.Lock()
		delete(p.adapters, workerID)
		p.mu.Unlock()
	}

	spec := ipc.Spec{
		BinaryPath:   cfg.BinaryPath,
		LogLevel:     cfg.LogLevel,
		RTCMinPort:   cfg.RTCMinPort,
		RTCMaxPort:   cfg.RTCMaxPort,
		DTLSCertFile: cfg.DTLSCertFile,
		DTLSKeyFile:  cfg.DTLSKeyFile,
	}

	adapter, err := ipc.Spawn(workerID, spec, onMsg, onPayload, onClosed, p.log)
	if err != nil {
		return err
	}

	client = rpc.NewClient(workerID, adapter, p.bus, p.resolver, p.log)
	p.graph.AddWorker(&mediagraph.Worker{ID: workerID, Client: client})

	p.mu.Lock()
	p.adapters[workerID] = adapter
	p.mu.Unlock()
	close(ready)
	return nil
}

// KillAll terminates every subprocess still running. Used on process
// shutdown; individual worker exits during normal operation are handled by
// each adapter's onClosed callback instead.
func (p *Pool) KillAll() {
	p.mu.Lock()
	adapters := make([]*ipc.Adapter, 0, len(p.adapters))
	for _, a := range p.adapters {
		adapters = append(adapters, a)
	}
	p.mu.Unlock()
	for _, a := range adapters {
		if err := a.Kill(); err != nil {
			p.log.Warn("kill worker subprocess", zap.Error(err))
		}
	}
}

// Size reports the number of subprocesses currently tracked as running.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.adapters)
}
