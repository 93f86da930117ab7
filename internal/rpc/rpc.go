// Package rpc layers a typed request/response/notification protocol over
// the framed ipc.Adapter transport, plus the event bus that fans out worker
// notifications to application handlers.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wirow-io/wirow-server-sub001/internal/registry"
)

// DefaultTimeout is the synchronous RPC timeout.
const DefaultTimeout = 10 * time.Second

var (
	ErrTimeout     = errors.New("rpc-timeout")
	ErrWorkerGone  = errors.New("worker-gone")
	ErrWorkerError = errors.New("worker-returned-error")
)

// Envelope is the worker command protocol's self-describing message: it
// carries id/method/internal/data for requests, id/data-or-error for
// responses, and target-id/event for notifications.
type Envelope struct {
	ID       uint32              `json:"id,omitempty"`
	Method   string              `json:"method,omitempty"`
	Internal registry.Identity   `json:"internal,omitempty"`
	Data     json.RawMessage     `json:"data,omitempty"`
	Error    *WorkerError        `json:"error,omitempty"`
	Event    string              `json:"event,omitempty"`
	TargetID uint64              `json:"targetId,omitempty"`
}

// WorkerError is the shape of an error object returned by the worker.
type WorkerError struct {
	Reason string `json:"reason"`
}

func (e *WorkerError) Error() string { return e.Reason }

// Sender abstracts ipc.Adapter.SendMsg so this package doesn't import ipc
// directly (keeps rpc testable without spawning real subprocesses).
type Sender interface {
	SendMsg(payload []byte)
}

type pendingCall struct {
	done chan struct{}
	data json.RawMessage
	err  error
}

// Client issues typed requests to one worker and classifies inbound frames
// into responses, notifications, and payload frames.
type Client struct {
	workerID uint64
	sender   Sender
	bus      *EventBus
	resolver *UUIDResolver

	mu      sync.Mutex
	nextID  uint32
	pending map[uint32]*pendingCall
	gone    bool

	log *zap.Logger
}

func NewClient(workerID uint64, sender Sender, bus *EventBus, resolver *UUIDResolver, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		workerID: workerID,
		sender:   sender,
		bus:      bus,
		resolver: resolver,
		pending:  make(map[uint32]*pendingCall),
		log:      log,
	}
}

// Call sends a synchronous request and blocks until a matching response
// arrives or ctx/timeout expires. On success, the caller owns data and may
// unmarshal it directly.
func (c *Client) Call(ctx context.Context, identity registry.Identity, method string, data interface{}) (json.RawMessage, error) {
	raw, err := marshalData(data)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.gone {
		c.mu.Unlock()
		return nil, ErrWorkerGone
	}
	c.nextID++
	id := c.nextID
	call := &pendingCall{done: make(chan struct{})}
	c.pending[id] = call
	c.mu.Unlock()

	env := Envelope{ID: id, Method: method, Internal: identity, Data: raw}
	body, err := json.Marshal(env)
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}
	c.sender.SendMsg(body)

	timeoutCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	select {
	case <-call.done:
		return call.data, call.err
	case <-timeoutCtx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ErrTimeout
	}
}

// Notify sends a fire-and-forget command.
func (c *Client) Notify(identity registry.Identity, method string, data interface{}) error {
	raw, err := marshalData(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	gone := c.gone
	c.mu.Unlock()
	if gone {
		return ErrWorkerGone
	}
	env := Envelope{Method: method, Internal: identity, Data: raw}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.sender.SendMsg(body)
	return nil
}

// HandleMsgFrame classifies an inbound message-channel frame into a response
// or a notification.
func (c *Client) HandleMsgFrame(frame []byte) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		c.log.Warn("malformed worker frame", zap.Error(err))
		return
	}
	if env.ID != 0 {
		c.completeCall(env)
		return
	}
	if env.Event != "" {
		c.dispatchNotification(env)
	}
}

func (c *Client) completeCall(env Envelope) {
	c.mu.Lock()
	call, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if env.Error != nil {
		call.err = fmt.Errorf("%w: %s", ErrWorkerError, env.Error.Reason)
	} else {
		call.data = env.Data
	}
	close(call.done)
}

func (c *Client) dispatchNotification(env Envelope) {
	if c.bus == nil {
		return
	}
	targetID := env.TargetID
	if c.resolver != nil {
		if resolved, ok := c.resolver.ResolveFromEnvelope(env); ok {
			targetID = resolved
		}
	}
	c.bus.Dispatch(Notification{
		Kind:     EventKind(env.Event),
		WorkerID: c.workerID,
		TargetID: targetID,
		Data:     env.Data,
	})
}

// WorkerGone wakes every pending RPC with ErrWorkerGone.
func (c *Client) WorkerGone() {
	c.mu.Lock()
	c.gone = true
	pending := c.pending
	c.pending = make(map[uint32]*pendingCall)
	c.mu.Unlock()

	for _, call := range pending {
		call.err = ErrWorkerGone
		close(call.done)
	}
}

func marshalData(data interface{}) (json.RawMessage, error) {
	if data == nil {
		return nil, nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(data)
}
