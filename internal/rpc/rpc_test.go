package rpc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/wirow-io/wirow-server-sub001/internal/registry"
)

type fakeSender struct {
	sent chan []byte
}

func newFakeSender() *fakeSender { return &fakeSender{sent: make(chan []byte, 8)} }

func (f *fakeSender) SendMsg(payload []byte) { f.sent <- payload }

func TestCallSuccessReturnsData(t *testing.T) {
	sender := newFakeSender()
	c := NewClient(1, sender, NewEventBus(), nil, nil)

	done := make(chan struct{})
	go func() {
		frame := <-sender.sent
		var env Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Error(err)
			return
		}
		resp := Envelope{ID: env.ID, Data: json.RawMessage(`{"ok":true}`)}
		body, _ := json.Marshal(resp)
		c.HandleMsgFrame(body)
		close(done)
	}()

	data, err := c.Call(context.Background(), registry.Identity{RouterID: 1}, "router.create", nil)
	<-done
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Fatalf("unexpected data: %s", data)
	}
}

func TestCallTimeout(t *testing.T) {
	sender := newFakeSender()
	c := NewClient(1, sender, NewEventBus(), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := c.Call(ctx, registry.Identity{}, "slow.method", nil)
	if err != context.DeadlineExceeded && err != ErrTimeout {
		t.Fatalf("expected timeout-class error, got %v", err)
	}
	<-sender.sent
}

func TestCallWorkerErrorPropagates(t *testing.T) {
	sender := newFakeSender()
	c := NewClient(1, sender, NewEventBus(), nil, nil)

	go func() {
		frame := <-sender.sent
		var env Envelope
		json.Unmarshal(frame, &env)
		resp := Envelope{ID: env.ID, Error: &WorkerError{Reason: "invalid-rtp-parameters"}}
		body, _ := json.Marshal(resp)
		c.HandleMsgFrame(body)
	}()

	_, err := c.Call(context.Background(), registry.Identity{}, "transport.produce", nil)
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestWorkerGoneWakesPendingCalls(t *testing.T) {
	sender := newFakeSender()
	c := NewClient(1, sender, NewEventBus(), nil, nil)

	resultCh := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), registry.Identity{}, "router.create", nil)
		resultCh <- err
	}()
	<-sender.sent // ensure the call is registered as pending
	time.Sleep(5 * time.Millisecond)
	c.WorkerGone()

	select {
	case err := <-resultCh:
		if err != ErrWorkerGone {
			t.Fatalf("expected ErrWorkerGone, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for worker-gone wakeup")
	}
}

func TestNotificationDispatchedThroughBus(t *testing.T) {
	sender := newFakeSender()
	bus := NewEventBus()
	var received []EventKind
	bus.Subscribe(func(n Notification) { received = append(received, n.Kind) })

	c := NewClient(1, sender, bus, nil, nil)
	env := Envelope{Event: string(EventProducerPause), TargetID: 42}
	body, _ := json.Marshal(env)
	c.HandleMsgFrame(body)

	if len(received) != 1 || received[0] != EventProducerPause {
		t.Fatalf("expected one producer-pause notification, got %v", received)
	}
}

func TestEventBusOrdering(t *testing.T) {
	bus := NewEventBus()
	var order []int
	bus.Subscribe(func(Notification) { order = append(order, 1) })
	bus.Subscribe(func(Notification) { order = append(order, 2) })
	bus.Subscribe(func(Notification) { order = append(order, 3) })

	bus.Dispatch(Notification{Kind: EventRouterClosed})

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected handlers to run in registration order, got %v", order)
	}
}
