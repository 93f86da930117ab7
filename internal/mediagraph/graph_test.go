package mediagraph

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/wirow-io/wirow-server-sub001/internal/registry"
	"github.com/wirow-io/wirow-server-sub001/internal/rpc"
	"github.com/wirow-io/wirow-server-sub001/internal/rtpcaps"
)

// fakeSender auto-responds to every Call with a canned payload keyed by
// method name, simulating a worker subprocess without spawning one.
type fakeSender struct {
	client    *rpc.Client
	responses map[string]json.RawMessage
}

func (f *fakeSender) SendMsg(payload []byte) {
	var env rpc.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return
	}
	if env.ID == 0 {
		return
	}
	resp := rpc.Envelope{ID: env.ID, Data: f.responses[env.Method]}
	body, _ := json.Marshal(resp)
	go f.client.HandleMsgFrame(body)
}

func newTestGraph(t *testing.T) (*Graph, *Worker) {
	t.Helper()
	reg := registry.New(nil)
	bus := rpc.NewEventBus()
	g := NewGraph(reg, bus, nil)

	sender := &fakeSender{responses: map[string]json.RawMessage{
		"transport.produce": json.RawMessage(`{"type":"simple"}`),
		"transport.consume": json.RawMessage(`{"type":"simple","producerPaused":false}`),
	}}
	client := rpc.NewClient(1, sender, bus, nil, nil)
	sender.client = client

	w := &Worker{ID: 1, Client: client}
	g.AddWorker(w)
	return g, w
}

func opusCodec() rtpcaps.Codec {
	return rtpcaps.Codec{MimeType: "audio/opus", ClockRate: 48000, Channels: 2}
}

func TestCreateRouterFiltersCapabilities(t *testing.T) {
	g, _ := newTestGraph(t)
	router, err := g.CreateRouter(context.Background(), []rtpcaps.Codec{opusCodec()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(router.Caps.Codecs) != 1 {
		t.Fatalf("expected one codec in router caps, got %d", len(router.Caps.Codecs))
	}
}

func TestProducerConsumerCascadeOnTransportClose(t *testing.T) {
	g, _ := newTestGraph(t)
	router, err := g.CreateRouter(context.Background(), []rtpcaps.Codec{opusCodec()})
	if err != nil {
		t.Fatalf("router: %v", err)
	}

	transport, _, err := g.CreateTransport(context.Background(), router, TransportWebRTC, WebRTCSpec{})
	if err != nil {
		t.Fatalf("transport: %v", err)
	}

	producerParams := rtpcaps.RTPParameters{
		Codecs:    []rtpcaps.Codec{{MimeType: "audio/opus", ClockRate: 48000, Channels: 2}},
		Encodings: []rtpcaps.Encoding{{SSRC: 1234}},
	}
	producer, err := g.CreateProducer(context.Background(), transport, rtpcaps.KindAudio, producerParams)
	if err != nil {
		t.Fatalf("producer: %v", err)
	}

	consumerTransport, _, err := g.CreateTransport(context.Background(), router, TransportWebRTC, WebRTCSpec{})
	if err != nil {
		t.Fatalf("consumer transport: %v", err)
	}
	consumer, err := g.CreateConsumer(context.Background(), consumerTransport, producer, rtpcaps.RTPCapabilities{
		Codecs: []rtpcaps.Codec{{MimeType: "audio/opus", ClockRate: 48000, Channels: 2}},
	}, false)
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}

	g.Close(consumerTransport.Base.ID)

	if !consumer.Base.Closed {
		t.Fatalf("expected consumer to be closed after its transport closed")
	}
	if _, ok := g.workerByID(1); !ok {
		t.Fatalf("worker should still be registered")
	}

	g.Close(router.Base.ID)
	if !transport.Base.Closed || !producer.Base.Closed {
		t.Fatalf("expected router close to cascade to transport and producer")
	}
}

func TestRoomMembershipWeakRefs(t *testing.T) {
	g, _ := newTestGraph(t)
	room := g.CreateRoom("room-cid-1")
	member := g.JoinRoom(room, "user-1")

	router, err := g.CreateRouter(context.Background(), []rtpcaps.Codec{opusCodec()})
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	transport, _, err := g.CreateTransport(context.Background(), router, TransportWebRTC, WebRTCSpec{})
	if err != nil {
		t.Fatalf("transport: %v", err)
	}
	producer, err := g.CreateProducer(context.Background(), transport, rtpcaps.KindAudio, rtpcaps.RTPParameters{
		Codecs: []rtpcaps.Codec{{MimeType: "audio/opus", ClockRate: 48000, Channels: 2}},
	})
	if err != nil {
		t.Fatalf("producer: %v", err)
	}
	member.AttachProducer(producer.Base.ID)

	if _, ok := g.ResolveProducer(producer.Base.ID); !ok {
		t.Fatalf("expected weak ref to resolve while producer is alive")
	}

	g.Close(producer.Base.ID)

	if _, ok := g.ResolveProducer(producer.Base.ID); ok {
		t.Fatalf("expected weak ref to report gone after producer closed")
	}
	if len(member.ProducerIDs()) != 1 {
		t.Fatalf("member bookkeeping should be untouched by producer close (weak ref)")
	}
}
