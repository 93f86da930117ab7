package mediagraph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/wirow-io/wirow-server-sub001/internal/registry"
	"github.com/wirow-io/wirow-server-sub001/internal/rpc"
	"github.com/wirow-io/wirow-server-sub001/internal/rtpcaps"
)

// Consumer is a transport's forwarding endpoint for one producer's stream.
// It holds a strong ref on its Transport; the Producer reference is tracked
// separately by the producer (for cascade on producer close) without the
// consumer itself holding a structural ref on the producer, since producer
// and consumer close independently in the common case.
type Consumer struct {
	Base           *registry.Base
	Transport      *Transport
	Producer       *Producer
	RTPCapabilities rtpcaps.RTPCapabilities
	RTPParameters   rtpcaps.RTPParameters

	mu              sync.Mutex
	paused          bool
	producerPaused  bool
	resumeByProducer bool
	scores          json.RawMessage
	layers          json.RawMessage
	closePending    bool
}

func (c *Consumer) onClose() {
	c.Transport.Router.Worker.Client.Notify(c.Base.Identity, "worker.closeConsumer", nil)
}

type createConsumerResponse struct {
	Type           string          `json:"type"`
	ProducerPaused bool            `json:"producerPaused"`
	Score          json.RawMessage `json:"score,omitempty"`
}

// selectConsumerCodec picks the first consumable codec the consumer's
// capabilities can decode, matching strictly for H.264 (profile-level-id
// compatibility actually matters for decoding) and loosely otherwise.
func selectConsumerCodec(consumable []rtpcaps.Codec, consumerCaps rtpcaps.RTPCapabilities) (*rtpcaps.Codec, error) {
	for i := range consumable {
		codec := &consumable[i]
		if codec.IsRTX() {
			continue
		}
		strict := strings.EqualFold(strings.ToLower(codec.MimeType), "video/h264")
		for j := range consumerCaps.Codecs {
			cap := &consumerCaps.Codecs[j]
			ok, err := rtpcaps.MatchCodecs(codec, cap, strict, false)
			if err != nil {
				return nil, err
			}
			if ok {
				return codec, nil
			}
		}
	}
	return nil, fmt.Errorf("no-matching-codec: consumer capabilities have no codec compatible with this producer")
}

// CreateConsumer negotiates a codec the consumer side can decode and asks
// the worker to create a consumer forwarding producer's stream on
// transport. resumeByProducer, when true, makes the consumer track the
// producer's own pause/resume transitions as its own.
func (g *Graph) CreateConsumer(ctx context.Context, transport *Transport, producer *Producer, consumerCaps rtpcaps.RTPCapabilities, resumeByProducer bool) (*Consumer, error) {
	codec, err := selectConsumerCodec(producer.Consumable.Codecs, consumerCaps)
	if err != nil {
		return nil, err
	}

	rtpParams := rtpcaps.RTPParameters{
		Codecs:           []rtpcaps.Codec{*codec},
		HeaderExtensions: producer.Consumable.HeaderExtensions,
		Encodings:        producer.Consumable.Encodings,
		RTCP:             producer.Consumable.RTCP,
	}

	id := g.reg.NextID()
	u := uuid.New()
	identity := registry.Identity{
		RouterID:    transport.Router.Base.ID,
		TransportID: transport.Base.ID,
		ProducerID:  producer.Base.ID,
		ConsumerID:  id,
	}

	reqBody, _ := json.Marshal(struct {
		Kind          rtpcaps.Kind          `json:"kind"`
		RTPParameters rtpcaps.RTPParameters `json:"rtpParameters"`
		Paused        bool                  `json:"paused"`
	}{Kind: codec.Kind(), RTPParameters: rtpParams, Paused: true})

	resp, err := transport.Router.Worker.Client.Call(ctx, identity, "transport.consume", json.RawMessage(reqBody))
	if err != nil {
		return nil, fmt.Errorf("worker create consumer: %w", err)
	}
	var parsed createConsumerResponse
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return nil, fmt.Errorf("worker protocol failure: malformed consumer response: %w", err)
	}

	base := &registry.Base{ID: id, UUID: u, Kind: registry.KindConsumer, Refs: 1, WorkerID: transport.Router.Worker.ID, Identity: identity}
	consumer := &Consumer{
		Base:             base,
		Transport:        transport,
		Producer:         producer,
		RTPCapabilities:  consumerCaps,
		RTPParameters:    rtpParams,
		paused:           true,
		producerPaused:   parsed.ProducerPaused,
		resumeByProducer: resumeByProducer,
		scores:           parsed.Score,
	}
	g.reg.Register(base, consumer)

	transportHandle := registry.Handle{Base: transport.Base}
	g.reg.Ref(transportHandle, 1)
	transport.addConsumer(id)
	producer.addConsumer(id)

	g.mu.Lock()
	g.consumers[id] = consumer
	g.mu.Unlock()

	g.bus.Dispatch(rpc.Notification{Kind: rpc.EventConsumerCreated, WorkerID: transport.Router.Worker.ID, TargetID: id})
	return consumer, nil
}

func (c *Consumer) Pause(ctx context.Context) error {
	if _, err := c.Transport.Router.Worker.Client.Call(ctx, c.Base.Identity, "consumer.pause", nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
	return nil
}

func (c *Consumer) Resume(ctx context.Context) error {
	if _, err := c.Transport.Router.Worker.Client.Call(ctx, c.Base.Identity, "consumer.resume", nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	return nil
}

func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// RequestKeyFrame asks the worker to have this consumer's producer emit a
// keyframe, for a video consumer whose decoder just started or resumed cold.
func (c *Consumer) RequestKeyFrame(ctx context.Context) error {
	_, err := c.Transport.Router.Worker.Client.Call(ctx, c.Base.Identity, "consumer.requestKeyFrame", nil)
	return err
}

// onProducerPauseResume is invoked by the producer-pause/producer-resume
// event handler to keep a resumeByProducer consumer's effective pause
// state aligned with its producer.
func (c *Consumer) onProducerPauseResume(paused bool) {
	c.mu.Lock()
	c.producerPaused = paused
	track := c.resumeByProducer
	c.mu.Unlock()
	if track {
		c.mu.Lock()
		c.paused = paused
		c.mu.Unlock()
	}
}

func (g *Graph) closeConsumer(id uint64) {
	g.mu.Lock()
	consumer, ok := g.consumers[id]
	g.mu.Unlock()
	if !ok {
		return
	}

	consumer.mu.Lock()
	if consumer.closePending {
		consumer.mu.Unlock()
		return
	}
	consumer.closePending = true
	consumer.mu.Unlock()

	g.reg.Close(id)

	consumer.Transport.removeConsumer(id)
	consumer.Producer.removeConsumer(id)

	transportHandle := registry.Handle{Base: consumer.Transport.Base}
	g.reg.Release(transportHandle)

	handle := registry.Handle{Base: consumer.Base}
	g.reg.Release(handle)

	g.mu.Lock()
	delete(g.consumers, id)
	g.mu.Unlock()

	g.bus.Dispatch(rpc.Notification{Kind: rpc.EventConsumerClosed, WorkerID: consumer.Transport.Router.Worker.ID, TargetID: id})
}
