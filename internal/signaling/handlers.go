package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wirow-io/wirow-server-sub001/internal/mediagraph"
	"github.com/wirow-io/wirow-server-sub001/internal/rtpcaps"
)

type joinedPayload struct {
	MemberID              uint32                  `json:"memberId"`
	RouterRTPCapabilities rtpcaps.RTPCapabilities `json:"routerRtpCapabilities"`
}

// dispatch routes one inbound WSMessage to its handler. Every handler
// replies on the same reqId, "<event>_ok" on success or "error" on failure,
// except start_recording and stop_recording: on success they reply nothing
// and broadcast recording_started/recording_stopped to the whole room.
func (c *Client) dispatch(msg WSMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var err error
	switch msg.Event {
	case "create_transport":
		err = c.handleCreateTransport(ctx, msg)
	case "connect_transport":
		err = c.handleConnectTransport(ctx, msg)
	case "produce":
		err = c.handleProduce(ctx, msg)
	case "consume":
		err = c.handleConsume(ctx, msg)
	case "pause_producer":
		err = c.handlePauseProducer(ctx, msg)
	case "resume_producer":
		err = c.handleResumeProducer(ctx, msg)
	case "pause_consumer":
		err = c.handlePauseConsumer(ctx, msg)
	case "resume_consumer":
		err = c.handleResumeConsumer(ctx, msg)
	case "mute":
		err = c.handleMute(msg)
	case "start_recording":
		err = c.handleStartRecording(ctx)
	case "stop_recording":
		err = c.handleStopRecording()
	default:
		err = fmt.Errorf("unknown event %q", msg.Event)
	}
	if err != nil {
		c.log.Debug("signaling request failed", zap.String("event", msg.Event), zap.Error(err))
		c.replyError(msg.ReqID, err)
	}
}

const requestTimeout = 10 * time.Second

type transportDirection string

const (
	directionSend transportDirection = "send"
	directionRecv transportDirection = "recv"
)

type createTransportRequest struct {
	Direction transportDirection `json:"direction"`
}

type createTransportResponse struct {
	TransportID uint32          `json:"transportId"`
	Params      json.RawMessage `json:"params"`
}

func (c *Client) handleCreateTransport(ctx context.Context, msg WSMessage) error {
	var req createTransportRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		return fmt.Errorf("invalid create_transport payload: %w", err)
	}
	if req.Direction != directionSend && req.Direction != directionRecv {
		return fmt.Errorf("direction must be %q or %q", directionSend, directionRecv)
	}

	spec := mediagraph.WebRTCSpec{
		ListenIPs: []mediagraph.ListenIP{{IP: "0.0.0.0"}},
		Flags: mediagraph.WebRTCFlags{
			EnableUDP:  true,
			PreferUDP:  true,
			EnableTCP:  true,
			EnableSCTP: req.Direction == directionSend,
		},
	}
	transport, params, err := c.graph.CreateTransport(ctx, c.router, mediagraph.TransportWebRTC, spec)
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}

	wireID := wireID32(transport.Base.ID)
	c.transports[wireID] = transport
	c.reply(msg.ReqID, "create_transport_ok", createTransportResponse{TransportID: wireID, Params: params})
	return nil
}

type connectTransportRequest struct {
	TransportID uint32          `json:"transportId"`
	DTLSParams  json.RawMessage `json:"dtlsParameters"`
}

func (c *Client) handleConnectTransport(ctx context.Context, msg WSMessage) error {
	var req connectTransportRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		return fmt.Errorf("invalid connect_transport payload: %w", err)
	}
	transport, ok := c.transports[req.TransportID]
	if !ok {
		return fmt.Errorf("unknown transport %d", req.TransportID)
	}
	if err := transport.Connect(ctx, req.DTLSParams); err != nil {
		return fmt.Errorf("connect transport: %w", err)
	}
	c.reply(msg.ReqID, "connect_transport_ok", struct{}{})
	return nil
}

type produceRequest struct {
	TransportID   uint32                `json:"transportId"`
	Kind          rtpcaps.Kind          `json:"kind"`
	RTPParameters rtpcaps.RTPParameters `json:"rtpParameters"`
}

type produceResponse struct {
	ProducerID uint32 `json:"producerId"`
}

func (c *Client) handleProduce(ctx context.Context, msg WSMessage) error {
	var req produceRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		return fmt.Errorf("invalid produce payload: %w", err)
	}
	transport, ok := c.transports[req.TransportID]
	if !ok {
		return fmt.Errorf("unknown transport %d", req.TransportID)
	}

	producer, err := c.graph.CreateProducer(ctx, transport, req.Kind, req.RTPParameters)
	if err != nil {
		return fmt.Errorf("create producer: %w", err)
	}

	wireID := wireID32(producer.Base.ID)
	c.producers[wireID] = producer
	c.member.AttachProducer(producer.Base.ID)
	c.dsp.TrackProducer(producer.Base.ID, c.room.Base.ID, c.member.Base.ID)
	c.reply(msg.ReqID, "produce_ok", produceResponse{ProducerID: wireID})

	c.hub.BroadcastToRoom(c.room.Base.ID, "new_producer", newProducerPayload{
		MemberID:   wireID32(c.member.Base.ID),
		ProducerID: wireID,
		Kind:       req.Kind,
	}, c.member.Base.ID)

	if c.rec != nil {
		c.rec.OnProducerReady(ctx, c.room, producer, c.userID)
	}
	return nil
}

type newProducerPayload struct {
	MemberID   uint32       `json:"memberId"`
	ProducerID uint32       `json:"producerId"`
	Kind       rtpcaps.Kind `json:"kind"`
}

type consumeRequest struct {
	TransportID  uint32                  `json:"transportId"`
	ProducerID   uint32                  `json:"producerId"`
	Capabilities rtpcaps.RTPCapabilities `json:"rtpCapabilities"`
}

type consumeResponse struct {
	ConsumerID     uint32                `json:"consumerId"`
	ProducerID     uint32                `json:"producerId"`
	Kind           rtpcaps.Kind          `json:"kind"`
	RTPParameters  rtpcaps.RTPParameters `json:"rtpParameters"`
	ProducerPaused bool                  `json:"producerPaused"`
}

func (c *Client) handleConsume(ctx context.Context, msg WSMessage) error {
	var req consumeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		return fmt.Errorf("invalid consume payload: %w", err)
	}
	transport, ok := c.transports[req.TransportID]
	if !ok {
		return fmt.Errorf("unknown transport %d", req.TransportID)
	}
	producer, ok := c.graph.ResolveProducer(uint64(req.ProducerID))
	if !ok {
		return fmt.Errorf("producer %d no longer available", req.ProducerID)
	}

	consumer, err := c.graph.CreateConsumer(ctx, transport, producer, req.Capabilities, false)
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	wireID := wireID32(consumer.Base.ID)
	c.consumers[wireID] = consumer
	c.member.AttachConsumer(consumer.Base.ID)
	c.dsp.TrackConsumer(consumer.Base.ID, c.room.Base.ID, c.member.Base.ID)

	c.reply(msg.ReqID, "consume_ok", consumeResponse{
		ConsumerID:     wireID,
		ProducerID:     req.ProducerID,
		Kind:           consumer.RTPParameters.Codecs[0].Kind(),
		RTPParameters:  consumer.RTPParameters,
		ProducerPaused: producer.Paused(),
	})
	return nil
}

type producerIDRequest struct {
	ProducerID uint32 `json:"producerId"`
}

func (c *Client) handlePauseProducer(ctx context.Context, msg WSMessage) error {
	var req producerIDRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	producer, ok := c.producers[req.ProducerID]
	if !ok {
		return fmt.Errorf("unknown producer %d", req.ProducerID)
	}
	if err := producer.Pause(ctx); err != nil {
		return err
	}
	c.reply(msg.ReqID, "pause_producer_ok", struct{}{})
	return nil
}

func (c *Client) handleResumeProducer(ctx context.Context, msg WSMessage) error {
	var req producerIDRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	producer, ok := c.producers[req.ProducerID]
	if !ok {
		return fmt.Errorf("unknown producer %d", req.ProducerID)
	}
	if err := producer.Resume(ctx); err != nil {
		return err
	}
	c.reply(msg.ReqID, "resume_producer_ok", struct{}{})
	if c.rec != nil {
		c.rec.OnProducerReady(ctx, c.room, producer, c.userID)
	}
	return nil
}

type consumerIDRequest struct {
	ConsumerID uint32 `json:"consumerId"`
}

func (c *Client) handlePauseConsumer(ctx context.Context, msg WSMessage) error {
	var req consumerIDRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	consumer, ok := c.consumers[req.ConsumerID]
	if !ok {
		return fmt.Errorf("unknown consumer %d", req.ConsumerID)
	}
	if err := consumer.Pause(ctx); err != nil {
		return err
	}
	c.reply(msg.ReqID, "pause_consumer_ok", struct{}{})
	return nil
}

func (c *Client) handleResumeConsumer(ctx context.Context, msg WSMessage) error {
	var req consumerIDRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	consumer, ok := c.consumers[req.ConsumerID]
	if !ok {
		return fmt.Errorf("unknown consumer %d", req.ConsumerID)
	}
	if err := consumer.Resume(ctx); err != nil {
		return err
	}
	c.reply(msg.ReqID, "resume_consumer_ok", struct{}{})
	return nil
}

type muteRequest struct {
	Muted bool `json:"muted"`
}

func (c *Client) handleMute(msg WSMessage) error {
	var req muteRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		return fmt.Errorf("invalid mute payload: %w", err)
	}
	c.member.SetMuted(req.Muted)
	c.reply(msg.ReqID, "mute_ok", struct{}{})
	c.hub.BroadcastToRoom(c.room.Base.ID, "member_muted", memberMutedPayload{
		MemberID: wireID32(c.member.Base.ID),
		Muted:    req.Muted,
	}, c.member.Base.ID)
	return nil
}

type memberMutedPayload struct {
	MemberID uint32 `json:"memberId"`
	Muted    bool   `json:"muted"`
}

// handleStartRecording and handleStopRecording do not check the
// connection's role: any member of the room can start or stop recording,
// and recording.Service itself does not enforce authorization either.
func (c *Client) handleStartRecording(ctx context.Context) error {
	if c.rec == nil {
		return fmt.Errorf("recording is not configured")
	}
	if err := c.rec.Start(ctx, c.room); err != nil {
		return fmt.Errorf("start recording: %w", err)
	}
	c.hub.BroadcastToRoom(c.room.Base.ID, "recording_started", struct{}{}, 0)
	return nil
}

func (c *Client) handleStopRecording() error {
	if c.rec == nil {
		return fmt.Errorf("recording is not configured")
	}
	c.rec.Stop(c.room)
	c.hub.BroadcastToRoom(c.room.Base.ID, "recording_stopped", struct{}{}, 0)
	return nil
}
