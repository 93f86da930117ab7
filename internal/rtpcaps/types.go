// Package rtpcaps implements RTP capability negotiation: validating incoming
// rtp_parameters, matching codecs against a router's capabilities, resolving
// H.264 profile-level-id, and synthesizing the consumable RTP parameters
// every consumer is built from. It is pure data
// transformation over JSON-shaped structs — no third-party dependency is a
// better fit than encoding/json here (see DESIGN.md).
package rtpcaps

import "encoding/json"

// Kind is the media kind of a codec/producer/consumer.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Direction is a header extension's negotiated direction.
type Direction string

const (
	DirSendRecv Direction = "sendrecv"
	DirSendOnly Direction = "sendonly"
	DirRecvOnly Direction = "recvonly"
	DirInactive Direction = "inactive"
)

// RTCPFeedback is a single rtcp-fb entry.
type RTCPFeedback struct {
	Type      string `json:"type"`
	Parameter string `json:"parameter"`
}

// Codec is one entry in an rtp_parameters.codecs or rtp_capabilities.codecs
// array. Parameters is kept as a generic map so codec-specific keys
// (packetization-mode, profile-level-id, apt, profile-id, ...) pass through
// untouched except where the negotiator specifically reads them.
type Codec struct {
	MimeType             string                 `json:"mimeType"`
	PayloadType          int                    `json:"payloadType"`
	ClockRate            int                    `json:"clockRate"`
	Channels             int                    `json:"channels,omitempty"`
	Parameters           map[string]interface{} `json:"parameters,omitempty"`
	RTCPFeedback         []RTCPFeedback         `json:"rtcpFeedback,omitempty"`
	PreferredPayloadType int                    `json:"preferredPayloadType,omitempty"` // capability-only field
}

// Kind derives audio/video from MimeType ("video/..." or "audio/...").
func (c Codec) Kind() Kind {
	if len(c.MimeType) >= 5 && c.MimeType[:5] == "video" {
		return KindVideo
	}
	return KindAudio
}

// IsRTX reports whether this codec is an RTX codec (mimeType "*/rtx").
func (c Codec) IsRTX() bool {
	return len(c.MimeType) >= 4 && c.MimeType[len(c.MimeType)-4:] == "/rtx"
}

// HeaderExtension is one entry in headerExtensions.
type HeaderExtension struct {
	URI        string                 `json:"uri"`
	ID         int                    `json:"id"`
	Encrypt    bool                   `json:"encrypt"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`

	Kind                 Kind      `json:"kind,omitempty"`                 // capability-only
	Direction            Direction `json:"direction,omitempty"`            // capability-only
	PreferredID          int       `json:"preferredId,omitempty"`          // capability-only
	PreferredEncrypt     bool      `json:"preferredEncrypt,omitempty"`     // capability-only
}

// RTCP describes the rtcp object. reducedSize defaults to true when the
// field is absent from the wire JSON; UnmarshalJSON applies
// that default since Go's bool zero value is false.
type RTCP struct {
	CNAME       string `json:"cname,omitempty"`
	ReducedSize bool   `json:"reducedSize"`
	Mux         bool   `json:"mux,omitempty"`
}

func (r *RTCP) UnmarshalJSON(data []byte) error {
	type alias struct {
		CNAME       string `json:"cname,omitempty"`
		ReducedSize *bool  `json:"reducedSize"`
		Mux         bool   `json:"mux,omitempty"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	r.CNAME = a.CNAME
	r.Mux = a.Mux
	if a.ReducedSize == nil {
		r.ReducedSize = true
	} else {
		r.ReducedSize = *a.ReducedSize
	}
	return nil
}

// RTX describes an encoding's paired retransmission ssrc.
type RTX struct {
	SSRC uint32 `json:"ssrc"`
}

// Encoding is one entry in rtp_parameters.encodings.
type Encoding struct {
	SSRC             uint32 `json:"ssrc,omitempty"`
	RID              string `json:"rid,omitempty"`
	RTX              *RTX   `json:"rtx,omitempty"`
	DTX              bool   `json:"dtx"`
	ScalabilityMode  string `json:"scalabilityMode,omitempty"`
	CodecPayloadType *int   `json:"codecPayloadType,omitempty"`

	MappedSSRC uint32 `json:"mappedSsrc,omitempty"` // rtpMapping-only
}

// RTPParameters is the rtp_parameters object validated/consumed by producer
// and consumer creation.
type RTPParameters struct {
	MID              string            `json:"mid,omitempty"`
	Codecs           []Codec           `json:"codecs"`
	HeaderExtensions []HeaderExtension `json:"headerExtensions,omitempty"`
	Encodings        []Encoding        `json:"encodings,omitempty"`
	RTCP             RTCP              `json:"rtcp,omitempty"`
}

// RTPCapabilities is a router's or endpoint's supported codec/extension set.
type RTPCapabilities struct {
	Codecs           []Codec           `json:"codecs"`
	HeaderExtensions []HeaderExtension `json:"headerExtensions,omitempty"`
}

// CodecPayloadTypePair is one rtpMapping.codecs entry.
type CodecPayloadTypePair struct {
	PayloadType       int `json:"payloadType"`
	MappedPayloadType int `json:"mappedPayloadType"`
}

// RTPMapping records the producer-codec -> router-cap-codec bijection and
// ssrc remapping computed at producer creation.
type RTPMapping struct {
	Codecs    []CodecPayloadTypePair `json:"codecs"`
	Encodings []Encoding             `json:"encodings"`
}

// ConsumableRTPParameters is the canonical per-producer parameter set every
// consumer is subsequently negotiated from.
type ConsumableRTPParameters struct {
	Codecs           []Codec           `json:"codecs"`
	HeaderExtensions []HeaderExtension `json:"headerExtensions"`
	Encodings        []Encoding        `json:"encodings"`
	RTCP             RTCP              `json:"rtcp"`
}

func cloneParameters(p map[string]interface{}) map[string]interface{} {
	if p == nil {
		return nil
	}
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// cloneJSON deep-copies a value via marshal/unmarshal round-trip; used
// sparingly where a value is shared and must not alias the original.
func cloneJSON(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
