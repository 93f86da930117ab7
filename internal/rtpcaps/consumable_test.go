package rtpcaps

import "testing"

func routerCapsFixture() *RTPCapabilities {
	return &RTPCapabilities{
		Codecs: []Codec{
			{MimeType: "audio/opus", ClockRate: 48000, Channels: 2, PreferredPayloadType: 100},
			{MimeType: "video/H264", ClockRate: 90000, PreferredPayloadType: 101, Parameters: map[string]interface{}{
				"packetization-mode": 1,
			}},
			{MimeType: "video/rtx", ClockRate: 90000, PreferredPayloadType: 102, Parameters: map[string]interface{}{"apt": 101}},
		},
		HeaderExtensions: []HeaderExtension{
			{URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1, Kind: KindAudio, Direction: DirSendRecv},
			{URI: "urn:3gpp:video-orientation", PreferredID: 2, Kind: KindVideo, Direction: DirSendRecv},
		},
	}
}

func TestGetProducerRTPParametersMappingBasic(t *testing.T) {
	producer := &RTPParameters{
		Codecs: []Codec{
			{MimeType: "audio/opus", ClockRate: 48000, Channels: 2, PayloadType: 0},
		},
		Encodings: []Encoding{{SSRC: 1111}},
	}
	mapping, err := GetProducerRTPParametersMapping(producer, routerCapsFixture())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mapping.Codecs) != 1 || mapping.Codecs[0].MappedPayloadType != 100 {
		t.Fatalf("unexpected mapping: %+v", mapping.Codecs)
	}
	if len(mapping.Encodings) != 1 || mapping.Encodings[0].MappedSSRC == 0 {
		t.Fatalf("expected a synthesized mapped ssrc")
	}
}

func TestGetProducerRTPParametersMappingUnsupportedCodec(t *testing.T) {
	producer := &RTPParameters{
		Codecs: []Codec{{MimeType: "audio/g722", ClockRate: 8000, PayloadType: 9}},
	}
	_, err := GetProducerRTPParametersMapping(producer, routerCapsFixture())
	if err == nil {
		t.Fatalf("expected unsupported-codec error")
	}
}

func TestGetConsumableRTPParametersRewritesPayloadTypesAndSSRC(t *testing.T) {
	producer := &RTPParameters{
		Codecs: []Codec{
			{MimeType: "audio/opus", ClockRate: 48000, Channels: 2, PayloadType: 0},
		},
		HeaderExtensions: []HeaderExtension{
			{URI: "urn:ietf:params:rtp-hdrext:sdes:mid", ID: 4},
			{URI: "urn:3gpp:video-orientation", ID: 5},
		},
		Encodings: []Encoding{{SSRC: 1111}},
		RTCP:      RTCP{CNAME: "producer-cname", ReducedSize: true},
	}
	caps := routerCapsFixture()
	mapping, err := GetProducerRTPParametersMapping(producer, caps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	consumable, err := GetConsumableRTPParameters(producer, caps, mapping, KindAudio)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(consumable.Codecs) != 1 || consumable.Codecs[0].PayloadType != 100 {
		t.Fatalf("expected rewritten payload type 100, got %+v", consumable.Codecs)
	}
	if len(consumable.HeaderExtensions) != 1 || consumable.HeaderExtensions[0].ID != 1 {
		t.Fatalf("expected only the audio-kind header extension to survive for an audio producer, got %+v", consumable.HeaderExtensions)
	}
	if len(consumable.Encodings) != 1 || consumable.Encodings[0].SSRC == 1111 {
		t.Fatalf("expected encoding ssrc to be remapped, got %+v", consumable.Encodings)
	}
	if consumable.RTCP.CNAME != "producer-cname" || !consumable.RTCP.Mux {
		t.Fatalf("unexpected rtcp: %+v", consumable.RTCP)
	}
}
