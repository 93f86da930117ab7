package recording

import (
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/wirow-io/wirow-server-sub001/internal/rtpcaps"
)

const sdpSessionName = "Wirow"

// buildExportSDP synthesizes the offer a media-processing subprocess reads
// on stdin to receive one export's RTP stream on loopback: a single
// audio-or-video m-line, sendonly, with the one codec the export consumer
// negotiated.
func buildExportSDP(kind rtpcaps.Kind, port int, codec rtpcaps.Codec) ([]byte, error) {
	if codec.PayloadType == 0 {
		return nil, fmt.Errorf("export codec has no payload type")
	}
	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      0,
			SessionVersion: 0,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "127.0.0.1",
		},
		SessionName: sdp.SessionName(sdpSessionName),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: "127.0.0.1"},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   string(kind),
					Port:    sdp.RangedPort{Value: port},
					Protos:  []string{"RTP", "AVP"},
					Formats: []string{fmt.Sprintf("%d", codec.PayloadType)},
				},
				Attributes: []sdp.Attribute{
					sdp.NewAttribute("rtpmap", rtpmapValue(codec)),
					sdp.NewPropertyAttribute("sendonly"),
				},
			},
		},
	}
	return desc.Marshal()
}

// rtpmapValue renders "<pt> <encoding>/<clockRate>[/<channels>]" from a
// consumable codec's mimeType, e.g. "audio/opus" + 48000/2 -> "111 opus/48000/2".
func rtpmapValue(codec rtpcaps.Codec) string {
	name := codec.MimeType
	if idx := strings.IndexByte(name, '/'); idx >= 0 {
		name = name[idx+1:]
	}
	val := fmt.Sprintf("%d %s/%d", codec.PayloadType, name, codec.ClockRate)
	if codec.Kind() == rtpcaps.KindAudio && codec.Channels > 1 {
		val += fmt.Sprintf("/%d", codec.Channels)
	}
	return val
}
