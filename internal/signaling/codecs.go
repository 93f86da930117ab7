package signaling

import "github.com/wirow-io/wirow-server-sub001/internal/rtpcaps"

// DefaultMediaCodecs is the room-wide codec preference list a router is
// built from on its first AttachRouter call. It is fixed at startup rather
// than per-room configurable: every room in this deployment negotiates the
// same codec set.
func DefaultMediaCodecs() []rtpcaps.Codec {
	return []rtpcaps.Codec{
		{MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		{
			MimeType:  "video/VP8",
			ClockRate: 90000,
			RTCPFeedback: []rtpcaps.RTCPFeedback{
				{Type: "nack"},
				{Type: "nack", Parameter: "pli"},
				{Type: "ccm", Parameter: "fir"},
				{Type: "goog-remb"},
			},
		},
		{
			MimeType:  "video/H264",
			ClockRate: 90000,
			Parameters: map[string]interface{}{
				"packetization-mode":     1,
				"profile-level-id":       "42e01f",
				"level-asymmetry-allowed": 1,
			},
			RTCPFeedback: []rtpcaps.RTCPFeedback{
				{Type: "nack"},
				{Type: "nack", Parameter: "pli"},
				{Type: "ccm", Parameter: "fir"},
				{Type: "goog-remb"},
			},
		},
	}
}
