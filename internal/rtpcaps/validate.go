package rtpcaps

import (
	"fmt"
	"strings"
)

// ErrInvalidRTPParameters is the error kind returned by Validate. The
// message carries the specific field that failed.
type ErrInvalidRTPParameters struct {
	Reason string
}

func (e ErrInvalidRTPParameters) Error() string {
	return fmt.Sprintf("invalid-rtp-parameters: %s", e.Reason)
}

func invalid(format string, args ...interface{}) error {
	return ErrInvalidRTPParameters{Reason: fmt.Sprintf(format, args...)}
}

// Validate checks rtp_parameters against the wire schema and normalizes
// defaults in place (channels, rtcpFeedback.parameter, encodings.dtx).
// rtcp.reducedSize is not touched here; its default of true is applied when
// decoding JSON (RTCP.UnmarshalJSON). Validate is idempotent: running it twice
// on an already-normalized value produces the same result.
func Validate(p *RTPParameters) error {
	if len(p.Codecs) == 0 {
		return invalid("codecs array is required and must not be empty")
	}
	for i := range p.Codecs {
		if err := validateCodec(&p.Codecs[i]); err != nil {
			return err
		}
	}
	for i := range p.HeaderExtensions {
		if err := validateHeaderExtension(&p.HeaderExtensions[i]); err != nil {
			return err
		}
	}
	for i := range p.Encodings {
		if err := validateEncoding(&p.Encodings[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateCodec(c *Codec) error {
	if c.MimeType == "" {
		return invalid("codec.mimeType is required")
	}
	lower := strings.ToLower(c.MimeType)
	if !strings.HasPrefix(lower, "video/") && !strings.HasPrefix(lower, "audio/") {
		return invalid("codec.mimeType must start with audio/ or video/: %q", c.MimeType)
	}
	if c.ClockRate <= 0 {
		return invalid("codec.clockRate is required and must be positive")
	}
	// PayloadType of 0 is a valid dynamic payload type value in principle,
	// but the wire schema requires the field be present; since Go's int
	// zero value is indistinguishable from an explicit 0 we accept 0 as
	// valid here, consistent with the source's permissive JSON parsing.
	if strings.HasPrefix(lower, "audio/") && c.Channels == 0 {
		c.Channels = 1 // channels defaults to 1 for audio
	}
	if strings.HasPrefix(lower, "video/") {
		c.Channels = 0 // channels is stripped for video
	}
	if c.Parameters != nil {
		if apt, ok := c.Parameters["apt"]; ok {
			if _, isInt := toInt(apt); !isInt {
				return invalid("codec.parameters.apt must be an integer")
			}
		}
	}
	for i := range c.RTCPFeedback {
		// parameter defaults to empty string; Go's zero
		// value already satisfies this, nothing to normalize.
		if c.RTCPFeedback[i].Type == "" {
			return invalid("rtcpFeedback.type is required")
		}
	}
	return nil
}

func validateHeaderExtension(h *HeaderExtension) error {
	if h.URI == "" {
		return invalid("headerExtension.uri is required")
	}
	// id==0 is schema-valid per the same reasoning as payloadType above.
	// encrypt defaults to false: Go zero value already satisfies this.
	for k, v := range h.Parameters {
		switch v.(type) {
		case string, float64, int, bool, nil:
			// scalar, ok
		default:
			return invalid("headerExtension.parameters.%s must be a scalar", k)
		}
	}
	return nil
}

func validateEncoding(e *Encoding) error {
	// dtx defaults to false: Go zero value already satisfies this.
	_ = e
	return nil
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}
