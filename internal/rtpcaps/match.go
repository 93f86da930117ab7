package rtpcaps

import "strings"

// MatchCodecs reports whether a (an offered codec) and b (a capability
// codec) describe the same codec. When strict is true, codec-specific
// parameters that affect interoperability (H.264 profile-level-id, VP9
// profile-id) are also compared; when false, only mimeType/clockRate/
// channels are compared (plus H.264 packetization-mode, which is compared
// in both modes), which is enough to build a router's aggregated
// capabilities but not enough to decide if an endpoint can actually decode
// the stream.
//
// When modify is true and a match succeeds for an H.264 pair, a.Parameters
// is updated in place with the negotiated answer profile-level-id.
func MatchCodecs(a, b *Codec, strict, modify bool) (bool, error) {
	if !strings.EqualFold(a.MimeType, b.MimeType) {
		return false, nil
	}
	if a.ClockRate != b.ClockRate {
		return false, nil
	}
	lower := strings.ToLower(a.MimeType)
	if lower == "audio/opus" || strings.HasPrefix(lower, "audio/") {
		aChannels, bChannels := a.Channels, b.Channels
		if aChannels == 0 {
			aChannels = 1
		}
		if bChannels == 0 {
			bChannels = 1
		}
		if aChannels != bChannels {
			return false, nil
		}
	}

	switch lower {
	case "video/h264", "video/h264-svc":
		return matchH264(a, b, strict, modify)
	case "video/vp9":
		return matchVP9(a, b, strict)
	}
	return true, nil
}

func paramString(p map[string]interface{}, key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func paramInt(p map[string]interface{}, key string, def int) int {
	v, ok := p[key]
	if !ok {
		return def
	}
	n, ok := toInt(v)
	if !ok {
		return def
	}
	return n
}

func matchH264(a, b *Codec, strict, modify bool) (bool, error) {
	aPM := paramInt(a.Parameters, "packetization-mode", 0)
	bPM := paramInt(b.Parameters, "packetization-mode", 0)
	if aPM != bPM {
		return false, nil
	}
	if !strict {
		return true, nil
	}

	aPLID, _ := paramString(a.Parameters, "profile-level-id")
	bPLID, _ := paramString(b.Parameters, "profile-level-id")
	aAsym := paramInt(a.Parameters, "level-asymmetry-allowed", 0) == 1
	bAsym := paramInt(b.Parameters, "level-asymmetry-allowed", 0) == 1

	answer, err := GenerateProfileLevelIDForAnswer(aPLID, bPLID, aAsym, bAsym)
	if err != nil {
		if err == ErrProfileLevelIDMismatch {
			return false, nil
		}
		return false, err
	}
	if modify {
		if a.Parameters == nil {
			a.Parameters = map[string]interface{}{}
		}
		a.Parameters["profile-level-id"] = answer
	}
	return true, nil
}

func matchVP9(a, b *Codec, strict bool) (bool, error) {
	if !strict {
		return true, nil
	}
	aProfile := paramInt(a.Parameters, "profile-id", 0)
	bProfile := paramInt(b.Parameters, "profile-id", 0)
	return aProfile == bProfile, nil
}
