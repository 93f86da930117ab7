package rtpcaps

import "testing"

func TestMatchCodecsMimeTypeCaseInsensitive(t *testing.T) {
	a := &Codec{MimeType: "audio/OPUS", ClockRate: 48000, Channels: 2}
	b := &Codec{MimeType: "Audio/Opus", ClockRate: 48000, Channels: 2}
	ok, err := MatchCodecs(a, b, false, false)
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}
}

func TestMatchCodecsClockRateMismatch(t *testing.T) {
	a := &Codec{MimeType: "audio/opus", ClockRate: 48000, Channels: 2}
	b := &Codec{MimeType: "audio/opus", ClockRate: 44100, Channels: 2}
	ok, err := MatchCodecs(a, b, false, false)
	if err != nil || ok {
		t.Fatalf("expected mismatch, got ok=%v err=%v", ok, err)
	}
}

func TestMatchCodecsAudioChannelsDefaultToOne(t *testing.T) {
	a := &Codec{MimeType: "audio/pcmu", ClockRate: 8000}
	b := &Codec{MimeType: "audio/pcmu", ClockRate: 8000, Channels: 1}
	ok, err := MatchCodecs(a, b, false, false)
	if err != nil || !ok {
		t.Fatalf("expected match with default channel, got ok=%v err=%v", ok, err)
	}
}

func TestMatchCodecsH264StrictRequiresCompatibleProfile(t *testing.T) {
	a := &Codec{MimeType: "video/H264", ClockRate: 90000, Parameters: map[string]interface{}{
		"packetization-mode": 1, "profile-level-id": "42e01f",
	}}
	b := &Codec{MimeType: "video/H264", ClockRate: 90000, Parameters: map[string]interface{}{
		"packetization-mode": 1, "profile-level-id": "64001f",
	}}
	ok, err := MatchCodecs(a, b, true, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected profile mismatch to fail strict match")
	}
}

func TestMatchCodecsH264StrictModifyRewritesAnswer(t *testing.T) {
	a := &Codec{MimeType: "video/H264", ClockRate: 90000, Parameters: map[string]interface{}{
		"packetization-mode": 1, "profile-level-id": "42e01f",
	}}
	b := &Codec{MimeType: "video/H264", ClockRate: 90000, Parameters: map[string]interface{}{
		"packetization-mode": 1, "profile-level-id": "42e015",
	}}
	ok, err := MatchCodecs(a, b, true, true)
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}
	if a.Parameters["profile-level-id"] != "42e015" {
		t.Fatalf("expected modified profile-level-id, got %v", a.Parameters["profile-level-id"])
	}
}

func TestMatchCodecsVP9StrictRequiresEqualProfileID(t *testing.T) {
	a := &Codec{MimeType: "video/VP9", ClockRate: 90000, Parameters: map[string]interface{}{"profile-id": 0}}
	b := &Codec{MimeType: "video/VP9", ClockRate: 90000, Parameters: map[string]interface{}{"profile-id": 2}}
	ok, err := MatchCodecs(a, b, true, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected vp9 profile-id mismatch to fail strict match")
	}
}

func TestMatchCodecsVP9NonStrictIgnoresProfileID(t *testing.T) {
	a := &Codec{MimeType: "video/VP9", ClockRate: 90000, Parameters: map[string]interface{}{"profile-id": 0}}
	b := &Codec{MimeType: "video/VP9", ClockRate: 90000, Parameters: map[string]interface{}{"profile-id": 2}}
	ok, err := MatchCodecs(a, b, false, false)
	if err != nil || !ok {
		t.Fatalf("expected non-strict match regardless of profile-id, got ok=%v err=%v", ok, err)
	}
}
