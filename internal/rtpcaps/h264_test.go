package rtpcaps

import "testing"

func TestParsePLIDRejectsMalformed(t *testing.T) {
	cases := []string{"", "42e01", "42e01ff", "zzzzzz"}
	for _, c := range cases {
		if _, err := ParsePLID(c); err == nil {
			t.Errorf("expected error parsing %q", c)
		}
	}
}

func TestPLIDProfileTable(t *testing.T) {
	cases := []struct {
		plid    string
		profile H264Profile
	}{
		{"42a01f", ProfileBaseline},
		{"58A01F", ProfileBaseline},
		{"4D401f", ProfileMain},
		{"64001f", ProfileHigh},
		{"640c1f", ProfileConstrainedHigh},
		{"42e01f", ProfileConstrainedBaseline},
		{"42C02A", ProfileConstrainedBaseline},
		{"4de01f", ProfileConstrainedBaseline},
		{"58f01f", ProfileConstrainedBaseline},
	}
	for _, c := range cases {
		p, err := ParsePLID(c.plid)
		if err != nil {
			t.Fatalf("ParsePLID(%q): %v", c.plid, err)
		}
		got, err := p.Profile()
		if err != nil {
			t.Fatalf("Profile(%q): %v", c.plid, err)
		}
		if got != c.profile {
			t.Errorf("Profile(%q) = %s, want %s", c.plid, got, c.profile)
		}
	}
}

func TestPLIDLevelOneB(t *testing.T) {
	p, err := ParsePLID("42f00b")
	if err != nil {
		t.Fatalf("ParsePLID: %v", err)
	}
	if p.Level() != levelOneB {
		t.Errorf("expected level 1b, got %v", p.Level())
	}
}

func TestGenerateProfileLevelIDForAnswerPicksMinLevel(t *testing.T) {
	answer, err := GenerateProfileLevelIDForAnswer("42e01f", "42e015", false, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := ParsePLID(answer)
	if err != nil {
		t.Fatalf("ParsePLID(answer): %v", err)
	}
	if got.LevelIDC != 0x15 {
		t.Errorf("expected min level 0x15, got %#x", got.LevelIDC)
	}
}

func TestGenerateProfileLevelIDForAnswerRejectsProfileMismatch(t *testing.T) {
	_, err := GenerateProfileLevelIDForAnswer("42e01f", "64001f", false, false)
	if err != ErrProfileLevelIDMismatch {
		t.Fatalf("expected profile-level-id-mismatch, got %v", err)
	}
}

func TestGenerateProfileLevelIDForAnswerDefaultsWhenAbsent(t *testing.T) {
	answer, err := GenerateProfileLevelIDForAnswer("", "", false, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != defaultPLID.Write() {
		t.Errorf("expected default plid %s, got %s", defaultPLID.Write(), answer)
	}
}
