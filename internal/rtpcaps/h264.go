package rtpcaps

import (
	"encoding/hex"
	"fmt"
)

// H264Profile is the resolved H.264 profile.
type H264Profile string

const (
	ProfileConstrainedBaseline H264Profile = "constrained-baseline"
	ProfileBaseline            H264Profile = "baseline"
	ProfileMain                H264Profile = "main"
	ProfileConstrainedHigh     H264Profile = "constrained-high"
	ProfileHigh                H264Profile = "high"
)

// H264Level is the resolved H.264 level, in tenths (e.g. 31 = level 3.1).
// Level 1b is represented as 9 (below 1.0) to keep levels orderable by
// integer comparison, per the source's internal convention.
type H264Level int

const levelOneB H264Level = 9

// ErrInvalidProfileLevelID means a profile-level-id string could not be
// parsed.
var ErrInvalidProfileLevelID = fmt.Errorf("invalid-profile-level-id")

// ErrProfileLevelIDMismatch means two profile-level-ids disagree on profile
// under strict matching.
var ErrProfileLevelIDMismatch = fmt.Errorf("profile-level-id-mismatch")

type profilePattern struct {
	profileIDC byte
	mask       byte
	maskedVal  byte
	profile    H264Profile
}

// profileTable is the pattern table of (profile-idc, mask, masked-value),
// ordered so the first match wins.
var profileTable = []profilePattern{
	{0x42, 0x4f, 0x40, ProfileConstrainedBaseline},
	{0x4d, 0x8f, 0x80, ProfileConstrainedBaseline},
	{0x58, 0xcf, 0xc0, ProfileConstrainedBaseline},
	{0x42, 0x4f, 0x00, ProfileBaseline},
	{0x58, 0xcf, 0x80, ProfileBaseline},
	{0x4d, 0xaf, 0x00, ProfileMain},
	{0x64, 0xff, 0x00, ProfileHigh},
	{0x64, 0xff, 0x0c, ProfileConstrainedHigh},
}

// PLID is a parsed H.264 profile-level-id: profile-idc / profile-iop /
// level-idc.
type PLID struct {
	ProfileIDC byte
	ProfileIOP byte
	LevelIDC   byte
}

// ParsePLID parses a six-hex-char profile-level-id string.
func ParsePLID(s string) (PLID, error) {
	if len(s) != 6 {
		return PLID{}, ErrInvalidProfileLevelID
	}
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 3 {
		return PLID{}, ErrInvalidProfileLevelID
	}
	return PLID{ProfileIDC: raw[0], ProfileIOP: raw[1], LevelIDC: raw[2]}, nil
}

// Write renders a PLID back to its six-hex-char form.
func (p PLID) Write() string {
	return fmt.Sprintf("%02x%02x%02x", p.ProfileIDC, p.ProfileIOP, p.LevelIDC)
}

// Profile resolves this PLID's profile-iop/profile-idc pair against
// profileTable.
func (p PLID) Profile() (H264Profile, error) {
	for _, pat := range profileTable {
		if p.ProfileIDC == pat.profileIDC && (p.ProfileIOP&pat.mask) == pat.maskedVal {
			return pat.profile, nil
		}
	}
	return "", ErrInvalidProfileLevelID
}

// Level resolves this PLID's level, applying the level-1b special case.
func (p PLID) Level() H264Level {
	const constraintSet3Bit = 0x10
	if p.LevelIDC == 11 && (p.ProfileIOP&constraintSet3Bit) != 0 {
		switch p.ProfileIDC {
		case 0x42, 0x4D, 0x58:
			return levelOneB
		}
	}
	return H264Level(p.LevelIDC)
}

// defaultPLID is "42e01f", the default when profile-level-id is absent.
var defaultPLID = PLID{ProfileIDC: 0x42, ProfileIOP: 0xe0, LevelIDC: 0x1f}

// GenerateProfileLevelIDForAnswer implements the H.264 answer algorithm:
// parse both sides (default 42e01f), require equal
// profile, select the minimum level unless both sides assert
// level-asymmetry-allowed, returning the answer's profile-level-id string:
// the remote side's profile with the selected level.
func GenerateProfileLevelIDForAnswer(localPLIDStr, remotePLIDStr string, localLevelAsymmetryAllowed, remoteLevelAsymmetryAllowed bool) (string, error) {
	local := defaultPLID
	if localPLIDStr != "" {
		parsed, err := ParsePLID(localPLIDStr)
		if err != nil {
			return "", err
		}
		local = parsed
	}
	remote := defaultPLID
	if remotePLIDStr != "" {
		parsed, err := ParsePLID(remotePLIDStr)
		if err != nil {
			return "", err
		}
		remote = parsed
	}

	localProfile, err := local.Profile()
	if err != nil {
		return "", err
	}
	remoteProfile, err := remote.Profile()
	if err != nil {
		return "", err
	}
	if localProfile != remoteProfile {
		return "", ErrProfileLevelIDMismatch
	}

	answerLevel := remote.Level()
	if !(localLevelAsymmetryAllowed && remoteLevelAsymmetryAllowed) {
		if local.Level() < answerLevel {
			answerLevel = local.Level()
		}
	}
	answer := PLID{ProfileIDC: remote.ProfileIDC, ProfileIOP: remote.ProfileIOP, LevelIDC: byte(answerLevel)}
	if answerLevel == levelOneB {
		answer.LevelIDC = 11
		answer.ProfileIOP |= 0x10
	}
	return answer.Write(), nil
}
