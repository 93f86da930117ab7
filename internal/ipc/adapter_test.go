package ipc

import "testing"

func TestFrameReaderSingleFrame(t *testing.T) {
	fr := &frameReader{}
	frame := EncodeFrame([]byte("hello"))
	frames := fr.Feed(frame, nil)
	if len(frames) != 1 || string(frames[0]) != "hello" {
		t.Fatalf("unexpected frames: %v", frames)
	}
}

func TestFrameReaderPartialThenComplete(t *testing.T) {
	fr := &frameReader{}
	full := EncodeFrame([]byte("world"))
	if frames := fr.Feed(full[:3], nil); len(frames) != 0 {
		t.Fatalf("expected no frames yet, got %v", frames)
	}
	frames := fr.Feed(full[3:], nil)
	if len(frames) != 1 || string(frames[0]) != "world" {
		t.Fatalf("unexpected frames: %v", frames)
	}
}

func TestFrameReaderMultipleFramesInOneChunk(t *testing.T) {
	fr := &frameReader{}
	chunk := append(EncodeFrame([]byte("a")), EncodeFrame([]byte("bb"))...)
	frames := fr.Feed(chunk, nil)
	if len(frames) != 2 || string(frames[0]) != "a" || string(frames[1]) != "bb" {
		t.Fatalf("unexpected frames: %v", frames)
	}
}

func TestFrameReaderOversizeFrameDroppedAdapterStaysHealthy(t *testing.T) {
	fr := &frameReader{}
	oversizePayload := make([]byte, MaxFrameLen+1)
	oversizeFrame := EncodeFrame(oversizePayload)
	goodFrame := EncodeFrame([]byte("still alive"))

	var oversizeLens []uint32
	frames := fr.Feed(append(oversizeFrame, goodFrame...), func(n uint32) {
		oversizeLens = append(oversizeLens, n)
	})

	if len(oversizeLens) != 1 || oversizeLens[0] != MaxFrameLen+1 {
		t.Fatalf("expected one oversize callback with len %d, got %v", MaxFrameLen+1, oversizeLens)
	}
	if len(frames) != 1 || string(frames[0]) != "still alive" {
		t.Fatalf("expected adapter to recover and parse the next frame, got %v", frames)
	}
}

func TestFrameReaderOversizeFrameSplitAcrossFeedCalls(t *testing.T) {
	fr := &frameReader{}
	oversizePayload := make([]byte, MaxFrameLen+1)
	oversizeFrame := EncodeFrame(oversizePayload)
	goodFrame := EncodeFrame([]byte("still alive"))
	whole := append(oversizeFrame, goodFrame...)

	var oversizeLens []uint32
	onOversize := func(n uint32) { oversizeLens = append(oversizeLens, n) }

	// Feed the oversize frame's header and part of its body in one call,
	// the rest of its body plus the next frame in a second call — the
	// non-blocking-pipe-read case the adapter actually sees in practice.
	split := len(oversizeFrame) - 5
	if frames := fr.Feed(whole[:split], onOversize); len(frames) != 0 {
		t.Fatalf("expected no frames from the first partial chunk, got %v", frames)
	}
	frames := fr.Feed(whole[split:], onOversize)

	if len(oversizeLens) != 1 || oversizeLens[0] != MaxFrameLen+1 {
		t.Fatalf("expected one oversize callback with len %d, got %v", MaxFrameLen+1, oversizeLens)
	}
	if len(frames) != 1 || string(frames[0]) != "still alive" {
		t.Fatalf("expected adapter to stay synchronized across the split and parse the next frame, got %v", frames)
	}
}
