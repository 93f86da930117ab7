package registry

import (
	"testing"

	"github.com/google/uuid"
)

type countingCloser struct{ closed *int }

func (c countingCloser) onClose() { *c.closed++ }

func newTestResource(r *Registry, kind Kind) (*Base, *int) {
	closed := new(int)
	b := &Base{ID: r.NextID(), UUID: uuid.New(), Kind: kind, Refs: 1}
	r.Register(b, countingCloser{closed: closed})
	return b, closed
}

func TestRegisterAndProbe(t *testing.T) {
	r := New(nil)
	b, _ := newTestResource(r, KindRouter)

	snap, ok := r.Probe(b.ID)
	if !ok {
		t.Fatalf("expected probe hit")
	}
	if snap.ID != b.ID || snap.Kind != KindRouter {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	if _, ok := r.ProbeUUID(b.UUID); !ok {
		t.Fatalf("expected uuid probe hit")
	}
}

func TestByIDRefcountAndDispose(t *testing.T) {
	r := New(nil)
	b, closed := newTestResource(r, KindProducer)

	h, err := r.ByID(b.ID, MaskOf(KindProducer))
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if b.Refs != 2 {
		t.Fatalf("expected refs=2 got %d", b.Refs)
	}

	r.Release(h) // back to 1 (the structural ref)
	if *closed != 0 {
		t.Fatalf("should not be disposed yet")
	}

	r.Ref(Handle{Base: b}, -1) // structural ref released -> dispose
	if *closed != 1 {
		t.Fatalf("expected dispose exactly once, got %d", *closed)
	}
	if _, ok := r.Probe(b.ID); ok {
		t.Fatalf("expected resource to be unregistered after dispose")
	}
}

func TestByIDWrongType(t *testing.T) {
	r := New(nil)
	b, _ := newTestResource(r, KindRouter)
	if _, err := r.ByID(b.ID, MaskOf(KindProducer)); err != ErrWrongType {
		t.Fatalf("expected ErrWrongType, got %v", err)
	}
}

func TestByIDNotFound(t *testing.T) {
	r := New(nil)
	if _, err := r.ByID(999, AnyKind); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUUIDCollisionKeepsLatest(t *testing.T) {
	r := New(nil)
	id := uuid.New()
	b1 := &Base{ID: r.NextID(), UUID: id, Kind: KindRouter, Refs: 1}
	b2 := &Base{ID: r.NextID(), UUID: id, Kind: KindRouter, Refs: 1}
	r.Register(b1, nil)
	r.Register(b2, nil)

	snap, ok := r.ProbeUUID(id)
	if !ok || snap.ID != b2.ID {
		t.Fatalf("expected latest registration (id=%d) to win, got %+v", b2.ID, snap)
	}
}

func TestLoadScoreCallback(t *testing.T) {
	r := New(nil)
	var deltas []int
	r.SetLoadScoreFunc(func(workerID uint64, delta int) { deltas = append(deltas, delta) })

	b := &Base{ID: r.NextID(), UUID: uuid.New(), Kind: KindTransportWebRTC, WorkerID: 7, Refs: 1}
	r.Register(b, nil)
	r.Ref(Handle{Base: b}, -1)

	if len(deltas) != 2 || deltas[0] != 1 || deltas[1] != -1 {
		t.Fatalf("expected [+1 -1] load score deltas, got %v", deltas)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	r := New(nil)
	b, _ := newTestResource(r, KindRouter)

	r.Close(b.ID)
	r.Close(b.ID)
	r.Close(b.ID)

	if !b.Closed {
		t.Fatalf("expected closed=true")
	}
}

func TestMarkClosedOnceIsIdempotent(t *testing.T) {
	b := &Base{}
	if first := b.MarkClosedOnce(); !first {
		t.Fatalf("expected first call to report true")
	}
	if second := b.MarkClosedOnce(); second {
		t.Fatalf("expected second call to report false")
	}
}
