package registry

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned by lookups that miss.
	ErrNotFound = errors.New("resource-not-found")
	// ErrWrongType is returned when a resource exists but doesn't match the
	// requested KindMask.
	ErrWrongType = errors.New("resource-wrong-type")
	// ErrUnbalancedRefs is an internal-assertion class error:
	// logged loudly, disposal continues best-effort.
	ErrUnbalancedRefs = errors.New("unbalanced-refs")
)

// LoadScoreFunc is invoked by the registry whenever a router/transport/
// producer/consumer is registered (delta=+1) or unregistered (delta=-1) for
// worker-load tracking.
type LoadScoreFunc func(workerID uint64, delta int)

// Registry is the single coarse-grained mutex-guarded resource graph
//. The zero value is not usable; construct with New.
type Registry struct {
	mu sync.Mutex

	byID   map[uint64]*Base
	byUUID map[uuid.UUID]*Base

	nextID uint64

	onLoadScore LoadScoreFunc
	log         *zap.Logger
}

func New(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		byID:   make(map[uint64]*Base),
		byUUID: make(map[uuid.UUID]*Base),
		log:    log,
	}
}

// SetLoadScoreFunc installs the worker-load callback.
func (r *Registry) SetLoadScoreFunc(fn LoadScoreFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onLoadScore = fn
}

func loadScoreKinds() KindMask {
	return MaskOf(KindRouter, KindTransportWebRTC, KindTransportPlain, KindTransportDirect, KindTransportPipe, KindProducer, KindProducerData, KindConsumer, KindConsumerData)
}

// NextID allocates the next resource id. Exposed so callers can populate
// Base.ID before Register, since many resources need their own id to build
// Identity before the worker command round-trip completes.
func (r *Registry) NextID() uint64 {
	return atomic.AddUint64(&r.nextID, 1)
}

// Register inserts resource b into both the id-map and the uuid-map.
// UUID collisions are logged as a warning and the latest registration wins.
func (r *Registry) Register(b *Base, closer Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b.closer = closer
	r.byID[b.ID] = b
	if existing, ok := r.byUUID[b.UUID]; ok && existing != b {
		r.log.Warn("uuid collision on register, keeping latest",
			zap.String("uuid", b.UUID.String()), zap.String("kind", b.Kind.String()))
	}
	r.byUUID[b.UUID] = b
	if loadScoreKinds().Has(b.Kind) && r.onLoadScore != nil {
		r.onLoadScore(b.WorkerID, 1)
	}
}

func (r *Registry) unregisterLk(b *Base) {
	delete(r.byID, b.ID)
	delete(r.byUUID, b.UUID)
	if loadScoreKinds().Has(b.Kind) && r.onLoadScore != nil {
		r.onLoadScore(b.WorkerID, -1)
	}
}

// Handle is a live reference to a resource obtained under lock with +1 ref.
// Callers must pass it to Release exactly once.
type Handle struct {
	Base *Base
}

// ByID performs a "locked-ref-acquire" lookup: it takes
// the lock, checks the kind mask, adds one ref, and returns a Handle. The
// caller must call Release when done.
func (r *Registry) ByID(id uint64, mask KindMask) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[id]
	if !ok {
		return Handle{}, ErrNotFound
	}
	if !mask.Has(b.Kind) {
		return Handle{}, ErrWrongType
	}
	b.Refs++
	return Handle{Base: b}, nil
}

// ByUUID is the uuid-keyed counterpart of ByID.
func (r *Registry) ByUUID(id uuid.UUID, mask KindMask) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byUUID[id]
	if !ok {
		return Handle{}, ErrNotFound
	}
	if !mask.Has(b.Kind) {
		return Handle{}, ErrWrongType
	}
	b.Refs++
	return Handle{Base: b}, nil
}

// Release decrements the refcount on h and disposes the resource while still
// holding the lock if it reaches zero, equivalent to
// calling Ref(h, -1).
func (r *Registry) Release(h Handle) {
	r.Ref(h, -1)
}

// Ref adjusts the refcount of h.Base by delta under lock; disposes and
// unregisters when it reaches zero.
func (r *Registry) Ref(h Handle, delta int) {
	if h.Base == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refLk(h.Base, delta)
}

func (r *Registry) refLk(b *Base, delta int) {
	b.Refs += delta
	if b.Refs < 0 {
		r.log.Error("refcount went negative, internal assertion violated",
			zap.String("uuid", b.UUID.String()), zap.String("kind", b.Kind.String()), zap.Int("refs", b.Refs))
		b.Refs = 0
	}
	if b.Refs == 0 {
		r.disposeLk(b)
	}
}

func (r *Registry) disposeLk(b *Base) {
	if b.closer != nil {
		b.closer.onClose()
	}
	r.unregisterLk(b)
}

// Close marks b closed exactly once (idempotent). It only flips Closed: it
// does not release the structural reference every resource holds for
// itself and runs no close procedure. The mediagraph layer runs the
// type-specific close procedure (cascade to children etc.) and releases
// that reference itself.
func (r *Registry) Close(id uint64) {
	r.mu.Lock()
	b, ok := r.byID[id]
	if !ok || b.Closed {
		r.mu.Unlock()
		return
	}
	b.Closed = true
	r.mu.Unlock()
}

// MarkClosedOnce sets Closed and reports whether this call was the first to
// do so; the caller already holds the lock. It only flips Closed; cascade logic lives in the
// mediagraph layer, which calls Ref/Release once each child has run its own
// close procedure.
func (b *Base) MarkClosedOnce() (first bool) {
	if b.Closed {
		return false
	}
	b.Closed = true
	return true
}

// Probe returns a copy of the base struct without taking a reference
//, for read-only fast paths.
func (r *Registry) Probe(id uint64) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[id]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotOf(b), true
}

// ProbeUUID is the uuid-keyed counterpart of Probe.
func (r *Registry) ProbeUUID(id uuid.UUID) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byUUID[id]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotOf(b), true
}

func snapshotOf(b *Base) Snapshot {
	return Snapshot{
		ID:       b.ID,
		UUID:     b.UUID,
		Kind:     b.Kind,
		Refs:     b.Refs,
		WorkerID: b.WorkerID,
		Closed:   b.Closed,
		Identity: b.Identity,
	}
}

// WithLock runs fn while holding the registry mutex. It exists so the
// mediagraph package can perform its own multi-step cascade logic (which
// needs to mutate several Base structs atomically) without the registry
// exposing its mutex directly. fn must not call back into any exported
// Registry method other than the *Lk variants.
func (r *Registry) WithLock(fn func(r *Registry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}

// RefLk adjusts refcount and disposes while already holding the lock
// (used from inside WithLock callbacks).
func (r *Registry) RefLk(b *Base, delta int) { r.refLk(b, delta) }

// RegisterLk is the "lk" variant of Register.
func (r *Registry) RegisterLk(b *Base, closer Closer) {
	b.closer = closer
	r.byID[b.ID] = b
	r.byUUID[b.UUID] = b
	if loadScoreKinds().Has(b.Kind) && r.onLoadScore != nil {
		r.onLoadScore(b.WorkerID, 1)
	}
}

// RouterIDsByWorker returns every still-open router id owned by workerID, for
// a worker-exit cascade: closing these closes every transport/producer/
// consumer/observer beneath them too.
func (r *Registry) RouterIDsByWorker(workerID uint64) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uint64
	for id, b := range r.byID {
		if b.Kind == KindRouter && b.WorkerID == workerID && !b.Closed {
			ids = append(ids, id)
		}
	}
	return ids
}

// ByIDLk is the "lk" variant of ByID.
func (r *Registry) ByIDLk(id uint64, mask KindMask) (*Base, error) {
	b, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !mask.Has(b.Kind) {
		return nil, ErrWrongType
	}
	return b, nil
}
