package rpc

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// UUIDResolver maps worker-side UUIDs to numeric registry ids so notification
// handlers can operate on the same ids the rest of the control plane uses.
// It is consulted by Client.dispatchNotification. Nothing in this
// repository calls Put, so the map stays empty: a notification that names
// its target only by uuid is left unresolved.
type UUIDResolver struct {
	mu   sync.RWMutex
	ids  map[uuid.UUID]uint64
}

func NewUUIDResolver() *UUIDResolver {
	return &UUIDResolver{ids: make(map[uuid.UUID]uint64)}
}

// Put records the numeric id for a uuid.
func (r *UUIDResolver) Put(u uuid.UUID, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids[u] = id
}

// Remove forgets a uuid, typically on resource disposal.
func (r *UUIDResolver) Remove(u uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ids, u)
}

// Resolve looks up the numeric id for a uuid.
func (r *UUIDResolver) Resolve(u uuid.UUID) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ids[u]
	return id, ok
}

// notificationTarget is the subset of a worker notification envelope that
// may carry a uuid-shaped target identifier instead of (or in addition to)
// a numeric one. Worker builds vary in which they send; resolving from a
// uuid is the fallback this resolver exists to cover.
type notificationTarget struct {
	UUID uuid.UUID `json:"uuid"`
}

// ResolveFromEnvelope returns env's own TargetID when it is non-zero;
// otherwise it looks up the uuid embedded in Data, reporting false if there
// is none or it is not known.
func (r *UUIDResolver) ResolveFromEnvelope(env Envelope) (uint64, bool) {
	if env.TargetID != 0 {
		return env.TargetID, true
	}
	if len(env.Data) == 0 {
		return 0, false
	}
	var t notificationTarget
	if err := json.Unmarshal(env.Data, &t); err != nil || t.UUID == uuid.Nil {
		return 0, false
	}
	return r.Resolve(t.UUID)
}
