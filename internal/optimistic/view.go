// Package optimistic keeps a view-facing copy of entity fields that can be
// mutated ahead of the authoritative commit. Each in-flight mutation is
// tracked by a handle; deltas on the same entity compose additively and
// resolve independently. Authoritative values always win: Reconcile
// replaces the estimate with the exact result, Rollback reverses exactly
// the delta that was applied.
package optimistic

import (
	"sync"

	"github.com/google/uuid"
)

// Mutation describes the expected effect of an operation on one entity:
// a set of numeric field deltas keyed by field name.
type Mutation struct {
	Ref   string
	Delta map[string]int64
}

// Handle tracks one outstanding optimistic delta until it resolves via
// Reconcile or Rollback.
type Handle struct {
	id  string
	ref string
}

// Ref returns the entity the handle's mutation targets.
func (h *Handle) Ref() string { return h.ref }

type inflight struct {
	ref   string
	delta map[string]int64
}

type View struct {
	mu       sync.Mutex
	base     map[string]map[string]int64
	pending  map[string]inflight
	byEntity map[string][]string
}

func NewView() *View {
	return &View{
		base:     make(map[string]map[string]int64),
		pending:  make(map[string]inflight),
		byEntity: make(map[string][]string),
	}
}

// Observe records an authoritative read. The full field set replaces the
// entity's base values; outstanding optimistic deltas stay applied on top.
func (v *View) Observe(ref string, fields map[string]int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.base[ref] = cloneFields(fields)
}

// ApplyOptimistic layers the mutation's delta onto the entity's view value
// and returns the handle that tracks it until the authoritative result
// arrives.
func (v *View) ApplyOptimistic(m Mutation) *Handle {
	h := &Handle{id: uuid.NewString(), ref: m.Ref}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pending[h.id] = inflight{ref: m.Ref, delta: cloneFields(m.Delta)}
	v.byEntity[m.Ref] = append(v.byEntity[m.Ref], h.id)
	return h
}

// Reconcile resolves the handle with the authoritative result: its delta is
// dropped and the entity's base becomes the exact committed values. Other
// in-flight deltas on the same entity remain layered on top. Resolving an
// already-resolved handle is a no-op.
func (v *View) Reconcile(h *Handle, authoritative map[string]int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.pending[h.id]; !ok {
		return
	}
	v.dropLocked(h)
	v.base[h.ref] = cloneFields(authoritative)
}

// Rollback reverses exactly the delta the handle applied. It does not
// resync the entity, so unrelated concurrent optimistic changes are left
// untouched. Resolving an already-resolved handle is a no-op.
func (v *View) Rollback(h *Handle) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.pending[h.id]; !ok {
		return
	}
	v.dropLocked(h)
}

// Value returns the view value of one field: the last authoritative base
// plus every outstanding optimistic delta.
func (v *View) Value(ref, field string) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	val := v.base[ref][field]
	for _, id := range v.byEntity[ref] {
		val += v.pending[id].delta[field]
	}
	return val
}

// Snapshot returns every field of the entity's view value.
func (v *View) Snapshot(ref string) map[string]int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := cloneFields(v.base[ref])
	if out == nil {
		out = make(map[string]int64)
	}
	for _, id := range v.byEntity[ref] {
		for field, d := range v.pending[id].delta {
			out[field] += d
		}
	}
	return out
}

// Outstanding reports the number of unresolved optimistic deltas for the
// entity.
func (v *View) Outstanding(ref string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.byEntity[ref])
}

func (v *View) dropLocked(h *Handle) {
	delete(v.pending, h.id)
	ids := v.byEntity[h.ref]
	for i, id := range ids {
		if id == h.id {
			v.byEntity[h.ref] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(v.byEntity[h.ref]) == 0 {
		delete(v.byEntity, h.ref)
	}
}

func cloneFields(in map[string]int64) map[string]int64 {
	if in == nil {
		return nil
	}
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
