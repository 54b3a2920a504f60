// Package byteref implements the reference-counted immutable byte buffer
// handle of spec §3 ("Byte-ref"): a (slice, length, v-table) triple with
// shared ownership. [Ref.Acquire] increments a refcount; [Ref.Release]
// decrements it and, on reaching zero, invokes a type-specific "dec_ref"
// hook that frees the underlying storage — in practice either a plain
// []byte buffer or a shared on-disk [Block].
//
// The refcount itself is a CAS retry loop over an atomic counter, the same
// idiom the teacher uses for per-file open-counts (agent-task's
// pkg/slotcache/lock.go, fileRegistryEntry.openCount / getOrCreateRegistryEntry).
package byteref

import "sync/atomic"

// DecRefFunc is the v-table hook invoked exactly once, when the last
// reference to a Ref is released. It may be nil (e.g. for a buffer owned
// outright by its creator with no shared backing to free).
type DecRefFunc func()

// Ref is a shared, reference-counted handle to an immutable byte slice.
//
// Construct with [New]; the returned Ref starts with one live reference
// (the one the caller holds). Call [Ref.Acquire] to share it and
// [Ref.Release] once per Acquire (and once for the original reference)
// when done.
type Ref struct {
	data   []byte
	count  atomic.Int32
	decRef DecRefFunc
}

// New wraps data in a Ref with one live reference. decRef, if non-nil, is
// called exactly once when the reference count reaches zero.
func New(data []byte, decRef DecRefFunc) *Ref {
	r := &Ref{data: data, decRef: decRef}
	r.count.Store(1)

	return r
}

// Bytes returns the underlying immutable slice. The caller must hold a
// live reference (i.e. must not call this after a matching Release).
func (r *Ref) Bytes() []byte {
	if r == nil {
		return nil
	}

	return r.data
}

// Len returns len(r.Bytes()).
func (r *Ref) Len() int {
	if r == nil {
		return 0
	}

	return len(r.data)
}

// Acquire increments the reference count and returns r, for chaining at
// call sites that hand the same Ref to multiple owners (e.g. a sorted-set
// entry's key and a scan result sharing one underlying buffer).
//
// Panics if called after the last reference was already released — that
// is a use-after-free bug in the caller, and the teacher's convention
// (rwcsem.Release, slotcache's registry) is to fail loud rather than
// resurrect a freed handle.
func (r *Ref) Acquire() *Ref {
	for {
		old := r.count.Load()
		if old <= 0 {
			panic("byteref: acquire on a fully-released Ref")
		}

		if r.count.CompareAndSwap(old, old+1) {
			return r
		}
	}
}

// Release decrements the reference count. When it reaches zero, the
// decRef hook (if any) runs exactly once, on the releasing goroutine.
func (r *Ref) Release() {
	if r == nil {
		return
	}

	for {
		old := r.count.Load()
		if old <= 0 {
			panic("byteref: unbalanced release")
		}

		if r.count.CompareAndSwap(old, old-1) {
			if old == 1 && r.decRef != nil {
				r.decRef()
			}

			return
		}
	}
}

// RefCount returns the current live reference count, for tests and
// diagnostics.
func (r *Ref) RefCount() int32 {
	if r == nil {
		return 0
	}

	return r.count.Load()
}
