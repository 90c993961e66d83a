// Package session implements the per-bucket-locked session table
// shared by every protocol analyzer, grounded in the find-or-insert and
// timed-sweep dance of original_source/sensor/include's connection
// tables (e.g. httpFlow.hpp's session map) generalized with Go
// generics in place of the original's per-protocol copy-pasted table
// implementation.
package session

import (
	"sync"

	"github.com/levigross/netSensor/internal/packetview"
	"github.com/levigross/netSensor/internal/slab"
	"github.com/levigross/netSensor/internal/ts"
)

// entry links a flow-id to its session handle inside a bucket chain.
type entry[S any] struct {
	flow   packetview.FlowID
	handle slab.Handle[S]
	next   *entry[S]
}

// Table is a fixed-bucket-count hash map from flow-id to session
// handle, with one mutex per bucket. The bucket count is fixed at
// construction and never grows.
type Table[S any] struct {
	buckets []bucketState[S]
	mask    uint32 // bucketCount must be a power of two
}

type bucketState[S any] struct {
	mu    sync.Mutex
	chain *entry[S]
}

// NewTable constructs a table with bucketCount buckets. bucketCount is
// rounded up to the next power of two so index selection can use a
// mask instead of a modulo.
func NewTable[S any](bucketCount int) *Table[S] {
	n := nextPowerOfTwo(bucketCount)
	return &Table[S]{
		buckets: make([]bucketState[S], n),
		mask:    uint32(n - 1),
	}
}

func nextPowerOfTwo(n int) int {
	if n < 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (t *Table[S]) bucketIndex(f packetview.FlowID) uint32 {
	var h uint32 = 2166136261 // FNV-1a offset basis
	for _, b := range f {
		h ^= uint32(b)
		h *= 16777619
	}
	return h & t.mask
}

// OpenFunc constructs and initializes a new session for a packet that
// is opening a session, returning ok=false (and consuming no pool
// capacity) when the analyzer's predicate says this packet does not
// open one.
type OpenFunc[S any] func() (slab.Handle[S], bool)

// Lookup finds the session for a packet's forward or reverse flow-id.
// On a double miss, if open is non-nil it is invoked to decide whether
// to start a new session; the new handle, if any, is inserted under
// the forward flow's bucket. fn runs with the owning bucket's mutex
// held, so it may safely mutate the session.
func (t *Table[S]) Lookup(v *packetview.View, open OpenFunc[S], fn func(handle slab.Handle[S], isNew bool)) {
	fwd := v.ForwardFlowID()
	rev := v.ReverseFlowID()

	fi := t.bucketIndex(fwd)
	fb := &t.buckets[fi]

	fb.mu.Lock()
	if h, ok := find(fb.chain, fwd); ok {
		fn(h, false)
		fb.mu.Unlock()
		return
	}
	fb.mu.Unlock()

	ri := t.bucketIndex(rev)
	rb := &t.buckets[ri]

	rb.mu.Lock()
	if h, ok := find(rb.chain, rev); ok {
		fn(h, false)
		rb.mu.Unlock()
		return
	}
	rb.mu.Unlock()

	if open == nil {
		return
	}
	handle, ok := open()
	if !ok {
		return
	}

	fb.mu.Lock()
	fb.chain = &entry[S]{flow: fwd, handle: handle, next: fb.chain}
	fn(handle, true)
	fb.mu.Unlock()
}

func find[S any](chain *entry[S], flow packetview.FlowID) (slab.Handle[S], bool) {
	for e := chain; e != nil; e = e.next {
		if e.flow == flow {
			return e.handle, true
		}
	}
	return slab.Handle[S]{}, false
}

// LastUpdated is implemented by session payloads that carry an
// activity timestamp, allowing Sweep to apply idle eviction generically.
type LastUpdated interface {
	LastUpdate() ts.Timestamp
}

// Sweep walks every bucket and, for each session whose LastUpdate
// precedes now by at least idleTimeout seconds, invokes onExpire (with
// that bucket's mutex held) and removes the entry from the chain.
// Bucket-granular locking lets Lookup on one bucket proceed
// concurrently with a sweep of another. onExpire takes ownership of
// the handle's table reference and must Release it once done (e.g.
// after handing it to a writer).
func Sweep[S LastUpdated](t *Table[S], now ts.Timestamp, idleTimeout int64, onExpire func(handle slab.Handle[S])) {
	for i := range t.buckets {
		b := &t.buckets[i]
		b.mu.Lock()

		var kept *entry[S]
		e := b.chain
		for e != nil {
			nextEntry := e.next
			s := e.handle.Value()
			if s != nil && (*s).LastUpdate().IdleSince(now, idleTimeout) {
				onExpire(e.handle)
			} else {
				e.next = kept
				kept = e
			}
			e = nextEntry
		}
		b.chain = kept

		b.mu.Unlock()
	}
}

// BucketCount returns the fixed number of buckets (a power of two, at
// least bucketCount as originally requested).
func (t *Table[S]) BucketCount() int { return len(t.buckets) }
