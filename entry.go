package timedmap

import (
	"time"

	"github.com/mohae/deepcopy"
)

// Entry is one stored value together with its aging metadata.
type Entry[K comparable, V any] struct {
	// Key is the entry's identifier, unique within a Store.
	Key K

	// Value is the stored payload, opaque to the store.
	Value V

	// CreatedAt is the time of creation or last renewing read. Get and
	// GetEntry reset it; Peak does not.
	CreatedAt time.Time

	// TTL is the entry-specific time-to-live. Zero means the store's
	// class-level MaxEntryAge applies.
	TTL time.Duration
}

// clone returns an independent copy of the entry, deep-copying the value
// so callers and listeners cannot reach into store-owned state.
func (e Entry[K, V]) clone() Entry[K, V] {
	c := e
	c.Value = cloneValue(e.Value)
	return c
}

func cloneValue[V any](v V) V {
	cp := deepcopy.Copy(v)
	if cp == nil {
		var zero V
		return zero
	}
	return cp.(V)
}

// RenewedData is the AUTO_RENEWED event payload: a read restamped the
// entry's CreatedAt.
type RenewedData[K comparable] struct {
	Key                 K
	CreatedAt           time.Time
	PreviouslyCreatedAt time.Time
}

// PutData is the PUT event payload. Previous is nil when the key was
// fresh or its prior entry had already expired.
type PutData[K comparable, V any] struct {
	Current  Entry[K, V]
	Previous *Entry[K, V]
}

// RemovedData is the REMOVED event payload. Removed is nil when the key
// was absent or its entry had already expired.
type RemovedData[K comparable, V any] struct {
	Removed *Entry[K, V]
}

// PrunedData is the PRUNED event payload: the entries evicted by one
// sweep.
type PrunedData[K comparable, V any] struct {
	Removed []Entry[K, V]
}

// ClearedData is the CLEARED event payload: a snapshot of everything the
// store held when Clear was called.
type ClearedData[K comparable, V any] struct {
	Removed []Entry[K, V]
}
