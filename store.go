package timedmap

import (
	"errors"
	"sync"
	"time"

	"github.com/steveswork/timed-map/event"
)

// DefaultMaxEntryAge is the class-level TTL applied when the constructor
// receives no usable value.
const DefaultMaxEntryAge = 30 * time.Minute

// ErrClosed is the panic value raised by any operation on a Store after
// Close. Using a store past its lifetime is a programming error, so it
// fails fast instead of silently no-opping.
var ErrClosed = errors.New("timedmap: store is closed")

// Store is a TTL-tracking key/value map with lazy plus scheduled
// eviction. It is safe for concurrent use.
//
// Exactly one background sweep is ever outstanding: the timer exists if
// and only if the store holds entries, and every path that starts or
// reschedules it cancels the previous one first.
type Store[K comparable, V any] struct {
	mu      sync.Mutex
	maxAge  time.Duration
	entries map[K]*Entry[K, V]
	pruneAt time.Time   // target of the next scheduled sweep; zero when empty
	timer   *time.Timer // the single outstanding sweep, or nil
	bus     *event.Bus
	closing bool
	closed  bool

	now func() time.Time // injectable for deterministic tests
}

// New creates a Store with the given class-level TTL. Non-positive
// values fall back to DefaultMaxEntryAge.
func New[K comparable, V any](maxEntryAge time.Duration) *Store[K, V] {
	if maxEntryAge <= 0 {
		maxEntryAge = DefaultMaxEntryAge
	}
	return &Store[K, V]{
		maxAge:  maxEntryAge,
		entries: make(map[K]*Entry[K, V]),
		bus:     event.NewBus(),
		now:     time.Now,
	}
}

// MaxEntryAge returns the current class-level TTL.
func (s *Store[K, V]) MaxEntryAge() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkOpenLocked()
	return s.maxAge
}

// SetMaxEntryAge changes the class-level TTL. Non-positive or unchanged
// values are ignored. Entries keep their original CreatedAt stamps,
// so changing the TTL never resets effective aging, but the upcoming sweep
// shifts: the current cycle's start is preserved and the timer is
// rescheduled to fire newAge minus the time already elapsed in the cycle
// (immediately, if that is already overdue).
func (s *Store[K, V]) SetMaxEntryAge(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkOpenLocked()

	if d <= 0 || d == s.maxAge {
		return
	}

	old := s.maxAge
	s.maxAge = d

	if len(s.entries) == 0 {
		return
	}

	cycleStart := s.pruneAt.Add(-old)
	elapsed := s.now().Sub(cycleStart)
	s.pruneAt = cycleStart.Add(d)

	delay := d - elapsed
	if delay < 0 {
		delay = 0
	}
	s.stopTimerLocked()
	s.timer = time.AfterFunc(delay, s.timedSweep)
}

// Entries returns independent copies of all live entries, pruning
// expired ones first.
func (s *Store[K, V]) Entries() []Entry[K, V] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkOpenLocked()
	s.sweepLocked()

	out := make([]Entry[K, V], 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.clone())
	}
	return out
}

// Keys returns the keys of all live entries, pruning expired ones first.
func (s *Store[K, V]) Keys() []K {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkOpenLocked()
	s.sweepLocked()

	out := make([]K, 0, len(s.entries))
	for k := range s.entries {
		out = append(out, k)
	}
	return out
}

// Size returns the number of live entries, pruning expired ones first.
func (s *Store[K, V]) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkOpenLocked()
	s.sweepLocked()
	return len(s.entries)
}

// IsEmpty reports whether the store holds no live entries, pruning
// expired ones first.
func (s *Store[K, V]) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkOpenLocked()
	s.sweepLocked()
	return len(s.entries) == 0
}

// Has reports whether key holds a live entry. An entry found expired is
// actively removed (emitting REMOVED) and reported absent, making Has a
// pruning trigger for the one key it inspects.
func (s *Store[K, V]) Has(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkOpenLocked()

	e, ok := s.entries[key]
	if !ok {
		return false
	}
	if s.expiredLocked(e, s.now()) {
		s.removeLocked(key)
		return false
	}
	return true
}

// Get is a renewing read: it restamps the entry's CreatedAt, emits
// AUTO_RENEWED and returns an independent copy of the value. The second
// return is false when the key is absent or its entry expired.
func (s *Store[K, V]) Get(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.renewLocked(key)
	if e == nil {
		var zero V
		return zero, false
	}
	return cloneValue(e.Value), true
}

// GetEntry is Get returning a copy of the whole post-renewal entry
// instead of just the value. Nil when the key is absent or expired.
func (s *Store[K, V]) GetEntry(key K) *Entry[K, V] {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.renewLocked(key)
	if e == nil {
		return nil
	}
	c := e.clone()
	return &c
}

// Peak is a non-renewing read: it returns the value without touching
// CreatedAt and without emitting anything. Expired entries are reported
// absent but left for the next pruning trigger.
func (s *Store[K, V]) Peak(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkOpenLocked()

	e, ok := s.entries[key]
	if !ok || s.expiredLocked(e, s.now()) {
		var zero V
		return zero, false
	}
	return cloneValue(e.Value), true
}

// Put creates or overwrites the entry at key, inheriting the store's
// class-level TTL. It returns the prior entry if one existed and was
// still live, and emits PUT.
func (s *Store[K, V]) Put(key K, value V) *Entry[K, V] {
	return s.put(key, value, 0)
}

// PutTTL is Put with an entry-specific TTL overriding the class-level
// one. Non-positive ttl values fall back to inheriting.
func (s *Store[K, V]) PutTTL(key K, value V, ttl time.Duration) *Entry[K, V] {
	if ttl < 0 {
		ttl = 0
	}
	return s.put(key, value, ttl)
}

func (s *Store[K, V]) put(key K, value V, ttl time.Duration) *Entry[K, V] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkOpenLocked()

	now := s.now()

	var prev *Entry[K, V]
	if old, ok := s.entries[key]; ok && !s.expiredLocked(old, now) {
		c := old.clone()
		prev = &c
	}

	wasEmpty := len(s.entries) == 0
	e := &Entry[K, V]{Key: key, Value: value, CreatedAt: now, TTL: ttl}
	s.entries[key] = e
	if wasEmpty {
		s.startAgingLocked(now)
	}

	data := PutData[K, V]{Current: e.clone()}
	if prev != nil {
		c := prev.clone()
		data.Previous = &c
	}
	s.bus.Emit(event.Put, data)

	return prev
}

// Remove deletes the entry at key. An entry already expired is treated
// as logically absent: it is still deleted, but nil is both returned and
// carried by the REMOVED emission. The timer is cancelled when the store
// empties.
func (s *Store[K, V]) Remove(key K) *Entry[K, V] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkOpenLocked()
	return s.removeLocked(key)
}

// Clear empties the store, resets aging and emits CLEARED carrying a
// snapshot of everything that was held. No-op when already empty.
func (s *Store[K, V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkOpenLocked()

	if len(s.entries) == 0 {
		return
	}

	snapshot := make([]Entry[K, V], 0, len(s.entries))
	for _, e := range s.entries {
		snapshot = append(snapshot, e.clone())
	}
	s.entries = make(map[K]*Entry[K, V])
	s.resetAgingLocked()

	s.bus.Emit(event.Cleared, ClearedData[K, V]{Removed: snapshot})
}

// Close emits CLOSING synchronously so observers can react before
// teardown, cancels the pending sweep and shuts the event bus down,
// draining any queued deferred deliveries. Close is idempotent; every
// other operation on a closed store panics with ErrClosed.
func (s *Store[K, V]) Close() {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	s.mu.Unlock()

	// Listeners may still use the store while CLOSING is delivered.
	s.bus.EmitNow(event.Closing, nil)

	s.mu.Lock()
	s.closed = true
	s.stopTimerLocked()
	s.pruneAt = time.Time{}
	s.mu.Unlock()

	s.bus.Close()
}

// On registers a persistent listener for t and returns its subscription
// id. attributes is echoed back on every invocation of this listener.
func (s *Store[K, V]) On(t event.Type, fn event.Listener, attributes any) (string, error) {
	s.checkOpen()
	return s.bus.On(t, fn, attributes)
}

// Once registers a single-use listener for t.
func (s *Store[K, V]) Once(t event.Type, fn event.Listener, attributes any) (string, error) {
	s.checkOpen()
	return s.bus.Once(t, fn, attributes)
}

// Off removes the first listener registered under t with the same
// callback.
func (s *Store[K, V]) Off(t event.Type, fn event.Listener) {
	s.checkOpen()
	s.bus.Off(t, fn)
}

// OffByID removes the registration identified by a subscription id.
func (s *Store[K, V]) OffByID(id string) {
	s.checkOpen()
	s.bus.OffByID(id)
}

// --- internal ---------------------------------------------------------------

func (s *Store[K, V]) checkOpen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkOpenLocked()
}

func (s *Store[K, V]) checkOpenLocked() {
	if s.closed {
		panic(ErrClosed)
	}
}

func (s *Store[K, V]) effectiveTTLLocked(e *Entry[K, V]) time.Duration {
	if e.TTL > 0 {
		return e.TTL
	}
	return s.maxAge
}

func (s *Store[K, V]) expiredLocked(e *Entry[K, V], now time.Time) bool {
	return now.Sub(e.CreatedAt) >= s.effectiveTTLLocked(e)
}

// renewLocked implements the shared read path of Get and GetEntry:
// expired entries are removed (via the Has semantics), live ones get a
// fresh CreatedAt and an AUTO_RENEWED emission.
func (s *Store[K, V]) renewLocked(key K) *Entry[K, V] {
	s.checkOpenLocked()

	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	now := s.now()
	if s.expiredLocked(e, now) {
		s.removeLocked(key)
		return nil
	}

	prev := e.CreatedAt
	e.CreatedAt = now
	s.bus.Emit(event.AutoRenewed, RenewedData[K]{
		Key:                 key,
		CreatedAt:           now,
		PreviouslyCreatedAt: prev,
	})
	return e
}

func (s *Store[K, V]) removeLocked(key K) *Entry[K, V] {
	var removed *Entry[K, V]
	if e, ok := s.entries[key]; ok {
		if !s.expiredLocked(e, s.now()) {
			c := e.clone()
			removed = &c
		}
		delete(s.entries, key)
		if len(s.entries) == 0 {
			s.resetAgingLocked()
		}
	}

	var data RemovedData[K, V]
	if removed != nil {
		c := removed.clone()
		data.Removed = &c
	}
	s.bus.Emit(event.Removed, data)

	return removed
}

// sweepLocked removes every prune-eligible entry, then either resets
// aging (store emptied) or reschedules the timer for a full maxAge from
// now. PRUNED is emitted only when the sweep actually removed something.
func (s *Store[K, V]) sweepLocked() {
	now := s.now()

	var removed []Entry[K, V]
	for k, e := range s.entries {
		if s.expiredLocked(e, now) {
			removed = append(removed, e.clone())
			delete(s.entries, k)
		}
	}

	if len(s.entries) == 0 {
		s.resetAgingLocked()
	} else {
		s.stopTimerLocked()
		s.startAgingLocked(now)
	}

	if len(removed) > 0 {
		s.bus.Emit(event.Pruned, PrunedData[K, V]{Removed: removed})
	}
}

// timedSweep is the scheduled-sweep callback.
func (s *Store[K, V]) timedSweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.sweepLocked()
}

func (s *Store[K, V]) startAgingLocked(now time.Time) {
	s.stopTimerLocked()
	s.pruneAt = now.Add(s.maxAge)
	s.timer = time.AfterFunc(s.maxAge, s.timedSweep)
}

func (s *Store[K, V]) resetAgingLocked() {
	s.stopTimerLocked()
	s.pruneAt = time.Time{}
}

func (s *Store[K, V]) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
