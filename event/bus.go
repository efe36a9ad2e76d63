package event

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mohae/deepcopy"
)

// Type identifies one kind of store lifecycle event.
type Type string

// The complete set of event types a Bus accepts.
const (
	AutoRenewed Type = "AUTO_RENEWED"
	Cleared     Type = "CLEARED"
	Closing     Type = "CLOSING"
	Pruned      Type = "PRUNED"
	Put         Type = "PUT"
	Removed     Type = "REMOVED"
)

// Delimiter separates the event type from the sequence number in
// subscription ids, e.g. "PUT#17".
const Delimiter = "#"

// ErrClosed is returned by On/Once after Close. Emit and EmitNow panic
// with it instead, since emitting on a closed bus is a programming error
// in the owning store.
var ErrClosed = errors.New("event: bus is closed")

// Types returns the valid event types in a stable order.
func Types() []Type {
	return []Type{AutoRenewed, Cleared, Closing, Pruned, Put, Removed}
}

func validType(t Type) bool {
	switch t {
	case AutoRenewed, Cleared, Closing, Pruned, Put, Removed:
		return true
	}
	return false
}

// Event is the payload delivered to every listener. Data is built once
// per emission and shared across the batch; Attributes is deep-cloned
// per listener so observers cannot corrupt each other's copies.
type Event struct {
	// ID is the subscription id of the listener being invoked.
	ID string

	// Type is the event type that fired.
	Type Type

	// Attributes echoes back the user data given at subscription time.
	Attributes any

	// Data is the type-specific projection of the state change.
	// Nil for Closing.
	Data any

	// Date is the moment the emission's payload was computed.
	Date time.Time

	// Timestamp is Date in milliseconds since the Unix epoch.
	Timestamp int64
}

// Listener receives events it subscribed to.
type Listener func(Event)

type registration struct {
	id         string
	fn         Listener
	fnPtr      uintptr
	attributes any
	once       bool
}

// batch is one emission's snapshotted listener set plus the shared payload.
type batch struct {
	regs    []*registration
	payload Event
}

// Bus dispatches store lifecycle events to subscribed listeners.
// It is safe for concurrent use.
type Bus struct {
	mu        sync.Mutex
	cond      *sync.Cond
	listeners map[Type][]*registration
	queue     []batch
	seq       uint64
	closed    bool
	done      chan struct{}

	now func() time.Time // injectable for deterministic tests
}

// NewBus creates a Bus and starts its dispatcher goroutine.
// The owner must call Close to stop it.
func NewBus() *Bus {
	b := &Bus{
		listeners: make(map[Type][]*registration),
		done:      make(chan struct{}),
		now:       time.Now,
	}
	b.cond = sync.NewCond(&b.mu)
	go b.dispatch()
	return b
}

// On registers a persistent listener for t and returns its subscription
// id. attributes is arbitrary user data echoed back on every invocation.
func (b *Bus) On(t Type, fn Listener, attributes any) (string, error) {
	return b.subscribe(t, fn, attributes, false)
}

// Once registers a single-use listener for t. The registration is
// removed when its event fires, atomically with listener snapshotting.
func (b *Bus) Once(t Type, fn Listener, attributes any) (string, error) {
	return b.subscribe(t, fn, attributes, true)
}

func (b *Bus) subscribe(t Type, fn Listener, attributes any, once bool) (string, error) {
	if !validType(t) {
		return "", fmt.Errorf("event: unknown event type %q: want one of %v", t, Types())
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", ErrClosed
	}

	b.seq++
	reg := &registration{
		id:         string(t) + Delimiter + strconv.FormatUint(b.seq, 10),
		fn:         fn,
		fnPtr:      reflect.ValueOf(fn).Pointer(),
		attributes: attributes,
		once:       once,
	}
	b.listeners[t] = append(b.listeners[t], reg)
	return reg.id, nil
}

// Off removes the first registration under t whose callback is fn.
// No-op if not found. Identity is the callback's code pointer, so
// closures built from the same function literal are indistinguishable;
// use OffByID when that matters.
func (b *Bus) Off(t Type, fn Listener) {
	ptr := reflect.ValueOf(fn).Pointer()

	b.mu.Lock()
	defer b.mu.Unlock()
	regs := b.listeners[t]
	for i, reg := range regs {
		if reg.fnPtr == ptr {
			b.listeners[t] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// OffByID removes the registration identified by id. No-op for ids that
// do not parse or are no longer registered.
func (b *Bus) OffByID(id string) {
	typ, _, ok := strings.Cut(id, Delimiter)
	if !ok {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	regs := b.listeners[Type(typ)]
	for i, reg := range regs {
		if reg.id == id {
			b.listeners[Type(typ)] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// Emit schedules deferred delivery of a t event carrying data. When no
// listeners are registered for t, no payload is computed and nothing is
// queued. Queued batches are delivered in emission order by the
// dispatcher goroutine; a panicking listener is logged and does not
// prevent the rest of its batch from running.
func (b *Bus) Emit(t Type, data any) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		panic(ErrClosed)
	}
	regs := b.snapshotLocked(t)
	if regs == nil {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, batch{regs: regs, payload: b.payloadLocked(t, data)})
	b.cond.Signal()
	b.mu.Unlock()
}

// EmitNow delivers a t event synchronously, in registration order,
// before returning. Listener panics are not recovered on this path.
func (b *Bus) EmitNow(t Type, data any) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		panic(ErrClosed)
	}
	regs := b.snapshotLocked(t)
	if regs == nil {
		b.mu.Unlock()
		return
	}
	bt := batch{regs: regs, payload: b.payloadLocked(t, data)}
	b.mu.Unlock()

	b.deliver(bt, false)
}

// Close drains any queued batches, stops the dispatcher and blocks until
// it has exited. Safe to call multiple times.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()

	<-b.done
}

// snapshotLocked copies the current listener set for t and drops any
// once registrations from the registry. Returns nil when t has no
// listeners. Caller holds b.mu.
func (b *Bus) snapshotLocked(t Type) []*registration {
	regs := b.listeners[t]
	if len(regs) == 0 {
		return nil
	}

	snapshot := make([]*registration, len(regs))
	copy(snapshot, regs)

	kept := regs[:0]
	for _, reg := range regs {
		if !reg.once {
			kept = append(kept, reg)
		}
	}
	b.listeners[t] = kept

	return snapshot
}

func (b *Bus) payloadLocked(t Type, data any) Event {
	now := b.now()
	return Event{
		Type:      t,
		Data:      data,
		Date:      now,
		Timestamp: now.UnixMilli(),
	}
}

// dispatch is the bus's single delivery goroutine. It pops batches in
// FIFO order, so two emissions never have their listener sets
// interleaved, and exits once the bus is closed and the queue is empty.
func (b *Bus) dispatch() {
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if len(b.queue) == 0 {
			b.mu.Unlock()
			close(b.done)
			return
		}
		bt := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()

		b.deliver(bt, true)
	}
}

// deliver invokes every listener in the batch, in registration order,
// with its own copy of the subscription attributes. On the deferred path
// a listener panic, typically a callback referencing state torn down
// since the emission was queued, is recovered and logged as a warning.
func (b *Bus) deliver(bt batch, recovering bool) {
	for _, reg := range bt.regs {
		ev := bt.payload
		ev.ID = reg.id
		ev.Attributes = deepcopy.Copy(reg.attributes)

		if recovering {
			b.invoke(reg, ev)
			continue
		}
		reg.fn(ev)
	}
}

func (b *Bus) invoke(reg *registration, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("event: listener panicked during deferred delivery",
				"type", ev.Type,
				"id", reg.id,
				"err", r,
			)
		}
	}()
	reg.fn(ev)
}
