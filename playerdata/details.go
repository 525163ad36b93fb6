package playerdata

import (
	"sync"
	"sync/atomic"

	"github.com/c360/networker/channel"
)

// ChangeListener is called after a field changed
type ChangeListener func(field string, oldValue, newValue any)

type changeListener struct {
	fn     ChangeListener
	linked atomic.Bool
}

// Details is the live, observable record of one connected player. Changes go
// through Set, which notifies every listener with the old and new value.
type Details struct {
	peer channel.PeerID

	mu   sync.Mutex
	data Data

	listenersMu sync.RWMutex
	listeners   map[uint64]*changeListener
	next        uint64
}

// NewDetails wraps data for peer
func NewDetails(peer channel.PeerID, data Data) *Details {
	return &Details{
		peer:      peer,
		data:      data,
		listeners: make(map[uint64]*changeListener),
	}
}

// Peer returns the owning player
func (d *Details) Peer() channel.PeerID {
	return d.peer
}

// Snapshot returns a copy of the current record
func (d *Details) Snapshot() Data {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.data
}

// Get returns the current value of field
func (d *Details) Get(field string) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.data.Get(field)
}

// Set changes field to value. Listeners run only when the value actually changed.
func (d *Details) Set(field string, value any) error {
	return d.update(field, func(any) (any, error) { return value, nil })
}

// AddMoney adds delta to the money field. The result must not go below zero.
func (d *Details) AddMoney(delta int) error {
	return d.update(FieldMoney, func(old any) (any, error) { return old.(int) + delta, nil })
}

func (d *Details) update(field string, next func(old any) (any, error)) error {
	d.mu.Lock()
	old, err := d.data.Get(field)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	value, err := next(old)
	if err == nil {
		err = d.data.set(field, value)
	}
	d.mu.Unlock()
	if err != nil {
		return err
	}

	if old != value {
		d.notify(field, old, value)
	}
	return nil
}

func (d *Details) notify(field string, old, value any) {
	d.listenersMu.RLock()
	ls := make([]*changeListener, 0, len(d.listeners))
	for _, l := range d.listeners {
		ls = append(ls, l)
	}
	d.listenersMu.RUnlock()

	for _, l := range ls {
		if l.linked.Load() {
			l.fn(field, old, value)
		}
	}
}

// OnChanged registers fn for every later change
func (d *Details) OnChanged(fn ChangeListener) channel.Unlinker {
	l := &changeListener{fn: fn}
	l.linked.Store(true)

	d.listenersMu.Lock()
	d.next++
	id := d.next
	d.listeners[id] = l
	d.listenersMu.Unlock()

	return channel.UnlinkFunc(func() channel.Result {
		if !l.linked.CompareAndSwap(true, false) {
			return channel.Fail("already unlinked")
		}
		d.listenersMu.Lock()
		delete(d.listeners, id)
		d.listenersMu.Unlock()
		return channel.Ok("unlinked")
	})
}
