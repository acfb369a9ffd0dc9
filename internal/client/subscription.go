package client

import (
	"sync"
	"sync/atomic"
)

// Subscription is the handle returned by every On* method.
type Subscription struct {
	cancelled atomic.Bool
	once      sync.Once
	remove    func()
}

// Cancel stops future callbacks. Calling it more than once is a no-op.
// A callback already running is not interrupted.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.cancelled.Store(true)
		if s.remove != nil {
			s.remove()
		}
	})
}

// Active reports whether the subscription still delivers callbacks.
func (s *Subscription) Active() bool {
	return !s.cancelled.Load()
}

type listener[F any] struct {
	sub *Subscription
	fn  F
}

// listeners is an ordered callback list. Guarded by the client mutex.
type listeners[F any] struct {
	next  uint64
	items map[uint64]listener[F]
	order []uint64
}

// add registers fn. lock guards the list when Cancel removes the entry.
func (l *listeners[F]) add(lock sync.Locker, fn F) *Subscription {
	if l.items == nil {
		l.items = make(map[uint64]listener[F])
	}
	l.next++
	key := l.next
	sub := &Subscription{}
	sub.remove = func() {
		lock.Lock()
		defer lock.Unlock()
		delete(l.items, key)
	}
	l.items[key] = listener[F]{sub: sub, fn: fn}
	l.order = append(l.order, key)
	return sub
}

// snapshot returns the live listeners in registration order.
func (l *listeners[F]) snapshot() []listener[F] {
	out := make([]listener[F], 0, len(l.items))
	kept := l.order[:0]
	for _, key := range l.order {
		if item, ok := l.items[key]; ok {
			out = append(out, item)
			kept = append(kept, key)
		}
	}
	l.order = kept
	return out
}

// retire moves every listener to a new list and leaves l empty. Keys keep
// counting, so a late Cancel on a retired listener cannot hit a new one.
func (l *listeners[F]) retire() *listeners[F] {
	old := &listeners[F]{items: l.items, order: l.order}
	l.items, l.order = nil, nil
	return old
}

// cancelAll cancels every subscription without taking the lock again.
func (l *listeners[F]) cancelAll() {
	for _, item := range l.items {
		item.sub.once.Do(func() { item.sub.cancelled.Store(true) })
	}
	l.items = nil
	l.order = nil
}

// deliver queues one callback per listener. A listener cancelled before its
// turn is skipped.
func deliver[F any](c *Client, ls []listener[F], call func(F)) {
	for _, l := range ls {
		c.emit(func() {
			if l.sub.Active() {
				call(l.fn)
			}
		})
	}
}
