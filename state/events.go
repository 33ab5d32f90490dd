package state

import (
	"sync/atomic"

	"github.com/google/uuid"
	iradix "github.com/hashicorp/go-immutable-radix"
)

// Event describes one applied mutation.
type Event[T any] struct {
	Old T
	New T
}

type subscription[T any] struct {
	ch   chan Event[T]
	quit chan struct{}
}

type CancelFunc func()

const subscriptionBuffer = 32

// EventBus fans mutation events out to subscribers. Subscriptions live in an
// immutable radix tree swapped with compare-and-swap, so Emit never takes a
// lock.
type EventBus[T any] struct {
	state atomic.Pointer[iradix.Tree]
}

func NewEventBus[T any]() *EventBus[T] {
	bus := &EventBus[T]{}
	bus.state.Store(iradix.New())
	return bus
}

func (e *EventBus[T]) cas(old, new *iradix.Tree) bool {
	return e.state.CompareAndSwap(old, new)
}

// Emit delivers ev to every subscriber. A subscriber whose buffer is full
// back-pressures the emitter until it reads or cancels.
func (e *EventBus[T]) Emit(ev Event[T]) {
	e.state.Load().Root().Walk(func(k []byte, v interface{}) bool {
		sub := v.(*subscription[T])
		select {
		case <-sub.quit:
			return false
		default:
		}
		select {
		case <-sub.quit:
		case sub.ch <- ev:
		}
		return false
	})
}

// Events subscribes to the bus. Once cancel returns, later Emit calls skip
// the subscription; an Emit already running concurrently may still deliver
// one last event. The channel is never closed.
func (e *EventBus[T]) Events() (<-chan Event[T], CancelFunc) {
	sub := &subscription[T]{
		ch:   make(chan Event[T], subscriptionBuffer),
		quit: make(chan struct{}),
	}
	id := uuid.New().String()
	var cancelled int32
	cancel := func() {
		if !atomic.CompareAndSwapInt32(&cancelled, 0, 1) {
			return
		}
		for {
			old := e.state.Load()
			new, _, _ := old.Delete([]byte(id))
			if e.cas(old, new) {
				close(sub.quit)
				return
			}
		}
	}
	for {
		old := e.state.Load()
		new, _, _ := old.Insert([]byte(id), sub)
		if e.cas(old, new) {
			return sub.ch, cancel
		}
	}
}

// Len returns the number of active subscriptions.
func (e *EventBus[T]) Len() int {
	return e.state.Load().Len()
}
