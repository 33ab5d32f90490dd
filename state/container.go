// Package state holds a single synchronized value and the local, non
// propagating operations on it. Propagation across contexts is layered on top
// by the mirror package.
package state

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

// Container owns exactly one value of T. T must encode to a JSON object.
// Every mutation builds the complete next value before swapping it in, so
// readers never observe a partially applied change. Values handed to and
// returned by a Container are treated as immutable.
type Container[T any] struct {
	mtx   sync.RWMutex
	value T
	shape shape
	bus   *EventBus[T]
}

func NewContainer[T any](initial T) *Container[T] {
	return &Container[T]{
		value: initial,
		shape: shapeOf[T](),
		bus:   NewEventBus[T](),
	}
}

// Get returns the current value.
func (c *Container[T]) Get() T {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.value
}

// Replace sets the value to exactly v.
func (c *Container[T]) Replace(v T) {
	c.mtx.Lock()
	old := c.value
	c.value = v
	c.mtx.Unlock()
	c.bus.Emit(Event[T]{Old: old, New: v})
}

// Merge shallow-merges p into the current value. Fields absent from p are
// retained. A field unknown to T, matched case-sensitively, or a value of the
// wrong type rejects the whole partial and leaves the value untouched.
func (c *Container[T]) Merge(p Partial) error {
	for field := range p {
		if err := c.shape.check(field); err != nil {
			return err
		}
	}
	c.mtx.Lock()
	old := c.value
	doc, err := json.Marshal(old)
	if err != nil {
		c.mtx.Unlock()
		return errors.Wrap(err, "failed to encode current state")
	}
	doc, err = p.apply(doc)
	if err != nil {
		c.mtx.Unlock()
		return err
	}
	next, err := decode[T](doc)
	if err != nil {
		c.mtx.Unlock()
		return errors.Wrap(err, "partial state does not match state shape")
	}
	c.value = next
	c.mtx.Unlock()
	c.bus.Emit(Event[T]{Old: old, New: next})
	return nil
}

// ReplaceBinary decodes a full JSON encoded state and replaces the current
// value with it. Malformed payloads, and payloads that do not carry every
// field of T under its exact name, are rejected before any mutation.
func (c *Container[T]) ReplaceBinary(b []byte) error {
	next, err := decode[T](b)
	if err != nil {
		return errors.Wrap(err, "failed to decode state payload")
	}
	if err := c.shape.complete(b); err != nil {
		return errors.Wrap(err, "incomplete state payload")
	}
	c.Replace(next)
	return nil
}

// MarshalBinary returns the JSON encoding of the current value.
func (c *Container[T]) MarshalBinary() ([]byte, error) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return Encode(c.value)
}

// Events subscribes to mutations applied to this container.
func (c *Container[T]) Events() (<-chan Event[T], CancelFunc) {
	return c.bus.Events()
}

// Encode returns the JSON encoding of v, refusing anything that is not an
// object.
func Encode[T any](v T) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode state")
	}
	if _, err := decode[T](payload); err != nil {
		return nil, err
	}
	return payload, nil
}
