package cluster

import (
	"context"
	"sync"
)

// MockedLayer records every message sent through it and lets tests play the
// part of the remote contexts.
type MockedLayer struct {
	mtx        sync.Mutex
	states     map[string]State
	listening  map[string]bool
	broadcasts map[string][][]byte
	pulls      map[string]int
	// PullFunc answers Pull calls. Pull returns ErrNoResponder when nil.
	PullFunc func(ctx context.Context, category string) ([]byte, error)
}

var _ Layer = &MockedLayer{}

func NewMockedLayer() *MockedLayer {
	return &MockedLayer{
		states:     map[string]State{},
		listening:  map[string]bool{},
		broadcasts: map[string][][]byte{},
		pulls:      map[string]int{},
	}
}

type mockedChannel struct {
	layer    *MockedLayer
	category string
}

func (m *MockedLayer) AddState(category string, state State) (Channel, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if _, ok := m.states[category]; ok {
		return nil, ErrStateKeyAlreadySet
	}
	m.states[category] = state
	return &mockedChannel{layer: m, category: category}, nil
}

func (c *mockedChannel) Listen() {
	c.layer.mtx.Lock()
	defer c.layer.mtx.Unlock()
	c.layer.listening[c.category] = true
}
func (c *mockedChannel) Broadcast(b []byte) {
	c.layer.mtx.Lock()
	defer c.layer.mtx.Unlock()
	c.layer.broadcasts[c.category] = append(c.layer.broadcasts[c.category], b)
}
func (c *mockedChannel) Pull(ctx context.Context) ([]byte, error) {
	c.layer.mtx.Lock()
	c.layer.pulls[c.category]++
	f := c.layer.PullFunc
	c.layer.mtx.Unlock()
	if f == nil {
		return nil, ErrNoResponder
	}
	return f(ctx, c.category)
}
func (c *mockedChannel) Close() error {
	c.layer.mtx.Lock()
	defer c.layer.mtx.Unlock()
	delete(c.layer.states, c.category)
	delete(c.layer.listening, c.category)
	return nil
}

// Broadcasts returns the payloads broadcast on category so far.
func (m *MockedLayer) Broadcasts(category string) [][]byte {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	out := make([][]byte, len(m.broadcasts[category]))
	copy(out, m.broadcasts[category])
	return out
}

// Pulls returns how many pull requests were issued on category.
func (m *MockedLayer) Pulls(category string) int {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.pulls[category]
}

// Deliver pushes payload to the state registered on category, as a remote
// broadcast would.
func (m *MockedLayer) Deliver(category string, payload []byte) error {
	state, err := m.listeningState(category)
	if err != nil {
		return err
	}
	return state.Merge(payload)
}

// Request asks the state registered on category for its current value, as a
// remote pull would.
func (m *MockedLayer) Request(category string) ([]byte, error) {
	state, err := m.listeningState(category)
	if err != nil {
		return nil, err
	}
	return state.MarshalBinary()
}

func (m *MockedLayer) listeningState(category string) (State, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	state, ok := m.states[category]
	if !ok || !m.listening[category] {
		return nil, ErrNoResponder
	}
	return state, nil
}
