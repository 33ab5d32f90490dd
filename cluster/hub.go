package cluster

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Hub connects isolated contexts living in the same process. Each context is
// a Node with its own mailbox: everything a node receives is handled one
// message at a time, in the order each sender posted it.
type Hub struct {
	mtx        sync.RWMutex
	nodes      map[string]*Node
	logger     *zap.Logger
	deliveries uint64
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		nodes:  map[string]*Node{},
		logger: logger,
	}
}

// Node returns the context registered under name, creating it on first use.
func (h *Hub) Node(name string) *Node {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if n, ok := h.nodes[name]; ok {
		return n
	}
	n := &Node{
		name:     name,
		hub:      h,
		channels: map[string]*hubChannel{},
		mailbox:  newMailbox(),
		logger:   h.logger.With(zap.String("node_id", name)),
	}
	h.nodes[name] = n
	return n
}

// Deliveries returns how many pushes were handed to a listening state.
func (h *Hub) Deliveries() uint64 {
	return atomic.LoadUint64(&h.deliveries)
}

// Sync waits until every message posted before the call has been handled.
func (h *Hub) Sync() {
	nodes := h.peers(nil)
	wg := sync.WaitGroup{}
	for _, n := range nodes {
		wg.Add(1)
		if !n.mailbox.post(wg.Done) {
			wg.Done()
		}
	}
	wg.Wait()
}

// Close stops every node.
func (h *Hub) Close() {
	for _, n := range h.peers(nil) {
		n.Close()
	}
}

// peers returns every node but self, sorted by name.
func (h *Hub) peers(self *Node) []*Node {
	h.mtx.RLock()
	defer h.mtx.RUnlock()
	out := make([]*Node, 0, len(h.nodes))
	for _, n := range h.nodes {
		if n != self {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Node is one isolated context attached to a Hub.
type Node struct {
	name     string
	hub      *Hub
	mtx      sync.RWMutex
	channels map[string]*hubChannel
	mailbox  *mailbox
	logger   *zap.Logger
}

var _ Layer = &Node{}

func (n *Node) Name() string {
	return n.name
}

func (n *Node) AddState(category string, state State) (Channel, error) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	if _, ok := n.channels[category]; ok {
		return nil, ErrStateKeyAlreadySet
	}
	ch := &hubChannel{
		node:     n,
		category: category,
		state:    state,
	}
	n.channels[category] = ch
	return ch, nil
}

// Close detaches the node from its hub once its mailbox is drained.
func (n *Node) Close() {
	n.hub.mtx.Lock()
	if n.hub.nodes[n.name] == n {
		delete(n.hub.nodes, n.name)
	}
	n.hub.mtx.Unlock()
	n.mailbox.close()
}

func (n *Node) listening(category string) *hubChannel {
	n.mtx.RLock()
	defer n.mtx.RUnlock()
	ch, ok := n.channels[category]
	if !ok || atomic.LoadInt32(&ch.listening) == 0 {
		return nil
	}
	return ch
}

// safely runs a handler, turning a panic into an error so that a faulty
// state never takes the mailbox down.
func (n *Node) safely(category string, f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
			n.logger.Error("recovered from handler panic", zap.String("category", category), zap.String("panic_log", fmt.Sprint(r)))
		}
	}()
	return f()
}

func (n *Node) deliver(from, category string, payload []byte) {
	ch := n.listening(category)
	if ch == nil {
		return
	}
	atomic.AddUint64(&n.hub.deliveries, 1)
	err := n.safely(category, func() error { return ch.state.Merge(payload) })
	if err != nil {
		n.logger.Warn("failed to merge remote state",
			zap.String("category", category), zap.String("remote_node_id", from), zap.Error(err))
	}
}

func (n *Node) answer(category string) ([]byte, error) {
	ch := n.listening(category)
	if ch == nil {
		return nil, ErrNoResponder
	}
	var payload []byte
	err := n.safely(category, func() (err error) {
		payload, err = ch.state.MarshalBinary()
		return err
	})
	return payload, err
}

type hubChannel struct {
	node      *Node
	category  string
	state     State
	listening int32
	closed    int32
}

func (c *hubChannel) Listen() {
	atomic.StoreInt32(&c.listening, 1)
}

func (c *hubChannel) Broadcast(payload []byte) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return
	}
	from := c.node.name
	for _, peer := range c.node.hub.peers(c.node) {
		peer := peer
		peer.mailbox.post(func() {
			peer.deliver(from, c.category, payload)
		})
	}
}

type answer struct {
	payload []byte
	err     error
}

func (c *hubChannel) Pull(ctx context.Context) ([]byte, error) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return nil, ErrChannelClosed
	}
	peers := c.node.hub.peers(c.node)
	answers := make(chan answer, len(peers))
	asked := 0
	for _, peer := range peers {
		if peer.listening(c.category) == nil {
			continue
		}
		peer := peer
		if peer.mailbox.post(func() {
			payload, err := peer.answer(c.category)
			answers <- answer{payload: payload, err: err}
		}) {
			asked++
		}
	}
	if asked == 0 {
		return nil, ErrNoResponder
	}
	for i := 0; i < asked; i++ {
		select {
		case a := <-answers:
			if a.err == nil {
				return a.payload, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, ErrNoResponder
}

func (c *hubChannel) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	atomic.StoreInt32(&c.listening, 0)
	c.node.mtx.Lock()
	defer c.node.mtx.Unlock()
	if c.node.channels[c.category] == c {
		delete(c.node.channels, c.category)
	}
	return nil
}
