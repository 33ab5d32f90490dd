package mirror

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/vx-labs/statemesh/cluster"
	"github.com/vx-labs/statemesh/state"
	"go.uber.org/zap"
)

var (
	ErrBootstrapTimeout = errors.New("no peer answered the initial state request")
	ErrClosed           = errors.New("channel is closed")
)

// Channel mirrors one state across every context bound to its category.
//
// Local writes (SetState, MergeState) are applied and then broadcast exactly
// once. Inbound pushes are applied through the container only and are never
// broadcast again: this is what keeps contexts from echoing updates to each
// other forever.
type Channel[T any] struct {
	category Category[T]
	binding  Binding
	store    *state.Container[T]
	channel  cluster.Channel
	logger   *zap.Logger
	metrics  *Metrics
	opts     options

	// mtx serialises mutations so that broadcasts leave in application order.
	mtx     sync.Mutex
	version uint64
	closed  bool

	ready   chan struct{}
	bootErr error
	cancel  context.CancelFunc
	done    chan struct{}
}

// endpoint is what the layer sees: inbound messages only reach the
// non-broadcasting paths.
type endpoint[T any] struct {
	c *Channel[T]
}

func (e endpoint[T]) Merge(payload []byte) error     { return e.c.onUpdate(payload) }
func (e endpoint[T]) MarshalBinary() ([]byte, error) { return e.c.onGetState() }

// New binds a channel for category on layer. Authorities are ready on
// return; replicas start pulling the current state in the background and
// report initial until that pull resolves (see Ready and Wait).
func New[T any](layer cluster.Layer, category Category[T], initial T, binding Binding, opts ...Option) (*Channel[T], error) {
	if category.Name() == "" {
		return nil, ErrEmptyCategory
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel[T]{
		category: category,
		binding:  binding,
		store:    state.NewContainer(initial),
		metrics:  o.metrics,
		opts:     o,
		logger: o.logger.With(
			zap.String("category", category.Name()),
			zap.String("binding", binding.Name),
			zap.String("role", binding.Role.String()),
		),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	ch, err := layer.AddState(category.Name(), endpoint[T]{c: c})
	if err != nil {
		cancel()
		return nil, errors.Wrapf(err, "failed to bind category %s", category.Name())
	}
	c.channel = ch
	ch.Listen()
	if binding.Role == Authority {
		close(c.ready)
		close(c.done)
	} else {
		c.mtx.Lock()
		issued := c.version
		c.mtx.Unlock()
		go c.bootstrap(ctx, issued)
	}
	c.logger.Debug("channel bound")
	return c, nil
}

func (c *Channel[T]) Category() Category[T] {
	return c.category
}
func (c *Channel[T]) Binding() Binding {
	return c.binding
}
func (c *Channel[T]) Role() Role {
	return c.binding.Role
}

// GetState returns the current local value.
func (c *Channel[T]) GetState() T {
	return c.store.Get()
}

// SetState replaces the state with v and broadcasts it.
func (c *Channel[T]) SetState(v T) error {
	payload, err := state.Encode(v)
	if err != nil {
		return err
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.store.Replace(v)
	c.commit(payload)
	return nil
}

// MergeState merges p into the state and broadcasts the resulting full
// state.
func (c *Channel[T]) MergeState(p state.Partial) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.closed {
		return ErrClosed
	}
	if err := c.store.Merge(p); err != nil {
		return err
	}
	payload, err := c.store.MarshalBinary()
	if err != nil {
		return err
	}
	c.commit(payload)
	return nil
}

// commit must be called with mtx held, right after a local mutation.
func (c *Channel[T]) commit(payload []byte) {
	c.version++
	c.metrics.applied.WithLabelValues(c.category.Name(), c.binding.Name, "local").Inc()
	c.channel.Broadcast(payload)
	c.metrics.broadcasts.WithLabelValues(c.category.Name(), c.binding.Name).Inc()
}

func (c *Channel[T]) onUpdate(payload []byte) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.closed {
		return ErrClosed
	}
	if err := c.store.ReplaceBinary(payload); err != nil {
		c.metrics.rejected.WithLabelValues(c.category.Name(), c.binding.Name).Inc()
		c.logger.Warn("rejected remote state", zap.Error(err))
		return err
	}
	c.version++
	c.metrics.applied.WithLabelValues(c.category.Name(), c.binding.Name, "remote").Inc()
	return nil
}

// onGetState answers pulls. A replica stays silent until its own bootstrap
// is over, so it never seeds a peer with an unsynchronised initial value.
func (c *Channel[T]) onGetState() ([]byte, error) {
	select {
	case <-c.ready:
	default:
		return nil, cluster.ErrNotReady
	}
	return c.store.MarshalBinary()
}

// Ready is closed once the channel's bootstrap is over, whatever its
// outcome.
func (c *Channel[T]) Ready() <-chan struct{} {
	return c.ready
}

// Wait blocks until the bootstrap is over and returns its outcome. A
// bootstrap timeout is not fatal: the channel keeps its initial value and
// keeps working.
func (c *Channel[T]) Wait(ctx context.Context) error {
	select {
	case <-c.ready:
		return c.bootErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the bootstrap outcome, or nil while it is still running.
func (c *Channel[T]) Err() error {
	select {
	case <-c.ready:
		return c.bootErr
	default:
		return nil
	}
}

// Events subscribes to every mutation applied to this channel, local or
// remote. Receivers must keep draining the channel: a full subscription
// holds back writers.
func (c *Channel[T]) Events() (<-chan state.Event[T], state.CancelFunc) {
	return c.store.Events()
}

// Close stops the bootstrap if it is still running and releases the
// listener registration. Further writes return ErrClosed.
func (c *Channel[T]) Close() error {
	c.mtx.Lock()
	if c.closed {
		c.mtx.Unlock()
		return nil
	}
	c.closed = true
	c.mtx.Unlock()
	c.cancel()
	<-c.done
	c.logger.Debug("channel closed")
	return c.channel.Close()
}
