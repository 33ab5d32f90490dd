package mirror

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func (c *Channel[T]) retryPolicy(ctx context.Context) backoff.BackOff {
	if c.opts.bootstrapTimeout <= 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	policy.MaxInterval = time.Second
	policy.MaxElapsedTime = c.opts.bootstrapTimeout
	return backoff.WithContext(policy, ctx)
}

func (c *Channel[T]) pullResult(result string) {
	c.metrics.pulls.WithLabelValues(c.category.Name(), c.binding.Name, result).Inc()
}

// bootstrap pulls the current state from the other contexts and applies it
// without broadcasting. It gives up after the bootstrap timeout and keeps
// the initial value. issued is the version the channel was created at: any
// mutation applied since then is newer than the snapshot.
func (c *Channel[T]) bootstrap(ctx context.Context, issued uint64) {
	defer close(c.done)
	defer close(c.ready)

	var (
		payload []byte
		lastErr error
	)
	err := backoff.Retry(func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.opts.pullTimeout)
		defer cancel()
		data, err := c.channel.Pull(attemptCtx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			lastErr = err
			c.pullResult("error")
			return err
		}
		payload = data
		return nil
	}, c.retryPolicy(ctx))
	if err != nil {
		if ctx.Err() != nil {
			c.bootErr = ErrClosed
			return
		}
		if lastErr == nil {
			lastErr = err
		}
		c.bootErr = errors.Wrap(ErrBootstrapTimeout, lastErr.Error())
		c.logger.Warn("failed to fetch initial state, keeping initial value",
			zap.Duration("bootstrap_timeout", c.opts.bootstrapTimeout), zap.Error(lastErr))
		return
	}

	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.closed {
		c.bootErr = ErrClosed
		return
	}
	if c.version != issued {
		// A write landed while the pull was in flight; it is newer than the
		// snapshot.
		c.pullResult("stale")
		c.logger.Debug("discarding initial state older than local mutations")
		return
	}
	if err := c.store.ReplaceBinary(payload); err != nil {
		c.pullResult("invalid")
		c.metrics.rejected.WithLabelValues(c.category.Name(), c.binding.Name).Inc()
		c.bootErr = errors.Wrap(err, "received invalid initial state")
		c.logger.Warn("rejected initial state", zap.Error(err))
		return
	}
	c.version++
	c.pullResult("success")
	c.metrics.applied.WithLabelValues(c.category.Name(), c.binding.Name, "snapshot").Inc()
	c.logger.Debug("initial state applied")
}
