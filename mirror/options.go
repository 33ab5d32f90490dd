package mirror

import (
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBootstrapTimeout = 5 * time.Second
	DefaultPullTimeout      = 500 * time.Millisecond
)

// Option configures a Channel.
type Option func(*options)

type options struct {
	logger           *zap.Logger
	metrics          *Metrics
	bootstrapTimeout time.Duration
	pullTimeout      time.Duration
}

func defaultOptions() options {
	return options{
		logger:           zap.NewNop(),
		metrics:          defaultMetrics,
		bootstrapTimeout: DefaultBootstrapTimeout,
		pullTimeout:      DefaultPullTimeout,
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithBootstrapTimeout bounds how long a replica keeps retrying its initial
// pull before settling on its initial value.
func WithBootstrapTimeout(d time.Duration) Option {
	return func(o *options) {
		o.bootstrapTimeout = d
	}
}

// WithPullTimeout bounds a single pull attempt.
func WithPullTimeout(d time.Duration) Option {
	return func(o *options) {
		o.pullTimeout = d
	}
}
