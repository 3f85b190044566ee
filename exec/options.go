package exec

import "github.com/mslade/fabricexec-go/exec/emit"

// Option configures an Executor at construction time. Zero options
// give a single worker with unbounded queues, a null emitter, and no
// metrics.
type Option func(*Executor)

// WithWorkers sets the number of concurrent workers launched by Start.
// Values below one are clamped to one.
func WithWorkers(n int) Option {
	return func(e *Executor) {
		if n < 1 {
			n = 1
		}
		e.numWorkers = n
	}
}

// WithEmitter installs the observability emitter events are delivered
// to. A nil emitter is replaced with the null emitter.
func WithEmitter(emitter emit.Emitter) Option {
	return func(e *Executor) {
		if emitter == nil {
			emitter = emit.NewNullEmitter()
		}
		e.emitter = emitter
	}
}

// WithMetrics installs Prometheus metrics collection. Nil disables
// metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(e *Executor) {
		e.metrics = metrics
	}
}

// WithQueueCapacity bounds each worker's job queue. Producers block
// while a bounded queue is full. Zero (the default) means unbounded.
func WithQueueCapacity(capacity int) Option {
	return func(e *Executor) {
		if capacity < 0 {
			capacity = 0
		}
		e.queueCap = capacity
	}
}
