// Package queue provides the bounded, ordered, concurrency-safe queue that
// joins the broker connector (producer) and the store writer (consumer).
//
// The queue supports three overflow policies:
//   - Block: Enqueue blocks until space is available, giving the broker's
//     flow control a chance to absorb backpressure (the default).
//   - DropOldest: the oldest queued item is dropped to make room.
//   - DropNewest: the incoming item is dropped.
//
// Statistics are always collected. Prometheus metrics are optional via
// the WithMetrics functional option.
package queue

import (
	"github.com/CodeByJF/mqbridge/metric"
)

// OverflowPolicy defines how Enqueue behaves when the queue is full.
type OverflowPolicy int

const (
	// Block causes Enqueue to block until space is available.
	Block OverflowPolicy = iota

	// DropOldest removes the oldest item to make room for new items.
	DropOldest

	// DropNewest drops the incoming item when the queue is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case Block:
		return "block"
	case DropOldest:
		return "drop_oldest"
	case DropNewest:
		return "drop_newest"
	default:
		return "unknown"
	}
}

// ParsePolicy maps a configuration string to an OverflowPolicy.
// Unrecognized values fall back to Block, the safe default.
func ParsePolicy(s string) OverflowPolicy {
	switch s {
	case "drop_oldest":
		return DropOldest
	case "drop_newest":
		return DropNewest
	default:
		return Block
	}
}

// DropCallback is called with each item dropped due to overflow policy.
type DropCallback[T any] func(item T)

// Option configures queue behavior using the functional options pattern.
type Option[T any] func(*options[T])

type options[T any] struct {
	policy       OverflowPolicy
	dropCallback DropCallback[T]

	// metricsReg is optional; if provided, queue stats are also exposed
	// as Prometheus metrics under the given component prefix.
	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
}

// WithPolicy sets the overflow behavior. Defaults to Block.
func WithPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(opts *options[T]) {
		opts.policy = policy
	}
}

// WithMetrics enables Prometheus metrics export for queue statistics.
// If registry is nil the option is ignored.
func WithMetrics[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(opts *options[T]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithDropCallback sets a callback invoked for every dropped item.
func WithDropCallback[T any](callback DropCallback[T]) Option[T] {
	return func(opts *options[T]) {
		opts.dropCallback = callback
	}
}

func applyOptions[T any](opts ...Option[T]) *options[T] {
	o := &options[T]{
		policy: Block,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}
