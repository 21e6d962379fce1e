// Package channel provides the in-process trigger bus: a buffered
// channel carrying run requests from the scheduler to the executor.
package channel

import (
	"context"
	"errors"
	"time"

	"github.com/applyforge/applyforge/internal/domain"
)

var ErrBufferFull = errors.New("trigger bus buffer full")

const DefaultEmitTimeout = 5 * time.Second

// MetricsSink is the subset of metrics the bus reports.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	EmitError()
}

type TriggerBus struct {
	ch          chan domain.RunRequest
	emitTimeout time.Duration
	metrics     MetricsSink
}

type Option func(*TriggerBus)

// WithEmitTimeout bounds how long Emit blocks on a full buffer before
// giving up with ErrBufferFull.
func WithEmitTimeout(d time.Duration) Option {
	return func(b *TriggerBus) {
		b.emitTimeout = d
	}
}

func WithMetrics(m MetricsSink) Option {
	return func(b *TriggerBus) {
		b.metrics = m
	}
}

func NewTriggerBus(buffer int, opts ...Option) *TriggerBus {
	b := &TriggerBus{
		ch:          make(chan domain.RunRequest, buffer),
		emitTimeout: DefaultEmitTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Emit enqueues a run request. A full buffer fails with ErrBufferFull
// after the emit timeout; the scheduler re-dispatches on a later tick
// via the reconciler, so dropping here is safe.
func (b *TriggerBus) Emit(ctx context.Context, req domain.RunRequest) error {
	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()

	select {
	case b.ch <- req:
		if b.metrics != nil {
			b.metrics.BufferSizeUpdate(len(b.ch))
		}
		return nil
	case <-timer.C:
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ErrBufferFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *TriggerBus) Channel() <-chan domain.RunRequest {
	return b.ch
}
