// Package engine keeps process graphs consistent with their business records.
//
// Recompute is the integrity pass: an idempotent recomputation of every
// reachable node's status. OnNodeCompleted is the cascade: a one-shot forward
// walk started by an operator completing a node, which fast-forwards machine
// checkable steps and stops at human gates. Both are serialized per graph.
package engine

import (
	"context"
	"time"

	"github.com/meikuraledutech/flow"
	"github.com/meikuraledutech/flow/lock"
	"github.com/rs/zerolog"
)

// DefaultWorkers bounds parallel node evaluation within one round of a pass.
const DefaultWorkers = 4

// Locker serializes automation runs sharing a key.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Engine runs integrity passes and cascades against a store.
type Engine struct {
	store    flow.Store
	notifier flow.NotificationSink
	mailer   flow.Mailer

	locker  Locker
	logger  zerolog.Logger
	metrics *Metrics
	pace    func(ctx context.Context) error
	workers int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithLocker replaces the in-process per-graph lock.
func WithLocker(l Locker) Option {
	return func(e *Engine) {
		e.locker = l
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithWorkers bounds parallel evaluation within one round of a pass.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithPacing sets a hook called between cascade steps.
func WithPacing(pace func(ctx context.Context) error) Option {
	return func(e *Engine) {
		e.pace = pace
	}
}

// WithPaceDelay pauses d between cascade steps.
func WithPaceDelay(d time.Duration) Option {
	return WithPacing(func(ctx context.Context) error {
		if d <= 0 {
			return nil
		}
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	})
}

// New creates an engine. notifier receives shortfall notifications and must
// be built from a credential allowed to write them for any user.
func New(store flow.Store, notifier flow.NotificationSink, mailer flow.Mailer, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		notifier: notifier,
		mailer:   mailer,
		locker:   lock.NewLocal(),
		logger:   zerolog.Nop(),
		pace:     func(context.Context) error { return nil },
		workers:  DefaultWorkers,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}
	return e
}

// lockGraph acquires the per-graph lock.
func (e *Engine) lockGraph(ctx context.Context, graphID string) (func(), error) {
	return e.locker.Lock(ctx, "graph:"+graphID)
}
