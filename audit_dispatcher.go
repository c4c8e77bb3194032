package goSession

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// auditDispatcher hands events to a single worker that owns the sink. The
// queue is closed exactly once; senders hold the read lock so Close never
// races a send on a closed channel. Sends never block.
type auditDispatcher struct {
	sink AuditSink
	log  zerolog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan AuditEvent
	done   chan struct{}

	dropped  atomic.Uint64
	panicked atomic.Uint64
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink, log zerolog.Logger) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &auditDispatcher{
		sink:  sink,
		log:   log.With().Str("component", "audit").Logger(),
		queue: make(chan AuditEvent, max(cfg.BufferSize, 1)),
		done:  make(chan struct{}),
	}
	go d.worker()
	return d
}

func (d *auditDispatcher) worker() {
	defer close(d.done)
	for event := range d.queue {
		d.deliver(event)
	}
}

// deliver isolates the worker from a misbehaving sink.
func (d *auditDispatcher) deliver(event AuditEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.panicked.Add(1)
			d.log.Error().Interface("panic", r).Str("event_type", event.EventType).Msg("audit sink panicked")
		}
	}()
	d.sink.Emit(context.Background(), event)
}

// Emit enqueues event, or drops and counts it when the queue is full.
func (d *auditDispatcher) Emit(_ context.Context, event AuditEvent) {
	if d == nil {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.queue <- event:
	default:
		d.dropped.Add(1)
	}
}

// Close stops intake and returns once every queued event reached the sink.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}

	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	<-d.done
}

func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
