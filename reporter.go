package telemetry

import (
	"sync"
	"time"
)

// defaultQueueSize is the mailbox capacity used when WithQueueSize is not given.
const defaultQueueSize = 1024

// ReportFunc receives one flushed batch, oldest event first. It runs on the
// reporter's own goroutine: until it returns, no further events are taken off
// the mailbox. The reporter neither retries nor interprets sink outcomes;
// anything that can fail belongs inside the function.
type ReportFunc[T any] func(events []T)

// ReporterOption configures a BatchReporter.
type ReporterOption func(*reporterOptions)

type reporterOptions struct {
	queueSize int
}

// WithQueueSize sets the mailbox capacity. Values below 1 keep the default.
func WithQueueSize(n int) ReporterOption {
	return func(o *reporterOptions) {
		if n >= 1 {
			o.queueSize = n
		}
	}
}

// BatchReporter accumulates events from many goroutines and delivers them to
// a sink function as one ordered batch per flush cycle.
//
// The first event of a cycle schedules a flush batchTime later; every event
// enqueued before that flush fires is included in it, in enqueue order. At
// most one flush is ever scheduled at a time. With batchTime zero the flush
// is scheduled for immediate delivery, behind whatever is already queued, so
// a burst of enqueues still lands in a single batch. After a flush the
// buffer is empty and the next event starts a fresh cycle.
//
// All state lives on a single goroutine; Enqueue only sends on a channel.
type BatchReporter[T any] struct {
	report    ReportFunc[T]
	batchTime time.Duration

	events chan T
	stop   chan struct{}
	done   chan struct{}

	stopOnce sync.Once

	// Owned by run; never touched from outside the loop.
	buf       []T
	scheduled bool
	timer     *time.Timer
	timerC    <-chan time.Time
}

// NewBatchReporter starts a reporter that hands each batch to report.
// A negative batchTime is treated as zero (immediate mode).
func NewBatchReporter[T any](report ReportFunc[T], batchTime time.Duration, opts ...ReporterOption) *BatchReporter[T] {
	r := newBatchReporter(report, batchTime, opts...)
	go r.run()
	return r
}

// newBatchReporter builds the reporter without starting its goroutine.
func newBatchReporter[T any](report ReportFunc[T], batchTime time.Duration, opts ...ReporterOption) *BatchReporter[T] {
	o := reporterOptions{queueSize: defaultQueueSize}
	for _, opt := range opts {
		opt(&o)
	}
	if batchTime < 0 {
		batchTime = 0
	}
	return &BatchReporter[T]{
		report:    report,
		batchTime: batchTime,
		events:    make(chan T, o.queueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Enqueue submits one event. It does not block under normal operation and
// never fails; if the mailbox is full because the sink is slow, the send
// waits for the reporter to catch up. After Stop the event is discarded.
func (r *BatchReporter[T]) Enqueue(event T) {
	select {
	case <-r.stop:
	case r.events <- event:
	}
}

// Stop terminates the reporter and waits for its goroutine to exit. Events
// enqueued but not yet flushed are discarded. Safe to call more than once.
func (r *BatchReporter[T]) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

func (r *BatchReporter[T]) run() {
	defer close(r.done)
	for {
		select {
		case <-r.stop:
			if r.timer != nil {
				r.timer.Stop()
			}
			return
		case ev := <-r.events:
			r.buf = append(r.buf, ev)
			r.maybeSchedule()
		case <-r.timerC: // nil (and silent) unless a flush is scheduled
			r.drainReady()
			r.flush()
		}
	}
}

// maybeSchedule arms the flush timer unless one is already pending. A zero
// batchTime arms an already-expired timer, which queues the flush behind
// events that are sitting in the mailbox right now.
func (r *BatchReporter[T]) maybeSchedule() {
	if r.scheduled || len(r.buf) == 0 {
		return
	}
	r.timer = time.NewTimer(r.batchTime)
	r.timerC = r.timer.C
	r.scheduled = true
}

// drainReady moves every event already sitting in the mailbox into the
// buffer, so the batch covers everything enqueued before the flush fires.
func (r *BatchReporter[T]) drainReady() {
	for {
		select {
		case ev := <-r.events:
			r.buf = append(r.buf, ev)
		default:
			return
		}
	}
}

// flush hands the buffered events to the sink and resets for the next cycle.
// The reset is deferred so that even a panicking sink cannot leave the
// pending flag set and silently stop all future flushing.
func (r *BatchReporter[T]) flush() {
	events := r.buf
	defer func() {
		r.buf = nil
		r.scheduled = false
		r.timer = nil
		r.timerC = nil
	}()
	if len(events) == 0 {
		return
	}
	r.report(events)
}
