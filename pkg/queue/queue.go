// Package queue is the process-wide FIFO that serializes budget-gated
// actions. One background worker consumes it, so a check-then-act
// admitted through the queue observes every earlier admission's effects.
package queue

import (
	"nwcp.dev/pkg/utils/context"
	"nwcp.dev/pkg/utils/errorf"
	"nwcp.dev/pkg/utils/log"
)

// Action is one unit of serialized work.
type Action func() (result any, err error)

type outcome struct {
	result any
	err    error
}

type item struct {
	action Action
	reply  chan outcome
}

// Q is the execution queue. Create with New, then Run exactly one worker.
type Q struct {
	items chan item
}

// New creates a queue admitting up to depth pending items.
func New(depth int) *Q {
	return &Q{items: make(chan item, depth)}
}

// Run consumes the queue until ctx is done. It must run in exactly one
// goroutine; the serializability of spends depends on it.
func (q *Q) Run(ctx context.T) {
	log.D.F("execution queue worker started")
	for {
		// shutdown wins over further admissions
		select {
		case <-ctx.Done():
			q.drain()
			return
		default:
		}
		select {
		case <-ctx.Done():
			q.drain()
			return
		case it := <-q.items:
			it.reply <- execute(it.action)
		}
	}
}

// execute runs one action, converting an escaped panic into an error on
// the outcome. The worker must outlive any single action: a panic that
// killed it would strand every producer on its reply channel.
func execute(action Action) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.E.F("queued action panicked: %v", r)
			out = outcome{err: errorf.E("queued action panicked: %v", r)}
		}
	}()
	result, err := action()
	return outcome{result: result, err: err}
}

// drain fails any producers still blocked after shutdown.
func (q *Q) drain() {
	for {
		select {
		case it := <-q.items:
			it.reply <- outcome{err: errorf.D("execution queue shut down")}
		default:
			log.D.F("execution queue worker stopped")
			return
		}
	}
}

// Do enqueues action and blocks until the worker has executed it,
// returning its outcome. Returns an error without executing when ctx
// ends first.
func (q *Q) Do(ctx context.T, action Action) (result any, err error) {
	it := item{action: action, reply: make(chan outcome, 1)}
	select {
	case q.items <- it:
	case <-ctx.Done():
		return nil, errorf.D("execution queue admission canceled")
	}
	select {
	case out := <-it.reply:
		return out.result, out.err
	case <-ctx.Done():
		return nil, errorf.D("execution queue wait canceled")
	}
}
