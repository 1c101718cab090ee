package watcher

import (
	"context"
	"sync"
)

const queueDepth = 64

// queue serializes all registry mutations onto one goroutine. Registration
// calls from the bus and disconnect events from the monitor funnel through
// the same channel, so for any single peer they apply in the order the bus
// delivered them and a register can never be overtaken by its own
// disconnect.
type queue struct {
	cmds chan func()

	closeOnce sync.Once
	closed    chan struct{}
}

func newQueue() *queue {
	return &queue{
		cmds:   make(chan func(), queueDepth),
		closed: make(chan struct{}),
	}
}

// Serve runs the command loop until ctx is cancelled. It implements
// suture.Service.
func (q *queue) Serve(ctx context.Context) error {
	defer q.closeOnce.Do(func() { close(q.closed) })

	for {
		select {
		case fn := <-q.cmds:
			fn()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Do runs fn on the command loop and waits for its result. Callers blocked in
// Do are released with ErrTransportLost if the loop stops first.
func (q *queue) Do(fn func() error) error {
	reply := make(chan error, 1)

	select {
	case q.cmds <- func() { reply <- fn() }:
	case <-q.closed:
		return ErrTransportLost
	}

	select {
	case err := <-reply:
		return err
	case <-q.closed:
		return ErrTransportLost
	}
}

// Post schedules fn on the command loop without waiting. Used for events that
// carry no reply, such as monitor disconnect notifications.
func (q *queue) Post(fn func()) {
	select {
	case q.cmds <- fn:
	case <-q.closed:
	}
}
