package calllog

import "sync"

// Deliverer runs completion callbacks in the caller's context, for example
// a UI event loop. Post must not block for long and must run fn exactly once
// unless the deliverer is shutting down.
type Deliverer interface {
	Post(fn func())
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(fn func())

// Post calls f.
func (f DelivererFunc) Post(fn func()) { f(fn) }

// serialDeliverer runs callbacks one at a time on its own goroutine, in the
// order they were posted.
type serialDeliverer struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

func newSerialDeliverer() *serialDeliverer {
	return &serialDeliverer{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post queues fn. Callbacks posted after close are dropped.
func (d *serialDeliverer) Post(fn func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// run executes callbacks until close is called and the queue is drained.
func (d *serialDeliverer) run() error {
	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		closed := d.closed
		d.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return nil
		}
		select {
		case <-d.wake:
		case <-d.done:
		}
	}
}

// close stops accepting callbacks. run returns after the queued ones ran.
func (d *serialDeliverer) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.done)
}
