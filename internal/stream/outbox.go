package stream

import (
	"log/slog"
	"sync"

	"github.com/gammazero/deque"
)

// outbox is the control path of one connection: commands are queued
// without blocking the caller and written in order by a single goroutine.
type outbox struct {
	tr     Transport
	logger *slog.Logger

	mu     sync.Mutex
	queue  deque.Deque[[]byte]
	closed bool

	signal chan struct{}
	errors chan error
	done   chan struct{}
	wg     sync.WaitGroup
}

func newOutbox(tr Transport, logger *slog.Logger) *outbox {
	o := &outbox{
		tr:     tr,
		logger: logger,
		signal: make(chan struct{}, 1),
		errors: make(chan error, 1),
		done:   make(chan struct{}),
	}
	o.wg.Add(1)
	go o.run()
	return o
}

// push queues msg. It returns false once the outbox is closed.
func (o *outbox) push(msg []byte) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	o.queue.PushBack(msg)
	o.mu.Unlock()

	select {
	case o.signal <- struct{}{}:
	default:
	}
	return true
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queue.Len()
}

// close stops the writer and waits for it. Queued commands are discarded.
func (o *outbox) close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.queue.Clear()
	o.mu.Unlock()

	close(o.done)
	o.wg.Wait()
}

func (o *outbox) run() {
	defer o.wg.Done()

	for {
		select {
		case <-o.done:
			return
		case <-o.signal:
		}

		for {
			o.mu.Lock()
			if o.closed || o.queue.Len() == 0 {
				o.mu.Unlock()
				break
			}
			msg := o.queue.PopFront()
			o.mu.Unlock()

			if err := o.tr.Send(msg); err != nil {
				o.logger.Debug("control send failed", "error", err)
				select {
				case o.errors <- err:
				default:
				}
				return
			}
		}
	}
}
