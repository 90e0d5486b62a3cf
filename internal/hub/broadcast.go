package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zsiec/whipfan/internal/media"
)

var (
	// ErrClosed is returned by reads once the publisher is gone and every
	// buffered Unit has been consumed, or after the Sink was detached.
	ErrClosed = errors.New("hub: channel closed")
	// ErrLagged matches any *LagError.
	ErrLagged = errors.New("hub: receiver lagged")
)

// LagError reports how many Units a slow receiver lost. The next read
// returns the oldest Unit still buffered.
type LagError struct {
	Skipped uint64
}

func (e *LagError) Error() string {
	return fmt.Sprintf("hub: receiver lagged, %d units skipped", e.Skipped)
}

func (e *LagError) Is(target error) bool {
	return target == ErrLagged
}

// broadcast is a bounded single-producer multi-consumer ring. Every
// receiver sees each Unit sent after it subscribed, unless it falls more
// than len(buf) Units behind.
type broadcast struct {
	mu        sync.Mutex
	buf       []media.Unit
	head      uint64 // sequence number of the next send
	closed    bool
	notify    chan struct{}
	receivers int
}

// newBroadcast returns an open broadcast retaining capacity Units.
func newBroadcast(capacity int) *broadcast {
	return &broadcast{
		buf:    make([]media.Unit, capacity),
		notify: make(chan struct{}),
	}
}

// send publishes u and returns the number of subscribed receivers. Sends
// after close are discarded.
func (b *broadcast) send(u media.Unit) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	b.buf[b.head%uint64(len(b.buf))] = u
	b.head++
	close(b.notify)
	b.notify = make(chan struct{})
	return b.receivers
}

// close wakes every receiver. Buffered Units remain readable.
func (b *broadcast) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.notify)
}

func (b *broadcast) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *broadcast) receiverCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.receivers
}

// subscribe returns a receiver positioned after the most recent send.
func (b *broadcast) subscribe() *receiver {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receivers++
	return &receiver{b: b, next: b.head, detached: make(chan struct{})}
}

type receiver struct {
	b        *broadcast
	next     uint64
	once     sync.Once
	detached chan struct{}
}

// recv blocks until a Unit is available, the broadcast is closed and
// drained, the receiver is detached, or ctx is done.
func (r *receiver) recv(ctx context.Context) (media.Unit, error) {
	for {
		select {
		case <-r.detached:
			return media.Unit{}, ErrClosed
		default:
		}

		b := r.b
		b.mu.Lock()
		capacity := uint64(len(b.buf))
		if b.head > capacity && r.next < b.head-capacity {
			oldest := b.head - capacity
			skipped := oldest - r.next
			r.next = oldest
			b.mu.Unlock()
			return media.Unit{}, &LagError{Skipped: skipped}
		}
		if r.next < b.head {
			u := b.buf[r.next%capacity]
			r.next++
			b.mu.Unlock()
			return u, nil
		}
		if b.closed {
			b.mu.Unlock()
			return media.Unit{}, ErrClosed
		}
		wait := b.notify
		b.mu.Unlock()

		select {
		case <-wait:
		case <-r.detached:
			return media.Unit{}, ErrClosed
		case <-ctx.Done():
			return media.Unit{}, ctx.Err()
		}
	}
}

// close detaches the receiver. Pending and future recv calls return
// ErrClosed.
func (r *receiver) close() {
	r.once.Do(func() {
		close(r.detached)
		r.b.mu.Lock()
		r.b.receivers--
		r.b.mu.Unlock()
	})
}
