// Package errchan implements the bounded multi-producer, single-consumer
// channel that carries failure records from connection handlers to the
// aggregator.
//
// Producers hold a *Sender. Senders are reference counted: Clone hands out a
// new handle and Release drops one. When the last handle is released the
// channel is closed and the consumer observes the end of the stream. The
// consumer side is a single *Receiver whose receive calls are serialized.
package errchan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cyberinferno/pingd/failure"
)

var (
	// ErrReceiverClosed is returned by Send once the Receiver has been closed.
	ErrReceiverClosed = errors.New("errchan: receiver closed")

	// ErrSenderReleased is returned by Send on a handle that was released.
	ErrSenderReleased = errors.New("errchan: sender released")
)

// shared is the state common to every Sender handle and the Receiver.
type shared struct {
	ch       chan *failure.Error
	mu       sync.Mutex
	refs     int
	gone     chan struct{}
	goneOnce sync.Once
}

// New creates a channel holding up to capacity pending records and returns
// its first producer handle and its consumer. A capacity of 0 gives strict
// hand-off semantics: every Send waits for a matching receive.
//
// Parameters:
//   - capacity: Number of records that may be buffered; must not be negative
//
// Returns:
//   - The initial Sender (reference count 1)
//   - The Receiver
//   - An error if capacity is negative
func New(capacity int) (*Sender, *Receiver, error) {
	if capacity < 0 {
		return nil, nil, fmt.Errorf("errchan: negative capacity %d", capacity)
	}

	s := &shared{
		ch:   make(chan *failure.Error, capacity),
		refs: 1,
		gone: make(chan struct{}),
	}

	rx := &Receiver{
		shared: s,
		lock:   make(chan struct{}, 1),
	}

	return &Sender{shared: s}, rx, nil
}

// Sender is one producer handle. A handle must not be used concurrently with
// its own Release; distinct handles may be used from any goroutine.
type Sender struct {
	shared   *shared
	released atomic.Bool
}

// Clone returns a new producer handle, incrementing the reference count.
// Cloning a released handle is a programming error and panics.
func (s *Sender) Clone() *Sender {
	if s.released.Load() {
		panic("errchan: clone of released sender")
	}

	s.shared.mu.Lock()
	s.shared.refs++
	s.shared.mu.Unlock()

	return &Sender{shared: s.shared}
}

// Release drops this handle. When no handles remain the channel is closed.
// Releasing the same handle more than once is a no-op.
func (s *Sender) Release() {
	if !s.released.CompareAndSwap(false, true) {
		return
	}

	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()

	s.shared.refs--
	if s.shared.refs == 0 {
		close(s.shared.ch)
	}
}

// Send delivers rec to the consumer. It blocks while the channel is full,
// which is the only backpressure the service applies.
//
// Returns:
//   - nil once the record is queued
//   - ErrReceiverClosed if the consumer is gone
//   - ErrSenderReleased if this handle was already released
func (s *Sender) Send(rec *failure.Error) error {
	if s.released.Load() {
		return ErrSenderReleased
	}

	select {
	case <-s.shared.gone:
		return ErrReceiverClosed
	default:
	}

	select {
	case s.shared.ch <- rec:
		return nil
	case <-s.shared.gone:
		return ErrReceiverClosed
	}
}

// Receiver is the consumer half. Receive calls are serialized: at most one
// goroutine waits on the channel at a time, and the lock is released as soon
// as each call returns, including when its context is cancelled.
type Receiver struct {
	shared *shared
	lock   chan struct{}
}

// Recv waits for the next record.
//
// Returns:
//   - The record and true when one was received
//   - nil and false when every Sender has been released and the buffer is drained
//   - ctx.Err() if the context ends first
func (r *Receiver) Recv(ctx context.Context) (*failure.Error, bool, error) {
	select {
	case r.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
	defer func() { <-r.lock }()

	select {
	case rec, ok := <-r.shared.ch:
		return rec, ok, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Close marks the consumer as gone. Pending and future Send calls return
// ErrReceiverClosed instead of blocking. It is safe to call multiple times.
func (r *Receiver) Close() {
	r.shared.goneOnce.Do(func() {
		close(r.shared.gone)
	})
}

// Len returns the number of records currently buffered.
func (r *Receiver) Len() int {
	return len(r.shared.ch)
}

// Cap returns the channel capacity.
func (r *Receiver) Cap() int {
	return cap(r.shared.ch)
}
