package task

import (
	"context"
	"sync"
)

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Tracker counts background work in flight. Unlike a sync.WaitGroup it can be
// waited on with a deadline without leaving a goroutine behind. The zero value
// is ready to use.
type Tracker struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

// Add records the start of one unit of work.
func (t *Tracker) Add() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.n == 0 {
		t.idle = make(chan struct{})
	}
	t.n++
}

// Done records the end of one unit of work.
func (t *Tracker) Done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.n == 0 {
		panic("task: Tracker.Done without matching Add")
	}
	t.n--
	if t.n == 0 {
		close(t.idle)
	}
}

// Len returns the amount of work in flight.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

// Idle returns a channel closed once nothing is in flight. Work added after
// the call is not covered by the returned channel.
func (t *Tracker) Idle() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.n == 0 {
		return closedCh
	}
	return t.idle
}

// Wait blocks until nothing is in flight or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	idle := t.Idle()
	select {
	case <-idle:
		return nil
	default:
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
