// Package gate serializes completion requests per user and lets a user
// cancel the one in flight.
//
// DESIGN: A Registry owns one slot per user. A slot holds a buffered-channel
// semaphore of size one (the mutual exclusion) and the cancel handle of the
// in-flight task. The invariants:
//   - at most one task per user runs at any instant
//   - the cancel handle is registered before the task body starts, so a
//     racing Cancel() can always reach a running task
//   - the handle is cleared and the semaphore released on every exit path
//     (success, failure, cancellation)
//
// A second request while a task is in flight is rejected, never queued.
package gate

import (
	"context"
	"errors"
	"sync"
)

// ErrBusy is the admission rejection: the user already has a request in
// flight. Expected control flow, not a failure.
var ErrBusy = errors.New("gate: previous request still in flight")

// ErrCanceled is the outcome of a task that was cancelled through
// Cancel(). It is distinct from the parent context going away, so callers
// can tell a user-initiated cancel from a shutdown.
var ErrCanceled = errors.New("gate: request canceled")

type slot struct {
	sem chan struct{} // size 1; held while a task runs

	mu     sync.Mutex
	cancel context.CancelFunc // non-nil only while a task is in flight
}

func (s *slot) setCancel(fn context.CancelFunc) {
	s.mu.Lock()
	s.cancel = fn
	s.mu.Unlock()
}

func (s *slot) takeCancel() context.CancelFunc {
	s.mu.Lock()
	fn := s.cancel
	s.mu.Unlock()
	return fn
}

func (s *slot) clearCancel() {
	s.mu.Lock()
	s.cancel = nil
	s.mu.Unlock()
}

// Registry maps users to their request slots. Construct one per process and
// pass it to every handler; there is no package-level state.
type Registry struct {
	mu    sync.Mutex
	slots map[int64]*slot
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{slots: make(map[int64]*slot)}
}

// slot returns the user's slot, creating it on first use. Slots are never
// removed; per-user state is tiny and the user set is bounded in practice.
func (r *Registry) slot(userID int64) *slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[userID]
	if !ok {
		s = &slot{sem: make(chan struct{}, 1)}
		r.slots[userID] = s
	}
	return s
}

// Busy reports whether the user currently has a request in flight. It is a
// courtesy pre-check for user-facing "please wait" replies; Run performs its
// own authoritative admission. The slot is only inspected, never acquired,
// so a racing Run can not be spuriously rejected by the probe.
func (r *Registry) Busy(userID int64) bool {
	return len(r.slot(userID).sem) == 1
}

// Run admits the user's request and executes fn under the per-user lock.
// If a task is already in flight it returns ErrBusy without queueing.
// fn receives a context that Cancel() can cancel; when fn fails because of
// such a cancellation, Run reports ErrCanceled instead of the raw
// context.Canceled, unless the parent context itself is done.
func (r *Registry) Run(ctx context.Context, userID int64, fn func(ctx context.Context) error) error {
	s := r.slot(userID)

	select {
	case s.sem <- struct{}{}:
	default:
		return ErrBusy
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.setCancel(cancel)
	defer func() {
		s.clearCancel()
		cancel()
		<-s.sem
	}()

	err := fn(runCtx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		return ErrCanceled
	}
	return err
}

// Cancel requests cancellation of the user's in-flight task. It returns true
// when a task was found and signalled, false when there was nothing to
// cancel. It does not wait for the task to unwind.
func (r *Registry) Cancel(userID int64) bool {
	fn := r.slot(userID).takeCancel()
	if fn == nil {
		return false
	}
	fn()
	return true
}
