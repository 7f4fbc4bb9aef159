// Package auditqueue bounds judge concurrency globally while serializing
// work per session, so iteration numbering and the causal dependency
// between successive iterations for the same session are preserved.
package auditqueue

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// State names a submission's progress through the queue.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateComplete  State = "complete"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// ProgressFunc is invoked on state transitions. progressPercent is
// best-effort and monotonic within a single submission's lifetime.
type ProgressFunc func(state State, progressPercent int)

// Work is the unit of work submitted to the queue: run the judge and
// produce an error, or nil on success.
type Work func(ctx context.Context) error

// Handle lets a caller cancel a submission before or during execution.
type Handle struct {
	cancel context.CancelFunc
}

// Cancel requests cancellation. If the work hasn't dispatched yet it is
// discarded; if it's running, the work's context is cancelled and its
// result becomes a cancelled failure.
func (h *Handle) Cancel() {
	h.cancel()
}

// Queue bounds total in-flight judge invocations to a configured maximum
// and serializes submissions sharing a session id.
type Queue struct {
	limit int

	mu        sync.Mutex
	perSession map[string]chan struct{} // 1-buffered token per session id, acts as a mutex
	g          *errgroup.Group
	gctx       context.Context
}

// New builds a Queue bounding global concurrency to limit simultaneous
// judge invocations.
func New(ctx context.Context, limit int) *Queue {
	if limit <= 0 {
		limit = 5
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	return &Queue{
		limit:      limit,
		perSession: make(map[string]chan struct{}),
		g:          g,
		gctx:       gctx,
	}
}

func (q *Queue) sessionLock(sessionID string) chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.perSession[sessionID]
	if !ok {
		ch = make(chan struct{}, 1)
		ch <- struct{}{}
		q.perSession[sessionID] = ch
	}
	return ch
}

// Submit enqueues work under sessionID. Submissions for the same session
// execute strictly one at a time, in arrival order; submissions for
// different sessions run in parallel up to the global bound. progress, if
// non-nil, is invoked on every state transition.
//
// Submit blocks the calling goroutine only long enough to hand work off to
// the underlying errgroup; it does not block for the work to complete.
func (q *Queue) Submit(ctx context.Context, sessionID string, work Work, progress ProgressFunc) *Handle {
	runCtx, cancel := context.WithCancel(ctx)
	handle := &Handle{cancel: cancel}

	report := func(s State, pct int) {
		if progress != nil {
			progress(s, pct)
		}
	}

	report(StateQueued, 0)
	lockCh := q.sessionLock(sessionID)

	q.g.Go(func() error {
		select {
		case <-runCtx.Done():
			report(StateCancelled, 0)
			return nil
		case <-q.gctx.Done():
			report(StateCancelled, 0)
			return nil
		case <-lockCh:
		}
		defer func() { lockCh <- struct{}{} }()

		if runCtx.Err() != nil {
			report(StateCancelled, 0)
			return nil
		}

		report(StateRunning, 50)
		err := work(runCtx)
		if runCtx.Err() != nil {
			report(StateCancelled, 0)
			return nil
		}
		if err != nil {
			report(StateFailed, 100)
			return nil
		}
		report(StateComplete, 100)
		return nil
	})

	return handle
}

// Enqueue submits work and blocks the caller until it completes, returning
// its error. This is the synchronous entry point C8 uses: the engine has
// no use for a fire-and-forget submission since every call must produce a
// response before returning.
func (q *Queue) Enqueue(ctx context.Context, sessionID string, work Work, progress ProgressFunc) error {
	done := make(chan error, 1)
	q.Submit(ctx, sessionID, func(runCtx context.Context) error {
		err := work(runCtx)
		done <- err
		return err
	}, progress)

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every submitted unit of work has finished. It's meant
// for shutdown draining, not for the normal per-call synchronous path,
// which awaits its own submission via a result channel the caller wires up
// inside its Work closure.
func (q *Queue) Wait() error {
	return q.g.Wait()
}
