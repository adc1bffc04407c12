package host

import (
	"context"
	"sync"
)

// PersistFunc performs one physical persist of the latest state.
type PersistFunc func(ctx context.Context) error

type saveRun struct {
	done chan struct{}
	err  error
}

// SaveQueue allows at most one persist in flight. Requests arriving while one
// runs collapse into a single trailing run.
type SaveQueue struct {
	persist PersistFunc

	mu       sync.Mutex
	inFlight *saveRun
	trailing bool
}

// NewSaveQueue creates a SaveQueue around persist.
func NewSaveQueue(persist PersistFunc) *SaveQueue {
	return &SaveQueue{persist: persist}
}

// Persist requests a save and waits for the in-flight run to finish. The run
// itself is not bound to ctx; cancelling ctx only stops the wait.
func (q *SaveQueue) Persist(ctx context.Context) error {
	q.mu.Lock()
	run := q.inFlight
	if run != nil {
		q.trailing = true
	} else {
		run = &saveRun{done: make(chan struct{})}
		q.inFlight = run
		go q.loop(context.WithoutCancel(ctx), run)
	}
	q.mu.Unlock()

	select {
	case <-run.done:
		return run.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the in-flight run, if any, finishes. It does not request
// a save.
func (q *SaveQueue) Wait(ctx context.Context) error {
	q.mu.Lock()
	run := q.inFlight
	q.mu.Unlock()
	if run == nil {
		return nil
	}
	select {
	case <-run.done:
		return run.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InFlight reports whether a persist is running.
func (q *SaveQueue) InFlight() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight != nil
}

func (q *SaveQueue) loop(ctx context.Context, run *saveRun) {
	var err error
	for {
		q.mu.Lock()
		q.trailing = false
		q.mu.Unlock()

		err = q.persist(ctx)

		q.mu.Lock()
		if err != nil || !q.trailing {
			q.trailing = false
			q.inFlight = nil
			q.mu.Unlock()
			break
		}
		q.mu.Unlock()
	}
	run.err = err
	close(run.done)
}
