package credentials

import (
	"context"
)

// Result is the shared handle for one credential fetch. Every caller that
// receives the same Result observes the same outcome.
type Result struct {
	done    chan struct{}
	payload Payload
	err     error
}

func newResult() *Result {
	return &Result{done: make(chan struct{})}
}

// Done returns a channel that is closed once the fetch has completed.
func (r *Result) Done() <-chan struct{} {
	return r.done
}

// Settled reports whether the fetch has completed, successfully or not.
func (r *Result) Settled() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the fetch completes or ctx is done. Abandoning a wait does
// not cancel the fetch: other holders of the Result still receive it.
func (r *Result) Wait(ctx context.Context) (Payload, error) {
	select {
	case <-r.done:
		return r.payload, r.err
	case <-ctx.Done():
		return Payload{}, ctx.Err()
	}
}

// complete records the outcome and releases all waiters. It must be called
// exactly once.
func (r *Result) complete(payload Payload, err error) {
	r.payload = payload
	r.err = err
	close(r.done)
}
