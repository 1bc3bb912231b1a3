// ABOUTME: Matches outgoing request ids to their responses with per-call deadlines
// ABOUTME: Exactly one resolution per call: only whoever removes the id from the map delivers

package acp

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mauromedda/acp-engine-go/internal/metrics"
	"github.com/mauromedda/acp-engine-go/pkg/jsonvalue"
)

type outcome struct {
	result jsonvalue.Value
	err    error
}

// PendingCall is an outgoing request awaiting its response.
type PendingCall struct {
	ID     int64
	Method string

	c       *Correlator
	started time.Time
	timer   *time.Timer
	done    chan outcome
}

// Correlator assigns request ids and routes responses back to callers.
type Correlator struct {
	mu        sync.Mutex
	nextID    int64
	pending   map[int64]*PendingCall
	closedErr error
	metrics   *metrics.Collector
}

// NewCorrelator returns an empty correlator. m may be nil.
func NewCorrelator(m *metrics.Collector) *Correlator {
	return &Correlator{
		pending: make(map[int64]*PendingCall),
		metrics: m,
	}
}

// Register allocates the next id (starting at 1) and starts its deadline.
// A non-positive timeout means the call waits until resolved some other way.
// After Close, the returned call is already resolved with the close error.
func (c *Correlator) Register(method string, timeout time.Duration) *PendingCall {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	p := &PendingCall{
		ID:      c.nextID,
		Method:  method,
		c:       c,
		started: time.Now(),
		done:    make(chan outcome, 1),
	}
	if c.closedErr != nil {
		p.done <- outcome{err: c.closedErr}
		return p
	}

	c.pending[p.ID] = p
	c.metrics.CallStarted()
	if timeout > 0 {
		id := p.ID
		p.timer = time.AfterFunc(timeout, func() {
			c.Fail(id, &TimeoutError{Method: method, ID: id, After: timeout})
		})
	}
	return p
}

// take removes and returns the pending call for id, or nil if another
// resolution got there first.
func (c *Correlator) take(id int64) *PendingCall {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	return p
}

func (c *Correlator) deliver(p *PendingCall, out outcome, label string) {
	c.metrics.CallFinished(p.Method, label, time.Since(p.started))
	p.done <- out
}

// Resolve completes call id with a result or with the agent's error.
// It reports false when id is unknown or already resolved.
func (c *Correlator) Resolve(id int64, result jsonvalue.Value, rpcErr *RPCError) bool {
	p := c.take(id)
	if p == nil {
		return false
	}
	if rpcErr != nil {
		c.deliver(p, outcome{err: newRemoteError(p.Method, rpcErr)}, metrics.OutcomeRemoteError)
		return true
	}
	c.deliver(p, outcome{result: result}, metrics.OutcomeOK)
	return true
}

// Fail completes call id with err. It reports false when id is unknown or
// already resolved.
func (c *Correlator) Fail(id int64, err error) bool {
	p := c.take(id)
	if p == nil {
		return false
	}
	c.deliver(p, outcome{err: err}, outcomeLabel(err))
	return true
}

// FailAll resolves every pending call with err and returns how many there were.
func (c *Correlator) FailAll(err error) int {
	c.mu.Lock()
	calls := make([]*PendingCall, 0, len(c.pending))
	for id, p := range c.pending {
		calls = append(calls, p)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	label := outcomeLabel(err)
	for _, p := range calls {
		if p.timer != nil {
			p.timer.Stop()
		}
		c.deliver(p, outcome{err: err}, label)
	}
	return len(calls)
}

// Close fails every pending call with err and makes later registrations
// resolve with err immediately. The first close error sticks.
func (c *Correlator) Close(err error) int {
	c.mu.Lock()
	if c.closedErr == nil {
		c.closedErr = err
	}
	closedErr := c.closedErr
	c.mu.Unlock()
	return c.FailAll(closedErr)
}

// Len returns the number of unresolved calls.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeCancelled
	default:
		return metrics.OutcomeClosed
	}
}

// Wait blocks until the call resolves. When ctx ends first the call is
// failed with ctx.Err() and removed. Wait must be called at most once.
func (p *PendingCall) Wait(ctx context.Context) (jsonvalue.Value, error) {
	select {
	case out := <-p.done:
		return out.result, out.err
	case <-ctx.Done():
		p.c.Fail(p.ID, ctx.Err())
		out := <-p.done
		return out.result, out.err
	}
}
