// ABOUTME: Tests for request/response correlation, deadlines, and exactly-once resolution
// ABOUTME: Races Resolve, Fail, and timers against each other on many concurrent calls

package acp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mauromedda/acp-engine-go/internal/metrics"
	"github.com/mauromedda/acp-engine-go/pkg/jsonvalue"
)

func TestCorrelator_IDsStartAtOneAndNeverRepeat(t *testing.T) {
	t.Parallel()

	c := NewCorrelator(nil)
	for want := int64(1); want <= 5; want++ {
		p := c.Register("m", 0)
		if p.ID != want {
			t.Fatalf("ID = %d, want %d", p.ID, want)
		}
		c.Resolve(p.ID, jsonvalue.Null(), nil)
	}
	if p := c.Register("m", 0); p.ID != 6 {
		t.Errorf("ID after resolutions = %d, want 6", p.ID)
	}
}

func TestCorrelator_ResolveResult(t *testing.T) {
	t.Parallel()

	c := NewCorrelator(nil)
	p := c.Register(MethodSessionNew, time.Minute)
	if !c.Resolve(p.ID, jsonvalue.Object(jsonvalue.Field("sessionId", jsonvalue.String("abc123"))), nil) {
		t.Fatal("Resolve returned false")
	}
	res, err := p.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.StringAt("sessionId") != "abc123" {
		t.Errorf("result = %s", res)
	}
	if c.Resolve(p.ID, jsonvalue.Null(), nil) {
		t.Error("second Resolve should report false")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestCorrelator_RemoteError(t *testing.T) {
	t.Parallel()

	c := NewCorrelator(nil)
	p := c.Register(MethodSessionPrompt, time.Minute)
	c.Resolve(p.ID, jsonvalue.Null(), &RPCError{Code: -32603, Message: "agent blew up"})

	_, err := p.Wait(context.Background())
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want *RemoteError", err)
	}
	if re.Code != -32603 || re.Message != "agent blew up" || re.Method != MethodSessionPrompt {
		t.Errorf("RemoteError = %+v", re)
	}
}

func TestCorrelator_Timeout(t *testing.T) {
	t.Parallel()

	c := NewCorrelator(nil)
	p := c.Register(MethodSessionPrompt, 20*time.Millisecond)

	start := time.Now()
	_, err := p.Wait(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	var te *TimeoutError
	if !errors.As(err, &te) || te.ID != p.ID || te.Method != MethodSessionPrompt {
		t.Errorf("TimeoutError = %+v", te)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("resolved after %s, before the deadline", elapsed)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after timeout", c.Len())
	}
	if c.Resolve(p.ID, jsonvalue.Null(), nil) {
		t.Error("late response should not resolve a timed-out call")
	}
}

func TestCorrelator_TimeoutIsolatedToItsCall(t *testing.T) {
	t.Parallel()

	c := NewCorrelator(nil)
	slow := c.Register("slow", 10*time.Millisecond)
	other := c.Register("other", time.Minute)

	if _, err := slow.Wait(context.Background()); !errors.Is(err, ErrTimeout) {
		t.Fatalf("slow err = %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
	c.Resolve(other.ID, jsonvalue.Bool(true), nil)
	if res, err := other.Wait(context.Background()); err != nil || !res.Equal(jsonvalue.Bool(true)) {
		t.Errorf("other = %s, %v", res, err)
	}
}

func TestCorrelator_ContextCancel(t *testing.T) {
	t.Parallel()

	c := NewCorrelator(nil)
	p := c.Register("m", time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestCorrelator_ExactlyOnceUnderRaces(t *testing.T) {
	t.Parallel()

	c := NewCorrelator(nil)
	const n = 300
	var wg sync.WaitGroup
	for i := range n {
		p := c.Register("race", time.Duration(i%3)*time.Millisecond+time.Millisecond)
		var wins atomic.Int32
		var racers sync.WaitGroup
		racers.Add(2)
		go func() {
			defer racers.Done()
			if c.Resolve(p.ID, jsonvalue.Int(int64(i)), nil) {
				wins.Add(1)
			}
		}()
		go func() {
			defer racers.Done()
			if c.Fail(p.ID, ErrClosed) {
				wins.Add(1)
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Wait(context.Background())
			racers.Wait()
			want := int32(1)
			if errors.Is(err, ErrTimeout) {
				want = 0
			}
			if got := wins.Load(); got != want {
				t.Errorf("call %d: %d explicit resolutions won, want %d (err=%v)", p.ID, got, want, err)
			}
			select {
			case <-p.done:
				t.Errorf("call %d delivered twice", p.ID)
			default:
			}
		}()
	}
	wg.Wait()
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestCorrelator_FailAllAndClose(t *testing.T) {
	t.Parallel()

	c := NewCorrelator(nil)
	calls := []*PendingCall{c.Register("a", time.Minute), c.Register("b", 0), c.Register("c", time.Minute)}
	if n := c.FailAll(ErrTransportClosed); n != 3 {
		t.Fatalf("FailAll = %d, want 3", n)
	}
	for _, p := range calls {
		if _, err := p.Wait(context.Background()); !errors.Is(err, ErrTransportClosed) {
			t.Errorf("call %d err = %v", p.ID, err)
		}
	}

	c.Register("d", time.Minute)
	if n := c.Close(ErrClosed); n != 1 {
		t.Errorf("Close = %d, want 1", n)
	}
	c.Close(ErrTransportClosed) // first close error sticks

	late := c.Register("late", time.Minute)
	if _, err := late.Wait(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("late err = %v, want ErrClosed", err)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestCorrelator_Metrics(t *testing.T) {
	t.Parallel()

	m := metrics.New(prometheus.NewRegistry())
	c := NewCorrelator(m)

	ok := c.Register(MethodInitialize, time.Minute)
	slow := c.Register(MethodSessionPrompt, 5*time.Millisecond)
	if got := testutil.ToFloat64(m.Pending); got != 2 {
		t.Errorf("pending = %v, want 2", got)
	}
	c.Resolve(ok.ID, jsonvalue.Null(), nil)
	_, _ = slow.Wait(context.Background())

	if got := testutil.ToFloat64(m.Pending); got != 0 {
		t.Errorf("pending = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.Requests.WithLabelValues(MethodInitialize, metrics.OutcomeOK)); got != 1 {
		t.Errorf("initialize ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Requests.WithLabelValues(MethodSessionPrompt, metrics.OutcomeTimeout)); got != 1 {
		t.Errorf("prompt timeout = %v, want 1", got)
	}
}
