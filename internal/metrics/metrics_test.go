// ABOUTME: Tests for engine metrics registration and recording helpers
// ABOUTME: Uses prometheus/testutil against private registries

package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_CallLifecycle(t *testing.T) {
	t.Parallel()

	c := New(prometheus.NewRegistry())
	c.CallStarted()
	c.CallStarted()
	c.CallFinished("session/prompt", OutcomeOK, 20*time.Millisecond)

	if got := testutil.ToFloat64(c.Pending); got != 1 {
		t.Errorf("pending = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Requests.WithLabelValues("session/prompt", OutcomeOK)); got != 1 {
		t.Errorf("requests{ok} = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(c.RequestDuration); got != 1 {
		t.Errorf("duration series = %d, want 1", got)
	}
}

func TestCollector_Counters(t *testing.T) {
	t.Parallel()

	c := New(prometheus.NewRegistry())
	c.ReverseCall("fs/read_text_file", "ok")
	c.ReverseCall("fs/read_text_file", "ok")
	c.Frame("malformed")
	c.SessionUpdate("tool_call")
	c.TurnFinished("")

	if got := testutil.ToFloat64(c.ReverseCalls.WithLabelValues("fs/read_text_file", "ok")); got != 2 {
		t.Errorf("reverse calls = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.Frames.WithLabelValues("malformed")); got != 1 {
		t.Errorf("frames = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.SessionUpdates.WithLabelValues("tool_call")); got != 1 {
		t.Errorf("updates = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Turns.WithLabelValues("error")); got != 1 {
		t.Errorf("turns{error} = %v, want 1", got)
	}
}

func TestCollector_NilIsNoop(t *testing.T) {
	t.Parallel()

	var c *Collector
	c.CallStarted()
	c.CallFinished("initialize", OutcomeTimeout, time.Second)
	c.ReverseCall("x", "y")
	c.Frame("call")
	c.SessionUpdate("plan")
	c.TurnFinished("end_turn")
	if c.Handler() == nil {
		t.Error("nil collector should still return a handler")
	}
}

func TestCollector_Handler(t *testing.T) {
	t.Parallel()

	c := New(prometheus.NewRegistry())
	c.Frame("response")

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `acp_frames_total{kind="response"} 1`) {
		t.Errorf("metrics output missing frame counter:\n%s", body)
	}
}
