package channel

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/distribution/ingest/contracts"
)

// recorder captures every request body the test server receives, in order.
type recorder struct {
	mu     sync.Mutex
	bodies [][]byte
}

func (r *recorder) record(body []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bodies = append(r.bodies, body)
	return len(r.bodies)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bodies)
}

func (r *recorder) body(i int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bodies[i]
}

// testServer builds an httptest.Server whose response sequence is driven
// by respond, called once per request with a 1-based request number.
func testServer(t *testing.T, respond func(n int, body []byte) (status int, respBody []byte, retryAfter string)) (*httptest.Server, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		n := rec.record(body)
		status, respBody, retryAfter := respond(n, body)
		if retryAfter != "" {
			w.Header().Set("Retry-After", retryAfter)
		}
		w.WriteHeader(status)
		if respBody != nil {
			_, _ = w.Write(respBody)
		}
	}))
	return srv, rec
}

func waitForPending(t *testing.T, mc *manualClock, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if mc.pending() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d outstanding clock waiter(s), have %d", n, mc.pending())
}

func waitForCount(t *testing.T, rec *recorder, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rec.count() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d request(s), have %d", n, rec.count())
}

func newTestChannel(t *testing.T, endpoint string) (*Channel, *manualClock) {
	t.Helper()
	mc := newManualClock()
	opts := Options{Endpoint: endpoint, CycleInterval: time.Minute, clk: mc}
	c, err := NewChannel(opts)
	if err != nil {
		t.Fatalf("NewChannel() error = %v", err)
	}
	return c, mc
}

func eventEnvelope(name string) *contracts.Envelope {
	return contracts.NewEventEnvelope("ikey", name, map[string]string{"event": name}, nil)
}

// S1: single item, expire once, expect one POST, close() completes.
func TestScenarioS1SingleItem(t *testing.T) {
	srv, rec := testServer(t, func(n int, body []byte) (int, []byte, string) { return 200, nil, "" })
	defer srv.Close()

	c, mc := newTestChannel(t, srv.URL)
	c.Send(eventEnvelope("--event--"))

	waitForPending(t, mc, 1)
	mc.expire()
	waitForCount(t, rec, 1)

	if got := string(rec.body(0)); !strings.Contains(got, "--event--") {
		t.Fatalf("POST body %q does not contain the event", got)
	}

	done := make(chan struct{})
	go func() { c.Close(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close() did not complete")
	}
}

// S2: S1, then expire again; expect no second POST within 100ms.
func TestScenarioS2NoResend(t *testing.T) {
	srv, rec := testServer(t, func(n int, body []byte) (int, []byte, string) { return 200, nil, "" })
	defer srv.Close()

	c, mc := newTestChannel(t, srv.URL)
	defer c.Terminate()

	c.Send(eventEnvelope("only"))
	waitForPending(t, mc, 1)
	mc.expire()
	waitForCount(t, rec, 1)

	waitForPending(t, mc, 1)
	mc.expire()

	time.Sleep(100 * time.Millisecond)
	if got := rec.count(); got != 1 {
		t.Fatalf("expected no second POST, got %d total", got)
	}
}

// S3: 10 events, expire; 5 more, expire. Expect 2 POSTs whose union covers
// events 0..14 exactly once each.
func TestScenarioS3MultiBatch(t *testing.T) {
	srv, rec := testServer(t, func(n int, body []byte) (int, []byte, string) { return 200, nil, "" })
	defer srv.Close()

	c, mc := newTestChannel(t, srv.URL)
	defer c.Terminate()

	for i := 0; i < 10; i++ {
		c.Send(eventEnvelope(fmt.Sprintf("event %d", i)))
	}
	waitForPending(t, mc, 1)
	mc.expire()
	waitForCount(t, rec, 1)

	for i := 10; i < 15; i++ {
		c.Send(eventEnvelope(fmt.Sprintf("event %d", i)))
	}
	waitForPending(t, mc, 1)
	mc.expire()
	waitForCount(t, rec, 2)

	seen := map[string]int{}
	for i := 0; i < 2; i++ {
		var batch []map[string]interface{}
		if err := json.Unmarshal(rec.body(i), &batch); err != nil {
			t.Fatalf("unmarshal POST %d: %v", i, err)
		}
		for _, env := range batch {
			name, _ := env["data"].(map[string]interface{})["baseData"].(map[string]interface{})["name"].(string)
			seen[name]++
		}
	}
	for i := 0; i < 15; i++ {
		name := fmt.Sprintf("event %d", i)
		if seen[name] != 1 {
			t.Fatalf("event %q seen %d times, want exactly 1", name, seen[name])
		}
	}
}

// S4: enqueue 15, call flush() without timer expiry. Expect exactly 1 POST
// with all 15; no extra POST before close.
func TestScenarioS4Flush(t *testing.T) {
	srv, rec := testServer(t, func(n int, body []byte) (int, []byte, string) { return 200, nil, "" })
	defer srv.Close()

	c, _ := newTestChannel(t, srv.URL)
	defer c.Terminate()

	for i := 0; i < 15; i++ {
		c.Send(eventEnvelope(fmt.Sprintf("event %d", i)))
	}
	c.Flush()
	waitForCount(t, rec, 1)

	var batch []json.RawMessage
	if err := json.Unmarshal(rec.body(0), &batch); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(batch) != 15 {
		t.Fatalf("flush POST carried %d envelopes, want 15", len(batch))
	}

	time.Sleep(100 * time.Millisecond)
	if got := rec.count(); got != 1 {
		t.Fatalf("unexpected extra POST before close, total = %d", got)
	}
}

// S5: enqueue 15, never call Close/Terminate/Flush. Expect zero POSTs
// within 100ms (nothing is transmitted before the cycle interval elapses,
// regardless of whether the façade is ever shut down).
func TestScenarioS5Drop(t *testing.T) {
	srv, rec := testServer(t, func(n int, body []byte) (int, []byte, string) { return 200, nil, "" })
	defer srv.Close()

	c, _ := newTestChannel(t, srv.URL)
	for i := 0; i < 15; i++ {
		c.Send(eventEnvelope(fmt.Sprintf("event %d", i)))
	}

	time.Sleep(100 * time.Millisecond)
	if got := rec.count(); got != 0 {
		t.Fatalf("expected zero POSTs, got %d", got)
	}
}

// S6: enqueue 15, close(). Expect exactly one POST with all 15.
func TestScenarioS6CloseDrains(t *testing.T) {
	srv, rec := testServer(t, func(n int, body []byte) (int, []byte, string) { return 200, nil, "" })
	defer srv.Close()

	c, _ := newTestChannel(t, srv.URL)
	for i := 0; i < 15; i++ {
		c.Send(eventEnvelope(fmt.Sprintf("event %d", i)))
	}

	c.Close()

	if got := rec.count(); got != 1 {
		t.Fatalf("expected exactly 1 POST, got %d", got)
	}
	var batch []json.RawMessage
	if err := json.Unmarshal(rec.body(0), &batch); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(batch) != 15 {
		t.Fatalf("close POST carried %d envelopes, want 15", len(batch))
	}
}

// S7: enqueue 15, terminate(). Expect zero POSTs.
func TestScenarioS7TerminateAbandons(t *testing.T) {
	srv, rec := testServer(t, func(n int, body []byte) (int, []byte, string) { return 200, nil, "" })
	defer srv.Close()

	c, _ := newTestChannel(t, srv.URL)
	for i := 0; i < 15; i++ {
		c.Send(eventEnvelope(fmt.Sprintf("event %d", i)))
	}

	c.Terminate()

	if got := rec.count(); got != 0 {
		t.Fatalf("expected zero POSTs, got %d", got)
	}
}

// S8: server returns 500 then 200. Enqueue 15; expire, expire. Expect 2
// POSTs with identical bodies.
func TestScenarioS8FullRetry(t *testing.T) {
	srv, rec := testServer(t, func(n int, body []byte) (int, []byte, string) {
		if n == 1 {
			return 500, nil, ""
		}
		return 200, nil, ""
	})
	defer srv.Close()

	c, mc := newTestChannel(t, srv.URL)
	defer c.Terminate()

	for i := 0; i < 15; i++ {
		c.Send(eventEnvelope(fmt.Sprintf("event %d", i)))
	}

	waitForPending(t, mc, 1)
	mc.expire() // fires the cycle timer, triggers the first (failing) POST
	waitForCount(t, rec, 1)

	waitForPending(t, mc, 1)
	mc.expire() // fires the retry backoff, triggers the second (succeeding) POST
	waitForCount(t, rec, 2)

	if string(rec.body(0)) != string(rec.body(1)) {
		t.Fatal("expected the retried POST body to be identical to the first")
	}
}

// S9: server returns 206 with errors at indices {4,9,14} (all 500), then
// 200. Enqueue 15; expire, expire. First POST has all 15; second POST has
// exactly events 4, 9, 14.
func TestScenarioS9PartialRetry(t *testing.T) {
	srv, rec := testServer(t, func(n int, body []byte) (int, []byte, string) {
		if n == 1 {
			resp, _ := json.Marshal(backendError{
				ItemsAccepted: 12,
				ItemsReceived: 15,
				Errors: []responseError{
					{Index: 4, StatusCode: 500},
					{Index: 9, StatusCode: 500},
					{Index: 14, StatusCode: 500},
				},
			})
			return 206, resp, ""
		}
		return 200, nil, ""
	})
	defer srv.Close()

	c, mc := newTestChannel(t, srv.URL)
	defer c.Terminate()

	names := make([]string, 15)
	for i := 0; i < 15; i++ {
		names[i] = fmt.Sprintf("event %d", i)
		c.Send(eventEnvelope(names[i]))
	}

	waitForPending(t, mc, 1)
	mc.expire()
	waitForCount(t, rec, 1)

	var first []json.RawMessage
	if err := json.Unmarshal(rec.body(0), &first); err != nil {
		t.Fatalf("unmarshal first POST: %v", err)
	}
	if len(first) != 15 {
		t.Fatalf("first POST carried %d envelopes, want 15", len(first))
	}

	waitForPending(t, mc, 1)
	mc.expire()
	waitForCount(t, rec, 2)

	var second []map[string]interface{}
	if err := json.Unmarshal(rec.body(1), &second); err != nil {
		t.Fatalf("unmarshal second POST: %v", err)
	}
	if len(second) != 3 {
		t.Fatalf("second POST carried %d envelopes, want 3", len(second))
	}
	want := map[string]bool{names[4]: true, names[9]: true, names[14]: true}
	for _, env := range second {
		name, _ := env["data"].(map[string]interface{})["baseData"].(map[string]interface{})["name"].(string)
		if !want[name] {
			t.Fatalf("unexpected event %q in retried batch", name)
		}
		delete(want, name)
	}
	if len(want) != 0 {
		t.Fatalf("missing expected events in retried batch: %v", want)
	}
}
