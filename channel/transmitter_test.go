package channel

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/distribution/ingest/contracts"
)

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestTransmitterSendEmptyBatchIsSuccessWithoutRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	tx := newTransmitter(srv.URL, 0, discardLogger(), nil)
	o := tx.send(context.Background(), nil)
	if o.kind != outcomeSuccess {
		t.Fatalf("kind = %v, want outcomeSuccess", o.kind)
	}
	if called {
		t.Fatal("expected no HTTP request for an empty batch")
	}
}

func TestTransmitterSendSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tx := newTransmitter(srv.URL, 0, discardLogger(), nil)
	o := tx.send(context.Background(), envelopes(2))
	if o.kind != outcomeSuccess {
		t.Fatalf("kind = %v, want outcomeSuccess", o.kind)
	}
}

func TestTransmitterSendNetworkErrorRetries(t *testing.T) {
	tx := newTransmitter("http://127.0.0.1:0", 0, discardLogger(), nil)
	batch := envelopes(2)
	o := tx.send(context.Background(), batch)
	if o.kind != outcomeRetry {
		t.Fatalf("kind = %v, want outcomeRetry on network error", o.kind)
	}
	if len(o.remaining) != len(batch) {
		t.Fatalf("expected full batch retained, got %d", len(o.remaining))
	}
}

func TestTransmitterNotifiesObserver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var got error
	called := false
	tx := newTransmitter(srv.URL, 0, discardLogger(), nil)
	tx.observer = func(err error) {
		called = true
		got = err
	}

	tx.send(context.Background(), envelopes(1))
	if !called {
		t.Fatal("expected observer to be called")
	}
	if got == nil {
		t.Fatal("expected a non-nil error for a 503 response")
	}
}

func TestTransmitterMarshalFailureIsNoRetry(t *testing.T) {
	tx := newTransmitter("http://example.invalid", 0, discardLogger(), nil)
	// A function-valued field can't be marshaled to JSON; the contracts
	// package never constructs this shape, so reach in directly to force
	// the encode-error path.
	batch := []*contracts.Envelope{{Data: &contracts.Data{BaseData: func() {}}}}
	o := tx.send(context.Background(), batch)
	if o.kind != outcomeNoRetry {
		t.Fatalf("kind = %v, want outcomeNoRetry on marshal failure", o.kind)
	}
}
