package sqs

import (
	"context"
	"errors"
	"testing"
)

type fakeHandler struct {
	event    string
	delivery string
	payload  []byte
	code     int
	err      error
	called   bool
}

func (f *fakeHandler) HandleEvent(_ context.Context, event, delivery string, payload []byte) (int, error) {
	f.called = true
	f.event = event
	f.delivery = delivery
	f.payload = payload
	return f.code, f.err
}

func TestHandleSQSMessageDispatch(t *testing.T) {
	h := &fakeHandler{code: 200}
	w := &Worker{Reactor: h}

	body := `{
		"headers": {"X-GitHub-Event": "check_run", "X-GitHub-Delivery": "d-9"},
		"body": {"action":"completed","check_run":{"name":"unit"}}
	}`

	code, err := w.handleSQSMessage(context.Background(), []byte(body), "msg-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != 200 {
		t.Fatalf("code: got %d", code)
	}
	if !h.called {
		t.Fatal("handler was not invoked")
	}
	if h.event != "check_run" {
		t.Fatalf("event: got %q", h.event)
	}
	if h.delivery != "d-9" {
		t.Fatalf("delivery: got %q", h.delivery)
	}
}

func TestHandleSQSMessageFallsBackToMessageID(t *testing.T) {
	h := &fakeHandler{code: 204}
	w := &Worker{Reactor: h}

	body := `{"action":"closed","issue":{"number":4}}`
	if _, err := w.handleSQSMessage(context.Background(), []byte(body), "msg-42"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.delivery != "msg-42" {
		t.Fatalf("delivery should fall back to message id, got %q", h.delivery)
	}
}

func TestHandleSQSMessageUnknownEventIsNoOp(t *testing.T) {
	h := &fakeHandler{code: 200}
	w := &Worker{Reactor: h}

	code, err := w.handleSQSMessage(context.Background(), []byte(`{"zen":"ok"}`), "msg-2")
	if err != nil {
		t.Fatalf("unknown event should not error: %v", err)
	}
	if code != 204 {
		t.Fatalf("code: got %d, want 204", code)
	}
	if h.called {
		t.Fatal("handler should not be invoked for unknown events")
	}
}

func TestHandleSQSMessageBadEnvelope(t *testing.T) {
	h := &fakeHandler{}
	w := &Worker{Reactor: h}

	code, err := w.handleSQSMessage(context.Background(), []byte("  "), "msg-3")
	if err == nil {
		t.Fatal("expected error for empty body")
	}
	if code != 400 {
		t.Fatalf("code: got %d, want 400", code)
	}
}

func TestHandleSQSMessageZeroCodeDefaults(t *testing.T) {
	body := `{"action":"closed","pull_request":{"number":1}}`

	w := &Worker{Reactor: &fakeHandler{code: 0}}
	code, err := w.handleSQSMessage(context.Background(), []byte(body), "m")
	if err != nil || code != 200 {
		t.Fatalf("got (%d, %v), want (200, nil)", code, err)
	}

	w = &Worker{Reactor: &fakeHandler{code: 0, err: errors.New("boom")}}
	code, err = w.handleSQSMessage(context.Background(), []byte(body), "m")
	if err == nil || code != 500 {
		t.Fatalf("got (%d, %v), want (500, err)", code, err)
	}
}

func TestVOrDefault(t *testing.T) {
	w := &Worker{}
	if got := w.vOrDefault(0, 10); got != 10 {
		t.Fatalf("got %d", got)
	}
	if got := w.vOrDefault(-1, 20); got != 20 {
		t.Fatalf("got %d", got)
	}
	if got := w.vOrDefault(5, 10); got != 5 {
		t.Fatalf("got %d", got)
	}
}
