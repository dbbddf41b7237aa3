package queue

import (
	"errors"
	"strings"
	"testing"
)

func TestTrim(t *testing.T) {
	if got := trim("  pull_request \n"); got != "pull_request" {
		t.Fatalf("trim: got %q", got)
	}
}

func TestDetectEventFromPayload(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    string
		wantErr bool
	}{
		{
			name:    "check run",
			payload: `{"action":"completed","check_run":{"name":"unit","conclusion":"success"}}`,
			want:    "check_run",
		},
		{
			name:    "check suite wins over embedded PRs",
			payload: `{"action":"completed","check_suite":{"conclusion":"success","pull_requests":[]}}`,
			want:    "check_suite",
		},
		{
			name:    "pull request",
			payload: `{"action":"closed","pull_request":{"number":7,"merged":true}}`,
			want:    "pull_request",
		},
		{
			name:    "issues",
			payload: `{"action":"closed","issue":{"number":12}}`,
			want:    "issues",
		},
		{
			name:    "status",
			payload: `{"sha":"abc123","state":"success","context":"ci/prow"}`,
			want:    "status",
		},
		{
			name:    "issue without action is not an issues event",
			payload: `{"issue":{"number":12}}`,
			wantErr: true,
		},
		{
			name:    "unrecognized",
			payload: `{"zen":"Design for failure."}`,
			wantErr: true,
		},
		{
			name:    "invalid json",
			payload: `{`,
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := detectEventFromPayload([]byte(tc.payload))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got event %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseSQSBodyEnvelopeWithHeaders(t *testing.T) {
	body := `{
		"headers": {"X-GitHub-Event": "issues", "X-GitHub-Delivery": "d-1"},
		"body": "{\"action\":\"closed\",\"issue\":{\"number\":3}}"
	}`

	event, delivery, payload, err := ParseSQSBody([]byte(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event != "issues" {
		t.Fatalf("event: got %q", event)
	}
	if delivery != "d-1" {
		t.Fatalf("delivery: got %q", delivery)
	}
	if !strings.Contains(string(payload), `"number":3`) {
		t.Fatalf("payload not unwrapped: %s", payload)
	}
}

func TestParseSQSBodyEnvelopeObjectBodyNoEventHeader(t *testing.T) {
	body := `{
		"headers": {"X-GitHub-Delivery": "d-2"},
		"body": {"action":"completed","check_run":{"name":"unit"}}
	}`

	event, delivery, payload, err := ParseSQSBody([]byte(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event != "check_run" {
		t.Fatalf("event: got %q", event)
	}
	if delivery != "d-2" {
		t.Fatalf("delivery: got %q", delivery)
	}
	if !strings.Contains(string(payload), `"check_run"`) {
		t.Fatalf("payload: %s", payload)
	}
}

func TestParseSQSBodyRawPayload(t *testing.T) {
	body := `{"sha":"abc","state":"failure","context":"ci/test"}`

	event, delivery, payload, err := ParseSQSBody([]byte(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event != "status" {
		t.Fatalf("event: got %q", event)
	}
	if delivery != "" {
		t.Fatalf("delivery should be empty, got %q", delivery)
	}
	if string(payload) != body {
		t.Fatalf("payload should pass through unchanged")
	}
}

func TestParseSQSBodyUnknown(t *testing.T) {
	_, _, _, err := ParseSQSBody([]byte(`{"zen":"Keep it logically awesome."}`))
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("want ErrUnknownEvent, got %v", err)
	}
}

func TestParseSQSBodyEmpty(t *testing.T) {
	if _, _, _, err := ParseSQSBody([]byte("  \n")); err == nil {
		t.Fatal("expected error for empty body")
	}
}
