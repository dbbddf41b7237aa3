package queue

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// ErrUnknownEvent is returned when we cannot determine the GitHub event
// type from either an envelope's headers or the raw payload.
var ErrUnknownEvent = errors.New("unknown event")

// Envelope matches the API-Gateway-like shape SQS deliveries arrive in:
//
//	{
//	  "headers": {"X-GitHub-Event":"pull_request", ...},
//	  "body": "<raw GH JSON as string>"  OR  { ... GH JSON object ... }
//	}
type Envelope struct {
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
}

// ParseSQSBody tries multiple formats and returns:
//
//	event    - GitHub event type (e.g., "pull_request", "issues", "status")
//	delivery - delivery id if present ("" if not found)
//	payload  - the raw GitHub JSON payload (never an envelope)
//	err      - ErrUnknownEvent if we can't detect the event; other errors for bad shapes
//
// Behavior:
// - If the message body is an Envelope with headers, we prefer headers.
// - If headers don't include X-GitHub-Event, we try to infer from payload.
// - If body is raw GH JSON (no envelope), we infer from payload.
func ParseSQSBody(body []byte) (event, delivery string, payload []byte, err error) {
	b := bytes.TrimSpace(body)
	if len(b) == 0 {
		return "", "", nil, errors.New("empty message body")
	}

	var env Envelope
	if json.Unmarshal(b, &env) == nil && (env.Headers != nil || len(env.Body) > 0) {
		// env.Body can be a JSON string wrapping the GH JSON, or the GH
		// payload object itself.
		var s string
		if len(env.Body) > 0 && json.Unmarshal(env.Body, &s) == nil {
			payload = []byte(s)
		} else {
			payload = env.Body
		}

		if env.Headers != nil {
			event = trim(env.Headers["X-GitHub-Event"])
			delivery = trim(env.Headers["X-GitHub-Delivery"])
		}

		if event == "" {
			ev, derr := detectEventFromPayload(payload)
			if derr != nil {
				return "", "", nil, derr
			}
			event = ev
		}
		return event, delivery, payload, nil
	}

	// Not an envelope: treat as raw GH JSON and detect the event.
	ev, derr := detectEventFromPayload(b)
	if derr != nil {
		return "", "", nil, derr
	}
	return ev, "", b, nil
}

// detectEventFromPayload infers the event type from top-level fields of
// the GitHub webhook JSON. Only the kinds the reactor consumes are
// recognized. The check objects are tested before pull_request because
// their payloads embed PR summaries too.
func detectEventFromPayload(p []byte) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return "", err
	}

	if _, ok := m["check_run"]; ok {
		return "check_run", nil
	}
	if _, ok := m["check_suite"]; ok {
		return "check_suite", nil
	}
	if _, ok := m["pull_request"]; ok {
		return "pull_request", nil
	}
	if _, hasIssue := m["issue"]; hasIssue {
		if _, hasAction := m["action"]; hasAction {
			return "issues", nil
		}
	}
	// Status events carry no "action"; sha + state + context identify them.
	if _, hasSHA := m["sha"]; hasSHA {
		_, hasState := m["state"]
		_, hasContext := m["context"]
		if hasState && hasContext {
			return "status", nil
		}
	}

	return "", ErrUnknownEvent
}

func trim(s string) string { return strings.TrimSpace(s) }
