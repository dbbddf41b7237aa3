// Package webhook is the HTTP surface of the event-driven half: it
// verifies GitHub's delivery signatures and hands events to the reactor.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/stolostron/magic-mirror/internal/reactor"
)

// Server routes webhook deliveries into the reactor. Events are handled
// to completion before the response is written; GitHub's delivery
// timeout is far longer than any single state-machine step.
type Server struct {
	Secret  []byte
	Reactor *reactor.Reactor
}

// Routes returns the HTTP handler: POST / for deliveries and
// GET /status for liveness.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("POST /", s.handleDelivery)
	return mux
}

func (s *Server) verifySig(r *http.Request, body []byte) bool {
	if len(s.Secret) == 0 {
		return true
	}
	sig := r.Header.Get("X-Hub-Signature-256")
	if sig == "" {
		return false
	}
	mac := hmac.New(sha256.New, s.Secret)
	mac.Write(body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(sig)), []byte(strings.ToLower(want)))
}

func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if cerr := r.Body.Close(); cerr != nil {
			slog.Warn("http.body_close_error", "err", cerr)
		}
	}()

	deliveryID := r.Header.Get("X-GitHub-Delivery")
	event := r.Header.Get("X-GitHub-Event")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if !s.verifySig(r, body) {
		slog.Error("webhook.sig_mismatch", "delivery", deliveryID, "event", event)
		http.Error(w, "signature mismatch", http.StatusUnauthorized)
		return
	}

	slog.Debug("webhook.received", "delivery", deliveryID, "event", event)

	code, err := s.Reactor.HandleEvent(r.Context(), event, deliveryID, body)
	if err != nil {
		http.Error(w, http.StatusText(code), code)
		return
	}
	w.WriteHeader(code)
}
