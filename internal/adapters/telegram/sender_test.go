package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"digestbot/internal/domain"
)

func newTestSender(t *testing.T, status int, body any) *Sender {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return &Sender{client: srv.Client(), baseURL: srv.URL}
}

func TestSendClassifiesOK(t *testing.T) {
	s := newTestSender(t, http.StatusOK, sendMessageResponse{OK: true})
	res, err := s.Send(context.Background(), 1, "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != domain.OutcomeOK {
		t.Fatalf("expected ok, got %v", res.Outcome)
	}
}

func TestSendClassifiesRecipientGone(t *testing.T) {
	s := newTestSender(t, http.StatusForbidden, sendMessageResponse{Description: "Forbidden: bot was blocked by the user"})
	res, err := s.Send(context.Background(), 1, "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != domain.OutcomeRecipientGone {
		t.Fatalf("expected recipient_gone, got %v", res.Outcome)
	}
}

func TestSendClassifiesRateLimited(t *testing.T) {
	body := sendMessageResponse{Description: "Too Many Requests"}
	body.Parameters = &struct {
		RetryAfter int `json:"retry_after"`
	}{RetryAfter: 7}
	s := newTestSender(t, http.StatusTooManyRequests, body)

	res, err := s.Send(context.Background(), 1, "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != domain.OutcomeRateLimited {
		t.Fatalf("expected rate_limited, got %v", res.Outcome)
	}
	if res.RetryAfterSecs != 7 {
		t.Fatalf("expected retry_after 7, got %d", res.RetryAfterSecs)
	}
}

func TestSendClassifiesMarkupError(t *testing.T) {
	s := newTestSender(t, http.StatusBadRequest, sendMessageResponse{Description: "Bad Request: can't parse entities at byte offset 12"})
	res, err := s.Send(context.Background(), 1, "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != domain.OutcomeMarkupError {
		t.Fatalf("expected markup_error, got %v", res.Outcome)
	}
}

func TestSendClassifiesTransientOnUnexpectedStatus(t *testing.T) {
	s := newTestSender(t, http.StatusInternalServerError, sendMessageResponse{Description: "Internal Server Error"})
	res, err := s.Send(context.Background(), 1, "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != domain.OutcomeTransient {
		t.Fatalf("expected transient, got %v", res.Outcome)
	}
}
