package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"digestbot/internal/domain"
	"digestbot/internal/i18n"
)

func init() {
	_ = i18n.Init("en")
}

type fakeSubscriberRepo struct {
	rows map[int64]domain.Subscriber
}

func newFakeSubscriberRepo() *fakeSubscriberRepo {
	return &fakeSubscriberRepo{rows: make(map[int64]domain.Subscriber)}
}

func (r *fakeSubscriberRepo) GetSubscriber(ctx context.Context, chatID int64) (domain.Subscriber, bool, error) {
	s, ok := r.rows[chatID]
	return s, ok, nil
}

func (r *fakeSubscriberRepo) UpsertSubscriber(ctx context.Context, sub domain.Subscriber) (domain.Subscriber, error) {
	r.rows[sub.ChatID] = sub
	return sub, nil
}

func (r *fakeSubscriberRepo) SetActive(ctx context.Context, chatID int64, active bool, now time.Time) error {
	s := r.rows[chatID]
	s.Active = active
	if active {
		s.SubscribedAt = now
	}
	r.rows[chatID] = s
	return nil
}

func (r *fakeSubscriberRepo) SetLanguage(ctx context.Context, chatID int64, language string) error {
	s := r.rows[chatID]
	s.Language = language
	r.rows[chatID] = s
	return nil
}

func (r *fakeSubscriberRepo) MarkWelcomed(ctx context.Context, chatID int64) error {
	s := r.rows[chatID]
	s.ReceivedWelcome = true
	r.rows[chatID] = s
	return nil
}

func (r *fakeSubscriberRepo) ListActive(ctx context.Context) ([]domain.Subscriber, error) {
	var out []domain.Subscriber
	for _, s := range r.rows {
		if s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeSubscriberRepo) Counts(ctx context.Context) (int, int, map[string]int, error) {
	active, inactive := 0, 0
	for _, s := range r.rows {
		if s.Active {
			active++
		} else {
			inactive++
		}
	}
	return active, inactive, nil, nil
}

type fakeDigestRepo struct {
	digest domain.Digest
	has    bool
}

func (f *fakeDigestRepo) CreateDigest(ctx context.Context, content string, createdAt time.Time) (domain.Digest, error) {
	return domain.Digest{}, nil
}

func (f *fakeDigestRepo) Latest(ctx context.Context) (domain.Digest, bool, error) {
	return f.digest, f.has, nil
}

type fakeWelcome struct{ calls int }

func (f *fakeWelcome) DeliverWelcome(ctx context.Context, chatID int64, language string) { f.calls++ }

type fakeSender struct {
	sent []string
}

func (f *fakeSender) Send(ctx context.Context, chatID int64, text string) (domain.SendResult, error) {
	f.sent = append(f.sent, text)
	return domain.SendResult{Outcome: domain.OutcomeOK}, nil
}

func newTestHandler(store *fakeSubscriberRepo, digests *fakeDigestRepo, welcome *fakeWelcome, sender *fakeSender) *Handler {
	return NewHandler(store, digests, welcome, sender, zerolog.Nop(), "shared-secret", 999)
}

func post(t *testing.T, h *Handler, secret string, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(raw))
	if secret != "" {
		req.Header.Set("X-Telegram-Bot-Api-Secret-Token", secret)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// waitFor polls cond until it's true or a short deadline passes. ServeHTTP
// dispatches handleMessage in a goroutine after acknowledging the webhook,
// so assertions on its side effects can't run synchronously after post().
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not met within deadline")
	}
}

func updateBody(updateID int, chatID int64, text string) map[string]any {
	return map[string]any{
		"update_id": updateID,
		"message": map[string]any{
			"message_id": 1,
			"chat":       map[string]any{"id": chatID},
			"text":       text,
			"date":       1700000000,
		},
	}
}

func TestWebhookRejectsWrongSecret(t *testing.T) {
	h := newTestHandler(newFakeSubscriberRepo(), &fakeDigestRepo{}, &fakeWelcome{}, &fakeSender{})
	rec := post(t, h, "wrong", updateBody(1, 100, "/start"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestWebhookSubscribeActivatesAndSendsWelcome(t *testing.T) {
	store := newFakeSubscriberRepo()
	digests := &fakeDigestRepo{digest: domain.Digest{ID: 1, Content: "hi"}, has: true}
	welcome := &fakeWelcome{}
	sender := &fakeSender{}
	h := newTestHandler(store, digests, welcome, sender)

	rec := post(t, h, "shared-secret", updateBody(1, 100, "/subscribe"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	waitFor(t, func() bool {
		sub, ok, _ := store.GetSubscriber(context.Background(), 100)
		return ok && sub.Active
	})

	waitFor(t, func() bool { return welcome.calls == 1 })
}

func TestWebhookSubscribeIdempotentWhenAlreadyActive(t *testing.T) {
	store := newFakeSubscriberRepo()
	now := time.Now().UTC()
	store.rows[100] = domain.Subscriber{ChatID: 100, Active: true, Language: "en", SubscribedAt: now, FirstSubscribedAt: now, ReceivedWelcome: true}
	welcome := &fakeWelcome{}
	sender := &fakeSender{}
	h := newTestHandler(store, &fakeDigestRepo{}, welcome, sender)

	post(t, h, "shared-secret", updateBody(1, 100, "/subscribe"))

	waitFor(t, func() bool { return len(sender.sent) == 1 })
	if welcome.calls != 0 {
		t.Fatalf("expected no welcome delivery for already-active subscriber, got %d", welcome.calls)
	}
}

func TestWebhookUnsubscribeDeactivates(t *testing.T) {
	store := newFakeSubscriberRepo()
	now := time.Now().UTC()
	store.rows[100] = domain.Subscriber{ChatID: 100, Active: true, Language: "en", SubscribedAt: now, FirstSubscribedAt: now, ReceivedWelcome: true}
	h := newTestHandler(store, &fakeDigestRepo{}, &fakeWelcome{}, &fakeSender{})

	post(t, h, "shared-secret", updateBody(1, 100, "/unsubscribe"))

	waitFor(t, func() bool {
		sub, _, _ := store.GetSubscriber(context.Background(), 100)
		return !sub.Active
	})
}

func TestWebhookLanguageRejectsUnsupportedCode(t *testing.T) {
	store := newFakeSubscriberRepo()
	store.rows[100] = domain.Subscriber{ChatID: 100, Active: true, Language: "en"}
	sender := &fakeSender{}
	h := newTestHandler(store, &fakeDigestRepo{}, &fakeWelcome{}, sender)

	post(t, h, "shared-secret", updateBody(1, 100, "/language xx"))

	waitFor(t, func() bool { return len(sender.sent) == 1 })
	sub, _, _ := store.GetSubscriber(context.Background(), 100)
	if sub.Language != "en" {
		t.Fatalf("expected language unchanged, got %q", sub.Language)
	}
}

func TestWebhookLanguageAcceptsSupportedCode(t *testing.T) {
	store := newFakeSubscriberRepo()
	store.rows[100] = domain.Subscriber{ChatID: 100, Active: true, Language: "en"}
	h := newTestHandler(store, &fakeDigestRepo{}, &fakeWelcome{}, &fakeSender{})

	post(t, h, "shared-secret", updateBody(1, 100, "/language ru"))

	waitFor(t, func() bool {
		sub, _, _ := store.GetSubscriber(context.Background(), 100)
		return sub.Language == "ru"
	})
}

func TestWebhookLanguageFromAbsentSubscriberReplies(t *testing.T) {
	store := newFakeSubscriberRepo()
	sender := &fakeSender{}
	h := newTestHandler(store, &fakeDigestRepo{}, &fakeWelcome{}, sender)

	post(t, h, "shared-secret", updateBody(1, 100, "/language ru"))

	waitFor(t, func() bool { return len(sender.sent) == 1 })
	if _, ok, _ := store.GetSubscriber(context.Background(), 100); ok {
		t.Fatal("expected no subscriber row to be created")
	}
}

func TestWebhookRejectsInvalidUpdateID(t *testing.T) {
	h := newTestHandler(newFakeSubscriberRepo(), &fakeDigestRepo{}, &fakeWelcome{}, &fakeSender{})
	rec := post(t, h, "shared-secret", updateBody(0, 100, "/start"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 (silently accepted, no action), got %d", rec.Code)
	}
}
