package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"digestbot/internal/domain"
	"digestbot/internal/usecase/delivery"
	"digestbot/internal/usecase/digest"
)

type fakeHarvester struct {
	posts []domain.Post
	err   error
}

func (f *fakeHarvester) Harvest(ctx context.Context, screenNames []string, lookback time.Duration, maxPosts int) ([]domain.Post, error) {
	return f.posts, f.err
}

type fakeSummarizer struct{ calls int }

func (f *fakeSummarizer) Summarize(ctx context.Context, posts []domain.Post, baseLanguage string) (string, error) {
	f.calls++
	return "summary", nil
}

type fakeStore struct{}

func (fakeStore) GetSubscriber(ctx context.Context, chatID int64) (domain.Subscriber, bool, error) {
	return domain.Subscriber{}, false, nil
}
func (fakeStore) UpsertSubscriber(ctx context.Context, sub domain.Subscriber) (domain.Subscriber, error) {
	return sub, nil
}
func (fakeStore) SetActive(ctx context.Context, chatID int64, active bool, now time.Time) error {
	return nil
}
func (fakeStore) SetLanguage(ctx context.Context, chatID int64, language string) error { return nil }
func (fakeStore) MarkWelcomed(ctx context.Context, chatID int64) error                 { return nil }
func (fakeStore) ListActive(ctx context.Context) ([]domain.Subscriber, error)          { return nil, nil }
func (fakeStore) Counts(ctx context.Context) (int, int, map[string]int, error)         { return 0, 0, nil, nil }
func (fakeStore) CreateDigest(ctx context.Context, content string, createdAt time.Time) (domain.Digest, error) {
	return domain.Digest{ID: 1, Content: content, CreatedAt: createdAt}, nil
}
func (fakeStore) Latest(ctx context.Context) (domain.Digest, bool, error) { return domain.Digest{}, false, nil }
func (fakeStore) GetTranslation(ctx context.Context, digestID int64, language string) (domain.Translation, bool, error) {
	return domain.Translation{}, false, nil
}
func (fakeStore) CreateTranslation(ctx context.Context, t domain.Translation) (domain.Translation, error) {
	return t, nil
}
func (fakeStore) Record(ctx context.Context, chatID int64, errMessage string, at time.Time) error {
	return nil
}
func (fakeStore) Healthy(ctx context.Context) error { return nil }

type fakeTranslator struct{}

func (fakeTranslator) Translate(ctx context.Context, dig domain.Digest, language string) (string, error) {
	return dig.Content, nil
}

type fakeSender struct{}

func (fakeSender) Send(ctx context.Context, chatID int64, text string) (domain.SendResult, error) {
	return domain.SendResult{Outcome: domain.OutcomeOK}, nil
}

func newTestPipeline(harvester domain.Harvester, summarizer domain.Summarizer) (*Pipeline, domain.Store) {
	store := fakeStore{}
	digestService := digest.NewService(harvester, summarizer, store, "en", time.Hour, 50)
	orchestrator := delivery.New(store, fakeTranslator{}, fakeSender{}, zerolog.Nop(), 999)
	return New(digestService, orchestrator, []string{"acct1"}, zerolog.Nop()), store
}

func TestRunSlotSkipsNormallyOnEmptyHarvest(t *testing.T) {
	summarizer := &fakeSummarizer{}
	p, _ := newTestPipeline(&fakeHarvester{}, summarizer)

	summary, err := p.RunSlot(context.Background(), "09:00:2026-08-03")
	if err != nil {
		t.Fatalf("expected no error for an empty harvest window, got %v", err)
	}
	if summary.Attempted != 0 || summary.Delivered != 0 {
		t.Fatalf("expected a zero-value summary, got %+v", summary)
	}
	if summarizer.calls != 0 {
		t.Fatalf("expected Summarize to never be called on an empty harvest")
	}
}

func TestRunSlotPropagatesOtherBuildErrors(t *testing.T) {
	wantErr := errors.New("harvest boom")
	p, _ := newTestPipeline(&fakeHarvester{err: wantErr}, &fakeSummarizer{})

	_, err := p.RunSlot(context.Background(), "09:00:2026-08-03")
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected harvest error to propagate, got %v", err)
	}
}
