package translator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"digestbot/internal/domain"
	"digestbot/internal/i18n"
	openai "digestbot/internal/infra/openai"
)

func init() {
	i18n.Init("en")
}

type fakeChatClient struct {
	calls   int
	content string
}

func (f *fakeChatClient) CreateChatCompletion(ctx context.Context, purpose string, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls++
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatMessage{Content: f.content}}},
	}, nil
}

type fakeTranslationRepo struct {
	rows    map[string]domain.Translation
	creates int
}

func newFakeTranslationRepo() *fakeTranslationRepo {
	return &fakeTranslationRepo{rows: make(map[string]domain.Translation)}
}

func (r *fakeTranslationRepo) key(digestID int64, language string) string {
	return fmt.Sprintf("%d:%s", digestID, language)
}

func (r *fakeTranslationRepo) GetTranslation(ctx context.Context, digestID int64, language string) (domain.Translation, bool, error) {
	t, ok := r.rows[r.key(digestID, language)]
	return t, ok, nil
}

func (r *fakeTranslationRepo) CreateTranslation(ctx context.Context, t domain.Translation) (domain.Translation, error) {
	r.creates++
	r.rows[r.key(t.DigestID, t.Language)] = t
	return t, nil
}

func TestTranslateBaseLanguageShortCircuits(t *testing.T) {
	client := &fakeChatClient{content: "should not be used"}
	repo := newFakeTranslationRepo()
	tr := New(client, repo, "gpt-4o-mini", "en", time.Second)

	digest := domain.Digest{ID: 1, Content: "hello world"}
	got, err := tr.Translate(context.Background(), digest, "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello world" {
		t.Fatalf("expected base content unchanged, got %q", got)
	}
	if client.calls != 0 {
		t.Fatalf("expected no calls for base language, got %d", client.calls)
	}
}

func TestTranslateCacheHitAvoidsCall(t *testing.T) {
	client := &fakeChatClient{content: "fresh translation"}
	repo := newFakeTranslationRepo()
	digest := domain.Digest{ID: 1, Content: "hello world"}
	repo.rows[repo.key(digest.ID, "ru")] = domain.Translation{DigestID: 1, Language: "ru", Content: "cached translation"}

	tr := New(client, repo, "gpt-4o-mini", "en", time.Second)
	got, err := tr.Translate(context.Background(), digest, "ru")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "cached translation" {
		t.Fatalf("expected cached content, got %q", got)
	}
	if client.calls != 0 {
		t.Fatalf("expected no calls on cache hit, got %d", client.calls)
	}
}

func TestTranslateCacheMissCallsAndPersists(t *testing.T) {
	client := &fakeChatClient{content: "  translated text  "}
	repo := newFakeTranslationRepo()
	digest := domain.Digest{ID: 1, Content: "hello world"}

	tr := New(client, repo, "gpt-4o-mini", "en", time.Second)
	got, err := tr.Translate(context.Background(), digest, "ru")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "translated text" {
		t.Fatalf("unexpected content: %q", got)
	}
	if client.calls != 1 {
		t.Fatalf("expected exactly 1 call, got %d", client.calls)
	}
	if repo.creates != 1 {
		t.Fatalf("expected translation to be persisted, got %d creates", repo.creates)
	}

	// idempotence: a second request for the same (digest, language) must
	// not call the translation service again.
	got2, err := tr.Translate(context.Background(), digest, "ru")
	if err != nil {
		t.Fatalf("unexpected error on second call: %v", err)
	}
	if got2 != "translated text" {
		t.Fatalf("unexpected content on second call: %q", got2)
	}
	if client.calls != 1 {
		t.Fatalf("expected no additional calls, got %d", client.calls)
	}
}

func TestTranslateUnsupportedLanguage(t *testing.T) {
	client := &fakeChatClient{content: "x"}
	repo := newFakeTranslationRepo()
	digest := domain.Digest{ID: 1, Content: "hello world"}

	tr := New(client, repo, "gpt-4o-mini", "en", time.Second)
	_, err := tr.Translate(context.Background(), digest, "zz-not-a-real-lang")
	if err == nil {
		t.Fatal("expected error for unsupported language")
	}
	if domain.KindOf(err) != domain.KindConfigInvalid {
		t.Fatalf("expected KindConfigInvalid, got %v", domain.KindOf(err))
	}
}
