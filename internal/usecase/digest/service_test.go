package digest

import (
	"context"
	"errors"
	"testing"
	"time"

	"digestbot/internal/domain"
)

type fakeHarvester struct {
	posts []domain.Post
	err   error
	calls int
}

func (f *fakeHarvester) Harvest(ctx context.Context, screenNames []string, lookback time.Duration, maxPosts int) ([]domain.Post, error) {
	f.calls++
	return f.posts, f.err
}

type fakeSummarizer struct {
	content string
	err     error
	calls   int
}

func (f *fakeSummarizer) Summarize(ctx context.Context, posts []domain.Post, baseLanguage string) (string, error) {
	f.calls++
	return f.content, f.err
}

type fakeDigestRepo struct {
	created domain.Digest
	err     error
	calls   int
}

func (f *fakeDigestRepo) CreateDigest(ctx context.Context, content string, createdAt time.Time) (domain.Digest, error) {
	f.calls++
	if f.err != nil {
		return domain.Digest{}, f.err
	}
	return domain.Digest{ID: 1, Content: content, CreatedAt: createdAt}, nil
}

func (f *fakeDigestRepo) Latest(ctx context.Context) (domain.Digest, bool, error) {
	return f.created, f.created.ID != 0, nil
}

func TestServiceBuildHappyPath(t *testing.T) {
	harvester := &fakeHarvester{posts: []domain.Post{{Author: "a", Text: "hello"}}}
	summarizer := &fakeSummarizer{content: "digest body"}
	repo := &fakeDigestRepo{}

	svc := NewService(harvester, summarizer, repo, "en", 12*time.Hour, 50)
	digest, err := svc.Build(context.Background(), []string{"acct1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if digest.Content != "digest body" {
		t.Fatalf("unexpected content: %q", digest.Content)
	}
	if harvester.calls != 1 || summarizer.calls != 1 || repo.calls != 1 {
		t.Fatalf("expected each collaborator called exactly once: harvester=%d summarizer=%d repo=%d",
			harvester.calls, summarizer.calls, repo.calls)
	}
}

func TestServiceBuildPropagatesHarvestError(t *testing.T) {
	wantErr := errors.New("harvest boom")
	harvester := &fakeHarvester{err: wantErr}
	summarizer := &fakeSummarizer{}
	repo := &fakeDigestRepo{}

	svc := NewService(harvester, summarizer, repo, "en", 12*time.Hour, 50)
	_, err := svc.Build(context.Background(), []string{"acct1"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected harvest error to propagate, got %v", err)
	}
	if summarizer.calls != 0 || repo.calls != 0 {
		t.Fatalf("expected pipeline to stop after harvest failure")
	}
}

func TestServiceBuildReturnsErrNoPostsOnEmptyHarvest(t *testing.T) {
	harvester := &fakeHarvester{posts: nil}
	summarizer := &fakeSummarizer{content: "digest body"}
	repo := &fakeDigestRepo{}

	svc := NewService(harvester, summarizer, repo, "en", 12*time.Hour, 50)
	_, err := svc.Build(context.Background(), []string{"acct1"})
	if !errors.Is(err, ErrNoPosts) {
		t.Fatalf("expected ErrNoPosts, got %v", err)
	}
	if summarizer.calls != 0 || repo.calls != 0 {
		t.Fatalf("expected pipeline to stop before summarizing an empty harvest")
	}
}

func TestServiceBuildPropagatesSummarizeError(t *testing.T) {
	wantErr := errors.New("summarize boom")
	harvester := &fakeHarvester{posts: []domain.Post{{Author: "a"}}}
	summarizer := &fakeSummarizer{err: wantErr}
	repo := &fakeDigestRepo{}

	svc := NewService(harvester, summarizer, repo, "en", 12*time.Hour, 50)
	_, err := svc.Build(context.Background(), []string{"acct1"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected summarize error to propagate, got %v", err)
	}
	if repo.calls != 0 {
		t.Fatalf("expected digest to not be persisted after summarize failure")
	}
}
