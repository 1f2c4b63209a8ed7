package digest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"digestbot/internal/domain"
)

// ErrNoPosts signals the normal, non-error empty-harvest-window outcome per
// spec §8: nothing new to digest is not a failure, and callers must not log
// or classify it like one.
var ErrNoPosts = errors.New("digest: no posts in harvest window")

// Service builds one Digest per pipeline run: harvest posts, summarize
// them in the base language, and persist the result.
type Service struct {
	harvester    domain.Harvester
	summarizer   domain.Summarizer
	store        domain.DigestRepo
	baseLanguage string
	lookback     time.Duration
	maxPosts     int
}

// NewService wires the Digest Pipeline's three collaborators.
func NewService(harvester domain.Harvester, summarizer domain.Summarizer, store domain.DigestRepo, baseLanguage string, lookback time.Duration, maxPosts int) *Service {
	return &Service{
		harvester:    harvester,
		summarizer:   summarizer,
		store:        store,
		baseLanguage: baseLanguage,
		lookback:     lookback,
		maxPosts:     maxPosts,
	}
}

// Build runs one full pipeline pass: harvest the roster, summarize the
// result, and persist a new Digest row. Per spec §4.1–4.2 this never
// reuses a prior Digest; every run produces a fresh one.
func (s *Service) Build(ctx context.Context, roster []string) (domain.Digest, error) {
	posts, err := s.harvester.Harvest(ctx, roster, s.lookback, s.maxPosts)
	if err != nil {
		return domain.Digest{}, err
	}
	if len(posts) == 0 {
		return domain.Digest{}, ErrNoPosts
	}

	content, err := s.summarizer.Summarize(ctx, posts, s.baseLanguage)
	if err != nil {
		return domain.Digest{}, err
	}

	digest, err := s.store.CreateDigest(ctx, content, time.Now().UTC())
	if err != nil {
		return domain.Digest{}, fmt.Errorf("persisting digest: %w", err)
	}
	return digest, nil
}
