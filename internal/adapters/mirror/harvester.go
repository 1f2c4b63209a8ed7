// Package mirror implements domain.Harvester against an HTTP mirror that
// exposes each tracked account's posts as a syndication feed.
package mirror

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"digestbot/internal/domain"
	"digestbot/internal/infra/metrics"
	"digestbot/internal/retry"
)

// pacingGap is the minimum delay between consecutive requests to the
// mirror, per spec §4.1 step 2.
const pacingGap = 3 * time.Second

// Harvester polls {baseURL}/{name}/rss for each screen name in the roster.
type Harvester struct {
	client  *http.Client
	baseURL string
	apiKey  string
	parser  *gofeed.Parser
}

// New creates a Harvester. baseURL is the mirror's HTTPS origin with no
// trailing slash; apiKey, when non-empty, is sent as X-API-Key.
func New(baseURL, apiKey string) *Harvester {
	return &Harvester{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		parser:  gofeed.NewParser(),
	}
}

// Harvest implements domain.Harvester.
func (h *Harvester) Harvest(ctx context.Context, screenNames []string, lookback time.Duration, maxPosts int) ([]domain.Post, error) {
	if len(screenNames) == 0 {
		return nil, domain.Wrap(domain.KindConfigInvalid, "Harvester.Harvest", fmt.Errorf("empty roster"))
	}

	var all []domain.Post
	var failures int
	cutoff := time.Now().Add(-lookback)

	for i, name := range screenNames {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(pacingGap):
			}
		}

		posts, err := h.fetchOne(ctx, name, cutoff)
		if err != nil {
			failures++
			metrics.HarvestErrors.Inc()
			continue
		}
		all = append(all, posts...)
	}

	if failures == len(screenNames) {
		return nil, domain.Wrap(domain.KindHarvestFailed, "Harvester.Harvest", fmt.Errorf("all %d feeds failed", failures))
	}

	sort.Slice(all, func(i, j int) bool {
		if !all[i].PublishedAt.Equal(all[j].PublishedAt) {
			return all[i].PublishedAt.After(all[j].PublishedAt)
		}
		if all[i].Author != all[j].Author {
			return all[i].Author < all[j].Author
		}
		return all[i].SourceID < all[j].SourceID
	})

	if len(all) > maxPosts {
		all = all[:maxPosts]
	}
	metrics.HarvestPostsTotal.Add(float64(len(all)))
	return all, nil
}

func (h *Harvester) fetchOne(ctx context.Context, name string, cutoff time.Time) ([]domain.Post, error) {
	url := fmt.Sprintf("%s/%s/rss", h.baseURL, name)

	var posts []domain.Post
	err := retry.Do(ctx, retry.Mirror(), isRetryableStatus, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		if h.apiKey != "" {
			req.Header.Set("X-API-Key", h.apiKey)
		}

		start := time.Now()
		resp, err := h.client.Do(req)
		metrics.ObserveNetworkRequest("mirror", "fetch_rss", name, start, err)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return &statusError{resp.StatusCode}
		}
		feed, err := h.parser.Parse(resp.Body)
		if err != nil {
			return err
		}
		posts = collectPosts(feed, name, cutoff)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return posts, nil
}

type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("mirror: status %d", e.code) }

func isRetryableStatus(err error) bool {
	se, ok := err.(*statusError)
	if !ok {
		return true // network errors are always retryable
	}
	return se.code >= 500
}

func collectPosts(feed *gofeed.Feed, name string, cutoff time.Time) []domain.Post {
	var posts []domain.Post
	for _, item := range feed.Items {
		if item.PublishedParsed == nil {
			continue
		}
		published := item.PublishedParsed.UTC()
		if published.Before(cutoff) {
			continue
		}
		posts = append(posts, domain.Post{
			Author:      name,
			Text:        cleanText(item.Description),
			PublishedAt: published,
			SourceID:    item.GUID,
		})
	}
	return posts
}

// cleanText strips HTML tags, decodes entities, and collapses whitespace,
// per spec §4.1 step 3.
func cleanText(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	decoded := html.UnescapeString(b.String())
	fields := strings.Fields(decoded)
	return strings.Join(fields, " ")
}
