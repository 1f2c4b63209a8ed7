package domain

import (
	"context"
	"time"
)

// Harvester converts a roster of screen names into a time-filtered,
// newest-first collection of posts.
type Harvester interface {
	Harvest(ctx context.Context, screenNames []string, lookback time.Duration, maxPosts int) ([]Post, error)
}

// Summarizer condenses a non-empty collection of posts into a single
// plain-text digest in the base language.
type Summarizer interface {
	Summarize(ctx context.Context, posts []Post, baseLanguage string) (string, error)
}

// Translator returns digest content rendered in a target language,
// transparently caching translations.
type Translator interface {
	Translate(ctx context.Context, digest Digest, language string) (string, error)
}

// Sender delivers one already-formatted message to a single recipient and
// classifies the outcome.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) (SendResult, error)
}

// SubscriberRepo manages Subscriber rows.
type SubscriberRepo interface {
	GetSubscriber(ctx context.Context, chatID int64) (Subscriber, bool, error)
	UpsertSubscriber(ctx context.Context, sub Subscriber) (Subscriber, error)
	SetActive(ctx context.Context, chatID int64, active bool, now time.Time) error
	SetLanguage(ctx context.Context, chatID int64, language string) error
	MarkWelcomed(ctx context.Context, chatID int64) error
	ListActive(ctx context.Context) ([]Subscriber, error)
	Counts(ctx context.Context) (active int, inactive int, byLanguage map[string]int, err error)
}

// DigestRepo persists and retrieves Digests.
type DigestRepo interface {
	CreateDigest(ctx context.Context, content string, createdAt time.Time) (Digest, error)
	Latest(ctx context.Context) (Digest, bool, error)
}

// TranslationRepo is the Translator's cache backing store.
type TranslationRepo interface {
	GetTranslation(ctx context.Context, digestID int64, language string) (Translation, bool, error)
	CreateTranslation(ctx context.Context, t Translation) (Translation, error)
}

// DeliveryFailureRepo is the append-only audit log for failed sends.
type DeliveryFailureRepo interface {
	Record(ctx context.Context, chatID int64, errMessage string, at time.Time) error
}

// LeaseStore backs the Scheduler's single-leader protocol (§4.8).
type LeaseStore interface {
	// Acquire attempts to take the named lease for holderInstance. It
	// returns ok=false when another holder already owns an unexpired lease.
	Acquire(ctx context.Context, name, holderInstance string, ttl time.Duration) (ok bool, err error)
	Release(ctx context.Context, name, holderInstance string) error
}

// Store is the union of every durable-state repository the pipeline
// depends on.
type Store interface {
	SubscriberRepo
	DigestRepo
	TranslationRepo
	DeliveryFailureRepo
	Healthy(ctx context.Context) error
}

// DeliveryJob is one subscriber's already-translated, already-formatted
// send, queued when the Delivery Orchestrator is configured to fan out
// through a durable queue instead of an in-process semaphore. Segments
// preserves the Formatter's ordering so a consumer sends them in sequence,
// exactly as the in-process path does.
type DeliveryJob struct {
	JobID    string
	ChatID   int64
	DigestID int64
	SlotKey  string
	Language string
	Segments []string
}

// DeliveryQueue decouples job submission from job execution for
// horizontally-scaled deployments of the Delivery Orchestrator.
type DeliveryQueue interface {
	Enqueue(ctx context.Context, job DeliveryJob) error
	Pop(ctx context.Context) (DeliveryJob, error)
}
