package domain

import "time"

// Post is a single harvested item from a syndication feed. It is never
// persisted; it lives only for the duration of one pipeline run.
type Post struct {
	Author      string
	Text        string
	PublishedAt time.Time
	SourceID    string
}

// Digest is the base-language text produced by the summarizer for one
// pipeline run. Inserted once, never updated.
type Digest struct {
	ID        int64
	Content   string
	CreatedAt time.Time
}

// Translation is a cached rendering of a Digest in a non-base language.
type Translation struct {
	DigestID  int64
	Language  string
	Content   string
	CreatedAt time.Time
}

// Subscriber is a chat that receives scheduled digests.
type Subscriber struct {
	ChatID            int64
	Language          string
	Active            bool
	SubscribedAt      time.Time
	FirstSubscribedAt time.Time
	ReceivedWelcome   bool
}

// DeliveryFailure is an append-only audit row recorded when a send to a
// subscriber could not be completed.
type DeliveryFailure struct {
	ID           int64
	ChatID       int64
	ErrorMessage string
	CreatedAt    time.Time
}

// Lease is the cluster-wide mutual-exclusion token for one scheduled slot.
type Lease struct {
	Name           string
	HolderInstance string
	AcquiredAt     time.Time
	ExpiresAt      time.Time
}

// SubscriberState is the webhook state machine's view of a chat.
type SubscriberState string

const (
	SubscriberAbsent   SubscriberState = "absent"
	SubscriberActive   SubscriberState = "active"
	SubscriberInactive SubscriberState = "inactive"
)

// DeliveryOutcome classifies what happened when the Sender attempted one
// message on behalf of the Delivery Orchestrator.
type DeliveryOutcome string

const (
	OutcomeOK            DeliveryOutcome = "ok"
	OutcomeRecipientGone DeliveryOutcome = "recipient_gone"
	OutcomeRateLimited   DeliveryOutcome = "rate_limited"
	OutcomeMarkupError   DeliveryOutcome = "markup_error"
	OutcomeTransient     DeliveryOutcome = "transient"
)

// SendResult is what the Sender returns for one POST to the chat API.
type SendResult struct {
	Outcome        DeliveryOutcome
	RetryAfterSecs int
	Description    string
}

// RunSummary is the aggregate the Delivery Orchestrator logs and returns
// from a scheduled or manually triggered pipeline run.
type RunSummary struct {
	SlotKey     string
	DigestID    int64
	Attempted   int
	Delivered   int
	Deactivated int
	Failed      int
	TimedOut    bool
}
