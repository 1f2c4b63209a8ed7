// Package repo holds the Postgres-backed implementation of domain.Store.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"digestbot/internal/domain"
	"digestbot/internal/infra/metrics"
)

// Postgres реализует domain.Store на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.Store = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// Healthy pings the pool with a short deadline.
func (p *Postgres) Healthy(ctx context.Context) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	err := p.pool.Ping(ctx)
	metrics.ObserveNetworkRequest("postgres", "ping", "-", start, err)
	if err != nil {
		return domain.Wrap(domain.KindStoreUnreachable, "Postgres.Healthy", err)
	}
	return nil
}

// --- SubscriberRepo -------------------------------------------------------

// GetSubscriber returns a subscriber by chat ID.
func (p *Postgres) GetSubscriber(ctx context.Context, chatID int64) (domain.Subscriber, bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT chat_id, language, active, subscribed_at, first_subscribed_at, received_welcome
FROM subscribers WHERE chat_id = $1`, chatID)
	var sub domain.Subscriber
	err := row.Scan(&sub.ChatID, &sub.Language, &sub.Active, &sub.SubscribedAt, &sub.FirstSubscribedAt, &sub.ReceivedWelcome)
	metrics.ObserveNetworkRequest("postgres", "subscriber_get", "subscribers", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Subscriber{}, false, nil
	}
	if err != nil {
		return domain.Subscriber{}, false, domain.Wrap(domain.KindStoreUnreachable, "Postgres.Get", err)
	}
	return sub, true, nil
}

// UpsertSubscriber inserts a subscriber or reactivates/updates an existing one,
// preserving first_subscribed_at across re-subscriptions.
func (p *Postgres) UpsertSubscriber(ctx context.Context, sub domain.Subscriber) (domain.Subscriber, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO subscribers (chat_id, language, active, subscribed_at, first_subscribed_at, received_welcome)
VALUES ($1, $2, true, $3, $3, $4)
ON CONFLICT (chat_id) DO UPDATE SET
	active = true,
	subscribed_at = $3,
	language = COALESCE(NULLIF(subscribers.language, ''), EXCLUDED.language)
RETURNING chat_id, language, active, subscribed_at, first_subscribed_at, received_welcome`,
		sub.ChatID, sub.Language, sub.SubscribedAt, sub.ReceivedWelcome)
	var out domain.Subscriber
	err := row.Scan(&out.ChatID, &out.Language, &out.Active, &out.SubscribedAt, &out.FirstSubscribedAt, &out.ReceivedWelcome)
	metrics.ObserveNetworkRequest("postgres", "subscriber_upsert", "subscribers", start, err)
	if err != nil {
		return domain.Subscriber{}, domain.Wrap(domain.KindStoreUnreachable, "Postgres.Upsert", err)
	}
	return out, nil
}

// SetActive flips a subscriber's active flag.
func (p *Postgres) SetActive(ctx context.Context, chatID int64, active bool, now time.Time) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `UPDATE subscribers SET active = $2, subscribed_at = CASE WHEN $2 THEN $3 ELSE subscribed_at END WHERE chat_id = $1`, chatID, active, now)
	metrics.ObserveNetworkRequest("postgres", "subscriber_set_active", "subscribers", start, err)
	if err != nil {
		return domain.Wrap(domain.KindStoreUnreachable, "Postgres.SetActive", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Wrap(domain.KindStoreUnreachable, "Postgres.SetActive", errors.New("no such subscriber"))
	}
	return nil
}

// SetLanguage updates a subscriber's language preference.
func (p *Postgres) SetLanguage(ctx context.Context, chatID int64, language string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `UPDATE subscribers SET language = $2 WHERE chat_id = $1`, chatID, language)
	metrics.ObserveNetworkRequest("postgres", "subscriber_set_language", "subscribers", start, err)
	if err != nil {
		return domain.Wrap(domain.KindStoreUnreachable, "Postgres.SetLanguage", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Wrap(domain.KindStoreUnreachable, "Postgres.SetLanguage", errors.New("no such subscriber"))
	}
	return nil
}

// MarkWelcomed records that the welcome message was sent, once.
func (p *Postgres) MarkWelcomed(ctx context.Context, chatID int64) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE subscribers SET received_welcome = true WHERE chat_id = $1`, chatID)
	metrics.ObserveNetworkRequest("postgres", "subscriber_mark_welcomed", "subscribers", start, err)
	if err != nil {
		return domain.Wrap(domain.KindStoreUnreachable, "Postgres.MarkWelcomed", err)
	}
	return nil
}

// ListActive returns every active subscriber.
func (p *Postgres) ListActive(ctx context.Context) ([]domain.Subscriber, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT chat_id, language, active, subscribed_at, first_subscribed_at, received_welcome
FROM subscribers WHERE active = true ORDER BY chat_id`)
	metrics.ObserveNetworkRequest("postgres", "subscriber_list_active", "subscribers", start, err)
	if err != nil {
		return nil, domain.Wrap(domain.KindStoreUnreachable, "Postgres.ListActive", err)
	}
	defer rows.Close()

	var out []domain.Subscriber
	for rows.Next() {
		var sub domain.Subscriber
		if err := rows.Scan(&sub.ChatID, &sub.Language, &sub.Active, &sub.SubscribedAt, &sub.FirstSubscribedAt, &sub.ReceivedWelcome); err != nil {
			return nil, domain.Wrap(domain.KindStoreUnreachable, "Postgres.ListActive", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// Counts summarizes the subscriber table for the /subscribers surface.
func (p *Postgres) Counts(ctx context.Context) (int, int, map[string]int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT active, language, count(*) FROM subscribers GROUP BY active, language`)
	metrics.ObserveNetworkRequest("postgres", "subscriber_counts", "subscribers", start, err)
	if err != nil {
		return 0, 0, nil, domain.Wrap(domain.KindStoreUnreachable, "Postgres.Counts", err)
	}
	defer rows.Close()

	var active, inactive int
	byLanguage := make(map[string]int)
	for rows.Next() {
		var isActive bool
		var language string
		var n int
		if err := rows.Scan(&isActive, &language, &n); err != nil {
			return 0, 0, nil, domain.Wrap(domain.KindStoreUnreachable, "Postgres.Counts", err)
		}
		if isActive {
			active += n
			byLanguage[language] += n
		} else {
			inactive += n
		}
	}
	return active, inactive, byLanguage, rows.Err()
}

// --- DigestRepo -------------------------------------------------------------

// CreateDigest persists a newly built digest in the base language.
func (p *Postgres) CreateDigest(ctx context.Context, content string, createdAt time.Time) (domain.Digest, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `INSERT INTO digests (content, created_at) VALUES ($1, $2) RETURNING id, content, created_at`, content, createdAt)
	var d domain.Digest
	err := row.Scan(&d.ID, &d.Content, &d.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "digest_create", "digests", start, err)
	if err != nil {
		return domain.Digest{}, domain.Wrap(domain.KindStoreUnreachable, "Postgres.Create", err)
	}
	return d, nil
}

// Latest returns the most recently created digest, if any.
func (p *Postgres) Latest(ctx context.Context) (domain.Digest, bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `SELECT id, content, created_at FROM digests ORDER BY created_at DESC LIMIT 1`)
	var d domain.Digest
	err := row.Scan(&d.ID, &d.Content, &d.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "digest_latest", "digests", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Digest{}, false, nil
	}
	if err != nil {
		return domain.Digest{}, false, domain.Wrap(domain.KindStoreUnreachable, "Postgres.Latest", err)
	}
	return d, true, nil
}

// --- TranslationRepo ---------------------------------------------------------

// GetTranslation looks up a cached translation for one digest+language pair.
func (p *Postgres) GetTranslation(ctx context.Context, digestID int64, language string) (domain.Translation, bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT digest_id, language, content, created_at FROM translations WHERE digest_id = $1 AND language = $2`,
		digestID, language)
	var t domain.Translation
	err := row.Scan(&t.DigestID, &t.Language, &t.Content, &t.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "translation_get", "translations", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Translation{}, false, nil
	}
	if err != nil {
		return domain.Translation{}, false, domain.Wrap(domain.KindStoreUnreachable, "Postgres.Get", err)
	}
	return t, true, nil
}

// CreateTranslation writes a freshly generated translation. A
// unique-constraint violation on (digest_id, language) means a concurrent
// translator won the race; CreateTranslation then re-reads the existing row
// via GetTranslation and returns it rather than treating it as a hard
// failure.
func (p *Postgres) CreateTranslation(ctx context.Context, t domain.Translation) (domain.Translation, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO translations (digest_id, language, content, created_at) VALUES ($1, $2, $3, $4)
RETURNING digest_id, language, content, created_at`,
		t.DigestID, t.Language, t.Content, t.CreatedAt)
	var out domain.Translation
	err := row.Scan(&out.DigestID, &out.Language, &out.Content, &out.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "translation_create", "translations", start, err)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			existing, ok, getErr := p.GetTranslation(ctx, t.DigestID, t.Language)
			if getErr == nil && ok {
				return existing, nil
			}
		}
		return domain.Translation{}, domain.Wrap(domain.KindStoreUnreachable, "Postgres.Create", err)
	}
	return out, nil
}

// --- DeliveryFailureRepo -----------------------------------------------------

// Record appends one delivery failure to the audit log.
func (p *Postgres) Record(ctx context.Context, chatID int64, errMessage string, at time.Time) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `INSERT INTO delivery_failures (chat_id, error_message, created_at) VALUES ($1, $2, $3)`,
		chatID, errMessage, at)
	metrics.ObserveNetworkRequest("postgres", "delivery_failure_record", "delivery_failures", start, err)
	if err != nil {
		return domain.Wrap(domain.KindStoreUnreachable, "Postgres.Record", err)
	}
	return nil
}
