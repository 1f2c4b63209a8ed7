// Package delivery implements the Delivery Orchestrator: fan-out send of
// one Digest to every active subscriber, per spec §4.6.
package delivery

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"digestbot/internal/domain"
	"digestbot/internal/infra/metrics"
	"digestbot/internal/retry"
	"digestbot/internal/usecase/digest"
)

const (
	defaultConcurrency        = 4
	defaultSlotDeadline       = 10 * time.Minute
	maxRateLimitAttempts      = 3
	maxTransientRetries       = 2
	transientRetryBaseAttempt = 1
)

// Orchestrator fans a Digest out to every active subscriber, grouping by
// language so translation and formatting happen once per group.
type Orchestrator struct {
	subs        domain.SubscriberRepo
	digests     domain.DigestRepo
	failures    domain.DeliveryFailureRepo
	translator  domain.Translator
	sender      domain.Sender
	log         zerolog.Logger
	adminChatID int64
	concurrency int
	slotDeadline time.Duration
	queue       domain.DeliveryQueue
}

// New wires an Orchestrator from the union Store plus its external
// collaborators.
func New(store domain.Store, translator domain.Translator, sender domain.Sender, log zerolog.Logger, adminChatID int64) *Orchestrator {
	return &Orchestrator{
		subs:         store,
		digests:      store,
		failures:     store,
		translator:   translator,
		sender:       sender,
		log:          log,
		adminChatID:  adminChatID,
		concurrency:  defaultConcurrency,
		slotDeadline: defaultSlotDeadline,
	}
}

// WithQueue switches Run from in-process semaphore fan-out to durable-queue
// fan-out: every subscriber's rendered send becomes a DeliveryJob enqueued
// for RunConsumer (possibly running in a separate process) to pop and send.
// Chainable; returns o so callers can do New(...).WithQueue(q).
func (o *Orchestrator) WithQueue(q domain.DeliveryQueue) *Orchestrator {
	o.queue = q
	return o
}

// Run delivers dig to every active subscriber exactly once, per spec §4.6's
// algorithm, and returns the aggregate RunSummary.
func (o *Orchestrator) Run(ctx context.Context, dig domain.Digest, slotKey string) domain.RunSummary {
	ctx, cancel := context.WithTimeout(ctx, o.slotDeadline)
	defer cancel()

	summary := domain.RunSummary{SlotKey: slotKey, DigestID: dig.ID}

	subscribers, err := o.subs.ListActive(ctx)
	if err != nil {
		o.log.Error().Err(err).Str("slot", slotKey).Msg("delivery: list active subscribers failed")
		return summary
	}
	if len(subscribers) == 0 {
		return summary
	}

	groups := make(map[string][]domain.Subscriber)
	for _, s := range subscribers {
		groups[s.Language] = append(groups[s.Language], s)
	}

	var (
		mu         sync.Mutex
		adminAlert sync.Once
		wg         sync.WaitGroup
	)
	sem := make(chan struct{}, o.concurrency)

	for language, members := range groups {
		translated, err := o.translator.Translate(ctx, dig, language)
		if err != nil {
			o.log.Error().Err(err).Str("slot", slotKey).Str("language", language).Msg("delivery: translation failed, skipping language group")
			continue
		}
		messages := digest.FormatMessages(translated, dig.CreatedAt)

		for _, sub := range members {
			select {
			case <-ctx.Done():
				mu.Lock()
				summary.TimedOut = true
				mu.Unlock()
			default:
			}
			if ctx.Err() != nil {
				break
			}

			sub := sub

			if o.queue != nil {
				job := domain.DeliveryJob{
					ChatID:   sub.ChatID,
					DigestID: dig.ID,
					SlotKey:  slotKey,
					Language: language,
					Segments: messages,
				}
				mu.Lock()
				summary.Attempted++
				mu.Unlock()
				if err := o.queue.Enqueue(ctx, job); err != nil {
					o.log.Error().Err(err).Int64("chat_id", sub.ChatID).Str("slot", slotKey).Msg("delivery: enqueue job failed")
					mu.Lock()
					summary.Failed++
					mu.Unlock()
				}
				continue
			}

			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				mu.Lock()
				summary.Attempted++
				mu.Unlock()

				outcome, desc := o.deliverToSubscriber(ctx, sub.ChatID, messages)
				o.settleOutcome(ctx, sub.ChatID, slotKey, outcome, desc, &adminAlert)

				mu.Lock()
				switch outcome {
				case domain.OutcomeOK:
					summary.Delivered++
				case domain.OutcomeRecipientGone:
					summary.Deactivated++
				default:
					summary.Failed++
				}
				mu.Unlock()
			}()
		}
	}
	wg.Wait()

	o.log.Info().
		Str("slot", slotKey).
		Int64("digest_id", dig.ID).
		Int("attempted", summary.Attempted).
		Int("delivered", summary.Delivered).
		Int("deactivated", summary.Deactivated).
		Int("failed", summary.Failed).
		Bool("timed_out", summary.TimedOut).
		Msg("delivery: run complete")

	return summary
}

// deliverToSubscriber sends every message segment in order, applying the
// per-outcome retry policy from spec §4.6 to each segment. The first
// terminal non-ok outcome ends the sequence for this recipient.
func (o *Orchestrator) deliverToSubscriber(ctx context.Context, chatID int64, messages []string) (domain.DeliveryOutcome, string) {
	for _, msg := range messages {
		outcome, desc := o.sendWithRetry(ctx, chatID, msg)
		if outcome != domain.OutcomeOK {
			return outcome, desc
		}
	}
	return domain.OutcomeOK, ""
}

func (o *Orchestrator) sendWithRetry(ctx context.Context, chatID int64, text string) (domain.DeliveryOutcome, string) {
	rateLimitAttempts := 0
	transientAttempts := 0

	for {
		res, err := o.sender.Send(ctx, chatID, text)
		if err != nil {
			return domain.OutcomeTransient, err.Error()
		}

		switch res.Outcome {
		case domain.OutcomeOK, domain.OutcomeRecipientGone, domain.OutcomeMarkupError:
			return res.Outcome, res.Description

		case domain.OutcomeRateLimited:
			rateLimitAttempts++
			if rateLimitAttempts > maxRateLimitAttempts {
				return domain.OutcomeTransient, res.Description
			}
			wait := time.Duration(res.RetryAfterSecs) * time.Second
			if wait <= 0 {
				wait = time.Second
			}
			select {
			case <-ctx.Done():
				return domain.OutcomeTransient, "context canceled during rate-limit backoff"
			case <-time.After(wait):
			}

		case domain.OutcomeTransient:
			transientAttempts++
			if transientAttempts > maxTransientRetries {
				return domain.OutcomeTransient, res.Description
			}
			policy := retry.Default()
			delay := policy.InitialDelay
			for i := transientRetryBaseAttempt; i < transientAttempts; i++ {
				delay *= time.Duration(policy.Multiplier)
				if delay > policy.MaxDelay {
					delay = policy.MaxDelay
					break
				}
			}
			if policy.Jitter > 0 {
				delay = time.Duration(float64(delay) * (1 + (rand.Float64()*2-1)*policy.Jitter))
			}
			select {
			case <-ctx.Done():
				return domain.OutcomeTransient, "context canceled during transient backoff"
			case <-time.After(delay):
			}

		default:
			return domain.OutcomeTransient, res.Description
		}
	}
}

// settleOutcome applies the side effects of a terminal send outcome
// (deactivation, failure logging, admin alert, metrics) shared by the
// in-process fan-out in Run and the queue consumer in RunConsumer.
// adminAlert may be nil, in which case a markup error alerts every time
// rather than once per run — RunConsumer processes jobs across many runs,
// so there is no single scope to dedupe against.
func (o *Orchestrator) settleOutcome(ctx context.Context, chatID int64, slotKey string, outcome domain.DeliveryOutcome, desc string, adminAlert *sync.Once) {
	switch outcome {
	case domain.OutcomeOK:
		metrics.DeliveryDelivered.Inc()
	case domain.OutcomeRecipientGone:
		if err := o.subs.SetActive(ctx, chatID, false, time.Now().UTC()); err != nil {
			o.log.Error().Err(err).Int64("chat_id", chatID).Msg("delivery: deactivate subscriber failed")
		}
		metrics.DeliveryDeactivated.Inc()
	case domain.OutcomeMarkupError:
		if err := o.failures.Record(ctx, chatID, desc, time.Now().UTC()); err != nil {
			o.log.Error().Err(err).Int64("chat_id", chatID).Msg("delivery: record failure failed")
		}
		metrics.DeliveryFailed.Inc()
		if adminAlert != nil {
			adminAlert.Do(func() { o.alertAdmin(ctx, slotKey, desc) })
		} else {
			o.alertAdmin(ctx, slotKey, desc)
		}
	default:
		if err := o.failures.Record(ctx, chatID, desc, time.Now().UTC()); err != nil {
			o.log.Error().Err(err).Int64("chat_id", chatID).Msg("delivery: record failure failed")
		}
		metrics.DeliveryFailed.Inc()
	}
	metrics.DeliveryAttempted.Inc()
}

// RunConsumer pops DeliveryJobs off the configured queue and sends them one
// at a time until ctx is canceled or the queue returns a non-context error,
// which it logs and treats as fatal for this consumer goroutine. Multiple
// callers may run RunConsumer concurrently against the same queue to scale
// out delivery horizontally; cmd/worker starts a fixed pool of these when a
// queue backend is configured.
func (o *Orchestrator) RunConsumer(ctx context.Context) error {
	if o.queue == nil {
		return fmt.Errorf("delivery: RunConsumer called without a configured queue")
	}
	for {
		job, err := o.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			o.log.Error().Err(err).Msg("delivery: pop job failed")
			return err
		}

		outcome, desc := o.deliverToSubscriber(ctx, job.ChatID, job.Segments)
		o.settleOutcome(ctx, job.ChatID, job.SlotKey, outcome, desc, nil)

		o.log.Info().
			Str("slot", job.SlotKey).
			Int64("digest_id", job.DigestID).
			Int64("chat_id", job.ChatID).
			Str("outcome", string(outcome)).
			Msg("delivery: queued job settled")
	}
}

func (o *Orchestrator) alertAdmin(ctx context.Context, slotKey, description string) {
	text := digest.Escape(fmt.Sprintf("Delivery markup error during slot %s: %s", slotKey, description))
	if _, err := o.sender.Send(ctx, o.adminChatID, text); err != nil {
		o.log.Error().Err(err).Msg("delivery: admin alert send failed")
	}
}

// DeliverWelcome implements the webhook's welcomeDeliverer interface: send
// the most recent Digest to exactly one chat, best-effort.
func (o *Orchestrator) DeliverWelcome(ctx context.Context, chatID int64, language string) {
	dig, ok, err := o.digests.Latest(ctx)
	if err != nil || !ok {
		return
	}
	if _, err := o.SendOne(ctx, chatID, language, dig, ""); err != nil {
		o.log.Error().Err(err).Int64("chat_id", chatID).Msg("delivery: welcome send failed")
	}
}

// SendOne translates and formats dig for language, prefixes the first
// message segment with prefix (used by the /test endpoint), and sends it
// to exactly one chat, bypassing the broadcast.
func (o *Orchestrator) SendOne(ctx context.Context, chatID int64, language string, dig domain.Digest, prefix string) (domain.DeliveryOutcome, error) {
	translated, err := o.translator.Translate(ctx, dig, language)
	if err != nil {
		return domain.OutcomeTransient, err
	}
	messages := digest.FormatMessages(translated, dig.CreatedAt)
	if prefix != "" && len(messages) > 0 {
		messages[0] = digest.Escape(prefix) + messages[0]
	}
	outcome, desc := o.deliverToSubscriber(ctx, chatID, messages)
	if outcome != domain.OutcomeOK {
		return outcome, fmt.Errorf("%s: %s", outcome, desc)
	}
	return outcome, nil
}
