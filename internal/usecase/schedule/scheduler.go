// Package schedule implements the Scheduler and its single-leader lease
// protocol, per spec §4.8.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"digestbot/internal/domain"
	"digestbot/internal/infra/config"
	"digestbot/internal/infra/metrics"
)

const (
	tickInterval     = 30 * time.Second
	defaultJobBudget = 10 * time.Minute
	leaseTTLFactor   = 2
)

// PipelineRunner executes one full pipeline pass for the given slot key.
type PipelineRunner interface {
	RunSlot(ctx context.Context, slotKey string) (domain.RunSummary, error)
}

// Scheduler fires PipelineRunner.RunSlot at each configured wall-clock
// slot, guarded by a cluster-wide lease so at most one replica runs it.
type Scheduler struct {
	slots      []config.ScheduleSlot
	lease      domain.LeaseStore
	runner     PipelineRunner
	instanceID string
	log        zerolog.Logger
	jobBudget  time.Duration

	mu     sync.Mutex
	fired  map[string]bool // "HH:MM:YYYY-MM-DD" already attempted this process lifetime
}

// New builds a Scheduler. instanceID identifies this replica as the lease
// holder; it should be stable per process (hostname + pid is typical).
func New(slots []config.ScheduleSlot, lease domain.LeaseStore, runner PipelineRunner, instanceID string, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		slots:      slots,
		lease:      lease,
		runner:     runner,
		instanceID: instanceID,
		log:        log,
		jobBudget:  defaultJobBudget,
		fired:      make(map[string]bool),
	}
}

// Run blocks, checking every tickInterval whether the current UTC
// wall-clock minute matches a configured slot, until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.checkSlots(ctx, now.UTC())
		}
	}
}

func (s *Scheduler) checkSlots(ctx context.Context, now time.Time) {
	for _, slot := range s.slots {
		if now.Hour() != slot.UTCHour || now.Minute() != slot.UTCMinute {
			continue
		}
		key := fmt.Sprintf("%s:%s", slot.Key(), now.Format("2006-01-02"))

		s.mu.Lock()
		alreadyFired := s.fired[key]
		s.fired[key] = true
		s.mu.Unlock()
		if alreadyFired {
			continue
		}

		go s.attemptSlot(ctx, key)
	}
}

func (s *Scheduler) attemptSlot(ctx context.Context, slotKey string) {
	leaseName := "schedule:" + slotKey
	ttl := s.jobBudget * leaseTTLFactor

	ok, err := s.lease.Acquire(ctx, leaseName, s.instanceID, ttl)
	if err != nil {
		s.log.Error().Err(err).Str("slot", slotKey).Msg("scheduler: lease acquire failed, skipping slot")
		metrics.ObserveLeaseAcquire(false)
		return
	}
	metrics.ObserveLeaseAcquire(ok)
	if !ok {
		s.log.Info().Str("slot", slotKey).Msg("scheduler: slot already held by another replica")
		return
	}
	defer func() {
		if err := s.lease.Release(ctx, leaseName, s.instanceID); err != nil {
			s.log.Error().Err(err).Str("slot", slotKey).Msg("scheduler: lease release failed")
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.jobBudget)
	defer cancel()

	summary, err := s.runner.RunSlot(runCtx, slotKey)
	if err != nil {
		s.log.Error().Err(err).Str("slot", slotKey).Msg("scheduler: pipeline run failed")
		return
	}
	s.log.Info().
		Str("slot", slotKey).
		Int64("digest_id", summary.DigestID).
		Int("attempted", summary.Attempted).
		Int("delivered", summary.Delivered).
		Msg("scheduler: slot complete")
}

// Trigger runs the pipeline immediately under the same lease discipline,
// keyed by the current instant, for the /trigger HTTP endpoint.
func (s *Scheduler) Trigger(ctx context.Context) (domain.RunSummary, error) {
	slotKey := "manual:" + time.Now().UTC().Format("2006-01-02T15:04:05")
	leaseName := "schedule:" + slotKey
	ttl := s.jobBudget * leaseTTLFactor

	ok, err := s.lease.Acquire(ctx, leaseName, s.instanceID, ttl)
	if err != nil {
		return domain.RunSummary{}, err
	}
	if !ok {
		return domain.RunSummary{}, fmt.Errorf("trigger: a pipeline run is already in progress")
	}
	defer func() {
		_ = s.lease.Release(ctx, leaseName, s.instanceID)
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.jobBudget)
	defer cancel()
	return s.runner.RunSlot(runCtx, slotKey)
}
