// Package pipeline glues the Digest Pipeline and the Delivery Orchestrator
// into the single operation the Scheduler and the manual-trigger HTTP
// endpoints invoke.
package pipeline

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"digestbot/internal/domain"
	"digestbot/internal/usecase/digest"
	"digestbot/internal/usecase/delivery"
)

// Pipeline runs one full build-then-broadcast pass, per spec §2.
type Pipeline struct {
	digests      *digest.Service
	orchestrator *delivery.Orchestrator
	roster       []string
	log          zerolog.Logger
}

// New wires a Pipeline from its two usecase collaborators and the
// configured account roster.
func New(digests *digest.Service, orchestrator *delivery.Orchestrator, roster []string, log zerolog.Logger) *Pipeline {
	return &Pipeline{digests: digests, orchestrator: orchestrator, roster: roster, log: log}
}

// RunSlot implements the Scheduler's PipelineRunner: build a fresh Digest
// and deliver it to every active subscriber under slotKey.
func (p *Pipeline) RunSlot(ctx context.Context, slotKey string) (domain.RunSummary, error) {
	dig, err := p.digests.Build(ctx, p.roster)
	if err != nil {
		if errors.Is(err, digest.ErrNoPosts) {
			p.log.Info().Str("slot", slotKey).Msg("pipeline: no posts in harvest window, skipping slot")
			return domain.RunSummary{SlotKey: slotKey}, nil
		}
		p.log.Error().Err(err).Str("slot", slotKey).Str("error_kind", string(domain.KindOf(err))).Msg("pipeline: digest build failed, slot aborted")
		return domain.RunSummary{SlotKey: slotKey}, err
	}
	summary := p.orchestrator.Run(ctx, dig, slotKey)
	return summary, nil
}

// BuildFresh regenerates a Digest without delivering it, used by the
// /test?fresh=true endpoint.
func (p *Pipeline) BuildFresh(ctx context.Context) (domain.Digest, error) {
	return p.digests.Build(ctx, p.roster)
}
