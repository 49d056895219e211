package usecase

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"saas-billing/internal/domain"
	"saas-billing/internal/domain/model"
	"saas-billing/internal/domain/ports/adapter"
	"saas-billing/internal/domain/ports/repository"
)

// Compile-time check
var _ WebhookUseCase = (*webhookUC)(nil)

// WebhookUseCase is the inbound side of the provider integration: verify,
// de-duplicate, then apply.
type WebhookUseCase interface {
	HandleInbound(ctx context.Context, rawBody []byte, signatureHeader string) model.WebhookResult
}

type webhookUC struct {
	normalizer adapter.WebhookNormalizer
	processed  repository.ProcessedEventRepository // optional
	machine    SubscriptionStateMachine
	log        *zerolog.Logger
}

// NewWebhookUseCase wires the intake pipeline. processed may be nil, in which
// case every delivery is applied and the state machine's own idempotency
// is relied upon.
func NewWebhookUseCase(normalizer adapter.WebhookNormalizer, processed repository.ProcessedEventRepository, machine SubscriptionStateMachine, logger *zerolog.Logger) *webhookUC {
	l := logger.With().Str("component", "WebhookUC").Logger()
	return &webhookUC{normalizer: normalizer, processed: processed, machine: machine, log: &l}
}

func (uc *webhookUC) HandleInbound(ctx context.Context, rawBody []byte, signatureHeader string) model.WebhookResult {
	ev, err := uc.normalizer.Normalize(rawBody, signatureHeader)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			uc.log.Warn().Err(err).Msg("rejected webhook with invalid signature")
		} else {
			uc.log.Error().Err(err).Msg("failed to parse webhook")
		}
		return model.Failed(err)
	}

	log := uc.log.With().Str("event_id", ev.ID).Str("event_type", ev.RawType).Logger()

	if uc.processed != nil && ev.ID != "" {
		seen, err := uc.processed.IsProcessed(ctx, ev.ID)
		if err != nil {
			// dedupe store down: fall through, transitions are idempotent
			log.Warn().Err(err).Msg("processed-event store unavailable")
		} else if seen {
			log.Info().Msg("duplicate delivery acknowledged")
			res := model.Noop(model.OutcomeDuplicate, "")
			res.EventID = ev.ID
			res.EventType = string(ev.Type)
			return res
		}
	}

	res := uc.machine.Apply(ctx, ev)
	if !res.Success {
		log.Error().Err(res.Error).Msg("webhook event failed")
		return res
	}
	// marked only once applied; a lost mark costs one idempotent re-apply
	if uc.processed != nil && ev.ID != "" {
		if err := uc.processed.MarkProcessed(context.WithoutCancel(ctx), ev.ID); err != nil {
			log.Warn().Err(err).Msg("failed to mark event processed")
		}
	}
	log.Info().Str("outcome", string(res.Outcome)).Str("subscription_id", res.SubscriptionID).Msg("webhook event handled")
	return res
}
