package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"saas-billing/internal/domain"
	"saas-billing/internal/domain/model"
	"saas-billing/internal/domain/ports/repository"
)

// Compile-time check
var _ SubscriptionStateMachine = (*stateMachineUC)(nil)

// SubscriptionStateMachine applies normalized provider events to the local
// subscription record.
//
// Every transition is a single read-then-write transaction guarded by the
// record's version column; a lost version check re-reads and re-applies.
// Events on records that already reflect them, and update/delete events for
// records not created yet, succeed without writing.
type SubscriptionStateMachine interface {
	Apply(ctx context.Context, ev *model.WebhookEvent) model.WebhookResult
}

type stateMachineUC struct {
	subs  repository.SubscriptionRepository
	plans repository.SubscriptionPlanRepository
	tm    repository.TransactionManager
	log   *zerolog.Logger
	now   func() time.Time
}

func NewSubscriptionStateMachine(subs repository.SubscriptionRepository, plans repository.SubscriptionPlanRepository, tm repository.TransactionManager, logger *zerolog.Logger) *stateMachineUC {
	l := logger.With().Str("component", "SubscriptionStateMachine").Logger()
	return &stateMachineUC{subs: subs, plans: plans, tm: tm, log: &l, now: time.Now}
}

func (m *stateMachineUC) Apply(ctx context.Context, ev *model.WebhookEvent) model.WebhookResult {
	if ev == nil {
		return model.Failed(fmt.Errorf("%w: nil event", domain.ErrMalformedEvent))
	}
	var res model.WebhookResult
	switch ev.Type {
	case model.EventSubscriptionCreated:
		res = m.onCreated(ctx, ev)
	case model.EventSubscriptionUpdated:
		res = m.onUpdated(ctx, ev)
	case model.EventSubscriptionDeleted:
		res = m.onDeleted(ctx, ev)
	case model.EventInvoicePaymentSucceeded:
		res = m.onPaymentSucceeded(ctx, ev)
	case model.EventInvoicePaymentFailed:
		res = m.onPaymentFailed(ctx, ev)
	default:
		m.log.Info().Str("event_id", ev.ID).Str("event_type", ev.RawType).Msg("unhandled event type acknowledged")
		res = model.Noop(model.OutcomeIgnored, "")
	}
	res.EventID = ev.ID
	res.EventType = string(ev.Type)
	return res
}

// transact runs fn in a transaction, retrying on write conflicts.
func (m *stateMachineUC) transact(ctx context.Context, op string, fn func(ctx context.Context, tx repository.Tx) error) error {
	return retryOnConflict(ctx, m.log, op, func(ctx context.Context) error {
		return m.tm.WithTx(ctx, pgx.TxOptions{}, fn)
	})
}

func (m *stateMachineUC) onCreated(ctx context.Context, ev *model.WebhookEvent) model.WebhookResult {
	data, err := ev.Subscription()
	if err != nil {
		return model.Failed(fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err))
	}
	if data.ID == "" {
		return model.Failed(fmt.Errorf("%w: missing subscription id", domain.ErrMalformedEvent))
	}
	userID, planID, err := data.RequireOwner()
	if err != nil {
		return model.Failed(err)
	}
	start, end, err := data.RequirePeriod()
	if err != nil {
		return model.Failed(err)
	}
	if _, err := m.plans.FindByID(ctx, repository.NoTX, planID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return model.Failed(fmt.Errorf("%w: unknown metadata.planId %q", domain.ErrMalformedEvent, planID))
		}
		return model.Failed(err)
	}

	var res model.WebhookResult
	err = m.transact(ctx, string(ev.Type), func(ctx context.Context, tx repository.Tx) error {
		existing, err := m.subs.FindByExternalID(ctx, tx, data.ID)
		if err == nil {
			m.log.Info().Str("event_id", ev.ID).Str("subscription_id", existing.ID).Msg("subscription already exists for external id")
			res = model.Noop(model.OutcomeNoop, existing.ID)
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		now := m.now()
		cur, err := m.subs.FindByUser(ctx, tx, userID)
		switch {
		case err == nil:
			if cur.ExternalSubscriptionID != "" && cur.IsStale(ev.Created) {
				res = model.Noop(model.OutcomeStale, cur.ID)
				return nil
			}
			// one record per user: a new paid subscription replaces the previous one in place
			if cur.ExternalSubscriptionID != "" && !cur.IsCancelled() {
				m.log.Warn().Str("user_id", userID).
					Str("previous_external_id", cur.ExternalSubscriptionID).
					Str("external_id", data.ID).
					Msg("replacing live provider subscription")
			}
			cur.PlanID = planID
			cur.CancelledAt = nil
			cur.Status = model.SubscriptionStatusActive
			cur.ExternalSubscriptionID = data.ID
			cur.ExternalCustomerID = data.CustomerID
			if err := applyCreatedFields(cur, data, start, end); err != nil {
				return err
			}
			cur.Touch(ev.Created, now)
			if err := m.subs.Update(ctx, tx, cur); err != nil {
				return err
			}
			res = model.Applied(cur.ID)
			return nil
		case errors.Is(err, domain.ErrNotFound):
			s := &model.UserSubscription{
				ID:                     uuid.NewString(),
				UserID:                 userID,
				PlanID:                 planID,
				Status:                 model.SubscriptionStatusActive,
				ExternalSubscriptionID: data.ID,
				ExternalCustomerID:     data.CustomerID,
				CreatedAt:              now.UTC(),
			}
			if err := applyCreatedFields(s, data, start, end); err != nil {
				return err
			}
			s.Touch(ev.Created, now)
			if err := m.subs.Create(ctx, tx, s); err != nil {
				return err
			}
			res = model.Applied(s.ID)
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return model.Failed(err)
	}
	if res.Outcome == model.OutcomeApplied {
		m.log.Info().Str("event_id", ev.ID).Str("user_id", userID).Str("plan_id", planID).Msg("subscription created")
	}
	return res
}

func applyCreatedFields(s *model.UserSubscription, data *model.SubscriptionData, start, end time.Time) error {
	if err := s.SetPeriod(start, end); err != nil {
		return err
	}
	if st, ok := model.MapProviderStatus(data.Status); ok && st == model.SubscriptionStatusTrialing {
		s.Status = model.SubscriptionStatusTrialing
	}
	s.TrialEnd = data.TrialEnd
	return nil
}

func (m *stateMachineUC) onUpdated(ctx context.Context, ev *model.WebhookEvent) model.WebhookResult {
	data, err := ev.Subscription()
	if err != nil {
		return model.Failed(fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err))
	}
	if data.ID == "" {
		return model.Failed(fmt.Errorf("%w: missing subscription id", domain.ErrMalformedEvent))
	}
	start, end, err := data.RequirePeriod()
	if err != nil {
		return model.Failed(err)
	}

	var res model.WebhookResult
	err = m.transact(ctx, string(ev.Type), func(ctx context.Context, tx repository.Tx) error {
		cur, err := m.subs.FindByExternalID(ctx, tx, data.ID)
		if errors.Is(err, domain.ErrNotFound) {
			m.log.Info().Str("event_id", ev.ID).Str("external_id", data.ID).Msg("update for unknown subscription ignored")
			res = model.Noop(model.OutcomeNoop, "")
			return nil
		}
		if err != nil {
			return err
		}
		if cur.IsStale(ev.Created) {
			res = model.Noop(model.OutcomeStale, cur.ID)
			return nil
		}

		before := *cur
		now := m.now()
		if err := cur.SetPeriod(start, end); err != nil {
			return err
		}
		cur.ApplyProviderStatus(data.Status, now)
		if data.CustomerID != "" {
			cur.ExternalCustomerID = data.CustomerID
		}
		if data.TrialEnd != nil {
			cur.TrialEnd = data.TrialEnd
		}
		if data.PlanID != "" && data.PlanID != cur.PlanID {
			if _, err := m.plans.FindByID(ctx, tx, data.PlanID); err == nil {
				cur.PlanID = data.PlanID
			} else if !errors.Is(err, domain.ErrNotFound) {
				return err
			} else {
				m.log.Warn().Str("event_id", ev.ID).Str("plan_id", data.PlanID).Msg("update references unknown plan; plan left unchanged")
			}
		}
		if sameState(&before, cur) {
			res = model.Noop(model.OutcomeNoop, cur.ID)
			return nil
		}
		cur.Touch(ev.Created, now)
		if err := m.subs.Update(ctx, tx, cur); err != nil {
			return err
		}
		res = model.Applied(cur.ID)
		return nil
	})
	if err != nil {
		return model.Failed(err)
	}
	return res
}

func (m *stateMachineUC) onDeleted(ctx context.Context, ev *model.WebhookEvent) model.WebhookResult {
	data, err := ev.Subscription()
	if err != nil {
		return model.Failed(fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err))
	}
	if data.ID == "" {
		return model.Failed(fmt.Errorf("%w: missing subscription id", domain.ErrMalformedEvent))
	}

	var res model.WebhookResult
	err = m.transact(ctx, string(ev.Type), func(ctx context.Context, tx repository.Tx) error {
		cur, err := m.subs.FindByExternalID(ctx, tx, data.ID)
		if errors.Is(err, domain.ErrNotFound) {
			m.log.Info().Str("event_id", ev.ID).Str("external_id", data.ID).Msg("delete for unknown subscription treated as already cancelled")
			res = model.Noop(model.OutcomeNoop, "")
			return nil
		}
		if err != nil {
			return err
		}
		if cur.IsStale(ev.Created) {
			res = model.Noop(model.OutcomeStale, cur.ID)
			return nil
		}
		now := m.now()
		if !cur.Cancel(now) {
			res = model.Noop(model.OutcomeNoop, cur.ID)
			return nil
		}
		cur.Touch(ev.Created, now)
		if err := m.subs.Update(ctx, tx, cur); err != nil {
			return err
		}
		res = model.Applied(cur.ID)
		return nil
	})
	if err != nil {
		return model.Failed(err)
	}
	return res
}

func (m *stateMachineUC) onPaymentSucceeded(ctx context.Context, ev *model.WebhookEvent) model.WebhookResult {
	inv, err := ev.Invoice()
	if err != nil {
		return model.Failed(fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err))
	}
	if inv.SubscriptionID == "" {
		m.log.Info().Str("event_id", ev.ID).Str("invoice_id", inv.ID).Msg("invoice without subscription ignored")
		return model.Noop(model.OutcomeIgnored, "")
	}

	var res model.WebhookResult
	err = m.transact(ctx, string(ev.Type), func(ctx context.Context, tx repository.Tx) error {
		cur, err := m.subs.FindByExternalID(ctx, tx, inv.SubscriptionID)
		if errors.Is(err, domain.ErrNotFound) {
			m.log.Info().Str("event_id", ev.ID).Str("external_id", inv.SubscriptionID).Msg("payment for unknown subscription ignored")
			res = model.Noop(model.OutcomeNoop, "")
			return nil
		}
		if err != nil {
			return err
		}
		if cur.IsStale(ev.Created) {
			res = model.Noop(model.OutcomeStale, cur.ID)
			return nil
		}
		if !cur.Activate() {
			res = model.Noop(model.OutcomeNoop, cur.ID)
			return nil
		}
		cur.Touch(ev.Created, m.now())
		if err := m.subs.Update(ctx, tx, cur); err != nil {
			return err
		}
		res = model.Applied(cur.ID)
		return nil
	})
	if err != nil {
		return model.Failed(err)
	}
	return res
}

func (m *stateMachineUC) onPaymentFailed(ctx context.Context, ev *model.WebhookEvent) model.WebhookResult {
	inv, err := ev.Invoice()
	if err != nil {
		return model.Failed(fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err))
	}
	if inv.SubscriptionID == "" {
		m.log.Info().Str("event_id", ev.ID).Str("invoice_id", inv.ID).Msg("invoice without subscription ignored")
		return model.Noop(model.OutcomeIgnored, "")
	}

	var res model.WebhookResult
	err = m.transact(ctx, string(ev.Type), func(ctx context.Context, tx repository.Tx) error {
		cur, err := m.subs.FindByExternalID(ctx, tx, inv.SubscriptionID)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrSubscriptionNotFound
		}
		if err != nil {
			return err
		}
		if cur.IsStale(ev.Created) {
			res = model.Noop(model.OutcomeStale, cur.ID)
			return nil
		}
		if !cur.MarkPastDue() {
			res = model.Noop(model.OutcomeNoop, cur.ID)
			return nil
		}
		cur.Touch(ev.Created, m.now())
		if err := m.subs.Update(ctx, tx, cur); err != nil {
			return err
		}
		res = model.Applied(cur.ID)
		return nil
	})
	if err != nil {
		return model.Failed(err)
	}
	return res
}

// sameState compares the fields an event can change.
func sameState(a, b *model.UserSubscription) bool {
	return a.PlanID == b.PlanID &&
		a.Status == b.Status &&
		a.ExternalCustomerID == b.ExternalCustomerID &&
		a.CurrentPeriodStart.Equal(b.CurrentPeriodStart) &&
		a.CurrentPeriodEnd.Equal(b.CurrentPeriodEnd) &&
		timePtrEqual(a.CancelledAt, b.CancelledAt) &&
		timePtrEqual(a.TrialEnd, b.TrialEnd)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
