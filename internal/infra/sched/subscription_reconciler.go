package sched

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"saas-billing/internal/domain"
	"saas-billing/internal/domain/model"
	"saas-billing/internal/domain/ports/adapter"
	"saas-billing/internal/domain/ports/repository"
	"saas-billing/internal/infra/metrics"
	"saas-billing/internal/infra/worker"
	"saas-billing/internal/usecase"
)

// SubscriptionReconciler periodically re-reads provider-linked subscriptions
// that look overdue (past due, or period ended without a renewal event) and
// feeds the provider's view through the state machine as a synthetic
// subscription.updated. This covers webhooks that were lost or exhausted
// their retries.
type SubscriptionReconciler struct {
	subs     repository.SubscriptionRepository
	provider adapter.PaymentProvider
	machine  usecase.SubscriptionStateMachine
	pool     *worker.Pool
	interval time.Duration
	batch    int
	log      *zerolog.Logger
	now      func() time.Time
}

func NewSubscriptionReconciler(
	subs repository.SubscriptionRepository,
	provider adapter.PaymentProvider,
	machine usecase.SubscriptionStateMachine,
	pool *worker.Pool,
	interval time.Duration,
	batch int,
	logger *zerolog.Logger,
) *SubscriptionReconciler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	l := logger.With().Str("component", "SubscriptionReconciler").Logger()
	return &SubscriptionReconciler{
		subs:     subs,
		provider: provider,
		machine:  machine,
		pool:     pool,
		interval: interval,
		batch:    batch,
		log:      &l,
		now:      time.Now,
	}
}

func (w *SubscriptionReconciler) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Int("batch", w.batch).Msg("reconciler started")
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one reconcile pass and waits for it to finish.
func (w *SubscriptionReconciler) Tick(ctx context.Context) {
	w.reportStatusCounts(ctx)

	due, err := w.subs.ListForReconcile(ctx, repository.NoTX, w.now().UTC(), w.batch)
	if err != nil {
		w.log.Error().Err(err).Msg("list subscriptions for reconcile failed")
		return
	}
	if len(due) == 0 {
		return
	}
	w.log.Info().Int("count", len(due)).Msg("reconciling subscriptions")

	var wg sync.WaitGroup
	for _, sub := range due {
		sub := sub
		wg.Add(1)
		err := w.pool.Submit(ctx, func(ctx context.Context) error {
			defer wg.Done()
			return w.reconcile(ctx, sub)
		})
		if err != nil {
			wg.Done()
			w.log.Warn().Err(err).Msg("reconcile pass interrupted")
			break
		}
	}
	wg.Wait()
}

func (w *SubscriptionReconciler) reconcile(ctx context.Context, sub *model.UserSubscription) error {
	remote, err := w.provider.FetchSubscription(ctx, sub.ExternalSubscriptionID)
	var ev *model.WebhookEvent
	switch {
	case errors.Is(err, domain.ErrNotFound):
		ev = syntheticEvent(model.EventSubscriptionDeleted, &model.SubscriptionData{ID: sub.ExternalSubscriptionID})
	case err != nil:
		metrics.IncReconciled("fetch_failed")
		return fmt.Errorf("fetch %s: %w", sub.ExternalSubscriptionID, err)
	case remote.CurrentPeriodStart.IsZero() || remote.CurrentPeriodEnd.IsZero():
		// no items to read a period from; only a terminal status is usable
		if st, ok := model.MapProviderStatus(remote.Status); ok && st == model.SubscriptionStatusCancelled {
			ev = syntheticEvent(model.EventSubscriptionDeleted, &model.SubscriptionData{ID: sub.ExternalSubscriptionID})
			break
		}
		metrics.IncReconciled("skipped")
		w.log.Debug().Str("subscription_id", sub.ID).Str("status", remote.Status).Msg("remote subscription has no period, skipped")
		return nil
	default:
		ev = syntheticEvent(model.EventSubscriptionUpdated, remoteToData(remote))
	}

	res := w.machine.Apply(ctx, ev)
	metrics.IncReconciled(string(res.Outcome))
	if !res.Success {
		return fmt.Errorf("reconcile %s: %w", sub.ID, res.Error)
	}
	w.log.Debug().
		Str("subscription_id", sub.ID).
		Str("outcome", string(res.Outcome)).
		Msg("subscription reconciled")
	return nil
}

// syntheticEvent carries no provider timestamp, so it neither counts as
// stale nor moves the staleness watermark.
func syntheticEvent(t model.EventType, data *model.SubscriptionData) *model.WebhookEvent {
	return &model.WebhookEvent{
		ID:      "reconcile:" + data.ID,
		Type:    t,
		RawType: "reconcile." + string(t),
		Data:    data,
	}
}

func remoteToData(r *adapter.RemoteSubscription) *model.SubscriptionData {
	d := &model.SubscriptionData{
		ID:         r.ID,
		CustomerID: r.CustomerID,
		Status:     r.Status,
		UserID:     r.UserID,
		PlanID:     r.PlanID,
	}
	start, end := r.CurrentPeriodStart, r.CurrentPeriodEnd
	d.CurrentPeriodStart, d.CurrentPeriodEnd = &start, &end
	return d
}

func (w *SubscriptionReconciler) reportStatusCounts(ctx context.Context) {
	counts, err := w.subs.CountByStatus(ctx, repository.NoTX)
	if err != nil {
		w.log.Warn().Err(err).Msg("count subscriptions by status failed")
		return
	}
	metrics.SetSubscriptionsTotal(counts)
}
