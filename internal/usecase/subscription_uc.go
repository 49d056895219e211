package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"saas-billing/internal/domain"
	"saas-billing/internal/domain/model"
	"saas-billing/internal/domain/ports/adapter"
	"saas-billing/internal/domain/ports/repository"
)

// Compile-time check
var _ SubscriptionUseCase = (*subscriptionUC)(nil)

const cancelLockTTL = 30 * time.Second

// SubscriptionView is the current subscription together with its plan.
type SubscriptionView struct {
	Subscription *model.UserSubscription `json:"subscription"`
	Plan         *model.SubscriptionPlan `json:"plan"`
}

// SubscriptionUseCase is the API-facing entry point of the billing core.
type SubscriptionUseCase interface {
	// EnsureSubscription returns the user's subscription, provisioning a free
	// one on first use. created reports whether this call made it.
	EnsureSubscription(ctx context.Context, userID string) (sub *model.UserSubscription, created bool, err error)
	GetCurrentSubscription(ctx context.Context, userID string) (*SubscriptionView, error)
	GetUsage(ctx context.Context, userID string) (*UsageReport, error)
	ListPlans(ctx context.Context) ([]*model.SubscriptionPlan, error)

	CreateCheckoutSession(ctx context.Context, userID, planID, successURL, cancelURL string) (*adapter.CheckoutSession, error)
	CreatePortalSession(ctx context.Context, userID, returnURL string) (string, error)
	CancelSubscription(ctx context.Context, userID string) (*model.UserSubscription, error)

	TrackUsage(ctx context.Context, userID string, f model.Feature, amount int64) (*model.SubscriptionUsage, error)
	CanUseFeature(ctx context.Context, userID string, f model.Feature) (bool, error)
}

type subscriptionUC struct {
	provisioner
	plans            PlanUseCase
	meter            UsageMeter
	provider         adapter.PaymentProvider
	locker           adapter.Locker // optional
	tm               repository.TransactionManager
	defaultReturnURL string
	log              *zerolog.Logger
	now              func() time.Time
}

func NewSubscriptionUseCase(
	subs repository.SubscriptionRepository,
	usage repository.UsageRepository,
	plans PlanUseCase,
	meter UsageMeter,
	provider adapter.PaymentProvider,
	locker adapter.Locker,
	tm repository.TransactionManager,
	defaultReturnURL string,
	logger *zerolog.Logger,
) *subscriptionUC {
	l := logger.With().Str("component", "SubscriptionUC").Logger()
	return &subscriptionUC{
		provisioner:      provisioner{subs: subs, usage: usage},
		plans:            plans,
		meter:            meter,
		provider:         provider,
		locker:           locker,
		tm:               tm,
		defaultReturnURL: defaultReturnURL,
		log:              &l,
		now:              time.Now,
	}
}

func (uc *subscriptionUC) EnsureSubscription(ctx context.Context, userID string) (*model.UserSubscription, bool, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, false, domain.ErrInvalidArgument
	}
	var (
		sub     *model.UserSubscription
		created bool
	)
	err := retryOnConflict(ctx, uc.log, "ensure_subscription", func(ctx context.Context) error {
		return uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			var err error
			sub, created, err = uc.ensureSubscription(ctx, tx, userID)
			if err != nil {
				return err
			}
			_, _, err = uc.ensureUsage(ctx, tx, userID)
			return err
		})
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		uc.log.Info().Str("user_id", userID).Str("subscription_id", sub.ID).Msg("free subscription provisioned")
	}
	return sub, created, nil
}

func (uc *subscriptionUC) GetCurrentSubscription(ctx context.Context, userID string) (*SubscriptionView, error) {
	sub, _, err := uc.EnsureSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	plan, err := uc.plans.Get(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}
	return &SubscriptionView{Subscription: sub, Plan: plan}, nil
}

func (uc *subscriptionUC) GetUsage(ctx context.Context, userID string) (*UsageReport, error) {
	return uc.meter.GetUsage(ctx, userID)
}

func (uc *subscriptionUC) ListPlans(ctx context.Context) ([]*model.SubscriptionPlan, error) {
	return uc.plans.List(ctx, true)
}

func (uc *subscriptionUC) CreateCheckoutSession(ctx context.Context, userID, planID, successURL, cancelURL string) (*adapter.CheckoutSession, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	if err := validateRedirect(successURL); err != nil {
		return nil, fmt.Errorf("%w: success url", err)
	}
	if err := validateRedirect(cancelURL); err != nil {
		return nil, fmt.Errorf("%w: cancel url", err)
	}

	plan, err := uc.plans.Get(ctx, strings.ToLower(strings.TrimSpace(planID)))
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, fmt.Errorf("%w: %q is not available", domain.ErrPlanNotFound, plan.ID)
	}
	if !plan.HasExternalPrice() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidConfiguration, plan.ID)
	}

	req := adapter.CheckoutRequest{
		UserID:     userID,
		PlanID:     plan.ID,
		PriceID:    plan.ExternalPriceID,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
	}
	// reuse the provider customer so the portal shows a single history
	if cur, err := uc.subs.FindByUser(ctx, repository.NoTX, userID); err == nil {
		req.CustomerID = cur.ExternalCustomerID
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	session, err := uc.provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		uc.log.Error().Err(err).Str("user_id", userID).Str("plan_id", plan.ID).Msg("checkout session failed")
		return nil, providerErr(err)
	}
	uc.log.Info().Str("user_id", userID).Str("plan_id", plan.ID).Str("session_id", session.ID).Msg("checkout session created")
	return session, nil
}

func (uc *subscriptionUC) CreatePortalSession(ctx context.Context, userID, returnURL string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", domain.ErrInvalidArgument
	}
	if returnURL == "" {
		returnURL = uc.defaultReturnURL
	}
	if err := validateRedirect(returnURL); err != nil {
		return "", fmt.Errorf("%w: return url", err)
	}

	sub, err := uc.subs.FindByUser(ctx, repository.NoTX, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return "", domain.ErrNoStripeCustomer
	}
	if err != nil {
		return "", err
	}
	if sub.ExternalCustomerID == "" {
		return "", domain.ErrNoStripeCustomer
	}

	portalURL, err := uc.provider.CreatePortalSession(ctx, sub.ExternalCustomerID, returnURL)
	if err != nil {
		uc.log.Error().Err(err).Str("user_id", userID).Msg("portal session failed")
		return "", providerErr(err)
	}
	return portalURL, nil
}

// CancelSubscription cancels at the provider first and only then locally, so
// the local record never runs ahead of the provider.
func (uc *subscriptionUC) CancelSubscription(ctx context.Context, userID string) (*model.UserSubscription, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	sub, err := uc.subs.FindByUser(ctx, repository.NoTX, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNoSubscription
	}
	if err != nil {
		return nil, err
	}
	if sub.PlanID == model.PlanIDFree {
		return nil, domain.ErrCannotCancelFreePlan
	}
	if sub.IsCancelled() {
		return sub, nil
	}

	if uc.locker != nil {
		key := "billing:cancel:" + userID
		token, err := uc.locker.TryLock(ctx, key, cancelLockTTL)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := uc.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
				uc.log.Warn().Err(err).Str("key", key).Msg("failed to release cancel lock")
			}
		}()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if sub.ExternalSubscriptionID != "" {
		if err := uc.provider.CancelSubscription(ctx, sub.ExternalSubscriptionID); err != nil {
			uc.log.Error().Err(err).Str("user_id", userID).Str("external_id", sub.ExternalSubscriptionID).Msg("remote cancel failed")
			return nil, providerErr(err)
		}
	}

	var out *model.UserSubscription
	err = retryOnConflict(ctx, uc.log, "cancel_subscription", func(ctx context.Context) error {
		return uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			cur, err := uc.subs.FindByUser(ctx, tx, userID)
			if err != nil {
				return err
			}
			out = cur
			if !cur.Cancel(uc.now()) {
				return nil
			}
			cur.UpdatedAt = uc.now().UTC()
			return uc.subs.Update(ctx, tx, cur)
		})
	})
	if err != nil {
		return nil, err
	}
	uc.log.Info().Str("user_id", userID).Str("subscription_id", out.ID).Msg("subscription cancelled")
	return out, nil
}

func (uc *subscriptionUC) TrackUsage(ctx context.Context, userID string, f model.Feature, amount int64) (*model.SubscriptionUsage, error) {
	return uc.meter.TrackUsage(ctx, userID, f, amount)
}

func (uc *subscriptionUC) CanUseFeature(ctx context.Context, userID string, f model.Feature) (bool, error) {
	return uc.meter.CanUseFeature(ctx, userID, f)
}

// providerErr keeps domain failures reported by the provider adapter and
// classifies everything else as a transient provider failure.
func providerErr(err error) error {
	if domain.IsDomainError(err) || errors.Is(err, domain.ErrProviderUnavailable) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
}

func validateRedirect(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || raw == "" || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return domain.ErrInvalidArgument
	}
	return nil
}
