package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"saas-billing/internal/domain"
	"saas-billing/internal/domain/model"
	"saas-billing/internal/domain/ports/repository"
)

// Compile-time check
var _ UsageMeter = (*usageUC)(nil)

// FeatureUsage is one metered feature in a usage report. Limit is 0 when
// Unlimited is set.
type FeatureUsage struct {
	Feature   model.Feature `json:"feature"`
	Used      int64         `json:"used"`
	Limit     int64         `json:"limit"`
	Unlimited bool          `json:"unlimited"`
	Remaining int64         `json:"remaining"`
}

type UsageReport struct {
	UserID      string         `json:"user_id"`
	PlanID      string         `json:"plan_id"`
	Features    []FeatureUsage `json:"features"`
	LastUpdated time.Time      `json:"last_updated"`
}

// UsageMeter enforces plan limits on metered features.
type UsageMeter interface {
	// TrackUsage admits and records amount units of f. It fails with
	// domain.ErrLimitExceeded, without writing, when the plan's limit would be
	// exceeded.
	TrackUsage(ctx context.Context, userID string, f model.Feature, amount int64) (*model.SubscriptionUsage, error)
	// CanUseFeature reports whether one more unit of f is admissible. Read only.
	CanUseFeature(ctx context.Context, userID string, f model.Feature) (bool, error)
	GetUsage(ctx context.Context, userID string) (*UsageReport, error)
}

type usageUC struct {
	provisioner
	plans repository.SubscriptionPlanRepository
	tm    repository.TransactionManager
	log   *zerolog.Logger
	now   func() time.Time
}

func NewUsageMeter(subs repository.SubscriptionRepository, usage repository.UsageRepository, plans repository.SubscriptionPlanRepository, tm repository.TransactionManager, logger *zerolog.Logger) *usageUC {
	l := logger.With().Str("component", "UsageMeter").Logger()
	return &usageUC{
		provisioner: provisioner{subs: subs, usage: usage},
		plans:       plans,
		tm:          tm,
		log:         &l,
		now:         time.Now,
	}
}

func (uc *usageUC) TrackUsage(ctx context.Context, userID string, f model.Feature, amount int64) (*model.SubscriptionUsage, error) {
	if userID == "" || amount <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	if !f.Valid() {
		return nil, domain.ErrUnknownFeature
	}

	var out *model.SubscriptionUsage
	err := retryOnConflict(ctx, uc.log, "track_usage", func(ctx context.Context) error {
		return uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			sub, _, err := uc.ensureSubscription(ctx, tx, userID)
			if err != nil {
				return err
			}
			usage, _, err := uc.ensureUsage(ctx, tx, userID)
			if err != nil {
				return err
			}
			plan, err := uc.planFor(ctx, tx, sub)
			if err != nil {
				return err
			}
			if !f.Allows(plan.Features, usage, amount) {
				return fmt.Errorf("%w: %s limit %d reached on plan %s", domain.ErrLimitExceeded, f, f.Limit(plan.Features), plan.ID)
			}
			if err := usage.Consume(f, amount, uc.now()); err != nil {
				return err
			}
			if err := uc.usage.Update(ctx, tx, usage); err != nil {
				return err
			}
			out = usage
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrLimitExceeded) {
			uc.log.Info().Str("user_id", userID).Str("feature", string(f)).Msg("usage rejected by plan limit")
		}
		return nil, err
	}
	return out, nil
}

func (uc *usageUC) CanUseFeature(ctx context.Context, userID string, f model.Feature) (bool, error) {
	if userID == "" {
		return false, domain.ErrInvalidArgument
	}
	if !f.Valid() {
		return false, domain.ErrUnknownFeature
	}
	plan, usage, err := uc.snapshot(ctx, userID)
	if err != nil {
		return false, err
	}
	return f.Allows(plan.Features, usage, 1), nil
}

func (uc *usageUC) GetUsage(ctx context.Context, userID string) (*UsageReport, error) {
	if userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	plan, usage, err := uc.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	report := &UsageReport{UserID: userID, PlanID: plan.ID, LastUpdated: usage.LastUpdated}
	for _, f := range model.AllFeatures() {
		fu := FeatureUsage{Feature: f, Used: f.Count(usage), Limit: f.Limit(plan.Features)}
		if fu.Limit == 0 {
			fu.Unlimited = true
		} else if fu.Remaining = fu.Limit - fu.Used; fu.Remaining < 0 {
			fu.Remaining = 0
		}
		report.Features = append(report.Features, fu)
	}
	return report, nil
}

// snapshot reads the effective plan and usage without provisioning. A user
// with no records is on the free plan with zero usage.
func (uc *usageUC) snapshot(ctx context.Context, userID string) (*model.SubscriptionPlan, *model.SubscriptionUsage, error) {
	sub, err := uc.subs.FindByUser(ctx, repository.NoTX, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, nil, err
	}
	if err != nil {
		sub = nil
	}
	plan, err := uc.planFor(ctx, repository.NoTX, sub)
	if err != nil {
		return nil, nil, err
	}
	usage, err := uc.usage.FindByUser(ctx, repository.NoTX, userID)
	if errors.Is(err, domain.ErrNotFound) {
		usage = &model.SubscriptionUsage{UserID: userID}
	} else if err != nil {
		return nil, nil, err
	}
	return plan, usage, nil
}

// planFor resolves the plan whose limits apply to sub.
func (uc *usageUC) planFor(ctx context.Context, tx repository.Tx, sub *model.UserSubscription) (*model.SubscriptionPlan, error) {
	id := sub.EffectivePlanID()
	plan, err := uc.plans.FindByID(ctx, tx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %q", domain.ErrPlanNotFound, id)
		}
		return nil, err
	}
	return plan, nil
}
