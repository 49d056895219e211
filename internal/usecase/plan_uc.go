package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"saas-billing/internal/domain"
	"saas-billing/internal/domain/model"
	"saas-billing/internal/domain/ports/repository"
)

// Compile-time check
var _ PlanUseCase = (*planUC)(nil)

// PlanExternalRefs links a catalog plan to the provider's product and price.
type PlanExternalRefs struct {
	ProductID string
	PriceID   string
}

// PlanUseCase is the plan catalog.
type PlanUseCase interface {
	List(ctx context.Context, activeOnly bool) ([]*model.SubscriptionPlan, error)
	// Get returns domain.ErrPlanNotFound for unknown ids.
	Get(ctx context.Context, id string) (*model.SubscriptionPlan, error)
	// SeedDefaults inserts the canonical plans if missing and applies the
	// configured provider references. Safe to run on every startup.
	SeedDefaults(ctx context.Context, refs map[string]PlanExternalRefs) ([]*model.SubscriptionPlan, error)
}

type planUC struct {
	repo repository.SubscriptionPlanRepository
	log  *zerolog.Logger
}

func NewPlanUseCase(repo repository.SubscriptionPlanRepository, logger *zerolog.Logger) *planUC {
	l := logger.With().Str("component", "PlanUC").Logger()
	return &planUC{repo: repo, log: &l}
}

func (uc *planUC) List(ctx context.Context, activeOnly bool) ([]*model.SubscriptionPlan, error) {
	plans, err := uc.repo.ListAll(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	if !activeOnly {
		return plans, nil
	}
	out := make([]*model.SubscriptionPlan, 0, len(plans))
	for _, p := range plans {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (uc *planUC) Get(ctx context.Context, id string) (*model.SubscriptionPlan, error) {
	if id == "" {
		return nil, domain.ErrPlanNotFound
	}
	p, err := uc.repo.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %q", domain.ErrPlanNotFound, id)
		}
		return nil, err
	}
	return p, nil
}

func (uc *planUC) SeedDefaults(ctx context.Context, refs map[string]PlanExternalRefs) ([]*model.SubscriptionPlan, error) {
	out := make([]*model.SubscriptionPlan, 0, 3)
	for _, def := range model.DefaultPlans() {
		ref := refs[def.ID]
		existing, err := uc.repo.FindByID(ctx, repository.NoTX, def.ID)
		switch {
		case err == nil:
			if !applyRefs(existing, ref) {
				out = append(out, existing)
				continue
			}
			existing.UpdatedAt = time.Now().UTC()
			if err := uc.repo.Save(ctx, repository.NoTX, existing); err != nil {
				return nil, err
			}
			uc.log.Info().Str("plan_id", existing.ID).Msg("plan provider references updated")
			out = append(out, existing)
		case errors.Is(err, domain.ErrNotFound):
			applyRefs(def, ref)
			if err := uc.repo.Save(ctx, repository.NoTX, def); err != nil {
				return nil, err
			}
			uc.log.Info().Str("plan_id", def.ID).Msg("plan seeded")
			out = append(out, def)
		default:
			return nil, err
		}
	}
	return out, nil
}

// applyRefs overwrites non-empty configured references; reports a change.
func applyRefs(p *model.SubscriptionPlan, ref PlanExternalRefs) bool {
	changed := false
	if ref.ProductID != "" && ref.ProductID != p.ExternalProductID {
		p.ExternalProductID = ref.ProductID
		changed = true
	}
	if ref.PriceID != "" && ref.PriceID != p.ExternalPriceID {
		p.ExternalPriceID = ref.PriceID
		changed = true
	}
	return changed
}
