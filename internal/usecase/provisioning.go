package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"saas-billing/internal/domain"
	"saas-billing/internal/domain/model"
	"saas-billing/internal/domain/ports/repository"
)

// provisioner lazily creates the free-tier subscription and the zero usage
// record the first time a user needs them.
type provisioner struct {
	subs  repository.SubscriptionRepository
	usage repository.UsageRepository
}

// ensureSubscription returns the user's subscription, creating a free one if
// none exists. A lost creation race resolves to the winner's record.
func (p *provisioner) ensureSubscription(ctx context.Context, tx repository.Tx, userID string) (*model.UserSubscription, bool, error) {
	s, err := p.subs.FindByUser(ctx, tx, userID)
	if err == nil {
		return s, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	s, err = model.NewFreeSubscription(uuid.NewString(), userID, time.Now())
	if err != nil {
		return nil, false, err
	}
	if err := p.subs.Create(ctx, tx, s); err != nil {
		if !errors.Is(err, domain.ErrAlreadyExists) {
			return nil, false, err
		}
		existing, err := p.subs.FindByUser(ctx, tx, userID)
		return existing, false, err
	}
	return s, true, nil
}

// ensureUsage returns the user's usage counters, creating zeroed ones if absent.
func (p *provisioner) ensureUsage(ctx context.Context, tx repository.Tx, userID string) (*model.SubscriptionUsage, bool, error) {
	u, err := p.usage.FindByUser(ctx, tx, userID)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	u, err = model.NewSubscriptionUsage(userID, time.Now())
	if err != nil {
		return nil, false, err
	}
	if err := p.usage.Create(ctx, tx, u); err != nil {
		if !errors.Is(err, domain.ErrAlreadyExists) {
			return nil, false, err
		}
		existing, err := p.usage.FindByUser(ctx, tx, userID)
		return existing, false, err
	}
	return u, true, nil
}
