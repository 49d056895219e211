package repository

import (
	"context"

	"saas-billing/internal/domain/model"
)

// UsageRepository is the port for per-user usage counters.
type UsageRepository interface {
	Create(ctx context.Context, tx Tx, usage *model.SubscriptionUsage) error
	// Update is a version-checked write, see SubscriptionRepository.Update.
	Update(ctx context.Context, tx Tx, usage *model.SubscriptionUsage) error
	FindByUser(ctx context.Context, tx Tx, userID string) (*model.SubscriptionUsage, error)
}
