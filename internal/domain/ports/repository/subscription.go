package repository

import (
	"context"
	"time"

	"saas-billing/internal/domain/model"
)

// SubscriptionRepository is the port for user subscriptions.
type SubscriptionRepository interface {
	// Create inserts a new record. Returns domain.ErrAlreadyExists when the
	// user (or external subscription id) already has one.
	Create(ctx context.Context, tx Tx, sub *model.UserSubscription) error
	// Update writes sub if its Version still matches the stored row and bumps
	// sub.Version. Returns domain.ErrConcurrentUpdate otherwise.
	Update(ctx context.Context, tx Tx, sub *model.UserSubscription) error

	FindByID(ctx context.Context, tx Tx, id string) (*model.UserSubscription, error)
	FindByUser(ctx context.Context, tx Tx, userID string) (*model.UserSubscription, error)
	FindByExternalID(ctx context.Context, tx Tx, externalSubscriptionID string) (*model.UserSubscription, error)

	// ListForReconcile returns provider-linked subscriptions that are past due
	// or whose current period ended before now.
	ListForReconcile(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.UserSubscription, error)
	CountByStatus(ctx context.Context, tx Tx) (map[model.SubscriptionStatus]int, error)
}
