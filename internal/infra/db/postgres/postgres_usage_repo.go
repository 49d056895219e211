package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"saas-billing/internal/domain"
	"saas-billing/internal/domain/model"
	"saas-billing/internal/domain/ports/repository"
	"saas-billing/internal/infra/metrics"
)

var _ repository.UsageRepository = (*usageRepo)(nil)

type usageRepo struct {
	pool *pgxpool.Pool
}

func NewUsageRepo(pool *pgxpool.Pool) *usageRepo {
	return &usageRepo{pool: pool}
}

func (r *usageRepo) Create(ctx context.Context, tx repository.Tx, u *model.SubscriptionUsage) error {
	const q = `
INSERT INTO subscription_usage (user_id, invoice_count, user_count, last_updated, version)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (user_id) DO NOTHING;`
	ct, err := execSQL(ctx, r.pool, tx, q, u.UserID, u.InvoiceCount, u.UserCount, u.LastUpdated, u.Version)
	if err != nil {
		return writeErr(err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

func (r *usageRepo) Update(ctx context.Context, tx repository.Tx, u *model.SubscriptionUsage) error {
	const q = `
UPDATE subscription_usage
   SET invoice_count=$3, user_count=$4, last_updated=$5, version=version+1
 WHERE user_id=$1 AND version=$2;`
	ct, err := execSQL(ctx, r.pool, tx, q, u.UserID, u.Version, u.InvoiceCount, u.UserCount, u.LastUpdated)
	if err != nil {
		return writeErr(err)
	}
	if ct.RowsAffected() == 0 {
		metrics.IncOptimisticConflict("usage")
		return domain.ErrConcurrentUpdate
	}
	u.Version++
	return nil
}

func (r *usageRepo) FindByUser(ctx context.Context, tx repository.Tx, userID string) (*model.SubscriptionUsage, error) {
	const q = `
SELECT user_id, invoice_count, user_count, last_updated, version
  FROM subscription_usage
 WHERE user_id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, err
	}
	u := &model.SubscriptionUsage{}
	if err := row.Scan(&u.UserID, &u.InvoiceCount, &u.UserCount, &u.LastUpdated, &u.Version); err != nil {
		return nil, readErr(err)
	}
	return u, nil
}
