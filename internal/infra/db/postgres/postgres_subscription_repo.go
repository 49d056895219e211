package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"saas-billing/internal/domain"
	"saas-billing/internal/domain/model"
	"saas-billing/internal/domain/ports/repository"
	"saas-billing/internal/infra/metrics"
)

var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `id, user_id, plan_id, status,
       COALESCE(external_subscription_id, ''), COALESCE(external_customer_id, ''),
       current_period_start, current_period_end, cancelled_at, trial_end, last_event_at,
       version, created_at, updated_at`

func (r *subscriptionRepo) Create(ctx context.Context, tx repository.Tx, s *model.UserSubscription) error {
	const q = `
INSERT INTO user_subscriptions (
  id, user_id, plan_id, status, external_subscription_id, external_customer_id,
  current_period_start, current_period_end, cancelled_at, trial_end, last_event_at,
  version, created_at, updated_at
) VALUES ($1,$2,$3,$4,NULLIF($5,''),NULLIF($6,''),$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT DO NOTHING;`

	ct, err := execSQL(ctx, r.pool, tx, q,
		s.ID, s.UserID, s.PlanID, string(s.Status), s.ExternalSubscriptionID, s.ExternalCustomerID,
		s.CurrentPeriodStart, s.CurrentPeriodEnd, s.CancelledAt, s.TrialEnd, s.LastEventAt,
		s.Version, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return writeErr(err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

func (r *subscriptionRepo) Update(ctx context.Context, tx repository.Tx, s *model.UserSubscription) error {
	const q = `
UPDATE user_subscriptions SET
  plan_id=$3, status=$4,
  external_subscription_id=NULLIF($5,''), external_customer_id=NULLIF($6,''),
  current_period_start=$7, current_period_end=$8,
  cancelled_at=$9, trial_end=$10, last_event_at=$11,
  updated_at=$12, version=version+1
WHERE id=$1 AND version=$2;`

	ct, err := execSQL(ctx, r.pool, tx, q,
		s.ID, s.Version, s.PlanID, string(s.Status), s.ExternalSubscriptionID, s.ExternalCustomerID,
		s.CurrentPeriodStart, s.CurrentPeriodEnd, s.CancelledAt, s.TrialEnd, s.LastEventAt,
		s.UpdatedAt,
	)
	if err != nil {
		return writeErr(err)
	}
	if ct.RowsAffected() == 0 {
		metrics.IncOptimisticConflict("subscription")
		return domain.ErrConcurrentUpdate
	}
	s.Version++
	return nil
}

func (r *subscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.UserSubscription, error) {
	return r.queryOne(ctx, tx, `SELECT `+subscriptionColumns+` FROM user_subscriptions WHERE id=$1;`, id)
}

func (r *subscriptionRepo) FindByUser(ctx context.Context, tx repository.Tx, userID string) (*model.UserSubscription, error) {
	return r.queryOne(ctx, tx, `SELECT `+subscriptionColumns+` FROM user_subscriptions WHERE user_id=$1;`, userID)
}

func (r *subscriptionRepo) FindByExternalID(ctx context.Context, tx repository.Tx, externalID string) (*model.UserSubscription, error) {
	if externalID == "" {
		return nil, domain.ErrNotFound
	}
	return r.queryOne(ctx, tx, `SELECT `+subscriptionColumns+` FROM user_subscriptions WHERE external_subscription_id=$1;`, externalID)
}

func (r *subscriptionRepo) ListForReconcile(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.UserSubscription, error) {
	q := `
SELECT ` + subscriptionColumns + `
  FROM user_subscriptions
 WHERE external_subscription_id IS NOT NULL
   AND (status = 'past_due'
        OR (status IN ('active','trialing') AND current_period_end < $1))
 ORDER BY current_period_end ASC
 LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, now, limit)
	if err != nil {
		return nil, writeErr(err)
	}
	defer rows.Close()

	var out []*model.UserSubscription
	for rows.Next() {
		s, err := scanSub(rows)
		if err != nil {
			return nil, readErr(err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *subscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	const q = `SELECT status, COUNT(*) FROM user_subscriptions GROUP BY status;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	counts := make(map[model.SubscriptionStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		counts[model.SubscriptionStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return counts, nil
}

func (r *subscriptionRepo) queryOne(ctx context.Context, tx repository.Tx, sql string, args ...any) (*model.UserSubscription, error) {
	row, err := pickRow(ctx, r.pool, tx, sql, args...)
	if err != nil {
		return nil, err
	}
	s, err := scanSub(row)
	if err != nil {
		return nil, readErr(err)
	}
	return s, nil
}

func scanSub(row rowScanner) (*model.UserSubscription, error) {
	s := &model.UserSubscription{}
	var status string
	err := row.Scan(
		&s.ID, &s.UserID, &s.PlanID, &status,
		&s.ExternalSubscriptionID, &s.ExternalCustomerID,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd,
		&s.CancelledAt, &s.TrialEnd, &s.LastEventAt,
		&s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Status = model.SubscriptionStatus(status)
	return s, nil
}
