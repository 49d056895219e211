package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"saas-billing/internal/domain/model"
	"saas-billing/internal/domain/ports/repository"
)

var _ repository.SubscriptionPlanRepository = (*PostgresPlanRepo)(nil)

type PostgresPlanRepo struct {
	pool *pgxpool.Pool
}

func NewPlanRepo(pool *pgxpool.Pool) *PostgresPlanRepo {
	return &PostgresPlanRepo{pool: pool}
}

const planColumns = `id, name, price_amount, currency, billing_interval,
       max_invoices, max_users, support_level, custom_branding, api_access,
       is_active, COALESCE(external_product_id, ''), COALESCE(external_price_id, ''),
       created_at, updated_at`

func (r *PostgresPlanRepo) Save(ctx context.Context, tx repository.Tx, plan *model.SubscriptionPlan) error {
	const q = `
INSERT INTO subscription_plans (
  id, name, price_amount, currency, billing_interval,
  max_invoices, max_users, support_level, custom_branding, api_access,
  is_active, external_product_id, external_price_id, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NULLIF($12,''),NULLIF($13,''),$14,$15)
ON CONFLICT (id) DO UPDATE SET
  name=EXCLUDED.name, price_amount=EXCLUDED.price_amount, currency=EXCLUDED.currency,
  billing_interval=EXCLUDED.billing_interval, max_invoices=EXCLUDED.max_invoices,
  max_users=EXCLUDED.max_users, support_level=EXCLUDED.support_level,
  custom_branding=EXCLUDED.custom_branding, api_access=EXCLUDED.api_access,
  is_active=EXCLUDED.is_active, external_product_id=EXCLUDED.external_product_id,
  external_price_id=EXCLUDED.external_price_id, updated_at=EXCLUDED.updated_at;`

	f := plan.Features
	_, err := execSQL(ctx, r.pool, tx, q,
		plan.ID, plan.Name, plan.Price.Amount, plan.Price.Currency, string(plan.Interval),
		f.MaxInvoices, f.MaxUsers, string(f.SupportLevel), f.CustomBranding, f.APIAccess,
		plan.IsActive, plan.ExternalProductID, plan.ExternalPriceID, plan.CreatedAt, plan.UpdatedAt,
	)
	return writeErr(err)
}

func (r *PostgresPlanRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.SubscriptionPlan, error) {
	q := `SELECT ` + planColumns + ` FROM subscription_plans WHERE id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	p, err := scanPlan(row)
	if err != nil {
		return nil, readErr(err)
	}
	return p, nil
}

func (r *PostgresPlanRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.SubscriptionPlan, error) {
	q := `SELECT ` + planColumns + ` FROM subscription_plans ORDER BY price_amount ASC, id ASC;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, writeErr(err)
	}
	defer rows.Close()

	var out []*model.SubscriptionPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, readErr(err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, readErr(err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPlan(row rowScanner) (*model.SubscriptionPlan, error) {
	var p model.SubscriptionPlan
	var interval, supportLevel string
	err := row.Scan(
		&p.ID, &p.Name, &p.Price.Amount, &p.Price.Currency, &interval,
		&p.Features.MaxInvoices, &p.Features.MaxUsers, &supportLevel,
		&p.Features.CustomBranding, &p.Features.APIAccess,
		&p.IsActive, &p.ExternalProductID, &p.ExternalPriceID,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Interval = model.BillingInterval(interval)
	p.Features.SupportLevel = model.SupportLevel(supportLevel)
	return &p, nil
}
