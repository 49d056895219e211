package apiv1

import (
	"time"

	"saas-billing/internal/domain/model"
	"saas-billing/internal/usecase"
)

type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type PlanFeatures struct {
	MaxInvoices    int64  `json:"max_invoices"`
	MaxUsers       int64  `json:"max_users"`
	SupportLevel   string `json:"support_level"`
	CustomBranding bool   `json:"custom_branding"`
	APIAccess      bool   `json:"api_access"`
}

type Plan struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Price    Money        `json:"price"`
	Interval string       `json:"interval"`
	Features PlanFeatures `json:"features"`
	IsActive bool         `json:"is_active"`
}

type Subscription struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	PlanID             string     `json:"plan_id"`
	Status             string     `json:"status"`
	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	TrialEnd           *time.Time `json:"trial_end,omitempty"`
	HasBillingPortal   bool       `json:"has_billing_portal"`
}

type CurrentSubscription struct {
	Subscription Subscription `json:"subscription"`
	Plan         *Plan        `json:"plan,omitempty"`
}

type FeatureUsage struct {
	Feature   string `json:"feature"`
	Used      int64  `json:"used"`
	Limit     int64  `json:"limit"`
	Unlimited bool   `json:"unlimited"`
	Remaining int64  `json:"remaining"`
}

type Usage struct {
	PlanID      string         `json:"plan_id"`
	Features    []FeatureUsage `json:"features"`
	LastUpdated time.Time      `json:"last_updated"`
}

type CheckoutRequest struct {
	PlanID     string `json:"plan_id"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

type PortalRequest struct {
	ReturnURL string `json:"return_url"`
}

type RedirectResponse struct {
	ID  string `json:"id,omitempty"`
	URL string `json:"url"`
}

type TrackUsageRequest struct {
	Feature string `json:"feature"`
	Amount  int64  `json:"amount"`
}

type TrackUsageResponse struct {
	Feature string `json:"feature"`
	Used    int64  `json:"used"`
}

type CanUseResponse struct {
	Feature string `json:"feature"`
	Allowed bool   `json:"allowed"`
}

type WebhookAck struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func toPlan(p *model.SubscriptionPlan) Plan {
	return Plan{
		ID:       p.ID,
		Name:     p.Name,
		Price:    Money{Amount: p.Price.Amount, Currency: p.Price.Currency},
		Interval: string(p.Interval),
		Features: PlanFeatures{
			MaxInvoices:    p.Features.MaxInvoices,
			MaxUsers:       p.Features.MaxUsers,
			SupportLevel:   string(p.Features.SupportLevel),
			CustomBranding: p.Features.CustomBranding,
			APIAccess:      p.Features.APIAccess,
		},
		IsActive: p.IsActive,
	}
}

func toSubscription(s *model.UserSubscription) Subscription {
	return Subscription{
		ID:                 s.ID,
		UserID:             s.UserID,
		PlanID:             s.PlanID,
		Status:             string(s.Status),
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		CancelledAt:        s.CancelledAt,
		TrialEnd:           s.TrialEnd,
		HasBillingPortal:   s.ExternalCustomerID != "",
	}
}

func toUsage(r *usecase.UsageReport) Usage {
	out := Usage{PlanID: r.PlanID, LastUpdated: r.LastUpdated, Features: make([]FeatureUsage, 0, len(r.Features))}
	for _, f := range r.Features {
		out.Features = append(out.Features, FeatureUsage{
			Feature:   string(f.Feature),
			Used:      f.Used,
			Limit:     f.Limit,
			Unlimited: f.Unlimited,
			Remaining: f.Remaining,
		})
	}
	return out
}
