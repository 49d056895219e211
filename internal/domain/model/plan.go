package model

import (
	"strings"
	"time"

	"saas-billing/internal/domain"
)

// Canonical plan identifiers.
const (
	PlanIDFree       = "free"
	PlanIDPro        = "pro"
	PlanIDEnterprise = "enterprise"
)

type BillingInterval string

const (
	IntervalMonth BillingInterval = "month"
	IntervalYear  BillingInterval = "year"
)

type SupportLevel string

const (
	SupportCommunity SupportLevel = "community"
	SupportEmail     SupportLevel = "email"
	SupportPriority  SupportLevel = "priority"
)

// Money is an amount in the currency's minor unit (cents for USD).
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// PlanFeatures holds the limits enforced by the usage meter.
// A limit of 0 means unlimited.
type PlanFeatures struct {
	MaxInvoices    int64        `json:"max_invoices"`
	MaxUsers       int64        `json:"max_users"`
	SupportLevel   SupportLevel `json:"support_level"`
	CustomBranding bool         `json:"custom_branding"`
	APIAccess      bool         `json:"api_access"`
}

// SubscriptionPlan is an immutable plan definition from the catalog.
type SubscriptionPlan struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Price             Money           `json:"price"`
	Interval          BillingInterval `json:"interval"`
	Features          PlanFeatures    `json:"features"`
	IsActive          bool            `json:"is_active"`
	ExternalProductID string          `json:"external_product_id,omitempty"`
	ExternalPriceID   string          `json:"external_price_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (p *SubscriptionPlan) IsZero() bool { return p == nil || p.ID == "" }

// IsFree reports whether p is the free tier.
func (p *SubscriptionPlan) IsFree() bool { return p != nil && p.ID == PlanIDFree }

// HasExternalPrice reports whether checkout can be started for this plan.
func (p *SubscriptionPlan) HasExternalPrice() bool {
	return p != nil && strings.TrimSpace(p.ExternalPriceID) != ""
}

// NewSubscriptionPlan validates and constructs a plan.
func NewSubscriptionPlan(id, name string, price Money, interval BillingInterval, features PlanFeatures) (*SubscriptionPlan, error) {
	id = strings.TrimSpace(strings.ToLower(id))
	if id == "" || strings.TrimSpace(name) == "" || price.Amount < 0 {
		return nil, domain.ErrInvalidArgument
	}
	if features.MaxInvoices < 0 || features.MaxUsers < 0 {
		return nil, domain.ErrInvalidArgument
	}
	switch interval {
	case IntervalMonth, IntervalYear:
	default:
		return nil, domain.ErrInvalidArgument
	}
	if price.Currency == "" {
		price.Currency = "usd"
	}
	now := time.Now().UTC()
	return &SubscriptionPlan{
		ID:        id,
		Name:      name,
		Price:     price,
		Interval:  interval,
		Features:  features,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// DefaultPlans returns fresh copies of the Free, Pro and Enterprise plans.
func DefaultPlans() []*SubscriptionPlan {
	free, _ := NewSubscriptionPlan(PlanIDFree, "Free", Money{Amount: 0, Currency: "usd"}, IntervalMonth, PlanFeatures{
		MaxInvoices:  5,
		MaxUsers:     1,
		SupportLevel: SupportCommunity,
	})
	pro, _ := NewSubscriptionPlan(PlanIDPro, "Pro", Money{Amount: 2900, Currency: "usd"}, IntervalMonth, PlanFeatures{
		MaxInvoices:    100,
		MaxUsers:       5,
		SupportLevel:   SupportEmail,
		CustomBranding: true,
		APIAccess:      true,
	})
	enterprise, _ := NewSubscriptionPlan(PlanIDEnterprise, "Enterprise", Money{Amount: 9900, Currency: "usd"}, IntervalMonth, PlanFeatures{
		MaxInvoices:    0,
		MaxUsers:       0,
		SupportLevel:   SupportPriority,
		CustomBranding: true,
		APIAccess:      true,
	})
	return []*SubscriptionPlan{free, pro, enterprise}
}
