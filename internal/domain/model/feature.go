package model

import (
	"strings"

	"saas-billing/internal/domain"
)

// Feature is a metered capability gated by plan limits.
type Feature string

const (
	FeatureInvoice Feature = "invoice"
	FeatureUser    Feature = "user"
)

type featureAccessor struct {
	limit func(PlanFeatures) int64
	count func(*SubscriptionUsage) int64
	add   func(*SubscriptionUsage, int64)
}

// features is the single source of truth mapping a feature to its plan limit
// and usage counter.
var features = map[Feature]featureAccessor{
	FeatureInvoice: {
		limit: func(f PlanFeatures) int64 { return f.MaxInvoices },
		count: func(u *SubscriptionUsage) int64 { return u.InvoiceCount },
		add:   func(u *SubscriptionUsage, n int64) { u.InvoiceCount += n },
	},
	FeatureUser: {
		limit: func(f PlanFeatures) int64 { return f.MaxUsers },
		count: func(u *SubscriptionUsage) int64 { return u.UserCount },
		add:   func(u *SubscriptionUsage, n int64) { u.UserCount += n },
	},
}

// AllFeatures lists the metered features in a stable order.
func AllFeatures() []Feature { return []Feature{FeatureInvoice, FeatureUser} }

// ParseFeature resolves a feature name case-insensitively.
func ParseFeature(s string) (Feature, error) {
	f := Feature(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := features[f]; !ok {
		return "", domain.ErrUnknownFeature
	}
	return f, nil
}

func (f Feature) Valid() bool {
	_, ok := features[f]
	return ok
}

// Limit returns the plan's limit for f; 0 means unlimited.
func (f Feature) Limit(pf PlanFeatures) int64 {
	if a, ok := features[f]; ok {
		return a.limit(pf)
	}
	return 0
}

// Count returns the current usage of f.
func (f Feature) Count(u *SubscriptionUsage) int64 {
	if a, ok := features[f]; ok && u != nil {
		return a.count(u)
	}
	return 0
}

// Allows reports whether consuming amount more of f stays within limit.
// Compared against the remaining headroom so huge amounts cannot wrap.
func (f Feature) Allows(pf PlanFeatures, u *SubscriptionUsage, amount int64) bool {
	if amount < 0 {
		return false
	}
	limit := f.Limit(pf)
	if limit == 0 {
		return true
	}
	return amount <= limit-f.Count(u)
}

func (f Feature) add(u *SubscriptionUsage, amount int64) {
	if a, ok := features[f]; ok {
		a.add(u, amount)
	}
}
