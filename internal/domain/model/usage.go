package model

import (
	"math"
	"time"

	"saas-billing/internal/domain"
)

// SubscriptionUsage holds per-user consumption counters. Counters only move
// through Consume.
type SubscriptionUsage struct {
	UserID       string
	InvoiceCount int64
	UserCount    int64
	LastUpdated  time.Time
	Version      int64
}

func NewSubscriptionUsage(userID string, now time.Time) (*SubscriptionUsage, error) {
	if userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &SubscriptionUsage{UserID: userID, LastUpdated: now.UTC()}, nil
}

// Consume increments the counter for f by amount.
func (u *SubscriptionUsage) Consume(f Feature, amount int64, now time.Time) error {
	if !f.Valid() {
		return domain.ErrUnknownFeature
	}
	if amount <= 0 || amount > math.MaxInt64-f.Count(u) {
		return domain.ErrInvalidArgument
	}
	f.add(u, amount)
	u.LastUpdated = now.UTC()
	return nil
}
