package model

import (
	"strings"
	"time"

	"saas-billing/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusTrialing  SubscriptionStatus = "trialing"
)

// UserSubscription is the single billing relationship owned by a user.
type UserSubscription struct {
	ID                     string
	UserID                 string
	PlanID                 string
	Status                 SubscriptionStatus
	ExternalSubscriptionID string
	ExternalCustomerID     string
	CurrentPeriodStart     time.Time
	CurrentPeriodEnd       time.Time
	CancelledAt            *time.Time
	TrialEnd               *time.Time
	// LastEventAt is the provider timestamp of the last applied webhook event.
	LastEventAt *time.Time
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewFreeSubscription builds the lazily provisioned free-tier subscription,
// valid for one month from now.
func NewFreeSubscription(id, userID string, now time.Time) (*UserSubscription, error) {
	if id == "" || userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	now = now.UTC()
	return &UserSubscription{
		ID:                 id,
		UserID:             userID,
		PlanID:             PlanIDFree,
		Status:             SubscriptionStatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// Validate checks the record invariants.
func (s *UserSubscription) Validate() error {
	if s.ID == "" || s.UserID == "" || s.PlanID == "" {
		return domain.ErrInvalidArgument
	}
	if !s.CurrentPeriodEnd.After(s.CurrentPeriodStart) {
		return domain.ErrInvalidArgument
	}
	if s.Status == SubscriptionStatusCancelled && s.CancelledAt == nil {
		return domain.ErrInvalidArgument
	}
	return nil
}

func (s *UserSubscription) IsCancelled() bool { return s.Status == SubscriptionStatusCancelled }

// IsStale reports whether an event stamped at eventAt predates the last
// applied event.
func (s *UserSubscription) IsStale(eventAt time.Time) bool {
	return s.LastEventAt != nil && !eventAt.IsZero() && eventAt.Before(*s.LastEventAt)
}

// Touch records the timestamp of an applied event.
func (s *UserSubscription) Touch(eventAt, now time.Time) {
	if !eventAt.IsZero() && (s.LastEventAt == nil || eventAt.After(*s.LastEventAt)) {
		at := eventAt.UTC()
		s.LastEventAt = &at
	}
	s.UpdatedAt = now.UTC()
}

// Cancel marks the subscription cancelled. Returns false if it already was.
func (s *UserSubscription) Cancel(now time.Time) bool {
	if s.Status == SubscriptionStatusCancelled {
		if s.CancelledAt == nil {
			at := now.UTC()
			s.CancelledAt = &at
		}
		return false
	}
	at := now.UTC()
	s.Status = SubscriptionStatusCancelled
	s.CancelledAt = &at
	return true
}

// Activate moves the subscription to Active, including out of Cancelled.
func (s *UserSubscription) Activate() bool {
	if s.Status == SubscriptionStatusActive {
		return false
	}
	s.Status = SubscriptionStatusActive
	s.CancelledAt = nil
	return true
}

// MarkPastDue moves an Active or Trialing subscription to PastDue.
// Cancellation is terminal for payment failures.
func (s *UserSubscription) MarkPastDue() bool {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusTrialing:
		s.Status = SubscriptionStatusPastDue
		return true
	default:
		return false
	}
}

// SetPeriod replaces the billing period bounds.
func (s *UserSubscription) SetPeriod(start, end time.Time) error {
	if !end.After(start) {
		return domain.ErrInvalidArgument
	}
	s.CurrentPeriodStart = start.UTC()
	s.CurrentPeriodEnd = end.UTC()
	return nil
}

// ApplyProviderStatus maps a provider status string onto the local status.
// Unrecognized values leave the status unchanged, and a cancelled record is
// never moved back by a status update. Returns true if the status changed.
func (s *UserSubscription) ApplyProviderStatus(providerStatus string, now time.Time) bool {
	next, ok := MapProviderStatus(providerStatus)
	if !ok || next == s.Status {
		return false
	}
	if next == SubscriptionStatusCancelled {
		return s.Cancel(now)
	}
	if s.Status == SubscriptionStatusCancelled {
		return false
	}
	s.Status = next
	return true
}

// MapProviderStatus translates a provider subscription status.
func MapProviderStatus(providerStatus string) (SubscriptionStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "active":
		return SubscriptionStatusActive, true
	case "canceled", "cancelled":
		return SubscriptionStatusCancelled, true
	case "past_due":
		return SubscriptionStatusPastDue, true
	case "trialing":
		return SubscriptionStatusTrialing, true
	default:
		return "", false
	}
}

// EffectivePlanID is the plan whose limits apply; a cancelled subscription
// falls back to the free tier.
func (s *UserSubscription) EffectivePlanID() string {
	if s == nil || s.Status == SubscriptionStatusCancelled {
		return PlanIDFree
	}
	return s.PlanID
}
