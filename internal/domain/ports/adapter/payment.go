package adapter

import (
	"context"
	"time"

	"saas-billing/internal/domain/model"
)

// CheckoutRequest describes a hosted checkout for a paid plan.
type CheckoutRequest struct {
	UserID     string
	PlanID     string
	PriceID    string
	CustomerID string // optional, reuses an existing provider customer
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is the provider's hosted checkout.
type CheckoutSession struct {
	ID  string
	URL string
}

// RemoteSubscription is the provider's view of a subscription.
type RemoteSubscription struct {
	ID                 string
	CustomerID         string
	Status             string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	UserID             string
	PlanID             string
}

// PaymentProvider is the hex port for the external billing provider.
type PaymentProvider interface {
	Name() string

	// CreateCheckoutSession starts a hosted checkout and returns its redirect target.
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	// CreatePortalSession returns a self-service billing portal URL for the customer.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	// CancelSubscription cancels the subscription at the provider immediately.
	CancelSubscription(ctx context.Context, externalSubscriptionID string) error
	// FetchSubscription reads the provider's current state.
	FetchSubscription(ctx context.Context, externalSubscriptionID string) (*RemoteSubscription, error)
}

// WebhookNormalizer verifies an inbound provider notification and parses it
// into a typed event. It performs no I/O.
type WebhookNormalizer interface {
	Normalize(rawBody []byte, signatureHeader string) (*model.WebhookEvent, error)
}
