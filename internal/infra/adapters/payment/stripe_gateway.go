package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	stripe "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/subscription"

	"saas-billing/internal/domain"
	"saas-billing/internal/domain/ports/adapter"
	"saas-billing/internal/infra/metrics"
)

var _ adapter.PaymentProvider = (*StripeGateway)(nil)

// Metadata keys stamped on checkout-created subscriptions and read back from webhooks.
const (
	MetadataUserID = "userId"
	MetadataPlanID = "planId"
)

// StripeGateway implements adapter.PaymentProvider on the Stripe API.
type StripeGateway struct {
	checkout     *checkoutsession.Client
	portal       *portalsession.Client
	subscription *subscription.Client
	log          *zerolog.Logger
}

// NewStripeGateway builds a gateway with its own backend. A non-empty apiURL
// overrides the Stripe endpoint (stripe-mock, tests).
func NewStripeGateway(secretKey, apiURL string, logger *zerolog.Logger) (*StripeGateway, error) {
	if secretKey == "" {
		return nil, errors.New("stripe secret key empty")
	}
	cfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: 15 * time.Second},
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
		MaxNetworkRetries: stripe.Int64(2),
	}
	if apiURL != "" {
		cfg.URL = stripe.String(apiURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, cfg)
	l := logger.With().Str("component", "StripeGateway").Logger()
	return &StripeGateway{
		checkout:     &checkoutsession.Client{B: backend, Key: secretKey},
		portal:       &portalsession.Client{B: backend, Key: secretKey},
		subscription: &subscription.Client{B: backend, Key: secretKey},
		log:          &l,
	}, nil
}

func (g *StripeGateway) Name() string { return "stripe" }

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req adapter.CheckoutRequest) (_ *adapter.CheckoutSession, err error) {
	defer func(start time.Time) { metrics.ObserveProviderCall("checkout", start, err) }(time.Now())
	if req.PriceID == "" || req.UserID == "" {
		return nil, domain.ErrInvalidArgument
	}
	meta := map[string]string{MetadataUserID: req.UserID, MetadataPlanID: req.PlanID}
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.UserID),
		SubscriptionData:  &stripe.CheckoutSessionSubscriptionDataParams{Metadata: meta},
	}
	params.Context = ctx
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	for k, v := range meta {
		params.AddMetadata(k, v)
	}

	s, err := g.checkout.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create checkout session: %w", err)
	}
	g.log.Info().Str("user_id", req.UserID).Str("plan_id", req.PlanID).Str("session_id", s.ID).Msg("checkout session created")
	return &adapter.CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

func (g *StripeGateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (_ string, err error) {
	defer func(start time.Time) { metrics.ObserveProviderCall("portal", start, err) }(time.Now())
	if customerID == "" {
		return "", domain.ErrNoStripeCustomer
	}
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	s, err := g.portal.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create portal session: %w", err)
	}
	return s.URL, nil
}

// CancelSubscription cancels immediately. A subscription Stripe no longer
// knows about counts as cancelled.
func (g *StripeGateway) CancelSubscription(ctx context.Context, externalSubscriptionID string) (err error) {
	defer func(start time.Time) { metrics.ObserveProviderCall("cancel", start, err) }(time.Now())
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err = g.subscription.Cancel(externalSubscriptionID, params); err != nil {
		if isResourceMissing(err) {
			g.log.Warn().Str("subscription_id", externalSubscriptionID).Msg("cancel: subscription already gone at stripe")
			return nil
		}
		return fmt.Errorf("stripe cancel subscription: %w", err)
	}
	return nil
}

func (g *StripeGateway) FetchSubscription(ctx context.Context, externalSubscriptionID string) (_ *adapter.RemoteSubscription, err error) {
	defer func(start time.Time) { metrics.ObserveProviderCall("fetch", start, err) }(time.Now())
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	s, err := g.subscription.Get(externalSubscriptionID, params)
	if err != nil {
		if isResourceMissing(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("stripe fetch subscription: %w", err)
	}

	out := &adapter.RemoteSubscription{
		ID:     s.ID,
		Status: string(s.Status),
		UserID: s.Metadata[MetadataUserID],
		PlanID: s.Metadata[MetadataPlanID],
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Items != nil && len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		out.CurrentPeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		out.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
	}
	return out, nil
}

func isResourceMissing(err error) bool {
	var serr *stripe.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.HTTPStatusCode == http.StatusNotFound || serr.Code == stripe.ErrorCodeResourceMissing
}
