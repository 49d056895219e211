package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"

	"saas-billing/internal/domain"
	"saas-billing/internal/domain/model"
	"saas-billing/internal/domain/ports/adapter"
)

var _ adapter.WebhookNormalizer = (*StripeWebhookNormalizer)(nil)

// StripeWebhookNormalizer verifies the Stripe-Signature header and parses the
// event into the typed model. Parsing is tolerant of both the pre-2025 payload
// shape (top-level period, invoice.subscription) and the current one
// (period on subscription items, invoice.parent.subscription_details).
type StripeWebhookNormalizer struct {
	secret    string
	tolerance time.Duration
}

func NewStripeWebhookNormalizer(secret string, tolerance time.Duration) *StripeWebhookNormalizer {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &StripeWebhookNormalizer{secret: secret, tolerance: tolerance}
}

type stripeEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripePeriod struct {
	CurrentPeriodStart *int64 `json:"current_period_start"`
	CurrentPeriodEnd   *int64 `json:"current_period_end"`
}

type stripeSubscriptionObject struct {
	ID       string            `json:"id"`
	Customer json.RawMessage   `json:"customer"`
	Status   string            `json:"status"`
	TrialEnd *int64            `json:"trial_end"`
	Metadata map[string]string `json:"metadata"`
	stripePeriod
	Items struct {
		Data []stripePeriod `json:"data"`
	} `json:"items"`
}

type stripeInvoiceObject struct {
	ID           string          `json:"id"`
	Customer     json.RawMessage `json:"customer"`
	Subscription json.RawMessage `json:"subscription"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription json.RawMessage `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (n *StripeWebhookNormalizer) Normalize(rawBody []byte, signatureHeader string) (*model.WebhookEvent, error) {
	if err := webhook.ValidatePayloadWithTolerance(rawBody, signatureHeader, n.secret, n.tolerance); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}

	var env stripeEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if env.ID == "" || env.Type == "" {
		return nil, fmt.Errorf("%w: missing event id or type", domain.ErrMalformedEvent)
	}

	ev := &model.WebhookEvent{
		ID:      env.ID,
		Type:    model.KnownEventType(env.Type),
		RawType: env.Type,
		Raw:     rawBody,
	}
	if env.Created > 0 {
		ev.Created = time.Unix(env.Created, 0).UTC()
	}

	var err error
	switch ev.Type {
	case model.EventSubscriptionCreated, model.EventSubscriptionUpdated, model.EventSubscriptionDeleted:
		ev.Data, err = parseSubscription(env.Data.Object)
	case model.EventInvoicePaymentSucceeded, model.EventInvoicePaymentFailed:
		ev.Data, err = parseInvoice(env.Data.Object)
	default:
		ev.Data = model.UnhandledData{}
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func parseSubscription(raw json.RawMessage) (*model.SubscriptionData, error) {
	var obj stripeSubscriptionObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: subscription object: %v", domain.ErrMalformedEvent, err)
	}
	if obj.ID == "" {
		return nil, fmt.Errorf("%w: subscription object without id", domain.ErrMalformedEvent)
	}
	customerID, err := expandableID(obj.Customer)
	if err != nil {
		return nil, err
	}

	period := obj.stripePeriod
	if period.CurrentPeriodStart == nil && len(obj.Items.Data) > 0 {
		period = obj.Items.Data[0]
	}

	return &model.SubscriptionData{
		ID:                 obj.ID,
		CustomerID:         customerID,
		Status:             obj.Status,
		CurrentPeriodStart: unixPtr(period.CurrentPeriodStart),
		CurrentPeriodEnd:   unixPtr(period.CurrentPeriodEnd),
		TrialEnd:           unixPtr(obj.TrialEnd),
		UserID:             metadata(obj.Metadata, MetadataUserID, "user_id"),
		PlanID:             metadata(obj.Metadata, MetadataPlanID, "plan_id"),
	}, nil
}

func parseInvoice(raw json.RawMessage) (*model.InvoiceData, error) {
	var obj stripeInvoiceObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: invoice object: %v", domain.ErrMalformedEvent, err)
	}
	if obj.ID == "" {
		return nil, fmt.Errorf("%w: invoice object without id", domain.ErrMalformedEvent)
	}
	customerID, err := expandableID(obj.Customer)
	if err != nil {
		return nil, err
	}
	subID, err := expandableID(obj.Subscription)
	if err != nil {
		return nil, err
	}
	if subID == "" {
		if subID, err = expandableID(obj.Parent.SubscriptionDetails.Subscription); err != nil {
			return nil, err
		}
	}
	return &model.InvoiceData{ID: obj.ID, SubscriptionID: subID, CustomerID: customerID}, nil
}

// expandableID reads a Stripe field that is either an id string or an
// expanded object with an "id".
func expandableID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
		}
		return id, nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	return obj.ID, nil
}

func unixPtr(sec *int64) *time.Time {
	if sec == nil || *sec <= 0 {
		return nil
	}
	t := time.Unix(*sec, 0).UTC()
	return &t
}

func metadata(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := m[k]; v != "" {
			return v
		}
	}
	return ""
}
