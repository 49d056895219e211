package model

import (
	"fmt"
	"time"

	"saas-billing/internal/domain"
)

type EventType string

const (
	EventSubscriptionCreated     EventType = "customer.subscription.created"
	EventSubscriptionUpdated     EventType = "customer.subscription.updated"
	EventSubscriptionDeleted     EventType = "customer.subscription.deleted"
	EventInvoicePaymentSucceeded EventType = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    EventType = "invoice.payment_failed"
	// EventUnhandled is any provider event type without a transition.
	EventUnhandled EventType = "unhandled"
)

// KnownEventType maps a raw provider type onto a handled EventType.
func KnownEventType(raw string) EventType {
	switch t := EventType(raw); t {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted,
		EventInvoicePaymentSucceeded, EventInvoicePaymentFailed:
		return t
	default:
		return EventUnhandled
	}
}

// EventData is the closed set of per-event payloads.
type EventData interface {
	eventData()
}

// SubscriptionData carries the fields consumed from subscription events.
// Optional fields stay nil or empty when absent from the payload.
type SubscriptionData struct {
	ID                 string
	CustomerID         string
	Status             string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	TrialEnd           *time.Time
	UserID             string
	PlanID             string
}

// InvoiceData carries the fields consumed from invoice events.
type InvoiceData struct {
	ID             string
	SubscriptionID string
	CustomerID     string
}

// UnhandledData is attached to events without a transition.
type UnhandledData struct{}

func (*SubscriptionData) eventData() {}
func (*InvoiceData) eventData()      {}
func (UnhandledData) eventData()     {}

// RequirePeriod returns the period bounds or ErrMalformedEvent.
func (d *SubscriptionData) RequirePeriod() (time.Time, time.Time, error) {
	if d.CurrentPeriodStart == nil || d.CurrentPeriodEnd == nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: missing current period bounds", domain.ErrMalformedEvent)
	}
	if !d.CurrentPeriodEnd.After(*d.CurrentPeriodStart) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: current_period_end must be after current_period_start", domain.ErrMalformedEvent)
	}
	return *d.CurrentPeriodStart, *d.CurrentPeriodEnd, nil
}

// RequireOwner returns the userId/planId metadata or ErrMalformedEvent.
func (d *SubscriptionData) RequireOwner() (userID, planID string, err error) {
	if d.UserID == "" {
		return "", "", fmt.Errorf("%w: missing metadata.userId", domain.ErrMalformedEvent)
	}
	if d.PlanID == "" {
		return "", "", fmt.Errorf("%w: missing metadata.planId", domain.ErrMalformedEvent)
	}
	return d.UserID, d.PlanID, nil
}

// WebhookEvent is the verified, normalized provider notification.
type WebhookEvent struct {
	ID      string
	Type    EventType
	RawType string
	Created time.Time
	Data    EventData
	Raw     []byte
}

// Subscription returns the subscription payload or ErrUnhandledEventPayload.
func (e *WebhookEvent) Subscription() (*SubscriptionData, error) {
	d, ok := e.Data.(*SubscriptionData)
	if !ok || d == nil {
		return nil, domain.ErrUnhandledEventPayload
	}
	return d, nil
}

// Invoice returns the invoice payload or ErrUnhandledEventPayload.
func (e *WebhookEvent) Invoice() (*InvoiceData, error) {
	d, ok := e.Data.(*InvoiceData)
	if !ok || d == nil {
		return nil, domain.ErrUnhandledEventPayload
	}
	return d, nil
}

type WebhookOutcome string

const (
	OutcomeApplied   WebhookOutcome = "applied"
	OutcomeNoop      WebhookOutcome = "noop"
	OutcomeStale     WebhookOutcome = "stale"
	OutcomeDuplicate WebhookOutcome = "duplicate"
	OutcomeIgnored   WebhookOutcome = "ignored"
	OutcomeFailed    WebhookOutcome = "failed"
)

// WebhookResult reports how an event was handled.
type WebhookResult struct {
	Success        bool
	Outcome        WebhookOutcome
	EventID        string
	EventType      string
	SubscriptionID string
	Error          error
}

func Applied(subID string) WebhookResult {
	return WebhookResult{Success: true, Outcome: OutcomeApplied, SubscriptionID: subID}
}

func Noop(outcome WebhookOutcome, subID string) WebhookResult {
	return WebhookResult{Success: true, Outcome: outcome, SubscriptionID: subID}
}

func Failed(err error) WebhookResult {
	return WebhookResult{Success: false, Outcome: OutcomeFailed, Error: err}
}
