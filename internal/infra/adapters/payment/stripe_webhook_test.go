//go:build !integration

package payment

import (
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"

	"saas-billing/internal/domain"
	"saas-billing/internal/domain/model"
)

const testSecret = "whsec_test_secret"

func sign(t *testing.T, payload string, at time.Time) string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testSecret,
		Timestamp: at,
		Scheme:    "v1",
	})
	return signed.Header
}

const legacySubscriptionCreated = `{
  "id": "evt_1",
  "type": "customer.subscription.created",
  "created": 1700000000,
  "data": {"object": {
    "id": "sub_1",
    "customer": "cus_1",
    "status": "active",
    "current_period_start": 1700000000,
    "current_period_end": 1702592000,
    "metadata": {"userId": "U1", "planId": "pro"}
  }}
}`

const itemsSubscriptionUpdated = `{
  "id": "evt_2",
  "type": "customer.subscription.updated",
  "created": 1700000100,
  "data": {"object": {
    "id": "sub_1",
    "customer": {"id": "cus_1", "object": "customer"},
    "status": "trialing",
    "trial_end": 1701000000,
    "items": {"object": "list", "data": [
      {"id": "si_1", "current_period_start": 1700000000, "current_period_end": 1702592000}
    ]},
    "metadata": {"user_id": "U1", "plan_id": "enterprise"}
  }}
}`

func TestStripeWebhookNormalizer(t *testing.T) {
	n := NewStripeWebhookNormalizer(testSecret, 0)
	now := time.Now()

	t.Run("legacy subscription payload", func(t *testing.T) {
		ev, err := n.Normalize([]byte(legacySubscriptionCreated), sign(t, legacySubscriptionCreated, now))
		if err != nil {
			t.Fatalf("Normalize: %v", err)
		}
		if ev.ID != "evt_1" || ev.Type != model.EventSubscriptionCreated {
			t.Fatalf("unexpected envelope: %+v", ev)
		}
		if !ev.Created.Equal(time.Unix(1700000000, 0)) {
			t.Errorf("unexpected created: %v", ev.Created)
		}
		d, err := ev.Subscription()
		if err != nil {
			t.Fatalf("Subscription: %v", err)
		}
		start, end, err := d.RequirePeriod()
		if err != nil {
			t.Fatalf("RequirePeriod: %v", err)
		}
		if start.Unix() != 1700000000 || end.Unix() != 1702592000 {
			t.Errorf("unexpected period %v - %v", start, end)
		}
		if d.CustomerID != "cus_1" || d.UserID != "U1" || d.PlanID != "pro" || d.Status != "active" {
			t.Errorf("unexpected data: %+v", d)
		}
	})

	t.Run("period on items and expanded customer", func(t *testing.T) {
		ev, err := n.Normalize([]byte(itemsSubscriptionUpdated), sign(t, itemsSubscriptionUpdated, now))
		if err != nil {
			t.Fatalf("Normalize: %v", err)
		}
		d, _ := ev.Subscription()
		if d.CurrentPeriodStart == nil || d.CurrentPeriodStart.Unix() != 1700000000 {
			t.Errorf("expected period from items, got %v", d.CurrentPeriodStart)
		}
		if d.CustomerID != "cus_1" || d.PlanID != "enterprise" || d.TrialEnd == nil {
			t.Errorf("unexpected data: %+v", d)
		}
	})

	t.Run("invoice subscription from parent details", func(t *testing.T) {
		body := `{"id":"evt_3","type":"invoice.payment_failed","created":1700000200,
		  "data":{"object":{"id":"in_1","customer":"cus_1",
		  "parent":{"type":"subscription_details","subscription_details":{"subscription":"sub_1"}}}}}`
		ev, err := n.Normalize([]byte(body), sign(t, body, now))
		if err != nil {
			t.Fatalf("Normalize: %v", err)
		}
		inv, err := ev.Invoice()
		if err != nil {
			t.Fatalf("Invoice: %v", err)
		}
		if inv.SubscriptionID != "sub_1" || inv.CustomerID != "cus_1" {
			t.Errorf("unexpected invoice: %+v", inv)
		}
	})

	t.Run("invoice with top-level subscription", func(t *testing.T) {
		body := `{"id":"evt_4","type":"invoice.payment_succeeded","created":1,
		  "data":{"object":{"id":"in_2","subscription":"sub_9"}}}`
		ev, err := n.Normalize([]byte(body), sign(t, body, now))
		if err != nil {
			t.Fatalf("Normalize: %v", err)
		}
		inv, _ := ev.Invoice()
		if inv.SubscriptionID != "sub_9" {
			t.Errorf("expected sub_9, got %q", inv.SubscriptionID)
		}
	})

	t.Run("unhandled type carries no payload", func(t *testing.T) {
		body := `{"id":"evt_5","type":"charge.refunded","created":1,"data":{"object":{"id":"ch_1"}}}`
		ev, err := n.Normalize([]byte(body), sign(t, body, now))
		if err != nil {
			t.Fatalf("Normalize: %v", err)
		}
		if ev.Type != model.EventUnhandled || ev.RawType != "charge.refunded" {
			t.Errorf("unexpected type %q / %q", ev.Type, ev.RawType)
		}
		if _, err := ev.Subscription(); !errors.Is(err, domain.ErrUnhandledEventPayload) {
			t.Errorf("expected ErrUnhandledEventPayload, got %v", err)
		}
	})

	t.Run("rejects bad signature", func(t *testing.T) {
		tests := map[string]string{
			"empty header":  "",
			"wrong secret":  webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: []byte(legacySubscriptionCreated), Secret: "whsec_other", Timestamp: now, Scheme: "v1"}).Header,
			"too old":       sign(t, legacySubscriptionCreated, now.Add(-time.Hour)),
			"body tampered": sign(t, legacySubscriptionCreated+" ", now),
		}
		for name, header := range tests {
			t.Run(name, func(t *testing.T) {
				_, err := n.Normalize([]byte(legacySubscriptionCreated), header)
				if !errors.Is(err, domain.ErrUnauthorized) {
					t.Errorf("expected ErrUnauthorized, got %v", err)
				}
			})
		}
	})

	t.Run("signed but malformed", func(t *testing.T) {
		tests := map[string]string{
			"not json":        `{"id":`,
			"missing type":    `{"id":"evt_6","data":{}}`,
			"object sans id":  `{"id":"evt_7","type":"customer.subscription.deleted","data":{"object":{"status":"canceled"}}}`,
			"customer number": `{"id":"evt_8","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1","customer":42}}}`,
		}
		for name, body := range tests {
			t.Run(name, func(t *testing.T) {
				_, err := n.Normalize([]byte(body), sign(t, body, now))
				if !errors.Is(err, domain.ErrMalformedEvent) {
					t.Errorf("expected ErrMalformedEvent, got %v", err)
				}
			})
		}
	})
}
