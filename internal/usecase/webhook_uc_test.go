//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"saas-billing/internal/domain"
	"saas-billing/internal/domain/model"
	"saas-billing/internal/usecase"
)

func staticNormalizer(ev *model.WebhookEvent, err error) *MockNormalizer {
	return &MockNormalizer{NormalizeFunc: func(body []byte, sig string) (*model.WebhookEvent, error) {
		return ev, err
	}}
}

func TestWebhookUseCase_HandleInbound(t *testing.T) {
	ctx := context.Background()

	t.Run("bad signature is rejected before processing", func(t *testing.T) {
		machine := &MockStateMachine{}
		processed := NewMockProcessedEvents()
		uc := usecase.NewWebhookUseCase(staticNormalizer(nil, domain.ErrUnauthorized), processed, machine, newTestLogger())

		res := uc.HandleInbound(ctx, []byte(`{}`), "t=1,v1=bad")

		if res.Success || !errors.Is(res.Error, domain.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %+v", res)
		}
		if len(machine.Applied) != 0 {
			t.Error("expected state machine not to be called")
		}
	})

	t.Run("redelivered event id is acknowledged once", func(t *testing.T) {
		machine := &MockStateMachine{}
		ev := createdEvent("evt_1", "sub_123", "U1", model.PlanIDPro, t0)
		uc := usecase.NewWebhookUseCase(staticNormalizer(ev, nil), NewMockProcessedEvents(), machine, newTestLogger())

		first := uc.HandleInbound(ctx, nil, "sig")
		second := uc.HandleInbound(ctx, nil, "sig")

		if !first.Success || !second.Success {
			t.Fatalf("expected both deliveries to succeed, got %+v / %+v", first, second)
		}
		if second.Outcome != model.OutcomeDuplicate || second.EventID != "evt_1" {
			t.Errorf("expected duplicate outcome, got %+v", second)
		}
		if len(machine.Applied) != 1 {
			t.Errorf("expected one apply, got %d", len(machine.Applied))
		}
	})

	t.Run("failed apply leaves the event unmarked for redelivery", func(t *testing.T) {
		calls := 0
		machine := &MockStateMachine{ApplyFunc: func(ctx context.Context, ev *model.WebhookEvent) model.WebhookResult {
			calls++
			if calls == 1 {
				return model.Failed(domain.ErrSubscriptionNotFound)
			}
			return model.Applied("S1")
		}}
		processed := NewMockProcessedEvents()
		ev := invoiceEvent("evt_9", model.EventInvoicePaymentFailed, "sub_999", t0)
		uc := usecase.NewWebhookUseCase(staticNormalizer(ev, nil), processed, machine, newTestLogger())

		if res := uc.HandleInbound(ctx, nil, "sig"); res.Success {
			t.Fatal("expected first delivery to fail")
		}
		if len(processed.Marked) != 0 {
			t.Fatalf("expected no marker after failure, got %v", processed.Marked)
		}

		res := uc.HandleInbound(ctx, nil, "sig")
		if !res.Success || res.Outcome != model.OutcomeApplied {
			t.Fatalf("expected redelivery to be applied, got %+v", res)
		}
		if len(processed.Marked) != 1 || processed.Marked[0] != "evt_9" {
			t.Errorf("expected evt_9 to be marked after success, got %v", processed.Marked)
		}
	})

	t.Run("failed mark only costs a re-apply", func(t *testing.T) {
		machine := &MockStateMachine{}
		processed := NewMockProcessedEvents()
		processed.MarkErr = errors.New("redis down")
		ev := createdEvent("evt_5", "sub_123", "U1", model.PlanIDPro, t0)
		uc := usecase.NewWebhookUseCase(staticNormalizer(ev, nil), processed, machine, newTestLogger())

		first := uc.HandleInbound(ctx, nil, "sig")
		second := uc.HandleInbound(ctx, nil, "sig")

		if !first.Success || !second.Success {
			t.Fatalf("expected both deliveries to succeed, got %+v / %+v", first, second)
		}
		if second.Outcome == model.OutcomeDuplicate {
			t.Error("expected redelivery to be re-applied, not dropped as duplicate")
		}
		if len(machine.Applied) != 2 {
			t.Errorf("expected two applies, got %d", len(machine.Applied))
		}
	})

	t.Run("malformed payload is not marked", func(t *testing.T) {
		machine := &MockStateMachine{ApplyFunc: func(ctx context.Context, ev *model.WebhookEvent) model.WebhookResult {
			return model.Failed(fmt.Errorf("%w: missing metadata.userId", domain.ErrMalformedEvent))
		}}
		processed := NewMockProcessedEvents()
		ev := createdEvent("evt_2", "sub_123", "U1", model.PlanIDPro, t0)
		uc := usecase.NewWebhookUseCase(staticNormalizer(ev, nil), processed, machine, newTestLogger())

		res := uc.HandleInbound(ctx, nil, "sig")

		if res.Success || !errors.Is(res.Error, domain.ErrMalformedEvent) {
			t.Fatalf("expected ErrMalformedEvent, got %+v", res)
		}
		if len(processed.Marked) != 0 {
			t.Errorf("expected no marker, got %v", processed.Marked)
		}
	})

	t.Run("dedupe store outage still applies the event", func(t *testing.T) {
		machine := &MockStateMachine{}
		processed := NewMockProcessedEvents()
		processed.SeenErr = errors.New("redis down")
		ev := createdEvent("evt_3", "sub_123", "U1", model.PlanIDPro, t0)
		uc := usecase.NewWebhookUseCase(staticNormalizer(ev, nil), processed, machine, newTestLogger())

		res := uc.HandleInbound(ctx, nil, "sig")

		if !res.Success || len(machine.Applied) != 1 {
			t.Errorf("expected event to be applied, got %+v", res)
		}
	})

	t.Run("end to end through the state machine", func(t *testing.T) {
		h := newHarness()
		ev := createdEvent("evt_4", "sub_123", "U1", model.PlanIDPro, t0)
		uc := usecase.NewWebhookUseCase(staticNormalizer(ev, nil), nil, h.machine, newTestLogger())

		res := uc.HandleInbound(ctx, nil, "sig")

		if !res.Success || res.Outcome != model.OutcomeApplied || res.SubscriptionID == "" {
			t.Fatalf("expected applied, got %+v", res)
		}
	})
}
