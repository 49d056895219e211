//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"saas-billing/internal/domain"
	"saas-billing/internal/domain/model"
	"saas-billing/internal/domain/ports/repository"
)

func TestUsageMeter_TrackUsage(t *testing.T) {
	ctx := context.Background()

	t.Run("provisions free subscription and usage on first call", func(t *testing.T) {
		h := newHarness()

		u, err := h.meter.TrackUsage(ctx, "U1", model.FeatureInvoice, 1)

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if u.InvoiceCount != 1 || u.UserCount != 0 {
			t.Errorf("unexpected counters: %+v", u)
		}
		s, err := h.subs.FindByUser(ctx, repository.NoTX, "U1")
		if err != nil || s.PlanID != model.PlanIDFree {
			t.Errorf("expected lazily provisioned free subscription, got %+v, %v", s, err)
		}
	})

	t.Run("huge amount is rejected and the counter never wraps", func(t *testing.T) {
		h := newHarness()
		if _, err := h.meter.TrackUsage(ctx, "U1", model.FeatureInvoice, 1); err != nil {
			t.Fatalf("seed usage: %v", err)
		}

		_, err := h.meter.TrackUsage(ctx, "U1", model.FeatureInvoice, math.MaxInt64)

		if !errors.Is(err, domain.ErrLimitExceeded) {
			t.Fatalf("expected ErrLimitExceeded, got %v", err)
		}
		if got := h.usage.Get("U1").InvoiceCount; got != 1 {
			t.Errorf("expected invoiceCount to stay 1, got %d", got)
		}
	})

	t.Run("rejects at the limit without writing", func(t *testing.T) {
		// --- Arrange ---
		h := newHarness()
		if _, _, err := h.orch.EnsureSubscription(ctx, "U1"); err != nil {
			t.Fatalf("ensure: %v", err)
		}
		u := h.usage.Get("U1")
		u.InvoiceCount = 5
		h.usage.Put(u)
		writes := h.usage.Updates

		// --- Act ---
		_, err := h.meter.TrackUsage(ctx, "U1", model.FeatureInvoice, 1)

		// --- Assert ---
		if !errors.Is(err, domain.ErrLimitExceeded) {
			t.Fatalf("expected ErrLimitExceeded, got %v", err)
		}
		if got := h.usage.Get("U1").InvoiceCount; got != 5 {
			t.Errorf("expected invoiceCount to remain 5, got %d", got)
		}
		if h.usage.Updates != writes {
			t.Error("expected no write on rejection")
		}
	})

	t.Run("projected amount counts toward the limit", func(t *testing.T) {
		h := newHarness()
		if _, err := h.meter.TrackUsage(ctx, "U1", model.FeatureInvoice, 3); err != nil {
			t.Fatalf("track: %v", err)
		}
		if _, err := h.meter.TrackUsage(ctx, "U1", model.FeatureInvoice, 3); !errors.Is(err, domain.ErrLimitExceeded) {
			t.Fatalf("expected 3+3 > 5 to be rejected, got %v", err)
		}
		if _, err := h.meter.TrackUsage(ctx, "U1", model.FeatureInvoice, 2); err != nil {
			t.Fatalf("expected 3+2 = 5 to be admitted, got %v", err)
		}
	})

	t.Run("unlimited plan admits any amount", func(t *testing.T) {
		h := newHarness()
		mustApply(t, h, createdEvent("evt_1", "sub_ent", "U1", model.PlanIDEnterprise, t0))

		u, err := h.meter.TrackUsage(ctx, "U1", model.FeatureUser, 10_000)

		if err != nil || u.UserCount != 10_000 {
			t.Fatalf("expected unlimited admission, got %+v, %v", u, err)
		}
	})

	t.Run("cancelled subscription falls back to free limits", func(t *testing.T) {
		h := newHarness()
		mustApply(t, h, createdEvent("evt_1", "sub_123", "U1", model.PlanIDPro, t0))
		mustApply(t, h, subscriptionEvent("evt_2", model.EventSubscriptionDeleted, t0.Add(time.Hour), model.SubscriptionData{ID: "sub_123"}))

		if _, err := h.meter.TrackUsage(ctx, "U1", model.FeatureUser, 2); !errors.Is(err, domain.ErrLimitExceeded) {
			t.Errorf("expected free user limit of 1 to apply, got %v", err)
		}
	})

	t.Run("invalid input", func(t *testing.T) {
		h := newHarness()
		if _, err := h.meter.TrackUsage(ctx, "", model.FeatureInvoice, 1); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument for empty user, got %v", err)
		}
		if _, err := h.meter.TrackUsage(ctx, "U1", model.FeatureInvoice, 0); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument for zero amount, got %v", err)
		}
		if _, err := h.meter.TrackUsage(ctx, "U1", model.Feature("storage"), 1); !errors.Is(err, domain.ErrUnknownFeature) {
			t.Errorf("expected ErrUnknownFeature, got %v", err)
		}
	})

	t.Run("retries a lost version check", func(t *testing.T) {
		h := newHarness()
		if _, err := h.meter.TrackUsage(ctx, "U1", model.FeatureInvoice, 1); err != nil {
			t.Fatalf("track: %v", err)
		}
		first := true
		h.usage.UpdateFunc = func(ctx context.Context, tx repository.Tx, u *model.SubscriptionUsage) error {
			if first {
				first = false
				// a concurrent increment lands between read and write
				cur := h.usage.Get(u.UserID)
				cur.InvoiceCount++
				cur.Version++
				h.usage.Put(cur)
			}
			return nil
		}

		u, err := h.meter.TrackUsage(ctx, "U1", model.FeatureInvoice, 1)

		if err != nil {
			t.Fatalf("expected retry to succeed, got %v", err)
		}
		if u.InvoiceCount != 3 {
			t.Errorf("expected no lost update (3), got %d", u.InvoiceCount)
		}
	})
}

func TestUsageMeter_ConcurrentTrackingNeverOvershoots(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	if _, _, err := h.orch.EnsureSubscription(ctx, "U1"); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.meter.TrackUsage(ctx, "U1", model.FeatureInvoice, 1)
			switch {
			case err == nil:
				mu.Lock()
				succeeded++
				mu.Unlock()
			case errors.Is(err, domain.ErrLimitExceeded), errors.Is(err, domain.ErrConcurrentUpdate):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	got := h.usage.Get("U1").InvoiceCount
	if got != succeeded {
		t.Errorf("counter %d does not match admitted calls %d", got, succeeded)
	}
	if got > 5 {
		t.Errorf("free invoice limit overshot: %d", got)
	}
}

func TestUsageMeter_CanUseFeature(t *testing.T) {
	ctx := context.Background()

	t.Run("pure read for unknown user", func(t *testing.T) {
		h := newHarness()

		ok, err := h.meter.CanUseFeature(ctx, "U1", model.FeatureInvoice)

		if err != nil || !ok {
			t.Fatalf("expected free user to be allowed, got %v, %v", ok, err)
		}
		if h.subs.Len() != 0 || h.usage.Get("U1") != nil {
			t.Error("expected no records to be provisioned")
		}
	})

	t.Run("false at the limit", func(t *testing.T) {
		h := newHarness()
		h.usage.Put(&model.SubscriptionUsage{UserID: "U1", InvoiceCount: 5, Version: 1})

		ok, err := h.meter.CanUseFeature(ctx, "U1", model.FeatureInvoice)

		if err != nil || ok {
			t.Fatalf("expected false at limit, got %v, %v", ok, err)
		}
	})

	t.Run("zero limit means unlimited regardless of count", func(t *testing.T) {
		h := newHarness()
		mustApply(t, h, createdEvent("evt_1", "sub_ent", "U1", model.PlanIDEnterprise, t0))
		h.usage.Put(&model.SubscriptionUsage{UserID: "U1", InvoiceCount: 1 << 40, UserCount: 1 << 40, Version: 1})

		for _, f := range model.AllFeatures() {
			ok, err := h.meter.CanUseFeature(ctx, "U1", f)
			if err != nil || !ok {
				t.Errorf("%s: expected unlimited, got %v, %v", f, ok, err)
			}
		}
	})
}

func TestUsageMeter_GetUsage(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	if _, err := h.meter.TrackUsage(ctx, "U1", model.FeatureInvoice, 2); err != nil {
		t.Fatalf("track: %v", err)
	}

	report, err := h.meter.GetUsage(ctx, "U1")

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.PlanID != model.PlanIDFree || len(report.Features) != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	inv := report.Features[0]
	if inv.Feature != model.FeatureInvoice || inv.Used != 2 || inv.Limit != 5 || inv.Remaining != 3 || inv.Unlimited {
		t.Errorf("unexpected invoice usage: %+v", inv)
	}
}
