package apiv1

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"saas-billing/internal/domain"
	"saas-billing/internal/domain/model"
	"saas-billing/internal/infra/logging"
	"saas-billing/internal/infra/metrics"
)

// stripeWebhook answers 2xx for anything the provider should not redeliver,
// 400 for signature failures and 404/5xx when a retry can still succeed.
func (s *Server) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	if s.webhooks == nil {
		writeError(w, http.StatusNotImplemented, "not_implemented", "webhook intake is not wired")
		return
	}
	start := time.Now()
	defer func() { metrics.ObserveWebhook(time.Since(start)) }()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		metrics.IncWebhookEvent("", "rejected")
		writeError(w, http.StatusBadRequest, "invalid_body", "could not read body")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.webhookTimeout)
	defer cancel()
	res := s.webhooks.HandleInbound(ctx, body, r.Header.Get("Stripe-Signature"))
	status, outcome := webhookStatus(res)
	metrics.IncWebhookEvent(res.EventType, outcome)

	if status != http.StatusOK {
		l := logging.With(logging.WithEventID(r.Context(), res.EventID), s.log)
		l.Warn().Err(res.Error).Int("status", status).Str("event_type", res.EventType).Msg("webhook not acknowledged")
		_, code := statusFor(res.Error)
		msg := "webhook processing failed"
		if status == http.StatusBadRequest {
			msg = "invalid signature"
		}
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, WebhookAck{Received: true, Outcome: outcome})
}

// webhookStatus maps a handling result to the response status and the
// outcome label.
func webhookStatus(res model.WebhookResult) (int, string) {
	if res.Success {
		return http.StatusOK, string(res.Outcome)
	}
	switch {
	case errors.Is(res.Error, domain.ErrUnauthorized):
		return http.StatusBadRequest, "unauthorized"
	case errors.Is(res.Error, domain.ErrSubscriptionNotFound):
		return http.StatusNotFound, string(model.OutcomeFailed)
	case domain.IsDomainError(res.Error):
		// malformed or otherwise unprocessable: acknowledge, never retry
		return http.StatusOK, "rejected"
	default:
		return http.StatusInternalServerError, string(model.OutcomeFailed)
	}
}
