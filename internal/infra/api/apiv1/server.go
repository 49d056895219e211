package apiv1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"saas-billing/internal/domain"
	"saas-billing/internal/domain/model"
	"saas-billing/internal/infra/logging"
	"saas-billing/internal/infra/metrics"
	red "saas-billing/internal/infra/redis"
	"saas-billing/internal/usecase"
)

const (
	maxJSONBody    = 64 << 10
	maxWebhookBody = 1 << 20
)

// MaxTrackAmount caps a single usage/track call.
const MaxTrackAmount = 10000

// RateLimiter admits at most limit calls per key within window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Server implements the /api/v1 handlers.
type Server struct {
	subs     usecase.SubscriptionUseCase
	webhooks usecase.WebhookUseCase
	auth     *Authenticator
	log      *zerolog.Logger

	limiter     RateLimiter
	trackLimit  int
	trackWindow time.Duration

	webhookTimeout time.Duration
}

// NewServer builds the handler set. A nil use case makes its routes answer 501.
func NewServer(subs usecase.SubscriptionUseCase, webhooks usecase.WebhookUseCase, auth *Authenticator, logger *zerolog.Logger) *Server {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "apiv1").Logger()
	return &Server{subs: subs, webhooks: webhooks, auth: auth, log: &l, webhookTimeout: 20 * time.Second}
}

// WithWebhookTimeout bounds processing of one delivery. The bound is detached
// from the request context.
func (s *Server) WithWebhookTimeout(d time.Duration) *Server {
	if d > 0 {
		s.webhookTimeout = d
	}
	return s
}

// WithUsageRateLimit caps POST /usage/track per user and feature.
func (s *Server) WithUsageRateLimit(limiter RateLimiter, limit int, window time.Duration) *Server {
	s.limiter = limiter
	s.trackLimit = limit
	s.trackWindow = window
	return s
}

// RegisterAPIV1 mounts all routes under /api/v1.
func RegisterAPIV1(r chi.Router, s *Server) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/plans", s.listPlans)
		r.Post("/webhooks/stripe", s.stripeWebhook)

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)
			r.Get("/subscription/current", s.currentSubscription)
			r.Post("/subscription/cancel", s.cancelSubscription)
			r.Get("/usage", s.usage)
			r.Post("/usage/track", s.trackUsage)
			r.Get("/can-use/{feature}", s.canUse)
			r.Post("/checkout", s.checkout)
			r.Post("/portal", s.portal)
		})
	})
}

func (s *Server) requireUser(next http.Handler) http.Handler {
	if s.auth == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication is not configured")
		})
	}
	return s.auth.RequireUser(next)
}

func (s *Server) notWired(w http.ResponseWriter) bool {
	if s.subs == nil {
		writeError(w, http.StatusNotImplemented, "not_implemented", "subscription service is not wired")
		return true
	}
	return false
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.With(r.Context(), s.log).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeErr(w, err)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.Join(domain.ErrInvalidArgument, errors.New("request body required"))
		}
		return errors.Join(domain.ErrInvalidArgument, err)
	}
	return nil
}

func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	if s.notWired(w) {
		return
	}
	plans, err := s.subs.ListPlans(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items := make([]Plan, 0, len(plans))
	for _, p := range plans {
		items = append(items, toPlan(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) currentSubscription(w http.ResponseWriter, r *http.Request) {
	if s.notWired(w) {
		return
	}
	view, err := s.subs.GetCurrentSubscription(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := CurrentSubscription{Subscription: toSubscription(view.Subscription)}
	if view.Plan != nil {
		p := toPlan(view.Plan)
		out.Plan = &p
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	if s.notWired(w) {
		return
	}
	sub, err := s.subs.CancelSubscription(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscription(sub))
}

func (s *Server) usage(w http.ResponseWriter, r *http.Request) {
	if s.notWired(w) {
		return
	}
	rep, err := s.subs.GetUsage(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUsage(rep))
}

func (s *Server) trackUsage(w http.ResponseWriter, r *http.Request) {
	if s.notWired(w) {
		return
	}
	var req TrackUsageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	f, err := model.ParseFeature(req.Feature)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Amount == 0 {
		req.Amount = 1
	}
	if req.Amount < 0 || req.Amount > MaxTrackAmount {
		writeError(w, http.StatusBadRequest, "invalid_argument", fmt.Sprintf("amount must be between 1 and %d", MaxTrackAmount))
		return
	}
	ctx := r.Context()
	userID := UserIDFromContext(ctx)

	if s.limiter != nil && s.trackLimit > 0 {
		ok, err := s.limiter.Allow(ctx, red.UsageTrackKey(userID, string(f)), s.trackLimit, s.trackWindow)
		if err != nil {
			logging.With(ctx, s.log).Warn().Err(err).Msg("usage rate limiter unavailable, allowing")
		} else if !ok {
			metrics.IncUsageTracked(string(f), "rate_limited")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many usage updates, slow down")
			return
		}
	}

	u, err := s.subs.TrackUsage(ctx, userID, f, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrLimitExceeded):
			metrics.IncUsageTracked(string(f), "limit_exceeded")
		case domain.IsDomainError(err):
			metrics.IncUsageTracked(string(f), "rejected")
		default:
			metrics.IncUsageTracked(string(f), "error")
		}
		s.fail(w, r, err)
		return
	}
	metrics.IncUsageTracked(string(f), "ok")
	writeJSON(w, http.StatusOK, TrackUsageResponse{Feature: string(f), Used: f.Count(u)})
}

func (s *Server) canUse(w http.ResponseWriter, r *http.Request) {
	if s.notWired(w) {
		return
	}
	f, err := model.ParseFeature(chi.URLParam(r, "feature"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok, err := s.subs.CanUseFeature(r.Context(), UserIDFromContext(r.Context()), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CanUseResponse{Feature: string(f), Allowed: ok})
}

func (s *Server) checkout(w http.ResponseWriter, r *http.Request) {
	if s.notWired(w) {
		return
	}
	var req CheckoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	sess, err := s.subs.CreateCheckoutSession(r.Context(), UserIDFromContext(r.Context()), req.PlanID, req.SuccessURL, req.CancelURL)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RedirectResponse{ID: sess.ID, URL: sess.URL})
}

func (s *Server) portal(w http.ResponseWriter, r *http.Request) {
	if s.notWired(w) {
		return
	}
	var req PortalRequest
	// body is optional, the configured return url is the fallback
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	url, err := s.subs.CreatePortalSession(r.Context(), UserIDFromContext(r.Context()), req.ReturnURL)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RedirectResponse{URL: url})
}
