package apiv1

import (
	"encoding/json"
	"errors"
	"net/http"

	"saas-billing/internal/domain"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// Order matters: the first match wins.
var errorTable = []errorMapping{
	{domain.ErrLimitExceeded, http.StatusPaymentRequired, "limit_exceeded"},
	{domain.ErrPlanNotFound, http.StatusNotFound, "plan_not_found"},
	{domain.ErrNoSubscription, http.StatusNotFound, "no_subscription"},
	{domain.ErrSubscriptionNotFound, http.StatusNotFound, "subscription_not_found"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrCannotCancelFreePlan, http.StatusBadRequest, "cannot_cancel_free_plan"},
	{domain.ErrNoStripeCustomer, http.StatusBadRequest, "no_stripe_customer"},
	{domain.ErrInvalidConfiguration, http.StatusBadRequest, "plan_not_purchasable"},
	{domain.ErrUnknownFeature, http.StatusBadRequest, "unknown_feature"},
	{domain.ErrInvalidArgument, http.StatusBadRequest, "invalid_argument"},
	{domain.ErrAlreadyExists, http.StatusConflict, "already_exists"},
	{domain.ErrOperationInProgress, http.StatusConflict, "operation_in_progress"},
	{domain.ErrConcurrentUpdate, http.StatusConflict, "concurrent_update"},
	{domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{domain.ErrProviderUnavailable, http.StatusBadGateway, "provider_unavailable"},
}

// statusFor maps err to an HTTP status and error code. Anything unmapped is
// an internal error whose message is not exposed.
func statusFor(err error) (int, string) {
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, Error{Code: code, Message: msg})
}

func writeErr(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		msg = "internal error"
	}
	writeError(w, status, code, msg)
}
