package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound             = errors.New("entity not found")
	ErrAlreadyExists        = errors.New("entity already exists")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrPlanNotFound         = errors.New("plan not found")
	ErrInvalidConfiguration = errors.New("plan has no external price configured")
	ErrNoSubscription       = errors.New("no subscription found")
	ErrCannotCancelFreePlan = errors.New("cannot cancel free plan")
	ErrNoStripeCustomer     = errors.New("no stripe customer for subscription")
	ErrLimitExceeded        = errors.New("usage limit exceeded")
	ErrUnknownFeature       = errors.New("unknown feature")
	ErrOperationInProgress  = errors.New("another billing operation is in progress")

	// Webhook errors
	ErrUnauthorized          = errors.New("webhook signature verification failed")
	ErrMalformedEvent        = errors.New("malformed webhook event")
	ErrSubscriptionNotFound  = errors.New("Subscription not found")
	ErrUnhandledEventPayload = errors.New("event payload does not match event type")

	// Infrastructure errors
	ErrOperationFailed     = errors.New("database operation failed")
	ErrReadDatabaseRow     = errors.New("failed to read database row")
	ErrInvalidExecContext  = errors.New("invalid database execution context")
	ErrConcurrentUpdate    = errors.New("record was modified concurrently")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
)

var domainErrors = []error{
	ErrNotFound,
	ErrAlreadyExists,
	ErrInvalidArgument,
	ErrPlanNotFound,
	ErrInvalidConfiguration,
	ErrNoSubscription,
	ErrCannotCancelFreePlan,
	ErrNoStripeCustomer,
	ErrLimitExceeded,
	ErrUnknownFeature,
	ErrOperationInProgress,
	ErrUnauthorized,
	ErrMalformedEvent,
	ErrSubscriptionNotFound,
	ErrUnhandledEventPayload,
}

// IsDomainError reports whether err is a business-rule violation that should be
// surfaced to the caller as-is, as opposed to an infrastructure failure.
func IsDomainError(err error) bool {
	if err == nil {
		return false
	}
	for _, d := range domainErrors {
		if errors.Is(err, d) {
			return true
		}
	}
	return false
}
