package plaidclient

import (
	"context"
	"errors"
	"net"

	"github.com/plaid/plaid-go/v24/plaid"
	"github.com/sony/gobreaker"

	"github.com/fintrack/bank-sync/internal/errs"
)

const providerName = "plaid"

// Plaid error codes that the rest of the system branches on. Everything else
// is carried opaquely inside a ProviderError.
const (
	codeItemLoginRequired = "ITEM_LOGIN_REQUIRED"
	codeItemNotFound      = "ITEM_NOT_FOUND"
	codeAccessNotGranted  = "ACCESS_NOT_GRANTED"
	typeItemError         = "ITEM_ERROR"
	typeRateLimit         = "RATE_LIMIT_EXCEEDED"
	typeAPIError          = "API_ERROR"
	typeInvalidInput      = "INVALID_INPUT"
)

// normalizeError maps an SDK or transport error into the internal taxonomy.
// The rest of the system never inspects Plaid-specific error shapes.
func normalizeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errs.NewTransientError(providerName, "provider circuit open")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.NewTransientError(providerName, "provider call timed out")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.NewTransientError(providerName, "provider call timed out")
	}

	plaidErr, convErr := plaid.ToPlaidError(err)
	if convErr != nil {
		// Not a structured Plaid error; assume transport-level flakiness.
		return errs.NewTransientError(providerName, err.Error())
	}
	return normalizePlaidError(plaidErr)
}

func normalizePlaidError(plaidErr plaid.PlaidError) error {
	errType := plaidErr.GetErrorType()
	errCode := plaidErr.GetErrorCode()
	msg := plaidErr.GetErrorMessage()

	switch {
	case errCode == codeItemLoginRequired || errCode == codeAccessNotGranted:
		return errs.NewAuthError(providerName, msg)
	case errType == typeItemError && errCode == codeItemNotFound:
		return errs.NewNotFoundError(msg)
	case errType == typeRateLimit:
		return errs.NewRateLimitedError(providerName, msg)
	case errType == typeAPIError:
		return errs.NewTransientError(providerName, msg)
	case errType == typeInvalidInput:
		return errs.NewValidationError(msg)
	default:
		return errs.NewProviderError(providerName, errCode, msg)
	}
}
