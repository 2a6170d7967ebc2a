package workflow

import (
	"errors"
	"net/http"

	"github.com/interbank/interbank_gateway/internal/balance"
	"github.com/interbank/interbank_gateway/internal/chain"
	"github.com/interbank/interbank_gateway/internal/ledger"
)

// ErrorStatus maps a refused request or a revert cause to an HTTP status.
func ErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrOTPMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidState), errors.Is(err, ledger.ErrDuplicateReference):
		return http.StatusConflict
	case errors.Is(err, balance.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, balance.ErrUntrustedBalance):
		return http.StatusLocked
	case errors.Is(err, chain.ErrSubmissionRejected):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// OutcomeStatus maps a terminal outcome to an HTTP status.
func OutcomeStatus(o Outcome) int {
	switch o.State {
	case StateSettled:
		return http.StatusOK
	case StateUnconfirmed:
		return http.StatusAccepted
	}
	if o.Cause == nil {
		return http.StatusUnprocessableEntity
	}
	return ErrorStatus(o.Cause)
}
