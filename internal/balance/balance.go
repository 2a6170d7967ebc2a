package balance

import (
	"errors"
	"fmt"
	"time"
)

// Source tells which backing store produced a balance.
type Source string

const (
	SourceAuthoritative Source = "authoritative"
	SourceLocalCache    Source = "local_cache"
	SourceReference     Source = "reference"
)

var (
	// ErrUntrustedBalance means the resolved balance cannot authorize spending.
	ErrUntrustedBalance = errors.New("balance cannot be trusted for spending")
	// ErrInsufficientFunds means the requested amount exceeds the resolved balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// InsufficientFundsError carries the amounts involved in a refused debit.
type InsufficientFundsError struct {
	Current   int64
	Requested int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: balance %d, requested %d", e.Current, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// Balance is a trust-annotated balance read. It is never persisted.
type Balance struct {
	Address     string    `json:"address"`
	AmountMinor int64     `json:"amount"`
	Source      Source    `json:"source"`
	Trusted     bool      `json:"trusted"`
	ResolvedAt  time.Time `json:"resolved_at"`
}
