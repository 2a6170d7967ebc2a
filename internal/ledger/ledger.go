package ledger

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrDuplicateReference indicates a record with the same reference code is
	// already filed under the namespace. Reference codes are generated fresh,
	// so this signals a programming error rather than a user mistake.
	ErrDuplicateReference = errors.New("duplicate reference code")

	// ErrNegativeBalance is returned when a store is asked to persist a
	// balance below zero.
	ErrNegativeBalance = errors.New("cached balance must not be negative")
)

// Namespace scopes transaction records to one account of one bank.
type Namespace struct {
	Bank    string
	Address string
}

// NewNamespace builds a normalized namespace. Bank codes compare
// case-insensitively, as do addresses.
func NewNamespace(bank, address string) Namespace {
	return Namespace{
		Bank:    strings.ToUpper(strings.TrimSpace(bank)),
		Address: NormalizeAddress(address),
	}
}

// Key renders the namespace as a flat storage key suffix.
func (n Namespace) Key() string {
	return n.Bank + ":" + n.Address
}

// NormalizeAddress returns the canonical form used as lookup key for an account address.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// CachedBalance is the last known balance of an address as persisted locally.
type CachedBalance struct {
	Address   string    `json:"address"`
	Amount    int64     `json:"amount"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MatchFunc selects a record inside a namespace.
type MatchFunc func(Record) bool

// MutateFunc edits a record in place and reports whether anything changed.
type MutateFunc func(*Record) bool

// Store is the client-local persistent key-value store backing balances and
// transaction records. Implementations must be safe for concurrent use.
type Store interface {
	// CachedBalance returns the cached balance for address; ok is false when absent.
	CachedBalance(ctx context.Context, address string) (balance CachedBalance, ok bool, err error)
	// PutBalance overwrites the cached balance of an address.
	PutBalance(ctx context.Context, balance CachedBalance) error

	// Records returns the namespace's records in insertion order (oldest first).
	Records(ctx context.Context, ns Namespace) ([]Record, error)
	// AppendRecord adds a record at the end of the namespace sequence.
	AppendRecord(ctx context.Context, ns Namespace, record Record) error
	// UpdateRecord applies mutate to the first record accepted by match and
	// persists it when mutate reports a change.
	UpdateRecord(ctx context.Context, ns Namespace, match MatchFunc, mutate MutateFunc) (updated Record, applied bool, err error)
	// DeleteRecord removes a single record by id.
	DeleteRecord(ctx context.Context, ns Namespace, id string) (bool, error)
	// DeleteRecords wipes every record of the namespace.
	DeleteRecords(ctx context.Context, ns Namespace) error
}
