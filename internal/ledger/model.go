package ledger

import "time"

// Type distinguishes money movements.
type Type string

const (
	TypeTransfer   Type = "transfer"
	TypeWithdrawal Type = "withdrawal"
)

// Status is the lifecycle state of a transaction record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition may leave the status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo enforces the forward-only lattice
// pending|processing -> completed|failed.
func (s Status) CanTransitionTo(next Status) bool {
	if s.Terminal() {
		return false
	}
	return next.Terminal()
}

// ExternalBank tags destinations that are not part of the account directory.
const ExternalBank = "EXTERNAL"

// Record is a transaction as filed under one account namespace.
type Record struct {
	ID             string    `json:"id"`
	Type           Type      `json:"type"`
	Status         Status    `json:"status"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	AmountMinor    int64     `json:"amount"`
	FeeMinor       int64     `json:"fee"`
	Description    string    `json:"description,omitempty"`
	ReferenceCode  string    `json:"reference_code"`
	Timestamp      time.Time `json:"timestamp"`
	FromBank       string    `json:"from_bank"`
	ToBank         string    `json:"to_bank,omitempty"`
	ExternalTxHash string    `json:"tx_hash,omitempty"`
	BlockNumber    *uint64   `json:"block_number,omitempty"`
}
