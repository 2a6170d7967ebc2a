package chain

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable means the ledger could not answer in time or at all.
	ErrUnavailable = errors.New("authoritative ledger unavailable")
	// ErrSubmissionRejected means a transfer was refused before reaching the ledger.
	ErrSubmissionRejected = errors.New("submission rejected")
	// ErrReceiptTimeout means no receipt was observed before the wait expired.
	ErrReceiptTimeout = errors.New("receipt not available before timeout")
)

// ReceiptStatus is the ledger verdict on a submitted transfer.
type ReceiptStatus string

const (
	ReceiptSuccess ReceiptStatus = "success"
	ReceiptFailure ReceiptStatus = "failure"
)

// Receipt is the settlement proof of a submitted transfer.
type Receipt struct {
	Hash        string
	Status      ReceiptStatus
	BlockNumber uint64
}

// Submission describes a signed-transfer request.
type Submission struct {
	FromKey     string
	From        string
	To          string
	AmountMinor int64
	Memo        string
}

// Client is the query/submit surface of the authoritative ledger.
type Client interface {
	QueryBalance(ctx context.Context, address string) (int64, error)
	Submit(ctx context.Context, sub Submission) (hash string, err error)
	AwaitReceipt(ctx context.Context, hash string) (Receipt, error)
}
