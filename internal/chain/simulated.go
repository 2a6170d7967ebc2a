package chain

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/interbank/interbank_gateway/internal/ledger"
)

// Simulated is an in-process ledger with scriptable failure modes. Transfers
// from an address with too little balance are mined as failed receipts.
type Simulated struct {
	mu        sync.Mutex
	balances  map[string]int64
	receipts  map[string]Receipt
	nonce     uint64
	block     uint64
	offline   bool
	revertAll bool
	withhold  bool
	submitted []Submission
}

// NewSimulated returns an empty simulated ledger.
func NewSimulated() *Simulated {
	return &Simulated{
		balances: make(map[string]int64),
		receipts: make(map[string]Receipt),
		block:    1,
	}
}

// SetBalance seeds the on-chain balance of address.
func (s *Simulated) SetBalance(address string, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[ledger.NormalizeAddress(address)] = amount
}

// SetOffline makes balance queries fail with ErrUnavailable.
func (s *Simulated) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

// RevertAll makes every subsequent transfer mine as failed.
func (s *Simulated) RevertAll(revert bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revertAll = revert
}

// WithholdReceipts makes AwaitReceipt block until its context ends.
func (s *Simulated) WithholdReceipts(withhold bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.withhold = withhold
}

// MineAt makes the next accepted transfer land in block n.
func (s *Simulated) MineAt(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.block = n - 1
	}
}

// Submitted lists every accepted submission in order.
func (s *Simulated) Submitted() []Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Submission, len(s.submitted))
	copy(out, s.submitted)
	return out
}

func (s *Simulated) QueryBalance(_ context.Context, address string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return 0, ErrUnavailable
	}
	amount, ok := s.balances[ledger.NormalizeAddress(address)]
	if !ok {
		return 0, fmt.Errorf("%w: unknown account %s", ErrUnavailable, address)
	}
	return amount, nil
}

func (s *Simulated) Submit(_ context.Context, sub Submission) (string, error) {
	if sub.AmountMinor <= 0 {
		return "", fmt.Errorf("%w: amount must be positive", ErrSubmissionRejected)
	}
	if !common.IsHexAddress(sub.To) {
		return "", fmt.Errorf("%w: invalid recipient %q", ErrSubmissionRejected, sub.To)
	}
	if !common.IsHexAddress(sub.From) {
		return "", fmt.Errorf("%w: invalid sender %q", ErrSubmissionRejected, sub.From)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nonce++
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], s.nonce)
	hash := crypto.Keccak256Hash(
		common.HexToAddress(sub.From).Bytes(),
		common.HexToAddress(sub.To).Bytes(),
		nonce[:],
		[]byte(sub.Memo),
	).Hex()

	from := ledger.NormalizeAddress(sub.From)
	to := ledger.NormalizeAddress(sub.To)
	s.block++
	receipt := Receipt{Hash: hash, Status: ReceiptFailure, BlockNumber: s.block}
	if !s.revertAll && s.balances[from] >= sub.AmountMinor {
		s.balances[from] -= sub.AmountMinor
		s.balances[to] += sub.AmountMinor
		receipt.Status = ReceiptSuccess
	}
	s.receipts[hash] = receipt
	s.submitted = append(s.submitted, sub)
	return hash, nil
}

func (s *Simulated) AwaitReceipt(ctx context.Context, hash string) (Receipt, error) {
	s.mu.Lock()
	receipt, ok := s.receipts[hash]
	withhold := s.withhold
	s.mu.Unlock()

	if !ok || withhold {
		<-ctx.Done()
		return Receipt{}, fmt.Errorf("%w: %s", ErrReceiptTimeout, hash)
	}
	return receipt, nil
}
