package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/interbank/interbank_gateway/internal/balance"
	"github.com/interbank/interbank_gateway/internal/chain"
	"github.com/interbank/interbank_gateway/internal/directory"
	"github.com/interbank/interbank_gateway/internal/ledger"
	"github.com/interbank/interbank_gateway/internal/notification"
	"github.com/interbank/interbank_gateway/internal/otp"
	"github.com/interbank/interbank_gateway/internal/transactions"
	"github.com/interbank/interbank_gateway/internal/workflow"
)

const (
	workflowName          = "transfer"
	defaultReceiptTimeout = 60 * time.Second
	defaultRecheckTimeout = 5 * time.Second
)

// Options tunes receipt waiting.
type Options struct {
	ReceiptTimeout time.Duration
	RecheckTimeout time.Duration
}

// Transfer is one instance of the transfer state machine.
type Transfer struct {
	ID            string         `json:"id"`
	State         workflow.State `json:"state"`
	FromBank      string         `json:"from_bank"`
	From          string         `json:"from"`
	To            string         `json:"to"`
	AmountMinor   int64          `json:"amount"`
	Description   string         `json:"description,omitempty"`
	ReferenceCode string         `json:"reference_code,omitempty"`
	ChallengeID   string         `json:"challenge_id"`
	CreatedAt     time.Time      `json:"created_at"`
	ExpiresAt     time.Time      `json:"expires_at"`
}

// StartInput carries the draft form fields.
type StartInput struct {
	FromBank    string
	From        string
	To          string
	AmountMinor int64
	Description string
}

// Service drives transfers from draft to settlement.
type Service struct {
	resolver  *balance.Resolver
	ledger    *transactions.Ledger
	chain     chain.Client
	directory directory.Directory
	verifier  otp.Verifier
	notifier  notification.Notifier
	observers *workflow.Observers
	opts      Options
	logger    *slog.Logger

	mu        sync.Mutex
	instances map[string]*Transfer
}

// NewService constructs a transfer service.
func NewService(
	resolver *balance.Resolver,
	txLedger *transactions.Ledger,
	client chain.Client,
	dir directory.Directory,
	verifier otp.Verifier,
	notifier notification.Notifier,
	observers *workflow.Observers,
	opts Options,
	logger *slog.Logger,
) *Service {
	if opts.ReceiptTimeout <= 0 {
		opts.ReceiptTimeout = defaultReceiptTimeout
	}
	if opts.RecheckTimeout <= 0 {
		opts.RecheckTimeout = defaultRecheckTimeout
	}
	return &Service{
		resolver:  resolver,
		ledger:    txLedger,
		chain:     client,
		directory: dir,
		verifier:  verifier,
		notifier:  notifier,
		observers: observers,
		opts:      opts,
		logger:    logger,
		instances: make(map[string]*Transfer),
	}
}

// Start validates the draft and issues a one-time code, leaving the instance
// in AwaitingOtp.
func (s *Service) Start(ctx context.Context, in StartInput) (Transfer, otp.Challenge, error) {
	in.From = ledger.NormalizeAddress(in.From)
	in.To = ledger.NormalizeAddress(in.To)
	in.FromBank = strings.ToUpper(strings.TrimSpace(in.FromBank))
	switch {
	case in.From == "":
		return Transfer{}, otp.Challenge{}, fmt.Errorf("%w: source account is required", workflow.ErrInvalidInput)
	case in.To == "":
		return Transfer{}, otp.Challenge{}, fmt.Errorf("%w: destination is required", workflow.ErrInvalidInput)
	case in.AmountMinor <= 0:
		return Transfer{}, otp.Challenge{}, fmt.Errorf("%w: amount must be positive", workflow.ErrInvalidInput)
	}
	if in.FromBank == "" {
		bank, err := directory.BankOf(ctx, s.directory, in.From)
		if err != nil {
			return Transfer{}, otp.Challenge{}, err
		}
		in.FromBank = bank
	}

	challenge, err := s.verifier.Issue(ctx, in.From)
	if err != nil {
		return Transfer{}, otp.Challenge{}, fmt.Errorf("issue otp: %w", err)
	}

	t := &Transfer{
		ID:          uuid.New().String(),
		State:       workflow.StateDraft,
		FromBank:    in.FromBank,
		From:        in.From,
		To:          in.To,
		AmountMinor: in.AmountMinor,
		Description: strings.TrimSpace(in.Description),
		ChallengeID: challenge.ID,
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   challenge.ExpiresAt,
	}

	s.mu.Lock()
	s.pruneLocked(t.CreatedAt)
	s.instances[t.ID] = t
	s.mu.Unlock()

	s.transition(t, workflow.StateAwaitingOtp)
	return s.snapshot(t), challenge, nil
}

// Get returns an instance by id.
func (s *Service) Get(id string) (Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.instances[id]
	if !ok {
		return Transfer{}, workflow.ErrNotFound
	}
	return *t, nil
}

// Confirm verifies the one-time code and runs the instance to a terminal
// state. Errors are returned only when the request itself is refused; every
// money-movement result is carried by the Outcome.
func (s *Service) Confirm(ctx context.Context, id, code string) (workflow.Outcome, error) {
	t, err := s.awaiting(id)
	if err != nil {
		return workflow.Outcome{}, err
	}
	if !otp.ValidFormat(code) {
		return workflow.Outcome{}, fmt.Errorf("%w: code must be %d digits", workflow.ErrInvalidInput, otp.CodeLength)
	}
	ok, err := s.verifier.Verify(ctx, t.ChallengeID, code)
	if err != nil {
		return workflow.Outcome{}, fmt.Errorf("verify otp: %w", err)
	}
	if !ok {
		return workflow.Outcome{}, workflow.ErrOTPMismatch
	}

	if err := s.advance(t, workflow.StateAwaitingOtp, workflow.StateAuthorizing); err != nil {
		return workflow.Outcome{}, err
	}

	outcome := s.run(ctx, t)
	outcome.InstanceID = t.ID
	return outcome, nil
}

func (s *Service) awaiting(id string) (*Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.instances[id]
	if !ok {
		return nil, workflow.ErrNotFound
	}
	if t.State != workflow.StateAwaitingOtp {
		return nil, fmt.Errorf("%w: transfer is %s", workflow.ErrInvalidState, t.State)
	}
	return t, nil
}

func (s *Service) run(ctx context.Context, t *Transfer) workflow.Outcome {
	unlock := s.resolver.Lock(t.From)
	defer unlock()

	if _, err := s.resolver.Authorize(ctx, t.From, t.AmountMinor); err != nil {
		return s.revert(t, err)
	}

	s.transition(t, workflow.StateSubmitting)
	// A signed transfer cannot be called back; the rest ignores caller cancellation.
	ctx = context.WithoutCancel(ctx)

	ref := transactions.NewReferenceCode()
	s.setReference(t, ref)

	toBank, err := directory.BankOf(ctx, s.directory, t.To)
	if err != nil {
		return s.revert(t, err)
	}
	var key string
	if acct, ok, err := directory.Lookup(ctx, s.directory, t.From); err == nil && ok {
		key = acct.PrivateKey
	}

	hash, err := s.chain.Submit(ctx, chain.Submission{
		FromKey:     key,
		From:        t.From,
		To:          t.To,
		AmountMinor: t.AmountMinor,
		Memo:        ref,
	})
	if err != nil {
		return s.revert(t, err)
	}

	record := ledger.Record{
		ID:             ref,
		Type:           ledger.TypeTransfer,
		Status:         ledger.StatusPending,
		From:           t.From,
		To:             t.To,
		AmountMinor:    t.AmountMinor,
		Description:    t.Description,
		ReferenceCode:  ref,
		Timestamp:      time.Now().UTC(),
		FromBank:       t.FromBank,
		ToBank:         toBank,
		ExternalTxHash: hash,
	}
	if err := s.ledger.Append(ctx, t.FromBank, t.From, record); err != nil {
		s.logger.Error("pending transfer not recorded", slog.String("reference_code", ref), slog.String("tx_hash", hash), slog.Any("error", err))
		s.transition(t, workflow.StateUnconfirmed)
		return workflow.Outcome{State: workflow.StateUnconfirmed, ReferenceCode: ref, TxHash: hash, Reason: "transfer submitted but not recorded", Cause: err}
	}

	s.transition(t, workflow.StateAwaitingReceipt)
	waitCtx, cancel := context.WithTimeout(ctx, s.opts.ReceiptTimeout)
	defer cancel()
	receipt, err := s.chain.AwaitReceipt(waitCtx, hash)
	if err != nil {
		s.logger.Warn("transfer unconfirmed", slog.String("reference_code", ref), slog.String("tx_hash", hash), slog.Any("error", err))
		s.transition(t, workflow.StateUnconfirmed)
		return workflow.Outcome{
			State:         workflow.StateUnconfirmed,
			ReferenceCode: ref,
			TxHash:        hash,
			Reason:        "transfer may still settle, check again later",
			Cause:         err,
		}
	}

	outcome := s.finish(ctx, record, receipt)
	s.transition(t, outcome.State)
	return outcome
}

// finish applies a receipt to a pending record. Balances move only when this
// call is the one that advanced the record.
func (s *Service) finish(ctx context.Context, record ledger.Record, receipt chain.Receipt) workflow.Outcome {
	block := receipt.BlockNumber
	out := workflow.Outcome{ReferenceCode: record.ReferenceCode, TxHash: record.ExternalTxHash, BlockNumber: &block}
	key := transactions.MatchKey{TxHash: record.ExternalTxHash, ReferenceCode: record.ReferenceCode}

	if receipt.Status != chain.ReceiptSuccess {
		if _, _, err := s.ledger.UpdateStatus(ctx, record.FromBank, record.From, key, ledger.StatusFailed, &block); err != nil {
			s.logger.Error("mark transfer failed", slog.String("reference_code", record.ReferenceCode), slog.Any("error", err))
		}
		out.State = workflow.StateReverted
		out.Reason = "transfer reverted by the ledger"
		return out
	}

	updated, applied, err := s.ledger.UpdateStatus(ctx, record.FromBank, record.From, key, ledger.StatusCompleted, &block)
	if err != nil {
		out.State = workflow.StateUnconfirmed
		out.Reason = "transfer settled but not recorded"
		out.Cause = err
		return out
	}
	if !applied {
		out.State = stateOf(updated.Status)
		return out
	}

	remaining, err := s.resolver.ApplyDelta(ctx, record.From, -record.AmountMinor)
	if err != nil {
		s.logger.Error("debit sender cache", slog.String("reference_code", record.ReferenceCode), slog.Any("error", err))
	} else {
		out.Balance = &remaining
	}
	s.creditReceiver(ctx, updated)

	out.State = workflow.StateSettled
	return out
}

func (s *Service) creditReceiver(ctx context.Context, record ledger.Record) {
	acct, ok, err := directory.Lookup(ctx, s.directory, record.To)
	if err != nil || !ok {
		return
	}
	if _, err := s.resolver.Credit(ctx, record.To, record.AmountMinor); err != nil {
		s.logger.Error("credit receiver cache", slog.String("reference_code", record.ReferenceCode), slog.Any("error", err))
	}

	incoming := record
	incoming.ToBank = acct.BankCode
	if err := s.ledger.Append(ctx, acct.BankCode, record.To, incoming); err != nil && !errors.Is(err, ledger.ErrDuplicateReference) {
		s.logger.Error("record incoming transfer", slog.String("reference_code", record.ReferenceCode), slog.Any("error", err))
	}

	if s.notifier != nil {
		_ = s.notifier.Send(ctx, notification.Message{
			Kind:          notification.KindTransferReceived,
			Destination:   record.To,
			ReferenceCode: record.ReferenceCode,
			AmountMinor:   record.AmountMinor,
			Body:          fmt.Sprintf("You received %d from %s", record.AmountMinor, record.From),
		})
	}
}

// Recheck queries the receipt of a pending transfer once and settles it if
// the ledger has a verdict.
func (s *Service) Recheck(ctx context.Context, bank, address, reference string) (workflow.Outcome, error) {
	record, ok, err := s.ledger.Get(ctx, bank, address, reference)
	if err != nil {
		return workflow.Outcome{}, err
	}
	if !ok {
		return workflow.Outcome{}, workflow.ErrNotFound
	}
	if record.Type != ledger.TypeTransfer || record.ExternalTxHash == "" {
		return workflow.Outcome{}, fmt.Errorf("%w: %s has no ledger submission", workflow.ErrInvalidState, reference)
	}
	if ledger.NormalizeAddress(record.From) != ledger.NormalizeAddress(address) {
		return workflow.Outcome{}, fmt.Errorf("%w: %s is an incoming transfer", workflow.ErrInvalidState, reference)
	}
	if record.Status.Terminal() {
		return workflow.Outcome{State: stateOf(record.Status), ReferenceCode: record.ReferenceCode, TxHash: record.ExternalTxHash, BlockNumber: record.BlockNumber}, nil
	}

	unlock := s.resolver.Lock(record.From)
	defer unlock()

	waitCtx, cancel := context.WithTimeout(ctx, s.opts.RecheckTimeout)
	defer cancel()
	receipt, err := s.chain.AwaitReceipt(waitCtx, record.ExternalTxHash)
	if err != nil {
		return workflow.Outcome{
			State:         workflow.StateUnconfirmed,
			ReferenceCode: record.ReferenceCode,
			TxHash:        record.ExternalTxHash,
			Reason:        "transfer may still settle, check again later",
			Cause:         err,
		}, nil
	}
	return s.finish(ctx, record, receipt), nil
}

func (s *Service) revert(t *Transfer, cause error) workflow.Outcome {
	s.logger.Info("transfer reverted", slog.String("instance_id", t.ID), slog.Any("reason", cause))
	s.transition(t, workflow.StateReverted)
	return workflow.Outcome{State: workflow.StateReverted, ReferenceCode: t.ReferenceCode, Reason: cause.Error(), Cause: cause}
}

func (s *Service) transition(t *Transfer, to workflow.State) {
	s.mu.Lock()
	from := t.State
	t.State = to
	ref := t.ReferenceCode
	s.mu.Unlock()
	s.observers.Publish(workflow.Event{Workflow: workflowName, InstanceID: t.ID, ReferenceCode: ref, From: from, To: to})
}

// advance moves t from one state to the next only if it is still in from.
func (s *Service) advance(t *Transfer, from, to workflow.State) error {
	s.mu.Lock()
	if t.State != from {
		s.mu.Unlock()
		return fmt.Errorf("%w: transfer is %s", workflow.ErrInvalidState, t.State)
	}
	t.State = to
	ref := t.ReferenceCode
	s.mu.Unlock()
	s.observers.Publish(workflow.Event{Workflow: workflowName, InstanceID: t.ID, ReferenceCode: ref, From: from, To: to})
	return nil
}

func (s *Service) setReference(t *Transfer, ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ReferenceCode = ref
}

func (s *Service) snapshot(t *Transfer) Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *t
}

// pruneLocked drops finished instances and challenges nobody answered.
func (s *Service) pruneLocked(now time.Time) {
	for id, t := range s.instances {
		if t.State.Terminal() || (t.State == workflow.StateAwaitingOtp && now.After(t.ExpiresAt)) {
			delete(s.instances, id)
		}
	}
}

func stateOf(status ledger.Status) workflow.State {
	switch status {
	case ledger.StatusCompleted:
		return workflow.StateSettled
	case ledger.StatusFailed:
		return workflow.StateReverted
	}
	return workflow.StateUnconfirmed
}
