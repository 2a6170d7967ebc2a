package withdrawal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/interbank/interbank_gateway/internal/balance"
	"github.com/interbank/interbank_gateway/internal/directory"
	"github.com/interbank/interbank_gateway/internal/ledger"
	"github.com/interbank/interbank_gateway/internal/notification"
	"github.com/interbank/interbank_gateway/internal/otp"
	"github.com/interbank/interbank_gateway/internal/transactions"
	"github.com/interbank/interbank_gateway/internal/workflow"
)

const workflowName = "withdrawal"

// Method is how cash is collected.
type Method string

const (
	MethodATM    Method = "atm"
	MethodBranch Method = "branch"
)

// Withdrawal is one instance of the withdrawal state machine.
type Withdrawal struct {
	ID            string         `json:"id"`
	State         workflow.State `json:"state"`
	Bank          string         `json:"bank"`
	Address       string         `json:"address"`
	AmountMinor   int64          `json:"amount"`
	Method        Method         `json:"method"`
	BranchAddress string         `json:"branch_address,omitempty"`
	Description   string         `json:"description"`
	ReferenceCode string         `json:"reference_code,omitempty"`
	ChallengeID   string         `json:"challenge_id"`
	CreatedAt     time.Time      `json:"created_at"`
	ExpiresAt     time.Time      `json:"expires_at"`
}

// StartInput carries the draft form fields.
type StartInput struct {
	Bank          string
	Address       string
	AmountMinor   int64
	Method        Method
	BranchAddress string
	Description   string
}

// Service drives withdrawals from draft to settlement.
type Service struct {
	resolver   *balance.Resolver
	ledger     *transactions.Ledger
	backOffice BackOffice
	directory  directory.Directory
	verifier   otp.Verifier
	notifier   notification.Notifier
	observers  *workflow.Observers
	logger     *slog.Logger

	mu        sync.Mutex
	instances map[string]*Withdrawal
}

// NewService constructs a withdrawal service.
func NewService(
	resolver *balance.Resolver,
	txLedger *transactions.Ledger,
	backOffice BackOffice,
	dir directory.Directory,
	verifier otp.Verifier,
	notifier notification.Notifier,
	observers *workflow.Observers,
	logger *slog.Logger,
) *Service {
	if backOffice == nil {
		backOffice = DelayedBackOffice{}
	}
	return &Service{
		resolver:   resolver,
		ledger:     txLedger,
		backOffice: backOffice,
		directory:  dir,
		verifier:   verifier,
		notifier:   notifier,
		observers:  observers,
		logger:     logger,
		instances:  make(map[string]*Withdrawal),
	}
}

// Start validates the draft and issues a one-time code.
func (s *Service) Start(ctx context.Context, in StartInput) (Withdrawal, otp.Challenge, error) {
	in.Address = ledger.NormalizeAddress(in.Address)
	in.Bank = strings.ToUpper(strings.TrimSpace(in.Bank))
	in.BranchAddress = strings.TrimSpace(in.BranchAddress)
	if in.Method == "" {
		in.Method = MethodATM
	}
	switch {
	case in.Address == "":
		return Withdrawal{}, otp.Challenge{}, fmt.Errorf("%w: account is required", workflow.ErrInvalidInput)
	case in.AmountMinor <= 0:
		return Withdrawal{}, otp.Challenge{}, fmt.Errorf("%w: amount must be positive", workflow.ErrInvalidInput)
	case in.Method != MethodATM && in.Method != MethodBranch:
		return Withdrawal{}, otp.Challenge{}, fmt.Errorf("%w: unknown method %q", workflow.ErrInvalidInput, in.Method)
	case in.Method == MethodBranch && in.BranchAddress == "":
		return Withdrawal{}, otp.Challenge{}, fmt.Errorf("%w: branch address is required", workflow.ErrInvalidInput)
	}
	if in.Bank == "" {
		bank, err := directory.BankOf(ctx, s.directory, in.Address)
		if err != nil {
			return Withdrawal{}, otp.Challenge{}, err
		}
		in.Bank = bank
	}
	description := strings.TrimSpace(in.Description)
	if description == "" {
		description = describe(in.Method, in.BranchAddress)
	}

	challenge, err := s.verifier.Issue(ctx, in.Address)
	if err != nil {
		return Withdrawal{}, otp.Challenge{}, fmt.Errorf("issue otp: %w", err)
	}

	w := &Withdrawal{
		ID:            uuid.New().String(),
		State:         workflow.StateDraft,
		Bank:          in.Bank,
		Address:       in.Address,
		AmountMinor:   in.AmountMinor,
		Method:        in.Method,
		BranchAddress: in.BranchAddress,
		Description:   description,
		ChallengeID:   challenge.ID,
		CreatedAt:     time.Now().UTC(),
		ExpiresAt:     challenge.ExpiresAt,
	}

	s.mu.Lock()
	for id, old := range s.instances {
		if old.State.Terminal() || (old.State == workflow.StateAwaitingOtp && w.CreatedAt.After(old.ExpiresAt)) {
			delete(s.instances, id)
		}
	}
	s.instances[w.ID] = w
	s.mu.Unlock()

	s.transition(w, workflow.StateAwaitingOtp)
	return s.copyOf(w), challenge, nil
}

// Get returns an instance by id.
func (s *Service) Get(id string) (Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.instances[id]
	if !ok {
		return Withdrawal{}, workflow.ErrNotFound
	}
	return *w, nil
}

// Confirm verifies the code, authorizes the debit, waits for the back office
// and settles.
func (s *Service) Confirm(ctx context.Context, id, code string) (workflow.Outcome, error) {
	w, err := s.awaiting(id)
	if err != nil {
		return workflow.Outcome{}, err
	}
	if !otp.ValidFormat(code) {
		return workflow.Outcome{}, fmt.Errorf("%w: code must be %d digits", workflow.ErrInvalidInput, otp.CodeLength)
	}
	verified, err := s.verifier.Verify(ctx, w.ChallengeID, code)
	if err != nil {
		return workflow.Outcome{}, fmt.Errorf("verify otp: %w", err)
	}
	if !verified {
		return workflow.Outcome{}, workflow.ErrOTPMismatch
	}
	if err := s.advance(w, workflow.StateAwaitingOtp, workflow.StateAuthorizing); err != nil {
		return workflow.Outcome{}, err
	}

	outcome := s.run(ctx, w)
	outcome.InstanceID = w.ID
	return outcome, nil
}

func (s *Service) awaiting(id string) (*Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.instances[id]
	if !ok {
		return nil, workflow.ErrNotFound
	}
	if w.State != workflow.StateAwaitingOtp {
		return nil, fmt.Errorf("%w: withdrawal is %s", workflow.ErrInvalidState, w.State)
	}
	return w, nil
}

func (s *Service) run(ctx context.Context, w *Withdrawal) workflow.Outcome {
	unlock := s.resolver.Lock(w.Address)
	defer unlock()

	if _, err := s.resolver.Authorize(ctx, w.Address, w.AmountMinor); err != nil {
		s.transition(w, workflow.StateReverted)
		return workflow.Outcome{State: workflow.StateReverted, Reason: err.Error(), Cause: err}
	}

	ctx = context.WithoutCancel(ctx)
	ref := transactions.NewReferenceCode()
	s.mu.Lock()
	w.ReferenceCode = ref
	s.mu.Unlock()

	record := ledger.Record{
		ID:            ref,
		Type:          ledger.TypeWithdrawal,
		Status:        ledger.StatusProcessing,
		From:          w.Address,
		To:            w.Address,
		AmountMinor:   w.AmountMinor,
		Description:   w.Description,
		ReferenceCode: ref,
		Timestamp:     time.Now().UTC(),
		FromBank:      w.Bank,
	}
	if err := s.ledger.Append(ctx, w.Bank, w.Address, record); err != nil {
		s.transition(w, workflow.StateReverted)
		return workflow.Outcome{State: workflow.StateReverted, ReferenceCode: ref, Reason: err.Error(), Cause: err}
	}
	s.transition(w, workflow.StateProcessing)

	key := transactions.MatchKey{ReferenceCode: ref}
	decision, err := s.backOffice.Process(ctx, Payout{
		ReferenceCode: ref,
		Address:       w.Address,
		AmountMinor:   w.AmountMinor,
		Method:        w.Method,
		BranchAddress: w.BranchAddress,
	})
	if err != nil {
		if _, _, uerr := s.ledger.UpdateStatus(ctx, w.Bank, w.Address, key, ledger.StatusFailed, nil); uerr != nil {
			s.logger.Error("mark withdrawal failed", slog.String("reference_code", ref), slog.Any("error", uerr))
		}
		s.transition(w, workflow.StateReverted)
		return workflow.Outcome{State: workflow.StateReverted, ReferenceCode: ref, Reason: err.Error(), Cause: err}
	}

	s.logger.Info("withdrawal paid out",
		slog.String("reference_code", ref),
		slog.String("back_office_reference", decision.Reference))

	out := workflow.Outcome{ReferenceCode: ref}
	updated, applied, err := s.ledger.UpdateStatus(ctx, w.Bank, w.Address, key, ledger.StatusCompleted, nil)
	if err != nil {
		s.logger.Error("mark withdrawal completed", slog.String("reference_code", ref), slog.Any("error", err))
		s.transition(w, workflow.StateUnconfirmed)
		return workflow.Outcome{
			State:         workflow.StateUnconfirmed,
			ReferenceCode: ref,
			Reason:        "withdrawal paid out but not recorded",
			Cause:         err,
		}
	}
	if !applied {
		out.State = workflow.StateUnconfirmed
		if updated.Status == ledger.StatusCompleted {
			out.State = workflow.StateSettled
		}
		s.transition(w, out.State)
		return out
	}
	remaining, err := s.resolver.ApplyDelta(ctx, w.Address, -w.AmountMinor)
	if err != nil {
		s.logger.Error("debit withdrawal", slog.String("reference_code", ref), slog.Any("error", err))
	} else {
		out.Balance = &remaining
	}
	if s.notifier != nil {
		_ = s.notifier.Send(ctx, notification.Message{
			Kind:          notification.KindWithdrawalCompleted,
			Destination:   w.Address,
			ReferenceCode: ref,
			AmountMinor:   w.AmountMinor,
			Body:          fmt.Sprintf("Collect %d with code %s", w.AmountMinor, collectionCode(decision, ref)),
		})
	}

	out.State = workflow.StateSettled
	s.transition(w, workflow.StateSettled)
	return out
}

func (s *Service) transition(w *Withdrawal, to workflow.State) {
	s.mu.Lock()
	from := w.State
	w.State = to
	ref := w.ReferenceCode
	s.mu.Unlock()
	s.observers.Publish(workflow.Event{Workflow: workflowName, InstanceID: w.ID, ReferenceCode: ref, From: from, To: to})
}

func (s *Service) advance(w *Withdrawal, from, to workflow.State) error {
	s.mu.Lock()
	if w.State != from {
		s.mu.Unlock()
		return fmt.Errorf("%w: withdrawal is %s", workflow.ErrInvalidState, w.State)
	}
	w.State = to
	s.mu.Unlock()
	s.observers.Publish(workflow.Event{Workflow: workflowName, InstanceID: w.ID, From: from, To: to})
	return nil
}

func (s *Service) copyOf(w *Withdrawal) Withdrawal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *w
}

// collectionCode is the back office reference, or the transaction reference
// when the back office did not issue one.
func collectionCode(d Decision, ref string) string {
	if d.Reference != "" {
		return d.Reference
	}
	return ref
}

func describe(method Method, branch string) string {
	if method == MethodBranch {
		return "Withdrawal at branch: " + branch
	}
	return "Withdrawal at ATM"
}
