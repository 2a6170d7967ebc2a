package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/interbank/interbank_gateway/internal/balance"
	"github.com/interbank/interbank_gateway/internal/chain"
	"github.com/interbank/interbank_gateway/internal/directory"
	"github.com/interbank/interbank_gateway/internal/ledger"
	"github.com/interbank/interbank_gateway/internal/logging"
	"github.com/interbank/interbank_gateway/internal/notification"
	"github.com/interbank/interbank_gateway/internal/otp"
	"github.com/interbank/interbank_gateway/internal/transactions"
	"github.com/interbank/interbank_gateway/internal/workflow"
)

const (
	sender   = "0x422b10ce2c930d45814992742e36383684946b14" // VCB
	receiver = "0xf9a6995806e630b216f65ba5577088c9032a8051" // VTB
	outsider = "0x00000000000000000000000000000000000000aa"
)

type testNotifier struct {
	mu   sync.Mutex
	sent []notification.Message
}

func (n *testNotifier) Send(_ context.Context, msg notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

type fixture struct {
	svc      *Service
	sim      *chain.Simulated
	store    ledger.Store
	ledger   *transactions.Ledger
	notifier *testNotifier

	mu     sync.Mutex
	states []workflow.State
}

func (f *fixture) events() []workflow.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]workflow.State(nil), f.states...)
}

func newFixture(t *testing.T, override bool) *fixture {
	t.Helper()
	logger := logging.Discard()
	f := &fixture{
		sim:      chain.NewSimulated(),
		store:    ledger.NewInMemory(),
		notifier: &testNotifier{},
	}
	f.ledger = transactions.NewLedger(f.store, logger)
	resolver := balance.NewResolver(f.store, f.sim, nil, balance.Options{Override: override, Timeout: 50 * time.Millisecond}, logger)
	observers := workflow.NewObservers(logger)
	observers.Subscribe(func(ev workflow.Event) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.states = append(f.states, ev.To)
	})
	f.svc = NewService(resolver, f.ledger, f.sim, directory.Default(), otp.NewMemoryVerifier(time.Minute), f.notifier, observers,
		Options{ReceiptTimeout: 30 * time.Millisecond, RecheckTimeout: 30 * time.Millisecond}, logger)
	return f
}

func (f *fixture) startAndConfirm(t *testing.T, to string, amount int64) workflow.Outcome {
	t.Helper()
	ctx := context.Background()
	tr, challenge, err := f.svc.Start(ctx, StartInput{From: sender, To: to, AmountMinor: amount, Description: "rent"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if tr.State != workflow.StateAwaitingOtp || tr.FromBank != "VCB" {
		t.Fatalf("unexpected draft %+v", tr)
	}
	outcome, err := f.svc.Confirm(ctx, tr.ID, challenge.Code)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	return outcome
}

func (f *fixture) cached(t *testing.T, address string) (int64, bool) {
	t.Helper()
	b, ok, err := f.store.CachedBalance(context.Background(), address)
	if err != nil {
		t.Fatalf("cached balance: %v", err)
	}
	return b.Amount, ok
}

func TestTransferSettles(t *testing.T) {
	f := newFixture(t, false)
	f.sim.SetBalance(sender, 100_000_000)
	f.sim.MineAt(42)

	outcome := f.startAndConfirm(t, receiver, 1_000_000)
	if outcome.State != workflow.StateSettled {
		t.Fatalf("expected settled, got %+v", outcome)
	}
	if outcome.BlockNumber == nil || *outcome.BlockNumber != 42 {
		t.Fatalf("expected block 42, got %+v", outcome.BlockNumber)
	}
	if got, _ := f.cached(t, sender); got != 99_000_000 {
		t.Fatalf("sender cache = %d, want 99000000", got)
	}

	ctx := context.Background()
	rec, ok, _ := f.ledger.Get(ctx, "VCB", sender, outcome.ReferenceCode)
	if !ok || rec.Status != ledger.StatusCompleted || rec.BlockNumber == nil || *rec.BlockNumber != 42 {
		t.Fatalf("sender record %+v", rec)
	}
	if rec.ToBank != "VTB" || rec.ExternalTxHash != outcome.TxHash {
		t.Fatalf("sender record routing %+v", rec)
	}

	incoming, ok, _ := f.ledger.Get(ctx, "VTB", receiver, outcome.ReferenceCode)
	if !ok || incoming.Status != ledger.StatusCompleted {
		t.Fatalf("receiver copy missing: %+v", incoming)
	}
	// Credit base is the receiver's ledger balance (1000000 once mined) plus the amount.
	if got, _ := f.cached(t, receiver); got != 2_000_000 {
		t.Fatalf("receiver cache = %d, want 2000000", got)
	}
	if len(f.notifier.sent) != 1 || f.notifier.sent[0].Kind != notification.KindTransferReceived {
		t.Fatalf("expected receiver notification, got %+v", f.notifier.sent)
	}

	want := []workflow.State{
		workflow.StateAwaitingOtp, workflow.StateAuthorizing, workflow.StateSubmitting,
		workflow.StateAwaitingReceipt, workflow.StateSettled,
	}
	got := f.events()
	if len(got) != len(want) {
		t.Fatalf("events %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events %v, want %v", got, want)
		}
	}
	if subs := f.sim.Submitted(); len(subs) != 1 || subs[0].Memo != outcome.ReferenceCode {
		t.Fatalf("memo should carry the reference code: %+v", subs)
	}
}

func TestTransferToExternalAddress(t *testing.T) {
	f := newFixture(t, false)
	f.sim.SetBalance(sender, 5_000)

	outcome := f.startAndConfirm(t, outsider, 1_000)
	if outcome.State != workflow.StateSettled {
		t.Fatalf("expected settled, got %+v", outcome)
	}
	rec, _, _ := f.ledger.Get(context.Background(), "VCB", sender, outcome.ReferenceCode)
	if rec.ToBank != ledger.ExternalBank {
		t.Fatalf("expected external bank, got %q", rec.ToBank)
	}
	if _, ok := f.cached(t, outsider); ok {
		t.Fatalf("external receivers are not credited locally")
	}
	if len(f.notifier.sent) != 0 {
		t.Fatalf("external receivers are not notified")
	}
}

func TestTransferUnconfirmedThenRecheck(t *testing.T) {
	f := newFixture(t, false)
	f.sim.SetBalance(sender, 100_000_000)
	f.sim.WithholdReceipts(true)

	outcome := f.startAndConfirm(t, receiver, 1_000_000)
	if outcome.State != workflow.StateUnconfirmed {
		t.Fatalf("expected unconfirmed, got %+v", outcome)
	}
	if !errors.Is(outcome.Cause, chain.ErrReceiptTimeout) {
		t.Fatalf("expected receipt timeout cause, got %v", outcome.Cause)
	}
	ctx := context.Background()
	rec, ok, _ := f.ledger.Get(ctx, "VCB", sender, outcome.ReferenceCode)
	if !ok || rec.Status != ledger.StatusPending || rec.ExternalTxHash == "" {
		t.Fatalf("pending record expected, got %+v", rec)
	}
	if _, ok := f.cached(t, sender); ok {
		t.Fatalf("sender balance must not move while unconfirmed")
	}

	again, err := f.svc.Recheck(ctx, "VCB", sender, outcome.ReferenceCode)
	if err != nil || again.State != workflow.StateUnconfirmed {
		t.Fatalf("recheck while withheld: %+v %v", again, err)
	}

	f.sim.WithholdReceipts(false)
	settled, err := f.svc.Recheck(ctx, "VCB", sender, outcome.ReferenceCode)
	if err != nil || settled.State != workflow.StateSettled {
		t.Fatalf("recheck: %+v %v", settled, err)
	}
	if got, _ := f.cached(t, sender); got != 99_000_000 {
		t.Fatalf("sender cache = %d, want 99000000", got)
	}

	// A second recheck sees the terminal record and moves nothing.
	final, err := f.svc.Recheck(ctx, "VCB", sender, outcome.ReferenceCode)
	if err != nil || final.State != workflow.StateSettled {
		t.Fatalf("second recheck: %+v %v", final, err)
	}
	if got, _ := f.cached(t, sender); got != 99_000_000 {
		t.Fatalf("sender debited twice: %d", got)
	}
}

func TestTransferRevertedByLedger(t *testing.T) {
	f := newFixture(t, false)
	f.sim.SetBalance(sender, 100_000)
	f.sim.RevertAll(true)

	outcome := f.startAndConfirm(t, receiver, 1_000)
	if outcome.State != workflow.StateReverted {
		t.Fatalf("expected reverted, got %+v", outcome)
	}
	rec, _, _ := f.ledger.Get(context.Background(), "VCB", sender, outcome.ReferenceCode)
	if rec.Status != ledger.StatusFailed {
		t.Fatalf("record should be failed, got %+v", rec)
	}
	if _, ok := f.cached(t, sender); ok {
		t.Fatalf("reverted transfers must not touch the cache")
	}
}

func TestTransferBlockedOnUntrustedBalance(t *testing.T) {
	f := newFixture(t, false)
	f.sim.SetOffline(true)
	ledger.SeedBalance(f.store, sender, 80_000_000)

	outcome := f.startAndConfirm(t, receiver, 1)
	if outcome.State != workflow.StateReverted || !errors.Is(outcome.Cause, balance.ErrUntrustedBalance) {
		t.Fatalf("expected untrusted revert, got %+v", outcome)
	}
	if len(f.sim.Submitted()) != 0 {
		t.Fatalf("nothing may be submitted")
	}
	records, _ := f.ledger.ListByAccount(context.Background(), "VCB", sender)
	if len(records) != 0 {
		t.Fatalf("no record expected, got %+v", records)
	}
}

func TestTransferOverrideTrustsCache(t *testing.T) {
	f := newFixture(t, true)
	f.sim.SetOffline(true)
	f.sim.SetBalance(sender, 10_000)
	ledger.SeedBalance(f.store, sender, 8_000)

	outcome := f.startAndConfirm(t, receiver, 3_000)
	if outcome.State != workflow.StateSettled {
		t.Fatalf("expected settled under override, got %+v", outcome)
	}
	if got, _ := f.cached(t, sender); got != 5_000 {
		t.Fatalf("sender cache = %d, want 5000", got)
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	f := newFixture(t, false)
	f.sim.SetBalance(sender, 500)

	outcome := f.startAndConfirm(t, receiver, 501)
	var insufficient *balance.InsufficientFundsError
	if outcome.State != workflow.StateReverted || !errors.As(outcome.Cause, &insufficient) {
		t.Fatalf("expected insufficient funds revert, got %+v", outcome)
	}
	if insufficient.Current != 500 || insufficient.Requested != 501 {
		t.Fatalf("unexpected amounts %+v", insufficient)
	}
}

func TestStartValidation(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	for _, in := range []StartInput{
		{From: sender, To: "", AmountMinor: 1},
		{From: sender, To: receiver, AmountMinor: 0},
		{From: sender, To: receiver, AmountMinor: -5},
		{From: "", To: receiver, AmountMinor: 1},
	} {
		if _, _, err := f.svc.Start(ctx, in); !errors.Is(err, workflow.ErrInvalidInput) {
			t.Fatalf("start(%+v) = %v, want invalid input", in, err)
		}
	}
	if len(f.events()) != 0 {
		t.Fatalf("rejected drafts must not transition")
	}
}

func TestConfirmRequiresValidCode(t *testing.T) {
	f := newFixture(t, false)
	f.sim.SetBalance(sender, 10_000)
	ctx := context.Background()

	tr, challenge, err := f.svc.Start(ctx, StartInput{From: sender, To: receiver, AmountMinor: 10})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := f.svc.Confirm(ctx, tr.ID, "123"); !errors.Is(err, workflow.ErrInvalidInput) {
		t.Fatalf("short code: %v", err)
	}
	wrong := "000000"
	if challenge.Code == wrong {
		wrong = "999999"
	}
	if _, err := f.svc.Confirm(ctx, tr.ID, wrong); !errors.Is(err, workflow.ErrOTPMismatch) {
		t.Fatalf("wrong code: %v", err)
	}
	if got, _ := f.svc.Get(tr.ID); got.State != workflow.StateAwaitingOtp {
		t.Fatalf("instance should keep waiting, got %s", got.State)
	}
	if _, err := f.svc.Confirm(ctx, "missing", challenge.Code); !errors.Is(err, workflow.ErrNotFound) {
		t.Fatalf("missing instance: %v", err)
	}

	outcome, err := f.svc.Confirm(ctx, tr.ID, challenge.Code)
	if err != nil || outcome.State != workflow.StateSettled {
		t.Fatalf("confirm: %+v %v", outcome, err)
	}
	if _, err := f.svc.Confirm(ctx, tr.ID, challenge.Code); !errors.Is(err, workflow.ErrInvalidState) {
		t.Fatalf("second confirm: %v", err)
	}
}

func TestRecheckRejectsUnknownAndWithdrawals(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	if _, err := f.svc.Recheck(ctx, "VCB", sender, "TXNOPE"); !errors.Is(err, workflow.ErrNotFound) {
		t.Fatalf("unknown reference: %v", err)
	}
	if err := f.ledger.Append(ctx, "VCB", sender, ledger.Record{ReferenceCode: "TXWD", Type: ledger.TypeWithdrawal, Status: ledger.StatusProcessing}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := f.svc.Recheck(ctx, "VCB", sender, "TXWD"); !errors.Is(err, workflow.ErrInvalidState) {
		t.Fatalf("withdrawal recheck: %v", err)
	}
}

func TestHandlerStartAndConfirm(t *testing.T) {
	f := newFixture(t, false)
	f.sim.SetBalance(sender, 10_000)
	h := NewHandler(f.svc)
	app := fiber.New()
	app.Post("/transfers", h.Start)
	app.Post("/transfers/:id/confirm", h.Confirm)

	body, _ := json.Marshal(map[string]any{"from": sender, "to": receiver, "amount": 250})
	req := httptest.NewRequest("POST", "/transfers", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("start: %v %v", resp, err)
	}
	var started struct {
		Transfer  Transfer      `json:"transfer"`
		Challenge otp.Challenge `json:"challenge"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatalf("decode: %v", err)
	}

	body, _ = json.Marshal(map[string]string{"code": started.Challenge.Code})
	req = httptest.NewRequest("POST", "/transfers/"+started.Transfer.ID+"/confirm", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	if err != nil || resp.StatusCode != fiber.StatusOK {
		t.Fatalf("confirm: %v %v", resp, err)
	}
	var outcome workflow.Outcome
	if err := json.NewDecoder(resp.Body).Decode(&outcome); err != nil || outcome.State != workflow.StateSettled {
		t.Fatalf("outcome %+v %v", outcome, err)
	}

	body, _ = json.Marshal(map[string]any{"from": sender, "to": receiver, "amount": 0})
	req = httptest.NewRequest("POST", "/transfers", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ = app.Test(req)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("zero amount status %d", resp.StatusCode)
	}
}
