package transactions

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/interbank/interbank_gateway/internal/ledger"
)

const referencePrefix = "TX"

// ErrInvalidRecord is returned when a record lacks its reference code.
var ErrInvalidRecord = errors.New("record requires a reference code")

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewReferenceCode returns a fresh, globally unique reference code.
func NewReferenceCode() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return referencePrefix + ulid.MustNew(ulid.Timestamp(time.Now().UTC()), entropy).String()
}

// MatchKey locates a record: by external hash when set, else by reference code.
type MatchKey struct {
	TxHash        string
	ReferenceCode string
}

// Ledger files transaction records per (bank, address) namespace.
type Ledger struct {
	store  ledger.Store
	logger *slog.Logger
}

// NewLedger constructs a transaction ledger over store.
func NewLedger(store ledger.Store, logger *slog.Logger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

// Append files record at the end of the namespace sequence.
func (l *Ledger) Append(ctx context.Context, bank, address string, record ledger.Record) error {
	if strings.TrimSpace(record.ReferenceCode) == "" {
		return ErrInvalidRecord
	}
	if record.ID == "" {
		record.ID = record.ReferenceCode
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	ns := ledger.NewNamespace(bank, address)
	if err := l.store.AppendRecord(ctx, ns, record); err != nil {
		return fmt.Errorf("append %s to %s: %w", record.ReferenceCode, ns.Key(), err)
	}
	l.logger.Info("transaction recorded",
		slog.String("namespace", ns.Key()),
		slog.String("reference_code", record.ReferenceCode),
		slog.String("status", string(record.Status)))
	return nil
}

// UpdateStatus moves the matching record to status when the lattice allows it.
// A missing record or a refused transition is not an error; applied reports
// whether anything changed.
func (l *Ledger) UpdateStatus(ctx context.Context, bank, address string, key MatchKey, status ledger.Status, blockNumber *uint64) (ledger.Record, bool, error) {
	ns := ledger.NewNamespace(bank, address)
	mutate := func(r *ledger.Record) bool {
		if !r.Status.CanTransitionTo(status) {
			return false
		}
		r.Status = status
		if blockNumber != nil {
			n := *blockNumber
			r.BlockNumber = &n
		}
		return true
	}

	if key.TxHash != "" {
		rec, applied, err := l.store.UpdateRecord(ctx, ns, func(r ledger.Record) bool {
			return r.ExternalTxHash != "" && strings.EqualFold(r.ExternalTxHash, key.TxHash)
		}, mutate)
		if err != nil || rec.ID != "" {
			return l.logTransition(ns, rec, status, applied, err)
		}
	}
	if key.ReferenceCode == "" {
		return ledger.Record{}, false, nil
	}
	rec, applied, err := l.store.UpdateRecord(ctx, ns, func(r ledger.Record) bool {
		return r.ReferenceCode == key.ReferenceCode
	}, mutate)
	return l.logTransition(ns, rec, status, applied, err)
}

func (l *Ledger) logTransition(ns ledger.Namespace, rec ledger.Record, status ledger.Status, applied bool, err error) (ledger.Record, bool, error) {
	if err != nil {
		return ledger.Record{}, false, fmt.Errorf("update status in %s: %w", ns.Key(), err)
	}
	if rec.ID == "" {
		l.logger.Debug("status update matched no record", slog.String("namespace", ns.Key()))
		return rec, false, nil
	}
	if !applied {
		l.logger.Debug("status transition refused",
			slog.String("reference_code", rec.ReferenceCode),
			slog.String("from", string(rec.Status)),
			slog.String("to", string(status)))
	}
	return rec, applied, nil
}

// Get returns the record with the given id or reference code.
func (l *Ledger) Get(ctx context.Context, bank, address, id string) (ledger.Record, bool, error) {
	records, err := l.store.Records(ctx, ledger.NewNamespace(bank, address))
	if err != nil {
		return ledger.Record{}, false, err
	}
	for _, r := range records {
		if r.ID == id || r.ReferenceCode == id {
			return r, true, nil
		}
	}
	return ledger.Record{}, false, nil
}

// ListByAccount returns the namespace's records, newest first.
func (l *Ledger) ListByAccount(ctx context.Context, bank, address string) ([]ledger.Record, error) {
	records, err := l.store.Records(ctx, ledger.NewNamespace(bank, address))
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// Remove deletes a single record. The cached balance is left alone.
func (l *Ledger) Remove(ctx context.Context, bank, address, id string) (bool, error) {
	ns := ledger.NewNamespace(bank, address)
	removed, err := l.store.DeleteRecord(ctx, ns, id)
	if err != nil {
		return false, err
	}
	if removed {
		l.logger.Info("transaction removed", slog.String("namespace", ns.Key()), slog.String("id", id))
	}
	return removed, nil
}

// RemoveAll wipes the namespace's records. The cached balance is left alone.
func (l *Ledger) RemoveAll(ctx context.Context, bank, address string) error {
	ns := ledger.NewNamespace(bank, address)
	if err := l.store.DeleteRecords(ctx, ns); err != nil {
		return err
	}
	l.logger.Info("transaction history cleared", slog.String("namespace", ns.Key()))
	return nil
}
