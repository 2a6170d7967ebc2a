package transactions

import (
	"context"
	"strings"
	"time"

	"github.com/interbank/interbank_gateway/internal/ledger"
)

// Query narrows a history listing. Zero fields do not filter.
type Query struct {
	Search string
	Type   ledger.Type
	Status ledger.Status
	From   time.Time
	To     time.Time
}

// Summary counts the records of one account.
type Summary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Transfers int `json:"transfers"`
	InFlight  int `json:"in_flight"`
}

// Filter lists the namespace's records matching q, newest first. From and To
// are whole days: From starts at midnight, To runs to the end of its day.
func (l *Ledger) Filter(ctx context.Context, bank, address string, q Query) ([]ledger.Record, error) {
	records, err := l.ListByAccount(ctx, bank, address)
	if err != nil {
		return nil, err
	}
	search := strings.ToLower(strings.TrimSpace(q.Search))
	var from, to time.Time
	if !q.From.IsZero() {
		from = startOfDay(q.From)
	}
	if !q.To.IsZero() {
		to = startOfDay(q.To).Add(24*time.Hour - time.Nanosecond)
	}

	out := records[:0]
	for _, r := range records {
		if search != "" && !matchesSearch(r, search) {
			continue
		}
		if q.Type != "" && r.Type != q.Type {
			continue
		}
		if q.Status != "" && r.Status != q.Status {
			continue
		}
		if !from.IsZero() && r.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && r.Timestamp.After(to) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Summary aggregates the namespace's records.
func (l *Ledger) Summary(ctx context.Context, bank, address string) (Summary, error) {
	records, err := l.store.Records(ctx, ledger.NewNamespace(bank, address))
	if err != nil {
		return Summary{}, err
	}
	s := Summary{Total: len(records)}
	for _, r := range records {
		if r.Status == ledger.StatusCompleted {
			s.Completed++
		}
		if r.Type == ledger.TypeTransfer {
			s.Transfers++
		}
		if !r.Status.Terminal() {
			s.InFlight++
		}
	}
	return s, nil
}

func matchesSearch(r ledger.Record, needle string) bool {
	for _, field := range []string{r.ReferenceCode, r.Description, r.From, r.To} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
