package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/interbank/interbank_gateway/internal/ledger"
)

const defaultTimeout = 5 * time.Second

// Entry is one seeded balance figure.
type Entry struct {
	Bank        string `json:"bank"`
	User        string `json:"user"`
	Address     string `json:"address"`
	AmountMinor int64  `json:"balance_vnd"`
}

// Options configures where the snapshot is read from.
type Options struct {
	URL     string
	Path    string
	Timeout time.Duration
	Client  *http.Client
}

// Source is the read-only, lowest-trust balance list. The first non-empty
// remote or file response is kept for the lifetime of the process.
type Source struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	cached []Entry
}

// NewSource constructs a snapshot source.
func NewSource(opts Options, logger *slog.Logger) *Source {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	return &Source{opts: opts, logger: logger}
}

// FetchAll returns the snapshot, trying the remote endpoint, then the local
// file, then the built-in defaults. It never fails: the defaults are the floor.
func (s *Source) FetchAll(ctx context.Context) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil {
		return clone(s.cached)
	}

	if s.opts.URL != "" {
		entries, err := s.fetchRemote(ctx)
		if err == nil && len(entries) > 0 {
			s.cached = entries
			return clone(entries)
		}
		s.logger.Warn("snapshot remote unavailable", slog.String("url", s.opts.URL), slog.Any("error", err))
	}

	if s.opts.Path != "" {
		entries, err := readFile(s.opts.Path)
		if err == nil && len(entries) > 0 {
			s.cached = entries
			return clone(entries)
		}
		s.logger.Warn("snapshot file unavailable", slog.String("path", s.opts.Path), slog.Any("error", err))
	}

	s.logger.Debug("using default snapshot balances")
	return Defaults()
}

// Lookup returns the snapshot entry of an address.
func (s *Source) Lookup(ctx context.Context, address string) (Entry, bool) {
	want := ledger.NormalizeAddress(address)
	for _, e := range s.FetchAll(ctx) {
		if ledger.NormalizeAddress(e.Address) == want {
			return e, true
		}
	}
	return Entry{}, false
}

func (s *Source) fetchRemote(ctx context.Context) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := s.opts.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var entries []Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return entries, nil
}

func readFile(path string) ([]Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return entries, nil
}

// Defaults is the genesis allocation: every demo account starts at 100,000,000.
func Defaults() []Entry {
	return []Entry{
		{Bank: "Vietcombank", User: "vietcombank_user1", Address: "0x422b10ce2c930d45814992742e36383684946b14", AmountMinor: 100_000_000},
		{Bank: "Vietcombank", User: "vietcombank_user2", Address: "0xe8023765dbfad4f5b39e4d958e7f77c841c92070", AmountMinor: 100_000_000},
		{Bank: "VietinBank", User: "vietinbank_user1", Address: "0xf9a6995806e630b216f65ba5577088c9032a8051", AmountMinor: 100_000_000},
		{Bank: "VietinBank", User: "vietinbank_user2", Address: "0xffe77b3af2e19001b08c1a5b2d6f81af8b3081fd", AmountMinor: 100_000_000},
		{Bank: "BIDV", User: "bidv_user1", Address: "0x9ce2b1c73dfe760d7413f5034709133d14bde60a", AmountMinor: 100_000_000},
		{Bank: "BIDV", User: "bidv_user2", Address: "0xfe4c08e2839b216d82635d9b4e5bb14d0b7cbd33", AmountMinor: 100_000_000},
	}
}

func clone(in []Entry) []Entry {
	out := make([]Entry, len(in))
	copy(out, in)
	return out
}
