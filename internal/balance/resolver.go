package balance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/interbank/interbank_gateway/internal/ledger"
	"github.com/interbank/interbank_gateway/internal/snapshot"
)

const defaultProbeTimeout = 5 * time.Second

// Authoritative answers balance queries against the ledger of record.
type Authoritative interface {
	QueryBalance(ctx context.Context, address string) (int64, error)
}

// Reference answers balance queries from the seeded snapshot.
type Reference interface {
	Lookup(ctx context.Context, address string) (snapshot.Entry, bool)
}

// Options tunes the resolver.
type Options struct {
	// Override treats cached balances as trusted and lets untrusted
	// balances through Authorize with a warning.
	Override bool
	// Timeout bounds every remote probe.
	Timeout time.Duration
	// SettlementGrace is how long a freshly written cache entry caps the
	// authoritative figure.
	SettlementGrace time.Duration
	Now             func() time.Time
}

// Resolver reconciles the local cache, the authoritative ledger and the
// reference snapshot into one trust-annotated balance. It is the only writer
// of cached balances.
type Resolver struct {
	store     ledger.Store
	authority Authoritative
	reference Reference
	opts      Options
	logger    *slog.Logger
	locks     *keyedMutex

	mu   sync.Mutex
	last map[string]Balance
}

// NewResolver constructs a resolver. authority and reference may be nil.
func NewResolver(store ledger.Store, authority Authoritative, reference Reference, opts Options, logger *slog.Logger) *Resolver {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultProbeTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Resolver{
		store:     store,
		authority: authority,
		reference: reference,
		opts:      opts,
		logger:    logger,
		locks:     newKeyedMutex(),
		last:      make(map[string]Balance),
	}
}

// Override reports whether demonstration mode is on.
func (r *Resolver) Override() bool { return r.opts.Override }

// Lock serializes money movement on one address. The returned func releases
// the lock and is safe to call more than once.
func (r *Resolver) Lock(address string) func() {
	return r.locks.lock(ledger.NormalizeAddress(address))
}

// Resolve returns the best available balance of address. It never fails:
// when no source answers the result is a blocked zero.
func (r *Resolver) Resolve(ctx context.Context, address string) Balance {
	address = ledger.NormalizeAddress(address)
	now := r.opts.Now()

	cached := r.probeCache(ctx, address, now)
	authoritative := r.probeAuthoritative(ctx, address)
	var reference probe
	if !cached.ok && !authoritative.ok {
		reference = r.probeReference(ctx, address)
	}

	b := selectBalance(address, cached, authoritative, reference, r.opts.Override)
	b.ResolvedAt = now

	r.mu.Lock()
	r.last[address] = b
	r.mu.Unlock()

	r.logger.Debug("balance resolved",
		slog.String("address", address),
		slog.Int64("amount", b.AmountMinor),
		slog.String("source", string(b.Source)),
		slog.Bool("trusted", b.Trusted))
	return b
}

// Authorize checks that address may spend amount and returns the balance the
// decision was based on.
func (r *Resolver) Authorize(ctx context.Context, address string, amount int64) (Balance, error) {
	b := r.Resolve(ctx, address)
	if !b.Trusted {
		if !r.opts.Override {
			return b, ErrUntrustedBalance
		}
		r.logger.Warn("authorizing against untrusted balance",
			slog.String("address", b.Address),
			slog.String("source", string(b.Source)))
	}
	if amount > b.AmountMinor {
		return b, &InsufficientFundsError{Current: b.AmountMinor, Requested: amount}
	}
	return b, nil
}

// ApplyDelta adds delta to the current balance of address, clamps at zero
// and overwrites the cache entry. The current balance is the newer of the
// cache entry and the last resolve of the address.
func (r *Resolver) ApplyDelta(ctx context.Context, address string, delta int64) (int64, error) {
	address = ledger.NormalizeAddress(address)
	cached, ok, err := r.store.CachedBalance(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("read cached balance: %w", err)
	}

	r.mu.Lock()
	last, seen := r.last[address]
	r.mu.Unlock()

	var base int64
	switch {
	case ok && (!seen || !last.ResolvedAt.After(cached.UpdatedAt)):
		base = cached.Amount
	case seen:
		base = last.AmountMinor
	}
	return r.write(ctx, address, base, delta)
}

// Credit adds a settled incoming amount to the best balance of address:
// the authoritative figure if reachable, else the cached value, else zero.
func (r *Resolver) Credit(ctx context.Context, address string, amount int64) (int64, error) {
	address = ledger.NormalizeAddress(address)
	var base int64
	if p := r.probeAuthoritative(ctx, address); p.ok {
		base = p.amount
	} else if p := r.probeCache(ctx, address, r.opts.Now()); p.ok {
		base = p.amount
	}
	return r.write(ctx, address, base, amount)
}

func (r *Resolver) write(ctx context.Context, address string, base, delta int64) (int64, error) {
	amount := base + delta
	if amount < 0 {
		amount = 0
	}
	if err := r.store.PutBalance(ctx, ledger.CachedBalance{
		Address:   address,
		Amount:    amount,
		UpdatedAt: r.opts.Now().UTC(),
	}); err != nil {
		return 0, fmt.Errorf("write cached balance: %w", err)
	}
	r.logger.Info("cached balance updated",
		slog.String("address", address),
		slog.Int64("base", base),
		slog.Int64("delta", delta),
		slog.Int64("amount", amount))
	return amount, nil
}
