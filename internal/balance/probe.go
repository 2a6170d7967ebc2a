package balance

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

var errNoAnswer = errors.New("source has no balance for address")

// probe is the outcome of asking one source. Failures are values here; the
// selection step never sees a panic or a raw transport error.
type probe struct {
	ok     bool
	amount int64
	fresh  bool
	err    error
}

func failed(err error) probe { return probe{err: err} }

func (r *Resolver) probeCache(ctx context.Context, address string, now time.Time) probe {
	cached, ok, err := r.store.CachedBalance(ctx, address)
	if err != nil {
		r.logger.Warn("cache probe failed", slog.String("address", address), slog.Any("error", err))
		return failed(err)
	}
	if !ok {
		return failed(errNoAnswer)
	}
	return probe{
		ok:     true,
		amount: cached.Amount,
		fresh:  r.opts.SettlementGrace > 0 && now.Sub(cached.UpdatedAt) < r.opts.SettlementGrace,
	}
}

func (r *Resolver) probeAuthoritative(ctx context.Context, address string) probe {
	if r.authority == nil {
		return failed(errNoAnswer)
	}
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	amount, err := r.authority.QueryBalance(ctx, address)
	if err != nil {
		r.logger.Debug("authoritative probe failed", slog.String("address", address), slog.Any("error", err))
		return failed(err)
	}
	if amount < 0 {
		return failed(errNoAnswer)
	}
	return probe{ok: true, amount: amount}
}

func (r *Resolver) probeReference(ctx context.Context, address string) probe {
	if r.reference == nil {
		return failed(errNoAnswer)
	}
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	entry, ok := r.reference.Lookup(ctx, address)
	if !ok || entry.AmountMinor < 0 {
		return failed(errNoAnswer)
	}
	return probe{ok: true, amount: entry.AmountMinor}
}

// selectBalance picks one result in priority order. An authoritative answer
// replaces a cache hit, capped by the cache while the cache entry is fresh.
func selectBalance(address string, cached, authoritative, reference probe, override bool) Balance {
	b := Balance{Address: address, Source: SourceReference}
	switch {
	case authoritative.ok:
		b.Source = SourceAuthoritative
		b.AmountMinor = authoritative.amount
		if cached.ok && cached.fresh && cached.amount < b.AmountMinor {
			b.AmountMinor = cached.amount
		}
	case cached.ok:
		b.Source = SourceLocalCache
		b.AmountMinor = cached.amount
	case reference.ok:
		b.AmountMinor = reference.amount
	}
	if b.AmountMinor < 0 {
		b.AmountMinor = 0
	}
	b.Trusted = b.Source == SourceAuthoritative || (override && b.Source == SourceLocalCache)
	return b
}
