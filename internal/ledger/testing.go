package ledger

import (
	"context"
	"time"
)

// SeedBalance is a test helper that writes a cached balance directly into a
// store, bypassing the resolver. UpdatedAt is backdated so the entry does not
// count as a fresh settlement.
func SeedBalance(s Store, address string, amount int64) {
	_ = s.PutBalance(context.Background(), CachedBalance{
		Address:   address,
		Amount:    amount,
		UpdatedAt: time.Now().Add(-24 * time.Hour).UTC(),
	})
}
