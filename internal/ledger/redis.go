package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	balanceKeyPrefix = "ledger:v1:balance:"
	recordsKeyPrefix = "ledger:v1:records:"
	maxWatchRetries  = 5
)

// RedisStore persists balances and records in Redis. Each namespace is a list
// of JSON documents in insertion order; read-modify-write cycles run under
// WATCH so concurrent writers on the same namespace never interleave.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore builds a Redis-backed store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// CachedBalance reads the cached balance of an address.
func (s *RedisStore) CachedBalance(ctx context.Context, address string) (CachedBalance, bool, error) {
	raw, err := s.client.Get(ctx, balanceKeyPrefix+NormalizeAddress(address)).Bytes()
	if errors.Is(err, redis.Nil) {
		return CachedBalance{}, false, nil
	}
	if err != nil {
		return CachedBalance{}, false, fmt.Errorf("get cached balance: %w", err)
	}
	var bal CachedBalance
	if err := json.Unmarshal(raw, &bal); err != nil {
		return CachedBalance{}, false, fmt.Errorf("decode cached balance: %w", err)
	}
	return bal, true, nil
}

// PutBalance overwrites the cached balance of an address.
func (s *RedisStore) PutBalance(ctx context.Context, balance CachedBalance) error {
	if balance.Amount < 0 {
		return ErrNegativeBalance
	}
	balance.Address = NormalizeAddress(balance.Address)
	payload, err := json.Marshal(balance)
	if err != nil {
		return fmt.Errorf("encode cached balance: %w", err)
	}
	if err := s.client.Set(ctx, balanceKeyPrefix+balance.Address, payload, 0).Err(); err != nil {
		return fmt.Errorf("set cached balance: %w", err)
	}
	return nil
}

// Records lists the records of a namespace, oldest first.
func (s *RedisStore) Records(ctx context.Context, ns Namespace) ([]Record, error) {
	raw, err := s.client.LRange(ctx, recordsKey(ns), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return decodeRecords(raw)
}

// AppendRecord pushes a record unless its reference code is already filed.
func (s *RedisStore) AppendRecord(ctx context.Context, ns Namespace, record Record) error {
	key := recordsKey(ns)
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return s.watch(ctx, key, func(tx *redis.Tx) error {
		raw, err := tx.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return err
		}
		existing, err := decodeRecords(raw)
		if err != nil {
			return err
		}
		for _, r := range existing {
			if r.ReferenceCode == record.ReferenceCode {
				return ErrDuplicateReference
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, key, payload)
			return nil
		})
		return err
	})
}

// UpdateRecord rewrites the first matching record in place.
func (s *RedisStore) UpdateRecord(ctx context.Context, ns Namespace, match MatchFunc, mutate MutateFunc) (Record, bool, error) {
	key := recordsKey(ns)
	var (
		result  Record
		applied bool
	)
	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		result, applied = Record{}, false
		raw, err := tx.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return err
		}
		records, err := decodeRecords(raw)
		if err != nil {
			return err
		}
		for i := range records {
			if !match(records[i]) {
				continue
			}
			result = records[i]
			if !mutate(&result) {
				return nil
			}
			payload, err := json.Marshal(result)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.LSet(ctx, key, int64(i), payload)
				return nil
			})
			if err == nil {
				applied = true
			}
			return err
		}
		return nil
	})
	if err != nil {
		return Record{}, false, err
	}
	return result, applied, nil
}

// DeleteRecord removes one record by id.
func (s *RedisStore) DeleteRecord(ctx context.Context, ns Namespace, id string) (bool, error) {
	key := recordsKey(ns)
	var removed bool
	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		removed = false
		raw, err := tx.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return err
		}
		records, err := decodeRecords(raw)
		if err != nil {
			return err
		}
		for i := range records {
			if records[i].ID != id {
				continue
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.LRem(ctx, key, 1, raw[i])
				return nil
			})
			if err == nil {
				removed = true
			}
			return err
		}
		return nil
	})
	return removed, err
}

// DeleteRecords drops the whole namespace.
func (s *RedisStore) DeleteRecords(ctx context.Context, ns Namespace) error {
	if err := s.client.Del(ctx, recordsKey(ns)).Err(); err != nil {
		return fmt.Errorf("delete records: %w", err)
	}
	return nil
}

func (s *RedisStore) watch(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("records %s: too much contention", key)
}

func recordsKey(ns Namespace) string {
	return recordsKeyPrefix + ns.Key()
}

func decodeRecords(raw []string) ([]Record, error) {
	out := make([]Record, 0, len(raw))
	for _, item := range raw {
		var r Record
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}
