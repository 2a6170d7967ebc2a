package otp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "otp:v1:"

// RedisVerifier keeps bcrypt hashes of issued codes in Redis until they expire
// or are used.
type RedisVerifier struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisVerifier constructs a Redis-backed verifier.
func NewRedisVerifier(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisVerifier {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisVerifier{client: client, ttl: ttl, logger: logger}
}

func (v *RedisVerifier) Issue(ctx context.Context, subject string) (Challenge, error) {
	code, err := randomCode()
	if err != nil {
		return Challenge{}, err
	}
	hash, err := hashCode(code)
	if err != nil {
		return Challenge{}, err
	}
	ch := Challenge{
		ID:        uuid.New().String(),
		Subject:   subject,
		Code:      code,
		ExpiresAt: time.Now().Add(v.ttl).UTC(),
	}
	if err := v.client.Set(ctx, keyPrefix+ch.ID, hash, v.ttl).Err(); err != nil {
		return Challenge{}, fmt.Errorf("store challenge: %w", err)
	}
	v.logger.Info("otp issued", slog.String("challenge_id", ch.ID), slog.String("subject", subject))
	return ch, nil
}

func (v *RedisVerifier) Verify(ctx context.Context, challengeID, code string) (bool, error) {
	key := keyPrefix + challengeID
	hash, err := v.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load challenge: %w", err)
	}
	if !matches(hash, code) {
		return false, nil
	}
	// Only the caller that deletes the key consumes the challenge.
	deleted, err := v.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("consume challenge: %w", err)
	}
	return deleted == 1, nil
}
