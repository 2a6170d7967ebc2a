package ledger

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return NewRedisStore(client)
}

func TestRedisStore(t *testing.T) {
	exerciseStore(t, newRedisStore(t))
}

func TestRedisStore_SurvivesNewClient(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	ctx := context.Background()
	ns := NewNamespace("VCB", "0xaaa")

	first := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	if err := NewRedisStore(first).AppendRecord(ctx, ns, sampleRecord("REF-1")); err != nil {
		t.Fatalf("append: %v", err)
	}
	first.Close()

	second := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer second.Close()
	records, err := NewRedisStore(second).Records(ctx, ns)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(records) != 1 || !records[0].Timestamp.Equal(sampleRecord("REF-1").Timestamp) {
		t.Fatalf("record did not survive reconnect: %+v", records)
	}
}
