package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps records as JSON values written with SETNX, so concurrent
// writers of the same run id race safely. A sorted set indexes ids by start
// time for listing.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects and pings the server before returning.
func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("store: redis connection failed: %w", err)
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

func runKey(id string) string { return "glassbox:run:" + id }

const indexKey = "glassbox:runs"

func (r *RedisStore) Put(ctx context.Context, rec *RunRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("store: record needs an id")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal record: %w", err)
	}

	// SETNX makes the first writer win; losing the race is not an error.
	wasSet, err := r.client.SetNX(ctx, runKey(rec.ID), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("store: redis SETNX failed: %w", err)
	}
	if !wasSet {
		return nil
	}

	err = r.client.ZAdd(ctx, indexKey, &redis.Z{
		Score:  float64(rec.StartedAt.UnixNano()),
		Member: rec.ID,
	}).Err()
	if err != nil {
		return fmt.Errorf("store: redis index failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*RunRecord, error) {
	data, err := r.client.Get(ctx, runKey(id)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: redis GET failed: %w", err)
	}

	var rec RunRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("store: unmarshal record: %w", err)
	}
	return &rec, nil
}

func (r *RedisStore) List(ctx context.Context, limit int) ([]*RunRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := r.client.ZRevRange(ctx, indexKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("store: redis index scan failed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = runKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("store: redis MGET failed: %w", err)
	}

	out := make([]*RunRecord, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue // expired between index scan and fetch
		}
		var rec RunRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("store: unmarshal record: %w", err)
		}
		out = append(out, &rec)
	}
	return out, nil
}

// CleanupExpired trims index members whose records have already expired.
func (r *RedisStore) CleanupExpired(ctx context.Context) (int64, error) {
	if r.ttl <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-r.ttl).UnixNano()
	removed, err := r.client.ZRemRangeByScore(ctx, indexKey, "-inf", fmt.Sprintf("%d", cutoff)).Result()
	if err != nil {
		return 0, fmt.Errorf("store: redis index cleanup failed: %w", err)
	}
	return removed, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
