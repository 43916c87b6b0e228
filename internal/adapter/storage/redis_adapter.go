package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/bookstore/internal/core/domain"
)

const (
	idempotencyKeyPrefix = "checkout:req:"
	ratingKeyPrefix      = "rating:"

	defaultIdempotencyTTL = 24 * time.Hour
	defaultRatingTTL      = 10 * time.Minute
)

// The summary hash and its generation counter share a hash tag so both
// scripts touch a single slot.
func ratingKey(itemKey string) string { return ratingKeyPrefix + "{" + itemKey + "}" }

func ratingGenKey(itemKey string) string { return ratingKey(itemKey) + ":gen" }

// setRatingScript writes both hash fields and the TTL atomically, and only
// while the generation still matches the one the caller read before
// computing the summary.
var setRatingScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[4] then
	return 0
end
redis.call('HSET', KEYS[1], 'avg', ARGV[1], 'count', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

var invalidateRatingScript = redis.NewScript(`
redis.call('INCR', KEYS[2])
redis.call('DEL', KEYS[1])
return 1
`)

type RedisAdapter struct {
	client         *redis.Client
	idempotencyTTL time.Duration
	ratingTTL      time.Duration
}

func NewRedisAdapter(client *redis.Client, idempotencyTTL, ratingTTL time.Duration) *RedisAdapter {
	if idempotencyTTL <= 0 {
		idempotencyTTL = defaultIdempotencyTTL
	}
	if ratingTTL <= 0 {
		ratingTTL = defaultRatingTTL
	}
	return &RedisAdapter{client: client, idempotencyTTL: idempotencyTTL, ratingTTL: ratingTTL}
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, r.idempotencyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}

func (r *RedisAdapter) GetRatingSummary(ctx context.Context, itemKey string) (domain.RatingSummary, bool, error) {
	vals, err := r.client.HGetAll(ctx, ratingKey(itemKey)).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(vals) == 0) {
		return domain.RatingSummary{}, false, nil
	}
	if err != nil {
		return domain.RatingSummary{}, false, err
	}

	avg, err := strconv.ParseFloat(vals["avg"], 64)
	if err != nil {
		return domain.RatingSummary{}, false, nil
	}
	count, err := strconv.Atoi(vals["count"])
	if err != nil {
		return domain.RatingSummary{}, false, nil
	}
	return domain.RatingSummary{Average: avg, Count: count}, true, nil
}

func (r *RedisAdapter) RatingGeneration(ctx context.Context, itemKey string) (int64, error) {
	gen, err := r.client.Get(ctx, ratingGenKey(itemKey)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (r *RedisAdapter) SetRatingSummary(ctx context.Context, itemKey string, gen int64, summary domain.RatingSummary) (bool, error) {
	stored, err := setRatingScript.Run(ctx, r.client, []string{ratingKey(itemKey), ratingGenKey(itemKey)},
		strconv.FormatFloat(summary.Average, 'f', -1, 64),
		summary.Count,
		r.ratingTTL.Milliseconds(),
		strconv.FormatInt(gen, 10),
	).Int()
	if err != nil {
		return false, err
	}
	return stored == 1, nil
}

func (r *RedisAdapter) InvalidateRatingSummary(ctx context.Context, itemKey string) error {
	return invalidateRatingScript.Run(ctx, r.client, []string{ratingKey(itemKey), ratingGenKey(itemKey)}).Err()
}
