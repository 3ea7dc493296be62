package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const expiryKey = "escrow:expiry"

// ExpiryIndex implements ports.ExpiryIndex on a Redis sorted set: member is
// the escrow id, score its expiry as a unix timestamp. The sweep reads the
// due range; the authoritative deadline check still happens in the domain.
type ExpiryIndex struct {
	client *goredis.Client
}

// NewExpiryIndex creates a Redis-backed escrow expiry index.
func NewExpiryIndex(client *goredis.Client) *ExpiryIndex {
	return &ExpiryIndex{client: client}
}

// Track registers an escrow under its expiry time.
func (i *ExpiryIndex) Track(ctx context.Context, escrowID string, expiresAt time.Time) error {
	err := i.client.ZAdd(ctx, expiryKey, goredis.Z{
		Score:  float64(expiresAt.Unix()),
		Member: escrowID,
	}).Err()
	if err != nil {
		return fmt.Errorf("redis expiry track: %w", err)
	}
	return nil
}

// Remove drops an escrow from the index once it leaves an expirable state.
func (i *ExpiryIndex) Remove(ctx context.Context, escrowID string) error {
	if err := i.client.ZRem(ctx, expiryKey, escrowID).Err(); err != nil {
		return fmt.Errorf("redis expiry remove: %w", err)
	}
	return nil
}

// Due returns up to limit escrow ids whose expiry is at or before now.
func (i *ExpiryIndex) Due(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ids, err := i.client.ZRangeByScore(ctx, expiryKey, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis expiry range: %w", err)
	}
	return ids, nil
}
