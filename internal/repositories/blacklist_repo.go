package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/taskhive/taskhive/internal/models"
)

const (
	blacklistTokenPrefix  = "bl:jti:"
	blacklistFamilyPrefix = "bl:fam:"
)

// BlacklistRepository stores revoked token markers in Redis with a TTL equal
// to the token's remaining lifetime, so entries expire on their own.
type BlacklistRepository struct {
	redis *redis.Client
}

func NewBlacklistRepository(redisClient *redis.Client) *BlacklistRepository {
	return &BlacklistRepository{redis: redisClient}
}

func (r *BlacklistRepository) BlacklistToken(ctx context.Context, jti string, ttl time.Duration) error {
	if err := r.redis.Set(ctx, blacklistTokenPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *BlacklistRepository) IsTokenBlacklisted(ctx context.Context, jti string) (bool, error) {
	n, err := r.redis.Exists(ctx, blacklistTokenPrefix+jti).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

func (r *BlacklistRepository) BlacklistFamily(ctx context.Context, family string, ttl time.Duration) error {
	if err := r.redis.Set(ctx, blacklistFamilyPrefix+family, "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *BlacklistRepository) IsFamilyBlacklisted(ctx context.Context, family string) (bool, error) {
	n, err := r.redis.Exists(ctx, blacklistFamilyPrefix+family).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return n > 0, nil
}
