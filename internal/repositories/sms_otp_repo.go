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
	otpCodePrefix     = "otp:code:"
	otpAttemptsPrefix = "otp:attempts:"
	otpResendPrefix   = "otp:resend:"
)

// SMSOTPRepository keeps the OTP code, its verification-attempt counter, and
// the resend rate-limit counter in Redis. Code and attempt counter share one
// TTL; they are written as two sequential SETs, which leaves a narrow window
// where one exists without the other — harmless, since a missing code fails
// closed and a missing counter reads as zero.
type SMSOTPRepository struct {
	redis *redis.Client
}

func NewSMSOTPRepository(redisClient *redis.Client) *SMSOTPRepository {
	return &SMSOTPRepository{redis: redisClient}
}

func (r *SMSOTPRepository) StoreOTP(ctx context.Context, userID, code string, ttl time.Duration) error {
	if err := r.redis.Set(ctx, otpCodePrefix+userID, code, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	if err := r.redis.Set(ctx, otpAttemptsPrefix+userID, 0, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

// GetOTP returns the stored code, or ("", false, nil) if none exists.
func (r *SMSOTPRepository) GetOTP(ctx context.Context, userID string) (string, bool, error) {
	code, err := r.redis.Get(ctx, otpCodePrefix+userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return code, true, nil
}

// DeleteOTP purges both the code and its attempt counter.
func (r *SMSOTPRepository) DeleteOTP(ctx context.Context, userID string) error {
	if err := r.redis.Del(ctx, otpCodePrefix+userID, otpAttemptsPrefix+userID).Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *SMSOTPRepository) IncrementAttempts(ctx context.Context, userID string) (int, error) {
	n, err := r.redis.Incr(ctx, otpAttemptsPrefix+userID).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return int(n), nil
}

func (r *SMSOTPRepository) GetAttempts(ctx context.Context, userID string) (int, bool, error) {
	n, err := r.redis.Get(ctx, otpAttemptsPrefix+userID).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return n, true, nil
}

// IncrementResendCount bumps the sliding-window send counter, starting the
// window on the first send.
func (r *SMSOTPRepository) IncrementResendCount(ctx context.Context, userID string, window time.Duration) (int, error) {
	key := otpResendPrefix + userID

	n, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	if n == 1 {
		if err := r.redis.Expire(ctx, key, window).Err(); err != nil {
			return int(n), fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
		}
	}
	return int(n), nil
}

func (r *SMSOTPRepository) GetResendCount(ctx context.Context, userID string) (int, error) {
	n, err := r.redis.Get(ctx, otpResendPrefix+userID).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return n, nil
}

// GetOTPTTL returns the remaining lifetime of the stored code, or
// (0, false, nil) if none exists.
func (r *SMSOTPRepository) GetOTPTTL(ctx context.Context, userID string) (time.Duration, bool, error) {
	ttl, err := r.redis.TTL(ctx, otpCodePrefix+userID).Result()
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	if ttl < 0 {
		// -2 means no key, -1 means no expiry set; either way there is no
		// live OTP with a meaningful TTL.
		return 0, false, nil
	}
	return ttl, true, nil
}
