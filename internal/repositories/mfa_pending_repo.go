package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/taskhive/taskhive/internal/models"
)

const (
	pendingLoginPrefix = "mfa:login:"
	pendingSetupPrefix = "mfa:setup:"
)

// MFAPendingRepository holds the two transient MFA records: the post-password
// login challenge (5 min) and the setup-in-progress secret (15 min). Both are
// keyed by user id and consumed exactly once.
type MFAPendingRepository struct {
	redis *redis.Client
}

func NewMFAPendingRepository(redisClient *redis.Client) *MFAPendingRepository {
	return &MFAPendingRepository{redis: redisClient}
}

func (r *MFAPendingRepository) SavePendingLogin(ctx context.Context, userID string, pending *models.PendingLogin, ttl time.Duration) error {
	encoded, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to encode pending login: %w", err)
	}

	if err := r.redis.Set(ctx, pendingLoginPrefix+userID, encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *MFAPendingRepository) GetPendingLogin(ctx context.Context, userID string) (*models.PendingLogin, error) {
	data, err := r.redis.Get(ctx, pendingLoginPrefix+userID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrMFASessionExpired
		}
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	var pending models.PendingLogin
	if err := json.Unmarshal(data, &pending); err != nil {
		return nil, fmt.Errorf("failed to decode pending login: %w", err)
	}
	return &pending, nil
}

func (r *MFAPendingRepository) DeletePendingLogin(ctx context.Context, userID string) error {
	if err := r.redis.Del(ctx, pendingLoginPrefix+userID).Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *MFAPendingRepository) SavePendingSetup(ctx context.Context, userID string, setup *models.PendingTOTPSetup, ttl time.Duration) error {
	encoded, err := json.Marshal(setup)
	if err != nil {
		return fmt.Errorf("failed to encode pending setup: %w", err)
	}

	if err := r.redis.Set(ctx, pendingSetupPrefix+userID, encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *MFAPendingRepository) GetPendingSetup(ctx context.Context, userID string) (*models.PendingTOTPSetup, error) {
	data, err := r.redis.Get(ctx, pendingSetupPrefix+userID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrMFASetupNotFound
		}
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	var setup models.PendingTOTPSetup
	if err := json.Unmarshal(data, &setup); err != nil {
		return nil, fmt.Errorf("failed to decode pending setup: %w", err)
	}
	return &setup, nil
}

func (r *MFAPendingRepository) DeletePendingSetup(ctx context.Context, userID string) error {
	if err := r.redis.Del(ctx, pendingSetupPrefix+userID).Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}
