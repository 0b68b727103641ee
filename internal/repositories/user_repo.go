package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/taskhive/taskhive/internal/database"
	"github.com/taskhive/taskhive/internal/models"
)

const userColumns = `id, email, password_hash, is_active, is_locked, locked_until,
	failed_login_attempts, mfa_enabled, totp_secret_encrypted, backup_codes_encrypted,
	mfa_setup_at, phone, phone_verified, last_login_at, last_login_ip, created_at, updated_at`

type UserRepository struct {
	db   *database.DB
	pool *pgxpool.Pool
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db, pool: db.Pool}
}

// rowScanner interface for scanning rows (supports single row and row sets)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var lockedUntil, mfaSetupAt, lastLoginAt *time.Time
	var phone, lastLoginIP *string

	err := scanner.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.IsActive, &user.IsLocked,
		&lockedUntil, &user.FailedLoginAttempts, &user.MFAEnabled,
		&user.TOTPSecretEncrypted, &user.BackupCodesEncrypted, &mfaSetupAt,
		&phone, &user.PhoneVerified, &lastLoginAt, &lastLoginIP,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	user.LockedUntil = lockedUntil
	user.MFASetupAt = mfaSetupAt
	user.LastLoginAt = lastLoginAt
	if phone != nil {
		user.Phone = *phone
	}
	if lastLoginIP != nil {
		user.LastLoginIP = *lastLoginIP
	}

	return &user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, email))
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	user.ID = uuid.New().String()

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.IsActive = true

	query := `
		INSERT INTO users (id, email, password_hash, is_active, phone, phone_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + userColumns

	var phone *string
	if user.Phone != "" {
		phone = &user.Phone
	}

	return scanUserRow(r.pool.QueryRow(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.IsActive,
		phone, user.PhoneVerified, user.CreatedAt, user.UpdatedAt,
	))
}

// RecordFailedLogin bumps the failed-login counter and, once the count
// reaches max, applies a time-boxed lock in the same transaction so the
// counter and the lock cannot diverge. The counter is left as-is on lock:
// the lock duration governs recovery, not the counter value.
func (r *UserRepository) RecordFailedLogin(ctx context.Context, id string, max int, until time.Time) (int, bool, error) {
	var count int
	var locked bool

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		incr := `
			UPDATE users SET failed_login_attempts = failed_login_attempts + 1, updated_at = NOW()
			WHERE id = $1
			RETURNING failed_login_attempts
		`
		if err := tx.QueryRow(ctx, incr, id).Scan(&count); err != nil {
			return database.MapPostgresError(err)
		}

		if count >= max {
			lock := `UPDATE users SET is_locked = TRUE, locked_until = $1 WHERE id = $2`
			if _, err := tx.Exec(ctx, lock, until, id); err != nil {
				return database.MapPostgresError(err)
			}
			locked = true
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return count, locked, nil
}

func (r *UserRepository) ResetFailedLogins(ctx context.Context, id string) error {
	query := `UPDATE users SET failed_login_attempts = 0, updated_at = NOW() WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UnlockAccount clears an expired or manually lifted lock.
func (r *UserRepository) UnlockAccount(ctx context.Context, id string) error {
	query := `
		UPDATE users SET is_locked = FALSE, locked_until = NULL, failed_login_attempts = 0, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *UserRepository) RecordLogin(ctx context.Context, id, ip string, at time.Time) error {
	query := `UPDATE users SET last_login_at = $1, last_login_ip = $2, updated_at = NOW() WHERE id = $3`

	var ipValue *string
	if ip != "" {
		ipValue = &ip
	}

	result, err := r.pool.Exec(ctx, query, at, ipValue, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpdateMFA persists the MFA fields as one unit: the enabled flag is never
// written without its matching secret and backup codes.
func (r *UserRepository) UpdateMFA(ctx context.Context, id string, enabled bool, secret, backupCodes []byte, setupAt *time.Time) error {
	query := `
		UPDATE users SET mfa_enabled = $1, totp_secret_encrypted = $2, backup_codes_encrypted = $3,
			mfa_setup_at = $4, updated_at = NOW()
		WHERE id = $5
	`

	result, err := r.pool.Exec(ctx, query, enabled, secret, backupCodes, setupAt, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpdateBackupCodes replaces only the encrypted backup-code blob, used after
// a code is consumed or the set is regenerated.
func (r *UserRepository) UpdateBackupCodes(ctx context.Context, id string, backupCodes []byte) error {
	query := `UPDATE users SET backup_codes_encrypted = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.pool.Exec(ctx, query, backupCodes, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *UserRepository) SetPhone(ctx context.Context, id, phone string, verified bool) error {
	query := `UPDATE users SET phone = $1, phone_verified = $2, updated_at = NOW() WHERE id = $3`

	result, err := r.pool.Exec(ctx, query, phone, verified, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *UserRepository) Delete(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
