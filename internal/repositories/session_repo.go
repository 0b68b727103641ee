package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/taskhive/taskhive/internal/database"
	"github.com/taskhive/taskhive/internal/models"
)

const sessionColumns = `id, user_id, refresh_token_jti, device_fingerprint, user_agent,
	ip_address, is_active, last_activity_at, expires_at, terminated_at, created_at, updated_at`

type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{pool: db.Pool}
}

func scanSessionRow(scanner rowScanner) (*models.Session, error) {
	var session models.Session
	var deviceFingerprint, userAgent, ipAddress *string
	var terminatedAt *time.Time

	err := scanner.Scan(
		&session.ID, &session.UserID, &session.RefreshTokenJTI,
		&deviceFingerprint, &userAgent, &ipAddress,
		&session.IsActive, &session.LastActivityAt, &session.ExpiresAt,
		&terminatedAt, &session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if deviceFingerprint != nil {
		session.DeviceFingerprint = *deviceFingerprint
	}
	if userAgent != nil {
		session.UserAgent = *userAgent
	}
	if ipAddress != nil {
		session.IPAddress = *ipAddress
	}
	session.TerminatedAt = terminatedAt

	return &session, nil
}

func scanSessionRows(rows pgx.Rows) ([]*models.Session, error) {
	defer rows.Close()

	sessions := make([]*models.Session, 0)

	for rows.Next() {
		session, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return sessions, nil
}

func (r *SessionRepository) Create(ctx context.Context, session *models.Session) (*models.Session, error) {
	session.ID = uuid.New().String()

	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now
	session.LastActivityAt = now
	session.IsActive = true

	query := `
		INSERT INTO sessions (id, user_id, refresh_token_jti, device_fingerprint, user_agent,
			ip_address, is_active, last_activity_at, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + sessionColumns

	return scanSessionRow(r.pool.QueryRow(ctx, query,
		session.ID, session.UserID, session.RefreshTokenJTI,
		nullable(session.DeviceFingerprint), nullable(session.UserAgent), nullable(session.IPAddress),
		session.IsActive, session.LastActivityAt, session.ExpiresAt,
		session.CreatedAt, session.UpdatedAt,
	))
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSessionRow(r.pool.QueryRow(ctx, query, id))
}

// GetByJTI looks a session up by its current refresh-token JTI. The column
// is unique: every rotation replaces it.
func (r *SessionRepository) GetByJTI(ctx context.Context, jti string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE refresh_token_jti = $1`
	return scanSessionRow(r.pool.QueryRow(ctx, query, jti))
}

func (r *SessionRepository) GetByUserID(ctx context.Context, userID string, activeOnly bool) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE user_id = $1`
	if activeOnly {
		query += ` AND is_active AND terminated_at IS NULL AND expires_at > NOW()`
	}
	query += ` ORDER BY last_activity_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}

	return scanSessionRows(rows)
}

func (r *SessionRepository) Terminate(ctx context.Context, id string) error {
	query := `
		UPDATE sessions SET is_active = FALSE, terminated_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND terminated_at IS NULL
	`

	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return database.MapPostgresError(err)
	}
	// Terminating an already-terminated session is not an error.
	return nil
}

// RotateJTI writes the new refresh-token JTI and bumps activity, the
// per-refresh mutation of the session row.
func (r *SessionRepository) RotateJTI(ctx context.Context, id, newJTI, ip string) error {
	query := `
		UPDATE sessions SET refresh_token_jti = $1, ip_address = COALESCE(NULLIF($2, ''), ip_address),
			last_activity_at = NOW(), updated_at = NOW()
		WHERE id = $3
	`

	result, err := r.pool.Exec(ctx, query, newJTI, ip, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *SessionRepository) TouchActivity(ctx context.Context, id, ip string) error {
	query := `
		UPDATE sessions SET ip_address = COALESCE(NULLIF($1, ''), ip_address),
			last_activity_at = NOW(), updated_at = NOW()
		WHERE id = $2
	`

	result, err := r.pool.Exec(ctx, query, ip, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeleteExpired removes sessions long past their expiry, for scheduled
// cleanup. Recently expired rows are kept so users can review them.
func (r *SessionRepository) DeleteExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `DELETE FROM sessions WHERE expires_at < $1`

	result, err := r.pool.Exec(ctx, query, time.Now().Add(-olderThan))
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
