package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"archboard/api/internal/domain"
)

// ErrConflict reports a unique-constraint style collision detected by the
// store (duplicate email, already-accepted invite).
var ErrConflict = errors.New("conflict")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const userColumnsTmpl = `{t}id, {t}email, {t}display_name, {t}password_hash, {t}role, COALESCE({t}firm_id, ''), {t}is_email_verified, COALESCE({t}verification_token, ''), {t}verification_expires_at, {t}created_at`

func userColumns(alias string) string {
	if alias != "" {
		alias += "."
	}
	return strings.ReplaceAll(userColumnsTmpl, "{t}", alias)
}

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	var expires sql.NullTime
	err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.Role, &user.FirmID,
		&user.IsEmailVerified, &user.VerificationToken, &expires, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	if expires.Valid {
		t := expires.Time
		user.VerificationExpiresAt = &t
	}
	user.Role = domain.NormalizeRole(user.Role)
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns("")+` FROM users WHERE email = $1`, normalizeEmail(email))
	return scanUser(row)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns("")+` FROM users WHERE id = $1`, userID)
	return scanUser(row)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	return insertUser(ctx, s.db, user)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertUser(ctx context.Context, db execer, user User) error {
	res, err := db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, password_hash, role, firm_id, is_email_verified, verification_token, verification_expires_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''), $9)
		ON CONFLICT (email) DO NOTHING
	`, user.ID, normalizeEmail(user.Email), user.DisplayName, user.PasswordHash, user.Role, user.FirmID,
		user.IsEmailVerified, user.VerificationToken, user.VerificationExpiresAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("insert user: %w", ErrConflict)
	}
	return nil
}

// VerifyUserEmail marks the user holding token as verified. It returns
// sql.ErrNoRows for unknown or expired tokens.
func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified = TRUE, verification_token = NULL, verification_expires_at = NULL
		WHERE verification_token = $1 AND (verification_expires_at IS NULL OR verification_expires_at > NOW())
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token_hash, user_id, expires_at) VALUES ($1, $2, $3)
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

// ConsumePasswordReset marks an unused, unexpired reset as used and returns
// its user id.
func (s *PostgresStore) ConsumePasswordReset(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		UPDATE password_resets SET used_at = NOW()
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > NOW()
		RETURNING user_id
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) CreateFirmSignupRequest(ctx context.Context, req FirmSignupRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO firm_signup_requests (id, company_name, admin_email, admin_name, token)
		VALUES ($1, $2, $3, $4, $5)
	`, req.ID, req.CompanyName, normalizeEmail(req.AdminEmail), req.AdminName, req.Token)
	if err != nil {
		return fmt.Errorf("create firm signup request: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFirmSignupRequest(ctx context.Context, token string) (FirmSignupRequest, error) {
	var req FirmSignupRequest
	err := s.db.QueryRowContext(ctx, `
		SELECT id, company_name, admin_email, admin_name, token, status, created_at
		FROM firm_signup_requests WHERE token = $1
	`, token).Scan(&req.ID, &req.CompanyName, &req.AdminEmail, &req.AdminName, &req.Token, &req.Status, &req.CreatedAt)
	if err != nil {
		return FirmSignupRequest{}, err
	}
	return req, nil
}

// CompleteFirmSignup creates the firm and its admin user and closes the
// request, atomically.
func (s *PostgresStore) CompleteFirmSignup(ctx context.Context, token string, firm Firm, admin User) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE firm_signup_requests SET status = 'completed' WHERE token = $1 AND status = 'pending'
		`, token)
		if err != nil {
			return fmt.Errorf("close firm signup request: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO firms (id, name) VALUES ($1, $2)`, firm.ID, firm.Name); err != nil {
			return fmt.Errorf("insert firm: %w", err)
		}
		admin.FirmID = firm.ID
		return insertUser(ctx, tx, admin)
	})
}

func (s *PostgresStore) CreateInvite(ctx context.Context, invite Invite) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invites (token, email, firm_id, role, invited_by, expires_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), $6)
	`, invite.Token, normalizeEmail(invite.Email), invite.FirmID, invite.Role, invite.InvitedBy, invite.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create invite: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetInvite(ctx context.Context, token string) (Invite, error) {
	var invite Invite
	var accepted sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT token, email, COALESCE(firm_id, ''), role, COALESCE(invited_by, ''), expires_at, accepted_at
		FROM invites WHERE token = $1
	`, token).Scan(&invite.Token, &invite.Email, &invite.FirmID, &invite.Role, &invite.InvitedBy, &invite.ExpiresAt, &accepted)
	if err != nil {
		return Invite{}, err
	}
	if accepted.Valid {
		t := accepted.Time
		invite.AcceptedAt = &t
	}
	return invite, nil
}

// AcceptInvite creates user and marks the invite accepted in one transaction.
// An invite that was accepted concurrently yields ErrConflict.
func (s *PostgresStore) AcceptInvite(ctx context.Context, token string, user User) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE invites SET accepted_at = NOW() WHERE token = $1 AND accepted_at IS NULL AND expires_at > NOW()
		`, token)
		if err != nil {
			return fmt.Errorf("accept invite: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("accept invite: %w", ErrConflict)
		}
		return insertUser(ctx, tx, user)
	})
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns("u")+`
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash)
	return scanUser(row)
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti, userID string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (jti) DO NOTHING
	`, jti, userID, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// PurgeExpiredTokens deletes expired refresh sessions, revoked-token markers
// and password resets. It returns the number of rows removed.
func (s *PostgresStore) PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	for _, stmt := range []string{
		`DELETE FROM refresh_sessions WHERE expires_at < $1 OR revoked_at IS NOT NULL`,
		`DELETE FROM revoked_access_tokens WHERE expires_at < $1`,
		`DELETE FROM password_resets WHERE expires_at < $1`,
	} {
		res, err := s.db.ExecContext(ctx, stmt, now)
		if err != nil {
			return total, fmt.Errorf("purge expired tokens: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
