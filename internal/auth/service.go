package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	internaldb "cbtportal/internal/db"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDuplicateUsername  = errors.New("username already taken")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidInput       = errors.New("invalid input")
	ErrRateLimited        = errors.New("too many requests")
	ErrUserNotFound       = errors.New("user not found")
)

const guardPasswordLogin = "password_login"

type Service struct {
	db                *sql.DB
	validate          *validator.Validate
	sessionTTL        time.Duration
	bcryptCost        int
	loginMaxFailures  int
	loginLockDuration time.Duration
	now               func() time.Time
}

type ServiceConfig struct {
	SessionTTL        time.Duration
	BcryptCost        int
	LoginMaxFailures  int
	LoginLockDuration time.Duration
	Now               func() time.Time
}

type User struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	Role       Role      `json:"role"`
	ClassLevel string    `json:"class_level,omitempty"`
	ChildID    *int64    `json:"child_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type SignupInput struct {
	Username      string `validate:"required,min=3,max=100"`
	Password      string `validate:"required,min=6,max=72"`
	Role          string `validate:"required,oneof=admin instructor pupil parent"`
	ClassLevel    string `validate:"max=50"`
	ChildUsername string `validate:"max=100"`
}

func NewService(db *sql.DB, cfg ServiceConfig) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.LoginMaxFailures <= 0 {
		cfg.LoginMaxFailures = 5
	}
	if cfg.LoginLockDuration <= 0 {
		cfg.LoginLockDuration = 15 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Service{
		db:                db,
		validate:          validator.New(),
		sessionTTL:        cfg.SessionTTL,
		bcryptCost:        cfg.BcryptCost,
		loginMaxFailures:  cfg.LoginMaxFailures,
		loginLockDuration: cfg.LoginLockDuration,
		now:               cfg.Now,
	}
}

// Signup creates an account. The password is hashed before it reaches the store.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Role = strings.ToLower(strings.TrimSpace(in.Role))
	in.ClassLevel = strings.TrimSpace(in.ClassLevel)
	in.ChildUsername = strings.TrimSpace(in.ChildUsername)

	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	if strings.ContainsAny(in.Username, " \t\r\n") {
		return nil, fmt.Errorf("%w: username must not contain spaces", ErrInvalidInput)
	}

	role, err := ParseRole(in.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if role.NeedsClassLevel() && in.ClassLevel == "" {
		return nil, fmt.Errorf("%w: class level is required for %s accounts", ErrInvalidInput, role)
	}
	if !role.NeedsClassLevel() {
		in.ClassLevel = ""
	}

	var childID *int64
	if role == RoleParent {
		if in.ChildUsername == "" {
			return nil, fmt.Errorf("%w: parent accounts must name their child's username", ErrInvalidInput)
		}
		id, err := s.lookupPupilID(ctx, in.ChildUsername)
		if err != nil {
			return nil, err
		}
		childID = &id
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := User{
		Username:   in.Username,
		Role:       role,
		ClassLevel: in.ClassLevel,
		ChildID:    childID,
		CreatedAt:  s.now().UTC(),
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, password_hash, role, class_level, child_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, u.Username, string(passwordHash), role.String(), nullableString(u.ClassLevel), nullableInt64(childID), u.CreatedAt).Scan(&u.ID)
	if err != nil {
		if internaldb.IsUniqueViolation(err) {
			return nil, ErrDuplicateUsername
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &u, nil
}

func (s *Service) lookupPupilID(ctx context.Context, username string) (int64, error) {
	var id int64
	var role Role
	err := s.db.QueryRowContext(ctx, `
		SELECT id, role
		FROM users
		WHERE username = $1
	`, username).Scan(&id, &role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: no pupil named %q", ErrInvalidInput, username)
		}
		return 0, fmt.Errorf("query child: %w", err)
	}
	if role != RolePupil {
		return 0, fmt.Errorf("%w: %q is not a pupil account", ErrInvalidInput, username)
	}
	return id, nil
}

// AuthenticatePassword returns ErrInvalidCredentials for both an unknown username and a
// wrong password so callers cannot tell which part failed.
func (s *Service) AuthenticatePassword(ctx context.Context, username, password string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	guardKey := normalizeGuardKey(username)
	locked, err := s.isGuardLocked(ctx, guardPasswordLogin, guardKey)
	if err != nil {
		return nil, fmt.Errorf("check login guard: %w", err)
	}
	if locked {
		return nil, ErrRateLimited
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, role, class_level, child_id, created_at, password_hash
		FROM users
		WHERE username = $1
	`, username)

	var passwordHash string
	u, err := scanUser(row, &passwordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = s.registerFailure(ctx, guardPasswordLogin, guardKey)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		_ = s.registerFailure(ctx, guardPasswordLogin, guardKey)
		return nil, ErrInvalidCredentials
	}

	_ = s.clearGuard(ctx, guardPasswordLogin, guardKey)
	return u, nil
}

func (s *Service) CreateSession(ctx context.Context, userID int64, ipAddress, userAgent string) (string, time.Time, error) {
	token, err := generateToken(32)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate session token: %w", err)
	}
	now := s.now().UTC()
	expiresAt := now.Add(s.sessionTTL)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO auth_sessions (
			user_id, session_token_hash, expires_at, ip_address, user_agent, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
	`, userID, hashToken(token), expiresAt, nullableString(ipAddress), nullableString(userAgent), now)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("insert session: %w", err)
	}
	return token, expiresAt, nil
}

func (s *Service) GetSessionUser(ctx context.Context, token string) (*User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrUnauthorized
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.role, u.class_level, u.child_id, u.created_at
		FROM auth_sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.session_token_hash = $1
		  AND s.revoked_at IS NULL
		  AND s.expires_at > $2
	`, hashToken(token), s.now().UTC())

	u, err := scanUser(row, nil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("query session user: %w", err)
	}
	return u, nil
}

// RevokeSession is a no-op for empty, unknown or already revoked tokens.
func (s *Service) RevokeSession(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE auth_sessions
		SET revoked_at = $2
		WHERE session_token_hash = $1
		  AND revoked_at IS NULL
	`, hashToken(token), s.now().UTC())
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, role, class_level, child_id, created_at
		FROM users
		WHERE id = $1
	`, id)
	u, err := scanUser(row, nil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

func (s *Service) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, role, class_level, child_id, created_at
		FROM users
		WHERE username = $1
	`, strings.TrimSpace(username))
	u, err := scanUser(row, nil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

// ListUsers returns every account in creation order for the admin dashboard.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, role, class_level, child_id, created_at
		FROM users
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows, nil)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

func scanUser(scanner interface{ Scan(dest ...any) error }, passwordHash *string) (*User, error) {
	var u User
	var classLevel sql.NullString
	var childID sql.NullInt64
	dest := []any{&u.ID, &u.Username, &u.Role, &classLevel, &childID, &u.CreatedAt}
	if passwordHash != nil {
		dest = append(dest, passwordHash)
	}
	if err := scanner.Scan(dest...); err != nil {
		return nil, err
	}
	if classLevel.Valid {
		u.ClassLevel = classLevel.String
	}
	if childID.Valid {
		id := childID.Int64
		u.ChildID = &id
	}
	return &u, nil
}

func (s *Service) isGuardLocked(ctx context.Context, purpose, subjectKey string) (bool, error) {
	var lockedUntil sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT locked_until
		FROM auth_guard_states
		WHERE purpose = $1 AND subject_key = $2
	`, purpose, subjectKey).Scan(&lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if !lockedUntil.Valid {
		return false, nil
	}
	return s.now().Before(lockedUntil.Time), nil
}

func (s *Service) registerFailure(ctx context.Context, purpose, subjectKey string) error {
	now := s.now().UTC()
	var failedCount int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO auth_guard_states (purpose, subject_key, failed_count, updated_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (purpose, subject_key)
		DO UPDATE SET
			failed_count = auth_guard_states.failed_count + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING failed_count
	`, purpose, subjectKey, now).Scan(&failedCount)
	if err != nil {
		return err
	}

	if failedCount >= s.loginMaxFailures {
		_, err = s.db.ExecContext(ctx, `
			UPDATE auth_guard_states
			SET locked_until = $3,
				failed_count = 0,
				updated_at = $4
			WHERE purpose = $1 AND subject_key = $2
		`, purpose, subjectKey, now.Add(s.loginLockDuration), now)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) clearGuard(ctx context.Context, purpose, subjectKey string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM auth_guard_states
		WHERE purpose = $1 AND subject_key = $2
	`, purpose, subjectKey)
	return err
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	case "min":
		return fmt.Errorf("%w: %s must be at least %s characters", ErrInvalidInput, field, fe.Param())
	case "max":
		return fmt.Errorf("%w: %s must be at most %s characters", ErrInvalidInput, field, fe.Param())
	case "oneof":
		return fmt.Errorf("%w: %s must be one of %s", ErrInvalidInput, field, fe.Param())
	default:
		return fmt.Errorf("%w: %s is invalid", ErrInvalidInput, field)
	}
}

func normalizeGuardKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func nullableString(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func generateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
