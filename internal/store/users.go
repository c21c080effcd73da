package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/MrEthical07/authbroker"
	"github.com/MrEthical07/authbroker/internal/logger"
)

var userColumns = []string{
	"id", "email", "password_hash", "email_verified",
	"mfa_active", "mfa_secret", "created_at", "updated_at",
}

// Users is the Postgres-backed authbroker.UserStore.
type Users struct {
	db  *sql.DB
	log *logger.Logger
	sb  sq.StatementBuilderType
}

var _ authbroker.UserStore = (*Users)(nil)

// NewUsers returns a user store over db.
func NewUsers(db *sql.DB, log *logger.Logger) *Users {
	if log == nil {
		log = logger.Nop()
	}
	return &Users{
		db:  db,
		log: log,
		sb:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (u *Users) GetByEmail(ctx context.Context, email string) (*authbroker.User, error) {
	return u.getOne(ctx, sq.Eq{"email": strings.ToLower(email)})
}

func (u *Users) GetByID(ctx context.Context, id string) (*authbroker.User, error) {
	return u.getOne(ctx, sq.Eq{"id": id})
}

func (u *Users) getOne(ctx context.Context, where sq.Eq) (*authbroker.User, error) {
	query, args, err := u.sb.Select(userColumns...).From("users").Where(where).Limit(1).ToSql()
	if err != nil {
		return nil, err
	}

	var user authbroker.User
	err = u.db.QueryRowContext(ctx, query, args...).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.EmailVerified,
		&user.MFAActive, &user.MFASecret, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authbroker.ErrUserNotFound
	}
	if err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*Users.getOne").Msg("select user failed")
		return nil, fmt.Errorf("%w: %v", authbroker.ErrStoreUnavailable, err)
	}
	return &user, nil
}

// Create inserts user, assigning an ID when empty. CreatedAt and UpdatedAt are
// filled from the database.
func (u *Users) Create(ctx context.Context, user *authbroker.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.Email = strings.ToLower(user.Email)

	query, args, err := u.sb.Insert("users").
		Columns("id", "email", "password_hash", "email_verified", "mfa_active", "mfa_secret").
		Values(user.ID, user.Email, user.PasswordHash, user.EmailVerified, user.MFAActive, user.MFASecret).
		Suffix("RETURNING created_at, updated_at").
		ToSql()
	if err != nil {
		return err
	}

	err = u.db.QueryRowContext(ctx, query, args...).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return authbroker.ErrUserExists
		}
		logger.FromContext(ctx).Err(err).Str("func", "*Users.Create").Msg("insert user failed")
		return fmt.Errorf("%w: %v", authbroker.ErrStoreUnavailable, err)
	}
	return nil
}

func (u *Users) SetPasswordHash(ctx context.Context, userID, hash string) error {
	return u.update(ctx, userID, map[string]any{"password_hash": hash})
}

func (u *Users) SetEmailVerified(ctx context.Context, userID string, verified bool) error {
	return u.update(ctx, userID, map[string]any{"email_verified": verified})
}

func (u *Users) SetMFA(ctx context.Context, userID, secret string, active bool) error {
	return u.update(ctx, userID, map[string]any{"mfa_secret": secret, "mfa_active": active})
}

func (u *Users) update(ctx context.Context, userID string, fields map[string]any) error {
	query, args, err := u.sb.Update("users").
		SetMap(fields).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": userID}).
		ToSql()
	if err != nil {
		return err
	}

	res, err := u.db.ExecContext(ctx, query, args...)
	if err != nil {
		logger.FromContext(ctx).Err(err).Str("func", "*Users.update").Msg("update user failed")
		return fmt.Errorf("%w: %v", authbroker.ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", authbroker.ErrStoreUnavailable, err)
	}
	if n == 0 {
		return authbroker.ErrUserNotFound
	}
	return nil
}
