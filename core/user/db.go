package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	ErrNotFound = errors.New("user not found")

	// ErrEmailTaken is returned when an insert loses to a concurrent
	// creation with the same email.
	ErrEmailTaken = errors.New("email already registered")
)

const uniqueViolation = "23505"

// row is the storage shape of a user: the credential variant flattened into
// nullable columns guarded by a db-level check constraint.
type row struct {
	ID            string         `db:"user_id"`
	Name          string         `db:"name"`
	Email         string         `db:"email"`
	Role          string         `db:"role"`
	PasswordHash  sql.NullString `db:"password_hash"`
	OauthProvider sql.NullString `db:"oauth_provider"`
	OauthSubject  sql.NullString `db:"oauth_subject"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
	Version       int            `db:"version"`
}

func (r row) user() (User, error) {
	u := User{
		ID:        r.ID,
		Name:      r.Name,
		Email:     r.Email,
		Role:      r.Role,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Version:   r.Version,
	}

	switch {
	case r.PasswordHash.Valid:
		u.Credential = LocalCredential{Hash: []byte(r.PasswordHash.String)}
	case r.OauthProvider.Valid && r.OauthSubject.Valid:
		u.Credential = FederatedIdentity{Provider: r.OauthProvider.String, Subject: r.OauthSubject.String}
	default:
		return User{}, fmt.Errorf("user[%s] has no credential", r.ID)
	}

	return u, nil
}

func toRow(u User) (row, error) {
	r := row{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
		Version:   u.Version,
	}

	switch c := u.Credential.(type) {
	case LocalCredential:
		r.PasswordHash = sql.NullString{String: string(c.Hash), Valid: true}
	case FederatedIdentity:
		r.OauthProvider = sql.NullString{String: c.Provider, Valid: true}
		r.OauthSubject = sql.NullString{String: c.Subject, Valid: true}
	default:
		return row{}, fmt.Errorf("user[%s] has credential of unknown kind %T", u.ID, u.Credential)
	}

	return r, nil
}

func Create(ctx context.Context, db sqlx.ExtContext, u User) error {
	r, err := toRow(u)
	if err != nil {
		return err
	}

	const q = `
	INSERT INTO users
		(user_id, name, email, role, password_hash, oauth_provider,
		oauth_subject, created_at, updated_at)
	VALUES
		(:user_id, :name, :email, :role, :password_hash, :oauth_provider,
		:oauth_subject, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, r); err != nil {
		var pqe *pq.Error
		if errors.As(err, &pqe) && pqe.Code == uniqueViolation {
			return ErrEmailTaken
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	return nil
}

func Fetch(ctx context.Context, db sqlx.ExtContext, id string) (User, error) {
	const q = `SELECT * FROM users WHERE user_id = $1`
	return fetchOne(ctx, db, q, id)
}

func FetchByEmail(ctx context.Context, db sqlx.ExtContext, email string) (User, error) {
	const q = `SELECT * FROM users WHERE email = $1`
	return fetchOne(ctx, db, q, email)
}

func FetchByIdentity(ctx context.Context, db sqlx.ExtContext, provider string, subject string) (User, error) {
	const q = `SELECT * FROM users WHERE oauth_provider = $1 AND oauth_subject = $2`
	return fetchOne(ctx, db, q, provider, subject)
}

func fetchOne(ctx context.Context, db sqlx.ExtContext, q string, args ...interface{}) (User, error) {
	var r row
	if err := sqlx.GetContext(ctx, db, &r, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("selecting user: %w", err)
	}

	return r.user()
}
