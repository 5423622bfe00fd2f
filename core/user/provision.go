package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coursevault/coursevault/core/claims"
	"github.com/coursevault/coursevault/random"
	"github.com/coursevault/coursevault/validate"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
)

// Guest credentials are generated, not chosen, so they carry enough entropy
// to be mailed as-is.
const guestPasswordLength = 16

// Provisioned is the outcome of a guest provisioning attempt. Password holds
// the plaintext credential exactly once, on the call that created the
// account; it is never stored and must never be logged.
type Provisioned struct {
	User     User
	Password string
	Created  bool
}

// Provision returns the account for the email, creating one with a generated
// credential when none exists. Calling it twice for the same email returns
// the same account, which is what keeps the payment confirmation pipeline
// idempotent. Two concurrent calls are safe: the loser of the insert race
// fetches the winner's account.
func Provision(ctx context.Context, db *sqlx.DB, email string, name string) (Provisioned, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	// Payment providers may omit the payer email entirely; without one
	// there is no account to attach the purchase to.
	local, _, found := strings.Cut(email, "@")
	if !found || local == "" {
		return Provisioned{}, fmt.Errorf("%q is not a usable email address", email)
	}

	u, err := FetchByEmail(ctx, db, email)
	if err == nil {
		return Provisioned{User: u}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Provisioned{}, fmt.Errorf("looking up account for %s: %w", email, err)
	}

	pass, err := random.StringSecure(guestPasswordLength)
	if err != nil {
		return Provisioned{}, fmt.Errorf("generating guest credential: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
	if err != nil {
		return Provisioned{}, fmt.Errorf("hashing guest credential: %w", err)
	}

	if name == "" {
		name = local
	}

	now := time.Now().UTC()
	u = User{
		ID:         validate.GenerateID(),
		Name:       name,
		Email:      email,
		Role:       claims.RoleUser,
		Credential: LocalCredential{Hash: hash},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := Create(ctx, db, u); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			// Lost the race; the winner's account is the account.
			u, err := FetchByEmail(ctx, db, email)
			if err != nil {
				return Provisioned{}, fmt.Errorf("fetching account after losing provisioning race: %w", err)
			}
			return Provisioned{User: u}, nil
		}
		return Provisioned{}, fmt.Errorf("creating guest account: %w", err)
	}

	return Provisioned{User: u, Password: pass, Created: true}, nil
}
