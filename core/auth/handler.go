package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/coursevault/coursevault/api/web"
	"github.com/coursevault/coursevault/api/weberr"
	"github.com/coursevault/coursevault/core/claims"
	"github.com/coursevault/coursevault/core/user"
	"github.com/coursevault/coursevault/validate"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
)

func HandleSignup(db *sqlx.DB, session *scs.SessionManager) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var us user.UserSignup
		if err := web.Decode(w, r, &us); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(us); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(us.Password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hashing password: %w", err)
		}

		now := time.Now().UTC()
		u := user.User{
			ID:         validate.GenerateID(),
			Name:       us.Name,
			Email:      us.Email,
			Role:       claims.RoleUser,
			Credential: user.LocalCredential{Hash: hash},
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		if err := user.Create(ctx, db, u); err != nil {
			if errors.Is(err, user.ErrEmailTaken) {
				return weberr.NewError(err, err.Error(), http.StatusConflict)
			}
			return fmt.Errorf("creating user: %w", err)
		}

		if err := login(ctx, session, u.ID, u.Role); err != nil {
			return fmt.Errorf("binding session: %w", err)
		}

		return web.Respond(ctx, w, u, http.StatusCreated)
	}
}

func HandleLogin(db *sqlx.DB, session *scs.SessionManager) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var ul user.UserLogin
		if err := web.Decode(w, r, &ul); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(ul); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
		}

		u, err := user.FetchByEmail(ctx, db, ul.Email)
		if err != nil {
			if errors.Is(err, user.ErrNotFound) {
				return weberr.NotAuthorized(err)
			}
			return fmt.Errorf("fetching user by email: %w", err)
		}

		switch cred := u.Credential.(type) {
		case user.LocalCredential:
			if err := bcrypt.CompareHashAndPassword(cred.Hash, []byte(ul.Password)); err != nil {
				return weberr.NotAuthorized(errors.New("wrong credentials"))
			}

		case user.FederatedIdentity:
			err := fmt.Errorf("account is registered through %s", cred.Provider)
			return weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)

		default:
			return fmt.Errorf("user[%s] has credential of unknown kind %T", u.ID, u.Credential)
		}

		if err := login(ctx, session, u.ID, u.Role); err != nil {
			return fmt.Errorf("binding session: %w", err)
		}

		return web.Respond(ctx, w, u, http.StatusOK)
	}
}

func HandleLogout(session *scs.SessionManager) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		if err := session.Destroy(ctx); err != nil {
			return fmt.Errorf("destroying session: %w", err)
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}
