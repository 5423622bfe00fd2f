package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/coursevault/coursevault/api/web"
	"github.com/coursevault/coursevault/api/weberr"
	"github.com/coursevault/coursevault/core/claims"
)

const (
	userIDKey = "user_id"
	roleKey   = "role"
	stateKey  = "oauth_state"
)

// LoadAndSave adapts the session manager to the handler chain and promotes
// the session's identity into context claims.
func LoadAndSave(session *scs.SessionManager) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			var err error

			sh := session.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctx := r.Context()

				if uid := session.GetString(ctx, userIDKey); uid != "" {
					ctx = claims.Set(ctx, claims.Claims{
						UserID: uid,
						Role:   session.GetString(ctx, roleKey),
					})
				}

				err = handler(ctx, w, r)
			}))

			sh.ServeHTTP(w, r)
			return err
		}
		return h
	}
	return m
}

// Authenticate rejects requests without a signed-in user.
func Authenticate(session *scs.SessionManager) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			if _, err := claims.Get(ctx); err != nil {
				return weberr.NotAuthorized(errors.New("user not authenticated"))
			}

			return handler(ctx, w, r)
		}
		return h
	}
	return m
}

// Admin rejects requests from anyone but back-office users.
func Admin(session *scs.SessionManager) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			if !claims.IsAdmin(ctx) {
				return weberr.Forbidden(errors.New("user is not an administrator"))
			}

			return handler(ctx, w, r)
		}
		return h
	}
	return m
}

// login binds the session to the user, rotating the token to prevent
// fixation.
func login(ctx context.Context, session *scs.SessionManager, userID string, role string) error {
	if err := session.RenewToken(ctx); err != nil {
		return err
	}

	session.Put(ctx, userIDKey, userID)
	session.Put(ctx, roleKey, role)
	return nil
}
