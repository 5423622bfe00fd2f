package entitlement

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coursevault/coursevault/api/web"
	"github.com/coursevault/coursevault/api/weberr"
	"github.com/coursevault/coursevault/core/claims"
	"github.com/jmoiron/sqlx"
)

// HandleListOwn serves the purchase history of the signed-in buyer.
func HandleListOwn(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		es, err := ListForUser(ctx, db, clm.UserID)
		if err != nil {
			return fmt.Errorf("fetching entitlements: %w", err)
		}

		return web.Respond(ctx, w, es, http.StatusOK)
	}
}
