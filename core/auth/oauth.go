package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/coursevault/coursevault/api/web"
	"github.com/coursevault/coursevault/api/weberr"
	"github.com/coursevault/coursevault/core/claims"
	"github.com/coursevault/coursevault/core/user"
	"github.com/coursevault/coursevault/random"
	"github.com/coursevault/coursevault/validate"
	"github.com/jmoiron/sqlx"
	"golang.org/x/oauth2"
)

type ProviderConfig struct {
	Name        string
	Client      string
	Secret      string
	URL         string
	RedirectURL string
}

type Provider struct {
	Name     string
	Config   *oauth2.Config
	Verifier *oidc.IDTokenVerifier
}

// MakeProviders discovers each configured oidc issuer and prepares its
// oauth2 exchange and token verifier.
func MakeProviders(ctx context.Context, cfgs []ProviderConfig) (map[string]Provider, error) {
	provs := make(map[string]Provider, len(cfgs))

	for _, cfg := range cfgs {
		if cfg.Client == "" {
			continue
		}

		p, err := oidc.NewProvider(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("discovering provider %s: %w", cfg.Name, err)
		}

		provs[cfg.Name] = Provider{
			Name: cfg.Name,
			Config: &oauth2.Config{
				ClientID:     cfg.Client,
				ClientSecret: cfg.Secret,
				Endpoint:     p.Endpoint(),
				RedirectURL:  cfg.RedirectURL,
				Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
			},
			Verifier: p.Verifier(&oidc.Config{ClientID: cfg.Client}),
		}
	}

	return provs, nil
}

func HandleOauthLogin(session *scs.SessionManager, provs map[string]Provider) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		prov, ok := provs[web.Param(r, "provider")]
		if !ok {
			return weberr.NotFound(errors.New("unknown oauth provider"))
		}

		state, err := random.StringSecure(32)
		if err != nil {
			return fmt.Errorf("generating oauth state: %w", err)
		}

		session.Put(ctx, stateKey, state)

		http.Redirect(w, r, prov.Config.AuthCodeURL(state), http.StatusTemporaryRedirect)
		return nil
	}
}

func HandleOauthCallback(db *sqlx.DB, session *scs.SessionManager, provs map[string]Provider, redirectURL string) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		prov, ok := provs[web.Param(r, "provider")]
		if !ok {
			return weberr.NotFound(errors.New("unknown oauth provider"))
		}

		state := session.PopString(ctx, stateKey)
		if state == "" || state != r.URL.Query().Get("state") {
			return weberr.BadRequest(errors.New("oauth state mismatch"))
		}

		tok, err := prov.Config.Exchange(ctx, r.URL.Query().Get("code"))
		if err != nil {
			return weberr.BadRequest(fmt.Errorf("exchanging oauth code: %w", err))
		}

		rawID, ok := tok.Extra("id_token").(string)
		if !ok {
			return weberr.BadRequest(errors.New("oauth token carries no id_token"))
		}

		idTok, err := prov.Verifier.Verify(ctx, rawID)
		if err != nil {
			return weberr.BadRequest(fmt.Errorf("verifying id token: %w", err))
		}

		var identity struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		}
		if err := idTok.Claims(&identity); err != nil {
			return fmt.Errorf("decoding id token claims: %w", err)
		}

		u, err := user.FetchByIdentity(ctx, db, prov.Name, idTok.Subject)
		switch {
		case err == nil:

		case errors.Is(err, user.ErrNotFound):
			now := time.Now().UTC()
			u = user.User{
				ID:         validate.GenerateID(),
				Name:       identity.Name,
				Email:      identity.Email,
				Role:       claims.RoleUser,
				Credential: user.FederatedIdentity{Provider: prov.Name, Subject: idTok.Subject},
				CreatedAt:  now,
				UpdatedAt:  now,
			}

			if err := user.Create(ctx, db, u); err != nil {
				if errors.Is(err, user.ErrEmailTaken) {
					return weberr.NewError(err, "an account with this email already exists", http.StatusConflict)
				}
				return fmt.Errorf("creating federated user: %w", err)
			}

		default:
			return fmt.Errorf("fetching user by identity: %w", err)
		}

		if err := login(ctx, session, u.ID, u.Role); err != nil {
			return fmt.Errorf("binding session: %w", err)
		}

		http.Redirect(w, r, redirectURL, http.StatusTemporaryRedirect)
		return nil
	}
}
