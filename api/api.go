package api

import (
	"context"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/coursevault/coursevault/api/background"
	"github.com/coursevault/coursevault/api/middleware"
	"github.com/coursevault/coursevault/api/web"
	"github.com/coursevault/coursevault/config"
	"github.com/coursevault/coursevault/core/asset"
	"github.com/coursevault/coursevault/core/auth"
	"github.com/coursevault/coursevault/core/checkout"
	"github.com/coursevault/coursevault/core/course"
	"github.com/coursevault/coursevault/core/entitlement"
	"github.com/coursevault/coursevault/core/user"
	"github.com/coursevault/coursevault/rate"
	"github.com/coursevault/coursevault/storage"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/plutov/paypal/v4"
	"github.com/sirupsen/logrus"
	stripecl "github.com/stripe/stripe-go/v74/client"
)

type APIConfig struct {
	CorsOrigin       string
	Log              logrus.FieldLogger
	DB               *sqlx.DB
	Session          *scs.SessionManager
	Mailer           checkout.Mailer
	Background       *background.Background
	Paypal           *paypal.Client
	Stripe           *stripecl.API
	StripeCfg        config.Stripe
	Storage          storage.Gateway
	UploadCfg        config.Upload
	DownloadTTL      time.Duration
	Providers        map[string]auth.Provider
	LoginRedirectURL string
}

type api struct {
	*mux.Router
	mw  []web.Middleware
	log logrus.FieldLogger
}

func APIMux(cfg APIConfig) http.Handler {
	a := &api{
		Router: mux.NewRouter(),
		log:    cfg.Log,
	}

	a.mw = append(a.mw, auth.LoadAndSave(cfg.Session))
	a.mw = append(a.mw, middleware.RequestID())
	a.mw = append(a.mw, middleware.Logger(cfg.Log))
	a.mw = append(a.mw, middleware.Errors(cfg.Log))
	a.mw = append(a.mw, middleware.Panics())

	if cfg.CorsOrigin != "" {
		a.mw = append(a.mw, middleware.Cors(cfg.CorsOrigin))

		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			w.WriteHeader(http.StatusNoContent)
			return nil
		}

		a.Handle(http.MethodOptions, "/{path:.*}", h)
	}

	authen := auth.Authenticate(cfg.Session)
	admin := auth.Admin(cfg.Session)

	// Credential-bearing and link-minting endpoints get a per-client
	// budget.
	limited := middleware.RateLimit(rate.NewLimiter(15, 5, 10))

	a.Handle(http.MethodPost, "/auth/signup", auth.HandleSignup(cfg.DB, cfg.Session), limited)
	a.Handle(http.MethodPost, "/auth/login", auth.HandleLogin(cfg.DB, cfg.Session), limited)
	a.Handle(http.MethodPost, "/auth/logout", auth.HandleLogout(cfg.Session))
	a.Handle(http.MethodGet, "/auth/oauth-login/{provider}", auth.HandleOauthLogin(cfg.Session, cfg.Providers))
	a.Handle(http.MethodGet, "/auth/oauth-callback/{provider}", auth.HandleOauthCallback(cfg.DB, cfg.Session, cfg.Providers, cfg.LoginRedirectURL))

	a.Handle(http.MethodGet, "/users/current", user.HandleShowCurrent(cfg.DB), authen)

	sel := asset.Selector{Threshold: cfg.UploadCfg.ProxyThreshold, HardCap: cfg.UploadCfg.HardCap}

	a.Handle(http.MethodGet, "/courses/owned", course.HandleListOwned(cfg.DB), authen)
	a.Handle(http.MethodGet, "/courses/{id}/download", asset.HandleDownload(cfg.DB, cfg.Storage, cfg.DownloadTTL), authen, limited)
	a.Handle(http.MethodPost, "/courses/{id}/asset/uploads", asset.HandlePlanUpload(cfg.DB, cfg.Storage, sel), admin)
	a.Handle(http.MethodPut, "/courses/{id}/asset", asset.HandleProxyUpload(cfg.DB, cfg.Storage, sel), admin)
	a.Handle(http.MethodPost, "/courses/{id}/asset/complete", asset.HandleCompleteUpload(cfg.DB), admin)
	a.Handle(http.MethodGet, "/courses/{id}", course.HandleShow(cfg.DB))
	a.Handle(http.MethodGet, "/courses", course.HandleList(cfg.DB))
	a.Handle(http.MethodPost, "/courses", course.HandleCreate(cfg.DB), admin)
	a.Handle(http.MethodPut, "/courses/{id}", course.HandleUpdate(cfg.DB), admin)

	a.Handle(http.MethodGet, "/entitlements", entitlement.HandleListOwn(cfg.DB), authen)

	stripeConfirm := &checkout.Confirmer{
		DB:       cfg.DB,
		Verifier: &checkout.StripeVerifier{Client: cfg.Stripe},
		Mail:     cfg.Mailer,
		BG:       cfg.Background,
		Log:      cfg.Log,
	}

	paypalConfirm := &checkout.Confirmer{
		DB:       cfg.DB,
		Verifier: &checkout.PaypalVerifier{Client: cfg.Paypal},
		Mail:     cfg.Mailer,
		BG:       cfg.Background,
		Log:      cfg.Log,
	}

	a.Handle(http.MethodPost, "/checkout/stripe", checkout.HandleStripeCheckout(cfg.DB, cfg.Stripe, cfg.StripeCfg))
	a.Handle(http.MethodPost, "/checkout/stripe/capture", checkout.HandleStripeWebhook(cfg.StripeCfg, stripeConfirm))
	a.Handle(http.MethodPost, "/checkout/paypal", checkout.HandlePaypalCheckout(cfg.DB, cfg.Paypal))
	a.Handle(http.MethodPost, "/checkout/paypal/{id}/capture", checkout.HandlePaypalCapture(paypalConfirm))

	return a.Router
}

func (a *api) Handle(method string, path string, handler web.Handler, mw ...web.Middleware) {

	handler = web.WrapMiddleware(mw, handler)

	handler = web.WrapMiddleware(a.mw, handler)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		ctx := r.Context()

		if err := handler(ctx, w, r); err != nil {

			a.log.WithFields(logrus.Fields{
				"req_id":  middleware.ContextRequestID(ctx),
				"message": err,
			}).Error("ERROR")
		}
	})

	a.Router.Handle(path, h).Methods(method)
}
