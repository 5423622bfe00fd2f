package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/coursevault/coursevault/api/web"
	"github.com/coursevault/coursevault/api/weberr"
	"github.com/coursevault/coursevault/config"
	"github.com/coursevault/coursevault/core/claims"
	"github.com/coursevault/coursevault/core/course"
	"github.com/coursevault/coursevault/core/user"
	"github.com/coursevault/coursevault/validate"
	"github.com/jmoiron/sqlx"
	"github.com/stripe/stripe-go/v74"
	stripecl "github.com/stripe/stripe-go/v74/client"
	"github.com/stripe/stripe-go/v74/webhook"
)

// courseIDKey is the metadata key carrying the purchased course through the
// provider's session round-trip.
const courseIDKey = "course_id"

// StripeVerifier reads a checkout session back from stripe to confirm it
// was paid. Reading is idempotent, so redelivered webhooks are harmless.
type StripeVerifier struct {
	Client *stripecl.API
}

func (v *StripeVerifier) VerifySession(ctx context.Context, paymentID string) (Verification, error) {
	s, err := v.Client.CheckoutSessions.Get(paymentID, nil)
	if err != nil {
		return Verification{}, fmt.Errorf("fetching stripe session[%s]: %w", paymentID, err)
	}

	email := s.CustomerEmail
	if s.CustomerDetails != nil && s.CustomerDetails.Email != "" {
		email = s.CustomerDetails.Email
	}

	return Verification{
		Paid:     s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		Amount:   s.AmountTotal,
		Email:    email,
		CourseID: s.Metadata[courseIDKey],
	}, nil
}

// buyerEmail resolves who is paying: the signed-in account's email, or the
// address a guest provided with the request.
func buyerEmail(ctx context.Context, db *sqlx.DB, provided string) (string, error) {
	if clm, err := claims.Get(ctx); err == nil {
		u, err := user.Fetch(ctx, db, clm.UserID)
		if err != nil {
			return "", fmt.Errorf("fetching buyer account: %w", err)
		}
		return u.Email, nil
	}

	if provided == "" {
		err := errors.New("an email is required for guest checkout")
		return "", weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
	}

	return provided, nil
}

// sellableCourse loads the course and rejects checkouts for courses whose
// asset pipeline has not even started.
func sellableCourse(ctx context.Context, db *sqlx.DB, id string) (course.Course, error) {
	if err := validate.CheckID(id); err != nil {
		return course.Course{}, weberr.BadRequest(err)
	}

	c, err := course.Fetch(ctx, db, id)
	if err != nil {
		if errors.Is(err, course.ErrNotFound) {
			return course.Course{}, weberr.NotFound(err)
		}
		return course.Course{}, fmt.Errorf("fetching course[%s]: %w", id, err)
	}

	if !c.Sellable() {
		err := errors.New("the course is not available for purchase")
		return course.Course{}, weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
	}

	return c, nil
}

func HandleStripeCheckout(db *sqlx.DB, strp *stripecl.API, cfg config.Stripe) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var cn CheckoutNew
		if err := web.Decode(w, r, &cn); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validateCheckout(cn); err != nil {
			return err
		}

		c, err := sellableCourse(ctx, db, cn.CourseID)
		if err != nil {
			return err
		}

		email, err := buyerEmail(ctx, db, cn.Email)
		if err != nil {
			return err
		}

		sale := c.SaleAt(time.Now().UTC())

		params := &stripe.CheckoutSessionParams{
			SuccessURL:    stripe.String(cfg.SuccessURL),
			CancelURL:     stripe.String(cfg.CancelURL),
			Mode:          stripe.String(string(stripe.CheckoutSessionModePayment)),
			CustomerEmail: stripe.String(email),

			LineItems: []*stripe.CheckoutSessionLineItemParams{{
				Quantity: stripe.Int64(1),

				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:    stripe.String("usd"),
					TaxBehavior: stripe.String("inclusive"),
					UnitAmount:  stripe.Int64(sale.EffectivePrice),

					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(c.Name),
						Description: stripe.String(c.Description),
					},
				},
			}},
		}
		params.AddMetadata(courseIDKey, c.ID)

		s, err := strp.CheckoutSessions.New(params)
		if err != nil {
			return fmt.Errorf("creating stripe session: %w", err)
		}

		return web.Respond(ctx, w, s.URL, http.StatusOK)
	}
}

func HandleStripeWebhook(cfg config.Stripe, cf *Confirmer) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return weberr.BadRequest(fmt.Errorf("cannot read the request body: %w", err))
		}

		sig := r.Header.Get("Stripe-Signature")
		if sig == "" {
			return weberr.BadRequest(errors.New("received stripe event is not signed"))
		}

		event, err := webhook.ConstructEvent(b, sig, cfg.WebhookSecret)
		if err != nil {
			return weberr.BadRequest(fmt.Errorf("cannot construct stripe event: %w", err))
		}

		if event.Type != "checkout.session.completed" {
			return web.Respond(ctx, w, nil, http.StatusNoContent)
		}

		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode stripe event: %w", err))
		}

		if session.Mode != stripe.CheckoutSessionModePayment {
			return web.Respond(ctx, w, nil, http.StatusNoContent)
		}

		if _, err := cf.Confirm(ctx, session.ID); err != nil {
			if errors.Is(err, ErrUnpaid) {
				return weberr.Unprocessable(err)
			}
			return fmt.Errorf("the session completed but its confirmation failed: %w", err)
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}
