package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coursevault/coursevault/api/web"
	"github.com/coursevault/coursevault/api/weberr"
	"github.com/jmoiron/sqlx"
	"github.com/plutov/paypal/v4"
)

// PaypalVerifier confirms an order with paypal. Orders are captured on first
// verification; replays observe the already-completed order and read the
// same result back.
type PaypalVerifier struct {
	Client *paypal.Client
}

func (v *PaypalVerifier) VerifySession(ctx context.Context, paymentID string) (Verification, error) {
	ord, err := v.Client.GetOrder(ctx, paymentID)
	if err != nil {
		return Verification{}, fmt.Errorf("fetching paypal order[%s]: %w", paymentID, err)
	}

	if ord.Status == "APPROVED" {
		if _, err := v.Client.CaptureOrder(ctx, paymentID, paypal.CaptureOrderRequest{}); err != nil {
			return Verification{}, fmt.Errorf("capturing paypal order[%s]: %w", paymentID, err)
		}

		if ord, err = v.Client.GetOrder(ctx, paymentID); err != nil {
			return Verification{}, fmt.Errorf("fetching captured paypal order[%s]: %w", paymentID, err)
		}
	}

	ver := Verification{Paid: ord.Status == "COMPLETED"}
	if !ver.Paid {
		return ver, nil
	}

	if len(ord.PurchaseUnits) != 1 {
		return Verification{}, fmt.Errorf("paypal order[%s] has %d purchase units, expected 1", paymentID, len(ord.PurchaseUnits))
	}

	unit := ord.PurchaseUnits[0]
	ver.CourseID = unit.ReferenceID

	if unit.Amount != nil {
		amount, err := parseAmount(unit.Amount.Value)
		if err != nil {
			return Verification{}, fmt.Errorf("paypal order[%s]: %w", paymentID, err)
		}
		ver.Amount = amount
	}

	if ord.Payer != nil {
		ver.Email = ord.Payer.EmailAddress
	}

	return ver, nil
}

// parseAmount converts the provider's decimal money string to cents.
func parseAmount(v string) (int64, error) {
	whole, frac, _ := strings.Cut(v, ".")

	dollars, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed amount %q", v)
	}

	var cents int64
	if frac != "" {
		if len(frac) > 2 {
			frac = frac[:2]
		}
		for len(frac) < 2 {
			frac += "0"
		}
		if cents, err = strconv.ParseInt(frac, 10, 64); err != nil {
			return 0, fmt.Errorf("malformed amount %q", v)
		}
	}

	return dollars*100 + cents, nil
}

func formatAmount(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

func HandlePaypalCheckout(db *sqlx.DB, pp *paypal.Client) web.Handler {
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

		if _, err := buyerEmail(ctx, db, cn.Email); err != nil {
			return err
		}

		sale := c.SaleAt(time.Now().UTC())
		value := formatAmount(sale.EffectivePrice)

		units := []paypal.PurchaseUnitRequest{{
			ReferenceID: c.ID,

			Items: []paypal.Item{{
				Quantity:    "1",
				Name:        c.Name,
				Description: c.Description,

				UnitAmount: &paypal.Money{
					Currency: "USD",
					Value:    value,
				},
			}},

			Amount: &paypal.PurchaseUnitAmount{
				Currency: "USD",
				Value:    value,

				Breakdown: &paypal.PurchaseUnitAmountBreakdown{ItemTotal: &paypal.Money{
					Currency: "USD",
					Value:    value,
				}},
			},
		}}

		ord, err := pp.CreateOrder(ctx, "CAPTURE", units, nil, &paypal.ApplicationContext{})
		if err != nil {
			return fmt.Errorf("creating paypal order: %w", err)
		}

		return web.Respond(ctx, w, ord, http.StatusOK)
	}
}

func HandlePaypalCapture(cf *Confirmer) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		providerID := web.Param(r, "id")

		if _, err := cf.Confirm(ctx, providerID); err != nil {
			if errors.Is(err, ErrUnpaid) {
				return weberr.Unprocessable(err)
			}
			return fmt.Errorf("the order was payed but its confirmation failed: %w", err)
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}
