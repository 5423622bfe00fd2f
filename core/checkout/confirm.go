package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/coursevault/coursevault/api/background"
	"github.com/coursevault/coursevault/core/course"
	"github.com/coursevault/coursevault/core/entitlement"
	"github.com/coursevault/coursevault/core/user"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUnpaid is returned when the collaborator reports the session as
	// unpaid or unknown. The confirmation is terminal: nothing is
	// written.
	ErrUnpaid = errors.New("payment session is not paid")

	// ErrNoPayerEmail is returned when a paid session carries no payer
	// email. Nothing is written, so a redelivery after the provider
	// backfills the email can still succeed.
	ErrNoPayerEmail = errors.New("payment session reports no payer email")
)

// Confirmer runs the confirmation pipeline: verify the session, provision an
// account for guest buyers, record the entitlement and queue the
// confirmation email. Safe to invoke any number of times per payment id.
type Confirmer struct {
	DB       *sqlx.DB
	Verifier Verifier
	Mail     Mailer
	BG       *background.Background
	Log      logrus.FieldLogger
}

// Confirm processes one payment confirmation. Replays return the previously
// recorded entitlement without provisioning a second account or sending a
// second email: the unique payment id on the entitlement insert is the
// boundary that collapses duplicates, including concurrent ones.
func (c *Confirmer) Confirm(ctx context.Context, paymentID string) (entitlement.Entitlement, error) {
	ver, err := c.Verifier.VerifySession(ctx, paymentID)
	if err != nil {
		return entitlement.Entitlement{}, fmt.Errorf("verifying payment[%s]: %w", paymentID, err)
	}

	if !ver.Paid {
		return entitlement.Entitlement{}, fmt.Errorf("payment[%s]: %w", paymentID, ErrUnpaid)
	}

	if ver.Email == "" {
		return entitlement.Entitlement{}, fmt.Errorf("payment[%s]: %w", paymentID, ErrNoPayerEmail)
	}

	// Cheap replay short-circuit; the Record upsert below still guards
	// against the race this check cannot see.
	if prior, err := entitlement.FetchByPaymentID(ctx, c.DB, paymentID); err == nil {
		return prior, nil
	} else if !errors.Is(err, entitlement.ErrNotFound) {
		return entitlement.Entitlement{}, fmt.Errorf("looking up payment[%s]: %w", paymentID, err)
	}

	prov, err := user.Provision(ctx, c.DB, ver.Email, "")
	if err != nil {
		return entitlement.Entitlement{}, fmt.Errorf("provisioning account for payment[%s]: %w", paymentID, err)
	}

	rec, err := entitlement.Record(ctx, c.DB, prov.User.ID, ver.CourseID, paymentID, ver.Amount)
	if err != nil {
		return entitlement.Entitlement{}, fmt.Errorf("recording payment[%s]: %w", paymentID, err)
	}

	// The caller that provisioned the account notifies even when it lost
	// the record race to a concurrent confirmation: the generated
	// credential exists only here, and skipping would drop it. At worst
	// the buyer gets the confirmation twice.
	if rec.Existing && !prov.Created {
		return rec.Entitlement, nil
	}

	c.notify(ctx, prov, rec.Entitlement)

	return rec.Entitlement, nil
}

// notify queues the confirmation email. The entitlement is already
// committed, so any failure here is logged and dropped; the buyer can still
// sign in and fetch the download link.
func (c *Confirmer) notify(ctx context.Context, prov user.Provisioned, e entitlement.Entitlement) {
	crs, err := course.Fetch(ctx, c.DB, e.CourseID)
	if err != nil {
		c.Log.Errorf("confirmation email for payment[%s] skipped: %v", e.PaymentID, err)
		return
	}

	to := prov.User.Email
	name := crs.Name
	amount := e.Amount
	password := prov.Password

	c.BG.Add(func() error {
		return c.Mail.SendPurchase(to, name, amount, password)
	})
}
