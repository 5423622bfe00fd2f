// Package checkout turns a confirmed payment into a durable entitlement.
// The payment provider owns the checkout UI; this package only creates
// sessions and consumes their confirmations.
package checkout

import (
	"context"
	"net/http"

	"github.com/coursevault/coursevault/api/weberr"
	"github.com/coursevault/coursevault/validate"
)

// CheckoutNew starts a checkout for one course. Email is required when no
// session is present (guest checkout) and ignored otherwise.
type CheckoutNew struct {
	CourseID string `json:"courseId" validate:"required"`
	Email    string `json:"email" validate:"omitempty,email"`
}

// Verification is what the payment collaborator reports about a session.
// Amount is in cents. CourseID travels through the provider as metadata so
// the confirmation is self-contained.
type Verification struct {
	Paid     bool
	Amount   int64
	Email    string
	CourseID string
}

// Verifier confirms with the payment collaborator that a session was
// genuinely paid. Implementations must be safe to call repeatedly for the
// same session, since providers redeliver confirmations.
type Verifier interface {
	VerifySession(ctx context.Context, paymentID string) (Verification, error)
}

// Mailer is the transactional email collaborator. Delivery is best effort:
// a failure never affects the recorded purchase. The password argument is
// the one-time plaintext credential of a freshly provisioned guest account,
// empty otherwise.
type Mailer interface {
	SendPurchase(to string, courseName string, amount int64, password string) error
}

func validateCheckout(cn CheckoutNew) error {
	if err := validate.Check(cn); err != nil {
		return weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
	}
	return nil
}
