package entitlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/coursevault/coursevault/validate"
	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("entitlement not found")

// Recorded reports the outcome of Record. Existing is true when the payment
// id had already been written, letting callers skip provisioning and
// notification on replayed confirmations.
type Recorded struct {
	Entitlement Entitlement
	Existing    bool
}

// Record writes the entitlement for a confirmed payment, or returns the
// existing one when the payment id was already recorded. The insert and the
// fallback read ride on the unique constraint, so two concurrent callers for
// the same payment serialize there: exactly one row is ever created.
func Record(ctx context.Context, db sqlx.ExtContext, userID, courseID, paymentID string, amount int64) (Recorded, error) {
	now := time.Now().UTC()
	e := Entitlement{
		ID:        validate.GenerateID(),
		UserID:    userID,
		CourseID:  courseID,
		PaymentID: paymentID,
		Amount:    amount,
		Status:    Completed,
		CreatedAt: now,
		UpdatedAt: now,
	}

	const q = `
	INSERT INTO entitlement
		(entitlement_id, user_id, course_id, payment_id, amount, status,
		created_at, updated_at)
	VALUES
		(:entitlement_id, :user_id, :course_id, :payment_id, :amount, :status,
		:created_at, :updated_at)
	ON CONFLICT (payment_id) DO NOTHING`

	res, err := sqlx.NamedExecContext(ctx, db, q, e)
	if err != nil {
		return Recorded{}, fmt.Errorf("recording purchase for payment[%s]: %w", paymentID, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		prior, err := FetchByPaymentID(ctx, db, paymentID)
		if err != nil {
			return Recorded{}, fmt.Errorf("fetching prior entitlement for payment[%s]: %w", paymentID, err)
		}
		return Recorded{Entitlement: prior, Existing: true}, nil
	}

	return Recorded{Entitlement: e}, nil
}

func FetchByPaymentID(ctx context.Context, db sqlx.ExtContext, paymentID string) (Entitlement, error) {
	const q = `SELECT * FROM entitlement WHERE payment_id = $1`

	var e Entitlement
	if err := sqlx.GetContext(ctx, db, &e, q, paymentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entitlement{}, ErrNotFound
		}
		return Entitlement{}, fmt.Errorf("selecting entitlement for payment[%s]: %w", paymentID, err)
	}

	return e, nil
}

// HasCompleted is the access-control check consulted before minting any
// download link. Only the completed status grants access; pending, failed
// and refunded all deny.
func HasCompleted(ctx context.Context, db sqlx.ExtContext, userID, courseID string) (bool, error) {
	const q = `
	SELECT EXISTS (
		SELECT 1 FROM entitlement
		WHERE user_id = $1 AND course_id = $2 AND status = 'completed'
	)`

	var owns bool
	if err := sqlx.GetContext(ctx, db, &owns, q, userID, courseID); err != nil {
		return false, fmt.Errorf("checking entitlement of user[%s] on course[%s]: %w", userID, courseID, err)
	}

	return owns, nil
}

func ListForUser(ctx context.Context, db sqlx.ExtContext, userID string) ([]Entitlement, error) {
	const q = `SELECT * FROM entitlement WHERE user_id = $1 ORDER BY created_at`

	es := []Entitlement{}
	if err := sqlx.SelectContext(ctx, db, &es, q, userID); err != nil {
		return nil, fmt.Errorf("selecting entitlements of user[%s]: %w", userID, err)
	}

	return es, nil
}

// SetStatus moves an entitlement to a new status. Used by the back office
// for refunds; the pipeline itself only ever inserts completed rows.
func SetStatus(ctx context.Context, db sqlx.ExtContext, id string, status Status) error {
	const q = `UPDATE entitlement SET status = $2, updated_at = $3 WHERE entitlement_id = $1`

	res, err := db.ExecContext(ctx, q, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("updating entitlement[%s] status: %w", id, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	return nil
}
