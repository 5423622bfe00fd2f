// Package entitlement is the authoritative record of who owns which course.
// A row exists per confirmed payment; the payment id is unique, which is the
// single idempotency boundary of the purchase pipeline.
package entitlement

import "time"

type Status string

const (
	Pending   Status = "pending"
	Completed Status = "completed"
	Failed    Status = "failed"
	Refunded  Status = "refunded"
)

type Entitlement struct {
	ID        string    `json:"id" db:"entitlement_id"`
	UserID    string    `json:"userId" db:"user_id"`
	CourseID  string    `json:"courseId" db:"course_id"`
	PaymentID string    `json:"-" db:"payment_id"`
	Amount    int64     `json:"amount" db:"amount"`
	Status    Status    `json:"status" db:"status"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
