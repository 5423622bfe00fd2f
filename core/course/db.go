package course

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("course not found")

func Create(ctx context.Context, db sqlx.ExtContext, c Course) error {
	const q = `
	INSERT INTO course
		(course_id, name, description, image_url, price, sale_active,
		sale_start, sale_end, discount_percentage, created_at, updated_at)
	VALUES
		(:course_id, :name, :description, :image_url, :price, :sale_active,
		:sale_start, :sale_end, :discount_percentage, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, c); err != nil {
		return fmt.Errorf("inserting course: %w", err)
	}

	return nil
}

func Update(ctx context.Context, db sqlx.ExtContext, c Course) error {
	const q = `
	UPDATE course SET
		name                = :name,
		description         = :description,
		image_url           = :image_url,
		price               = :price,
		sale_active         = :sale_active,
		sale_start          = :sale_start,
		sale_end            = :sale_end,
		discount_percentage = :discount_percentage,
		updated_at          = :updated_at,
		version             = version + 1
	WHERE course_id = :course_id AND version = :version`

	res, err := sqlx.NamedExecContext(ctx, db, q, c)
	if err != nil {
		return fmt.Errorf("updating course[%s]: %w", c.ID, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	return nil
}

func Fetch(ctx context.Context, db sqlx.ExtContext, id string) (Course, error) {
	const q = `SELECT * FROM course WHERE course_id = $1`

	var c Course
	if err := sqlx.GetContext(ctx, db, &c, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Course{}, ErrNotFound
		}
		return Course{}, fmt.Errorf("selecting course[%s]: %w", id, err)
	}

	return c, nil
}

func FetchAll(ctx context.Context, db sqlx.ExtContext) ([]Course, error) {
	const q = `SELECT * FROM course ORDER BY created_at DESC`

	cs := []Course{}
	if err := sqlx.SelectContext(ctx, db, &cs, q); err != nil {
		return nil, fmt.Errorf("selecting courses: %w", err)
	}

	return cs, nil
}

// FetchOwned returns the courses covered by a completed entitlement of the
// user.
func FetchOwned(ctx context.Context, db sqlx.ExtContext, userID string) ([]Course, error) {
	const q = `
	SELECT course.* FROM course
	JOIN entitlement ON entitlement.course_id = course.course_id
	WHERE entitlement.user_id = $1 AND entitlement.status = 'completed'
	ORDER BY entitlement.created_at`

	cs := []Course{}
	if err := sqlx.SelectContext(ctx, db, &cs, q, userID); err != nil {
		return nil, fmt.Errorf("selecting courses owned by user[%s]: %w", userID, err)
	}

	return cs, nil
}

// DeclareAsset records the declared size and content type of the incoming
// archive before any upload starts.
func DeclareAsset(ctx context.Context, db sqlx.ExtContext, id string, size int64, contentType string, now time.Time) error {
	const q = `
	UPDATE course SET
		asset_size = $2, asset_content_type = $3, updated_at = $4
	WHERE course_id = $1`

	res, err := db.ExecContext(ctx, q, id, size, contentType, now)
	if err != nil {
		return fmt.Errorf("declaring asset on course[%s]: %w", id, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	return nil
}

// SetStorageKey marks the asset as ingested. Downloads are possible only
// after this write.
func SetStorageKey(ctx context.Context, db sqlx.ExtContext, id string, key string, now time.Time) error {
	const q = `
	UPDATE course SET storage_key = $2, updated_at = $3 WHERE course_id = $1`

	res, err := db.ExecContext(ctx, q, id, key, now)
	if err != nil {
		return fmt.Errorf("setting storage key on course[%s]: %w", id, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	return nil
}
