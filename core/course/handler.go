package course

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coursevault/coursevault/api/web"
	"github.com/coursevault/coursevault/api/weberr"
	"github.com/coursevault/coursevault/core/claims"
	"github.com/coursevault/coursevault/validate"
	"github.com/jmoiron/sqlx"
)

// Info is the read model of a course: the stored row plus its sale state at
// the time of the request.
type Info struct {
	Course
	Sale      Sale `json:"sale"`
	Available bool `json:"available"`
}

func info(c Course, now time.Time) Info {
	return Info{Course: c, Sale: c.SaleAt(now), Available: c.StorageKey != nil}
}

func HandleCreate(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var cn CourseNew
		if err := web.Decode(w, r, &cn); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(cn); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
		}

		now := time.Now().UTC()
		c := Course{
			ID:                 validate.GenerateID(),
			Name:               cn.Name,
			Description:        cn.Description,
			ImageURL:           cn.ImageURL,
			Price:              cn.Price,
			SaleActive:         cn.SaleActive,
			SaleStart:          cn.SaleStart,
			SaleEnd:            cn.SaleEnd,
			DiscountPercentage: cn.DiscountPercentage,
			CreatedAt:          now,
			UpdatedAt:          now,
		}

		if err := Create(ctx, db, c); err != nil {
			return fmt.Errorf("creating course: %w", err)
		}

		return web.Respond(ctx, w, c, http.StatusCreated)
	}
}

func HandleUpdate(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.BadRequest(err)
		}

		var cu CourseUp
		if err := web.Decode(w, r, &cu); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(cu); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
		}

		c, err := Fetch(ctx, db, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(err)
			}
			return fmt.Errorf("fetching course[%s]: %w", id, err)
		}

		if cu.Name != nil {
			c.Name = *cu.Name
		}
		if cu.Description != nil {
			c.Description = *cu.Description
		}
		if cu.Price != nil {
			c.Price = *cu.Price
		}
		if cu.ImageURL != nil {
			c.ImageURL = *cu.ImageURL
		}
		if cu.SaleActive != nil {
			c.SaleActive = *cu.SaleActive
		}
		if cu.SaleStart != nil {
			c.SaleStart = cu.SaleStart
		}
		if cu.SaleEnd != nil {
			c.SaleEnd = cu.SaleEnd
		}
		if cu.DiscountPercentage != nil {
			c.DiscountPercentage = cu.DiscountPercentage
		}
		c.UpdatedAt = time.Now().UTC()

		if err := Update(ctx, db, c); err != nil {
			return fmt.Errorf("updating course[%s]: %w", id, err)
		}

		return web.Respond(ctx, w, c, http.StatusOK)
	}
}

func HandleShow(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.BadRequest(err)
		}

		c, err := Fetch(ctx, db, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(err)
			}
			return fmt.Errorf("fetching course[%s]: %w", id, err)
		}

		return web.Respond(ctx, w, info(c, time.Now().UTC()), http.StatusOK)
	}
}

func HandleList(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		cs, err := FetchAll(ctx, db)
		if err != nil {
			return fmt.Errorf("fetching courses: %w", err)
		}

		now := time.Now().UTC()
		infos := make([]Info, 0, len(cs))
		for _, c := range cs {
			infos = append(infos, info(c, now))
		}

		return web.Respond(ctx, w, infos, http.StatusOK)
	}
}

func HandleListOwned(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		cs, err := FetchOwned(ctx, db, clm.UserID)
		if err != nil {
			return fmt.Errorf("fetching owned courses: %w", err)
		}

		return web.Respond(ctx, w, cs, http.StatusOK)
	}
}
