package asset

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coursevault/coursevault/api/web"
	"github.com/coursevault/coursevault/api/weberr"
	"github.com/coursevault/coursevault/core/claims"
	"github.com/coursevault/coursevault/core/course"
	"github.com/coursevault/coursevault/core/entitlement"
	"github.com/coursevault/coursevault/storage"
	"github.com/coursevault/coursevault/validate"
	"github.com/jmoiron/sqlx"
)

// HandlePlanUpload decides the ingestion path for a declared archive and,
// for the direct path, returns a presigned POST capped at the declared size.
func HandlePlanUpload(db *sqlx.DB, gw storage.Gateway, sel Selector) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.BadRequest(err)
		}

		var req UploadRequest
		if err := web.Decode(w, r, &req); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(req); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
		}

		mode, err := sel.Select(req.SizeBytes)
		if err != nil {
			if errors.Is(err, ErrTooLarge) {
				return weberr.TooLarge(err)
			}
			return weberr.BadRequest(err)
		}

		c, err := course.Fetch(ctx, db, id)
		if err != nil {
			if errors.Is(err, course.ErrNotFound) {
				return weberr.NotFound(err)
			}
			return fmt.Errorf("fetching course[%s]: %w", id, err)
		}

		now := time.Now().UTC()
		if err := course.DeclareAsset(ctx, db, c.ID, req.SizeBytes, req.ContentType, now); err != nil {
			return fmt.Errorf("declaring asset on course[%s]: %w", c.ID, err)
		}

		plan := UploadPlan{Mode: mode, Key: Key(c.ID)}

		if mode == ModeDirect {
			post, err := gw.PresignUpload(ctx, plan.Key, req.ContentType, req.SizeBytes)
			if err != nil {
				return fmt.Errorf("presigning upload for course[%s]: %w", c.ID, err)
			}
			plan.Post = &post
		}

		return web.Respond(ctx, w, plan, http.StatusOK)
	}
}

// HandleProxyUpload receives the archive body and writes it through to
// storage. Only valid for assets at or below the proxy threshold.
func HandleProxyUpload(db *sqlx.DB, gw storage.Gateway, sel Selector) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.BadRequest(err)
		}

		c, err := course.Fetch(ctx, db, id)
		if err != nil {
			if errors.Is(err, course.ErrNotFound) {
				return weberr.NotFound(err)
			}
			return fmt.Errorf("fetching course[%s]: %w", id, err)
		}

		if c.AssetSize == nil || c.AssetContentType == nil {
			return weberr.BadRequest(errors.New("no upload was planned for this course"))
		}

		mode, err := sel.Select(*c.AssetSize)
		switch {
		case errors.Is(err, ErrTooLarge):
			return weberr.TooLarge(err)
		case err != nil:
			return weberr.BadRequest(err)
		case mode != ModeProxy:
			return weberr.BadRequest(errors.New("the declared size requires a direct upload"))
		}

		body := http.MaxBytesReader(w, r.Body, *c.AssetSize)
		if err := gw.PutSmall(ctx, Key(c.ID), *c.AssetContentType, body, *c.AssetSize); err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				return weberr.TooLarge(fmt.Errorf("course[%s] archive exceeds its declared size: %w", c.ID, err))
			}
			return fmt.Errorf("writing asset of course[%s]: %w", c.ID, err)
		}

		if err := course.SetStorageKey(ctx, db, c.ID, Key(c.ID), time.Now().UTC()); err != nil {
			return fmt.Errorf("finalizing asset of course[%s]: %w", c.ID, err)
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}

// HandleCompleteUpload records that a direct upload finished. The process
// has no visibility into the upload itself, so the asset only becomes
// deliverable on this explicit signal.
func HandleCompleteUpload(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.BadRequest(err)
		}

		c, err := course.Fetch(ctx, db, id)
		if err != nil {
			if errors.Is(err, course.ErrNotFound) {
				return weberr.NotFound(err)
			}
			return fmt.Errorf("fetching course[%s]: %w", id, err)
		}

		if c.AssetSize == nil {
			return weberr.BadRequest(errors.New("no upload was planned for this course"))
		}

		if err := course.SetStorageKey(ctx, db, c.ID, Key(c.ID), time.Now().UTC()); err != nil {
			return fmt.Errorf("finalizing asset of course[%s]: %w", c.ID, err)
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}

// HandleDownload mints a time-boxed download link for a verified owner. No
// state is mutated, so the same buyer may hold several valid links at once.
func HandleDownload(db *sqlx.DB, gw storage.Gateway, ttl time.Duration) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.BadRequest(err)
		}

		owns, err := entitlement.HasCompleted(ctx, db, clm.UserID, id)
		if err != nil {
			return fmt.Errorf("checking entitlement: %w", err)
		}

		if !owns {
			return weberr.Forbidden(fmt.Errorf("user[%s] owns no completed entitlement for course[%s]", clm.UserID, id))
		}

		c, err := course.Fetch(ctx, db, id)
		if err != nil {
			if errors.Is(err, course.ErrNotFound) {
				return weberr.NotFound(err)
			}
			return fmt.Errorf("fetching course[%s]: %w", id, err)
		}

		if c.StorageKey == nil {
			return weberr.NotReady(fmt.Errorf("course[%s] asset not ingested yet", c.ID))
		}

		url, err := gw.PresignDownload(ctx, *c.StorageKey, ttl)
		if err != nil {
			return fmt.Errorf("presigning download for course[%s]: %w", c.ID, err)
		}

		link := DownloadLink{URL: url, ExpiresIn: int64(ttl.Seconds())}
		return web.Respond(ctx, w, link, http.StatusOK)
	}
}
