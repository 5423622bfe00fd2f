// Package asset handles ingestion and delivery of course archives: picking
// an upload path for the declared size, proxying small uploads into storage,
// and minting time-boxed download links for entitled buyers.
package asset

import (
	"errors"
	"fmt"

	"github.com/coursevault/coursevault/storage"
)

type Mode string

const (
	// ModeProxy streams the archive through the application process.
	ModeProxy Mode = "proxy"

	// ModeDirect hands the client a presigned POST so bytes go straight
	// to storage, never touching the process.
	ModeDirect Mode = "direct"
)

var (
	ErrInvalidSize = errors.New("declared size must be positive")

	// ErrTooLarge means the declared size exceeds the absolute cap. It is
	// raised before any storage call.
	ErrTooLarge = errors.New("declared size exceeds the storage limit")
)

// Selector decides the upload path from the declared byte size alone.
type Selector struct {
	Threshold int64
	HardCap   int64
}

// Select returns the upload mode for a declared size. Sizes at the threshold
// still take the proxy path; only strictly larger ones go direct.
func (s Selector) Select(size int64) (Mode, error) {
	switch {
	case size <= 0:
		return "", ErrInvalidSize
	case size > s.HardCap:
		return "", fmt.Errorf("%w: %d > %d", ErrTooLarge, size, s.HardCap)
	case size <= s.Threshold:
		return ModeProxy, nil
	default:
		return ModeDirect, nil
	}
}

// Key is the storage key of a course archive. Deterministic per course so a
// re-ingestion overwrites the previous object.
func Key(courseID string) string {
	return "courses/" + courseID + "/archive"
}

// UploadPlan tells the admin client how to move the archive into storage.
// Post is set only for the direct mode.
type UploadPlan struct {
	Mode Mode                   `json:"mode"`
	Key  string                 `json:"key"`
	Post *storage.PresignedPost `json:"post,omitempty"`
}

type UploadRequest struct {
	SizeBytes   int64  `json:"sizeBytes" validate:"required,gt=0"`
	ContentType string `json:"contentType" validate:"required"`
}

// DownloadLink is a short-lived capability to fetch one course archive. It
// is never persisted; the embedded expiry is enforced by the storage
// backend's signature check.
type DownloadLink struct {
	URL       string `json:"url"`
	ExpiresIn int64  `json:"expiresIn"`
}
