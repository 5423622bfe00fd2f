// Package storage wraps the object storage backend behind the narrow
// presign/put surface the asset pipeline needs. All operations are stateless:
// repeating a presign call for the same key yields a new, equally valid
// credential.
package storage

import (
	"context"
	"io"
	"time"
)

// PresignedPost is a time-boxed capability allowing a client to upload one
// object directly to storage, bypassing the application process. The client
// submits a multipart POST to URL with Fields included verbatim.
type PresignedPost struct {
	URL    string            `json:"url"`
	Fields map[string]string `json:"fields"`
	Key    string            `json:"key"`
}

type Gateway interface {
	// PresignUpload returns a POST policy scoped to exactly one key,
	// capped at maxBytes and valid for a short window.
	PresignUpload(ctx context.Context, key string, contentType string, maxBytes int64) (PresignedPost, error)

	// PresignDownload returns a URL valid only for GET of the given key
	// until ttl elapses. Expiry is enforced by the backend's signature
	// verification, not by any state held here.
	PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error)

	// PutSmall writes the object synchronously through the process. Used
	// for assets small enough to proxy. The body is streamed, so its
	// length has to be declared up front.
	PutSmall(ctx context.Context, key string, contentType string, body io.Reader, size int64) error
}
