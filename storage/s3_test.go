package storage

import (
	"context"
	"encoding/base64"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coursevault/coursevault/config"
)

func testGateway(t *testing.T) *S3 {
	t.Helper()

	cfg := config.Storage{
		Bucket:      "coursevault-test",
		Region:      "us-east-1",
		AccessKey:   "AKIATEST",
		SecretKey:   "secret",
		UploadTTL:   15 * time.Minute,
		DownloadTTL: 24 * time.Hour,
	}

	s, err := NewS3(context.Background(), cfg)
	if err != nil {
		t.Fatalf("constructing the gateway: %v", err)
	}
	return s
}

func TestPresignDownloadEmbedsExpiry(t *testing.T) {
	s := testGateway(t)

	signed, err := s.PresignDownload(context.Background(), "assets/c1/archive.zip", 24*time.Hour)
	if err != nil {
		t.Fatalf("presigning download: %v", err)
	}

	u, err := url.Parse(signed)
	if err != nil {
		t.Fatalf("parsing signed url: %v", err)
	}

	if got := u.Query().Get("X-Amz-Expires"); got != "86400" {
		t.Fatalf("expected a 24h expiry (86400s), got %q", got)
	}

	if !strings.Contains(u.Path, "assets/c1/archive.zip") {
		t.Fatalf("signed url %q is not scoped to the requested key", signed)
	}

	if u.Query().Get("X-Amz-Signature") == "" {
		t.Fatal("signed url carries no signature")
	}
}

func TestPresignDownloadIsRepeatable(t *testing.T) {
	s := testGateway(t)

	first, err := s.PresignDownload(context.Background(), "assets/c1/archive.zip", time.Hour)
	if err != nil {
		t.Fatalf("first presign: %v", err)
	}

	second, err := s.PresignDownload(context.Background(), "assets/c1/archive.zip", time.Hour)
	if err != nil {
		t.Fatalf("second presign: %v", err)
	}

	// Both must be independently valid; equality is not required.
	for _, signed := range []string{first, second} {
		if u, err := url.Parse(signed); err != nil || u.Query().Get("X-Amz-Signature") == "" {
			t.Fatalf("url %q is not a valid signed url", signed)
		}
	}
}

func TestPresignUploadPolicy(t *testing.T) {
	s := testGateway(t)

	post, err := s.PresignUpload(context.Background(), "assets/c1/archive.zip", "application/zip", 1<<20)
	if err != nil {
		t.Fatalf("presigning upload: %v", err)
	}

	if post.URL == "" {
		t.Fatal("presigned post has no url")
	}

	if post.Key != "assets/c1/archive.zip" {
		t.Fatalf("presigned post key %q does not match the request", post.Key)
	}

	raw, ok := post.Fields["policy"]
	if !ok {
		t.Fatalf("presigned post fields %v carry no policy", post.Fields)
	}

	policy, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		t.Fatalf("decoding policy: %v", err)
	}

	if !strings.Contains(string(policy), "content-length-range") {
		t.Fatalf("policy %s does not cap the upload size", policy)
	}
}
