package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/coursevault/coursevault/config"
)

// Narrow interfaces over the S3 client so tests can substitute fakes without
// touching the network.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type presignGetObjectAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type presignPostObjectAPI interface {
	PresignPostObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignPostOptions)) (*s3.PresignedPostRequest, error)
}

var (
	_ putObjectAPI         = (*s3.Client)(nil)
	_ presignGetObjectAPI  = (*s3.PresignClient)(nil)
	_ presignPostObjectAPI = (*s3.PresignClient)(nil)
)

// S3 implements Gateway against an S3-compatible backend.
type S3 struct {
	bucket    string
	uploadTTL time.Duration
	client    putObjectAPI
	presigner interface {
		presignGetObjectAPI
		presignPostObjectAPI
	}
}

func NewS3(ctx context.Context, cfg config.Storage) (*S3, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading storage credentials: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &S3{
		bucket:    cfg.Bucket,
		uploadTTL: cfg.UploadTTL,
		client:    client,
		presigner: s3.NewPresignClient(client),
	}, nil
}

func (s *S3) PresignUpload(ctx context.Context, key string, contentType string, maxBytes int64) (PresignedPost, error) {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}

	req, err := s.presigner.PresignPostObject(ctx, in, func(o *s3.PresignPostOptions) {
		o.Expires = s.uploadTTL
		o.Conditions = []interface{}{
			[]interface{}{"content-length-range", int64(1), maxBytes},
		}
	})
	if err != nil {
		return PresignedPost{}, fmt.Errorf("presigning upload for key[%s]: %w", key, err)
	}

	return PresignedPost{URL: req.URL, Fields: req.Values, Key: key}, nil
}

func (s *S3) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	in := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}

	req, err := s.presigner.PresignGetObject(ctx, in, func(o *s3.PresignOptions) {
		o.Expires = ttl
	})
	if err != nil {
		return "", fmt.Errorf("presigning download for key[%s]: %w", key, err)
	}

	return req.URL, nil
}

func (s *S3) PutSmall(ctx context.Context, key string, contentType string, body io.Reader, size int64) error {
	// The body is not seekable, so the length has to be declared or the
	// sdk falls back to chunked streaming.
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
		Body:          body,
	}

	if _, err := s.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("writing object key[%s]: %w", key, err)
	}

	return nil
}
