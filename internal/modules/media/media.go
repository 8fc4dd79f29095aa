// Package media turns stored media references into URLs the publishing
// providers can fetch, and hands out presigned upload URLs so clients
// upload directly to object storage.
package media

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/publora/core/internal/config"
)

// Resolver converts a media reference from a publication payload into
// a fetchable URL. Absolute http(s) references pass through unchanged.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// URLResolver accepts only absolute URLs. It stands in when no object
// storage is configured.
type URLResolver struct{}

func (URLResolver) Resolve(_ context.Context, ref string) (string, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref, nil
	}
	return "", fmt.Errorf("media: %q is not a URL and no object storage is configured", ref)
}

// S3Resolver presigns GET URLs against an S3-compatible bucket.
type S3Resolver struct {
	presign *s3.PresignClient
	bucket  string
	ttl     time.Duration
}

func NewS3Resolver(cfg config.S3Config) (*S3Resolver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("media: s3 bucket is required")
	}

	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		UsePathStyle: cfg.Endpoint != "", // MinIO and friends need path-style
	}
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = "https://" + endpoint
		}
		opts.BaseEndpoint = aws.String(strings.TrimSuffix(endpoint, "/"))
	}

	return &S3Resolver{
		presign: s3.NewPresignClient(s3.New(opts)),
		bucket:  cfg.Bucket,
		ttl:     time.Duration(cfg.PresignTTLMin) * time.Minute,
	}, nil
}

// Resolve returns a URL the Graph API can download the object from.
// The TTL must outlive the whole publish attempt including retries.
func (r *S3Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref, nil
	}

	key := strings.TrimPrefix(ref, "/")
	if key == "" {
		return "", fmt.Errorf("media: empty reference")
	}

	result, err := r.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	}, func(po *s3.PresignOptions) {
		po.Expires = r.ttl
	})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return result.URL, nil
}

// UploadURL returns a presigned PUT URL for a direct client upload.
func (r *S3Resolver) UploadURL(ctx context.Context, key, contentType string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", fmt.Errorf("media: empty object key")
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	result, err := r.presign.PresignPutObject(ctx, input, func(po *s3.PresignOptions) {
		po.Expires = r.ttl
	})
	if err != nil {
		return "", fmt.Errorf("presign upload %s: %w", key, err)
	}
	return result.URL, nil
}
