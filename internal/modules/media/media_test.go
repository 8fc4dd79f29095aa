package media

import (
	"context"
	"strings"
	"testing"

	"github.com/publora/core/internal/config"
)

func newTestResolver(t *testing.T) *S3Resolver {
	t.Helper()
	r, err := NewS3Resolver(config.S3Config{
		Endpoint:        "http://localhost:9000",
		Region:          "us-east-1",
		Bucket:          "publora-media",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		PresignTTLMin:   60,
	})
	if err != nil {
		t.Fatalf("NewS3Resolver() error = %v", err)
	}
	return r
}

func TestResolvePassesThroughAbsoluteURLs(t *testing.T) {
	r := newTestResolver(t)

	for _, ref := range []string{
		"https://cdn.example.com/a.jpg",
		"http://cdn.example.com/b.mp4",
	} {
		got, err := r.Resolve(context.Background(), ref)
		if err != nil {
			t.Fatalf("Resolve(%q) error = %v", ref, err)
		}
		if got != ref {
			t.Errorf("Resolve(%q) = %q, want passthrough", ref, got)
		}
	}
}

func TestResolvePresignsObjectKeys(t *testing.T) {
	r := newTestResolver(t)

	got, err := r.Resolve(context.Background(), "ws-1/reel.mp4")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !strings.Contains(got, "publora-media") || !strings.Contains(got, "ws-1/reel.mp4") {
		t.Errorf("presigned URL %q missing bucket or key", got)
	}
	if !strings.Contains(got, "X-Amz-Signature=") {
		t.Errorf("presigned URL %q is not signed", got)
	}
}

func TestResolveRejectsEmptyRef(t *testing.T) {
	r := newTestResolver(t)

	if _, err := r.Resolve(context.Background(), ""); err == nil {
		t.Fatal("Resolve(\"\") expected error")
	}
}

func TestUploadURLSignsPut(t *testing.T) {
	r := newTestResolver(t)

	got, err := r.UploadURL(context.Background(), "ws-1/new.jpg", "image/jpeg")
	if err != nil {
		t.Fatalf("UploadURL() error = %v", err)
	}
	if !strings.Contains(got, "ws-1/new.jpg") || !strings.Contains(got, "X-Amz-Signature=") {
		t.Errorf("upload URL %q missing key or signature", got)
	}
}
