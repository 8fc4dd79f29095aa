package facebook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/publora/core/internal/models"
	"github.com/publora/core/internal/modules/platform"
	"github.com/publora/core/internal/pkg/graph"
)

const pageID = "104200000000000"

type fakePage struct {
	photos []url.Values
	videos []url.Values
	feed   []url.Values
}

func newTestAdapter(t *testing.T, f *fakePage) *Adapter {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v21.0/"+pageID+"/photos", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		f.photos = append(f.photos, r.PostForm)
		json.NewEncoder(w).Encode(map[string]string{"id": "photo-9", "post_id": pageID + "_555"})
	})
	mux.HandleFunc("POST /v21.0/"+pageID+"/videos", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		f.videos = append(f.videos, r.PostForm)
		json.NewEncoder(w).Encode(map[string]string{"id": "video-7"})
	})
	mux.HandleFunc("POST /v21.0/"+pageID+"/feed", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		f.feed = append(f.feed, r.PostForm)
		json.NewEncoder(w).Encode(map[string]string{"id": pageID + "_777"})
	})
	mux.HandleFunc("GET /v21.0/{object}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"permalink_url": "https://www.facebook.com/" + r.PathValue("object")})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(graph.New(srv.URL, "v21.0"), nil)
}

func TestPublishPhoto(t *testing.T) {
	f := &fakePage{}
	a := newTestAdapter(t, f)

	result, err := a.Publish(context.Background(), "tok", pageID, platform.Post{
		ContentType: models.TypePhoto,
		Caption:     "launch day",
		ImageURL:    "https://cdn.example.com/a.jpg",
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if result.PostID != pageID+"_555" {
		t.Errorf("PostID = %q, want page post id", result.PostID)
	}
	if result.Permalink != "https://www.facebook.com/"+pageID+"_555" {
		t.Errorf("Permalink = %q", result.Permalink)
	}

	if len(f.photos) != 1 {
		t.Fatalf("photo calls = %d, want 1", len(f.photos))
	}
	got := f.photos[0]
	if got.Get("url") != "https://cdn.example.com/a.jpg" || got.Get("caption") != "launch day" {
		t.Errorf("photo params = %v", got)
	}
}

func TestPublishVideo(t *testing.T) {
	f := &fakePage{}
	a := newTestAdapter(t, f)

	result, err := a.Publish(context.Background(), "tok", pageID, platform.Post{
		ContentType: models.TypeVideo,
		Title:       "demo",
		Description: "walkthrough",
		VideoURL:    "https://cdn.example.com/v.mp4",
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if result.PostID != "video-7" {
		t.Errorf("PostID = %q, want video-7", result.PostID)
	}

	got := f.videos[0]
	if got.Get("file_url") != "https://cdn.example.com/v.mp4" {
		t.Errorf("file_url = %q", got.Get("file_url"))
	}
	if got.Get("title") != "demo" || got.Get("description") != "walkthrough" {
		t.Errorf("video params = %v", got)
	}
}

func TestPublishLink(t *testing.T) {
	f := &fakePage{}
	a := newTestAdapter(t, f)

	result, err := a.Publish(context.Background(), "tok", pageID, platform.Post{
		ContentType: models.TypeLink,
		Message:     "read this",
		Link:        "https://blog.example.com/post",
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if result.PostID != pageID+"_777" {
		t.Errorf("PostID = %q", result.PostID)
	}

	got := f.feed[0]
	if got.Get("link") != "https://blog.example.com/post" || got.Get("message") != "read this" {
		t.Errorf("feed params = %v", got)
	}
}

func TestPublishUnsupportedType(t *testing.T) {
	a := newTestAdapter(t, &fakePage{})

	_, err := a.Publish(context.Background(), "tok", pageID, platform.Post{ContentType: models.TypeReel})
	if err == nil {
		t.Fatal("Publish() expected error for unsupported content type")
	}
}
