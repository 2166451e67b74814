package wordpress

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/abrahamrini7-jpg/catalogIQ/internal/services"
)

func writeTempPhoto(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "101-front_color_corrected.jpg")
	if err := os.WriteFile(path, []byte("jpeg-bytes"), 0o644); err != nil {
		t.Fatalf("write temp photo: %v", err)
	}
	return path
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{URL: server.URL, Username: "publisher", Password: "secret"})
}

func TestUploadSendsMediaRequest(t *testing.T) {
	photo := writeTempPhoto(t)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/wp-json/wp/v2/media":
			if user, pass, ok := r.BasicAuth(); !ok || user != "publisher" || pass != "secret" {
				t.Errorf("unexpected basic auth: %s %s ok=%v", user, pass, ok)
			}
			if ua := r.Header.Get("User-Agent"); !strings.Contains(ua, "Mozilla") {
				t.Errorf("expected browser user agent, got %q", ua)
			}
			if cd := r.Header.Get("Content-Disposition"); !strings.Contains(cd, "101-front_color_corrected.jpg") {
				t.Errorf("unexpected content disposition: %q", cd)
			}
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":12345,"source_url":"https://shop.example.com/media/12345.jpg"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/wp-json/wp/v2/media/12345":
			_, _ = w.Write([]byte(`{}`))
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	media, err := client.Upload(context.Background(), UploadRequest{
		FilePath: photo,
		Title:    "Air Max 90",
		AltText:  "Air Max 90 front view",
	})
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if media.ID != 12345 {
		t.Fatalf("expected media id 12345, got %d", media.ID)
	}
	if media.SourceURL != "https://shop.example.com/media/12345.jpg" {
		t.Fatalf("unexpected source url: %q", media.SourceURL)
	}
}

func TestUploadClassifies406ContentRejected(t *testing.T) {
	photo := writeTempPhoto(t)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Mod_Security rules triggered", http.StatusNotAcceptable)
	})

	_, err := client.Upload(context.Background(), UploadRequest{FilePath: photo})
	if !errors.Is(err, services.ErrContentRejected) {
		t.Fatalf("expected content-rejected classification, got %v", err)
	}
	if kind := services.Kind(err); kind != "content_rejected" {
		t.Fatalf("expected kind content_rejected, got %q", kind)
	}
}

func TestUploadClassifiesServerErrorsTransient(t *testing.T) {
	photo := writeTempPhoto(t)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusBadGateway)
	})

	_, err := client.Upload(context.Background(), UploadRequest{FilePath: photo})
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient classification, got %v", err)
	}
}

func TestUploadClassifiesAuthErrorsConfiguration(t *testing.T) {
	photo := writeTempPhoto(t)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	})

	_, err := client.Upload(context.Background(), UploadRequest{FilePath: photo})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration classification, got %v", err)
	}
}

func TestUploadMissingFileIsValidation(t *testing.T) {
	client := NewClient(Config{URL: "https://shop.example.com", Username: "u", Password: "p"})
	_, err := client.Upload(context.Background(), UploadRequest{FilePath: "/nonexistent/photo.jpg"})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation classification, got %v", err)
	}
	if services.IsRetryable(err) {
		t.Fatal("validation errors must not be retryable")
	}
}

func TestHealthCheck(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wp-json/wp/v2/media" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`[]`))
	})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
}
