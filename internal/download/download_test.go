package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var pngData = []byte{0x89, 0x50, 0x4E, 0x47} // PNG magic bytes

func fastDownloader() *ImageDownloader {
	return NewImageDownloader().WithRetry(2, time.Millisecond, 5*time.Millisecond)
}

func TestDownloadFromURL_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngData)
	}))
	defer ts.Close()

	img, err := fastDownloader().DownloadFromURL(context.Background(), ts.URL+"/photos/kitchen.png")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	assert.Equal(t, pngData, img.Data)
	assert.Equal(t, "image/png", img.MIMEType)
	assert.Equal(t, "kitchen.png", img.Name)

	photo := img.Photo()
	assert.Equal(t, "kitchen.png", photo.Name)
	assert.Equal(t, "image/png", photo.MIMEType)
}

func TestDownloadFromURL_ContentTypeParameters(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg; charset=binary")
		w.Write([]byte("123"))
	}))
	defer ts.Close()

	img, err := fastDownloader().DownloadFromURL(context.Background(), ts.URL)
	assert.NoError(t, err)
	assert.Equal(t, "image/jpeg", img.MIMEType)
}

func TestDownloadFromURL_InvalidContentType(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html></html>"))
	}))
	defer ts.Close()

	_, err := fastDownloader().DownloadFromURL(context.Background(), ts.URL)
	if err == nil {
		t.Fatal("expected error for invalid content type")
	}
	assert.Contains(t, err.Error(), "invalid content type")
}

func TestDownloadFromURL_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	_, err := fastDownloader().DownloadFromURL(context.Background(), ts.URL)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	assert.Contains(t, err.Error(), "status 404")
}

func TestDownloadFromURL_TooLarge(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(make([]byte, 100))
	}))
	defer ts.Close()

	_, err := fastDownloader().WithMaxSize(50).DownloadFromURL(context.Background(), ts.URL)
	if err == nil {
		t.Fatal("expected error for oversized image")
	}
	assert.Contains(t, err.Error(), "too large")
}

func TestDownloadFromURL_TooLargeWithoutContentLength(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		flusher := w.(http.Flusher)
		for i := 0; i < 4; i++ {
			w.Write(make([]byte, 20))
			flusher.Flush()
		}
	}))
	defer ts.Close()

	_, err := fastDownloader().WithMaxSize(50).DownloadFromURL(context.Background(), ts.URL)
	if err == nil {
		t.Fatal("expected error for oversized image")
	}
	assert.Contains(t, err.Error(), "exceeds limit of 50 bytes")
}

func TestDownloadFromURL_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngData)
	}))
	defer ts.Close()

	img, err := fastDownloader().DownloadFromURL(context.Background(), ts.URL)
	assert.NoError(t, err)
	assert.Equal(t, pngData, img.Data)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDownloadFromURL_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer ts.Close()

	_, err := fastDownloader().WithRetry(0, time.Millisecond, time.Millisecond).
		WithTimeout(50*time.Millisecond).
		DownloadFromURL(context.Background(), ts.URL)
	assert.Error(t, err)
}

func TestDownloadAll_PreservesOrder(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		io.WriteString(w, strings.TrimPrefix(r.URL.Path, "/"))
	}))
	defer ts.Close()

	var urls []string
	for i := 0; i < 6; i++ {
		urls = append(urls, fmt.Sprintf("%s/photo-%d", ts.URL, i))
	}

	images, err := fastDownloader().DownloadAll(context.Background(), urls)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for i, img := range images {
		assert.Equal(t, fmt.Sprintf("photo-%d", i), string(img.Data))
	}
}

func TestDownloadAll_ReportsFailingPhoto(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("ok"))
	}))
	defer ts.Close()

	_, err := fastDownloader().DownloadAll(context.Background(), []string{ts.URL + "/a", ts.URL + "/missing"})
	if err == nil {
		t.Fatal("expected error")
	}
	assert.Contains(t, err.Error(), "photo 1")
}

func TestDownloadFromTelegramFileID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/foo.jpeg" {
			t.Errorf("invalid request to test server: %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("123"))
	}))
	defer ts.Close()

	getFileDirectURL := func(fileID string) (string, error) {
		return fmt.Sprintf("%s/%s.jpeg", ts.URL, fileID), nil
	}

	img, err := fastDownloader().DownloadFromTelegramFileID(context.Background(), getFileDirectURL, "foo")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, []byte("123"), img.Data)
}

func TestDownloadFromTelegramFileID_URLResolutionError(t *testing.T) {
	getFileDirectURL := func(fileID string) (string, error) {
		return "", fmt.Errorf("failed to get URL")
	}

	_, err := fastDownloader().DownloadFromTelegramFileID(context.Background(), getFileDirectURL, "test-file-id")
	if err == nil {
		t.Fatal("expected error for URL resolution failure")
	}
	assert.Contains(t, err.Error(), "failed to get file URL")
}
