package download

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/propdash/propdash/internal/rehab"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTimeout is the default timeout for a single image download,
	// retries included.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxImageSize matches the largest photo the estimator accepts.
	DefaultMaxImageSize = rehab.MaxPhotoBytes
	// DefaultRetryMax is how many times a failed download is retried.
	DefaultRetryMax = 2

	downloadConcurrency = 4
)

// Image is a downloaded image.
type Image struct {
	Name     string
	Data     []byte
	MIMEType string
}

// Photo wraps the image as estimator input.
func (img *Image) Photo() rehab.PhotoInput {
	photo := rehab.NewPhoto(img.Data, img.MIMEType)
	photo.Name = img.Name
	return photo
}

// ImageDownloader downloads images with a size limit, a content type check
// and retries for transient failures.
type ImageDownloader struct {
	client  *retryablehttp.Client
	timeout time.Duration
	maxSize int64
}

// NewImageDownloader creates a new ImageDownloader with default settings.
func NewImageDownloader() *ImageDownloader {
	rc := retryablehttp.NewClient()
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.RetryMax = DefaultRetryMax
	rc.Logger = zerologAdapter{}

	return &ImageDownloader{
		client:  rc,
		timeout: DefaultTimeout,
		maxSize: DefaultMaxImageSize,
	}
}

// WithTimeout sets a custom timeout for downloads.
func (d *ImageDownloader) WithTimeout(timeout time.Duration) *ImageDownloader {
	d.timeout = timeout
	return d
}

// WithMaxSize sets a custom maximum file size.
func (d *ImageDownloader) WithMaxSize(maxSize int64) *ImageDownloader {
	d.maxSize = maxSize
	return d
}

// WithRetry sets how often and how quickly failed downloads are retried.
func (d *ImageDownloader) WithRetry(retryMax int, waitMin, waitMax time.Duration) *ImageDownloader {
	d.client.RetryMax = retryMax
	d.client.RetryWaitMin = waitMin
	d.client.RetryWaitMax = waitMax
	return d
}

// DownloadFromURL downloads image data from a URL.
// It respects context cancellation and enforces size limits.
func (d *ImageDownloader) DownloadFromURL(ctx context.Context, imageURL string) (*Image, error) {
	// Create request with timeout context
	reqCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: status %d", resp.StatusCode)
	}

	// Validate Content-Type is an image
	contentType := resp.Header.Get("Content-Type")
	mediaType := ""
	if contentType != "" {
		mediaType, _, err = mime.ParseMediaType(contentType)
		if err != nil || !strings.HasPrefix(mediaType, "image/") {
			return nil, fmt.Errorf("invalid content type: expected image/*, got %s", contentType)
		}
	}

	// Check Content-Length if available
	if resp.ContentLength > d.maxSize {
		return nil, fmt.Errorf("image too large: %d bytes exceeds limit of %d bytes", resp.ContentLength, d.maxSize)
	}

	// Use LimitReader to enforce size limit even if Content-Length is missing or wrong
	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	if int64(len(data)) > d.maxSize {
		return nil, fmt.Errorf("image too large: exceeds limit of %d bytes", d.maxSize)
	}

	return &Image{
		Name:     path.Base(req.URL.Path),
		Data:     data,
		MIMEType: mediaType,
	}, nil
}

// DownloadAll downloads every URL concurrently. The result has the same
// order as urls; the first failure cancels the rest.
func (d *ImageDownloader) DownloadAll(ctx context.Context, urls []string) ([]*Image, error) {
	images := make([]*Image, len(urls))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(downloadConcurrency)
	for i, u := range urls {
		g.Go(func() error {
			img, err := d.DownloadFromURL(ctx, u)
			if err != nil {
				return fmt.Errorf("photo %d: %w", i, err)
			}
			images[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return images, nil
}

// DownloadFromTelegramFileID downloads an image from Telegram using a file ID.
// It uses the provided function to resolve the file ID to a direct URL.
func (d *ImageDownloader) DownloadFromTelegramFileID(
	ctx context.Context,
	getFileDirectURL func(fileID string) (string, error),
	fileID string,
) (*Image, error) {
	log.Info().Str("fileID", fileID).Msg("downloading telegram file")

	url, err := getFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to get file URL: %w", err)
	}

	return d.DownloadFromURL(ctx, url)
}

// zerologAdapter routes retryablehttp logs through zerolog.
type zerologAdapter struct{}

func (zerologAdapter) Error(msg string, keysAndValues ...interface{}) {
	log.Error().Fields(keysAndValues).Msg(msg)
}

func (zerologAdapter) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg(msg)
}

func (zerologAdapter) Debug(msg string, keysAndValues ...interface{}) {
	log.Trace().Fields(keysAndValues).Msg(msg)
}

func (zerologAdapter) Warn(msg string, keysAndValues ...interface{}) {
	log.Warn().Fields(keysAndValues).Msg(msg)
}
