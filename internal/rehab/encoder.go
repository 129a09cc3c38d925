package rehab

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"
)

const (
	// MaxPhotoBytes is the largest photo accepted for encoding (10MB).
	MaxPhotoBytes = 10 * 1024 * 1024
	// MaxPhotos caps the number of photos in one estimate.
	MaxPhotos = 20

	encodeConcurrency = 4
	fallbackMIMEType  = "image/jpeg"
)

// EncodePhoto reads the whole photo body and returns its base64 form. The
// index is only used to label errors.
func EncodePhoto(index int, photo PhotoInput) (EncodedImagePart, error) {
	if photo.Body == nil {
		return EncodedImagePart{}, &EncodingError{Index: index, Name: photo.Name, Err: errors.New("no photo data")}
	}

	// Read one byte past the limit so oversized photos are detected
	data, err := io.ReadAll(io.LimitReader(photo.Body, MaxPhotoBytes+1))
	if err != nil {
		return EncodedImagePart{}, &EncodingError{Index: index, Name: photo.Name, Err: err}
	}
	if len(data) == 0 {
		return EncodedImagePart{}, &EncodingError{Index: index, Name: photo.Name, Err: errors.New("photo is empty")}
	}
	if len(data) > MaxPhotoBytes {
		return EncodedImagePart{}, &EncodingError{
			Index: index,
			Name:  photo.Name,
			Err:   fmt.Errorf("photo exceeds limit of %d bytes", MaxPhotoBytes),
		}
	}

	return EncodedImagePart{
		Data:     base64.StdEncoding.EncodeToString(data),
		MIMEType: resolveMIMEType(photo.MIMEType, data),
	}, nil
}

// EncodePhotos encodes photos concurrently. The returned slice has the same
// order as the input.
func EncodePhotos(ctx context.Context, photos []PhotoInput) ([]EncodedImagePart, error) {
	parts := make([]EncodedImagePart, len(photos))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(encodeConcurrency)
	for i, photo := range photos {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return &CancelledError{Err: err}
			}
			part, err := EncodePhoto(i, photo)
			if err != nil {
				return err
			}
			parts[i] = part
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return parts, nil
}

// resolveMIMEType keeps the declared media type. Undeclared or generic types
// are sniffed from the content.
func resolveMIMEType(declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	sniffed := http.DetectContentType(data)
	if strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}
	return fallbackMIMEType
}
