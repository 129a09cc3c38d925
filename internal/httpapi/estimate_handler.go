package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/propdash/propdash/internal/rehab"
)

const (
	// maxEstimateBody bounds an estimate upload: every photo at its limit
	// plus room for multipart framing.
	maxEstimateBody = rehab.MaxPhotos*rehab.MaxPhotoBytes + 1<<20
	// multipartMemory is how much of an upload is kept in memory before
	// spilling to temporary files.
	multipartMemory = 32 << 20
)

// EstimateDeps are the collaborators of the estimate endpoints.
type EstimateDeps struct {
	Estimator  Estimator
	Downloader PhotoDownloader
	Timeout    time.Duration
}

// EstimateURLRequest is the JSON form of an estimate request.
type EstimateURLRequest struct {
	PhotoURLs     []string `json:"photo_urls"`
	SquareFootage *float64 `json:"square_footage,omitempty"`
}

// RegisterEstimate mounts the rehab estimation endpoints.
func RegisterEstimate(r chi.Router, d EstimateDeps) {
	r.Post("/rehab/estimate", func(w http.ResponseWriter, req *http.Request) {
		req.Body = http.MaxBytesReader(w, req.Body, maxEstimateBody)

		estReq, cleanup, err := parseEstimateRequest(req, d.Downloader)
		defer cleanup()
		if err != nil {
			writeRequestError(w, req, err)
			return
		}

		ctx := req.Context()
		if d.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.Timeout)
			defer cancel()
		}

		estimate, err := d.Estimator.Analyze(ctx, estReq)
		if err != nil {
			writeRehabError(w, req, err)
			return
		}

		render.JSON(w, req, estimate)
	})

	r.Post("/rehab/visualize", func(w http.ResponseWriter, req *http.Request) {
		req.Body = http.MaxBytesReader(w, req.Body, rehab.MaxPhotoBytes+1<<20)

		photo, choices, cleanup, err := parseVisualizeRequest(req)
		defer cleanup()
		if err != nil {
			writeRequestError(w, req, err)
			return
		}

		room, err := d.Estimator.VisualizeRoom(req.Context(), photo, choices)
		if err != nil {
			writeRehabError(w, req, err)
			return
		}

		render.JSON(w, req, room)
	})
}

// requestError is a malformed HTTP request, reported before any estimation
// starts.
type requestError struct {
	status int
	code   string
	err    error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func writeRequestError(w http.ResponseWriter, r *http.Request, err error) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		writeError(w, r, reqErr.status, ErrorResponse{Error: reqErr.code, Detail: reqErr.err.Error()})
		return
	}
	writeRehabError(w, r, err)
}

func noop() {}

func parseEstimateRequest(req *http.Request, downloader PhotoDownloader) (rehab.EstimationRequest, func(), error) {
	mediaType, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))

	switch mediaType {
	case "multipart/form-data":
		if err := req.ParseMultipartForm(multipartMemory); err != nil {
			return rehab.EstimationRequest{}, noop, bodyError(err)
		}
		cleanup := func() { req.MultipartForm.RemoveAll() }

		sqft, err := parseSquareFootage(req.MultipartForm.Value["square_footage"])
		if err != nil {
			return rehab.EstimationRequest{}, cleanup, err
		}

		photos, closeFiles, err := openPhotos(append(req.MultipartForm.File["photos"], req.MultipartForm.File["photos[]"]...))
		if err != nil {
			return rehab.EstimationRequest{}, cleanup, err
		}
		return rehab.EstimationRequest{Images: photos, SquareFootage: sqft}, func() {
			closeFiles()
			cleanup()
		}, nil

	case "application/json":
		var body EstimateURLRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			return rehab.EstimationRequest{}, noop, bodyError(err)
		}
		if len(body.PhotoURLs) == 0 {
			return rehab.EstimationRequest{}, noop, &rehab.InvalidInputError{Reason: "at least one photo is required"}
		}
		if len(body.PhotoURLs) > rehab.MaxPhotos {
			return rehab.EstimationRequest{}, noop, &rehab.InvalidInputError{
				Reason: fmt.Sprintf("at most %d photos are allowed, got %d", rehab.MaxPhotos, len(body.PhotoURLs)),
			}
		}
		if downloader == nil {
			return rehab.EstimationRequest{}, noop, &requestError{
				status: http.StatusNotImplemented,
				code:   rehab.CodeNotImplemented,
				err:    errors.New("photo URL download is not enabled"),
			}
		}

		images, err := downloader.DownloadAll(req.Context(), body.PhotoURLs)
		if err != nil {
			return rehab.EstimationRequest{}, noop, &requestError{status: http.StatusUnprocessableEntity, code: "download_failed", err: err}
		}
		photos := make([]rehab.PhotoInput, len(images))
		for i, img := range images {
			photos[i] = img.Photo()
		}
		return rehab.EstimationRequest{Images: photos, SquareFootage: body.SquareFootage}, noop, nil

	default:
		return rehab.EstimationRequest{}, noop, &requestError{
			status: http.StatusUnsupportedMediaType,
			code:   "unsupported_media_type",
			err:    fmt.Errorf("expected multipart/form-data or application/json, got %q", mediaType),
		}
	}
}

func parseVisualizeRequest(req *http.Request) (rehab.PhotoInput, rehab.DesignChoices, func(), error) {
	mediaType, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))

	var choices rehab.DesignChoices
	if mediaType != "multipart/form-data" {
		if err := json.NewDecoder(req.Body).Decode(&choices); err != nil {
			return rehab.PhotoInput{}, choices, noop, bodyError(err)
		}
		return rehab.PhotoInput{}, choices, noop, nil
	}

	if err := req.ParseMultipartForm(multipartMemory); err != nil {
		return rehab.PhotoInput{}, choices, noop, bodyError(err)
	}
	cleanup := func() { req.MultipartForm.RemoveAll() }

	choices = rehab.DesignChoices{
		Room:        req.FormValue("room"),
		Style:       req.FormValue("style"),
		Flooring:    req.FormValue("flooring"),
		WallColor:   req.FormValue("wall_color"),
		Cabinets:    req.FormValue("cabinets"),
		Countertops: req.FormValue("countertops"),
		Fixtures:    req.FormValue("fixtures"),
	}

	photos, closeFiles, err := openPhotos(req.MultipartForm.File["photo"])
	if err != nil || len(photos) == 0 {
		return rehab.PhotoInput{}, choices, cleanup, err
	}
	return photos[0], choices, func() {
		closeFiles()
		cleanup()
	}, nil
}

func parseSquareFootage(values []string) (*float64, error) {
	if len(values) == 0 || strings.TrimSpace(values[0]) == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(values[0]), 64)
	if err != nil {
		return nil, &rehab.InvalidInputError{Reason: fmt.Sprintf("square_footage %q is not a number", values[0])}
	}
	return &v, nil
}

// openPhotos opens uploaded files as estimator input. The returned function
// closes every opened file.
func openPhotos(headers []*multipart.FileHeader) ([]rehab.PhotoInput, func(), error) {
	var files []multipart.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}

	photos := make([]rehab.PhotoInput, 0, len(headers))
	for i, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			closeAll()
			return nil, noop, &rehab.EncodingError{Index: i, Name: fh.Filename, Err: err}
		}
		files = append(files, f)
		photos = append(photos, rehab.PhotoInput{
			Name:     fh.Filename,
			MIMEType: fh.Header.Get("Content-Type"),
			Body:     f,
		})
	}
	return photos, closeAll, nil
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &requestError{status: http.StatusRequestEntityTooLarge, code: "request_too_large", err: err}
	}
	return &requestError{status: http.StatusBadRequest, code: "invalid_body", err: err}
}
