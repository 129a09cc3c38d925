package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/propdash/propdash/internal/rehab"
	"github.com/propdash/propdash/internal/relay"
	"github.com/propdash/propdash/internal/storage"
	"github.com/rs/zerolog/hlog"
)

// NotifyErrorResponse is the body of a failed notification request.
type NotifyErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// RegisterNotify mounts the notification relay endpoint. A nil notifier
// answers every valid request with 500.
func RegisterNotify(r chi.Router, notifier Notifier) {
	if notifier == nil {
		notifier = relay.New(nil, 0, nil)
	}

	r.Post("/notify", func(w http.ResponseWriter, req *http.Request) {
		req.Body = http.MaxBytesReader(w, req.Body, 64<<10)

		var body relay.Request
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeNotifyError(w, req, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}

		result, err := notifier.Notify(req.Context(), body)
		switch {
		case errors.Is(err, relay.ErrMissingMessage):
			writeNotifyError(w, req, http.StatusBadRequest, err.Error())
		case err != nil:
			hlog.FromRequest(req).Error().Err(err).Str("priority", body.Priority).Msg("notification relay failed")
			writeNotifyError(w, req, http.StatusInternalServerError, err.Error())
		default:
			render.JSON(w, req, result)
		}
	})
}

func writeNotifyError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, NotifyErrorResponse{Success: false, Error: msg})
}

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// RegisterNotificationHistory mounts the listing of relayed notifications,
// newest first.
func RegisterNotificationHistory(r chi.Router, history NotificationHistory) {
	r.Get("/notifications", func(w http.ResponseWriter, req *http.Request) {
		limit := defaultHistoryLimit
		if s := req.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				writeError(w, req, http.StatusBadRequest, ErrorResponse{
					Error:  rehab.CodeInvalidInput,
					Detail: "limit must be a positive integer",
				})
				return
			}
			limit = min(n, maxHistoryLimit)
		}

		notifications, err := history.RecentNotifications(limit)
		if err != nil {
			hlog.FromRequest(req).Error().Err(err).Msg("failed to list notifications")
			writeError(w, req, http.StatusInternalServerError, ErrorResponse{Error: rehab.CodeInternal})
			return
		}
		if notifications == nil {
			notifications = []storage.Notification{}
		}
		render.JSON(w, req, notifications)
	})
}
