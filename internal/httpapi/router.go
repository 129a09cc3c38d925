package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/propdash/propdash/internal/download"
	"github.com/propdash/propdash/internal/rehab"
	"github.com/propdash/propdash/internal/relay"
	"github.com/propdash/propdash/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// Estimator produces rehab estimates. *rehab.Service implements it.
type Estimator interface {
	Analyze(ctx context.Context, req rehab.EstimationRequest) (*rehab.RehabEstimate, error)
	VisualizeRoom(ctx context.Context, photo rehab.PhotoInput, choices rehab.DesignChoices) (*rehab.VisualizedRoom, error)
}

// PhotoDownloader fetches remote photos. *download.ImageDownloader
// implements it.
type PhotoDownloader interface {
	DownloadAll(ctx context.Context, urls []string) ([]*download.Image, error)
}

// Notifier relays notifications. *relay.Relay implements it.
type Notifier interface {
	Notify(ctx context.Context, req relay.Request) (*relay.Result, error)
}

// NotificationHistory lists relayed notifications. *storage.SQLiteStore
// implements it.
type NotificationHistory interface {
	RecentNotifications(limit int) ([]storage.Notification, error)
}

// Deps are the collaborators of the HTTP API.
type Deps struct {
	Logger     zerolog.Logger
	Estimator  Estimator
	Downloader PhotoDownloader
	Notifier   Notifier
	// History is optional; without it /api/notifications is not mounted.
	History NotificationHistory

	// EstimateTimeout bounds a single estimate request. Zero means no limit
	// beyond the client's own.
	EstimateTimeout time.Duration
	// RateLimitPerMinute limits estimate requests per client IP. Zero
	// disables rate limiting.
	RateLimitPerMinute int
}

// NewRouter builds the HTTP API.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(d.Logger))
	r.Use(hlog.RequestIDHandler("reqId", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("http request")
	}))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]bool{"ok": true})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Group(func(r chi.Router) {
			if d.RateLimitPerMinute > 0 {
				// Protect the model quota
				r.Use(httprate.LimitByIP(d.RateLimitPerMinute, time.Minute))
			}
			RegisterEstimate(r, EstimateDeps{
				Estimator:  d.Estimator,
				Downloader: d.Downloader,
				Timeout:    d.EstimateTimeout,
			})
		})

		RegisterNotify(r, d.Notifier)
		if d.History != nil {
			RegisterNotificationHistory(r, d.History)
		}
	})

	return r
}
