package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/schedule-notify/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/schedule-notify/internal/http/middleware"
	"github.com/wolfman30/schedule-notify/pkg/logging"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds router configuration. Nil handlers leave their routes unmounted.
type Config struct {
	Logger          *logging.Logger
	ActiveSchedules *handlers.ActiveSchedulesHandler
	ChannelEvents   *handlers.ChannelEventsHandler
	Admin           *handlers.AdminHandler
	AdminAuthSecret string
	MetricsHandler  http.Handler
	Database        Pinger
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Get("/health", healthHandler(cfg.Database))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.ChannelEvents != nil {
		r.Post("/webhooks/channel/events", cfg.ChannelEvents.Receive)
	}

	if cfg.ActiveSchedules != nil {
		r.Route("/api/v1", func(api chi.Router) {
			api.Use(httpmiddleware.RequireAPIKey)
			api.Post("/active-schedules", cfg.ActiveSchedules.Submit)
		})
	}

	if cfg.Admin != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret, cfg.Logger))
			admin.Get("/settings/{settingID}/extracts", cfg.Admin.ListExtracts)
			admin.Post("/settings/{settingID}/extracts/manual", cfg.Admin.RunManualExtract)
			admin.Post("/messages/{uuid}/resend", cfg.Admin.ResendMessage)
			admin.Get("/calendar/{date}", cfg.Admin.CalendarDay)
		})
	}

	return r
}

func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				status, code = "degraded", http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}
