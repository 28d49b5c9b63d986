package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"deployflow/internal/db"
)

// Routes constructs the chi router containing all API endpoints.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	allowed := a.config.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           int((10 * time.Minute).Seconds()),
	}))
	r.Use(httprate.Limit(300, time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", a.handleReady)
	r.Method("GET", "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/scripts", func(r chi.Router) {
			r.Get("/", a.handleListScripts)
			r.Post("/", a.handleCreateScript)
			r.Get("/{id}", a.handleGetScript)
			r.Put("/{id}", a.handleUpdateScript)
			r.Delete("/{id}", a.handleDeleteScript)
		})

		r.Route("/software", func(r chi.Router) {
			r.Get("/", a.handleListSoftware)
			r.Post("/", a.handleCreateSoftware)
			r.Get("/{id}", a.handleGetSoftware)
			r.Put("/{id}", a.handleUpdateSoftware)
			r.Delete("/{id}", a.handleDeleteSoftware)
		})

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", a.handleListDevices)
			r.Get("/{id}", a.handleGetDevice)
			r.Put("/{id}", a.handleUpdateDevice)
			r.Delete("/{id}", a.handleDeleteDevice)
			r.Get("/{id}/actions", a.handleListDeviceActions)
			r.Post("/{id}/actions", a.handleCreateDeviceAction)
		})

		r.Route("/profiles", func(r chi.Router) {
			r.Get("/", a.handleListProfiles)
			r.Post("/", a.handleCreateProfile)
			r.Get("/{id}", a.handleGetProfile)
			r.Put("/{id}", a.handleUpdateProfile)
			r.Delete("/{id}", a.handleDeleteProfile)
			r.Get("/{id}/tasks", a.handleListProfileTasks)
			r.Post("/{id}/tasks", a.handleCreateProfileTask)
			r.Put("/{id}/tasks/bulk", a.handleReplaceProfileTasks)
			r.Put("/{id}/tasks/{taskID}", a.handleUpdateProfileTask)
			r.Delete("/{id}/tasks/{taskID}", a.handleDeleteProfileTask)
			r.Post("/{id}/apply", a.handleApplyProfile)
			r.Post("/{id}/instantiate", a.handleInstantiateTemplate)
		})

		r.Route("/tokens", func(r chi.Router) {
			r.Use(a.requireAdmin)
			r.Get("/", a.handleListTokens)
			r.Post("/", a.handleCreateToken)
			r.Delete("/{id}", a.handleDeleteToken)
			r.Get("/{id}/install-script", a.handleTokenInstallScript)
		})

		r.Route("/images", func(r chi.Router) {
			r.Get("/", a.handleListImages)
			r.Post("/", a.handleCreateImage)
			r.Get("/{id}", a.handleGetImage)
			r.Delete("/{id}", a.handleDeleteImage)
			r.Post("/{id}/upload-url", a.handleImageUploadURL)
			r.Get("/{id}/download-url", a.handleImageDownloadURL)
		})

		r.Post("/enroll", a.handleEnroll)
		r.Post("/agent/heartbeat", a.handleHeartbeat)
		r.Post("/agent/actions/{id}/result", a.handleActionResult)

		r.Get("/actions/summary", a.handleActionsSummary)
	})

	return r, nil
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if a.store.DB != nil {
		if err := db.Ping(ctx, a.store.DB); err != nil {
			respondError(w, http.StatusServiceUnavailable, err)
			return
		}
	} else if err := a.store.ORM.WithContext(ctx).Exec("SELECT 1").Error; err != nil {
		respondError(w, http.StatusServiceUnavailable, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
