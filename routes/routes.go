package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/llmpool/gateway/app"
)

// SetupRoutes configures all application routes and middleware.
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)

	// Client-facing inference API. Client auth is unchecked passthrough
	// per the external interface contract: no API key is validated here.
	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat/completions", deps.InferenceHandler.HandleChatCompletions)
		r.Post("/messages", deps.InferenceHandler.HandleMessages)
		r.Get("/models", deps.InferenceHandler.HandleModels)
	})

	// Admin API. Login is unauthenticated (it issues the session); every
	// other route requires either the bare admin password or a session
	// token from login, enforced by AuthMiddleware.
	r.Route("/admin", func(r chi.Router) {
		r.Post("/login", deps.AdminHandler.HandleLogin)

		r.Group(func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)

			r.Route("/providers", func(r chi.Router) {
				r.Get("/", deps.AdminHandler.HandleListProviders)
				r.Post("/", deps.AdminHandler.HandleCreateProvider)
				r.Put("/{id}", deps.AdminHandler.HandleUpdateProvider)
				r.Delete("/{id}", deps.AdminHandler.HandleDeleteProvider)
				r.Post("/{id}/fetch-models", deps.AdminHandler.HandleFetchModels)
			})

			r.Route("/endpoints", func(r chi.Router) {
				r.Get("/", deps.AdminHandler.HandleListEndpoints)
				r.Post("/", deps.AdminHandler.HandleCreateEndpoint)
				r.Post("/batch", deps.AdminHandler.HandleCreateEndpointsBatch)
				r.Put("/{id}", deps.AdminHandler.HandleUpdateEndpoint)
				r.Delete("/{id}", deps.AdminHandler.HandleDeleteEndpoint)
			})

			r.Route("/pools", func(r chi.Router) {
				r.Get("/", deps.AdminHandler.HandleListPoolConfigs)
				r.Put("/{tag}/config", deps.AdminHandler.HandleUpdatePoolConfig)
			})

			r.Get("/stats", deps.AdminHandler.HandleStats)

			r.Route("/logs", func(r chi.Router) {
				r.Get("/", deps.AdminHandler.HandleListLogs)
				r.Delete("/", deps.AdminHandler.HandleClearLogs)
				r.Get("/export", deps.AdminHandler.HandleExportLogs)
				r.Get("/stream", deps.AdminHandler.HandleLogsStream)
			})
		})
	})

	// Static admin UI.
	fileServer := http.FileServer(http.Dir("./static"))
	r.Handle("/*", fileServer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
