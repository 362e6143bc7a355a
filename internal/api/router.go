package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Rrens/imagegen-studio/internal/api/handler"
	customMiddleware "github.com/Rrens/imagegen-studio/internal/api/middleware"
	"github.com/Rrens/imagegen-studio/internal/config"
	"github.com/Rrens/imagegen-studio/internal/domain"
	"github.com/Rrens/imagegen-studio/internal/llm"
)

// Dependencies are the wired services the router exposes
type Dependencies struct {
	Generation    handler.Generator
	Conversations handler.Conversations
	References    handler.References
	Images        domain.ImageStore
	Keys          handler.KeyStore
	Tester        handler.ConnectionTester
	Registry      *llm.Registry
	// Limiter guards generation routes. Nil disables rate limiting.
	Limiter customMiddleware.Limiter
	Pingers map[string]handler.Pinger
}

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Server.MiddlewareTimeout))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	generateHandler := handler.NewGenerateHandler(deps.Generation, deps.Keys)
	conversationHandler := handler.NewConversationHandler(deps.Conversations, deps.Keys)
	referenceHandler := handler.NewReferenceHandler(deps.References)
	imageHandler := handler.NewImageHandler(deps.Images)
	settingsHandler := handler.NewSettingsHandler(deps.Keys, deps.Tester)

	var limited []func(http.Handler) http.Handler
	if deps.Limiter != nil {
		rateLimitMiddleware := customMiddleware.NewRateLimitMiddleware(deps.Limiter, "generate")
		limited = append(limited, rateLimitMiddleware.Limit)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(deps.Pingers))
		r.Get("/models", handler.ListModels(deps.Registry))
		r.Get("/styles", handler.ListStyles)

		// Settings
		r.Route("/settings", func(r chi.Router) {
			r.Get("/api-key/status", settingsHandler.APIKeyStatus)
			r.Post("/api-key", settingsHandler.SetAPIKey)
			r.Delete("/api-key", settingsHandler.RemoveAPIKey)
			r.Post("/test-connection", settingsHandler.TestConnection)
		})

		// Generation routes
		r.With(limited...).Post("/generate", generateHandler.Generate)
		r.Post("/generate/cancel/{requestID}", generateHandler.Cancel)

		// Reference images
		r.Route("/reference", func(r chi.Router) {
			r.Post("/upload", referenceHandler.Upload)
			r.Get("/{referenceID}/thumbnail", referenceHandler.Thumbnail)
			r.Delete("/{referenceID}", referenceHandler.Delete)
		})

		// Stored images
		r.Get("/images/{project}/{filename}", imageHandler.Image)
		r.Get("/images/{project}/thumbnails/{filename}", imageHandler.Thumbnail)

		// Conversation routes
		r.Route("/conversation", func(r chi.Router) {
			r.With(limited...).Post("/edit", conversationHandler.Edit)
			r.Post("/sessions", conversationHandler.CreateSession)
			r.Get("/sessions", conversationHandler.ListSessions)
			r.Get("/sessions/{sessionID}", conversationHandler.GetSession)
			r.Delete("/sessions/{sessionID}", conversationHandler.DeleteSession)
			r.Post("/undo/{sessionID}", conversationHandler.Undo)
			r.Post("/revert", conversationHandler.Revert)
			r.Post("/branch", conversationHandler.Branch)
			r.Post("/switch-branch/{sessionID}/{branchID}", conversationHandler.SwitchBranch)
			r.Post("/subject-lock", conversationHandler.SubjectLock)
			r.Get("/token-usage/{sessionID}", conversationHandler.TokenUsage)
		})
	})

	return r
}
