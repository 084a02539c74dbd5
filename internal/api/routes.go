package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"

	"storefront/internal/models"
	"storefront/internal/ratelimit"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/api/v1/health" &&
					r.URL.Path != "/metrics"
			}),
		))
	}
}

// SetupRoutes configures the HTTP routes for the API. Every gated route runs
// through the admission middleware with its endpoint class policy: general
// API traffic, feed exports, and webhook intake each get their own limits.
// Authentication runs first so keyed requests get their quota tier.
func SetupRoutes(handlers *Handlers, config *models.Config, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	for _, opt := range opts {
		opt(router)
	}

	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)
	router.Use(OptionalAuth(handlers.storage))

	// Health endpoints bypass the gate so probes cannot be starved out by
	// tenant traffic.
	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	router.HandleFunc("/api/v1/health", handlers.HealthCheck).Methods("GET")

	apiPolicy, feedPolicy, webhookPolicy := ratelimit.DefaultPolicies(config.RateLimit)

	gated := func(policy ratelimit.Policy) mux.MiddlewareFunc {
		if !config.RateLimit.Enabled {
			return func(next http.Handler) http.Handler { return next }
		}
		return ratelimit.Middleware(handlers.gate, policy, slog.Default())
	}

	// Public feed exports: low-rate class, works keyed or anonymous.
	feedAPI := router.PathPrefix("/api/v1/feed").Subrouter()
	feedAPI.Use(gated(feedPolicy))
	feedAPI.HandleFunc("/products", handlers.ExportProductFeed).Methods("GET")

	// Webhook intake from payment and logistics providers.
	webhookAPI := router.PathPrefix("/api/v1/webhooks").Subrouter()
	webhookAPI.Use(gated(webhookPolicy))
	webhookAPI.HandleFunc("/{provider}", handlers.ReceiveWebhook).Methods("POST")

	// Key administration.
	adminAPI := router.PathPrefix("/api/v1/admin").Subrouter()
	adminAPI.Use(gated(apiPolicy))
	if config.Security.EnableAuth {
		adminAPI.Use(authMiddleware(handlers.storage))
		adminAPI.Use(RequirePermission(PermissionAdmin))
	}
	adminAPI.HandleFunc("/keys", handlers.ListAPIKeys).Methods("GET")
	adminAPI.HandleFunc("/keys", handlers.CreateAPIKey).Methods("POST")
	adminAPI.HandleFunc("/keys/{id}", handlers.GetAPIKey).Methods("GET")
	adminAPI.HandleFunc("/keys/{id}", handlers.UpdateAPIKey).Methods("PATCH")
	adminAPI.HandleFunc("/keys/{id}", handlers.DeleteAPIKey).Methods("DELETE")

	// Authenticated API surface.
	readAPI := router.PathPrefix("/api/v1").Subrouter()
	readAPI.Use(gated(apiPolicy))
	if config.Security.EnableAuth {
		readAPI.Use(authMiddleware(handlers.storage))
		readAPI.Use(RequirePermission(PermissionRead))
	}
	readAPI.HandleFunc("/usage", handlers.GetUsage).Methods("GET")

	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		errorResp := models.NewErrorResponse("Method not allowed", models.ErrorCodeInvalidRequest)
		json.NewEncoder(w).Encode(errorResp)
	})

	return router
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"client_ip", ratelimit.ClientIP(r))
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware handles panics
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("Panic recovered", "error", err, "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				errorResp := models.NewErrorResponse("Internal server error", models.ErrorCodeInternalError)
				json.NewEncoder(w).Encode(errorResp)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
