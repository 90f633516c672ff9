/**
 * @description
 * This file sets up the HTTP router for the investment-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for the browser client.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ideainvest/investment-service/internal/app"
)

// InvestmentRoutes creates and returns a new router for the investment service.
func InvestmentRoutes(h *InvestmentHandlers, sessions *app.SessionManager, internalKey string, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Internal endpoints, guarded by a shared service key.
	r.Group(func(r chi.Router) {
		r.Use(InternalKeyMiddleware(internalKey))
		r.Post("/sessions", h.CreateSessionHandler)
	})

	// Group routes that require an authenticated session.
	r.Group(func(r chi.Router) {
		r.Use(SessionAuthMiddleware(sessions))

		r.Post("/orders", h.SubmitOrderHandler)
		r.Get("/orders", h.ListOrdersHandler)
		r.Get("/orders/{orderID}", h.GetOrderHandler)

		r.Get("/projects/{projectID}/capacity", h.ProjectCapacityHandler)

		r.Delete("/sessions", h.DeleteSessionHandler)

		// Reporting endpoints
		r.Get("/reports/investors", h.InvestorCountHandler)
		r.Get("/reports/investment", h.InvestmentSumHandler)
		r.Get("/reports/investment/countrywise", h.CountrywiseInvestmentHandler)
		r.Get("/reports/investment/daily", h.DailyInvestmentHandler)
		r.Get("/reports/investment/monthly", h.MonthlyInvestmentHandler)
	})

	return r
}
