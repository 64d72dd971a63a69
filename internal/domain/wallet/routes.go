package wallet

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taskhub/taskhub-api/internal/middleware"
)

// Routes returns the caller's wallet routes
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Get("/", h.Get)
	r.Get("/transactions", h.ListMine)
	r.Get("/settlements", h.ListSettlements)
	r.Post("/exchange", h.Exchange)

	return r
}

// FinanceRoutes returns payout routes for finance staff
func (h *Handler) FinanceRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(middleware.RequireFinance())

	r.Get("/transactions", h.ListForFinance)
	r.Post("/payouts", h.Payout)

	return r
}

// AdminRoutes returns ledger audit and adjustment routes
func (h *Handler) AdminRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.With(middleware.RequireFinance()).Get("/{userID}/reconcile", h.Reconcile)
	r.With(middleware.RequireAdmin()).Post("/adjustments", h.Adjust)

	return r
}
