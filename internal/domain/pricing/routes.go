package pricing

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taskhub/taskhub-api/internal/middleware"
)

// Routes exposes the active pricing to any signed-in user
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/current", h.Current)
	return r
}

// AdminRoutes returns pricing management routes
func (h *Handler) AdminRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(middleware.RequireAdmin())

	r.Get("/", h.List)
	r.Post("/", h.Publish)

	return r
}
