package referral

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes returns referral routes
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Get("/me", h.Get)
	r.Put("/me", h.Assign)

	return r
}
