package submission

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taskhub/taskhub-api/internal/domain/role"
	"github.com/taskhub/taskhub-api/internal/middleware"
)

// Routes returns submission routes
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.With(middleware.RequireRole(role.User)).Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)

	r.With(middleware.RequireRole(role.Mentor, role.Admin)).Post("/{id}/mentor-review", h.MentorReview)
	r.With(middleware.RequireRole(role.Manager, role.Admin)).Post("/{id}/manager-review", h.ManagerReview)
	r.With(middleware.RequireRole(role.Finance, role.Admin)).Post("/{id}/finance", h.ProcessFinance)

	return r
}
