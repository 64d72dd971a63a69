package pricing

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/taskhub/taskhub-api/internal/middleware"
	"github.com/taskhub/taskhub-api/internal/pkg/errorhandler"
	"github.com/taskhub/taskhub-api/internal/pkg/response"
	"github.com/taskhub/taskhub-api/internal/pkg/validator"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Current handles GET /pricing/current
func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Current(r.Context())
	if err != nil {
		if errors.Is(err, ErrNoActiveVersion) {
			response.NotFound(w, "No pricing published yet")
			return
		}
		errorhandler.Internal(r.Context(), w, err)
		return
	}
	response.OK(w, v)
}

// List handles GET /admin/pricing
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	versions, err := h.svc.List(r.Context(), limit)
	if err != nil {
		errorhandler.Internal(r.Context(), w, err)
		return
	}
	response.OK(w, versions)
}

// Publish handles POST /admin/pricing
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	v, err := h.svc.Publish(r.Context(), middleware.GetUserID(r.Context()), req.toRates(), req.ExchangeRateBps, req.Note)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidRates), errors.Is(err, ErrInvalidExchange):
			response.BadRequest(w, err.Error())
		default:
			errorhandler.Internal(r.Context(), w, err)
		}
		return
	}
	response.Created(w, v)
}
