package referral

import (
	"errors"
	"net/http"

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

// Assign handles PUT /referrals/me
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	ref, err := h.svc.Assign(r.Context(), middleware.GetUserID(r.Context()), req.ReferrerID)
	if err != nil {
		switch {
		case errors.Is(err, ErrSelfReferral):
			response.BadRequest(w, "You cannot refer yourself")
		case errors.Is(err, ErrReferralCycleDetected):
			response.Error(w, http.StatusConflict, "REFERRAL_CYCLE", "Referrer would create a cycle")
		case errors.Is(err, ErrReferrerAlreadySet):
			response.Error(w, http.StatusConflict, "REFERRER_ALREADY_SET", "Referrer is already set")
		default:
			errorhandler.Internal(r.Context(), w, err)
		}
		return
	}
	response.OK(w, ref)
}

// Get handles GET /referrals/me
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	overview, err := h.svc.Overview(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		errorhandler.Internal(r.Context(), w, err)
		return
	}
	response.OK(w, overview)
}
