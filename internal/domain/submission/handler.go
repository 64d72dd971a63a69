package submission

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/taskhub/taskhub-api/internal/domain/pricing"
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

func actorFrom(r *http.Request) Actor {
	return Actor{ID: middleware.GetUserID(r.Context()), Role: middleware.GetRole(r.Context())}
}

// writeError maps service errors to responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		response.NotFound(w, "Submission not found")
	case errors.Is(err, ErrInvalidStateTransition):
		errorhandler.HandleError(r.Context(), w, http.StatusConflict, "INVALID_STATE_TRANSITION", "Submission cannot make this transition", err)
	case errors.Is(err, ErrForbidden):
		response.Forbidden(w, "Your role cannot perform this review")
	case errors.Is(err, ErrReasonRequired):
		response.ValidationError(w, map[string]string{"comment": "A reason is required when rejecting"})
	case errors.Is(err, ErrDuplicateSubmission):
		errorhandler.HandleError(r.Context(), w, http.StatusConflict, "DUPLICATE_SUBMISSION", "This content has already been rewarded", err)
	case errors.Is(err, ErrDuplicateImage):
		response.BadRequest(w, "The same image is attached more than once")
	case errors.Is(err, ErrNoImages), errors.Is(err, ErrInvalidType), errors.Is(err, ErrInvalidDecision):
		response.BadRequest(w, err.Error())
	case errors.Is(err, ErrMissingMeta):
		response.ValidationError(w, map[string]string{"meta": err.Error()})
	case errors.Is(err, pricing.ErrNoActiveVersion), errors.Is(err, pricing.ErrNoRateForType):
		errorhandler.HandleError(r.Context(), w, http.StatusServiceUnavailable, "PRICING_UNAVAILABLE", "Submissions are not being accepted right now", err)
	default:
		errorhandler.Internal(r.Context(), w, err)
	}
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid submission ID")
		return uuid.Nil, false
	}
	return id, true
}

// Create handles POST /submissions
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	in := req.toInput()
	in.OwnerID = middleware.GetUserID(r.Context())
	sub, err := h.svc.Submit(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, sub)
}

// List handles GET /submissions
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, limit := response.ParsePage(r)
	filter := &ListFilter{Limit: limit, Offset: (page - 1) * limit}

	q := r.URL.Query()
	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := ParseStatus(strings.TrimSpace(part))
			if err != nil {
				response.BadRequest(w, "Invalid status")
				return
			}
			filter.Status = append(filter.Status, st)
		}
	}
	if raw := q.Get("type"); raw != "" {
		if !Type(raw).Valid() {
			response.BadRequest(w, "Invalid type")
			return
		}
		filter.Type = Type(raw)
	}
	if raw := q.Get("owner_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(w, "Invalid owner_id")
			return
		}
		filter.OwnerID = &id
	}

	subs, total, err := h.svc.List(r.Context(), actorFrom(r), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.WithMeta(w, subs, response.NewMeta(total, page, limit))
}

// Get handles GET /submissions/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	sub, err := h.svc.Get(r.Context(), actorFrom(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, sub)
}

func decodeReview(w http.ResponseWriter, r *http.Request) (*ReviewRequest, bool) {
	var req ReviewRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return nil, false
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return nil, false
	}
	return &req, true
}

// MentorReview handles POST /submissions/{id}/mentor-review
func (h *Handler) MentorReview(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	req, ok := decodeReview(w, r)
	if !ok {
		return
	}

	out, err := h.svc.MentorReview(r.Context(), actorFrom(r), id, Decision(req.Decision), req.Comment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, out)
}

// ManagerReview handles POST /submissions/{id}/manager-review
func (h *Handler) ManagerReview(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	req, ok := decodeReview(w, r)
	if !ok {
		return
	}

	out, err := h.svc.ManagerReview(r.Context(), actorFrom(r), id, Decision(req.Decision), req.Comment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, out)
}

// ProcessFinance handles POST /submissions/{id}/finance
func (h *Handler) ProcessFinance(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	out, err := h.svc.ProcessFinance(r.Context(), actorFrom(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, out)
}
