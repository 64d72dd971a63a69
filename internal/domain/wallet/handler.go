package wallet

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

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

// Get returns the caller's wallet.
// GET /wallet
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	wallet, err := h.svc.GetWallet(r.Context(), userID)
	if err != nil {
		errorhandler.Internal(r.Context(), w, err)
		return
	}
	response.OK(w, wallet)
}

// ListMine lists the caller's transactions.
// GET /wallet/transactions
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}
	filter.UserID = &userID
	h.list(w, r, filter)
}

// ListForFinance lists transactions across users, pending ones by default.
// GET /finance/transactions
func (h *Handler) ListForFinance(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(w, "Invalid user_id")
			return
		}
		filter.UserID = &id
	}
	if r.URL.Query().Get("status") == "" {
		filter.Status = StatusPending
	}
	h.list(w, r, filter)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, filter *ListFilter) {
	page, limit := response.ParsePage(r)
	filter.Limit = limit
	filter.Offset = (page - 1) * limit

	txs, total, err := h.svc.ListTransactions(r.Context(), filter)
	if err != nil {
		errorhandler.Internal(r.Context(), w, err)
		return
	}
	if txs == nil {
		txs = []*Transaction{}
	}
	response.WithMeta(w, txs, response.NewMeta(total, page, limit))
}

// ListSettlements lists the caller's payouts and exchanges.
// GET /wallet/settlements
func (h *Handler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	page, limit := response.ParsePage(r)

	items, total, err := h.svc.ListSettlements(r.Context(), userID, limit, (page-1)*limit)
	if err != nil {
		errorhandler.Internal(r.Context(), w, err)
		return
	}
	if items == nil {
		items = []*Settlement{}
	}
	response.WithMeta(w, items, response.NewMeta(total, page, limit))
}

func parseFilter(w http.ResponseWriter, r *http.Request) (*ListFilter, bool) {
	q := r.URL.Query()
	filter := &ListFilter{
		Type:   TransactionType(q.Get("type")),
		Status: TransactionStatus(q.Get("status")),
	}
	if filter.Type != "" && !filter.Type.Valid() {
		response.BadRequest(w, "Invalid transaction type")
		return nil, false
	}
	if filter.Status != "" && filter.Status != StatusPending && filter.Status != StatusPaid {
		response.BadRequest(w, "Invalid status")
		return nil, false
	}
	if raw := q.Get("submission_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(w, "Invalid submission_id")
			return nil, false
		}
		filter.SubmissionID = &id
	}
	return filter, true
}

// Exchange redeems points.
// POST /wallet/exchange
func (h *Handler) Exchange(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req ExchangeRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	result, err := h.svc.ExchangePoints(r.Context(), userID, req.Points)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAmount):
			response.BadRequest(w, "Points must be greater than zero")
		case errors.Is(err, ErrAmountTooLarge):
			response.BadRequest(w, "Points exceed the exchangeable maximum")
		case errors.Is(err, ErrInsufficientPoints):
			response.Conflict(w, "Insufficient points")
		default:
			errorhandler.Internal(r.Context(), w, err)
		}
		return
	}
	response.OK(w, result)
}

// Payout marks transactions paid.
// POST /finance/payouts
func (h *Handler) Payout(w http.ResponseWriter, r *http.Request) {
	var req PayoutRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	paid, err := h.svc.MarkPaid(r.Context(), req.TransactionIDs)
	if err != nil {
		errorhandler.Internal(r.Context(), w, err)
		return
	}
	response.OK(w, PayoutResponse{PaidCount: paid})
}

// Adjust books a manual accrual.
// POST /admin/wallets/adjustments
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	id, err := h.svc.Credit(r.Context(), req.UserID, req.Amount, TypeAdjustment, uuid.NullUUID{}, req.Note)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidBeneficiary):
			response.BadRequest(w, "Invalid adjustment")
		default:
			errorhandler.Internal(r.Context(), w, err)
		}
		return
	}
	response.Created(w, map[string]uuid.UUID{"transaction_id": id})
}

// Reconcile reports a wallet's invariant status.
// GET /admin/wallets/{userID}/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		response.BadRequest(w, "Invalid user id")
		return
	}

	rec, err := h.svc.Reconcile(r.Context(), userID)
	if err != nil {
		errorhandler.Internal(r.Context(), w, err)
		return
	}
	problems := rec.Problems()
	if problems == nil {
		problems = []string{}
	}
	response.OK(w, ReconciliationResponse{Reconciliation: rec, Consistent: len(problems) == 0, Problems: problems})
}
