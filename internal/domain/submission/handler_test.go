package submission_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/taskhub/taskhub-api/internal/domain/role"
	"github.com/taskhub/taskhub-api/internal/domain/submission"
	"github.com/taskhub/taskhub-api/internal/middleware"
)

// fakeAuth trusts X-Test-User and X-Test-Role in place of a token.
func fakeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.Header.Get("X-Test-User"))
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), middleware.UserIDKey, id)
		ctx = context.WithValue(ctx, middleware.RoleKey, role.Role(r.Header.Get("X-Test-Role")))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

func do(t *testing.T, h http.Handler, method, path string, userID uuid.UUID, r role.Role, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Test-User", userID.String())
	req.Header.Set("X-Test-Role", string(r))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return rr, env
}

func createBody(seed string) map[string]any {
	return map[string]any{
		"account_ref": "wx-device-1",
		"type":        "note",
		"images": []map[string]string{
			{"url": fmt.Sprintf("https://cdn.example.com/%s.jpg", seed), "hash": hashOf(seed)},
		},
		"meta": map[string]string{"note_url": "https://xhs.example.com/note/1", "note_title": "spring"},
	}
}

func TestHandlerCreateReturnsPendingSubmission(t *testing.T) {
	h := newHarness(t)
	router := submission.NewHandler(h.svc).Routes(fakeAuth)
	owner := uuid.New()

	rr, env := do(t, router, http.MethodPost, "/", owner, role.User, createBody("a"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var sub struct {
		ID      uuid.UUID `json:"id"`
		OwnerID uuid.UUID `json:"owner_id"`
		Status  string    `json:"status"`
	}
	if err := json.Unmarshal(env.Data, &sub); err != nil {
		t.Fatalf("decode submission: %v", err)
	}
	if sub.Status != string(submission.StatusPending) {
		t.Fatalf("expected status pending, got %q", sub.Status)
	}
	if sub.OwnerID != owner {
		t.Fatalf("expected owner %s, got %s", owner, sub.OwnerID)
	}
}

func TestHandlerCreateRequiresUserRole(t *testing.T) {
	h := newHarness(t)
	router := submission.NewHandler(h.svc).Routes(fakeAuth)

	rr, _ := do(t, router, http.MethodPost, "/", uuid.New(), role.Mentor, createBody("a"))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestHandlerCreateValidatesBody(t *testing.T) {
	h := newHarness(t)
	router := submission.NewHandler(h.svc).Routes(fakeAuth)

	body := createBody("a")
	body["images"] = []map[string]string{{"url": "https://cdn.example.com/a.jpg", "hash": "not-a-hash"}}

	rr, env := do(t, router, http.MethodPost, "/", uuid.New(), role.User, body)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
	if env.Error == nil || env.Error.Details["images[0].hash"] == "" {
		t.Fatalf("expected images[0].hash error, got %+v", env.Error)
	}
}

func TestHandlerManagerReviewBeforeMentorIsConflict(t *testing.T) {
	h := newHarness(t)
	router := submission.NewHandler(h.svc).Routes(fakeAuth)
	sub := h.submit(t, uuid.New())

	rr, env := do(t, router, http.MethodPost, "/"+sub.ID.String()+"/manager-review", h.manager.ID, role.Manager,
		map[string]string{"decision": "approve"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if env.Error == nil || env.Error.Code != "INVALID_STATE_TRANSITION" {
		t.Fatalf("expected INVALID_STATE_TRANSITION, got %+v", env.Error)
	}
}

func TestHandlerRejectWithoutCommentIsValidationError(t *testing.T) {
	h := newHarness(t)
	router := submission.NewHandler(h.svc).Routes(fakeAuth)
	sub := h.toManagerReview(t, uuid.New())

	rr, _ := do(t, router, http.MethodPost, "/"+sub.ID.String()+"/manager-review", h.manager.ID, role.Manager,
		map[string]string{"decision": "reject"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
	if got := h.status(t, sub.ID); got != submission.StatusManagerReview {
		t.Fatalf("expected submission to stay in manager_review, got %s", got)
	}
}

func TestHandlerGetHidesOtherUsersSubmission(t *testing.T) {
	h := newHarness(t)
	router := submission.NewHandler(h.svc).Routes(fakeAuth)
	sub := h.submit(t, uuid.New())

	rr, _ := do(t, router, http.MethodGet, "/"+sub.ID.String(), uuid.New(), role.User, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}
