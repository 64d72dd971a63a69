package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthHandler(t *testing.T) {
	up := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	t.Run("all dependencies up", func(t *testing.T) {
		h := healthHandler(map[string]func(context.Context) error{"postgres": up, "redis": up})
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("redis down", func(t *testing.T) {
		h := healthHandler(map[string]func(context.Context) error{"postgres": up, "redis": down})
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected status 503, got %d", rr.Code)
		}

		var body struct {
			Success bool              `json:"success"`
			Data    map[string]string `json:"data"`
		}
		if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Success {
			t.Fatalf("expected success=false")
		}
		if body.Data["redis"] != "down" || body.Data["postgres"] != "up" {
			t.Fatalf("unexpected dependency status: %v", body.Data)
		}
	})
}
