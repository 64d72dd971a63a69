package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestClassifySuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/classify" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Images) != 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"passed":true,"confidence":0.93,"reasons":["screenshot matches note"]}`))
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, "test-token", time.Second)
	res, err := client.Classify(context.Background(), Request{
		SubmissionID: "s-1",
		Type:         "note",
		Attempt:      1,
		Images:       []Image{{URL: "https://cdn/x.jpg", Hash: "abc"}},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !res.Passed || res.Confidence != 0.93 || len(res.Reasons) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestClassifyHTTPErrorIncludesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("model offline"))
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, "", time.Second)
	_, err := client.Classify(context.Background(), Request{SubmissionID: "s-1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "status=502") || !strings.Contains(err.Error(), "model offline") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClassifyTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, "", time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Classify(ctx, Request{SubmissionID: "s-1"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "classifier timeout") {
		t.Fatalf("expected timeout classification, got %v", err)
	}
}

func TestClassifyRejectsOutOfRangeConfidence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"passed":true,"confidence":1.7}`))
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, "", time.Second)
	if _, err := client.Classify(context.Background(), Request{}); err == nil {
		t.Fatal("expected decode error for confidence above 1")
	}
}
