// Package classifier is the HTTP client for the external pass/fail screenshot classifier.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"
)

const defaultTimeout = 20 * time.Second

// Image is one screenshot reference sent for classification.
type Image struct {
	URL  string `json:"url"`
	Hash string `json:"hash"`
}

// Request is the classification payload.
type Request struct {
	SubmissionID string            `json:"submission_id"`
	Type         string            `json:"type"`
	Attempt      int               `json:"attempt"`
	Images       []Image           `json:"images"`
	Meta         map[string]string `json:"meta,omitempty"`
}

// Result is the classifier verdict.
type Result struct {
	Passed     bool     `json:"passed"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`
}

// Client represents classifier HTTP client.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a new classifier client.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// Classify posts the screenshots and decodes the verdict.
func (c *Client) Classify(ctx context.Context, in Request) (*Result, error) {
	if c == nil || c.http == nil {
		return nil, errors.New("classifier request error: client is nil")
	}
	if c.baseURL == "" {
		return nil, errors.New("classifier config error: base_url is empty")
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("classifier request error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("classifier request error: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyRequestError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("classifier read error: status=%d: %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("classifier http error: status=%d body=%s", resp.StatusCode, truncate(string(body), 512))
	}

	var out Result
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("classifier decode error: %w", err)
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return nil, fmt.Errorf("classifier decode error: confidence %v out of range", out.Confidence)
	}
	return &out, nil
}

func classifyRequestError(ctx context.Context, err error) error {
	if isTimeoutError(ctx, err) {
		return fmt.Errorf("classifier timeout: %w", err)
	}
	if isNetworkError(err) {
		return fmt.Errorf("classifier network error: %w", err)
	}
	return fmt.Errorf("classifier request error: %w", err)
}

func isTimeoutError(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isNetworkError(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "...<truncated>"
	}
	return s
}
