package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JezSurfaceIT/secdevops-cicd-pipeline/internal/platform/requestid"
)

type apiClient struct {
	baseURL   string
	requestID string
	http      *http.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	// Without an id the service assigns one.
	id, err := requestid.New()
	if err != nil {
		id = ""
	}
	return &apiClient{
		baseURL:   baseURL,
		requestID: id,
		http:      &http.Client{Timeout: timeout},
	}
}

// apiError is a non-2xx response from the service.
type apiError struct {
	Status    int
	Message   string
	RequestID string
}

func (e *apiError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("status=%d: %s (request_id=%s)", e.Status, e.Message, e.RequestID)
	}
	return fmt.Sprintf("status=%d: %s", e.Status, e.Message)
}

func (c *apiClient) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	if c.requestID != "" {
		req.Header.Set("X-Request-Id", c.requestID)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var failure struct {
			Error     string `json:"error"`
			RequestID string `json:"request_id"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &failure) == nil && failure.Error != "" {
			msg = failure.Error
		}
		return body, &apiError{Status: resp.StatusCode, Message: msg, RequestID: failure.RequestID}
	}
	return body, nil
}

func (c *apiClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *apiClient) post(ctx context.Context, path string, in any) ([]byte, error) {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req)
}
