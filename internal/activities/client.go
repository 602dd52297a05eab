package activities

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	appLog "signupboard/internal/log"
	"signupboard/internal/model"
)

// RequestIDHeader carries a per-request UUID so board and service logs can
// be correlated.
const RequestIDHeader = "X-Request-ID"

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 4 << 20

// Client talks to the Activity Service over its JSON HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each call. Zero leaves calls unbounded.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// NewClient creates a Client for the service rooted at baseURL, e.g.
// "http://127.0.0.1:8000".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListActivities fetches the full activity collection. The result keeps the
// key order of the response object.
func (c *Client) ListActivities(ctx context.Context) ([]model.Activity, error) {
	const op = "list activities"

	status, body, err := c.do(ctx, op, http.MethodGet, "/activities")
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		return nil, newServiceError(op, status, body)
	}

	list, err := decodeActivities(body)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return list, nil
}

// Signup registers email for the named activity and returns the service's
// confirmation message.
func (c *Client) Signup(ctx context.Context, activity, email string) (string, error) {
	return c.mutate(ctx, "signup", http.MethodPost, activityPath(activity, "signup", email))
}

// Unregister removes email from the named activity and returns the
// service's confirmation message.
func (c *Client) Unregister(ctx context.Context, activity, email string) (string, error) {
	return c.mutate(ctx, "unregister", http.MethodDelete, activityPath(activity, "unregister", email))
}

func (c *Client) mutate(ctx context.Context, op, method, path string) (string, error) {
	status, body, err := c.do(ctx, op, method, path)
	if err != nil {
		return "", err
	}
	if !isSuccess(status) {
		return "", newServiceError(op, status, body)
	}

	var res struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return "", &NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return res.Message, nil
}

func (c *Client) do(ctx context.Context, op, method, path string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return 0, nil, &NetworkError{Op: op, Err: err}
	}
	reqID := uuid.NewString()
	req.Header.Set(RequestIDHeader, reqID)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, &NetworkError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}

	appLog.Debug("activity service call",
		"op", op,
		"method", method,
		"path", req.URL.EscapedPath(),
		"status", resp.StatusCode,
		"request_id", reqID,
		"duration", time.Since(start),
	)
	return resp.StatusCode, body, nil
}

// activityPath builds /activities/{name}/{action}?email={email} with both
// values escaped the way a browser's encodeURIComponent would.
func activityPath(activity, action, email string) string {
	return "/activities/" + escapeComponent(activity) + "/" + action + "?email=" + escapeComponent(email)
}

// componentUnescaper undoes QueryEscape where encodeURIComponent differs:
// spaces become %20 rather than '+', and !'()* stay literal. A literal '+'
// is already %2B by then.
var componentUnescaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

func escapeComponent(s string) string {
	return componentUnescaper.Replace(url.QueryEscape(s))
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// decodeActivities walks the top-level object token by token so the
// activity order matches the response.
func decodeActivities(body []byte) ([]model.Activity, error) {
	dec := json.NewDecoder(bytes.NewReader(body))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	list := make([]model.Activity, 0)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected activity name, got %v", tok)
		}

		var a model.Activity
		if err := dec.Decode(&a); err != nil {
			return nil, fmt.Errorf("activity %q: %w", name, err)
		}
		a.Name = name
		list = append(list, a)
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after activity object")
	}
	return list, nil
}
