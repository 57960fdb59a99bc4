package telnyx

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

	"go.uber.org/zap"

	"github.com/seu-repo/voxdesk/internal/infrastructure/circuitbreaker"
	"github.com/seu-repo/voxdesk/internal/ports"
	"github.com/seu-repo/voxdesk/pkg/config"
)

const (
	DefaultBaseURL = "https://api.telnyx.com/v2"

	// CodeCallEnded is returned for actions on a call the caller already hung up.
	CodeCallEnded = "90018"

	maxErrorBody = 64 << 10
)

// APIError is a non-2xx answer from the call control API.
type APIError struct {
	StatusCode int
	Code       string
	Title      string
	Detail     string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("telnyx: status %d", e.StatusCode)
	if e.Code != "" {
		msg += " code " + e.Code
	}
	if e.Title != "" {
		msg += ": " + e.Title
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// Is lets callers match a hung-up call with errors.Is(err, ports.ErrCallEnded).
func (e *APIError) Is(target error) bool {
	return target == ports.ErrCallEnded && e.Code == CodeCallEnded
}

// IsCallEnded reports whether err means the call was already over.
func IsCallEnded(err error) bool {
	return errors.Is(err, ports.ErrCallEnded)
}

type errorResponse struct {
	Errors []struct {
		Code   string `json:"code"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// Client issues call control actions.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *circuitbreaker.HTTPClient
	log        *zap.Logger
}

func NewClient(cfg config.TelnyxConfig, breaker config.CircuitBreakerConfig, log *zap.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		httpClient: circuitbreaker.NewHTTPClient("telnyx", cfg.Timeout, breaker, log),
		log:        log,
	}
}

func (c *Client) Answer(ctx context.Context, callControlID string, req ports.AnswerRequest) error {
	return c.action(ctx, callControlID, "answer", req)
}

func (c *Client) Speak(ctx context.Context, callControlID string, req ports.SpeakRequest) error {
	return c.action(ctx, callControlID, "speak", req)
}

func (c *Client) GatherUsingAI(ctx context.Context, callControlID string, req ports.GatherRequest) error {
	return c.action(ctx, callControlID, "gather_using_ai", req)
}

func (c *Client) action(ctx context.Context, callControlID, action string, body any) error {
	if callControlID == "" {
		return fmt.Errorf("telnyx: %s requires a call control id", action)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("telnyx: marshal %s request: %w", action, err)
	}

	endpoint := fmt.Sprintf("%s/calls/%s/actions/%s", c.baseURL, url.PathEscape(callControlID), action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("telnyx: create %s request: %w", action, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telnyx: send %s request: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		c.log.Debug("Call control action accepted",
			zap.String("action", action),
			zap.String("call_control_id", callControlID),
		)
		return nil
	}

	return decodeError(resp)
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return apiErr
	}

	var body errorResponse
	if err := json.Unmarshal(data, &body); err == nil && len(body.Errors) > 0 {
		apiErr.Code = body.Errors[0].Code
		apiErr.Title = body.Errors[0].Title
		apiErr.Detail = body.Errors[0].Detail
		return apiErr
	}

	apiErr.Detail = strings.TrimSpace(string(data))
	return apiErr
}
