package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/seu-repo/voxdesk/internal/infrastructure/circuitbreaker"
	"github.com/seu-repo/voxdesk/internal/ports"
	"github.com/seu-repo/voxdesk/pkg/config"
)

// Client asks the conversation service for the assistant's next line.
type Client struct {
	url        string
	apiKey     string
	httpClient *circuitbreaker.HTTPClient
	log        *zap.Logger
}

func NewClient(cfg config.ResponderConfig, breaker config.CircuitBreakerConfig, log *zap.Logger) *Client {
	return &Client{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		httpClient: circuitbreaker.NewHTTPClient("responder", cfg.Timeout, breaker, log),
		log:        log,
	}
}

func (c *Client) Generate(ctx context.Context, in ports.GenerateRequest) (*ports.GenerateResponse, error) {
	if c.url == "" {
		return nil, fmt.Errorf("responder: url not configured")
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("responder: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("responder: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("responder: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("responder: API error status %d", resp.StatusCode)
	}

	var out ports.GenerateResponse
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("responder: decode response: %w", err)
	}

	c.log.Debug("Generated response",
		zap.String("call_control_id", in.CallControlID),
		zap.Int("turn", in.ClientState.ConversationTurn),
		zap.Int("history", len(out.ConversationHistory)),
	)

	return &out, nil
}
