package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ReviewHarvester/internal/config"
	"ReviewHarvester/internal/domain"
	"ReviewHarvester/internal/ports"
	"ReviewHarvester/internal/retry"
)

// Client talks to a self-hosted inference service that labels review text.
type Client struct {
	endpoint string
	apiKey   string
	policy   retry.Policy
	http     *http.Client
	logger   *slog.Logger
}

var _ ports.Classifier = (*Client)(nil)

// NewClient creates a reusable HTTP client.
func NewClient(cfg config.ClassifierConfig, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		policy:   cfg.Retry,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Classify sends the review text and reads back labels with a confidence.
func (c *Client) Classify(ctx context.Context, text string) (domain.Classification, error) {
	payload := map[string]any{"text": text}

	var resp struct {
		Labels     []string `json:"labels"`
		Confidence float64  `json:"confidence"`
		Rationale  string   `json:"rationale"`
	}

	_, err := c.policy.Do(ctx, func(ctx context.Context, _ int) error {
		return c.post(ctx, "/classify", payload, &resp)
	}, func(attempt int, delay time.Duration, err error) {
		c.logger.Warn("inference request failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	})
	if err != nil {
		return domain.Classification{}, err
	}

	return domain.Classification{
		Labels:     resp.Labels,
		Confidence: resp.Confidence,
		Rationale:  resp.Rationale,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return retry.Permanent(ctx.Err())
		}
		return fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		closeErr := resp.Body.Close()
		err := fmt.Errorf("unexpected status %s", resp.Status)
		if closeErr != nil {
			err = fmt.Errorf("unexpected status %s, close body: %v", resp.Status, closeErr)
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return err
		}
		return retry.Permanent(err)
	}

	if v == nil {
		if err := resp.Body.Close(); err != nil {
			return fmt.Errorf("close response body: %w", err)
		}
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		_ = resp.Body.Close()
		return fmt.Errorf("decode response: %w", err)
	}

	if err := resp.Body.Close(); err != nil {
		return fmt.Errorf("close response body: %w", err)
	}

	return nil
}
