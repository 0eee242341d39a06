package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ReviewHarvester/internal/config"
	"ReviewHarvester/internal/domain"
	"ReviewHarvester/internal/ports"
	"ReviewHarvester/internal/retry"
)

// ChatGPTClassifier implements ports.Classifier backed by OpenAI-compatible chat completions.
type ChatGPTClassifier struct {
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
	policy       retry.Policy
	httpClient   *http.Client
	logger       *slog.Logger
}

var _ ports.Classifier = (*ChatGPTClassifier)(nil)

// NewChatGPTClassifier builds a classifier from configuration.
func NewChatGPTClassifier(cfg config.ClassifierConfig, logger *slog.Logger) *ChatGPTClassifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ChatGPTClassifier{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		systemPrompt: systemPrompt(cfg.Categories),
		policy:       cfg.Retry,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger,
	}
}

// Classify asks the model for categories, a short rationale and a confidence.
func (c *ChatGPTClassifier) Classify(ctx context.Context, text string) (domain.Classification, error) {
	if c == nil {
		return domain.Classification{}, fmt.Errorf("chatgpt classifier is nil")
	}
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return domain.Classification{}, fmt.Errorf("chatgpt classifier misconfigured")
	}

	body, err := json.Marshal(map[string]any{
		"model":           c.model,
		"temperature":     0.1,
		"response_format": map[string]string{"type": "json_object"},
		"messages": []map[string]string{
			{"role": "system", "content": c.systemPrompt},
			{"role": "user", "content": userPrompt(text)},
		},
	})
	if err != nil {
		return domain.Classification{}, fmt.Errorf("marshal chatgpt payload: %w", err)
	}

	var result domain.Classification
	_, err = c.policy.Do(ctx, func(ctx context.Context, _ int) error {
		content, err := c.complete(ctx, body)
		if err != nil {
			return err
		}
		result, err = parseClassification(content)
		return err
	}, func(attempt int, delay time.Duration, err error) {
		c.logger.Warn("chatgpt request failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	})
	if err != nil {
		return domain.Classification{}, err
	}
	return result, nil
}

func (c *ChatGPTClassifier) complete(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", retry.Permanent(ctx.Err())
		}
		return "", fmt.Errorf("send completion: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("chatgpt error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return "", err
		}
		return "", retry.Permanent(err)
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("completion has no choices")
	}
	return completion.Choices[0].Message.Content, nil
}

// classificationReply accepts the English keys as well as the Portuguese ones
// older prompts asked for.
type classificationReply struct {
	Categories    json.RawMessage `json:"categories"`
	Categorias    json.RawMessage `json:"categorias"`
	Rationale     string          `json:"rationale"`
	Justificativa string          `json:"justificativa"`
	Confidence    json.RawMessage `json:"confidence"`
	Confianca     json.RawMessage `json:"confianca"`
}

func parseClassification(content string) (domain.Classification, error) {
	var reply classificationReply
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &reply); err != nil {
		return domain.Classification{}, fmt.Errorf("model reply is not JSON: %w", err)
	}

	labels, err := parseLabels(firstRaw(reply.Categories, reply.Categorias))
	if err != nil {
		return domain.Classification{}, err
	}
	rationale := reply.Rationale
	if rationale == "" {
		rationale = reply.Justificativa
	}
	return domain.Classification{
		Labels:     labels,
		Confidence: parseConfidence(firstRaw(reply.Confidence, reply.Confianca)),
		Rationale:  strings.TrimSpace(rationale),
	}, nil
}

func firstRaw(values ...json.RawMessage) json.RawMessage {
	for _, v := range values {
		if len(v) > 0 && string(v) != "null" {
			return v
		}
	}
	return nil
}

// parseLabels takes a list of strings or a comma separated string.
func parseLabels(raw json.RawMessage) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err == nil {
		labels := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				labels = append(labels, strings.TrimSpace(s))
			}
		}
		return labels, nil
	}
	var joined string
	if err := json.Unmarshal(raw, &joined); err != nil {
		return nil, fmt.Errorf("categories has unexpected type: %s", raw)
	}
	var labels []string
	for _, part := range strings.Split(joined, ",") {
		if part = strings.TrimSpace(part); part != "" {
			labels = append(labels, part)
		}
	}
	return labels, nil
}

// parseConfidence reads a number or numeric string; anything else is 0.
func parseConfidence(raw json.RawMessage) float64 {
	if raw == nil {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	}
	return 0
}

func systemPrompt(categories []string) string {
	var b strings.Builder
	b.WriteString("You classify customer reviews into one or more categories.\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Read the review text; it may be in Portuguese.\n")
	b.WriteString("- Reply with STRICT JSON only, with the keys:\n")
	if len(categories) > 0 {
		quoted, _ := json.Marshal(categories)
		fmt.Fprintf(&b, "  - categories: list of strings chosen from %s\n", quoted)
	} else {
		b.WriteString("  - categories: list of short topic labels\n")
	}
	b.WriteString("  - rationale: short string (1-2 sentences) explaining the choice\n")
	b.WriteString("  - confidence: number between 0 and 1\n")
	b.WriteString("- If there is no useful text, reply categories=[], rationale=\"No text\", confidence=0.0\n")
	b.WriteString("- Do not invent facts; use only what the review says.\n")
	return b.String()
}

func userPrompt(text string) string {
	return "Review text:\n\"\"\"\n" + text + "\n\"\"\"\n\nReply with the requested JSON only."
}
