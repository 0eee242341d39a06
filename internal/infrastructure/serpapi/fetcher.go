package serpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ReviewHarvester/internal/config"
	"ReviewHarvester/internal/domain"
	"ReviewHarvester/internal/ports"
	"ReviewHarvester/internal/retry"
)

const (
	sortNewestFirst = "newestFirst"
	maxBodyBytes    = 16 << 20
)

// the provider answers 200 with this message when a place has no (more) reviews
const noResultsMarker = "hasn't returned any results"

// Fetcher implements ports.PageFetcher against the SerpApi google_maps_reviews engine.
type Fetcher struct {
	endpoint string
	engine   string
	dataID   string
	language string
	apiKey   string
	policy   retry.Policy
	fields   FieldMap
	client   *http.Client
	logger   *slog.Logger
}

var _ ports.PageFetcher = (*Fetcher)(nil)

// NewFetcher builds a fetcher from configuration; a nil client gets the configured timeout.
func NewFetcher(cfg config.SourceConfig, client *http.Client, logger *slog.Logger) *Fetcher {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Fetcher{
		endpoint: cfg.Endpoint,
		engine:   cfg.Engine,
		dataID:   cfg.DataID,
		language: cfg.Language,
		apiKey:   cfg.APIKey,
		policy:   cfg.Retry,
		fields:   DefaultFieldMap(),
		client:   client,
		logger:   logger,
	}
}

// FetchPage requests one page, retrying rate limits, server errors and network failures.
func (f *Fetcher) FetchPage(ctx context.Context, cursor string) (ports.Page, error) {
	pageURL, err := f.buildURL(cursor)
	if err != nil {
		return ports.Page{}, &domain.ProtocolError{Reason: "build request url", Err: err}
	}

	var body []byte
	attempts, err := f.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		b, err := f.get(ctx, pageURL)
		if err != nil {
			return err
		}
		body = b
		return nil
	}, func(attempt int, delay time.Duration, err error) {
		f.logger.Warn("page request failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ports.Page{}, ctxErr
		}
		var perr *domain.ProtocolError
		if errors.As(err, &perr) {
			return ports.Page{}, err
		}
		return ports.Page{}, &domain.TransientFetchError{Attempts: attempts, Err: err}
	}

	return f.decodePage(body)
}

func (f *Fetcher) buildURL(cursor string) (string, error) {
	parsed, err := url.Parse(f.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %s: %w", f.endpoint, err)
	}

	query := parsed.Query()
	query.Set("engine", f.engine)
	query.Set("data_id", f.dataID)
	query.Set("sort_by", sortNewestFirst)
	if f.language != "" {
		query.Set("hl", f.language)
	}
	query.Set("api_key", f.apiKey)
	if cursor != "" {
		query.Set("next_page_token", cursor)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("serpapi returned status %d", e.code)
	}
	return fmt.Sprintf("serpapi returned status %d: %s", e.code, e.body)
}

func (f *Fetcher) get(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, retry.Permanent(&domain.ProtocolError{Reason: "build request", Err: err})
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "ReviewHarvester/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, retry.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("request page: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, &statusError{code: resp.StatusCode, body: snippet(body)}
	case resp.StatusCode != http.StatusOK:
		return nil, retry.Permanent(&domain.ProtocolError{
			Reason: "unexpected status",
			Err:    &statusError{code: resp.StatusCode, body: providerError(body)},
		})
	}
	return body, nil
}

type pageEnvelope struct {
	Error      string            `json:"error"`
	Reviews    json.RawMessage   `json:"reviews"`
	Pagination *paginationObject `json:"serpapi_pagination"`
}

type paginationObject struct {
	NextPageToken string `json:"next_page_token"`
}

func (f *Fetcher) decodePage(body []byte) (ports.Page, error) {
	var env pageEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return ports.Page{}, &domain.ProtocolError{Reason: "decode page", Err: err}
	}

	if env.Error != "" {
		if strings.Contains(env.Error, noResultsMarker) {
			return ports.Page{}, nil
		}
		return ports.Page{}, &domain.ProtocolError{Reason: "provider error: " + env.Error}
	}

	var page ports.Page
	if env.Pagination != nil {
		page.NextCursor = strings.TrimSpace(env.Pagination.NextPageToken)
	}

	trimmed := bytes.TrimSpace(env.Reviews)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return page, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return ports.Page{}, &domain.ProtocolError{Reason: "reviews is not an array", Err: err}
	}

	page.Reviews = make([]domain.RawReview, 0, len(items))
	for i, item := range items {
		raw, err := f.decodeReview(item)
		if err != nil {
			return ports.Page{}, &domain.ProtocolError{Reason: fmt.Sprintf("review %d", i), Err: err}
		}
		page.Reviews = append(page.Reviews, raw)
	}
	return page, nil
}

func (f *Fetcher) decodeReview(item json.RawMessage) (domain.RawReview, error) {
	dec := json.NewDecoder(bytes.NewReader(item))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return domain.RawReview{}, err
	}
	if obj == nil {
		return domain.RawReview{}, errors.New("review is not an object")
	}

	images, err := f.fields.images(obj)
	if err != nil {
		return domain.RawReview{}, err
	}

	return domain.RawReview{
		Key:          f.fields.Key.String(obj),
		Text:         plainText(f.fields.Text.String(obj)),
		Author:       f.fields.Author.String(obj),
		AuthorLink:   f.fields.AuthorLink.String(obj),
		AuthorPhoto:  f.fields.AuthorPhoto.String(obj),
		Rating:       f.fields.Rating.Float(obj),
		Date:         f.fields.Date.String(obj),
		ISODate:      f.fields.ISODate.String(obj),
		Permalink:    f.fields.Permalink.String(obj),
		ImageURLs:    images,
		HelpfulCount: f.fields.Helpful.Int(obj),
		Payload:      append(json.RawMessage(nil), item...),
	}, nil
}

func providerError(body []byte) string {
	var env struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error != "" {
		return env.Error
	}
	return snippet(body)
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}
