// Package ocr is the HTTP client for the external document query service.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/mortgage-recon/internal/domain"
	"github.com/cuongbtq/mortgage-recon/shared/obs"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ErrEmptyBaseURL is returned when the client has nowhere to send requests
var ErrEmptyBaseURL = errors.New("ocr base url is empty")

// Query is one question asked of a document. Pages narrows the question to specific pages.
type Query struct {
	Text  string `json:"text"`
	Alias string `json:"alias"`
	Pages []int  `json:"pages,omitempty"`
}

// Answer is the service's answer to one query on one page. Confidence is a percentage.
type Answer struct {
	Page       int     `json:"page"`
	Alias      string  `json:"alias"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type analyzeRequest struct {
	Filename string  `json:"filename"`
	Content  []byte  `json:"content"`
	Queries  []Query `json:"queries"`
}

type analyzeResponse struct {
	Answers []Answer `json:"answers"`
}

type classifyRequest struct {
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
	Question string `json:"question"`
}

type classifyResponse struct {
	Answer string `json:"answer"`
}

// Config holds client settings
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
}

// Client talks to the OCR service. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a rate-limited client. A zero RateLimit disables limiting.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, ErrEmptyBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger.With("component", "ocr"),
	}, nil
}

// Analyze asks every query of the document and returns the non-empty answers.
func (c *Client) Analyze(ctx context.Context, content []byte, filename string, queries []Query) ([]Answer, error) {
	var resp analyzeResponse
	err := c.post(ctx, "/analyze", analyzeRequest{
		Filename: filename,
		Content:  content,
		Queries:  queries,
	}, &resp)
	if err != nil {
		return nil, err
	}

	answers := resp.Answers[:0]
	for _, a := range resp.Answers {
		if strings.TrimSpace(a.Text) == "" {
			continue
		}
		answers = append(answers, a)
	}
	return answers, nil
}

// Classify asks the service what kind of document this is and returns the raw answer.
func (c *Client) Classify(ctx context.Context, content []byte, filename string) (string, error) {
	var resp classifyResponse
	err := c.post(ctx, "/classify", classifyRequest{
		Filename: filename,
		Content:  content,
		Question: "What is this document?",
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Answer, nil
}

func (c *Client) post(ctx context.Context, endpoint string, in, out any) (err error) {
	start := time.Now()
	defer func() { obs.RecordOCRRequest(endpoint, start, err) }()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("ocr rate limit wait: %w", err)
	}

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal ocr request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build ocr request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewRetryableError(fmt.Errorf("ocr request failed: %w", err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return domain.NewRetryableError(fmt.Errorf("failed to read ocr response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("OCR request rejected",
			slog.String("endpoint", endpoint),
			slog.String("request_id", requestID),
			slog.Int("status", resp.StatusCode),
		)
		statusErr := fmt.Errorf("ocr %s returned status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(payload)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return domain.NewRetryableError(statusErr)
		}
		return statusErr
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to decode ocr response: %w", err)
	}

	c.logger.Debug("OCR request completed",
		slog.String("endpoint", endpoint),
		slog.String("request_id", requestID),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}
