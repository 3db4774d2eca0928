package ocr

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuongbtq/mortgage-recon/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL + "/"}, discardLogger())
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "  "}, discardLogger())
	assert.ErrorIs(t, err, ErrEmptyBaseURL)
}

func TestClient_Analyze(t *testing.T) {
	var got analyzeRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analyze", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, err := uuid.Parse(r.Header.Get("X-Request-ID"))
		assert.NoError(t, err)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_ = json.NewEncoder(w).Encode(analyzeResponse{Answers: []Answer{
			{Page: 1, Alias: "ANNUAL_INCOME", Text: "$52,000.00", Confidence: 90},
			{Page: 1, Alias: "EMPLOYER_NAME", Text: "   ", Confidence: 40},
		}})
	})

	answers, err := c.Analyze(context.Background(), []byte("%PDF-1.7"), "t4.pdf", []Query{
		{Text: "What is the annual income?", Alias: "ANNUAL_INCOME"},
		{Text: "What is the employer name?", Alias: "EMPLOYER_NAME"},
	})
	require.NoError(t, err)

	assert.Equal(t, "t4.pdf", got.Filename)
	assert.Equal(t, []byte("%PDF-1.7"), got.Content)
	assert.Len(t, got.Queries, 2)

	require.Len(t, answers, 1)
	assert.Equal(t, "ANNUAL_INCOME", answers[0].Alias)
	assert.Equal(t, 90.0, answers[0].Confidence)
}

func TestClient_Classify(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/classify", r.URL.Path)
		_ = json.NewEncoder(w).Encode(classifyResponse{Answer: "Statement of Remuneration Paid (T4)"})
	})

	answer, err := c.Classify(context.Background(), []byte("x"), "scan.png")
	require.NoError(t, err)
	assert.Equal(t, "Statement of Remuneration Paid (T4)", answer)
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantRetryable bool
		wantContains  string
	}{
		{name: "server error is retryable", status: http.StatusBadGateway, body: "upstream", wantRetryable: true, wantContains: "status 502"},
		{name: "throttled is retryable", status: http.StatusTooManyRequests, wantRetryable: true, wantContains: "status 429"},
		{name: "bad request is terminal", status: http.StatusBadRequest, body: "bad file", wantContains: "bad file"},
		{name: "malformed body", status: http.StatusOK, body: "{", wantContains: "failed to decode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.Classify(context.Background(), []byte("x"), "a.pdf")
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.wantContains)
			assert.Equal(t, tt.wantRetryable, domain.IsRetryable(err))
		})
	}
}

func TestClient_CancelledContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not be sent")
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Analyze(ctx, []byte("x"), "a.pdf", nil)
	assert.Error(t, err)
}
