package handler

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/mortgage-recon/internal/domain"
)

var errCursorFormat = errors.New("cursor must encode created_at|job_id")

// DecodeJobCursor parses the opaque page token handed out by ListJobs. An empty token means the first page.
func DecodeJobCursor(token string) (*domain.JobCursor, error) {
	if token == "" {
		return nil, nil
	}

	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	nanos, jobID, ok := strings.Cut(string(raw), "|")
	if !ok || jobID == "" {
		return nil, errCursorFormat
	}
	ts, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("cursor created_at: %w", err)
	}

	return &domain.JobCursor{CreatedAt: time.Unix(0, ts).UTC(), JobID: jobID}, nil
}

// EncodeJobCursor builds the page token that resumes after c.
func EncodeJobCursor(c *domain.JobCursor) string {
	raw := strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + "|" + c.JobID
	return base64.URLEncoding.EncodeToString([]byte(raw))
}
