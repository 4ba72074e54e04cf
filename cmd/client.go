package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// defaultServerURL matches the serve command's default bind address.
const defaultServerURL = "http://127.0.0.1:3500"

// apiClient is a thin JSON client for a running quarry server, shared by the
// enqueue and status commands.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	if base == "" {
		base = defaultServerURL
	}
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError mirrors the server's error envelope.
type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Response shapes mirror the server's JSON contracts.
type enqueueResult struct {
	BatchID   uuid.UUID   `json:"batchId"`
	BatchIDs  []uuid.UUID `json:"batchIds"`
	ItemCount int         `json:"itemCount"`
}

type batchProgress struct {
	BatchID     uuid.UUID `json:"batchId"`
	Queued      int       `json:"queued"`
	InProgress  int       `json:"inProgress"`
	Completed   int       `json:"completed"`
	NeedsReview int       `json:"needsReview"`
	Total       int       `json:"total"`
	Done        bool      `json:"done"`
}

type reviewEntry struct {
	ItemID       uuid.UUID  `json:"itemId"`
	SourceID     string     `json:"sourceId"`
	BatchID      uuid.UUID  `json:"batchId"`
	AttemptCount int        `json:"attemptCount"`
	MaxAttempts  int        `json:"maxAttempts"`
	LastError    string     `json:"lastError"`
	ParkedAt     *time.Time `json:"parkedAt"`
}

func (c *apiClient) enqueue(ctx context.Context, sourceIDs []string, sizeHint int) (*enqueueResult, error) {
	body := map[string]any{"sourceIds": sourceIDs, "batchSizeHint": sizeHint}
	var out enqueueResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/batches", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) progress(ctx context.Context, batchID uuid.UUID) (*batchProgress, error) {
	var out batchProgress
	if err := c.do(ctx, http.MethodGet, "/api/v1/batches/"+batchID.String()+"/progress", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) reviewList(ctx context.Context) ([]reviewEntry, error) {
	var out struct {
		Items []reviewEntry `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/review", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *apiClient) requeue(ctx context.Context, itemID uuid.UUID) error {
	return c.do(ctx, http.MethodPost, "/api/v1/review/"+itemID.String()+"/requeue", nil, nil)
}

// do performs one JSON round trip. Non-2xx responses are turned into errors
// carrying the server's error code and message.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w (is 'quarry serve' running?)", c.base, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("server rejected request (%s): %s", apiErr.Error.Code, apiErr.Error.Message)
		}
		return fmt.Errorf("server returned %s for %s %s", resp.Status, method, path)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
