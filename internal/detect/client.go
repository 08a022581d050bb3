package detect

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/platewatch-systems/platewatch-relay/internal/models"
)

// Client communicates with the vision service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client

	maxRetries int
	backoff    time.Duration
}

// New constructs a new Client. maxRetries counts retries after the first
// attempt; backoff doubles per retry.
func New(baseURL string, timeout time.Duration, maxRetries int, backoff time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

type detectRequest struct {
	FrameData string `json:"frame_data"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

type detectResponse struct {
	Detected   bool    `json:"detected"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Region     []int   `json:"region"`
}

// Detect sends the frame to the vision service. Unreachable or faulting
// capability is retried with bounded backoff; after exhausting retries the
// error wraps models.ErrDetectionUnavailable so the pipeline can degrade to
// a failed detection outcome instead of dropping the envelope.
func (c *Client) Detect(ctx context.Context, frame Frame) (*models.DetectionResult, error) {
	var lastErr error

	wait := c.backoff
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying detection call",
				slog.Int("attempt", attempt),
				slog.Duration("backoff", wait),
			)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", models.ErrDetectionUnavailable, ctx.Err())
			}
			wait *= 2
		}

		result, err := c.detectOnce(ctx, frame)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("%w: %v", models.ErrDetectionUnavailable, lastErr)
}

func (c *Client) detectOnce(ctx context.Context, frame Frame) (*models.DetectionResult, error) {
	reqBody := detectRequest{
		FrameData: base64.StdEncoding.EncodeToString(frame.Bytes),
		Width:     frame.Width,
		Height:    frame.Height,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vision service status %d", resp.StatusCode)
	}

	var dr detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if !dr.Detected {
		return nil, nil
	}

	return &models.DetectionResult{
		Value:      dr.Value,
		Confidence: dr.Confidence,
		Region:     dr.Region,
	}, nil
}
