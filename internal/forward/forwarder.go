// Package forward delivers enriched envelopes to the downstream collector
// endpoint with bounded retry.
package forward

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/platewatch-systems/platewatch-relay/internal/logging"
	"github.com/platewatch-systems/platewatch-relay/internal/models"
)

// Forwarder delivers one enriched envelope. Implementations guarantee an
// at-least-once delivery attempt within the process lifetime; nothing is
// persisted across restarts.
type Forwarder interface {
	Forward(ctx context.Context, env *models.Envelope) error
}

// HTTPForwarder posts enriched envelopes to a collector endpoint.
type HTTPForwarder struct {
	endpoint   string
	httpClient *http.Client

	maxRetries int
	backoff    time.Duration
}

// New constructs an HTTPForwarder. maxRetries counts retries after the first
// attempt; backoff doubles per retry.
func New(endpoint string, timeout time.Duration, maxRetries int, backoff time.Duration) *HTTPForwarder {
	return &HTTPForwarder{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

// payload is the collector wire shape: camera metadata, the detection
// outcome (explicit absence marker included), and the converted snapshot.
type payload struct {
	CameraID  string                  `json:"camera_id"`
	EventID   string                  `json:"event_id,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
	Metadata  map[string]any          `json:"metadata,omitempty"`
	Detection models.DetectionOutcome `json:"detection"`
	Image     string                  `json:"image"`
	ImageType string                  `json:"image_type"`
}

// Forward serializes env and posts it to the collector. Transient failures
// (network, 5xx) are retried with exponential backoff; a 4xx response is
// terminal with zero retries.
func (f *HTTPForwarder) Forward(ctx context.Context, env *models.Envelope) error {
	if len(env.ConvertedImage) == 0 {
		return fmt.Errorf("envelope %s has no converted image", env.ID)
	}

	body, err := json.Marshal(payload{
		CameraID:  env.CameraID,
		EventID:   env.EventID,
		Timestamp: env.Timestamp,
		Metadata:  env.Metadata,
		Detection: env.Detection,
		Image:     base64.StdEncoding.EncodeToString(env.ConvertedImage),
		ImageType: "image/png",
	})
	if err != nil {
		return fmt.Errorf("serialize envelope: %w", err)
	}

	var lastErr error

	wait := f.backoff
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying forward",
				logging.EventID(env.ID),
				logging.Attempt(attempt),
				slog.Duration("backoff", wait),
			)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", models.ErrForwardExhausted, ctx.Err())
			}
			wait *= 2
		}

		err := f.forwardOnce(ctx, body)
		if err == nil {
			return nil
		}
		if !isRetriable(err) {
			return err
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	return fmt.Errorf("%w: %v", models.ErrForwardExhausted, lastErr)
}

func (f *HTTPForwarder) forwardOnce(ctx context.Context, body []byte) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrForwardTransient, err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: status %d", models.ErrForwardRejected, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", models.ErrForwardTransient, resp.StatusCode)
	}
}

func isRetriable(err error) bool {
	return !errors.Is(err, models.ErrForwardRejected)
}
