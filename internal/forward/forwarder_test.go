package forward

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platewatch-systems/platewatch-relay/internal/models"
)

func testEnvelope() *models.Envelope {
	return &models.Envelope{
		ID:        "proc-1",
		CameraID:  "cam-1",
		EventID:   "evt-7",
		Timestamp: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
		Metadata:  map[string]any{"zone": "A"},
		Detection: models.DetectionOutcome{
			Status: models.DetectionFound,
			Result: &models.DetectionResult{Value: "AB123CD", Confidence: 0.9},
		},
		ConvertedImage: []byte("png-bytes"),
	}
}

func TestForwardSuccess(t *testing.T) {
	var got payload

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	f := New(srv.URL, 5*time.Second, 3, time.Millisecond)
	require.NoError(t, f.Forward(context.Background(), testEnvelope()))

	assert.Equal(t, "cam-1", got.CameraID)
	assert.Equal(t, models.DetectionFound, got.Detection.Status)
	assert.Equal(t, "AB123CD", got.Detection.Result.Value)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("png-bytes")), got.Image)
	assert.Equal(t, "image/png", got.ImageType)
	assert.Equal(t, "A", got.Metadata["zone"])
}

func TestForwardNoDetectionStillDelivered(t *testing.T) {
	var got payload

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	env := testEnvelope()
	env.Detection = models.DetectionOutcome{Status: models.DetectionNone}

	f := New(srv.URL, 5*time.Second, 0, time.Millisecond)
	require.NoError(t, f.Forward(context.Background(), env))

	assert.Equal(t, models.DetectionNone, got.Detection.Status)
	assert.Nil(t, got.Detection.Result, "absence marker is explicit, not a missing field")
}

func TestForwardRetriesTransientExactly(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := New(srv.URL, 5*time.Second, 3, time.Millisecond)
	err := f.Forward(context.Background(), testEnvelope())

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrForwardExhausted))
	assert.Equal(t, int32(4), calls.Load(), "1 attempt + 3 retries")
}

func TestForwardRejectedNoRetry(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	f := New(srv.URL, 5*time.Second, 5, time.Millisecond)
	err := f.Forward(context.Background(), testEnvelope())

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrForwardRejected))
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestForwardTransientThenSuccess(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New(srv.URL, 5*time.Second, 3, time.Millisecond)
	require.NoError(t, f.Forward(context.Background(), testEnvelope()))
	assert.Equal(t, int32(2), calls.Load())
}

func TestForwardRequiresConvertedImage(t *testing.T) {
	env := testEnvelope()
	env.ConvertedImage = nil

	f := New("http://collector.invalid", time.Second, 0, time.Millisecond)
	err := f.Forward(context.Background(), env)
	require.Error(t, err)
}
