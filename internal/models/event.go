package models

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RawMessage is the untouched payload received from the broker, owned by the
// ingestion loop until parsed.
type RawMessage struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// DetectionStatus describes the outcome of the detection stage.
type DetectionStatus string

const (
	// DetectionFound means the capability returned a structured value.
	DetectionFound DetectionStatus = "detected"

	// DetectionNone means the capability ran and found nothing. This is a
	// valid outcome, not a failure.
	DetectionNone DetectionStatus = "none"

	// DetectionFailed means the detection attempt itself failed after
	// exhausting retries. Kept distinct from "none" so downstream
	// consumers can tell the two apart.
	DetectionFailed DetectionStatus = "failed"
)

// DetectionResult is the structured value extracted from a snapshot.
type DetectionResult struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Region     []int   `json:"region,omitempty"`
}

// DetectionOutcome pairs a status with the optional result.
type DetectionOutcome struct {
	Status DetectionStatus  `json:"status"`
	Result *DetectionResult `json:"result,omitempty"`
}

// Envelope is the parsed representation of one CCTV event. It is created per
// inbound message, passes through the pipeline exactly once, and is discarded
// after the forward attempt completes.
type Envelope struct {
	// ID is a per-process processing identifier, not carried on the wire.
	ID string

	CameraID  string
	EventID   string
	Timestamp time.Time
	Metadata  map[string]any

	// ImageBytes is the source-encoded snapshot. Empty when the event
	// references a snapshot to fetch instead of embedding one.
	ImageBytes  []byte
	SnapshotURL string

	// ConvertedImage is populated by the codec stage. An envelope is
	// forwarded only if this is present.
	ConvertedImage []byte

	Detection DetectionOutcome

	ReceivedAt time.Time
}

// wireEvent is the inbound document shape published by cameras.
type wireEvent struct {
	CameraID    string          `json:"camera_id"`
	EventID     string          `json:"event_id,omitempty"`
	Time        json.RawMessage `json:"timestamp"`
	Image       string          `json:"image,omitempty"`
	SnapshotURL string          `json:"snapshot_url,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// ParseEnvelope parses a raw broker message into an Envelope. All failures
// wrap ErrParse.
func ParseEnvelope(raw RawMessage) (*Envelope, error) {
	var we wireEvent
	if err := json.Unmarshal(raw.Payload, &we); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	if we.CameraID == "" {
		return nil, fmt.Errorf("%w: missing camera_id", ErrParse)
	}

	ts, err := parseTimestamp(we.Time)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	if we.Image == "" && we.SnapshotURL == "" {
		return nil, fmt.Errorf("%w: event carries neither image nor snapshot_url", ErrParse)
	}

	var imageBytes []byte
	if we.Image != "" {
		imageBytes, err = base64.StdEncoding.DecodeString(we.Image)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid image encoding: %v", ErrParse, err)
		}
	}

	if err := validateMetadata(we.Metadata); err != nil {
		return nil, err
	}

	return &Envelope{
		ID:          uuid.New().String(),
		CameraID:    we.CameraID,
		EventID:     we.EventID,
		Timestamp:   ts,
		Metadata:    we.Metadata,
		ImageBytes:  imageBytes,
		SnapshotURL: we.SnapshotURL,
		ReceivedAt:  raw.ReceivedAt,
	}, nil
}

// parseTimestamp accepts either an RFC3339 string or epoch seconds
// (optionally fractional). A missing timestamp is a parse error.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
		}
		return t, nil
	}

	var epoch float64
	if err := json.Unmarshal(raw, &epoch); err == nil {
		sec := int64(epoch)
		nsec := int64((epoch - float64(sec)) * 1e9)
		return time.Unix(sec, nsec), nil
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp %s", string(raw))
}

// validateMetadata enforces the closed set of metadata value kinds at parse
// time: string, number, bool. Nested shapes are rejected here rather than
// discovered ad hoc downstream.
func validateMetadata(md map[string]any) error {
	for k, v := range md {
		switch v.(type) {
		case string, float64, bool:
		default:
			return fmt.Errorf("%w: metadata key %q has unsupported value type %T", ErrParse, k, v)
		}
	}
	return nil
}

// DedupKey identifies an event for duplicate suppression. Falls back to the
// camera/timestamp pair when the camera did not assign an event ID.
func (e *Envelope) DedupKey() string {
	if e.EventID != "" {
		return e.CameraID + "/" + e.EventID
	}
	return fmt.Sprintf("%s/%d", e.CameraID, e.Timestamp.UnixNano())
}
