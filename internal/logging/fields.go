package logging

import "log/slog"

// Common field names for consistent logging across the relay.
const (
	FieldService    = "service"
	FieldCameraID   = "camera_id"
	FieldEventID    = "event_id"
	FieldEnvelopeID = "envelope_id"
	FieldTopic      = "topic"
	FieldStage      = "stage"
	FieldAttempt    = "attempt"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// CameraID returns a slog attribute for the source camera.
func CameraID(id string) slog.Attr {
	return slog.String(FieldCameraID, id)
}

// EventID returns a slog attribute for the camera-assigned event ID.
func EventID(id string) slog.Attr {
	return slog.String(FieldEventID, id)
}

// EnvelopeID returns a slog attribute for the per-process envelope ID.
func EnvelopeID(id string) slog.Attr {
	return slog.String(FieldEnvelopeID, id)
}

// Topic returns a slog attribute for the broker topic.
func Topic(topic string) slog.Attr {
	return slog.String(FieldTopic, topic)
}

// Stage returns a slog attribute for the pipeline stage.
func Stage(stage string) slog.Attr {
	return slog.String(FieldStage, stage)
}

// Attempt returns a slog attribute for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}
