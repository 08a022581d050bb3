// Package dlq records envelopes whose forward attempts failed terminally.
// Disabled by default; when enabled it is backed by a NATS JetStream stream
// so failed events survive the process and can be replayed by an operator.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/platewatch-systems/platewatch-relay/internal/metrics"
	"github.com/platewatch-systems/platewatch-relay/internal/models"
)

// StreamName is the JetStream stream holding dead-lettered envelopes.
const StreamName = "RELAY_DLQ"

// Writer records a terminally failed envelope. A nil Writer is a no-op so
// callers do not need to branch on DLQ being configured.
type Writer interface {
	Write(ctx context.Context, env *models.Envelope, cause error, reason string) error
}

// FailedEvent is the DLQ record shape.
type FailedEvent struct {
	Timestamp time.Time               `json:"timestamp"`
	CameraID  string                  `json:"camera_id"`
	EventID   string                  `json:"event_id,omitempty"`
	EventTime time.Time               `json:"event_time"`
	Metadata  map[string]any          `json:"metadata,omitempty"`
	Detection models.DetectionOutcome `json:"detection"`
	Image     []byte                  `json:"image,omitempty"`
	Error     string                  `json:"error"`
	Reason    string                  `json:"reason"`
}

// JetStreamQueue writes failed envelopes to NATS JetStream.
type JetStreamQueue struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	stream  jetstream.Stream
	written uint64
}

// NewJetStreamQueue connects to NATS and ensures the DLQ stream exists.
func NewJetStreamQueue(ctx context.Context, natsURL string) (*JetStreamQueue, error) {
	conn, err := nats.Connect(natsURL,
		nats.Name("platewatch-relay-dlq"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"relay.dlq.>"},
		MaxAge:    24 * time.Hour,
		MaxBytes:  1024 * 1024 * 1024, // 1GB
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}

	slog.Info("dead letter queue ready", slog.String("stream", StreamName))

	return &JetStreamQueue{
		conn:   conn,
		js:     js,
		stream: stream,
	}, nil
}

// Write records a terminally failed envelope under relay.dlq.<reason>.
func (q *JetStreamQueue) Write(ctx context.Context, env *models.Envelope, cause error, reason string) error {
	if q == nil {
		return nil
	}

	failed := FailedEvent{
		Timestamp: time.Now().UTC(),
		CameraID:  env.CameraID,
		EventID:   env.EventID,
		EventTime: env.Timestamp,
		Metadata:  env.Metadata,
		Detection: env.Detection,
		Image:     env.ConvertedImage,
		Error:     cause.Error(),
		Reason:    reason,
	}

	data, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	subject := fmt.Sprintf("relay.dlq.%s", reason)
	if _, err := q.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish dlq entry: %w", err)
	}

	atomic.AddUint64(&q.written, 1)
	metrics.DLQWrites.Inc()

	return nil
}

// List returns failed events from the stream, newest limit entries.
func (q *JetStreamQueue) List(ctx context.Context, limit int) ([]FailedEvent, error) {
	if q == nil {
		return nil, fmt.Errorf("dlq not enabled")
	}

	if limit <= 0 {
		limit = 100
	}

	consumer, err := q.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject: "relay.dlq.>",
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		MaxDeliver:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("create list consumer: %w", err)
	}

	msgs, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	var events []FailedEvent
	for msg := range msgs.Messages() {
		var failed FailedEvent
		if err := json.Unmarshal(msg.Data(), &failed); err != nil {
			slog.Warn("skipping unparsable dlq message", slog.String("error", err.Error()))
			continue
		}
		events = append(events, failed)
	}

	return events, nil
}

// Written returns the number of entries written by this process.
func (q *JetStreamQueue) Written() uint64 {
	return atomic.LoadUint64(&q.written)
}

// Close disconnects from NATS.
func (q *JetStreamQueue) Close() {
	if q != nil && q.conn != nil {
		q.conn.Close()
	}
}
