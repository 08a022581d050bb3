// Package mqtt owns the broker connection and turns inbound publishes into
// raw messages for the pipeline. The connection handle belongs exclusively
// to this package; workers never touch it.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/platewatch-systems/platewatch-relay/internal/config"
	"github.com/platewatch-systems/platewatch-relay/internal/metrics"
	"github.com/platewatch-systems/platewatch-relay/internal/models"
)

// State tracks the connection lifecycle of the source.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateReceiving
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateReceiving:
		return "receiving"
	default:
		return "unknown"
	}
}

// Source subscribes to the camera event topic and delivers raw messages on a
// bounded channel. When the channel is full the paho dispatch goroutine
// blocks, which applies broker-level backpressure instead of dropping.
type Source struct {
	cfg    config.BrokerConfig
	client pahomqtt.Client

	messages chan models.RawMessage
	done     chan struct{}

	mu    sync.RWMutex
	state State

	closeOnce sync.Once
}

// NewSource creates a Source with the given inbound buffer size.
func NewSource(cfg config.BrokerConfig, buffer int) *Source {
	return &Source{
		cfg:      cfg,
		messages: make(chan models.RawMessage, buffer),
		done:     make(chan struct{}),
		state:    StateDisconnected,
	}
}

// Connect establishes the broker connection and subscribes to the event
// topic. Reconnect and resubscribe after connection loss are automatic; only
// the initial connection failure is returned to the caller.
func (s *Source) Connect(ctx context.Context) error {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", s.cfg.URL, s.cfg.Port))
	opts.SetClientID(s.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(s.cfg.ReconnectMax)
	opts.SetOrderMatters(false)

	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}

	// Subscribing inside OnConnect restores the subscription after every
	// reconnect, not just the first connection.
	opts.OnConnect = func(c pahomqtt.Client) {
		s.setState(StateSubscribed)
		slog.Info("mqtt connection established",
			slog.String("broker", s.cfg.URL),
			slog.String("client_id", s.cfg.ClientID),
		)

		token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, s.handleMessage)
		if !token.WaitTimeout(10 * time.Second) {
			slog.Error("mqtt subscribe timeout", slog.String("topic", s.cfg.Topic))
			return
		}
		if err := token.Error(); err != nil {
			slog.Error("mqtt subscribe failed",
				slog.String("topic", s.cfg.Topic),
				slog.String("error", err.Error()),
			)
			return
		}

		s.setState(StateReceiving)
		slog.Info("subscribed to event topic", slog.String("topic", s.cfg.Topic))
	}

	opts.OnConnectionLost = func(c pahomqtt.Client, err error) {
		s.setState(StateConnecting)
		slog.Warn("mqtt connection lost, reconnecting",
			slog.String("error", err.Error()),
			slog.String("broker", s.cfg.URL),
		)
	}

	s.client = pahomqtt.NewClient(opts)
	s.setState(StateConnecting)

	slog.Info("connecting to mqtt broker",
		slog.String("broker", s.cfg.URL),
		slog.Int("port", s.cfg.Port),
	)

	token := s.client.Connect()
	if !token.WaitTimeout(s.cfg.ConnectTimeout) {
		return fmt.Errorf("mqtt connection timeout after %s", s.cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	return nil
}

// handleMessage runs on paho's dispatch goroutine. A full channel blocks
// here on purpose: receipt stalls until the pipeline catches up.
func (s *Source) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	metrics.MessagesReceived.Inc()

	raw := models.RawMessage{
		Topic:      msg.Topic(),
		Payload:    msg.Payload(),
		ReceivedAt: time.Now(),
	}

	select {
	case s.messages <- raw:
	case <-s.done:
	}
}

// Messages returns the inbound raw message channel.
func (s *Source) Messages() <-chan models.RawMessage {
	return s.messages
}

// State returns the current connection state.
func (s *Source) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Connected reports whether the source currently holds a live subscription.
func (s *Source) Connected() bool {
	return s.State() == StateReceiving
}

func (s *Source) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Close unsubscribes and disconnects from the broker. Safe to call more
// than once.
func (s *Source) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.client != nil && s.client.IsConnected() {
			if token := s.client.Unsubscribe(s.cfg.Topic); token != nil {
				token.WaitTimeout(2 * time.Second)
			}
			s.client.Disconnect(250) // 250ms grace period
			slog.Info("mqtt disconnected")
		}
		s.setState(StateDisconnected)
	})
}
