package mqtt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platewatch-systems/platewatch-relay/internal/config"
)

// fakeMessage implements the paho Message interface for handler tests.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func testBrokerConfig() config.BrokerConfig {
	return config.BrokerConfig{
		URL:            "mqtt",
		Port:           1883,
		Topic:          "cameras/events/#",
		ClientID:       "relay-test",
		ConnectTimeout: time.Second,
		ReconnectMax:   time.Second,
	}
}

func TestHandleMessageDelivers(t *testing.T) {
	s := NewSource(testBrokerConfig(), 4)

	s.handleMessage(nil, &fakeMessage{topic: "cameras/events/cam-1", payload: []byte(`{"camera_id":"cam-1"}`)})

	select {
	case raw := <-s.Messages():
		assert.Equal(t, "cameras/events/cam-1", raw.Topic)
		assert.Equal(t, []byte(`{"camera_id":"cam-1"}`), raw.Payload)
		assert.WithinDuration(t, time.Now(), raw.ReceivedAt, time.Second)
	default:
		t.Fatal("expected message on channel")
	}
}

func TestHandleMessageBlocksWhenFull(t *testing.T) {
	s := NewSource(testBrokerConfig(), 1)
	s.handleMessage(nil, &fakeMessage{topic: "t", payload: []byte("a")})

	done := make(chan struct{})
	go func() {
		s.handleMessage(nil, &fakeMessage{topic: "t", payload: []byte("b")})
		close(done)
	}()

	// Handler must block, not drop, while the channel is full.
	select {
	case <-done:
		t.Fatal("handler returned while channel was full")
	case <-time.After(50 * time.Millisecond):
	}

	<-s.Messages()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not complete after channel drained")
	}
}

func TestHandleMessageUnblocksOnClose(t *testing.T) {
	s := NewSource(testBrokerConfig(), 0)

	done := make(chan struct{})
	go func() {
		s.handleMessage(nil, &fakeMessage{topic: "t", payload: []byte("a")})
		close(done)
	}()

	s.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not unblock on close")
	}
}

func TestStateTransitions(t *testing.T) {
	s := NewSource(testBrokerConfig(), 1)
	require.Equal(t, StateDisconnected, s.State())
	assert.False(t, s.Connected())

	s.setState(StateConnecting)
	assert.Equal(t, "connecting", s.State().String())

	s.setState(StateReceiving)
	assert.True(t, s.Connected())

	s.Close()
	assert.Equal(t, StateDisconnected, s.State())
}

func TestCloseIdempotent(t *testing.T) {
	s := NewSource(testBrokerConfig(), 1)
	s.Close()
	s.Close()
	assert.Equal(t, StateDisconnected, s.State())
}
