package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("RELAY_BROKER_URL", "tcp://mqtt:1883")
	t.Setenv("RELAY_BROKER_TOPIC", "cameras/events/#")
	t.Setenv("RELAY_FORWARD_URL", "http://collector:5000/api/events")
	t.Setenv("RELAY_DETECTOR_URL", "http://vision:8500/detect")
}

// Required keys have no file-backed value in this test; they must reach the
// struct from the environment alone.
func TestLoadRequiredFromEnvOnly(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "tcp://mqtt:1883", cfg.Broker.URL)
	assert.Equal(t, "cameras/events/#", cfg.Broker.Topic)
	assert.Equal(t, "http://collector:5000/api/events", cfg.Forward.URL)
	assert.Equal(t, "http://vision:8500/detect", cfg.Detector.URL)
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 1883, cfg.Broker.Port)
	assert.Equal(t, byte(1), cfg.Broker.QoS)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.Equal(t, 256, cfg.Pipeline.QueueSize)
	assert.Equal(t, 3, cfg.Forward.MaxRetries)
	assert.False(t, cfg.DLQ.Enabled)
	assert.False(t, cfg.Dedup.Enabled)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadEnvOverride(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RELAY_PIPELINE_WORKERS", "4")
	t.Setenv("RELAY_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadMissingRequired(t *testing.T) {
	cases := []struct {
		name string
		skip string
	}{
		{"broker url", "RELAY_BROKER_URL"},
		{"topic", "RELAY_BROKER_TOPIC"},
		{"forward url", "RELAY_FORWARD_URL"},
		{"detector url", "RELAY_DETECTOR_URL"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := map[string]string{
				"RELAY_BROKER_URL":   "tcp://mqtt:1883",
				"RELAY_BROKER_TOPIC": "cameras/events/#",
				"RELAY_FORWARD_URL":  "http://collector:5000/api/events",
				"RELAY_DETECTOR_URL": "http://vision:8500/detect",
			}
			for k, val := range env {
				if k == tc.skip {
					continue
				}
				t.Setenv(k, val)
			}

			_, err := Load("")
			require.Error(t, err)
		})
	}
}

func TestValidateWorkerBounds(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RELAY_PIPELINE_WORKERS", "0")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline.workers")
}
