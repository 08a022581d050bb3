package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSuppressor(t *testing.T, ttl time.Duration) (Suppressor, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	s, err := NewRedisSuppressor("redis://"+mr.Addr(), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s, mr
}

func TestSeenFirstTime(t *testing.T) {
	s, _ := newTestSuppressor(t, time.Minute)

	seen, err := s.Seen(context.Background(), "cam-1/evt-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestSeenRedelivery(t *testing.T) {
	s, _ := newTestSuppressor(t, time.Minute)
	ctx := context.Background()

	_, err := s.Seen(ctx, "cam-1/evt-1")
	require.NoError(t, err)

	seen, err := s.Seen(ctx, "cam-1/evt-1")
	require.NoError(t, err)
	assert.True(t, seen, "second delivery within TTL must be suppressed")

	// A different event is unaffected.
	seen, err = s.Seen(ctx, "cam-1/evt-2")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestSeenExpires(t *testing.T) {
	s, mr := newTestSuppressor(t, time.Minute)
	ctx := context.Background()

	_, err := s.Seen(ctx, "cam-1/evt-1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	seen, err := s.Seen(ctx, "cam-1/evt-1")
	require.NoError(t, err)
	assert.False(t, seen, "suppression window must expire")
}

func TestNoOpSuppressor(t *testing.T) {
	var s NoOpSuppressor

	seen, err := s.Seen(context.Background(), "anything")
	require.NoError(t, err)
	assert.False(t, seen)
	assert.NoError(t, s.Close())
}
