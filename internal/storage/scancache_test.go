package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryScanCache(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryScanCache(time.Minute)
	now := time.Now()
	cache.now = func() time.Time { return now }

	var got []string
	found, err := cache.LoadScan(ctx, &got)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cache.SaveScan(ctx, []string{"192.168.1.42"}))
	found, err = cache.LoadScan(ctx, &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"192.168.1.42"}, got)

	// 过期后不可见
	now = now.Add(2 * time.Minute)
	found, err = cache.LoadScan(ctx, &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestHeartbeatTruncated(t *testing.T) {
	hb := Heartbeat{Firmware: strings.Repeat("é", 70)}
	out := hb.Truncated()
	assert.Len(t, []rune(out.Firmware), 64)
	assert.Equal(t, "short", Heartbeat{SSID: "short"}.Truncated().SSID)
}
