package provision

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProber 按 IP 返回预设结果，其余地址不可达
type stubProber struct {
	reachable map[string]bool
	delay     time.Duration
	inflight  atomic.Int32
	peak      atomic.Int32
	calls     atomic.Int32
}

func (s *stubProber) Probe(ctx context.Context, ip string, _ time.Duration) ProbeResult {
	s.calls.Add(1)
	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if s.delay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(s.delay):
		}
	}
	if s.reachable[ip] {
		code := 200
		return ProbeResult{IP: ip, OK: true, Code: &code}
	}
	return ProbeResult{IP: ip}
}

func newTestScanner(p HostProber) *Scanner {
	s := NewScanner(p, 40, 5*time.Second, 100*time.Millisecond, nil)
	s.LocalIP = func() (string, error) { return "192.168.1.10", nil }
	return s
}

func TestScan_ReturnsOnlyReachable(t *testing.T) {
	prober := &stubProber{reachable: map[string]bool{"192.168.1.42": true, "192.168.1.55": true}}

	got, err := newTestScanner(prober).Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "192.168.1.42", got[0].IP)
	assert.Equal(t, "192.168.1.55", got[1].IP)
	assert.EqualValues(t, 254, prober.calls.Load())
}

func TestScan_BoundedConcurrency(t *testing.T) {
	prober := &stubProber{delay: 5 * time.Millisecond}
	s := newTestScanner(prober)
	s.Workers = 5

	_, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.LessOrEqual(t, prober.peak.Load(), int32(5))
	assert.EqualValues(t, 254, prober.calls.Load())
}

func TestScan_DeadlineReturnsPartial(t *testing.T) {
	prober := &slowExceptProber{fast: map[string]bool{"192.168.1.42": true}}
	s := newTestScanner(prober)
	s.Workers = 254
	s.Deadline = 200 * time.Millisecond

	start := time.Now()
	got, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, got, 1)
	assert.Equal(t, "192.168.1.42", got[0].IP)
}

// slowExceptProber 除 fast 中的地址外都阻塞到 ctx 取消
type slowExceptProber struct {
	fast map[string]bool
}

func (s *slowExceptProber) Probe(ctx context.Context, ip string, _ time.Duration) ProbeResult {
	if s.fast[ip] {
		return ProbeResult{IP: ip, OK: true}
	}
	<-ctx.Done()
	return ProbeResult{IP: ip}
}

func TestScan_NoLocalNetwork(t *testing.T) {
	s := newTestScanner(&stubProber{})
	s.LocalIP = func() (string, error) { return "127.0.0.1", ErrNoLocalNetwork }

	_, err := s.Scan(context.Background())
	assert.True(t, errors.Is(err, ErrNoLocalNetwork))

	s.LocalIP = func() (string, error) { return "127.0.0.1", nil }
	_, err = s.Scan(context.Background())
	assert.True(t, errors.Is(err, ErrNoLocalNetwork))
}

func TestCandidates(t *testing.T) {
	hosts, err := Candidates("10.1.2.77")
	require.NoError(t, err)
	require.Len(t, hosts, 254)
	assert.Equal(t, "10.1.2.1", hosts[0])
	assert.Equal(t, "10.1.2.254", hosts[253])

	_, err = Candidates("::1")
	assert.Error(t, err)
	_, err = Candidates("garbage")
	assert.Error(t, err)
}
