// Package clock maps local wall time onto server time for one
// connection. Each PONG yields an RTT sample and an offset sample;
// medians over a small window absorb jitter without extrapolating.
package clock

import (
	"sort"
	"sync"
	"time"
)

const sampleWindow = 10

// Interpolation delay bounds. Render time sits this far behind
// estimated server time so the sample buffer brackets it.
const (
	MinInterpolationDelay     = 50 * time.Millisecond
	MaxInterpolationDelay     = 500 * time.Millisecond
	DefaultInterpolationDelay = 100 * time.Millisecond
)

// NetClock is a per-connection clock and latency estimator.
type NetClock struct {
	mu      sync.Mutex
	now     func() time.Time
	offsets ring
	rtts    ring
	offset  time.Duration // median of offsets
	rtt     time.Duration // median of rtts
	minRTT  time.Duration // min over the session
	delay   time.Duration
}

// New returns a clock with the given interpolation delay, clamped to
// [MinInterpolationDelay, MaxInterpolationDelay].
func New(delay time.Duration) *NetClock {
	if delay < MinInterpolationDelay {
		delay = MinInterpolationDelay
	}
	if delay > MaxInterpolationDelay {
		delay = MaxInterpolationDelay
	}
	return &NetClock{now: time.Now, delay: delay}
}

// NewAt is New with an injected time source, for tests.
func NewAt(delay time.Duration, now func() time.Time) *NetClock {
	c := New(delay)
	c.now = now
	return c
}

// ObservePong feeds one PONG. clientSend and serverSend are the Unix
// millisecond stamps carried by the message.
func (c *NetClock) ObservePong(clientSendMs, serverSendMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	rtt := now.Sub(time.UnixMilli(clientSendMs))
	if rtt < 0 {
		return // clock stepped or bogus stamp; an inverted sample only pollutes the window
	}
	// One-way delay is estimated as half the round trip.
	offset := time.UnixMilli(serverSendMs).Add(rtt / 2).Sub(now)

	c.rtts.push(rtt)
	c.offsets.push(offset)
	c.rtt = c.rtts.median()
	c.offset = c.offsets.median()
	if c.minRTT == 0 || rtt < c.minRTT {
		c.minRTT = rtt
	}
}

// ServerTime is the local clock shifted by the current offset estimate.
func (c *NetClock) ServerTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Add(c.offset)
}

// RenderTime is ServerTime minus the interpolation delay; remote
// entities are drawn at this instant.
func (c *NetClock) RenderTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Add(c.offset - c.delay)
}

// Offset returns the median server-time offset.
func (c *NetClock) Offset() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

// RTT returns the median round-trip estimate.
func (c *NetClock) RTT() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rtt
}

// MinRTT returns the smallest round trip seen this session.
func (c *NetClock) MinRTT() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.minRTT
}

// ring keeps the last sampleWindow durations.
type ring struct {
	buf  [sampleWindow]time.Duration
	next int
	n    int
}

func (r *ring) push(d time.Duration) {
	r.buf[r.next] = d
	r.next = (r.next + 1) % sampleWindow
	if r.n < sampleWindow {
		r.n++
	}
}

func (r *ring) median() time.Duration {
	if r.n == 0 {
		return 0
	}
	s := make([]time.Duration, r.n)
	copy(s, r.buf[:r.n])
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	mid := r.n / 2
	if r.n%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}
