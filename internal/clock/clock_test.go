package clock

import (
	"testing"
	"time"
)

// fakeNow returns a controllable time source pinned to a fixed epoch.
func fakeNow(at *time.Time) func() time.Time {
	return func() time.Time { return *at }
}

func TestObservePongComputesOffsetAndRTT(t *testing.T) {
	base := time.UnixMilli(1_000_000)
	now := base
	c := NewAt(DefaultInterpolationDelay, fakeNow(&now))

	// Ping left at t=1_000_000, pong observed 80 ms later; the server
	// stamped 40 ms after the ping left and its clock runs 500 ms ahead.
	now = base.Add(80 * time.Millisecond)
	c.ObservePong(1_000_000, 1_000_540)

	if got := c.RTT(); got != 80*time.Millisecond {
		t.Fatalf("RTT = %v, want 80ms", got)
	}
	// offset = serverSend + rtt/2 - now = 1000540 + 40 - 1000080 = +500ms.
	if got := c.Offset(); got != 500*time.Millisecond {
		t.Fatalf("offset = %v, want 500ms", got)
	}
	if got := c.ServerTime(); !got.Equal(now.Add(500 * time.Millisecond)) {
		t.Fatalf("server time = %v, want local+500ms", got)
	}
}

func TestMedianAbsorbsOutliers(t *testing.T) {
	base := time.UnixMilli(2_000_000)
	now := base
	c := NewAt(DefaultInterpolationDelay, fakeNow(&now))

	// Five clean 100 ms round trips, then one 900 ms spike.
	for i := 0; i < 5; i++ {
		sent := base.Add(time.Duration(i) * time.Second)
		now = sent.Add(100 * time.Millisecond)
		c.ObservePong(sent.UnixMilli(), sent.Add(50*time.Millisecond).UnixMilli())
	}
	spikeSent := base.Add(10 * time.Second)
	now = spikeSent.Add(900 * time.Millisecond)
	c.ObservePong(spikeSent.UnixMilli(), spikeSent.Add(450*time.Millisecond).UnixMilli())

	if got := c.RTT(); got != 100*time.Millisecond {
		t.Fatalf("median RTT = %v, want 100ms despite spike", got)
	}
	if got := c.MinRTT(); got != 100*time.Millisecond {
		t.Fatalf("min RTT = %v, want 100ms", got)
	}
}

func TestNegativeRTTSampleIgnored(t *testing.T) {
	base := time.UnixMilli(3_000_000)
	now := base
	c := NewAt(DefaultInterpolationDelay, fakeNow(&now))

	// Client stamp from the future: the local clock stepped backwards.
	c.ObservePong(base.Add(time.Second).UnixMilli(), base.UnixMilli())

	if got := c.RTT(); got != 0 {
		t.Fatalf("RTT = %v, want 0 after rejected sample", got)
	}
	if got := c.Offset(); got != 0 {
		t.Fatalf("offset = %v, want 0 after rejected sample", got)
	}
}

func TestRenderTimeTrailsServerTime(t *testing.T) {
	base := time.UnixMilli(4_000_000)
	now := base
	c := NewAt(DefaultInterpolationDelay, fakeNow(&now))

	delta := c.ServerTime().Sub(c.RenderTime())
	if delta != DefaultInterpolationDelay {
		t.Fatalf("render trails server by %v, want %v", delta, DefaultInterpolationDelay)
	}
}

func TestDelayClamped(t *testing.T) {
	base := time.UnixMilli(5_000_000)
	now := base

	low := NewAt(time.Millisecond, fakeNow(&now))
	if d := low.ServerTime().Sub(low.RenderTime()); d != MinInterpolationDelay {
		t.Fatalf("low delay clamped to %v, want %v", d, MinInterpolationDelay)
	}

	high := NewAt(time.Hour, fakeNow(&now))
	if d := high.ServerTime().Sub(high.RenderTime()); d != MaxInterpolationDelay {
		t.Fatalf("high delay clamped to %v, want %v", d, MaxInterpolationDelay)
	}
}

func TestWindowSlidesPastStaleSamples(t *testing.T) {
	base := time.UnixMilli(6_000_000)
	now := base
	c := NewAt(DefaultInterpolationDelay, fakeNow(&now))

	// Fill the window with 300 ms trips, then overwrite it entirely
	// with 60 ms trips; the old latency must stop influencing the
	// median.
	for i := 0; i < sampleWindow; i++ {
		sent := base.Add(time.Duration(i) * time.Second)
		now = sent.Add(300 * time.Millisecond)
		c.ObservePong(sent.UnixMilli(), sent.Add(150*time.Millisecond).UnixMilli())
	}
	for i := 0; i < sampleWindow; i++ {
		sent := base.Add(time.Duration(100+i) * time.Second)
		now = sent.Add(60 * time.Millisecond)
		c.ObservePong(sent.UnixMilli(), sent.Add(30*time.Millisecond).UnixMilli())
	}

	if got := c.RTT(); got != 60*time.Millisecond {
		t.Fatalf("median RTT = %v, want 60ms after window turnover", got)
	}
	if got := c.MinRTT(); got != 60*time.Millisecond {
		t.Fatalf("min RTT = %v, want 60ms", got)
	}
}
