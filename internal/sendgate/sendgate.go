// Package sendgate rate-limits outbound transform updates for the
// local participant. The throttle runs before the delta gate, so a
// motionless client costs zero bandwidth.
package sendgate

import (
	"math"
	"time"

	"murk/internal/protocol"
)

// Send rate bounds in updates per second.
const (
	MinSendRate     = 1
	MaxSendRate     = 60
	DefaultSendRate = 20
)

// Default delta thresholds. An update is worth sending once any single
// axis or field moves past its threshold.
const (
	DefaultPositionThreshold = 0.01  // metres; also gates visual scale
	DefaultRotationThreshold = 0.005 // radians
	volumeThreshold          = 0.1   // m³
)

// Config tunes one gate.
type Config struct {
	SendRate          int     // Hz, clamped to [MinSendRate, MaxSendRate]
	PositionThreshold float64 // per-axis position / scale delta
	RotationThreshold float64 // per-axis rotation delta
}

// Gate tracks the last transmitted state for the local participant.
// Not safe for concurrent use; the simulation loop owns it.
type Gate struct {
	cfg      Config
	interval time.Duration

	sentOnce   bool
	lastAt     time.Time
	lastPos    protocol.Vec3
	lastRot    protocol.Vec3
	lastScale  float64
	lastVolume float64
}

// New returns a gate with cfg, filling zero fields with defaults.
func New(cfg Config) *Gate {
	if cfg.SendRate == 0 {
		cfg.SendRate = DefaultSendRate
	}
	if cfg.SendRate < MinSendRate {
		cfg.SendRate = MinSendRate
	}
	if cfg.SendRate > MaxSendRate {
		cfg.SendRate = MaxSendRate
	}
	if cfg.PositionThreshold <= 0 {
		cfg.PositionThreshold = DefaultPositionThreshold
	}
	if cfg.RotationThreshold <= 0 {
		cfg.RotationThreshold = DefaultRotationThreshold
	}
	return &Gate{
		cfg:      cfg,
		interval: time.Second / time.Duration(cfg.SendRate),
	}
}

// MaybeSend decides whether the current state goes on the wire at now.
// A true return means the caller must transmit; the gate has already
// recorded the state as sent.
func (g *Gate) MaybeSend(now time.Time, t protocol.Transform, volume float64) bool {
	if g.sentOnce {
		if now.Sub(g.lastAt) < g.interval {
			return false
		}
		if !g.changed(t, volume) {
			return false
		}
	}

	g.sentOnce = true
	g.lastAt = now
	g.lastPos = t.Pos
	g.lastRot = t.Rot
	g.lastScale = t.Scale
	g.lastVolume = volume
	return true
}

func (g *Gate) changed(t protocol.Transform, volume float64) bool {
	p := g.cfg.PositionThreshold
	r := g.cfg.RotationThreshold
	switch {
	case math.Abs(t.Pos.X-g.lastPos.X) > p,
		math.Abs(t.Pos.Y-g.lastPos.Y) > p,
		math.Abs(t.Pos.Z-g.lastPos.Z) > p:
		return true
	case math.Abs(t.Rot.X-g.lastRot.X) > r,
		math.Abs(t.Rot.Y-g.lastRot.Y) > r,
		math.Abs(t.Rot.Z-g.lastRot.Z) > r:
		return true
	case math.Abs(t.Scale-g.lastScale) > p:
		return true
	case math.Abs(volume-g.lastVolume) > volumeThreshold:
		return true
	}
	return false
}
