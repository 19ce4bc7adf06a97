// Package interp buffers time-stamped transforms per remote entity and
// resamples them at render time. It reorders by server timestamp,
// interpolates between the bracketing pair, and never extrapolates
// past the newest sample.
package interp

import (
	"math"
	"time"

	"murk/internal/protocol"
)

// maxSamples bounds the per-entity window; the oldest entries fall off.
const maxSamples = 60

// Sample is one time-stamped pose for a remote entity.
type Sample struct {
	ServerTime time.Time
	Pos        protocol.Vec3
	Rot        protocol.Vec3
	Scale      float64
}

// Buffer holds the sample window for one remote entity. Not safe for
// concurrent use; the render loop is the sole caller and synchronises
// externally.
type Buffer struct {
	samples []Sample
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{samples: make([]Sample, 0, maxSamples)}
}

// Push inserts a sample, keeping the window sorted by ServerTime.
// Samples usually arrive in order, so the scan starts from the tail.
func (b *Buffer) Push(s Sample) {
	i := len(b.samples)
	for i > 0 && b.samples[i-1].ServerTime.After(s.ServerTime) {
		i--
	}
	b.samples = append(b.samples, Sample{})
	copy(b.samples[i+1:], b.samples[i:])
	b.samples[i] = s

	if len(b.samples) > maxSamples {
		b.samples = b.samples[1:]
	}
}

// Len returns the number of buffered samples.
func (b *Buffer) Len() int { return len(b.samples) }

// Reset drops all buffered samples.
func (b *Buffer) Reset() { b.samples = b.samples[:0] }

// At resamples the entity at renderTime. The second return is false
// only when the buffer is empty. Before the window it returns the
// earliest sample, past it the latest; in between it lerps position
// and scale and takes the shortest angular path per Euler component.
func (b *Buffer) At(renderTime time.Time) (Sample, bool) {
	n := len(b.samples)
	if n == 0 {
		return Sample{}, false
	}
	if n == 1 || !renderTime.After(b.samples[0].ServerTime) {
		return b.samples[0], true
	}
	if !b.samples[n-1].ServerTime.After(renderTime) {
		return b.samples[n-1], true
	}

	// Linear scan for the bracketing pair; the window is small.
	i := 1
	for b.samples[i].ServerTime.Before(renderTime) {
		i++
	}
	before, after := b.samples[i-1], b.samples[i]

	span := after.ServerTime.Sub(before.ServerTime)
	if span <= 0 {
		return before, true
	}
	t := float64(renderTime.Sub(before.ServerTime)) / float64(span)

	return Sample{
		ServerTime: renderTime,
		Pos:        lerpVec(before.Pos, after.Pos, t),
		Rot: protocol.Vec3{
			X: lerpAngle(before.Rot.X, after.Rot.X, t),
			Y: lerpAngle(before.Rot.Y, after.Rot.Y, t),
			Z: lerpAngle(before.Rot.Z, after.Rot.Z, t),
		},
		Scale: before.Scale + (after.Scale-before.Scale)*t,
	}, true
}

func lerpVec(a, b protocol.Vec3, t float64) protocol.Vec3 {
	return protocol.Vec3{
		X: a.X + (b.X-a.X)*t,
		Y: a.Y + (b.Y-a.Y)*t,
		Z: a.Z + (b.Z-a.Z)*t,
	}
}

// lerpAngle interpolates radians along the shortest arc: the delta is
// wrapped into [-π, π] before lerping.
func lerpAngle(a, b, t float64) float64 {
	d := math.Mod(b-a, 2*math.Pi)
	if d > math.Pi {
		d -= 2 * math.Pi
	} else if d < -math.Pi {
		d += 2 * math.Pi
	}
	return a + d*t
}
