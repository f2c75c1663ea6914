// Package xform holds the per-event tick/velocity transform math shared by
// the reference compiler and the zero-alloc compiler, so the two stay
// bit-for-bit identical by construction rather than by coincidence.
package xform

import (
	"math"

	"github.com/cbegin/scorevm/internal/prng"
)

// Quantize snaps tick toward the nearest multiple of grid, weighted by
// strengthPct (0-100). No effect if grid <= 0.
func Quantize(tick int32, grid int32, strengthPct int32) int32 {
	if grid <= 0 {
		return tick
	}
	nearest := int32(math.Round(float64(tick)/float64(grid))) * grid
	delta := int32(math.Round(float64(nearest-tick) * float64(strengthPct) / 100))
	return tick + delta
}

// Groove applies a cyclical per-beat offset. beat_index = floor(tick/ppq)
// mod len(offsets). No effect if offsets is empty.
func Groove(tick int32, ppq int32, offsets []int32) int32 {
	if len(offsets) == 0 {
		return tick
	}
	beat := int32(math.Floor(float64(tick) / float64(ppq)))
	idx := beat % int32(len(offsets))
	if idx < 0 {
		idx += int32(len(offsets))
	}
	return tick + offsets[idx]
}

// Humanize seeds the PRNG with base_seed+event_index and perturbs tick
// (only when timingPPT > 0) and velocity (only when isNote and velocityPPT > 0). Returns the
// (possibly unchanged) tick and velocity. tick is clamped to >= 0.
func Humanize(tick, vel int32, isNote bool, baseSeed uint32, eventIndex int32, timingPPT, velocityPPT, ppq int32) (int32, int32) {
	if timingPPT <= 0 && (velocityPPT <= 0 || !isNote) {
		if tick < 0 {
			tick = 0
		}
		return tick, vel
	}
	var g prng.State
	g.Seed(baseSeed + uint32(eventIndex))
	if timingPPT > 0 {
		r := g.Next()
		tick += int32(math.Round((r - 0.5) * 2 * (float64(timingPPT) / 1000) * float64(ppq)))
	}
	if isNote && velocityPPT > 0 {
		r := g.Next()
		v := float64(vel) + (r-0.5)*2*(float64(velocityPPT)/1000)*127
		vel = clamp32(int32(math.Round(v)), 1, 127)
	}
	if tick < 0 {
		tick = 0
	}
	return tick, vel
}

func clamp32(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
