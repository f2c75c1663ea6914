// Package tonesink implements the Demo Tone Sink: a minimal polyphonic
// voice engine that renders the event consumer's NOTE/CC/BEND contract as
// naive (not band-limited) pulse waves. It is an external collaborator of the VM and
// compiler, not part of the core — neither package imports it.
package tonesink

import (
	"math"
	"sync/atomic"

	"github.com/cbegin/scorevm/internal/lfo"
)

const (
	maxVoices  = 16
	pulseDuty  = 0.5
	attackSec  = 0.004
	decaySec   = 0.08
	sustainLvl = 0.7
	releaseSec = 0.15
)

// Bend center and full-scale range per §4.9: 14-bit, center 8192, ±2
// semitones full scale.
const (
	BendCenter     = 8192
	BendFullScale  = 16383
	BendSemitones  = 2
	ModDepthCC     = 1
	ChannelGainCC  = 7
)

type envState int

const (
	envAttack envState = iota
	envDecay
	envSustain
	envRelease
	envOff
)

type voice struct {
	active   bool
	id       int
	age      int
	freq     float64
	phase    float64
	velocity float64
	env      float64
	state    envState
}

// Engine renders active voices into interleaved stereo float32 frames. It
// implements internal/audio's SampleSource interface via Process.
type Engine struct {
	sampleRate float64
	voices     [maxVoices]voice
	nextID     int

	gain     uint64 // atomic float64 bits; channel gain from CC7
	bend     int32  // atomic 14-bit pitch bend value
	modDepth lfo.LFO
}

// New returns an Engine rendering at sampleRate Hz with unity channel gain
// and center pitch bend.
func New(sampleRate int) *Engine {
	e := &Engine{sampleRate: float64(sampleRate)}
	atomic.StoreUint64(&e.gain, math.Float64bits(1.0))
	atomic.StoreInt32(&e.bend, BendCenter)
	return e
}

// NoteOn starts a voice at the given MIDI pitch and velocity (0-127),
// stealing the oldest voice if every slot is in use. Returns a voice id for
// a matching NoteOff.
func (e *Engine) NoteOn(pitch, velocity int32) int {
	slot := e.stealVoice()
	id := e.nextID
	e.nextID++
	v := &e.voices[slot]
	v.active = true
	v.id = id
	v.age = 0
	v.freq = midiToFreq(pitch)
	v.phase = 0
	v.velocity = clamp(float64(velocity)/127.0, 0, 1)
	v.env = 0
	v.state = envAttack
	return id
}

// NoteOff releases the voice with the given id, if still sounding.
func (e *Engine) NoteOff(id int) {
	for i := range e.voices {
		v := &e.voices[i]
		if v.active && v.id == id && v.state != envRelease {
			v.state = envRelease
		}
	}
}

// CC applies a control-change event. ctrl 1 sets the shared pitch-LFO
// (vibrato) depth in semitones from value (0-127); ctrl 7 sets channel gain
// (0-127 scaled to 0-1). Other controllers are ignored.
func (e *Engine) CC(ctrl, value int32) {
	switch ctrl {
	case ModDepthCC:
		depth := clamp(float64(value)/127.0, 0, 1) * 0.5
		e.modDepth.Set(depth, 5.0, lfo.WaveTriangle)
	case ChannelGainCC:
		atomic.StoreUint64(&e.gain, math.Float64bits(clamp(float64(value)/127.0, 0, 1)))
	}
}

// Bend applies a 14-bit pitch bend value (center BendCenter) affecting
// every active voice's pitch by up to ±BendSemitones semitones.
func (e *Engine) Bend(value int32) {
	if value < 0 {
		value = 0
	}
	if value > BendFullScale {
		value = BendFullScale
	}
	atomic.StoreInt32(&e.bend, value)
}

// Process renders len(dst)/2 stereo frames, advancing every active voice's
// envelope and oscillator by one sample per frame.
func (e *Engine) Process(dst []float32) {
	gain := math.Float64frombits(atomic.LoadUint64(&e.gain))
	bendSemis := (float64(atomic.LoadInt32(&e.bend)) - BendCenter) / BendCenter * BendSemitones
	bendMul := math.Pow(2, bendSemis/12.0)
	vibrato := e.modDepth.Sample(e.sampleRate)
	pitchMul := bendMul * math.Pow(2, vibrato/12.0)

	for i := 0; i+1 < len(dst); i += 2 {
		var sum float64
		for v := range e.voices {
			voice := &e.voices[v]
			if !voice.active {
				continue
			}
			voice.age++
			env := e.advanceEnv(voice)
			if !voice.active {
				continue
			}
			dt := (voice.freq * pitchMul) / e.sampleRate
			voice.phase += dt
			if voice.phase >= 1 {
				voice.phase -= 1
			}
			sample := -1.0
			if voice.phase < pulseDuty {
				sample = 1.0
			}
			sum += sample * env * voice.velocity
		}
		out := float32(clamp(sum*0.2*gain, -1, 1))
		dst[i] = out
		dst[i+1] = out
	}
}

// SetGain sets channel gain directly (equivalent to CC(ChannelGainCC, ...)
// but taking a 0-1 float rather than a 7-bit controller value).
func (e *Engine) SetGain(gain float64) {
	if gain < 0 {
		gain = 0
	}
	atomic.StoreUint64(&e.gain, math.Float64bits(gain))
}

// ActiveVoiceCount reports how many voices are still sounding, including
// release tails — used to know when a render can stop.
func (e *Engine) ActiveVoiceCount() int {
	n := 0
	for i := range e.voices {
		if e.voices[i].active {
			n++
		}
	}
	return n
}

func (e *Engine) stealVoice() int {
	for i := range e.voices {
		if !e.voices[i].active {
			return i
		}
	}
	oldest, oldestAge := 0, -1
	for i := range e.voices {
		if e.voices[i].age > oldestAge {
			oldest, oldestAge = i, e.voices[i].age
		}
	}
	return oldest
}

func (e *Engine) advanceEnv(v *voice) float64 {
	switch v.state {
	case envAttack:
		step := 1.0 / (attackSec * e.sampleRate)
		v.env += step
		if v.env >= 1 {
			v.env = 1
			v.state = envDecay
		}
	case envDecay:
		step := (1 - sustainLvl) / (decaySec * e.sampleRate)
		v.env -= step
		if v.env <= sustainLvl {
			v.env = sustainLvl
			v.state = envSustain
		}
	case envSustain:
	case envRelease:
		step := sustainLvl / (releaseSec * e.sampleRate)
		v.env -= step
		if v.env <= 0.0001 {
			v.env = 0
			v.state = envOff
			v.active = false
		}
	case envOff:
		v.active = false
		v.env = 0
	}
	return v.env
}

func midiToFreq(note int32) float64 {
	return 440 * math.Pow(2, (float64(note)-69)/12)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
