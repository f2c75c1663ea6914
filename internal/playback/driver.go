// Package playback bridges a running VM and its Consumer to the Demo Tone
// Sink, converting VM ticks to audio frames the way the teacher's sequencer
// converts MML ticks to frames: a running tick_frac accumulator advanced by
// ticks-per-sample, dispatching whatever crosses a tick boundary before
// rendering the frame.
package playback

import (
	"github.com/cbegin/scorevm/internal/consumer"
	"github.com/cbegin/scorevm/internal/shm"
	"github.com/cbegin/scorevm/internal/tonesink"
	"github.com/cbegin/scorevm/internal/vm"
)

type pendingOff struct {
	tick int32
	id   int
}

// Driver owns a VM, a Consumer reading the same buffer, and a tone sink,
// and implements internal/audio's SampleSource interface via Process.
type Driver struct {
	machine    *vm.VM
	con        *consumer.Consumer
	sink       *tonesink.Engine
	ppq        int32
	sampleRate int

	ticksPerSamp   float64
	tickFrac       float64
	tickInt        int32
	appliedTempos  int
	pending        []pendingOff
}

// New binds a Driver to buf, starting a fresh VM and Consumer pair and a
// new tone sink rendering at sampleRate Hz.
func New(buf *shm.Buffer, sampleRate int) (*Driver, error) {
	machine, err := vm.New(buf)
	if err != nil {
		return nil, err
	}
	ppq := buf.Get(shm.RegPPQ)
	if ppq <= 0 {
		ppq = shm.DefaultPPQ
	}
	bpm := buf.Get(shm.RegBPM)
	if bpm <= 0 {
		bpm = shm.DefaultBPM
	}
	d := &Driver{
		machine:    machine,
		con:        consumer.New(buf),
		sink:       tonesink.New(sampleRate),
		ppq:        ppq,
		sampleRate: sampleRate,
	}
	d.setBPM(float64(bpm))
	return d, nil
}

func (d *Driver) setBPM(bpm float64) {
	d.ticksPerSamp = (bpm * float64(d.ppq)) / (60.0 * float64(d.sampleRate))
}

// Process renders len(dst)/2 stereo frames, driving the VM tick-by-tick and
// feeding published events to the tone sink as the cursor reaches them.
func (d *Driver) Process(dst []float32) {
	frames := len(dst) / 2
	for f := 0; f < frames; f++ {
		d.tickFrac += d.ticksPerSamp
		nextTick := int32(d.tickFrac)
		for d.tickInt <= nextTick {
			d.advanceTo(d.tickInt)
			d.fireDueNoteOffs(d.tickInt)
			d.tickInt++
		}
		d.sink.Process(dst[f*2 : f*2+2])
	}
}

// advanceTo drives the VM up to targetTick, draining the ring (and retrying
// past backpressure) until the VM itself reports a tick-boundary pause or
// DONE.
func (d *Driver) advanceTo(targetTick int32) {
	for {
		state, err := d.machine.Tick(targetTick)
		if err != nil {
			return
		}
		backpressured := d.con.IsBackpressured()
		d.handleEvents(d.con.Poll())
		if state != shm.StatePaused || !backpressured {
			return
		}
	}
}

func (d *Driver) handleEvents(events []consumer.Event) {
	for _, ev := range events {
		switch ev.Type {
		case shm.EventNote:
			id := d.sink.NoteOn(ev.Field1, ev.Field2)
			d.pending = append(d.pending, pendingOff{tick: ev.Tick + ev.Field3, id: id})
		case shm.EventCC:
			d.sink.CC(ev.Field1, ev.Field2)
		case shm.EventBend:
			d.sink.Bend(ev.Field1)
		}
	}
	if len(events) > 0 {
		d.refreshTempo()
	}
}

func (d *Driver) refreshTempo() {
	log := d.con.TempoLog()
	if len(log) <= d.appliedTempos {
		return
	}
	d.setBPM(float64(log[len(log)-1].BPM))
	d.appliedTempos = len(log)
}

func (d *Driver) fireDueNoteOffs(tick int32) {
	kept := d.pending[:0]
	for _, p := range d.pending {
		if p.tick <= tick {
			d.sink.NoteOff(p.id)
			continue
		}
		kept = append(kept, p)
	}
	d.pending = kept
}

// Done reports whether the VM has reached its EOF opcode and no release
// tail remains to render.
func (d *Driver) Done() bool {
	return d.machine.State() == shm.StateDone && d.sink.ActiveVoiceCount() == 0
}

// Finished implements internal/audio's FinishingSource, signaling the
// stream to close once the VM is done and the tone sink has fully released.
func (d *Driver) Finished() bool { return d.Done() }

// SetGain sets the tone sink's channel gain directly. 1.0 is unity.
func (d *Driver) SetGain(gain float64) { d.sink.SetGain(gain) }
