package scorevm

import (
	"sync"
	"time"

	intaudio "github.com/cbegin/scorevm/internal/audio"
	"github.com/cbegin/scorevm/internal/playback"
	"github.com/cbegin/scorevm/internal/shm"
)

// PlaybackEvent carries playback lifecycle events from Watch().
type PlaybackEvent struct {
	Kind int
}

const (
	EventPlaybackEnded int = iota
)

// Player drives a compiled VM bytecode program against the Demo Tone Sink
// through a live ebiten audio output, mirroring the teacher's Player: a
// Watch() event channel, a blocking Wait(), and runtime volume control.
type Player struct {
	mu         sync.Mutex
	driver     *playback.Driver
	sampleRate int
	audio      *intaudio.Player
	done       chan struct{}
	eventCh    chan PlaybackEvent
}

// NewPlayer compiles nothing itself — it loads vmBytecode into a fresh
// Buffer (sized by eventRingCap/tempoLogCap) and wires a VM+Consumer pair
// to the Demo Tone Sink via internal/playback.
func NewPlayer(vmBytecode []int32, ppq, bpm int32, eventRingCap, tempoLogCap, sampleRate int) (*Player, error) {
	buf := shm.NewBuffer(len(vmBytecode), eventRingCap, tempoLogCap)
	buf.Set(shm.RegPPQ, ppq)
	buf.Set(shm.RegBPM, bpm)
	buf.LoadBytecode(vmBytecode)

	driver, err := playback.New(buf, sampleRate)
	if err != nil {
		return nil, err
	}
	return &Player{driver: driver, sampleRate: sampleRate}, nil
}

// Play starts live playback on a new audio backend, stopping any previous
// one first.
func (p *Player) Play() error {
	backend, err := intaudio.NewPlayer(p.sampleRate, p.driver)
	if err != nil {
		return err
	}
	p.mu.Lock()
	if p.audio != nil {
		_ = p.audio.Stop()
	}
	p.audio = backend
	done := make(chan struct{})
	p.done = done
	p.mu.Unlock()

	backend.Play()
	go p.watch(backend, done)
	return nil
}

// watch polls the audio backend and reports EventPlaybackEnded once it
// stops playing (the VM reached EOF and the tone sink's release tail
// finished), then closes done for any blocked Wait().
func (p *Player) watch(backend *intaudio.Player, done chan struct{}) {
	for backend.IsPlaying() {
		time.Sleep(20 * time.Millisecond)
	}
	p.mu.Lock()
	ch := p.eventCh
	p.mu.Unlock()
	if ch != nil {
		select {
		case ch <- PlaybackEvent{Kind: EventPlaybackEnded}:
		default:
		}
	}
	close(done)
}

// Watch returns a channel that receives a PlaybackEvent when playback ends.
// The channel is buffered (cap 4); only the most recently created Watch()
// channel receives events. Call Watch before Play.
func (p *Player) Watch() <-chan PlaybackEvent {
	ch := make(chan PlaybackEvent, 4)
	p.mu.Lock()
	p.eventCh = ch
	p.mu.Unlock()
	return ch
}

// Wait blocks until the current playback ends. Returns immediately if no
// playback is active.
func (p *Player) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.audio != nil {
		p.audio.Pause()
	}
}

func (p *Player) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.audio != nil {
		p.audio.Play()
	}
}

func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.audio == nil {
		return nil
	}
	err := p.audio.Stop()
	p.audio = nil
	return err
}

// SetMasterVolume sets the tone sink's channel gain. 1.0 is unity.
func (p *Player) SetMasterVolume(volume float64) {
	p.driver.SetGain(volume)
}
