package scorevm

import (
	"encoding/binary"
	"math"

	"github.com/cbegin/scorevm/internal/playback"
	"github.com/cbegin/scorevm/internal/shm"
)

// RenderToWAV runs a VM bound to vmBytecode to completion against the Demo
// Tone Sink at sampleRate, then encodes the rendered stereo frames as a
// 32-bit float WAV file. Used by cmd/scorevmplay's -wav flag and by
// integration tests asserting audible output without a live audio device.
func RenderToWAV(vmBytecode []int32, ppq, bpm, sampleRate int) ([]byte, error) {
	const (
		eventRingCap = 64
		tempoLogCap  = 16
		chunkFrames  = 512
		tailFrames   = 48000 // frames of silence rendered after the driver reports Done
	)

	buf := shm.NewBuffer(len(vmBytecode), eventRingCap, tempoLogCap)
	buf.Set(shm.RegPPQ, int32(ppq))
	buf.Set(shm.RegBPM, int32(bpm))
	buf.LoadBytecode(vmBytecode)

	driver, err := playback.New(buf, sampleRate)
	if err != nil {
		return nil, err
	}

	// maxFrames bounds the render so a VM that never reaches DONE (a bug,
	// not a valid program per spec.md's termination guarantee) can't hang
	// this call forever.
	const maxRenderSeconds = 600
	maxFrames := maxRenderSeconds*sampleRate + tailFrames

	var samples []float32
	chunk := make([]float32, chunkFrames*2)
	silence := 0
	rendered := 0
	for silence < tailFrames && rendered < maxFrames {
		driver.Process(chunk)
		samples = append(samples, chunk...)
		rendered += chunkFrames
		if driver.Done() {
			silence += chunkFrames
		} else {
			silence = 0
		}
	}
	return encodeWAVFloat32LE(samples, sampleRate, 2), nil
}

// encodeWAVFloat32LE writes samples (interleaved by channel) as a minimal
// WAVE_FORMAT_IEEE_FLOAT RIFF file.
func encodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	byteRate := sampleRate * channels * 4
	blockAlign := channels * 4
	chunkSize := 36 + dataSize
	out := make([]byte, 44+dataSize)
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(chunkSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3) // WAVE_FORMAT_IEEE_FLOAT
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}
