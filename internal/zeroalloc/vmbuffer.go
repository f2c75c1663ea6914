package zeroalloc

import "github.com/cbegin/scorevm/internal/vmbc"

// vmBuffer is the Zero-Alloc Compiler's VM output buffer: a single []int32
// preallocated once at construction to maxEvents*7 words (an upper bound on
// START + REST + NOTE + END per event) and reused across Compile calls by
// resetting its length, never its capacity. emitScope's call sites are void
// and chainable, mirroring vmbc.Writer's API, so a write past capacity sets
// a sticky overflowed flag instead of returning an error from every call;
// Compile checks the flag once after emission finishes.
type vmBuffer struct {
	words      []int32
	overflowed bool
}

func newVMBuffer(capacity int) *vmBuffer {
	return &vmBuffer{words: make([]int32, 0, capacity)}
}

func (b *vmBuffer) reset() {
	b.words = b.words[:0]
	b.overflowed = false
}

func (b *vmBuffer) Bytes() []int32 { return b.words }
func (b *vmBuffer) Len() int       { return len(b.words) }

func (b *vmBuffer) write(vals ...int32) {
	if b.overflowed {
		return
	}
	if len(b.words)+len(vals) > cap(b.words) {
		b.overflowed = true
		return
	}
	b.words = append(b.words, vals...)
}

func (b *vmBuffer) Note(pitch, vel, dur int32) { b.write(int32(vmbc.Note), pitch, vel, dur) }
func (b *vmBuffer) Rest(dur int32)             { b.write(int32(vmbc.Rest), dur) }
func (b *vmBuffer) Tempo(bpm int32)            { b.write(int32(vmbc.Tempo), bpm) }
func (b *vmBuffer) CC(ctrl, val int32)         { b.write(int32(vmbc.CC), ctrl, val) }
func (b *vmBuffer) Bend(val int32)             { b.write(int32(vmbc.Bend), val) }

func (b *vmBuffer) StackStart(count int32) { b.write(int32(vmbc.StackStart), count) }
func (b *vmBuffer) BranchStart()           { b.write(int32(vmbc.BranchStart)) }
func (b *vmBuffer) BranchEnd()             { b.write(int32(vmbc.BranchEnd)) }
func (b *vmBuffer) StackEnd()              { b.write(int32(vmbc.StackEnd)) }

func (b *vmBuffer) LoopStart(count int32) { b.write(int32(vmbc.LoopStart), count) }
func (b *vmBuffer) LoopEnd()              { b.write(int32(vmbc.LoopEnd)) }

func (b *vmBuffer) EOF() { b.write(int32(vmbc.EOF)) }
