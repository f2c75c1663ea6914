// Package shm implements the Shared Memory Layout: one contiguous []int32
// buffer partitioned into header registers, bounded auxiliary stacks, the VM
// bytecode region, an event ring, and a tempo log. The VM is the sole writer
// of everything except EventRead; the consumer is the sole writer of
// EventRead. Cross-thread handoff on the two counters and State goes through
// sync/atomic.
package shm

import "sync/atomic"

const (
	Magic   int32 = 0x53424331 // ASCII "SBC1"
	Version int32 = 0x02

	DefaultPPQ int32 = 96
	DefaultBPM int32 = 120
)

// Header register slots, word offset 0.
const (
	RegMagic int = iota
	RegVersion
	RegPPQ
	RegBPM
	RegTotalTicks
	RegPC
	RegTick
	RegState
	RegStackSP
	RegLoopSP
	RegTransSP
	RegTransposition
	RegEventWrite // atomic
	RegEventRead  // atomic
	RegTempoCount
	RegStackRegionOffset
	RegLoopRegionOffset
	RegTransRegionOffset
	RegBytecodeOffset
	RegEventRingOffset
	RegTempoLogOffset
	headerWords // 21
)

// State values for RegState.
const (
	StateIdle int32 = iota
	StateRunning
	StatePaused
	StateDone
)

// Region layout (fixed per the ABI).
const (
	StackFrameOffset  = 32
	StackFrameStride  = 8
	MaxStackFrames     = 14

	LoopFrameOffset = 144
	LoopFrameStride = 4
	MaxLoopFrames   = 20

	TransStackOffset = 224
	TransStackStride = 1
	MaxTransDepth    = 32

	BytecodeOffset = 256
)

// Stack frame fields (offset within an 8-word frame).
const (
	StackFieldStart       = 0
	StackFieldMaxBranch   = 1
	StackFieldBranchCount = 2
	StackFieldBranchIndex = 3
)

// Loop frame fields (offset within a 4-word frame).
const (
	LoopFieldBodyPC    = 0
	LoopFieldRemaining = 1
)

// EventWords is the word stride of one event-ring entry:
// {type, tick, field1, field2, field3, reserved}.
const EventWords = 6

// TempoWords is the word stride of one tempo-log entry: {tick, bpm}.
const TempoWords = 2

// Event type tags stored in an event ring entry's type field.
const (
	EventNote int32 = iota
	EventCC
	EventBend
)

// Buffer wraps a contiguous []int32 shared memory region and provides
// typed, bounds-checked accessors. It is not safe to share a Buffer across
// goroutines beyond the VM-writes/consumer-reads-EventRead discipline the
// format assumes.
type Buffer struct {
	Words []int32

	bytecodeLen  int
	eventRingCap int
	tempoLogCap  int
}

// NewBuffer allocates a buffer sized for bytecodeLen words of VM bytecode,
// an event ring of eventRingCap entries, and a tempo log of tempoLogCap
// entries, and writes the fixed header offsets/magic/version.
func NewBuffer(bytecodeLen, eventRingCap, tempoLogCap int) *Buffer {
	eventRingOffset := BytecodeOffset + bytecodeLen
	tempoLogOffset := eventRingOffset + eventRingCap*EventWords
	total := tempoLogOffset + tempoLogCap*TempoWords

	b := &Buffer{
		Words:        make([]int32, total),
		bytecodeLen:  bytecodeLen,
		eventRingCap: eventRingCap,
		tempoLogCap:  tempoLogCap,
	}
	b.Words[RegMagic] = Magic
	b.Words[RegVersion] = Version
	b.Words[RegPPQ] = DefaultPPQ
	b.Words[RegBPM] = DefaultBPM
	b.Words[RegStackRegionOffset] = StackFrameOffset
	b.Words[RegLoopRegionOffset] = LoopFrameOffset
	b.Words[RegTransRegionOffset] = TransStackOffset
	b.Words[RegBytecodeOffset] = int32(BytecodeOffset)
	b.Words[RegEventRingOffset] = int32(eventRingOffset)
	b.Words[RegTempoLogOffset] = int32(tempoLogOffset)
	return b
}

// LoadBytecode copies words into the bytecode region starting at
// BytecodeOffset. Panics if words is longer than the region reserved by
// NewBuffer.
func (b *Buffer) LoadBytecode(words []int32) {
	if len(words) > b.bytecodeLen {
		panic("shm: bytecode exceeds reserved region")
	}
	copy(b.Words[BytecodeOffset:], words)
}

func (b *Buffer) EventRingOffset() int { return int(b.Words[RegEventRingOffset]) }
func (b *Buffer) EventRingCap() int    { return b.eventRingCap }
func (b *Buffer) TempoLogOffset() int  { return int(b.Words[RegTempoLogOffset]) }
func (b *Buffer) TempoLogCap() int     { return b.tempoLogCap }
func (b *Buffer) BytecodeLen() int     { return b.bytecodeLen }

// Plain (non-atomic) register access — only the VM touches these, always
// from the single thread that owns it.
func (b *Buffer) Get(slot int) int32      { return b.Words[slot] }
func (b *Buffer) Set(slot int, v int32)   { b.Words[slot] = v }

// Atomic accessors for the cross-thread handoff registers.
func (b *Buffer) LoadEventWrite() int32 { return atomic.LoadInt32(&b.Words[RegEventWrite]) }
func (b *Buffer) StoreEventWrite(v int32) {
	atomic.StoreInt32(&b.Words[RegEventWrite], v)
}
func (b *Buffer) LoadEventRead() int32 { return atomic.LoadInt32(&b.Words[RegEventRead]) }
func (b *Buffer) StoreEventRead(v int32) {
	atomic.StoreInt32(&b.Words[RegEventRead], v)
}
func (b *Buffer) LoadState() int32    { return atomic.LoadInt32(&b.Words[RegState]) }
func (b *Buffer) StoreState(v int32)  { atomic.StoreInt32(&b.Words[RegState], v) }

// StackFrame returns the word offset of stack frame i (0-indexed).
func StackFrame(i int) int { return StackFrameOffset + i*StackFrameStride }

// LoopFrame returns the word offset of loop frame i (0-indexed).
func LoopFrame(i int) int { return LoopFrameOffset + i*LoopFrameStride }

// EventSlot returns the word offset of ring entry index (mod capacity).
func (b *Buffer) EventSlot(index int32) int {
	slot := int(index) % b.eventRingCap
	if slot < 0 {
		slot += b.eventRingCap
	}
	return b.EventRingOffset() + slot*EventWords
}

// TempoSlot returns the word offset of tempo-log entry index.
func (b *Buffer) TempoSlot(index int32) int {
	return b.TempoLogOffset() + int(index)*TempoWords
}
