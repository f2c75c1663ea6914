package shm

import "testing"

func TestNewBufferWritesHeader(t *testing.T) {
	b := NewBuffer(64, 4, 8)
	if b.Get(RegMagic) != Magic {
		t.Errorf("magic = %x, want %x", b.Get(RegMagic), Magic)
	}
	if b.Get(RegVersion) != Version {
		t.Errorf("version = %d, want %d", b.Get(RegVersion), Version)
	}
	if b.Get(RegBytecodeOffset) != BytecodeOffset {
		t.Errorf("bytecode offset = %d, want %d", b.Get(RegBytecodeOffset), BytecodeOffset)
	}
	if b.EventRingOffset() != BytecodeOffset+64 {
		t.Errorf("event ring offset = %d, want %d", b.EventRingOffset(), BytecodeOffset+64)
	}
	if b.TempoLogOffset() != BytecodeOffset+64+4*EventWords {
		t.Errorf("tempo log offset = %d, want %d", b.TempoLogOffset(), BytecodeOffset+64+4*EventWords)
	}
}

func TestRegionOffsetsAreContiguous(t *testing.T) {
	if StackFrameOffset != 32 {
		t.Errorf("stack region offset = %d, want 32", StackFrameOffset)
	}
	if StackFrameOffset+MaxStackFrames*StackFrameStride != LoopFrameOffset {
		t.Error("stack region does not abut loop region")
	}
	if LoopFrameOffset+MaxLoopFrames*LoopFrameStride != TransStackOffset {
		t.Error("loop region does not abut transposition stack")
	}
	if TransStackOffset+MaxTransDepth*TransStackStride != BytecodeOffset {
		t.Error("transposition stack does not abut bytecode region")
	}
}

func TestLoadBytecodeRejectsOversize(t *testing.T) {
	b := NewBuffer(4, 1, 1)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for oversize bytecode")
		}
	}()
	b.LoadBytecode([]int32{1, 2, 3, 4, 5})
}

func TestEventSlotWraps(t *testing.T) {
	b := NewBuffer(8, 3, 1)
	base := b.EventRingOffset()
	if got := b.EventSlot(0); got != base {
		t.Errorf("slot(0) = %d, want %d", got, base)
	}
	if got := b.EventSlot(3); got != base {
		t.Errorf("slot(3) = %d, want %d (wraps)", got, base)
	}
	if got := b.EventSlot(4); got != base+EventWords {
		t.Errorf("slot(4) = %d, want %d", got, base+EventWords)
	}
}

func TestAtomicCounters(t *testing.T) {
	b := NewBuffer(4, 2, 1)
	b.StoreEventWrite(5)
	if b.LoadEventWrite() != 5 {
		t.Errorf("event write = %d, want 5", b.LoadEventWrite())
	}
	b.StoreState(StateRunning)
	if b.LoadState() != StateRunning {
		t.Errorf("state = %d, want %d", b.LoadState(), StateRunning)
	}
}
