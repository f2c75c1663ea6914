// Package vm implements the Bytecode VM: a single-threaded stack machine
// that runs cooperatively up to a caller-specified tick, dispatching VM
// bytecode and publishing events into the shared buffer's ring through
// atomic handoff with the Event Consumer.
package vm

import (
	"github.com/cbegin/scorevm/internal/scoreerr"
	"github.com/cbegin/scorevm/internal/shm"
	"github.com/cbegin/scorevm/internal/vmbc"
)

// VM owns a shared buffer and runs the dispatch loop over its bytecode
// region. Not safe for concurrent use; pair it with exactly one Consumer on
// another goroutine reading the same buffer.
type VM struct {
	buf *shm.Buffer
}

// New validates MAGIC and VERSION and returns a VM bound to buf. Execution
// registers and both event counters are reset to their start-up state.
func New(buf *shm.Buffer) (*VM, error) {
	if buf.Get(shm.RegMagic) != shm.Magic || buf.Get(shm.RegVersion) != shm.Version {
		return nil, &scoreerr.Error{
			Kind: scoreerr.InvalidBytecode,
			Hint: "check the buffer was produced by a compatible compiler",
		}
	}
	v := &VM{buf: buf}
	v.Reset()
	return v, nil
}

// Reset points PC at the start of the bytecode region, zeroes every other
// execution register and both event counters, and sets state to IDLE.
func (v *VM) Reset() {
	b := v.buf
	b.Set(shm.RegPC, int32(shm.BytecodeOffset))
	b.Set(shm.RegTick, 0)
	b.Set(shm.RegStackSP, 0)
	b.Set(shm.RegLoopSP, 0)
	b.Set(shm.RegTransSP, 0)
	b.Set(shm.RegTransposition, 0)
	b.Set(shm.RegTempoCount, 0)
	b.StoreEventWrite(0)
	b.StoreEventRead(0)
	b.StoreState(shm.StateIdle)
}

func (v *VM) State() int32        { return v.buf.LoadState() }
func (v *VM) CurrentTick() int32  { return v.buf.Get(shm.RegTick) }
func (v *VM) PC() int32           { return v.buf.Get(shm.RegPC) }
func (v *VM) Transposition() int32 { return v.buf.Get(shm.RegTransposition) }

// RunToEnd drives Tick with the largest int32 target until DONE or a
// non-tick-boundary pause (backpressure) that a single extra Tick call
// cannot resolve without consumer progress.
func (v *VM) RunToEnd() error {
	for {
		state, err := v.Tick(1<<31 - 1)
		if err != nil {
			return err
		}
		if state == shm.StateDone {
			return nil
		}
		if state == shm.StatePaused && v.isBackpressured() {
			return nil // caller must drain the consumer and call again
		}
	}
}

func (v *VM) isBackpressured() bool {
	return v.buf.LoadEventWrite()-v.buf.LoadEventRead() >= int32(v.buf.EventRingCap())
}

// Tick runs the dispatch loop until TICK exceeds targetTick, EOF is hit, or
// the ring backpressures. It returns the resulting state.
func (v *VM) Tick(targetTick int32) (int32, error) {
	b := v.buf
	if b.LoadState() == shm.StateDone {
		return shm.StateDone, nil
	}
	b.StoreState(shm.StateRunning)

	for {
		if b.Get(shm.RegTick) > targetTick {
			b.StoreState(shm.StatePaused)
			return shm.StatePaused, nil
		}

		pc := int(b.Get(shm.RegPC))
		rec, next, ok := vmbc.Decode(b.Words, pc)
		if !ok {
			// Unknown/truncated opcode: forward-compatible no-op, skip one word.
			b.Set(shm.RegPC, int32(pc+1))
			continue
		}

		if v.needsRingSlot(rec.Op) && v.isBackpressured() {
			// Rewind PC to before this opcode; retry on next call.
			b.Set(shm.RegPC, int32(pc))
			b.StoreState(shm.StatePaused)
			return shm.StatePaused, nil
		}

		done, err := v.dispatch(rec, next)
		if err != nil {
			return b.LoadState(), err
		}
		if done {
			b.StoreState(shm.StateDone)
			return shm.StateDone, nil
		}
	}
}

func (v *VM) needsRingSlot(op vmbc.Op) bool {
	switch op {
	case vmbc.Note, vmbc.CC, vmbc.Bend, vmbc.Chord2, vmbc.Chord3, vmbc.Chord4:
		return true
	default:
		return false
	}
}

func (v *VM) dispatch(rec vmbc.Record, nextPC int) (done bool, err error) {
	b := v.buf
	b.Set(shm.RegPC, int32(nextPC))

	switch rec.Op {
	case vmbc.Note:
		pitch, vel, dur := rec.Args[0], rec.Args[1], rec.Args[2]
		v.publish(shm.EventNote, pitch+b.Get(shm.RegTransposition), vel, dur)
		b.Set(shm.RegTick, b.Get(shm.RegTick)+dur)

	case vmbc.Rest:
		b.Set(shm.RegTick, b.Get(shm.RegTick)+rec.Args[0])

	case vmbc.Tempo:
		if err := v.appendTempo(rec.Args[0]); err != nil {
			return false, err
		}

	case vmbc.CC:
		v.publish(shm.EventCC, rec.Args[0], rec.Args[1], 0)

	case vmbc.Bend:
		v.publish(shm.EventBend, rec.Args[0], 0, 0)

	case vmbc.Transpose:
		if err := v.transpose(rec.Args[0]); err != nil {
			return false, err
		}

	case vmbc.StackStart:
		if err := v.pushStack(rec.Args[0]); err != nil {
			return false, err
		}

	case vmbc.BranchStart:
		sp := int(b.Get(shm.RegStackSP))
		frame := shm.StackFrame(sp - 1)
		b.Set(shm.RegTick, b.Get(frame+shm.StackFieldStart))

	case vmbc.BranchEnd:
		sp := int(b.Get(shm.RegStackSP))
		frame := shm.StackFrame(sp - 1)
		dur := b.Get(shm.RegTick) - b.Get(frame+shm.StackFieldStart)
		if dur > b.Get(frame+shm.StackFieldMaxBranch) {
			b.Set(frame+shm.StackFieldMaxBranch, dur)
		}
		b.Set(frame+shm.StackFieldBranchIndex, b.Get(frame+shm.StackFieldBranchIndex)+1)

	case vmbc.StackEnd:
		sp := int(b.Get(shm.RegStackSP))
		frame := shm.StackFrame(sp - 1)
		b.Set(shm.RegTick, b.Get(frame+shm.StackFieldStart)+b.Get(frame+shm.StackFieldMaxBranch))
		b.Set(shm.RegStackSP, int32(sp-1))

	case vmbc.LoopStart:
		count := rec.Args[0]
		if count <= 0 {
			pc, err := v.skipLoop(nextPC)
			if err != nil {
				return false, err
			}
			b.Set(shm.RegPC, int32(pc))
			break
		}
		if err := v.pushLoop(int32(nextPC), count); err != nil {
			return false, err
		}

	case vmbc.LoopEnd:
		sp := int(b.Get(shm.RegLoopSP))
		frame := shm.LoopFrame(sp - 1)
		remaining := b.Get(frame+shm.LoopFieldRemaining) - 1
		b.Set(frame+shm.LoopFieldRemaining, remaining)
		if remaining > 0 {
			b.Set(shm.RegPC, b.Get(frame+shm.LoopFieldBodyPC))
		} else {
			b.Set(shm.RegLoopSP, int32(sp-1))
		}

	case vmbc.Chord2, vmbc.Chord3, vmbc.Chord4:
		v.publishChord(rec.Args)

	case vmbc.EOF:
		return true, nil
	}
	return false, nil
}

func (v *VM) publish(typ, f1, f2, f3 int32) {
	b := v.buf
	idx := b.LoadEventWrite()
	slot := b.EventSlot(idx)
	b.Set(slot+0, typ)
	b.Set(slot+1, b.Get(shm.RegTick))
	b.Set(slot+2, f1)
	b.Set(slot+3, f2)
	b.Set(slot+4, f3)
	b.StoreEventWrite(idx + 1)
}

// publishChord emits k NOTE events at the current TICK. Only the first
// note's backpressure was checked by the caller before dispatch; the
// remaining notes are published best-effort per the documented open
// question on multi-note chord backpressure ordering.
func (v *VM) publishChord(args []int32) {
	root := args[0]
	n := len(args)
	intervals := args[1 : n-2]
	vel, dur := args[n-2], args[n-1]

	pitches := make([]int32, 0, len(intervals)+1)
	pitches = append(pitches, root)
	for _, iv := range intervals {
		pitches = append(pitches, root+iv)
	}
	for _, p := range pitches {
		v.publish(shm.EventNote, p+v.buf.Get(shm.RegTransposition), vel, dur)
	}
	v.buf.Set(shm.RegTick, v.buf.Get(shm.RegTick)+dur)
}

func (v *VM) appendTempo(bpm int32) error {
	b := v.buf
	count := b.Get(shm.RegTempoCount)
	if int(count) >= b.TempoLogCap() {
		return nil // silent drop per spec; caller may inspect RegTempoCount vs cap
	}
	slot := b.TempoSlot(count)
	b.Set(slot+0, b.Get(shm.RegTick))
	b.Set(slot+1, bpm)
	b.Set(shm.RegTempoCount, count+1)
	return nil
}

func (v *VM) transpose(semitones int32) error {
	b := v.buf
	sp := b.Get(shm.RegTransSP)
	if semitones != 0 {
		if int(sp) >= shm.MaxTransDepth {
			return &scoreerr.Error{Kind: scoreerr.Overflow, Resource: "transposition stack", Cap: shm.MaxTransDepth, Hint: "split the clip"}
		}
		b.Set(shm.TransStackOffset+int(sp), b.Get(shm.RegTransposition))
		b.Set(shm.RegTransSP, sp+1)
		b.Set(shm.RegTransposition, b.Get(shm.RegTransposition)+semitones)
	} else {
		if sp == 0 {
			b.Set(shm.RegTransposition, 0)
			return nil
		}
		prev := b.Get(shm.TransStackOffset + int(sp) - 1)
		b.Set(shm.RegTransSP, sp-1)
		b.Set(shm.RegTransposition, prev)
	}
	return nil
}

func (v *VM) pushStack(branchCount int32) error {
	b := v.buf
	sp := b.Get(shm.RegStackSP)
	if int(sp) >= shm.MaxStackFrames {
		return &scoreerr.Error{Kind: scoreerr.Overflow, Resource: "stack frames", Cap: shm.MaxStackFrames, Hint: "split the clip"}
	}
	frame := shm.StackFrame(int(sp))
	b.Set(frame+shm.StackFieldStart, b.Get(shm.RegTick))
	b.Set(frame+shm.StackFieldMaxBranch, 0)
	b.Set(frame+shm.StackFieldBranchCount, branchCount)
	b.Set(frame+shm.StackFieldBranchIndex, 0)
	b.Set(shm.RegStackSP, sp+1)
	return nil
}

func (v *VM) pushLoop(bodyPC, count int32) error {
	b := v.buf
	sp := b.Get(shm.RegLoopSP)
	if int(sp) >= shm.MaxLoopFrames {
		return &scoreerr.Error{Kind: scoreerr.Overflow, Resource: "loop frames", Cap: shm.MaxLoopFrames, Hint: "split the clip"}
	}
	frame := shm.LoopFrame(int(sp))
	b.Set(frame+shm.LoopFieldBodyPC, bodyPC)
	b.Set(frame+shm.LoopFieldRemaining, count)
	b.Set(shm.RegLoopSP, sp+1)
	return nil
}

// skipLoop advances pc past the matching LOOP_END, depth-tracked, without
// executing any intervening opcode.
func (v *VM) skipLoop(pc int) (int, error) {
	depth := 1
	for depth > 0 {
		rec, next, ok := vmbc.Decode(v.buf.Words, pc)
		if !ok {
			pc++
			continue
		}
		switch rec.Op {
		case vmbc.LoopStart:
			depth++
		case vmbc.LoopEnd:
			depth--
		}
		pc = next
	}
	return pc, nil
}
