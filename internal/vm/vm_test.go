package vm

import (
	"testing"

	"github.com/cbegin/scorevm/internal/consumer"
	"github.com/cbegin/scorevm/internal/shm"
	"github.com/cbegin/scorevm/internal/vmbc"
)

func newBuffer(t *testing.T, bc []int32, ringCap int) *shm.Buffer {
	t.Helper()
	b := shm.NewBuffer(len(bc), ringCap, 4)
	b.LoadBytecode(bc)
	return b
}

func TestS3LoopEmitsThreeNotesAtExpectedTicks(t *testing.T) {
	w := vmbc.NewWriter()
	w.LoopStart(3)
	w.Note(60, 100, 96)
	w.LoopEnd()
	w.EOF()

	buf := newBuffer(t, w.Bytes(), 16)
	machine, err := New(buf)
	if err != nil {
		t.Fatal(err)
	}
	con := consumer.New(buf)

	if _, err := machine.Tick(1000); err != nil {
		t.Fatal(err)
	}
	events := con.Poll()
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3: %+v", len(events), events)
	}
	wantTicks := []int32{0, 96, 192}
	for i, ev := range events {
		if ev.Tick != wantTicks[i] {
			t.Errorf("event %d tick = %d, want %d", i, ev.Tick, wantTicks[i])
		}
		if ev.Field1 != 60 {
			t.Errorf("event %d pitch = %d, want 60", i, ev.Field1)
		}
	}
	if machine.State() != shm.StateDone {
		t.Errorf("state = %d, want DONE", machine.State())
	}
}

func TestS4StackTickAdvancesByMaxBranch(t *testing.T) {
	w := vmbc.NewWriter()
	w.StackStart(2)
	w.BranchStart()
	w.Note(60, 100, 96)
	w.BranchEnd()
	w.BranchStart()
	w.Note(64, 100, 96)
	w.BranchEnd()
	w.StackEnd()
	w.EOF()

	buf := newBuffer(t, w.Bytes(), 16)
	machine, _ := New(buf)
	con := consumer.New(buf)
	machine.Tick(1000)
	events := con.Poll()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	for _, ev := range events {
		if ev.Tick != 0 {
			t.Errorf("branch note tick = %d, want 0", ev.Tick)
		}
	}
	if got := machine.CurrentTick(); got != 96 {
		t.Errorf("tick after STACK_END = %d, want 96", got)
	}
}

func TestS6BackpressureWithSmallRing(t *testing.T) {
	w := vmbc.NewWriter()
	w.LoopStart(10)
	w.Note(60, 100, 10)
	w.LoopEnd()
	w.EOF()

	buf := newBuffer(t, w.Bytes(), 2)
	machine, _ := New(buf)
	con := consumer.New(buf)

	var all []consumer.Event
	for {
		_, err := machine.Tick(1 << 20)
		if err != nil {
			t.Fatal(err)
		}
		all = append(all, con.Poll()...)
		if machine.State() == shm.StateDone {
			break
		}
	}
	if len(all) != 10 {
		t.Fatalf("got %d events, want 10", len(all))
	}
	for i, ev := range all {
		if ev.Tick != int32(i*10) {
			t.Errorf("event %d tick = %d, want %d", i, ev.Tick, i*10)
		}
	}
}

func TestPerBranchTranspositionIsolation(t *testing.T) {
	w := vmbc.NewWriter()
	w.StackStart(1)
	w.BranchStart()
	w.Transpose(12)
	w.Note(60, 100, 10)
	w.Transpose(0)
	w.BranchEnd()
	w.StackEnd()
	w.EOF()

	buf := newBuffer(t, w.Bytes(), 8)
	machine, _ := New(buf)
	machine.Tick(1000)
	if machine.Transposition() != 0 {
		t.Errorf("transposition after branch = %d, want 0", machine.Transposition())
	}
}

func TestInvalidMagicRejected(t *testing.T) {
	buf := shm.NewBuffer(4, 2, 1)
	buf.Set(shm.RegMagic, 0)
	if _, err := New(buf); err == nil {
		t.Fatal("expected invalid-bytecode error")
	}
}
