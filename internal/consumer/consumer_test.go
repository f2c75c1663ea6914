package consumer

import (
	"testing"

	"github.com/cbegin/scorevm/internal/shm"
	"github.com/cbegin/scorevm/internal/vm"
	"github.com/cbegin/scorevm/internal/vmbc"
)

func TestPollUntilLeavesLaterEventsUnread(t *testing.T) {
	w := vmbc.NewWriter()
	w.Note(60, 100, 96)
	w.Rest(96)
	w.Note(62, 100, 96)
	w.EOF()

	buf := shm.NewBuffer(len(w.Bytes()), 8, 4)
	buf.LoadBytecode(w.Bytes())
	machine, err := vm.New(buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := machine.Tick(1000); err != nil {
		t.Fatal(err)
	}

	con := New(buf)
	early := con.PollUntil(50)
	if len(early) != 1 {
		t.Fatalf("got %d events before tick 50, want 1", len(early))
	}
	if con.Available() != 1 {
		t.Fatalf("available = %d, want 1 remaining", con.Available())
	}
	rest := con.Poll()
	if len(rest) != 1 {
		t.Fatalf("got %d remaining events, want 1", len(rest))
	}
}

func TestRingFIFOOrderAcrossInterleavedPolls(t *testing.T) {
	w := vmbc.NewWriter()
	w.LoopStart(5)
	w.Note(60, 100, 12)
	w.LoopEnd()
	w.EOF()

	buf := shm.NewBuffer(len(w.Bytes()), 3, 4)
	buf.LoadBytecode(w.Bytes())
	machine, _ := vm.New(buf)
	con := New(buf)

	var seen []Event
	for {
		if _, err := machine.Tick(1 << 20); err != nil {
			t.Fatal(err)
		}
		seen = append(seen, con.Poll()...)
		if machine.State() == shm.StateDone {
			break
		}
	}
	if len(seen) != 5 {
		t.Fatalf("got %d events, want 5", len(seen))
	}
	for i, ev := range seen {
		if ev.Tick != int32(i*12) {
			t.Errorf("event %d tick = %d, want %d", i, ev.Tick, i*12)
		}
	}
}
