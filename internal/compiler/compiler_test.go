package compiler

import (
	"testing"

	"github.com/cbegin/scorevm/internal/builder"
	"github.com/cbegin/scorevm/internal/vmbc"
)

func decodeAll(t *testing.T, words []int32) []vmbc.Record {
	t.Helper()
	var recs []vmbc.Record
	pc := 0
	for pc < len(words) {
		rec, next, ok := vmbc.Decode(words, pc)
		if !ok {
			t.Fatalf("decode failed at pc=%d word=%d", pc, words[pc])
		}
		recs = append(recs, rec)
		pc = next
	}
	return recs
}

func TestS1ThreeNotesInSequence(t *testing.T) {
	in := builder.NewWriter().
		Note(0, 60, 100, 96).
		Note(96, 62, 100, 96).
		Note(192, 64, 100, 96).
		Bytes()
	res, err := Compile(in, Options{PPQ: 96, Seed: 12345})
	if err != nil {
		t.Fatal(err)
	}
	recs := decodeAll(t, res.Bytecode)
	wantOps := []vmbc.Op{vmbc.Note, vmbc.Note, vmbc.Note, vmbc.EOF}
	if len(recs) != len(wantOps) {
		t.Fatalf("got %d records, want %d: %v", len(recs), len(wantOps), recs)
	}
	for i, op := range wantOps {
		if recs[i].Op != op {
			t.Errorf("record %d: got %v want %v", i, recs[i].Op, op)
		}
	}
	if res.TotalTicks != 288 {
		t.Errorf("total_ticks = %d, want 288", res.TotalTicks)
	}
}

func TestS2RestGapBetweenNotes(t *testing.T) {
	in := builder.NewWriter().
		Note(0, 60, 100, 96).
		Rest(96, 96).
		Note(192, 62, 100, 96).
		Bytes()
	res, err := Compile(in, Options{PPQ: 96, Seed: 12345})
	if err != nil {
		t.Fatal(err)
	}
	recs := decodeAll(t, res.Bytecode)
	wantOps := []vmbc.Op{vmbc.Note, vmbc.Rest, vmbc.Note, vmbc.EOF}
	if len(recs) != len(wantOps) {
		t.Fatalf("got %d records, want %d: %v", len(recs), len(wantOps), recs)
	}
	for i, op := range wantOps {
		if recs[i].Op != op {
			t.Errorf("record %d: got %v want %v", i, recs[i].Op, op)
		}
	}
	if recs[1].Args[0] != 96 {
		t.Errorf("rest duration = %d, want 96", recs[1].Args[0])
	}
	if res.TotalTicks != 288 {
		t.Errorf("total_ticks = %d, want 288", res.TotalTicks)
	}
}

func TestS3LoopStructuralBracketsPreserved(t *testing.T) {
	in := builder.NewWriter().
		LoopStart(0, 3).
		Note(0, 60, 100, 96).
		LoopEnd().
		Bytes()
	res, err := Compile(in, Options{PPQ: 96, Seed: 12345})
	if err != nil {
		t.Fatal(err)
	}
	recs := decodeAll(t, res.Bytecode)
	wantOps := []vmbc.Op{vmbc.LoopStart, vmbc.Note, vmbc.LoopEnd, vmbc.EOF}
	if len(recs) != len(wantOps) {
		t.Fatalf("got %d records, want %d: %v", len(recs), len(wantOps), recs)
	}
	for i, op := range wantOps {
		if recs[i].Op != op {
			t.Errorf("record %d: got %v want %v", i, recs[i].Op, op)
		}
	}
	if recs[0].Args[0] != 3 {
		t.Errorf("loop count = %d, want 3", recs[0].Args[0])
	}
}

func TestS4StackOfTwoBranches(t *testing.T) {
	in := builder.NewWriter().
		StackStart(0, 2).
		BranchStart().
		Note(0, 60, 100, 96).
		BranchEnd().
		BranchStart().
		Note(0, 64, 100, 96).
		BranchEnd().
		StackEnd().
		Bytes()
	res, err := Compile(in, Options{PPQ: 96, Seed: 12345})
	if err != nil {
		t.Fatal(err)
	}
	recs := decodeAll(t, res.Bytecode)
	wantOps := []vmbc.Op{vmbc.StackStart, vmbc.BranchStart, vmbc.Note, vmbc.BranchEnd,
		vmbc.BranchStart, vmbc.Note, vmbc.BranchEnd, vmbc.StackEnd, vmbc.EOF}
	if len(recs) != len(wantOps) {
		t.Fatalf("got %d records, want %d: %v", len(recs), len(wantOps), recs)
	}
	pitches := []int32{recs[2].Args[0], recs[5].Args[0]}
	if pitches[0] != 60 || pitches[1] != 64 {
		t.Errorf("pitches = %v, want [60 64]", pitches)
	}
}

func TestS5ChordAsStackOfNotes(t *testing.T) {
	in := builder.NewWriter().
		StackStart(0, 3).
		BranchStart().Note(0, 60, 100, 96).BranchEnd().
		BranchStart().Note(0, 64, 100, 96).BranchEnd().
		BranchStart().Note(0, 67, 100, 96).BranchEnd().
		StackEnd().
		Bytes()
	res, err := Compile(in, Options{PPQ: 96, Seed: 12345})
	if err != nil {
		t.Fatal(err)
	}
	recs := decodeAll(t, res.Bytecode)
	var notes []vmbc.Record
	for _, r := range recs {
		if r.Op == vmbc.Note {
			notes = append(notes, r)
		}
	}
	if len(notes) != 3 {
		t.Fatalf("got %d notes, want 3", len(notes))
	}
	wantPitch := []int32{60, 64, 67}
	for i, n := range notes {
		if n.Args[0] != wantPitch[i] {
			t.Errorf("note %d pitch = %d, want %d", i, n.Args[0], wantPitch[i])
		}
		if n.Args[2] != 96 {
			t.Errorf("note %d duration = %d, want 96", i, n.Args[2])
		}
	}
}

func TestIdentityRoundTripWithoutTransforms(t *testing.T) {
	in := builder.NewWriter().
		Note(0, 60, 100, 96).
		Note(240, 62, 100, 48).
		Bytes()
	res, err := Compile(in, Options{PPQ: 96, Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	recs := decodeAll(t, res.Bytecode)
	if recs[0].Op != vmbc.Note || recs[0].Args[0] != 60 {
		t.Fatalf("first note wrong: %v", recs[0])
	}
	if recs[1].Op != vmbc.Rest || recs[1].Args[0] != 144 {
		t.Fatalf("expected REST(144) gap, got %v", recs[1])
	}
	if recs[2].Op != vmbc.Note || recs[2].Args[0] != 62 {
		t.Fatalf("second note wrong: %v", recs[2])
	}
}

func TestDeterminism(t *testing.T) {
	in := builder.NewWriter().
		HumanizePush(50, 50).
		Note(0, 60, 100, 96).
		Note(96, 62, 100, 96).
		HumanizePop().
		Bytes()
	opts := Options{PPQ: 96, Seed: 777}
	a, err := Compile(in, opts)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Compile(in, opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Bytecode) != len(b.Bytecode) {
		t.Fatalf("lengths differ: %d vs %d", len(a.Bytecode), len(b.Bytecode))
	}
	for i := range a.Bytecode {
		if a.Bytecode[i] != b.Bytecode[i] {
			t.Fatalf("word %d differs: %d vs %d", i, a.Bytecode[i], b.Bytecode[i])
		}
	}
}

func TestUnrollExpandsLoopAndDropsBrackets(t *testing.T) {
	in := builder.NewWriter().
		LoopStart(0, 3).
		Note(0, 60, 100, 96).
		LoopEnd().
		Bytes()
	res, err := Compile(in, Options{PPQ: 96, Seed: 5, Unroll: true})
	if err != nil {
		t.Fatal(err)
	}
	recs := decodeAll(t, res.Bytecode)
	for _, r := range recs {
		if r.Op == vmbc.LoopStart || r.Op == vmbc.LoopEnd {
			t.Fatalf("unroll mode must not emit structural loop brackets, got %v", r.Op)
		}
	}
	var notes int
	for _, r := range recs {
		if r.Op == vmbc.Note {
			notes++
		}
	}
	if notes != 3 {
		t.Fatalf("got %d notes, want 3", notes)
	}
}

func TestStructuralImbalanceIsToleratedWithWarning(t *testing.T) {
	in := builder.NewWriter().Note(0, 60, 100, 96).LoopEnd().Bytes()
	res, err := Compile(in, Options{PPQ: 96, Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Warnings) == 0 {
		t.Fatal("expected a structural-imbalance warning")
	}
}
