package scoretext

import (
	"testing"

	"github.com/cbegin/scorevm/internal/builder"
)

func decodeOps(t *testing.T, words []int32) []builder.Opcode {
	t.Helper()
	var ops []builder.Opcode
	at := 0
	for at < len(words) {
		rec, consumed, ok := builder.Decode(words, at)
		if !ok {
			t.Fatalf("decode failed at %d (opcode word %d)", at, words[at])
		}
		ops = append(ops, rec.Op)
		at += consumed
	}
	return ops
}

func TestParseNoteRestSequence(t *testing.T) {
	words, err := Parse("NOTE c4 q 96\nREST q\nNOTE e4 q 100", 96)
	if err != nil {
		t.Fatal(err)
	}
	got := decodeOps(t, words)
	want := []builder.Opcode{builder.OpNote, builder.OpRest, builder.OpNote}
	if len(got) != len(want) {
		t.Fatalf("got %d records %v, want %d %v", len(got), got, len(want), want)
	}
	for i, op := range got {
		if op != want[i] {
			t.Errorf("record %d: got %v, want %v", i, op, want[i])
		}
	}
	// c4 should resolve to MIDI 60.
	rec, _, ok := builder.Decode(words, 0)
	if !ok || rec.Args[0] != 60 {
		t.Fatalf("expected pitch 60 for c4, got %+v", rec)
	}
}

func TestParseLoopNestsTickCursor(t *testing.T) {
	words, err := Parse("LOOP 2 { NOTE c4 q 100 }\nNOTE d4 q 100", 96)
	if err != nil {
		t.Fatal(err)
	}
	got := decodeOps(t, words)
	want := []builder.Opcode{builder.OpLoopStart, builder.OpNote, builder.OpLoopEnd, builder.OpNote}
	if len(got) != len(want) {
		t.Fatalf("got %d records %v, want %d %v", len(got), got, len(want), want)
	}
	// The note after the loop should resolve at tick 192 (2 * 96).
	rec, _, ok := builder.Decode(words, len(words)-5)
	if !ok {
		t.Fatalf("could not decode trailing NOTE record")
	}
	if rec.Op != builder.OpNote {
		t.Fatalf("expected trailing record to be NOTE, got %v", rec.Op)
	}
	if rec.Tick != 192 {
		t.Fatalf("trailing NOTE tick = %d, want 192", rec.Tick)
	}
}

func TestParseStackEmitsBranchesWithCorrectCount(t *testing.T) {
	words, err := Parse("STACK { BRANCH { NOTE c4 q 100 } BRANCH { NOTE e4 q 100 } }", 96)
	if err != nil {
		t.Fatal(err)
	}
	got := decodeOps(t, words)
	want := []builder.Opcode{
		builder.OpStackStart, builder.OpBranchStart, builder.OpNote, builder.OpBranchEnd,
		builder.OpBranchStart, builder.OpNote, builder.OpBranchEnd, builder.OpStackEnd,
	}
	if len(got) != len(want) {
		t.Fatalf("got %d records %v, want %d %v", len(got), got, len(want), want)
	}
	for i, op := range got {
		if op != want[i] {
			t.Errorf("record %d: got %v, want %v", i, op, want[i])
		}
	}
	rec, _, ok := builder.Decode(words, 0)
	if !ok || rec.Args[0] != 2 {
		t.Fatalf("expected STACK_START branch count 2, got %+v", rec)
	}
}

func TestParseHumanizeQuantizeGroove(t *testing.T) {
	words, err := Parse(
		"HUMANIZE time=50 vel=25 { QUANTIZE grid=24 strength=80 { GROOVE 0,-4,4,0 { NOTE c4 q 100 } } }",
		96,
	)
	if err != nil {
		t.Fatal(err)
	}
	got := decodeOps(t, words)
	want := []builder.Opcode{
		builder.OpHumanizePush, builder.OpQuantizePush, builder.OpGroovePush,
		builder.OpNote,
		builder.OpGroovePop, builder.OpQuantizePop, builder.OpHumanizePop,
	}
	if len(got) != len(want) {
		t.Fatalf("got %d records %v, want %d %v", len(got), got, len(want), want)
	}
}

func TestParseRejectsUnknownStatement(t *testing.T) {
	if _, err := Parse("BOGUS 1 2 3", 96); err == nil {
		t.Fatal("expected error for unknown statement")
	}
}

func TestParseRejectsTrailingTokens(t *testing.T) {
	if _, err := Parse("NOTE c4 q 96 }", 96); err == nil {
		t.Fatal("expected error for unexpected trailing token")
	}
}
