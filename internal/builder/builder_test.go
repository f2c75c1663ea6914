package builder

import "testing"

func TestWriterRoundTripsThroughDecode(t *testing.T) {
	w := NewWriter().
		Note(0, 60, 100, 96).
		Rest(96, 48).
		GroovePush(0, -4, 4, 0).
		Note(144, 62, 100, 48).
		GroovePop().
		LoopStart(192, 3).
		Note(192, 64, 90, 48).
		LoopEnd()

	words := w.Bytes()
	var ops []Opcode
	at := 0
	for at < len(words) {
		rec, consumed, ok := Decode(words, at)
		if !ok {
			t.Fatalf("decode failed at %d (opcode word %d)", at, words[at])
		}
		ops = append(ops, rec.Op)
		at += consumed
	}
	want := []Opcode{OpNote, OpRest, OpGroovePush, OpNote, OpGroovePop, OpLoopStart, OpNote, OpLoopEnd}
	if len(ops) != len(want) {
		t.Fatalf("got %d records, want %d: %v", len(ops), len(want), ops)
	}
	for i, op := range ops {
		if op != want[i] {
			t.Errorf("record %d: got %v, want %v", i, op, want[i])
		}
	}
}

func TestDecodeGrooveOffsets(t *testing.T) {
	w := NewWriter().GroovePush(1, -2, 3)
	rec, consumed, ok := Decode(w.Bytes(), 0)
	if !ok {
		t.Fatal("decode failed")
	}
	if consumed != 5 {
		t.Fatalf("consumed = %d, want 5", consumed)
	}
	if rec.Args[0] != 3 {
		t.Fatalf("offset count = %d, want 3", rec.Args[0])
	}
	gotOffsets := rec.Args[1:]
	want := []int32{1, -2, 3}
	for i, v := range want {
		if gotOffsets[i] != v {
			t.Errorf("offset %d = %d, want %d", i, gotOffsets[i], v)
		}
	}
}

func TestDecodeUnknownOpcodeSkipsOneWord(t *testing.T) {
	words := []int32{0x99, 0, int32(OpRest), 0, 96}
	_, consumed, ok := Decode(words, 0)
	if ok {
		t.Fatal("expected unknown opcode to fail")
	}
	if consumed != 1 {
		t.Fatalf("consumed = %d, want 1", consumed)
	}
}
