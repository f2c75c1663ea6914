package zeroalloc

import (
	"errors"
	"testing"

	"github.com/cbegin/scorevm/internal/builder"
	"github.com/cbegin/scorevm/internal/compiler"
	"github.com/cbegin/scorevm/internal/scoreerr"
)

func assertBytecodeEqual(t *testing.T, got, want []int32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("bytecode length = %d, want %d\ngot:  %v\nwant: %v", len(got), len(want), got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("word %d differs: got %d, want %d\ngot:  %v\nwant: %v", i, got[i], want[i], got, want)
		}
	}
}

func TestOracleParitySimpleSequence(t *testing.T) {
	in := builder.NewWriter().
		Note(0, 60, 100, 96).
		Rest(96, 96).
		Note(192, 62, 100, 96).
		Bytes()
	opts := struct {
		PPQ  int32
		Seed uint32
	}{96, 12345}

	ref, err := compiler.Compile(in, compiler.Options{PPQ: opts.PPQ, Seed: opts.Seed})
	if err != nil {
		t.Fatal(err)
	}
	za := New(0, 0, 0, 0, 0)
	got, err := za.Compile(in, Options{PPQ: opts.PPQ, Seed: opts.Seed})
	if err != nil {
		t.Fatal(err)
	}
	assertBytecodeEqual(t, got.Bytecode, ref.Bytecode)
	if got.TotalTicks != ref.TotalTicks {
		t.Errorf("total_ticks: got %d, want %d", got.TotalTicks, ref.TotalTicks)
	}
}

func TestOracleParityHumanizedLoop(t *testing.T) {
	in := builder.NewWriter().
		HumanizePush(80, 60).
		QuantizePush(24, 50).
		GroovePush(0, -4, 4, 0).
		LoopStart(0, 4).
		Note(0, 60, 100, 96).
		Note(48, 64, 90, 48).
		LoopEnd().
		GroovePop().
		QuantizePop().
		HumanizePop().
		Bytes()

	ref, err := compiler.Compile(in, compiler.Options{PPQ: 96, Seed: 999})
	if err != nil {
		t.Fatal(err)
	}
	za := New(0, 0, 0, 0, 0)
	got, err := za.Compile(in, Options{PPQ: 96, Seed: 999})
	if err != nil {
		t.Fatal(err)
	}
	assertBytecodeEqual(t, got.Bytecode, ref.Bytecode)
}

func TestOracleParityUnrolledStackOfLoops(t *testing.T) {
	in := builder.NewWriter().
		StackStart(0, 2).
		BranchStart().
		LoopStart(0, 3).
		Note(0, 60, 100, 32).
		LoopEnd().
		BranchEnd().
		BranchStart().
		Note(0, 67, 100, 96).
		BranchEnd().
		StackEnd().
		Bytes()

	ref, err := compiler.Compile(in, compiler.Options{PPQ: 96, Seed: 42, Unroll: true})
	if err != nil {
		t.Fatal(err)
	}
	za := New(0, 0, 0, 0, 0)
	got, err := za.Compile(in, Options{PPQ: 96, Seed: 42, Unroll: true})
	if err != nil {
		t.Fatal(err)
	}
	assertBytecodeEqual(t, got.Bytecode, ref.Bytecode)
	if got.TotalTicks != ref.TotalTicks {
		t.Errorf("total_ticks: got %d, want %d", got.TotalTicks, ref.TotalTicks)
	}
}

func TestEventOverflowNamesResourceAndCap(t *testing.T) {
	za := New(2, 0, 0, 0, 0)
	in := builder.NewWriter().
		Note(0, 60, 100, 96).
		Note(96, 62, 100, 96).
		Note(192, 64, 100, 96).
		Bytes()
	_, err := za.Compile(in, Options{PPQ: 96, Seed: 1})
	if err == nil {
		t.Fatal("expected an overflow error")
	}
	var se *scoreerr.Error
	if !errors.As(err, &se) || se.Resource != "events" || se.Cap != 2 {
		t.Fatalf("overflow error = %v, want resource \"events\" with cap 2", err)
	}
}

func TestScopeOverflow(t *testing.T) {
	za := New(0, 2, 0, 0, 0)
	in := builder.NewWriter().
		LoopStart(0, 1).
		LoopStart(0, 1).
		Note(0, 60, 100, 96).
		LoopEnd().
		LoopEnd().
		Bytes()
	_, err := za.Compile(in, Options{PPQ: 96, Seed: 1})
	if err == nil {
		t.Fatal("expected a scope overflow error")
	}
}

func TestScopeEventScratchOverflow(t *testing.T) {
	za := New(10, 0, 0, 0, 2)
	in := builder.NewWriter().
		Note(0, 60, 100, 96).
		Note(96, 62, 100, 96).
		Note(192, 64, 100, 96).
		Bytes()
	_, err := za.Compile(in, Options{PPQ: 96, Seed: 1})
	if err == nil {
		t.Fatal("expected a scope event scratch overflow error")
	}
}

func TestVMOutputBufferOverflow(t *testing.T) {
	za := New(1, 10, 0, 0, 0)
	in := builder.NewWriter().
		LoopStart(0, 1).
		LoopStart(0, 1).
		Note(0, 60, 100, 96).
		LoopEnd().
		LoopEnd().
		Bytes()
	_, err := za.Compile(in, Options{PPQ: 96, Seed: 1})
	if err == nil {
		t.Fatal("expected a vm output buffer overflow error")
	}
}
