// Package scorevm is the public facade over the Score Bytecode Compiler and
// VM: compile builder bytecode to VM bytecode (reference or zero-alloc),
// load it into a shared buffer, and run it with a VM/Consumer pair. The
// implementing types live under internal/ and are re-exported here by
// alias, so this file carries no logic of its own beyond wiring.
package scorevm

import (
	"github.com/cbegin/scorevm/internal/compiler"
	"github.com/cbegin/scorevm/internal/consumer"
	"github.com/cbegin/scorevm/internal/scoreerr"
	"github.com/cbegin/scorevm/internal/shm"
	"github.com/cbegin/scorevm/internal/vm"
	"github.com/cbegin/scorevm/internal/zeroalloc"
)

// Error is the single error type surfaced by the compiler and VM.
type Error = scoreerr.Error

// Kind classifies an Error.
type Kind = scoreerr.Kind

const (
	BadDuration         = scoreerr.BadDuration
	InvalidBytecode     = scoreerr.InvalidBytecode
	Overflow            = scoreerr.Overflow
	StructuralImbalance = scoreerr.StructuralImbalance
)

// GrooveTable maps a registered groove id to its per-step tick offsets.
type GrooveTable map[int32][]int32

// CompileOptions configures a compile pass: PPQ for groove-offset scaling,
// a seed for deterministic humanization, a groove table for NOTE_MOD_GROOVE
// lookups, and whether to run in unroll mode.
type CompileOptions struct {
	PPQ     int32
	Seed    uint32
	Grooves GrooveTable
	Unroll  bool
}

// CompileResult is the VM bytecode, its total tick length, and any
// non-fatal warnings (e.g. structural imbalance) recorded while compiling.
type CompileResult struct {
	Bytecode   []int32
	TotalTicks int32
	Warnings   []string
}

// Compile runs the reference Transform Compiler over builder bytecode.
func Compile(builderBytecode []int32, opts CompileOptions) (CompileResult, error) {
	res, err := compiler.Compile(builderBytecode, compiler.Options{
		PPQ: opts.PPQ, Seed: opts.Seed, Grooves: compiler.GrooveTable(opts.Grooves), Unroll: opts.Unroll,
	})
	return CompileResult{Bytecode: res.Bytecode, TotalTicks: res.TotalTicks, Warnings: res.Warnings}, err
}

// ZeroAllocCompiler is the Zero-Alloc Compiler: a reusable, preallocated
// compiler instance guaranteed bit-for-bit identical to Compile. Not safe
// to share across goroutines — construct one per thread.
type ZeroAllocCompiler struct {
	inner *zeroalloc.Compiler
}

// NewZeroAllocCompiler returns a ZeroAllocCompiler with the given fixed
// capacities. A zero argument selects that capacity's package default.
// maxScopeEvents bounds the largest single scope's event count the
// in-place stable sort can handle.
func NewZeroAllocCompiler(maxEvents, maxScopes, maxContextDepth, maxGrooveOffsets, maxScopeEvents int) *ZeroAllocCompiler {
	return &ZeroAllocCompiler{inner: zeroalloc.New(maxEvents, maxScopes, maxContextDepth, maxGrooveOffsets, maxScopeEvents)}
}

// Compile runs the Zero-Alloc Compiler over builder bytecode, reusing z's
// preallocated capacity.
func (z *ZeroAllocCompiler) Compile(builderBytecode []int32, opts CompileOptions) (CompileResult, error) {
	res, err := z.inner.Compile(builderBytecode, zeroalloc.Options{
		PPQ: opts.PPQ, Seed: opts.Seed, Grooves: zeroalloc.GrooveTable(opts.Grooves), Unroll: opts.Unroll,
	})
	return CompileResult{Bytecode: res.Bytecode, TotalTicks: res.TotalTicks, Warnings: res.Warnings}, err
}

// Buffer is the Shared Memory Layout: one contiguous []int32 region holding
// the header registers, bounded auxiliary stacks, VM bytecode, event ring,
// and tempo log.
type Buffer = shm.Buffer

// NewBuffer allocates a Buffer sized for bytecodeLen words of VM bytecode,
// an event ring of eventRingCap entries, and a tempo log of tempoLogCap
// entries.
func NewBuffer(bytecodeLen, eventRingCap, tempoLogCap int) *Buffer {
	return shm.NewBuffer(bytecodeLen, eventRingCap, tempoLogCap)
}

// NewBufferForResult allocates a Buffer sized to hold res's bytecode, loads
// it, and records res.TotalTicks in the header so Consumer.TotalTicks
// reports it — a convenience over NewBuffer+LoadBytecode for the common
// case of running a just-compiled program.
func NewBufferForResult(res CompileResult, eventRingCap, tempoLogCap int) *Buffer {
	buf := shm.NewBuffer(len(res.Bytecode), eventRingCap, tempoLogCap)
	buf.LoadBytecode(res.Bytecode)
	buf.Set(shm.RegTotalTicks, res.TotalTicks)
	return buf
}

// VM is the Bytecode VM: a single-threaded cooperative stack machine
// running over a Buffer's bytecode region.
type VM = vm.VM

// NewVM validates buf's magic/version and returns a VM bound to it.
func NewVM(buf *Buffer) (*VM, error) {
	return vm.New(buf)
}

// Consumer is the Event Consumer: the read side of a Buffer's event ring,
// safe to run on a separate goroutine from the VM driving the same buffer.
type Consumer = consumer.Consumer

// NewConsumer returns a Consumer reading buf's event ring.
func NewConsumer(buf *Buffer) *Consumer {
	return consumer.New(buf)
}

// Event is a decoded ring entry returned by a Consumer.
type Event = consumer.Event

// TempoEntry is a decoded tempo-log record.
type TempoEntry = consumer.TempoEntry
