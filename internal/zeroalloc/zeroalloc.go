// Package zeroalloc implements the Zero-Alloc Compiler: the same observable
// behavior as the reference Transform Compiler (internal/compiler),
// bit-for-bit, using buffers pre-sized once at construction instead of
// allocating per compile. A Compiler is reused across many compile() calls;
// it is not safe to share across goroutines — clone one per thread.
package zeroalloc

import (
	"fmt"

	"github.com/cbegin/scorevm/internal/builder"
	"github.com/cbegin/scorevm/internal/compiler/xform"
	"github.com/cbegin/scorevm/internal/scoreerr"
)

// Capacity defaults, overridable via Options for tests that want to exercise
// overflow without allocating a full-size Compiler.
const (
	DefaultMaxEvents        = 65536
	DefaultMaxScopes        = 256
	DefaultMaxContextDepth  = 32
	DefaultMaxGrooveOffsets = 32

	// DefaultMaxScopeEvents bounds scopeEventOrder's scratch permutation
	// buffer. spec'd as "a few thousand events per scope" for the in-place
	// insertion sort; a scope with more events than this overflows on its
	// own, distinct from the overall MAX_EVENTS bound.
	DefaultMaxScopeEvents = 4096
)

type eventKind int32

const (
	kindNote eventKind = iota
	kindRest
	kindTempo
	kindCC
	kindBend
)

// eventRow is the stride-7 event record: {final_tick, opcode, arg0, arg1,
// arg2, scope_id, insertion_order}, plus the extra per-event working fields
// (orig tick, event index, and the snapshotted transform context) a
// zero-alloc extract pass still needs to carry between phases.
type eventRow struct {
	finalTick      int32
	kind           eventKind
	arg0, arg1, arg2 int32 // note: pitch,vel,dur / rest: dur / tempo: bpm / cc: ctrl,val / bend: val
	scopeID        int32
	insertionOrder int32

	origTick   int32
	eventIndex int32
	hTiming, hVelocity int32
	qGrid, qStrength   int32
	gInline            []int32
	gIsIndex           bool
	gIndex             int32
}

func (e *eventRow) isAdvancing() bool { return e.kind == kindNote || e.kind == kindRest }

type structOp int32

const (
	structRoot structOp = iota
	structLoop
	structStack
	structBranch
)

// scopeRow is the scope record: {struct_op, count, start_tick, event_start,
// event_end, parent, first_child, last_child, next_sibling}. It carries no
// insertion_event_idx field.
type scopeRow struct {
	structOp  structOp
	count     int32
	startTick int32
	eventStart, eventEnd int32
	parent      int32
	firstChild  int32
	lastChild   int32 // auxiliary, for O(1) sibling append
	nextSibling int32
}

const noScope = -1

// Compiler holds every preallocated working buffer. Construct once, call
// Compile repeatedly; each call resets lengths to zero without reallocating
// the backing arrays.
type Compiler struct {
	maxEvents, maxScopes, maxContextDepth, maxGrooveOffsets, maxScopeEvents int

	events []eventRow
	scopes []scopeRow

	humanizeStack []hCtx
	quantizeStack []qCtx
	grooveStack   []gCtx

	// scopeOrderScratch backs scopeEventOrder's permutation; cloneScratch
	// backs cloneEventsInto's per-scope event snapshot; vmBuf is the fixed
	// VM output buffer. All three are sized once here and reused by every
	// Compile call instead of being allocated per call.
	scopeOrderScratch []int32
	cloneScratch      []eventRow
	vmBuf             *vmBuffer

	// per-call working state, set at the top of Compile.
	ppq     int32
	grooves GrooveTable
}

type hCtx struct{ timing, velocity int32 }
type qCtx struct{ grid, strength int32 }
type gCtx struct {
	inline   []int32
	isIndex  bool
	index    int32
}

// New allocates a Compiler sized for the given capacities. Pass zeros to use
// the package defaults.
func New(maxEvents, maxScopes, maxContextDepth, maxGrooveOffsets, maxScopeEvents int) *Compiler {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	if maxScopes <= 0 {
		maxScopes = DefaultMaxScopes
	}
	if maxContextDepth <= 0 {
		maxContextDepth = DefaultMaxContextDepth
	}
	if maxGrooveOffsets <= 0 {
		maxGrooveOffsets = DefaultMaxGrooveOffsets
	}
	if maxScopeEvents <= 0 {
		maxScopeEvents = DefaultMaxScopeEvents
	}
	return &Compiler{
		maxEvents:         maxEvents,
		maxScopes:         maxScopes,
		maxContextDepth:   maxContextDepth,
		maxGrooveOffsets:  maxGrooveOffsets,
		maxScopeEvents:    maxScopeEvents,
		events:            make([]eventRow, 0, maxEvents),
		scopes:            make([]scopeRow, 0, maxScopes),
		humanizeStack:     make([]hCtx, 0, maxContextDepth),
		quantizeStack:     make([]qCtx, 0, maxContextDepth),
		grooveStack:       make([]gCtx, 0, maxContextDepth),
		scopeOrderScratch: make([]int32, maxScopeEvents),
		cloneScratch:      make([]eventRow, 0, maxEvents),
		vmBuf:             newVMBuffer(maxEvents * 7),
	}
}

// GrooveTable maps a registered groove index (NOTE_MOD_GROOVE) to offsets.
type GrooveTable map[int32][]int32

type Options struct {
	PPQ     int32
	Seed    uint32
	Grooves GrooveTable
	Unroll  bool
}

type Result struct {
	Bytecode   []int32
	TotalTicks int32
	Warnings   []string
}

func (c *Compiler) reset() {
	c.events = c.events[:0]
	c.scopes = c.scopes[:0]
	c.humanizeStack = c.humanizeStack[:0]
	c.quantizeStack = c.quantizeStack[:0]
	c.grooveStack = c.grooveStack[:0]
}

func (c *Compiler) overflow(resource string, cap int) error {
	return &scoreerr.Error{Kind: scoreerr.Overflow, Resource: resource, Cap: cap, Hint: "split the clip"}
}

// Compile runs extract/transform/sort/emit over preallocated buffers,
// producing output identical to the reference compiler for any legal input.
func (c *Compiler) Compile(words []int32, opts Options) (Result, error) {
	c.reset()
	ppq := opts.PPQ
	if ppq <= 0 {
		ppq = 96
	}
	c.ppq = ppq
	c.grooves = opts.Grooves

	var warnings []string
	warn := func(msg string) { warnings = append(warnings, msg) }

	// scope 0 is always the root.
	c.scopes = append(c.scopes, scopeRow{structOp: structRoot, parent: noScope, firstChild: noScope, lastChild: noScope, nextSibling: noScope})
	scopeStack := []int32{0}
	eventIndex := int32(0)
	insertionOrder := int32(0)
	lastNoteIdx := -1

	topH := func() hCtx {
		if len(c.humanizeStack) == 0 {
			return hCtx{}
		}
		return c.humanizeStack[len(c.humanizeStack)-1]
	}
	topQ := func() qCtx {
		if len(c.quantizeStack) == 0 {
			return qCtx{}
		}
		return c.quantizeStack[len(c.quantizeStack)-1]
	}
	topG := func() gCtx {
		if len(c.grooveStack) == 0 {
			return gCtx{}
		}
		return c.grooveStack[len(c.grooveStack)-1]
	}

	addEvent := func(row eventRow) (int, error) {
		if len(c.events) >= c.maxEvents {
			return 0, c.overflow("events", c.maxEvents)
		}
		row.scopeID = scopeStack[len(scopeStack)-1]
		row.insertionOrder = insertionOrder
		row.eventIndex = eventIndex
		h, q, g := topH(), topQ(), topG()
		row.hTiming, row.hVelocity = h.timing, h.velocity
		row.qGrid, row.qStrength = q.grid, q.strength
		row.gInline, row.gIsIndex, row.gIndex = g.inline, g.isIndex, g.index
		c.events = append(c.events, row)
		insertionOrder++
		eventIndex++
		idx := len(c.events) - 1
		scopeID := row.scopeID
		c.scopes[scopeID].eventEnd = int32(len(c.events))
		return idx, nil
	}

	at := 0
	for at < len(words) {
		rec, consumed, ok := builder.Decode(words, at)
		if !ok {
			warn(fmt.Sprintf("structural-imbalance: unrecognized opcode word %d at position %d, skipping", words[at], at))
			at += consumed
			continue
		}
		at += consumed

		switch rec.Op {
		case builder.OpNote:
			idx, err := addEvent(eventRow{kind: kindNote, origTick: rec.Tick, arg0: rec.Args[0], arg1: rec.Args[1], arg2: rec.Args[2]})
			if err != nil {
				return Result{}, err
			}
			lastNoteIdx = idx

		case builder.OpRest:
			if _, err := addEvent(eventRow{kind: kindRest, origTick: rec.Tick, arg0: rec.Args[0]}); err != nil {
				return Result{}, err
			}
			lastNoteIdx = -1

		case builder.OpTempo:
			if _, err := addEvent(eventRow{kind: kindTempo, origTick: rec.Tick, arg0: rec.Args[0]}); err != nil {
				return Result{}, err
			}
			lastNoteIdx = -1

		case builder.OpCC:
			if _, err := addEvent(eventRow{kind: kindCC, origTick: rec.Tick, arg0: rec.Args[0], arg1: rec.Args[1]}); err != nil {
				return Result{}, err
			}
			lastNoteIdx = -1

		case builder.OpBend:
			if _, err := addEvent(eventRow{kind: kindBend, origTick: rec.Tick, arg0: rec.Args[0]}); err != nil {
				return Result{}, err
			}
			lastNoteIdx = -1

		case builder.OpLoopStart:
			id, err := c.newScope(structLoop, rec.Args[0], rec.Tick, scopeStack[len(scopeStack)-1])
			if err != nil {
				return Result{}, err
			}
			scopeStack = append(scopeStack, id)
			lastNoteIdx = -1

		case builder.OpLoopEnd:
			if len(scopeStack) < 2 || c.scopes[scopeStack[len(scopeStack)-1]].structOp != structLoop {
				warn("structural-imbalance: LOOP_END without matching LOOP_START")
				break
			}
			scopeStack = scopeStack[:len(scopeStack)-1]
			lastNoteIdx = -1

		case builder.OpStackStart:
			id, err := c.newScope(structStack, rec.Args[0], rec.Tick, scopeStack[len(scopeStack)-1])
			if err != nil {
				return Result{}, err
			}
			scopeStack = append(scopeStack, id)
			lastNoteIdx = -1

		case builder.OpStackEnd:
			if len(scopeStack) < 2 || c.scopes[scopeStack[len(scopeStack)-1]].structOp != structStack {
				warn("structural-imbalance: STACK_END without matching STACK_START")
				break
			}
			scopeStack = scopeStack[:len(scopeStack)-1]
			lastNoteIdx = -1

		case builder.OpBranchStart:
			parent := scopeStack[len(scopeStack)-1]
			if c.scopes[parent].structOp != structStack {
				warn("structural-imbalance: BRANCH_START outside a STACK")
			}
			id, err := c.newScope(structBranch, 0, c.scopes[parent].startTick, parent)
			if err != nil {
				return Result{}, err
			}
			scopeStack = append(scopeStack, id)
			lastNoteIdx = -1

		case builder.OpBranchEnd:
			if len(scopeStack) < 2 || c.scopes[scopeStack[len(scopeStack)-1]].structOp != structBranch {
				warn("structural-imbalance: BRANCH_END without matching BRANCH_START")
				break
			}
			scopeStack = scopeStack[:len(scopeStack)-1]
			lastNoteIdx = -1

		case builder.OpHumanizePush:
			if len(c.humanizeStack) >= c.maxContextDepth {
				return Result{}, c.overflow("humanize context depth", c.maxContextDepth)
			}
			c.humanizeStack = append(c.humanizeStack, hCtx{timing: rec.Args[0], velocity: rec.Args[1]})

		case builder.OpHumanizePop:
			if len(c.humanizeStack) == 0 {
				warn("structural-imbalance: HUMANIZE_POP without matching PUSH")
				break
			}
			c.humanizeStack = c.humanizeStack[:len(c.humanizeStack)-1]

		case builder.OpQuantizePush:
			if len(c.quantizeStack) >= c.maxContextDepth {
				return Result{}, c.overflow("quantize context depth", c.maxContextDepth)
			}
			c.quantizeStack = append(c.quantizeStack, qCtx{grid: rec.Args[0], strength: rec.Args[1]})

		case builder.OpQuantizePop:
			if len(c.quantizeStack) == 0 {
				warn("structural-imbalance: QUANTIZE_POP without matching PUSH")
				break
			}
			c.quantizeStack = c.quantizeStack[:len(c.quantizeStack)-1]

		case builder.OpGroovePush:
			if len(c.grooveStack) >= c.maxContextDepth {
				return Result{}, c.overflow("groove context depth", c.maxContextDepth)
			}
			if len(rec.Args)-1 > c.maxGrooveOffsets {
				return Result{}, c.overflow("inline groove arena", c.maxGrooveOffsets)
			}
			offsets := append([]int32(nil), rec.Args[1:]...)
			c.grooveStack = append(c.grooveStack, gCtx{inline: offsets})

		case builder.OpGroovePop:
			if len(c.grooveStack) == 0 {
				warn("structural-imbalance: GROOVE_POP without matching PUSH")
				break
			}
			c.grooveStack = c.grooveStack[:len(c.grooveStack)-1]

		case builder.OpNoteModHumanize:
			if lastNoteIdx < 0 {
				warn("structural-imbalance: NOTE_MOD_HUMANIZE not attached to a preceding NOTE")
				break
			}
			c.events[lastNoteIdx].hTiming = rec.Args[0]
			c.events[lastNoteIdx].hVelocity = rec.Args[1]

		case builder.OpNoteModQuantize:
			if lastNoteIdx < 0 {
				warn("structural-imbalance: NOTE_MOD_QUANTIZE not attached to a preceding NOTE")
				break
			}
			c.events[lastNoteIdx].qGrid = rec.Args[0]
			c.events[lastNoteIdx].qStrength = rec.Args[1]

		case builder.OpNoteModGroove:
			if lastNoteIdx < 0 {
				warn("structural-imbalance: NOTE_MOD_GROOVE not attached to a preceding NOTE")
				break
			}
			c.events[lastNoteIdx].gInline = nil
			c.events[lastNoteIdx].gIsIndex = true
			c.events[lastNoteIdx].gIndex = rec.Args[0]

		case builder.OpEOF:
			at = len(words)
		}
	}

	c.transformAll(opts.Seed, ppq, opts.Grooves)

	if opts.Unroll {
		if err := c.unrollAll(opts.Seed); err != nil {
			return Result{}, err
		}
	}

	c.sortAllScopes()
	total := c.totalTicks()

	c.vmBuf.reset()
	cur := int32(0)
	if err := c.emitScope(c.vmBuf, 0, &cur); err != nil {
		return Result{}, err
	}
	c.vmBuf.EOF()
	if c.vmBuf.overflowed {
		return Result{}, c.overflow("vm output buffer", cap(c.vmBuf.words))
	}

	// c.vmBuf.words is reused by the next Compile call, so the returned
	// Result must own a copy rather than alias the live scratch buffer.
	out := append([]int32(nil), c.vmBuf.Bytes()...)
	return Result{Bytecode: out, TotalTicks: total, Warnings: warnings}, nil
}

func (c *Compiler) newScope(op structOp, count, startTick, parent int32) (int32, error) {
	if len(c.scopes) >= c.maxScopes {
		return 0, c.overflow("scopes", c.maxScopes)
	}
	id := int32(len(c.scopes))
	c.scopes = append(c.scopes, scopeRow{
		structOp: op, count: count, startTick: startTick,
		eventStart: int32(len(c.events)), eventEnd: int32(len(c.events)),
		parent: parent, firstChild: noScope, lastChild: noScope, nextSibling: noScope,
	})
	if c.scopes[parent].firstChild == noScope {
		c.scopes[parent].firstChild = id
	} else {
		c.scopes[c.scopes[parent].lastChild].nextSibling = id
	}
	c.scopes[parent].lastChild = id
	return id, nil
}

func (c *Compiler) transformAll(seed uint32, ppq int32, grooves GrooveTable) {
	for i := range c.events {
		e := &c.events[i]
		t := e.origTick
		t = xform.Quantize(t, e.qGrid, e.qStrength)
		var offsets []int32
		if e.gIsIndex {
			offsets = grooves[e.gIndex]
		} else {
			offsets = e.gInline
		}
		t = xform.Groove(t, ppq, offsets)
		vel := e.arg1
		t, vel = xform.Humanize(t, vel, e.kind == kindNote, seed, e.eventIndex, e.hTiming, e.hVelocity, ppq)
		e.finalTick = t
		if e.kind == kindNote {
			e.arg1 = vel
		}
	}
}
