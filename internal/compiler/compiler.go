// Package compiler implements the reference Transform Compiler: it walks
// builder bytecode, applies quantize/groove/humanize to every timed event in
// exactly that order, and emits VM bytecode with relative (REST-gap) timing.
package compiler

import (
	"fmt"
	"sort"

	"github.com/cbegin/scorevm/internal/builder"
	"github.com/cbegin/scorevm/internal/compiler/xform"
	"github.com/cbegin/scorevm/internal/vmbc"
)

// GrooveTable maps a registered groove index (NOTE_MOD_GROOVE) to its
// offsets. Inline GROOVE_PUSH offsets are not reachable through this table —
// see the Open Question recorded in DESIGN.md.
type GrooveTable map[int32][]int32

// Options configures a single compile call.
type Options struct {
	PPQ       int32
	Seed      uint32
	Grooves   GrooveTable
	Unroll    bool
}

// Result is the compiler's output.
type Result struct {
	Bytecode   []int32
	TotalTicks int32
	Warnings   []string
}

// humanizeCtx/quantizeCtx/grooveCtx mirror builder bytecode's push/pop
// transform-scope records.
type humanizeCtx struct{ timingPPT, velocityPPT int32 }
type quantizeCtx struct{ grid, strengthPct int32 }
type grooveCtx struct {
	inline  []int32 // non-nil if pushed via GROOVE_PUSH
	isIndex bool
	index   int32 // valid if isIndex
}

func (g grooveCtx) offsets(table GrooveTable) []int32 {
	if g.isIndex {
		return table[g.index]
	}
	return g.inline
}

type eventKind int

const (
	kindNote eventKind = iota
	kindRest
	kindTempo
	kindCC
	kindBend
)

type event struct {
	kind           eventKind
	origTick       int32
	finalTick      int32
	pitch, vel     int32
	duration       int32
	ctrl, val      int32
	bend           int32
	insertionOrder int32
	eventIndex     int32 // for humanize seeding
	hCtx           humanizeCtx
	qCtx           quantizeCtx
	gCtx           grooveCtx
}

func (e *event) isAdvancing() bool { return e.kind == kindNote || e.kind == kindRest }

type nodeKind int

const (
	nodeRoot nodeKind = iota
	nodeLoop
	nodeStack
	nodeBranch
)

// node is both a "sort scope" (root/loop/branch, which carry their own flat
// event list) and a generic structural block (stack, which carries only
// branch children and no events of its own).
type node struct {
	kind       nodeKind
	startTick  int32 // tick at which this node's START record occurred
	loopCount  int32
	stackCount int32
	events     []*event
	children   []*node
}

// Compile runs the five-phase reference pipeline over builder bytecode.
func Compile(words []int32, opts Options) (Result, error) {
	ppq := opts.PPQ
	if ppq <= 0 {
		ppq = 96
	}
	c := &compileState{
		opts:     opts,
		ppq:      ppq,
		warnings: nil,
	}
	root, err := c.extract(words)
	if err != nil {
		return Result{}, err
	}
	c.transform(root, opts.Seed)
	if opts.Unroll {
		c.unroll(root)
	}
	sortScopes(root)
	total := totalTicks(root)

	w := vmbc.NewWriter()
	cur := int32(0)
	emitNode(w, root, &cur)
	w.EOF()

	return Result{Bytecode: w.Bytes(), TotalTicks: total, Warnings: c.warnings}, nil
}

type compileState struct {
	opts     Options
	ppq      int32
	warnings []string
}

func (c *compileState) warn(msg string) { c.warnings = append(c.warnings, msg) }

// extract performs the Extract phase: a linear scan maintaining humanize,
// quantize, and groove context stacks, and building the structural tree of
// root/loop/stack/branch nodes.
func (c *compileState) extract(words []int32) (*node, error) {
	root := &node{kind: nodeRoot}
	stack := []*node{root}
	var humanizeStack []humanizeCtx
	var quantizeStack []quantizeCtx
	var grooveStack []grooveCtx

	insertionOrder := int32(0)
	eventIndex := int32(0)

	topHumanize := func() humanizeCtx {
		if len(humanizeStack) == 0 {
			return humanizeCtx{}
		}
		return humanizeStack[len(humanizeStack)-1]
	}
	topQuantize := func() quantizeCtx {
		if len(quantizeStack) == 0 {
			return quantizeCtx{}
		}
		return quantizeStack[len(quantizeStack)-1]
	}
	topGroove := func() grooveCtx {
		if len(grooveStack) == 0 {
			return grooveCtx{}
		}
		return grooveStack[len(grooveStack)-1]
	}

	cur := stack[len(stack)-1]

	at := 0
	var lastNote *event
	for at < len(words) {
		rec, consumed, ok := builder.Decode(words, at)
		if !ok {
			c.warn(fmt.Sprintf("structural-imbalance: unrecognized opcode word %d at position %d, skipping", words[at], at))
			at += consumed
			continue
		}
		at += consumed

		switch rec.Op {
		case builder.OpNote:
			ev := &event{
				kind: kindNote, origTick: rec.Tick,
				pitch: rec.Args[0], vel: rec.Args[1], duration: rec.Args[2],
				insertionOrder: insertionOrder, eventIndex: eventIndex,
				hCtx: topHumanize(), qCtx: topQuantize(), gCtx: topGroove(),
			}
			insertionOrder++
			eventIndex++
			cur.events = append(cur.events, ev)
			lastNote = ev

		case builder.OpRest:
			ev := &event{
				kind: kindRest, origTick: rec.Tick, duration: rec.Args[0],
				insertionOrder: insertionOrder, eventIndex: eventIndex,
				hCtx: topHumanize(), qCtx: topQuantize(), gCtx: topGroove(),
			}
			insertionOrder++
			eventIndex++
			cur.events = append(cur.events, ev)
			lastNote = nil

		case builder.OpTempo:
			ev := &event{kind: kindTempo, origTick: rec.Tick, val: rec.Args[0], insertionOrder: insertionOrder, eventIndex: eventIndex,
				hCtx: topHumanize(), qCtx: topQuantize(), gCtx: topGroove()}
			insertionOrder++
			eventIndex++
			cur.events = append(cur.events, ev)
			lastNote = nil

		case builder.OpCC:
			ev := &event{kind: kindCC, origTick: rec.Tick, ctrl: rec.Args[0], val: rec.Args[1], insertionOrder: insertionOrder, eventIndex: eventIndex,
				hCtx: topHumanize(), qCtx: topQuantize(), gCtx: topGroove()}
			insertionOrder++
			eventIndex++
			cur.events = append(cur.events, ev)
			lastNote = nil

		case builder.OpBend:
			ev := &event{kind: kindBend, origTick: rec.Tick, bend: rec.Args[0], insertionOrder: insertionOrder, eventIndex: eventIndex,
				hCtx: topHumanize(), qCtx: topQuantize(), gCtx: topGroove()}
			insertionOrder++
			eventIndex++
			cur.events = append(cur.events, ev)
			lastNote = nil

		case builder.OpLoopStart:
			n := &node{kind: nodeLoop, startTick: rec.Tick, loopCount: rec.Args[0]}
			cur.children = append(cur.children, n)
			stack = append(stack, n)
			cur = n
			lastNote = nil

		case builder.OpLoopEnd:
			if len(stack) < 2 || stack[len(stack)-1].kind != nodeLoop {
				c.warn("structural-imbalance: LOOP_END without matching LOOP_START")
				break
			}
			stack = stack[:len(stack)-1]
			cur = stack[len(stack)-1]
			lastNote = nil

		case builder.OpStackStart:
			n := &node{kind: nodeStack, startTick: rec.Tick, stackCount: rec.Args[0]}
			cur.children = append(cur.children, n)
			stack = append(stack, n)
			cur = n
			lastNote = nil

		case builder.OpStackEnd:
			if len(stack) < 2 || stack[len(stack)-1].kind != nodeStack {
				c.warn("structural-imbalance: STACK_END without matching STACK_START")
				break
			}
			stack = stack[:len(stack)-1]
			cur = stack[len(stack)-1]
			lastNote = nil

		case builder.OpBranchStart:
			if cur.kind != nodeStack {
				c.warn("structural-imbalance: BRANCH_START outside a STACK")
			}
			n := &node{kind: nodeBranch, startTick: cur.startTick}
			cur.children = append(cur.children, n)
			stack = append(stack, n)
			cur = n
			lastNote = nil

		case builder.OpBranchEnd:
			if len(stack) < 2 || stack[len(stack)-1].kind != nodeBranch {
				c.warn("structural-imbalance: BRANCH_END without matching BRANCH_START")
				break
			}
			stack = stack[:len(stack)-1]
			cur = stack[len(stack)-1]
			lastNote = nil

		case builder.OpHumanizePush:
			humanizeStack = append(humanizeStack, humanizeCtx{timingPPT: rec.Args[0], velocityPPT: rec.Args[1]})

		case builder.OpHumanizePop:
			if len(humanizeStack) == 0 {
				c.warn("structural-imbalance: HUMANIZE_POP without matching PUSH")
				break
			}
			humanizeStack = humanizeStack[:len(humanizeStack)-1]

		case builder.OpQuantizePush:
			quantizeStack = append(quantizeStack, quantizeCtx{grid: rec.Args[0], strengthPct: rec.Args[1]})

		case builder.OpQuantizePop:
			if len(quantizeStack) == 0 {
				c.warn("structural-imbalance: QUANTIZE_POP without matching PUSH")
				break
			}
			quantizeStack = quantizeStack[:len(quantizeStack)-1]

		case builder.OpGroovePush:
			offsets := append([]int32(nil), rec.Args[1:]...)
			grooveStack = append(grooveStack, grooveCtx{inline: offsets})

		case builder.OpGroovePop:
			if len(grooveStack) == 0 {
				c.warn("structural-imbalance: GROOVE_POP without matching PUSH")
				break
			}
			grooveStack = grooveStack[:len(grooveStack)-1]

		case builder.OpNoteModHumanize:
			if lastNote == nil {
				c.warn("structural-imbalance: NOTE_MOD_HUMANIZE not attached to a preceding NOTE")
				break
			}
			lastNote.hCtx = humanizeCtx{timingPPT: rec.Args[0], velocityPPT: rec.Args[1]}

		case builder.OpNoteModQuantize:
			if lastNote == nil {
				c.warn("structural-imbalance: NOTE_MOD_QUANTIZE not attached to a preceding NOTE")
				break
			}
			lastNote.qCtx = quantizeCtx{grid: rec.Args[0], strengthPct: rec.Args[1]}

		case builder.OpNoteModGroove:
			if lastNote == nil {
				c.warn("structural-imbalance: NOTE_MOD_GROOVE not attached to a preceding NOTE")
				break
			}
			lastNote.gCtx = grooveCtx{isIndex: true, index: rec.Args[0]}

		case builder.OpEOF:
			at = len(words)
		}
	}
	return root, nil
}

// transform applies Quantize -> Groove -> Humanize to every event in the
// tree, in place.
func (c *compileState) transform(n *node, seed uint32) {
	for _, ev := range n.events {
		t := ev.origTick
		t = xform.Quantize(t, ev.qCtx.grid, ev.qCtx.strengthPct)
		t = xform.Groove(t, c.ppq, ev.gCtx.offsets(c.opts.Grooves))
		vel := ev.vel
		t, vel = xform.Humanize(t, vel, ev.kind == kindNote, seed, ev.eventIndex, ev.hCtx.timingPPT, ev.hCtx.velocityPPT, c.ppq)
		ev.finalTick = t
		ev.vel = vel
	}
	for _, child := range n.children {
		c.transform(child, seed)
	}
}

// sortScopes stably sorts each node's own events by (final_tick,
// insertion_order); structural nesting among children is never reordered.
func sortScopes(n *node) {
	sort.SliceStable(n.events, func(i, j int) bool {
		a, b := n.events[i], n.events[j]
		if a.finalTick != b.finalTick {
			return a.finalTick < b.finalTick
		}
		return a.insertionOrder < b.insertionOrder
	})
	for _, child := range n.children {
		sortScopes(child)
	}
}

// totalTicks is max(final_tick + duration) over every event in the tree.
func totalTicks(n *node) int32 {
	var max int32
	for _, ev := range n.events {
		if v := ev.finalTick + ev.duration; v > max {
			max = v
		}
	}
	for _, child := range n.children {
		if v := totalTicks(child); v > max {
			max = v
		}
	}
	return max
}

// emitNode walks the structural tree in nesting order, writing VM bytecode
// and threading a single running tick cursor through events and children —
// mirroring exactly what the VM's own dispatch table does at runtime so the
// compiler's REST-gap bookkeeping matches playback.
func emitNode(w *vmbc.Writer, n *node, cur *int32) {
	for _, ev := range n.events {
		if ev.finalTick > *cur {
			w.Rest(ev.finalTick - *cur)
			*cur = ev.finalTick
		}
		switch ev.kind {
		case kindNote:
			w.Note(ev.pitch, ev.vel, ev.duration)
			*cur += ev.duration
		case kindRest:
			w.Rest(ev.duration)
			*cur += ev.duration
		case kindTempo:
			w.Tempo(ev.val)
		case kindCC:
			w.CC(ev.ctrl, ev.val)
		case kindBend:
			w.Bend(ev.bend)
		}
	}
	for _, child := range n.children {
		switch child.kind {
		case nodeLoop:
			w.LoopStart(child.loopCount)
			cur0 := *cur
			emitNode(w, child, cur)
			w.LoopEnd()
			delta := *cur - cur0
			*cur = cur0 + delta*child.loopCount

		case nodeStack:
			w.StackStart(child.stackCount)
			stackStart := *cur
			var maxDur int32
			for _, branch := range child.children {
				w.BranchStart()
				*cur = stackStart
				emitNode(w, branch, cur)
				if d := *cur - stackStart; d > maxDur {
					maxDur = d
				}
				w.BranchEnd()
			}
			w.StackEnd()
			*cur = stackStart + maxDur
		}
	}
}
