package compiler

import "sort"

// unroll dissolves every LOOP node into count copies of its body, spliced
// directly into the loop's enclosing scope, with each iteration reseeded and
// its events' final_tick offset by iter * body_duration. Nested loops are
// dissolved bottom-up so an unrolled inner loop's events already sit flat in
// the outer loop's body before the outer loop's own body_duration is
// measured.
func (c *compileState) unroll(n *node) {
	var kept []*node
	for _, child := range n.children {
		if child.kind != nodeLoop {
			c.unroll(child)
			kept = append(kept, child)
			continue
		}
		c.unroll(child)

		bodyEnd := nodeDuration(child, child.startTick)
		bodyDuration := bodyEnd - child.startTick

		for iter := int32(0); iter < child.loopCount; iter++ {
			clone := cloneNode(child)
			iterSeed := c.opts.Seed + uint32(iter)*1000
			c.transform(clone, iterSeed)
			offsetTicks(clone, iter*bodyDuration)
			n.events = append(n.events, clone.events...)
			kept = append(kept, clone.children...)
		}
	}
	n.children = kept
}

// cloneNode deep-copies a node's events and structural subtree. Events are
// copied by value so retransforming a clone never mutates the original.
func cloneNode(n *node) *node {
	clone := &node{
		kind:       n.kind,
		startTick:  n.startTick,
		loopCount:  n.loopCount,
		stackCount: n.stackCount,
	}
	clone.events = make([]*event, len(n.events))
	for i, ev := range n.events {
		cp := *ev
		clone.events[i] = &cp
	}
	clone.children = make([]*node, len(n.children))
	for i, child := range n.children {
		clone.children[i] = cloneNode(child)
	}
	return clone
}

// offsetTicks shifts every event's final_tick and every child node's
// start_tick by delta, recursively.
func offsetTicks(n *node, delta int32) {
	if delta == 0 {
		return
	}
	n.startTick += delta
	for _, ev := range n.events {
		ev.finalTick += delta
	}
	for _, child := range n.children {
		offsetTicks(child, delta)
	}
}

func sortNodeEvents(n *node) {
	sort.SliceStable(n.events, func(i, j int) bool {
		a, b := n.events[i], n.events[j]
		if a.finalTick != b.finalTick {
			return a.finalTick < b.finalTick
		}
		return a.insertionOrder < b.insertionOrder
	})
}

// nodeDuration mirrors emitNode's tick-cursor bookkeeping without writing
// any bytecode, used to measure a scope's duration starting from origin —
// the same structure-aware summation (recursing into branches, multiplying
// loop bodies by their count) that the VM itself performs at runtime.
func nodeDuration(n *node, origin int32) int32 {
	sortNodeEvents(n)
	cur := origin
	for _, ev := range n.events {
		if ev.finalTick > cur {
			cur = ev.finalTick
		}
		if ev.isAdvancing() {
			cur += ev.duration
		}
	}
	for _, child := range n.children {
		switch child.kind {
		case nodeLoop:
			bodyEnd := nodeDuration(child, cur)
			cur += (bodyEnd - cur) * child.loopCount
		case nodeStack:
			stackStart := cur
			var maxDur int32
			for _, branch := range child.children {
				bEnd := nodeDuration(branch, stackStart)
				if bd := bEnd - stackStart; bd > maxDur {
					maxDur = bd
				}
			}
			cur = stackStart + maxDur
		}
	}
	return cur
}
