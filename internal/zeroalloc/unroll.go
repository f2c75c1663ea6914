package zeroalloc

import "github.com/cbegin/scorevm/internal/compiler/xform"

// unrollAll dissolves every LOOP scope into count copies of its body,
// spliced into the loop's enclosing scope, each iteration reseeded and its
// events' final_tick offset by iter * body_duration. Mirrors the reference
// compiler's unroll.go but walks the scope/event arrays instead of a node
// tree.
func (c *Compiler) unrollAll(seed uint32) error {
	return c.unrollChildren(0, seed)
}

// unrollChildren rebuilds sid's child list in place: non-loop children keep
// their scope id, loop children are replaced by count clones of their body.
// The new list is spliced together as it is built (newFirst/newLast), so no
// scratch slice is needed to stage it; the walk over sid's existing children
// uses the live firstChild/nextSibling chain, captured one step ahead of the
// current node so splicing it into the new list doesn't disturb the walk.
func (c *Compiler) unrollChildren(sid int32, seed uint32) error {
	newFirst, newLast := int32(noScope), int32(noScope)
	spliceKept := func(id int32) {
		c.scopes[id].parent = sid
		c.scopes[id].nextSibling = noScope
		if newFirst == noScope {
			newFirst = id
		} else {
			c.scopes[newLast].nextSibling = id
		}
		newLast = id
	}

	for ch := c.scopes[sid].firstChild; ch != noScope; {
		next := c.scopes[ch].nextSibling

		if c.scopes[ch].structOp != structLoop {
			if err := c.unrollChildren(ch, seed); err != nil {
				return err
			}
			spliceKept(ch)
			ch = next
			continue
		}

		if err := c.unrollChildren(ch, seed); err != nil {
			return err
		}
		bodyEnd, err := c.scopeDuration(ch, c.scopes[ch].startTick)
		if err != nil {
			return err
		}
		bodyDuration := bodyEnd - c.scopes[ch].startTick
		count := c.scopes[ch].count

		for iter := int32(0); iter < count; iter++ {
			iterSeed := seed + uint32(iter)*1000
			offset := iter * bodyDuration
			if err := c.cloneEventsInto(ch, sid, iterSeed, offset); err != nil {
				return err
			}
			for grandchild := c.scopes[ch].firstChild; grandchild != noScope; grandchild = c.scopes[grandchild].nextSibling {
				newID, err := c.cloneScopeSubtree(grandchild, sid, iterSeed, offset)
				if err != nil {
					return err
				}
				spliceKept(newID)
			}
		}
		ch = next
	}

	c.scopes[sid].firstChild = newFirst
	c.scopes[sid].lastChild = newLast
	return nil
}

// cloneEventsInto re-transforms src's own events with seed and appends them
// to dest's flat event list, offset by delta ticks. Matching rows are
// gathered into c.cloneScratch, a buffer preallocated to maxEvents (an
// upper bound on how many events any single scope could hold) and reused
// across calls; it is fully consumed before the next call starts, since
// nothing here recurses mid-loop.
func (c *Compiler) cloneEventsInto(src, dest int32, seed uint32, delta int32) error {
	scratch := c.cloneScratch[:0]
	for i := range c.events {
		if c.events[i].scopeID == src {
			scratch = append(scratch, c.events[i])
		}
	}
	c.cloneScratch = scratch

	for _, e := range scratch {
		if len(c.events) >= c.maxEvents {
			return c.overflow("events", c.maxEvents)
		}
		t := e.origTick
		t = xform.Quantize(t, e.qGrid, e.qStrength)
		var offsets []int32
		if e.gIsIndex {
			offsets = c.grooves[e.gIndex]
		} else {
			offsets = e.gInline
		}
		t = xform.Groove(t, c.ppq, offsets)
		vel := e.arg1
		t, vel = xform.Humanize(t, vel, e.kind == kindNote, seed, e.eventIndex, e.hTiming, e.hVelocity, c.ppq)
		e.finalTick = t + delta
		if e.kind == kindNote {
			e.arg1 = vel
		}
		e.scopeID = dest
		c.events = append(c.events, e)
	}
	return nil
}

// cloneScopeSubtree creates a new scope cloned from src (reparented under
// newParent, shifted by delta ticks), clones src's own events into it, and
// recursively clones src's children. src is guaranteed loop-free at this
// point (nested loops were already dissolved by the caller's bottom-up walk).
func (c *Compiler) cloneScopeSubtree(src, newParent int32, seed uint32, delta int32) (int32, error) {
	if len(c.scopes) >= c.maxScopes {
		return 0, c.overflow("scopes", c.maxScopes)
	}
	orig := c.scopes[src]
	newID := int32(len(c.scopes))
	c.scopes = append(c.scopes, scopeRow{
		structOp: orig.structOp, count: orig.count, startTick: orig.startTick + delta,
		parent: newParent, firstChild: noScope, lastChild: noScope, nextSibling: noScope,
	})

	if err := c.cloneEventsInto(src, newID, seed, delta); err != nil {
		return 0, err
	}

	for ch := orig.firstChild; ch != noScope; ch = c.scopes[ch].nextSibling {
		childID, err := c.cloneScopeSubtree(ch, newID, seed, delta)
		if err != nil {
			return 0, err
		}
		if c.scopes[newID].firstChild == noScope {
			c.scopes[newID].firstChild = childID
		} else {
			c.scopes[c.scopes[newID].lastChild].nextSibling = childID
		}
		c.scopes[newID].lastChild = childID
	}
	return newID, nil
}
