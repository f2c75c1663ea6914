package zeroalloc

func (e *eventRow) duration() int32 {
	switch e.kind {
	case kindNote:
		return e.arg2
	case kindRest:
		return e.arg0
	default:
		return 0
	}
}

// scopeEventOrder returns, for scope sid, the indices into c.events
// belonging to it (gathered by scope_id rather than assumed contiguous,
// since interleaved parsing can split a scope's own events into several
// runs in the flat array), stably sorted by (final_tick, insertion_order).
// The permutation is gathered into c.scopeOrderScratch, a single buffer
// preallocated once at construction and reused by every call (sized to the
// largest single-scope event count a Compiler is willing to handle), then
// sorted in place with an insertion sort — no allocation, no reflection.
func (c *Compiler) scopeEventOrder(sid int32) ([]int32, error) {
	n := 0
	for i := range c.events {
		if c.events[i].scopeID == sid {
			if n >= c.maxScopeEvents {
				return nil, c.overflow("scope event order scratch", c.maxScopeEvents)
			}
			c.scopeOrderScratch[n] = int32(i)
			n++
		}
	}
	idxs := c.scopeOrderScratch[:n]
	for i := 1; i < len(idxs); i++ {
		key := idxs[i]
		keyEv := &c.events[key]
		j := i - 1
		for j >= 0 && eventLess(keyEv, &c.events[idxs[j]]) {
			idxs[j+1] = idxs[j]
			j--
		}
		idxs[j+1] = key
	}
	return idxs, nil
}

// eventLess reports whether a sorts strictly before b, keyed on
// (final_tick, insertion_order).
func eventLess(a, b *eventRow) bool {
	if a.finalTick != b.finalTick {
		return a.finalTick < b.finalTick
	}
	return a.insertionOrder < b.insertionOrder
}

// sortAllScopes is a no-op placeholder: sort order is computed on demand by
// scopeEventOrder (duration measurement and emission both need the sorted
// view, so there is nothing to precompute that isn't recomputed anyway).
func (c *Compiler) sortAllScopes() {}

func (c *Compiler) totalTicks() int32 {
	var max int32
	for i := range c.events {
		if v := c.events[i].finalTick + c.events[i].duration(); v > max {
			max = v
		}
	}
	return max
}

// emitScope walks the scope tree in nesting order, writing VM bytecode and
// threading a single running tick cursor through events and children.
func (c *Compiler) emitScope(w *vmBuffer, sid int32, cur *int32) error {
	order, err := c.scopeEventOrder(sid)
	if err != nil {
		return err
	}
	for _, idx := range order {
		ev := &c.events[idx]
		if ev.finalTick > *cur {
			w.Rest(ev.finalTick - *cur)
			*cur = ev.finalTick
		}
		switch ev.kind {
		case kindNote:
			w.Note(ev.arg0, ev.arg1, ev.arg2)
			*cur += ev.arg2
		case kindRest:
			w.Rest(ev.arg0)
			*cur += ev.arg0
		case kindTempo:
			w.Tempo(ev.arg0)
		case kindCC:
			w.CC(ev.arg0, ev.arg1)
		case kindBend:
			w.Bend(ev.arg0)
		}
	}

	for ch := c.scopes[sid].firstChild; ch != noScope; ch = c.scopes[ch].nextSibling {
		switch c.scopes[ch].structOp {
		case structLoop:
			w.LoopStart(c.scopes[ch].count)
			cur0 := *cur
			if err := c.emitScope(w, ch, cur); err != nil {
				return err
			}
			w.LoopEnd()
			delta := *cur - cur0
			*cur = cur0 + delta*c.scopes[ch].count

		case structStack:
			w.StackStart(c.scopes[ch].count)
			stackStart := *cur
			var maxDur int32
			for br := c.scopes[ch].firstChild; br != noScope; br = c.scopes[br].nextSibling {
				w.BranchStart()
				*cur = stackStart
				if err := c.emitScope(w, br, cur); err != nil {
					return err
				}
				if d := *cur - stackStart; d > maxDur {
					maxDur = d
				}
				w.BranchEnd()
			}
			w.StackEnd()
			*cur = stackStart + maxDur
		}
	}
	return nil
}

// scopeDuration mirrors emitScope's tick-cursor bookkeeping without writing
// bytecode, used to measure a loop body's duration for unroll offsetting.
func (c *Compiler) scopeDuration(sid int32, origin int32) (int32, error) {
	cur := origin
	order, err := c.scopeEventOrder(sid)
	if err != nil {
		return 0, err
	}
	for _, idx := range order {
		ev := &c.events[idx]
		if ev.finalTick > cur {
			cur = ev.finalTick
		}
		if ev.isAdvancing() {
			cur += ev.duration()
		}
	}
	for ch := c.scopes[sid].firstChild; ch != noScope; ch = c.scopes[ch].nextSibling {
		switch c.scopes[ch].structOp {
		case structLoop:
			bodyEnd, err := c.scopeDuration(ch, cur)
			if err != nil {
				return 0, err
			}
			cur += (bodyEnd - cur) * c.scopes[ch].count
		case structStack:
			stackStart := cur
			var maxDur int32
			for br := c.scopes[ch].firstChild; br != noScope; br = c.scopes[br].nextSibling {
				bEnd, err := c.scopeDuration(br, stackStart)
				if err != nil {
					return 0, err
				}
				if bd := bEnd - stackStart; bd > maxDur {
					maxDur = bd
				}
			}
			cur = stackStart + maxDur
		}
	}
	return cur, nil
}
