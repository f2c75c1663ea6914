// Package consumer implements the Event Consumer: the reader side of the
// VM's ring buffer. It never mutates anything but EventRead.
package consumer

import "github.com/cbegin/scorevm/internal/shm"

// Event is a decoded ring entry.
type Event struct {
	Type            int32
	Tick            int32
	Field1, Field2, Field3 int32
}

// Consumer reads published events from a shared buffer written by a vm.VM.
type Consumer struct {
	buf *shm.Buffer
}

func New(buf *shm.Buffer) *Consumer { return &Consumer{buf: buf} }

// Available returns the count of published, unread events.
func (c *Consumer) Available() int32 {
	return c.buf.LoadEventWrite() - c.buf.LoadEventRead()
}

// Peek returns the next unread event without consuming it.
func (c *Consumer) Peek() (Event, bool) {
	if c.Available() <= 0 {
		return Event{}, false
	}
	return c.readAt(c.buf.LoadEventRead()), true
}

// Poll returns all published, unread events in order and advances
// EventRead past them.
func (c *Consumer) Poll() []Event {
	read := c.buf.LoadEventRead()
	write := c.buf.LoadEventWrite()
	if write <= read {
		return nil
	}
	events := make([]Event, 0, write-read)
	for i := read; i < write; i++ {
		events = append(events, c.readAt(i))
	}
	c.buf.StoreEventRead(write)
	return events
}

// PollUntil returns unread events in order, stopping at the first one whose
// tick is > targetTick and leaving it and everything after it unread, even
// later events with smaller ticks. EventRead advances only past what is
// returned.
func (c *Consumer) PollUntil(targetTick int32) []Event {
	read := c.buf.LoadEventRead()
	write := c.buf.LoadEventWrite()
	var events []Event
	i := read
	for ; i < write; i++ {
		ev := c.readAt(i)
		if ev.Tick > targetTick {
			break
		}
		events = append(events, ev)
	}
	if i > read {
		c.buf.StoreEventRead(i)
	}
	return events
}

func (c *Consumer) readAt(index int32) Event {
	slot := c.buf.EventSlot(index)
	return Event{
		Type:   c.buf.Get(slot + 0),
		Tick:   c.buf.Get(slot + 1),
		Field1: c.buf.Get(slot + 2),
		Field2: c.buf.Get(slot + 3),
		Field3: c.buf.Get(slot + 4),
	}
}

func (c *Consumer) IsBackpressured() bool {
	return c.Available() >= int32(c.buf.EventRingCap())
}

// TempoEntry is a decoded tempo-log record.
type TempoEntry struct {
	Tick int32
	BPM  int32
}

// TempoLog returns every {tick, bpm} entry appended by the VM so far. Used
// together with PPQ to convert ticks to seconds outside the core.
func (c *Consumer) TempoLog() []TempoEntry {
	count := c.buf.Get(shm.RegTempoCount)
	if count <= 0 {
		return nil
	}
	entries := make([]TempoEntry, count)
	for i := int32(0); i < count; i++ {
		slot := c.buf.TempoSlot(i)
		entries[i] = TempoEntry{Tick: c.buf.Get(slot + 0), BPM: c.buf.Get(slot + 1)}
	}
	return entries
}

func (c *Consumer) IsDone() bool    { return c.buf.LoadState() == shm.StateDone }
func (c *Consumer) IsPaused() bool  { return c.buf.LoadState() == shm.StatePaused }
func (c *Consumer) State() int32    { return c.buf.LoadState() }
func (c *Consumer) Tick() int32     { return c.buf.Get(shm.RegTick) }
func (c *Consumer) TotalTicks() int32 { return c.buf.Get(shm.RegTotalTicks) }
func (c *Consumer) PPQ() int32      { return c.buf.Get(shm.RegPPQ) }
func (c *Consumer) BPM() int32      { return c.buf.Get(shm.RegBPM) }
