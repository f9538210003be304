package vm

import (
	"fmt"
	"io"
	"time"
)

// ---------------------------------------------------------------------------
// Heap: slot list and mark-and-sweep collection
// ---------------------------------------------------------------------------

// HeapSlot is the collector's bookkeeping node: a monotonically assigned
// id, the owned object pointer (nullable) and the intrusive list links.
// Before points toward older slots, After toward newer ones; the heap's
// head is the newest slot.
type HeapSlot struct {
	ID     uint32
	Obj    Object
	Before *HeapSlot
	After  *HeapSlot
}

// SweepStats holds statistics from a single sweep.
type SweepStats struct {
	Swept    int
	Live     int
	Duration time.Duration
}

// Heap owns the doubly-linked list of slots, one object per slot. It is
// not safe for concurrent use; the VM is single-threaded.
type Heap struct {
	head       *HeapSlot
	numObjects uint32
	nextID     uint32
	sweepCount uint64
	lastStats  SweepStats
}

// NewHeap creates an empty heap.
func NewHeap() *Heap {
	return &Heap{}
}

// AllocNull allocates a fresh slot with a null object pointer, linked in
// front of the current head, and returns the slot's object pointer. The
// caller constructs the concrete variant and stores it through the
// returned pointer; references built from it stay valid across sweeps.
func (h *Heap) AllocNull() *Object {
	slot := &HeapSlot{ID: h.nextID}
	h.nextID++
	h.numObjects++

	if h.head != nil {
		h.head.After = slot
	}
	slot.Before = h.head
	h.head = slot

	return &slot.Obj
}

// Alloc allocates a slot, stores the object and returns a reference to it.
func (h *Heap) Alloc(obj Object) Reference {
	slotObj := h.AllocNull()
	*slotObj = obj
	return NewReference(slotObj)
}

// Sweep walks the slot list from the head backward. Unmarked objects are
// deleted and their slots unlinked; marked objects have their MARKED bit
// cleared. Slots whose object pointer is already null are unlinked too.
func (h *Heap) Sweep() SweepStats {
	start := time.Now()
	swept := 0

	slot := h.head
	for slot != nil {
		if slot.Obj != nil {
			if slot.Obj.Base().IsMarked() {
				slot.Obj.Base().ClearMark()
				slot = slot.Before
				continue
			}
			slot.Obj = nil
		}

		// unlink the slot, preserving list integrity at the head and in
		// the interior
		next := slot.After
		prev := slot.Before
		if next != nil {
			next.Before = prev
		} else {
			h.head = prev
		}
		if prev != nil {
			prev.After = next
		}
		h.numObjects--
		swept++

		slot = prev
	}

	h.sweepCount++
	h.lastStats = SweepStats{
		Swept:    swept,
		Live:     int(h.numObjects),
		Duration: time.Since(start),
	}
	return h.lastStats
}

// NumObjects returns the number of live slots.
func (h *Heap) NumObjects() uint32 {
	return h.numObjects
}

// Head returns the newest slot, for inspection.
func (h *Heap) Head() *HeapSlot {
	return h.head
}

// SweepCount returns the total number of sweeps performed.
func (h *Heap) SweepCount() uint64 {
	return h.sweepCount
}

// LastStats returns statistics from the most recent sweep.
func (h *Heap) LastStats() SweepStats {
	return h.lastStats
}

// Dump writes one line per slot, newest first.
func (h *Heap) Dump(w io.Writer) {
	for slot := h.head; slot != nil; slot = slot.Before {
		if slot.Obj != nil {
			fmt.Fprintf(w, "#%d\t%d\t%s\n", slot.ID, slot.Obj.Base().Flags(), slot.Obj.String())
		} else {
			fmt.Fprintf(w, "#%d\t<null>\n", slot.ID)
		}
	}
}
