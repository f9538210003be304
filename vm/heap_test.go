package vm

import (
	"bytes"
	"strings"
	"testing"
)

// checkListIntegrity verifies the slot list is well-formed: a single head,
// mirrored before/after links and a live-slot count matching NumObjects.
func checkListIntegrity(t *testing.T, h *Heap) {
	t.Helper()

	head := h.Head()
	if head == nil {
		if h.NumObjects() != 0 {
			t.Errorf("nil head but %d objects", h.NumObjects())
		}
		return
	}
	if head.After != nil {
		t.Error("head must have no newer slot")
	}

	count := 0
	for slot := head; slot != nil; slot = slot.Before {
		count++
		if slot.Before != nil && slot.Before.After != slot {
			t.Errorf("slot #%d: before/after links do not mirror", slot.ID)
		}
	}
	if uint32(count) != h.NumObjects() {
		t.Errorf("list has %d slots but NumObjects is %d", count, h.NumObjects())
	}
}

func TestHeap_AllocAssignsMonotonicIDs(t *testing.T) {
	h := NewHeap()
	r1 := h.Alloc(NewInt(1))
	r2 := h.Alloc(NewInt(2))
	r3 := h.Alloc(NewInt(3))

	if h.NumObjects() != 3 {
		t.Fatalf("expected 3 objects, got %d", h.NumObjects())
	}

	ids := []uint32{}
	for slot := h.Head(); slot != nil; slot = slot.Before {
		ids = append(ids, slot.ID)
	}
	// newest first
	if len(ids) != 3 || ids[0] != 2 || ids[1] != 1 || ids[2] != 0 {
		t.Errorf("unexpected id order: %v", ids)
	}

	for i, ref := range []Reference{r1, r2, r3} {
		obj, ok := ref.Object().(*IntObject)
		if !ok || obj.Value != int64(i+1) {
			t.Errorf("reference %d resolves wrong", i)
		}
	}
	checkListIntegrity(t, h)
}

func TestHeap_SweepReachability(t *testing.T) {
	// A -> B, C isolated; roots = {A}
	h := NewHeap()
	a := h.Alloc(NewUserObject("a"))
	b := h.Alloc(NewInt(7))
	c := h.Alloc(NewInt(9))
	a.Object().Base().AddFieldReference("b", b)

	a.Object().Base().Mark()
	h.Sweep()

	if h.NumObjects() != 2 {
		t.Fatalf("expected 2 survivors, got %d", h.NumObjects())
	}
	if a.IsNull() {
		t.Error("root A must survive")
	}
	if b.IsNull() {
		t.Error("B is reachable from A and must survive")
	}
	if !c.IsNull() {
		t.Error("C is unreachable and must be deleted")
	}

	// survivors have MARKED cleared
	if a.Object().Base().IsMarked() || b.Object().Base().IsMarked() {
		t.Error("survivors must have MARKED cleared after sweep")
	}
	checkListIntegrity(t, h)
}

func TestHeap_SweepWithEmptyRootsIsIdempotent(t *testing.T) {
	h := NewHeap()
	h.Alloc(NewInt(1))
	h.Alloc(NewInt(2))
	h.Alloc(NewInt(3))

	stats := h.Sweep()
	if stats.Swept != 3 || h.NumObjects() != 0 {
		t.Fatalf("expected everything collected, swept=%d live=%d", stats.Swept, h.NumObjects())
	}

	stats = h.Sweep()
	if stats.Swept != 0 || h.NumObjects() != 0 {
		t.Errorf("second sweep must be a no-op, swept=%d live=%d", stats.Swept, h.NumObjects())
	}
	if h.Head() != nil {
		t.Error("expected an empty slot list")
	}
	checkListIntegrity(t, h)
}

func TestHeap_MarkTerminatesOnCycles(t *testing.T) {
	h := NewHeap()
	a := h.Alloc(NewUserObject("a"))
	b := h.Alloc(NewUserObject("b"))
	a.Object().Base().AddFieldReference("next", b)
	b.Object().Base().AddFieldReference("next", a)

	a.Object().Base().Mark()
	h.Sweep()

	if h.NumObjects() != 2 {
		t.Errorf("cycle members must both survive, got %d", h.NumObjects())
	}
	checkListIntegrity(t, h)
}

func TestHeap_ReferencesStableAcrossSweep(t *testing.T) {
	h := NewHeap()
	keep := h.Alloc(NewInt(42))
	h.Alloc(NewInt(1))
	h.Alloc(NewInt(2))

	before := keep.Object()
	keep.Object().Base().Mark()
	h.Sweep()

	if keep.Object() != before {
		t.Error("a surviving slot must keep resolving to the same object")
	}
	checkListIntegrity(t, h)
}

func TestHeap_InteriorAndHeadUnlink(t *testing.T) {
	h := NewHeap()
	oldest := h.Alloc(NewInt(0))
	middle := h.Alloc(NewInt(1))
	newest := h.Alloc(NewInt(2))

	// kill the middle slot only
	oldest.Object().Base().Mark()
	newest.Object().Base().Mark()
	h.Sweep()
	if middle.Object() != nil {
		t.Error("middle object should be deleted")
	}
	if h.NumObjects() != 2 {
		t.Fatalf("expected 2 objects, got %d", h.NumObjects())
	}
	checkListIntegrity(t, h)

	// now kill the newest (head) slot only
	oldest.Object().Base().Mark()
	h.Sweep()
	if h.NumObjects() != 1 {
		t.Fatalf("expected 1 object, got %d", h.NumObjects())
	}
	if h.Head().Obj == nil {
		t.Error("the remaining slot should hold the oldest object")
	}
	checkListIntegrity(t, h)
}

func TestHeap_DeleteObjectLeavesSlotForSweep(t *testing.T) {
	h := NewHeap()
	ref := h.Alloc(NewInt(5))
	ref.DeleteObject()

	if !ref.IsNull() {
		t.Error("reference should be null after DeleteObject")
	}
	if h.NumObjects() != 1 {
		t.Errorf("slot remains until sweep, got %d", h.NumObjects())
	}

	h.Sweep()
	if h.NumObjects() != 0 {
		t.Errorf("sweep reclaims the nulled slot, got %d", h.NumObjects())
	}
}

func TestHeap_Dump(t *testing.T) {
	h := NewHeap()
	h.Alloc(NewInt(5))
	h.Alloc(NewString("hi"))

	var buf bytes.Buffer
	h.Dump(&buf)
	out := buf.String()
	if !strings.Contains(out, "5") || !strings.Contains(out, "hi") {
		t.Errorf("unexpected dump: %q", out)
	}
	if len(strings.Split(strings.TrimSpace(out), "\n")) != 2 {
		t.Errorf("expected 2 lines, got %q", out)
	}
}
