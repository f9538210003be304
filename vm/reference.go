package vm

// ---------------------------------------------------------------------------
// Reference: handles that stay valid across collection
// ---------------------------------------------------------------------------

// Reference is a handle to a heap object. It points at the slot's object
// pointer rather than the object itself, so the collector can replace or
// null the object without invalidating live references. Copying a
// reference copies the slot pointer, never the object.
//
// The zero Reference is the null reference.
type Reference struct {
	ref *Object
}

// NewReference builds a reference from a slot's object pointer, as
// returned by Heap.AllocNull.
func NewReference(slot *Object) Reference {
	return Reference{ref: slot}
}

// Object returns the currently referenced object, or nil when the
// reference is null or the slot has been nulled by the collector.
func (r Reference) Object() Object {
	if r.ref == nil {
		return nil
	}
	return *r.ref
}

// IsNull reports whether the reference currently resolves to no object.
func (r Reference) IsNull() bool {
	return r.Object() == nil
}

// Store replaces the referenced slot's object.
func (r Reference) Store(obj Object) {
	if r.ref != nil {
		*r.ref = obj
	}
}

// DeleteObject nulls the referenced slot without unlinking it; the next
// sweep reclaims the slot.
func (r Reference) DeleteObject() {
	if r.ref != nil {
		*r.ref = nil
	}
}
