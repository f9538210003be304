package vm

// ---------------------------------------------------------------------------
// Object: polymorphic runtime values
// ---------------------------------------------------------------------------

// Object flag bits.
const (
	FlagTemporary = 0x01
	FlagConst     = 0x02
	FlagMarked    = 0x04
)

// Object is the interface implemented by every heap-allocated runtime
// value. Concrete variants embed BaseObject for flags, the informational
// reference count and the ordered field sequence.
type Object interface {
	Base() *BaseObject
	Invoke(st *State, nargs int)
	Clone(h *Heap) Reference
	CloneWith(h *Heap, memo CloneMemo) Reference
	String() string
	TypeString() string
}

// CloneMemo maps already-cloned source objects to their clones so shared
// and cyclic field graphs clone to isomorphic graphs.
type CloneMemo map[Object]Reference

// Field is one named reference owned by an object.
type Field struct {
	Name string
	Ref  Reference
}

// BaseObject carries the state common to all object variants: a flag
// bitmap, a reference count (informational; real lifetime is governed by
// the collector) and the ordered field sequence.
type BaseObject struct {
	flags    int
	refcount int
	fields   []Field
}

// NewBaseObject returns a base with a reference count of one.
func NewBaseObject() BaseObject {
	return BaseObject{refcount: 1}
}

// Base returns the embedded base; it makes every variant satisfy Object.
func (o *BaseObject) Base() *BaseObject { return o }

// Flags returns the current flag bitmap.
func (o *BaseObject) Flags() int { return o.flags }

// SetFlags ors the given bits into the flag bitmap.
func (o *BaseObject) SetFlags(bits int) { o.flags |= bits }

// ClearMark clears the MARKED bit.
func (o *BaseObject) ClearMark() { o.flags &^= FlagMarked }

// IsMarked reports whether the MARKED bit is set.
func (o *BaseObject) IsMarked() bool { return o.flags&FlagMarked != 0 }

// RefCount returns the informational reference count.
func (o *BaseObject) RefCount() int { return o.refcount }

// AddFieldReference appends a named reference to the object's fields.
func (o *BaseObject) AddFieldReference(name string, ref Reference) {
	o.fields = append(o.fields, Field{Name: name, Ref: ref})
}

// GetFieldReference returns the field with the given name.
func (o *BaseObject) GetFieldReference(name string) (Reference, bool) {
	for i := range o.fields {
		if o.fields[i].Name == name {
			return o.fields[i].Ref, true
		}
	}
	return Reference{}, false
}

// FieldAt returns the field at the given ordinal position.
func (o *BaseObject) FieldAt(index int) (Field, bool) {
	if index < 0 || index >= len(o.fields) {
		return Field{}, false
	}
	return o.fields[index], true
}

// NumFields returns the number of fields.
func (o *BaseObject) NumFields() int { return len(o.fields) }

// Mark sets the MARKED flag, then recurses into every field's referenced
// object. The mark check before recursion terminates cycles.
func (o *BaseObject) Mark() {
	o.flags |= FlagMarked
	for i := range o.fields {
		if obj := o.fields[i].Ref.Object(); obj != nil && !obj.Base().IsMarked() {
			obj.Base().Mark()
		}
	}
}

// cloneFieldsInto deep-clones the receiver's fields into dst, memoizing by
// source object so shared structure stays shared in the clone.
func (o *BaseObject) cloneFieldsInto(h *Heap, dst Object, memo CloneMemo) {
	for i := range o.fields {
		src := o.fields[i].Ref.Object()
		if src == nil {
			continue
		}
		dst.Base().AddFieldReference(o.fields[i].Name, src.CloneWith(h, memo))
	}
}
