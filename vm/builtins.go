package vm

import (
	"fmt"
	"strconv"
)

// ---------------------------------------------------------------------------
// Built-in object variants
// ---------------------------------------------------------------------------

// IntObject is a boxed integer.
type IntObject struct {
	BaseObject
	Value int64
}

// NewInt creates an integer object.
func NewInt(value int64) *IntObject {
	return &IntObject{BaseObject: NewBaseObject(), Value: value}
}

func (o *IntObject) Invoke(st *State, nargs int) {
	invokeNotCallable(st, o, nargs)
}

func (o *IntObject) Clone(h *Heap) Reference {
	return o.CloneWith(h, make(CloneMemo))
}

func (o *IntObject) CloneWith(h *Heap, memo CloneMemo) Reference {
	if ref, ok := memo[o]; ok {
		return ref
	}
	slot := h.AllocNull()
	ref := NewReference(slot)
	memo[o] = ref
	clone := NewInt(o.Value)
	*slot = clone
	o.cloneFieldsInto(h, clone, memo)
	return ref
}

func (o *IntObject) String() string     { return strconv.FormatInt(o.Value, 10) }
func (o *IntObject) TypeString() string { return "int" }

// FloatObject is a boxed float.
type FloatObject struct {
	BaseObject
	Value float64
}

// NewFloat creates a float object.
func NewFloat(value float64) *FloatObject {
	return &FloatObject{BaseObject: NewBaseObject(), Value: value}
}

func (o *FloatObject) Invoke(st *State, nargs int) {
	invokeNotCallable(st, o, nargs)
}

func (o *FloatObject) Clone(h *Heap) Reference {
	return o.CloneWith(h, make(CloneMemo))
}

func (o *FloatObject) CloneWith(h *Heap, memo CloneMemo) Reference {
	if ref, ok := memo[o]; ok {
		return ref
	}
	slot := h.AllocNull()
	ref := NewReference(slot)
	memo[o] = ref
	clone := NewFloat(o.Value)
	*slot = clone
	o.cloneFieldsInto(h, clone, memo)
	return ref
}

func (o *FloatObject) String() string     { return strconv.FormatFloat(o.Value, 'g', -1, 64) }
func (o *FloatObject) TypeString() string { return "float" }

// BoolObject is a boxed boolean.
type BoolObject struct {
	BaseObject
	Value bool
}

// NewBool creates a boolean object.
func NewBool(value bool) *BoolObject {
	return &BoolObject{BaseObject: NewBaseObject(), Value: value}
}

func (o *BoolObject) Invoke(st *State, nargs int) {
	invokeNotCallable(st, o, nargs)
}

func (o *BoolObject) Clone(h *Heap) Reference {
	return o.CloneWith(h, make(CloneMemo))
}

func (o *BoolObject) CloneWith(h *Heap, memo CloneMemo) Reference {
	if ref, ok := memo[o]; ok {
		return ref
	}
	slot := h.AllocNull()
	ref := NewReference(slot)
	memo[o] = ref
	clone := NewBool(o.Value)
	*slot = clone
	o.cloneFieldsInto(h, clone, memo)
	return ref
}

func (o *BoolObject) String() string {
	if o.Value {
		return "true"
	}
	return "false"
}
func (o *BoolObject) TypeString() string { return "bool" }

// StringObject is a boxed string.
type StringObject struct {
	BaseObject
	Value string
}

// NewString creates a string object.
func NewString(value string) *StringObject {
	return &StringObject{BaseObject: NewBaseObject(), Value: value}
}

func (o *StringObject) Invoke(st *State, nargs int) {
	invokeNotCallable(st, o, nargs)
}

func (o *StringObject) Clone(h *Heap) Reference {
	return o.CloneWith(h, make(CloneMemo))
}

func (o *StringObject) CloneWith(h *Heap, memo CloneMemo) Reference {
	if ref, ok := memo[o]; ok {
		return ref
	}
	slot := h.AllocNull()
	ref := NewReference(slot)
	memo[o] = ref
	clone := NewString(o.Value)
	*slot = clone
	o.cloneFieldsInto(h, clone, memo)
	return ref
}

func (o *StringObject) String() string     { return o.Value }
func (o *StringObject) TypeString() string { return "string" }

// UserObject is a plain instance whose behavior lives entirely in its
// fields.
type UserObject struct {
	BaseObject
	TypeName string
}

// NewUserObject creates an instance with the given type name.
func NewUserObject(typeName string) *UserObject {
	return &UserObject{BaseObject: NewBaseObject(), TypeName: typeName}
}

func (o *UserObject) Invoke(st *State, nargs int) {
	invokeNotCallable(st, o, nargs)
}

func (o *UserObject) Clone(h *Heap) Reference {
	return o.CloneWith(h, make(CloneMemo))
}

func (o *UserObject) CloneWith(h *Heap, memo CloneMemo) Reference {
	if ref, ok := memo[o]; ok {
		return ref
	}
	slot := h.AllocNull()
	ref := NewReference(slot)
	memo[o] = ref
	clone := NewUserObject(o.TypeName)
	*slot = clone
	o.cloneFieldsInto(h, clone, memo)
	return ref
}

func (o *UserObject) String() string     { return fmt.Sprintf("<%s>", o.TypeName) }
func (o *UserObject) TypeString() string { return o.TypeName }

// invokeNotCallable pops the supplied arguments and raises NotCallable.
func invokeNotCallable(st *State, obj Object, nargs int) {
	for i := 0; i < nargs; i++ {
		st.Pop()
	}
	st.HandleException(&NotCallableError{TypeName: obj.TypeString()})
}
