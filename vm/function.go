package vm

import "fmt"

// ---------------------------------------------------------------------------
// Function objects
// ---------------------------------------------------------------------------

// FuncObject is a callable value: a bytecode address, a declared arity and
// a variadic flag.
type FuncObject struct {
	BaseObject
	Address  uint64
	NumArgs  int
	Variadic bool
}

// NewFunc creates a function object.
func NewFunc(address uint64, nargs int, variadic bool) *FuncObject {
	return &FuncObject{BaseObject: NewBaseObject(), Address: address, NumArgs: nargs, Variadic: variadic}
}

// Invoke implements call semantics. On arity mismatch the supplied
// operands are popped and InvalidArgs is raised through the VM. Otherwise
// the current stream position is saved on the call stack, the read level
// is incremented, and instructions execute from the function's address
// until its return opcode pops the saved position back.
func (f *FuncObject) Invoke(st *State, nargs int) {
	if nargs != f.NumArgs && !(f.Variadic && nargs > f.NumArgs) {
		for i := 0; i < nargs; i++ {
			st.Pop()
		}
		st.HandleException(&InvalidArgsError{Expected: f.NumArgs, Got: nargs})
		return
	}

	// arguments were pushed right to left, so popping yields them in
	// declaration order
	locals := make([]Reference, nargs)
	for i := 0; i < nargs; i++ {
		locals[i] = st.Pop()
	}

	st.PushFrame(Frame{ReturnPos: st.Stream.Position(), Locals: locals})
	st.ReadLevel++
	depth := len(st.Frames)

	st.Stream.Seek(f.Address)
	for st.Stream.Position() < st.Stream.Size() && !st.Halted {
		op := st.Stream.ReadOpcode()
		if op == OpReturn {
			frame := st.PopFrame()
			st.Stream.Seek(frame.ReturnPos)
			st.VM.log.Debugf("returning to position %d", frame.ReturnPos)
			break
		}
		st.VM.HandleInstruction(op)
		if len(st.Frames) < depth {
			// an exception unwound past this activation
			break
		}
	}

	st.ReadLevel--
}

func (f *FuncObject) Clone(h *Heap) Reference {
	return f.CloneWith(h, make(CloneMemo))
}

func (f *FuncObject) CloneWith(h *Heap, memo CloneMemo) Reference {
	if ref, ok := memo[f]; ok {
		return ref
	}
	slot := h.AllocNull()
	ref := NewReference(slot)
	memo[f] = ref
	clone := NewFunc(f.Address, f.NumArgs, f.Variadic)
	*slot = clone
	f.cloneFieldsInto(h, clone, memo)
	return ref
}

func (f *FuncObject) String() string {
	return fmt.Sprintf("<%s>", f.TypeString())
}

func (f *FuncObject) TypeString() string {
	return "func"
}
