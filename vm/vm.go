package vm

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// VM: single-threaded bytecode interpreter
// ---------------------------------------------------------------------------

// Frame is one call-stack entry: the saved instruction-stream position and
// the activation's local slots.
type Frame struct {
	ReturnPos uint64
	Locals    []Reference
}

// tryFrame records an installed try handler: where to resume and how deep
// the operand and call stacks were when it was installed.
type tryFrame struct {
	CatchPos   uint64
	StackDepth int
	FrameDepth int
}

// State is the mutable execution state: the instruction stream, the
// operand stack, the call stack and the current read level. It has no
// synchronization; user code runs on a single thread.
type State struct {
	VM           *VM
	Stream       *Stream
	OperandStack []Reference
	Frames       []Frame
	ReadLevel    int
	Halted       bool
	LastError    error

	tryFrames []tryFrame
}

// Push pushes a reference onto the operand stack.
func (st *State) Push(ref Reference) {
	st.OperandStack = append(st.OperandStack, ref)
}

// Pop pops the top reference. Popping an empty stack returns the null
// reference and halts with an internal error.
func (st *State) Pop() Reference {
	if len(st.OperandStack) == 0 {
		st.VM.log.Error("operand stack underflow")
		st.Halted = true
		return Reference{}
	}
	ref := st.OperandStack[len(st.OperandStack)-1]
	st.OperandStack = st.OperandStack[:len(st.OperandStack)-1]
	return ref
}

// PushFrame pushes a call-stack entry.
func (st *State) PushFrame(frame Frame) {
	st.Frames = append(st.Frames, frame)
}

// PopFrame pops the newest call-stack entry.
func (st *State) PopFrame() Frame {
	frame := st.Frames[len(st.Frames)-1]
	st.Frames = st.Frames[:len(st.Frames)-1]
	return frame
}

// CurrentFrame returns the newest call-stack entry, or nil at top level.
func (st *State) CurrentFrame() *Frame {
	if len(st.Frames) == 0 {
		return nil
	}
	return &st.Frames[len(st.Frames)-1]
}

// HandleException unwinds to the nearest enclosing try handler. With no
// handler installed the error is recorded and execution halts.
func (st *State) HandleException(err error) {
	if len(st.tryFrames) > 0 {
		tf := st.tryFrames[len(st.tryFrames)-1]
		st.tryFrames = st.tryFrames[:len(st.tryFrames)-1]

		st.Frames = st.Frames[:tf.FrameDepth]
		st.OperandStack = st.OperandStack[:tf.StackDepth]
		st.Push(st.VM.Heap.Alloc(NewString(err.Error())))
		st.Stream.Seek(tf.CatchPos)

		st.VM.log.Debugf("exception caught: %s", err)
		return
	}

	st.VM.log.Errorf("unhandled exception: %s", err)
	st.LastError = err
	st.Halted = true
}

// VM executes bytecode against a managed heap.
type VM struct {
	Heap    *Heap
	Globals []Reference
	Stdout  io.Writer

	state *State
	log   commonlog.Logger
}

// NewVM creates a VM with an empty heap, printing to stdout.
func NewVM() *VM {
	return &VM{
		Heap:   NewHeap(),
		Stdout: os.Stdout,
		log:    commonlog.GetLogger("ash.vm"),
	}
}

// State returns the current execution state, or nil before Run.
func (vm *VM) State() *State {
	return vm.state
}

// Run executes the given bytecode starting at entry. It returns the
// unhandled runtime error, if any.
func (vm *VM) Run(code []byte, entry uint64) error {
	st := &State{VM: vm, Stream: NewStream(code)}
	vm.state = st
	st.Stream.Seek(entry)

	for !st.Halted && st.Stream.Position() < st.Stream.Size() {
		op := st.Stream.ReadOpcode()
		if op == OpHalt {
			break
		}
		vm.HandleInstruction(op)
	}

	return st.LastError
}

// Collect marks every object reachable from the VM's roots (the operand
// stack, the call stack's locals and the globals), then sweeps the heap.
// Sweep does not begin until every root has been marked.
func (vm *VM) Collect() SweepStats {
	if st := vm.state; st != nil {
		for _, ref := range st.OperandStack {
			markRoot(ref)
		}
		for i := range st.Frames {
			for _, ref := range st.Frames[i].Locals {
				markRoot(ref)
			}
		}
	}
	for _, ref := range vm.Globals {
		markRoot(ref)
	}

	stats := vm.Heap.Sweep()
	vm.log.Debugf("collected %d objects, %d live", stats.Swept, stats.Live)
	return stats
}

func markRoot(ref Reference) {
	if obj := ref.Object(); obj != nil {
		obj.Base().Mark()
	}
}

// HandleInstruction executes one instruction; operands are read from the
// current stream position.
func (vm *VM) HandleInstruction(op Opcode) {
	st := vm.state

	switch op {
	case OpNop:
		// nothing

	case OpPop:
		st.Pop()

	case OpDup:
		ref := st.Pop()
		st.Push(ref)
		st.Push(ref)

	case OpPushNull:
		st.Push(Reference{})

	case OpPushTrue:
		st.Push(vm.Heap.Alloc(NewBool(true)))

	case OpPushFalse:
		st.Push(vm.Heap.Alloc(NewBool(false)))

	case OpPushInt:
		st.Push(vm.Heap.Alloc(NewInt(st.Stream.ReadI64())))

	case OpPushFloat:
		st.Push(vm.Heap.Alloc(NewFloat(st.Stream.ReadF64())))

	case OpPushString:
		st.Push(vm.Heap.Alloc(NewString(st.Stream.ReadString())))

	case OpPushFunc:
		addr := uint64(st.Stream.ReadU32())
		nargs := int(st.Stream.ReadU8())
		variadic := st.Stream.ReadU8() != 0
		st.Push(vm.Heap.Alloc(NewFunc(addr, nargs, variadic)))

	case OpLoadGlobal:
		idx := int(st.Stream.ReadU16())
		if idx < len(vm.Globals) {
			st.Push(vm.Globals[idx])
		} else {
			st.Push(Reference{})
		}

	case OpStoreGlobal:
		idx := int(st.Stream.ReadU16())
		for len(vm.Globals) <= idx {
			vm.Globals = append(vm.Globals, Reference{})
		}
		vm.Globals[idx] = st.Pop()

	case OpLoadLocal:
		idx := int(st.Stream.ReadU8())
		frame := st.CurrentFrame()
		if frame == nil || idx >= len(frame.Locals) {
			st.Push(Reference{})
		} else {
			st.Push(frame.Locals[idx])
		}

	case OpStoreLocal:
		idx := int(st.Stream.ReadU8())
		frame := st.CurrentFrame()
		value := st.Pop()
		if frame == nil {
			return
		}
		for len(frame.Locals) <= idx {
			frame.Locals = append(frame.Locals, Reference{})
		}
		frame.Locals[idx] = value

	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		vm.binaryArith(op)

	case OpNeg:
		ref := st.Pop()
		switch obj := ref.Object().(type) {
		case *IntObject:
			st.Push(vm.Heap.Alloc(NewInt(-obj.Value)))
		case *FloatObject:
			st.Push(vm.Heap.Alloc(NewFloat(-obj.Value)))
		default:
			st.HandleException(&TypeError{Op: "neg", TypeName: typeName(ref)})
		}

	case OpNot:
		ref := st.Pop()
		st.Push(vm.Heap.Alloc(NewBool(!truthy(ref))))

	case OpEq, OpNe, OpLt, OpGt, OpLe, OpGe:
		vm.binaryCompare(op)

	case OpJump:
		st.Stream.Seek(uint64(st.Stream.ReadU32()))

	case OpJumpIfFalse:
		target := uint64(st.Stream.ReadU32())
		if !truthy(st.Pop()) {
			st.Stream.Seek(target)
		}

	case OpCall:
		nargs := int(st.Stream.ReadU8())
		callee := st.Pop()
		obj := callee.Object()
		if obj == nil {
			for i := 0; i < nargs; i++ {
				st.Pop()
			}
			st.HandleException(&NotCallableError{TypeName: "null"})
			return
		}
		obj.Invoke(st, nargs)

	case OpReturn:
		// inside a function this opcode is consumed by Invoke's read loop;
		// at top level it ends the program
		if len(st.Frames) == 0 {
			st.Halted = true
		}

	case OpTryBegin:
		catchPos := uint64(st.Stream.ReadU32())
		st.tryFrames = append(st.tryFrames, tryFrame{
			CatchPos:   catchPos,
			StackDepth: len(st.OperandStack),
			FrameDepth: len(st.Frames),
		})

	case OpTryEnd:
		if len(st.tryFrames) > 0 {
			st.tryFrames = st.tryFrames[:len(st.tryFrames)-1]
		}

	case OpThrow:
		ref := st.Pop()
		st.HandleException(&ThrownError{Message: stringify(ref)})

	case OpPrint:
		argc := int(st.Stream.ReadU8())
		parts := make([]string, 0, argc)
		for i := 0; i < argc; i++ {
			parts = append(parts, stringify(st.Pop()))
		}
		fmt.Fprintln(vm.Stdout, strings.Join(parts, " "))

	case OpHalt:
		st.Halted = true

	default:
		st.HandleException(&ThrownError{Message: fmt.Sprintf("illegal instruction %s", op)})
	}
}

// ---------------------------------------------------------------------------
// Operator helpers
// ---------------------------------------------------------------------------

func (vm *VM) binaryArith(op Opcode) {
	st := vm.state
	right := st.Pop()
	left := st.Pop()

	if ls, ok := left.Object().(*StringObject); ok && op == OpAdd {
		if rs, ok := right.Object().(*StringObject); ok {
			st.Push(vm.Heap.Alloc(NewString(ls.Value + rs.Value)))
			return
		}
	}

	li, lInt := left.Object().(*IntObject)
	ri, rInt := right.Object().(*IntObject)
	if lInt && rInt {
		result, err := intArith(op, li.Value, ri.Value)
		if err != nil {
			st.HandleException(err)
			return
		}
		st.Push(vm.Heap.Alloc(NewInt(result)))
		return
	}

	lf, lOk := floatOperand(left)
	rf, rOk := floatOperand(right)
	if lOk && rOk {
		result, err := floatArith(op, lf, rf)
		if err != nil {
			st.HandleException(err)
			return
		}
		st.Push(vm.Heap.Alloc(NewFloat(result)))
		return
	}

	bad := left
	if lOk {
		bad = right
	}
	st.HandleException(&TypeError{Op: op.String(), TypeName: typeName(bad)})
}

func intArith(op Opcode, left, right int64) (int64, error) {
	switch op {
	case OpAdd:
		return left + right, nil
	case OpSub:
		return left - right, nil
	case OpMul:
		return left * right, nil
	case OpDiv:
		if right == 0 {
			return 0, &ThrownError{Message: "division by zero"}
		}
		return left / right, nil
	case OpMod:
		if right == 0 {
			return 0, &ThrownError{Message: "division by zero"}
		}
		return left % right, nil
	}
	return 0, &ThrownError{Message: fmt.Sprintf("illegal instruction %s", op)}
}

func floatArith(op Opcode, left, right float64) (float64, error) {
	switch op {
	case OpAdd:
		return left + right, nil
	case OpSub:
		return left - right, nil
	case OpMul:
		return left * right, nil
	case OpDiv:
		if right == 0 {
			return 0, &ThrownError{Message: "division by zero"}
		}
		return left / right, nil
	}
	return 0, &TypeError{Op: op.String(), TypeName: "float"}
}

func (vm *VM) binaryCompare(op Opcode) {
	st := vm.state
	right := st.Pop()
	left := st.Pop()

	switch op {
	case OpEq:
		st.Push(vm.Heap.Alloc(NewBool(objectsEqual(left, right))))
		return
	case OpNe:
		st.Push(vm.Heap.Alloc(NewBool(!objectsEqual(left, right))))
		return
	}

	if ls, ok := left.Object().(*StringObject); ok {
		if rs, ok := right.Object().(*StringObject); ok {
			st.Push(vm.Heap.Alloc(NewBool(stringCompare(op, ls.Value, rs.Value))))
			return
		}
	}

	lf, lOk := floatOperand(left)
	rf, rOk := floatOperand(right)
	if lOk && rOk {
		st.Push(vm.Heap.Alloc(NewBool(floatCompare(op, lf, rf))))
		return
	}

	st.HandleException(&TypeError{Op: op.String(), TypeName: typeName(left)})
}

func floatCompare(op Opcode, left, right float64) bool {
	switch op {
	case OpLt:
		return left < right
	case OpGt:
		return left > right
	case OpLe:
		return left <= right
	case OpGe:
		return left >= right
	}
	return false
}

func stringCompare(op Opcode, left, right string) bool {
	switch op {
	case OpLt:
		return left < right
	case OpGt:
		return left > right
	case OpLe:
		return left <= right
	case OpGe:
		return left >= right
	}
	return false
}

func objectsEqual(left, right Reference) bool {
	lo, ro := left.Object(), right.Object()
	if lo == nil || ro == nil {
		return lo == nil && ro == nil
	}

	lf, lOk := floatOperand(left)
	rf, rOk := floatOperand(right)
	if lOk && rOk {
		return lf == rf
	}

	switch l := lo.(type) {
	case *StringObject:
		r, ok := ro.(*StringObject)
		return ok && l.Value == r.Value
	case *BoolObject:
		r, ok := ro.(*BoolObject)
		return ok && l.Value == r.Value
	}
	return lo == ro
}

func floatOperand(ref Reference) (float64, bool) {
	switch obj := ref.Object().(type) {
	case *IntObject:
		return float64(obj.Value), true
	case *FloatObject:
		return obj.Value, true
	}
	return 0, false
}

// truthy reports how a value behaves in conditionals: null and false are
// falsy, everything else is truthy.
func truthy(ref Reference) bool {
	switch obj := ref.Object().(type) {
	case nil:
		return false
	case *BoolObject:
		return obj.Value
	}
	return true
}

func typeName(ref Reference) string {
	if obj := ref.Object(); obj != nil {
		return obj.TypeString()
	}
	return "null"
}

func stringify(ref Reference) string {
	if obj := ref.Object(); obj != nil {
		return obj.String()
	}
	return "null"
}
