package vm

import (
	"errors"
	"testing"
)

// buildCallProgram assembles a function body followed by top-level code.
func buildCallProgram(pushArgs []int64, fnArity int) ([]byte, uint64) {
	b := NewBuilder()

	// function: return arg0 + 1
	fnAddr := b.Pos()
	b.Emit(OpLoadLocal)
	b.EmitU8(0)
	b.Emit(OpPushInt)
	b.EmitI64(1)
	b.Emit(OpAdd)
	b.Emit(OpReturn)

	entry := b.Pos()
	for i := len(pushArgs) - 1; i >= 0; i-- {
		b.Emit(OpPushInt)
		b.EmitI64(pushArgs[i])
	}
	b.Emit(OpPushFunc)
	b.EmitU32(uint32(fnAddr))
	b.EmitU8(uint8(fnArity))
	b.EmitU8(0)
	b.Emit(OpCall)
	b.EmitU8(uint8(len(pushArgs)))

	return b.Bytes(), entry
}

func TestFunc_InvokeReturnsValue(t *testing.T) {
	code, entry := buildCallProgram([]int64{41}, 1)

	machine := NewVM()
	if err := machine.Run(code, entry); err != nil {
		t.Fatalf("run: %v", err)
	}

	st := machine.State()
	if len(st.OperandStack) != 1 {
		t.Fatalf("expected the return value on the stack, got %d entries", len(st.OperandStack))
	}
	result, ok := st.OperandStack[0].Object().(*IntObject)
	if !ok || result.Value != 42 {
		t.Errorf("expected 42, got %v", st.OperandStack[0].Object())
	}
	if len(st.Frames) != 0 {
		t.Errorf("call stack must be empty after return, got %d frames", len(st.Frames))
	}
}

func TestFunc_ArityMismatchRaisesInvalidArgs(t *testing.T) {
	// declared arity 2, called with 1
	code, entry := buildCallProgram([]int64{41}, 2)

	machine := NewVM()
	err := machine.Run(code, entry)

	var invalid *InvalidArgsError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidArgs, got %v", err)
	}
	if invalid.Expected != 2 || invalid.Got != 1 {
		t.Errorf("expected InvalidArgs(2, 1), got (%d, %d)", invalid.Expected, invalid.Got)
	}

	// the supplied operand was popped before raising
	if got := len(machine.State().OperandStack); got != 0 {
		t.Errorf("expected the argument popped, %d left", got)
	}
}

func TestFunc_NestedCalls(t *testing.T) {
	b := NewBuilder()

	// inner: return arg0 * 2
	innerAddr := b.Pos()
	b.Emit(OpLoadLocal)
	b.EmitU8(0)
	b.Emit(OpPushInt)
	b.EmitI64(2)
	b.Emit(OpMul)
	b.Emit(OpReturn)

	// outer: return inner(arg0) + 1
	outerAddr := b.Pos()
	b.Emit(OpLoadLocal)
	b.EmitU8(0)
	b.Emit(OpLoadGlobal)
	b.EmitU16(0)
	b.Emit(OpCall)
	b.EmitU8(1)
	b.Emit(OpPushInt)
	b.EmitI64(1)
	b.Emit(OpAdd)
	b.Emit(OpReturn)

	entry := b.Pos()
	b.Emit(OpPushInt)
	b.EmitI64(20)
	b.Emit(OpLoadGlobal)
	b.EmitU16(1)
	b.Emit(OpCall)
	b.EmitU8(1)

	machine := NewVM()
	machine.Globals = []Reference{
		machine.Heap.Alloc(NewFunc(innerAddr, 1, false)),
		machine.Heap.Alloc(NewFunc(outerAddr, 1, false)),
	}
	if err := machine.Run(b.Bytes(), entry); err != nil {
		t.Fatalf("run: %v", err)
	}

	st := machine.State()
	result, ok := st.OperandStack[len(st.OperandStack)-1].Object().(*IntObject)
	if !ok || result.Value != 41 {
		t.Errorf("expected 41, got %v", result)
	}
}

func TestFunc_NotCallableValues(t *testing.T) {
	b := NewBuilder()
	b.Emit(OpPushInt)
	b.EmitI64(5)
	b.Emit(OpCall)
	b.EmitU8(0)

	machine := NewVM()
	err := machine.Run(b.Bytes(), 0)

	var notCallable *NotCallableError
	if !errors.As(err, &notCallable) {
		t.Fatalf("expected NotCallable, got %v", err)
	}
	if notCallable.TypeName != "int" {
		t.Errorf("expected type 'int', got %q", notCallable.TypeName)
	}
}

func TestFunc_VariadicAcceptsExtraArgs(t *testing.T) {
	b := NewBuilder()

	fnAddr := b.Pos()
	b.Emit(OpLoadLocal)
	b.EmitU8(0)
	b.Emit(OpReturn)

	entry := b.Pos()
	b.Emit(OpPushInt)
	b.EmitI64(2)
	b.Emit(OpPushInt)
	b.EmitI64(1)
	b.Emit(OpPushFunc)
	b.EmitU32(uint32(fnAddr))
	b.EmitU8(1)
	b.EmitU8(1) // variadic
	b.Emit(OpCall)
	b.EmitU8(2)

	machine := NewVM()
	if err := machine.Run(b.Bytes(), entry); err != nil {
		t.Fatalf("run: %v", err)
	}
	st := machine.State()
	result, ok := st.OperandStack[len(st.OperandStack)-1].Object().(*IntObject)
	if !ok || result.Value != 1 {
		t.Errorf("expected first argument 1, got %v", result)
	}
}
