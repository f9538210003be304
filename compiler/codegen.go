package compiler

import (
	"errors"
	"fmt"

	"github.com/ashlang/ash/vm"
)

// ---------------------------------------------------------------------------
// Codegen: bytecode emission for analyzed modules
// ---------------------------------------------------------------------------

// CompiledFunction describes one emitted function body.
type CompiledFunction struct {
	Name        string
	Address     uint64
	NumArgs     int
	GlobalIndex int
}

// CompiledProgram is the output of code generation: the bytecode, the
// entry offset of the top-level code and the function directory. Before
// running, each function's object must be installed at its global index.
type CompiledProgram struct {
	Code      []byte
	Entry     uint64
	Functions []CompiledFunction
}

// Install allocates the program's function objects on the VM's heap and
// stores them into their global slots.
func (p *CompiledProgram) Install(machine *vm.VM) {
	for _, fn := range p.Functions {
		ref := machine.Heap.Alloc(vm.NewFunc(fn.Address, fn.NumArgs, false))
		for len(machine.Globals) <= fn.GlobalIndex {
			machine.Globals = append(machine.Globals, vm.Reference{})
		}
		machine.Globals[fn.GlobalIndex] = ref
	}
}

// funcContext tracks local slot assignment while emitting one function
// body.
type funcContext struct {
	nextLocal int
}

// Codegen emits bytecode for a module that has passed semantic analysis.
// The analyzer must have run on the same CompilerState: the global level's
// surviving locals provide the global slot assignment.
type Codegen struct {
	state *CompilerState
	b     *vm.Builder

	globalSlots map[AstNode]int // declaration node -> global slot
	localSlots  map[AstNode]int // declaration node -> frame local slot
	functions   []CompiledFunction
	fnAddrs     map[AstNode]int // function definition -> global slot
	nextGlobal  int
	ctx         *funcContext
	errs        []error
}

// NewCodegen creates a code generator over the analyzer's state.
func NewCodegen(state *CompilerState) *Codegen {
	return &Codegen{
		state:       state,
		b:           vm.NewBuilder(),
		globalSlots: make(map[AstNode]int),
		localSlots:  make(map[AstNode]int),
		fnAddrs:     make(map[AstNode]int),
	}
}

// Compile emits bytecode for the module's top-level code and every named
// function defined in it.
func (cg *Codegen) Compile(unit *AstModule) (*CompiledProgram, error) {
	// global slot assignment comes from the analyzer's symbol table
	for _, local := range cg.state.Levels[GlobalLevel].Locals {
		if local.Symbol.Node != nil {
			cg.globalSlots[local.Symbol.Node] = local.Symbol.FieldIndex
		}
		if local.Symbol.FieldIndex >= cg.nextGlobal {
			cg.nextGlobal = local.Symbol.FieldIndex + 1
		}
	}

	// function bodies come first; top-level code follows them
	for _, child := range unit.Children {
		if def, ok := child.(*AstFunctionDefinition); ok {
			cg.compileFunctionDefinition(def)
		}
	}

	entry := cg.b.Pos()
	for _, child := range unit.Children {
		if _, ok := child.(*AstFunctionDefinition); ok {
			continue
		}
		cg.compileStatement(child)
	}
	cg.b.Emit(vm.OpHalt)

	if len(cg.errs) > 0 {
		return nil, errors.Join(cg.errs...)
	}
	return &CompiledProgram{
		Code:      cg.b.Bytes(),
		Entry:     entry,
		Functions: cg.functions,
	}, nil
}

func (cg *Codegen) errorf(node AstNode, format string, args ...interface{}) {
	loc := UnknownLocation
	if node != nil {
		loc = node.Location()
	}
	cg.errs = append(cg.errs, fmt.Errorf("%s: %s", loc, fmt.Sprintf(format, args...)))
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

func (cg *Codegen) compileFunctionDefinition(def *AstFunctionDefinition) {
	slot, ok := cg.globalSlots[def]
	if !ok {
		// definitions the analyzer did not declare (a rejected redeclaration) get no runtime object
		return
	}

	addr := cg.b.Pos()
	cg.compileFunctionBody(def.Block, len(def.Arguments))

	cg.functions = append(cg.functions, CompiledFunction{
		Name:        def.Name,
		Address:     addr,
		NumArgs:     len(def.Arguments),
		GlobalIndex: slot,
	})
	cg.fnAddrs[def] = slot
}

func (cg *Codegen) compileFunctionBody(block AstNode, nparams int) {
	outer := cg.ctx
	cg.ctx = &funcContext{nextLocal: nparams}

	body, ok := block.(*AstBlock)
	if !ok {
		cg.errorf(block, "malformed function body")
	} else {
		for _, stmt := range body.Children {
			cg.compileStatement(stmt)
		}
	}

	cg.ctx = outer
}

func (cg *Codegen) compileFunctionExpression(node *AstFunctionExpression) {
	cg.b.Emit(vm.OpJump)
	patch := cg.b.Pos()
	cg.b.EmitU32(0)

	addr := cg.b.Pos()
	cg.compileFunctionBody(node.Block, len(node.Arguments))

	cg.b.PatchU32(patch, uint32(cg.b.Pos()))

	cg.b.Emit(vm.OpPushFunc)
	cg.b.EmitU32(uint32(addr))
	cg.b.EmitU8(uint8(len(node.Arguments)))
	cg.b.EmitU8(0)
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (cg *Codegen) compileStatement(node AstNode) {
	switch n := node.(type) {
	case nil:
		return
	case *AstStatement:
		// no-op
	case *AstImports, *AstImport, *AstUseModule, *AstClass, *AstEnum:
		// no runtime representation at this level
	case *AstBlock:
		for _, stmt := range n.Children {
			cg.compileStatement(stmt)
		}
	case *AstVariableDeclaration:
		cg.compileVariableDeclaration(n)
	case *AstAlias:
		// aliases resolve to their target's storage; nothing is emitted
	case *AstFunctionDefinition:
		cg.errorf(n, "nested function definitions are not supported by codegen")
	case *AstPrintStmt:
		for i := len(n.Arguments) - 1; i >= 0; i-- {
			cg.compileExpression(n.Arguments[i])
		}
		cg.b.Emit(vm.OpPrint)
		cg.b.EmitU8(uint8(len(n.Arguments)))
	case *AstReturnStmt:
		cg.compileExpression(n.Value)
		cg.b.Emit(vm.OpReturn)
	case *AstIfStmt:
		cg.compileIf(n)
	case *AstWhileLoop:
		cg.compileWhile(n)
	case *AstForLoop:
		cg.compileFor(n)
	case *AstTryCatch:
		cg.compileTryCatch(n)
	case *AstExpression:
		cg.compileStatement(n.Child)
	case *AstBinaryOp:
		if n.Op.IsAssignment() {
			cg.compileAssignment(n)
			return
		}
		cg.compileExpression(n)
		cg.b.Emit(vm.OpPop)
	default:
		cg.compileExpression(node)
		cg.b.Emit(vm.OpPop)
	}
}

func (cg *Codegen) compileVariableDeclaration(node *AstVariableDeclaration) {
	cg.compileExpression(node.Assignment)
	cg.storeDeclaration(node)
}

// storeDeclaration emits the store for a declaration node, assigning a
// slot on first sight. Inside a function the slot is a frame local; at top
// level it is a global.
func (cg *Codegen) storeDeclaration(node AstNode) {
	if cg.ctx != nil {
		slot, ok := cg.localSlots[node]
		if !ok {
			slot = cg.ctx.nextLocal
			cg.ctx.nextLocal++
			cg.localSlots[node] = slot
		}
		cg.b.Emit(vm.OpStoreLocal)
		cg.b.EmitU8(uint8(slot))
		return
	}

	slot, ok := cg.globalSlots[node]
	if !ok {
		slot = cg.nextGlobal
		cg.nextGlobal++
		cg.globalSlots[node] = slot
	}
	cg.b.Emit(vm.OpStoreGlobal)
	cg.b.EmitU16(uint16(slot))
}

func (cg *Codegen) compileAssignment(node *AstBinaryOp) {
	v, ok := unwrapVariable(node.Left)
	if !ok {
		cg.errorf(node.Left, "assignment target not supported by codegen")
		return
	}

	if node.Op == BinOpAssign {
		cg.compileExpression(node.Right)
	} else {
		cg.compileVariable(v)
		cg.compileExpression(node.Right)
		switch node.Op {
		case BinOpAddAssign:
			cg.b.Emit(vm.OpAdd)
		case BinOpSubtractAssign:
			cg.b.Emit(vm.OpSub)
		case BinOpMultiplyAssign:
			cg.b.Emit(vm.OpMul)
		case BinOpDivideAssign:
			cg.b.Emit(vm.OpDiv)
		}
	}

	cg.storeVariable(v)
}

func (cg *Codegen) storeVariable(v *AstVariable) {
	sym := v.SymbolPtr
	if sym == nil {
		cg.errorf(v, "unresolved variable '%s'", v.Name)
		return
	}

	if sym.OwnerLevel == GlobalLevel {
		slot, ok := cg.globalSlots[sym.Node]
		if !ok {
			cg.errorf(v, "no storage for '%s'", v.Name)
			return
		}
		cg.b.Emit(vm.OpStoreGlobal)
		cg.b.EmitU16(uint16(slot))
		return
	}

	if sym.Node == nil {
		// parameter
		cg.b.Emit(vm.OpStoreLocal)
		cg.b.EmitU8(uint8(sym.FieldIndex))
		return
	}

	if cg.ctx != nil {
		slot, ok := cg.localSlots[sym.Node]
		if !ok {
			cg.errorf(v, "no storage for '%s'", v.Name)
			return
		}
		cg.b.Emit(vm.OpStoreLocal)
		cg.b.EmitU8(uint8(slot))
		return
	}

	// a nested top-level scope: the declaration was given an extra global
	slot, ok := cg.globalSlots[sym.Node]
	if !ok {
		cg.errorf(v, "no storage for '%s'", v.Name)
		return
	}
	cg.b.Emit(vm.OpStoreGlobal)
	cg.b.EmitU16(uint16(slot))
}

func (cg *Codegen) compileIf(node *AstIfStmt) {
	cg.compileExpression(node.Conditional)

	cg.b.Emit(vm.OpJumpIfFalse)
	elsePatch := cg.b.Pos()
	cg.b.EmitU32(0)

	cg.compileStatement(node.Block)

	if node.ElseStatement != nil {
		cg.b.Emit(vm.OpJump)
		endPatch := cg.b.Pos()
		cg.b.EmitU32(0)

		cg.b.PatchU32(elsePatch, uint32(cg.b.Pos()))
		cg.compileStatement(node.ElseStatement)
		cg.b.PatchU32(endPatch, uint32(cg.b.Pos()))
		return
	}

	cg.b.PatchU32(elsePatch, uint32(cg.b.Pos()))
}

func (cg *Codegen) compileWhile(node *AstWhileLoop) {
	start := cg.b.Pos()
	cg.compileExpression(node.Conditional)

	cg.b.Emit(vm.OpJumpIfFalse)
	endPatch := cg.b.Pos()
	cg.b.EmitU32(0)

	cg.compileStatement(node.Block)
	cg.b.Emit(vm.OpJump)
	cg.b.EmitU32(uint32(start))

	cg.b.PatchU32(endPatch, uint32(cg.b.Pos()))
}

func (cg *Codegen) compileFor(node *AstForLoop) {
	cg.compileStatement(node.Initializer)

	start := cg.b.Pos()
	cg.compileExpression(node.Conditional)

	cg.b.Emit(vm.OpJumpIfFalse)
	endPatch := cg.b.Pos()
	cg.b.EmitU32(0)

	cg.compileStatement(node.Block)
	if node.Afterthought != nil {
		cg.compileStatement(node.Afterthought)
	}
	cg.b.Emit(vm.OpJump)
	cg.b.EmitU32(uint32(start))

	cg.b.PatchU32(endPatch, uint32(cg.b.Pos()))
}

func (cg *Codegen) compileTryCatch(node *AstTryCatch) {
	cg.b.Emit(vm.OpTryBegin)
	catchPatch := cg.b.Pos()
	cg.b.EmitU32(0)

	cg.compileStatement(node.TryBlock)
	cg.b.Emit(vm.OpTryEnd)
	cg.b.Emit(vm.OpJump)
	endPatch := cg.b.Pos()
	cg.b.EmitU32(0)

	// the handler entry: the raised value is on the stack
	cg.b.PatchU32(catchPatch, uint32(cg.b.Pos()))
	if decl, ok := node.ExceptionObject.(*AstVariableDeclaration); ok {
		cg.storeDeclaration(decl)
	} else {
		cg.b.Emit(vm.OpPop)
	}
	cg.compileStatement(node.CatchBlock)

	cg.b.PatchU32(endPatch, uint32(cg.b.Pos()))
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (cg *Codegen) compileExpression(node AstNode) {
	switch n := node.(type) {
	case nil:
		cg.b.Emit(vm.OpPushNull)
	case *AstExpression:
		cg.compileExpression(n.Child)
	case *AstInteger:
		cg.b.Emit(vm.OpPushInt)
		cg.b.EmitI64(n.Value)
	case *AstFloat:
		cg.b.Emit(vm.OpPushFloat)
		cg.b.EmitF64(n.Value)
	case *AstString:
		cg.b.Emit(vm.OpPushString)
		cg.b.EmitString(n.Value)
	case *AstTrue:
		cg.b.Emit(vm.OpPushTrue)
	case *AstFalse:
		cg.b.Emit(vm.OpPushFalse)
	case *AstNull:
		cg.b.Emit(vm.OpPushNull)
	case *AstVariable:
		cg.compileVariable(n)
	case *AstUnaryOp:
		cg.compileExpression(n.Child)
		if n.Op == UnOpNegate {
			cg.b.Emit(vm.OpNeg)
		} else {
			cg.b.Emit(vm.OpNot)
		}
	case *AstBinaryOp:
		cg.compileBinaryOp(n)
	case *AstFunctionCall:
		cg.compileCall(n)
	case *AstFunctionExpression:
		cg.compileFunctionExpression(n)
	default:
		cg.errorf(node, "expression %T not supported by codegen", node)
		cg.b.Emit(vm.OpPushNull)
	}
}

func (cg *Codegen) compileVariable(v *AstVariable) {
	// const literals are inlined when folding is enabled
	if cg.state.Options.ConstantFolding && v.IsConst && v.IsLiteral && v.CurrentValue != nil {
		value := v.CurrentValue
		if expr, ok := value.(*AstExpression); ok {
			value = expr.Child
		}
		if folded := Fold(value); folded != nil {
			value = folded
		}
		switch value.(type) {
		case *AstInteger, *AstFloat, *AstString:
			cg.compileExpression(value)
			return
		}
	}

	// enum members resolve to their constant value
	if v.IsAlias {
		if lit, ok := v.AliasTo.(*AstInteger); ok {
			cg.compileExpression(lit)
			return
		}
		if target, ok := v.AliasTo.(*AstVariable); ok {
			cg.compileVariable(target)
			return
		}
	}

	sym := v.SymbolPtr
	if sym == nil {
		cg.errorf(v, "unresolved variable '%s'", v.Name)
		cg.b.Emit(vm.OpPushNull)
		return
	}

	if sym.OwnerLevel == GlobalLevel {
		slot, ok := cg.globalSlots[sym.Node]
		if !ok {
			cg.errorf(v, "no storage for '%s'", v.Name)
			cg.b.Emit(vm.OpPushNull)
			return
		}
		cg.b.Emit(vm.OpLoadGlobal)
		cg.b.EmitU16(uint16(slot))
		return
	}

	if sym.Node == nil {
		cg.b.Emit(vm.OpLoadLocal)
		cg.b.EmitU8(uint8(sym.FieldIndex))
		return
	}

	if slot, ok := cg.localSlots[sym.Node]; ok && cg.ctx != nil {
		cg.b.Emit(vm.OpLoadLocal)
		cg.b.EmitU8(uint8(slot))
		return
	}

	if slot, ok := cg.globalSlots[sym.Node]; ok {
		cg.b.Emit(vm.OpLoadGlobal)
		cg.b.EmitU16(uint16(slot))
		return
	}

	cg.errorf(v, "no storage for '%s'", v.Name)
	cg.b.Emit(vm.OpPushNull)
}

func (cg *Codegen) compileBinaryOp(node *AstBinaryOp) {
	if node.Op.IsAssignment() {
		// assignment in value position stores, then reloads the target
		cg.compileAssignment(node)
		if v, ok := unwrapVariable(node.Left); ok {
			cg.compileVariable(v)
		} else {
			cg.b.Emit(vm.OpPushNull)
		}
		return
	}

	if cg.state.Options.ConstantFolding {
		if folded := Fold(node); folded != nil {
			cg.compileExpression(folded)
			return
		}
	}

	switch node.Op {
	case BinOpLogicalAnd:
		cg.compileExpression(node.Left)
		cg.b.Emit(vm.OpDup)
		cg.b.Emit(vm.OpJumpIfFalse)
		endPatch := cg.b.Pos()
		cg.b.EmitU32(0)
		cg.b.Emit(vm.OpPop)
		cg.compileExpression(node.Right)
		cg.b.PatchU32(endPatch, uint32(cg.b.Pos()))
		return
	case BinOpLogicalOr:
		cg.compileExpression(node.Left)
		cg.b.Emit(vm.OpDup)
		cg.b.Emit(vm.OpNot)
		cg.b.Emit(vm.OpJumpIfFalse)
		endPatch := cg.b.Pos()
		cg.b.EmitU32(0)
		cg.b.Emit(vm.OpPop)
		cg.compileExpression(node.Right)
		cg.b.PatchU32(endPatch, uint32(cg.b.Pos()))
		return
	}

	cg.compileExpression(node.Left)
	cg.compileExpression(node.Right)

	switch node.Op {
	case BinOpAdd:
		cg.b.Emit(vm.OpAdd)
	case BinOpSubtract:
		cg.b.Emit(vm.OpSub)
	case BinOpMultiply:
		cg.b.Emit(vm.OpMul)
	case BinOpDivide:
		cg.b.Emit(vm.OpDiv)
	case BinOpModulo:
		cg.b.Emit(vm.OpMod)
	case BinOpEqual:
		cg.b.Emit(vm.OpEq)
	case BinOpNotEqual:
		cg.b.Emit(vm.OpNe)
	case BinOpLess:
		cg.b.Emit(vm.OpLt)
	case BinOpGreater:
		cg.b.Emit(vm.OpGt)
	case BinOpLessEqual:
		cg.b.Emit(vm.OpLe)
	case BinOpGreaterEqual:
		cg.b.Emit(vm.OpGe)
	default:
		cg.errorf(node, "operator not supported by codegen")
	}
}

func (cg *Codegen) compileCall(node *AstFunctionCall) {
	// arguments push right to left, matching the analyzer's order
	for i := len(node.Arguments) - 1; i >= 0; i-- {
		cg.compileExpression(node.Arguments[i])
	}

	def := node.Definition
	if node.IsAlias && node.AliasTo != nil {
		def = node.AliasTo
	}
	slot, ok := cg.globalSlots[def]
	if !ok {
		if cg.ctx != nil {
			if local, lok := cg.localSlots[def]; lok {
				cg.b.Emit(vm.OpLoadLocal)
				cg.b.EmitU8(uint8(local))
				cg.b.Emit(vm.OpCall)
				cg.b.EmitU8(uint8(len(node.Arguments)))
				return
			}
		}
		cg.errorf(node, "callee '%s' not supported by codegen", node.Name)
		return
	}

	cg.b.Emit(vm.OpLoadGlobal)
	cg.b.EmitU16(uint16(slot))
	cg.b.Emit(vm.OpCall)
	cg.b.EmitU8(uint8(len(node.Arguments)))
}

func unwrapVariable(node AstNode) (*AstVariable, bool) {
	if expr, ok := node.(*AstExpression); ok {
		node = expr.Child
	}
	v, ok := node.(*AstVariable)
	return v, ok
}
