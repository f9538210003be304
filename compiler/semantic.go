package compiler

import (
	"fmt"
	"os"
)

// ---------------------------------------------------------------------------
// Semantic Analyzer: name resolution, scoping and structural validation
// ---------------------------------------------------------------------------

// SemanticAnalyzer performs a single pass over a module's AST. It populates
// the symbol table, resolves identifier references, inserts implicit
// returns, records use counts and accumulates diagnostics. It does not
// perform type inference.
type SemanticAnalyzer struct {
	state *CompilerState
}

// NewSemanticAnalyzer creates an analyzer over the given state.
func NewSemanticAnalyzer(state *CompilerState) *SemanticAnalyzer {
	return &SemanticAnalyzer{state: state}
}

// State returns the analyzer's compiler state.
func (a *SemanticAnalyzer) State() *CompilerState {
	return a.state
}

// Analyze visits all top-level children of the module, then sweeps the
// global level for unused identifiers and resets the per-pass counters.
// Scope levels above global are cleared; the global level's locals are kept
// so callers can inspect the result (CompilerState.Reset discards them).
func (a *SemanticAnalyzer) Analyze(unit *AstModule) {
	for _, child := range unit.Children {
		a.visit(child)
	}

	level := a.state.CurrentLevel()
	for _, local := range level.Locals {
		if local.Symbol.Node != nil && a.state.UseCount(local.Symbol.Node) == 0 {
			a.warnAt(DiagUnusedIdentifier, local.Symbol.Node.Location(),
				"'%s' is declared but never used", local.Symbol.OriginalName)
		}
	}

	a.state.BlockIDCounter = 0
	a.state.Level = GlobalLevel
	for i := GlobalLevel + 1; i < MaxScopeLevels; i++ {
		a.state.Levels[i] = LevelInfo{}
	}
}

// AddModule registers a native module and declares one symbol per native
// method at the current level.
func (a *SemanticAnalyzer) AddModule(def ModuleDefine) {
	unit := &AstModule{
		BaseNode: BaseNode{Loc: UnknownLocation},
		Name:     def.Name,
	}

	if a.state.FindModule(def.Name, nil) != nil {
		a.errorAt(DiagModuleAlreadyDefined, UnknownLocation,
			"module '%s' is already defined", def.Name)
		return
	}

	for _, meth := range def.Methods {
		mangled := a.state.MangleName(meth.Name, unit, a.state.Level)
		if a.state.CurrentLevel().Find(mangled) != nil {
			a.errorAt(DiagRedeclaredIdentifier, UnknownLocation,
				"'%s' has already been declared", meth.Name)
			return
		}

		level := a.state.CurrentLevel()
		sym := &Symbol{
			OriginalName: meth.Name,
			NumArgs:      meth.NumArgs,
			IsNative:     true,
			OwnerLevel:   a.state.Level,
			FieldIndex:   len(level.Locals),
		}
		level.Insert(mangled, sym)
	}

	a.state.Modules[def.Name] = unit
}

// ---------------------------------------------------------------------------
// Diagnostic helpers
// ---------------------------------------------------------------------------

func (a *SemanticAnalyzer) report(kind DiagKind, sev Severity, loc SourceLocation, format string, args ...interface{}) {
	a.state.Diagnostics = append(a.state.Diagnostics, Diagnostic{
		Kind:     kind,
		Severity: sev,
		Location: loc,
		Message:  fmt.Sprintf(format, args...),
	})
}

func (a *SemanticAnalyzer) errorAt(kind DiagKind, loc SourceLocation, format string, args ...interface{}) {
	a.report(kind, SeverityError, loc, format, args...)
}

func (a *SemanticAnalyzer) warnAt(kind DiagKind, loc SourceLocation, format string, args ...interface{}) {
	a.report(kind, SeverityWarning, loc, format, args...)
}

func (a *SemanticAnalyzer) infoAt(kind DiagKind, loc SourceLocation, format string, args ...interface{}) {
	a.report(kind, SeverityInfo, loc, format, args...)
}

// ---------------------------------------------------------------------------
// Scope stack
// ---------------------------------------------------------------------------

func (a *SemanticAnalyzer) increaseBlock(kind LevelKind) {
	s := a.state
	s.BlockIDCounter++
	if s.Level+1 >= MaxScopeLevels {
		a.errorAt(DiagInternalError, UnknownLocation, "scope nesting too deep")
		return
	}
	s.Level++
	s.Levels[s.Level] = LevelInfo{Kind: kind}
}

func (a *SemanticAnalyzer) decreaseBlock() {
	s := a.state
	if s.Level == GlobalLevel {
		return
	}

	level := s.CurrentLevel()
	for _, local := range level.Locals {
		if local.Symbol.Node != nil && s.UseCount(local.Symbol.Node) == 0 {
			a.warnAt(DiagUnusedIdentifier, local.Symbol.Node.Location(),
				"'%s' is declared but never used", local.Symbol.OriginalName)
		}
	}

	s.Levels[s.Level] = LevelInfo{}
	s.Level--
}

// ---------------------------------------------------------------------------
// Visitor dispatch
// ---------------------------------------------------------------------------

func (a *SemanticAnalyzer) visit(node AstNode) {
	if node == nil {
		return
	}

	switch n := node.(type) {
	case *AstModule:
		for _, child := range n.Children {
			a.visit(child)
		}
	case *AstImports:
		for _, child := range n.Children {
			a.visit(child)
		}
	case *AstImport:
		a.visitImport(n)
	case *AstStatement:
		// no-op statement
	case *AstBlock:
		a.visitBlock(n)
	case *AstExpression:
		a.visit(n.Child)
	case *AstBinaryOp:
		a.visitBinaryOp(n)
	case *AstUnaryOp:
		a.visit(n.Child)
	case *AstArrayAccess:
		a.visit(n.Object)
		a.visit(n.Index)
	case *AstMemberAccess:
		a.visitMemberAccess(n)
	case *AstModuleAccess:
		a.visitModuleAccess(n)
	case *AstVariableDeclaration:
		a.visitVariableDeclaration(n)
	case *AstAlias:
		a.visitAlias(n)
	case *AstUseModule:
		a.visitUseModule(n)
	case *AstVariable:
		a.visitVariable(n)
	case *AstInteger, *AstFloat, *AstString, *AstTrue, *AstFalse, *AstNull, *AstSelf, *AstRange:
		// literals need no analysis
	case *AstNew:
		a.visit(n.Target)
	case *AstFunctionDefinition:
		a.visitFunctionDefinition(n)
	case *AstFunctionExpression:
		a.visitFunctionExpression(n)
	case *AstFunctionCall:
		a.visitFunctionCall(n)
	case *AstClass:
		// class declarations carry no scope effects yet
	case *AstObjectExpression:
		for _, mem := range n.Members {
			a.visit(mem.Node)
		}
	case *AstEnum:
		a.visitEnum(n)
	case *AstPrintStmt:
		for _, arg := range n.Arguments {
			a.visit(arg)
		}
	case *AstReturnStmt:
		a.visitReturn(n)
	case *AstIfStmt:
		a.visitIf(n)
	case *AstForLoop:
		a.visitFor(n)
	case *AstWhileLoop:
		a.visitWhile(n)
	case *AstTryCatch:
		a.visitTryCatch(n)
	default:
		a.errorAt(DiagInternalError, node.Location(), "unhandled AST node %T", node)
	}
}

// ---------------------------------------------------------------------------
// Imports and modules
// ---------------------------------------------------------------------------

func (a *SemanticAnalyzer) visitImport(node *AstImport) {
	if a.state.Level != GlobalLevel {
		a.errorAt(DiagImportOutsideGlobal, node.Loc, "imports are only allowed at the global scope")
	}

	path := node.RelativePath + node.ImportStr
	if _, ok := a.state.Modules[path]; ok {
		// already imported through this path
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		a.errorAt(DiagImportNotFound, node.Loc,
			"could not import '%s' (looked in %s)", node.ImportStr, path)
		return
	}

	lexer := NewLexer(string(data), path)
	parser := NewParser(lexer.ScanTokens(), path)
	unit := parser.Parse()

	for _, mod := range a.state.Modules {
		if mod.Name == unit.Name {
			a.errorAt(DiagModuleAlreadyDefined, node.Loc,
				"module '%s' is already defined", unit.Name)
			return
		}
	}

	a.state.Modules[path] = unit
	a.state.Diagnostics = append(a.state.Diagnostics, parser.Errors()...)

	for _, child := range unit.Children {
		a.visit(child)
	}
}

func (a *SemanticAnalyzer) visitUseModule(node *AstUseModule) {
	// TODO: alias every member of the named module into the current scope
	a.errorAt(DiagUnsupportedFeature, node.Loc, "'use %s' is not supported", node.Name)
}

func (a *SemanticAnalyzer) visitMemberAccess(node *AstMemberAccess) {
	if node.LeftStr != "" {
		if found := a.state.FindModule(node.LeftStr, node.Module()); found != nil {
			// the left side names a module; resolve the right side in its
			// namespace
			node.Right.SetModule(found)
			a.visit(node.Right)
			return
		}
	}

	a.visit(node.Left)
	switch node.Right.(type) {
	case *AstMemberAccess:
		a.visit(node.Right)
	case *AstVariable, *AstFunctionCall:
		// not resolved further; codegen rejects member access expressions
	default:
		a.errorAt(DiagInternalError, node.Loc, "malformed member access")
	}
}

func (a *SemanticAnalyzer) visitModuleAccess(node *AstModuleAccess) {
	for _, mod := range a.state.Modules {
		if mod.Name == node.ModuleName {
			node.Right.SetModule(mod)
			a.visit(node.Right)
			return
		}
	}
	a.errorAt(DiagModuleNotImported, node.Loc, "module '%s' has not been imported", node.ModuleName)
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

func (a *SemanticAnalyzer) visitVariableDeclaration(node *AstVariableDeclaration) {
	mangled := a.state.MangleName(node.Name, node.Module(), a.state.Level)
	if a.state.FindVariable(node.Name, node.Module(), true) != nil {
		a.errorAt(DiagRedeclaredIdentifier, node.Loc, "'%s' has already been declared", node.Name)
		return
	}
	if a.state.FindModule(node.Name, node.Module()) != nil {
		a.errorAt(DiagIdentifierIsModule, node.Loc, "'%s' is the name of a module", node.Name)
		return
	}

	level := a.state.CurrentLevel()
	sym := &Symbol{
		Node:         node,
		OriginalName: node.Name,
		IsConst:      node.IsConst,
		CurrentValue: node.Assignment,
		IsLiteral:    a.classifyLiteral(node.Assignment),
		OwnerLevel:   a.state.Level,
		FieldIndex:   len(level.Locals),
	}
	level.Insert(mangled, sym)

	a.visit(node.Assignment)
}

// classifyLiteral reports whether a value expression is a literal after
// unwrapping a single expression layer and, when folding is enabled,
// constant-folding the result.
func (a *SemanticAnalyzer) classifyLiteral(value AstNode) bool {
	if value == nil {
		return false
	}

	rightSide := value
	if expr, ok := rightSide.(*AstExpression); ok {
		rightSide = expr.Child
	}
	if a.state.Options.ConstantFolding {
		if folded := Fold(rightSide); folded != nil {
			rightSide = folded
		}
	}

	switch rightSide.(type) {
	case *AstInteger, *AstFloat, *AstString:
		return true
	}
	return false
}

func (a *SemanticAnalyzer) visitAlias(node *AstAlias) {
	if a.state.FindVariable(node.Name, node.Module(), true) != nil {
		a.errorAt(DiagRedeclaredIdentifier, node.Loc, "'%s' has already been declared", node.Name)
		return
	}
	if a.state.FindModule(node.Name, node.Module()) != nil {
		a.errorAt(DiagIdentifierIsModule, node.Loc, "'%s' is the name of a module", node.Name)
		return
	}

	a.visit(node.AliasTo)

	sym := &Symbol{
		Node:         node.AliasTo,
		OriginalName: node.Name,
		IsAlias:      true,
		OwnerLevel:   -1,
		FieldIndex:   -1,
	}

	// walk the target down to the variable whose storage the alias shares
	candidate := node.AliasTo
	for candidate != nil {
		if mem, ok := candidate.(*AstMemberAccess); ok {
			candidate = mem.Right
			continue
		}
		if v, ok := candidate.(*AstVariable); ok {
			sym.OwnerLevel = v.OwnerLevel
			sym.FieldIndex = v.FieldIndex
			break
		}
		a.errorAt(DiagUnrecognizedAliasType, node.Loc, "'%s' does not alias a variable", node.Name)
		break
	}

	mangled := a.state.MangleName(node.Name, node.Module(), a.state.Level)
	a.state.CurrentLevel().Insert(mangled, sym)
}

func (a *SemanticAnalyzer) visitEnum(node *AstEnum) {
	// the enum identifier itself is not declared, only its members
	for _, member := range node.Members {
		if a.state.FindVariable(member.Name, member.Node.Module(), true) != nil {
			a.errorAt(DiagRedeclaredIdentifier, member.Node.Location(),
				"'%s' has already been declared", member.Name)
			continue
		}
		if a.state.FindModule(member.Name, member.Node.Module()) != nil {
			a.errorAt(DiagIdentifierIsModule, member.Node.Location(),
				"'%s' is the name of a module", member.Name)
			continue
		}

		level := a.state.CurrentLevel()
		sym := &Symbol{
			Node:         member.Node,
			OriginalName: member.Name,
			IsAlias:      true,
			IsConst:      true,
			OwnerLevel:   a.state.Level,
			FieldIndex:   len(level.Locals),
		}
		mangled := a.state.MangleName(member.Name, member.Node.Module(), a.state.Level)
		level.Insert(mangled, sym)
	}
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

func (a *SemanticAnalyzer) visitFunctionDefinition(node *AstFunctionDefinition) {
	mangled := a.state.MangleName(node.Name, node.Module(), a.state.Level)
	if a.state.FindVariable(node.Name, node.Module(), true) != nil {
		a.errorAt(DiagRedeclaredIdentifier, node.Loc, "'%s' has already been declared", node.Name)
		return
	}
	if a.state.FindModule(node.Name, node.Module()) != nil {
		a.errorAt(DiagIdentifierIsModule, node.Loc, "'%s' is the name of a module", node.Name)
		return
	}

	inline := node.HasAttribute("inline")
	if !inline {
		level := a.state.CurrentLevel()
		sym := &Symbol{
			Node:         node,
			OriginalName: node.Name,
			OwnerLevel:   a.state.Level,
			FieldIndex:   len(level.Locals),
		}
		level.Insert(mangled, sym)
	}

	body, ok := node.Block.(*AstBlock)
	if !ok {
		return
	}

	a.ensureFinalReturn(node.Name, body)

	a.increaseBlock(LevelFunction)
	for _, param := range node.Arguments {
		level := a.state.CurrentLevel()
		sym := &Symbol{
			Node:         nil, // parameters have no declaration site
			OriginalName: param,
			OwnerLevel:   a.state.Level,
			FieldIndex:   len(level.Locals),
		}
		level.Insert(a.state.MangleName(param, node.Module(), a.state.Level), sym)
	}
	a.visit(body)
	a.decreaseBlock()

	if inline {
		// Inline functions cannot be recursive: the symbol is registered
		// only after the body has been analyzed, and is const so the
		// definition cannot be rebound.
		level := a.state.CurrentLevel()
		sym := &Symbol{
			Node:         node,
			OriginalName: node.Name,
			IsConst:      true,
			OwnerLevel:   a.state.Level,
			FieldIndex:   len(level.Locals),
		}
		level.Insert(mangled, sym)
	}
}

func (a *SemanticAnalyzer) visitFunctionExpression(node *AstFunctionExpression) {
	body, ok := node.Block.(*AstBlock)
	if !ok {
		return
	}

	a.ensureFinalReturn("unnamed", body)

	a.increaseBlock(LevelFunction)
	for _, param := range node.Arguments {
		level := a.state.CurrentLevel()
		sym := &Symbol{
			Node:         nil,
			OriginalName: param,
			OwnerLevel:   a.state.Level,
			FieldIndex:   len(level.Locals),
		}
		level.Insert(a.state.MangleName(param, node.Module(), a.state.Level), sym)
	}
	a.visit(body)
	a.decreaseBlock()
}

// ensureFinalReturn guarantees the body ends in a return statement,
// appending a synthetic `return null` when it does not. Trailing no-op
// statements are skipped when probing for an existing return.
func (a *SemanticAnalyzer) ensureFinalReturn(name string, body *AstBlock) {
	if len(body.Children) == 0 {
		a.infoAt(DiagEmptyFunctionBody, body.Loc, "function '%s' has an empty body", name)
		a.appendReturnNull(body, body.Loc)
		return
	}

	hasReturn := false
	idx := len(body.Children) - 1
	if _, ok := body.Children[idx].(*AstReturnStmt); ok {
		hasReturn = true
	} else {
		for idx > 0 {
			if _, isNoop := body.Children[idx].(*AstStatement); !isNoop {
				break
			}
			if _, isReturn := body.Children[idx-1].(*AstReturnStmt); isReturn {
				hasReturn = true
				break
			}
			if _, isNoop := body.Children[idx-1].(*AstStatement); !isNoop {
				break
			}
			idx--
		}
	}

	if !hasReturn {
		loc := body.Loc
		if last := body.Children[len(body.Children)-1]; last != nil {
			loc = last.Location()
		}
		a.appendReturnNull(body, loc)
	}
}

func (a *SemanticAnalyzer) appendReturnNull(body *AstBlock, loc SourceLocation) {
	value := &AstNull{BaseNode: BaseNode{Loc: loc, Mod: body.Mod}}
	body.AddChild(&AstReturnStmt{
		BaseNode:      BaseNode{Loc: loc, Mod: body.Mod},
		Value:         value,
		FunctionLevel: GlobalLevel,
	})
}

func (a *SemanticAnalyzer) visitFunctionCall(node *AstFunctionCall) {
	sym := a.state.FindVariable(node.Name, node.Module(), false)
	if sym == nil {
		a.errorAt(DiagUndeclaredIdentifier, node.Loc, "'%s' has not been declared", node.Name)
		return
	}

	if sym.IsAlias {
		node.IsAlias = true
		node.AliasTo = sym.Node
	}
	node.Definition = sym.Node

	a.state.AddUseCount(sym.Node)

	// arguments are analyzed right-to-left, matching the VM's push order
	for i := len(node.Arguments) - 1; i >= 0; i-- {
		a.visit(node.Arguments[i])
	}
}

// ---------------------------------------------------------------------------
// References and assignment
// ---------------------------------------------------------------------------

func (a *SemanticAnalyzer) visitVariable(node *AstVariable) {
	sym := a.state.FindVariable(node.Name, node.Module(), false)
	if sym == nil {
		a.errorAt(DiagUndeclaredIdentifier, node.Loc, "'%s' has not been declared", node.Name)
		return
	}

	node.IsAlias = sym.IsAlias
	if sym.IsAlias {
		node.AliasTo = sym.Node
	}
	node.IsConst = sym.IsConst
	node.IsLiteral = sym.IsLiteral
	node.CurrentValue = sym.CurrentValue
	node.SymbolPtr = sym
	node.OwnerLevel = sym.OwnerLevel
	node.FieldIndex = sym.FieldIndex

	if sym.Node == nil {
		return
	}

	if def, ok := sym.Node.(*AstFunctionDefinition); ok && def.HasAttribute("inline") {
		a.errorAt(DiagProhibitedActionAttribute, node.Loc,
			"'%s' may not be referenced as a value: attribute 'inline'", node.Name)
	}

	// const literals will be inlined when folding is on; the declaration's
	// use is not counted so it can be eliminated
	if !(a.state.Options.ConstantFolding &&
		node.IsConst &&
		node.IsLiteral &&
		node.CurrentValue != nil) {
		a.state.AddUseCount(sym.Node)
	}
}

func (a *SemanticAnalyzer) visitBinaryOp(node *AstBinaryOp) {
	a.visit(node.Left)
	a.visit(node.Right)

	if !node.Op.IsAssignment() {
		return
	}

	if node.Op == BinOpAssign {
		if v, ok := node.Left.(*AstVariable); ok && !v.IsConst && v.SymbolPtr != nil {
			v.SymbolPtr.CurrentValue = node.Right
			v.CurrentValue = v.SymbolPtr.CurrentValue
			v.SymbolPtr.IsLiteral = a.classifyLiteral(node.Right)
		}
	}

	switch node.Left.(type) {
	case *AstVariable:
		v := node.Left.(*AstVariable)
		if v.IsConst {
			a.errorAt(DiagConstIdentifier, v.Loc, "'%s' is const and may not be assigned", v.Name)
		}
		if node.Left.HasAttribute("inline") {
			a.errorAt(DiagProhibitedActionAttribute, node.Left.Location(),
				"operation prohibited by attribute 'inline'")
		}
		if node.Right.HasAttribute("inline") {
			a.errorAt(DiagProhibitedActionAttribute, node.Right.Location(),
				"operation prohibited by attribute 'inline'")
		}
	case *AstMemberAccess:
		// TODO: check const on the accessed field
	case *AstArrayAccess:
		// TODO: check const on the accessed element
	default:
		a.errorAt(DiagExpectedIdentifier, node.Left.Location(), "expected an identifier on the left side")
	}
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

func (a *SemanticAnalyzer) visitBlock(node *AstBlock) {
	inDeadCode := false
	warned := false

	for _, child := range node.Children {
		a.visit(child)

		if child == nil {
			continue
		}
		if _, ok := child.(*AstReturnStmt); ok {
			inDeadCode = true
		} else if inDeadCode && !warned {
			if _, isNoop := child.(*AstStatement); !isNoop {
				a.warnAt(DiagUnreachableCode, child.Location(), "unreachable code")
				warned = true
			}
		}
	}
}

func (a *SemanticAnalyzer) visitIf(node *AstIfStmt) {
	a.visit(node.Conditional)

	a.increaseBlock(LevelCondition)
	a.visit(node.Block)
	a.decreaseBlock()

	if node.ElseStatement != nil {
		a.increaseBlock(LevelCondition)
		a.visit(node.ElseStatement)
		a.decreaseBlock()
	}
}

func (a *SemanticAnalyzer) visitWhile(node *AstWhileLoop) {
	a.visit(node.Conditional)

	if block, ok := node.Block.(*AstBlock); ok && len(block.Children) == 0 {
		a.infoAt(DiagEmptyStatementBody, block.Loc, "statement body is empty")
	}

	a.increaseBlock(LevelLoop)
	a.visit(node.Block)
	a.decreaseBlock()
}

func (a *SemanticAnalyzer) visitFor(node *AstForLoop) {
	if block, ok := node.Block.(*AstBlock); ok && len(block.Children) == 0 {
		a.infoAt(DiagEmptyStatementBody, block.Loc, "statement body is empty")
	}

	a.visit(node.Initializer)
	a.visit(node.Conditional)

	a.increaseBlock(LevelLoop)
	a.visit(node.Block)
	a.decreaseBlock()

	a.visit(node.Afterthought)
}

func (a *SemanticAnalyzer) visitTryCatch(node *AstTryCatch) {
	if block, ok := node.TryBlock.(*AstBlock); ok && len(block.Children) == 0 {
		a.infoAt(DiagEmptyStatementBody, block.Loc, "statement body is empty")
	}

	a.increaseBlock(LevelDefault)
	a.visit(node.TryBlock)
	a.decreaseBlock()

	if block, ok := node.CatchBlock.(*AstBlock); ok && len(block.Children) == 0 {
		a.infoAt(DiagEmptyStatementBody, block.Loc, "statement body is empty")
	}

	a.increaseBlock(LevelDefault)
	a.visit(node.ExceptionObject)
	a.visit(node.CatchBlock)
	a.decreaseBlock()
}

func (a *SemanticAnalyzer) visitReturn(node *AstReturnStmt) {
	// the returned value is pushed onto the stack before unwinding
	a.visit(node.Value)

	// find the nearest enclosing function-kind level; codegen uses it to
	// emit the stack-unwinding count
	level := a.state.Level
	for level > GlobalLevel && a.state.Levels[level].Kind != LevelFunction {
		level--
	}
	node.FunctionLevel = level
}
