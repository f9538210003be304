package compiler

import (
	"testing"
)

func parseSource(t *testing.T, source string) *AstModule {
	t.Helper()
	lexer := NewLexer(source, "test.ash")
	parser := NewParser(lexer.ScanTokens(), "test.ash")
	unit := parser.Parse()
	if len(parser.Errors()) > 0 {
		t.Fatalf("parse errors: %v", parser.Errors())
	}
	return unit
}

func TestParser_ModuleDirective(t *testing.T) {
	unit := parseSource(t, "module demo\nlet x = 1")
	if unit.Name != "demo" {
		t.Errorf("expected module name 'demo', got %q", unit.Name)
	}
	if len(unit.Children) != 1 {
		t.Fatalf("expected 1 child, got %d", len(unit.Children))
	}
}

func TestParser_DefaultModuleName(t *testing.T) {
	unit := parseSource(t, "let x = 1")
	if unit.Name != "main" {
		t.Errorf("expected default module name 'main', got %q", unit.Name)
	}
}

func TestParser_VariableDeclaration(t *testing.T) {
	unit := parseSource(t, "let x = 5; const k = 'hi'")
	if len(unit.Children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(unit.Children))
	}

	decl, ok := unit.Children[0].(*AstVariableDeclaration)
	if !ok {
		t.Fatalf("expected variable declaration, got %T", unit.Children[0])
	}
	if decl.Name != "x" || decl.IsConst {
		t.Errorf("bad declaration: name=%q const=%v", decl.Name, decl.IsConst)
	}
	expr, ok := decl.Assignment.(*AstExpression)
	if !ok {
		t.Fatalf("expected expression wrapper, got %T", decl.Assignment)
	}
	if lit, ok := expr.Child.(*AstInteger); !ok || lit.Value != 5 {
		t.Errorf("expected integer 5, got %T", expr.Child)
	}

	konst, ok := unit.Children[1].(*AstVariableDeclaration)
	if !ok || !konst.IsConst {
		t.Errorf("expected const declaration, got %T", unit.Children[1])
	}
}

func TestParser_DeclarationWithoutInitializer(t *testing.T) {
	unit := parseSource(t, "let x")
	decl := unit.Children[0].(*AstVariableDeclaration)
	if _, ok := decl.Assignment.(*AstNull); !ok {
		t.Errorf("expected null initializer, got %T", decl.Assignment)
	}
}

func TestParser_FunctionDefinition(t *testing.T) {
	unit := parseSource(t, "func add(a, b) { return a + b }")
	def, ok := unit.Children[0].(*AstFunctionDefinition)
	if !ok {
		t.Fatalf("expected function definition, got %T", unit.Children[0])
	}
	if def.Name != "add" {
		t.Errorf("expected name 'add', got %q", def.Name)
	}
	if len(def.Arguments) != 2 || def.Arguments[0] != "a" || def.Arguments[1] != "b" {
		t.Errorf("bad parameters: %v", def.Arguments)
	}
	body := def.Block.(*AstBlock)
	if len(body.Children) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(body.Children))
	}
	if _, ok := body.Children[0].(*AstReturnStmt); !ok {
		t.Errorf("expected return, got %T", body.Children[0])
	}
}

func TestParser_InlineAttribute(t *testing.T) {
	unit := parseSource(t, "inline func twice(x) { return x * 2 }")
	def := unit.Children[0].(*AstFunctionDefinition)
	if !def.HasAttribute("inline") {
		t.Error("expected inline attribute")
	}
}

func TestParser_Precedence(t *testing.T) {
	unit := parseSource(t, "let r = 1 + 2 * 3")
	decl := unit.Children[0].(*AstVariableDeclaration)
	expr := decl.Assignment.(*AstExpression)

	add, ok := expr.Child.(*AstBinaryOp)
	if !ok || add.Op != BinOpAdd {
		t.Fatalf("expected top-level add, got %T", expr.Child)
	}
	mul, ok := add.Right.(*AstBinaryOp)
	if !ok || mul.Op != BinOpMultiply {
		t.Fatalf("expected multiply on the right, got %T", add.Right)
	}
}

func TestParser_AssignmentFamily(t *testing.T) {
	sources := map[string]BinOp{
		"x = 1":  BinOpAssign,
		"x += 1": BinOpAddAssign,
		"x -= 1": BinOpSubtractAssign,
		"x *= 1": BinOpMultiplyAssign,
		"x /= 1": BinOpDivideAssign,
	}
	for source, wantOp := range sources {
		unit := parseSource(t, source)
		binop, ok := unit.Children[0].(*AstBinaryOp)
		if !ok {
			t.Fatalf("%s: expected binary op, got %T", source, unit.Children[0])
		}
		if binop.Op != wantOp {
			t.Errorf("%s: expected op %d, got %d", source, wantOp, binop.Op)
		}
	}
}

func TestParser_MemberAccessNestsRight(t *testing.T) {
	unit := parseSource(t, "a.b.c")
	outer, ok := unit.Children[0].(*AstMemberAccess)
	if !ok {
		t.Fatalf("expected member access, got %T", unit.Children[0])
	}
	if outer.LeftStr != "a" {
		t.Errorf("expected left 'a', got %q", outer.LeftStr)
	}
	inner, ok := outer.Right.(*AstMemberAccess)
	if !ok {
		t.Fatalf("expected nested member access on the right, got %T", outer.Right)
	}
	if v, ok := inner.Right.(*AstVariable); !ok || v.Name != "c" {
		t.Errorf("expected variable 'c' at the end, got %T", inner.Right)
	}
}

func TestParser_ModuleAccess(t *testing.T) {
	unit := parseSource(t, "math::pi")
	access, ok := unit.Children[0].(*AstModuleAccess)
	if !ok {
		t.Fatalf("expected module access, got %T", unit.Children[0])
	}
	if access.ModuleName != "math" {
		t.Errorf("expected module 'math', got %q", access.ModuleName)
	}
	if v, ok := access.Right.(*AstVariable); !ok || v.Name != "pi" {
		t.Errorf("expected variable 'pi', got %T", access.Right)
	}
}

func TestParser_CallArguments(t *testing.T) {
	unit := parseSource(t, "f(1, 'two', g())")
	call, ok := unit.Children[0].(*AstFunctionCall)
	if !ok {
		t.Fatalf("expected call, got %T", unit.Children[0])
	}
	if call.Name != "f" || len(call.Arguments) != 3 {
		t.Fatalf("bad call: %q with %d args", call.Name, len(call.Arguments))
	}
	if _, ok := call.Arguments[2].(*AstFunctionCall); !ok {
		t.Errorf("expected nested call, got %T", call.Arguments[2])
	}
}

func TestParser_ControlFlow(t *testing.T) {
	unit := parseSource(t, `
		if (x > 0) { print x } else { print 0 }
		while (x < 10) { x += 1 }
		for (let i = 0; i < 3; i += 1) { print i }
		try { f() } catch (e) { print e }
	`)
	if len(unit.Children) != 4 {
		t.Fatalf("expected 4 statements, got %d", len(unit.Children))
	}
	if _, ok := unit.Children[0].(*AstIfStmt); !ok {
		t.Errorf("expected if, got %T", unit.Children[0])
	}
	if _, ok := unit.Children[1].(*AstWhileLoop); !ok {
		t.Errorf("expected while, got %T", unit.Children[1])
	}
	forLoop, ok := unit.Children[2].(*AstForLoop)
	if !ok {
		t.Fatalf("expected for, got %T", unit.Children[2])
	}
	if _, ok := forLoop.Initializer.(*AstVariableDeclaration); !ok {
		t.Errorf("expected declaration initializer, got %T", forLoop.Initializer)
	}
	tc, ok := unit.Children[3].(*AstTryCatch)
	if !ok {
		t.Fatalf("expected try/catch, got %T", unit.Children[3])
	}
	if _, ok := tc.ExceptionObject.(*AstVariableDeclaration); !ok {
		t.Errorf("expected exception declaration, got %T", tc.ExceptionObject)
	}
}

func TestParser_Enum(t *testing.T) {
	unit := parseSource(t, "enum Color { Red, Green = 5, Blue }")
	enum, ok := unit.Children[0].(*AstEnum)
	if !ok {
		t.Fatalf("expected enum, got %T", unit.Children[0])
	}
	if len(enum.Members) != 3 {
		t.Fatalf("expected 3 members, got %d", len(enum.Members))
	}
	want := []int64{0, 5, 6}
	for i, member := range enum.Members {
		lit := member.Node.(*AstInteger)
		if lit.Value != want[i] {
			t.Errorf("member %s: expected %d, got %d", member.Name, want[i], lit.Value)
		}
	}
}

func TestParser_AliasAndUse(t *testing.T) {
	unit := parseSource(t, "alias short = some.long.path\nuse util")
	alias, ok := unit.Children[0].(*AstAlias)
	if !ok {
		t.Fatalf("expected alias, got %T", unit.Children[0])
	}
	if alias.Name != "short" {
		t.Errorf("expected alias name 'short', got %q", alias.Name)
	}
	if _, ok := alias.AliasTo.(*AstMemberAccess); !ok {
		t.Errorf("expected member access target, got %T", alias.AliasTo)
	}
	if use, ok := unit.Children[1].(*AstUseModule); !ok || use.Name != "util" {
		t.Errorf("expected use util, got %T", unit.Children[1])
	}
}

func TestParser_GroupedImports(t *testing.T) {
	unit := parseSource(t, "import ('a.ash', 'b.ash')")
	group, ok := unit.Children[0].(*AstImports)
	if !ok {
		t.Fatalf("expected import group, got %T", unit.Children[0])
	}
	if len(group.Children) != 2 {
		t.Fatalf("expected 2 imports, got %d", len(group.Children))
	}
}

func TestParser_EmptyStatement(t *testing.T) {
	unit := parseSource(t, "let x = 1;;")
	if len(unit.Children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(unit.Children))
	}
	if _, ok := unit.Children[1].(*AstStatement); !ok {
		t.Errorf("expected empty statement, got %T", unit.Children[1])
	}
}

func TestParser_SyntaxErrorRecovery(t *testing.T) {
	lexer := NewLexer("let = 5\nlet y = 2", "test.ash")
	parser := NewParser(lexer.ScanTokens(), "test.ash")
	unit := parser.Parse()

	if len(parser.Errors()) == 0 {
		t.Fatal("expected parse errors")
	}
	// the second declaration still parses
	found := false
	for _, child := range unit.Children {
		if decl, ok := child.(*AstVariableDeclaration); ok && decl.Name == "y" {
			found = true
		}
	}
	if !found {
		t.Error("expected parser to recover and parse 'let y = 2'")
	}
}
