package compiler

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/ashlang/ash/vm"
)

// compileAndRun compiles a source program and executes it, returning the
// program's stdout and the runtime error, if any.
func compileAndRun(t *testing.T, source string, opts Options) (string, error) {
	t.Helper()

	lexer := NewLexer(source, "test.ash")
	parser := NewParser(lexer.ScanTokens(), "test.ash")
	unit := parser.Parse()
	if len(parser.Errors()) > 0 {
		t.Fatalf("parse errors: %v", parser.Errors())
	}

	state := NewCompilerState()
	state.Options = opts
	NewSemanticAnalyzer(state).Analyze(unit)
	if state.HasErrors() {
		t.Fatalf("analysis errors: %v", state.Diagnostics)
	}

	prog, err := NewCodegen(state).Compile(unit)
	if err != nil {
		t.Fatalf("codegen: %v", err)
	}

	var out bytes.Buffer
	machine := vm.NewVM()
	machine.Stdout = &out
	prog.Install(machine)

	runErr := machine.Run(prog.Code, prog.Entry)
	return out.String(), runErr
}

func TestCodegen_PrintLiterals(t *testing.T) {
	out, err := compileAndRun(t, "print 1, 'two', 3.5, true, null", Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "1 two 3.5 true null\n" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestCodegen_Arithmetic(t *testing.T) {
	out, err := compileAndRun(t, "print 2 + 3 * 4, 10 / 3, 10 % 3, -5", Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "14 3 1 -5\n" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestCodegen_GlobalsAndAssignment(t *testing.T) {
	out, err := compileAndRun(t, `
		let x = 1
		x = x + 10
		x += 5
		print x
	`, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "16\n" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestCodegen_FunctionCall(t *testing.T) {
	out, err := compileAndRun(t, `
		func add(a, b) { return a + b }
		let x = add(2, 3)
		print x
	`, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "5\n" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestCodegen_RecursiveFunction(t *testing.T) {
	out, err := compileAndRun(t, `
		func fib(n) {
			if (n < 2) { return n }
			return fib(n - 1) + fib(n - 2)
		}
		print fib(10)
	`, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "55\n" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestCodegen_WhileLoop(t *testing.T) {
	out, err := compileAndRun(t, `
		let sum = 0
		let i = 1
		while (i <= 4) {
			sum += i
			i += 1
		}
		print sum
	`, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "10\n" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestCodegen_ForLoop(t *testing.T) {
	out, err := compileAndRun(t, `
		let total = 0
		for (let i = 0; i < 5; i += 1) {
			total += i
		}
		print total
	`, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "10\n" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestCodegen_IfElse(t *testing.T) {
	out, err := compileAndRun(t, `
		let x = 3
		if (x > 5) { print 'big' } else { print 'small' }
		if (x > 1) { print 'yes' }
	`, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "small\nyes\n" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestCodegen_LogicalOperators(t *testing.T) {
	out, err := compileAndRun(t, `
		print true && false, true || false
		print 1 == 1 && 2 < 3
	`, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "false true\ntrue\n" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestCodegen_TryCatch(t *testing.T) {
	out, err := compileAndRun(t, `
		try {
			let z = 1 / 0
			print z
		} catch (e) {
			print 'caught:', e
		}
		print 'after'
	`, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "caught: division by zero\nafter\n" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestCodegen_ArityMismatchRaises(t *testing.T) {
	_, err := compileAndRun(t, `
		func f(a, b) { return a }
		print f(1)
	`, Options{})

	var invalid *vm.InvalidArgsError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidArgs, got %v", err)
	}
	if invalid.Expected != 2 || invalid.Got != 1 {
		t.Errorf("expected InvalidArgs(2, 1), got (%d, %d)", invalid.Expected, invalid.Got)
	}
}

func TestCodegen_ConstFoldingInlinesLiterals(t *testing.T) {
	source := "const k = 3\nprint k + 1"

	out, err := compileAndRun(t, source, Options{ConstantFolding: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "4\n" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestCodegen_EnumMembers(t *testing.T) {
	out, err := compileAndRun(t, `
		enum Color { Red, Green, Blue }
		print Red, Green, Blue
	`, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "0 1 2\n" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestCodegen_FunctionExpression(t *testing.T) {
	out, err := compileAndRun(t, `
		let double = func (x) { return x * 2 }
		print double(21)
	`, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "42\n" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestCodegen_StringOperations(t *testing.T) {
	out, err := compileAndRun(t, `
		let greeting = 'hello' + ' ' + 'world'
		print greeting
		print 'a' < 'b', 'x' == 'x'
	`, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(out, "hello world\n") {
		t.Errorf("unexpected output: %q", out)
	}
	if !strings.Contains(out, "true true\n") {
		t.Errorf("unexpected comparison output: %q", out)
	}
}

func TestCodegen_CollectAfterRun(t *testing.T) {
	source := `
		let keep = 'live'
		let i = 0
		while (i < 100) {
			let tmp = 'garbage' + 'garbage'
			i += 1
		}
		print keep
	`

	lexer := NewLexer(source, "test.ash")
	parser := NewParser(lexer.ScanTokens(), "test.ash")
	unit := parser.Parse()
	state := NewCompilerState()
	NewSemanticAnalyzer(state).Analyze(unit)
	if state.HasErrors() {
		t.Fatalf("analysis errors: %v", state.Diagnostics)
	}
	prog, err := NewCodegen(state).Compile(unit)
	if err != nil {
		t.Fatalf("codegen: %v", err)
	}

	var out bytes.Buffer
	machine := vm.NewVM()
	machine.Stdout = &out
	prog.Install(machine)
	if err := machine.Run(prog.Code, prog.Entry); err != nil {
		t.Fatalf("run: %v", err)
	}

	before := machine.Heap.NumObjects()
	stats := machine.Collect()
	if stats.Swept == 0 {
		t.Error("expected the loop temporaries to be collected")
	}
	if machine.Heap.NumObjects() >= before {
		t.Error("expected fewer live objects after collection")
	}

	// the global is still reachable through its slot
	found := false
	for _, ref := range machine.Globals {
		if obj := ref.Object(); obj != nil && obj.String() == "live" {
			found = true
		}
	}
	if !found {
		t.Error("expected the live global to survive collection")
	}
}
