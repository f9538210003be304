package compiler

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// CompilerState: scope stack, symbol table and module registry
// ---------------------------------------------------------------------------

// GlobalLevel is the index of the outermost scope level.
const GlobalLevel = 0

// MaxScopeLevels bounds scope nesting depth.
const MaxScopeLevels = 256

// LevelKind tags the construct that opened a scope level.
type LevelKind int

const (
	LevelGlobal LevelKind = iota
	LevelFunction
	LevelLoop
	LevelCondition
	LevelDefault
)

func (k LevelKind) String() string {
	switch k {
	case LevelGlobal:
		return "global"
	case LevelFunction:
		return "function"
	case LevelLoop:
		return "loop"
	case LevelCondition:
		return "condition"
	case LevelDefault:
		return "default"
	}
	return "unknown"
}

// Symbol is the record produced by a declaration.
type Symbol struct {
	OriginalName string
	Node         AstNode // declaration site; nil for parameters and natives
	IsConst      bool
	IsLiteral    bool
	IsAlias      bool
	IsNative     bool
	CurrentValue AstNode
	OwnerLevel   int
	FieldIndex   int
	NumArgs      int // declared arity, native methods only
}

// Local is one (mangled name, symbol) entry in a scope level. The slice
// order is declaration order; FieldIndex equals the entry's position, except
// for alias symbols, which carry their target's FieldIndex (or -1).
type Local struct {
	Name   string
	Symbol *Symbol
}

// LevelInfo is a single scope level: its kind and the ordered locals.
type LevelInfo struct {
	Kind   LevelKind
	Locals []Local
}

// Find returns the symbol with the given mangled name, or nil.
func (l *LevelInfo) Find(name string) *Symbol {
	for i := range l.Locals {
		if l.Locals[i].Name == name {
			return l.Locals[i].Symbol
		}
	}
	return nil
}

// Insert appends a symbol under the given mangled name.
func (l *LevelInfo) Insert(name string, sym *Symbol) {
	l.Locals = append(l.Locals, Local{Name: name, Symbol: sym})
}

// Options holds the configuration flags read once at analysis start.
type Options struct {
	ConstantFolding bool
}

// ModuleDefine describes a native module supplied by the host.
type ModuleDefine struct {
	Name    string
	Methods []NativeMethod
}

// NativeMethod is one host-provided method: a name and its declared arity.
type NativeMethod struct {
	Name  string
	NumArgs int
}

// CompilerState is the process-wide state mutated during analysis.
type CompilerState struct {
	Level          int
	Levels         [MaxScopeLevels]LevelInfo
	BlockIDCounter int
	Modules        map[string]*AstModule // imports keyed by path, native modules (AddModule) by name
	UseCounts      map[AstNode]int
	Diagnostics    []Diagnostic
	Options        Options
}

// NewCompilerState creates a state with an empty global level.
func NewCompilerState() *CompilerState {
	s := &CompilerState{
		Modules:   make(map[string]*AstModule),
		UseCounts: make(map[AstNode]int),
	}
	s.Levels[GlobalLevel] = LevelInfo{Kind: LevelGlobal}
	return s
}

// CurrentLevel returns the scope level at the current nesting depth.
func (s *CompilerState) CurrentLevel() *LevelInfo {
	return &s.Levels[s.Level]
}

// MangleName builds the textual identifier for a name declared at the given
// level of the given module. The result is deterministic and injective
// within one compilation: the module identity and level cannot collide with
// identifier characters because of the backtick separators.
func (s *CompilerState) MangleName(name string, mod *AstModule, level int) string {
	modName := "main"
	if mod != nil && mod.Name != "" {
		modName = mod.Name
	}
	return fmt.Sprintf("%s`%d`%s", modName, level, name)
}

// FindVariable resolves a name against the scope stack, walking from the
// current level down toward the global level. With onlyThisScope set, only
// the current level is probed (the redeclaration check).
func (s *CompilerState) FindVariable(name string, mod *AstModule, onlyThisScope bool) *Symbol {
	for level := s.Level; level >= GlobalLevel; level-- {
		mangled := s.MangleName(name, mod, level)
		if sym := s.Levels[level].Find(mangled); sym != nil {
			return sym
		}
		if onlyThisScope {
			break
		}
	}
	return nil
}

// FindModule looks up a registered module by its declared name. The current
// module's own name also resolves.
func (s *CompilerState) FindModule(name string, current *AstModule) *AstModule {
	if current != nil && current.Name == name {
		return current
	}
	for _, mod := range s.Modules {
		if mod.Name == name {
			return mod
		}
	}
	return nil
}

// AddUseCount records one resolved reference to the declaration node.
func (s *CompilerState) AddUseCount(node AstNode) {
	if node == nil {
		return
	}
	s.UseCounts[node]++
}

// UseCount returns the recorded reference count for a declaration node.
func (s *CompilerState) UseCount(node AstNode) int {
	if node == nil {
		return 0
	}
	return s.UseCounts[node]
}

// HasErrors reports whether any accumulated diagnostic is an error.
func (s *CompilerState) HasErrors() bool {
	for _, d := range s.Diagnostics {
		if d.IsError() {
			return true
		}
	}
	return false
}

// Reset clears all scope levels, including the global one, and the per-pass
// counters. The module registry and diagnostics survive.
func (s *CompilerState) Reset() {
	for i := range s.Levels {
		s.Levels[i] = LevelInfo{}
	}
	s.Levels[GlobalLevel] = LevelInfo{Kind: LevelGlobal}
	s.Level = GlobalLevel
	s.BlockIDCounter = 0
	s.UseCounts = make(map[AstNode]int)
}
