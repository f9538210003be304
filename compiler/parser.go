package compiler

import (
	"fmt"
	"path/filepath"
	"strconv"
)

// ---------------------------------------------------------------------------
// Parser: Recursive descent parser for Ash
// ---------------------------------------------------------------------------

// Parser parses a scanned token stream into an AST module unit.
type Parser struct {
	tokens []Token
	pos    int
	file   string
	unit   *AstModule
	errors []Diagnostic
}

// NewParser creates a parser over the given tokens. The file path becomes
// the module unit's relative source path.
func NewParser(tokens []Token, file string) *Parser {
	if len(tokens) == 0 {
		tokens = []Token{{Type: TokenEOF}}
	}
	return &Parser{
		tokens: tokens,
		file:   file,
	}
}

// Errors returns accumulated parse diagnostics.
func (p *Parser) Errors() []Diagnostic {
	return p.errors
}

func (p *Parser) cur() Token {
	if p.pos >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.pos]
}

func (p *Parser) peek() Token {
	if p.pos+1 >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.pos+1]
}

func (p *Parser) next() Token {
	tok := p.cur()
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return tok
}

func (p *Parser) curIs(t TokenType) bool  { return p.cur().Type == t }
func (p *Parser) peekIs(t TokenType) bool { return p.peek().Type == t }

// expect consumes the current token if it matches, otherwise records a
// syntax error and leaves the position unchanged.
func (p *Parser) expect(t TokenType) (Token, bool) {
	if p.curIs(t) {
		return p.next(), true
	}
	p.errorf(p.cur().Loc, "expected %s, got %s", t, p.cur().Type)
	return p.cur(), false
}

func (p *Parser) errorf(loc SourceLocation, format string, args ...interface{}) {
	p.errors = append(p.errors, Diagnostic{
		Kind:     DiagSyntaxError,
		Severity: SeverityError,
		Location: loc,
		Message:  fmt.Sprintf(format, args...),
	})
}

func (p *Parser) base(loc SourceLocation) BaseNode {
	return BaseNode{Loc: loc, Mod: p.unit}
}

// ---------------------------------------------------------------------------
// Top-level parsing
// ---------------------------------------------------------------------------

// Parse parses a whole module unit. The unit's name comes from a leading
// `module Name` directive, defaulting to "main".
func (p *Parser) Parse() *AstModule {
	unit := &AstModule{
		BaseNode: BaseNode{Loc: p.cur().Loc},
		Name:     "main",
		Path:     p.file,
	}
	p.unit = unit

	if p.curIs(TokenModule) {
		p.next()
		if name, ok := p.expect(TokenIdentifier); ok {
			unit.Name = name.Literal
		}
	}

	for !p.curIs(TokenEOF) {
		start := p.pos
		stmt := p.parseStatement()
		if stmt != nil {
			unit.AddChild(stmt)
		}
		if p.pos == start {
			// no progress; skip the offending token
			p.errorf(p.cur().Loc, "unexpected token %s", p.cur().Type)
			p.next()
		}
	}

	return unit
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (p *Parser) parseStatement() AstNode {
	switch p.cur().Type {
	case TokenSemicolon:
		tok := p.next()
		return &AstStatement{BaseNode: p.base(tok.Loc)}
	case TokenImport:
		return p.parseImport()
	case TokenUse:
		return p.parseUseModule()
	case TokenLet, TokenConst:
		return p.parseVariableDeclaration()
	case TokenAlias:
		return p.parseAlias()
	case TokenInline, TokenFunc:
		return p.parseFunctionDefinition()
	case TokenClass:
		return p.parseClass()
	case TokenEnum:
		return p.parseEnum()
	case TokenPrint:
		return p.parsePrint()
	case TokenReturn:
		return p.parseReturn()
	case TokenIf:
		return p.parseIf()
	case TokenWhile:
		return p.parseWhile()
	case TokenFor:
		return p.parseFor()
	case TokenTry:
		return p.parseTryCatch()
	default:
		return p.parseExpressionStatement()
	}
}

// parseImport handles both the single `import 'path'` form and the grouped
// `import ('a', 'b')` form.
func (p *Parser) parseImport() AstNode {
	tok := p.next() // import

	if p.curIs(TokenLParen) {
		p.next()
		group := &AstImports{BaseNode: p.base(tok.Loc)}
		for !p.curIs(TokenRParen) && !p.curIs(TokenEOF) {
			if str, ok := p.expect(TokenString); ok {
				group.Children = append(group.Children, &AstImport{
					BaseNode:     p.base(str.Loc),
					ImportStr:    str.Literal,
					RelativePath: dirOf(p.file),
				})
			} else {
				p.next()
			}
			if p.curIs(TokenComma) {
				p.next()
			}
		}
		p.expect(TokenRParen)
		p.terminator()
		return group
	}

	str, ok := p.expect(TokenString)
	if !ok {
		return nil
	}
	p.terminator()
	return &AstImport{
		BaseNode:     p.base(tok.Loc),
		ImportStr:    str.Literal,
		RelativePath: dirOf(p.file),
	}
}

func (p *Parser) parseUseModule() AstNode {
	tok := p.next() // use
	name, ok := p.expect(TokenIdentifier)
	if !ok {
		return nil
	}
	p.terminator()
	return &AstUseModule{BaseNode: p.base(tok.Loc), Name: name.Literal}
}

func (p *Parser) parseVariableDeclaration() AstNode {
	tok := p.next() // let or const
	isConst := tok.Type == TokenConst

	name, ok := p.expect(TokenIdentifier)
	if !ok {
		return nil
	}

	var value AstNode
	if p.curIs(TokenAssign) {
		p.next()
		value = p.parseExpressionValue()
	} else {
		value = &AstNull{BaseNode: p.base(name.Loc)}
	}

	p.terminator()
	return &AstVariableDeclaration{
		BaseNode:   p.base(tok.Loc),
		Name:       name.Literal,
		IsConst:    isConst,
		Assignment: value,
	}
}

func (p *Parser) parseAlias() AstNode {
	tok := p.next() // alias
	name, ok := p.expect(TokenIdentifier)
	if !ok {
		return nil
	}
	if _, ok := p.expect(TokenAssign); !ok {
		return nil
	}
	target := p.parseExpression()
	p.terminator()
	return &AstAlias{BaseNode: p.base(tok.Loc), Name: name.Literal, AliasTo: target}
}

func (p *Parser) parseFunctionDefinition() AstNode {
	var attrs []string
	tok := p.cur()
	if p.curIs(TokenInline) {
		p.next()
		attrs = append(attrs, "inline")
	}
	if _, ok := p.expect(TokenFunc); !ok {
		return nil
	}

	name, ok := p.expect(TokenIdentifier)
	if !ok {
		return nil
	}

	params := p.parseParameterList()
	body := p.parseBlock()

	return &AstFunctionDefinition{
		BaseNode:  BaseNode{Loc: tok.Loc, Mod: p.unit, Attributes: attrs},
		Name:      name.Literal,
		Arguments: params,
		Block:     body,
	}
}

func (p *Parser) parseParameterList() []string {
	var params []string
	if _, ok := p.expect(TokenLParen); !ok {
		return params
	}
	for !p.curIs(TokenRParen) && !p.curIs(TokenEOF) {
		if name, ok := p.expect(TokenIdentifier); ok {
			params = append(params, name.Literal)
		} else {
			p.next()
		}
		if p.curIs(TokenComma) {
			p.next()
		}
	}
	p.expect(TokenRParen)
	return params
}

func (p *Parser) parseClass() AstNode {
	tok := p.next() // class
	name, ok := p.expect(TokenIdentifier)
	if !ok {
		return nil
	}

	var members []ObjectMember
	if _, ok := p.expect(TokenLBrace); ok {
		for !p.curIs(TokenRBrace) && !p.curIs(TokenEOF) {
			memName, ok := p.expect(TokenIdentifier)
			if !ok {
				p.next()
				continue
			}
			if _, ok := p.expect(TokenColon); !ok {
				continue
			}
			members = append(members, ObjectMember{
				Name: memName.Literal,
				Node: p.parseExpressionValue(),
			})
			if p.curIs(TokenComma) {
				p.next()
			}
		}
		p.expect(TokenRBrace)
	}

	return &AstClass{BaseNode: p.base(tok.Loc), Name: name.Literal, Members: members}
}

func (p *Parser) parseEnum() AstNode {
	tok := p.next() // enum
	name, ok := p.expect(TokenIdentifier)
	if !ok {
		return nil
	}

	enum := &AstEnum{BaseNode: p.base(tok.Loc), Name: name.Literal}
	if _, ok := p.expect(TokenLBrace); !ok {
		return enum
	}

	nextValue := int64(0)
	for !p.curIs(TokenRBrace) && !p.curIs(TokenEOF) {
		memName, ok := p.expect(TokenIdentifier)
		if !ok {
			p.next()
			continue
		}
		value := nextValue
		if p.curIs(TokenAssign) {
			p.next()
			if lit, ok := p.expect(TokenInteger); ok {
				value, _ = strconv.ParseInt(lit.Literal, 10, 64)
			}
		}
		nextValue = value + 1
		enum.Members = append(enum.Members, EnumMember{
			Name: memName.Literal,
			Node: &AstInteger{BaseNode: p.base(memName.Loc), Value: value},
		})
		if p.curIs(TokenComma) {
			p.next()
		}
	}
	p.expect(TokenRBrace)
	return enum
}

func (p *Parser) parsePrint() AstNode {
	tok := p.next() // print
	stmt := &AstPrintStmt{BaseNode: p.base(tok.Loc)}
	stmt.Arguments = append(stmt.Arguments, p.parseExpression())
	for p.curIs(TokenComma) {
		p.next()
		stmt.Arguments = append(stmt.Arguments, p.parseExpression())
	}
	p.terminator()
	return stmt
}

func (p *Parser) parseReturn() AstNode {
	tok := p.next() // return
	stmt := &AstReturnStmt{BaseNode: p.base(tok.Loc), FunctionLevel: GlobalLevel}
	if p.curIs(TokenSemicolon) || p.curIs(TokenRBrace) || p.curIs(TokenEOF) {
		stmt.Value = &AstNull{BaseNode: p.base(tok.Loc)}
	} else {
		stmt.Value = p.parseExpressionValue()
	}
	p.terminator()
	return stmt
}

func (p *Parser) parseIf() AstNode {
	tok := p.next() // if
	p.expect(TokenLParen)
	cond := p.parseExpression()
	p.expect(TokenRParen)
	block := p.parseBlock()

	stmt := &AstIfStmt{
		BaseNode:    p.base(tok.Loc),
		Conditional: cond,
		Block:       block,
	}
	if p.curIs(TokenElse) {
		p.next()
		if p.curIs(TokenIf) {
			stmt.ElseStatement = p.parseIf()
		} else {
			stmt.ElseStatement = p.parseBlock()
		}
	}
	return stmt
}

func (p *Parser) parseWhile() AstNode {
	tok := p.next() // while
	p.expect(TokenLParen)
	cond := p.parseExpression()
	p.expect(TokenRParen)
	block := p.parseBlock()
	return &AstWhileLoop{BaseNode: p.base(tok.Loc), Conditional: cond, Block: block}
}

func (p *Parser) parseFor() AstNode {
	tok := p.next() // for
	p.expect(TokenLParen)

	var init AstNode
	if !p.curIs(TokenSemicolon) {
		if p.curIs(TokenLet) || p.curIs(TokenConst) {
			init = p.parseVariableDeclaration()
		} else {
			init = p.parseExpression()
			p.terminator()
		}
	} else {
		p.next()
	}

	var cond AstNode
	if !p.curIs(TokenSemicolon) {
		cond = p.parseExpression()
	} else {
		cond = &AstTrue{BaseNode: p.base(p.cur().Loc)}
	}
	p.expect(TokenSemicolon)

	var after AstNode
	if !p.curIs(TokenRParen) {
		after = p.parseExpression()
	}
	p.expect(TokenRParen)

	block := p.parseBlock()
	return &AstForLoop{
		BaseNode:     p.base(tok.Loc),
		Initializer:  init,
		Conditional:  cond,
		Afterthought: after,
		Block:        block,
	}
}

func (p *Parser) parseTryCatch() AstNode {
	tok := p.next() // try
	tryBlock := p.parseBlock()

	stmt := &AstTryCatch{BaseNode: p.base(tok.Loc), TryBlock: tryBlock}
	if _, ok := p.expect(TokenCatch); ok {
		p.expect(TokenLParen)
		if name, ok := p.expect(TokenIdentifier); ok {
			// the caught value is a fresh declaration inside the catch scope
			stmt.ExceptionObject = &AstVariableDeclaration{
				BaseNode:   p.base(name.Loc),
				Name:       name.Literal,
				Assignment: &AstNull{BaseNode: p.base(name.Loc)},
			}
		}
		p.expect(TokenRParen)
		stmt.CatchBlock = p.parseBlock()
	}
	return stmt
}

func (p *Parser) parseBlock() AstNode {
	tok, ok := p.expect(TokenLBrace)
	block := &AstBlock{BaseNode: p.base(tok.Loc)}
	if !ok {
		return block
	}
	for !p.curIs(TokenRBrace) && !p.curIs(TokenEOF) {
		start := p.pos
		stmt := p.parseStatement()
		if stmt != nil {
			block.AddChild(stmt)
		}
		if p.pos == start {
			p.errorf(p.cur().Loc, "unexpected token %s", p.cur().Type)
			p.next()
		}
	}
	p.expect(TokenRBrace)
	return block
}

func (p *Parser) parseExpressionStatement() AstNode {
	expr := p.parseExpression()
	p.terminator()
	return expr
}

// terminator consumes an optional statement-ending semicolon.
func (p *Parser) terminator() {
	if p.curIs(TokenSemicolon) {
		p.next()
	}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// parseExpressionValue parses an expression used in value position (an
// initializer or return value) and wraps it in a single expression layer.
func (p *Parser) parseExpressionValue() AstNode {
	loc := p.cur().Loc
	child := p.parseExpression()
	return &AstExpression{BaseNode: p.base(loc), Child: child}
}

func (p *Parser) parseExpression() AstNode {
	return p.parseAssignment()
}

var assignOps = map[TokenType]BinOp{
	TokenAssign:      BinOpAssign,
	TokenPlusAssign:  BinOpAddAssign,
	TokenMinusAssign: BinOpSubtractAssign,
	TokenStarAssign:  BinOpMultiplyAssign,
	TokenSlashAssign: BinOpDivideAssign,
}

func (p *Parser) parseAssignment() AstNode {
	left := p.parseLogicalOr()
	if op, ok := assignOps[p.cur().Type]; ok {
		tok := p.next()
		right := p.parseAssignment() // right-associative
		return &AstBinaryOp{BaseNode: p.base(tok.Loc), Op: op, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseLogicalOr() AstNode {
	left := p.parseLogicalAnd()
	for p.curIs(TokenOr) {
		tok := p.next()
		right := p.parseLogicalAnd()
		left = &AstBinaryOp{BaseNode: p.base(tok.Loc), Op: BinOpLogicalOr, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseLogicalAnd() AstNode {
	left := p.parseEquality()
	for p.curIs(TokenAnd) {
		tok := p.next()
		right := p.parseEquality()
		left = &AstBinaryOp{BaseNode: p.base(tok.Loc), Op: BinOpLogicalAnd, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseEquality() AstNode {
	left := p.parseComparison()
	for p.curIs(TokenEqual) || p.curIs(TokenNotEqual) {
		tok := p.next()
		op := BinOpEqual
		if tok.Type == TokenNotEqual {
			op = BinOpNotEqual
		}
		right := p.parseComparison()
		left = &AstBinaryOp{BaseNode: p.base(tok.Loc), Op: op, Left: left, Right: right}
	}
	return left
}

var comparisonOps = map[TokenType]BinOp{
	TokenLess:         BinOpLess,
	TokenGreater:      BinOpGreater,
	TokenLessEqual:    BinOpLessEqual,
	TokenGreaterEqual: BinOpGreaterEqual,
}

func (p *Parser) parseComparison() AstNode {
	left := p.parseRange()
	for {
		op, ok := comparisonOps[p.cur().Type]
		if !ok {
			return left
		}
		tok := p.next()
		right := p.parseRange()
		left = &AstBinaryOp{BaseNode: p.base(tok.Loc), Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseRange() AstNode {
	left := p.parseAdditive()
	if p.curIs(TokenDotDot) {
		tok := p.next()
		right := p.parseAdditive()
		return &AstRange{BaseNode: p.base(tok.Loc), Low: left, High: right}
	}
	return left
}

func (p *Parser) parseAdditive() AstNode {
	left := p.parseMultiplicative()
	for p.curIs(TokenPlus) || p.curIs(TokenMinus) {
		tok := p.next()
		op := BinOpAdd
		if tok.Type == TokenMinus {
			op = BinOpSubtract
		}
		right := p.parseMultiplicative()
		left = &AstBinaryOp{BaseNode: p.base(tok.Loc), Op: op, Left: left, Right: right}
	}
	return left
}

var multiplicativeOps = map[TokenType]BinOp{
	TokenStar:    BinOpMultiply,
	TokenSlash:   BinOpDivide,
	TokenPercent: BinOpModulo,
}

func (p *Parser) parseMultiplicative() AstNode {
	left := p.parseUnary()
	for {
		op, ok := multiplicativeOps[p.cur().Type]
		if !ok {
			return left
		}
		tok := p.next()
		right := p.parseUnary()
		left = &AstBinaryOp{BaseNode: p.base(tok.Loc), Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseUnary() AstNode {
	switch p.cur().Type {
	case TokenMinus:
		tok := p.next()
		return &AstUnaryOp{BaseNode: p.base(tok.Loc), Op: UnOpNegate, Child: p.parseUnary()}
	case TokenBang:
		tok := p.next()
		return &AstUnaryOp{BaseNode: p.base(tok.Loc), Op: UnOpNot, Child: p.parseUnary()}
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() AstNode {
	expr := p.parsePrimary()
	for {
		switch p.cur().Type {
		case TokenLBracket:
			tok := p.next()
			index := p.parseExpression()
			p.expect(TokenRBracket)
			expr = &AstArrayAccess{BaseNode: p.base(tok.Loc), Object: expr, Index: index}
		case TokenDot:
			expr = p.parseMemberTail(expr)
		default:
			return expr
		}
	}
}

// parseMemberTail builds the right-nested member access chain for a.b.c.
func (p *Parser) parseMemberTail(left AstNode) AstNode {
	tok := p.next() // .
	leftStr := ""
	if v, ok := left.(*AstVariable); ok {
		leftStr = v.Name
	}

	right := p.parseMemberRight()
	return &AstMemberAccess{
		BaseNode: p.base(tok.Loc),
		LeftStr:  leftStr,
		Left:     left,
		Right:    right,
	}
}

// parseMemberRight parses the element after a '.', nesting further member
// accesses to the right.
func (p *Parser) parseMemberRight() AstNode {
	name, ok := p.expect(TokenIdentifier)
	if !ok {
		return &AstVariable{BaseNode: p.base(p.cur().Loc), Name: ""}
	}

	var node AstNode
	if p.curIs(TokenLParen) {
		node = p.parseCall(name)
	} else {
		node = &AstVariable{BaseNode: p.base(name.Loc), Name: name.Literal, OwnerLevel: -1, FieldIndex: -1}
	}

	if p.curIs(TokenDot) {
		tok := p.next()
		return &AstMemberAccess{
			BaseNode: p.base(tok.Loc),
			LeftStr:  name.Literal,
			Left:     node,
			Right:    p.parseMemberRight(),
		}
	}
	return node
}

func (p *Parser) parseCall(name Token) AstNode {
	call := &AstFunctionCall{BaseNode: p.base(name.Loc), Name: name.Literal}
	p.expect(TokenLParen)
	for !p.curIs(TokenRParen) && !p.curIs(TokenEOF) {
		call.Arguments = append(call.Arguments, p.parseExpression())
		if p.curIs(TokenComma) {
			p.next()
		} else {
			break
		}
	}
	p.expect(TokenRParen)
	return call
}

func (p *Parser) parsePrimary() AstNode {
	tok := p.cur()
	switch tok.Type {
	case TokenInteger:
		p.next()
		value, err := strconv.ParseInt(tok.Literal, 10, 64)
		if err != nil {
			p.errorf(tok.Loc, "invalid integer literal %q", tok.Literal)
		}
		return &AstInteger{BaseNode: p.base(tok.Loc), Value: value}

	case TokenFloat:
		p.next()
		value, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			p.errorf(tok.Loc, "invalid float literal %q", tok.Literal)
		}
		return &AstFloat{BaseNode: p.base(tok.Loc), Value: value}

	case TokenString:
		p.next()
		return &AstString{BaseNode: p.base(tok.Loc), Value: tok.Literal}

	case TokenTrue:
		p.next()
		return &AstTrue{BaseNode: p.base(tok.Loc)}

	case TokenFalse:
		p.next()
		return &AstFalse{BaseNode: p.base(tok.Loc)}

	case TokenNull:
		p.next()
		return &AstNull{BaseNode: p.base(tok.Loc)}

	case TokenSelf:
		p.next()
		return &AstSelf{BaseNode: p.base(tok.Loc)}

	case TokenNew:
		p.next()
		return &AstNew{BaseNode: p.base(tok.Loc), Target: p.parsePostfix()}

	case TokenFunc:
		return p.parseFunctionExpression()

	case TokenLParen:
		p.next()
		inner := p.parseExpression()
		p.expect(TokenRParen)
		return &AstExpression{BaseNode: p.base(tok.Loc), Child: inner}

	case TokenLBrace:
		return p.parseObjectExpression()

	case TokenIdentifier:
		p.next()
		if p.curIs(TokenDoubleColon) {
			p.next()
			return &AstModuleAccess{
				BaseNode:   p.base(tok.Loc),
				ModuleName: tok.Literal,
				Right:      p.parseMemberRight(),
			}
		}
		if p.curIs(TokenLParen) {
			return p.parseCall(tok)
		}
		return &AstVariable{BaseNode: p.base(tok.Loc), Name: tok.Literal, OwnerLevel: -1, FieldIndex: -1}
	}

	p.errorf(tok.Loc, "unexpected token %s in expression", tok.Type)
	p.next()
	return &AstNull{BaseNode: p.base(tok.Loc)}
}

func (p *Parser) parseFunctionExpression() AstNode {
	tok := p.next() // func
	params := p.parseParameterList()
	body := p.parseBlock()
	return &AstFunctionExpression{
		BaseNode:  p.base(tok.Loc),
		Arguments: params,
		Block:     body,
	}
}

// dirOf returns the directory prefix of a source path, with a trailing
// separator so import paths concatenate cleanly.
func dirOf(file string) string {
	dir := filepath.Dir(file)
	if dir == "." || dir == "" {
		return ""
	}
	return dir + string(filepath.Separator)
}

func (p *Parser) parseObjectExpression() AstNode {
	tok := p.next() // {
	obj := &AstObjectExpression{BaseNode: p.base(tok.Loc)}
	for !p.curIs(TokenRBrace) && !p.curIs(TokenEOF) {
		name, ok := p.expect(TokenIdentifier)
		if !ok {
			p.next()
			continue
		}
		if _, ok := p.expect(TokenColon); !ok {
			continue
		}
		obj.Members = append(obj.Members, ObjectMember{
			Name: name.Literal,
			Node: p.parseExpressionValue(),
		})
		if p.curIs(TokenComma) {
			p.next()
		}
	}
	p.expect(TokenRBrace)
	return obj
}
